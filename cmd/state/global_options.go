package state

import "path/filepath"

const defaultConfigFileName = "config.yaml"

// GlobalOptions contains global config values that apply for all vuflow sub-commands.
type GlobalOptions struct {
	ConfigFilePath string
	NoColor        bool
	LogOutput      string
	LogFormat      string
	Verbose        bool
}

// GetDefaultGlobalOptions returns the default global flags.
func GetDefaultGlobalOptions(configDir string) GlobalOptions {
	return GlobalOptions{
		ConfigFilePath: filepath.Join(configDir, "vuflow", defaultConfigFileName),
		LogOutput:      "stderr",
	}
}

func consolidateGlobalFlags(defaultFlags GlobalOptions, env map[string]string) GlobalOptions {
	result := defaultFlags

	if val, ok := env["VUFLOW_CONFIG"]; ok {
		result.ConfigFilePath = val
	}
	if val, ok := env["VUFLOW_LOG_OUTPUT"]; ok {
		result.LogOutput = val
	}
	if val, ok := env["VUFLOW_LOG_FORMAT"]; ok {
		result.LogFormat = val
	}
	if env["VUFLOW_NO_COLOR"] != "" {
		result.NoColor = true
	}
	// https://no-color.org/: even an empty value disables colors
	if _, ok := env["NO_COLOR"]; ok {
		result.NoColor = true
	}
	if env["VUFLOW_VERBOSE"] != "" {
		result.Verbose = true
	}
	return result
}
