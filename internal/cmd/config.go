package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/mstoykov/envconfig"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"
	"gopkg.in/yaml.v3"

	"github.com/liuxd6825/vuflow/cmd/state"
	"github.com/liuxd6825/vuflow/errext"
	"github.com/liuxd6825/vuflow/execution"
	"github.com/liuxd6825/vuflow/lib/types"
)

func optionFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.Int64P("vus", "u", 1, "number of virtual users")
	flags.Int64P("iterations", "i", 0, "number of iterations every VU runs in the default scenario")
	flags.StringP("duration", "d", "", "test duration limit, switches the default scenario to constant VUs")
	flags.String("setup-timeout", "", "time limit of setup()")
	flags.String("teardown-timeout", "", "time limit of teardown()")
	flags.Bool("no-setup", false, "don't run setup()")
	flags.Bool("no-teardown", false, "don't run teardown()")
	flags.Bool("no-thresholds", false, "don't run thresholds")
	flags.Bool("no-summary", false, "don't show the summary at the end of the test")
	return flags
}

// getOptions returns the options set on the command line. Flags that
// weren't changed stay null.
func getOptions(flags *pflag.FlagSet) (execution.Options, error) {
	opts := execution.Options{
		VUs:          getNullInt64(flags, "vus"),
		Iterations:   getNullInt64(flags, "iterations"),
		NoSetup:      getNullBool(flags, "no-setup"),
		NoTeardown:   getNullBool(flags, "no-teardown"),
		NoThresholds: getNullBool(flags, "no-thresholds"),
		NoSummary:    getNullBool(flags, "no-summary"),
	}

	var err error
	if opts.Duration, err = getNullDuration(flags, "duration"); err != nil {
		return opts, err
	}
	if opts.SetupTimeout, err = getNullDuration(flags, "setup-timeout"); err != nil {
		return opts, err
	}
	if opts.TeardownTimeout, err = getNullDuration(flags, "teardown-timeout"); err != nil {
		return opts, err
	}
	return opts, nil
}

func getNullBool(flags *pflag.FlagSet, key string) null.Bool {
	v, err := flags.GetBool(key)
	if err != nil {
		panic(err)
	}
	return null.NewBool(v, flags.Changed(key))
}

func getNullInt64(flags *pflag.FlagSet, key string) null.Int {
	v, err := flags.GetInt64(key)
	if err != nil {
		panic(err)
	}
	return null.NewInt(v, flags.Changed(key))
}

// getNullDuration accepts the same durations scripts do, e.g. "1m30s" or a
// plain number of seconds.
func getNullDuration(flags *pflag.FlagSet, key string) (types.NullDuration, error) {
	v, err := flags.GetString(key)
	if err != nil {
		panic(err)
	}
	if !flags.Changed(key) {
		return types.NullDuration{}, nil
	}
	d, err := types.ParseExtendedDuration(v)
	if err != nil {
		return types.NullDuration{}, errext.NewConfigError("invalid --%s value %q: %w", key, v, err)
	}
	return types.NullDurationFrom(d), nil
}

// readDiskConfig reads the config file. A missing file is only an error when
// its path was given explicitly.
func readDiskConfig(gs *state.GlobalState) (execution.Options, error) {
	path := gs.Flags.ConfigFilePath
	data, err := afero.ReadFile(gs.FS, path)
	if errors.Is(err, fs.ErrNotExist) && path == gs.DefaultFlags.ConfigFilePath {
		gs.Logger.WithField("path", path).Debug("No config file found")
		return execution.Options{}, nil
	}
	if err != nil {
		return execution.Options{}, errext.NewConfigError("couldn't read the config file %s: %w", path, err)
	}

	doc, err := yamlToJSON(data)
	if err != nil {
		return execution.Options{}, errext.NewConfigError("couldn't parse the config file %s: %w", path, err)
	}
	opts, err := execution.ParseOptions(doc)
	if err != nil {
		return opts, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	for _, key := range opts.Unknown {
		gs.Logger.WithField("path", path).Warnf("Unknown option %q is ignored", key)
	}
	return opts, nil
}

// readEnvConfig reads the VUFLOW_* environment variables.
func readEnvConfig(env map[string]string) (execution.Options, error) {
	var opts execution.Options
	err := envconfig.Process("", &opts, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	if err != nil {
		return opts, errext.NewConfigError("invalid environment option: %w", err)
	}
	return opts, nil
}

// getConsolidatedOverrides merges, from lowest to highest priority, the
// config file, the environment and the command line. The result is applied
// over the options the script exports.
func getConsolidatedOverrides(gs *state.GlobalState, flags *pflag.FlagSet) (execution.Options, error) {
	fileConf, err := readDiskConfig(gs)
	if err != nil {
		return execution.Options{}, err
	}
	envConf, err := readEnvConfig(gs.Env)
	if err != nil {
		return execution.Options{}, err
	}
	cliConf, err := getOptions(flags)
	if err != nil {
		return execution.Options{}, err
	}

	result := fileConf.Apply(envConf).Apply(cliConf)
	gs.Logger.WithFields(logrus.Fields{
		"vus": result.VUs, "iterations": result.Iterations, "duration": result.Duration,
		"scenarios": len(result.Scenarios),
	}).Debug("Consolidated the config file, environment and command line options")
	return result, nil
}

// yamlToJSON converts a YAML document, which includes any JSON document, to
// JSON. Mapping keys keep their order, so scenarios run in the order they
// are declared.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := writeJSONNode(&buf, doc.Content[0]); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSONNode(buf *bytes.Buffer, node *yaml.Node) error {
	switch node.Kind {
	case yaml.DocumentNode:
		return writeJSONNode(buf, node.Content[0])
	case yaml.AliasNode:
		return writeJSONNode(buf, node.Alias)
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(node.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(node.Content[i].Value)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err = writeJSONNode(buf, node.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, item := range node.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSONNode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case yaml.ScalarNode:
		var v interface{}
		if err := node.Decode(&v); err != nil {
			return err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		buf.Write(raw)
	default:
		return fmt.Errorf("line %d: unsupported YAML node", node.Line)
	}
	return nil
}
