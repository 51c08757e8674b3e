// Package build holds the version information of the vuflow binary.
package build

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is the current vuflow version. Release builds override it with
// -ldflags "-X github.com/liuxd6825/vuflow/internal/build.Version=...".
var Version = "0.1.0" //nolint:gochecknoglobals

// FullVersion returns the version along with the VCS revision, when the
// binary was built from a checkout, and the Go runtime details.
func FullVersion() string {
	details := fmt.Sprintf("%s, %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return fmt.Sprintf("v%s (%s)", Version, details)
	}
	var commit, dirty string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			commit = s.Value
			if len(commit) > 10 {
				commit = commit[:10]
			}
		case "vcs.modified":
			if s.Value == "true" {
				dirty = "-dirty"
			}
		}
	}
	if commit == "" {
		return fmt.Sprintf("v%s (%s)", Version, details)
	}
	return fmt.Sprintf("v%s (commit/%s%s, %s)", Version, commit, dirty, details)
}
