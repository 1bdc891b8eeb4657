// Package version exposes build metadata for the CLI.
package version

import "runtime/debug"

const shortRevLen = 7

// Version is the release version, stamped via ldflags.
var Version string

// GetVersion returns the stamped release version, falling back to the VCS
// revision recorded in the build info.
func GetVersion() string {
	if Version != "" {
		return Version
	}

	return revision()
}

func revision() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	rev := "unknown"
	dirty := false

	for _, s := range buildInfo.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
			if len(rev) > shortRevLen {
				rev = rev[:shortRevLen]
			}

		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}

	if dirty {
		rev += "-dirty"
	}

	return rev
}
