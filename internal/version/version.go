package version

import "runtime"

// Version information set via ldflags during build
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// FullVersion returns a formatted version string
func FullVersion() string {
	if Version == "dev" {
		return "pathq development build (" + runtime.Version() + ")"
	}
	return "pathq " + Version + " (commit: " + GitCommit + ", built: " + BuildDate + ", " + runtime.Version() + ")"
}
