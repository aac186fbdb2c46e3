package version

import "fmt"

var (
	// Version is the semantic version of the binary. Overridden at build time.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)

// String renders the build information on one line per field.
func String() string {
	return fmt.Sprintf("chaintracker %s\ncommit: %s\nbuilt: %s", Version, Commit, BuildDate)
}
