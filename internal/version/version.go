package version

import "fmt"

// Build metadata, stamped by the release build via -ldflags. Local builds
// keep the placeholder values.
var (
	// Version is the semantic version of the updater binary.
	Version = "1.0.0"
	// Commit is the short hash of the commit the binary was built from.
	Commit = "none"
	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"
)

// Short returns just the semantic version string.
func Short() string {
	return Version
}

// Full renders the version together with commit and build time.
func Full() string {
	return fmt.Sprintf("version: %s, commit: %s, built at: %s", Version, Commit, BuildTime)
}
