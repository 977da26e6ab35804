// Package version carries build identification stamped in via ldflags.
package version

var (
	// Version is the semantic version of the build (set via ldflags)
	Version = "dev"

	// Commit is the git commit the binary was built from
	Commit = "unknown"

	// BuildTime is the RFC3339 timestamp of the build
	BuildTime = "unknown"

	// BuildUser is the user that produced the build
	BuildUser = "unknown"
)
