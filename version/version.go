// Package version holds the version of the build, set at link time.
package version

// Version is overwritten with -ldflags "-X github.com/determined-ai/rcq/version.Version=...".
var Version = "dev"
