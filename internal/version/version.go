// Package version exposes build-time version information injected through
// -ldflags.
package version

// Build metadata, overridden at link time.
//
//nolint:gochecknoglobals // Set via -ldflags at build time.
var (
	// Version is the semantic release version.
	Version = "1.0.0"
	// Commit is the git commit hash the binary was built from.
	Commit = "none"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// Short returns just the release version.
func Short() string {
	return Version
}

// Full returns the version, commit and build time in one line.
func Full() string {
	return "version: " + Version + ", commit: " + Commit + ", built at: " + BuildTime
}
