package version

import "runtime"

// Build information set via ldflags at compile time.
var (
	// Version is the semantic version of the application.
	Version = "0.1.0"
	// Commit is the VCS revision the binary was built from.
	Commit = "unknown"
	// BuildDate is the RFC 3339 build timestamp.
	BuildDate = "unknown"
)

// Info returns version information as a structured map.
func Info() map[string]string {
	return map[string]string{
		"version":   Version,
		"commit":    Commit,
		"buildDate": BuildDate,
		"goVersion": runtime.Version(),
	}
}

// String formats the build for --version output.
func String() string {
	return Version + " (" + Commit + ", built " + BuildDate + ", " + runtime.Version() + ")"
}
