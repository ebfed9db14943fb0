// Package common holds service-wide identity and logger setup shared by the
// daemon and CLI entrypoints.
package common

var (
	// PackageName identifies the service in logs and metrics.
	PackageName = "integrity-guard"

	// Version is set during the build process (ldflags).
	Version = "dev"
)
