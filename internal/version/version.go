// Package version reports the build version, set at link time with
// -ldflags "-X github.com/ShayCichocki/foreman/internal/version.version=v1.2.3".
package version

import "strings"

var version = "dev"

// Get returns the current version, with whitespace trimmed
func Get() string {
	return strings.TrimSpace(version)
}
