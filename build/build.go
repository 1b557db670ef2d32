// Package build exposes metadata stamped at link time.
package build

import "time"

// overwritten by -ldflags at build time
var (
	version   = "v0.1.0"
	commit    = "?"
	buildTime = ""
)

// Version returns the version of the binary.
func Version() string { return version }

// Commit returns the git revision the binary was built from.
func Commit() string { return commit }

// Time returns the time the binary was built, or the zero time if the
// timestamp was not stamped.
func Time() time.Time {
	t, err := time.Parse(time.RFC3339, buildTime)
	if err != nil {
		return time.Time{}
	}
	return t
}
