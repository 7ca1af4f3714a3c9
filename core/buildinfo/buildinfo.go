// Package buildinfo exposes version metadata injected at link time:
//
//	-X 'github.com/kompomir/servicebot/core/buildinfo.Version=v0.3.0'
//	-X 'github.com/kompomir/servicebot/core/buildinfo.Commit=abcdef0'
//	-X 'github.com/kompomir/servicebot/core/buildinfo.Date=2026-03-01T12:00:00Z'
package buildinfo

import "fmt"

var (
	// Version reports the release tag of the build.
	Version = "dev"
	// Commit reports the source control commit used for the build.
	Commit = "local"
	// Date reports the build timestamp in RFC3339 format.
	Date = ""
)

// String renders the version line printed by the CLI.
func String() string {
	if Date == "" {
		return fmt.Sprintf("servicebot %s (%s)", Version, Commit)
	}
	return fmt.Sprintf("servicebot %s (%s, built %s)", Version, Commit, Date)
}
