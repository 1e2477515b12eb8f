// Package version exposes the build identity reported by the /version
// endpoint and stamped into startup logs.
package version

import (
	"fmt"
	"runtime"
)

// Overridden at build time via -ldflags "-X ...".
var (
	Version = "dev"
	Commit  = "unknown"
	BuiltAt = "unknown"
)

// Info is the JSON shape served by the version endpoint.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuiltAt   string `json:"built_at"`
	GoVersion string `json:"go_version"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuiltAt:   BuiltAt,
		GoVersion: runtime.Version(),
	}
}

// String renders a one-line identity for startup logging, with the commit
// shortened to the usual seven characters.
func (i Info) String() string {
	commit := i.Commit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("%s (%s, %s)", i.Version, commit, i.GoVersion)
}
