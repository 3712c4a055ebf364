// Package version derives the binary's build identity, preferring an
// -ldflags override and falling back to the VCS stamp Go embeds.
package version

import (
	"runtime"
	"runtime/debug"
)

// AppName prefixes version strings in logs and health output.
const AppName = "tokotalk"

// commit is set for container builds without a .git checkout:
//
//	go build -ldflags "-X github.com/tokotalk/tokotalk/pkg/version.commit=$SHA"
var commit string

// Info is the build identity reported by /healthz and startup logs.
type Info struct {
	Commit    string `json:"commit"`
	Dirty     bool   `json:"dirty,omitempty"`
	GoVersion string `json:"go_version"`
}

var current = load()

func load() Info {
	info := Info{Commit: "dev", GoVersion: runtime.Version()}
	if commit != "" {
		info.Commit = short(commit)
		return info
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if s.Value != "" {
				info.Commit = short(s.Value)
			}
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		}
	}
	return info
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Build returns the binary's build identity.
func Build() Info { return current }

// Full returns "tokotalk/<commit>" for loggers and user agents, with
// "-dirty" appended for builds from a modified tree.
func Full() string {
	v := AppName + "/" + current.Commit
	if current.Dirty {
		v += "-dirty"
	}
	return v
}
