// Package version describes the running carestore build.
package version

import (
	"runtime"
	"runtime/debug"
)

// Set at link time, for example:
//
//	go build -ldflags "-X carestore/version.Tag=v1.0.0 -X carestore/version.GitCommit=abc1234"
//
// Empty GitCommit and BuildTime fall back to the VCS stamp in the build
// info.
var (
	Tag       = "dev"
	GitCommit = ""
	BuildTime = ""
)

// Info is the identity of a build, as reported by VERSION and the
// carestore_build_info metric.
type Info struct {
	Tag       string
	Commit    string
	BuildTime string
	GoVersion string
}

// Get resolves the current build's Info. Unknown fields read "unknown".
func Get() Info {
	info := Info{
		Tag:       Tag,
		Commit:    GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && info.Commit == "":
				info.Commit = shortCommit(s.Value)
			case s.Key == "vcs.time" && info.BuildTime == "":
				info.BuildTime = s.Value
			}
		}
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	if info.BuildTime == "" {
		info.BuildTime = "unknown"
	}
	return info
}

func shortCommit(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// String formats i as "carestore <tag> (commit <c>, built <t>)".
func (i Info) String() string {
	return "carestore " + i.Tag + " (commit " + i.Commit + ", built " + i.BuildTime + ")"
}

// String is Get().String().
func String() string {
	return Get().String()
}
