package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set with -ldflags -X.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// vcs holds the revision and commit time the toolchain stamped into the
// binary. A revision built from a dirty tree ends in "+dirty".
var vcs = sync.OnceValues(func() (rev, when string) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	dirty := false
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
			if len(rev) > 12 {
				rev = rev[:12]
			}
		case "vcs.time":
			when = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev != "" && dirty {
		rev += "+dirty"
	}
	return rev, when
})

// Get returns the injected values, filling Commit and BuildTime from the
// VCS stamp when they were not injected.
func Get() Info {
	info := Info{Version: Version, Commit: Commit, BuildTime: BuildTime, GoVersion: runtime.Version()}
	rev, when := vcs()
	if info.Commit == "unknown" && rev != "" {
		info.Commit = rev
	}
	if info.BuildTime == "unknown" && when != "" {
		info.BuildTime = when
	}
	return info
}

func (i Info) String() string {
	return fmt.Sprintf("%s (%s, %s, %s)", i.Version, i.Commit, i.BuildTime, i.GoVersion)
}

// String formats Get().
func String() string {
	return Get().String()
}
