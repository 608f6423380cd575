package buildinfo

import (
	"runtime"
	"testing"
)

func TestGet(t *testing.T) {
	old := Version
	Version = "v9.9.9"
	defer func() { Version = old }()

	info := Get()
	if info.Version != "v9.9.9" || info.GoVersion != runtime.Version() {
		t.Errorf("Get() = %+v", info)
	}
	if info.Commit == "" || info.BuildTime == "" {
		t.Errorf("Get() left fields empty: %+v", info)
	}
}

func TestGet_Injected(t *testing.T) {
	oldCommit, oldTime := Commit, BuildTime
	Commit, BuildTime = "abc123", "2026-01-02T03:04:05Z"
	defer func() { Commit, BuildTime = oldCommit, oldTime }()

	info := Get()
	if info.Commit != "abc123" || info.BuildTime != "2026-01-02T03:04:05Z" {
		t.Errorf("injected values overridden: %+v", info)
	}
}

func TestInfo_String(t *testing.T) {
	i := Info{Version: "v1", Commit: "c", BuildTime: "t", GoVersion: "go1"}
	if got := i.String(); got != "v1 (c, t, go1)" {
		t.Errorf("String() = %q", got)
	}
	if String() != Get().String() {
		t.Error("String() should format Get()")
	}
}
