package version

import (
	"runtime"
	"strings"
	"testing"
)

func setVars(t *testing.T, tag, commit, built string) {
	t.Helper()
	oldTag, oldCommit, oldTime := Tag, GitCommit, BuildTime
	t.Cleanup(func() { Tag, GitCommit, BuildTime = oldTag, oldCommit, oldTime })
	Tag, GitCommit, BuildTime = tag, commit, built
}

func TestGet_LinkerValues(t *testing.T) {
	setVars(t, "v1.2.3", "abcdef12", "2026-01-01T00:00:00Z")

	got := Get()
	want := Info{Tag: "v1.2.3", Commit: "abcdef12", BuildTime: "2026-01-01T00:00:00Z", GoVersion: runtime.Version()}
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
	if s := got.String(); s != "carestore v1.2.3 (commit abcdef12, built 2026-01-01T00:00:00Z)" {
		t.Errorf("String() = %q", s)
	}
}

func TestGet_Fallbacks(t *testing.T) {
	setVars(t, "v1.2.3", "", "")

	got := Get()
	if got.Commit == "" || got.BuildTime == "" {
		t.Errorf("Get() = %+v, want commit and build time filled in", got)
	}
	if len(got.Commit) > 8 {
		t.Errorf("Commit = %q, want at most 8 characters", got.Commit)
	}
	if s := String(); !strings.HasPrefix(s, "carestore v1.2.3 (commit ") {
		t.Errorf("String() = %q, want carestore v1.2.3 prefix", s)
	}
}

func TestShortCommit(t *testing.T) {
	tests := []struct{ in, want string }{
		{"0123456789abcdef", "01234567"},
		{"0123456", "0123456"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := shortCommit(tt.in); got != tt.want {
			t.Errorf("shortCommit(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
