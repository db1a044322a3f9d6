package version

import (
	"strings"
	"testing"
)

func TestResolvePrefersLdflags(t *testing.T) {
	oldV, oldC := Version, Commit
	t.Cleanup(func() { Version, Commit = oldV, oldC })

	Version = "v1.2.3"
	Commit = "0123456789abcdef0123"
	info := Resolve()
	if info.Version != "v1.2.3" {
		t.Fatalf("version: got %q", info.Version)
	}
	if info.GoVersion == "" {
		t.Fatalf("expected go version")
	}
	if s := String(); !strings.HasPrefix(s, "v1.2.3 (0123456789ab") {
		t.Fatalf("string: got %q", s)
	}
}

func TestResolveDefaultsToDev(t *testing.T) {
	oldV := Version
	t.Cleanup(func() { Version = oldV })

	Version = ""
	if v := Resolve().Version; v == "" {
		t.Fatalf("expected a non-empty fallback version")
	}
}
