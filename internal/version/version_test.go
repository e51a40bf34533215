package version

import "testing"

func TestString(t *testing.T) {
	oldV, oldSHA, oldBuilt := Version, GitSHA, BuildTime
	defer func() { Version, GitSHA, BuildTime = oldV, oldSHA, oldBuilt }()

	Version, GitSHA, BuildTime = "1.2.0", "abc123", "2026-03-14"
	if got, want := String(), "faslit 1.2.0 (abc123, built 2026-03-14)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
