package version

import (
	"testing"

	"github.com/fatih/color"
)

func TestVersion_DefaultValues(t *testing.T) {
	if Version == "" {
		t.Error("Version should have a default value")
	}
	_ = GitCommit
	_ = BuildDate
}

func TestVersion_CanBeOverridden(t *testing.T) {
	origVersion := Version
	origGitCommit := GitCommit
	defer func() {
		Version = origVersion
		GitCommit = origGitCommit
	}()

	Version = "1.2.3"
	GitCommit = "abc123def456"
	if Version != "1.2.3" {
		t.Errorf("Version = %q, want %q", Version, "1.2.3")
	}
	if GitCommit != "abc123def456" {
		t.Errorf("GitCommit = %q, want %q", GitCommit, "abc123def456")
	}
}

func TestColored(t *testing.T) {
	orig := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = orig }()

	cases := map[string]string{
		"0.1.0-dev":            "0.1.0-dev",
		"1.2.3-rc.1+build.123": "1.2.3-rc.1+build.123",
		"dev":                  "dev",
	}
	for in, want := range cases {
		if got := Colored(in); got != want {
			t.Errorf("Colored(%q) = %q, want %q", in, got, want)
		}
	}

	color.NoColor = false
	if got := Colored("1.2.3"); got == "1.2.3" {
		t.Errorf("expected escape codes, got %q", got)
	}
}
