package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func writeManifest(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, FileName)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return p
}

func TestLoadDefaultsWithoutManifest(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Path != "" || cfg.Root != dir {
		t.Fatalf("path %q root %q", cfg.Path, cfg.Root)
	}
	if cfg.Workers != 1 || !cfg.Style || cfg.Syntactic || cfg.CancelPoll != 50*time.Millisecond {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadWalksUp(t *testing.T) {
	root := t.TempDir()
	manifest := writeManifest(t, root, `
[project]
include = ["src/**/*.ts"]

[check]
style = false
syntactic = true
max_results = 10

[workers]
count = 4
cancel_poll = "10ms"
cache_dir = ".cache"
`)
	sub := filepath.Join(root, "src", "deep")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cfg, err := Load(sub)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Path != manifest || cfg.Root != root {
		t.Fatalf("path %q root %q", cfg.Path, cfg.Root)
	}
	if !slices.Equal(cfg.Include, []string{"src/**/*.ts"}) {
		t.Fatalf("include %v", cfg.Include)
	}
	if !slices.Equal(cfg.Exclude, Default(root).Exclude) {
		t.Fatalf("exclude should keep defaults, got %v", cfg.Exclude)
	}
	if cfg.Style || !cfg.Syntactic || cfg.MaxResults != 10 {
		t.Fatalf("check section %+v", cfg)
	}
	if cfg.Workers != 4 || cfg.CancelPoll != 10*time.Millisecond {
		t.Fatalf("workers section %+v", cfg)
	}
	if cfg.CacheDir != filepath.Join(root, ".cache") {
		t.Fatalf("cache dir %q", cfg.CacheDir)
	}
	wc := cfg.WorkerConfig()
	if wc.Root != root || wc.CacheDir != cfg.CacheDir || wc.Style {
		t.Fatalf("worker config %+v", wc)
	}
}

func TestOptionsApplyBeforeValidation(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[workers]\ncount = 0\n")

	if _, err := Load(root); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	cfg, err := Load(root, func(c *Config) { c.Workers = 3 })
	if err != nil {
		t.Fatalf("Load with override: %v", err)
	}
	if cfg.Workers != 3 {
		t.Fatalf("workers %d", cfg.Workers)
	}
}

func TestReadFileRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":   "[check]\nstyel = true\n",
		"bad duration":  "[workers]\ncancel_poll = \"soon\"\n",
		"negative poll": "[workers]\ncancel_poll = \"-1s\"\n",
		"no include":    "[project]\ninclude = []\n",
		"too many":      "[workers]\ncount = 1000\n",
		"missing style": "[check]\nstyle_config = \"nope.toml\"\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			writeManifest(t, root, content)
			if _, err := Load(root); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestReadFileSyntaxError(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[check\n")
	if _, err := Load(root); err == nil {
		t.Fatalf("expected parse error")
	}
}
