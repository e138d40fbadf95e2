// Package styleconfig resolves which style configuration applies to a file.
//
// Configs live in ".checkstyle.toml" files. For a given file the nearest one
// found walking from the file's directory up to the project root wins; a
// fixed override config, when set, applies to every file and bypasses the
// walk. Resolution is cached per directory.
package styleconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar"
	lru "github.com/hashicorp/golang-lru/v2"

	"checkpool/internal/backend"
	"checkpool/internal/diag"
)

// FileName is the per-directory style config file.
const FileName = ".checkstyle.toml"

// DefaultStamp identifies results produced without any config file.
const DefaultStamp = "default"

const cacheSize = 1024

// Config is one decoded style config file.
type Config struct {
	// Path is empty for the built-in default.
	Path    string
	// Dir anchors the exclude patterns.
	Dir     string
	Stamp   string
	Exclude []string
	Rules   backend.Rules
}

type fileConfig struct {
	Exclude []string                       `toml:"exclude"`
	Rules   map[string]backend.RuleSetting `toml:"rules"`
}

var defaultConfig = &Config{Stamp: DefaultStamp}

// Resolver finds the config for files under root. It is safe for concurrent
// use.
type Resolver struct {
	root     string
	override string
	// dir -> nearest config (defaultConfig when none)
	byDir *lru.Cache[string, *Config]
}

// NewResolver creates a resolver. override may be empty.
func NewResolver(root, override string) (*Resolver, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	if override != "" {
		if !filepath.IsAbs(override) {
			override = filepath.Join(root, override)
		}
		override = filepath.Clean(override)
	}
	cache, err := lru.New[string, *Config](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{root: root, override: override, byDir: cache}, nil
}

// Resolve returns the config that applies to file.
func (r *Resolver) Resolve(file string) (*Config, error) {
	if r.override != "" {
		if cfg, ok := r.byDir.Get(r.override); ok {
			return cfg, nil
		}
		cfg, err := Load(r.override)
		if err != nil {
			return nil, err
		}
		// the override covers the whole project wherever it lives
		cfg.Dir = r.root
		r.byDir.Add(r.override, cfg)
		return cfg, nil
	}
	return r.resolveDir(filepath.Dir(file))
}

func (r *Resolver) resolveDir(dir string) (*Config, error) {
	dir = filepath.Clean(dir)
	if cfg, ok := r.byDir.Get(dir); ok {
		return cfg, nil
	}

	candidate := filepath.Join(dir, FileName)
	var cfg *Config
	switch _, err := os.Stat(candidate); {
	case err == nil:
		cfg, err = Load(candidate)
		if err != nil {
			return nil, err
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to stat %q: %w", candidate, err)
	default:
		parent := filepath.Dir(dir)
		if dir == r.root || parent == dir || !within(r.root, dir) {
			cfg = defaultConfig
		} else {
			cfg, err = r.resolveDir(parent)
			if err != nil {
				return nil, err
			}
		}
	}
	r.byDir.Add(dir, cfg)
	return cfg, nil
}

// Excluded reports whether file is excluded from style checking by the
// config that applies to it. Patterns are relative to the config's directory
// (the project root for the default and override configs).
func (r *Resolver) Excluded(file string) (bool, error) {
	cfg, err := r.Resolve(file)
	if err != nil {
		return false, err
	}
	return cfg.Excludes(file, r.root), nil
}

// IsConfigFile reports whether path is a style config this resolver reads.
func (r *Resolver) IsConfigFile(path string) bool {
	if r.override != "" {
		return filepath.Clean(path) == r.override
	}
	return filepath.Base(path) == FileName
}

// Invalidate drops every cached resolution.
func (r *Resolver) Invalidate() {
	r.byDir.Purge()
}

// Root returns the project root.
func (r *Resolver) Root() string {
	return r.root
}

// Excludes reports whether file matches one of the config's exclude globs.
func (c *Config) Excludes(file, root string) bool {
	if len(c.Exclude) == 0 {
		return false
	}
	base := c.Dir
	if base == "" {
		base = root
	}
	rel, err := filepath.Rel(base, file)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, p := range c.Exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Load decodes one config file.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %q: %w", path, err)
	}
	var fc fileConfig
	meta, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	for name, rule := range fc.Rules {
		if !meta.IsDefined("rules", name, "severity") {
			rule.Severity = "warning"
			fc.Rules[name] = rule
			continue
		}
		if _, _, err := diag.ParseSeverity(rule.Severity); err != nil {
			return nil, fmt.Errorf("%s: [rules.%s]: %w", path, name, err)
		}
	}
	for _, p := range fc.Exclude {
		if _, err := doublestar.Match(p, "x"); err != nil {
			return nil, fmt.Errorf("%s: bad exclude pattern %q: %w", path, p, err)
		}
	}

	rules := backend.Rules(fc.Rules)
	if !meta.IsDefined("rules") {
		rules = nil
	}
	return &Config{
		Path:    path,
		Dir:     filepath.Dir(path),
		Stamp:   fmt.Sprintf("%s@%d", path, info.ModTime().UnixNano()),
		Exclude: fc.Exclude,
		Rules:   rules,
	}, nil
}

func within(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
