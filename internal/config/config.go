// Package config loads the project file checkpool.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar"

	"checkpool/internal/protocol"
)

// FileName is the project file looked up from the working directory.
const FileName = "checkpool.toml"

// MaxWorkers bounds the pool size accepted from configuration.
const MaxWorkers = 256

var ErrInvalid = errors.New("invalid configuration")

// Config is the resolved project configuration.
type Config struct {
	// Path is the project file, empty when only defaults apply.
	Path        string
	Root        string
	Include     []string
	Exclude     []string
	Workers     int
	Syntactic   bool
	Style       bool
	StyleConfig string
	CancelPoll  time.Duration
	CacheDir    string
	MaxResults  int
}

// Option adjusts a Config after the file is read and before validation.
type Option func(*Config)

type fileConfig struct {
	Project struct {
		Include []string `toml:"include"`
		Exclude []string `toml:"exclude"`
	} `toml:"project"`
	Check struct {
		Syntactic   bool   `toml:"syntactic"`
		Style       bool   `toml:"style"`
		StyleConfig string `toml:"style_config"`
		MaxResults  int    `toml:"max_results"`
	} `toml:"check"`
	Workers struct {
		Count      int    `toml:"count"`
		CancelPoll string `toml:"cancel_poll"`
		CacheDir   string `toml:"cache_dir"`
	} `toml:"workers"`
}

// Default returns the configuration used for root without a project file.
func Default(root string) Config {
	return Config{
		Root:       root,
		Include:    []string{"**/*.ts", "**/*.tsx"},
		Exclude:    []string{"**/node_modules/**", "**/*.d.ts"},
		Workers:    1,
		Style:      true,
		CancelPoll: 50 * time.Millisecond,
	}
}

// Find walks up from startDir looking for checkpool.toml.
func Find(startDir string) (path string, ok bool, err error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Load finds the project file from startDir, applies opts and validates the
// result. Without a project file the defaults for startDir are used.
func Load(startDir string, opts ...Option) (Config, error) {
	path, ok, err := Find(startDir)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if ok {
		cfg, err = ReadFile(path)
		if err != nil {
			return Config{}, err
		}
	} else {
		root, err := filepath.Abs(startDir)
		if err != nil {
			return Config{}, err
		}
		cfg = Default(root)
	}
	return New(cfg, opts...)
}

// New applies opts to cfg and validates it.
func New(cfg Config, opts ...Option) (Config, error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.StyleConfig = cfg.abs(cfg.StyleConfig)
	cfg.CacheDir = cfg.abs(cfg.CacheDir)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReadFile decodes a project file over the defaults. Keys left out keep
// their default values; unknown keys are errors.
func ReadFile(path string) (Config, error) {
	var fc fileConfig
	meta, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("%s: unknown keys %s: %w", path, strings.Join(keys, ", "), ErrInvalid)
	}

	cfg := Default(filepath.Dir(path))
	cfg.Path = path
	if meta.IsDefined("project", "include") {
		cfg.Include = fc.Project.Include
	}
	if meta.IsDefined("project", "exclude") {
		cfg.Exclude = fc.Project.Exclude
	}
	if meta.IsDefined("check", "syntactic") {
		cfg.Syntactic = fc.Check.Syntactic
	}
	if meta.IsDefined("check", "style") {
		cfg.Style = fc.Check.Style
	}
	if meta.IsDefined("check", "style_config") {
		cfg.StyleConfig = fc.Check.StyleConfig
	}
	if meta.IsDefined("check", "max_results") {
		cfg.MaxResults = fc.Check.MaxResults
	}
	if meta.IsDefined("workers", "count") {
		cfg.Workers = fc.Workers.Count
	}
	if meta.IsDefined("workers", "cancel_poll") {
		d, err := time.ParseDuration(fc.Workers.CancelPoll)
		if err != nil {
			return Config{}, fmt.Errorf("%s: [workers].cancel_poll: %w", path, errors.Join(err, ErrInvalid))
		}
		cfg.CancelPoll = d
	}
	if meta.IsDefined("workers", "cache_dir") {
		cfg.CacheDir = fc.Workers.CacheDir
	}
	return cfg, nil
}

func (c Config) abs(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, filepath.FromSlash(p))
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalid)
	}
	if c.Root == "" {
		return invalid("root is empty")
	}
	if info, err := os.Stat(c.Root); err != nil || !info.IsDir() {
		return invalid("root %q is not a directory", c.Root)
	}
	if c.Workers < 1 || c.Workers > MaxWorkers {
		return invalid("workers must be between 1 and %d, got %d", MaxWorkers, c.Workers)
	}
	if c.CancelPoll < 0 {
		return invalid("cancel_poll must not be negative, got %s", c.CancelPoll)
	}
	if c.MaxResults < 0 {
		return invalid("max_results must not be negative, got %d", c.MaxResults)
	}
	if len(c.Include) == 0 {
		return invalid("include is empty")
	}
	for _, p := range append(append([]string(nil), c.Include...), c.Exclude...) {
		if _, err := doublestar.Match(p, ""); err != nil {
			return invalid("bad pattern %q", p)
		}
	}
	if c.StyleConfig != "" {
		if _, err := os.Stat(c.StyleConfig); err != nil {
			return invalid("style config %q: %v", c.StyleConfig, err)
		}
	}
	return nil
}

// WorkerConfig is the part of c that each worker needs.
func (c Config) WorkerConfig() protocol.WorkerConfig {
	return protocol.WorkerConfig{
		Root:        c.Root,
		Include:     c.Include,
		Exclude:     c.Exclude,
		Syntactic:   c.Syntactic,
		Style:       c.Style,
		StyleConfig: c.StyleConfig,
		CancelPoll:  c.CancelPoll,
		CacheDir:    c.CacheDir,
	}
}
