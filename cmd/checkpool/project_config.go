package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"checkpool/internal/backend"
	"checkpool/internal/backend/tsbackend"
	"checkpool/internal/config"
	"checkpool/internal/diagfmt"
	"checkpool/internal/orchestrator"
	"checkpool/internal/pool"
	"checkpool/internal/protocol"
	"checkpool/internal/worker"
)

// registerProjectFlags adds the flags that override checkpool.toml.
func registerProjectFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("workers", 0, "number of worker processes (overrides [workers].count)")
	f.Bool("syntactic", false, "also report syntax diagnostics")
	f.Bool("no-style", false, "skip style rules")
	f.String("style-config", "", "single style config for the whole project")
	f.String("cache-dir", "", "directory for persistent register snapshots")
	f.Int("max-results", 0, "cap each result list (0 = unlimited)")
	f.String("format", "pretty", "output format (pretty|json)")
	f.String("paths", "auto", "path display (auto|absolute|relative|basename)")
	f.Bool("context", false, "print the source line under each result")
	f.Bool("inprocess", false, "run workers as goroutines instead of processes (debug)")
}

// loadConfig reads checkpool.toml from the directory argument (or the
// working directory) and applies flags that were set explicitly.
func loadConfig(cmd *cobra.Command, args []string) (config.Config, error) {
	start := "."
	if len(args) > 0 {
		start = args[0]
	}
	f := cmd.Flags()
	var opts []config.Option
	if f.Changed("workers") {
		n, _ := f.GetInt("workers")
		opts = append(opts, func(c *config.Config) { c.Workers = n })
	}
	if f.Changed("syntactic") {
		v, _ := f.GetBool("syntactic")
		opts = append(opts, func(c *config.Config) { c.Syntactic = v })
	}
	if f.Changed("no-style") {
		v, _ := f.GetBool("no-style")
		opts = append(opts, func(c *config.Config) { c.Style = !v })
	}
	if f.Changed("style-config") {
		v, _ := f.GetString("style-config")
		opts = append(opts, func(c *config.Config) { c.StyleConfig = absFromCwd(v) })
	}
	if f.Changed("cache-dir") {
		v, _ := f.GetString("cache-dir")
		opts = append(opts, func(c *config.Config) { c.CacheDir = absFromCwd(v) })
	}
	if f.Changed("max-results") {
		v, _ := f.GetInt("max-results")
		opts = append(opts, func(c *config.Config) { c.MaxResults = v })
	}
	return config.Load(start, opts...)
}

// absFromCwd keeps flag paths relative to where the user typed them rather
// than to the project root.
func absFromCwd(p string) string {
	if p == "" {
		return p
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

type outputOptions struct {
	format  string
	pretty  diagfmt.PrettyOpts
	json    diagfmt.JSONOpts
	quiet   bool
	timings bool
}

func readOutputOptions(cmd *cobra.Command, cfg config.Config) (outputOptions, error) {
	var out outputOptions
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return out, fmt.Errorf("failed to get format flag: %w", err)
	}
	switch format {
	case "pretty", "json":
		out.format = format
	default:
		return out, fmt.Errorf("unsupported format %q (must be pretty or json)", format)
	}
	pathsFlag, _ := cmd.Flags().GetString("paths")
	mode, ok := diagfmt.ParsePathMode(pathsFlag)
	if !ok {
		return out, fmt.Errorf("invalid --paths value %q", pathsFlag)
	}
	colorFlag, _ := cmd.Root().PersistentFlags().GetString("color")
	colorMode, err := readSwitch("color", colorFlag)
	if err != nil {
		return out, err
	}
	withContext, _ := cmd.Flags().GetBool("context")
	out.quiet, _ = cmd.Root().PersistentFlags().GetBool("quiet")
	out.timings, _ = cmd.Root().PersistentFlags().GetBool("timings")

	out.pretty = diagfmt.PrettyOpts{
		Color:    colorMode.enabled(os.Stdout),
		PathMode: mode,
		BaseDir:  cfg.Root,
		Context:  withContext,
		Summary:  !out.quiet,
	}
	out.json = diagfmt.JSONOpts{PathMode: mode, BaseDir: cfg.Root}
	return out, nil
}

// newBackends builds the TypeScript backends for one checker.
func newBackends(protocol.InitRequest) (backend.Compiler, backend.StyleEngine, error) {
	return tsbackend.New(), tsbackend.NewLinter(), nil
}

// newOrchestrator checks in-process for a single worker and spawns this
// executable's hidden worker command otherwise. With --inprocess the workers
// are goroutines.
func newOrchestrator(cmd *cobra.Command, cfg config.Config, sink pool.ProgressSink) (*orchestrator.Orchestrator, error) {
	opts := orchestrator.Options{
		Config:     cfg.WorkerConfig(),
		Workers:    cfg.Workers,
		MaxResults: cfg.MaxResults,
		Backends:   newBackends,
		Sink:       sink,
	}
	inprocess, _ := cmd.Flags().GetBool("inprocess")
	switch {
	case cfg.Workers > 1 && inprocess:
		opts.Spawner = worker.InProcessSpawner{Backends: newBackends}
	case cfg.Workers > 1:
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		tf, err := readTraceFlags(cmd)
		if err != nil {
			return nil, err
		}
		po, err := readProfileFlags(cmd)
		if err != nil {
			return nil, err
		}
		args := append([]string{"worker"}, tf.workerArgs()...)
		opts.Spawner = pool.ExecSpawner{
			Path:   exe,
			Args:   append(args, profileWorkerArgs(po)...),
			Stderr: cmd.ErrOrStderr(),
		}
	}
	return orchestrator.New(opts)
}
