package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"checkpool/internal/pool"
	"checkpool/internal/prof"
)

func registerProfileFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.String("cpu-profile", "", "write CPU profile to file")
	pf.String("mem-profile", "", "write heap profile to file on exit")
	pf.String("runtime-trace", "", "write Go runtime trace to file")
}

func readProfileFlags(cmd *cobra.Command) (prof.Options, error) {
	pf := cmd.Root().PersistentFlags()
	var opts prof.Options
	var err error
	if opts.CPU, err = pf.GetString("cpu-profile"); err != nil {
		return opts, fmt.Errorf("failed to get cpu-profile flag: %w", err)
	}
	if opts.Mem, err = pf.GetString("mem-profile"); err != nil {
		return opts, fmt.Errorf("failed to get mem-profile flag: %w", err)
	}
	if opts.Trace, err = pf.GetString("runtime-trace"); err != nil {
		return opts, fmt.Errorf("failed to get runtime-trace flag: %w", err)
	}
	return opts, nil
}

// profileWorkerArgs forwards profiling to worker processes. Each worker adds
// its index to the file names.
func profileWorkerArgs(opts prof.Options) []string {
	var args []string
	if opts.CPU != "" {
		args = append(args, "--cpu-profile", opts.CPU)
	}
	if opts.Mem != "" {
		args = append(args, "--mem-profile", opts.Mem)
	}
	if opts.Trace != "" {
		args = append(args, "--runtime-trace", opts.Trace)
	}
	return args
}

// setupProfiling starts the requested profilers and returns an idempotent
// cleanup that stops them.
func setupProfiling(cmd *cobra.Command) (func(), error) {
	opts, err := readProfileFlags(cmd)
	if err != nil {
		return nil, err
	}
	if !opts.Enabled() {
		return func() {}, nil
	}
	if idx := os.Getenv(pool.EnvWorkerIndex); idx != "" {
		opts = opts.WithSuffix(".w" + idx)
	}
	session, err := prof.Start(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start profiling: %w", err)
	}
	return func() {
		if err := session.Stop(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "profile: %v\n", err)
		}
	}, nil
}
