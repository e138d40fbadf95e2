package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"checkpool/internal/version"
)

// errSilentExit marks a failure that was already reported, such as a run
// with error results or a worker that printed its own error; main only sets
// the exit code.
var errSilentExit = errors.New("exit status 1")

var traceCleanup = func() {}

var rootCmd = &cobra.Command{
	Use:   "checkpool",
	Short: "Incremental multi-process type and style checker",
	Long: `checkpool checks a TypeScript project with a pool of long-lived worker
processes. Each worker owns a deterministic shard of the files and keeps its
parsed files and style results between runs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cleanup, err := setupTracing(cmd)
		if err != nil {
			return err
		}
		traceCleanup = cleanup
		stopProfiling, err := setupProfiling(cmd)
		if err != nil {
			return err
		}
		traceCleanup = func() {
			stopProfiling()
			cleanup()
		}
		return nil
	},
}

func init() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(versionCmd)

	// Глобальные флаги
	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().String("ui", "auto", "show worker progress (auto|on|off)")
	rootCmd.PersistentFlags().Bool("quiet", false, "suppress non-essential output")
	rootCmd.PersistentFlags().Bool("timings", false, "show per-worker phase timings")
	registerTraceFlags(rootCmd)
	registerProfileFlags(rootCmd)
}

// main runs the root command under a context that is cancelled on SIGINT or
// SIGTERM.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	traceCleanup()
	if err != nil {
		if !errors.Is(err, errSilentExit) {
			fmt.Fprintf(os.Stderr, "checkpool: %v\n", err)
		}
		os.Exit(1)
	}
}
