package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"checkpool/internal/config"
	"checkpool/internal/diag"
	"checkpool/internal/diagfmt"
	"checkpool/internal/observ"
)

const closeTimeout = 10 * time.Second

var checkCmd = &cobra.Command{
	Use:   "check [flags] [dir]",
	Short: "Run one check over the project",
	Long: `Run one check over the project containing dir (default: the working
directory) and print compiler diagnostics and style violations. The exit
status is 1 when any result is an error.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func init() {
	registerProjectFlags(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	out, err := readOutputOptions(cmd, cfg)
	if err != nil {
		return err
	}
	uiFlag, _ := cmd.Root().PersistentFlags().GetString("ui")
	uiMode, err := readSwitch("ui", uiFlag)
	if err != nil {
		return err
	}

	var (
		res     diag.RunResult
		timings observ.Report
	)
	if useTUI(uiMode, cfg, out) {
		res, timings, err = runWithUI(cmd.Context(), cmd, cfg, fmt.Sprintf("checking %s", cfg.Root))
	} else {
		res, timings, err = runOnce(cmd.Context(), cmd, cfg)
	}
	if err != nil {
		return err
	}

	if err := writeResults(cmd.OutOrStdout(), res, out); err != nil {
		return err
	}
	if out.timings {
		printTimings(cmd.ErrOrStderr(), timings)
	}
	if res.HasErrors() {
		return errSilentExit
	}
	return nil
}

// useTUI reports whether worker progress is worth drawing: only a pool has
// per-worker events, and JSON output must stay clean.
func useTUI(mode switchMode, cfg config.Config, out outputOptions) bool {
	return cfg.Workers > 1 && out.format == "pretty" && !out.quiet && mode.enabled(os.Stdout)
}

func runOnce(ctx context.Context, cmd *cobra.Command, cfg config.Config) (diag.RunResult, observ.Report, error) {
	o, err := newOrchestrator(cmd, cfg, nil)
	if err != nil {
		return diag.RunResult{}, observ.Report{}, err
	}
	res, runErr := o.Run(ctx)
	timings := o.LastTimings()

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := o.Close(closeCtx); err != nil && runErr == nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "checkpool: shutdown: %v\n", err)
	}
	return res, timings, runErr
}

func writeResults(w io.Writer, res diag.RunResult, out outputOptions) error {
	if out.format == "json" {
		return diagfmt.JSON(w, res, out.json)
	}
	return diagfmt.Pretty(w, res, out.pretty)
}
