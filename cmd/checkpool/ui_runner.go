package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"checkpool/internal/config"
	"checkpool/internal/diag"
	"checkpool/internal/observ"
	"checkpool/internal/pool"
	"checkpool/internal/ui"
)

type runOutcome struct {
	result  diag.RunResult
	timings observ.Report
	err     error
}

// runWithUI performs one run while a Bubble Tea program draws the pool's
// progress events. The program quits once the pool is shut down.
func runWithUI(ctx context.Context, cmd *cobra.Command, cfg config.Config, title string) (diag.RunResult, observ.Report, error) {
	events := make(chan pool.Event, 256)
	o, err := newOrchestrator(cmd, cfg, pool.ChannelSink{Ch: events})
	if err != nil {
		return diag.RunResult{}, observ.Report{}, err
	}

	outcomeCh := make(chan runOutcome, 1)
	go func() {
		res, runErr := o.Run(ctx)
		timings := o.LastTimings()
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := o.Close(closeCtx); err != nil && runErr == nil {
			runErr = fmt.Errorf("shutdown: %w", err)
		}
		cancel()
		close(events)
		outcomeCh <- runOutcome{result: res, timings: timings, err: runErr}
	}()

	model := ui.NewProgressModel(title, cfg.Workers, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout), tea.WithContext(ctx))
	_, uiErr := program.Run()
	// the pool may still be reporting if the program quit early
	go func() {
		for range events {
		}
	}()
	outcome := <-outcomeCh
	if uiErr != nil && outcome.err == nil && ctx.Err() == nil {
		return outcome.result, outcome.timings, uiErr
	}
	return outcome.result, outcome.timings, outcome.err
}
