package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"checkpool/internal/cancel"
	"checkpool/internal/metrics"
	"checkpool/internal/orchestrator"
	"checkpool/internal/trace"
	"checkpool/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch [flags] [dir]",
	Short: "Re-check the project on every change",
	Long: `Watch the project and start a new run after every settled batch of
file changes. A run still in progress when the next batch arrives is
cancelled; only the newest run prints results.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	registerProjectFlags(watchCmd)
	watchCmd.Flags().Duration("debounce", 100*time.Millisecond, "quiet period before a batch of changes starts a run")
	watchCmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address (e.g. :9464)")
}

type watchSession struct {
	cmd  *cobra.Command
	o    *orchestrator.Orchestrator
	out  outputOptions
	root string

	wg      sync.WaitGroup
	printMu sync.Mutex
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	out, err := readOutputOptions(cmd, cfg)
	if err != nil {
		return err
	}
	debounce, _ := cmd.Flags().GetDuration("debounce")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	ctx := cmd.Context()
	o, err := newOrchestrator(cmd, cfg, nil)
	if err != nil {
		return err
	}
	s := &watchSession{cmd: cmd, o: o, out: out, root: cfg.Root}

	var srv *http.Server
	if metricsAddr != "" {
		srv = startMetrics(cmd, metricsAddr)
	}

	opts := watch.DefaultOptions()
	opts.Debounce = debounce
	w, err := watch.New(cfg.Root, s.onChanges, opts)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	if !out.quiet {
		fmt.Fprintf(cmd.ErrOrStderr(), "watching %s with %d worker(s)\n", cfg.Root, cfg.Workers)
	}
	s.trigger(ctx)

	<-ctx.Done()
	w.Stop()
	s.wg.Wait()

	closeCtx, cancelClose := context.WithTimeout(context.Background(), closeTimeout)
	defer cancelClose()
	if srv != nil {
		_ = srv.Shutdown(closeCtx)
	}
	return o.Close(closeCtx)
}

// onChanges forwards a settled batch to every worker and starts a new run,
// which supersedes whatever run is still going.
func (s *watchSession) onChanges(changes []watch.Change) {
	ctx := s.cmd.Context()
	for _, c := range changes {
		var err error
		switch c.Op {
		case watch.OpRemoved:
			err = s.o.Removed(c.Path)
		default:
			err = s.o.Changed(c.Path, c.ModTime)
		}
		if err != nil {
			trace.Log(ctx, trace.ScopeOrchestrator, "notify-failed", err.Error())
		}
	}
	if ctx.Err() == nil {
		s.trigger(ctx)
	}
}

func (s *watchSession) trigger(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		started := time.Now()
		res, err := s.o.Run(ctx)
		switch {
		case errors.Is(err, cancel.ErrCancelled), ctx.Err() != nil:
			return
		case err != nil:
			s.printMu.Lock()
			fmt.Fprintf(s.cmd.ErrOrStderr(), "checkpool: run failed: %v\n", err)
			s.printMu.Unlock()
			return
		}

		s.printMu.Lock()
		defer s.printMu.Unlock()
		w := s.cmd.OutOrStdout()
		if !s.out.quiet && s.out.format == "pretty" {
			fmt.Fprintf(w, "[%s] checked in %s\n", time.Now().Format("15:04:05"), time.Since(started).Round(time.Millisecond))
		}
		if err := writeResults(w, res, s.out); err != nil {
			fmt.Fprintf(s.cmd.ErrOrStderr(), "checkpool: %v\n", err)
		}
		if s.out.timings {
			printTimings(s.cmd.ErrOrStderr(), s.o.LastTimings())
		}
	}()
}

func startMetrics(cmd *cobra.Command, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(cmd.ErrOrStderr(), "checkpool: metrics server: %v\n", err)
		}
	}()
	return srv
}
