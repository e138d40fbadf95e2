// Package orchestrator turns "check now" requests into runs over a worker
// pool and hands back one merged, deduplicated result per run.
//
// Every Run takes a fresh cancellation token, which cancels the token of any
// run still in flight before the new run is dispatched. Replies tagged with a
// token that is no longer live are dropped, so the results of a run never mix
// with those of another.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"checkpool/internal/cancel"
	"checkpool/internal/checker"
	"checkpool/internal/diag"
	"checkpool/internal/metrics"
	"checkpool/internal/observ"
	"checkpool/internal/pool"
	"checkpool/internal/protocol"
	"checkpool/internal/trace"
	"checkpool/internal/worker"
)

// Options configure an orchestrator.
type Options struct {
	Config  protocol.WorkerConfig
	Workers int
	// MaxResults caps each result list; 0 keeps everything.
	MaxResults int
	// Spawner starts worker processes. When nil and Workers is 1 the checker
	// runs in-process.
	Spawner pool.Spawner
	// Backends builds the in-process checker's backends.
	Backends worker.Backends
	Sink     pool.ProgressSink
	// MarkerDir holds cancellation marker files; empty means a fresh
	// temporary directory.
	MarkerDir string
}

// Orchestrator is the caller-facing entry point.
type Orchestrator struct {
	runner     Runner
	tokens     *cancel.Source
	maxResults int
	markerDir  string
	ownsDir    bool

	mu   sync.Mutex
	last observ.Report
}

// New creates an orchestrator. Workers are spawned lazily by the first Run.
func New(opts Options) (*Orchestrator, error) {
	if opts.Workers < 1 {
		return nil, fmt.Errorf("workers must be >= 1, got %d", opts.Workers)
	}
	o := &Orchestrator{maxResults: opts.MaxResults}

	if opts.Workers == 1 && opts.Spawner == nil {
		if opts.Backends == nil {
			return nil, errors.New("in-process checking needs backends")
		}
		runner, err := newLocalRunner(opts)
		if err != nil {
			return nil, err
		}
		o.runner = runner
		o.tokens = cancel.NewSource("", 0)
		return o, nil
	}

	if opts.Spawner == nil {
		return nil, errors.New("a pool of workers needs a spawner")
	}
	dir := opts.MarkerDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "checkpool-")
		if err != nil {
			return nil, fmt.Errorf("create marker dir: %w", err)
		}
		dir = tmp
		o.ownsDir = true
	}
	o.markerDir = dir
	p, err := pool.New(pool.Options{
		Size:    opts.Workers,
		Config:  opts.Config,
		Spawner: opts.Spawner,
		Sink:    opts.Sink,
	})
	if err != nil {
		return nil, err
	}
	o.runner = poolRunner{p: p}
	o.tokens = cancel.NewSource(dir, opts.Config.CancelPoll)
	return o, nil
}

func newLocalRunner(opts Options) (localRunner, error) {
	req := protocol.InitRequest{Protocol: protocol.Version, Config: opts.Config, Index: 0, Count: 1}
	compiler, engine, err := opts.Backends(req)
	if err != nil {
		return localRunner{}, fmt.Errorf("create backends: %w", err)
	}
	cfg := opts.Config
	c, err := checker.New(checker.Options{
		Root:        cfg.Root,
		Include:     cfg.Include,
		Exclude:     cfg.Exclude,
		Syntactic:   cfg.Syntactic,
		Style:       cfg.Style,
		StyleConfig: cfg.StyleConfig,
		Index:       0,
		Count:       1,
	}, compiler, engine)
	if err != nil {
		return localRunner{}, err
	}
	return localRunner{c: c}, nil
}

// NewWithRunner creates an orchestrator over a custom runner.
func NewWithRunner(r Runner, maxResults int) *Orchestrator {
	return &Orchestrator{runner: r, tokens: cancel.NewSource("", 0), maxResults: maxResults}
}

// Run performs one check. Starting another Run before this one returns
// cancels this one, which then fails with an error wrapping
// cancel.ErrCancelled.
func (o *Orchestrator) Run(ctx context.Context) (diag.RunResult, error) {
	tok := o.tokens.Next()
	defer o.tokens.Release(tok)

	metrics.RunsStarted.Inc()
	started := time.Now()
	ctx = trace.WithRun(ctx, tok.ID())
	span, ctx := trace.Start(ctx, trace.ScopeRun, "run")

	res, err := o.run(ctx, tok)
	switch {
	case err == nil:
		metrics.RunsFinished.WithLabelValues(metrics.OutcomeCompleted).Inc()
		metrics.RunDuration.Observe(time.Since(started).Seconds())
		span.WithExtra("results", fmt.Sprint(res.Len())).End("")
	case errors.Is(err, cancel.ErrCancelled):
		metrics.RunsFinished.WithLabelValues(metrics.OutcomeCancelled).Inc()
		span.End("cancelled")
	default:
		metrics.RunsFinished.WithLabelValues(metrics.OutcomeFailed).Inc()
		span.End(err.Error())
	}
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, tok *cancel.Token) (diag.RunResult, error) {
	if err := o.runner.Prepare(ctx); err != nil {
		return diag.RunResult{}, fmt.Errorf("prepare workers: %w", err)
	}
	if !o.tokens.IsLive(tok.ID()) {
		return diag.RunResult{}, fmt.Errorf("%w: superseded before dispatch", cancel.ErrCancelled)
	}

	replies, err := o.runner.Dispatch(ctx, tok)
	if err != nil {
		if !errors.Is(err, pool.ErrWorkerExited) && !o.tokens.IsLive(tok.ID()) {
			return diag.RunResult{}, fmt.Errorf("%w: %w", cancel.ErrCancelled, err)
		}
		return diag.RunResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return diag.RunResult{}, fmt.Errorf("%w: %w", cancel.ErrCancelled, err)
	}

	var (
		merged  diag.RunResult
		reports = make([]observ.Report, 0, len(replies))
		labels  = make([]string, 0, len(replies))
	)
	for i, reply := range replies {
		if reply.Cancelled || reply.Token != tok.ID() || !o.tokens.IsLive(reply.Token) {
			metrics.DiscardedReplies.Inc()
			return diag.RunResult{}, fmt.Errorf("%w: superseded", cancel.ErrCancelled)
		}
		merged.Merge(reply.Result)
		reports = append(reports, reply.Timings)
		for _, p := range reply.Timings.Phases {
			metrics.PhaseDuration.WithLabelValues(p.Name).Observe(p.Duration().Seconds())
		}
		labels = append(labels, fmt.Sprintf("w%d", i))
	}
	merged.Dedupe()
	merged.Truncate(o.maxResults)

	o.mu.Lock()
	o.last = observ.Combine(labels, reports)
	o.mu.Unlock()
	return merged, nil
}

// LastTimings returns the per-worker phase timings of the last completed run.
func (o *Orchestrator) LastTimings() observ.Report {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Changed forwards a watcher change notification to every worker.
func (o *Orchestrator) Changed(path string, mtime time.Time) error {
	return o.runner.Changed(path, mtime)
}

// Removed forwards a watcher removal notification to every worker.
func (o *Orchestrator) Removed(path string) error {
	return o.runner.Removed(path)
}

// Close cancels any run in flight and shuts the workers down.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.tokens.Close()
	err := o.runner.Close(ctx)
	if o.ownsDir {
		_ = os.RemoveAll(o.markerDir)
	}
	return err
}
