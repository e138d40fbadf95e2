// Package checker is the per-process core that produces diagnostics and
// style results for one shard of the project.
//
// A run walks Idle → Refreshing → Checking → Reporting → Idle. Between
// files, and between stages, the run polls its cancellation token; a
// cancelled run moves to Cancelled, contributes nothing and returns an error
// wrapping cancel.ErrCancelled. Unexpected failures, panics included, are
// folded into a single internal diagnostic so callers always receive a
// well-formed result.
package checker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"checkpool/internal/backend"
	"checkpool/internal/cancel"
	"checkpool/internal/diag"
	"checkpool/internal/metrics"
	"checkpool/internal/observ"
	"checkpool/internal/partition"
	"checkpool/internal/program"
	"checkpool/internal/register"
	"checkpool/internal/styleconfig"
	"checkpool/internal/trace"
)

// Options configure one checker.
type Options struct {
	Root    string
	Include []string
	Exclude []string
	// Syntactic adds syntactic diagnostics to the semantic ones.
	Syntactic bool
	Style     bool
	// StyleConfig is an override style config; empty means per-directory
	// resolution.
	StyleConfig string
	// Index and Count are this checker's shard coordinates.
	Index int
	Count int
}

// Checker owns a register and program builder and is reused across runs.
// Run calls are serialized; Changed and Removed may be called at any time.
type Checker struct {
	opts     Options
	compiler backend.Compiler
	engine   backend.StyleEngine
	reg      *register.Register
	builder  *program.Builder
	styles   *styleconfig.Resolver

	runMu sync.Mutex

	stateMu  sync.Mutex
	state    State
	observer func(from, to State)
}

// New creates a checker. engine may be nil when style checking is off.
func New(opts Options, compiler backend.Compiler, engine backend.StyleEngine) (*Checker, error) {
	if opts.Count == 0 {
		opts.Count = 1
	}
	if err := partition.Check(opts.Index, opts.Count); err != nil {
		return nil, err
	}
	if opts.Style && engine == nil {
		return nil, errors.New("style checking enabled without a style engine")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	opts.Root = root
	styles, err := styleconfig.NewResolver(root, opts.StyleConfig)
	if err != nil {
		return nil, err
	}
	reg := register.New()
	return &Checker{
		opts:     opts,
		compiler: compiler,
		engine:   engine,
		reg:      reg,
		builder:  program.NewBuilder(compiler, reg),
		styles:   styles,
	}, nil
}

// Register exposes the checker's file register.
func (c *Checker) Register() *register.Register { return c.reg }

// Parses returns how many files the checker has parsed so far.
func (c *Checker) Parses() int64 { return c.builder.Parses() }

// State returns the current run state.
func (c *Checker) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Observe installs fn to be called on every state transition.
func (c *Checker) Observe(fn func(from, to State)) {
	c.stateMu.Lock()
	c.observer = fn
	c.stateMu.Unlock()
}

func (c *Checker) setState(to State) {
	c.stateMu.Lock()
	from := c.state
	if !canTransition(from, to) {
		c.stateMu.Unlock()
		panic(fmt.Sprintf("checker: illegal transition %s -> %s", from, to))
	}
	c.state = to
	fn := c.observer
	c.stateMu.Unlock()
	if fn != nil {
		fn(from, to)
	}
}

// Run performs one check of this checker's shards. tok may be nil.
func (c *Checker) Run(ctx context.Context, tok *cancel.Token) (res diag.RunResult, report observ.Report, err error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	span, ctx := trace.Start(ctx, trace.ScopeWorker, "check")
	span.WithExtra("shard", fmt.Sprintf("%d/%d", c.opts.Index, c.opts.Count))
	timer := observ.NewTimer()

	defer func() {
		if r := recover(); r != nil {
			res = diag.RunResult{Diagnostics: []diag.Result{diag.Internal(fmt.Errorf("panic: %v", r))}}
			err = nil
			c.resetState()
			span.End("panic")
		}
		report = timer.Report()
	}()

	c.setState(StateRefreshing)
	prog, err := c.refresh(ctx, tok, timer)
	if err != nil {
		return c.finish(span, err)
	}

	c.setState(StateChecking)
	if err = c.checkpoint(ctx, tok); err != nil {
		return c.finish(span, err)
	}
	if err = c.diagnostics(ctx, tok, timer, prog, &res); err != nil {
		return c.finish(span, err)
	}
	if c.opts.Style {
		if err = c.style(ctx, tok, timer, prog, &res); err != nil {
			return c.finish(span, err)
		}
	}

	c.setState(StateReporting)
	done := timer.Track("report")
	res.Dedupe()
	done(fmt.Sprintf("%d results", res.Len()))
	c.setState(StateIdle)
	span.End("")
	return res, report, nil
}

// finish maps a failed run to its outcome: cancellation yields no result,
// anything else a single internal diagnostic.
func (c *Checker) finish(span *trace.Span, err error) (diag.RunResult, observ.Report, error) {
	if errors.Is(err, cancel.ErrCancelled) {
		c.setState(StateCancelled)
		c.setState(StateIdle)
		span.End("cancelled")
		return diag.RunResult{}, observ.Report{}, err
	}
	c.setState(StateIdle)
	span.End("internal error")
	return diag.RunResult{Diagnostics: []diag.Result{diag.Internal(err)}}, observ.Report{}, nil
}

func (c *Checker) resetState() {
	c.stateMu.Lock()
	c.state = StateIdle
	c.stateMu.Unlock()
}

func (c *Checker) checkpoint(ctx context.Context, tok *cancel.Token) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", cancel.ErrCancelled, err)
	}
	return tok.Err()
}

func (c *Checker) refresh(ctx context.Context, tok *cancel.Token, timer *observ.Timer) (backend.Program, error) {
	done := timer.Track("refresh")
	if err := c.checkpoint(ctx, tok); err != nil {
		done("cancelled")
		return nil, err
	}
	files, err := program.Discover(c.compiler, c.opts.Root, c.opts.Include, c.opts.Exclude)
	if err != nil {
		done("failed")
		return nil, err
	}

	// entries for files that left the project
	keep := make(map[string]struct{}, len(files))
	for _, f := range files {
		keep[f] = struct{}{}
	}
	for _, p := range c.reg.Paths() {
		if _, ok := keep[p]; !ok {
			c.reg.Remove(p)
		}
	}

	prog, err := c.builder.Build(ctx, files)
	if err != nil {
		done("failed")
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", cancel.ErrCancelled, err)
		}
		return nil, err
	}
	done(fmt.Sprintf("%d files", len(prog.Files())))
	return prog, c.checkpoint(ctx, tok)
}

func (c *Checker) diagnostics(ctx context.Context, tok *cancel.Token, timer *observ.Timer, prog backend.Program, res *diag.RunResult) error {
	done := timer.Track("diagnostics")
	shard := partition.Shard(prog.Files(), c.opts.Index, c.opts.Count)
	for _, path := range shard {
		if err := c.checkpoint(ctx, tok); err != nil {
			done("cancelled")
			return err
		}
		trace.Log(ctx, trace.ScopeFile, "diagnostics", path)
		raw, err := prog.Diagnostics(ctx, path, c.opts.Syntactic)
		if err != nil {
			if err = c.escalate(ctx, path, err); err != nil {
				done("failed")
				return err
			}
			continue
		}
		for _, r := range diag.NormalizeDiagnostics(raw) {
			res.Add(r)
		}
	}
	done(fmt.Sprintf("%d files", len(shard)))
	return nil
}

func (c *Checker) style(ctx context.Context, tok *cancel.Token, timer *observ.Timer, prog backend.Program, res *diag.RunResult) error {
	done := timer.Track("style")

	var universe []string
	for _, path := range prog.Files() {
		excluded, err := c.styles.Excluded(path)
		if err != nil {
			done("failed")
			return err
		}
		if !excluded {
			universe = append(universe, path)
		}
	}

	shard := partition.Shard(universe, c.opts.Index, c.opts.Count)
	linted := 0
	for _, path := range shard {
		if err := c.checkpoint(ctx, tok); err != nil {
			done("cancelled")
			return err
		}
		cfg, err := c.styles.Resolve(path)
		if err != nil {
			done("failed")
			return err
		}
		entry, ok := c.reg.Get(path)
		if ok && entry.StyleChecked && entry.StyleStamp == cfg.Stamp {
			metrics.StyleCacheHits.Inc()
			for _, r := range diag.NormalizeViolations(entry.Style) {
				res.Add(r)
			}
			continue
		}

		trace.Log(ctx, trace.ScopeFile, "style", path)
		found, err := c.engine.Check(ctx, prog, path, cfg.Rules)
		if err != nil {
			if err = c.escalate(ctx, path, err); err != nil {
				done("failed")
				return err
			}
			continue
		}
		linted++
		metrics.StyleChecks.Inc()
		c.reg.StoreStyle(path, cfg.Stamp, found)
		for _, r := range diag.NormalizeViolations(found) {
			res.Add(r)
		}
	}
	done(fmt.Sprintf("%d files, %d linted", len(shard), linted))
	return nil
}

// escalate decides whether a per-file backend error fails the run. It
// returns nil when the error is swallowed.
func (c *Checker) escalate(ctx context.Context, path string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", cancel.ErrCancelled, err)
	}
	if errors.Is(err, backend.ErrInvalidSource) {
		return nil
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
		c.reg.Remove(path)
		return nil
	}
	return fmt.Errorf("%s: %w", path, err)
}

// Changed records a watcher change notification. A changed style config
// invalidates style results of every file in its scope.
func (c *Checker) Changed(path string, mtime time.Time) {
	path = filepath.Clean(path)
	if c.styles.IsConfigFile(path) {
		c.invalidateStyle(path)
		return
	}
	c.reg.Touch(path, mtime)
}

// Removed records a watcher removal notification for a file or directory.
func (c *Checker) Removed(path string) {
	path = filepath.Clean(path)
	if c.styles.IsConfigFile(path) {
		c.invalidateStyle(path)
		return
	}
	c.reg.Remove(path)
	c.reg.RemoveUnder(path)
}

func (c *Checker) invalidateStyle(cfgPath string) {
	c.styles.Invalidate()
	scope := filepath.Dir(cfgPath)
	if c.opts.StyleConfig != "" {
		scope = c.opts.Root
	}
	c.reg.InvalidateStyleUnder(scope)
}
