// Package worker is the checker process side of the pool: it owns one
// Checker and answers the orchestrator's requests over an RPC channel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"checkpool/internal/backend"
	"checkpool/internal/cancel"
	"checkpool/internal/checker"
	"checkpool/internal/protocol"
	"checkpool/internal/rpc"
	"checkpool/internal/trace"
)

// Backends creates the compiler and style engine for an initialized worker.
type Backends func(req protocol.InitRequest) (backend.Compiler, backend.StyleEngine, error)

var errNotInitialized = errors.New("worker is not initialized")

type worker struct {
	backends Backends
	cfg      protocol.WorkerConfig
	checker  *checker.Checker
	snapshot string
}

// Serve answers requests on ch until the orchestrator hangs up. Requests are
// handled one at a time, in arrival order.
func Serve(ctx context.Context, ch rpc.Channel, backends Backends) error {
	w := &worker{backends: backends}
	conn := rpc.NewConn(ch)
	conn.Handle(protocol.TypeInit, rpc.Typed(w.init))
	conn.Handle(protocol.TypeRun, rpc.Typed(w.run))
	conn.Handle(protocol.TypeChanged, rpc.Typed(w.changed))
	conn.Handle(protocol.TypeRemoved, rpc.Typed(w.removed))
	conn.Handle(protocol.TypeShutdown, rpc.Typed(w.shutdown))
	defer conn.Close()
	return conn.Serve(ctx)
}

func (w *worker) init(ctx context.Context, req protocol.InitRequest) (any, error) {
	if req.Protocol != protocol.Version {
		return nil, fmt.Errorf("protocol version %d, worker speaks %d", req.Protocol, protocol.Version)
	}
	compiler, engine, err := w.backends(req)
	if err != nil {
		return nil, fmt.Errorf("create backends: %w", err)
	}
	cfg := req.Config
	c, err := checker.New(checker.Options{
		Root:        cfg.Root,
		Include:     cfg.Include,
		Exclude:     cfg.Exclude,
		Syntactic:   cfg.Syntactic,
		Style:       cfg.Style,
		StyleConfig: cfg.StyleConfig,
		Index:       req.Index,
		Count:       req.Count,
	}, compiler, engine)
	if err != nil {
		return nil, err
	}
	w.cfg = cfg
	w.checker = c

	reply := protocol.InitReply{PID: os.Getpid()}
	if cfg.CacheDir != "" {
		w.snapshot = filepath.Join(cfg.CacheDir, fmt.Sprintf("register-%d-of-%d.mp", req.Index, req.Count))
		n, err := c.Register().Load(w.snapshot)
		if err != nil {
			// a broken snapshot only costs a cold start
			trace.Log(ctx, trace.ScopeWorker, "snapshot-ignored", err.Error())
		}
		reply.Restored = n
	}
	trace.Log(ctx, trace.ScopeWorker, "init", fmt.Sprintf("shard %d/%d root=%s", req.Index, req.Count, cfg.Root))
	return reply, nil
}

func (w *worker) run(ctx context.Context, req protocol.RunRequest) (any, error) {
	if w.checker == nil {
		return nil, errNotInitialized
	}
	tok := cancel.FromWire(req.Token, w.cfg.CancelPoll)
	ctx = trace.WithRun(ctx, tok.ID())
	res, report, err := w.checker.Run(ctx, tok)
	reply := protocol.RunReply{Token: tok.ID(), Timings: report, Parses: w.checker.Parses()}
	if err != nil {
		if errors.Is(err, cancel.ErrCancelled) {
			reply.Cancelled = true
			return reply, nil
		}
		return nil, err
	}
	reply.Result = res
	return reply, nil
}

func (w *worker) changed(_ context.Context, n protocol.ChangedNotice) (any, error) {
	if w.checker != nil {
		w.checker.Changed(n.Path, n.ModTime)
	}
	return nil, nil
}

func (w *worker) removed(_ context.Context, n protocol.RemovedNotice) (any, error) {
	if w.checker != nil {
		w.checker.Removed(n.Path)
	}
	return nil, nil
}

func (w *worker) shutdown(ctx context.Context, _ protocol.ShutdownRequest) (any, error) {
	var reply protocol.ShutdownReply
	if w.checker == nil || w.snapshot == "" {
		return reply, nil
	}
	if err := w.checker.Register().Save(w.snapshot); err != nil {
		trace.Log(ctx, trace.ScopeWorker, "snapshot-failed", err.Error())
		return reply, nil
	}
	reply.Saved = true
	return reply, nil
}

// Main runs a worker over the process's stdin and stdout and returns the
// exit code.
func Main(ctx context.Context, backends Backends) int {
	ch := rpc.NewStreamChannel(os.Stdin, os.Stdout, os.Stdout)
	if err := Serve(ctx, ch, backends); err != nil {
		fmt.Fprintf(os.Stderr, "checkpool worker: %v\n", err)
		return 1
	}
	return 0
}
