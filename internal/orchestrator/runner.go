package orchestrator

import (
	"context"
	"errors"
	"time"

	"checkpool/internal/cancel"
	"checkpool/internal/checker"
	"checkpool/internal/pool"
	"checkpool/internal/protocol"
)

// Runner executes runs on behalf of the orchestrator.
type Runner interface {
	// Prepare makes every worker available, respawning dead ones.
	Prepare(ctx context.Context) error
	Dispatch(ctx context.Context, tok *cancel.Token) ([]protocol.RunReply, error)
	Changed(path string, mtime time.Time) error
	Removed(path string) error
	Close(ctx context.Context) error
}

type poolRunner struct {
	p *pool.Pool
}

func (r poolRunner) Prepare(ctx context.Context) error { return r.p.Spawn(ctx) }

func (r poolRunner) Dispatch(ctx context.Context, tok *cancel.Token) ([]protocol.RunReply, error) {
	return r.p.DispatchAll(ctx, tok)
}

func (r poolRunner) Changed(path string, mtime time.Time) error {
	return r.p.Broadcast(protocol.TypeChanged, protocol.ChangedNotice{Path: path, ModTime: mtime})
}

func (r poolRunner) Removed(path string) error {
	return r.p.Broadcast(protocol.TypeRemoved, protocol.RemovedNotice{Path: path})
}

func (r poolRunner) Close(ctx context.Context) error { return r.p.Shutdown(ctx) }

// localRunner runs the single checker in the orchestrator's own process.
type localRunner struct {
	c *checker.Checker
}

func (r localRunner) Prepare(context.Context) error { return nil }

func (r localRunner) Dispatch(ctx context.Context, tok *cancel.Token) ([]protocol.RunReply, error) {
	res, report, err := r.c.Run(ctx, tok)
	reply := protocol.RunReply{Token: tok.ID(), Timings: report, Parses: r.c.Parses()}
	if err != nil {
		if !errors.Is(err, cancel.ErrCancelled) {
			return nil, err
		}
		reply.Cancelled = true
	} else {
		reply.Result = res
	}
	return []protocol.RunReply{reply}, nil
}

func (r localRunner) Changed(path string, mtime time.Time) error {
	r.c.Changed(path, mtime)
	return nil
}

func (r localRunner) Removed(path string) error {
	r.c.Removed(path)
	return nil
}

func (r localRunner) Close(context.Context) error { return nil }
