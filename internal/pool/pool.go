// Package pool runs N long-lived checker workers and fans runs out to them.
//
// A Pool is an owned value: any number of pools may coexist, each with its
// own members. Only the pool spawns and kills its workers. A worker that dies
// surfaces as an *ExitError (matching ErrWorkerExited) and fails the run in
// flight; it is respawned by the next Spawn, never within the same run.
package pool

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"checkpool/internal/cancel"
	"checkpool/internal/metrics"
	"checkpool/internal/protocol"
	"checkpool/internal/rpc"
	"checkpool/internal/trace"
)

var (
	// ErrWorkerExited is matched by every *ExitError.
	ErrWorkerExited = errors.New("worker exited")
	// ErrPoolClosed is returned by operations on a pool after Shutdown.
	ErrPoolClosed = errors.New("pool is shut down")
)

// ExitError reports a worker process that terminated.
type ExitError struct {
	Index int
	Code  int
	Err   error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker %d exited with code %d: %v", e.Index, e.Code, e.Err)
	}
	return fmt.Sprintf("worker %d exited with code %d", e.Index, e.Code)
}

func (e *ExitError) Is(target error) bool { return target == ErrWorkerExited }

func (e *ExitError) Unwrap() error { return e.Err }

// exitGrace bounds how long a call that lost its channel waits for the
// process exit status.
const exitGrace = 2 * time.Second

// shutdownGrace bounds how long a worker may take to persist its state.
const shutdownGrace = 5 * time.Second

// Options configure a pool.
type Options struct {
	Size    int
	Config  protocol.WorkerConfig
	Spawner Spawner
	Sink    ProgressSink
}

// Pool owns its workers.
type Pool struct {
	size    int
	config  protocol.WorkerConfig
	spawner Spawner
	sink    ProgressSink

	mu      sync.Mutex
	members []*member
	closed  bool
}

type member struct {
	index int
	proc  Process
	conn  *rpc.Conn

	exited  chan struct{}
	exitErr *ExitError
	// set before Kill so the exit is not counted as a crash
	stopping atomic.Bool
}

// alive reports whether m can take requests: its process is running and
// its channel is open.
func (m *member) alive() bool {
	if m.hasExited() {
		return false
	}
	select {
	case <-m.conn.Done():
		return false
	default:
		return true
	}
}

func (m *member) hasExited() bool {
	select {
	case <-m.exited:
		return true
	default:
		return false
	}
}

// failure describes why m is not alive. A closed channel on a running
// process counts as an exit with code -1.
func (m *member) failure() error {
	if m.hasExited() {
		return m.exitErr
	}
	err := rpc.ErrClosed
	if cerr := m.conn.Err(); cerr != nil {
		err = fmt.Errorf("%w: %w", rpc.ErrClosed, cerr)
	}
	return &ExitError{Index: m.index, Code: -1, Err: err}
}

// New creates a pool. Workers are started by Spawn.
func New(opts Options) (*Pool, error) {
	if opts.Size < 1 {
		return nil, fmt.Errorf("pool size must be >= 1, got %d", opts.Size)
	}
	if opts.Spawner == nil {
		return nil, errors.New("pool needs a spawner")
	}
	sink := opts.Sink
	if sink == nil {
		sink = nopSink{}
	}
	return &Pool{
		size:    opts.Size,
		config:  opts.Config,
		spawner: opts.Spawner,
		sink:    sink,
		members: make([]*member, opts.Size),
	}, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Spawn starts every worker that is not running: on first use, and for
// members that died or lost their channel since. A member whose process
// outlived its channel is killed before it is replaced. Spawn must succeed
// before a run is dispatched.
func (p *Pool) Spawn(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range p.members {
		if m != nil && m.alive() {
			continue
		}
		g.Go(func() error {
			if m != nil {
				p.stop(m)
			}
			nm, err := p.start(gctx, i)
			if err != nil {
				return err
			}
			p.members[i] = nm
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) start(ctx context.Context, index int) (*member, error) {
	started := time.Now()
	p.sink.OnEvent(Event{Worker: index, Stage: StageSpawn, Status: StatusWorking})
	proc, err := p.spawner.Spawn(ctx, index)
	if err != nil {
		p.sink.OnEvent(Event{Worker: index, Stage: StageSpawn, Status: StatusError, Err: err})
		return nil, err
	}
	m := &member{
		index:  index,
		proc:   proc,
		conn:   rpc.NewConn(proc.Channel()),
		exited: make(chan struct{}),
	}
	go func() {
		// a reply-only connection: workers never call the orchestrator
		_ = m.conn.Serve(context.Background())
	}()
	go p.watch(context.WithoutCancel(ctx), m)

	var reply protocol.InitReply
	req := protocol.InitRequest{Protocol: protocol.Version, Config: p.config, Index: index, Count: p.size}
	if err := p.call(ctx, m, protocol.TypeInit, req, &reply); err != nil {
		p.stop(m)
		p.sink.OnEvent(Event{Worker: index, Stage: StageSpawn, Status: StatusError, Err: err})
		return nil, fmt.Errorf("worker %d: init: %w", index, err)
	}
	trace.Log(ctx, trace.ScopeOrchestrator, "worker-ready",
		fmt.Sprintf("index=%d pid=%d restored=%d", index, reply.PID, reply.Restored))
	p.sink.OnEvent(Event{Worker: index, Stage: StageSpawn, Status: StatusDone, Elapsed: time.Since(started)})
	return m, nil
}

func (p *Pool) watch(ctx context.Context, m *member) {
	code, err := m.proc.Wait()
	expected := m.stopping.Load()
	m.exitErr = &ExitError{Index: m.index, Code: code, Err: err}
	close(m.exited)
	_ = m.conn.Close()

	metrics.WorkerExits.WithLabelValues(strconv.FormatBool(expected)).Inc()
	if !expected {
		trace.Log(ctx, trace.ScopeOrchestrator, "worker-exit", m.exitErr.Error())
	}
}

// call performs one request against m. A lost channel is reported as the
// member's exit.
func (p *Pool) call(ctx context.Context, m *member, typ string, req, resp any) error {
	err := m.conn.Call(ctx, typ, req, resp)
	if err == nil || !errors.Is(err, rpc.ErrClosed) {
		return err
	}
	select {
	case <-m.exited:
		return m.exitErr
	case <-time.After(exitGrace):
		return &ExitError{Index: m.index, Code: -1, Err: err}
	}
}

// DispatchAll sends RUN(tok) to every worker concurrently and waits for all
// replies. The first failure cancels the others and fails the whole dispatch;
// no partial replies are returned.
func (p *Pool) DispatchAll(ctx context.Context, tok *cancel.Token) ([]protocol.RunReply, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	members := make([]*member, len(p.members))
	copy(members, p.members)
	p.mu.Unlock()

	for i, m := range members {
		if m == nil {
			return nil, fmt.Errorf("worker %d is not running", i)
		}
		if !m.alive() {
			return nil, m.failure()
		}
	}

	replies := make([]protocol.RunReply, len(members))
	req := protocol.RunRequest{Token: tok.Wire()}
	for _, m := range members {
		p.sink.OnEvent(Event{Worker: m.index, Stage: StageRun, Status: StatusQueued})
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range members {
		g.Go(func() error {
			started := time.Now()
			p.sink.OnEvent(Event{Worker: m.index, Stage: StageRun, Status: StatusWorking})
			if err := p.call(gctx, m, protocol.TypeRun, req, &replies[i]); err != nil {
				p.sink.OnEvent(Event{Worker: m.index, Stage: StageRun, Status: StatusError, Err: err, Elapsed: time.Since(started)})
				return err
			}
			status := StatusDone
			if replies[i].Cancelled {
				status = StatusCancelled
			}
			p.sink.OnEvent(Event{
				Worker:  m.index,
				Stage:   StageRun,
				Status:  status,
				Elapsed: time.Since(started),
				Results: replies[i].Result.Len(),
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return replies, nil
}

// Broadcast notifies every running worker. Workers that are down are skipped;
// they rebuild their state from disk when respawned.
func (p *Pool) Broadcast(typ string, msg any) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	members := make([]*member, 0, len(p.members))
	for _, m := range p.members {
		if m != nil && m.alive() {
			members = append(members, m)
		}
	}
	p.mu.Unlock()

	var errs []error
	for _, m := range members {
		if err := m.conn.Notify(typ, msg); err != nil && !errors.Is(err, rpc.ErrClosed) {
			errs = append(errs, fmt.Errorf("worker %d: %w", m.index, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown asks every worker to persist its state, then kills it. It is safe
// to call more than once.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	members := make([]*member, 0, len(p.members))
	for _, m := range p.members {
		if m != nil {
			members = append(members, m)
		}
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, m := range members {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.sink.OnEvent(Event{Worker: m.index, Stage: StageShutdown, Status: StatusWorking})
			if m.alive() {
				cctx, cancel := context.WithTimeout(ctx, shutdownGrace)
				var reply protocol.ShutdownReply
				_ = m.conn.Call(cctx, protocol.TypeShutdown, protocol.ShutdownRequest{}, &reply)
				cancel()
			}
			p.stop(m)
			p.sink.OnEvent(Event{Worker: m.index, Stage: StageShutdown, Status: StatusDone})
		}()
	}
	wg.Wait()
	return nil
}

func (p *Pool) stop(m *member) {
	m.stopping.Store(true)
	_ = m.conn.Close()
	if !m.hasExited() {
		_ = m.proc.Kill()
	}
	<-m.exited
}
