package pool_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"checkpool/internal/backend"
	"checkpool/internal/cancel"
	"checkpool/internal/pool"
	"checkpool/internal/protocol"
	"checkpool/internal/rpc"
	"checkpool/internal/testkit"
	"checkpool/internal/worker"
)

type harness struct {
	mu    sync.Mutex
	procs map[int][]*worker.InProcess
	fakes map[int]*testkit.Backend
	setup func(index int, fake *testkit.Backend, h *harness)
}

func (h *harness) latest(index int) *worker.InProcess {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.procs[index]
	return list[len(list)-1]
}

func (h *harness) spawns(index int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.procs[index])
}

func newPool(t *testing.T, root string, size int, setup func(int, *testkit.Backend, *harness)) (*pool.Pool, *harness) {
	t.Helper()
	h := &harness{
		procs: make(map[int][]*worker.InProcess),
		fakes: make(map[int]*testkit.Backend),
		setup: setup,
	}
	spawner := worker.InProcessSpawner{
		Backends: func(req protocol.InitRequest) (backend.Compiler, backend.StyleEngine, error) {
			fake := testkit.New()
			if h.setup != nil {
				h.setup(req.Index, fake, h)
			}
			h.mu.Lock()
			h.fakes[req.Index] = fake
			h.mu.Unlock()
			return fake, fake, nil
		},
		OnSpawn: func(index int, p *worker.InProcess) {
			h.mu.Lock()
			h.procs[index] = append(h.procs[index], p)
			h.mu.Unlock()
		},
	}
	p, err := pool.New(pool.Options{
		Size: size,
		Config: protocol.WorkerConfig{
			Root:    root,
			Include: []string{"**/*.ts"},
			Style:   true,
		},
		Spawner: spawner,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p, h
}

func TestDispatchAll_MergesShards(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.ts", "b.ts", "c.ts"} {
		testkit.WriteFile(t, root, name, "error 2322 bad\n", 1)
	}
	p, _ := newPool(t, root, 2, nil)
	ctx := context.Background()
	if err := p.Spawn(ctx); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	tokens := cancel.NewSource("", 0)
	replies, err := p.DispatchAll(ctx, tokens.Next())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(replies) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(replies))
	}
	if n := len(replies[0].Result.Diagnostics); n != 2 {
		t.Fatalf("shard 0 owns a.ts and c.ts, got %d results", n)
	}
	if n := len(replies[1].Result.Diagnostics); n != 1 {
		t.Fatalf("shard 1 owns b.ts, got %d results", n)
	}
}

func TestDispatchAll_WorkerExitIsFatal(t *testing.T) {
	root := t.TempDir()
	testkit.WriteFile(t, root, "a.ts", "error 1 a\n", 1)
	testkit.WriteFile(t, root, "b.ts", "error 1 b\n", 1)

	crash := true
	p, h := newPool(t, root, 2, func(index int, fake *testkit.Backend, h *harness) {
		if index != 1 || !crash {
			return
		}
		fake.BeforeDiagnostics = func(context.Context, string) { h.latest(1).Crash(3) }
	})
	ctx := context.Background()
	if err := p.Spawn(ctx); err != nil {
		t.Fatal(err)
	}
	tokens := cancel.NewSource("", 0)
	replies, err := p.DispatchAll(ctx, tokens.Next())
	if !errors.Is(err, pool.ErrWorkerExited) {
		t.Fatalf("expected worker exit, got %v", err)
	}
	var exitErr *pool.ExitError
	if !errors.As(err, &exitErr) || exitErr.Index != 1 || exitErr.Code != 3 {
		t.Fatalf("unexpected exit error %#v", err)
	}
	if replies != nil {
		t.Fatal("a failed dispatch returns no partial replies")
	}

	// not retried within the run; the next run needs a respawn
	if _, err := p.DispatchAll(ctx, tokens.Next()); !errors.Is(err, pool.ErrWorkerExited) {
		t.Fatalf("dead worker must be reported until respawned, got %v", err)
	}
	crash = false
	if err := p.Spawn(ctx); err != nil {
		t.Fatalf("respawn: %v", err)
	}
	if h.spawns(0) != 1 || h.spawns(1) != 2 {
		t.Fatalf("only the dead worker is respawned: w0=%d w1=%d", h.spawns(0), h.spawns(1))
	}
	replies, err = p.DispatchAll(ctx, tokens.Next())
	if err != nil || len(replies) != 2 {
		t.Fatalf("run after respawn: %v", err)
	}
}

func TestDispatchAll_CancelledReply(t *testing.T) {
	root := t.TempDir()
	testkit.WriteFile(t, root, "a.ts", "error 1 a\n", 1)
	testkit.WriteFile(t, root, "b.ts", "error 1 b\n", 1)

	tokens := cancel.NewSource(t.TempDir(), time.Millisecond)
	var first *cancel.Token
	p, _ := newPool(t, root, 1, func(_ int, fake *testkit.Backend, _ *harness) {
		fake.BeforeDiagnostics = func(context.Context, string) {
			if first != nil {
				first.Cancel()
			}
		}
	})
	ctx := context.Background()
	if err := p.Spawn(ctx); err != nil {
		t.Fatal(err)
	}
	first = tokens.Next()
	replies, err := p.DispatchAll(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	if !replies[0].Cancelled || replies[0].Result.Len() != 0 {
		t.Fatalf("worker must report the cancellation it observed through the marker: %+v", replies[0])
	}
	if replies[0].Token != first.ID() {
		t.Fatalf("reply tagged with %q, want %q", replies[0].Token, first.ID())
	}
}

func TestBroadcastAndShutdown(t *testing.T) {
	root := t.TempDir()
	testkit.WriteFile(t, root, "a.ts", "\n", 1)
	p, _ := newPool(t, root, 2, nil)
	ctx := context.Background()
	if err := p.Spawn(ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.Broadcast(protocol.TypeRemoved, protocol.RemovedNotice{Path: root + "/a.ts"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.Spawn(ctx); !errors.Is(err, pool.ErrPoolClosed) {
		t.Fatalf("spawn after shutdown: %v", err)
	}
	if _, err := p.DispatchAll(ctx, cancel.NewSource("", 0).Next()); !errors.Is(err, pool.ErrPoolClosed) {
		t.Fatalf("dispatch after shutdown: %v", err)
	}
}

func TestPoolsAreIndependent(t *testing.T) {
	root := t.TempDir()
	testkit.WriteFile(t, root, "a.ts", "error 5 x\n", 1)
	a, _ := newPool(t, root, 1, nil)
	b, _ := newPool(t, root, 1, nil)
	ctx := context.Background()
	for _, p := range []*pool.Pool{a, b} {
		if err := p.Spawn(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	replies, err := b.DispatchAll(ctx, cancel.NewSource("", 0).Next())
	if err != nil || len(replies[0].Result.Diagnostics) != 1 {
		t.Fatalf("shutting down one pool must not affect another: %v", err)
	}
}

func TestNew_Validates(t *testing.T) {
	if _, err := pool.New(pool.Options{Size: 0, Spawner: worker.InProcessSpawner{}}); err == nil {
		t.Fatal("size 0 must be rejected")
	}
	if _, err := pool.New(pool.Options{Size: 1}); err == nil {
		t.Fatal("missing spawner must be rejected")
	}
}

// stubbornProc keeps running after its channel breaks, until it is killed.
type stubbornProc struct {
	local, remote rpc.Channel
	killed        chan struct{}
	once          sync.Once
}

func (p *stubbornProc) Channel() rpc.Channel { return p.local }

func (p *stubbornProc) Wait() (int, error) {
	<-p.killed
	return -1, nil
}

func (p *stubbornProc) Kill() error {
	p.once.Do(func() { close(p.killed) })
	return nil
}

type stubbornSpawner struct {
	mu    sync.Mutex
	procs []*stubbornProc
}

func (s *stubbornSpawner) Spawn(ctx context.Context, _ int) (pool.Process, error) {
	local, remote := rpc.Pipe()
	srv := rpc.NewConn(remote)
	srv.Handle(protocol.TypeInit, rpc.Typed(func(context.Context, protocol.InitRequest) (any, error) {
		return protocol.InitReply{}, nil
	}))
	srv.Handle(protocol.TypeRun, rpc.Typed(func(context.Context, protocol.RunRequest) (any, error) {
		return protocol.RunReply{}, nil
	}))
	go func() { _ = srv.Serve(context.WithoutCancel(ctx)) }()
	p := &stubbornProc{local: local, remote: remote, killed: make(chan struct{})}
	s.mu.Lock()
	s.procs = append(s.procs, p)
	s.mu.Unlock()
	return p, nil
}

func (s *stubbornSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func (s *stubbornSpawner) proc(i int) *stubbornProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[i]
}

func TestSpawn_ReplacesMemberWithBrokenChannel(t *testing.T) {
	spawner := &stubbornSpawner{}
	p, err := pool.New(pool.Options{Size: 1, Spawner: spawner})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	ctx := context.Background()
	if err := p.Spawn(ctx); err != nil {
		t.Fatal(err)
	}

	// an undecodable envelope shuts the orchestrator's side of the channel
	if err := spawner.proc(0).remote.Send([]byte{0xc1}); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for spawner.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("worker with a closed channel was not respawned")
		}
		if err := p.Spawn(ctx); err != nil {
			t.Fatalf("respawn: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	select {
	case <-spawner.proc(0).killed:
	default:
		t.Fatal("old worker process must be killed before it is replaced")
	}
	if _, err := p.DispatchAll(ctx, cancel.NewSource("", 0).Next()); err != nil {
		t.Fatalf("dispatch after respawn: %v", err)
	}
}

func TestDispatchAll_BrokenChannelIsFatal(t *testing.T) {
	spawner := &stubbornSpawner{}
	p, err := pool.New(pool.Options{Size: 1, Spawner: spawner})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	ctx := context.Background()
	if err := p.Spawn(ctx); err != nil {
		t.Fatal(err)
	}
	if err := spawner.proc(0).remote.Send([]byte{0xc1}); err != nil {
		t.Fatalf("send: %v", err)
	}

	// the channel may close after the first dispatch starts; every outcome
	// once it has closed must be a worker exit
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, err := p.DispatchAll(ctx, cancel.NewSource("", 0).Next())
		if err != nil {
			if !errors.Is(err, pool.ErrWorkerExited) {
				t.Fatalf("expected a worker exit, got %v", err)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("dispatch kept succeeding on a closed channel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
