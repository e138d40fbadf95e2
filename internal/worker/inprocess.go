package worker

import (
	"context"
	"sync"

	"checkpool/internal/pool"
	"checkpool/internal/rpc"
)

// InProcessSpawner runs workers as goroutines over in-memory channels. It
// backs the --inprocess debug mode and tests.
type InProcessSpawner struct {
	Backends Backends
	// OnSpawn, when set, observes every started worker.
	OnSpawn func(index int, p *InProcess)
}

func (s InProcessSpawner) Spawn(ctx context.Context, index int) (pool.Process, error) {
	local, remote := rpc.Pipe()
	p := &InProcess{local: local, remote: remote, done: make(chan struct{}), code: -1}
	go func() {
		err := Serve(context.WithoutCancel(ctx), remote, s.Backends)
		p.mu.Lock()
		if !p.set {
			p.code = 0
			if err != nil {
				p.code = 1
			}
		}
		p.mu.Unlock()
		close(p.done)
	}()
	if s.OnSpawn != nil {
		s.OnSpawn(index, p)
	}
	return p, nil
}

// InProcess is a worker goroutine posing as a process.
type InProcess struct {
	local  rpc.Channel
	remote rpc.Channel
	done   chan struct{}

	mu   sync.Mutex
	code int
	set  bool
}

func (p *InProcess) Channel() rpc.Channel { return p.local }

func (p *InProcess) Wait() (int, error) {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, nil
}

// Kill terminates the worker; it exits with code -1.
func (p *InProcess) Kill() error {
	p.exit(-1)
	return nil
}

// Crash makes the worker exit with code, as a process dying mid-request
// would.
func (p *InProcess) Crash(code int) {
	p.exit(code)
}

func (p *InProcess) exit(code int) {
	p.mu.Lock()
	if !p.set {
		p.set = true
		p.code = code
	}
	p.mu.Unlock()
	_ = p.remote.Close()
}
