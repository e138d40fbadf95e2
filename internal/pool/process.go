package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"checkpool/internal/rpc"
)

// Process is a running worker.
type Process interface {
	// Channel is the RPC channel to the worker.
	Channel() rpc.Channel
	// Wait blocks until the worker exits and returns its exit code.
	Wait() (code int, err error)
	Kill() error
}

// Spawner starts worker processes.
type Spawner interface {
	Spawn(ctx context.Context, index int) (Process, error)
}

// ExecSpawner runs workers as child processes speaking RPC over stdin and
// stdout.
type ExecSpawner struct {
	Path string
	Args []string
	Env  []string
	// Stderr receives the workers' trace output; nil discards it.
	Stderr io.Writer
}

// EnvWorkerIndex is set for every spawned worker.
const EnvWorkerIndex = "CHECKPOOL_WORKER_INDEX"

func (s ExecSpawner) Spawn(_ context.Context, index int) (Process, error) {
	// the child outlives the ctx of the run that spawned it
	cmd := exec.Command(s.Path, s.Args...)
	cmd.Env = append(append(os.Environ(), s.Env...), EnvWorkerIndex+"="+strconv.Itoa(index))
	cmd.Stderr = s.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %d: stdin pipe: %w", index, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %d: stdout pipe: %w", index, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("worker %d: start: %w", index, err)
	}
	return &execProcess{
		cmd: cmd,
		ch:  rpc.NewStreamChannel(stdout, stdin, stdin),
	}, nil
}

type execProcess struct {
	cmd *exec.Cmd
	ch  rpc.Channel
}

func (p *execProcess) Channel() rpc.Channel { return p.ch }

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
