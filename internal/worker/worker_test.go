package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"checkpool/internal/backend"
	"checkpool/internal/protocol"
	"checkpool/internal/rpc"
	"checkpool/internal/testkit"
)

func startWorker(t *testing.T, fake *testkit.Backend) *rpc.Conn {
	t.Helper()
	local, remote := rpc.Pipe()
	backends := func(protocol.InitRequest) (backend.Compiler, backend.StyleEngine, error) {
		return fake, fake, nil
	}
	done := make(chan struct{})
	go func() {
		_ = Serve(context.Background(), remote, backends)
		close(done)
	}()
	conn := rpc.NewConn(local)
	go func() { _ = conn.Serve(context.Background()) }()
	t.Cleanup(func() {
		_ = conn.Close()
		<-done
	})
	return conn
}

func TestRunBeforeInitFails(t *testing.T) {
	conn := startWorker(t, testkit.New())
	err := conn.Call(context.Background(), protocol.TypeRun, protocol.RunRequest{}, &protocol.RunReply{})
	var remote *rpc.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected a remote error, got %v", err)
	}
}

func TestInitRejectsOtherProtocol(t *testing.T) {
	conn := startWorker(t, testkit.New())
	req := protocol.InitRequest{Protocol: protocol.Version + 1, Count: 1}
	err := conn.Call(context.Background(), protocol.TypeInit, req, &protocol.InitReply{})
	var remote *rpc.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected a remote error, got %v", err)
	}
}

func TestSnapshotSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	a := testkit.WriteFile(t, dir, "a.ts", "style no-var bad\n", 1)
	req := protocol.InitRequest{
		Protocol: protocol.Version,
		Config: protocol.WorkerConfig{
			Root:     dir,
			Include:  []string{"**/*.ts"},
			Style:    true,
			CacheDir: filepath.Join(dir, ".cache"),
		},
		Count: 1,
	}
	ctx := context.Background()

	first := testkit.New()
	conn := startWorker(t, first)
	var initReply protocol.InitReply
	if err := conn.Call(ctx, protocol.TypeInit, req, &initReply); err != nil {
		t.Fatalf("init: %v", err)
	}
	if initReply.Restored != 0 {
		t.Fatalf("nothing to restore yet, got %d", initReply.Restored)
	}
	var run protocol.RunReply
	if err := conn.Call(ctx, protocol.TypeRun, protocol.RunRequest{}, &run); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(run.Result.StyleViolations) != 1 || first.StyleChecks(a) != 1 {
		t.Fatalf("unexpected first run: %+v checks=%d", run.Result, first.StyleChecks(a))
	}
	var shut protocol.ShutdownReply
	if err := conn.Call(ctx, protocol.TypeShutdown, protocol.ShutdownRequest{}, &shut); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !shut.Saved {
		t.Fatal("snapshot was not saved")
	}
	_ = conn.Close()

	second := testkit.New()
	conn = startWorker(t, second)
	if err := conn.Call(ctx, protocol.TypeInit, req, &initReply); err != nil {
		t.Fatalf("init: %v", err)
	}
	if initReply.Restored != 1 {
		t.Fatalf("expected 1 restored entry, got %d", initReply.Restored)
	}
	run = protocol.RunReply{}
	if err := conn.Call(ctx, protocol.TypeRun, protocol.RunRequest{}, &run); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(run.Result.StyleViolations) != 1 {
		t.Fatalf("cached style result must be reported, got %+v", run.Result)
	}
	if second.StyleChecks(a) != 0 {
		t.Fatalf("restored file must not be linted again, got %d checks", second.StyleChecks(a))
	}
}
