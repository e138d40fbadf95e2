package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelShouldEmit(t *testing.T) {
	if LevelOff.ShouldEmit(ScopeOrchestrator) {
		t.Fatal("off level emits nothing")
	}
	if !LevelError.ShouldEmit(ScopeOrchestrator) || LevelError.ShouldEmit(ScopeRun) {
		t.Fatal("error level keeps orchestrator events only")
	}
	if LevelPhase.ShouldEmit(ScopeWorker) {
		t.Fatal("phase level must not emit worker events")
	}
	if !LevelDetail.ShouldEmit(ScopeWorker) || LevelDetail.ShouldEmit(ScopeFile) {
		t.Fatal("detail level must stop at worker scope")
	}
	if !LevelDebug.ShouldEmit(ScopeFile) {
		t.Fatal("debug level emits everything")
	}
}

func TestParseLevel(t *testing.T) {
	if l, err := ParseLevel("DETAIL"); err != nil || l != LevelDetail {
		t.Fatalf("got %v, %v", l, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestStart_NestsUnderContextSpanAndRun(t *testing.T) {
	ring := NewRingTracer(16, LevelDebug)
	ctx := WithRun(WithTracer(context.Background(), ring), "tok-1")

	outer, ctx := Start(ctx, ScopeRun, "run")
	inner, ictx := Start(ctx, ScopeWorker, "refresh")
	Log(ictx, ScopeFile, "parse", "a.ts")
	inner.End("")
	outer.End("ok")
	outer.End("again")

	events := ring.Snapshot()
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	if events[1].ParentID != outer.ID() || events[2].ParentID != inner.ID() {
		t.Fatalf("unexpected parents: %d %d", events[1].ParentID, events[2].ParentID)
	}
	for _, ev := range events {
		if ev.Run != "tok-1" {
			t.Fatalf("event %s lost its run tag", ev.Name)
		}
	}
	if events[4].Detail != "ok" {
		t.Fatalf("unexpected end detail %q", events[4].Detail)
	}
}

func TestStart_FilteredScopeKeepsContext(t *testing.T) {
	ctx := context.Background()
	span, got := Start(ctx, ScopeRun, "run")
	if span.ID() != 0 || got != ctx {
		t.Fatal("disabled tracing must not open spans")
	}
	span.WithExtra("k", "v").End("")

	ring := NewRingTracer(4, LevelPhase)
	ctx = WithTracer(ctx, ring)
	span, got = Start(ctx, ScopeFile, "parse")
	if span.ID() != 0 || got != ctx {
		t.Fatal("filtered scope must not open a span")
	}
	if len(ring.Snapshot()) != 0 {
		t.Fatal("filtered scope must not emit")
	}
}

func TestStreamTracer_NDJSON(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelDetail, FormatNDJSON)
	tr.proc = "w1"
	ctx := WithRun(WithTracer(context.Background(), tr), "abc")
	Log(ctx, ScopeWorker, "init", "shard 1/2")
	Log(ctx, ScopeFile, "parse", "a.ts")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if got["scope"] != "worker" || got["name"] != "init" || got["detail"] != "shard 1/2" ||
		got["proc"] != "w1" || got["run"] != "abc" {
		t.Fatalf("unexpected event: %v", got)
	}
}

func TestStreamTracer_TextSortsExtra(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelPhase, FormatText)
	span, _ := Start(WithTracer(context.Background(), tr), ScopeRun, "run")
	span.WithExtra("b", "2").WithExtra("a", "1").End("")

	out := buf.String()
	if !strings.Contains(out, "← run:run {a=1, b=2}") {
		t.Fatalf("unexpected text output:\n%s", out)
	}
}

func TestRingTracer_KeepsTailAndDumpsOnClose(t *testing.T) {
	var buf bytes.Buffer
	tr, err := New(Config{Level: LevelDebug, Mode: ModeRing, RingSize: 2, Output: &buf, Format: FormatText, Proc: "orch"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := WithTracer(context.Background(), tr)
	for _, name := range []string{"a", "b", "c"} {
		Log(ctx, ScopeRun, name, "")
	}
	if buf.Len() != 0 {
		t.Fatal("ring mode must not write before Close")
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, "run:a") || !strings.Contains(out, "run:b") || !strings.Contains(out, "run:c") {
		t.Fatalf("expected the last two events:\n%s", out)
	}
	if !strings.Contains(out, " orch ") {
		t.Fatalf("process column missing:\n%s", out)
	}
}

func TestNewOffIsNop(t *testing.T) {
	tr, err := New(Config{Level: LevelOff})
	if err != nil {
		t.Fatal(err)
	}
	if tr.Enabled() {
		t.Fatal("off level must produce a disabled tracer")
	}
}

func TestHeartbeatStopIsIdempotent(t *testing.T) {
	stop := StartHeartbeat(Nop, 0)
	stop()
	ring := NewRingTracer(8, LevelError)
	stop = StartHeartbeat(ring, 1)
	stop()
	stop()
}
