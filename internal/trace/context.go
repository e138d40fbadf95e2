package trace

import (
	"context"
	"time"
)

type tracerKey struct{}

type spanKey struct{}

type runKey struct{}

// WithTracer attaches t to ctx.
func WithTracer(ctx context.Context, t Tracer) context.Context {
	if t == nil {
		t = Nop
	}
	return context.WithValue(ctx, tracerKey{}, t)
}

// FromContext returns the tracer attached to ctx, or Nop.
func FromContext(ctx context.Context) Tracer {
	if ctx != nil {
		if t, ok := ctx.Value(tracerKey{}).(Tracer); ok {
			return t
		}
	}
	return Nop
}

// WithRun tags every event recorded under ctx with the run's token ID.
func WithRun(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runKey{}, id)
}

// RunID returns the run tag of ctx.
func RunID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runKey{}).(string)
	return id
}

func parentSpan(ctx context.Context) uint64 {
	if ctx == nil {
		return 0
	}
	id, _ := ctx.Value(spanKey{}).(uint64)
	return id
}

// Start opens a span under the span carried by ctx. The returned context
// carries the new span; when the scope is filtered out ctx is returned
// unchanged together with an inert span.
func Start(ctx context.Context, scope Scope, name string) (*Span, context.Context) {
	t := FromContext(ctx)
	if !t.Enabled() || !t.Level().ShouldEmit(scope) {
		return &Span{}, ctx
	}
	s := &Span{
		tracer:  t,
		id:      spans.Add(1),
		parent:  parentSpan(ctx),
		run:     RunID(ctx),
		scope:   scope,
		name:    name,
		started: time.Now(),
	}
	t.Emit(s.event(KindSpanBegin, s.started, ""))
	return s, context.WithValue(ctx, spanKey{}, s.id)
}

// Log records an instant event under the span and run carried by ctx.
func Log(ctx context.Context, scope Scope, name, detail string) {
	t := FromContext(ctx)
	if !t.Enabled() || !t.Level().ShouldEmit(scope) {
		return
	}
	t.Emit(&Event{
		Time:     time.Now(),
		Seq:      nextSeq(),
		Kind:     KindPoint,
		Scope:    scope,
		Run:      RunID(ctx),
		ParentID: parentSpan(ctx),
		Name:     name,
		Detail:   detail,
	})
}
