// Package trace is the logging and tracing layer shared by the orchestrator
// and its worker processes.
//
// Every event names the process that emitted it ("orch", "w0", "w1", ...)
// and, once a run has started, the run's token ID, so the interleaved
// stderr of a pool can be read as one story. Workers never trace to stdout:
// it carries their RPC frames.
//
//	checkpool check --workers 4 --trace - --trace-level detail
//
// Tracers:
//
//   - Nop: the default, nothing is recorded
//   - StreamTracer: writes each event as it happens
//   - RingTracer: keeps the last N events and writes them out on Close
//
// Scopes, coarse to fine: ScopeOrchestrator (pool lifecycle, commands),
// ScopeRun (one check run), ScopeWorker (request handling inside a worker),
// ScopeFile (per-file parse and check).
//
// Typical use:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	ctx = trace.WithRun(ctx, tok.ID())
//	span, ctx := trace.Start(ctx, trace.ScopeRun, "run")
//	defer span.End("")
//	trace.Log(ctx, trace.ScopeFile, "parse", path)
package trace
