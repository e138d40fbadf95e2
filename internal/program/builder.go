// Package program builds the whole-project model through the compiler
// backend, serving unchanged files from the file register.
package program

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync/atomic"

	"checkpool/internal/backend"
	"checkpool/internal/metrics"
	"checkpool/internal/register"
	"checkpool/internal/trace"
)

// Builder owns the previous program and feeds it to the backend's incremental
// entry point on every Build.
type Builder struct {
	compiler backend.Compiler
	reg      *register.Register

	prev   backend.Program
	parses atomic.Int64
	hits   atomic.Int64
}

// NewBuilder creates a builder over reg.
func NewBuilder(c backend.Compiler, reg *register.Register) *Builder {
	return &Builder{compiler: c, reg: reg}
}

// Build produces a program for files. Files that vanished since discovery
// are removed from the register and silently drop out of the program.
func (b *Builder) Build(ctx context.Context, files []string) (backend.Program, error) {
	span, ctx := trace.Start(ctx, trace.ScopeWorker, "build-program")
	before := b.parses.Load()

	h := &host{ctx: ctx, b: b}
	prog, err := b.compiler.BuildProgram(ctx, files, h, b.prev)
	if err != nil {
		span.End("failed")
		return nil, err
	}
	b.prev = prog

	span.WithExtra("files", fmt.Sprint(len(prog.Files()))).
		WithExtra("parsed", fmt.Sprint(b.parses.Load()-before)).
		End("")
	return prog, nil
}

// Parses returns how many files this builder has parsed.
func (b *Builder) Parses() int64 {
	return b.parses.Load()
}

// Hits returns how many parsed handles were served from the register.
func (b *Builder) Hits() int64 {
	return b.hits.Load()
}

// host is handed to the backend for one Build. It is safe for concurrent use.
type host struct {
	ctx context.Context
	b   *Builder
}

func (h *host) SourceFile(path string) (backend.Handle, bool, error) {
	reg := h.b.reg

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			reg.Remove(path)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("stat %s: %w", path, err)
	}
	mtime := info.ModTime()
	reg.Touch(path, mtime)

	if parsed, ok := reg.Parsed(path); ok {
		h.b.hits.Add(1)
		metrics.RegisterHits.Inc()
		return parsed, true, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			reg.Remove(path)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}

	parsed, err := h.b.compiler.Parse(path, content)
	h.b.parses.Add(1)
	metrics.FilesParsed.Inc()
	if err != nil {
		if errors.Is(err, backend.ErrInvalidSource) {
			trace.Log(h.ctx, trace.ScopeFile, "skip", path)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("parse %s: %w", path, err)
	}
	trace.Log(h.ctx, trace.ScopeFile, "parse", path)
	reg.SetParsed(path, mtime, parsed)
	return parsed, true, nil
}
