// Package testkit provides a scriptable in-memory backend for tests.
//
// Source files are written in a tiny line language; each non-empty line is one
// directive, the line index is the reported position:
//
//	error <code> <message>    semantic error
//	warn <code> <message>     semantic warning
//	hint <code> <message>     suggestion (dropped by normalization)
//	syntax <code> <message>   syntactic error, reported only when asked for
//	global <code> <message>   error without a file, as for project options
//	style <rule> <message>    style violation
//	boom <message>            Diagnostics returns a plain error
//	panic <message>           Diagnostics panics
//	invalid                   Parse fails with backend.ErrInvalidSource
//
// Anything else is ignored.
package testkit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"checkpool/internal/backend"
)

// File is the parsed handle produced by Backend.
type File struct {
	Path  string
	Lines []string
}

type line struct {
	verb string
	code string
	msg  string
}

func (f *File) line(i int) line {
	fields := strings.SplitN(strings.TrimSpace(f.Lines[i]), " ", 3)
	var l line
	if len(fields) > 0 {
		l.verb = fields[0]
	}
	if len(fields) > 1 {
		l.code = fields[1]
	}
	if len(fields) > 2 {
		l.msg = fields[2]
	}
	return l
}

// Backend implements backend.Compiler and backend.StyleEngine.
type Backend struct {
	// Project is returned from ReadConfig; nil means an empty config.
	Project *backend.ProjectConfig
	// BeforeDiagnostics, when set, runs before each Diagnostics call.
	BeforeDiagnostics func(ctx context.Context, path string)
	// BeforeStyle, when set, runs before each style Check call.
	BeforeStyle func(ctx context.Context, path string)

	mu      sync.Mutex
	parses  map[string]int
	builds  int
	reused  int
	checked map[string]int
}

// New creates an empty fake backend.
func New() *Backend {
	return &Backend{
		parses:  make(map[string]int),
		checked: make(map[string]int),
	}
}

func (b *Backend) ReadConfig(string) (*backend.ProjectConfig, error) {
	if b.Project == nil {
		return &backend.ProjectConfig{}, nil
	}
	cfg := *b.Project
	return &cfg, nil
}

func (b *Backend) Parse(path string, content []byte) (backend.Handle, error) {
	b.mu.Lock()
	b.parses[path]++
	b.mu.Unlock()

	text := string(content)
	lines := strings.Split(text, "\n")
	for _, l := range lines {
		if strings.TrimSpace(l) == "invalid" {
			return nil, fmt.Errorf("%s: %w", path, backend.ErrInvalidSource)
		}
	}
	return &File{Path: path, Lines: lines}, nil
}

func (b *Backend) BuildProgram(ctx context.Context, files []string, host backend.Host, previous backend.Program) (backend.Program, error) {
	prev, _ := previous.(*Program)
	p := &Program{owner: b, handles: make(map[string]*File, len(files))}
	reused := 0
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h, ok, err := host.SourceFile(path)
		if err != nil {
			return nil, err
		}
		if !ok || h == nil {
			continue
		}
		f, ok := h.(*File)
		if !ok {
			return nil, fmt.Errorf("unexpected handle %T", h)
		}
		if prev != nil && prev.handles[path] == f {
			reused++
		}
		p.handles[path] = f
		p.files = append(p.files, path)
	}
	sort.Strings(p.files)

	b.mu.Lock()
	b.builds++
	b.reused += reused
	b.mu.Unlock()
	return p, nil
}

func (b *Backend) Check(ctx context.Context, prog backend.Program, path string, rules backend.Rules) ([]backend.Violation, error) {
	if b.BeforeStyle != nil {
		b.BeforeStyle(ctx, path)
	}
	h, ok := prog.Source(path)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, backend.ErrNotInProgram)
	}
	b.mu.Lock()
	b.checked[path]++
	b.mu.Unlock()

	f := h.(*File)
	var out []backend.Violation
	for i := range f.Lines {
		l := f.line(i)
		if l.verb != "style" {
			continue
		}
		sev := "warning"
		if rules != nil {
			setting, ok := rules[l.code]
			if !ok {
				continue
			}
			sev = setting.Severity
		}
		out = append(out, backend.Violation{
			Rule:     l.code,
			Severity: sev,
			Message:  l.msg,
			File:     path,
			Line:     i,
		})
	}
	return out, nil
}

// Parses returns how many times path was parsed.
func (b *Backend) Parses(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parses[path]
}

// TotalParses returns the number of Parse calls over all files.
func (b *Backend) TotalParses() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.parses {
		n += c
	}
	return n
}

// Builds returns the number of programs built.
func (b *Backend) Builds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.builds
}

// Reused returns how many file handles were taken over unchanged from a
// previous program, summed over all builds.
func (b *Backend) Reused() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reused
}

// StyleChecks returns how many times the style engine ran on path.
func (b *Backend) StyleChecks(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.checked[path]
}

// Program is the fake backend's program.
type Program struct {
	owner   *Backend
	files   []string
	handles map[string]*File
}

func (p *Program) Files() []string {
	out := make([]string, len(p.files))
	copy(out, p.files)
	return out
}

func (p *Program) Source(path string) (backend.Handle, bool) {
	f, ok := p.handles[path]
	return f, ok
}

func (p *Program) Diagnostics(ctx context.Context, path string, syntactic bool) ([]backend.Diagnostic, error) {
	if hook := p.owner.BeforeDiagnostics; hook != nil {
		hook(ctx, path)
	}
	f, ok := p.handles[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, backend.ErrNotInProgram)
	}
	var out []backend.Diagnostic
	for i := range f.Lines {
		l := f.line(i)
		var cat backend.Category
		switch l.verb {
		case "error":
			cat = backend.CategoryError
		case "global":
			cat = backend.CategoryError
		case "warn":
			cat = backend.CategoryWarning
		case "hint":
			cat = backend.CategorySuggestion
		case "syntax":
			if !syntactic {
				continue
			}
			cat = backend.CategoryError
		case "boom":
			return nil, errors.New("backend failure: " + strings.TrimSpace(l.code+" "+l.msg))
		case "panic":
			panic("backend panic: " + strings.TrimSpace(l.code+" "+l.msg))
		default:
			continue
		}
		code, err := strconv.Atoi(l.code)
		if err != nil {
			return nil, fmt.Errorf("bad code %q on line %d", l.code, i)
		}
		d := backend.Diagnostic{
			Code:     code,
			Category: cat,
			Message:  l.msg,
			File:     path,
			Line:     i,
		}
		if l.verb == "global" {
			d.File, d.Line, d.Column = "", -1, -1
		}
		out = append(out, d)
	}
	return out, nil
}
