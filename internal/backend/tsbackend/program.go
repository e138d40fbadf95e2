package tsbackend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"checkpool/internal/backend"
)

// Compiler implements backend.Compiler for TypeScript.
type Compiler struct{}

// New returns the TypeScript compiler backend.
func New() *Compiler {
	return &Compiler{}
}

// Program is the whole-project model: parsed files plus the resolved module
// graph of each file.
type Program struct {
	files   []string
	sources map[string]*File
	modules map[string]*module
	reused  int
}

// module is the per-file resolution table. Unresolved specifiers map to "".
type module struct {
	file     *File
	resolved map[string]string
}

var _ backend.Program = (*Program)(nil)

// BuildProgram parses files through host and resolves their imports. A file
// whose handle is unchanged since previous keeps its resolution table when
// the file set is the same.
func (c *Compiler) BuildProgram(ctx context.Context, files []string, host backend.Host, previous backend.Program) (backend.Program, error) {
	parsed := make([]*File, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			h, ok, err := host.SourceFile(path)
			if err != nil || !ok {
				return err
			}
			f, isFile := h.(*File)
			if !isFile {
				return fmt.Errorf("%s: unexpected handle %T", path, h)
			}
			parsed[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p := &Program{
		sources: make(map[string]*File, len(files)),
		modules: make(map[string]*module, len(files)),
	}
	for i, f := range parsed {
		if f == nil {
			continue
		}
		p.files = append(p.files, files[i])
		p.sources[files[i]] = f
	}

	prev, _ := previous.(*Program)
	sameSet := prev != nil && slices.Equal(prev.files, p.files)
	for _, path := range p.files {
		f := p.sources[path]
		if sameSet && prev.sources[path] == f {
			p.modules[path] = prev.modules[path]
			p.reused++
			continue
		}
		p.modules[path] = p.resolve(f)
	}
	return p, nil
}

// Files lists the program's files in discovery order.
func (p *Program) Files() []string {
	return p.files
}

// Source returns the parsed handle of path.
func (p *Program) Source(path string) (backend.Handle, bool) {
	f, ok := p.sources[path]
	return f, ok
}

// Reused reports how many resolution tables were carried over from the
// previous program.
func (p *Program) Reused() int {
	return p.reused
}

func (p *Program) resolve(f *File) *module {
	m := &module{file: f, resolved: make(map[string]string, len(f.Imports))}
	for _, imp := range f.Imports {
		if _, done := m.resolved[imp.Spec]; done || !relative(imp.Spec) {
			continue
		}
		m.resolved[imp.Spec] = p.lookup(filepath.Dir(f.Path), imp.Spec)
	}
	return m
}

func relative(spec string) bool {
	return strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") || strings.HasPrefix(spec, "/")
}

// lookup resolves spec from dir, preferring program files and falling back to
// anything on disk a bundler could import. It returns "" when nothing fits.
func (p *Program) lookup(dir, spec string) string {
	base := filepath.Clean(filepath.Join(dir, filepath.FromSlash(spec)))
	stem := base
	switch filepath.Ext(base) {
	case ".js", ".jsx", ".mjs", ".cjs":
		stem = strings.TrimSuffix(base, filepath.Ext(base))
	}

	var candidates []string
	if isSource(base) {
		candidates = append(candidates, base)
	}
	for _, ext := range Extensions {
		candidates = append(candidates, stem+ext)
	}
	for _, ext := range Extensions {
		candidates = append(candidates, filepath.Join(base, "index"+ext))
	}
	for _, c := range candidates {
		if _, ok := p.sources[c]; ok {
			return c
		}
	}

	disk := append([]string{base, stem + ".d.ts", stem + ".js", filepath.Join(base, "index.d.ts")}, candidates...)
	for _, c := range disk {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

// Diagnostics computes diagnostics for one file of the program.
func (p *Program) Diagnostics(ctx context.Context, path string, syntactic bool) ([]backend.Diagnostic, error) {
	m, ok := p.modules[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, backend.ErrNotInProgram)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []backend.Diagnostic
	if syntactic {
		out = append(out, m.file.syntax...)
	}
	out = append(out, duplicates(m.file)...)
	out = append(out, p.imports(m)...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].Column < out[j].Column
	})
	return out, nil
}

func (p *Program) imports(m *module) []backend.Diagnostic {
	var out []backend.Diagnostic
	report := func(code, line, col int, msg string) {
		out = append(out, backend.Diagnostic{
			Code:     code,
			Category: backend.CategoryError,
			Message:  msg,
			File:     m.file.Path,
			Line:     line,
			Column:   col,
		})
	}

	for _, imp := range m.file.Imports {
		target, tracked := m.resolved[imp.Spec]
		if !tracked {
			continue
		}
		if target == "" {
			report(codeCannotFindModule, imp.Line, imp.Column,
				fmt.Sprintf("Cannot find module '%s' or its corresponding type declarations.", imp.Spec))
			continue
		}
		tf, inProgram := p.sources[target]
		if !inProgram {
			continue
		}
		if imp.Default != nil && !tf.Exports.Has("default") {
			report(codeNoDefaultExport, imp.Default.Line, imp.Default.Column,
				fmt.Sprintf("Module '\"%s\"' has no default export.", imp.Spec))
		}
		for _, name := range imp.Names {
			if !tf.Exports.Has(name.Text) {
				report(codeNoExportedMember, name.Line, name.Column,
					fmt.Sprintf("Module '\"%s\"' has no exported member '%s'.", imp.Spec, name.Text))
			}
		}
	}
	return out
}

// duplicates reports clashing top-level value declarations. Repeated enums
// merge; repeated function implementations get their own code.
func duplicates(f *File) []backend.Diagnostic {
	groups := make(map[string][]Decl)
	var order []string
	for _, d := range f.Decls {
		if _, seen := groups[d.Name.Text]; !seen {
			order = append(order, d.Name.Text)
		}
		groups[d.Name.Text] = append(groups[d.Name.Text], d)
	}

	var out []backend.Diagnostic
	for _, name := range order {
		decls := groups[name]
		if len(decls) < 2 {
			continue
		}
		code, msg := codeDuplicateIdent, fmt.Sprintf("Duplicate identifier '%s'.", name)
		switch {
		case allKind(decls, DeclEnum):
			continue
		case allKind(decls, DeclFunction):
			code, msg = codeDuplicateFunction, "Duplicate function implementation."
		}
		for _, d := range decls {
			out = append(out, backend.Diagnostic{
				Code:     code,
				Category: backend.CategoryError,
				Message:  msg,
				File:     f.Path,
				Line:     d.Name.Line,
				Column:   d.Name.Column,
			})
		}
	}
	return out
}

func allKind(decls []Decl, kind DeclKind) bool {
	for _, d := range decls {
		if d.Kind != kind {
			return false
		}
	}
	return true
}
