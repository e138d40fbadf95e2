package tsbackend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"checkpool/internal/backend"
)

type diskHost struct {
	c      *Compiler
	cached map[string]backend.Handle
}

func (h *diskHost) SourceFile(path string) (backend.Handle, bool, error) {
	if f, ok := h.cached[path]; ok {
		return f, true, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, nil
	}
	f, err := h.c.Parse(path, data)
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}

func writeFiles(t *testing.T, files map[string]string) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return dir, paths
}

func build(t *testing.T, files []string) *Program {
	t.Helper()
	c := New()
	prog, err := c.BuildProgram(context.Background(), files, &diskHost{c: c}, nil)
	if err != nil {
		t.Fatalf("BuildProgram: %v", err)
	}
	return prog.(*Program)
}

func diagnose(t *testing.T, prog *Program, path string, syntactic bool) []backend.Diagnostic {
	t.Helper()
	ds, err := prog.Diagnostics(context.Background(), path, syntactic)
	if err != nil {
		t.Fatalf("Diagnostics(%s): %v", path, err)
	}
	return ds
}

func codes(ds []backend.Diagnostic) []int {
	out := make([]int, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Code)
	}
	return out
}

func TestSyntaxErrorsOnlyWhenAsked(t *testing.T) {
	dir, files := writeFiles(t, map[string]string{"a.ts": "let x = ;\n"})
	prog := build(t, files)
	a := filepath.Join(dir, "a.ts")

	if ds := diagnose(t, prog, a, false); len(ds) != 0 {
		t.Fatalf("semantic pass reported %v", ds)
	}
	ds := diagnose(t, prog, a, true)
	if len(ds) == 0 {
		t.Fatalf("expected a syntax diagnostic")
	}
	for _, d := range ds {
		if d.Code != codeExpected && d.Code != codeDeclExpected {
			t.Fatalf("unexpected code %d: %s", d.Code, d.Message)
		}
		if d.Category != backend.CategoryError || d.File != a {
			t.Fatalf("unexpected diagnostic %+v", d)
		}
	}
}

func TestUnresolvedImport(t *testing.T) {
	dir, files := writeFiles(t, map[string]string{
		"a.ts": "import { x } from \"./missing\";\nimport { y } from \"./b\";\nimport z from \"lodash\";\n",
		"b.ts": "export const y = 1;\n",
	})
	prog := build(t, files)
	ds := diagnose(t, prog, filepath.Join(dir, "a.ts"), false)
	if len(ds) != 1 || ds[0].Code != codeCannotFindModule || ds[0].Line != 0 {
		t.Fatalf("got %+v", ds)
	}
	if ds[0].Message != "Cannot find module './missing' or its corresponding type declarations." {
		t.Fatalf("message: %q", ds[0].Message)
	}
}

func TestImportResolvesOutsideProgram(t *testing.T) {
	dir, files := writeFiles(t, map[string]string{
		"a.ts": "import { x } from \"./lib\";\nimport { y } from \"./dir\";\n",
	})
	if err := os.WriteFile(filepath.Join(dir, "lib.js"), []byte("exports.x = 1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "dir"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "dir", "index.d.ts"), []byte("export declare const y: number;\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	prog := build(t, files)
	if ds := diagnose(t, prog, filepath.Join(dir, "a.ts"), false); len(ds) != 0 {
		t.Fatalf("got %+v", ds)
	}
}

func TestMissingExportedMember(t *testing.T) {
	dir, files := writeFiles(t, map[string]string{
		"a.ts": "export const a = 1;\nexport function f() {}\nconst hidden = 2;\nexport { hidden as shown };\n",
		"b.ts": "import { a, f, shown, hidden } from \"./a\";\n",
	})
	prog := build(t, files)
	ds := diagnose(t, prog, filepath.Join(dir, "b.ts"), false)
	if len(ds) != 1 || ds[0].Code != codeNoExportedMember {
		t.Fatalf("got %+v", ds)
	}
	if ds[0].Message != "Module '\"./a\"' has no exported member 'hidden'." {
		t.Fatalf("message: %q", ds[0].Message)
	}
}

func TestDefaultImport(t *testing.T) {
	dir, files := writeFiles(t, map[string]string{
		"a.ts": "export const a = 1;\n",
		"b.ts": "export default function () {}\n",
		"c.ts": "import a from \"./a\";\nimport b from \"./b\";\n",
	})
	prog := build(t, files)
	ds := diagnose(t, prog, filepath.Join(dir, "c.ts"), false)
	if !slices.Equal(codes(ds), []int{codeNoDefaultExport}) || ds[0].Line != 0 {
		t.Fatalf("got %+v", ds)
	}
}

func TestReexportAllIsOpaque(t *testing.T) {
	dir, files := writeFiles(t, map[string]string{
		"a.ts":     "export * from \"./b\";\n",
		"b.ts":     "export const b = 1;\n",
		"main.ts":  "import { anything } from \"./a\";\n",
		"other.ts": "import { b } from \"./b.js\";\n",
	})
	prog := build(t, files)
	if ds := diagnose(t, prog, filepath.Join(dir, "main.ts"), false); len(ds) != 0 {
		t.Fatalf("main: %+v", ds)
	}
	if ds := diagnose(t, prog, filepath.Join(dir, "other.ts"), false); len(ds) != 0 {
		t.Fatalf("other: %+v", ds)
	}
}

func TestDuplicateDeclarations(t *testing.T) {
	dir, files := writeFiles(t, map[string]string{
		"a.ts": "const x = 1;\nlet x = 2;\n",
		"b.ts": "function f() {}\nfunction f() {}\n",
		"c.ts": "enum E { A }\nenum E { B }\nfunction g(a: string): void;\nfunction g(a: any) {}\nvar v = 1;\nvar v = 2;\n",
	})
	prog := build(t, files)

	ds := diagnose(t, prog, filepath.Join(dir, "a.ts"), false)
	if !slices.Equal(codes(ds), []int{codeDuplicateIdent, codeDuplicateIdent}) {
		t.Fatalf("a: %+v", ds)
	}
	if ds[0].Message != "Duplicate identifier 'x'." || ds[0].Line != 0 || ds[1].Line != 1 {
		t.Fatalf("a: %+v", ds)
	}
	ds = diagnose(t, prog, filepath.Join(dir, "b.ts"), false)
	if !slices.Equal(codes(ds), []int{codeDuplicateFunction, codeDuplicateFunction}) {
		t.Fatalf("b: %+v", ds)
	}
	if ds = diagnose(t, prog, filepath.Join(dir, "c.ts"), false); len(ds) != 0 {
		t.Fatalf("c: %+v", ds)
	}
}

func TestBuildReusesUnchangedModules(t *testing.T) {
	dir, files := writeFiles(t, map[string]string{
		"a.ts": "export const a = 1;\n",
		"b.ts": "import { a } from \"./a\";\n",
	})
	c := New()
	h := &diskHost{c: c, cached: make(map[string]backend.Handle)}
	first, err := c.BuildProgram(context.Background(), files, h, nil)
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	for _, f := range files {
		src, _ := first.Source(f)
		h.cached[f] = src
	}

	second, err := c.BuildProgram(context.Background(), files, h, first)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if got := second.(*Program).Reused(); got != 2 {
		t.Fatalf("reused %d, want 2", got)
	}

	delete(h.cached, filepath.Join(dir, "b.ts"))
	third, err := c.BuildProgram(context.Background(), files, h, second)
	if err != nil {
		t.Fatalf("third build: %v", err)
	}
	if got := third.(*Program).Reused(); got != 1 {
		t.Fatalf("reused %d, want 1", got)
	}

	// a shrinking file set invalidates every table
	fourth, err := c.BuildProgram(context.Background(), files[:1], h, third)
	if err != nil {
		t.Fatalf("fourth build: %v", err)
	}
	if got := fourth.(*Program).Reused(); got != 0 {
		t.Fatalf("reused %d, want 0", got)
	}
}

func TestVanishedFileDropsOut(t *testing.T) {
	dir, files := writeFiles(t, map[string]string{"a.ts": "export {};\n"})
	files = append(files, filepath.Join(dir, "gone.ts"))
	prog := build(t, files)
	if got := prog.Files(); len(got) != 1 {
		t.Fatalf("files %v", got)
	}
	_, err := prog.Diagnostics(context.Background(), filepath.Join(dir, "gone.ts"), false)
	if !errors.Is(err, backend.ErrNotInProgram) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseRejectsBinary(t *testing.T) {
	c := New()
	if _, err := c.Parse("a.ts", []byte{0xff, 0xfe, 0x00}); !errors.Is(err, backend.ErrInvalidSource) {
		t.Fatalf("err = %v", err)
	}
	if _, err := c.Parse("a.ts", []byte("let a = 1\x00;")); !errors.Is(err, backend.ErrInvalidSource) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseTSX(t *testing.T) {
	dir, files := writeFiles(t, map[string]string{
		"view.tsx": "export const View = () => <div className=\"x\">hi</div>;\n",
	})
	prog := build(t, files)
	if ds := diagnose(t, prog, filepath.Join(dir, "view.tsx"), true); len(ds) != 0 {
		t.Fatalf("got %+v", ds)
	}
}

func lintFile(t *testing.T, src string, rules backend.Rules) []backend.Violation {
	t.Helper()
	dir, files := writeFiles(t, map[string]string{"a.ts": src})
	prog := build(t, files)
	vs, err := NewLinter().Check(context.Background(), prog, filepath.Join(dir, "a.ts"), rules)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	return vs
}

func rulesOf(vs []backend.Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Rule)
	}
	return out
}

func TestLinterDefaultRules(t *testing.T) {
	src := "var a = 1;\n" +
		"debugger;\n" +
		"console.log(a);\n" +
		"if (a == 2) {}\n" +
		"class widget {}\n" +
		"class Gadget {}\n" +
		"const ok = a === 1;\n"
	vs := lintFile(t, src, nil)
	want := []string{RuleNoVar, RuleNoDebugger, RuleNoConsole, RuleEqeqeq, RuleClassName}
	if !slices.Equal(rulesOf(vs), want) {
		t.Fatalf("rules %v, want %v", rulesOf(vs), want)
	}
	for i, v := range vs {
		if v.Line != i {
			t.Fatalf("%s reported on line %d, want %d", v.Rule, v.Line, i)
		}
	}
	if vs[1].Severity != "error" || vs[0].Severity != "warning" {
		t.Fatalf("severities %q %q", vs[0].Severity, vs[1].Severity)
	}
	if vs[4].Message != "Class name 'widget' must be PascalCase." {
		t.Fatalf("message %q", vs[4].Message)
	}
}

func TestLinterConfiguredRules(t *testing.T) {
	src := "var a = 1;\ndebugger;\nconst s = \"0123456789012345678901234567890\";\n"
	rules := backend.Rules{
		RuleNoVar:         {Severity: "error"},
		RuleNoDebugger:    {Severity: "off"},
		RuleMaxLineLength: {Severity: "warning", Options: map[string]any{"limit": int64(30)}},
	}
	vs := lintFile(t, src, rules)
	if !slices.Equal(rulesOf(vs), []string{RuleNoVar, RuleMaxLineLength}) {
		t.Fatalf("rules %v", rulesOf(vs))
	}
	if vs[0].Severity != "error" {
		t.Fatalf("severity %q", vs[0].Severity)
	}
	if vs[1].Line != 2 || vs[1].Column != 30 {
		t.Fatalf("max-line-length at %d:%d", vs[1].Line, vs[1].Column)
	}
}

func TestLineLimitWideRunes(t *testing.T) {
	// six CJK runes are twelve columns wide
	src := "const s = \"日本語日本語\";\n"
	rules := backend.Rules{RuleMaxLineLength: {Severity: "warning", Options: map[string]any{"limit": 22}}}
	vs := lintFile(t, src, rules)
	if len(vs) != 1 || vs[0].Message != "Line exceeds maximum length of 22 (25)." {
		t.Fatalf("got %+v", vs)
	}
}

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := `{
  // project layout
  "compilerOptions": { "strict": true, },
  "include": ["src", "lib/**", "extra/*.ts"], /* sources */
  "exclude": ["src/gen", "**/*.spec.ts",],
}
`
	if err := os.WriteFile(filepath.Join(dir, ConfigName), []byte(cfg), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	pc, err := New().ReadConfig(dir)
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	wantInc := []string{
		"src/**/*.ts", "src/**/*.tsx", "src/**/*.mts", "src/**/*.cts",
		"lib/**/*.ts", "lib/**/*.tsx", "lib/**/*.mts", "lib/**/*.cts",
		"extra/*.ts",
	}
	if !slices.Equal(pc.Include, wantInc) {
		t.Fatalf("include %v", pc.Include)
	}
	if !slices.Equal(pc.Exclude, []string{"src/gen/**", "**/*.spec.ts"}) {
		t.Fatalf("exclude %v", pc.Exclude)
	}

	empty := t.TempDir()
	pc, err = New().ReadConfig(empty)
	if err != nil || pc != nil {
		t.Fatalf("missing config: %v %v", pc, err)
	}
}

func TestStripJSONCKeepsStrings(t *testing.T) {
	in := `{"a": "http://x/*y*/", "b": "q\"//", }`
	got := string(stripJSONC([]byte(in)))
	want := `{"a": "http://x/*y*/", "b": "q\"//" }`
	if got != want {
		t.Fatalf("got %s", got)
	}
}
