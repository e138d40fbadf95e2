// Package tsbackend is a TypeScript compiler and style engine built on
// tree-sitter. It covers the subset of tsc checks that need no type system:
// syntax errors, module resolution of relative imports, named and default
// import existence, and duplicate top-level declarations.
package tsbackend

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"fortio.org/safecast"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"checkpool/internal/backend"
)

// tsc diagnostic codes produced by this backend.
const (
	codeExpected          = 1005
	codeDeclExpected      = 1128
	codeNoDefaultExport   = 1192
	codeDuplicateIdent    = 2300
	codeNoExportedMember  = 2305
	codeCannotFindModule  = 2307
	codeDuplicateFunction = 2393
)

// Extensions lists the source extensions the backend parses.
var Extensions = []string{".ts", ".tsx", ".mts", ".cts"}

// File is the parsed handle. Everything except the tree is extracted at
// parse time, so programs never walk nodes concurrently.
type File struct {
	Path    string
	Src     []byte
	Tree    *sitter.Tree
	Imports []Import
	Decls   []Decl
	Exports Exports

	syntax []backend.Diagnostic
}

// Import is one `import ... from "spec"` statement.
type Import struct {
	Spec    string
	Names   []Name
	Default *Name
	Line    int
	Column  int
}

// Name is an identifier with its 0-based position.
type Name struct {
	Text   string
	Line   int
	Column int
}

// DeclKind classifies top-level value declarations.
type DeclKind uint8

const (
	DeclLet DeclKind = iota
	DeclConst
	DeclClass
	DeclFunction
	DeclEnum
)

// Decl is a top-level value declaration.
type Decl struct {
	Name Name
	Kind DeclKind
}

// Exports is the export table of one file.
type Exports struct {
	Names map[string]struct{}
	// Opaque is set for `export * from` and `export =`, whose members the
	// backend cannot enumerate.
	Opaque bool
}

// Has reports whether name is exported, treating opaque tables as exporting
// everything.
func (e Exports) Has(name string) bool {
	if e.Opaque {
		return true
	}
	_, ok := e.Names[name]
	return ok
}

func language(path string) *sitter.Language {
	if strings.HasSuffix(path, ".tsx") {
		return tsx.GetLanguage()
	}
	return typescript.GetLanguage()
}

// Parse parses one source file. Content that is not UTF-8 text is rejected
// with backend.ErrInvalidSource.
func (c *Compiler) Parse(path string, content []byte) (backend.Handle, error) {
	if !utf8.Valid(content) || bytes.IndexByte(content, 0) >= 0 {
		return nil, fmt.Errorf("%s: %w", path, backend.ErrInvalidSource)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(language(path))
	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse %s: %w", path, err)
	}
	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("%s: %w", path, backend.ErrInvalidSource)
	}

	f := &File{
		Path:    path,
		Src:     content,
		Tree:    tree,
		Exports: Exports{Names: make(map[string]struct{})},
	}
	if root.HasError() {
		f.collectSyntax(root)
	}
	f.collectTopLevel(root)
	return f, nil
}

func point(p sitter.Point) (line, col int) {
	line, err := safecast.Conv[int](p.Row)
	if err != nil {
		line = -1
	}
	col, err = safecast.Conv[int](p.Column)
	if err != nil {
		col = -1
	}
	return line, col
}

func nameOf(n *sitter.Node, src []byte) Name {
	line, col := point(n.StartPoint())
	return Name{Text: n.Content(src), Line: line, Column: col}
}

// collectSyntax records one diagnostic per ERROR or MISSING node without
// descending into reported subtrees.
func (f *File) collectSyntax(n *sitter.Node) {
	switch {
	case n.IsMissing():
		line, col := point(n.StartPoint())
		f.syntax = append(f.syntax, backend.Diagnostic{
			Code:     codeExpected,
			Category: backend.CategoryError,
			Message:  fmt.Sprintf("'%s' expected.", n.Type()),
			File:     f.Path,
			Line:     line,
			Column:   col,
		})
		return
	case n.IsError():
		line, col := point(n.StartPoint())
		f.syntax = append(f.syntax, backend.Diagnostic{
			Code:     codeDeclExpected,
			Category: backend.CategoryError,
			Message:  "Declaration or statement expected.",
			File:     f.Path,
			Line:     line,
			Column:   col,
		})
		return
	}
	if !n.HasError() {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		f.collectSyntax(n.Child(i))
	}
}

func (f *File) collectTopLevel(root *sitter.Node) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "import_statement":
			if imp, ok := f.importOf(child); ok {
				f.Imports = append(f.Imports, imp)
			}
		case "export_statement":
			f.exportOf(child)
		default:
			f.declOf(child, false)
		}
	}
}

func (f *File) importOf(n *sitter.Node) (Import, bool) {
	var imp Import
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "string":
			imp.Spec = unquote(child.Content(f.Src))
		case "import_clause":
			f.importClause(child, &imp)
		}
	}
	if imp.Spec == "" {
		return imp, false
	}
	imp.Line, imp.Column = point(n.StartPoint())
	return imp, true
}

func (f *File) importClause(n *sitter.Node, imp *Import) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "identifier":
			name := nameOf(child, f.Src)
			imp.Default = &name
		case "named_imports":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				spec := child.NamedChild(j)
				if spec.Type() != "import_specifier" {
					continue
				}
				if name := spec.ChildByFieldName("name"); name != nil {
					imp.Names = append(imp.Names, nameOf(name, f.Src))
				}
			}
		}
	}
}

func (f *File) exportOf(n *sitter.Node) {
	isDefault := false
	hasSource := n.ChildByFieldName("source") != nil
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case "default":
			isDefault = true
		case "*", "namespace_export":
			f.Exports.Opaque = true
		case "=":
			f.Exports.Opaque = true
		case "export_clause":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				spec := child.NamedChild(j)
				if spec.Type() != "export_specifier" {
					continue
				}
				name := spec.ChildByFieldName("alias")
				if name == nil {
					name = spec.ChildByFieldName("name")
				}
				if name != nil {
					f.Exports.Names[unquote(name.Content(f.Src))] = struct{}{}
				}
			}
		}
	}
	if isDefault {
		f.Exports.Names["default"] = struct{}{}
	}
	if hasSource {
		return
	}
	if decl := n.ChildByFieldName("declaration"); decl != nil {
		f.declOf(decl, !isDefault)
	}
}

// declOf records a top-level declaration and, when exported, its names.
func (f *File) declOf(n *sitter.Node, exported bool) {
	add := func(name *sitter.Node, kind DeclKind, value bool) {
		if name == nil {
			return
		}
		nm := nameOf(name, f.Src)
		if exported {
			f.Exports.Names[nm.Text] = struct{}{}
		}
		if value {
			f.Decls = append(f.Decls, Decl{Name: nm, Kind: kind})
		}
	}

	switch n.Type() {
	case "function_declaration", "generator_function_declaration":
		add(n.ChildByFieldName("name"), DeclFunction, true)
	case "function_signature":
		add(n.ChildByFieldName("name"), DeclFunction, false)
	case "class_declaration", "abstract_class_declaration":
		add(n.ChildByFieldName("name"), DeclClass, true)
	case "enum_declaration":
		add(n.ChildByFieldName("name"), DeclEnum, true)
	case "interface_declaration", "type_alias_declaration", "module", "internal_module":
		add(n.ChildByFieldName("name"), DeclEnum, false)
	case "lexical_declaration":
		kind := DeclLet
		if k := n.ChildByFieldName("kind"); k != nil && k.Type() == "const" {
			kind = DeclConst
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			v := n.NamedChild(i)
			if v.Type() != "variable_declarator" {
				continue
			}
			if name := v.ChildByFieldName("name"); name != nil && name.Type() == "identifier" {
				add(name, kind, true)
			}
		}
	case "variable_declaration":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			v := n.NamedChild(i)
			if v.Type() != "variable_declarator" {
				continue
			}
			if name := v.ChildByFieldName("name"); name != nil && name.Type() == "identifier" {
				add(name, DeclLet, false)
			}
		}
	case "ambient_declaration":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			f.declOf(n.NamedChild(i), exported)
		}
	}
}

func unquote(s string) string {
	if len(s) >= 2 {
		switch s[0] {
		case '"', '\'', '`':
			if s[len(s)-1] == s[0] {
				return s[1 : len(s)-1]
			}
		}
	}
	return s
}

func isSource(path string) bool {
	ext := filepath.Ext(path)
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
