package tsbackend

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"unicode"

	"github.com/mattn/go-runewidth"
	sitter "github.com/smacker/go-tree-sitter"

	"checkpool/internal/backend"
)

const defaultLineLimit = 120

// Rule names understood by the style engine.
const (
	RuleNoVar         = "no-var"
	RuleNoDebugger    = "no-debugger"
	RuleNoConsole     = "no-console"
	RuleEqeqeq        = "eqeqeq"
	RuleClassName     = "class-name"
	RuleMaxLineLength = "max-line-length"
)

// DefaultRules is applied when no style configuration names any rule.
func DefaultRules() backend.Rules {
	return backend.Rules{
		RuleNoVar:         {Severity: "warning"},
		RuleNoDebugger:    {Severity: "error"},
		RuleNoConsole:     {Severity: "warning"},
		RuleEqeqeq:        {Severity: "warning"},
		RuleClassName:     {Severity: "warning"},
		RuleMaxLineLength: {Severity: "off"},
	}
}

// Linter implements backend.StyleEngine over tree-sitter trees.
type Linter struct{}

// NewLinter returns the style engine.
func NewLinter() *Linter {
	return &Linter{}
}

type lint struct {
	f     *File
	rules backend.Rules
	out   []backend.Violation
}

// Check runs the enabled rules against path. Rules set to "off" and rules
// the engine does not know are skipped.
func (l *Linter) Check(ctx context.Context, prog backend.Program, path string, rules backend.Rules) ([]backend.Violation, error) {
	h, ok := prog.Source(path)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, backend.ErrNotInProgram)
	}
	f, ok := h.(*File)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected handle %T", path, h)
	}
	if rules == nil {
		rules = DefaultRules()
	}

	st := &lint{f: f, rules: rules}
	if st.enabled(RuleMaxLineLength) {
		st.lineLength()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st.walk(f.Tree.RootNode())

	sort.SliceStable(st.out, func(i, j int) bool {
		if st.out[i].Line != st.out[j].Line {
			return st.out[i].Line < st.out[j].Line
		}
		return st.out[i].Column < st.out[j].Column
	})
	return st.out, nil
}

func (st *lint) enabled(rule string) bool {
	s, ok := st.rules[rule]
	return ok && s.Severity != "off"
}

func (st *lint) report(rule string, n *sitter.Node, msg string) {
	line, col := point(n.StartPoint())
	st.add(rule, line, col, msg)
}

func (st *lint) add(rule string, line, col int, msg string) {
	st.out = append(st.out, backend.Violation{
		Rule:     rule,
		Severity: st.rules[rule].Severity,
		Message:  msg,
		File:     st.f.Path,
		Line:     line,
		Column:   col,
	})
}

func (st *lint) walk(n *sitter.Node) {
	if n == nil || n.IsError() {
		return
	}
	switch n.Type() {
	case "variable_declaration":
		if st.enabled(RuleNoVar) {
			st.report(RuleNoVar, n, "Unexpected var, use let or const instead.")
		}
	case "debugger_statement":
		if st.enabled(RuleNoDebugger) {
			st.report(RuleNoDebugger, n, "Unexpected 'debugger' statement.")
		}
	case "call_expression":
		if st.enabled(RuleNoConsole) && st.isConsoleCall(n) {
			st.report(RuleNoConsole, n, "Unexpected console statement.")
		}
	case "binary_expression":
		if st.enabled(RuleEqeqeq) {
			if op := n.ChildByFieldName("operator"); op != nil {
				switch op.Type() {
				case "==":
					st.report(RuleEqeqeq, op, "Expected '===' and instead saw '=='.")
				case "!=":
					st.report(RuleEqeqeq, op, "Expected '!==' and instead saw '!='.")
				}
			}
		}
	case "class_declaration", "abstract_class_declaration", "class":
		if st.enabled(RuleClassName) {
			if name := n.ChildByFieldName("name"); name != nil {
				text := name.Content(st.f.Src)
				if !pascal(text) {
					st.report(RuleClassName, name, fmt.Sprintf("Class name '%s' must be PascalCase.", text))
				}
			}
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		st.walk(n.NamedChild(i))
	}
}

func (st *lint) isConsoleCall(n *sitter.Node) bool {
	fn := n.ChildByFieldName("function")
	if fn == nil || fn.Type() != "member_expression" {
		return false
	}
	obj := fn.ChildByFieldName("object")
	return obj != nil && obj.Type() == "identifier" && obj.Content(st.f.Src) == "console"
}

func pascal(name string) bool {
	for i, r := range name {
		if i == 0 && !unicode.IsUpper(r) {
			return false
		}
		if r == '_' || r == '$' {
			return false
		}
	}
	return name != ""
}

// lineLength measures display width, so wide runes count double.
func (st *lint) lineLength() {
	limit := lineLimit(st.rules[RuleMaxLineLength].Options)
	for i, line := range bytes.Split(st.f.Src, []byte("\n")) {
		w := runewidth.StringWidth(string(bytes.TrimRight(line, "\r")))
		if w > limit {
			st.add(RuleMaxLineLength, i, limit,
				fmt.Sprintf("Line exceeds maximum length of %d (%d).", limit, w))
		}
	}
}

func lineLimit(opts map[string]any) int {
	switch v := opts["limit"].(type) {
	case int64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return defaultLineLimit
}
