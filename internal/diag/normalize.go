package diag

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"checkpool/internal/backend"
)

// NormalizeDiagnostics converts raw compiler diagnostics. Diagnostics in
// the suggestion and message categories are not build-relevant and are
// dropped; message text is kept for the rest.
func NormalizeDiagnostics(raw []backend.Diagnostic) []Result {
	out := make([]Result, 0, len(raw))
	for _, d := range raw {
		var sev Severity
		switch d.Category {
		case backend.CategoryError:
			sev = SevError
		case backend.CategoryWarning:
			sev = SevWarning
		default:
			continue
		}
		out = append(out, Result{
			Kind:     KindDiagnostic,
			Code:     fmt.Sprintf("TS%d", d.Code),
			Severity: sev,
			Message:  cleanMessage(d.Message),
			File:     cleanPath(d.File),
			Line:     position(d.Line),
			Column:   position(d.Column),
		})
	}
	return out
}

// NormalizeViolations converts raw style findings. Rules switched off are
// dropped; an unknown severity is reported as a warning.
func NormalizeViolations(raw []backend.Violation) []Result {
	out := make([]Result, 0, len(raw))
	for _, v := range raw {
		sev, on, err := ParseSeverity(v.Severity)
		if err != nil {
			sev, on = SevWarning, true
		}
		if !on {
			continue
		}
		out = append(out, Result{
			Kind:     KindStyle,
			Code:     v.Rule,
			Severity: sev,
			Message:  cleanMessage(v.Message),
			File:     cleanPath(v.File),
			Line:     position(v.Line),
			Column:   position(v.Column),
		})
	}
	return out
}

// position maps a 0-based backend coordinate to the 1-based public one.
func position(p int) int {
	if p < 0 {
		return 0
	}
	return p + 1
}

func cleanMessage(msg string) string {
	return norm.NFC.String(strings.TrimSpace(msg))
}

func cleanPath(p string) string {
	if p == "" {
		return ""
	}
	return filepath.ToSlash(filepath.Clean(p))
}

type dedupKey struct {
	kind   Kind
	code   string
	file   string
	line   int
	column int
}

// Dedupe drops every result whose (kind, code, file, line, column) was
// already seen. The first occurrence wins and order is preserved.
func Dedupe(results []Result) []Result {
	if len(results) == 0 {
		return results
	}
	seen := make(map[dedupKey]struct{}, len(results))
	out := make([]Result, 0, len(results))
	for _, r := range results {
		key := dedupKey{kind: r.Kind, code: r.Code, file: r.File, line: r.Line, column: r.Column}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}
