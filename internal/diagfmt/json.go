package diagfmt

import (
	"encoding/json"
	"io"

	"checkpool/internal/diag"
)

// ResultJSON представляет один результат в JSON формате
type ResultJSON struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
}

// ResultsOutput представляет корневую структуру JSON вывода
type ResultsOutput struct {
	Diagnostics     []ResultJSON `json:"diagnostics"`
	StyleViolations []ResultJSON `json:"style_violations"`
	Errors          int          `json:"errors"`
	Warnings        int          `json:"warnings"`
	Truncated       bool         `json:"truncated,omitempty"`
}

// BuildResultsOutput формирует структуру JSON-вывода без сериализации.
// Lists keep the run's order; Max applies to each list separately.
func BuildResultsOutput(res diag.RunResult, opts JSONOpts) ResultsOutput {
	out := ResultsOutput{
		Diagnostics:     make([]ResultJSON, 0, len(res.Diagnostics)),
		StyleViolations: make([]ResultJSON, 0, len(res.StyleViolations)),
	}
	convert := func(list []diag.Result) []ResultJSON {
		n := len(list)
		if opts.Max > 0 && opts.Max < n {
			n = opts.Max
			out.Truncated = true
		}
		items := make([]ResultJSON, 0, n)
		for _, r := range list[:n] {
			items = append(items, ResultJSON{
				Kind:     r.Kind.String(),
				Severity: r.Severity.String(),
				Code:     r.Code,
				Message:  r.Message,
				File:     FormatPath(r.File, opts.PathMode, opts.BaseDir),
				Line:     r.Line,
				Column:   r.Column,
			})
			if r.Severity >= diag.SevError {
				out.Errors++
			} else {
				out.Warnings++
			}
		}
		return items
	}
	out.Diagnostics = append(out.Diagnostics, convert(res.Diagnostics)...)
	out.StyleViolations = append(out.StyleViolations, convert(res.StyleViolations)...)
	return out
}

// JSON форматирует результаты прогона в JSON формат.
func JSON(w io.Writer, res diag.RunResult, opts JSONOpts) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(BuildResultsOutput(res, opts))
}
