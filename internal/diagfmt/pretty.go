package diagfmt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"checkpool/internal/diag"
)

type palette struct {
	err, warn, code, path, dim *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		err:  color.New(color.FgRed, color.Bold),
		warn: color.New(color.FgYellow, color.Bold),
		code: color.New(color.FgCyan),
		path: color.New(color.Bold),
		dim:  color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.err, p.warn, p.code, p.path, p.dim} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Pretty writes results in a human-readable form:
//
//	<path>:<line>:<col>: <SEV> <CODE>: <Message>
//
// Compiler diagnostics come first, then style violations, each list in
// display order. With Context set the source line and a caret follow.
func Pretty(w io.Writer, res diag.RunResult, opts PrettyOpts) error {
	p := newPalette(opts.Color)
	lines := newLineCache()
	bw := bufio.NewWriter(w)

	for _, list := range [][]diag.Result{res.Diagnostics, res.StyleViolations} {
		for _, r := range diag.Sorted(list) {
			writeResult(bw, p, r, opts)
			if opts.Context && r.File != "" && r.Line > 0 {
				if text, ok := lines.line(filepath.FromSlash(r.File), r.Line); ok {
					writeContext(bw, p, text, r.Column)
				}
			}
		}
	}
	if opts.Summary {
		writeSummary(bw, p, res)
	}
	return bw.Flush()
}

func writeResult(w io.Writer, p palette, r diag.Result, opts PrettyOpts) {
	loc := "<project>"
	if r.File != "" {
		loc = FormatPath(r.File, opts.PathMode, opts.BaseDir)
		if r.Line > 0 {
			loc = fmt.Sprintf("%s:%d:%d", loc, r.Line, r.Column)
		}
	}
	sev := p.warn
	if r.Severity >= diag.SevError {
		sev = p.err
	}
	fmt.Fprintf(w, "%s: %s %s: %s\n",
		p.path.Sprint(loc), sev.Sprint(r.Severity.String()), p.code.Sprint(r.Code), r.Message)
}

// writeContext prints the source line and a caret under column, which is a
// 1-based byte offset.
func writeContext(w io.Writer, p palette, text string, column int) {
	text = strings.ReplaceAll(text, "\t", " ")
	fmt.Fprintf(w, "    %s\n", text)
	if column <= 0 {
		return
	}
	prefix := text
	if column-1 < len(prefix) {
		prefix = prefix[:column-1]
	}
	pad := runewidth.StringWidth(prefix)
	fmt.Fprintf(w, "    %s%s\n", strings.Repeat(" ", pad), p.dim.Sprint("^"))
}

func writeSummary(w io.Writer, p palette, res diag.RunResult) {
	errs, warns := 0, 0
	for _, list := range [][]diag.Result{res.Diagnostics, res.StyleViolations} {
		for _, r := range list {
			if r.Severity >= diag.SevError {
				errs++
			} else {
				warns++
			}
		}
	}
	if errs+warns == 0 {
		fmt.Fprintln(w, "no problems found")
		return
	}
	fmt.Fprintf(w, "%s, %s (%d diagnostics, %d style violations)\n",
		p.err.Sprint(plural(errs, "error")), p.warn.Sprint(plural(warns, "warning")),
		len(res.Diagnostics), len(res.StyleViolations))
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// lineCache keeps the lines of every file printed so far.
type lineCache struct {
	files map[string][]string
}

func newLineCache() *lineCache {
	return &lineCache{files: make(map[string][]string)}
}

func (c *lineCache) line(path string, n int) (string, bool) {
	lines, ok := c.files[path]
	if !ok {
		data, err := os.ReadFile(path)
		if err == nil {
			lines = strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
		}
		c.files[path] = lines
	}
	if n < 1 || n > len(lines) {
		return "", false
	}
	return lines[n-1], true
}
