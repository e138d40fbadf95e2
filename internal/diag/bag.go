package diag

import "sort"

// RunResult is the value handed to the caller for one run.
type RunResult struct {
	Diagnostics     []Result `msgpack:"diagnostics" json:"diagnostics"`
	StyleViolations []Result `msgpack:"style_violations" json:"style_violations"`
}

// Add routes r into the matching list.
func (r *RunResult) Add(res Result) {
	if res.Kind == KindStyle {
		r.StyleViolations = append(r.StyleViolations, res)
		return
	}
	r.Diagnostics = append(r.Diagnostics, res)
}

// Merge appends other's results after r's.
func (r *RunResult) Merge(other RunResult) {
	r.Diagnostics = append(r.Diagnostics, other.Diagnostics...)
	r.StyleViolations = append(r.StyleViolations, other.StyleViolations...)
}

// Dedupe removes duplicates from both lists.
func (r *RunResult) Dedupe() {
	r.Diagnostics = Dedupe(r.Diagnostics)
	r.StyleViolations = Dedupe(r.StyleViolations)
}

// Len returns the total number of results.
func (r RunResult) Len() int {
	return len(r.Diagnostics) + len(r.StyleViolations)
}

// HasErrors reports whether any result has SevError.
func (r RunResult) HasErrors() bool {
	for _, list := range [][]Result{r.Diagnostics, r.StyleViolations} {
		for i := range list {
			if list[i].Severity >= SevError {
				return true
			}
		}
	}
	return false
}

// Sorted returns a copy of results ordered by file, line, column, severity
// (desc) and code, for stable display. Dedupe order is not affected.
func Sorted(results []Result) []Result {
	out := make([]Result, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		return a.Code < b.Code
	})
	return out
}

// Truncate keeps at most max results per list. max <= 0 keeps everything.
func (r *RunResult) Truncate(max int) {
	if max <= 0 {
		return
	}
	if len(r.Diagnostics) > max {
		r.Diagnostics = r.Diagnostics[:max]
	}
	if len(r.StyleViolations) > max {
		r.StyleViolations = r.StyleViolations[:max]
	}
}
