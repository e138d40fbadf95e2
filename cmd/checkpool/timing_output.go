package main

import (
	"fmt"
	"io"

	"checkpool/internal/observ"
)

// printTimings writes the combined per-worker phase report.
func printTimings(out io.Writer, report observ.Report) {
	if out == nil || len(report.Phases) == 0 {
		return
	}
	fmt.Fprintln(out, "timings:")
	for _, p := range report.Phases {
		fmt.Fprintf(out, "  %-24s %8.1f ms", p.Name, p.DurationMS)
		if p.Note != "" {
			fmt.Fprintf(out, "  // %s", p.Note)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "  %-24s %8.1f ms\n", "slowest worker", report.TotalMS)
}
