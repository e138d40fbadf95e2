// Package observ records how long the phases of a check run take. Workers
// ship their Report back with every reply; the orchestrator combines them.
package observ

import (
	"fmt"
	"time"
)

// PhaseReport is one finished phase.
type PhaseReport struct {
	Name       string  `json:"name" msgpack:"name"`
	DurationMS float64 `json:"duration_ms" msgpack:"duration_ms"`
	Note       string  `json:"note,omitempty" msgpack:"note,omitempty"`
}

// Report is the phases of one run in the order they started.
type Report struct {
	TotalMS float64       `json:"total_ms" msgpack:"total_ms"`
	Phases  []PhaseReport `json:"phases" msgpack:"phases"`
}

// Duration returns p's duration.
func (p PhaseReport) Duration() time.Duration {
	return time.Duration(p.DurationMS * float64(time.Millisecond))
}

type phase struct {
	name    string
	started time.Time
	dur     time.Duration
	note    string
	done    bool
}

// Timer collects phases for one run. It is owned by a single goroutine.
type Timer struct {
	phases []phase
}

// NewTimer returns an empty timer.
func NewTimer() *Timer { return &Timer{phases: make([]phase, 0, 4)} }

// Track opens a phase and returns the function that closes it with a note.
// Closing twice keeps the first note.
func (t *Timer) Track(name string) func(note string) {
	t.phases = append(t.phases, phase{name: name, started: time.Now()})
	idx := len(t.phases) - 1
	return func(note string) {
		p := &t.phases[idx]
		if p.done {
			return
		}
		p.done = true
		p.dur = time.Since(p.started)
		p.note = note
	}
}

// Report returns the closed phases. A phase still open is reported with
// the time spent so far and the note "unfinished".
func (t *Timer) Report() Report {
	if len(t.phases) == 0 {
		return Report{}
	}
	r := Report{Phases: make([]PhaseReport, 0, len(t.phases))}
	var total time.Duration
	for _, p := range t.phases {
		dur, note := p.dur, p.note
		if !p.done {
			dur, note = time.Since(p.started), "unfinished"
		}
		total += dur
		r.Phases = append(r.Phases, PhaseReport{Name: p.name, DurationMS: millis(dur), Note: note})
	}
	r.TotalMS = millis(total)
	return r
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Combine merges per-worker reports, prefixing every phase with its
// worker's label. Workers run side by side, so TotalMS is the slowest
// worker's total rather than the sum.
func Combine(labels []string, reports []Report) Report {
	var out Report
	for i, r := range reports {
		label := fmt.Sprintf("w%d", i)
		if i < len(labels) {
			label = labels[i]
		}
		for _, p := range r.Phases {
			p.Name = label + "/" + p.Name
			out.Phases = append(out.Phases, p)
		}
		out.TotalMS = max(out.TotalMS, r.TotalMS)
	}
	return out
}
