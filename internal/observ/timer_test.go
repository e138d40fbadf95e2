package observ

import (
	"testing"
	"time"
)

func TestTimer_TrackRecordsNote(t *testing.T) {
	tm := NewTimer()
	done := tm.Track("refresh")
	done("3 files")
	done("ignored")
	tm.Track("diagnostics")

	r := tm.Report()
	if len(r.Phases) != 2 || r.Phases[0].Name != "refresh" || r.Phases[0].Note != "3 files" {
		t.Fatalf("unexpected report: %+v", r)
	}
	if r.Phases[1].Note != "unfinished" {
		t.Fatalf("open phase note = %q", r.Phases[1].Note)
	}
}

func TestTimer_EmptyReport(t *testing.T) {
	if r := NewTimer().Report(); r.TotalMS != 0 || r.Phases != nil {
		t.Fatalf("expected zero report, got %+v", r)
	}
}

func TestCombine_PrefixesAndTakesSlowest(t *testing.T) {
	a := Report{TotalMS: 5, Phases: []PhaseReport{{Name: "refresh", DurationMS: 5}}}
	b := Report{TotalMS: 9, Phases: []PhaseReport{{Name: "refresh", DurationMS: 9}}}
	got := Combine([]string{"w0"}, []Report{a, b})
	if got.TotalMS != 9 {
		t.Fatalf("total = %v, want 9", got.TotalMS)
	}
	if got.Phases[0].Name != "w0/refresh" || got.Phases[1].Name != "w1/refresh" {
		t.Fatalf("unexpected phases: %+v", got.Phases)
	}
	if got.Phases[1].Duration() != 9*time.Millisecond {
		t.Fatalf("duration = %v", got.Phases[1].Duration())
	}
}
