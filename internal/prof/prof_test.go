package prof

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSessionWritesProfiles(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		CPU:   filepath.Join(dir, "cpu.out"),
		Mem:   filepath.Join(dir, "mem.out"),
		Trace: filepath.Join(dir, "trace.out"),
	}
	s, err := Start(opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	for _, p := range []string{opts.CPU, opts.Mem, opts.Trace} {
		info, err := os.Stat(p)
		if err != nil || info.Size() == 0 {
			t.Fatalf("profile %s missing or empty: %v", p, err)
		}
	}
}

func TestWithSuffix(t *testing.T) {
	got := Options{CPU: "cpu.out"}.WithSuffix(".w2")
	if got.CPU != "cpu.out.w2" || got.Mem != "" || got.Trace != "" {
		t.Fatalf("got %+v", got)
	}
	if (Options{}).Enabled() || !got.Enabled() {
		t.Fatalf("Enabled mismatch")
	}
}
