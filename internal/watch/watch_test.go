package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startWatcher(t *testing.T, root string) <-chan []Change {
	t.Helper()
	batches := make(chan []Change, 64)
	opts := DefaultOptions()
	opts.Debounce = 20 * time.Millisecond
	w, err := New(root, func(cs []Change) { batches <- cs }, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(w.Stop)
	return batches
}

// await collects batches until a change for path with op shows up.
func await(t *testing.T, batches <-chan []Change, path string, op Op) Change {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case cs := <-batches:
			for _, c := range cs {
				if c.Path == path && c.Op == op {
					return c
				}
			}
		case <-deadline:
			t.Fatalf("no %s event for %s", op, path)
		}
	}
}

func TestWatcherReportsWriteAndRemove(t *testing.T) {
	root := t.TempDir()
	batches := startWatcher(t, root)

	p := filepath.Join(root, "a.ts")
	if err := os.WriteFile(p, []byte("let a = 1;\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c := await(t, batches, p, OpChanged)
	if c.ModTime.IsZero() {
		t.Fatalf("changed event without mtime")
	}

	if err := os.Remove(p); err != nil {
		t.Fatalf("remove: %v", err)
	}
	c = await(t, batches, p, OpRemoved)
	if !c.ModTime.IsZero() {
		t.Fatalf("removal carries mtime %v", c.ModTime)
	}
}

func TestWatcherPicksUpNewDirectories(t *testing.T) {
	root := t.TempDir()
	batches := startWatcher(t, root)

	sub := filepath.Join(root, "pkg", "inner")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	p := filepath.Join(sub, "b.ts")
	if err := os.WriteFile(p, []byte("export {};\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	await(t, batches, p, OpChanged)
}

func TestWatcherIgnoresPatterns(t *testing.T) {
	root := t.TempDir()
	nm := filepath.Join(root, "node_modules")
	if err := os.MkdirAll(nm, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	batches := startWatcher(t, root)

	if err := os.WriteFile(filepath.Join(nm, "dep.ts"), []byte("x\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	marker := filepath.Join(root, "marker.ts")
	if err := os.WriteFile(marker, []byte("y\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cs := <-batches:
			for _, c := range cs {
				if filepath.Dir(c.Path) == nm {
					t.Fatalf("ignored path reported: %s", c.Path)
				}
				if c.Path == marker {
					return
				}
			}
		case <-deadline:
			t.Fatalf("marker never reported")
		}
	}
}

func TestSettleCollapsesRepeats(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Stop()

	kept := filepath.Join(root, "b.ts")
	if err := os.WriteFile(kept, []byte("b\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	gone := filepath.Join(root, "a.ts")
	changes := w.settle(map[string]struct{}{kept: {}, gone: {}})
	if len(changes) != 2 {
		t.Fatalf("changes %+v", changes)
	}
	if changes[0].Path != gone || changes[0].Op != OpRemoved {
		t.Fatalf("first %+v", changes[0])
	}
	if changes[1].Path != kept || changes[1].Op != OpChanged {
		t.Fatalf("second %+v", changes[1])
	}
}
