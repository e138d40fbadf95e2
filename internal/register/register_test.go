package register

import (
	"path/filepath"
	"testing"
	"time"

	"checkpool/internal/backend"
)

type handle struct{ name string }

func TestTouch_NewMtimeInvalidatesParseAndStyle(t *testing.T) {
	r := New()
	t1 := time.Unix(100, 0)
	t2 := time.Unix(200, 0)

	r.Touch("a.ts", t1)
	r.SetParsed("a.ts", t1, &handle{"a"})
	r.StoreStyle("a.ts", "cfg", []backend.Violation{{Rule: "no-var", File: "a.ts"}})

	if r.Touch("a.ts", t1) {
		t.Fatal("touch with the stored mtime must not invalidate")
	}
	if _, ok := r.Parsed("a.ts"); !ok {
		t.Fatal("expected fresh parsed handle")
	}

	if !r.Touch("a.ts", t2) {
		t.Fatal("touch with a new mtime must report invalidation")
	}
	e, ok := r.Get("a.ts")
	if !ok {
		t.Fatal("entry must survive touch")
	}
	if e.Parsed != nil {
		t.Fatal("parsed handle must be dropped")
	}
	if e.StyleChecked || len(e.Style) != 0 {
		t.Fatalf("style state must be dropped: %+v", e)
	}
	if !e.ModTime.Equal(t2) {
		t.Fatalf("mtime not updated: %v", e.ModTime)
	}
}

func TestRemove_DropsEntry(t *testing.T) {
	r := New()
	r.Touch("a.ts", time.Unix(1, 0))
	if !r.Has("a.ts") {
		t.Fatal("expected entry")
	}
	if !r.Remove("a.ts") || r.Has("a.ts") {
		t.Fatal("entry must be gone after remove")
	}
	if r.Remove("a.ts") {
		t.Fatal("second remove must report false")
	}
}

func TestSetParsed_IgnoresOutdatedHandle(t *testing.T) {
	r := New()
	t1 := time.Unix(1, 0)
	r.Touch("a.ts", t1)
	r.Touch("a.ts", time.Unix(2, 0))
	r.SetParsed("a.ts", t1, &handle{"old"})
	if _, ok := r.Parsed("a.ts"); ok {
		t.Fatal("handle parsed from an older mtime must be discarded")
	}
}

func TestInvalidateStyleUnder(t *testing.T) {
	r := New()
	root := filepath.FromSlash("/proj")
	files := []string{
		filepath.Join(root, "src", "a.ts"),
		filepath.Join(root, "src", "deep", "b.ts"),
		filepath.Join(root, "srcx", "c.ts"),
	}
	for _, f := range files {
		r.Touch(f, time.Unix(1, 0))
		r.StoreStyle(f, "s", nil)
	}
	if n := r.InvalidateStyleUnder(filepath.Join(root, "src")); n != 2 {
		t.Fatalf("expected 2 invalidated entries, got %d", n)
	}
	e, _ := r.Get(files[2])
	if !e.StyleChecked {
		t.Fatal("sibling directory with a shared prefix must not be touched")
	}
}

func TestSnapshot_RestoresStyleForUnchangedFiles(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "cache", "register.mp")
	mtime := time.Unix(0, 1234567890)

	r := New()
	r.Touch("a.ts", mtime)
	r.StoreStyle("a.ts", "stamp-1", []backend.Violation{{Rule: "no-var", Severity: "error", File: "a.ts", Line: 2}})
	r.Touch("b.ts", mtime)
	if err := r.Save(snapPath); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored := New()
	n, err := restored.Load(snapPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 1 || restored.Has("b.ts") {
		t.Fatalf("only style-checked entries are persisted, got n=%d", n)
	}
	if restored.Touch("a.ts", mtime) {
		t.Fatal("unchanged mtime must keep restored style")
	}
	e, _ := restored.Get("a.ts")
	if !e.StyleChecked || e.StyleStamp != "stamp-1" || len(e.Style) != 1 || e.Style[0].Line != 2 {
		t.Fatalf("unexpected restored entry: %+v", e)
	}
	if !restored.Touch("a.ts", mtime.Add(time.Second)) {
		t.Fatal("changed mtime must invalidate restored style")
	}

	if n, err := New().Load(filepath.Join(dir, "missing.mp")); err != nil || n != 0 {
		t.Fatalf("missing snapshot must be ignored: n=%d err=%v", n, err)
	}
}

func TestRemoveUnder(t *testing.T) {
	r := New()
	r.Touch(filepath.FromSlash("/p/gen/a.ts"), time.Unix(1, 0))
	r.Touch(filepath.FromSlash("/p/gen/sub/b.ts"), time.Unix(1, 0))
	r.Touch(filepath.FromSlash("/p/c.ts"), time.Unix(1, 0))
	if n := r.RemoveUnder(filepath.FromSlash("/p/gen")); n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if got := r.Paths(); len(got) != 1 || got[0] != filepath.FromSlash("/p/c.ts") {
		t.Fatalf("unexpected remaining paths %v", got)
	}
}
