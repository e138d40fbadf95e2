package testkit

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// WriteFile writes content to dir/rel, creating parent directories, and
// pins its modification time to base+gen seconds so tests control staleness
// without sleeping. It returns the absolute path.
func WriteFile(t testing.TB, dir, rel, content string, gen int) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
	mt := ModTime(gen)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatalf("chtimes %s: %v", rel, err)
	}
	return path
}

// ModTime returns the modification time WriteFile uses for gen.
func ModTime(gen int) time.Time {
	return baseTime.Add(time.Duration(gen) * time.Second)
}
