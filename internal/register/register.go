// Package register keeps the per-file cache a checker worker reuses between
// runs: modification time, parsed handle and style results.
package register

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"checkpool/internal/backend"
)

// Entry is one file's cached state. Values returned by Register are copies;
// the Style slice is shared and must not be modified.
type Entry struct {
	Path    string
	ModTime time.Time
	// Parsed is nil while the entry is stale.
	Parsed       backend.Handle
	StyleChecked bool
	// StyleStamp identifies the style config the results were produced with.
	StyleStamp string
	Style      []backend.Violation
}

// Register is a thread-safe map of absolute path to Entry.
type Register struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// New creates an empty register.
func New() *Register {
	return &Register{entries: make(map[string]*Entry)}
}

// Has reports whether path has an entry.
func (r *Register) Has(path string) bool {
	r.mu.RLock()
	_, ok := r.entries[path]
	r.mu.RUnlock()
	return ok
}

// Get returns a copy of the entry for path.
func (r *Register) Get(path string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[path]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Touch records mtime for path. When the stored time differs the entry's
// parsed handle and style results are dropped; the entry itself stays.
// A missing entry is created. It reports whether cached state was dropped.
func (r *Register) Touch(path string, mtime time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[path]
	if !ok {
		r.entries[path] = &Entry{Path: path, ModTime: mtime}
		return false
	}
	if e.ModTime.Equal(mtime) {
		return false
	}
	e.ModTime = mtime
	e.invalidate()
	return true
}

// Remove deletes the entry and everything cached for it.
func (r *Register) Remove(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[path]; !ok {
		return false
	}
	delete(r.entries, path)
	return true
}

// RemoveUnder deletes every entry inside dir and returns how many were
// dropped. Watchers report a deleted directory once, not per file.
func (r *Register) RemoveUnder(dir string) int {
	dir = filepath.Clean(dir)
	prefix := dir + string(filepath.Separator)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for p := range r.entries {
		if strings.HasPrefix(p, prefix) {
			delete(r.entries, p)
			n++
		}
	}
	return n
}

// Parsed returns the fresh parsed handle for path, if there is one.
func (r *Register) Parsed(path string) (backend.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[path]
	if !ok || e.Parsed == nil {
		return nil, false
	}
	return e.Parsed, true
}

// SetParsed stores a handle parsed from the file as of mtime. If the entry
// moved to another mtime meanwhile the handle is discarded.
func (r *Register) SetParsed(path string, mtime time.Time, h backend.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[path]
	if !ok {
		e = &Entry{Path: path, ModTime: mtime}
		r.entries[path] = e
	}
	if !e.ModTime.Equal(mtime) {
		return
	}
	e.Parsed = h
}

// StoreStyle records style results for path and marks it style-checked.
func (r *Register) StoreStyle(path, stamp string, results []backend.Violation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[path]
	if !ok {
		return
	}
	e.Style = results
	e.StyleStamp = stamp
	e.StyleChecked = true
}

// InvalidateStyleUnder clears StyleChecked for every entry inside dir and
// returns how many entries were affected.
func (r *Register) InvalidateStyleUnder(dir string) int {
	dir = filepath.Clean(dir)
	prefix := dir + string(filepath.Separator)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for p, e := range r.entries {
		if p != dir && !strings.HasPrefix(p, prefix) {
			continue
		}
		if e.StyleChecked {
			n++
		}
		e.StyleChecked = false
		e.StyleStamp = ""
		e.Style = nil
	}
	return n
}

// Paths returns every registered path in sorted order.
func (r *Register) Paths() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.entries))
	for p := range r.entries {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of entries.
func (r *Register) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (e *Entry) invalidate() {
	e.Parsed = nil
	e.StyleChecked = false
	e.StyleStamp = ""
	e.Style = nil
}
