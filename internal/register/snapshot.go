package register

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"checkpool/internal/backend"
)

// bump when snapshotFile changes shape
const snapshotSchema uint16 = 1

type snapshot struct {
	Schema uint16         `msgpack:"schema"`
	Files  []snapshotFile `msgpack:"files"`
}

// Parsed handles are never persisted; only what lets a restarted worker
// skip re-running style rules on untouched files.
type snapshotFile struct {
	Path       string              `msgpack:"path"`
	ModTime    int64               `msgpack:"mtime"`
	StyleStamp string              `msgpack:"stamp,omitempty"`
	Style      []backend.Violation `msgpack:"style,omitempty"`
}

// Save writes the style-checked entries to path atomically.
func (r *Register) Save(path string) error {
	snap := snapshot{Schema: snapshotSchema}
	r.mu.RLock()
	for _, e := range r.entries {
		if !e.StyleChecked {
			continue
		}
		snap.Files = append(snap.Files, snapshotFile{
			Path:       e.Path,
			ModTime:    e.ModTime.UnixNano(),
			StyleStamp: e.StyleStamp,
			Style:      e.Style,
		})
	}
	r.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), "tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		_ = os.Remove(tmp)
	}()

	if err := msgpack.NewEncoder(f).Encode(&snap); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode register snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	// атомарная замена
	return os.Rename(tmp, path)
}

// Load restores entries saved by Save. Restored entries carry no parsed
// handle; their style results stay valid as long as the next Touch reports
// the same modification time. A missing file is not an error. A snapshot
// with a foreign schema is ignored.
func (r *Register) Load(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	defer func() {
		_ = f.Close()
	}()

	var snap snapshot
	if err := msgpack.NewDecoder(f).Decode(&snap); err != nil {
		return 0, fmt.Errorf("decode register snapshot: %w", err)
	}
	if snap.Schema != snapshotSchema {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sf := range snap.Files {
		if _, ok := r.entries[sf.Path]; ok {
			continue
		}
		r.entries[sf.Path] = &Entry{
			Path:         sf.Path,
			ModTime:      time.Unix(0, sf.ModTime),
			StyleChecked: true,
			StyleStamp:   sf.StyleStamp,
			Style:        sf.Style,
		}
	}
	return len(snap.Files), nil
}
