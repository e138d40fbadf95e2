// Package cancel implements the cooperative cancellation token shared by the
// orchestrator and its workers.
//
// In-process copies of a token share one atomic flag. To cross a process
// boundary a token also names a marker file: Cancel creates it, and a worker
// holding a token rebuilt from its Wire form notices the file when it polls.
// Polling the file system is throttled by the token's poll interval.
package cancel

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCancelled is reported when a run observes its token cancelled.
var ErrCancelled = errors.New("run cancelled")

// Wire is the serialisable form of a Token.
type Wire struct {
	ID     string `msgpack:"id"`
	Marker string `msgpack:"marker,omitempty"`
}

// Token is a cooperative cancellation handle. Use it by pointer.
type Token struct {
	id     string
	marker string
	poll   time.Duration

	cancelled atomic.Bool

	mu        sync.Mutex
	checkedAt time.Time

	// guarded by the owning Source
	released bool
}

func newToken(id, marker string, poll time.Duration) *Token {
	return &Token{id: id, marker: marker, poll: poll}
}

// FromWire rebuilds a token received from another process.
func FromWire(w Wire, poll time.Duration) *Token {
	return newToken(w.ID, w.Marker, poll)
}

// ID returns the token identifier.
func (t *Token) ID() string {
	if t == nil {
		return ""
	}
	return t.id
}

// Wire returns the serialisable form.
func (t *Token) Wire() Wire {
	return Wire{ID: t.id, Marker: t.marker}
}

// Cancel marks the token cancelled and, for cross-process tokens, creates
// the marker file.
func (t *Token) Cancel() {
	if t == nil || t.cancelled.Swap(true) {
		return
	}
	if t.marker == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(t.marker), 0o755); err == nil {
		_ = os.WriteFile(t.marker, []byte(t.id), 0o600)
	}
}

// IsCancelled polls the token. The marker file is consulted at most once per
// poll interval.
func (t *Token) IsCancelled() bool {
	if t == nil {
		return false
	}
	if t.cancelled.Load() {
		return true
	}
	if t.marker == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if !t.checkedAt.IsZero() && now.Sub(t.checkedAt) < t.poll {
		return false
	}
	t.checkedAt = now
	if _, err := os.Stat(t.marker); err == nil {
		t.cancelled.Store(true)
		return true
	}
	return false
}

// Err returns ErrCancelled once the token is cancelled.
func (t *Token) Err() error {
	if t.IsCancelled() {
		return ErrCancelled
	}
	return nil
}

// cleanup removes the marker file, if any.
func (t *Token) cleanup() {
	if t == nil || t.marker == "" {
		return
	}
	_ = os.Remove(t.marker)
}
