package trace

import (
	"errors"
	"io"
	"sync"
)

// RingTracer keeps the most recent events in memory. When it has an output
// it writes them there on Close, which leaves the tail of a long watch
// session or a crashed run without streaming everything before it.
type RingTracer struct {
	mu     sync.Mutex
	buf    []Event
	next   int
	filled bool
	level  Level
	proc   string

	out    io.Writer
	format Format
}

// NewRingTracer creates an in-memory ring of the given size.
func NewRingTracer(size int, level Level) *RingTracer {
	if size <= 0 {
		size = defaultRingSize
	}
	return &RingTracer{buf: make([]Event, size), level: level}
}

func (t *RingTracer) Emit(ev *Event) {
	if ev.Kind != KindHeartbeat && !t.level.ShouldEmit(ev.Scope) {
		return
	}
	stamp(ev, t.proc)
	t.mu.Lock()
	t.buf[t.next] = *ev
	t.next++
	if t.next == len(t.buf) {
		t.next = 0
		t.filled = true
	}
	t.mu.Unlock()
}

// Snapshot returns the kept events, oldest first.
func (t *RingTracer) Snapshot() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.filled {
		return append([]Event(nil), t.buf[:t.next]...)
	}
	out := make([]Event, 0, len(t.buf))
	out = append(out, t.buf[t.next:]...)
	return append(out, t.buf[:t.next]...)
}

// Dump writes the kept events to w.
func (t *RingTracer) Dump(w io.Writer, format Format) error {
	events := t.Snapshot()
	for i := range events {
		if _, err := w.Write(FormatEvent(&events[i], format)); err != nil {
			return err
		}
	}
	return nil
}

func (t *RingTracer) Flush() error { return nil }

// Close dumps the ring to the configured output, if any, and closes it.
func (t *RingTracer) Close() error {
	t.mu.Lock()
	out := t.out
	t.out = nil
	t.mu.Unlock()
	if out == nil {
		return nil
	}
	err := t.Dump(out, t.format)
	if c, ok := out.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}

func (t *RingTracer) Level() Level  { return t.level }
func (t *RingTracer) Enabled() bool { return t.level > LevelOff }
