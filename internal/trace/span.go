package trace

import "time"

// Span is an open operation. The zero Span is inert, which is what Start
// hands out when its scope is filtered.
type Span struct {
	tracer  Tracer
	id      uint64
	parent  uint64
	run     string
	scope   Scope
	name    string
	started time.Time
	extra   map[string]string
	ended   bool
}

// ID returns the span ID, 0 for an inert span.
func (s *Span) ID() uint64 {
	if s == nil {
		return 0
	}
	return s.id
}

// WithExtra attaches key=value to the span's end event.
func (s *Span) WithExtra(key, value string) *Span {
	if s == nil || s.tracer == nil {
		return s
	}
	if s.extra == nil {
		s.extra = make(map[string]string, 2)
	}
	s.extra[key] = value
	return s
}

// End closes the span with an optional outcome and returns its duration.
// Only the first End is recorded.
func (s *Span) End(detail string) time.Duration {
	if s == nil || s.tracer == nil || s.ended {
		return 0
	}
	s.ended = true
	now := time.Now()
	ev := s.event(KindSpanEnd, now, detail)
	ev.Extra = s.extra
	s.tracer.Emit(ev)
	return now.Sub(s.started)
}

func (s *Span) event(kind Kind, at time.Time, detail string) *Event {
	return &Event{
		Time:     at,
		Seq:      nextSeq(),
		Kind:     kind,
		Scope:    s.scope,
		Run:      s.run,
		SpanID:   s.id,
		ParentID: s.parent,
		Name:     s.name,
		Detail:   detail,
	}
}
