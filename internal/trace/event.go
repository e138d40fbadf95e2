package trace

import (
	"sync/atomic"
	"time"
)

// Kind is what an event marks.
type Kind uint8

const (
	KindSpanBegin Kind = iota + 1
	KindSpanEnd
	KindPoint
	KindHeartbeat
)

func (k Kind) String() string {
	switch k {
	case KindSpanBegin:
		return "begin"
	case KindSpanEnd:
		return "end"
	case KindPoint:
		return "point"
	case KindHeartbeat:
		return "heartbeat"
	}
	return "unknown"
}

// Scope is the granularity of an event; smaller values are coarser.
type Scope uint8

const (
	ScopeOrchestrator Scope = iota + 1
	ScopeRun
	ScopeWorker
	ScopeFile
)

func (s Scope) String() string {
	switch s {
	case ScopeOrchestrator:
		return "orchestrator"
	case ScopeRun:
		return "run"
	case ScopeWorker:
		return "worker"
	case ScopeFile:
		return "file"
	}
	return "unknown"
}

// Event is one trace record.
type Event struct {
	Time     time.Time
	Seq      uint64
	Kind     Kind
	Scope    Scope
	Proc     string // emitting process; stamped by the tracer when empty
	Run      string // token ID of the run the event belongs to
	SpanID   uint64
	ParentID uint64
	Name     string
	Detail   string
	Extra    map[string]string
}

var (
	seq   atomic.Uint64
	spans atomic.Uint64
)

func nextSeq() uint64 { return seq.Add(1) }
