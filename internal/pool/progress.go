package pool

import "time"

// Stage describes what a worker is doing.
type Stage string

const (
	StageSpawn    Stage = "spawn"
	StageRun      Stage = "run"
	StageShutdown Stage = "shutdown"
)

// Status captures progress state within a stage.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusWorking   Status = "working"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Event reports progress for one worker.
type Event struct {
	Worker  int
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
	// Results is the number of results a finished run reported.
	Results int
}

// ProgressSink consumes progress events. OnEvent is called from the pool's
// dispatch goroutines and must not block for long.
type ProgressSink interface {
	OnEvent(Event)
}

// ChannelSink forwards events into a channel.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	s.Ch <- evt
}

type nopSink struct{}

func (nopSink) OnEvent(Event) {}
