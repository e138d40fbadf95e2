// Package protocol defines the messages exchanged between the orchestrator
// and checker workers.
package protocol

import (
	"time"

	"checkpool/internal/cancel"
	"checkpool/internal/diag"
	"checkpool/internal/observ"
)

// Version is bumped whenever a message changes shape. A worker refuses an
// init from an orchestrator speaking another version.
const Version = 1

// Message types.
const (
	TypeInit     = "init"
	TypeRun      = "run"
	TypeChanged  = "changed"
	TypeRemoved  = "removed"
	TypeShutdown = "shutdown"
)

// WorkerConfig is the part of the project configuration a worker needs.
type WorkerConfig struct {
	Root        string        `msgpack:"root"`
	Include     []string      `msgpack:"include"`
	Exclude     []string      `msgpack:"exclude"`
	Syntactic   bool          `msgpack:"syntactic"`
	Style       bool          `msgpack:"style"`
	StyleConfig string        `msgpack:"style_config,omitempty"`
	CancelPoll  time.Duration `msgpack:"cancel_poll"`
	CacheDir    string        `msgpack:"cache_dir,omitempty"`
}

// InitRequest configures a freshly spawned worker with its shard.
type InitRequest struct {
	Protocol int          `msgpack:"protocol"`
	Config   WorkerConfig `msgpack:"config"`
	Index    int          `msgpack:"index"`
	Count    int          `msgpack:"count"`
}

// InitReply acknowledges InitRequest.
type InitReply struct {
	PID      int `msgpack:"pid"`
	Restored int `msgpack:"restored"`
}

// RunRequest starts one check.
type RunRequest struct {
	Token cancel.Wire `msgpack:"token"`
}

// RunReply carries one worker's contribution. Cancelled replies carry no
// result.
type RunReply struct {
	Token     string         `msgpack:"token"`
	Cancelled bool           `msgpack:"cancelled"`
	Result    diag.RunResult `msgpack:"result"`
	Timings   observ.Report  `msgpack:"timings"`
	Parses    int64          `msgpack:"parses"`
}

// ChangedNotice reports a modified or created file.
type ChangedNotice struct {
	Path    string    `msgpack:"path"`
	ModTime time.Time `msgpack:"mtime"`
}

// RemovedNotice reports a deleted file or directory.
type RemovedNotice struct {
	Path string `msgpack:"path"`
}

// ShutdownRequest asks a worker to persist its state and exit.
type ShutdownRequest struct{}

// ShutdownReply acknowledges ShutdownRequest.
type ShutdownReply struct {
	Saved bool `msgpack:"saved"`
}
