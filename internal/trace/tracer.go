package trace

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Tracer receives events. Implementations are safe for concurrent use.
type Tracer interface {
	Emit(ev *Event)
	Flush() error
	Close() error
	Level() Level
	Enabled() bool
}

// StorageMode selects how events are kept.
type StorageMode uint8

const (
	ModeStream StorageMode = iota + 1 // write each event at once
	ModeRing                          // keep the last RingSize events, write them on Close
)

func (m StorageMode) String() string {
	switch m {
	case ModeStream:
		return "stream"
	case ModeRing:
		return "ring"
	}
	return "unknown"
}

// ParseMode parses a storage mode name.
func ParseMode(s string) (StorageMode, error) {
	switch strings.ToLower(s) {
	case "stream":
		return ModeStream, nil
	case "ring":
		return ModeRing, nil
	}
	return ModeStream, fmt.Errorf("invalid trace mode: %q (expected: stream|ring)", s)
}

// Config describes a tracer.
type Config struct {
	Level  Level
	Mode   StorageMode
	Format Format
	// Output wins over OutputPath; OutputPath "" or "-" means stderr.
	Output     io.Writer
	OutputPath string
	RingSize   int
	Heartbeat  time.Duration
	// Proc names this process in every event.
	Proc string
}

const defaultRingSize = 4096

// New builds the tracer cfg describes. LevelOff yields Nop.
func New(cfg Config) (Tracer, error) {
	if cfg.Level == LevelOff {
		return Nop, nil
	}
	format := cfg.Format
	if format == FormatAuto {
		format = formatFor(cfg.OutputPath)
	}
	w, err := openOutput(cfg)
	if err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case ModeStream, 0:
		t := NewStreamTracer(w, cfg.Level, format)
		t.proc = cfg.Proc
		return t, nil
	case ModeRing:
		size := cfg.RingSize
		if size <= 0 {
			size = defaultRingSize
		}
		t := NewRingTracer(size, cfg.Level)
		t.proc = cfg.Proc
		t.out, t.format = w, format
		return t, nil
	}
	return nil, fmt.Errorf("unknown trace mode: %v", cfg.Mode)
}

func formatFor(path string) Format {
	if strings.HasSuffix(path, ".ndjson") || strings.HasSuffix(path, ".json") {
		return FormatNDJSON
	}
	return FormatText
}

func openOutput(cfg Config) (io.Writer, error) {
	if cfg.Output != nil {
		return cfg.Output, nil
	}
	if cfg.OutputPath == "" || cfg.OutputPath == "-" {
		return noClose{os.Stderr}, nil
	}
	f, err := os.Create(cfg.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("open trace output: %w", err)
	}
	return f, nil
}

// noClose hides the Close method of stderr from tracers.
type noClose struct{ io.Writer }

func stamp(ev *Event, proc string) {
	if ev.Proc == "" {
		ev.Proc = proc
	}
}
