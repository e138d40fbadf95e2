package trace

import (
	"fmt"
	"strings"
)

// Level is the tracing verbosity.
type Level uint8

const (
	LevelOff    Level = iota
	LevelError        // orchestrator events only: worker exits, watcher errors
	LevelPhase        // plus run boundaries
	LevelDetail       // plus worker request handling
	LevelDebug        // plus every file
)

var levelNames = [...]string{"off", "error", "phase", "detail", "debug"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

// ParseLevel parses a level name, ignoring case.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}
	return LevelOff, fmt.Errorf("invalid trace level: %q (expected: %s)", s, strings.Join(levelNames[:], "|"))
}

// ShouldEmit reports whether events of scope pass at level l. Each level
// admits one more scope than the one below it.
func (l Level) ShouldEmit(scope Scope) bool {
	return l != LevelOff && scope != 0 && uint8(scope) <= uint8(l)
}
