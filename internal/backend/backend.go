// Package backend describes the narrow surface checkpool needs from a
// compiler and a style engine.
//
// Everything behind these interfaces is treated as a black box: parsed
// handles are opaque, and results come back in tool-native shapes
// (Diagnostic, Violation) that internal/diag converts into the canonical
// record.
package backend

import (
	"context"
	"errors"
)

var (
	// ErrInvalidSource marks a backend failure caused by content the tool
	// cannot parse at all. Such failures are swallowed per file.
	ErrInvalidSource = errors.New("invalid source")
	// ErrNotInProgram is returned when a file is asked for that the current
	// program does not contain.
	ErrNotInProgram = errors.New("file is not part of the program")
)

// Handle is an opaque parsed representation owned by the compiler.
type Handle any

// Category is the compiler's own classification of a diagnostic.
type Category uint8

const (
	CategoryWarning Category = iota
	CategoryError
	CategorySuggestion
	CategoryMessage
)

func (c Category) String() string {
	switch c {
	case CategoryWarning:
		return "warning"
	case CategoryError:
		return "error"
	case CategorySuggestion:
		return "suggestion"
	case CategoryMessage:
		return "message"
	}
	return "unknown"
}

// Diagnostic is a raw compiler diagnostic. Line and Column are 0-based.
type Diagnostic struct {
	Code     int
	Category Category
	Message  string
	File     string
	Line     int
	Column   int
}

// Violation is a raw style-engine finding. Line and Column are 0-based,
// Severity is the rule's configured level ("warning", "error" or "off").
type Violation struct {
	Rule     string `msgpack:"rule"`
	Severity string `msgpack:"severity"`
	Message  string `msgpack:"message"`
	File     string `msgpack:"file"`
	Line     int    `msgpack:"line"`
	Column   int    `msgpack:"column"`
}

// RuleSetting configures one style rule.
type RuleSetting struct {
	Severity string         `toml:"severity"`
	Options  map[string]any `toml:"options"`
}

// Rules maps rule names to their settings. A nil Rules means "engine
// defaults".
type Rules map[string]RuleSetting

// ProjectConfig is what the compiler reads from its own project file.
type ProjectConfig struct {
	// Files, when non-empty, is the explicit file list and wins over
	// Include/Exclude.
	Files   []string
	Include []string
	Exclude []string
}

// Host serves parsed files to the compiler while a program is built.
type Host interface {
	// SourceFile returns the parsed handle for path. ok is false when the
	// file no longer exists and must drop out of the program.
	SourceFile(path string) (h Handle, ok bool, err error)
}

// Program is the compiler's whole-project semantic model.
type Program interface {
	// Files lists every file of the program in a deterministic order.
	Files() []string
	// Source returns the parsed handle the program was built from.
	Source(path string) (Handle, bool)
	// Diagnostics computes semantic diagnostics for path and, when
	// syntactic is set, syntactic ones too.
	Diagnostics(ctx context.Context, path string, syntactic bool) ([]Diagnostic, error)
}

// Compiler is the compiler backend.
type Compiler interface {
	ReadConfig(root string) (*ProjectConfig, error)
	Parse(path string, content []byte) (Handle, error)
	// BuildProgram creates a program over files, pulling parsed files
	// through host. previous may be nil; when set, parts of it that are not
	// affected by changed files are reused.
	BuildProgram(ctx context.Context, files []string, host Host, previous Program) (Program, error)
}

// StyleEngine runs style rules against one file of a program.
type StyleEngine interface {
	Check(ctx context.Context, prog Program, path string, rules Rules) ([]Violation, error)
}
