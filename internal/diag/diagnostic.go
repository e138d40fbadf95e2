package diag

import "fmt"

// Kind separates compiler diagnostics from style-rule findings.
type Kind uint8

const (
	KindDiagnostic Kind = iota
	KindStyle
)

func (k Kind) String() string {
	switch k {
	case KindDiagnostic:
		return "diagnostic"
	case KindStyle:
		return "style"
	}
	return "unknown"
}

// Result is the canonical, de-duplicated unit returned to callers.
// Line and Column are 1-based; zero means "no position".
type Result struct {
	Kind     Kind     `msgpack:"kind" json:"kind"`
	Code     string   `msgpack:"code" json:"code"`
	Severity Severity `msgpack:"severity" json:"severity"`
	Message  string   `msgpack:"message" json:"message"`
	File     string   `msgpack:"file" json:"file"`
	Line     int      `msgpack:"line" json:"line"`
	Column   int      `msgpack:"column" json:"column"`
}

func (r Result) String() string {
	return fmt.Sprintf("%s:%d:%d: %s %s: %s", r.File, r.Line, r.Column, r.Severity, r.Code, r.Message)
}

// CodeInternal tags the synthetic result produced from an unexpected failure.
const CodeInternal = "INTERNAL"

// Internal converts an unexpected failure into a single diagnostic so the
// caller still receives a well-formed RunResult.
func Internal(err error) Result {
	msg := "internal error"
	if err != nil {
		msg = "internal error: " + err.Error()
	}
	return Result{
		Kind:     KindDiagnostic,
		Code:     CodeInternal,
		Severity: SevError,
		Message:  msg,
	}
}
