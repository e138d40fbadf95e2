package diag

import (
	"fmt"
	"strings"
)

// Severity defines the importance of a result.
type Severity uint8

const (
	// SevWarning is for results that do not fail a build.
	SevWarning Severity = iota
	SevError
)

func (s Severity) String() string {
	switch s {
	case SevWarning:
		return "WARNING"
	case SevError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// ParseSeverity reads a configured severity. "off" is reported with ok=false.
func ParseSeverity(s string) (sev Severity, ok bool, err error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warning", "warn":
		return SevWarning, true, nil
	case "error", "err":
		return SevError, true, nil
	case "off", "":
		return SevWarning, false, nil
	default:
		return SevWarning, false, fmt.Errorf("invalid severity %q (expected: off|warning|error)", s)
	}
}
