package diagfmt

import "path/filepath"

// PathMode specifies how file paths are displayed.
type PathMode uint8

const (
	// PathModeAuto shows paths relative to BaseDir when they live under it.
	PathModeAuto PathMode = iota
	// PathModeAbsolute always uses absolute paths.
	PathModeAbsolute
	PathModeRelative
	PathModeBasename
)

// ParsePathMode maps a flag value to a PathMode.
func ParsePathMode(s string) (PathMode, bool) {
	switch s {
	case "", "auto":
		return PathModeAuto, true
	case "absolute", "abs":
		return PathModeAbsolute, true
	case "relative", "rel":
		return PathModeRelative, true
	case "basename", "base":
		return PathModeBasename, true
	}
	return PathModeAuto, false
}

// PrettyOpts configures pretty-printing of results.
type PrettyOpts struct {
	Color    bool
	PathMode PathMode
	BaseDir  string
	// Context prints the offending source line under each result.
	Context bool
	// Summary prints the totals line at the end.
	Summary bool
}

// JSONOpts configures JSON output of results.
type JSONOpts struct {
	PathMode PathMode
	BaseDir  string
	Max      int // обрезка вывода по каждому списку, 0 - без ограничений
}

// FormatPath renders path (slash-separated, as results carry it) per mode.
func FormatPath(path string, mode PathMode, baseDir string) string {
	if path == "" {
		return ""
	}
	native := filepath.FromSlash(path)
	switch mode {
	case PathModeAbsolute:
		if abs, err := filepath.Abs(native); err == nil {
			return filepath.ToSlash(abs)
		}
		return path
	case PathModeBasename:
		return filepath.Base(native)
	case PathModeRelative, PathModeAuto:
		if baseDir == "" {
			return path
		}
		rel, err := filepath.Rel(baseDir, native)
		if err != nil {
			return path
		}
		if mode == PathModeAuto && (rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)) {
			return path
		}
		return filepath.ToSlash(rel)
	}
	return path
}
