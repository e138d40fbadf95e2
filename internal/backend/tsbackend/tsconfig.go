package tsbackend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"checkpool/internal/backend"
)

// ConfigName is the compiler's project file.
const ConfigName = "tsconfig.json"

type tsconfig struct {
	Files   []string `json:"files"`
	Include []string `json:"include"`
	Exclude []string `json:"exclude"`
}

// ReadConfig reads tsconfig.json under root. A missing file yields nil and
// lets the caller's defaults apply.
func (c *Compiler) ReadConfig(root string) (*backend.ProjectConfig, error) {
	p := filepath.Join(root, ConfigName)
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var tc tsconfig
	if err := json.Unmarshal(stripJSONC(data), &tc); err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}

	pc := &backend.ProjectConfig{Files: tc.Files}
	for _, inc := range tc.Include {
		pc.Include = append(pc.Include, includePatterns(inc)...)
	}
	for _, exc := range tc.Exclude {
		pc.Exclude = append(pc.Exclude, excludePattern(exc))
	}
	return pc, nil
}

// includePatterns turns a tsconfig include entry into globs over source
// files only: a bare directory or a trailing wildcard expands per extension.
func includePatterns(p string) []string {
	p = strings.TrimPrefix(filepath.ToSlash(p), "./")
	p = strings.TrimSuffix(p, "/")
	var stem string
	switch {
	case p == "**" || strings.HasSuffix(p, "/**"):
		stem = p + "/*"
	case p == "*" || strings.HasSuffix(p, "/*"):
		stem = p
	case !strings.ContainsAny(p, "*?[") && path.Ext(p) == "":
		stem = p + "/**/*"
	default:
		return []string{p}
	}
	out := make([]string, 0, len(Extensions))
	for _, ext := range Extensions {
		out = append(out, stem+ext)
	}
	return out
}

// excludePattern turns a tsconfig exclude entry into a glob that also covers
// everything below a directory.
func excludePattern(p string) string {
	p = strings.TrimPrefix(filepath.ToSlash(p), "./")
	p = strings.TrimSuffix(p, "/")
	if !strings.ContainsAny(p, "*?[") && path.Ext(p) == "" {
		return p + "/**"
	}
	return p
}

// stripJSONC removes comments and trailing commas, which tsconfig files
// allow and encoding/json does not.
func stripJSONC(in []byte) []byte {
	out := make([]byte, 0, len(in))
	inString := false
	for i := 0; i < len(in); i++ {
		ch := in[i]
		if inString {
			out = append(out, ch)
			switch ch {
			case '\\':
				if i+1 < len(in) {
					i++
					out = append(out, in[i])
				}
			case '"':
				inString = false
			}
			continue
		}
		switch {
		case ch == '"':
			inString = true
			out = append(out, ch)
		case ch == '/' && i+1 < len(in) && in[i+1] == '/':
			for i < len(in) && in[i] != '\n' {
				i++
			}
			if i < len(in) {
				out = append(out, '\n')
			}
		case ch == '/' && i+1 < len(in) && in[i+1] == '*':
			i += 2
			for i+1 < len(in) && (in[i] != '*' || in[i+1] != '/') {
				i++
			}
			i++
		case ch == ',' && closesNext(in[i+1:]):
		default:
			out = append(out, ch)
		}
	}
	return out
}

// closesNext reports whether the next significant byte closes an object or
// array, skipping whitespace and comments.
func closesNext(rest []byte) bool {
	for i := 0; i < len(rest); i++ {
		switch ch := rest[i]; {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
		case ch == '/' && i+1 < len(rest) && rest[i+1] == '/':
			for i < len(rest) && rest[i] != '\n' {
				i++
			}
		case ch == '/' && i+1 < len(rest) && rest[i+1] == '*':
			i += 2
			for i+1 < len(rest) && (rest[i] != '*' || rest[i+1] != '/') {
				i++
			}
			i++
		default:
			return ch == '}' || ch == ']'
		}
	}
	return false
}
