package program

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar"

	"checkpool/internal/backend"
)

// Discover returns the sorted absolute file list of the project under root.
// An explicit file list in the backend's project config wins; otherwise its
// include patterns (or the given defaults) are walked, and both sets of
// exclude patterns apply.
func Discover(c backend.Compiler, root string, include, exclude []string) ([]string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	pc, err := c.ReadConfig(root)
	if err != nil {
		return nil, fmt.Errorf("read project config: %w", err)
	}
	if pc == nil {
		pc = &backend.ProjectConfig{}
	}
	if len(pc.Files) > 0 {
		return explicit(root, pc.Files), nil
	}
	if len(pc.Include) > 0 {
		include = pc.Include
	}
	excl := make([]string, 0, len(exclude)+len(pc.Exclude))
	excl = append(excl, exclude...)
	excl = append(excl, pc.Exclude...)
	return ListFiles(root, include, excl)
}

func explicit(root string, files []string) []string {
	seen := make(map[string]struct{}, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		if !filepath.IsAbs(f) {
			f = filepath.Join(root, filepath.FromSlash(f))
		}
		f = filepath.Clean(f)
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// ListFiles walks root and returns the absolute paths of regular files whose
// slash-separated root-relative path matches an include pattern and no
// exclude pattern. The result is sorted so every worker derives the same
// order.
func ListFiles(root string, include, exclude []string) ([]string, error) {
	for _, p := range append(append([]string{}, include...), exclude...) {
		if _, err := doublestar.Match(p, "x"); err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", p, err)
		}
	}

	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if excludesTree(exclude, rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if matchAny(include, rel) && !matchAny(exclude, rel) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// excludesTree reports whether a "dir/**" style pattern excludes everything
// below dir.
func excludesTree(patterns []string, dir string) bool {
	for _, p := range patterns {
		if !strings.HasSuffix(p, "/**") {
			continue
		}
		if ok, _ := doublestar.Match(p, dir+"/_"); ok {
			return true
		}
	}
	return false
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}
