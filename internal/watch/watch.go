// Package watch turns fsnotify events under a project root into debounced
// batches of file changes.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar"
	"github.com/fsnotify/fsnotify"

	"checkpool/internal/trace"
)

// Op says what happened to a path by the time its batch was flushed.
type Op int

const (
	OpChanged Op = iota
	OpRemoved
)

func (op Op) String() string {
	switch op {
	case OpChanged:
		return "changed"
	case OpRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one settled path. ModTime is zero for removals.
type Change struct {
	Path    string
	Op      Op
	ModTime time.Time
}

// Handler receives one debounced batch, sorted by path.
type Handler func(changes []Change)

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period that closes a batch.
	Debounce time.Duration
	// Ignore holds doublestar patterns matched against root-relative slash
	// paths; matching directories are not watched.
	Ignore []string
	// BufferSize bounds pending raw events; overflow is dropped.
	BufferSize int
}

// DefaultOptions returns the options used by the watch command.
func DefaultOptions() Options {
	return Options{
		Debounce:   100 * time.Millisecond,
		Ignore:     []string{"**/.git", "**/.git/**", "**/node_modules", "**/node_modules/**"},
		BufferSize: 1000,
	}
}

// Watcher watches a directory tree recursively.
type Watcher struct {
	root    string
	fsw     *fsnotify.Watcher
	handler Handler
	opts    Options

	events   chan string
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a watcher over root; call Start to begin delivering batches.
func New(root string, handler Handler, opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultOptions().Debounce
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:    root,
		fsw:     fsw,
		handler: handler,
		opts:    opts,
		events:  make(chan string, opts.BufferSize),
		done:    make(chan struct{}),
	}, nil
}

// Start registers every directory under root and starts the event loops.
func (w *Watcher) Start(ctx context.Context) error {
	if _, err := w.addRecursive(w.root); err != nil {
		return err
	}
	w.wg.Add(2)
	go w.readEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop closes the watcher and waits for the loops; a pending batch is
// flushed first.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fsw.Close()
	})
	w.wg.Wait()
}

// addRecursive watches dir and its subdirectories and returns the regular
// files found on the way.
func (w *Watcher) addRecursive(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if w.ignored(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			files = append(files, path)
			return nil
		}
		return w.fsw.Add(path)
	})
	return files, err
}

func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, p := range w.opts.Ignore {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) readEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op == fsnotify.Chmod || w.ignored(ev.Name) {
				continue
			}
			select {
			case w.events <- ev.Name:
			default:
				trace.Log(ctx, trace.ScopeOrchestrator, "watch-overflow", ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			trace.Log(ctx, trace.ScopeOrchestrator, "watch-error", err.Error())
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()
	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if len(pending) == 0 {
			return
		}
		changes := w.settle(pending)
		pending = make(map[string]struct{})
		if len(changes) > 0 && w.handler != nil {
			w.handler(changes)
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case path := <-w.events:
			pending[path] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.opts.Debounce)
			}
		case <-timerC:
			timer, timerC = nil, nil
			flush()
		}
	}
}

// settle stats every pending path once. New directories are watched and
// their files reported, since their own events may predate the watch.
func (w *Watcher) settle(pending map[string]struct{}) []Change {
	seen := make(map[string]struct{}, len(pending))
	var out []Change
	emit := func(c Change) {
		if _, dup := seen[c.Path]; dup {
			return
		}
		seen[c.Path] = struct{}{}
		out = append(out, c)
	}

	for path := range pending {
		info, err := os.Stat(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			emit(Change{Path: path, Op: OpRemoved})
		case err != nil:
			continue
		case info.IsDir():
			files, _ := w.addRecursive(path)
			for _, f := range files {
				if fi, err := os.Stat(f); err == nil {
					emit(Change{Path: f, Op: OpChanged, ModTime: fi.ModTime()})
				}
			}
		default:
			emit(Change{Path: path, Op: OpChanged, ModTime: info.ModTime()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
