// Package watcher follows directories on disk and feeds file changes into
// the import pipeline. Events are debounced so a file being written in
// several bursts is imported once.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches directory roots and invokes callbacks on file changes.
type Watcher struct {
	roots      []string
	extensions []string
	recursive  bool
	onImport   func(path string)
	onDelete   func(path string)
	debounce   time.Duration
	log        *zap.Logger

	mu       sync.Mutex
	notifier *fsnotify.Watcher
	pending  map[string]*time.Timer
	watched  map[string][]string // root -> directories registered with the notifier
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.log = l }
}

// WithDebounce overrides the debounce interval.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New creates a watcher over the given roots. onImport fires for created or
// modified files matching extensions (empty matches all), onDelete for
// removed ones.
func New(roots, extensions []string, recursive bool, onImport, onDelete func(path string), opts ...Option) *Watcher {
	w := &Watcher{
		roots:      roots,
		extensions: extensions,
		recursive:  recursive,
		onImport:   onImport,
		onDelete:   onDelete,
		debounce:   defaultDebounce,
		log:        zap.NewNop(),
		pending:    make(map[string]*time.Timer),
		watched:    make(map[string][]string),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start registers the roots and begins delivering events. It runs until ctx
// is cancelled or Stop is called. Missing roots are created.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.notifier = notifier
	w.started = true
	w.log.Debug("watcher starting",
		zap.Strings("roots", w.roots),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))
	for _, root := range w.roots {
		if err := w.registerRootLocked(root); err != nil {
			_ = w.notifier.Close()
			w.notifier = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()
	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.notifier.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.notifier.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.log.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if !w.underRoot(path) {
		return
	}
	w.log.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch ev.Op {
	case fsnotify.Create, fsnotify.Write:
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.directoryAppeared(path)
			return
		}
		if w.matches(path) {
			w.scheduleImport(path)
		}
	case fsnotify.Remove:
		w.cancelPending(path)
		if w.matches(path) && w.onDelete != nil {
			w.onDelete(path)
		}
	}
}

// directoryAppeared registers a directory created inside a watched root and
// imports the files already inside it. Files copied in together with the
// directory arrive before the notifier covers it, so the sweep is needed.
func (w *Watcher) directoryAppeared(dir string) {
	w.mu.Lock()
	recursive := w.recursive
	notifier := w.notifier
	w.mu.Unlock()
	if notifier == nil {
		return
	}
	w.log.Debug("watcher covering new directory", zap.String("path", dir))
	if recursive {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if err := notifier.Add(path); err != nil {
					w.log.Debug("watcher add failed", zap.String("path", path), zap.Error(err))
				}
			}
			return nil
		})
	} else if err := notifier.Add(dir); err != nil {
		w.log.Debug("watcher add failed", zap.String("path", dir), zap.Error(err))
	}
	w.sweep(dir)
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	roots := append([]string(nil), w.roots...)
	w.mu.Unlock()
	clean := filepath.Clean(path)
	for _, root := range roots {
		root = filepath.Clean(root)
		if root == clean || inDir(root, clean) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) matches(path string) bool {
	return matchExtension(path, w.extensions)
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func (w *Watcher) scheduleImport(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.log.Debug("watcher importing file", zap.String("path", path))
		if w.onImport != nil {
			w.onImport(path)
		}
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

// AddRoot starts watching another root directory. When syncExisting is set,
// files already present under it are imported.
func (w *Watcher) AddRoot(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.notifier == nil {
		return nil
	}
	for _, r := range w.roots {
		if filepath.Clean(r) == filepath.Clean(abs) {
			return nil
		}
	}
	if err := w.registerRootLocked(abs); err != nil {
		return err
	}
	w.roots = append(w.roots, abs)
	w.log.Debug("watcher root added", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if syncExisting && w.onImport != nil {
		go w.sweep(abs)
	}
	return nil
}

func (w *Watcher) registerRootLocked(root string) error {
	root = filepath.Clean(root)
	if _, err := os.Stat(root); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(root, 0o755); err != nil {
			return err
		}
	}
	var dirs []string
	if w.recursive {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if err := w.notifier.Add(path); err != nil {
				return err
			}
			dirs = append(dirs, path)
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		if err := w.notifier.Add(root); err != nil {
			return err
		}
		dirs = append(dirs, root)
	}
	w.watched[root] = dirs
	return nil
}

// sweep imports every matching file under root.
func (w *Watcher) sweep(root string) {
	w.mu.Lock()
	exts := append([]string(nil), w.extensions...)
	onImport := w.onImport
	w.mu.Unlock()
	w.log.Debug("watcher sweeping root", zap.String("root", root))
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if matchExtension(path, exts) && onImport != nil {
			onImport(path)
		}
		return nil
	})
}

// RemoveRoot stops watching root. Items already imported from it stay.
func (w *Watcher) RemoveRoot(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.notifier == nil {
		return nil
	}
	idx := -1
	for i, r := range w.roots {
		if filepath.Clean(r) == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	for _, dir := range w.watched[abs] {
		_ = w.notifier.Remove(dir)
	}
	delete(w.watched, abs)
	w.roots = append(w.roots[:idx], w.roots[idx+1:]...)
	w.log.Debug("watcher root removed", zap.String("path", abs))
	return nil
}

// Roots returns a copy of the watched root directories.
func (w *Watcher) Roots() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// SyncExisting imports every matching file already present under the watched
// roots. Call it after Start to pick up files that predate the watcher.
func (w *Watcher) SyncExisting() {
	w.mu.Lock()
	roots := append([]string(nil), w.roots...)
	w.mu.Unlock()
	for _, root := range roots {
		w.sweep(root)
	}
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.notifier == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.notifier.Close()
	w.notifier = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
