package codexconfig

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type ReaderOptions struct {
	Logger *slog.Logger
	// Path defaults to DefaultPath().
	Path string
}

// Reader caches the snapshot and drops the cache whenever the file's
// directory reports a change to it. Without a watcher every call re-reads.
type Reader struct {
	log  *slog.Logger
	path string

	mu     sync.Mutex
	cached *Snapshot

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func NewReader(opts ReaderOptions) *Reader {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	p := strings.TrimSpace(opts.Path)
	if p == "" {
		p = DefaultPath()
	}
	if p != "" {
		p = filepath.Clean(p)
	}
	r := &Reader{
		log:  logger,
		path: p,
		done: make(chan struct{}),
	}
	r.startWatcher()
	return r
}

func (r *Reader) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

// Watching reports whether change notifications are active.
func (r *Reader) Watching() bool {
	return r != nil && r.watcher != nil
}

// Snapshot returns the current defaults.
func (r *Reader) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	if r.watcher == nil {
		return Read(r.path)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached != nil {
		return *r.cached
	}
	s := Read(r.path)
	r.cached = &s
	return s
}

// Invalidate drops the cached snapshot.
func (r *Reader) Invalidate() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

func (r *Reader) Close() error {
	if r == nil {
		return nil
	}
	var err error
	r.once.Do(func() {
		close(r.done)
		if r.watcher != nil {
			err = r.watcher.Close()
		}
		r.wg.Wait()
	})
	return err
}

func (r *Reader) startWatcher() {
	if r.path == "" {
		return
	}
	dir := filepath.Dir(r.path)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		r.log.Debug("codex config dir missing; reading on every call", "dir", dir)
		return
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		r.log.Warn("codex config watcher unavailable; reading on every call", "error", err)
		return
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		r.log.Warn("failed to watch codex config dir; reading on every call", "dir", dir, "error", err)
		return
	}
	r.watcher = w
	r.wg.Add(1)
	go r.watchLoop(w)
}

func (r *Reader) watchLoop(w *fsnotify.Watcher) {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != r.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			r.log.Debug("codex config changed", "path", r.path, "op", ev.Op.String())
			r.Invalidate()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			r.log.Warn("codex config watcher error", "error", err)
			r.Invalidate()
		}
	}
}
