// Package watcher turns fsnotify notifications for a single directory into
// normalized Created, Modified, Deleted and Moved events.
//
// fsnotify reports a rename as Rename on the old name followed by Create on
// the new one, and a file being written as a burst of Create and Write. The
// watcher pairs renames that complete within RenameWindow into Moved, turns
// renames that never complete (moved out of the directory) into Deleted, and
// coalesces bursts on the same path until it has been quiet for Debounce.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultPattern selects the files the watcher reports.
	DefaultPattern = "*.png"
	// DefaultDebounce is how long a path must stay quiet before its event is emitted.
	DefaultDebounce = 250 * time.Millisecond
	// DefaultRenameWindow is how long a Rename waits for its matching Create.
	DefaultRenameWindow = 100 * time.Millisecond
	// DefaultBufferSize is the capacity of the event channel.
	DefaultBufferSize = 100

	minTick = 5 * time.Millisecond
)

var (
	// ErrNotDirectory indicates the watch path is not a directory.
	ErrNotDirectory = errors.New("watch path is not a directory")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("watcher already started")
)

// Config configures an FSWatcher.
type Config struct {
	Dir          string
	Pattern      string
	Debounce     time.Duration
	RenameWindow time.Duration
	BufferSize   int
}

// DefaultConfig returns a configuration watching dir for PNG files.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:          dir,
		Pattern:      DefaultPattern,
		Debounce:     DefaultDebounce,
		RenameWindow: DefaultRenameWindow,
		BufferSize:   DefaultBufferSize,
	}
}

type pendingEvent struct {
	event Event
	due   time.Time
	seq   uint64
}

type pendingRename struct {
	path string
	due  time.Time
}

// FSWatcher is a Source backed by fsnotify. It does not descend into
// subdirectories.
type FSWatcher struct {
	cfg     Config
	matcher glob.Glob
	fs      *fsnotify.Watcher
	logger  *logrus.Logger

	out     chan Event
	done    chan struct{}
	exited  chan struct{}
	pending map[string]*pendingEvent
	renames []pendingRename
	seq     uint64

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
}

// NewFSWatcher validates cfg and creates the underlying fsnotify watcher.
func NewFSWatcher(cfg Config, logger *logrus.Logger) (*FSWatcher, error) {
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("watch path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, cfg.Dir)
	}

	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.RenameWindow <= 0 {
		cfg.RenameWindow = DefaultRenameWindow
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}

	matcher, err := CompilePattern(cfg.Pattern)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FSWatcher{
		cfg:     cfg,
		matcher: matcher,
		fs:      fsw,
		logger:  logger,
		out:     make(chan Event, cfg.BufferSize),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
		pending: make(map[string]*pendingEvent),
	}, nil
}

// CompilePattern compiles a case-insensitive glob matched against base names.
func CompilePattern(pattern string) (glob.Glob, error) {
	g, err := glob.Compile(strings.ToLower(pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return g, nil
}

// Matches reports whether the base name of path matches the pattern.
func (w *FSWatcher) Matches(path string) bool {
	return w.matcher.Match(strings.ToLower(filepath.Base(path)))
}

// Start adds the directory to the watch and starts the event loop.
func (w *FSWatcher) Start(ctx context.Context) (<-chan Event, error) {
	err := ErrAlreadyStarted
	w.startOnce.Do(func() {
		err = nil
		if addErr := w.fs.Add(w.cfg.Dir); addErr != nil {
			err = fmt.Errorf("failed to watch %s: %w", w.cfg.Dir, addErr)
			return
		}
		w.started = true
		go w.loop(ctx)
	})
	if err != nil {
		return nil, err
	}

	w.logger.WithFields(logrus.Fields{
		"directory": w.cfg.Dir,
		"pattern":   w.cfg.Pattern,
	}).Info("Watching directory")
	return w.out, nil
}

// Stop closes the fsnotify watcher and waits for the event loop to exit.
// Events still waiting out their debounce interval are dropped.
func (w *FSWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fs.Close()
		if w.started {
			<-w.exited
		} else {
			close(w.out)
		}
	})
	return err
}

func (w *FSWatcher) loop(ctx context.Context) {
	defer close(w.exited)
	defer close(w.out)

	ticker := time.NewTicker(w.tick())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.handle(ctx, ev, time.Now()) {
				return
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.WithField("directory", w.cfg.Dir).Warnf("Watcher error: %v", err)
		case now := <-ticker.C:
			if !w.flush(ctx, now) {
				return
			}
		}
	}
}

func (w *FSWatcher) tick() time.Duration {
	t := min(w.cfg.Debounce, w.cfg.RenameWindow) / 2
	return max(t, minTick)
}

// handle folds one fsnotify event into the pending state. It returns false
// once the watcher is shutting down.
func (w *FSWatcher) handle(ctx context.Context, ev fsnotify.Event, now time.Time) bool {
	if !w.Matches(ev.Name) {
		return true
	}

	switch {
	case ev.Has(fsnotify.Create):
		if isDir(ev.Name) {
			return true
		}
		if old, ok := w.takeRename(now); ok {
			w.logger.Debugf("File move detected from %s to %s", old, ev.Name)
			return w.schedule(ctx, Event{Kind: Moved, Path: old, DestPath: ev.Name, Time: now}, now)
		}
		w.logger.Debugf("New file detected %s", ev.Name)
		return w.schedule(ctx, Event{Kind: Created, Path: ev.Name, Time: now}, now)

	case ev.Has(fsnotify.Write):
		if isDir(ev.Name) {
			return true
		}
		w.logger.Debugf("File modification detected %s", ev.Name)
		return w.schedule(ctx, Event{Kind: Modified, Path: ev.Name, Time: now}, now)

	case ev.Has(fsnotify.Remove):
		w.logger.Debugf("File deletion detected %s", ev.Name)
		return w.schedule(ctx, Event{Kind: Deleted, Path: ev.Name, Time: now}, now)

	case ev.Has(fsnotify.Rename):
		// The path is gone; anything still pending for it is stale. A pending
		// move that is renamed again keeps its original source, so a→b→c
		// becomes Moved(a, c), or Deleted(a) if c is never seen.
		origin := ev.Name
		if p, ok := w.pending[ev.Name]; ok && p.event.Kind == Moved {
			origin = p.event.Path
		}
		delete(w.pending, ev.Name)
		w.renames = append(w.renames, pendingRename{path: origin, due: now.Add(w.cfg.RenameWindow)})
	}
	return true
}

// takeRename pops the oldest rename still inside its pairing window.
func (w *FSWatcher) takeRename(now time.Time) (string, bool) {
	for len(w.renames) > 0 {
		r := w.renames[0]
		w.renames = w.renames[1:]
		if !now.After(r.due) {
			return r.path, true
		}
		// Expired renames are normally flushed by the ticker first; keep
		// them as deletions if we get here before it fires.
		w.schedulePlain(Event{Kind: Deleted, Path: r.path, Time: r.due}, now)
	}
	return "", false
}

// schedule merges ev into the pending event for its target path. A pending
// Moved is emitted right away instead of being merged, so both of its halves
// survive.
func (w *FSWatcher) schedule(ctx context.Context, ev Event, now time.Time) bool {
	key := ev.Target()
	if p, ok := w.pending[key]; ok && p.event.Kind == Moved {
		delete(w.pending, key)
		if !w.emit(ctx, p.event) {
			return false
		}
	}
	w.schedulePlain(ev, now)
	return true
}

func (w *FSWatcher) schedulePlain(ev Event, now time.Time) {
	key := ev.Target()
	if p, ok := w.pending[key]; ok {
		p.event = merge(p.event, ev)
		p.due = now.Add(w.cfg.Debounce)
		return
	}
	w.seq++
	w.pending[key] = &pendingEvent{event: ev, due: now.Add(w.cfg.Debounce), seq: w.seq}
}

// merge combines two events for the same path. A write burst that started
// with a creation is still a creation; otherwise the latest event wins.
func merge(prev, next Event) Event {
	if prev.Kind == Created && next.Kind == Modified {
		return prev
	}
	return next
}

// flush emits every pending event whose quiet period has elapsed, and turns
// unpaired renames into deletions.
func (w *FSWatcher) flush(ctx context.Context, now time.Time) bool {
	for len(w.renames) > 0 && now.After(w.renames[0].due) {
		r := w.renames[0]
		w.renames = w.renames[1:]
		w.logger.Debugf("File moved out of watched directory %s", r.path)
		if !w.emit(ctx, Event{Kind: Deleted, Path: r.path, Time: r.due}) {
			return false
		}
	}

	var ready []*pendingEvent
	for key, p := range w.pending {
		if !now.Before(p.due) {
			ready = append(ready, p)
			delete(w.pending, key)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].due.Equal(ready[j].due) {
			return ready[i].seq < ready[j].seq
		}
		return ready[i].due.Before(ready[j].due)
	})
	for _, p := range ready {
		if !w.emit(ctx, p.event) {
			return false
		}
	}
	return true
}

func (w *FSWatcher) emit(ctx context.Context, ev Event) bool {
	select {
	case w.out <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-w.done:
		return false
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
