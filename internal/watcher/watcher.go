// Package watcher turns filesystem notifications into debounced batches of
// change events and feeds them to handlers, the main one being the engine
// invalidation handler.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/logging"
)

// DefaultDebounce is the delay used when none is configured.
const DefaultDebounce = 50 * time.Millisecond

// FileWatcher watches directory trees and delivers debounced change batches.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	filters   []FileFilter
	handlers  []ChangeHandler
	logger    logging.Logger
	mutex     sync.RWMutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type EventType
	Path string
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Structural reports whether the event changes a directory listing.
func (e EventType) Structural() bool {
	return e != EventTypeModified
}

// FileFilter determines if a path should be watched. Returning false for a
// directory skips the whole tree.
type FileFilter func(path string) bool

// ChangeHandler handles a debounced batch of change events.
type ChangeHandler func(events []ChangeEvent) error

// Debouncer groups rapid file changes together
type Debouncer struct {
	delay   time.Duration
	output  chan []ChangeEvent
	timer   *time.Timer
	pending []ChangeEvent
	mutex   sync.Mutex
}

// NewDebouncer creates a debouncer flushing delay after the last event.
func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{
		delay:   delay,
		output:  make(chan []ChangeEvent, 16),
		pending: make([]ChangeEvent, 0),
	}
}

// NewFileWatcher creates a new file watcher
func NewFileWatcher(debounceDelay time.Duration, logger logging.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, pperrors.NewIOError(pperrors.ErrCodeWatchFailed, "failed to create file watcher", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &FileWatcher{
		watcher:   watcher,
		debouncer: NewDebouncer(debounceDelay),
		filters:   make([]FileFilter, 0),
		handlers:  make([]ChangeHandler, 0),
		logger:    logger.WithComponent("watcher"),
	}, nil
}

// AddFilter adds a file filter
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a change handler
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// AddPath adds a single directory to watch.
func (fw *FileWatcher) AddPath(path string) error {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return pperrors.NewInvalidPathError(path, err.Error())
	}
	if err := fw.watcher.Add(abs); err != nil {
		return pperrors.NewIOError(pperrors.ErrCodeWatchFailed, "failed to watch directory", err).WithPath(abs)
	}
	return nil
}

// AddRecursive watches root and every subdirectory the filters accept.
func (fw *FileWatcher) AddRecursive(root string) error {
	abs, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return pperrors.NewInvalidPathError(root, err.Error())
	}

	return filepath.WalkDir(abs, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			// Directories vanishing mid-walk are not fatal.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != abs && !fw.accept(path) {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(path); err != nil {
			fw.logger.Warn(context.Background(), err, "Skipping unwatchable directory", "path", path)
		}
		return nil
	})
}

func (fw *FileWatcher) accept(path string) bool {
	fw.mutex.RLock()
	defer fw.mutex.RUnlock()
	for _, filter := range fw.filters {
		if !filter(path) {
			return false
		}
	}
	return true
}

// Start starts the file watcher. It returns immediately; Stop ends it.
func (fw *FileWatcher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	fw.cancel = cancel

	fw.wg.Add(2)
	go func() { defer fw.wg.Done(); fw.processEvents(ctx) }()
	go func() { defer fw.wg.Done(); fw.watchLoop(ctx) }()

	return nil
}

// Stop stops the file watcher and waits for its goroutines.
func (fw *FileWatcher) Stop() error {
	if fw.cancel != nil {
		fw.cancel()
	}
	fw.debouncer.stop()
	err := fw.watcher.Close()
	fw.wg.Wait()
	return err
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	if !fw.accept(event.Name) {
		return
	}

	var eventType EventType
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		eventType = EventTypeCreated
		// New directories are watched as they appear.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fw.AddRecursive(event.Name); err != nil {
				fw.logger.Warn(context.Background(), err, "Failed to watch new directory", "path", event.Name)
			}
		}
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = EventTypeModified
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		eventType = EventTypeDeleted
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = EventTypeRenamed
	case event.Op&fsnotify.Chmod == fsnotify.Chmod:
		return
	default:
		eventType = EventTypeModified
	}

	fw.debouncer.Add(ChangeEvent{Type: eventType, Path: event.Name})
}

func (fw *FileWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case events := <-fw.debouncer.output:
			fw.mutex.RLock()
			handlers := fw.handlers
			fw.mutex.RUnlock()

			for _, handler := range handlers {
				if err := handler(events); err != nil {
					fw.logger.Error(ctx, err, "File watcher handler failed", "events", len(events))
				}
			}
		}
	}
}

// Add records an event and restarts the delay.
func (d *Debouncer) Add(event ChangeEvent) {
	d.addEvent(event)
}

// Output returns the channel of debounced batches.
func (d *Debouncer) Output() <-chan []ChangeEvent { return d.output }

func (d *Debouncer) stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

func (d *Debouncer) addEvent(event ChangeEvent) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.pending = append(d.pending, event)

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

func (d *Debouncer) flush() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if len(d.pending) == 0 {
		return
	}

	events := Coalesce(d.pending)
	select {
	case d.output <- events:
	default:
		// The consumer is behind; it will see the next batch.
	}

	d.pending = d.pending[:0]
}

// Coalesce merges events on the same path. A structural event is never
// downgraded to a modification. The result is sorted by path.
func Coalesce(events []ChangeEvent) []ChangeEvent {
	byPath := make(map[string]ChangeEvent, len(events))
	for _, event := range events {
		prev, ok := byPath[event.Path]
		if ok && prev.Type.Structural() && !event.Type.Structural() {
			continue
		}
		byPath[event.Path] = event
	}

	out := make([]ChangeEvent, 0, len(byPath))
	for _, event := range byPath {
		out = append(out, event)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// IgnoreDirs rejects any path with a segment equal to one of names.
func IgnoreDirs(names ...string) FileFilter {
	return func(path string) bool {
		for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
			for _, name := range names {
				if seg == name {
					return false
				}
			}
		}
		return true
	}
}

// NoGitFilter skips .git directories.
var NoGitFilter = IgnoreDirs(".git")

// NoNodeModulesFilter skips installed packages.
var NoNodeModulesFilter = IgnoreDirs("node_modules")

// NoEditorTempFilter skips editor swap and backup files.
func NoEditorTempFilter(path string) bool {
	base := filepath.Base(path)
	return !strings.HasSuffix(base, "~") &&
		!strings.HasSuffix(base, ".swp") &&
		!strings.HasPrefix(base, ".#")
}
