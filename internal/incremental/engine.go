// Package incremental is the memoizing substrate every other package builds
// on. Computations are wrapped in cells; a cell remembers the files and other
// cells it read, and an invalidation of any of those marks it stale so the
// next read recomputes it. Reads are strongly consistent: a read never returns
// a value computed from inputs that were invalidated while it was computing.
package incremental

import (
	"context"
	"path"
	"sync"

	"github.com/RoaringBitmap/roaring"

	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/logging"
)

// node is the type-erased view of a cell the engine needs for propagation.
type node interface {
	id() uint32
	name() string
	// markStale invalidates the node. It returns the dependents that must be
	// invalidated in turn, and whether the node held a fresh value.
	markStale() ([]node, bool)
	removeDependent(id uint32)
	addDependency(n node)
}

// TaskID identifies a root task spawned on an engine.
type TaskID uint64

type rootTask struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Engine owns every cell, the path dependency index and the root tasks.
type Engine struct {
	logger logging.Logger

	mu     sync.Mutex
	nextID uint32
	nodes  map[uint32]node
	// index maps a dependency key ("file:<path>" or "dir:<path>") to the ids
	// of the cells that read it.
	index map[string]*roaring.Bitmap
	// keys is the reverse of index, so a recomputing cell can drop stale
	// entries.
	keys map[uint32][]string

	tasks    map[TaskID]*rootTask
	nextTask TaskID
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc

	onInvalidate func(n int)
}

// Option configures an Engine.
type Option func(*Engine)

// WithInvalidationHook registers a callback receiving the number of cells
// invalidated by each call to Invalidate or InvalidateListing.
func WithInvalidationHook(fn func(n int)) Option {
	return func(e *Engine) { e.onInvalidate = fn }
}

// NewEngine creates an engine. The logger may be nil.
func NewEngine(logger logging.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		logger: logger.WithComponent("engine"),
		nodes:  make(map[uint32]node),
		index:  make(map[string]*roaring.Bitmap),
		keys:   make(map[uint32][]string),
		tasks:  make(map[TaskID]*rootTask),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) register(n func(id uint32) node) node {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	created := n(e.nextID)
	e.nodes[e.nextID] = created
	return created
}

func fileKey(p string) string { return "file:" + cleanPath(p) }
func dirKey(p string) string  { return "dir:" + cleanPath(p) }

func cleanPath(p string) string {
	p = path.Clean("/" + p)
	return p[1:]
}

func (e *Engine) track(id uint32, key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	bm, ok := e.index[key]
	if !ok {
		bm = roaring.New()
		e.index[key] = bm
	}
	if !bm.Contains(id) {
		bm.Add(id)
		e.keys[id] = append(e.keys[id], key)
	}
}

// untrack drops every path dependency recorded for id.
func (e *Engine) untrack(id uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, key := range e.keys[id] {
		if bm, ok := e.index[key]; ok {
			bm.Remove(id)
			if bm.IsEmpty() {
				delete(e.index, key)
			}
		}
	}
	delete(e.keys, id)
}

// Invalidate marks every cell that read the content of one of paths as stale,
// along with everything downstream of it. Paths are slash-separated and
// relative to the filesystem the cells read from. It returns the number of
// cells invalidated.
func (e *Engine) Invalidate(paths ...string) int {
	keys := make([]string, len(paths))
	for i, p := range paths {
		keys[i] = fileKey(p)
	}
	return e.invalidateKeys(keys)
}

// InvalidateListing marks every cell that listed one of dirs, or checked
// whether an entry inside it exists, as stale.
func (e *Engine) InvalidateListing(dirs ...string) int {
	keys := make([]string, len(dirs))
	for i, d := range dirs {
		keys[i] = dirKey(d)
	}
	return e.invalidateKeys(keys)
}

func (e *Engine) invalidateKeys(keys []string) int {
	e.mu.Lock()
	ids := roaring.New()
	for _, key := range keys {
		if bm, ok := e.index[key]; ok {
			ids.Or(bm)
		}
	}
	roots := make([]node, 0, ids.GetCardinality())
	it := ids.Iterator()
	for it.HasNext() {
		if n, ok := e.nodes[it.Next()]; ok {
			roots = append(roots, n)
		}
	}
	e.mu.Unlock()

	count := propagate(roots)
	if count > 0 {
		e.logger.Debug(e.ctx, "invalidated cells", "keys", keys, "count", count)
	}
	if e.onInvalidate != nil {
		e.onInvalidate(count)
	}
	return count
}

// propagate walks the dependents graph iteratively.
func propagate(roots []node) int {
	count := 0
	queue := roots
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		next, wasFresh := n.markStale()
		if !wasFresh {
			continue
		}
		count++
		queue = append(queue, next...)
	}
	return count
}

// Spawn starts a root task running fn on its own goroutine. The task's
// context is cancelled by Cancel or Close. A finished task is kept until
// Wait collects its error.
func (e *Engine) Spawn(name string, fn func(ctx context.Context) error) (TaskID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, pperrors.NewInternalError(pperrors.ErrCodeEngineClosed, "engine is closed", nil)
	}
	e.nextTask++
	id := e.nextTask
	ctx, cancel := context.WithCancel(e.ctx)
	task := &rootTask{name: name, cancel: cancel, done: make(chan struct{})}
	e.tasks[id] = task

	go func() {
		defer close(task.done)
		defer cancel()
		task.err = fn(ctx)
	}()

	return id, nil
}

// Cancel cancels a root task. It returns false if the task already finished.
func (e *Engine) Cancel(id TaskID) bool {
	e.mu.Lock()
	task, ok := e.tasks[id]
	e.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-task.done:
		return false
	default:
	}
	task.cancel()
	return true
}

// Wait blocks until the task finishes and returns its error, then forgets
// the task. Waiting on an unknown task returns nil.
func (e *Engine) Wait(id TaskID) error {
	e.mu.Lock()
	task, ok := e.tasks[id]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	<-task.done
	e.mu.Lock()
	delete(e.tasks, id)
	e.mu.Unlock()
	return task.err
}

// Done returns a channel closed when the task has finished, or nil if the
// task is unknown or was already waited on.
func (e *Engine) Done(id TaskID) <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if task, ok := e.tasks[id]; ok {
		return task.done
	}
	return nil
}

// Close cancels every root task and marks the engine closed. Cells remain
// readable but no new tasks may be spawned.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	tasks := make([]*rootTask, 0, len(e.tasks))
	for _, t := range e.tasks {
		tasks = append(tasks, t)
	}
	e.mu.Unlock()

	e.cancel()
	for _, t := range tasks {
		<-t.done
	}
	e.logger.Debug(context.Background(), "engine closed", "tasks", len(tasks))
}

// Closed reports whether Close has been called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// CellCount returns the number of cells registered on the engine.
func (e *Engine) CellCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.nodes)
}
