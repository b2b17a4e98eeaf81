package incremental

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	pperrors "github.com/conneroisu/pagepack/internal/errors"
)

// ComputeFunc produces a cell's value. Every dependency must be read through rc.
type ComputeFunc[T any] func(ctx context.Context, rc *ReadContext) (T, error)

// Snapshot is a consistent view of a cell.
type Snapshot[T any] struct {
	Value  T
	Issues []pperrors.Issue
	// Invalidated is closed by the first invalidation after the snapshot was
	// taken.
	Invalidated <-chan struct{}
}

// Cell is a memoized computation whose value is recomputed lazily after any of
// its inputs is invalidated.
type Cell[T any] struct {
	engine  *Engine
	cellID  uint32
	label   string
	compute ComputeFunc[T]
	flight  singleflight.Group

	mu          sync.Mutex
	fresh       bool
	generation  uint64
	value       T
	err         error
	issues      []pperrors.Issue
	invalidated chan struct{}
	dependents  map[uint32]node

	depMu        sync.Mutex
	dependencies map[uint32]node
}

// NewCell registers a cell on e.
func NewCell[T any](e *Engine, name string, compute ComputeFunc[T]) *Cell[T] {
	var c *Cell[T]
	e.register(func(id uint32) node {
		c = &Cell[T]{
			engine:       e,
			cellID:       id,
			label:        name,
			compute:      compute,
			invalidated:  make(chan struct{}),
			dependents:   make(map[uint32]node),
			dependencies: make(map[uint32]node),
		}
		return c
	})
	return c
}

// Constant returns a cell that always holds v.
func Constant[T any](e *Engine, name string, v T) *Cell[T] {
	return NewCell(e, name, func(context.Context, *ReadContext) (T, error) { return v, nil })
}

func (c *Cell[T]) id() uint32   { return c.cellID }
func (c *Cell[T]) name() string { return c.label }

// Name returns the label the cell was created with.
func (c *Cell[T]) Name() string { return c.label }

// Engine returns the engine the cell belongs to.
func (c *Cell[T]) Engine() *Engine { return c.engine }

// Read returns a strongly consistent snapshot, recomputing as needed. The
// returned error is the computation's error, which is cached like a value,
// or the context's error.
func (c *Cell[T]) Read(ctx context.Context) (Snapshot[T], error) {
	return c.read(ctx, nil)
}

// Get returns just the value of a strongly consistent read.
func (c *Cell[T]) Get(ctx context.Context) (T, error) {
	snap, err := c.Read(ctx)
	return snap.Value, err
}

// Invalidate marks the cell stale and propagates to its dependents.
func (c *Cell[T]) Invalidate() {
	propagate([]node{c})
}

func (c *Cell[T]) read(ctx context.Context, reader node) (Snapshot[T], error) {
	for {
		if err := ctx.Err(); err != nil {
			return Snapshot[T]{}, err
		}

		c.mu.Lock()
		if c.fresh {
			snap := Snapshot[T]{Value: c.value, Issues: c.issues, Invalidated: c.invalidated}
			err := c.err
			if reader != nil {
				c.dependents[reader.id()] = reader
			}
			c.mu.Unlock()
			return snap, err
		}
		gen := c.generation
		c.mu.Unlock()

		// One recompute at a time; callers arriving mid-flight share it and
		// then re-check freshness.
		ch := c.flight.DoChan("compute", func() (interface{}, error) {
			c.recompute(ctx, gen)
			return nil, nil
		})
		select {
		case <-ctx.Done():
			return Snapshot[T]{}, ctx.Err()
		case <-ch:
		}
	}
}

func (c *Cell[T]) recompute(ctx context.Context, gen uint64) {
	c.resetDependencies()

	rc := newReadContext(c.engine, c)
	var (
		value T
		err   error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = pperrors.NewInternalError(pperrors.ErrCodeInternalError,
					fmt.Sprintf("panic while computing %s: %v", c.label, r), nil)
			}
		}()
		value, err = c.compute(ctx, rc)
	}()

	if err != nil && ctx.Err() != nil &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		// An input changed while computing; the caller loops and recomputes.
		return
	}
	c.value = value
	c.err = err
	c.issues = rc.Issues()
	c.fresh = true
}

func (c *Cell[T]) resetDependencies() {
	c.depMu.Lock()
	old := c.dependencies
	c.dependencies = make(map[uint32]node)
	c.depMu.Unlock()

	for _, dep := range old {
		dep.removeDependent(c.cellID)
	}
	c.engine.untrack(c.cellID)
}

func (c *Cell[T]) markStale() ([]node, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	if !c.fresh {
		return nil, false
	}
	c.fresh = false
	close(c.invalidated)
	c.invalidated = make(chan struct{})

	if len(c.dependents) == 0 {
		return nil, true
	}
	next := make([]node, 0, len(c.dependents))
	for _, d := range c.dependents {
		next = append(next, d)
	}
	c.dependents = make(map[uint32]node)
	return next, true
}

func (c *Cell[T]) removeDependent(id uint32) {
	c.mu.Lock()
	delete(c.dependents, id)
	c.mu.Unlock()
}

func (c *Cell[T]) addDependency(n node) {
	c.depMu.Lock()
	c.dependencies[n.id()] = n
	c.depMu.Unlock()
}

// Read reads cell from inside another computation, recording the dependency
// and bubbling the cell's issues into rc.
func Read[T any](ctx context.Context, rc *ReadContext, cell *Cell[T]) (T, error) {
	var reader node
	if rc != nil && rc.owner != nil {
		reader = rc.owner
		reader.addDependency(cell)
	}
	snap, err := cell.read(ctx, reader)
	if rc != nil {
		rc.addIssues(snap.Issues)
	}
	return snap.Value, err
}
