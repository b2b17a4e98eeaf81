package incremental

import (
	"context"
	"fmt"
	"sync"
)

// Memo is a memoized function of one comparable key: one cell per key.
type Memo[K comparable, T any] struct {
	engine *Engine
	label  string
	fn     func(ctx context.Context, rc *ReadContext, key K) (T, error)

	mu    sync.Mutex
	cells map[K]*Cell[T]
}

// NewMemo creates a memoized function on e.
func NewMemo[K comparable, T any](e *Engine, name string, fn func(ctx context.Context, rc *ReadContext, key K) (T, error)) *Memo[K, T] {
	return &Memo[K, T]{
		engine: e,
		label:  name,
		fn:     fn,
		cells:  make(map[K]*Cell[T]),
	}
}

// Cell returns the cell for key, creating it on first use.
func (m *Memo[K, T]) Cell(key K) *Cell[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cells[key]; ok {
		return c
	}
	c := NewCell(m.engine, fmt.Sprintf("%s(%v)", m.label, key), func(ctx context.Context, rc *ReadContext) (T, error) {
		return m.fn(ctx, rc, key)
	})
	m.cells[key] = c
	return c
}

// Get reads the value for key, recording a dependency when rc is tracked.
func (m *Memo[K, T]) Get(ctx context.Context, rc *ReadContext, key K) (T, error) {
	return Read(ctx, rc, m.Cell(key))
}

// Len returns the number of keys computed so far.
func (m *Memo[K, T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cells)
}
