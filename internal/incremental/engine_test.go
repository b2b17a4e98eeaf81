package incremental

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pperrors "github.com/conneroisu/pagepack/internal/errors"
)

func TestCellMemoizesUntilFileInvalidated(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "pages/index.js", []byte("v1"), 0o644))

	e := NewEngine(nil)
	defer e.Close()

	var computes int32
	cell := NewCell(e, "content", func(ctx context.Context, rc *ReadContext) (string, error) {
		atomic.AddInt32(&computes, 1)
		b, err := rc.ReadFile(fs, "pages/index.js")
		return string(b), err
	})

	ctx := context.Background()
	v, err := cell.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	_, _ = cell.Get(ctx)
	assert.EqualValues(t, 1, atomic.LoadInt32(&computes))

	require.NoError(t, util.WriteFile(fs, "pages/index.js", []byte("v2"), 0o644))
	assert.Equal(t, 0, e.Invalidate("pages/other.js"))
	assert.Equal(t, 1, e.Invalidate("/pages/index.js"))

	v, err = cell.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
	assert.EqualValues(t, 2, atomic.LoadInt32(&computes))
}

func TestInvalidationPropagatesToDependents(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "a.txt", []byte("a"), 0o644))

	e := NewEngine(nil)
	defer e.Close()

	leaf := NewCell(e, "leaf", func(ctx context.Context, rc *ReadContext) (string, error) {
		b, err := rc.ReadFile(fs, "a.txt")
		return string(b), err
	})
	var upper int32
	root := NewCell(e, "root", func(ctx context.Context, rc *ReadContext) (string, error) {
		atomic.AddInt32(&upper, 1)
		v, err := Read(ctx, rc, leaf)
		return strings.ToUpper(v), err
	})

	snap, err := root.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A", snap.Value)

	require.NoError(t, util.WriteFile(fs, "a.txt", []byte("b"), 0o644))
	assert.Equal(t, 2, e.Invalidate("a.txt"))

	select {
	case <-snap.Invalidated:
	default:
		t.Fatal("snapshot was not invalidated")
	}

	v, err := root.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "B", v)
	assert.EqualValues(t, 2, atomic.LoadInt32(&upper))
}

func TestListingInvalidation(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("pages", 0o755))

	e := NewEngine(nil)
	defer e.Close()

	cell := NewCell(e, "list", func(ctx context.Context, rc *ReadContext) (int, error) {
		entries, err := rc.ReadDir(fs, "pages")
		return len(entries), err
	})

	n, err := cell.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, util.WriteFile(fs, "pages/a.js", nil, 0o644))
	assert.Equal(t, 0, e.Invalidate("pages/a.js"))
	assert.Equal(t, 1, e.InvalidateListing("pages"))

	n, err = cell.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStaleDependenciesAreDropped(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "switch", []byte("a"), 0o644))
	require.NoError(t, util.WriteFile(fs, "a", []byte("1"), 0o644))
	require.NoError(t, util.WriteFile(fs, "b", []byte("2"), 0o644))

	e := NewEngine(nil)
	defer e.Close()

	cell := NewCell(e, "switching", func(ctx context.Context, rc *ReadContext) (string, error) {
		which, err := rc.ReadFile(fs, "switch")
		if err != nil {
			return "", err
		}
		b, err := rc.ReadFile(fs, string(which))
		return string(b), err
	})

	v, _ := cell.Get(context.Background())
	assert.Equal(t, "1", v)

	require.NoError(t, util.WriteFile(fs, "switch", []byte("b"), 0o644))
	e.Invalidate("switch")
	v, _ = cell.Get(context.Background())
	assert.Equal(t, "2", v)

	// "a" is no longer read.
	assert.Equal(t, 0, e.Invalidate("a"))
}

func TestStrongConsistencyRecomputesOnMidFlightInvalidation(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "f", []byte("old"), 0o644))

	e := NewEngine(nil)
	defer e.Close()

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	cell := NewCell(e, "slow", func(ctx context.Context, rc *ReadContext) (string, error) {
		b, err := rc.ReadFile(fs, "f")
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
			<-release
		}
		return string(b), err
	})

	result := make(chan string, 1)
	go func() {
		v, _ := cell.Get(context.Background())
		result <- v
	}()

	<-started
	require.NoError(t, util.WriteFile(fs, "f", []byte("new"), 0o644))
	e.Invalidate("f")
	close(release)

	select {
	case v := <-result:
		assert.Equal(t, "new", v)
	case <-time.After(5 * time.Second):
		t.Fatal("read did not complete")
	}
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestErrorsAreCachedAndIssuesBubble(t *testing.T) {
	e := NewEngine(nil)
	defer e.Close()

	var calls int32
	failing := NewCell(e, "failing", func(ctx context.Context, rc *ReadContext) (int, error) {
		atomic.AddInt32(&calls, 1)
		rc.Emit(pperrors.Issue{Severity: pperrors.SeverityWarning, Context: "x", Title: "careful"})
		return 0, errors.New("boom")
	})
	wrapper := NewCell(e, "wrapper", func(ctx context.Context, rc *ReadContext) (int, error) {
		_, err := Read(ctx, rc, failing)
		return 1, err
	})

	snap, err := wrapper.Read(context.Background())
	require.EqualError(t, err, "boom")
	require.Len(t, snap.Issues, 1)
	assert.Equal(t, "careful", snap.Issues[0].Title)

	_, err = failing.Get(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCancelledComputationIsNotCached(t *testing.T) {
	e := NewEngine(nil)
	defer e.Close()

	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	cell := NewCell(e, "ctx", func(cctx context.Context, rc *ReadContext) (int, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			cancel()
			return 0, cctx.Err()
		}
		return 7, nil
	})

	_, err := cell.Get(ctx)
	require.ErrorIs(t, err, context.Canceled)

	v, err := cell.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestPanicBecomesInternalError(t *testing.T) {
	e := NewEngine(nil)
	defer e.Close()

	cell := NewCell(e, "panics", func(ctx context.Context, rc *ReadContext) (int, error) {
		panic("bad")
	})
	_, err := cell.Get(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic while computing panics")
}

func TestManualInvalidate(t *testing.T) {
	e := NewEngine(nil)
	defer e.Close()

	var n int32
	cell := NewCell(e, "counter", func(ctx context.Context, rc *ReadContext) (int32, error) {
		return atomic.AddInt32(&n, 1), nil
	})
	v, _ := cell.Get(context.Background())
	assert.EqualValues(t, 1, v)
	cell.Invalidate()
	v, _ = cell.Get(context.Background())
	assert.EqualValues(t, 2, v)
}

func TestMemoOneCellPerKey(t *testing.T) {
	e := NewEngine(nil)
	defer e.Close()

	var calls int32
	m := NewMemo(e, "double", func(ctx context.Context, rc *ReadContext, k int) (int, error) {
		atomic.AddInt32(&calls, 1)
		return k * 2, nil
	})

	v, err := m.Get(context.Background(), nil, 4)
	require.NoError(t, err)
	assert.Equal(t, 8, v)
	_, _ = m.Get(context.Background(), nil, 4)
	_, _ = m.Get(context.Background(), nil, 5)

	assert.Same(t, m.Cell(4), m.Cell(4))
	assert.Equal(t, 2, m.Len())
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestSpawnCancelAndClose(t *testing.T) {
	e := NewEngine(nil)

	stopped := make(chan struct{})
	id, err := e.Spawn("waiter", func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	})
	require.NoError(t, err)

	done := e.Done(id)
	require.NotNil(t, done)
	assert.True(t, e.Cancel(id))

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("task was not cancelled")
	}
	<-done
	assert.False(t, e.Cancel(id))
	assert.ErrorIs(t, e.Wait(id), context.Canceled)
	assert.Nil(t, e.Done(id))
	assert.NoError(t, e.Wait(id))

	_, err = e.Spawn("other", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	require.NoError(t, err)
	e.Close()
	assert.True(t, e.Closed())

	_, err = e.Spawn("late", func(ctx context.Context) error { return nil })
	require.Error(t, err)
}
