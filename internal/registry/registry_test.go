package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterCancelTwice(t *testing.T) {
	r := New()

	var calls atomic.Int32
	require.NoError(t, r.Register("q1", func() { calls.Add(1) }, "SELECT 1", time.Now()))
	require.True(t, r.IsRunning("q1"))

	require.True(t, r.Cancel("q1"))
	require.False(t, r.Cancel("q1"), "second cancel reports not-found")
	require.Equal(t, int32(1), calls.Load())
	require.False(t, r.IsRunning("q1"))
	require.Empty(t, r.List())
}

func TestRegistry_DuplicateID(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("q1", nil, "SELECT 1", time.Now()))
	require.ErrorIs(t, r.Register("q1", nil, "SELECT 2", time.Now()), ErrDuplicateID)
}

func TestRegistry_FinishRemovesOnce(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("q1", nil, "SELECT 1", time.Now()))

	require.False(t, r.Finish("q1", StateRegistered))
	require.True(t, r.IsRunning("q1"))

	require.True(t, r.Finish("q1", StateCompleted))
	require.False(t, r.Finish("q1", StateErrored))
	require.Zero(t, r.Len())
}

func TestRegistry_FinishAfterCancelIsNoop(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("q1", func() {}, "SELECT 1", time.Now()))
	require.True(t, r.Cancel("q1"))
	require.False(t, r.Finish("q1", StateCancelled))
}

func TestRegistry_ListSnapshot(t *testing.T) {
	r := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base.Add(10 * time.Second) }

	require.NoError(t, r.Register("b", nil, "SELECT 2", base.Add(5*time.Second)))
	require.NoError(t, r.Register("a", nil, "SELECT 1", base))

	got := r.List()
	require.Equal(t, []Running{
		{ID: "a", SQL: "SELECT 1", Elapsed: 10 * time.Second},
		{ID: "b", SQL: "SELECT 2", Elapsed: 5 * time.Second},
	}, got)

	q, err := r.Get("a")
	require.NoError(t, err)
	require.Equal(t, "SELECT 1", q.SQL)

	_, err = r.Get("zzz")
	require.ErrorIs(t, err, ErrNotFound)

	require.True(t, r.Finish("a", StateCompleted))
	require.Len(t, r.List(), 1)
}

func TestRegistry_CancelRunsOutsideLock(t *testing.T) {
	r := New()

	// The handle calls back into the registry; a held lock would deadlock.
	require.NoError(t, r.Register("q1", func() {
		_ = r.List()
		_ = r.IsRunning("q1")
	}, "SELECT 1", time.Now()))

	done := make(chan struct{})
	go func() {
		r.Cancel("q1")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancel blocked")
	}
}

func TestRegistry_CancelAll(t *testing.T) {
	r := New()
	var calls atomic.Int32
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Register(fmt.Sprintf("q%d", i), func() { calls.Add(1) }, "SELECT 1", time.Now()))
	}
	require.Equal(t, 3, r.CancelAll())
	require.Equal(t, int32(3), calls.Load())
	require.Zero(t, r.Len())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("q%d", i)
			require.NoError(t, r.Register(id, func() {}, "SELECT 1", time.Now()))
			_ = r.List()
			if i%2 == 0 {
				r.Cancel(id)
			} else {
				r.Finish(id, StateCompleted)
			}
		}(i)
	}
	wg.Wait()

	require.Zero(t, r.Len())
}

func TestState_String(t *testing.T) {
	require.Equal(t, "cancelled", StateCancelled.String())
	require.Equal(t, "invalid", State(42).String())
}
