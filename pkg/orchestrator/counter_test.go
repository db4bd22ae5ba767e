// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMemoryCounterStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryCounterStore()
	counter := SwapCounter{Remaining: 2, Total: 2, IndexHandle: "articles", TempName: "articles_a", RunID: "run"}

	require.NoError(t, store.Create(ctx, "articles", counter))
	require.ErrorIs(t, store.Create(ctx, "articles", counter), ErrRefreshInProgress)

	c, reachedZero, err := store.Decrement(ctx, "articles", "run")
	require.NoError(t, err)
	require.False(t, reachedZero)
	require.Equal(t, 1, c.Remaining)

	c, reachedZero, err = store.Decrement(ctx, "articles", "run")
	require.NoError(t, err)
	require.True(t, reachedZero)
	require.Zero(t, c.Remaining)
	require.Equal(t, "articles_a", c.TempName)

	_, found, err := store.Get(ctx, "articles")
	require.NoError(t, err)
	require.False(t, found)

	_, _, err = store.Decrement(ctx, "articles", "run")
	require.ErrorIs(t, err, ErrCounterNotFound)

	c.Remaining = 1
	require.NoError(t, store.Restore(ctx, "articles", c))
	_, reachedZero, err = store.Decrement(ctx, "articles", "run")
	require.NoError(t, err)
	require.True(t, reachedZero)
}

func TestMemoryCounterStore_Decrement_staleRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryCounterStore()
	require.NoError(t, store.Create(ctx, "articles", SwapCounter{Remaining: 2, Total: 2, RunID: "new"}))

	_, _, err := store.Decrement(ctx, "articles", "old")
	require.ErrorIs(t, err, ErrStaleRun)

	c, found, err := store.Get(ctx, "articles")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 2, c.Remaining)
}

func TestMemoryCounterStore_lockUnavailable(t *testing.T) {
	t.Parallel()

	store := NewMemoryCounterStore()
	release, err := store.locks.Lock(context.Background(), "articles")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = store.Decrement(ctx, "articles", "run")
	require.ErrorIs(t, err, ErrLockUnavailable)
}

// Whatever the interleaving, exactly one of the batches sees the counter
// reach zero, and batches running after that find no counter.
func TestMemoryCounterStore_Decrement_convergence(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		batches := rapid.IntRange(1, 40).Draw(t, "batches")
		extra := rapid.IntRange(0, 5).Draw(t, "extra")

		ctx := context.Background()
		store := NewMemoryCounterStore()
		if err := store.Create(ctx, "articles", SwapCounter{Remaining: batches, Total: batches}); err != nil {
			t.Fatalf("create: %v", err)
		}

		var (
			wg       sync.WaitGroup
			mutex    sync.Mutex
			zeros    int
			notFound int
		)
		for range batches + extra {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, reachedZero, err := store.Decrement(ctx, "articles", "")
				mutex.Lock()
				defer mutex.Unlock()
				switch {
				case errors.Is(err, ErrCounterNotFound):
					notFound++
				case err != nil:
					t.Errorf("decrement: %v", err)
				case reachedZero:
					zeros++
				}
			}()
		}
		wg.Wait()

		if zeros != 1 {
			t.Fatalf("counter reached zero %d times", zeros)
		}
		if notFound != extra {
			t.Fatalf("expected %d decrements without counter, got %d", extra, notFound)
		}
	})
}
