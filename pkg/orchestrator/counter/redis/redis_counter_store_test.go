// SPDX-License-Identifier: Apache-2.0

package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/xataio/searchsync/pkg/orchestrator"
)

func newTestStore(t *testing.T, cfg *Config) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redislib.NewClient(&redislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client, cfg), mr
}

func TestStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, mr := newTestStore(t, &Config{KeyPrefix: "test:"})
	counter := orchestrator.SwapCounter{Remaining: 2, Total: 2, IndexHandle: "articles", TempName: "articles_b", RunID: "run"}

	require.NoError(t, store.Create(ctx, "articles", counter))
	require.True(t, mr.Exists("test:swap_counter:articles"))
	require.False(t, mr.Exists("test:swap_counter_lock:articles"))
	require.ErrorIs(t, store.Create(ctx, "articles", counter), orchestrator.ErrRefreshInProgress)

	got, found, err := store.Get(ctx, "articles")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, counter, got)

	got, reachedZero, err := store.Decrement(ctx, "articles", "run")
	require.NoError(t, err)
	require.False(t, reachedZero)
	require.Equal(t, 1, got.Remaining)

	got, reachedZero, err = store.Decrement(ctx, "articles", "run")
	require.NoError(t, err)
	require.True(t, reachedZero)
	require.Equal(t, "articles_b", got.TempName)
	require.False(t, mr.Exists("test:swap_counter:articles"))

	_, _, err = store.Decrement(ctx, "articles", "run")
	require.ErrorIs(t, err, orchestrator.ErrCounterNotFound)

	got.Remaining = 1
	require.NoError(t, store.Restore(ctx, "articles", got))
	_, reachedZero, err = store.Decrement(ctx, "articles", "run")
	require.NoError(t, err)
	require.True(t, reachedZero)

	require.NoError(t, store.Create(ctx, "articles", counter))
	require.NoError(t, store.Delete(ctx, "articles"))
	_, found, err = store.Get(ctx, "articles")
	require.NoError(t, err)
	require.False(t, found)
}

func TestStore_Decrement_staleRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _ := newTestStore(t, &Config{})
	require.NoError(t, store.Create(ctx, "articles", orchestrator.SwapCounter{Remaining: 2, Total: 2, RunID: "new"}))

	_, _, err := store.Decrement(ctx, "articles", "old")
	require.ErrorIs(t, err, orchestrator.ErrStaleRun)

	got, found, err := store.Get(ctx, "articles")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 2, got.Remaining)
}

func TestStore_lockUnavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, mr := newTestStore(t, &Config{LockWait: 50 * time.Millisecond})
	require.NoError(t, mr.Set(store.lockKey("articles"), "someone else"))

	_, _, err := store.Decrement(ctx, "articles", "run")
	require.ErrorIs(t, err, orchestrator.ErrLockUnavailable)
	// the lock of another holder is left alone
	got, err := mr.Get(store.lockKey("articles"))
	require.NoError(t, err)
	require.Equal(t, "someone else", got)
}

func TestStore_Decrement_concurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _ := newTestStore(t, &Config{})
	const batches = 20
	require.NoError(t, store.Create(ctx, "articles", orchestrator.SwapCounter{Remaining: batches, Total: batches}))

	var wg sync.WaitGroup
	var mutex sync.Mutex
	zeros := 0
	for range batches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, reachedZero, err := store.Decrement(ctx, "articles", "")
			require.NoError(t, err)
			if reachedZero {
				mutex.Lock()
				zeros++
				mutex.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, zeros)
}
