// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xataio/searchsync/internal/backoff"
	backoffmocks "github.com/xataio/searchsync/internal/backoff/mocks"
	"github.com/xataio/searchsync/pkg/engine"
)

func testSyncJob(id string) Job {
	return NewSyncDocumentJob(SyncDocument{IndexHandle: "articles", SourceID: id})
}

func TestLocalQueue_followUpJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	queue := NewLocalQueue(&LocalQueueConfig{Workers: 3})

	var handled atomic.Int64
	var enqueueErr atomic.Value
	runQueue(t, queue, HandlerFn(func(ctx context.Context, job Job) error {
		handled.Add(1)
		// every root job fans out into two leaves
		if job.SyncDocument.SourceID == "root" {
			for range 2 {
				if err := queue.Enqueue(ctx, testSyncJob("leaf")); err != nil {
					enqueueErr.Store(err)
				}
			}
		}
		return nil
	}))

	for range 10 {
		require.NoError(t, queue.Enqueue(ctx, testSyncJob("root")))
	}
	waitForQueue(t, queue)
	require.Nil(t, enqueueErr.Load())
	require.Equal(t, int64(30), handled.Load())
}

func TestLocalQueue_retries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	errTransient := errors.New("connection reset")
	queue := NewLocalQueue(&LocalQueueConfig{
		Workers: 1,
		Retry:   backoff.Config{Constant: &backoff.ConstantConfig{Interval: time.Millisecond, MaxRetries: 5}},
	})

	var attempts atomic.Int64
	runQueue(t, queue, HandlerFn(func(ctx context.Context, job Job) error {
		switch job.SyncDocument.SourceID {
		case "flaky":
			if attempts.Add(1) < 3 {
				return errTransient
			}
			return nil
		case "invalid":
			return engine.NewValidationError("bad document")
		default:
			return backoff.Permanent(errTransient)
		}
	}))

	require.NoError(t, queue.Enqueue(ctx, testSyncJob("flaky")))
	require.NoError(t, queue.Enqueue(ctx, testSyncJob("invalid")))
	require.NoError(t, queue.Enqueue(ctx, testSyncJob("permanent")))

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, queue.Wait(waitCtx))
	require.Equal(t, int64(3), attempts.Load())

	failures := queue.Failures()
	require.Len(t, failures, 2)
	var validationErr *engine.ValidationError
	require.ErrorAs(t, queue.Err(), &validationErr)
	require.ErrorIs(t, queue.Err(), errTransient)
}

func TestLocalQueue_Enqueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	queue := NewLocalQueue(&LocalQueueConfig{})

	var validationErr *engine.ValidationError
	require.ErrorAs(t, queue.Enqueue(ctx, Job{ID: "1", Kind: JobAtomicSwap}), &validationErr)
	require.ErrorAs(t, queue.Enqueue(ctx, Job{ID: "1", Kind: "unknown"}), &validationErr)

	require.NoError(t, queue.Close())
	require.ErrorIs(t, queue.Enqueue(ctx, testSyncJob("1")), ErrQueueClosed)

	// a closed and drained queue stops its workers
	require.NoError(t, queue.Run(ctx, HandlerFn(func(context.Context, Job) error { return nil })))
}

func TestRetryJob(t *testing.T) {
	t.Parallel()

	errTransient := errors.New("connection reset")

	tests := []struct {
		name string
		err  error

		wantAttempts int
		wantNotified int
		wantErr      error
	}{
		{
			name:         "ok",
			wantAttempts: 1,
		},
		{
			name:         "transient error retried",
			err:          errTransient,
			wantAttempts: 3,
			wantNotified: 3,
			wantErr:      errTransient,
		},
		{
			name:         "validation error not retried",
			err:          engine.NewValidationError("bad document"),
			wantAttempts: 1,
			wantErr:      backoff.ErrPermanent,
		},
		{
			name:         "missing counter not retried",
			err:          ErrCounterNotFound,
			wantAttempts: 1,
			wantErr:      ErrCounterNotFound,
		},
		{
			name:         "busy counter lock not retried",
			err:          ErrLockUnavailable,
			wantAttempts: 1,
			wantErr:      ErrLockUnavailable,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			attempts := 0
			notified := 0
			err := RetryJob(context.Background(), backoffmocks.NewProvider(3),
				HandlerFn(func(context.Context, Job) error {
					attempts++
					return tc.err
				}),
				testSyncJob("1"),
				func(error, time.Duration) { notified++ })
			require.ErrorIs(t, err, tc.wantErr)
			require.Equal(t, tc.wantAttempts, attempts)
			require.Equal(t, tc.wantNotified, notified)
		})
	}
}
