// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	synclib "github.com/xataio/searchsync/internal/sync"
)

// SwapCounter tracks the batches of a swap targeted refresh still running.
type SwapCounter struct {
	Remaining   int    `json:"remaining"`
	Total       int    `json:"total"`
	IndexHandle string `json:"indexHandle"`
	TempName    string `json:"tempName"`
	RunID       string `json:"runId"`
}

var (
	ErrCounterNotFound = errors.New("swap counter not found")
	// ErrLockUnavailable is returned when the counter lock cannot be acquired.
	// It points at a broken environment and is never retried.
	ErrLockUnavailable   = errors.New("swap counter lock unavailable")
	ErrRefreshInProgress = errors.New("a refresh is already in progress for this index")
	// ErrStaleRun is returned when a batch of a superseded refresh tries to
	// count down the counter of the current one.
	ErrStaleRun = errors.New("swap counter belongs to another refresh run")
)

// CounterStore keeps the swap counters, keyed by the live index handle. Every
// mutation of a counter happens under a lock scoped to its key.
type CounterStore interface {
	// Create fails with ErrRefreshInProgress when a counter exists for key.
	Create(ctx context.Context, key string, c SwapCounter) error
	// Decrement counts one batch of run runID down. The counter is removed
	// when it reaches zero, which is reported to exactly one caller. It fails
	// with ErrStaleRun when the counter was created by another run.
	Decrement(ctx context.Context, key, runID string) (c SwapCounter, reachedZero bool, err error)
	// Restore overwrites the counter, recreating it if needed.
	Restore(ctx context.Context, key string, c SwapCounter) error
	Get(ctx context.Context, key string) (SwapCounter, bool, error)
	Delete(ctx context.Context, key string) error
}

const defaultLockTimeout = 30 * time.Second

// MemoryCounterStore is a process local counter store.
type MemoryCounterStore struct {
	locks       *synclib.NamedMutex
	counters    *synclib.Map[string, SwapCounter]
	lockTimeout time.Duration
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		locks:       synclib.NewNamedMutex(),
		counters:    synclib.NewMap[string, SwapCounter](),
		lockTimeout: defaultLockTimeout,
	}
}

func (s *MemoryCounterStore) Create(ctx context.Context, key string, c SwapCounter) error {
	return s.withLock(ctx, key, func() error {
		if _, found := s.counters.Get(key); found {
			return fmt.Errorf("%w: %s", ErrRefreshInProgress, key)
		}
		s.counters.Set(key, c)
		return nil
	})
}

func (s *MemoryCounterStore) Decrement(ctx context.Context, key, runID string) (SwapCounter, bool, error) {
	var (
		counter     SwapCounter
		reachedZero bool
	)
	err := s.withLock(ctx, key, func() error {
		c, found := s.counters.Get(key)
		if !found {
			return fmt.Errorf("%w: %s", ErrCounterNotFound, key)
		}
		if c.RunID != runID {
			return fmt.Errorf("%w: %s is counting run %s, not %s", ErrStaleRun, key, c.RunID, runID)
		}
		c.Remaining--
		counter = c
		if c.Remaining <= 0 {
			reachedZero = true
			s.counters.Delete(key)
			return nil
		}
		s.counters.Set(key, c)
		return nil
	})
	return counter, reachedZero, err
}

func (s *MemoryCounterStore) Restore(ctx context.Context, key string, c SwapCounter) error {
	return s.withLock(ctx, key, func() error {
		s.counters.Set(key, c)
		return nil
	})
}

func (s *MemoryCounterStore) Get(_ context.Context, key string) (SwapCounter, bool, error) {
	c, found := s.counters.Get(key)
	return c, found, nil
}

func (s *MemoryCounterStore) Delete(ctx context.Context, key string) error {
	return s.withLock(ctx, key, func() error {
		s.counters.Delete(key)
		return nil
	})
}

func (s *MemoryCounterStore) withLock(ctx context.Context, key string, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	release, err := s.locks.Lock(lockCtx, key)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLockUnavailable, key, err)
	}
	defer release()
	return fn()
}
