// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// WeightedSemaphore bounds the number of in flight engine calls, for instance
// orphan delete batches.
type WeightedSemaphore interface {
	TryAcquire(int64) bool
	Acquire(context.Context, int64) error
	Release(int64)
}

func NewWeightedSemaphore(size int64) WeightedSemaphore {
	if size <= 0 {
		size = 1
	}
	return semaphore.NewWeighted(size)
}
