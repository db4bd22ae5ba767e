// SPDX-License-Identifier: Apache-2.0

package mocks

import (
	"context"
	"sync/atomic"

	"github.com/xataio/searchsync/internal/kafka"
)

type Reader struct {
	FetchMessageFn   func(ctx context.Context) (*kafka.Message, error)
	CommitMessagesFn func(ctx context.Context, msgs ...*kafka.Message) error
	CloseFn          func() error
	commitCalls      uint64
}

func (m *Reader) FetchMessage(ctx context.Context) (*kafka.Message, error) {
	return m.FetchMessageFn(ctx)
}

func (m *Reader) CommitMessages(ctx context.Context, msgs ...*kafka.Message) error {
	atomic.AddUint64(&m.commitCalls, 1)
	return m.CommitMessagesFn(ctx, msgs...)
}

func (m *Reader) Close() error {
	if m.CloseFn != nil {
		return m.CloseFn()
	}
	return nil
}

func (m *Reader) GetCommitCalls() uint64 {
	return atomic.LoadUint64(&m.commitCalls)
}
