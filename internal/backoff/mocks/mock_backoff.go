// SPDX-License-Identifier: Apache-2.0

package mocks

import (
	"context"
	"errors"

	"github.com/xataio/searchsync/internal/backoff"
)

// Backoff runs the operation up to MaxAttempts times without sleeping.
type Backoff struct {
	MaxAttempts   int
	RetryNotifyFn func(backoff.Operation, backoff.Notify) error
}

func (m *Backoff) RetryNotify(op backoff.Operation, notify backoff.Notify) error {
	if m.RetryNotifyFn != nil {
		return m.RetryNotifyFn(op, notify)
	}
	return m.run(op, notify)
}

func (m *Backoff) Retry(op backoff.Operation) error {
	return m.RetryNotify(op, nil)
}

func (m *Backoff) run(op backoff.Operation, notify backoff.Notify) error {
	attempts := m.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil || errors.Is(err, backoff.ErrPermanent) {
			return err
		}
		if notify != nil {
			notify(err, 0)
		}
	}
	return err
}

// NewProvider returns a provider handing out a fresh mock per call.
func NewProvider(maxAttempts int) backoff.Provider {
	return func(_ context.Context) backoff.Backoff {
		return &Backoff{MaxAttempts: maxAttempts}
	}
}
