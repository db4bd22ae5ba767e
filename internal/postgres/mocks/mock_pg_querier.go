// SPDX-License-Identifier: Apache-2.0

package mocks

import (
	"context"
	"sync/atomic"

	"github.com/xataio/searchsync/internal/postgres"
)

type Querier struct {
	QueryFn    func(ctx context.Context, i uint, query string, args ...any) (postgres.Rows, error)
	QueryRowFn func(ctx context.Context, dest []any, query string, args ...any) error
	ExecFn     func(ctx context.Context, i uint, query string, args ...any) (postgres.CommandTag, error)
	PingFn     func(context.Context) error
	CloseFn    func(context.Context) error
	queryCalls uint32
	execCalls  uint32
}

func (m *Querier) Query(ctx context.Context, query string, args ...any) (postgres.Rows, error) {
	calls := atomic.AddUint32(&m.queryCalls, 1)
	return m.QueryFn(ctx, uint(calls), query, args...)
}

func (m *Querier) QueryRow(ctx context.Context, dest []any, query string, args ...any) error {
	return m.QueryRowFn(ctx, dest, query, args...)
}

func (m *Querier) Exec(ctx context.Context, query string, args ...any) (postgres.CommandTag, error) {
	calls := atomic.AddUint32(&m.execCalls, 1)
	return m.ExecFn(ctx, uint(calls), query, args...)
}

func (m *Querier) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn(ctx)
	}
	return nil
}

func (m *Querier) Close(ctx context.Context) error {
	if m.CloseFn != nil {
		return m.CloseFn(ctx)
	}
	return nil
}
