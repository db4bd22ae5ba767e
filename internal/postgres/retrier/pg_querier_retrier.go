// SPDX-License-Identifier: Apache-2.0

package retrier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xataio/searchsync/internal/backoff"
	"github.com/xataio/searchsync/internal/postgres"
	loglib "github.com/xataio/searchsync/pkg/log"
)

// Querier retries the queries failing on connection errors, rebuilding the
// connection in between attempts.
type Querier struct {
	connBuilder     connBuilder
	backoffProvider backoff.Provider
	logger          loglib.Logger

	mutex   sync.RWMutex
	querier postgres.Querier
}

type connBuilder func(context.Context) (postgres.Querier, error)

func NewQuerier(ctx context.Context, cfg backoff.Config, connBuilder connBuilder, logger loglib.Logger) (*Querier, error) {
	conn, err := connBuilder(ctx)
	if err != nil {
		return nil, err
	}

	return &Querier{
		connBuilder:     connBuilder,
		querier:         conn,
		backoffProvider: backoff.NewProvider(&cfg),
		logger:          logger,
	}, nil
}

func (q *Querier) Query(ctx context.Context, query string, args ...any) (postgres.Rows, error) {
	var rows postgres.Rows
	op := func() error {
		var err error
		rows, err = q.conn().Query(ctx, query, args...)
		return err
	}

	if err := q.withRetry(ctx, op); err != nil {
		return nil, err
	}
	return rows, nil
}

func (q *Querier) QueryRow(ctx context.Context, dest []any, query string, args ...any) error {
	return q.withRetry(ctx, func() error {
		return q.conn().QueryRow(ctx, dest, query, args...)
	})
}

func (q *Querier) Exec(ctx context.Context, query string, args ...any) (postgres.CommandTag, error) {
	var cmdTag postgres.CommandTag
	op := func() error {
		var err error
		cmdTag, err = q.conn().Exec(ctx, query, args...)
		return err
	}

	if err := q.withRetry(ctx, op); err != nil {
		return postgres.CommandTag{}, err
	}
	return cmdTag, nil
}

func (q *Querier) Ping(ctx context.Context) error {
	return q.conn().Ping(ctx)
}

func (q *Querier) Close(ctx context.Context) error {
	return q.conn().Close(ctx)
}

func (q *Querier) withRetry(ctx context.Context, operation func() error) error {
	err := operation()
	if err == nil || !q.isRetriableError(err) {
		return err
	}

	// only initialise the backoff provider if the operation fails
	bo := q.backoffProvider(ctx)
	err = bo.RetryNotify(func() error {
		err := operation()
		if err == nil {
			return nil
		}

		if !q.isRetriableError(err) {
			return backoff.Permanent(err)
		}

		if connErr := q.resetConn(ctx); connErr != nil {
			return fmt.Errorf("unable to reset connection: %w", connErr)
		}

		return err
	}, func(err error, d time.Duration) {
		q.logger.Warn(err, "retrying Postgres operation after error", loglib.Fields{
			"retry_delay": d.String(),
		})
	})

	if err == nil {
		q.logger.Info("retried Postgres operation succeeded")
	}
	return err
}

func (q *Querier) conn() postgres.Querier {
	q.mutex.RLock()
	defer q.mutex.RUnlock()
	return q.querier
}

func (q *Querier) resetConn(ctx context.Context) error {
	conn, connErr := q.connBuilder(ctx)
	if connErr != nil {
		return connErr
	}

	q.mutex.Lock()
	previous := q.querier
	q.querier = conn
	q.mutex.Unlock()

	if previous != nil {
		previous.Close(ctx)
	}
	return nil
}

func (q *Querier) isRetriableError(err error) bool {
	mappedErr := postgres.MapError(err)

	permissionDenied := &postgres.ErrPermissionDenied{}
	constraintViolation := &postgres.ErrConstraintViolation{}
	syntaxError := &postgres.ErrSyntaxError{}
	doesNotExist := &postgres.ErrRelationDoesNotExist{}
	switch {
	case errors.As(mappedErr, &permissionDenied),
		errors.As(mappedErr, &constraintViolation),
		errors.As(mappedErr, &syntaxError),
		errors.As(mappedErr, &doesNotExist),
		errors.Is(mappedErr, postgres.ErrNoRows):
		return false
	}

	// for now retry errors that are not context cancellation
	return !errors.Is(err, context.Canceled)
}
