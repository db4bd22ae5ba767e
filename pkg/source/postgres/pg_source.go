// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"

	"github.com/xataio/searchsync/internal/backoff"
	pglib "github.com/xataio/searchsync/internal/postgres"
	"github.com/xataio/searchsync/internal/postgres/instrumentation"
	"github.com/xataio/searchsync/internal/postgres/retrier"
	loglib "github.com/xataio/searchsync/pkg/log"
	"github.com/xataio/searchsync/pkg/orchestrator"
	"github.com/xataio/searchsync/pkg/otel"
)

// Source reads the live records out of a Postgres table.
type Source struct {
	logger  loglib.Logger
	querier pglib.Querier
}

type Config struct {
	URL   string         `mapstructure:"url" yaml:"url"`
	Retry backoff.Config `mapstructure:"retry" yaml:"retry"`
}

type Option func(*Source)

var _ orchestrator.Source = (*Source)(nil)

// New connects to the database on input. Queries failing on connection
// errors are retried on a fresh connection.
func New(ctx context.Context, cfg *Config, i *otel.Instrumentation, opts ...Option) (*Source, error) {
	s := &Source{
		logger: loglib.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	builder, err := instrumentation.NewQuerierBuilder(pglib.ConnPoolBuilder, i)
	if err != nil {
		return nil, err
	}
	connBuilder := func(ctx context.Context) (pglib.Querier, error) {
		return builder(ctx, cfg.URL)
	}
	s.querier, err = retrier.NewQuerier(ctx, cfg.Retry, connBuilder, s.logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to record source: %w", err)
	}
	return s, nil
}

func NewWithQuerier(querier pglib.Querier, opts ...Option) *Source {
	s := &Source{
		logger:  loglib.NewNoopLogger(),
		querier: querier,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func WithLogger(l loglib.Logger) Option {
	return func(s *Source) {
		s.logger = loglib.NewModuleLogger(l, "postgres_source")
	}
}

func (s *Source) Count(ctx context.Context, c orchestrator.Criteria) (int, error) {
	criteria, err := parseCriteria(c)
	if err != nil {
		return 0, err
	}
	query, err := criteria.countQuery()
	if err != nil {
		return 0, err
	}

	var count int64
	if err := s.querier.QueryRow(ctx, []any{&count}, query, criteria.Args...); err != nil {
		return 0, fmt.Errorf("counting records of %s: %w", criteria.Table, err)
	}
	return int(count), nil
}

func (s *Source) IDs(ctx context.Context, c orchestrator.Criteria) ([]string, error) {
	criteria, err := parseCriteria(c)
	if err != nil {
		return nil, err
	}
	query, err := criteria.idsQuery()
	if err != nil {
		return nil, err
	}

	rows, err := s.querier.Query(ctx, query, criteria.Args...)
	if err != nil {
		return nil, fmt.Errorf("listing record ids of %s: %w", criteria.Table, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("reading record ids of %s: %w", criteria.Table, pglib.MapError(err))
	}
	return ids, nil
}

func (s *Source) Fetch(ctx context.Context, c orchestrator.Criteria, offset, limit int) ([]orchestrator.Record, error) {
	criteria, err := parseCriteria(c)
	if err != nil {
		return nil, err
	}
	query, args, err := criteria.fetchQuery()
	if err != nil {
		return nil, err
	}
	args = append(slices.Clone(args), limit, offset)

	s.logger.Trace("fetching records", loglib.Fields{"table": criteria.Table, "offset": offset, "limit": limit})
	return s.collect(ctx, criteria, query, args)
}

func (s *Source) Get(ctx context.Context, c orchestrator.Criteria, id string) (orchestrator.Record, error) {
	criteria, err := parseCriteria(c)
	if err != nil {
		return nil, err
	}
	query, err := criteria.getQuery()
	if err != nil {
		return nil, err
	}
	args := append(slices.Clone(criteria.Args), id)

	records, err := s.collect(ctx, criteria, query, args)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func (s *Source) Close(ctx context.Context) error {
	return s.querier.Close(ctx)
}

func (s *Source) collect(ctx context.Context, criteria *Criteria, query string, args []any) ([]orchestrator.Record, error) {
	rows, err := s.querier.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading records of %s: %w", criteria.Table, err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (orchestrator.Record, error) {
		m, err := pgx.RowToMap(row)
		return orchestrator.Record(m), err
	})
	if err != nil {
		return nil, fmt.Errorf("reading records of %s: %w", criteria.Table, pglib.MapError(err))
	}
	return records, nil
}
