// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	pglib "github.com/xataio/searchsync/internal/postgres"
	"github.com/xataio/searchsync/internal/postgres/mocks"
	"github.com/xataio/searchsync/pkg/engine"
	"github.com/xataio/searchsync/pkg/orchestrator"
)

var testCriteria = orchestrator.Criteria{
	"table":     "public.articles",
	"id_column": "id",
	"columns":   []string{"title", "body"},
	"filter":    "status = $1",
	"args":      []any{"published"},
}

func TestSource_Count(t *testing.T) {
	t.Parallel()

	errTest := errors.New("oh noes")

	tests := []struct {
		name     string
		criteria orchestrator.Criteria
		querier  *mocks.Querier

		wantCount int
		wantErr   error
	}{
		{
			name:     "ok",
			criteria: testCriteria,
			querier: &mocks.Querier{
				QueryRowFn: func(_ context.Context, dest []any, query string, args ...any) error {
					require.Equal(t, `SELECT count(*) FROM "public"."articles" WHERE (status = $1)`, query)
					require.Equal(t, []any{"published"}, args)
					*(dest[0].(*int64)) = 42
					return nil
				},
			},
			wantCount: 42,
		},
		{
			name:     "ok - no filter",
			criteria: orchestrator.Criteria{"table": "articles"},
			querier: &mocks.Querier{
				QueryRowFn: func(_ context.Context, dest []any, query string, args ...any) error {
					require.Equal(t, `SELECT count(*) FROM "articles"`, query)
					require.Empty(t, args)
					*(dest[0].(*int64)) = 3
					return nil
				},
			},
			wantCount: 3,
		},
		{
			name:     "error - missing table",
			criteria: orchestrator.Criteria{"id_column": "id"},
			querier:  &mocks.Querier{},
			wantErr:  &engine.ValidationError{},
		},
		{
			name:     "error - invalid table name",
			criteria: orchestrator.Criteria{"table": "a.b.c"},
			querier:  &mocks.Querier{},
			wantErr:  &engine.ValidationError{},
		},
		{
			name:     "error - querying",
			criteria: testCriteria,
			querier: &mocks.Querier{
				QueryRowFn: func(_ context.Context, _ []any, _ string, _ ...any) error {
					return errTest
				},
			},
			wantErr: errTest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := NewWithQuerier(tc.querier)
			count, err := s.Count(context.Background(), tc.criteria)
			requireError(t, tc.wantErr, err)
			require.Equal(t, tc.wantCount, count)
		})
	}
}

func TestSource_IDs(t *testing.T) {
	t.Parallel()

	s := NewWithQuerier(&mocks.Querier{
		QueryFn: func(_ context.Context, _ uint, query string, args ...any) (pglib.Rows, error) {
			require.Equal(t, `SELECT "id"::text FROM "public"."articles" WHERE (status = $1) ORDER BY "id"`, query)
			require.Equal(t, []any{"published"}, args)
			return mocks.NewRows([]string{"id"}, [][]any{{"1"}, {"2"}, {"10"}}), nil
		},
	})

	ids, err := s.IDs(context.Background(), testCriteria)
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2", "10"}, ids)
}

func TestSource_Fetch(t *testing.T) {
	t.Parallel()

	s := NewWithQuerier(&mocks.Querier{
		QueryFn: func(_ context.Context, _ uint, query string, args ...any) (pglib.Rows, error) {
			require.Equal(t, `SELECT "id", "title", "body" FROM "public"."articles" WHERE (status = $1) ORDER BY "id" LIMIT $2 OFFSET $3`, query)
			require.Equal(t, []any{"published", 2, 10}, args)
			return mocks.NewRows([]string{"id", "title", "body"}, [][]any{
				{int64(11), "Go", "gophers"},
				{int64(12), "Rust", "crabs"},
			}), nil
		},
	})

	records, err := s.Fetch(context.Background(), testCriteria, 10, 2)
	require.NoError(t, err)
	require.Equal(t, []orchestrator.Record{
		{"id": int64(11), "title": "Go", "body": "gophers"},
		{"id": int64(12), "title": "Rust", "body": "crabs"},
	}, records)
	// the criteria args are not modified by the paging args
	require.Equal(t, []any{"published"}, testCriteria["args"])
}

func TestSource_Get(t *testing.T) {
	t.Parallel()

	errTest := errors.New("oh noes")

	tests := []struct {
		name    string
		querier *mocks.Querier

		wantRecord orchestrator.Record
		wantErr    error
	}{
		{
			name: "ok",
			querier: &mocks.Querier{
				QueryFn: func(_ context.Context, _ uint, query string, args ...any) (pglib.Rows, error) {
					require.Equal(t, `SELECT "id", "title", "body" FROM "public"."articles" WHERE (status = $1) AND "id"::text = $2 LIMIT 1`, query)
					require.Equal(t, []any{"published", "11"}, args)
					return mocks.NewRows([]string{"id", "title", "body"}, [][]any{{int64(11), "Go", "gophers"}}), nil
				},
			},
			wantRecord: orchestrator.Record{"id": int64(11), "title": "Go", "body": "gophers"},
		},
		{
			name: "ok - record gone",
			querier: &mocks.Querier{
				QueryFn: func(_ context.Context, _ uint, _ string, _ ...any) (pglib.Rows, error) {
					return mocks.NewRows([]string{"id", "title", "body"}, nil), nil
				},
			},
			wantRecord: nil,
		},
		{
			name: "error - querying",
			querier: &mocks.Querier{
				QueryFn: func(_ context.Context, _ uint, _ string, _ ...any) (pglib.Rows, error) {
					return nil, errTest
				},
			},
			wantErr: errTest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			record, err := NewWithQuerier(tc.querier).Get(context.Background(), testCriteria, "11")
			requireError(t, tc.wantErr, err)
			require.Equal(t, tc.wantRecord, record)
		})
	}
}

func requireError(t *testing.T, want, got error) {
	t.Helper()
	var validationErr *engine.ValidationError
	switch {
	case want == nil:
		require.NoError(t, got)
	case errors.As(want, &validationErr):
		require.ErrorAs(t, got, &validationErr)
	default:
		require.ErrorIs(t, got, want)
	}
}
