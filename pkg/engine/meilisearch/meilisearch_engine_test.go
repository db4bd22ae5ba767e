// SPDX-License-Identifier: Apache-2.0

package meilisearch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xataio/searchsync/pkg/engine"
	"github.com/xataio/searchsync/pkg/engine/meilisearch/mocks"
)

var (
	errRestricted = fmt.Errorf("search: %w", &engine.StatusError{Status: http.StatusForbidden, Message: "invalid_api_key"})
	errNoIndex    = fmt.Errorf("%w: %w", engine.ErrIndexNotFound, &engine.StatusError{Status: http.StatusNotFound})
)

func newTestEngine(client *mocks.Client) *Engine {
	return NewWithClient(client, &engine.ConnectionConfig{IndexPrefix: "dev_"})
}

func TestEngine_IndexDocuments(t *testing.T) {
	t.Parallel()

	t.Run("documents are prepared and invalid ones reported", func(t *testing.T) {
		t.Parallel()

		var got []map[string]any
		client := &mocks.Client{
			AddDocumentsFn: func(ctx context.Context, uid, primaryKey string, docs []map[string]any) error {
				require.Equal(t, "dev_articles", uid)
				require.Equal(t, engine.ObjectIDField, primaryKey)
				got = docs
				return nil
			},
		}
		e := newTestEngine(client)

		err := e.IndexDocuments(context.Background(), testIndex, []engine.Document{
			{
				"objectID":  42,
				"title":     "Go",
				"published": "2024-03-01T10:30:00Z",
				"location":  map[string]any{"lat": 1.5, "lon": 2.5},
				"vec":       []float32{1, 2, 3},
			},
			{"objectID": "not valid!"},
		})

		var bulkErr *engine.BulkError
		require.True(t, errors.As(err, &bulkErr))
		require.Len(t, bulkErr.Failures, 1)
		require.Equal(t, "not valid!", bulkErr.Failures[0].ObjectID)
		require.False(t, engine.IsTransient(err))

		require.Equal(t, []map[string]any{{
			"objectID":  "42",
			"title":     "Go",
			"published": int64(1709289000),
			"location":  map[string]any{"lat": 1.5, "lon": 2.5},
			"_geo":      map[string]any{"lat": 1.5, "lng": 2.5},
			"_vectors":  map[string]any{"vec": []float32{1, 2, 3}},
		}}, got)
	})

	t.Run("failed task fails every document", func(t *testing.T) {
		t.Parallel()

		client := &mocks.Client{
			AddDocumentsFn: func(ctx context.Context, uid, primaryKey string, docs []map[string]any) error {
				return &TaskError{TaskUID: 7, Code: internalErrorCode, Message: "boom"}
			},
		}
		e := newTestEngine(client)

		err := e.IndexDocuments(context.Background(), testIndex, []engine.Document{{"objectID": "a"}, {"objectID": "b"}})
		var bulkErr *engine.BulkError
		require.True(t, errors.As(err, &bulkErr))
		require.Equal(t, []string{"a", "b"}, bulkErr.RetriableIDs())
	})

	t.Run("request failure is returned as is", func(t *testing.T) {
		t.Parallel()

		errTest := errors.New("oh noes")
		client := &mocks.Client{
			AddDocumentsFn: func(ctx context.Context, uid, primaryKey string, docs []map[string]any) error {
				return errTest
			},
		}
		e := newTestEngine(client)

		err := e.IndexDocuments(context.Background(), testIndex, []engine.Document{{"objectID": "a"}})
		require.ErrorIs(t, err, errTest)
	})
}

func TestEngine_IndexExists(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		existsFn func(ctx context.Context, uid string) (bool, error)
		searchFn func(ctx context.Context, uid string, body map[string]any) ([]byte, error)

		wantExists bool
		wantErr    bool
	}{
		{
			name:       "exists",
			existsFn:   func(ctx context.Context, uid string) (bool, error) { return true, nil },
			wantExists: true,
		},
		{
			name:     "restricted key falls back to search",
			existsFn: func(ctx context.Context, uid string) (bool, error) { return false, errRestricted },
			searchFn: func(ctx context.Context, uid string, body map[string]any) ([]byte, error) {
				require.Equal(t, 0, body["limit"])
				return []byte(`{"hits":[]}`), nil
			},
			wantExists: true,
		},
		{
			name:     "restricted key and missing index",
			existsFn: func(ctx context.Context, uid string) (bool, error) { return false, errRestricted },
			searchFn: func(ctx context.Context, uid string, body map[string]any) ([]byte, error) {
				return nil, errNoIndex
			},
			wantExists: false,
		},
		{
			name:     "connection error",
			existsFn: func(ctx context.Context, uid string) (bool, error) { return false, engine.ErrConnection },
			wantErr:  true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			e := newTestEngine(&mocks.Client{IndexExistsFn: tc.existsFn, SearchFn: tc.searchFn})
			exists, err := e.IndexExists(context.Background(), testIndex)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantExists, exists)
		})
	}
}

func TestEngine_TestConnection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		healthErr  error
		versionErr error

		want bool
	}{
		{name: "ok", want: true},
		{name: "search only key", versionErr: errRestricted, want: true},
		{name: "unreachable", healthErr: engine.ErrConnection, want: false},
		{name: "missing key", versionErr: &engine.StatusError{Status: http.StatusUnauthorized}, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			e := newTestEngine(&mocks.Client{
				HealthFn:  func(context.Context) error { return tc.healthErr },
				VersionFn: func(context.Context) error { return tc.versionErr },
			})
			require.Equal(t, tc.want, e.TestConnection(context.Background()))
		})
	}
}

func TestEngine_SwapIndex(t *testing.T) {
	t.Parallel()

	created := []string{}
	var swapped []string
	client := &mocks.Client{
		IndexExistsFn: func(ctx context.Context, uid string) (bool, error) { return false, nil },
		CreateIndexFn: func(ctx context.Context, uid, primaryKey string) error {
			created = append(created, uid)
			return nil
		},
		SwapIndexesFn: func(ctx context.Context, a, b string) error {
			swapped = []string{a, b}
			return nil
		},
	}
	e := newTestEngine(client)

	temp := testIndex.WithHandle("articles_swap_a")
	stale, err := e.SwapIndex(context.Background(), testIndex, temp)
	require.NoError(t, err)
	require.Equal(t, temp, stale)
	require.Equal(t, []string{"dev_articles"}, created)
	require.Equal(t, []string{"dev_articles", "dev_articles_swap_a"}, swapped)
}

func TestEngine_BuildSchema(t *testing.T) {
	t.Parallel()

	e := newTestEngine(&mocks.Client{})
	schema, err := e.BuildSchema(testIndex)
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"primaryKey": "objectID",
		"settings": map[string]any{
			"searchableAttributes": []string{"body", "title", "category"},
			"filterableAttributes": []string{"objectID", "category", "price", "published", "_geo"},
			"sortableAttributes":   []string{"title", "body", "price", "published", "_geo"},
			"embedders": map[string]any{
				"vec": map[string]any{"source": "userProvided", "dimensions": 3},
			},
		},
	}, schema)

	missingDims := &engine.Index{Handle: "x", FieldMappings: []engine.FieldMapping{{IndexFieldName: "v", IndexFieldType: engine.FieldEmbedding}}}
	_, err = e.BuildSchema(missingDims)
	var schemaErr *engine.SchemaError
	require.True(t, errors.As(err, &schemaErr))
}

func TestEngine_GetAllDocumentIDs(t *testing.T) {
	t.Parallel()

	calls := 0
	client := &mocks.Client{
		GetDocumentsFn: func(ctx context.Context, uid string, offset, limit int, fields []string) ([]byte, error) {
			calls++
			require.Equal(t, []string{"objectID"}, fields)
			if offset == 0 {
				results := make([]byte, 0)
				results = append(results, `{"results":[`...)
				for i := 0; i < limit; i++ {
					if i > 0 {
						results = append(results, ',')
					}
					results = append(results, fmt.Sprintf(`{"objectID":"%d"}`, i)...)
				}
				return append(results, `]}`...), nil
			}
			return []byte(`{"results":[{"objectID":"last"}]}`), nil
		},
	}
	e := newTestEngine(client)

	ids, err := e.GetAllDocumentIDs(context.Background(), testIndex)
	require.NoError(t, err)
	require.Len(t, ids, documentsPage+1)
	require.Equal(t, "last", ids[len(ids)-1])
	require.Equal(t, 2, calls)
}

func TestEngine_GetDocument(t *testing.T) {
	t.Parallel()

	client := &mocks.Client{
		GetDocumentFn: func(ctx context.Context, uid, id string) (map[string]any, error) {
			if id == "missing" {
				return nil, nil
			}
			return map[string]any{"objectID": "1", "title": "Go", "_vectors": map[string]any{}}, nil
		},
	}
	e := newTestEngine(client)

	doc, err := e.GetDocument(context.Background(), testIndex, "1")
	require.NoError(t, err)
	require.Equal(t, engine.Document{"objectID": "1", "title": "Go"}, doc)

	doc, err = e.GetDocument(context.Background(), testIndex, "missing")
	require.NoError(t, err)
	require.Nil(t, doc)
}
