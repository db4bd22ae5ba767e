// SPDX-License-Identifier: Apache-2.0

package query

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xataio/searchsync/pkg/engine"
	"github.com/xataio/searchsync/pkg/engine/memory"
	"github.com/xataio/searchsync/pkg/engine/mocks"
	"github.com/xataio/searchsync/pkg/engine/registry"
	loglib "github.com/xataio/searchsync/pkg/log"
)

var (
	testIndex = &engine.Index{
		Handle:     "articles",
		EngineType: engine.KindTypesense,
		FieldMappings: []engine.FieldMapping{
			{SourceField: "title", IndexFieldName: "title", IndexFieldType: engine.FieldText, Role: engine.RoleTitle},
			{SourceField: "url", IndexFieldName: "url", IndexFieldType: engine.FieldKeyword, Role: engine.RoleURL},
			{SourceField: "body", IndexFieldName: "body", IndexFieldType: engine.FieldText},
			{SourceField: "category", IndexFieldName: "category", IndexFieldType: engine.FieldFacet},
		},
	}
	testOtherIndex = &engine.Index{
		Handle:       "products",
		EngineType:   engine.KindTypesense,
		EngineConfig: engine.Config{"url": "http://other:8108"},
	}
	testDocs = []engine.Document{
		{"objectID": "1", "title": "Go release", "url": "/go", "body": "gophers", "category": "news"},
		{"objectID": "2", "title": "Cup final", "url": "/cup", "body": "football", "category": "sport"},
		{"objectID": "3", "title": "New laptop", "url": "/laptop", "body": "hardware", "category": "tech"},
	}
)

func newTestService(t *testing.T, e engine.Engine) *Service {
	t.Helper()
	catalog, err := engine.NewIndexSet(testIndex, testOtherIndex)
	require.NoError(t, err)

	opts := []registry.Option{}
	for _, kind := range engine.Kinds() {
		opts = append(opts, registry.WithConstructor(kind, func(engine.Config, loglib.Logger) (engine.Engine, error) {
			return e, nil
		}))
	}
	return NewService(catalog, registry.NewFactory(opts...))
}

func newTestMemoryEngine(t *testing.T) *memory.Engine {
	t.Helper()
	e, err := memory.New(engine.Config{})
	require.NoError(t, err)
	require.NoError(t, e.CreateIndex(context.Background(), testIndex))
	require.NoError(t, e.IndexDocuments(context.Background(), testIndex, testDocs))
	return e
}

func hitIDs(res *engine.SearchResult) []string {
	ids := []string{}
	for _, hit := range res.Hits {
		ids = append(ids, hit[engine.ObjectIDField].(string))
	}
	return ids
}

func TestSession_Search(t *testing.T) {
	t.Parallel()

	session := newTestService(t, newTestMemoryEngine(t)).NewSession()
	defer session.Close()

	res, err := session.Search(context.Background(), "articles", "", map[string]any{
		"filters": map[string]any{"category": []any{"news", "sport"}},
		"facets":  []any{"category"},
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"1", "2"}, hitIDs(res))
	require.Equal(t, 2, res.TotalHits)
	require.Equal(t, 1, res.TotalPages)
	for _, hit := range res.Hits {
		require.Contains(t, hit, "_score")
		require.IsType(t, map[string][]string{}, hit["_highlights"])
	}
	require.Len(t, res.Facets["category"], 2)
}

func TestSession_Search_errors(t *testing.T) {
	t.Parallel()

	errTest := errors.New("oh noes")
	session := newTestService(t, &mocks.Engine{
		SearchFn: func(ctx context.Context, idx *engine.Index, query string, opts *engine.SearchOptions) (*engine.SearchResult, error) {
			return nil, errTest
		},
	}).NewSession()
	defer session.Close()

	_, err := session.Search(context.Background(), "unknown", "go", nil)
	require.ErrorIs(t, err, ErrIndexNotFound)
	var searchErr *SearchError
	require.False(t, errors.As(err, &searchErr))

	_, err = session.Search(context.Background(), "articles", "go", nil)
	require.ErrorAs(t, err, &searchErr)
	require.Equal(t, "articles", searchErr.Handle)
	require.ErrorIs(t, err, errTest)
	require.NotErrorIs(t, err, ErrIndexNotFound)

	_, err = session.Search(context.Background(), "articles", "go", map[string]any{"filters": "{not json"})
	var validationErr *engine.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.ErrorAs(t, err, &searchErr)
}

func TestSession_Autocomplete(t *testing.T) {
	t.Parallel()

	var gotOpts []*engine.SearchOptions
	session := newTestService(t, &mocks.Engine{
		SearchFn: func(ctx context.Context, idx *engine.Index, query string, opts *engine.SearchOptions) (*engine.SearchResult, error) {
			gotOpts = append(gotOpts, opts)
			return engine.NewSearchResult(opts), nil
		},
	}).NewSession()
	defer session.Close()

	_, err := session.Autocomplete(context.Background(), "articles", "go", nil)
	require.NoError(t, err)
	_, err = session.Autocomplete(context.Background(), "articles", "go", map[string]any{"perPage": 8})
	require.NoError(t, err)

	require.Len(t, gotOpts, 2)
	require.Equal(t, DefaultAutocompletePerPage, gotOpts[0].PerPage)
	require.Equal(t, []string{engine.ObjectIDField, "title", "url"}, gotOpts[0].Retrieve)
	require.Equal(t, 8, gotOpts[1].PerPage)
	require.Equal(t, []string{engine.ObjectIDField, "title", "url"}, gotOpts[1].Retrieve)
}

func TestSession_Autocomplete_memory(t *testing.T) {
	t.Parallel()

	session := newTestService(t, newTestMemoryEngine(t)).NewSession()
	defer session.Close()

	res, err := session.Autocomplete(context.Background(), "articles", "cup", nil)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	require.Equal(t, "Cup final", res.Hits[0]["title"])
	require.NotContains(t, res.Hits[0], "body")
	require.NotContains(t, res.Hits[0], "category")
}

func TestSession_MultiSearch(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	e := &mocks.Engine{
		MultiSearchFn: func(ctx context.Context, queries []engine.Query) ([]*engine.SearchResult, error) {
			calls.Add(1)
			results := make([]*engine.SearchResult, 0, len(queries))
			for _, q := range queries {
				res := engine.NewSearchResult(q.Options)
				res.Hits = append(res.Hits, engine.Document{engine.ObjectIDField: q.Index.Handle + ":" + q.Query})
				results = append(results, res)
			}
			return results, nil
		},
	}
	session := newTestService(t, e).NewSession()
	defer session.Close()

	results, err := session.MultiSearch(context.Background(), []Request{
		{Handle: "articles", Query: "a", Options: map[string]any{"facets": []any{"category"}}},
		{Handle: "products", Query: "b"},
		{Handle: "articles", Query: "c", Options: map[string]any{"page": 2}},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, []string{"articles:a"}, hitIDs(results[0]))
	require.Equal(t, []string{"products:b"}, hitIDs(results[1]))
	require.Equal(t, []string{"articles:c"}, hitIDs(results[2]))
	require.Equal(t, 2, results[2].Page)
	// one batch per backend connection
	require.Equal(t, int32(2), calls.Load())
}

func TestSession_MultiSearch_errors(t *testing.T) {
	t.Parallel()

	errTest := errors.New("oh noes")

	tests := []struct {
		name     string
		engine   *mocks.Engine
		requests []Request

		wantErr     error
		wantHandle  string
		wantInvalid bool
	}{
		{
			name:     "unknown index",
			engine:   &mocks.Engine{},
			requests: []Request{{Handle: "articles"}, {Handle: "unknown"}},
			wantErr:  ErrIndexNotFound,
		},
		{
			name:        "invalid options",
			engine:      &mocks.Engine{},
			requests:    []Request{{Handle: "articles", Options: map[string]any{"page": "first"}}},
			wantHandle:  "articles",
			wantInvalid: true,
		},
		{
			name: "backend failure",
			engine: &mocks.Engine{
				MultiSearchFn: func(ctx context.Context, queries []engine.Query) ([]*engine.SearchResult, error) {
					return nil, errTest
				},
			},
			requests:   []Request{{Handle: "products"}},
			wantErr:    errTest,
			wantHandle: "products",
		},
		{
			name: "result count mismatch",
			engine: &mocks.Engine{
				MultiSearchFn: func(ctx context.Context, queries []engine.Query) ([]*engine.SearchResult, error) {
					return nil, nil
				},
			},
			requests:   []Request{{Handle: "articles"}},
			wantHandle: "articles",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			session := newTestService(t, tc.engine).NewSession()
			defer session.Close()

			_, err := session.MultiSearch(context.Background(), tc.requests)
			require.Error(t, err)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			}
			if tc.wantHandle != "" {
				var searchErr *SearchError
				require.ErrorAs(t, err, &searchErr)
				require.Equal(t, tc.wantHandle, searchErr.Handle)
			}
			if tc.wantInvalid {
				var validationErr *engine.ValidationError
				require.ErrorAs(t, err, &validationErr)
			}
		})
	}
}

func TestSession_SearchFacetValues(t *testing.T) {
	t.Parallel()

	session := newTestService(t, newTestMemoryEngine(t)).NewSession()
	defer session.Close()

	values, err := session.SearchFacetValues(context.Background(), "articles", "category", "sp", map[string]any{
		"filters": map[string]any{"category": []any{"news", "sport"}},
	})
	require.NoError(t, err)
	require.Equal(t, []engine.FacetValue{{Value: "sport", Count: 1}}, values)

	values, err = session.SearchFacetValues(context.Background(), "articles", "missing", "", nil)
	require.NoError(t, err)
	require.Empty(t, values)

	_, err = session.SearchFacetValues(context.Background(), "unknown", "category", "", nil)
	require.ErrorIs(t, err, ErrIndexNotFound)
}

func TestSession_documents(t *testing.T) {
	t.Parallel()

	session := newTestService(t, newTestMemoryEngine(t)).NewSession()
	defer session.Close()
	ctx := context.Background()

	doc, err := session.GetDocument(ctx, "articles", "2")
	require.NoError(t, err)
	require.Equal(t, "Cup final", doc["title"])

	doc, err = session.GetDocument(ctx, "articles", "42")
	require.NoError(t, err)
	require.Nil(t, doc)

	count, err := session.DocCount(ctx, "articles")
	require.NoError(t, err)
	require.Equal(t, 3, count)

	ready, err := session.IsReady(ctx, "articles")
	require.NoError(t, err)
	require.True(t, ready)

	// same memory engine, the products index was never created
	ready, err = session.IsReady(ctx, "products")
	require.NoError(t, err)
	require.False(t, ready)

	_, err = session.DocCount(ctx, "products")
	require.ErrorIs(t, err, engine.ErrIndexNotFound)
	var searchErr *SearchError
	require.ErrorAs(t, err, &searchErr)
}

func TestSession_Status(t *testing.T) {
	t.Parallel()

	errTest := errors.New("oh noes")

	tests := []struct {
		name   string
		engine *mocks.Engine

		wantStatus *IndexStatus
	}{
		{
			name: "ok",
			engine: &mocks.Engine{
				TestConnectionFn:   func(ctx context.Context) bool { return true },
				IndexExistsFn:      func(ctx context.Context, idx *engine.Index) (bool, error) { return true, nil },
				GetDocumentCountFn: func(ctx context.Context, idx *engine.Index) (int, error) { return 45, nil },
			},
			wantStatus: &IndexStatus{Handle: "articles", Engine: engine.KindTypesense, Connected: true, Ready: true, DocCount: ptr(45)},
		},
		{
			name: "not connected",
			engine: &mocks.Engine{
				TestConnectionFn: func(ctx context.Context) bool { return false },
			},
			wantStatus: &IndexStatus{Handle: "articles", Engine: engine.KindTypesense},
		},
		{
			name: "existence check failure",
			engine: &mocks.Engine{
				TestConnectionFn: func(ctx context.Context) bool { return true },
				IndexExistsFn:    func(ctx context.Context, idx *engine.Index) (bool, error) { return false, errTest },
			},
			wantStatus: &IndexStatus{Handle: "articles", Engine: engine.KindTypesense, Connected: true},
		},
		{
			name: "count failure",
			engine: &mocks.Engine{
				TestConnectionFn:   func(ctx context.Context) bool { return true },
				IndexExistsFn:      func(ctx context.Context, idx *engine.Index) (bool, error) { return true, nil },
				GetDocumentCountFn: func(ctx context.Context, idx *engine.Index) (int, error) { return 0, errTest },
			},
			wantStatus: &IndexStatus{Handle: "articles", Engine: engine.KindTypesense, Connected: true, Ready: true},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			session := newTestService(t, tc.engine).NewSession()
			defer session.Close()

			status, err := session.Status(context.Background(), "articles")
			require.NoError(t, err)
			require.Equal(t, tc.wantStatus, status)
		})
	}
}

func ptr[T any](v T) *T {
	return &v
}
