// SPDX-License-Identifier: Apache-2.0

package typesense

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/xataio/searchsync/pkg/engine"
	"github.com/xataio/searchsync/pkg/engine/typesense/mocks"
)

var testIndex = &engine.Index{
	Handle:     "articles",
	EngineType: engine.KindTypesense,
	FieldMappings: []engine.FieldMapping{
		{IndexFieldName: "title", IndexFieldType: engine.FieldText, Weight: 2, Role: engine.RoleTitle},
		{IndexFieldName: "body", IndexFieldType: engine.FieldText, Weight: 5},
		{IndexFieldName: "category", IndexFieldType: engine.FieldFacet},
		{IndexFieldName: "price", IndexFieldType: engine.FieldFloat},
		{IndexFieldName: "published", IndexFieldType: engine.FieldDate},
		{IndexFieldName: "location", IndexFieldType: engine.FieldGeoPoint},
		{IndexFieldName: "vec", IndexFieldType: engine.FieldEmbedding, Dimensions: 3},
	},
}

func TestBuildSearchParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		opts  map[string]any

		wantParams map[string]any
		wantErr    bool
	}{
		{
			name:  "filters, facets and sort",
			query: "go",
			opts: map[string]any{
				"page":    3,
				"perPage": 10,
				"filters": map[string]any{
					"category": []any{"news", "sport"},
					"price":    map[string]any{"min": 1, "max": 5.5},
				},
				"facets": "category",
				"stats":  "price",
				"sort":   `{"published":"desc"}`,
			},
			wantParams: map[string]any{
				"q":                "go",
				"page":             3,
				"per_page":         10,
				"query_by":         "body,title,category",
				"query_by_weights": "5,2,1",
				"filter_by":        "category:=[`news`,`sport`] && price:>=1 && price:<=5.5",
				"facet_by":         "category,price",
				"max_facet_values": 100,
				"sort_by":          "published:desc",
			},
		},
		{
			name: "dates, geo and escaping",
			opts: map[string]any{
				"filters":   map[string]any{"category": "it`s", "published": map[string]any{"min": "2024-03-01T10:30:00Z"}},
				"geoFilter": map[string]any{"lat": 48.85, "lng": 2.35, "radius": 1500},
				"geoSort":   map[string]any{"lat": 48.85, "lng": 2.35, "direction": "desc"},
			},
			wantParams: map[string]any{
				"q":                "*",
				"page":             1,
				"per_page":         20,
				"query_by":         "body,title,category",
				"query_by_weights": "5,2,1",
				"filter_by":        "category:=`it\\`s` && published:>=1709289000 && location:(48.85, 2.35, 1.5 km)",
				"sort_by":          "location(48.85, 2.35):desc",
			},
		},
		{
			name:  "hybrid search with highlight",
			query: "go",
			opts: map[string]any{
				"embedding": []any{0.5, 1},
				"highlight": true,
				"fields":    "title",
				"retrieve":  "title",
			},
			wantParams: map[string]any{
				"q":                   "go",
				"page":                1,
				"per_page":            20,
				"query_by":            "title",
				"highlight_fields":    "title",
				"highlight_start_tag": "<em>",
				"highlight_end_tag":   "</em>",
				"include_fields":      "title,objectID",
				"vector_query":        "vec:([0.5,1], k:20)",
			},
		},
		{
			name: "native keys win",
			opts: map[string]any{"perPage": 10, "per_page": 7, "prefix": false},
			wantParams: map[string]any{
				"q":                "*",
				"page":             1,
				"per_page":         7,
				"prefix":           false,
				"query_by":         "body,title,category",
				"query_by_weights": "5,2,1",
			},
		},
		{
			name:    "geo filter without geo field",
			opts:    map[string]any{"geoFilter": map[string]any{"lat": 1, "lng": 2, "radius": 3}},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			opts, err := engine.ParseOptions(tc.opts)
			require.NoError(t, err)

			idx := testIndex
			if tc.wantErr {
				idx = &engine.Index{Handle: "plain", EngineType: engine.KindTypesense}
			}
			params, err := buildSearchParams(idx, tc.query, opts)
			if tc.wantErr {
				require.Error(t, err)
				require.ErrorAs(t, err, new(*engine.ValidationError))
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tc.wantParams, params); diff != "" {
				t.Errorf("unexpected search params (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIDFilter_escapesBackticks(t *testing.T) {
	t.Parallel()

	require.Equal(t, "id:=[`a`,`b\\` || id:!=\\`x`]", idFilter([]string{"a", "b` || id:!=`x"}))
}

const searchResponse = `{
	"found": 2,
	"search_time_ms": 3,
	"page": 1,
	"request_params": {"per_page": 20},
	"hits": [
		{
			"document": {"id": "1", "objectID": "1", "title": "Go"},
			"text_match": 1000,
			"highlights": [{"field": "title", "snippet": "<em>Go</em>"}]
		},
		{
			"document": {"id": "2", "objectID": "2", "title": "Gopher"},
			"hybrid_search_info": {"rank_fusion_score": 0.5},
			"highlights": [{"field": "tags", "snippets": ["<em>go</em>lang", "<em>go</em>"]}]
		}
	],
	"facet_counts": [
		{"field_name": "category", "counts": [{"value": "news", "count": 1}, {"value": "sport", "count": 4}]},
		{"field_name": "price", "counts": [], "stats": {"min": 1, "max": 9, "avg": 5, "sum": 10, "total_values": 2}}
	]
}`

func TestToResult(t *testing.T) {
	t.Parallel()

	opts, err := engine.ParseOptions(map[string]any{"facets": "category", "stats": "price", "highlight": true})
	require.NoError(t, err)

	res, err := toResult(opts, gjson.Parse(searchResponse))
	require.NoError(t, err)

	require.Equal(t, 2, res.TotalHits)
	require.Equal(t, 1, res.TotalPages)
	require.Equal(t, 3, *res.ProcessingTimeMS)
	require.Equal(t, engine.Document{
		"objectID":    "1",
		"title":       "Go",
		"_score":      float64(1000),
		"_highlights": map[string][]string{"title": {"<em>Go</em>"}},
	}, res.Hits[0])
	require.Equal(t, 0.5, res.Hits[1]["_score"])
	require.Equal(t, map[string][]string{"tags": {"<em>go</em>lang", "<em>go</em>"}}, res.Hits[1]["_highlights"])
	require.Equal(t, []engine.FacetValue{{Value: "sport", Count: 4}, {Value: "news", Count: 1}}, res.Facets["category"])
	require.Equal(t, engine.FieldStats{Min: 1, Max: 9, Avg: 5, Sum: 10, Count: 2}, res.Stats["price"])
}

func TestEngine_MultiSearch(t *testing.T) {
	t.Parallel()

	t.Run("one result per query", func(t *testing.T) {
		t.Parallel()

		client := &mocks.Client{
			MultiSearchFn: func(ctx context.Context, searches []map[string]any) ([]byte, error) {
				require.Len(t, searches, 2)
				require.Equal(t, "dev_articles", searches[0]["collection"])
				require.Equal(t, "dev_authors", searches[1]["collection"])
				return []byte(`{"results":[` + searchResponse + `,{"found":0,"hits":[]}]}`), nil
			},
		}
		e := newTestEngine(client)

		results, err := e.MultiSearch(context.Background(), []engine.Query{
			{Index: testIndex, Query: "go"},
			{Index: testIndex.WithHandle("authors"), Query: "rob"},
		})
		require.NoError(t, err)
		require.Len(t, results, 2)
		require.Equal(t, 2, results[0].TotalHits)
		require.Empty(t, results[1].Hits)
	})

	t.Run("per search error", func(t *testing.T) {
		t.Parallel()

		client := &mocks.Client{
			MultiSearchFn: func(ctx context.Context, searches []map[string]any) ([]byte, error) {
				return []byte(`{"results":[{"code":404,"error":"Not found."}]}`), nil
			},
		}
		e := newTestEngine(client)

		_, err := e.Search(context.Background(), testIndex, "go", nil)
		require.ErrorIs(t, err, engine.ErrIndexNotFound)
	})
}

func TestEngine_SearchFacetValues(t *testing.T) {
	t.Parallel()

	client := &mocks.Client{
		MultiSearchFn: func(ctx context.Context, searches []map[string]any) ([]byte, error) {
			require.Equal(t, []map[string]any{{
				"collection":       "dev_articles",
				"q":                "*",
				"facet_by":         "category",
				"facet_query":      "category:sp",
				"max_facet_values": 5,
				"per_page":         0,
				"filter_by":        "price:>=1",
			}}, searches)
			return []byte(`{"results":[{"found":0,"facet_counts":[{"field_name":"category","counts":[{"value":"sport","count":4},{"value":"spa","count":9}]}]}]}`), nil
		},
	}
	e := newTestEngine(client)

	values, err := e.SearchFacetValues(context.Background(), testIndex, engine.FacetValuesRequest{
		Fields:      []string{"category"},
		Query:       "sp",
		MaxPerField: 5,
		Filters:     []engine.Filter{{Field: "price", Range: &engine.Range{Min: 1}}},
	})
	require.NoError(t, err)
	require.Equal(t, map[string][]engine.FacetValue{
		"category": {{Value: "spa", Count: 9}, {Value: "sport", Count: 4}},
	}, values)
}

func TestEngine_SearchFacetValues_invalidField(t *testing.T) {
	t.Parallel()

	e := newTestEngine(&mocks.Client{
		MultiSearchFn: func(ctx context.Context, searches []map[string]any) ([]byte, error) {
			return nil, errors.New("MultiSearchFn: should not be called")
		},
	})

	_, err := e.SearchFacetValues(context.Background(), testIndex, engine.FacetValuesRequest{
		Fields: []string{"category:sp,title"},
		Query:  "x",
	})
	require.ErrorAs(t, err, new(*engine.ValidationError))
}

func TestBuildFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		filters []engine.Filter

		wantFilter string
		wantErr    bool
	}{
		{
			name: "values of a field are a list and fields are AND-ed",
			filters: []engine.Filter{
				{Field: "category", Values: []any{"news", "a`b\\"}},
				{Field: "title", Values: []any{`say "go"`}},
			},
			wantFilter: "category:=[`news`,`a\\`b\\\\`] && title:=`say \"go\"`",
		},
		{
			name: "numeric range and value",
			filters: []engine.Filter{
				{Field: "price", Range: &engine.Range{Max: 9}},
				{Field: "price", Values: []any{7}},
			},
			wantFilter: "price:<=9 && price:=7",
		},
		{
			name:    "error - field name with a separator",
			filters: []engine.Filter{{Field: "title:=`x` || category", Values: []any{"y"}}},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			filter, err := buildFilter(testIndex, tc.filters)
			if tc.wantErr {
				require.ErrorAs(t, err, new(*engine.ValidationError))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantFilter, filter)
		})
	}
}

func TestBuildSearchParams_invalidFieldNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts map[string]any
	}{
		{name: "sort", opts: map[string]any{"sort": map[string]any{"price:asc,title": "desc"}}},
		{name: "facet", opts: map[string]any{"facets": []any{"category,price:>1"}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			opts, err := engine.ParseOptions(tc.opts)
			require.NoError(t, err)

			_, err = buildSearchParams(testIndex, "", opts)
			require.ErrorAs(t, err, new(*engine.ValidationError))
		})
	}
}
