// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/xataio/searchsync/pkg/engine"
	"github.com/xataio/searchsync/pkg/orchestrator"
)

var testIndex = &engine.Index{
	Handle:     "articles",
	EngineType: engine.KindTypesense,
	FieldMappings: []engine.FieldMapping{
		{SourceField: "title", IndexFieldName: "title", IndexFieldType: engine.FieldText, Role: engine.RoleTitle},
		{SourceField: "published_at", IndexFieldName: "publishedAt", IndexFieldType: engine.FieldDate},
		{
			SourceField:    "slug",
			IndexFieldName: "url",
			IndexFieldType: engine.FieldKeyword,
			ResolverConfig: map[string]any{"template": "https://example.com/{{ .Value }}/{{ .Record.article_id }}"},
		},
		{
			SourceField:    "author_email",
			IndexFieldName: "author",
			IndexFieldType: engine.FieldKeyword,
			ResolverConfig: map[string]any{"type": "masking", "masking_type": "email"},
		},
		{
			SourceField:    "metadata",
			IndexFieldName: "category",
			IndexFieldType: engine.FieldFacet,
			ResolverConfig: map[string]any{"type": "json_path", "path": "category.name"},
		},
		{
			IndexFieldName: "site",
			IndexFieldType: engine.FieldKeyword,
			ResolverConfig: map[string]any{"type": "literal", "value": "blog"},
		},
		{SourceField: "embedding", IndexFieldName: "embedding", IndexFieldType: engine.FieldEmbedding, Dimensions: 3},
		{SourceField: "price", IndexFieldName: "price", IndexFieldType: engine.FieldFloat},
	},
	SourceCriteria: map[string]any{"table": "articles", "id_column": "article_id"},
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	publishedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	record := orchestrator.Record{
		"article_id":   int32(7),
		"title":        "Go generics",
		"published_at": publishedAt,
		"slug":         "go-generics",
		"author_email": "gopher@example.com",
		"metadata":     map[string]any{"category": map[string]any{"name": "go"}},
		"embedding":    "[0.1,0.2,0.3]",
		"price":        pgtype.Numeric{Int: big.NewInt(1999), Exp: -2, Valid: true},
	}

	r := NewResolver()
	doc, err := r.Resolve(context.Background(), record, testIndex)
	require.NoError(t, err)

	require.Equal(t, "7", doc[engine.ObjectIDField])
	require.Equal(t, "Go generics", doc["title"])
	require.Equal(t, publishedAt.UTC(), doc["publishedAt"])
	require.Equal(t, "https://example.com/go-generics/7", doc["url"])
	require.NotEqual(t, "gopher@example.com", doc["author"])
	require.Contains(t, doc["author"], "@example.com")
	require.Equal(t, "go", doc["category"])
	require.Equal(t, "blog", doc["site"])
	require.Equal(t, []float64{0.1, 0.2, 0.3}, doc["embedding"])
	require.InDelta(t, 19.99, doc["price"], 0.0001)
	_, found := doc["article_id"]
	require.False(t, found)
}

func TestResolver_Resolve_allColumns(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	idx := &engine.Index{
		Handle:         "pages",
		EngineType:     engine.KindMeilisearch,
		SourceCriteria: map[string]any{"table": "pages"},
	}

	doc, err := NewResolver().Resolve(context.Background(), orchestrator.Record{
		"id":    [16]byte(id),
		"body":  []byte("hello"),
		"views": int16(3),
	}, idx)
	require.NoError(t, err)
	require.Equal(t, engine.Document{
		engine.ObjectIDField: id.String(),
		"body":               "hello",
		"views":              int64(3),
	}, doc)
}

func TestResolver_Resolve_errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		idx    *engine.Index
		record orchestrator.Record
	}{
		{
			name:   "missing id column",
			idx:    &engine.Index{Handle: "a", SourceCriteria: map[string]any{"table": "a"}},
			record: orchestrator.Record{"title": "x"},
		},
		{
			name:   "missing table",
			idx:    &engine.Index{Handle: "b"},
			record: orchestrator.Record{"id": 1},
		},
		{
			name: "unknown resolver type",
			idx: &engine.Index{
				Handle:         "c",
				SourceCriteria: map[string]any{"table": "c"},
				FieldMappings: []engine.FieldMapping{
					{IndexFieldName: "title", ResolverConfig: map[string]any{"type": "uppercase"}},
				},
			},
			record: orchestrator.Record{"id": 1},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewResolver().Resolve(context.Background(), tc.record, tc.idx)
			var validationErr *engine.ValidationError
			require.ErrorAs(t, err, &validationErr)
		})
	}
}

func TestResolver_Forget(t *testing.T) {
	t.Parallel()

	r := NewResolver()
	idx := &engine.Index{
		Handle:         "articles",
		SourceCriteria: map[string]any{"table": "articles"},
		FieldMappings:  []engine.FieldMapping{{SourceField: "title", IndexFieldName: "title"}},
	}
	record := orchestrator.Record{"id": 1, "title": "Go", "body": "gophers"}

	doc, err := r.Resolve(context.Background(), record, idx)
	require.NoError(t, err)
	require.Equal(t, engine.Document{engine.ObjectIDField: "1", "title": "Go"}, doc)

	updated := *idx
	updated.FieldMappings = []engine.FieldMapping{{SourceField: "body", IndexFieldName: "body"}}

	// cached field resolvers are used until the index is forgotten
	doc, err = r.Resolve(context.Background(), record, &updated)
	require.NoError(t, err)
	require.Equal(t, engine.Document{engine.ObjectIDField: "1", "title": "Go"}, doc)

	r.Forget("articles")
	doc, err = r.Resolve(context.Background(), record, &updated)
	require.NoError(t, err)
	require.Equal(t, engine.Document{engine.ObjectIDField: "1", "body": "gophers"}, doc)
}

func Test_normalizeValue(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("8c1a1a38-7f40-4e9d-9b43-5f1b2c3d4e5f")

	tests := []struct {
		name  string
		value any
		want  any
	}{
		{name: "nil", value: nil, want: nil},
		{name: "int32", value: int32(5), want: int64(5)},
		{name: "float32", value: float32(0.5), want: float64(0.5)},
		{name: "bytes", value: []byte("abc"), want: "abc"},
		{name: "uuid bytes", value: [16]byte(id), want: id.String()},
		{name: "pgtype uuid", value: pgtype.UUID{Bytes: id, Valid: true}, want: id.String()},
		{name: "invalid pgtype uuid", value: pgtype.UUID{}, want: nil},
		{name: "integral numeric", value: pgtype.Numeric{Int: big.NewInt(12), Exp: 2, Valid: true}, want: int64(1200)},
		{name: "null numeric", value: pgtype.Numeric{}, want: nil},
		{name: "nan numeric", value: pgtype.Numeric{NaN: true, Valid: true}, want: nil},
		{
			name:  "nested",
			value: map[string]any{"tags": []any{[]byte("a"), int16(1)}},
			want:  map[string]any{"tags": []any{"a", int64(1)}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, normalizeValue(tc.value))
		})
	}
}

func Test_parseEmbedding(t *testing.T) {
	t.Parallel()

	got, err := parseEmbedding("[1,2.5]")
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2.5}, got)

	got, err = parseEmbedding([]float32{1, 2})
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2}, got)

	got, err = parseEmbedding(nil)
	require.NoError(t, err)
	require.Nil(t, got)

	_, err = parseEmbedding("not a vector")
	require.ErrorIs(t, err, ErrUnsupportedValueType)
}
