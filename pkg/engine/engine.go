// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
)

// Engine is implemented once per search backend. Adapters translate the
// unified model into the backend's native protocol and never retry
// internally.
type Engine interface {
	Kind() Kind

	CreateIndex(ctx context.Context, idx *Index) error
	UpdateIndexSettings(ctx context.Context, idx *Index) error
	DeleteIndex(ctx context.Context, idx *Index) error
	IndexExists(ctx context.Context, idx *Index) (bool, error)

	IndexDocument(ctx context.Context, idx *Index, id string, doc Document) error
	// IndexDocuments upserts the documents with the backend bulk endpoint.
	// Partially failed batches return a *BulkError.
	IndexDocuments(ctx context.Context, idx *Index, docs []Document) error
	DeleteDocument(ctx context.Context, idx *Index, id string) error
	DeleteDocuments(ctx context.Context, idx *Index, ids []string) error
	// FlushIndex removes every document and keeps the schema.
	FlushIndex(ctx context.Context, idx *Index) error

	Search(ctx context.Context, idx *Index, query string, opts *SearchOptions) (*SearchResult, error)
	MultiSearch(ctx context.Context, queries []Query) ([]*SearchResult, error)
	SearchFacetValues(ctx context.Context, idx *Index, req FacetValuesRequest) (map[string][]FacetValue, error)

	// GetDocument returns nil when the document does not exist.
	GetDocument(ctx context.Context, idx *Index, id string) (Document, error)
	GetDocumentCount(ctx context.Context, idx *Index) (int, error)
	GetAllDocumentIDs(ctx context.Context, idx *Index) ([]string, error)

	GetIndexSchema(ctx context.Context, idx *Index) (map[string]any, error)
	GetSchemaFields(ctx context.Context, idx *Index) ([]SchemaField, error)
	BuildSchema(idx *Index) (map[string]any, error)
	MapFieldType(t FieldType) (string, error)

	SupportsAtomicSwap() bool
	// SwapIndex makes the content of temp visible under the live index name.
	// It returns the index left behind by the swap, if any, which the caller
	// deletes.
	SwapIndex(ctx context.Context, live, temp *Index) (stale *Index, err error)

	// TestConnection never fails. Restricted credentials that can still
	// search count as a working connection.
	TestConnection(ctx context.Context) bool
}

// Query is one entry of a multi search.
type Query struct {
	Index   *Index
	Query   string
	Options *SearchOptions
}

type FacetValuesRequest struct {
	Fields      []string
	Query       string
	MaxPerField int
	Filters     []Filter
}

type SchemaField struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// LiveTargetResolver is implemented by engines that serve a live index name
// through an alias. It returns the handle of the index currently behind the
// alias, or an empty string when there is none.
type LiveTargetResolver interface {
	LiveTarget(ctx context.Context, live *Index) (string, error)
}
