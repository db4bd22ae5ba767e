// SPDX-License-Identifier: Apache-2.0

package mocks

import (
	"context"
	"sync/atomic"

	"github.com/xataio/searchsync/pkg/engine"
)

type Engine struct {
	KindFn                func() engine.Kind
	CreateIndexFn         func(ctx context.Context, idx *engine.Index) error
	UpdateIndexSettingsFn func(ctx context.Context, idx *engine.Index) error
	DeleteIndexFn         func(ctx context.Context, idx *engine.Index) error
	IndexExistsFn         func(ctx context.Context, idx *engine.Index) (bool, error)
	IndexDocumentFn       func(ctx context.Context, idx *engine.Index, id string, doc engine.Document) error
	IndexDocumentsFn      func(ctx context.Context, idx *engine.Index, docs []engine.Document) error
	DeleteDocumentFn      func(ctx context.Context, idx *engine.Index, id string) error
	DeleteDocumentsFn     func(ctx context.Context, idx *engine.Index, ids []string) error
	FlushIndexFn          func(ctx context.Context, idx *engine.Index) error
	SearchFn              func(ctx context.Context, idx *engine.Index, query string, opts *engine.SearchOptions) (*engine.SearchResult, error)
	MultiSearchFn         func(ctx context.Context, queries []engine.Query) ([]*engine.SearchResult, error)
	SearchFacetValuesFn   func(ctx context.Context, idx *engine.Index, req engine.FacetValuesRequest) (map[string][]engine.FacetValue, error)
	GetDocumentFn         func(ctx context.Context, idx *engine.Index, id string) (engine.Document, error)
	GetDocumentCountFn    func(ctx context.Context, idx *engine.Index) (int, error)
	GetAllDocumentIDsFn   func(ctx context.Context, idx *engine.Index) ([]string, error)
	GetIndexSchemaFn      func(ctx context.Context, idx *engine.Index) (map[string]any, error)
	GetSchemaFieldsFn     func(ctx context.Context, idx *engine.Index) ([]engine.SchemaField, error)
	BuildSchemaFn         func(idx *engine.Index) (map[string]any, error)
	MapFieldTypeFn        func(t engine.FieldType) (string, error)
	SupportsAtomicSwapFn  func() bool
	SwapIndexFn           func(ctx context.Context, live, temp *engine.Index) (*engine.Index, error)
	TestConnectionFn      func(ctx context.Context) bool

	indexDocumentsCalls uint64
	swapIndexCalls      uint64
}

func (m *Engine) Kind() engine.Kind {
	if m.KindFn == nil {
		return engine.KindElasticsearch
	}
	return m.KindFn()
}

func (m *Engine) CreateIndex(ctx context.Context, idx *engine.Index) error {
	return m.CreateIndexFn(ctx, idx)
}

func (m *Engine) UpdateIndexSettings(ctx context.Context, idx *engine.Index) error {
	return m.UpdateIndexSettingsFn(ctx, idx)
}

func (m *Engine) DeleteIndex(ctx context.Context, idx *engine.Index) error {
	return m.DeleteIndexFn(ctx, idx)
}

func (m *Engine) IndexExists(ctx context.Context, idx *engine.Index) (bool, error) {
	return m.IndexExistsFn(ctx, idx)
}

func (m *Engine) IndexDocument(ctx context.Context, idx *engine.Index, id string, doc engine.Document) error {
	return m.IndexDocumentFn(ctx, idx, id, doc)
}

func (m *Engine) IndexDocuments(ctx context.Context, idx *engine.Index, docs []engine.Document) error {
	atomic.AddUint64(&m.indexDocumentsCalls, 1)
	return m.IndexDocumentsFn(ctx, idx, docs)
}

func (m *Engine) DeleteDocument(ctx context.Context, idx *engine.Index, id string) error {
	return m.DeleteDocumentFn(ctx, idx, id)
}

func (m *Engine) DeleteDocuments(ctx context.Context, idx *engine.Index, ids []string) error {
	return m.DeleteDocumentsFn(ctx, idx, ids)
}

func (m *Engine) FlushIndex(ctx context.Context, idx *engine.Index) error {
	return m.FlushIndexFn(ctx, idx)
}

func (m *Engine) Search(ctx context.Context, idx *engine.Index, query string, opts *engine.SearchOptions) (*engine.SearchResult, error) {
	return m.SearchFn(ctx, idx, query, opts)
}

func (m *Engine) MultiSearch(ctx context.Context, queries []engine.Query) ([]*engine.SearchResult, error) {
	return m.MultiSearchFn(ctx, queries)
}

func (m *Engine) SearchFacetValues(ctx context.Context, idx *engine.Index, req engine.FacetValuesRequest) (map[string][]engine.FacetValue, error) {
	return m.SearchFacetValuesFn(ctx, idx, req)
}

func (m *Engine) GetDocument(ctx context.Context, idx *engine.Index, id string) (engine.Document, error) {
	return m.GetDocumentFn(ctx, idx, id)
}

func (m *Engine) GetDocumentCount(ctx context.Context, idx *engine.Index) (int, error) {
	return m.GetDocumentCountFn(ctx, idx)
}

func (m *Engine) GetAllDocumentIDs(ctx context.Context, idx *engine.Index) ([]string, error) {
	return m.GetAllDocumentIDsFn(ctx, idx)
}

func (m *Engine) GetIndexSchema(ctx context.Context, idx *engine.Index) (map[string]any, error) {
	return m.GetIndexSchemaFn(ctx, idx)
}

func (m *Engine) GetSchemaFields(ctx context.Context, idx *engine.Index) ([]engine.SchemaField, error) {
	return m.GetSchemaFieldsFn(ctx, idx)
}

func (m *Engine) BuildSchema(idx *engine.Index) (map[string]any, error) {
	return m.BuildSchemaFn(idx)
}

func (m *Engine) MapFieldType(t engine.FieldType) (string, error) {
	return m.MapFieldTypeFn(t)
}

func (m *Engine) SupportsAtomicSwap() bool {
	return m.SupportsAtomicSwapFn()
}

func (m *Engine) SwapIndex(ctx context.Context, live, temp *engine.Index) (*engine.Index, error) {
	atomic.AddUint64(&m.swapIndexCalls, 1)
	return m.SwapIndexFn(ctx, live, temp)
}

func (m *Engine) TestConnection(ctx context.Context) bool {
	return m.TestConnectionFn(ctx)
}

func (m *Engine) GetIndexDocumentsCalls() uint64 {
	return atomic.LoadUint64(&m.indexDocumentsCalls)
}

func (m *Engine) GetSwapIndexCalls() uint64 {
	return atomic.LoadUint64(&m.swapIndexCalls)
}

// AliasEngine is an Engine serving live names through aliases.
type AliasEngine struct {
	Engine
	LiveTargetFn func(ctx context.Context, live *engine.Index) (string, error)
}

func (m *AliasEngine) LiveTarget(ctx context.Context, live *engine.Index) (string, error) {
	return m.LiveTargetFn(ctx, live)
}
