// SPDX-License-Identifier: Apache-2.0

package mocks

import (
	"context"
	"time"

	"github.com/xataio/searchsync/internal/searchstore"
)

type Client struct {
	CountFn            func(ctx context.Context, index string) (int, error)
	CreateIndexFn      func(ctx context.Context, index string, body map[string]any) error
	DeleteByQueryFn    func(ctx context.Context, req *searchstore.DeleteByQueryRequest) error
	DeleteDocumentFn   func(ctx context.Context, index, id string) error
	DeleteIndexFn      func(ctx context.Context, index []string) error
	GetDocumentFn      func(ctx context.Context, index, id string) (*searchstore.Document, error)
	GetIndexAliasFn    func(ctx context.Context, name string) (map[string]any, error)
	GetIndexMappingsFn func(ctx context.Context, index string) (*searchstore.Mappings, error)
	IndexExistsFn      func(ctx context.Context, index string) (bool, error)
	IndexWithIDFn      func(ctx context.Context, req *searchstore.IndexWithIDRequest) error
	InfoFn             func(ctx context.Context) error
	PutIndexMappingsFn func(ctx context.Context, index string, body map[string]any) error
	PutIndexSettingsFn func(ctx context.Context, index string, body map[string]any) error
	RefreshIndexFn     func(ctx context.Context, index string) error
	SearchFn           func(ctx context.Context, req *searchstore.SearchRequest) (*searchstore.SearchResponse, error)
	ScrollNextFn       func(ctx context.Context, scrollID string, keepAlive time.Duration) (*searchstore.SearchResponse, error)
	ClearScrollFn      func(ctx context.Context, scrollID string) error
	MultiSearchFn      func(ctx context.Context, items []searchstore.MultiSearchItem) ([]*searchstore.SearchResponse, error)
	UpdateAliasesFn    func(ctx context.Context, actions []searchstore.AliasAction) error
	SendBulkRequestFn  func(ctx context.Context, items []searchstore.BulkItem) ([]searchstore.BulkItem, error)
	GetMapperFn        func() searchstore.Mapper
}

func (m *Client) Count(ctx context.Context, index string) (int, error) {
	return m.CountFn(ctx, index)
}

func (m *Client) CreateIndex(ctx context.Context, index string, body map[string]any) error {
	return m.CreateIndexFn(ctx, index, body)
}

func (m *Client) DeleteByQuery(ctx context.Context, req *searchstore.DeleteByQueryRequest) error {
	return m.DeleteByQueryFn(ctx, req)
}

func (m *Client) DeleteDocument(ctx context.Context, index, id string) error {
	return m.DeleteDocumentFn(ctx, index, id)
}

func (m *Client) DeleteIndex(ctx context.Context, index []string) error {
	return m.DeleteIndexFn(ctx, index)
}

func (m *Client) GetDocument(ctx context.Context, index, id string) (*searchstore.Document, error) {
	return m.GetDocumentFn(ctx, index, id)
}

func (m *Client) GetIndexAlias(ctx context.Context, name string) (map[string]any, error) {
	return m.GetIndexAliasFn(ctx, name)
}

func (m *Client) GetIndexMappings(ctx context.Context, index string) (*searchstore.Mappings, error) {
	return m.GetIndexMappingsFn(ctx, index)
}

func (m *Client) IndexExists(ctx context.Context, index string) (bool, error) {
	return m.IndexExistsFn(ctx, index)
}

func (m *Client) IndexWithID(ctx context.Context, req *searchstore.IndexWithIDRequest) error {
	return m.IndexWithIDFn(ctx, req)
}

func (m *Client) Info(ctx context.Context) error {
	return m.InfoFn(ctx)
}

func (m *Client) PutIndexMappings(ctx context.Context, index string, body map[string]any) error {
	return m.PutIndexMappingsFn(ctx, index, body)
}

func (m *Client) PutIndexSettings(ctx context.Context, index string, body map[string]any) error {
	return m.PutIndexSettingsFn(ctx, index, body)
}

func (m *Client) RefreshIndex(ctx context.Context, index string) error {
	return m.RefreshIndexFn(ctx, index)
}

func (m *Client) Search(ctx context.Context, req *searchstore.SearchRequest) (*searchstore.SearchResponse, error) {
	return m.SearchFn(ctx, req)
}

func (m *Client) ScrollNext(ctx context.Context, scrollID string, keepAlive time.Duration) (*searchstore.SearchResponse, error) {
	return m.ScrollNextFn(ctx, scrollID, keepAlive)
}

func (m *Client) ClearScroll(ctx context.Context, scrollID string) error {
	return m.ClearScrollFn(ctx, scrollID)
}

func (m *Client) MultiSearch(ctx context.Context, items []searchstore.MultiSearchItem) ([]*searchstore.SearchResponse, error) {
	return m.MultiSearchFn(ctx, items)
}

func (m *Client) UpdateAliases(ctx context.Context, actions []searchstore.AliasAction) error {
	return m.UpdateAliasesFn(ctx, actions)
}

func (m *Client) SendBulkRequest(ctx context.Context, items []searchstore.BulkItem) ([]searchstore.BulkItem, error) {
	return m.SendBulkRequestFn(ctx, items)
}

func (m *Client) GetMapper() searchstore.Mapper {
	return m.GetMapperFn()
}
