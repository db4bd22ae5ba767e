// SPDX-License-Identifier: Apache-2.0

package mocks

import (
	"context"
)

type Client struct {
	IndexExistsFn        func(ctx context.Context, uid string) (bool, error)
	CreateIndexFn        func(ctx context.Context, uid, primaryKey string) error
	DeleteIndexFn        func(ctx context.Context, uid string) error
	UpdateSettingsFn     func(ctx context.Context, uid string, settings map[string]any) error
	GetSettingsFn        func(ctx context.Context, uid string) (map[string]any, error)
	AddDocumentsFn       func(ctx context.Context, uid, primaryKey string, docs []map[string]any) error
	DeleteDocumentsFn    func(ctx context.Context, uid string, ids []string) error
	DeleteAllDocumentsFn func(ctx context.Context, uid string) error
	GetDocumentFn        func(ctx context.Context, uid, id string) (map[string]any, error)
	GetDocumentsFn       func(ctx context.Context, uid string, offset, limit int, fields []string) ([]byte, error)
	DocumentCountFn      func(ctx context.Context, uid string) (int, error)
	SearchFn             func(ctx context.Context, uid string, body map[string]any) ([]byte, error)
	MultiSearchFn        func(ctx context.Context, queries []map[string]any) ([]byte, error)
	FacetSearchFn        func(ctx context.Context, uid string, body map[string]any) ([]byte, error)
	SwapIndexesFn        func(ctx context.Context, a, b string) error
	HealthFn             func(ctx context.Context) error
	VersionFn            func(ctx context.Context) error
}

func (m *Client) IndexExists(ctx context.Context, uid string) (bool, error) {
	return m.IndexExistsFn(ctx, uid)
}

func (m *Client) CreateIndex(ctx context.Context, uid, primaryKey string) error {
	return m.CreateIndexFn(ctx, uid, primaryKey)
}

func (m *Client) DeleteIndex(ctx context.Context, uid string) error {
	return m.DeleteIndexFn(ctx, uid)
}

func (m *Client) UpdateSettings(ctx context.Context, uid string, settings map[string]any) error {
	return m.UpdateSettingsFn(ctx, uid, settings)
}

func (m *Client) GetSettings(ctx context.Context, uid string) (map[string]any, error) {
	return m.GetSettingsFn(ctx, uid)
}

func (m *Client) AddDocuments(ctx context.Context, uid, primaryKey string, docs []map[string]any) error {
	return m.AddDocumentsFn(ctx, uid, primaryKey, docs)
}

func (m *Client) DeleteDocuments(ctx context.Context, uid string, ids []string) error {
	return m.DeleteDocumentsFn(ctx, uid, ids)
}

func (m *Client) DeleteAllDocuments(ctx context.Context, uid string) error {
	return m.DeleteAllDocumentsFn(ctx, uid)
}

func (m *Client) GetDocument(ctx context.Context, uid, id string) (map[string]any, error) {
	return m.GetDocumentFn(ctx, uid, id)
}

func (m *Client) GetDocuments(ctx context.Context, uid string, offset, limit int, fields []string) ([]byte, error) {
	return m.GetDocumentsFn(ctx, uid, offset, limit, fields)
}

func (m *Client) DocumentCount(ctx context.Context, uid string) (int, error) {
	return m.DocumentCountFn(ctx, uid)
}

func (m *Client) Search(ctx context.Context, uid string, body map[string]any) ([]byte, error) {
	return m.SearchFn(ctx, uid, body)
}

func (m *Client) MultiSearch(ctx context.Context, queries []map[string]any) ([]byte, error) {
	return m.MultiSearchFn(ctx, queries)
}

func (m *Client) FacetSearch(ctx context.Context, uid string, body map[string]any) ([]byte, error) {
	return m.FacetSearchFn(ctx, uid, body)
}

func (m *Client) SwapIndexes(ctx context.Context, a, b string) error {
	return m.SwapIndexesFn(ctx, a, b)
}

func (m *Client) Health(ctx context.Context) error {
	return m.HealthFn(ctx)
}

func (m *Client) Version(ctx context.Context) error {
	return m.VersionFn(ctx)
}
