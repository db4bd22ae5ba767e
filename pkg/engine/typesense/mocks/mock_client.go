// SPDX-License-Identifier: Apache-2.0

package mocks

import (
	"context"
)

type Client struct {
	CollectionExistsFn   func(ctx context.Context, name string) (bool, error)
	CreateCollectionFn   func(ctx context.Context, schema map[string]any) error
	UpdateCollectionFn   func(ctx context.Context, name string, fields []map[string]any) error
	RetrieveCollectionFn func(ctx context.Context, name string) (map[string]any, error)
	DeleteCollectionFn   func(ctx context.Context, name string) error
	ListCollectionsFn    func(ctx context.Context) error
	ImportDocumentsFn    func(ctx context.Context, collection string, docs []map[string]any) ([]byte, error)
	DeleteByFilterFn     func(ctx context.Context, collection, filter string) (int, error)
	RetrieveDocumentFn   func(ctx context.Context, collection, id string) (map[string]any, error)
	ExportIDsFn          func(ctx context.Context, collection string) ([]string, error)
	MultiSearchFn        func(ctx context.Context, searches []map[string]any) ([]byte, error)
	GetAliasFn           func(ctx context.Context, name string) (string, error)
	UpsertAliasFn        func(ctx context.Context, name, collection string) error
	DeleteAliasFn        func(ctx context.Context, name string) error
	HealthFn             func(ctx context.Context) error
}

func (m *Client) CollectionExists(ctx context.Context, name string) (bool, error) {
	return m.CollectionExistsFn(ctx, name)
}

func (m *Client) CreateCollection(ctx context.Context, schema map[string]any) error {
	return m.CreateCollectionFn(ctx, schema)
}

func (m *Client) UpdateCollection(ctx context.Context, name string, fields []map[string]any) error {
	return m.UpdateCollectionFn(ctx, name, fields)
}

func (m *Client) RetrieveCollection(ctx context.Context, name string) (map[string]any, error) {
	return m.RetrieveCollectionFn(ctx, name)
}

func (m *Client) DeleteCollection(ctx context.Context, name string) error {
	return m.DeleteCollectionFn(ctx, name)
}

func (m *Client) ListCollections(ctx context.Context) error {
	return m.ListCollectionsFn(ctx)
}

func (m *Client) ImportDocuments(ctx context.Context, collection string, docs []map[string]any) ([]byte, error) {
	return m.ImportDocumentsFn(ctx, collection, docs)
}

func (m *Client) DeleteByFilter(ctx context.Context, collection, filter string) (int, error) {
	return m.DeleteByFilterFn(ctx, collection, filter)
}

func (m *Client) RetrieveDocument(ctx context.Context, collection, id string) (map[string]any, error) {
	return m.RetrieveDocumentFn(ctx, collection, id)
}

func (m *Client) ExportIDs(ctx context.Context, collection string) ([]string, error) {
	return m.ExportIDsFn(ctx, collection)
}

func (m *Client) MultiSearch(ctx context.Context, searches []map[string]any) ([]byte, error) {
	return m.MultiSearchFn(ctx, searches)
}

func (m *Client) GetAlias(ctx context.Context, name string) (string, error) {
	return m.GetAliasFn(ctx, name)
}

func (m *Client) UpsertAlias(ctx context.Context, name, collection string) error {
	return m.UpsertAliasFn(ctx, name, collection)
}

func (m *Client) DeleteAlias(ctx context.Context, name string) error {
	return m.DeleteAliasFn(ctx, name)
}

func (m *Client) Health(ctx context.Context) error {
	return m.HealthFn(ctx)
}
