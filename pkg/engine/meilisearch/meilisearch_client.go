// SPDX-License-Identifier: Apache-2.0

package meilisearch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/meilisearch/meilisearch-go"
	"github.com/tidwall/gjson"

	httplib "github.com/xataio/searchsync/internal/http"
	"github.com/xataio/searchsync/internal/json"
	"github.com/xataio/searchsync/pkg/engine"
)

// Client is the subset of the Meilisearch API used by the engine. Requests
// and responses are kept in their REST JSON shape.
type Client interface {
	IndexExists(ctx context.Context, uid string) (bool, error)
	CreateIndex(ctx context.Context, uid, primaryKey string) error
	DeleteIndex(ctx context.Context, uid string) error
	UpdateSettings(ctx context.Context, uid string, settings map[string]any) error
	GetSettings(ctx context.Context, uid string) (map[string]any, error)
	AddDocuments(ctx context.Context, uid, primaryKey string, docs []map[string]any) error
	DeleteDocuments(ctx context.Context, uid string, ids []string) error
	DeleteAllDocuments(ctx context.Context, uid string) error
	GetDocument(ctx context.Context, uid, id string) (map[string]any, error)
	GetDocuments(ctx context.Context, uid string, offset, limit int, fields []string) ([]byte, error)
	DocumentCount(ctx context.Context, uid string) (int, error)
	Search(ctx context.Context, uid string, body map[string]any) ([]byte, error)
	MultiSearch(ctx context.Context, queries []map[string]any) ([]byte, error)
	FacetSearch(ctx context.Context, uid string, body map[string]any) ([]byte, error)
	SwapIndexes(ctx context.Context, a, b string) error
	Health(ctx context.Context) error
	Version(ctx context.Context) error
}

// TaskError is returned when an asynchronous task ends in failure.
type TaskError struct {
	TaskUID int64
	Code    string
	Message string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("meilisearch task %d failed: %s: %s", e.TaskUID, e.Code, e.Message)
}

const (
	documentNotFoundCode = "document_not_found"
	indexNotFoundCode    = "index_not_found"
	internalErrorCode    = "internal"
	defaultPollInterval  = 50 * time.Millisecond
)

// sdkClient manages indexes and documents through the SDK. Searches go
// through rest so that bodies reach the server with every key they carry.
type sdkClient struct {
	sm           meilisearch.ServiceManager
	rest         *httplib.RESTClient
	pollInterval time.Duration
}

type ClientConfig struct {
	URL          string
	APIKey       string
	Timeout      time.Duration
	PollInterval time.Duration
}

func NewClient(cfg *ClientConfig) Client {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	opts := []meilisearch.Option{meilisearch.WithAPIKey(cfg.APIKey)}
	if cfg.Timeout > 0 {
		opts = append(opts, meilisearch.WithCustomClient(httpClient))
	}
	headers := http.Header{}
	if cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &sdkClient{
		sm:           meilisearch.New(cfg.URL, opts...),
		rest:         httplib.NewRESTClient(httpClient, cfg.URL, headers),
		pollInterval: poll,
	}
}

func (c *sdkClient) IndexExists(ctx context.Context, uid string) (bool, error) {
	_, err := c.sm.GetIndexWithContext(ctx, uid)
	if err == nil {
		return true, nil
	}
	if apiCode(err) == indexNotFoundCode {
		return false, nil
	}
	return false, mapError(err)
}

func (c *sdkClient) CreateIndex(ctx context.Context, uid, primaryKey string) error {
	task, err := c.sm.CreateIndexWithContext(ctx, &meilisearch.IndexConfig{Uid: uid, PrimaryKey: primaryKey})
	return c.wait(ctx, task, err)
}

func (c *sdkClient) DeleteIndex(ctx context.Context, uid string) error {
	task, err := c.sm.DeleteIndexWithContext(ctx, uid)
	return c.wait(ctx, task, err)
}

func (c *sdkClient) UpdateSettings(ctx context.Context, uid string, settings map[string]any) error {
	var s meilisearch.Settings
	if err := json.Convert(settings, &s); err != nil {
		return fmt.Errorf("converting settings: %w", err)
	}
	task, err := c.sm.Index(uid).UpdateSettingsWithContext(ctx, &s)
	return c.wait(ctx, task, err)
}

func (c *sdkClient) GetSettings(ctx context.Context, uid string) (map[string]any, error) {
	s, err := c.sm.Index(uid).GetSettingsWithContext(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	out := map[string]any{}
	if err := json.Convert(s, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sdkClient) AddDocuments(ctx context.Context, uid, primaryKey string, docs []map[string]any) error {
	task, err := c.sm.Index(uid).AddDocumentsWithContext(ctx, docs, &meilisearch.DocumentOptions{PrimaryKey: &primaryKey})
	return c.wait(ctx, task, err)
}

func (c *sdkClient) DeleteDocuments(ctx context.Context, uid string, ids []string) error {
	task, err := c.sm.Index(uid).DeleteDocumentsWithContext(ctx, ids, nil)
	return c.wait(ctx, task, err)
}

func (c *sdkClient) DeleteAllDocuments(ctx context.Context, uid string) error {
	task, err := c.sm.Index(uid).DeleteAllDocumentsWithContext(ctx, nil)
	return c.wait(ctx, task, err)
}

func (c *sdkClient) GetDocument(ctx context.Context, uid, id string) (map[string]any, error) {
	doc := map[string]any{}
	err := c.sm.Index(uid).GetDocumentWithContext(ctx, id, nil, &doc)
	if apiCode(err) == documentNotFoundCode {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	return doc, nil
}

func (c *sdkClient) GetDocuments(ctx context.Context, uid string, offset, limit int, fields []string) ([]byte, error) {
	var result meilisearch.DocumentsResult
	err := c.sm.Index(uid).GetDocumentsWithContext(ctx, &meilisearch.DocumentsQuery{
		Offset: int64(offset),
		Limit:  int64(limit),
		Fields: fields,
	}, &result)
	if err != nil {
		return nil, mapError(err)
	}
	return json.Marshal(result)
}

func (c *sdkClient) DocumentCount(ctx context.Context, uid string) (int, error) {
	stats, err := c.sm.Index(uid).GetStatsWithContext(ctx)
	if err != nil {
		return 0, mapError(err)
	}
	return int(stats.NumberOfDocuments), nil
}

func (c *sdkClient) Search(ctx context.Context, uid string, body map[string]any) ([]byte, error) {
	return c.post(ctx, "/indexes/"+url.PathEscape(uid)+"/search", body)
}

func (c *sdkClient) MultiSearch(ctx context.Context, queries []map[string]any) ([]byte, error) {
	return c.post(ctx, "/multi-search", map[string]any{"queries": queries})
}

func (c *sdkClient) FacetSearch(ctx context.Context, uid string, body map[string]any) ([]byte, error) {
	return c.post(ctx, "/indexes/"+url.PathEscape(uid)+"/facet-search", body)
}

func (c *sdkClient) post(ctx context.Context, path string, body any) ([]byte, error) {
	resp, err := c.rest.Do(ctx, &httplib.Request{Method: http.MethodPost, Path: path, Body: body})
	if err != nil {
		return nil, mapRESTError(err)
	}
	return resp, nil
}

func (c *sdkClient) SwapIndexes(ctx context.Context, a, b string) error {
	task, err := c.sm.SwapIndexesWithContext(ctx, []*meilisearch.SwapIndexesParams{{Indexes: []string{a, b}}})
	return c.wait(ctx, task, err)
}

func (c *sdkClient) Health(ctx context.Context) error {
	_, err := c.sm.HealthWithContext(ctx)
	return mapError(err)
}

func (c *sdkClient) Version(ctx context.Context) error {
	_, err := c.sm.VersionWithContext(ctx)
	return mapError(err)
}

// wait blocks until the enqueued task is processed.
func (c *sdkClient) wait(ctx context.Context, info *meilisearch.TaskInfo, err error) error {
	if err != nil {
		return mapError(err)
	}
	task, err := c.sm.WaitForTaskWithContext(ctx, info.TaskUID, c.pollInterval)
	if err != nil {
		return mapError(err)
	}
	if task.Status == meilisearch.TaskStatusFailed {
		return &TaskError{TaskUID: info.TaskUID, Code: task.Error.Code, Message: task.Error.Message}
	}
	return nil
}

func apiCode(err error) string {
	var meiliErr *meilisearch.Error
	if errors.As(err, &meiliErr) {
		return meiliErr.MeilisearchApiError.Code
	}
	return ""
}

// mapError converts SDK errors into the engine error taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var meiliErr *meilisearch.Error
	if !errors.As(err, &meiliErr) {
		return err
	}
	if meiliErr.StatusCode == 0 {
		return fmt.Errorf("%w: %w", engine.ErrConnection, err)
	}
	status := &engine.StatusError{
		Status:  meiliErr.StatusCode,
		Message: meiliErr.MeilisearchApiError.Code + ": " + meiliErr.MeilisearchApiError.Message,
	}
	if meiliErr.MeilisearchApiError.Code == indexNotFoundCode {
		return fmt.Errorf("%w: %w", engine.ErrIndexNotFound, status)
	}
	return fmt.Errorf("%w: %w", err, status)
}

// mapRESTError converts errors of the raw search calls the same way mapError
// converts SDK errors.
func mapRESTError(err error) error {
	var restErr *httplib.StatusError
	if !errors.As(err, &restErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %w", engine.ErrConnection, err)
	}
	code := gjson.GetBytes(restErr.Body, "code").String()
	status := &engine.StatusError{
		Status:  restErr.StatusCode,
		Message: code + ": " + gjson.GetBytes(restErr.Body, "message").String(),
	}
	if code == indexNotFoundCode {
		return fmt.Errorf("%w: %w", engine.ErrIndexNotFound, status)
	}
	return fmt.Errorf("%w: %w", err, status)
}
