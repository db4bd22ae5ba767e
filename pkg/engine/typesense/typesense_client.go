// SPDX-License-Identifier: Apache-2.0

package typesense

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/typesense/typesense-go/typesense"
	"github.com/typesense/typesense-go/typesense/api"

	httplib "github.com/xataio/searchsync/internal/http"
	"github.com/xataio/searchsync/internal/json"
	"github.com/xataio/searchsync/pkg/engine"
)

// Client is the subset of the Typesense API used by the engine. Schemas,
// documents and search parameters keep their REST JSON shape.
type Client interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, schema map[string]any) error
	UpdateCollection(ctx context.Context, name string, fields []map[string]any) error
	RetrieveCollection(ctx context.Context, name string) (map[string]any, error)
	DeleteCollection(ctx context.Context, name string) error
	ListCollections(ctx context.Context) error
	// ImportDocuments returns the raw JSONL import response.
	ImportDocuments(ctx context.Context, collection string, docs []map[string]any) ([]byte, error)
	DeleteByFilter(ctx context.Context, collection, filter string) (int, error)
	RetrieveDocument(ctx context.Context, collection, id string) (map[string]any, error)
	ExportIDs(ctx context.Context, collection string) ([]string, error)
	MultiSearch(ctx context.Context, searches []map[string]any) ([]byte, error)
	GetAlias(ctx context.Context, name string) (string, error)
	UpsertAlias(ctx context.Context, name, collection string) error
	DeleteAlias(ctx context.Context, name string) error
	Health(ctx context.Context) error
}

type ClientConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

const (
	apiKeyHeader  = "X-Typesense-Api-Key"
	healthTimeout = 5 * time.Second
)

// apiClient uses the typesense SDK for collection, document and alias
// management, and plain REST for the JSONL import/export endpoints and
// multi search whose payloads are built as JSON.
type apiClient struct {
	sdk  *typesense.Client
	rest *httplib.RESTClient
}

func NewClient(cfg *ClientConfig) Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &apiClient{
		sdk: typesense.NewClient(
			typesense.WithServer(cfg.URL),
			typesense.WithAPIKey(cfg.APIKey),
			typesense.WithConnectionTimeout(timeout),
		),
		rest: httplib.NewRESTClient(&http.Client{Timeout: timeout}, cfg.URL, http.Header{apiKeyHeader: {cfg.APIKey}}),
	}
}

func (c *apiClient) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, err := c.sdk.Collection(name).Retrieve(ctx)
	if err == nil {
		return true, nil
	}
	err = mapError(err)
	if errors.Is(err, engine.ErrIndexNotFound) {
		return false, nil
	}
	return false, err
}

func (c *apiClient) CreateCollection(ctx context.Context, schema map[string]any) error {
	var s api.CollectionSchema
	if err := json.Convert(schema, &s); err != nil {
		return fmt.Errorf("converting collection schema: %w", err)
	}
	_, err := c.sdk.Collections().Create(ctx, &s)
	return mapError(err)
}

func (c *apiClient) UpdateCollection(ctx context.Context, name string, fields []map[string]any) error {
	var s api.CollectionUpdateSchema
	if err := json.Convert(map[string]any{"fields": fields}, &s); err != nil {
		return fmt.Errorf("converting collection update: %w", err)
	}
	_, err := c.sdk.Collection(name).Update(ctx, &s)
	return mapError(err)
}

func (c *apiClient) RetrieveCollection(ctx context.Context, name string) (map[string]any, error) {
	resp, err := c.sdk.Collection(name).Retrieve(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	out := map[string]any{}
	if err := json.Convert(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) DeleteCollection(ctx context.Context, name string) error {
	_, err := c.sdk.Collection(name).Delete(ctx)
	return mapError(err)
}

func (c *apiClient) ListCollections(ctx context.Context) error {
	_, err := c.rest.Do(ctx, &httplib.Request{Method: http.MethodGet, Path: "/collections"})
	return mapError(err)
}

// ImportDocuments upserts the documents as JSONL.
func (c *apiClient) ImportDocuments(ctx context.Context, collection string, docs []map[string]any) ([]byte, error) {
	var body bytes.Buffer
	for _, doc := range docs {
		line, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encoding document: %w", err)
		}
		body.Write(line)
		body.WriteByte('\n')
	}

	resp, err := c.rest.Do(ctx, &httplib.Request{
		Method:      http.MethodPost,
		Path:        "/collections/" + url.PathEscape(collection) + "/documents/import",
		Query:       url.Values{"action": {"upsert"}},
		Body:        body.Bytes(),
		ContentType: "text/plain",
	})
	return resp, mapError(err)
}

func (c *apiClient) DeleteByFilter(ctx context.Context, collection, filter string) (int, error) {
	resp, err := c.rest.Do(ctx, &httplib.Request{
		Method: http.MethodDelete,
		Path:   "/collections/" + url.PathEscape(collection) + "/documents",
		Query:  url.Values{"filter_by": {filter}},
	})
	if err != nil {
		return 0, mapError(err)
	}
	return int(gjson.GetBytes(resp, "num_deleted").Int()), nil
}

func (c *apiClient) RetrieveDocument(ctx context.Context, collection, id string) (map[string]any, error) {
	doc, err := c.sdk.Collection(collection).Document(id).Retrieve(ctx)
	if err == nil {
		return doc, nil
	}
	err = mapError(err)
	if errors.Is(err, engine.ErrIndexNotFound) {
		// a missing document and a missing collection share the status
		if exists, existsErr := c.CollectionExists(ctx, collection); existsErr == nil && exists {
			return nil, nil
		}
	}
	return nil, err
}

func (c *apiClient) ExportIDs(ctx context.Context, collection string) ([]string, error) {
	resp, err := c.rest.Do(ctx, &httplib.Request{
		Method: http.MethodGet,
		Path:   "/collections/" + url.PathEscape(collection) + "/documents/export",
		Query:  url.Values{"include_fields": {"id"}},
	})
	if err != nil {
		return nil, mapError(err)
	}
	ids := []string{}
	for _, line := range strings.Split(string(resp), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		ids = append(ids, gjson.Get(line, "id").String())
	}
	return ids, nil
}

func (c *apiClient) MultiSearch(ctx context.Context, searches []map[string]any) ([]byte, error) {
	resp, err := c.rest.Do(ctx, &httplib.Request{
		Method: http.MethodPost,
		Path:   "/multi_search",
		Body:   map[string]any{"searches": searches},
	})
	return resp, mapError(err)
}

func (c *apiClient) GetAlias(ctx context.Context, name string) (string, error) {
	alias, err := c.sdk.Alias(name).Retrieve(ctx)
	if err != nil {
		err = mapError(err)
		if errors.Is(err, engine.ErrIndexNotFound) {
			return "", nil
		}
		return "", err
	}
	b, err := json.Marshal(alias)
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(b, "collection_name").String(), nil
}

func (c *apiClient) UpsertAlias(ctx context.Context, name, collection string) error {
	_, err := c.sdk.Aliases().Upsert(ctx, name, &api.CollectionAliasSchema{CollectionName: collection})
	return mapError(err)
}

func (c *apiClient) DeleteAlias(ctx context.Context, name string) error {
	_, err := c.sdk.Alias(name).Delete(ctx)
	err = mapError(err)
	if errors.Is(err, engine.ErrIndexNotFound) {
		return nil
	}
	return err
}

func (c *apiClient) Health(ctx context.Context) error {
	healthy, err := c.sdk.Health(ctx, healthTimeout)
	if err != nil {
		return fmt.Errorf("%w: %w", engine.ErrConnection, err)
	}
	if !healthy {
		return fmt.Errorf("%w: typesense is unhealthy", engine.ErrConnection)
	}
	return nil
}

// mapError converts SDK and REST errors into the engine error taxonomy.
// Typesense answers 401 both for unknown keys and for keys missing the
// action, so 401 is reported as a restricted permission.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	status, body := 0, []byte(nil)
	var sdkErr *typesense.HTTPError
	var restErr *httplib.StatusError
	switch {
	case errors.As(err, &sdkErr):
		status, body = sdkErr.Status, sdkErr.Body
	case errors.As(err, &restErr):
		status, body = restErr.StatusCode, restErr.Body
	default:
		return err
	}

	message := gjson.GetBytes(body, "message").String()
	if message == "" {
		message = string(body)
	}
	statusErr := &engine.StatusError{Status: status, Message: message}
	if status == http.StatusUnauthorized {
		return fmt.Errorf("%w: %w", engine.ErrPermissionRestricted, statusErr)
	}
	return fmt.Errorf("%w: %w", err, statusErr)
}
