// SPDX-License-Identifier: Apache-2.0

package algolia

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	httplib "github.com/xataio/searchsync/internal/http"
	"github.com/xataio/searchsync/internal/json"
	"github.com/xataio/searchsync/pkg/engine"
)

const (
	appIDHeader  = "X-Algolia-Application-Id"
	apiKeyHeader = "X-Algolia-Api-Key"

	taskPublished       = "published"
	defaultPollInterval = 100 * time.Millisecond

	invalidCredentials = "Invalid Application-ID or API key"
)

// client wraps the Algolia REST API. Every write returns a task that is
// waited for before returning.
type client struct {
	rest         *httplib.RESTClient
	pollInterval time.Duration
}

func newClient(httpClient httplib.Client, baseURL, appID, apiKey string, pollInterval time.Duration) *client {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &client{
		rest: httplib.NewRESTClient(httpClient, baseURL, http.Header{
			appIDHeader:  {appID},
			apiKeyHeader: {apiKey},
		}),
		pollInterval: pollInterval,
	}
}

func indexPath(name string, parts ...string) string {
	path := "/1/indexes/" + url.PathEscape(name)
	for _, p := range parts {
		path += "/" + url.PathEscape(p)
	}
	return path
}

func (c *client) do(ctx context.Context, req *httplib.Request) (gjson.Result, error) {
	raw, err := c.rest.Do(ctx, req)
	if err != nil {
		return gjson.Result{}, mapError(err)
	}
	return gjson.ParseBytes(raw), nil
}

// write sends a request returning a task and waits for it to be published.
func (c *client) write(ctx context.Context, index string, req *httplib.Request) (gjson.Result, error) {
	resp, err := c.do(ctx, req)
	if err != nil {
		return resp, err
	}
	if taskID := resp.Get("taskID"); taskID.Exists() {
		if err := c.waitTask(ctx, index, taskID.Int()); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

func (c *client) waitTask(ctx context.Context, index string, taskID int64) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		resp, err := c.do(ctx, &httplib.Request{
			Method: http.MethodGet,
			Path:   indexPath(index, "task", fmt.Sprint(taskID)),
		})
		if err != nil {
			return fmt.Errorf("waiting for task %d: %w", taskID, err)
		}
		if resp.Get("status").String() == taskPublished {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *client) getSettings(ctx context.Context, index string) (map[string]any, error) {
	resp, err := c.do(ctx, &httplib.Request{Method: http.MethodGet, Path: indexPath(index, "settings")})
	if err != nil {
		return nil, err
	}
	settings := map[string]any{}
	if err := json.Unmarshal([]byte(resp.Raw), &settings); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	return settings, nil
}

func (c *client) setSettings(ctx context.Context, index string, settings map[string]any) error {
	_, err := c.write(ctx, index, &httplib.Request{
		Method: http.MethodPut,
		Path:   indexPath(index, "settings"),
		Body:   settings,
	})
	return err
}

func (c *client) deleteIndex(ctx context.Context, index string) error {
	_, err := c.write(ctx, index, &httplib.Request{Method: http.MethodDelete, Path: indexPath(index)})
	return err
}

// batch sends the write operations in a single call. Algolia accepts or
// rejects a batch as a whole.
func (c *client) batch(ctx context.Context, index string, requests []map[string]any) error {
	_, err := c.write(ctx, index, &httplib.Request{
		Method: http.MethodPost,
		Path:   indexPath(index, "batch"),
		Body:   map[string]any{"requests": requests},
	})
	return err
}

func (c *client) clear(ctx context.Context, index string) error {
	_, err := c.write(ctx, index, &httplib.Request{Method: http.MethodPost, Path: indexPath(index, "clear")})
	return err
}

// getObject returns nil when the object does not exist.
func (c *client) getObject(ctx context.Context, index, id string) (map[string]any, error) {
	resp, err := c.do(ctx, &httplib.Request{Method: http.MethodGet, Path: indexPath(index, id)})
	if errors.Is(err, engine.ErrIndexNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	obj := map[string]any{}
	if err := json.Unmarshal([]byte(resp.Raw), &obj); err != nil {
		return nil, fmt.Errorf("decoding object: %w", err)
	}
	return obj, nil
}

func (c *client) query(ctx context.Context, index string, params map[string]any) (gjson.Result, error) {
	return c.do(ctx, &httplib.Request{
		Method: http.MethodPost,
		Path:   indexPath(index, "query"),
		Body:   map[string]any{"params": encodeParams(params)},
	})
}

func (c *client) multiQuery(ctx context.Context, indexes []string, params []map[string]any) (gjson.Result, error) {
	requests := make([]map[string]any, 0, len(indexes))
	for i, index := range indexes {
		requests = append(requests, map[string]any{"indexName": index, "params": encodeParams(params[i])})
	}
	return c.do(ctx, &httplib.Request{
		Method: http.MethodPost,
		Path:   "/1/indexes/*/queries",
		Body:   map[string]any{"requests": requests},
	})
}

func (c *client) facetQuery(ctx context.Context, index, facet string, params map[string]any) (gjson.Result, error) {
	return c.do(ctx, &httplib.Request{
		Method: http.MethodPost,
		Path:   indexPath(index, "facets", facet, "query"),
		Body:   map[string]any{"params": encodeParams(params)},
	})
}

func (c *client) browse(ctx context.Context, index string, params map[string]any, cursor string) (gjson.Result, error) {
	body := map[string]any{"params": encodeParams(params)}
	if cursor != "" {
		body["cursor"] = cursor
	}
	return c.do(ctx, &httplib.Request{
		Method: http.MethodPost,
		Path:   indexPath(index, "browse"),
		Body:   body,
	})
}

// move renames source to destination, replacing the destination records and
// settings. The source index no longer exists afterwards.
func (c *client) move(ctx context.Context, source, destination string) error {
	_, err := c.write(ctx, source, &httplib.Request{
		Method: http.MethodPost,
		Path:   indexPath(source, "operation"),
		Body:   map[string]any{"operation": "move", "destination": destination},
	})
	return err
}

func (c *client) listIndexes(ctx context.Context) error {
	_, err := c.do(ctx, &httplib.Request{
		Method: http.MethodGet,
		Path:   "/1/indexes",
		Query:  url.Values{"hitsPerPage": {"1"}},
	})
	return err
}

// encodeParams renders search parameters as a query string. Non string
// values are JSON encoded.
func encodeParams(params map[string]any) string {
	values := url.Values{}
	for k, v := range params {
		switch value := v.(type) {
		case string:
			values.Set(k, value)
		default:
			encoded, err := json.Marshal(value)
			if err != nil {
				continue
			}
			values.Set(k, string(encoded))
		}
	}
	return values.Encode()
}

// mapError converts REST errors into the engine error taxonomy. Algolia
// answers 403 both for invalid credentials and for keys missing an ACL.
func mapError(err error) error {
	var statusErr *httplib.StatusError
	if !errors.As(err, &statusErr) {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return fmt.Errorf("%w: %w", engine.ErrConnection, err)
		}
		return err
	}

	message := gjson.GetBytes(statusErr.Body, "message").String()
	if message == "" {
		message = strings.TrimSpace(string(statusErr.Body))
	}
	if statusErr.StatusCode == http.StatusForbidden && strings.Contains(message, invalidCredentials) {
		return fmt.Errorf("%w: %s", engine.ErrConnection, message)
	}
	return fmt.Errorf("%w: %w", err, &engine.StatusError{Status: statusErr.StatusCode, Message: message})
}
