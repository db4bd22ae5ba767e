// SPDX-License-Identifier: Apache-2.0

package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/xataio/searchsync/internal/json"
)

// RESTClient sends JSON requests to a single API host.
type RESTClient struct {
	client  Client
	baseURL string
	headers http.Header
}

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, strings.TrimSpace(string(e.Body)))
}

// Request describes one call. Body is JSON encoded unless it is already a
// byte slice, which is sent as is with ContentType.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        any
	ContentType string
}

func NewRESTClient(client Client, baseURL string, headers http.Header) *RESTClient {
	if headers == nil {
		headers = http.Header{}
	}
	return &RESTClient{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: headers,
	}
}

// Do sends the request and returns the response body.
func (c *RESTClient) Do(ctx context.Context, r *Request) ([]byte, error) {
	var body io.Reader
	contentType := r.ContentType
	switch b := r.Body.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(b)
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	target := c.baseURL + r.Path
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &StatusError{Method: r.Method, Path: r.Path, StatusCode: resp.StatusCode, Body: respBody}
	}
	return respBody, nil
}
