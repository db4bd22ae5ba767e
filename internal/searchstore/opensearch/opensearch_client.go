// SPDX-License-Identifier: Apache-2.0

package opensearch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go"
	"github.com/opensearch-project/opensearch-go/opensearchapi"
	"github.com/xataio/searchsync/internal/json"
	"github.com/xataio/searchsync/internal/searchstore"
)

type Client struct {
	client *opensearch.Client
}

type Config struct {
	URL      string
	APIKey   string
	Username string
	Password string
	Timeout  time.Duration
}

func NewClient(cfg *Config) (*Client, error) {
	os, err := newClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create opensearch client: %w", err)
	}
	return &Client{client: os}, nil
}

func (c *Client) GetMapper() searchstore.Mapper {
	return NewMapper()
}

func (c *Client) Info(ctx context.Context) error {
	res, err := c.client.Info(c.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("[Info] error from OpenSearch: %w", err)
	}
	defer res.Body.Close()

	if err := c.isErrResponse(res); err != nil {
		return fmt.Errorf("[Info] error response from OpenSearch: %w", err)
	}
	return nil
}

func (c *Client) Count(ctx context.Context, index string) (int, error) {
	res, err := c.client.Count(
		c.client.Count.WithIndex(index),
		c.client.Count.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("[Count] error from OpenSearch: %w", err)
	}
	defer res.Body.Close()

	if err := c.isErrResponse(res); err != nil {
		return 0, fmt.Errorf("[Count] error response from OpenSearch: %w", err)
	}

	count := &searchstore.CountResponse{}
	if err := json.NewDecoder(res.Body).Decode(count); err != nil {
		return 0, fmt.Errorf("[Count] error decoding OpenSearch response: %w", err)
	}

	return count.Count, nil
}

func (c *Client) CreateIndex(ctx context.Context, index string, body map[string]any) error {
	reader, err := searchstore.CreateReader(body)
	if err != nil {
		return err
	}
	res, err := c.client.Indices.Create(index,
		c.client.Indices.Create.WithContext(ctx),
		c.client.Indices.Create.WithBody(reader),
	)
	if err != nil {
		return fmt.Errorf("[CreateIndex] error from OpenSearch: %w", err)
	}
	defer res.Body.Close()

	if err := c.isErrResponse(res); err != nil {
		return fmt.Errorf("[CreateIndex] error response from OpenSearch: %w", err)
	}

	return nil
}

func (c *Client) DeleteByQuery(ctx context.Context, req *searchstore.DeleteByQueryRequest) error {
	reader, err := searchstore.CreateReader(req.Query)
	if err != nil {
		return err
	}

	res, err := c.client.DeleteByQuery(req.Index,
		reader,
		c.client.DeleteByQuery.WithContext(ctx),
		c.client.DeleteByQuery.WithConflicts("proceed"),
		c.client.DeleteByQuery.WithRefresh(req.Refresh),
	)
	if err != nil {
		return fmt.Errorf("[DeleteByQuery] error from OpenSearch: %w", err)
	}
	defer res.Body.Close()

	if err := c.isErrResponse(res); err != nil {
		return fmt.Errorf("[DeleteByQuery] error response from OpenSearch: %w", err)
	}

	return nil
}

func (c *Client) DeleteDocument(ctx context.Context, index, id string) error {
	res, err := c.client.Delete(index, id,
		c.client.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("[DeleteDocument] error from OpenSearch: %w", err)
	}
	defer res.Body.Close()

	// deleting a missing document is a no-op
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if err := c.isErrResponse(res); err != nil {
		return fmt.Errorf("[DeleteDocument] error response from OpenSearch: %w", err)
	}
	return nil
}

func (c *Client) DeleteIndex(ctx context.Context, index []string) error {
	res, err := c.client.Indices.Delete(
		index,
		c.client.Indices.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("[DeleteIndex] error from OpenSearch: %w", err)
	}
	defer res.Body.Close()

	if err := c.isErrResponse(res); err != nil {
		return fmt.Errorf("[DeleteIndex] error response from OpenSearch: %w", err)
	}

	return nil
}

func (c *Client) GetDocument(ctx context.Context, index, id string) (*searchstore.Document, error) {
	res, err := c.client.Get(index, id,
		c.client.Get.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("[GetDocument] error from OpenSearch: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err := c.isErrResponse(res); err != nil {
		return nil, fmt.Errorf("[GetDocument] error response from OpenSearch: %w", err)
	}

	doc := &searchstore.Document{}
	if err := json.NewDecoder(res.Body).Decode(doc); err != nil {
		return nil, fmt.Errorf("[GetDocument] error decoding OpenSearch response: %w", err)
	}
	if !doc.Found {
		return nil, nil
	}
	return doc, nil
}

func (c *Client) IndexWithID(ctx context.Context, req *searchstore.IndexWithIDRequest) error {
	res, err := c.client.Index(req.Index,
		bytes.NewReader(req.Body),
		c.client.Index.WithContext(ctx),
		c.client.Index.WithRefresh(req.Refresh),
		c.client.Index.WithDocumentID(req.ID),
	)
	if err != nil {
		return fmt.Errorf("[IndexWithID] error from OpenSearch: %w", err)
	}
	defer res.Body.Close()

	if err := c.isErrResponse(res); err != nil {
		return fmt.Errorf("[IndexWithID] error response from OpenSearch: %w", err)
	}

	return nil
}

func (c *Client) IndexExists(ctx context.Context, index string) (bool, error) {
	res, err := c.client.Indices.Exists([]string{index},
		c.client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return false, fmt.Errorf("[IndexExists] error from OpenSearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return false, fmt.Errorf("[IndexExists] error response from OpenSearch: %w", c.isErrResponse(res))
	}

	return res.StatusCode == http.StatusOK, nil
}

func (c *Client) GetIndexAlias(ctx context.Context, name string) (map[string]any, error) {
	res, err := c.client.Indices.GetAlias(
		c.client.Indices.GetAlias.WithContext(ctx),
		c.client.Indices.GetAlias.WithName(name),
	)
	if err != nil {
		return nil, fmt.Errorf("[GetIndexAlias] error from OpenSearch: %w", err)
	}
	defer res.Body.Close()

	if err := c.isErrResponse(res); err != nil {
		return nil, fmt.Errorf("[GetIndexAlias] error response from OpenSearch: %w", err)
	}

	resMap := map[string]any{}
	if err := json.NewDecoder(res.Body).Decode(&resMap); err != nil {
		return nil, fmt.Errorf("[GetIndexAlias] error unmarshalling OpenSearch response: %w", err)
	}
	return resMap, nil
}

func (c *Client) GetIndexMappings(ctx context.Context, index string) (*searchstore.Mappings, error) {
	res, err := c.client.Indices.GetMapping(
		c.client.Indices.GetMapping.WithIndex(index),
		c.client.Indices.GetMapping.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("[GetIndexMapping] error from OpenSearch: %w", err)
	}
	defer res.Body.Close()

	if err := c.isErrResponse(res); err != nil {
		return nil, fmt.Errorf("[GetIndexMapping] error response from OpenSearch: %w", err)
	}

	var indexMappings searchstore.MappingResponse
	if err = json.NewDecoder(res.Body).Decode(&indexMappings); err != nil {
		return nil, err
	}

	// an alias resolves to its concrete index name
	for _, m := range indexMappings {
		mappings := m.Mappings
		return &mappings, nil
	}
	return &searchstore.Mappings{}, nil
}

// PutIndexMappings adds field type mappings to a previously created index.
func (c *Client) PutIndexMappings(ctx context.Context, index string, mapping map[string]any) error {
	reader, err := searchstore.CreateReader(mapping)
	if err != nil {
		return err
	}
	res, err := c.client.Indices.PutMapping(
		reader,
		c.client.Indices.PutMapping.WithIndex(index),
		c.client.Indices.PutMapping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("[PutIndexMappings] error from OpenSearch: %w", err)
	}
	defer res.Body.Close()

	if err := c.isErrResponse(res); err != nil {
		return fmt.Errorf("[PutIndexMappings] error response from OpenSearch: %w", err)
	}

	return nil
}

func (c *Client) PutIndexSettings(ctx context.Context, index string, settings map[string]any) error {
	reader, err := searchstore.CreateReader(settings)
	if err != nil {
		return err
	}
	res, err := c.client.Indices.PutSettings(
		reader,
		c.client.Indices.PutSettings.WithContext(ctx),
		c.client.Indices.PutSettings.WithIndex(index))
	if err != nil {
		return fmt.Errorf("[PutIndexSettings] error from OpenSearch: %w", err)
	}
	defer res.Body.Close()

	if err := c.isErrResponse(res); err != nil {
		return fmt.Errorf("[PutIndexSettings] error response from OpenSearch: %w", err)
	}

	return nil
}

func (c *Client) RefreshIndex(ctx context.Context, index string) error {
	res, err := c.client.Indices.Refresh(
		c.client.Indices.Refresh.WithIndex(index),
		c.client.Indices.Refresh.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("[RefreshIndex] error from OpenSearch: %w", err)
	}
	defer res.Body.Close()

	if err := c.isErrResponse(res); err != nil {
		return fmt.Errorf("[RefreshIndex] error response from OpenSearch: %w", err)
	}

	return nil
}

func (c *Client) Search(ctx context.Context, req *searchstore.SearchRequest) (*searchstore.SearchResponse, error) {
	opts := []func(*opensearchapi.SearchRequest){
		c.client.Search.WithContext(ctx),
		c.client.Search.WithIndex(req.Index),
		c.client.Search.WithBody(bytes.NewReader(req.Body)),
	}
	if req.Scroll > 0 {
		opts = append(opts, c.client.Search.WithScroll(req.Scroll))
	}

	res, err := c.client.Search(opts...)
	if err != nil {
		return nil, fmt.Errorf("[Search] error from OpenSearch: %w", err)
	}
	defer res.Body.Close()
	return c.decodeSearch("Search", res)
}

func (c *Client) ScrollNext(ctx context.Context, scrollID string, keepAlive time.Duration) (*searchstore.SearchResponse, error) {
	res, err := c.client.Scroll(
		c.client.Scroll.WithContext(ctx),
		c.client.Scroll.WithScrollID(scrollID),
		c.client.Scroll.WithScroll(keepAlive),
	)
	if err != nil {
		return nil, fmt.Errorf("[ScrollNext] error from OpenSearch: %w", err)
	}
	defer res.Body.Close()
	return c.decodeSearch("ScrollNext", res)
}

func (c *Client) ClearScroll(ctx context.Context, scrollID string) error {
	res, err := c.client.ClearScroll(
		c.client.ClearScroll.WithContext(ctx),
		c.client.ClearScroll.WithScrollID(scrollID),
	)
	if err != nil {
		return fmt.Errorf("[ClearScroll] error from OpenSearch: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if err := c.isErrResponse(res); err != nil {
		return fmt.Errorf("[ClearScroll] error response from OpenSearch: %w", err)
	}
	return nil
}

func (c *Client) MultiSearch(ctx context.Context, items []searchstore.MultiSearchItem) ([]*searchstore.SearchResponse, error) {
	buffer := new(bytes.Buffer)
	if err := searchstore.EncodeMultiSearch(buffer, items); err != nil {
		return nil, err
	}

	res, err := c.client.Msearch(buffer,
		c.client.Msearch.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("[MultiSearch] error from OpenSearch: %w", err)
	}
	defer res.Body.Close()

	if err := c.isErrResponse(res); err != nil {
		return nil, fmt.Errorf("[MultiSearch] error response from OpenSearch: %w", err)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("[MultiSearch] read body: %w", err)
	}
	return searchstore.DecodeMultiSearchResponse(body)
}

func (c *Client) UpdateAliases(ctx context.Context, actions []searchstore.AliasAction) error {
	reader, err := searchstore.CreateReader(map[string]any{"actions": actions})
	if err != nil {
		return err
	}
	res, err := c.client.Indices.UpdateAliases(reader,
		c.client.Indices.UpdateAliases.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("[UpdateAliases] error from OpenSearch: %w", err)
	}
	defer res.Body.Close()

	if err := c.isErrResponse(res); err != nil {
		return fmt.Errorf("[UpdateAliases] error response from OpenSearch: %w", err)
	}
	return nil
}

// SendBulkRequest performs multiple indexing or delete operations in a single
// call and returns the items that failed.
func (c *Client) SendBulkRequest(ctx context.Context, items []searchstore.BulkItem) ([]searchstore.BulkItem, error) {
	buffer := new(bytes.Buffer)

	if err := searchstore.EncodeBulkItems(buffer, items); err != nil {
		return nil, err
	}

	res, err := c.client.Bulk(buffer,
		c.client.Bulk.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("[SendBulkRequest] error from OpenSearch: %w", err)
	}
	defer res.Body.Close()

	if err := c.isErrResponse(res); err != nil {
		return nil, fmt.Errorf("[SendBulkRequest] error response from OpenSearch: %w", err)
	}

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return searchstore.VerifyResponse(bodyBytes, items)
}

func (c *Client) decodeSearch(op string, res *opensearchapi.Response) (*searchstore.SearchResponse, error) {
	if err := c.isErrResponse(res); err != nil {
		return nil, fmt.Errorf("[%s] error response from OpenSearch: %w", op, err)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("[%s] read body: %w", op, err)
	}
	response, err := searchstore.DecodeSearchResponse(body)
	if err != nil {
		return nil, fmt.Errorf("[%s] decoding response body: %w", op, err)
	}
	return response, nil
}

func (c *Client) isErrResponse(res *opensearchapi.Response) error {
	return searchstore.IsErrResponse(newAPIResponse(res))
}

func newClient(cfg *Config) (*opensearch.Client, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("no address provided")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Timeout > 0 {
		transport.ResponseHeaderTimeout = cfg.Timeout
	}

	osCfg := opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	}
	if cfg.APIKey != "" {
		osCfg.Header = http.Header{"Authorization": []string{"ApiKey " + cfg.APIKey}}
	}
	return opensearch.NewClient(osCfg)
}

type apiResponse struct {
	*opensearchapi.Response
}

func newAPIResponse(res *opensearchapi.Response) *apiResponse {
	return &apiResponse{Response: res}
}

func (r *apiResponse) GetBody() io.ReadCloser {
	return r.Body
}

func (r *apiResponse) GetStatusCode() int {
	return r.StatusCode
}
