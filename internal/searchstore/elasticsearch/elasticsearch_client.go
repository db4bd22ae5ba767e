// SPDX-License-Identifier: Apache-2.0

package elasticsearch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/xataio/searchsync/internal/json"
	"github.com/xataio/searchsync/internal/searchstore"
)

type Client struct {
	client *elasticsearch.Client
}

type Config struct {
	URL      string
	APIKey   string
	Username string
	Password string
	Timeout  time.Duration
}

func NewClient(cfg *Config) (*Client, error) {
	es, err := newClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Client{client: es}, nil
}

func (ec *Client) GetMapper() searchstore.Mapper {
	return NewMapper()
}

func (ec *Client) Info(ctx context.Context) error {
	res, err := ec.client.Info(ec.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("[Info] error from Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if err := ec.isErrResponse(res); err != nil {
		return fmt.Errorf("[Info] error response from Elasticsearch: %w", err)
	}
	return nil
}

func (ec *Client) Count(ctx context.Context, index string) (int, error) {
	res, err := ec.client.Count(
		ec.client.Count.WithIndex(index),
		ec.client.Count.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("[Count] error from Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if err := ec.isErrResponse(res); err != nil {
		return 0, fmt.Errorf("[Count] error response from Elasticsearch: %w", err)
	}

	count := &searchstore.CountResponse{}
	if err := json.NewDecoder(res.Body).Decode(count); err != nil {
		return 0, fmt.Errorf("[Count] error decoding Elasticsearch response: %w", err)
	}

	return count.Count, nil
}

func (ec *Client) CreateIndex(ctx context.Context, index string, body map[string]any) error {
	reader, err := searchstore.CreateReader(body)
	if err != nil {
		return err
	}
	res, err := ec.client.Indices.Create(index,
		ec.client.Indices.Create.WithContext(ctx),
		ec.client.Indices.Create.WithBody(reader),
	)
	if err != nil {
		return fmt.Errorf("[CreateIndex] error from Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if err := ec.isErrResponse(res); err != nil {
		return fmt.Errorf("[CreateIndex] error response from Elasticsearch: %w", err)
	}

	return nil
}

func (ec *Client) DeleteByQuery(ctx context.Context, req *searchstore.DeleteByQueryRequest) error {
	reader, err := searchstore.CreateReader(req.Query)
	if err != nil {
		return err
	}

	res, err := ec.client.DeleteByQuery(req.Index,
		reader,
		ec.client.DeleteByQuery.WithContext(ctx),
		ec.client.DeleteByQuery.WithConflicts("proceed"),
		ec.client.DeleteByQuery.WithRefresh(req.Refresh),
	)
	if err != nil {
		return fmt.Errorf("[DeleteByQuery] error from Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if err := ec.isErrResponse(res); err != nil {
		return fmt.Errorf("[DeleteByQuery] error response from Elasticsearch: %w", err)
	}

	return nil
}

func (ec *Client) DeleteDocument(ctx context.Context, index, id string) error {
	res, err := ec.client.Delete(index, id,
		ec.client.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("[DeleteDocument] error from Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	// deleting a missing document is a no-op
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if err := ec.isErrResponse(res); err != nil {
		return fmt.Errorf("[DeleteDocument] error response from Elasticsearch: %w", err)
	}
	return nil
}

func (ec *Client) DeleteIndex(ctx context.Context, index []string) error {
	res, err := ec.client.Indices.Delete(
		index,
		ec.client.Indices.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("[DeleteIndex] error from Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if err := ec.isErrResponse(res); err != nil {
		return fmt.Errorf("[DeleteIndex] error response from Elasticsearch: %w", err)
	}

	return nil
}

func (ec *Client) GetDocument(ctx context.Context, index, id string) (*searchstore.Document, error) {
	res, err := ec.client.Get(index, id,
		ec.client.Get.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("[GetDocument] error from Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err := ec.isErrResponse(res); err != nil {
		return nil, fmt.Errorf("[GetDocument] error response from Elasticsearch: %w", err)
	}

	doc := &searchstore.Document{}
	if err := json.NewDecoder(res.Body).Decode(doc); err != nil {
		return nil, fmt.Errorf("[GetDocument] error decoding Elasticsearch response: %w", err)
	}
	if !doc.Found {
		return nil, nil
	}
	return doc, nil
}

func (ec *Client) IndexWithID(ctx context.Context, req *searchstore.IndexWithIDRequest) error {
	res, err := ec.client.Index(req.Index,
		bytes.NewReader(req.Body),
		ec.client.Index.WithContext(ctx),
		ec.client.Index.WithRefresh(req.Refresh),
		ec.client.Index.WithDocumentID(req.ID),
	)
	if err != nil {
		return fmt.Errorf("[IndexWithID] error from Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if err := ec.isErrResponse(res); err != nil {
		return fmt.Errorf("[IndexWithID] error response from Elasticsearch: %w", err)
	}

	return nil
}

func (ec *Client) IndexExists(ctx context.Context, index string) (bool, error) {
	res, err := ec.client.Indices.Exists([]string{index},
		ec.client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return false, fmt.Errorf("[IndexExists] error from Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return false, fmt.Errorf("[IndexExists] error response from Elasticsearch: %w", ec.isErrResponse(res))
	}

	return res.StatusCode == http.StatusOK, nil
}

func (ec *Client) GetIndexAlias(ctx context.Context, name string) (map[string]any, error) {
	res, err := ec.client.Indices.GetAlias(
		ec.client.Indices.GetAlias.WithContext(ctx),
		ec.client.Indices.GetAlias.WithName(name),
	)
	if err != nil {
		return nil, fmt.Errorf("[GetIndexAlias] error from Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if err := ec.isErrResponse(res); err != nil {
		return nil, fmt.Errorf("[GetIndexAlias] error response from Elasticsearch: %w", err)
	}

	resMap := map[string]any{}
	if err := json.NewDecoder(res.Body).Decode(&resMap); err != nil {
		return nil, fmt.Errorf("[GetIndexAlias] error unmarshalling Elasticsearch response: %w", err)
	}
	return resMap, nil
}

func (ec *Client) GetIndexMappings(ctx context.Context, index string) (*searchstore.Mappings, error) {
	res, err := ec.client.Indices.GetMapping(
		ec.client.Indices.GetMapping.WithIndex(index),
		ec.client.Indices.GetMapping.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("[GetIndexMapping] error from Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if err := ec.isErrResponse(res); err != nil {
		return nil, fmt.Errorf("[GetIndexMapping] error response from Elasticsearch: %w", err)
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
func (ec *Client) PutIndexMappings(ctx context.Context, index string, mapping map[string]any) error {
	reader, err := searchstore.CreateReader(mapping)
	if err != nil {
		return err
	}
	res, err := ec.client.Indices.PutMapping(
		[]string{index},
		reader,
		ec.client.Indices.PutMapping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("[PutIndexMappings] error from Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if err := ec.isErrResponse(res); err != nil {
		return fmt.Errorf("[PutIndexMappings] error response from Elasticsearch: %w", err)
	}

	return nil
}

func (ec *Client) PutIndexSettings(ctx context.Context, index string, settings map[string]any) error {
	reader, err := searchstore.CreateReader(settings)
	if err != nil {
		return err
	}
	res, err := ec.client.Indices.PutSettings(
		reader,
		ec.client.Indices.PutSettings.WithContext(ctx),
		ec.client.Indices.PutSettings.WithIndex(index))
	if err != nil {
		return fmt.Errorf("[PutIndexSettings] error from Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if err := ec.isErrResponse(res); err != nil {
		return fmt.Errorf("[PutIndexSettings] error response from Elasticsearch: %w", err)
	}

	return nil
}

func (ec *Client) RefreshIndex(ctx context.Context, index string) error {
	res, err := ec.client.Indices.Refresh(
		ec.client.Indices.Refresh.WithIndex(index),
		ec.client.Indices.Refresh.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("[RefreshIndex] error from Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if err := ec.isErrResponse(res); err != nil {
		return fmt.Errorf("[RefreshIndex] error response from Elasticsearch: %w", err)
	}

	return nil
}

func (ec *Client) Search(ctx context.Context, req *searchstore.SearchRequest) (*searchstore.SearchResponse, error) {
	opts := []func(*esapi.SearchRequest){
		ec.client.Search.WithContext(ctx),
		ec.client.Search.WithIndex(req.Index),
		ec.client.Search.WithBody(bytes.NewReader(req.Body)),
	}
	if req.Scroll > 0 {
		opts = append(opts, ec.client.Search.WithScroll(req.Scroll))
	}

	res, err := ec.client.Search(opts...)
	if err != nil {
		return nil, fmt.Errorf("[Search] error from Elasticsearch: %w", err)
	}
	defer res.Body.Close()
	return ec.decodeSearch("Search", res)
}

func (ec *Client) ScrollNext(ctx context.Context, scrollID string, keepAlive time.Duration) (*searchstore.SearchResponse, error) {
	res, err := ec.client.Scroll(
		ec.client.Scroll.WithContext(ctx),
		ec.client.Scroll.WithScrollID(scrollID),
		ec.client.Scroll.WithScroll(keepAlive),
	)
	if err != nil {
		return nil, fmt.Errorf("[ScrollNext] error from Elasticsearch: %w", err)
	}
	defer res.Body.Close()
	return ec.decodeSearch("ScrollNext", res)
}

func (ec *Client) ClearScroll(ctx context.Context, scrollID string) error {
	res, err := ec.client.ClearScroll(
		ec.client.ClearScroll.WithContext(ctx),
		ec.client.ClearScroll.WithScrollID(scrollID),
	)
	if err != nil {
		return fmt.Errorf("[ClearScroll] error from Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if err := ec.isErrResponse(res); err != nil {
		return fmt.Errorf("[ClearScroll] error response from Elasticsearch: %w", err)
	}
	return nil
}

func (ec *Client) MultiSearch(ctx context.Context, items []searchstore.MultiSearchItem) ([]*searchstore.SearchResponse, error) {
	buffer := new(bytes.Buffer)
	if err := searchstore.EncodeMultiSearch(buffer, items); err != nil {
		return nil, err
	}

	res, err := ec.client.Msearch(buffer,
		ec.client.Msearch.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("[MultiSearch] error from Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if err := ec.isErrResponse(res); err != nil {
		return nil, fmt.Errorf("[MultiSearch] error response from Elasticsearch: %w", err)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("[MultiSearch] read body: %w", err)
	}
	return searchstore.DecodeMultiSearchResponse(body)
}

func (ec *Client) UpdateAliases(ctx context.Context, actions []searchstore.AliasAction) error {
	reader, err := searchstore.CreateReader(map[string]any{"actions": actions})
	if err != nil {
		return err
	}
	res, err := ec.client.Indices.UpdateAliases(reader,
		ec.client.Indices.UpdateAliases.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("[UpdateAliases] error from Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if err := ec.isErrResponse(res); err != nil {
		return fmt.Errorf("[UpdateAliases] error response from Elasticsearch: %w", err)
	}
	return nil
}

// SendBulkRequest performs multiple indexing or delete operations in a single
// call and returns the items that failed.
func (ec *Client) SendBulkRequest(ctx context.Context, items []searchstore.BulkItem) ([]searchstore.BulkItem, error) {
	buffer := new(bytes.Buffer)

	if err := searchstore.EncodeBulkItems(buffer, items); err != nil {
		return nil, err
	}

	res, err := ec.client.Bulk(buffer,
		ec.client.Bulk.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("[SendBulkRequest] error from Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if err := ec.isErrResponse(res); err != nil {
		return nil, fmt.Errorf("[SendBulkRequest] error response from Elasticsearch: %w", err)
	}

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return searchstore.VerifyResponse(bodyBytes, items)
}

func (ec *Client) decodeSearch(op string, res *esapi.Response) (*searchstore.SearchResponse, error) {
	if err := ec.isErrResponse(res); err != nil {
		return nil, fmt.Errorf("[%s] error response from Elasticsearch: %w", op, err)
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

func (ec *Client) isErrResponse(res *esapi.Response) error {
	return searchstore.IsErrResponse(newAPIResponse(res))
}

func newClient(cfg *Config) (*elasticsearch.Client, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("no address provided")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Timeout > 0 {
		transport.ResponseHeaderTimeout = cfg.Timeout
	}

	return elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		APIKey:    cfg.APIKey,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
}

type apiResponse struct {
	*esapi.Response
}

func newAPIResponse(res *esapi.Response) *apiResponse {
	return &apiResponse{Response: res}
}

func (r *apiResponse) GetBody() io.ReadCloser {
	return r.Body
}

func (r *apiResponse) GetStatusCode() int {
	return r.StatusCode
}
