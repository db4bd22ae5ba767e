// SPDX-License-Identifier: Apache-2.0

package searchstore

import (
	"bytes"
	"context"
	stdjson "encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/xataio/searchsync/internal/json"
)

// Client is the low level API shared by the Elasticsearch and OpenSearch
// clients.
type Client interface {
	Count(ctx context.Context, index string) (int, error)
	CreateIndex(ctx context.Context, index string, body map[string]any) error
	DeleteByQuery(ctx context.Context, req *DeleteByQueryRequest) error
	DeleteDocument(ctx context.Context, index, id string) error
	DeleteIndex(ctx context.Context, index []string) error
	// GetDocument returns nil when the document or the index does not exist.
	GetDocument(ctx context.Context, index, id string) (*Document, error)
	GetIndexAlias(ctx context.Context, name string) (map[string]any, error)
	GetIndexMappings(ctx context.Context, index string) (*Mappings, error)
	IndexExists(ctx context.Context, index string) (bool, error)
	IndexWithID(ctx context.Context, req *IndexWithIDRequest) error
	Info(ctx context.Context) error
	PutIndexMappings(ctx context.Context, index string, body map[string]any) error
	PutIndexSettings(ctx context.Context, index string, body map[string]any) error
	RefreshIndex(ctx context.Context, index string) error
	Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error)
	ScrollNext(ctx context.Context, scrollID string, keepAlive time.Duration) (*SearchResponse, error)
	ClearScroll(ctx context.Context, scrollID string) error
	MultiSearch(ctx context.Context, items []MultiSearchItem) ([]*SearchResponse, error)
	UpdateAliases(ctx context.Context, actions []AliasAction) error
	SendBulkRequest(ctx context.Context, items []BulkItem) ([]BulkItem, error)
	GetMapper() Mapper
}

func Ptr[T any](i T) *T { return &i }

// CreateReader returns a reader on the JSON representation of the given value.
func CreateReader(value any) (*bytes.Reader, error) {
	bytesValue, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("unexpected marshaling error: %w", err)
	}
	return bytes.NewReader(bytesValue), nil
}

// VerifyResponse returns the bulk items that the search store rejected, with
// their status and error set.
func VerifyResponse(bodyBytes []byte, items []BulkItem) (failed []BulkItem, err error) {
	var response BulkResponse
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return nil, fmt.Errorf("error unmarshaling response from search store: %w (%s)", err, bodyBytes)
	}

	failed = []BulkItem{}
	if !response.Errors {
		return failed, nil
	}

	if len(response.Items) != len(items) {
		return nil, fmt.Errorf("bulk response has %d items, %d were sent", len(response.Items), len(items))
	}

	for i, respItem := range response.Items {
		status := respItem.Index
		if items[i].Delete != nil {
			status = respItem.Delete
		}
		if status == nil || status.Status <= 299 {
			continue
		}
		items[i].Status = status.Status
		items[i].Error = status.Error
		failed = append(failed, items[i])
	}

	return failed, nil
}

// EncodeBulkItems writes the items in the NDJSON bulk format. Delete actions
// have no document line.
func EncodeBulkItems(buffer *bytes.Buffer, items []BulkItem) error {
	for _, item := range items {
		action, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("bulk item [%s]: encode item action: %w", item.ID(), err)
		}
		buffer.Write(action)
		buffer.WriteByte('\n')

		if item.Delete != nil {
			continue
		}

		if item.Doc == nil {
			buffer.WriteString("{}\n")
			continue
		}

		doc, err := json.Marshal(item.Doc)
		if err != nil {
			return fmt.Errorf("bulk item [%s]: encode item document: %w", item.ID(), err)
		}
		buffer.Write(doc)
		buffer.WriteByte('\n')
	}

	return nil
}

// EncodeMultiSearch writes the header/body pairs of a multi search request.
func EncodeMultiSearch(buffer *bytes.Buffer, items []MultiSearchItem) error {
	for _, item := range items {
		header, err := json.Marshal(map[string]string{"index": item.Index})
		if err != nil {
			return fmt.Errorf("multi search header for %s: %w", item.Index, err)
		}
		buffer.Write(header)
		buffer.WriteByte('\n')

		body := bytes.TrimSpace(item.Body)
		if len(body) == 0 {
			body = []byte("{}")
		}
		// bodies must fit on a single line
		var compact bytes.Buffer
		if err := stdjson.Compact(&compact, body); err != nil {
			return fmt.Errorf("multi search body for %s: %w", item.Index, err)
		}
		buffer.Write(compact.Bytes())
		buffer.WriteByte('\n')
	}
	return nil
}

// DecodeSearchResponse decodes a search response and keeps its raw body.
func DecodeSearchResponse(body []byte) (*SearchResponse, error) {
	response := &SearchResponse{}
	if err := json.Unmarshal(body, response); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidSearchEnvelope, err)
	}
	response.Raw = body
	return response, nil
}

// DecodeMultiSearchResponse decodes every entry of a multi search response.
// An entry carrying an error fails the whole multi search.
func DecodeMultiSearchResponse(body []byte) ([]*SearchResponse, error) {
	entries := gjson.GetBytes(body, "responses")
	if !entries.IsArray() {
		return nil, fmt.Errorf("%w: missing responses", errInvalidSearchEnvelope)
	}

	responses := []*SearchResponse{}
	for i, entry := range entries.Array() {
		if errEntry := entry.Get("error"); errEntry.Exists() {
			status := int(entry.Get("status").Int())
			return nil, fmt.Errorf("multi search entry %d: %w", i, newResponseError(status, errEntry.Raw))
		}
		resp, err := DecodeSearchResponse([]byte(entry.Raw))
		if err != nil {
			return nil, fmt.Errorf("multi search entry %d: %w", i, err)
		}
		responses = append(responses, resp)
	}
	return responses, nil
}
