// SPDX-License-Identifier: Apache-2.0

package searchbase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/xataio/searchsync/internal/json"
	"github.com/xataio/searchsync/internal/searchstore"
	"github.com/xataio/searchsync/pkg/engine"
	loglib "github.com/xataio/searchsync/pkg/log"
)

// Engine implements the engine contract for the Elasticsearch/OpenSearch
// family. The two backends only differ on the client and the vector query
// clause.
type Engine struct {
	kind      engine.Kind
	logger    loglib.Logger
	client    searchstore.Client
	mapper    searchstore.Mapper
	cfg       *engine.ConnectionConfig
	knnClause KNNClauseBuilder
	marshaler func(any) ([]byte, error)
}

// KNNClauseBuilder builds the backend specific vector query clause.
type KNNClauseBuilder func(field string, vector []float32, k int) searchstore.Condition

type Option func(*Engine)

var (
	_ engine.Engine             = (*Engine)(nil)
	_ engine.LiveTargetResolver = (*Engine)(nil)
)

const (
	scrollKeepAlive = time.Minute
	scrollPageSize  = 1000
	// document IDs are limited to 512 bytes
	idFieldLengthLimit = 512
)

func New(kind engine.Kind, client searchstore.Client, cfg *engine.ConnectionConfig, knn KNNClauseBuilder, opts ...Option) *Engine {
	e := &Engine{
		kind:      kind,
		logger:    loglib.NewNoopLogger(),
		client:    client,
		mapper:    client.GetMapper(),
		cfg:       cfg,
		knnClause: knn,
		marshaler: json.Marshal,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func WithLogger(l loglib.Logger) Option {
	return func(e *Engine) {
		e.logger = loglib.NewLogger(l).WithFields(loglib.Fields{
			loglib.ModuleField: "search_engine",
			loglib.EngineField: string(e.kind),
		})
	}
}

func (e *Engine) Kind() engine.Kind {
	return e.kind
}

func (e *Engine) indexName(idx *engine.Index) string {
	return e.cfg.IndexName(idx)
}

func (e *Engine) CreateIndex(ctx context.Context, idx *engine.Index) error {
	schema, err := e.BuildSchema(idx)
	if err != nil {
		return err
	}
	body := map[string]any{
		"settings": e.mapper.GetDefaultIndexSettings(),
		"mappings": schema["mappings"],
	}

	name := e.indexName(idx)
	err = e.client.CreateIndex(ctx, name, body)
	if errors.As(err, &searchstore.ErrResourceAlreadyExists{}) {
		e.logger.Debug("index already exists, updating mappings", loglib.Fields{loglib.IndexField: name})
		return e.UpdateIndexSettings(ctx, idx)
	}
	if err != nil {
		return mapError(fmt.Errorf("creating index %s: %w", name, err))
	}
	return nil
}

func (e *Engine) UpdateIndexSettings(ctx context.Context, idx *engine.Index) error {
	schema, err := e.BuildSchema(idx)
	if err != nil {
		return err
	}
	mappings, _ := schema["mappings"].(map[string]any)
	name := e.indexName(idx)
	if err := e.client.PutIndexMappings(ctx, name, mappings); err != nil {
		return mapError(fmt.Errorf("updating mappings of %s: %w", name, err))
	}
	return nil
}

// DeleteIndex deletes the index. When the name is an alias, the indices
// behind it are deleted. A missing index is not an error.
func (e *Engine) DeleteIndex(ctx context.Context, idx *engine.Index) error {
	name := e.indexName(idx)
	targets, err := e.aliasTargets(ctx, name)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		targets = []string{name}
	}

	err = e.client.DeleteIndex(ctx, targets)
	if errors.Is(err, searchstore.ErrResourceNotFound) {
		return nil
	}
	if err != nil {
		return mapError(fmt.Errorf("deleting index %s: %w", name, err))
	}
	return nil
}

// IndexExists falls back to a count request when the credentials are not
// allowed to check index existence.
func (e *Engine) IndexExists(ctx context.Context, idx *engine.Index) (bool, error) {
	name := e.indexName(idx)
	exists, err := e.client.IndexExists(ctx, name)
	if err == nil {
		return exists, nil
	}

	err = mapError(err)
	if !errors.Is(err, engine.ErrPermissionRestricted) {
		return false, err
	}

	e.logger.Debug("index existence check restricted, probing with count", loglib.Fields{loglib.IndexField: name})
	_, err = e.client.Count(ctx, name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, searchstore.ErrResourceNotFound):
		return false, nil
	default:
		return false, mapError(err)
	}
}

func (e *Engine) IndexDocument(ctx context.Context, idx *engine.Index, id string, doc engine.Document) error {
	if id == "" {
		return engine.NewValidationError("document id is required")
	}
	if len(id) > idFieldLengthLimit {
		return engine.NewValidationError("document id exceeds %d bytes", idFieldLengthLimit)
	}

	withID := doc.Clone()
	withID[engine.ObjectIDField] = id
	normalised, err := engine.NormalizeDocument(idx, withID, engine.DateISO)
	if err != nil {
		return err
	}
	body, err := e.marshaler(normalised)
	if err != nil {
		return fmt.Errorf("marshalling document %s: %w", id, err)
	}

	err = e.client.IndexWithID(ctx, &searchstore.IndexWithIDRequest{
		Index:   e.indexName(idx),
		ID:      id,
		Body:    body,
		Refresh: "false",
	})
	return mapError(err)
}

// IndexDocuments sends the documents in a single bulk request. Documents
// that fail validation or are rejected by the store are reported in a
// BulkError.
func (e *Engine) IndexDocuments(ctx context.Context, idx *engine.Index, docs []engine.Document) error {
	name := e.indexName(idx)
	items := make([]searchstore.BulkItem, 0, len(docs))
	failures := []engine.DocumentFailure{}
	for _, doc := range docs {
		normalised, err := engine.NormalizeDocument(idx, doc, engine.DateISO)
		if err != nil {
			id, _ := engine.CoerceID(doc[engine.ObjectIDField])
			failures = append(failures, engine.DocumentFailure{ObjectID: id, Status: http.StatusBadRequest, Reason: err.Error()})
			continue
		}
		id := normalised[engine.ObjectIDField].(string)
		if len(id) > idFieldLengthLimit {
			failures = append(failures, engine.DocumentFailure{ObjectID: id, Status: http.StatusBadRequest, Reason: "document id too long"})
			continue
		}
		items = append(items, searchstore.BulkItem{
			Index: &searchstore.BulkIndex{Index: name, ID: id},
			Doc:   normalised,
		})
	}

	return e.sendBulk(ctx, name, len(docs), items, failures)
}

func (e *Engine) DeleteDocument(ctx context.Context, idx *engine.Index, id string) error {
	return mapError(e.client.DeleteDocument(ctx, e.indexName(idx), id))
}

func (e *Engine) DeleteDocuments(ctx context.Context, idx *engine.Index, ids []string) error {
	name := e.indexName(idx)
	items := make([]searchstore.BulkItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, searchstore.BulkItem{Delete: &searchstore.BulkIndex{Index: name, ID: id}})
	}
	return e.sendBulk(ctx, name, len(ids), items, []engine.DocumentFailure{})
}

func (e *Engine) sendBulk(ctx context.Context, index string, total int, items []searchstore.BulkItem, failures []engine.DocumentFailure) error {
	if len(items) > 0 {
		failed, err := e.client.SendBulkRequest(ctx, items)
		if err != nil {
			return mapError(fmt.Errorf("bulk request on %s: %w", index, err))
		}
		for _, item := range failed {
			if failure, ok := classifyBulkFailure(item); ok {
				failures = append(failures, failure)
			}
		}
	}

	if len(failures) == 0 {
		return nil
	}
	e.logger.Warn(nil, "bulk request partially failed", loglib.Fields{
		loglib.IndexField: index,
		"failed":          len(failures),
		"total":           total,
	})
	return &engine.BulkError{Index: index, Total: total, Failures: failures}
}

// classifyBulkFailure ignores deletes of missing documents and marks the
// failures worth retrying.
func classifyBulkFailure(item searchstore.BulkItem) (engine.DocumentFailure, bool) {
	if item.Delete != nil && item.Status == http.StatusNotFound {
		return engine.DocumentFailure{}, false
	}
	return engine.DocumentFailure{
		ObjectID:  item.ID(),
		Status:    item.Status,
		Reason:    string(item.Error),
		Retriable: engine.IsRetriableStatus(item.Status),
	}, true
}

func (e *Engine) FlushIndex(ctx context.Context, idx *engine.Index) error {
	err := e.client.DeleteByQuery(ctx, &searchstore.DeleteByQueryRequest{
		Index:   []string{e.indexName(idx)},
		Query:   map[string]any{"query": map[string]any{"match_all": map[string]any{}}},
		Refresh: true,
	})
	return mapError(err)
}

func (e *Engine) GetDocument(ctx context.Context, idx *engine.Index, id string) (engine.Document, error) {
	doc, err := e.client.GetDocument(ctx, e.indexName(idx), id)
	if err != nil {
		return nil, mapError(err)
	}
	if doc == nil {
		return nil, nil
	}
	out := engine.Document(doc.Source)
	if out == nil {
		out = engine.Document{}
	}
	out[engine.ObjectIDField] = doc.ID
	return out, nil
}

func (e *Engine) GetDocumentCount(ctx context.Context, idx *engine.Index) (int, error) {
	count, err := e.client.Count(ctx, e.indexName(idx))
	if err != nil {
		return 0, mapError(err)
	}
	return count, nil
}

// GetAllDocumentIDs walks the index with a scroll context.
func (e *Engine) GetAllDocumentIDs(ctx context.Context, idx *engine.Index) ([]string, error) {
	body, err := e.marshaler(map[string]any{
		"size":    scrollPageSize,
		"_source": false,
		"sort":    []string{"_doc"},
	})
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Search(ctx, &searchstore.SearchRequest{
		Index:  e.indexName(idx),
		Body:   body,
		Scroll: scrollKeepAlive,
	})
	if err != nil {
		return nil, mapError(err)
	}

	ids := []string{}
	defer func() {
		if resp == nil || resp.ScrollID == "" {
			return
		}
		if err := e.client.ClearScroll(context.WithoutCancel(ctx), resp.ScrollID); err != nil {
			e.logger.Warn(err, "clearing scroll context")
		}
	}()

	for len(resp.Hits.Hits) > 0 {
		for _, hit := range resp.Hits.Hits {
			ids = append(ids, hit.ID)
		}
		next, err := e.client.ScrollNext(ctx, resp.ScrollID, scrollKeepAlive)
		if err != nil {
			return nil, mapError(err)
		}
		resp = next
	}
	return ids, nil
}

func (e *Engine) GetIndexSchema(ctx context.Context, idx *engine.Index) (map[string]any, error) {
	mappings, err := e.client.GetIndexMappings(ctx, e.indexName(idx))
	if err != nil {
		return nil, mapError(err)
	}
	return map[string]any{
		"mappings": map[string]any{
			"dynamic":    mappings.Dynamic,
			"properties": mappings.Properties,
		},
	}, nil
}

func (e *Engine) GetSchemaFields(ctx context.Context, idx *engine.Index) ([]engine.SchemaField, error) {
	mappings, err := e.client.GetIndexMappings(ctx, e.indexName(idx))
	if err != nil {
		return nil, mapError(err)
	}

	fields := make([]engine.SchemaField, 0, len(mappings.Properties))
	for _, name := range sortedKeys(mappings.Properties) {
		fieldType := "object"
		if def, ok := mappings.Properties[name].(map[string]any); ok {
			if t, ok := def["type"].(string); ok {
				fieldType = t
			}
		}
		fields = append(fields, engine.SchemaField{Name: name, Type: fieldType})
	}
	return fields, nil
}

// TestConnection treats restricted credentials as a working connection.
func (e *Engine) TestConnection(ctx context.Context) bool {
	err := mapError(e.client.Info(ctx))
	switch {
	case err == nil:
		return true
	case errors.Is(err, engine.ErrPermissionRestricted):
		e.logger.Info("connected with restricted credentials")
		return true
	default:
		e.logger.Warn(err, "connection test failed")
		return false
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// mapError converts search store errors into the engine error taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var respErr *searchstore.ErrResponse
	if errors.As(err, &respErr) {
		return fmt.Errorf("%w: %w", err, &engine.StatusError{
			Status:  respErr.StatusCode,
			Message: strings.TrimSpace(respErr.Type + ": " + respErr.Reason),
		})
	}
	if errors.Is(err, searchstore.ErrResourceNotFound) {
		return fmt.Errorf("%w: %w", engine.ErrIndexNotFound, err)
	}
	return err
}
