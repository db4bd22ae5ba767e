// SPDX-License-Identifier: Apache-2.0

package typesense

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/xataio/searchsync/internal/json"
	"github.com/xataio/searchsync/pkg/engine"
	loglib "github.com/xataio/searchsync/pkg/log"
)

// Engine implements the engine contract on top of Typesense. Live index
// names are collection aliases once an index has been swapped.
type Engine struct {
	logger loglib.Logger
	client Client
	cfg    *engine.ConnectionConfig
}

type Config struct {
	engine.ConnectionConfig `mapstructure:",squash"`
}

type Option func(*Engine)

var (
	_ engine.Engine             = (*Engine)(nil)
	_ engine.LiveTargetResolver = (*Engine)(nil)
)

const (
	idField       = "id"
	deleteBatch   = 100
	numDocuments  = "num_documents"
	wildcardQuery = "*"
	autoFieldName = ".*"
)

// New builds a Typesense engine out of a resolved engine config.
func New(cfg engine.Config, opts ...Option) (*Engine, error) {
	var c Config
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	if c.URL == "" {
		return nil, engine.NewValidationError("typesense: url is required")
	}
	if c.APIKey == "" {
		return nil, engine.NewValidationError("typesense: api key is required")
	}
	client := NewClient(&ClientConfig{URL: c.URL, APIKey: c.APIKey, Timeout: c.Timeout})
	return NewWithClient(client, &c.ConnectionConfig, opts...), nil
}

func NewWithClient(client Client, cfg *engine.ConnectionConfig, opts ...Option) *Engine {
	e := &Engine{
		logger: loglib.NewNoopLogger(),
		client: client,
		cfg:    cfg,
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
			loglib.EngineField: string(engine.KindTypesense),
		})
	}
}

func (e *Engine) Kind() engine.Kind {
	return engine.KindTypesense
}

func (e *Engine) name(idx *engine.Index) string {
	return e.cfg.IndexName(idx)
}

func (e *Engine) CreateIndex(ctx context.Context, idx *engine.Index) error {
	name := e.name(idx)
	exists, err := e.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if exists {
		return e.UpdateIndexSettings(ctx, idx)
	}
	schema, err := e.BuildSchema(idx)
	if err != nil {
		return err
	}
	if err := e.client.CreateCollection(ctx, schema); err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	return nil
}

// UpdateIndexSettings adds the mapped fields missing from the collection.
// Typesense does not allow changing the type of an existing field in place.
func (e *Engine) UpdateIndexSettings(ctx context.Context, idx *engine.Index) error {
	name := e.name(idx)
	current, err := e.client.RetrieveCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("retrieving collection %s: %w", name, err)
	}
	existing := map[string]struct{}{}
	currentFields, _ := current["fields"].([]any)
	for _, f := range currentFields {
		if field, ok := f.(map[string]any); ok {
			existing[fmt.Sprint(field["name"])] = struct{}{}
		}
	}

	schema, err := e.BuildSchema(idx)
	if err != nil {
		return err
	}
	missing := []map[string]any{}
	for _, field := range schema["fields"].([]map[string]any) {
		if _, found := existing[field["name"].(string)]; !found {
			missing = append(missing, field)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if err := e.client.UpdateCollection(ctx, name, missing); err != nil {
		return fmt.Errorf("updating collection %s: %w", name, err)
	}
	return nil
}

// DeleteIndex drops the collection behind the name, and the alias itself
// when the name is an alias.
func (e *Engine) DeleteIndex(ctx context.Context, idx *engine.Index) error {
	name := e.name(idx)
	target, err := e.client.GetAlias(ctx, name)
	if err != nil && !errors.Is(err, engine.ErrPermissionRestricted) {
		return err
	}
	if target != "" {
		if err := e.client.DeleteAlias(ctx, name); err != nil {
			return fmt.Errorf("deleting alias %s: %w", name, err)
		}
		name = target
	}
	err = e.client.DeleteCollection(ctx, name)
	if errors.Is(err, engine.ErrIndexNotFound) {
		return nil
	}
	return err
}

// IndexExists runs an empty search when the key is not allowed to
// retrieve the collection.
func (e *Engine) IndexExists(ctx context.Context, idx *engine.Index) (bool, error) {
	name := e.name(idx)
	exists, err := e.client.CollectionExists(ctx, name)
	if err == nil || !errors.Is(err, engine.ErrPermissionRestricted) {
		return exists, err
	}

	e.logger.Debug("collection existence check restricted, probing with search", loglib.Fields{loglib.IndexField: name})
	raw, err := e.client.MultiSearch(ctx, []map[string]any{{"collection": name, "q": wildcardQuery, "per_page": 0}})
	if err == nil {
		_, err = searchResponses(raw, 1)
	}
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, engine.ErrIndexNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (e *Engine) IndexDocument(ctx context.Context, idx *engine.Index, id string, doc engine.Document) error {
	withID := doc.Clone()
	if withID == nil {
		withID = engine.Document{}
	}
	withID[engine.ObjectIDField] = id
	return e.IndexDocuments(ctx, idx, []engine.Document{withID})
}

// IndexDocuments upserts the documents with a single import. Failed import
// lines are reported per document.
func (e *Engine) IndexDocuments(ctx context.Context, idx *engine.Index, docs []engine.Document) error {
	name := e.name(idx)
	failures := []engine.DocumentFailure{}
	batch := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		prepared, err := e.prepareDocument(idx, doc)
		if err != nil {
			id, _ := engine.CoerceID(doc[engine.ObjectIDField])
			failures = append(failures, engine.DocumentFailure{ObjectID: id, Status: http.StatusBadRequest, Reason: err.Error()})
			continue
		}
		batch = append(batch, prepared)
	}

	if len(batch) > 0 {
		raw, err := e.client.ImportDocuments(ctx, name, batch)
		if err != nil {
			return fmt.Errorf("importing documents into %s: %w", name, err)
		}
		results, err := parseImportResults(raw, len(batch))
		if err != nil {
			return fmt.Errorf("importing documents into %s: %w", name, err)
		}
		for i, r := range results {
			if r.Success {
				continue
			}
			status := r.Code
			if status == 0 {
				status = http.StatusBadRequest
			}
			failures = append(failures, engine.DocumentFailure{
				ObjectID:  batch[i][idField].(string),
				Status:    status,
				Reason:    r.Error,
				Retriable: engine.IsRetriableStatus(status),
			})
		}
	}

	if len(failures) == 0 {
		return nil
	}
	e.logger.Warn(nil, "document import partially failed", loglib.Fields{
		loglib.IndexField: name,
		"failed":          len(failures),
		"total":           len(docs),
	})
	return &engine.BulkError{Index: name, Total: len(docs), Failures: failures}
}

type importResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    int    `json:"code"`
}

// parseImportResults reads one result line per imported document, in order.
func parseImportResults(raw []byte, expected int) ([]importResult, error) {
	results := make([]importResult, 0, expected)
	for _, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var r importResult
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("decoding import result: %w", err)
		}
		results = append(results, r)
	}
	if len(results) != expected {
		return nil, fmt.Errorf("import returned %d results for %d documents", len(results), expected)
	}
	return results, nil
}

// prepareDocument sets the Typesense id, writes dates as epoch seconds and
// geo points as [lat, lng] pairs.
func (e *Engine) prepareDocument(idx *engine.Index, doc engine.Document) (map[string]any, error) {
	normalised, err := engine.NormalizeDocument(idx, doc, engine.DateEpoch)
	if err != nil {
		return nil, err
	}
	normalised[idField] = normalised[engine.ObjectIDField]
	for _, fm := range idx.FieldMappings {
		if fm.IndexFieldType != engine.FieldGeoPoint {
			continue
		}
		v, found := normalised[fm.IndexFieldName]
		if !found || v == nil {
			continue
		}
		p, ok := engine.GeoPointValue(v)
		if !ok {
			return nil, engine.NewValidationError("field %q: invalid geo point", fm.IndexFieldName)
		}
		normalised[fm.IndexFieldName] = []float64{p.Lat, p.Lng}
	}
	return normalised, nil
}

func (e *Engine) DeleteDocument(ctx context.Context, idx *engine.Index, id string) error {
	return e.DeleteDocuments(ctx, idx, []string{id})
}

// DeleteDocuments deletes by id filter in batches. Ids that do not exist are
// ignored.
func (e *Engine) DeleteDocuments(ctx context.Context, idx *engine.Index, ids []string) error {
	name := e.name(idx)
	for batch := range slices.Chunk(ids, deleteBatch) {
		if _, err := e.client.DeleteByFilter(ctx, name, idFilter(batch)); err != nil {
			return fmt.Errorf("deleting documents from %s: %w", name, err)
		}
	}
	return nil
}

func idFilter(ids []string) string {
	quoted := make([]string, 0, len(ids))
	for _, id := range ids {
		quoted = append(quoted, engine.QuoteBacktick(id))
	}
	return idField + ":=[" + strings.Join(quoted, ",") + "]"
}

// FlushIndex deletes every exported id. Typesense has no delete-all that
// keeps the collection.
func (e *Engine) FlushIndex(ctx context.Context, idx *engine.Index) error {
	ids, err := e.client.ExportIDs(ctx, e.name(idx))
	if err != nil {
		return err
	}
	return e.DeleteDocuments(ctx, idx, ids)
}

func (e *Engine) GetDocument(ctx context.Context, idx *engine.Index, id string) (engine.Document, error) {
	doc, err := e.client.RetrieveDocument(ctx, e.name(idx), id)
	if err != nil || doc == nil {
		return nil, err
	}
	out := engine.Document(doc)
	delete(out, idField)
	out[engine.ObjectIDField] = id
	return out, nil
}

func (e *Engine) GetDocumentCount(ctx context.Context, idx *engine.Index) (int, error) {
	collection, err := e.client.RetrieveCollection(ctx, e.name(idx))
	if err != nil {
		return 0, err
	}
	count, _ := engine.Float(collection[numDocuments])
	return int(count), nil
}

func (e *Engine) GetAllDocumentIDs(ctx context.Context, idx *engine.Index) ([]string, error) {
	return e.client.ExportIDs(ctx, e.name(idx))
}

func (e *Engine) GetIndexSchema(ctx context.Context, idx *engine.Index) (map[string]any, error) {
	collection, err := e.client.RetrieveCollection(ctx, e.name(idx))
	if err != nil {
		return nil, err
	}
	delete(collection, numDocuments)
	delete(collection, "created_at")
	return collection, nil
}

func (e *Engine) GetSchemaFields(ctx context.Context, idx *engine.Index) ([]engine.SchemaField, error) {
	collection, err := e.client.RetrieveCollection(ctx, e.name(idx))
	if err != nil {
		return nil, err
	}
	rawFields, _ := collection["fields"].([]any)
	fields := make([]engine.SchemaField, 0, len(rawFields))
	for _, f := range rawFields {
		field, ok := f.(map[string]any)
		if !ok {
			continue
		}
		name, _ := field["name"].(string)
		if name == "" || name == autoFieldName {
			continue
		}
		fieldType, _ := field["type"].(string)
		fields = append(fields, engine.SchemaField{Name: name, Type: fieldType})
	}
	return fields, nil
}

// TestConnection requires a healthy node. Listing collections with a scoped
// key is rejected with 401, which counts as a restricted connection.
func (e *Engine) TestConnection(ctx context.Context) bool {
	if err := e.client.Health(ctx); err != nil {
		e.logger.Warn(err, "connection test failed")
		return false
	}
	err := e.client.ListCollections(ctx)
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
