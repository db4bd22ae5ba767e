// SPDX-License-Identifier: Apache-2.0

package meilisearch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"time"

	"github.com/tidwall/gjson"

	"github.com/xataio/searchsync/pkg/engine"
	loglib "github.com/xataio/searchsync/pkg/log"
)

// Engine implements the engine contract on top of Meilisearch. Every write
// waits for its asynchronous task to complete.
type Engine struct {
	logger loglib.Logger
	client Client
	cfg    *engine.ConnectionConfig
}

type Config struct {
	engine.ConnectionConfig `mapstructure:",squash"`
	TaskPollInterval        time.Duration `mapstructure:"task_poll_interval"`
}

type Option func(*Engine)

var _ engine.Engine = (*Engine)(nil)

const (
	vectorsField    = "_vectors"
	geoField        = "_geo"
	documentsPage   = 1000
	semanticOnly    = 1.0
	semanticHybrid  = 0.5
	userProvidedSrc = "userProvided"
)

// primary keys are limited to alphanumeric characters, hyphens and
// underscores, up to 511 bytes
var documentIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,511}$`)

// New builds a Meilisearch engine out of a resolved engine config.
func New(cfg engine.Config, opts ...Option) (*Engine, error) {
	var c Config
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	if c.URL == "" {
		return nil, engine.NewValidationError("meilisearch: url is required")
	}
	client := NewClient(&ClientConfig{
		URL:          c.URL,
		APIKey:       c.APIKey,
		Timeout:      c.Timeout,
		PollInterval: c.TaskPollInterval,
	})
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
			loglib.EngineField: string(engine.KindMeilisearch),
		})
	}
}

func (e *Engine) Kind() engine.Kind {
	return engine.KindMeilisearch
}

func (e *Engine) uid(idx *engine.Index) string {
	return e.cfg.IndexName(idx)
}

func (e *Engine) CreateIndex(ctx context.Context, idx *engine.Index) error {
	uid := e.uid(idx)
	exists, err := e.client.IndexExists(ctx, uid)
	if err != nil {
		return fmt.Errorf("checking index %s: %w", uid, err)
	}
	if !exists {
		if err := e.client.CreateIndex(ctx, uid, engine.ObjectIDField); err != nil {
			return fmt.Errorf("creating index %s: %w", uid, err)
		}
	}
	return e.UpdateIndexSettings(ctx, idx)
}

func (e *Engine) UpdateIndexSettings(ctx context.Context, idx *engine.Index) error {
	schema, err := e.BuildSchema(idx)
	if err != nil {
		return err
	}
	settings, _ := schema["settings"].(map[string]any)
	if err := e.client.UpdateSettings(ctx, e.uid(idx), settings); err != nil {
		return fmt.Errorf("updating settings of %s: %w", e.uid(idx), err)
	}
	return nil
}

func (e *Engine) DeleteIndex(ctx context.Context, idx *engine.Index) error {
	err := e.client.DeleteIndex(ctx, e.uid(idx))
	if errors.Is(err, engine.ErrIndexNotFound) {
		return nil
	}
	return err
}

// IndexExists runs an empty search when the key is not allowed to
// read the index metadata.
func (e *Engine) IndexExists(ctx context.Context, idx *engine.Index) (bool, error) {
	uid := e.uid(idx)
	exists, err := e.client.IndexExists(ctx, uid)
	if err == nil || !errors.Is(err, engine.ErrPermissionRestricted) {
		return exists, err
	}

	e.logger.Debug("index existence check restricted, probing with search", loglib.Fields{loglib.IndexField: uid})
	_, err = e.client.Search(ctx, uid, map[string]any{"q": "", "limit": 0})
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
	prepared, err := e.prepareDocument(idx, withID)
	if err != nil {
		return err
	}
	return e.client.AddDocuments(ctx, e.uid(idx), engine.ObjectIDField, []map[string]any{prepared})
}

// IndexDocuments adds all the valid documents in a single task. A failed task
// fails every document it carried.
func (e *Engine) IndexDocuments(ctx context.Context, idx *engine.Index, docs []engine.Document) error {
	uid := e.uid(idx)
	failures := []engine.DocumentFailure{}
	batch := make([]map[string]any, 0, len(docs))
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		prepared, err := e.prepareDocument(idx, doc)
		if err != nil {
			id, _ := engine.CoerceID(doc[engine.ObjectIDField])
			failures = append(failures, engine.DocumentFailure{ObjectID: id, Status: http.StatusBadRequest, Reason: err.Error()})
			continue
		}
		batch = append(batch, prepared)
		ids = append(ids, prepared[engine.ObjectIDField].(string))
	}

	if len(batch) > 0 {
		err := e.client.AddDocuments(ctx, uid, engine.ObjectIDField, batch)
		var taskErr *TaskError
		switch {
		case errors.As(err, &taskErr):
			failures = append(failures, taskFailures(ids, taskErr)...)
		case err != nil:
			return fmt.Errorf("adding documents to %s: %w", uid, err)
		}
	}
	return e.bulkResult(uid, len(docs), failures)
}

func (e *Engine) DeleteDocument(ctx context.Context, idx *engine.Index, id string) error {
	return e.DeleteDocuments(ctx, idx, []string{id})
}

func (e *Engine) DeleteDocuments(ctx context.Context, idx *engine.Index, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	uid := e.uid(idx)
	err := e.client.DeleteDocuments(ctx, uid, ids)
	var taskErr *TaskError
	if errors.As(err, &taskErr) {
		return e.bulkResult(uid, len(ids), taskFailures(ids, taskErr))
	}
	return err
}

func (e *Engine) bulkResult(uid string, total int, failures []engine.DocumentFailure) error {
	if len(failures) == 0 {
		return nil
	}
	e.logger.Warn(nil, "document task partially failed", loglib.Fields{
		loglib.IndexField: uid,
		"failed":          len(failures),
		"total":           total,
	})
	return &engine.BulkError{Index: uid, Total: total, Failures: failures}
}

func taskFailures(ids []string, taskErr *TaskError) []engine.DocumentFailure {
	status, retriable := http.StatusBadRequest, false
	if taskErr.Code == internalErrorCode {
		status, retriable = http.StatusInternalServerError, true
	}
	failures := make([]engine.DocumentFailure, 0, len(ids))
	for _, id := range ids {
		failures = append(failures, engine.DocumentFailure{
			ObjectID:  id,
			Status:    status,
			Reason:    taskErr.Code + ": " + taskErr.Message,
			Retriable: retriable,
		})
	}
	return failures
}

// prepareDocument writes dates as epoch seconds, moves embeddings under
// _vectors and the first geo point under _geo.
func (e *Engine) prepareDocument(idx *engine.Index, doc engine.Document) (map[string]any, error) {
	normalised, err := engine.NormalizeDocument(idx, doc, engine.DateEpoch)
	if err != nil {
		return nil, err
	}
	id := normalised[engine.ObjectIDField].(string)
	if !documentIDRegex.MatchString(id) {
		return nil, engine.NewValidationError("document id %q must be alphanumeric, hyphens or underscores, up to 511 bytes", id)
	}

	vectors := map[string]any{}
	for _, fm := range idx.FieldMappings {
		v, found := normalised[fm.IndexFieldName]
		if !found || v == nil {
			continue
		}
		switch fm.IndexFieldType {
		case engine.FieldEmbedding:
			vectors[fm.IndexFieldName] = v
			delete(normalised, fm.IndexFieldName)
		case engine.FieldGeoPoint:
			if _, set := normalised[geoField]; set {
				continue
			}
			if p, ok := engine.GeoPointValue(v); ok {
				normalised[geoField] = map[string]any{"lat": p.Lat, "lng": p.Lng}
			}
		}
	}
	if len(vectors) > 0 {
		normalised[vectorsField] = vectors
	}
	return normalised, nil
}

func (e *Engine) FlushIndex(ctx context.Context, idx *engine.Index) error {
	return e.client.DeleteAllDocuments(ctx, e.uid(idx))
}

func (e *Engine) GetDocument(ctx context.Context, idx *engine.Index, id string) (engine.Document, error) {
	doc, err := e.client.GetDocument(ctx, e.uid(idx), id)
	if err != nil || doc == nil {
		return nil, err
	}
	delete(doc, vectorsField)
	out := engine.Document(doc)
	out[engine.ObjectIDField] = id
	return out, nil
}

func (e *Engine) GetDocumentCount(ctx context.Context, idx *engine.Index) (int, error) {
	return e.client.DocumentCount(ctx, e.uid(idx))
}

// GetAllDocumentIDs pages through the documents retrieving only the primary
// key.
func (e *Engine) GetAllDocumentIDs(ctx context.Context, idx *engine.Index) ([]string, error) {
	uid := e.uid(idx)
	ids := []string{}
	for offset := 0; ; offset += documentsPage {
		raw, err := e.client.GetDocuments(ctx, uid, offset, documentsPage, []string{engine.ObjectIDField})
		if err != nil {
			return nil, err
		}
		results := gjson.GetBytes(raw, "results")
		results.ForEach(func(_, doc gjson.Result) bool {
			ids = append(ids, doc.Get(engine.ObjectIDField).String())
			return true
		})
		if len(results.Array()) < documentsPage {
			return ids, nil
		}
	}
}

func (e *Engine) GetIndexSchema(ctx context.Context, idx *engine.Index) (map[string]any, error) {
	settings, err := e.client.GetSettings(ctx, e.uid(idx))
	if err != nil {
		return nil, err
	}
	return map[string]any{"primaryKey": engine.ObjectIDField, "settings": settings}, nil
}

// GetSchemaFields lists the attributes named in the index settings. Their
// types come from the field mappings since Meilisearch is schemaless.
func (e *Engine) GetSchemaFields(ctx context.Context, idx *engine.Index) ([]engine.SchemaField, error) {
	settings, err := e.client.GetSettings(ctx, e.uid(idx))
	if err != nil {
		return nil, err
	}

	names := []string{}
	for _, key := range []string{"searchableAttributes", "filterableAttributes", "sortableAttributes"} {
		attrs, _ := settings[key].([]any)
		for _, a := range attrs {
			if name, ok := a.(string); ok && name != "*" && !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}
	embedders, _ := settings["embedders"].(map[string]any)
	for name := range embedders {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	fields := make([]engine.SchemaField, 0, len(names))
	for _, name := range names {
		fieldType := "string"
		if t, ok := idx.FieldType(name); ok {
			if mapped, err := e.MapFieldType(t); err == nil {
				fieldType = mapped
			}
		}
		fields = append(fields, engine.SchemaField{Name: name, Type: fieldType})
	}
	return fields, nil
}

// TestConnection requires a healthy instance. A key that cannot read the
// version is a restricted but working connection.
func (e *Engine) TestConnection(ctx context.Context) bool {
	if err := e.client.Health(ctx); err != nil {
		e.logger.Warn(err, "connection test failed")
		return false
	}
	err := e.client.Version(ctx)
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
