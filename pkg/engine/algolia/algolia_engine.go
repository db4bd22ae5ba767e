// SPDX-License-Identifier: Apache-2.0

package algolia

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/xataio/searchsync/pkg/engine"
	loglib "github.com/xataio/searchsync/pkg/log"
)

// Engine implements the engine contract on top of the Algolia REST API.
// Sorting is served by one virtual replica per sortable field and direction.
type Engine struct {
	logger loglib.Logger
	client *client
	cfg    *engine.ConnectionConfig
}

type Config struct {
	engine.ConnectionConfig `mapstructure:",squash"`
	ApplicationID           string        `mapstructure:"application_id"`
	TaskPollInterval        time.Duration `mapstructure:"task_poll_interval"`
}

type Option func(*Engine)

var _ engine.Engine = (*Engine)(nil)

const (
	geolocField = "_geoloc"
	browsePage  = 1000
)

// New builds an Algolia engine out of a resolved engine config. The URL
// defaults to the application write host.
func New(cfg engine.Config, opts ...Option) (*Engine, error) {
	var c Config
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	if c.ApplicationID == "" || c.APIKey == "" {
		return nil, engine.NewValidationError("algolia: application_id and api_key are required")
	}
	if c.URL == "" {
		c.URL = fmt.Sprintf("https://%s.algolia.net", c.ApplicationID)
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cl := newClient(&http.Client{Timeout: timeout}, c.URL, c.ApplicationID, c.APIKey, c.TaskPollInterval)
	return newEngine(cl, &c.ConnectionConfig, opts...), nil
}

func newEngine(cl *client, cfg *engine.ConnectionConfig, opts ...Option) *Engine {
	e := &Engine{
		logger: loglib.NewNoopLogger(),
		client: cl,
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
			loglib.EngineField: string(engine.KindAlgolia),
		})
	}
}

func (e *Engine) Kind() engine.Kind {
	return engine.KindAlgolia
}

func (e *Engine) name(idx *engine.Index) string {
	return e.cfg.IndexName(idx)
}

// CreateIndex applies the settings, which creates the index when missing,
// along with the settings of its sort replicas.
func (e *Engine) CreateIndex(ctx context.Context, idx *engine.Index) error {
	return e.UpdateIndexSettings(ctx, idx)
}

func (e *Engine) UpdateIndexSettings(ctx context.Context, idx *engine.Index) error {
	name := e.name(idx)
	schema, err := e.BuildSchema(idx)
	if err != nil {
		return err
	}
	settings, _ := schema["settings"].(map[string]any)
	if err := e.client.setSettings(ctx, name, settings); err != nil {
		return fmt.Errorf("updating settings of %s: %w", name, err)
	}
	replicas, _ := schema["replicas"].(map[string]any)
	for replica, replicaSettings := range replicas {
		if err := e.client.setSettings(ctx, replica, replicaSettings.(map[string]any)); err != nil {
			return fmt.Errorf("updating settings of replica %s: %w", replica, err)
		}
	}
	return nil
}

func (e *Engine) DeleteIndex(ctx context.Context, idx *engine.Index) error {
	name := e.name(idx)
	if err := e.detachReplicas(ctx, idx); err != nil {
		return err
	}
	err := e.client.deleteIndex(ctx, name)
	if errors.Is(err, engine.ErrIndexNotFound) {
		return nil
	}
	return err
}

// detachReplicas removes the sort replicas of an index. Replicas must be
// detached before their primary can be moved or deleted.
func (e *Engine) detachReplicas(ctx context.Context, idx *engine.Index) error {
	name := e.name(idx)
	settings, err := e.client.getSettings(ctx, name)
	switch {
	case errors.Is(err, engine.ErrIndexNotFound):
		return nil
	case err != nil:
		return err
	}
	replicas, _ := settings["replicas"].([]any)
	if len(replicas) == 0 {
		return nil
	}
	if err := e.client.setSettings(ctx, name, map[string]any{"replicas": []string{}}); err != nil {
		return fmt.Errorf("detaching replicas of %s: %w", name, err)
	}
	for _, r := range replicas {
		replica := strings.TrimSuffix(strings.TrimPrefix(fmt.Sprint(r), "virtual("), ")")
		if err := e.client.deleteIndex(ctx, replica); err != nil && !errors.Is(err, engine.ErrIndexNotFound) {
			return fmt.Errorf("deleting replica %s: %w", replica, err)
		}
	}
	return nil
}

// IndexExists runs an empty query when the key is not allowed to
// read the settings.
func (e *Engine) IndexExists(ctx context.Context, idx *engine.Index) (bool, error) {
	name := e.name(idx)
	_, err := e.client.getSettings(ctx, name)
	if err != nil && errors.Is(err, engine.ErrPermissionRestricted) {
		e.logger.Debug("settings access restricted, probing with query", loglib.Fields{loglib.IndexField: name})
		_, err = e.client.query(ctx, name, map[string]any{"query": "", "hitsPerPage": 0})
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

// IndexDocuments replaces the documents with one batch. A rejected batch
// fails every document it carried.
func (e *Engine) IndexDocuments(ctx context.Context, idx *engine.Index, docs []engine.Document) error {
	name := e.name(idx)
	failures := []engine.DocumentFailure{}
	requests := make([]map[string]any, 0, len(docs))
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		prepared, err := e.prepareDocument(idx, doc)
		if err != nil {
			id, _ := engine.CoerceID(doc[engine.ObjectIDField])
			failures = append(failures, engine.DocumentFailure{ObjectID: id, Status: http.StatusBadRequest, Reason: err.Error()})
			continue
		}
		requests = append(requests, map[string]any{"action": "updateObject", "body": prepared})
		ids = append(ids, prepared[engine.ObjectIDField].(string))
	}

	if len(requests) > 0 {
		if err := e.client.batch(ctx, name, requests); err != nil {
			batchFailures, ok := rejectedBatch(ids, err)
			if !ok {
				return fmt.Errorf("indexing documents into %s: %w", name, err)
			}
			failures = append(failures, batchFailures...)
		}
	}
	return e.bulkResult(name, len(docs), failures)
}

func (e *Engine) DeleteDocument(ctx context.Context, idx *engine.Index, id string) error {
	return e.DeleteDocuments(ctx, idx, []string{id})
}

func (e *Engine) DeleteDocuments(ctx context.Context, idx *engine.Index, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	name := e.name(idx)
	requests := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		requests = append(requests, map[string]any{"action": "deleteObject", "body": map[string]any{engine.ObjectIDField: id}})
	}
	if err := e.client.batch(ctx, name, requests); err != nil {
		failures, ok := rejectedBatch(ids, err)
		if !ok {
			return fmt.Errorf("deleting documents from %s: %w", name, err)
		}
		return e.bulkResult(name, len(ids), failures)
	}
	return nil
}

// rejectedBatch turns a batch rejected with a status into per document
// failures. Transport errors are not batch rejections.
func rejectedBatch(ids []string, err error) ([]engine.DocumentFailure, bool) {
	var statusErr *engine.StatusError
	if !errors.As(err, &statusErr) {
		return nil, false
	}
	failures := make([]engine.DocumentFailure, 0, len(ids))
	for _, id := range ids {
		failures = append(failures, engine.DocumentFailure{
			ObjectID:  id,
			Status:    statusErr.Status,
			Reason:    statusErr.Message,
			Retriable: engine.IsRetriableStatus(statusErr.Status),
		})
	}
	return failures, true
}

func (e *Engine) bulkResult(name string, total int, failures []engine.DocumentFailure) error {
	if len(failures) == 0 {
		return nil
	}
	e.logger.Warn(nil, "batch partially failed", loglib.Fields{
		loglib.IndexField: name,
		"failed":          len(failures),
		"total":           total,
	})
	return &engine.BulkError{Index: name, Total: total, Failures: failures}
}

// prepareDocument writes dates as epoch seconds and copies the first geo
// point under _geoloc.
func (e *Engine) prepareDocument(idx *engine.Index, doc engine.Document) (map[string]any, error) {
	normalised, err := engine.NormalizeDocument(idx, doc, engine.DateEpoch)
	if err != nil {
		return nil, err
	}
	for _, fm := range idx.FieldMappings {
		if fm.IndexFieldType != engine.FieldGeoPoint {
			continue
		}
		if _, set := normalised[geolocField]; set {
			break
		}
		if p, ok := engine.GeoPointValue(normalised[fm.IndexFieldName]); ok {
			normalised[geolocField] = map[string]any{"lat": p.Lat, "lng": p.Lng}
		}
	}
	return normalised, nil
}

func (e *Engine) FlushIndex(ctx context.Context, idx *engine.Index) error {
	return e.client.clear(ctx, e.name(idx))
}

func (e *Engine) GetDocument(ctx context.Context, idx *engine.Index, id string) (engine.Document, error) {
	obj, err := e.client.getObject(ctx, e.name(idx), id)
	if err != nil || obj == nil {
		return nil, err
	}
	doc := engine.Document(obj)
	doc[engine.ObjectIDField] = id
	return doc, nil
}

func (e *Engine) GetDocumentCount(ctx context.Context, idx *engine.Index) (int, error) {
	resp, err := e.client.query(ctx, e.name(idx), map[string]any{"query": "", "hitsPerPage": 0})
	if err != nil {
		return 0, err
	}
	return int(resp.Get("nbHits").Int()), nil
}

// GetAllDocumentIDs browses the index retrieving only object ids.
func (e *Engine) GetAllDocumentIDs(ctx context.Context, idx *engine.Index) ([]string, error) {
	name := e.name(idx)
	params := map[string]any{
		"attributesToRetrieve": []string{engine.ObjectIDField},
		"hitsPerPage":          browsePage,
	}
	ids := []string{}
	cursor := ""
	for {
		resp, err := e.client.browse(ctx, name, params, cursor)
		if err != nil {
			return nil, err
		}
		for _, hit := range resp.Get("hits").Array() {
			ids = append(ids, hit.Get(engine.ObjectIDField).String())
		}
		cursor = resp.Get("cursor").String()
		if cursor == "" {
			return ids, nil
		}
	}
}

func (e *Engine) GetIndexSchema(ctx context.Context, idx *engine.Index) (map[string]any, error) {
	settings, err := e.client.getSettings(ctx, e.name(idx))
	if err != nil {
		return nil, err
	}
	return map[string]any{"settings": settings}, nil
}

// GetSchemaFields lists the searchable and faceting attributes. Types come
// from the field mappings since Algolia is schemaless.
func (e *Engine) GetSchemaFields(ctx context.Context, idx *engine.Index) ([]engine.SchemaField, error) {
	settings, err := e.client.getSettings(ctx, e.name(idx))
	if err != nil {
		return nil, err
	}

	names := []string{}
	for _, key := range []string{"searchableAttributes", "attributesForFaceting"} {
		attrs, _ := settings[key].([]any)
		for _, a := range attrs {
			for _, name := range strings.Split(attributeName(fmt.Sprint(a)), ",") {
				name = strings.TrimSpace(name)
				if name != "" && !slices.Contains(names, name) {
					names = append(names, name)
				}
			}
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

// attributeName strips the modifiers Algolia wraps attribute names in.
func attributeName(attr string) string {
	for _, modifier := range []string{"unordered(", "filterOnly(", "searchable(", "afterDistinct("} {
		if strings.HasPrefix(attr, modifier) {
			return strings.TrimSuffix(strings.TrimPrefix(attr, modifier), ")")
		}
	}
	return attr
}

// TestConnection lists indexes. A key without the listIndexes ACL is a
// restricted but working connection.
func (e *Engine) TestConnection(ctx context.Context) bool {
	err := e.client.listIndexes(ctx)
	switch {
	case err == nil:
		return true
	case errors.Is(err, engine.ErrConnection):
		e.logger.Warn(err, "connection test failed")
		return false
	case errors.Is(err, engine.ErrPermissionRestricted):
		e.logger.Info("connected with restricted credentials")
		return true
	default:
		e.logger.Warn(err, "connection test failed")
		return false
	}
}
