// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/xataio/searchsync/pkg/engine"
	loglib "github.com/xataio/searchsync/pkg/log"
)

// Engine keeps indexes in process memory. It applies the unified search
// semantics directly to the stored documents, which makes it the reference
// the backend adapters are compared against and the target of dry runs.
type Engine struct {
	logger loglib.Logger
	kind   engine.Kind
	cfg    engine.ConnectionConfig

	mutex   sync.RWMutex
	indexes map[string]*collection
}

type collection struct {
	schema map[string]any
	docs   map[string]engine.Document
	// seq records the first insertion order of every document, used to break
	// ranking ties deterministically.
	seq  map[string]int
	next int
}

type Option func(*Engine)

var _ engine.Engine = (*Engine)(nil)

func New(cfg engine.Config, opts ...Option) (*Engine, error) {
	conn := engine.ConnectionConfig{}
	if err := cfg.Decode(&conn); err != nil {
		return nil, err
	}
	e := &Engine{
		logger:  loglib.NewNoopLogger(),
		kind:    engine.KindElasticsearch,
		cfg:     conn,
		indexes: map[string]*collection{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func WithLogger(l loglib.Logger) Option {
	return func(e *Engine) {
		e.logger = loglib.NewLogger(l).WithFields(loglib.Fields{
			loglib.ModuleField: "search_engine",
			loglib.EngineField: "memory",
		})
	}
}

// WithKind sets the backend kind the engine stands in for.
func WithKind(k engine.Kind) Option {
	return func(e *Engine) {
		e.kind = k
	}
}

func (e *Engine) Kind() engine.Kind {
	return e.kind
}

func (e *Engine) CreateIndex(ctx context.Context, idx *engine.Index) error {
	schema, err := e.BuildSchema(idx)
	if err != nil {
		return err
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	name := e.cfg.IndexName(idx)
	if c, found := e.indexes[name]; found {
		c.schema = schema
		return nil
	}
	e.indexes[name] = newCollection(schema)
	e.logger.Debug("index created", loglib.Fields{loglib.IndexField: name})
	return nil
}

func (e *Engine) UpdateIndexSettings(ctx context.Context, idx *engine.Index) error {
	schema, err := e.BuildSchema(idx)
	if err != nil {
		return err
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	c, err := e.lookup(idx)
	if err != nil {
		return err
	}
	c.schema = schema
	return nil
}

func (e *Engine) DeleteIndex(ctx context.Context, idx *engine.Index) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	delete(e.indexes, e.cfg.IndexName(idx))
	return nil
}

func (e *Engine) IndexExists(ctx context.Context, idx *engine.Index) (bool, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	_, found := e.indexes[e.cfg.IndexName(idx)]
	return found, nil
}

func (e *Engine) IndexDocument(ctx context.Context, idx *engine.Index, id string, doc engine.Document) error {
	doc = doc.Clone()
	if doc == nil {
		doc = engine.Document{}
	}
	doc[engine.ObjectIDField] = id
	return e.IndexDocuments(ctx, idx, []engine.Document{doc})
}

// IndexDocuments upserts the documents by objectID. Missing indexes are
// created on the fly, as most backends do on first write.
func (e *Engine) IndexDocuments(ctx context.Context, idx *engine.Index, docs []engine.Document) error {
	prepared := make([]engine.Document, 0, len(docs))
	for _, doc := range docs {
		d, err := engine.NormalizeDocument(idx, doc, engine.DateEpoch)
		if err != nil {
			return err
		}
		prepared = append(prepared, d)
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	name := e.cfg.IndexName(idx)
	c, found := e.indexes[name]
	if !found {
		c = newCollection(map[string]any{"name": name})
		e.indexes[name] = c
	}
	for _, doc := range prepared {
		c.put(doc)
	}
	return nil
}

func (e *Engine) DeleteDocument(ctx context.Context, idx *engine.Index, id string) error {
	return e.DeleteDocuments(ctx, idx, []string{id})
}

func (e *Engine) DeleteDocuments(ctx context.Context, idx *engine.Index, ids []string) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	c, found := e.indexes[e.cfg.IndexName(idx)]
	if !found {
		return nil
	}
	for _, id := range ids {
		delete(c.docs, id)
		delete(c.seq, id)
	}
	return nil
}

func (e *Engine) FlushIndex(ctx context.Context, idx *engine.Index) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	c, err := e.lookup(idx)
	if err != nil {
		return err
	}
	c.docs = map[string]engine.Document{}
	c.seq = map[string]int{}
	return nil
}

func (e *Engine) GetDocument(ctx context.Context, idx *engine.Index, id string) (engine.Document, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	c, err := e.lookup(idx)
	if err != nil {
		return nil, err
	}
	doc, found := c.docs[id]
	if !found {
		return nil, nil
	}
	return doc.Clone(), nil
}

func (e *Engine) GetDocumentCount(ctx context.Context, idx *engine.Index) (int, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	c, err := e.lookup(idx)
	if err != nil {
		return 0, err
	}
	return len(c.docs), nil
}

func (e *Engine) GetAllDocumentIDs(ctx context.Context, idx *engine.Index) ([]string, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	c, err := e.lookup(idx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(c.docs))
	for id := range c.docs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (e *Engine) GetIndexSchema(ctx context.Context, idx *engine.Index) (map[string]any, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	c, err := e.lookup(idx)
	if err != nil {
		return nil, err
	}
	return c.schema, nil
}

func (e *Engine) GetSchemaFields(ctx context.Context, idx *engine.Index) ([]engine.SchemaField, error) {
	schema, err := e.GetIndexSchema(ctx, idx)
	if err != nil {
		return nil, err
	}
	fields, _ := schema["fields"].([]engine.SchemaField)
	return slices.Clone(fields), nil
}

// BuildSchema lists the mapped fields with their unified type names.
func (e *Engine) BuildSchema(idx *engine.Index) (map[string]any, error) {
	fields := make([]engine.SchemaField, 0, len(idx.FieldMappings))
	for _, fm := range idx.FieldMappings {
		t, err := e.MapFieldType(fm.IndexFieldType)
		if err != nil {
			return nil, err
		}
		if fm.IndexFieldType == engine.FieldEmbedding {
			dims, err := e.cfg.Dimensions(idx, fm)
			if err != nil {
				return nil, err
			}
			t = fmt.Sprintf("%s(%d)", t, dims)
		}
		fields = append(fields, engine.SchemaField{Name: fm.IndexFieldName, Type: t})
	}
	return map[string]any{
		"name":   e.cfg.IndexName(idx),
		"fields": fields,
	}, nil
}

func (e *Engine) MapFieldType(t engine.FieldType) (string, error) {
	if t == "" {
		return string(engine.FieldText), nil
	}
	if _, err := engine.ParseFieldType(string(t)); err != nil {
		return "", err
	}
	return string(t), nil
}

func (e *Engine) SupportsAtomicSwap() bool {
	return true
}

// SwapIndex moves the temporary index over the live one. Nothing is left
// behind to clean up.
func (e *Engine) SwapIndex(ctx context.Context, live, temp *engine.Index) (*engine.Index, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	tempName := e.cfg.IndexName(temp)
	c, found := e.indexes[tempName]
	if !found {
		return nil, fmt.Errorf("%w: %s", engine.ErrIndexNotFound, tempName)
	}
	e.indexes[e.cfg.IndexName(live)] = c
	delete(e.indexes, tempName)
	return nil, nil
}

func (e *Engine) TestConnection(ctx context.Context) bool {
	return true
}

// IndexNames returns the native names of the existing indexes.
func (e *Engine) IndexNames() []string {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	names := make([]string, 0, len(e.indexes))
	for name := range e.indexes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (e *Engine) lookup(idx *engine.Index) (*collection, error) {
	name := e.cfg.IndexName(idx)
	c, found := e.indexes[name]
	if !found {
		return nil, fmt.Errorf("%w: %s", engine.ErrIndexNotFound, name)
	}
	return c, nil
}

func newCollection(schema map[string]any) *collection {
	return &collection{
		schema: schema,
		docs:   map[string]engine.Document{},
		seq:    map[string]int{},
	}
}

func (c *collection) put(doc engine.Document) {
	id := doc[engine.ObjectIDField].(string)
	if _, found := c.seq[id]; !found {
		c.seq[id] = c.next
		c.next++
	}
	c.docs[id] = doc
}
