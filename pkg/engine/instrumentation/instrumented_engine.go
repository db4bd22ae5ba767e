// SPDX-License-Identifier: Apache-2.0

package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xataio/searchsync/pkg/engine"
	"github.com/xataio/searchsync/pkg/otel"
)

// Engine decorates an engine with a span per operation and request, latency
// and bulk failure metrics.
type Engine struct {
	inner   engine.Engine
	tracer  trace.Tracer
	meter   metric.Meter
	metrics *metrics
}

type metrics struct {
	requests     metric.Int64Counter
	latency      metric.Int64Histogram
	bulkFailures metric.Int64Counter
}

const (
	indexAttributeKey     = "index"
	engineAttributeKey    = "engine"
	operationAttributeKey = "operation"
	errorAttributeKey     = "error"
)

var (
	_ engine.Engine             = (*Engine)(nil)
	_ engine.LiveTargetResolver = (*Engine)(nil)
)

func NewEngine(inner engine.Engine, instrumentation *otel.Instrumentation) (engine.Engine, error) {
	if !instrumentation.IsEnabled() {
		return inner, nil
	}

	e := &Engine{
		inner:   inner,
		tracer:  instrumentation.Tracer,
		meter:   instrumentation.Meter,
		metrics: &metrics{},
	}
	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("initialising search engine metrics: %w", err)
	}
	return e, nil
}

func (i *Engine) Kind() engine.Kind {
	return i.inner.Kind()
}

func (i *Engine) CreateIndex(ctx context.Context, idx *engine.Index) (err error) {
	ctx, done := i.start(ctx, "CreateIndex", idx)
	defer func() { done(err) }()
	return i.inner.CreateIndex(ctx, idx)
}

func (i *Engine) UpdateIndexSettings(ctx context.Context, idx *engine.Index) (err error) {
	ctx, done := i.start(ctx, "UpdateIndexSettings", idx)
	defer func() { done(err) }()
	return i.inner.UpdateIndexSettings(ctx, idx)
}

func (i *Engine) DeleteIndex(ctx context.Context, idx *engine.Index) (err error) {
	ctx, done := i.start(ctx, "DeleteIndex", idx)
	defer func() { done(err) }()
	return i.inner.DeleteIndex(ctx, idx)
}

func (i *Engine) IndexExists(ctx context.Context, idx *engine.Index) (exists bool, err error) {
	ctx, done := i.start(ctx, "IndexExists", idx)
	defer func() { done(err) }()
	return i.inner.IndexExists(ctx, idx)
}

func (i *Engine) IndexDocument(ctx context.Context, idx *engine.Index, id string, doc engine.Document) (err error) {
	ctx, done := i.start(ctx, "IndexDocument", idx)
	defer func() { done(err) }()
	return i.inner.IndexDocument(ctx, idx, id, doc)
}

func (i *Engine) IndexDocuments(ctx context.Context, idx *engine.Index, docs []engine.Document) (err error) {
	ctx, done := i.start(ctx, "IndexDocuments", idx, attribute.Int("documents", len(docs)))
	defer func() {
		i.recordBulkFailures(ctx, idx, err)
		done(err)
	}()
	return i.inner.IndexDocuments(ctx, idx, docs)
}

func (i *Engine) DeleteDocument(ctx context.Context, idx *engine.Index, id string) (err error) {
	ctx, done := i.start(ctx, "DeleteDocument", idx)
	defer func() { done(err) }()
	return i.inner.DeleteDocument(ctx, idx, id)
}

func (i *Engine) DeleteDocuments(ctx context.Context, idx *engine.Index, ids []string) (err error) {
	ctx, done := i.start(ctx, "DeleteDocuments", idx, attribute.Int("documents", len(ids)))
	defer func() {
		i.recordBulkFailures(ctx, idx, err)
		done(err)
	}()
	return i.inner.DeleteDocuments(ctx, idx, ids)
}

func (i *Engine) FlushIndex(ctx context.Context, idx *engine.Index) (err error) {
	ctx, done := i.start(ctx, "FlushIndex", idx)
	defer func() { done(err) }()
	return i.inner.FlushIndex(ctx, idx)
}

func (i *Engine) Search(ctx context.Context, idx *engine.Index, query string, opts *engine.SearchOptions) (res *engine.SearchResult, err error) {
	ctx, done := i.start(ctx, "Search", idx)
	defer func() { done(err) }()
	return i.inner.Search(ctx, idx, query, opts)
}

func (i *Engine) MultiSearch(ctx context.Context, queries []engine.Query) (res []*engine.SearchResult, err error) {
	ctx, done := i.start(ctx, "MultiSearch", nil, attribute.Int("queries", len(queries)))
	defer func() { done(err) }()
	return i.inner.MultiSearch(ctx, queries)
}

func (i *Engine) SearchFacetValues(ctx context.Context, idx *engine.Index, req engine.FacetValuesRequest) (values map[string][]engine.FacetValue, err error) {
	ctx, done := i.start(ctx, "SearchFacetValues", idx)
	defer func() { done(err) }()
	return i.inner.SearchFacetValues(ctx, idx, req)
}

func (i *Engine) GetDocument(ctx context.Context, idx *engine.Index, id string) (doc engine.Document, err error) {
	ctx, done := i.start(ctx, "GetDocument", idx)
	defer func() { done(err) }()
	return i.inner.GetDocument(ctx, idx, id)
}

func (i *Engine) GetDocumentCount(ctx context.Context, idx *engine.Index) (count int, err error) {
	ctx, done := i.start(ctx, "GetDocumentCount", idx)
	defer func() { done(err) }()
	return i.inner.GetDocumentCount(ctx, idx)
}

func (i *Engine) GetAllDocumentIDs(ctx context.Context, idx *engine.Index) (ids []string, err error) {
	ctx, done := i.start(ctx, "GetAllDocumentIDs", idx)
	defer func() { done(err) }()
	return i.inner.GetAllDocumentIDs(ctx, idx)
}

func (i *Engine) GetIndexSchema(ctx context.Context, idx *engine.Index) (schema map[string]any, err error) {
	ctx, done := i.start(ctx, "GetIndexSchema", idx)
	defer func() { done(err) }()
	return i.inner.GetIndexSchema(ctx, idx)
}

func (i *Engine) GetSchemaFields(ctx context.Context, idx *engine.Index) (fields []engine.SchemaField, err error) {
	ctx, done := i.start(ctx, "GetSchemaFields", idx)
	defer func() { done(err) }()
	return i.inner.GetSchemaFields(ctx, idx)
}

func (i *Engine) BuildSchema(idx *engine.Index) (map[string]any, error) {
	return i.inner.BuildSchema(idx)
}

func (i *Engine) MapFieldType(t engine.FieldType) (string, error) {
	return i.inner.MapFieldType(t)
}

func (i *Engine) SupportsAtomicSwap() bool {
	return i.inner.SupportsAtomicSwap()
}

func (i *Engine) SwapIndex(ctx context.Context, live, temp *engine.Index) (stale *engine.Index, err error) {
	ctx, done := i.start(ctx, "SwapIndex", live, attribute.String("temp_index", temp.Handle))
	defer func() { done(err) }()
	return i.inner.SwapIndex(ctx, live, temp)
}

func (i *Engine) TestConnection(ctx context.Context) bool {
	ctx, done := i.start(ctx, "TestConnection", nil)
	ok := i.inner.TestConnection(ctx)
	done(nil)
	return ok
}

// LiveTarget delegates to the wrapped engine, reporting no target when it
// does not serve live names through aliases.
func (i *Engine) LiveTarget(ctx context.Context, live *engine.Index) (string, error) {
	resolver, ok := i.inner.(engine.LiveTargetResolver)
	if !ok {
		return "", nil
	}
	return resolver.LiveTarget(ctx, live)
}

// start opens the operation span and returns the function closing it and
// recording the request metrics.
func (i *Engine) start(ctx context.Context, op string, idx *engine.Index, extra ...attribute.KeyValue) (context.Context, func(error)) {
	attrs := []attribute.KeyValue{
		{Key: engineAttributeKey, Value: attribute.StringValue(string(i.inner.Kind()))},
	}
	if idx != nil {
		attrs = append(attrs, attribute.KeyValue{Key: indexAttributeKey, Value: attribute.StringValue(idx.Handle)})
	}
	ctx, span := otel.StartSpan(ctx, i.tracer, "engine."+op, trace.WithAttributes(append(attrs, extra...)...))
	startTime := time.Now()

	return ctx, func(err error) {
		otel.CloseSpan(span, err)
		if i.meter == nil {
			return
		}
		metricAttrs := append(slices.Clone(attrs),
			attribute.KeyValue{Key: operationAttributeKey, Value: attribute.StringValue(op)},
			attribute.KeyValue{Key: errorAttributeKey, Value: attribute.BoolValue(err != nil)},
		)
		i.metrics.requests.Add(ctx, 1, metric.WithAttributes(metricAttrs...))
		i.metrics.latency.Record(ctx, time.Since(startTime).Milliseconds(), metric.WithAttributes(metricAttrs...))
	}
}

func (i *Engine) recordBulkFailures(ctx context.Context, idx *engine.Index, err error) {
	var bulkErr *engine.BulkError
	if i.meter == nil || !errors.As(err, &bulkErr) {
		return
	}
	i.metrics.bulkFailures.Add(ctx, int64(len(bulkErr.Failures)), metric.WithAttributes(
		attribute.KeyValue{Key: engineAttributeKey, Value: attribute.StringValue(string(i.inner.Kind()))},
		attribute.KeyValue{Key: indexAttributeKey, Value: attribute.StringValue(idx.Handle)},
	))
}

func (i *Engine) initMetrics() error {
	if i.meter == nil {
		return nil
	}

	var err error
	i.metrics.requests, err = i.meter.Int64Counter("searchsync.engine.requests",
		metric.WithUnit("{request}"),
		metric.WithDescription("Number of search engine requests"))
	if err != nil {
		return err
	}

	i.metrics.latency, err = i.meter.Int64Histogram("searchsync.engine.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Distribution of the time taken by search engine requests"))
	if err != nil {
		return err
	}

	i.metrics.bulkFailures, err = i.meter.Int64Counter("searchsync.engine.bulk_failures",
		metric.WithUnit("{document}"),
		metric.WithDescription("Number of documents rejected within bulk requests"))
	if err != nil {
		return err
	}

	return nil
}
