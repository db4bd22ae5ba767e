// SPDX-License-Identifier: Apache-2.0

package instrumentation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	pglib "github.com/xataio/searchsync/internal/postgres"
	"github.com/xataio/searchsync/pkg/otel"
)

type Querier struct {
	inner   pglib.Querier
	tracer  trace.Tracer
	meter   metric.Meter
	metrics *metrics
}

type metrics struct {
	queryLatency metric.Int64Histogram
}

const (
	queryTypeAttributeKey = "query_type"
	queryAttributeKey     = "query"
	unknownQueryType      = "unknown"
)

func NewQuerier(q pglib.Querier, instrumentation *otel.Instrumentation) (pglib.Querier, error) {
	if instrumentation == nil {
		return q, nil
	}

	querier := &Querier{
		inner:   q,
		tracer:  instrumentation.Tracer,
		meter:   instrumentation.Meter,
		metrics: &metrics{},
	}

	if err := querier.initMetrics(); err != nil {
		return nil, fmt.Errorf("initialising postgres querier metrics: %w", err)
	}

	return querier, nil
}

func (i *Querier) Query(ctx context.Context, query string, args ...any) (rows pglib.Rows, err error) {
	queryAttrs := queryAttributes(query)
	ctx, span := otel.StartSpan(ctx, i.tracer, "querier.Query", trace.WithAttributes(queryAttrs...))
	defer func() { otel.CloseSpan(span, err) }()
	defer i.recordLatency(ctx, time.Now(), queryAttrs)

	return i.inner.Query(ctx, query, args...)
}

func (i *Querier) QueryRow(ctx context.Context, dest []any, query string, args ...any) (err error) {
	queryAttrs := queryAttributes(query)
	ctx, span := otel.StartSpan(ctx, i.tracer, "querier.QueryRow", trace.WithAttributes(queryAttrs...))
	defer func() { otel.CloseSpan(span, err) }()
	defer i.recordLatency(ctx, time.Now(), queryAttrs)

	return i.inner.QueryRow(ctx, dest, query, args...)
}

func (i *Querier) Exec(ctx context.Context, query string, args ...any) (tag pglib.CommandTag, err error) {
	queryAttrs := queryAttributes(query)
	ctx, span := otel.StartSpan(ctx, i.tracer, "querier.Exec", trace.WithAttributes(queryAttrs...))
	defer func() { otel.CloseSpan(span, err) }()
	defer i.recordLatency(ctx, time.Now(), queryAttrs)

	return i.inner.Exec(ctx, query, args...)
}

func (i *Querier) Ping(ctx context.Context) error {
	return i.inner.Ping(ctx)
}

func (i *Querier) Close(ctx context.Context) error {
	return i.inner.Close(ctx)
}

func (i *Querier) recordLatency(ctx context.Context, start time.Time, attrs []attribute.KeyValue) {
	if i.meter == nil {
		return
	}
	i.metrics.queryLatency.Record(ctx, time.Since(start).Milliseconds(), metric.WithAttributes(attrs...))
}

func (i *Querier) initMetrics() error {
	if i.meter == nil {
		return nil
	}

	var err error
	i.metrics.queryLatency, err = i.meter.Int64Histogram("searchsync.postgres.querier.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Distribution of the time taken to read from the record source"))
	if err != nil {
		return err
	}

	return nil
}

func queryAttributes(query string) []attribute.KeyValue {
	qt := unknownQueryType
	if fields := strings.Fields(query); len(fields) > 0 {
		qt = strings.ToUpper(fields[0])
	}

	attrs := []attribute.KeyValue{
		attribute.String(queryTypeAttributeKey, qt),
	}
	if qt == unknownQueryType {
		return attrs
	}
	return append(attrs, attribute.String(queryAttributeKey, query))
}
