// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/xataio/searchsync/internal/json"
	synclib "github.com/xataio/searchsync/internal/sync"
	"github.com/xataio/searchsync/pkg/engine"
	loglib "github.com/xataio/searchsync/pkg/log"
	"github.com/xataio/searchsync/pkg/orchestrator"
)

// Resolver turns Postgres records into documents following the field
// mappings of the index.
type Resolver struct {
	logger  loglib.Logger
	indexes *synclib.Map[string, *indexResolver]
}

type indexResolver struct {
	idColumn string
	fields   []fieldResolver
}

type fieldResolver struct {
	mapping  engine.FieldMapping
	resolver FieldResolver
}

type ResolverOption func(*Resolver)

var _ orchestrator.Resolver = (*Resolver)(nil)

func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		logger:  loglib.NewNoopLogger(),
		indexes: synclib.NewMap[string, *indexResolver](),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func WithResolverLogger(l loglib.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = loglib.NewModuleLogger(l, "postgres_resolver")
	}
}

// Resolve builds the document of the record. The objectID is the id column
// of the index source. Indexes without field mappings get every column.
func (r *Resolver) Resolve(_ context.Context, record orchestrator.Record, idx *engine.Index) (engine.Document, error) {
	ir, err := r.indexes.GetOrCreate(idx.Handle, func() (*indexResolver, error) {
		return newIndexResolver(idx)
	})
	if err != nil {
		return nil, err
	}

	doc := engine.Document{
		engine.ObjectIDField: normalizeValue(record[ir.idColumn]),
	}
	id, err := doc.ObjectID()
	if err != nil {
		return nil, fmt.Errorf("index %s: column %s: %w", idx.Handle, ir.idColumn, err)
	}
	doc[engine.ObjectIDField] = id

	if len(ir.fields) == 0 {
		for column, value := range record {
			if column != ir.idColumn {
				doc[column] = normalizeValue(value)
			}
		}
		return doc, nil
	}

	for _, f := range ir.fields {
		source := f.mapping.SourceField
		if source == "" {
			source = f.mapping.IndexFieldName
		}
		value, err := f.resolver.Resolve(record[source], record)
		if err != nil {
			return nil, fmt.Errorf("index %s: record %s: field %s: %w", idx.Handle, id, f.mapping.IndexFieldName, err)
		}
		value = normalizeValue(value)
		if f.mapping.IndexFieldType == engine.FieldEmbedding {
			if value, err = parseEmbedding(value); err != nil {
				return nil, fmt.Errorf("index %s: record %s: field %s: %w", idx.Handle, id, f.mapping.IndexFieldName, err)
			}
		}
		doc[f.mapping.IndexFieldName] = value
	}
	return doc, nil
}

// Forget drops the cached field resolvers of the index, so that the next
// record picks up its current field mappings.
func (r *Resolver) Forget(handle string) {
	r.indexes.Delete(handle)
}

func newIndexResolver(idx *engine.Index) (*indexResolver, error) {
	criteria, err := parseCriteria(orchestrator.Criteria(idx.SourceCriteria))
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", idx.Handle, err)
	}

	ir := &indexResolver{
		idColumn: criteria.IDColumn,
		fields:   make([]fieldResolver, 0, len(idx.FieldMappings)),
	}
	for _, fm := range idx.FieldMappings {
		resolver, err := NewFieldResolver(fm)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", idx.Handle, err)
		}
		ir.fields = append(ir.fields, fieldResolver{mapping: fm, resolver: resolver})
	}
	return ir, nil
}

// normalizeValue converts the pgx representation of Postgres values into
// plain values the engines can serialise.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	case []byte:
		return string(val)
	case [16]byte:
		return uuid.UUID(val).String()
	case pgtype.UUID:
		if !val.Valid {
			return nil
		}
		return uuid.UUID(val.Bytes).String()
	case pgtype.Numeric:
		return numericValue(val)
	case time.Time:
		return val.UTC()
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}

func numericValue(n pgtype.Numeric) any {
	if !n.Valid || n.NaN {
		return nil
	}
	if n.Exp >= 0 {
		if i, err := n.Int64Value(); err == nil && i.Valid {
			return i.Int64
		}
	}
	f, err := n.Float64Value()
	if err != nil || !f.Valid || math.IsInf(f.Float64, 0) {
		return nil
	}
	return f.Float64
}

// parseEmbedding accepts the pgvector text form as well as arrays.
func parseEmbedding(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		vector := []float64{}
		if err := json.Unmarshal([]byte(val), &vector); err != nil {
			return nil, fmt.Errorf("%w: embedding is not a vector: %w", ErrUnsupportedValueType, err)
		}
		return vector, nil
	case []float32:
		vector := make([]float64, len(val))
		for i, f := range val {
			vector[i] = float64(f)
		}
		return vector, nil
	default:
		return v, nil
	}
}
