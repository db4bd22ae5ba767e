// SPDX-License-Identifier: Apache-2.0

package typesense

import (
	"context"
	"fmt"
	"strings"

	"github.com/xataio/searchsync/pkg/engine"
	loglib "github.com/xataio/searchsync/pkg/log"
)

var fieldTypes = map[engine.FieldType]string{
	engine.FieldText:      "string",
	engine.FieldKeyword:   "string",
	engine.FieldFacet:     "string",
	engine.FieldInteger:   "int64",
	engine.FieldFloat:     "float",
	engine.FieldBoolean:   "bool",
	engine.FieldDate:      "int64",
	engine.FieldGeoPoint:  "geopoint",
	engine.FieldObject:    "object",
	engine.FieldEmbedding: "float[]",
}

// BuildSchema returns the collection schema. Every mapped field is optional
// and unmapped fields are stored but not indexed.
func (e *Engine) BuildSchema(idx *engine.Index) (map[string]any, error) {
	fields := []map[string]any{
		{"name": engine.ObjectIDField, "type": "string", "facet": true},
	}
	nested := false
	for _, fm := range idx.FieldMappings {
		fieldType, err := e.MapFieldType(fm.IndexFieldType)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", fm.IndexFieldName, err)
		}
		field := map[string]any{
			"name":     fm.IndexFieldName,
			"type":     fieldType,
			"optional": true,
		}
		switch fm.IndexFieldType {
		case engine.FieldKeyword, engine.FieldFacet, engine.FieldBoolean:
			field["facet"] = true
		case engine.FieldInteger, engine.FieldFloat, engine.FieldDate:
			field["facet"] = true
			field["sort"] = true
		case engine.FieldText, "":
			field["sort"] = true
		case engine.FieldObject:
			nested = true
		case engine.FieldEmbedding:
			dims, err := e.cfg.Dimensions(idx, fm)
			if err != nil {
				return nil, err
			}
			field["num_dim"] = dims
		}
		fields = append(fields, field)
	}
	fields = append(fields, map[string]any{"name": autoFieldName, "type": "auto", "optional": true, "index": false})

	schema := map[string]any{
		"name":   e.name(idx),
		"fields": fields,
	}
	if nested {
		schema["enable_nested_fields"] = true
	}
	return schema, nil
}

func (e *Engine) MapFieldType(t engine.FieldType) (string, error) {
	if t == "" {
		t = engine.FieldText
	}
	mapped, ok := fieldTypes[t]
	if !ok {
		return "", fmt.Errorf("%w: field type %q", engine.ErrUnsupported, t)
	}
	return mapped, nil
}

func (e *Engine) SupportsAtomicSwap() bool {
	return true
}

// SwapIndex points the live alias at the temporary collection. The collection
// the alias pointed to before is returned as stale. A live name still held by
// a concrete collection is dropped before the alias is created, leaving a
// short window without a live index.
func (e *Engine) SwapIndex(ctx context.Context, live, temp *engine.Index) (*engine.Index, error) {
	aliasName, tempName := e.name(live), e.name(temp)

	previous, err := e.client.GetAlias(ctx, aliasName)
	if err != nil {
		return nil, fmt.Errorf("retrieving alias %s: %w", aliasName, err)
	}
	if previous == "" {
		exists, err := e.client.CollectionExists(ctx, aliasName)
		if err != nil {
			return nil, fmt.Errorf("checking collection %s: %w", aliasName, err)
		}
		if exists {
			e.logger.Warn(nil, "replacing concrete collection with alias", loglib.Fields{loglib.IndexField: aliasName})
			if err := e.client.DeleteCollection(ctx, aliasName); err != nil {
				return nil, fmt.Errorf("deleting collection %s: %w", aliasName, err)
			}
		}
	}

	if err := e.client.UpsertAlias(ctx, aliasName, tempName); err != nil {
		return nil, fmt.Errorf("pointing alias %s to %s: %w", aliasName, tempName, err)
	}
	e.logger.Info("alias swapped", loglib.Fields{loglib.IndexField: aliasName, "target": tempName, "previous": previous})

	if previous == "" || previous == tempName {
		return nil, nil
	}
	return live.WithHandle(e.handle(previous)), nil
}

// LiveTarget returns the handle of the collection behind the live alias.
func (e *Engine) LiveTarget(ctx context.Context, live *engine.Index) (string, error) {
	target, err := e.client.GetAlias(ctx, e.name(live))
	if err != nil || target == "" {
		return "", err
	}
	return e.handle(target), nil
}

func (e *Engine) handle(name string) string {
	return strings.TrimPrefix(name, e.cfg.IndexPrefix)
}
