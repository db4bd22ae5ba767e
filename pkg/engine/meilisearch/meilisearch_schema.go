// SPDX-License-Identifier: Apache-2.0

package meilisearch

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/xataio/searchsync/pkg/engine"
	loglib "github.com/xataio/searchsync/pkg/log"
)

var fieldTypes = map[engine.FieldType]string{
	engine.FieldText:      "string",
	engine.FieldKeyword:   "string",
	engine.FieldFacet:     "string",
	engine.FieldInteger:   "number",
	engine.FieldFloat:     "number",
	engine.FieldBoolean:   "boolean",
	engine.FieldDate:      "number",
	engine.FieldGeoPoint:  geoField,
	engine.FieldObject:    "object",
	engine.FieldEmbedding: "vector",
}

// BuildSchema returns the primary key and the index settings. Searchable
// attributes are ordered by weight since Meilisearch ranks on attribute
// order.
func (e *Engine) BuildSchema(idx *engine.Index) (map[string]any, error) {
	searchable := idx.SearchableFields()
	slices.SortStableFunc(searchable, func(a, b engine.FieldMapping) int {
		return cmp.Compare(b.Weight, a.Weight)
	})
	searchableAttrs := make([]string, 0, len(searchable))
	for _, fm := range searchable {
		searchableAttrs = append(searchableAttrs, fm.IndexFieldName)
	}
	if len(searchableAttrs) == 0 {
		searchableAttrs = append(searchableAttrs, "*")
	}

	filterable := []string{engine.ObjectIDField}
	sortable := []string{}
	embedders := map[string]any{}
	for _, fm := range idx.FieldMappings {
		switch fm.IndexFieldType {
		case engine.FieldKeyword, engine.FieldFacet, engine.FieldBoolean:
			filterable = append(filterable, fm.IndexFieldName)
		case engine.FieldInteger, engine.FieldFloat, engine.FieldDate:
			filterable = append(filterable, fm.IndexFieldName)
			sortable = append(sortable, fm.IndexFieldName)
		case engine.FieldGeoPoint:
			if !slices.Contains(filterable, geoField) {
				filterable = append(filterable, geoField)
				sortable = append(sortable, geoField)
			}
		case engine.FieldEmbedding:
			dims, err := e.cfg.Dimensions(idx, fm)
			if err != nil {
				return nil, err
			}
			embedders[fm.IndexFieldName] = map[string]any{
				"source":     userProvidedSrc,
				"dimensions": dims,
			}
		case engine.FieldText, "":
			sortable = append(sortable, fm.IndexFieldName)
		}
	}

	settings := map[string]any{
		"searchableAttributes": searchableAttrs,
		"filterableAttributes": filterable,
		"sortableAttributes":   sortable,
	}
	if len(embedders) > 0 {
		settings["embedders"] = embedders
	}
	return map[string]any{
		"primaryKey": engine.ObjectIDField,
		"settings":   settings,
	}, nil
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

// SwapIndex exchanges the documents and settings of the live and temporary
// indexes. The temporary index holds the previous content afterwards and is
// returned as stale.
func (e *Engine) SwapIndex(ctx context.Context, live, temp *engine.Index) (*engine.Index, error) {
	liveUID, tempUID := e.uid(live), e.uid(temp)

	exists, err := e.client.IndexExists(ctx, liveUID)
	if err != nil {
		return nil, fmt.Errorf("checking index %s: %w", liveUID, err)
	}
	if !exists {
		// both indexes must exist to be swapped
		if err := e.client.CreateIndex(ctx, liveUID, engine.ObjectIDField); err != nil {
			return nil, fmt.Errorf("creating index %s: %w", liveUID, err)
		}
	}

	if err := e.client.SwapIndexes(ctx, liveUID, tempUID); err != nil {
		return nil, fmt.Errorf("swapping %s and %s: %w", liveUID, tempUID, err)
	}
	e.logger.Info("index swapped", loglib.Fields{loglib.IndexField: liveUID, "target": tempUID})
	return temp, nil
}
