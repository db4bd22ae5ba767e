// SPDX-License-Identifier: Apache-2.0

package algolia

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/xataio/searchsync/pkg/engine"
	loglib "github.com/xataio/searchsync/pkg/log"
)

var fieldTypes = map[engine.FieldType]string{
	engine.FieldText:     "string",
	engine.FieldKeyword:  "string",
	engine.FieldFacet:    "string",
	engine.FieldInteger:  "numeric",
	engine.FieldFloat:    "numeric",
	engine.FieldBoolean:  "boolean",
	engine.FieldDate:     "numeric",
	engine.FieldGeoPoint: geolocField,
	engine.FieldObject:   "object",
}

// BuildSchema returns the index settings and the settings of each sort
// replica keyed by replica name. Numeric and date fields get one virtual
// replica per direction. Algolia has no vector field type, so embedding
// mappings are rejected.
func (e *Engine) BuildSchema(idx *engine.Index) (map[string]any, error) {
	name := e.name(idx)

	searchable := idx.SearchableFields()
	slices.SortStableFunc(searchable, func(a, b engine.FieldMapping) int {
		return cmp.Compare(b.Weight, a.Weight)
	})
	searchableAttrs := make([]string, 0, len(searchable))
	for _, fm := range searchable {
		searchableAttrs = append(searchableAttrs, fm.IndexFieldName)
	}

	faceting := []string{"filterOnly(" + engine.ObjectIDField + ")"}
	replicaNames := []string{}
	replicas := map[string]any{}
	for _, fm := range idx.FieldMappings {
		if _, err := e.MapFieldType(fm.IndexFieldType); err != nil {
			return nil, fmt.Errorf("field %s: %w", fm.IndexFieldName, err)
		}
		switch fm.IndexFieldType {
		case engine.FieldKeyword, engine.FieldFacet, engine.FieldBoolean:
			faceting = append(faceting, fm.IndexFieldName)
		case engine.FieldInteger, engine.FieldFloat, engine.FieldDate:
			faceting = append(faceting, fm.IndexFieldName)
			for _, desc := range []bool{false, true} {
				replica := replicaName(name, fm.IndexFieldName, desc)
				replicaNames = append(replicaNames, "virtual("+replica+")")
				replicas[replica] = map[string]any{
					"customRanking": []string{direction(desc) + "(" + fm.IndexFieldName + ")"},
				}
			}
		}
	}

	settings := map[string]any{
		"searchableAttributes":  searchableAttrs,
		"attributesForFaceting": faceting,
		"replicas":              replicaNames,
		"highlightPreTag":       engine.HighlightPreTag,
		"highlightPostTag":      engine.HighlightPostTag,
	}
	return map[string]any{
		"settings": settings,
		"replicas": replicas,
	}, nil
}

func replicaName(index, field string, desc bool) string {
	return index + "_" + field + "_" + direction(desc)
}

func direction(desc bool) string {
	if desc {
		return "desc"
	}
	return "asc"
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

// SwapIndex moves the temporary index over the live one. The move consumes
// the temporary index so nothing is left stale. The temporary replicas are
// dropped first since an index with replicas cannot be moved, and the live
// replicas are restored afterwards.
func (e *Engine) SwapIndex(ctx context.Context, live, temp *engine.Index) (*engine.Index, error) {
	liveName, tempName := e.name(live), e.name(temp)
	if err := e.detachReplicas(ctx, temp); err != nil {
		return nil, err
	}
	if err := e.client.move(ctx, tempName, liveName); err != nil {
		return nil, fmt.Errorf("moving %s to %s: %w", tempName, liveName, err)
	}
	if err := e.UpdateIndexSettings(ctx, live); err != nil {
		return nil, err
	}
	e.logger.Info("index moved", loglib.Fields{loglib.IndexField: liveName, "source": tempName})
	return nil, nil
}
