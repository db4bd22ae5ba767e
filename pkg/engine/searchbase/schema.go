// SPDX-License-Identifier: Apache-2.0

package searchbase

import (
	"errors"
	"fmt"

	"github.com/xataio/searchsync/internal/searchstore"
	"github.com/xataio/searchsync/pkg/engine"
)

var fieldTypes = map[engine.FieldType]searchstore.Type{
	engine.FieldText:      searchstore.TextType,
	engine.FieldKeyword:   searchstore.KeywordType,
	engine.FieldFacet:     searchstore.KeywordType,
	engine.FieldInteger:   searchstore.IntegerType,
	engine.FieldFloat:     searchstore.FloatType,
	engine.FieldBoolean:   searchstore.BoolType,
	engine.FieldDate:      searchstore.DateType,
	engine.FieldGeoPoint:  searchstore.GeoPointType,
	engine.FieldObject:    searchstore.ObjectType,
	engine.FieldEmbedding: searchstore.VectorType,
}

// BuildSchema returns the index mappings. Embedding fields are written with
// an explicit vector dimension.
func (e *Engine) BuildSchema(idx *engine.Index) (map[string]any, error) {
	properties := map[string]any{
		engine.ObjectIDField: map[string]any{"type": "keyword"},
	}
	for _, fm := range idx.FieldMappings {
		field := &searchstore.Field{SearchType: searchType(fm.IndexFieldType)}
		if fm.IndexFieldType == engine.FieldEmbedding {
			dims, err := e.cfg.Dimensions(idx, fm)
			if err != nil {
				return nil, err
			}
			field.Metadata.VectorDimension = dims
		}

		mapping, err := e.mapper.FieldMapping(field)
		if err != nil {
			return nil, &engine.SchemaError{Index: idx.Handle, Reason: fmt.Sprintf("field %q: %v", fm.IndexFieldName, err)}
		}
		properties[fm.IndexFieldName] = mapping
	}

	return map[string]any{
		"mappings": map[string]any{
			"dynamic":    true,
			"properties": properties,
		},
	}, nil
}

func (e *Engine) MapFieldType(t engine.FieldType) (string, error) {
	if t == engine.FieldEmbedding {
		// the vector type name does not depend on the dimension
		mapping, err := e.mapper.FieldMapping(&searchstore.Field{SearchType: searchstore.VectorType})
		if err != nil {
			return "", err
		}
		return mapping["type"].(string), nil
	}

	mapping, err := e.mapper.FieldMapping(&searchstore.Field{SearchType: searchType(t)})
	if errors.Is(err, searchstore.ErrUnsupportedSearchFieldType) {
		return "", fmt.Errorf("%w: field type %q", engine.ErrUnsupported, t)
	}
	if err != nil {
		return "", err
	}
	return mapping["type"].(string), nil
}

func searchType(t engine.FieldType) searchstore.Type {
	if st, ok := fieldTypes[t]; ok {
		return st
	}
	return searchstore.TextType
}
