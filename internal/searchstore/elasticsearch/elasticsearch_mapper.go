// SPDX-License-Identifier: Apache-2.0

package elasticsearch

import (
	"github.com/xataio/searchsync/internal/searchstore"
)

type Mapper struct{}

func NewMapper() *Mapper {
	return &Mapper{}
}

func (m *Mapper) GetDefaultIndexSettings() map[string]any {
	return map[string]any{
		"number_of_shards":                 1,
		"index.mapping.total_fields.limit": 2000,
	}
}

func (m *Mapper) FieldMapping(field *searchstore.Field) (map[string]any, error) {
	if mapping, ok := searchstore.CommonFieldMapping(field); ok {
		return mapping, nil
	}
	switch field.SearchType {
	case searchstore.VectorType:
		return map[string]any{
			"type":       "dense_vector",
			"dims":       field.Metadata.VectorDimension,
			"index":      true,
			"similarity": "cosine",
		}, nil
	default:
		return nil, searchstore.ErrUnsupportedSearchFieldType
	}
}
