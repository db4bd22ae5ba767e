// SPDX-License-Identifier: Apache-2.0

package opensearch

import (
	"github.com/xataio/searchsync/internal/searchstore"
)

type Mapper struct{}

const openSearchDefaultEFSearch = 100

func NewMapper() *Mapper {
	return &Mapper{}
}

func (m *Mapper) GetDefaultIndexSettings() map[string]any {
	return map[string]any{
		"number_of_shards":                 1,
		"index.mapping.total_fields.limit": 2000,
		"index.knn":                        true,
		"knn.algo_param.ef_search":         openSearchDefaultEFSearch,
	}
}

func (m *Mapper) FieldMapping(field *searchstore.Field) (map[string]any, error) {
	if mapping, ok := searchstore.CommonFieldMapping(field); ok {
		return mapping, nil
	}
	switch field.SearchType {
	case searchstore.VectorType:
		return map[string]any{
			"type":      "knn_vector",
			"dimension": field.Metadata.VectorDimension,
			"method": map[string]any{
				"name":       "hnsw",
				"space_type": "cosinesimil",
				"engine":     "lucene",
			},
		}, nil
	default:
		return nil, searchstore.ErrUnsupportedSearchFieldType
	}
}
