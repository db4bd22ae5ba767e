// SPDX-License-Identifier: Apache-2.0

package searchstore

// Mapper translates field types into the store specific mapping definitions.
type Mapper interface {
	GetDefaultIndexSettings() map[string]any
	FieldMapping(*Field) (map[string]any, error)
}

type Field struct {
	SearchType Type
	Metadata   Metadata
}

type Metadata struct {
	VectorDimension int
}

type Type uint

const (
	TextType Type = iota
	KeywordType
	IntegerType
	FloatType
	BoolType
	DateType
	GeoPointType
	ObjectType
	VectorType
)

// KeywordSubField is the exact match sub field added to every text field.
const KeywordSubField = "keyword"

// termByteLengthLimit is Lucene's term byte-length limit divided by the
// maximum size of a UTF-8 character.
const termByteLengthLimit = 8191

// DateFormats accepted by date fields.
const DateFormats = "strict_date_optional_time||yyyy-MM-dd HH:mm:ss||epoch_second"

// CommonFieldMapping returns the mapping of the types that are identical in
// Elasticsearch and OpenSearch.
func CommonFieldMapping(field *Field) (map[string]any, bool) {
	switch field.SearchType {
	case TextType:
		return map[string]any{
			"type": "text",
			"fields": map[string]any{
				KeywordSubField: map[string]any{
					"type":         "keyword",
					"ignore_above": termByteLengthLimit,
				},
			},
		}, true
	case KeywordType:
		return map[string]any{"type": "keyword", "ignore_above": termByteLengthLimit}, true
	case IntegerType:
		return map[string]any{"type": "long"}, true
	case FloatType:
		return map[string]any{"type": "double"}, true
	case BoolType:
		return map[string]any{"type": "boolean"}, true
	case DateType:
		return map[string]any{"type": "date", "format": DateFormats}, true
	case GeoPointType:
		return map[string]any{"type": "geo_point"}, true
	case ObjectType:
		return map[string]any{"type": "object", "enabled": false}, true
	}
	return nil, false
}
