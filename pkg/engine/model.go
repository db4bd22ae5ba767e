// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Document is a flat key/value representation of a source record. It must
// carry an objectID that identifies the record within one index.
type Document map[string]any

const (
	ObjectIDField   = "objectID"
	ScoreField      = "_score"
	HighlightsField = "_highlights"
)

// ObjectID returns the document identifier coerced to a string.
func (d Document) ObjectID() (string, error) {
	v, found := d[ObjectIDField]
	if !found || v == nil {
		return "", NewValidationError("document is missing %s", ObjectIDField)
	}
	id, ok := CoerceID(v)
	if !ok {
		return "", NewValidationError("document %s has unsupported type %T", ObjectIDField, v)
	}
	if id == "" {
		return "", NewValidationError("document %s is empty", ObjectIDField)
	}
	return id, nil
}

func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return maps.Clone(d)
}

// CoerceID converts scalar identifiers (strings, integers, json numbers) into
// their string form.
func CoerceID(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, true
	case json.Number:
		return id.String(), true
	case int:
		return strconv.Itoa(id), true
	case int32:
		return strconv.FormatInt(int64(id), 10), true
	case int64:
		return strconv.FormatInt(id, 10), true
	case uint64:
		return strconv.FormatUint(id, 10), true
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(id), 'f', -1, 32), true
	case fmt.Stringer:
		return id.String(), true
	default:
		return "", false
	}
}

// Kind identifies one of the supported search backends.
type Kind string

const (
	KindAlgolia       Kind = "algolia"
	KindMeilisearch   Kind = "meilisearch"
	KindTypesense     Kind = "typesense"
	KindElasticsearch Kind = "elasticsearch"
	KindOpenSearch    Kind = "opensearch"
)

var kinds = []Kind{KindAlgolia, KindMeilisearch, KindTypesense, KindElasticsearch, KindOpenSearch}

func Kinds() []Kind {
	return append([]Kind(nil), kinds...)
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range kinds {
		if k == known {
			return k, nil
		}
	}
	return "", NewValidationError("unsupported engine type %q", s)
}

func (k Kind) String() string {
	return string(k)
}

type Mode string

const (
	ModeSynced   Mode = "synced"
	ModeReadonly Mode = "readonly"
)

// Role is a semantic tag for a field mapping, claimed by at most one mapping
// per index.
type Role string

const (
	RoleNone    Role = ""
	RoleTitle   Role = "title"
	RoleImage   Role = "image"
	RoleSummary Role = "summary"
	RoleURL     Role = "url"
	RoleDate    Role = "date"
)

type FieldType string

const (
	FieldText      FieldType = "text"
	FieldKeyword   FieldType = "keyword"
	FieldInteger   FieldType = "integer"
	FieldFloat     FieldType = "float"
	FieldBoolean   FieldType = "boolean"
	FieldDate      FieldType = "date"
	FieldFacet     FieldType = "facet"
	FieldGeoPoint  FieldType = "geo_point"
	FieldObject    FieldType = "object"
	FieldEmbedding FieldType = "embedding"
)

var fieldTypes = map[FieldType]struct{}{
	FieldText: {}, FieldKeyword: {}, FieldInteger: {}, FieldFloat: {}, FieldBoolean: {},
	FieldDate: {}, FieldFacet: {}, FieldGeoPoint: {}, FieldObject: {}, FieldEmbedding: {},
}

func ParseFieldType(s string) (FieldType, error) {
	t := FieldType(strings.ToLower(strings.TrimSpace(s)))
	if t == "" {
		return FieldText, nil
	}
	if _, ok := fieldTypes[t]; !ok {
		return "", NewValidationError("unsupported field type %q", s)
	}
	return t, nil
}

// IsNumeric reports whether values of this type can be used for stats,
// histograms and range filters.
func (t FieldType) IsNumeric() bool {
	return t == FieldInteger || t == FieldFloat || t == FieldDate
}

type FieldMapping struct {
	SourceField    string         `mapstructure:"source_field" yaml:"source_field" json:"sourceField"`
	IndexFieldName string         `mapstructure:"index_field_name" yaml:"index_field_name" json:"indexFieldName"`
	IndexFieldType FieldType      `mapstructure:"index_field_type" yaml:"index_field_type" json:"indexFieldType"`
	Weight         int            `mapstructure:"weight" yaml:"weight" json:"weight"`
	Role           Role           `mapstructure:"role" yaml:"role" json:"role"`
	ResolverConfig map[string]any `mapstructure:"resolver_config" yaml:"resolver_config" json:"resolverConfig,omitempty"`
	// Dimensions is the vector size for embedding fields. When zero, the
	// engine's configured embedding dimensions are used.
	Dimensions int `mapstructure:"dimensions" yaml:"dimensions" json:"dimensions,omitempty"`
}

// Index is the externally owned configuration of one search index.
type Index struct {
	Handle        string         `mapstructure:"handle" yaml:"handle" json:"handle"`
	EngineType    Kind           `mapstructure:"engine_type" yaml:"engine_type" json:"engineType"`
	EngineConfig  Config         `mapstructure:"engine_config" yaml:"engine_config" json:"engineConfig"`
	FieldMappings []FieldMapping `mapstructure:"field_mappings" yaml:"field_mappings" json:"fieldMappings"`
	Mode          Mode           `mapstructure:"mode" yaml:"mode" json:"mode"`
	// SourceCriteria is handed untouched to the live document source to
	// select the records that belong in this index.
	SourceCriteria map[string]any `mapstructure:"source_criteria" yaml:"source_criteria" json:"sourceCriteria,omitempty"`
}

func (i *Index) Validate() error {
	if i == nil {
		return NewValidationError("index is nil")
	}
	if strings.TrimSpace(i.Handle) == "" {
		return NewValidationError("index handle is required")
	}
	if _, err := ParseKind(string(i.EngineType)); err != nil {
		return err
	}
	switch i.Mode {
	case "", ModeSynced, ModeReadonly:
	default:
		return NewValidationError("index %s: unsupported mode %q", i.Handle, i.Mode)
	}

	roles := map[Role]string{}
	names := map[string]struct{}{}
	for _, fm := range i.FieldMappings {
		if fm.IndexFieldName == "" {
			return NewValidationError("index %s: field mapping for %q has no index field name", i.Handle, fm.SourceField)
		}
		if _, dup := names[fm.IndexFieldName]; dup {
			return NewValidationError("index %s: duplicate index field %q", i.Handle, fm.IndexFieldName)
		}
		names[fm.IndexFieldName] = struct{}{}
		if _, err := ParseFieldType(string(fm.IndexFieldType)); err != nil {
			return fmt.Errorf("index %s: %w", i.Handle, err)
		}
		if fm.Role == RoleNone {
			continue
		}
		if other, claimed := roles[fm.Role]; claimed {
			return NewValidationError("index %s: role %q claimed by both %q and %q", i.Handle, fm.Role, other, fm.IndexFieldName)
		}
		roles[fm.Role] = fm.IndexFieldName
	}
	return nil
}

func (i *Index) IsReadonly() bool {
	return i.Mode == ModeReadonly
}

// RoleFields maps each claimed role to its index field name.
func (i *Index) RoleFields() map[Role]string {
	roles := make(map[Role]string, len(i.FieldMappings))
	for _, fm := range i.FieldMappings {
		if fm.Role != RoleNone {
			roles[fm.Role] = fm.IndexFieldName
		}
	}
	return roles
}

// FieldType returns the configured type for an index field. Unknown fields
// are reported as not found.
func (i *Index) FieldType(name string) (FieldType, bool) {
	for _, fm := range i.FieldMappings {
		if fm.IndexFieldName == name {
			if fm.IndexFieldType == "" {
				return FieldText, true
			}
			return fm.IndexFieldType, true
		}
	}
	return "", false
}

// EmbeddingField returns the index field holding vectors when exactly one
// mapping has the embedding type.
func (i *Index) EmbeddingField() (FieldMapping, bool) {
	var found []FieldMapping
	for _, fm := range i.FieldMappings {
		if fm.IndexFieldType == FieldEmbedding {
			found = append(found, fm)
		}
	}
	if len(found) != 1 {
		return FieldMapping{}, false
	}
	return found[0], true
}

// SearchableFields returns the text-like fields ordered as configured along
// with their weights (zero means default).
func (i *Index) SearchableFields() []FieldMapping {
	fields := make([]FieldMapping, 0, len(i.FieldMappings))
	for _, fm := range i.FieldMappings {
		switch fm.IndexFieldType {
		case "", FieldText, FieldKeyword, FieldFacet:
			fields = append(fields, fm)
		}
	}
	return fields
}

// WithHandle returns a copy of the index pointing at another native name, used
// for swap targets.
func (i *Index) WithHandle(handle string) *Index {
	c := *i
	c.Handle = handle
	return &c
}

// Catalog looks up index configurations by handle.
type Catalog interface {
	Index(handle string) (*Index, bool)
	Indexes() []*Index
}

// IndexSet is a static catalog keyed by handle.
type IndexSet map[string]*Index

func NewIndexSet(indexes ...*Index) (IndexSet, error) {
	set := make(IndexSet, len(indexes))
	for _, idx := range indexes {
		if err := idx.Validate(); err != nil {
			return nil, err
		}
		if _, dup := set[idx.Handle]; dup {
			return nil, NewValidationError("duplicate index handle %q", idx.Handle)
		}
		set[idx.Handle] = idx
	}
	return set, nil
}

func (s IndexSet) Index(handle string) (*Index, bool) {
	idx, found := s[handle]
	return idx, found
}

// Indexes returns the indexes ordered by handle.
func (s IndexSet) Indexes() []*Index {
	out := make([]*Index, 0, len(s))
	for _, handle := range slices.Sorted(maps.Keys(s)) {
		out = append(out, s[handle])
	}
	return out
}
