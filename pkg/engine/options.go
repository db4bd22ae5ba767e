// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	jsonlib "github.com/xataio/searchsync/internal/json"
)

const (
	DefaultPerPage           = 20
	MaxPerPage               = 250
	DefaultMaxValuesPerFacet = 100
)

// Unified option keys. Any other key found in a raw option map is treated as
// backend native and takes precedence over its unified equivalent.
const (
	OptPage              = "page"
	OptPerPage           = "perPage"
	OptSort              = "sort"
	OptFacets            = "facets"
	OptMaxValuesPerFacet = "maxValuesPerFacet"
	OptFilters           = "filters"
	OptFields            = "fields"
	OptHighlight         = "highlight"
	OptSuggest           = "suggest"
	OptStats             = "stats"
	OptHistogram         = "histogram"
	OptGeoFilter         = "geoFilter"
	OptGeoSort           = "geoSort"
	OptGeoGrid           = "geoGrid"
	OptEmbedding         = "embedding"
	OptEmbeddingField    = "embeddingField"
	OptRetrieve          = "retrieve"
)

var unifiedKeys = map[string]struct{}{
	OptPage: {}, OptPerPage: {}, OptSort: {}, OptFacets: {}, OptMaxValuesPerFacet: {},
	OptFilters: {}, OptFields: {}, OptHighlight: {}, OptSuggest: {}, OptStats: {},
	OptHistogram: {}, OptGeoFilter: {}, OptGeoSort: {}, OptGeoGrid: {}, OptEmbedding: {},
	OptEmbeddingField: {}, OptRetrieve: {},
}

type SortField struct {
	Field string
	Desc  bool
}

// Range bounds are inclusive. A nil bound is open.
type Range struct {
	Min any
	Max any
}

// Filter restricts one field. Values are ORed together; filters on different
// fields are ANDed.
type Filter struct {
	Field  string
	Values []any
	Range  *Range
}

type Histogram struct {
	Field    string
	Interval float64
}

type GeoPoint struct {
	Lat float64
	Lng float64
}

type GeoFilter struct {
	Field        string
	Point        GeoPoint
	RadiusMeters float64
}

type GeoSort struct {
	Field string
	Point GeoPoint
	Desc  bool
}

type GeoGrid struct {
	Field     string
	Precision int
}

// SearchOptions is the unified search request.
type SearchOptions struct {
	Page              int
	PerPage           int
	Sort              []SortField
	Facets            []string
	MaxValuesPerFacet int
	Filters           []Filter
	Fields            []string
	Highlight         bool
	Suggest           bool
	Stats             []string
	Histograms        []Histogram
	GeoFilter         *GeoFilter
	GeoSort           *GeoSort
	GeoGrid           *GeoGrid
	Embedding         []float32
	EmbeddingField    string
	Retrieve          []string
	// Native holds the backend native keys of the raw option map.
	Native map[string]any
}

func NewSearchOptions() *SearchOptions {
	return &SearchOptions{
		Page:              1,
		PerPage:           DefaultPerPage,
		MaxValuesPerFacet: DefaultMaxValuesPerFacet,
		Native:            map[string]any{},
	}
}

// ParseOptions builds the unified options out of a raw option map. Malformed
// JSON in sort, filters or histogram is reported as a ValidationError.
func ParseOptions(raw map[string]any) (*SearchOptions, error) {
	opts := NewSearchOptions()
	var err error
	for key, value := range raw {
		if _, unified := unifiedKeys[key]; !unified {
			opts.Native[key] = value
			continue
		}
		if value == nil {
			continue
		}

		switch key {
		case OptPage:
			opts.Page, err = intValue(key, value)
		case OptPerPage:
			opts.PerPage, err = intValue(key, value)
		case OptMaxValuesPerFacet:
			opts.MaxValuesPerFacet, err = intValue(key, value)
		case OptSort:
			opts.Sort, err = parseSort(value)
		case OptFacets:
			opts.Facets, err = stringList(key, value)
		case OptFields:
			opts.Fields, err = stringList(key, value)
		case OptStats:
			opts.Stats, err = stringList(key, value)
		case OptRetrieve:
			opts.Retrieve, err = stringList(key, value)
		case OptHighlight:
			opts.Highlight, err = boolValue(key, value)
		case OptSuggest:
			opts.Suggest, err = boolValue(key, value)
		case OptFilters:
			opts.Filters, err = parseFilters(value)
		case OptHistogram:
			opts.Histograms, err = parseHistograms(value)
		case OptGeoFilter:
			opts.GeoFilter, err = parseGeoFilter(value)
		case OptGeoSort:
			opts.GeoSort, err = parseGeoSort(value)
		case OptGeoGrid:
			opts.GeoGrid, err = parseGeoGrid(value)
		case OptEmbedding:
			opts.Embedding, err = floatList(value)
		case OptEmbeddingField:
			opts.EmbeddingField, err = stringValue(key, value)
		}
		if err != nil {
			return nil, err
		}
	}
	opts.normalise()
	return opts, nil
}

func (o *SearchOptions) normalise() {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PerPage < 1 {
		o.PerPage = DefaultPerPage
	}
	if o.PerPage > MaxPerPage {
		o.PerPage = MaxPerPage
	}
	if o.MaxValuesPerFacet < 1 {
		o.MaxValuesPerFacet = DefaultMaxValuesPerFacet
	}
	if o.Native == nil {
		o.Native = map[string]any{}
	}
}

// Normalised returns a copy with defaults and bounds applied. Adapters call it
// on options built in code rather than parsed.
func (o *SearchOptions) Normalised() *SearchOptions {
	if o == nil {
		return NewSearchOptions()
	}
	c := *o
	c.Native = maps.Clone(o.Native)
	c.normalise()
	return &c
}

func (o *SearchOptions) Offset() int {
	return (o.Page - 1) * o.PerPage
}

// HasNative reports whether any of the backend native keys was provided.
func (o *SearchOptions) HasNative(keys ...string) bool {
	for _, k := range keys {
		if _, ok := o.Native[k]; ok {
			return true
		}
	}
	return false
}

// NativeInt returns a native option as an int.
func (o *SearchOptions) NativeInt(key string) (int, bool) {
	v, ok := o.Native[key]
	if !ok {
		return 0, false
	}
	i, err := intValue(key, v)
	return i, err == nil
}

// ResolveEmbeddingField returns the explicit embedding field, or the single
// embedding typed field of the index.
func (o *SearchOptions) ResolveEmbeddingField(idx *Index) string {
	if o.EmbeddingField != "" {
		return o.EmbeddingField
	}
	if fm, ok := idx.EmbeddingField(); ok {
		return fm.IndexFieldName
	}
	return ""
}

// IsVectorSearch reports whether the request carries a vector.
func (o *SearchOptions) IsVectorSearch() bool {
	return len(o.Embedding) > 0
}

func intValue(key string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, NewValidationError("%s: %v is not an integer", key, n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, NewValidationError("%s: %q is not an integer", key, n)
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, NewValidationError("%s: %q is not an integer", key, n)
		}
		return i, nil
	default:
		return 0, NewValidationError("%s: unsupported type %T", key, v)
	}
}

func floatValue(key string, v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, NewValidationError("%s: %q is not a number", key, n)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, NewValidationError("%s: %q is not a number", key, n)
		}
		return f, nil
	default:
		return 0, NewValidationError("%s: unsupported type %T", key, v)
	}
}

func boolValue(key string, v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, NewValidationError("%s: %q is not a boolean", key, b)
		}
		return parsed, nil
	default:
		return false, NewValidationError("%s: unsupported type %T", key, v)
	}
}

func stringValue(key string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", NewValidationError("%s: unsupported type %T", key, v)
	}
	return s, nil
}

func stringList(key string, v any) ([]string, error) {
	switch l := v.(type) {
	case []string:
		return l, nil
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, NewValidationError("%s: unsupported item type %T", key, item)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		trimmed := strings.TrimSpace(l)
		if strings.HasPrefix(trimmed, "[") {
			if !gjson.Valid(trimmed) {
				return nil, NewValidationError("%s: malformed JSON", key)
			}
			out := []string{}
			for _, item := range gjson.Parse(trimmed).Array() {
				out = append(out, item.String())
			}
			return out, nil
		}
		out := []string{}
		for _, part := range strings.Split(trimmed, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	default:
		return nil, NewValidationError("%s: unsupported type %T", key, v)
	}
}

func floatList(v any) ([]float32, error) {
	switch l := v.(type) {
	case []float32:
		return l, nil
	case []float64:
		out := make([]float32, len(l))
		for i, f := range l {
			out[i] = float32(f)
		}
		return out, nil
	case []any:
		out := make([]float32, len(l))
		for i, item := range l {
			f, err := floatValue(OptEmbedding, item)
			if err != nil {
				return nil, err
			}
			out[i] = float32(f)
		}
		return out, nil
	case string:
		if !gjson.Valid(l) || !gjson.Parse(l).IsArray() {
			return nil, NewValidationError("%s: malformed JSON array", OptEmbedding)
		}
		arr := gjson.Parse(l).Array()
		out := make([]float32, len(arr))
		for i, item := range arr {
			out[i] = float32(item.Float())
		}
		return out, nil
	default:
		return nil, NewValidationError("%s: unsupported type %T", OptEmbedding, v)
	}
}

func sortDirection(field, dir string) (SortField, error) {
	switch strings.ToLower(strings.TrimSpace(dir)) {
	case "", "asc", "ascending":
		return SortField{Field: field}, nil
	case "desc", "descending":
		return SortField{Field: field, Desc: true}, nil
	default:
		return SortField{}, NewValidationError("sort: unsupported direction %q for field %q", dir, field)
	}
}

// parseSort accepts a JSON object (key order preserved), a JSON array of
// "field:dir" strings or single-key objects, a "field:dir,field:dir" string,
// or a map (ordered by field name since Go maps carry no order).
func parseSort(v any) ([]SortField, error) {
	switch s := v.(type) {
	case string:
		trimmed := strings.TrimSpace(s)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			if !gjson.Valid(trimmed) {
				return nil, NewValidationError("sort: malformed JSON")
			}
			return parseSortJSON(gjson.Parse(trimmed))
		}
		out := []SortField{}
		for _, part := range strings.Split(trimmed, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			field, dir, _ := strings.Cut(part, ":")
			sf, err := sortDirection(field, dir)
			if err != nil {
				return nil, err
			}
			out = append(out, sf)
		}
		return out, nil
	case map[string]any:
		out := make([]SortField, 0, len(s))
		for _, field := range slices.Sorted(maps.Keys(s)) {
			dir, _ := s[field].(string)
			sf, err := sortDirection(field, dir)
			if err != nil {
				return nil, err
			}
			out = append(out, sf)
		}
		return out, nil
	case []any:
		b, err := jsonlib.Marshal(s)
		if err != nil {
			return nil, NewValidationError("sort: %v", err)
		}
		return parseSortJSON(gjson.ParseBytes(b))
	case []SortField:
		return s, nil
	default:
		return nil, NewValidationError("sort: unsupported type %T", v)
	}
}

func parseSortJSON(res gjson.Result) ([]SortField, error) {
	out := []SortField{}
	var err error
	appendField := func(field, dir string) bool {
		var sf SortField
		if sf, err = sortDirection(field, dir); err != nil {
			return false
		}
		out = append(out, sf)
		return true
	}

	switch {
	case res.IsObject():
		res.ForEach(func(key, value gjson.Result) bool {
			return appendField(key.String(), value.String())
		})
	case res.IsArray():
		res.ForEach(func(_, item gjson.Result) bool {
			if item.IsObject() {
				item.ForEach(func(key, value gjson.Result) bool {
					return appendField(key.String(), value.String())
				})
				return err == nil
			}
			field, dir, _ := strings.Cut(item.String(), ":")
			return appendField(field, dir)
		})
	default:
		return nil, NewValidationError("sort: expected a JSON object or array")
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func parseFilters(v any) ([]Filter, error) {
	var m map[string]any
	switch f := v.(type) {
	case string:
		if strings.TrimSpace(f) == "" {
			return nil, nil
		}
		if !gjson.Valid(f) || !gjson.Parse(f).IsObject() {
			return nil, NewValidationError("filters: malformed JSON object")
		}
		if err := jsonlib.Unmarshal([]byte(f), &m); err != nil {
			return nil, NewValidationError("filters: %v", err)
		}
	case map[string]any:
		m = f
	case []Filter:
		return f, nil
	default:
		return nil, NewValidationError("filters: unsupported type %T", v)
	}

	filters := make([]Filter, 0, len(m))
	for _, field := range slices.Sorted(maps.Keys(m)) {
		filter, err := parseFilter(field, m[field])
		if err != nil {
			return nil, err
		}
		filters = append(filters, filter)
	}
	return filters, nil
}

func parseFilter(field string, v any) (Filter, error) {
	switch val := v.(type) {
	case []any:
		if len(val) == 0 {
			return Filter{}, NewValidationError("filters: empty value list for %q", field)
		}
		return Filter{Field: field, Values: val}, nil
	case []string:
		values := make([]any, len(val))
		for i, s := range val {
			values[i] = s
		}
		return Filter{Field: field, Values: values}, nil
	case map[string]any:
		r := &Range{}
		for k, bound := range val {
			switch k {
			case "min", "gte", "from":
				r.Min = bound
			case "max", "lte", "to":
				r.Max = bound
			default:
				return Filter{}, NewValidationError("filters: unsupported range key %q for %q", k, field)
			}
		}
		if r.Min == nil && r.Max == nil {
			return Filter{}, NewValidationError("filters: empty range for %q", field)
		}
		return Filter{Field: field, Range: r}, nil
	case nil:
		return Filter{}, NewValidationError("filters: null value for %q", field)
	default:
		return Filter{Field: field, Values: []any{val}}, nil
	}
}

func parseHistograms(v any) ([]Histogram, error) {
	var m map[string]any
	switch h := v.(type) {
	case string:
		if !gjson.Valid(h) || !gjson.Parse(h).IsObject() {
			return nil, NewValidationError("histogram: malformed JSON object")
		}
		if err := jsonlib.Unmarshal([]byte(h), &m); err != nil {
			return nil, NewValidationError("histogram: %v", err)
		}
	case map[string]any:
		m = h
	default:
		return nil, NewValidationError("histogram: unsupported type %T", v)
	}

	out := make([]Histogram, 0, len(m))
	for _, field := range slices.Sorted(maps.Keys(m)) {
		cfg := m[field]
		if obj, ok := cfg.(map[string]any); ok {
			cfg = obj["interval"]
		}
		interval, err := floatValue(fmt.Sprintf("histogram.%s", field), cfg)
		if err != nil {
			return nil, err
		}
		if interval <= 0 {
			return nil, NewValidationError("histogram.%s: interval must be positive", field)
		}
		out = append(out, Histogram{Field: field, Interval: interval})
	}
	return out, nil
}

func objectValue(key string, v any) (map[string]any, error) {
	switch o := v.(type) {
	case map[string]any:
		return o, nil
	case string:
		m := map[string]any{}
		if !gjson.Valid(o) {
			return nil, NewValidationError("%s: malformed JSON", key)
		}
		if err := jsonlib.Unmarshal([]byte(o), &m); err != nil {
			return nil, NewValidationError("%s: %v", key, err)
		}
		return m, nil
	default:
		return nil, NewValidationError("%s: unsupported type %T", key, v)
	}
}

func parsePoint(key string, m map[string]any) (GeoPoint, error) {
	lat, err := floatValue(key+".lat", m["lat"])
	if err != nil {
		return GeoPoint{}, err
	}
	lng, err := floatValue(key+".lng", m["lng"])
	if err != nil {
		return GeoPoint{}, err
	}
	return GeoPoint{Lat: lat, Lng: lng}, nil
}

const defaultGeoField = "_geo"

func geoField(m map[string]any) string {
	if f, ok := m["field"].(string); ok && f != "" {
		return f
	}
	return defaultGeoField
}

func parseGeoFilter(v any) (*GeoFilter, error) {
	m, err := objectValue(OptGeoFilter, v)
	if err != nil {
		return nil, err
	}
	point, err := parsePoint(OptGeoFilter, m)
	if err != nil {
		return nil, err
	}
	radius, err := floatValue(OptGeoFilter+".radius", m["radius"])
	if err != nil {
		return nil, err
	}
	return &GeoFilter{Field: geoField(m), Point: point, RadiusMeters: radius}, nil
}

func parseGeoSort(v any) (*GeoSort, error) {
	m, err := objectValue(OptGeoSort, v)
	if err != nil {
		return nil, err
	}
	point, err := parsePoint(OptGeoSort, m)
	if err != nil {
		return nil, err
	}
	dir, _ := m["direction"].(string)
	sf, err := sortDirection(OptGeoSort, dir)
	if err != nil {
		return nil, err
	}
	return &GeoSort{Field: geoField(m), Point: point, Desc: sf.Desc}, nil
}

func parseGeoGrid(v any) (*GeoGrid, error) {
	m, err := objectValue(OptGeoGrid, v)
	if err != nil {
		return nil, err
	}
	precision := 5
	if p, found := m["precision"]; found {
		if precision, err = intValue(OptGeoGrid+".precision", p); err != nil {
			return nil, err
		}
	}
	return &GeoGrid{Field: geoField(m), Precision: precision}, nil
}
