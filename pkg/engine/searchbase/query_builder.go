// SPDX-License-Identifier: Apache-2.0

package searchbase

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/tidwall/sjson"
	"github.com/xataio/searchsync/internal/searchstore"
	"github.com/xataio/searchsync/pkg/engine"
)

const (
	facetAggPrefix     = "facet_"
	statsAggPrefix     = "stats_"
	histogramAggPrefix = "histogram_"
	geoGridAgg         = "geo_grid"
	geoCentroidAgg     = "centroid"
	phraseSuggestion   = "phrase_suggestion"
	suggestionSize     = 3
	minKNNCandidates   = 10
)

// nativePaginationKeys win over the unified page/perPage options.
var nativePaginationKeys = []string{"from", "size"}

func (e *Engine) Search(ctx context.Context, idx *engine.Index, query string, opts *engine.SearchOptions) (*engine.SearchResult, error) {
	opts = opts.Normalised()
	body, err := e.buildSearchBody(idx, query, opts)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Search(ctx, &searchstore.SearchRequest{
		Index: e.indexName(idx),
		Body:  body,
	})
	if err != nil {
		return nil, mapError(err)
	}
	return e.toResult(opts, resp), nil
}

// MultiSearch runs every query through the same translation as Search and
// sends them in a single request.
func (e *Engine) MultiSearch(ctx context.Context, queries []engine.Query) ([]*engine.SearchResult, error) {
	if len(queries) == 0 {
		return []*engine.SearchResult{}, nil
	}

	items := make([]searchstore.MultiSearchItem, 0, len(queries))
	normalised := make([]*engine.SearchOptions, 0, len(queries))
	for _, q := range queries {
		opts := q.Options.Normalised()
		body, err := e.buildSearchBody(q.Index, q.Query, opts)
		if err != nil {
			return nil, err
		}
		items = append(items, searchstore.MultiSearchItem{Index: e.indexName(q.Index), Body: body})
		normalised = append(normalised, opts)
	}

	responses, err := e.client.MultiSearch(ctx, items)
	if err != nil {
		return nil, mapError(err)
	}
	if len(responses) != len(queries) {
		return nil, fmt.Errorf("multi search returned %d responses for %d queries", len(responses), len(queries))
	}

	results := make([]*engine.SearchResult, 0, len(responses))
	for i, resp := range responses {
		results = append(results, e.toResult(normalised[i], resp))
	}
	return results, nil
}

// SearchFacetValues narrows facet values with a case insensitive prefix.
func (e *Engine) SearchFacetValues(ctx context.Context, idx *engine.Index, req engine.FacetValuesRequest) (map[string][]engine.FacetValue, error) {
	maxPerField := req.MaxPerField
	if maxPerField <= 0 {
		maxPerField = engine.DefaultMaxValuesPerFacet
	}

	filters, err := e.buildFilters(idx, req.Filters)
	if err != nil {
		return nil, err
	}

	aggs := make(map[string]searchstore.Aggregation, len(req.Fields))
	for i, field := range req.Fields {
		terms := &searchstore.TermsAgg{Field: e.exactField(idx, field), Size: maxPerField}
		if req.Query != "" {
			terms.Include = prefixRegex(req.Query)
		}
		aggs[facetAggPrefix+strconv.Itoa(i)] = searchstore.Aggregation{Terms: terms}
	}

	body, err := e.marshaler(searchstore.QueryBody{
		Query: &searchstore.Condition{Bool: &searchstore.BoolFilter{
			Must:   []searchstore.Condition{{MatchAll: &struct{}{}}},
			Filter: filters,
		}},
		Aggs: aggs,
		Size: searchstore.Ptr(0),
	})
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Search(ctx, &searchstore.SearchRequest{Index: e.indexName(idx), Body: body})
	if err != nil {
		return nil, mapError(err)
	}

	values := make(map[string][]engine.FacetValue, len(req.Fields))
	for i, field := range req.Fields {
		values[field] = parseTermsBuckets(resp.Raw, facetAggPrefix+strconv.Itoa(i), maxPerField)
	}
	return values, nil
}

// buildSearchBody translates the unified options into a query DSL body.
// Native option keys are written on top of the generated body.
func (e *Engine) buildSearchBody(idx *engine.Index, query string, opts *engine.SearchOptions) ([]byte, error) {
	filters, err := e.buildFilters(idx, opts.Filters)
	if err != nil {
		return nil, err
	}
	if opts.GeoFilter != nil {
		filters = append(filters, searchstore.Condition{GeoDistance: map[string]any{
			"distance":           fmt.Sprintf("%fm", opts.GeoFilter.RadiusMeters),
			opts.GeoFilter.Field: geoPoint(opts.GeoFilter.Point),
		}})
	}

	queryBody := searchstore.QueryBody{
		TrackTotalHits: true,
		From:           searchstore.Ptr(opts.Offset()),
		Size:           searchstore.Ptr(opts.PerPage),
	}

	textClause := e.textClause(idx, query, opts)
	boolQuery := &searchstore.BoolFilter{Filter: filters}
	switch {
	case opts.IsVectorSearch():
		field := opts.ResolveEmbeddingField(idx)
		if field == "" {
			return nil, engine.NewValidationError("index %s: an embedding field is required for vector search", idx.Handle)
		}
		k := max(opts.Offset()+opts.PerPage, minKNNCandidates)
		knn := e.knnClause(field, opts.Embedding, k)
		if textClause != nil {
			// hybrid: text relevance and vector similarity both score
			boolQuery.Should = []searchstore.Condition{*textClause, knn}
			boolQuery.MinimumShouldMatch = 1
		} else {
			boolQuery.Must = []searchstore.Condition{knn}
		}
	case textClause != nil:
		boolQuery.Must = []searchstore.Condition{*textClause}
	default:
		boolQuery.Must = []searchstore.Condition{{MatchAll: &struct{}{}}}
	}
	queryBody.Query = &searchstore.Condition{Bool: boolQuery}

	for _, s := range opts.Sort {
		queryBody.Sort = append(queryBody.Sort, map[string]any{
			e.exactField(idx, s.Field): map[string]any{"order": order(s.Desc)},
		})
	}
	if opts.GeoSort != nil {
		queryBody.Sort = append(queryBody.Sort, map[string]any{
			"_geo_distance": map[string]any{
				opts.GeoSort.Field: geoPoint(opts.GeoSort.Point),
				"order":            order(opts.GeoSort.Desc),
				"unit":             "m",
			},
		})
	}

	queryBody.Aggs = e.buildAggregations(idx, opts)

	if opts.Highlight {
		fields := map[string]any{}
		for _, f := range e.highlightFields(idx, opts) {
			fields[f] = map[string]any{}
		}
		queryBody.Highlight = &searchstore.Highlight{
			Fields:   fields,
			PreTags:  []string{engine.HighlightPreTag},
			PostTags: []string{engine.HighlightPostTag},
		}
	}

	if opts.Suggest && query != "" {
		if field := e.suggestField(idx, opts); field != "" {
			queryBody.Suggest = map[string]any{
				"text": query,
				phraseSuggestion: map[string]any{
					"phrase": map[string]any{"field": field, "size": suggestionSize},
				},
			}
		}
	}

	if len(opts.Retrieve) > 0 {
		queryBody.Source = engine.WithObjectID(opts.Retrieve)
	}

	body, err := e.marshaler(queryBody)
	if err != nil {
		return nil, fmt.Errorf("marshalling search body: %w", err)
	}
	return overlayNative(body, opts.Native)
}

func (e *Engine) textClause(idx *engine.Index, query string, opts *engine.SearchOptions) *searchstore.Condition {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	return &searchstore.Condition{MultiMatch: &searchstore.MultiMatch{
		Query:  query,
		Type:   "best_fields",
		Fields: e.searchFields(idx, opts),
	}}
}

// searchFields returns the restricted fields or the weighted searchable
// fields of the index. An empty list searches every field.
func (e *Engine) searchFields(idx *engine.Index, opts *engine.SearchOptions) []string {
	if len(opts.Fields) > 0 {
		return opts.Fields
	}
	fields := []string{}
	for _, fm := range idx.SearchableFields() {
		if fm.Weight > 1 {
			fields = append(fields, fmt.Sprintf("%s^%d", fm.IndexFieldName, fm.Weight))
			continue
		}
		fields = append(fields, fm.IndexFieldName)
	}
	return fields
}

func (e *Engine) highlightFields(idx *engine.Index, opts *engine.SearchOptions) []string {
	if len(opts.Fields) > 0 {
		return opts.Fields
	}
	fields := []string{}
	for _, fm := range idx.SearchableFields() {
		fields = append(fields, fm.IndexFieldName)
	}
	if len(fields) == 0 {
		fields = append(fields, "*")
	}
	return fields
}

// suggestField picks the field the phrase suggester reads from: the title
// role, or the first text field.
func (e *Engine) suggestField(idx *engine.Index, opts *engine.SearchOptions) string {
	if title, ok := idx.RoleFields()[engine.RoleTitle]; ok {
		return title
	}
	for _, fm := range idx.SearchableFields() {
		if fm.IndexFieldType == engine.FieldText || fm.IndexFieldType == "" {
			return fm.IndexFieldName
		}
	}
	if len(opts.Fields) > 0 {
		return opts.Fields[0]
	}
	return ""
}

func (e *Engine) buildAggregations(idx *engine.Index, opts *engine.SearchOptions) map[string]searchstore.Aggregation {
	aggs := map[string]searchstore.Aggregation{}
	for i, field := range opts.Facets {
		aggs[facetAggPrefix+strconv.Itoa(i)] = searchstore.Aggregation{
			Terms: &searchstore.TermsAgg{Field: e.exactField(idx, field), Size: opts.MaxValuesPerFacet},
		}
	}
	for i, field := range opts.Stats {
		aggs[statsAggPrefix+strconv.Itoa(i)] = searchstore.Aggregation{
			Stats: &searchstore.FieldAgg{Field: field},
		}
	}
	for i, h := range opts.Histograms {
		aggs[histogramAggPrefix+strconv.Itoa(i)] = searchstore.Aggregation{
			Histogram: &searchstore.HistogramAgg{Field: h.Field, Interval: h.Interval, MinDocCount: 1},
		}
	}
	if opts.GeoGrid != nil {
		aggs[geoGridAgg] = searchstore.Aggregation{
			GeohashGrid: &searchstore.GeohashGridAgg{Field: opts.GeoGrid.Field, Precision: opts.GeoGrid.Precision},
			Aggregations: map[string]searchstore.Aggregation{
				geoCentroidAgg: {GeoCentroid: &searchstore.FieldAgg{Field: opts.GeoGrid.Field}},
			},
		}
	}
	if len(aggs) == 0 {
		return nil
	}
	return aggs
}

// buildFilters ORs the values of a filter and ANDs the filters together.
func (e *Engine) buildFilters(idx *engine.Index, filters []engine.Filter) ([]searchstore.Condition, error) {
	conditions := make([]searchstore.Condition, 0, len(filters))
	for _, f := range filters {
		field := e.exactField(idx, f.Field)
		fieldType, _ := idx.FieldType(f.Field)

		if f.Range != nil {
			bounds := map[string]any{}
			if f.Range.Min != nil {
				bounds["gte"] = filterValue(fieldType, f.Range.Min)
			}
			if f.Range.Max != nil {
				bounds["lte"] = filterValue(fieldType, f.Range.Max)
			}
			conditions = append(conditions, searchstore.Condition{Range: map[string]any{field: bounds}})
			continue
		}

		if len(f.Values) == 0 {
			return nil, engine.NewValidationError("filter on %q has no values", f.Field)
		}
		values := make([]any, 0, len(f.Values))
		for _, v := range f.Values {
			values = append(values, filterValue(fieldType, v))
		}
		if len(values) == 1 {
			conditions = append(conditions, searchstore.Condition{Term: map[string]any{field: values[0]}})
			continue
		}
		conditions = append(conditions, searchstore.Condition{Terms: map[string]any{field: values}})
	}
	return conditions, nil
}

// exactField redirects text fields to their keyword sub field, which is the
// one that can be sorted, filtered and aggregated.
func (e *Engine) exactField(idx *engine.Index, field string) string {
	if field == engine.ObjectIDField || strings.HasPrefix(field, "_") {
		return field
	}
	if t, ok := idx.FieldType(field); ok && t == engine.FieldText {
		return field + "." + searchstore.KeywordSubField
	}
	return field
}

func filterValue(t engine.FieldType, v any) any {
	if t == engine.FieldDate {
		if iso, ok := engine.DateToISO(v); ok {
			return iso
		}
	}
	return v
}

func order(desc bool) string {
	if desc {
		return "desc"
	}
	return "asc"
}

func geoPoint(p engine.GeoPoint) map[string]any {
	return map[string]any{"lat": p.Lat, "lon": p.Lng}
}

// overlayNative writes every native option at the top level of the body,
// replacing the generated value.
func overlayNative(body []byte, native map[string]any) ([]byte, error) {
	var err error
	for _, key := range sortedKeys(native) {
		body, err = sjson.SetBytes(body, escapePath(key), native[key])
		if err != nil {
			return nil, engine.NewValidationError("native option %q: %v", key, err)
		}
	}
	return body, nil
}

func escapePath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '!', '\\', ':':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// prefixRegex builds a case insensitive Lucene regex matching values that
// start with the given prefix.
func prefixRegex(prefix string) string {
	var b strings.Builder
	for _, r := range prefix {
		lower, upper := unicode.ToLower(r), unicode.ToUpper(r)
		switch {
		case lower != upper:
			b.WriteString("[" + string(lower) + string(upper) + "]")
		case strings.ContainsRune(`.?+*|{}[]()"\#@&<>~`, r):
			b.WriteRune('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteString(".*")
	return b.String()
}
