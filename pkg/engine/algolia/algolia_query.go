// SPDX-License-Identifier: Apache-2.0

package algolia

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/xataio/searchsync/internal/json"
	"github.com/xataio/searchsync/pkg/engine"
)

const (
	highlightResultField = "_highlightResult"
	snippetResultField   = "_snippetResult"
	rankingInfoField     = "_rankingInfo"
	matchLevelNone       = "none"
	maxFacetHits         = 100
)

// native pagination keys; Algolia pages are zero based
const (
	pageKey        = "page"
	hitsPerPageKey = "hitsPerPage"
	offsetKey      = "offset"
	lengthKey      = "length"
)

// request is one translated search: the index or sort replica to query and
// its parameters.
type request struct {
	index  string
	params map[string]any
}

func (e *Engine) Search(ctx context.Context, idx *engine.Index, query string, opts *engine.SearchOptions) (*engine.SearchResult, error) {
	opts = opts.Normalised()
	req, err := e.buildRequest(idx, query, opts)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.query(ctx, req.index, req.params)
	if err != nil {
		return nil, err
	}
	return toResult(opts, resp)
}

// MultiSearch translates every query like Search and sends them in one
// request.
func (e *Engine) MultiSearch(ctx context.Context, queries []engine.Query) ([]*engine.SearchResult, error) {
	if len(queries) == 0 {
		return []*engine.SearchResult{}, nil
	}

	indexes := make([]string, 0, len(queries))
	params := make([]map[string]any, 0, len(queries))
	normalised := make([]*engine.SearchOptions, 0, len(queries))
	for _, q := range queries {
		opts := q.Options.Normalised()
		req, err := e.buildRequest(q.Index, q.Query, opts)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, req.index)
		params = append(params, req.params)
		normalised = append(normalised, opts)
	}

	resp, err := e.client.multiQuery(ctx, indexes, params)
	if err != nil {
		return nil, err
	}
	responses := resp.Get("results").Array()
	if len(responses) != len(queries) {
		return nil, fmt.Errorf("multi query returned %d responses for %d queries", len(responses), len(queries))
	}

	results := make([]*engine.SearchResult, 0, len(responses))
	for i, r := range responses {
		res, err := toResult(normalised[i], r)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// SearchFacetValues runs one facet query per field.
func (e *Engine) SearchFacetValues(ctx context.Context, idx *engine.Index, req engine.FacetValuesRequest) (map[string][]engine.FacetValue, error) {
	maxPerField := req.MaxPerField
	if maxPerField <= 0 {
		maxPerField = engine.DefaultMaxValuesPerFacet
	}
	filter, err := buildFilter(idx, req.Filters)
	if err != nil {
		return nil, err
	}

	values := make(map[string][]engine.FacetValue, len(req.Fields))
	for _, field := range req.Fields {
		params := map[string]any{
			"facetQuery":   req.Query,
			"maxFacetHits": min(maxPerField, maxFacetHits),
		}
		if filter != "" {
			params["filters"] = filter
		}
		resp, err := e.client.facetQuery(ctx, e.name(idx), field, params)
		if err != nil {
			return nil, err
		}
		fieldValues := []engine.FacetValue{}
		for _, hit := range resp.Get("facetHits").Array() {
			fieldValues = append(fieldValues, engine.FacetValue{
				Value: hit.Get("value").String(),
				Count: int(hit.Get("count").Int()),
			})
		}
		values[field] = engine.SortFacetValues(fieldValues, maxPerField)
	}
	return values, nil
}

// buildRequest translates the unified options into Algolia search
// parameters. A sort is served by the replica of its field, so only one
// numeric or date sort field is supported. Native keys replace the generated
// ones.
func (e *Engine) buildRequest(idx *engine.Index, query string, opts *engine.SearchOptions) (*request, error) {
	if opts.IsVectorSearch() {
		return nil, fmt.Errorf("%w: vector search on algolia", engine.ErrUnsupported)
	}

	req := &request{
		index: e.name(idx),
		params: map[string]any{
			"query":        query,
			pageKey:        opts.Page - 1,
			hitsPerPageKey: opts.PerPage,
		},
	}
	if opts.HasNative(offsetKey, lengthKey) {
		delete(req.params, pageKey)
		delete(req.params, hitsPerPageKey)
	}

	if len(opts.Sort) > 1 {
		return nil, fmt.Errorf("%w: sorting on more than one field on algolia", engine.ErrUnsupported)
	}
	if len(opts.Sort) == 1 {
		sort := opts.Sort[0]
		t, _ := idx.FieldType(sort.Field)
		if !t.IsNumeric() {
			return nil, engine.NewValidationError("index %s: sorting on %q requires a numeric or date field", idx.Handle, sort.Field)
		}
		req.index = replicaName(req.index, sort.Field, sort.Desc)
	}

	filter, err := buildFilter(idx, opts.Filters)
	if err != nil {
		return nil, err
	}
	if filter != "" {
		req.params["filters"] = filter
	}

	switch {
	case opts.GeoFilter != nil:
		req.params["aroundLatLng"] = latLng(opts.GeoFilter.Point)
		req.params["aroundRadius"] = max(1, int(math.Round(opts.GeoFilter.RadiusMeters)))
	case opts.GeoSort != nil:
		req.params["aroundLatLng"] = latLng(opts.GeoSort.Point)
		req.params["aroundRadius"] = "all"
	}
	if opts.GeoSort != nil && opts.GeoSort.Desc {
		return nil, fmt.Errorf("%w: descending geo sort on algolia", engine.ErrUnsupported)
	}

	facets := append([]string{}, opts.Facets...)
	for _, field := range opts.Stats {
		if !slices.Contains(facets, field) {
			facets = append(facets, field)
		}
	}
	if len(facets) > 0 {
		req.params["facets"] = facets
		req.params["maxValuesPerFacet"] = opts.MaxValuesPerFacet
	}

	if len(opts.Fields) > 0 {
		req.params["restrictSearchableAttributes"] = opts.Fields
	}
	if opts.Highlight {
		highlight := []string{"*"}
		if len(opts.Fields) > 0 {
			highlight = opts.Fields
		}
		req.params["attributesToHighlight"] = highlight
		req.params["highlightPreTag"] = engine.HighlightPreTag
		req.params["highlightPostTag"] = engine.HighlightPostTag
	} else {
		req.params["attributesToHighlight"] = []string{}
	}
	if len(opts.Retrieve) > 0 {
		req.params["attributesToRetrieve"] = engine.WithObjectID(opts.Retrieve)
	}

	for k, v := range opts.Native {
		req.params[k] = v
	}
	return req, nil
}

func latLng(p engine.GeoPoint) string {
	return engine.FormatNumber(p.Lat) + ", " + engine.FormatNumber(p.Lng)
}

// buildFilter ORs the values of one filter and ANDs the filters together.
// Numeric and date fields use numeric comparisons, other fields facet
// filters.
func buildFilter(idx *engine.Index, filters []engine.Filter) (string, error) {
	clauses := make([]string, 0, len(filters))
	for _, f := range filters {
		if err := engine.ValidateFieldName(f.Field); err != nil {
			return "", err
		}
		fieldType, _ := idx.FieldType(f.Field)
		if f.Range != nil {
			for _, bound := range []struct {
				value any
				op    string
			}{{f.Range.Min, " >= "}, {f.Range.Max, " <= "}} {
				if bound.value == nil {
					continue
				}
				n, err := numericLiteral(fieldType, bound.value)
				if err != nil {
					return "", err
				}
				clauses = append(clauses, f.Field+bound.op+n)
			}
			continue
		}

		if len(f.Values) == 0 {
			return "", engine.NewValidationError("filter on %q has no values", f.Field)
		}
		ors := make([]string, 0, len(f.Values))
		for _, v := range f.Values {
			clause, err := equalityClause(f.Field, fieldType, v)
			if err != nil {
				return "", err
			}
			ors = append(ors, clause)
		}
		if len(ors) == 1 {
			clauses = append(clauses, ors[0])
			continue
		}
		clauses = append(clauses, "("+strings.Join(ors, " OR ")+")")
	}
	return strings.Join(clauses, " AND "), nil
}

func equalityClause(field string, t engine.FieldType, v any) (string, error) {
	if t.IsNumeric() {
		n, err := numericLiteral(t, v)
		if err != nil {
			return "", err
		}
		return field + " = " + n, nil
	}
	switch value := v.(type) {
	case nil:
		return "", engine.NewValidationError("null filter values are not supported")
	case bool:
		return field + ":" + strconv.FormatBool(value), nil
	default:
		return field + ":" + engine.QuoteDouble(engine.FacetKey(value)), nil
	}
}

func numericLiteral(t engine.FieldType, v any) (string, error) {
	if t == engine.FieldDate {
		if epoch, ok := engine.DateToEpoch(v); ok {
			return strconv.FormatInt(epoch, 10), nil
		}
	}
	f, ok := engine.Float(v)
	if !ok {
		return "", engine.NewValidationError("%v is not a number", v)
	}
	return engine.FormatNumber(f), nil
}

func toResult(opts *engine.SearchOptions, resp gjson.Result) (*engine.SearchResult, error) {
	res := engine.NewSearchResult(opts)
	if opts.HasNative(pageKey, hitsPerPageKey, offsetKey, lengthKey) {
		res.Page = int(resp.Get(pageKey).Int()) + 1
		if perPage := int(resp.Get(hitsPerPageKey).Int()); perPage > 0 {
			res.PerPage = perPage
		}
	}

	for _, hit := range resp.Get("hits").Array() {
		source := map[string]any{}
		if err := json.Unmarshal([]byte(hit.Raw), &source); err != nil {
			return nil, fmt.Errorf("decoding hit: %w", err)
		}
		var highlights map[string][]string
		if opts.Highlight {
			highlights = hitHighlights(hit.Get(highlightResultField))
		}
		for _, key := range []string{highlightResultField, snippetResultField, rankingInfoField} {
			delete(source, key)
		}
		// Algolia exposes no relevance score
		res.Hits = append(res.Hits, engine.NormalizeHit(source, nil, nil, highlights))
	}

	res.SetTotal(int(resp.Get("nbHits").Int()))
	if took := resp.Get("processingTimeMS"); took.Exists() {
		ms := int(took.Int())
		res.ProcessingTimeMS = &ms
	}

	for _, field := range opts.Facets {
		counts := map[string]int{}
		resp.Get("facets." + escapePath(field)).ForEach(func(value, count gjson.Result) bool {
			counts[value.String()] = int(count.Int())
			return true
		})
		res.Facets[field] = engine.FacetValuesFromCounts(counts, opts.MaxValuesPerFacet)
	}
	for _, field := range opts.Stats {
		stats := resp.Get("facets_stats." + escapePath(field))
		if !stats.Exists() {
			continue
		}
		res.Stats[field] = engine.FieldStats{
			Min: stats.Get("min").Float(),
			Max: stats.Get("max").Float(),
			Avg: stats.Get("avg").Float(),
			Sum: stats.Get("sum").Float(),
		}
	}

	res.Raw = json.RawMessage(resp.Raw)
	return res, nil
}

// hitHighlights keeps the highlighted values whose match level is not none.
// Array attributes yield one fragment per matching element.
func hitHighlights(result gjson.Result) map[string][]string {
	highlights := map[string][]string{}
	result.ForEach(func(field, h gjson.Result) bool {
		fragments := []string{}
		items := []gjson.Result{h}
		if h.IsArray() {
			items = h.Array()
		}
		for _, item := range items {
			level := item.Get("matchLevel").String()
			if level != "" && level != matchLevelNone {
				fragments = append(fragments, item.Get("value").String())
			}
		}
		if len(fragments) > 0 {
			highlights[field.String()] = fragments
		}
		return true
	})
	return highlights
}

func escapePath(field string) string {
	var b strings.Builder
	for _, r := range field {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
