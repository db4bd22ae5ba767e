// SPDX-License-Identifier: Apache-2.0

package meilisearch

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/xataio/searchsync/internal/json"
	"github.com/xataio/searchsync/pkg/engine"
)

const (
	formattedField    = "_formatted"
	rankingScoreField = "_rankingScore"
	matchesField      = "_matchesPosition"
)

// native pagination keys; page/hitsPerPage switch Meilisearch to exhaustive
// pagination
const (
	offsetKey      = "offset"
	limitKey       = "limit"
	pageKey        = "page"
	hitsPerPageKey = "hitsPerPage"
)

func (e *Engine) Search(ctx context.Context, idx *engine.Index, query string, opts *engine.SearchOptions) (*engine.SearchResult, error) {
	opts = opts.Normalised()
	body, err := buildSearchRequest(idx, query, opts)
	if err != nil {
		return nil, err
	}
	raw, err := e.client.Search(ctx, e.uid(idx), body)
	if err != nil {
		return nil, err
	}
	return toResult(opts, gjson.ParseBytes(raw))
}

// MultiSearch translates every query like Search and sends them in one
// request.
func (e *Engine) MultiSearch(ctx context.Context, queries []engine.Query) ([]*engine.SearchResult, error) {
	if len(queries) == 0 {
		return []*engine.SearchResult{}, nil
	}

	bodies := make([]map[string]any, 0, len(queries))
	normalised := make([]*engine.SearchOptions, 0, len(queries))
	for _, q := range queries {
		opts := q.Options.Normalised()
		body, err := buildSearchRequest(q.Index, q.Query, opts)
		if err != nil {
			return nil, err
		}
		body["indexUid"] = e.uid(q.Index)
		bodies = append(bodies, body)
		normalised = append(normalised, opts)
	}

	raw, err := e.client.MultiSearch(ctx, bodies)
	if err != nil {
		return nil, err
	}
	responses := gjson.GetBytes(raw, "results").Array()
	if len(responses) != len(queries) {
		return nil, fmt.Errorf("multi search returned %d responses for %d queries", len(responses), len(queries))
	}

	results := make([]*engine.SearchResult, 0, len(responses))
	for i, resp := range responses {
		res, err := toResult(normalised[i], resp)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// SearchFacetValues runs one facet search per field.
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
		body := map[string]any{"facetName": field, "facetQuery": req.Query}
		if filter != "" {
			body["filter"] = filter
		}
		raw, err := e.client.FacetSearch(ctx, e.uid(idx), body)
		if err != nil {
			return nil, err
		}
		fieldValues := []engine.FacetValue{}
		gjson.GetBytes(raw, "facetHits").ForEach(func(_, hit gjson.Result) bool {
			fieldValues = append(fieldValues, engine.FacetValue{
				Value: hit.Get("value").String(),
				Count: int(hit.Get("count").Int()),
			})
			return true
		})
		values[field] = engine.SortFacetValues(fieldValues, maxPerField)
	}
	return values, nil
}

// buildSearchRequest translates the unified options into a Meilisearch
// search body. Native keys replace the generated ones.
func buildSearchRequest(idx *engine.Index, query string, opts *engine.SearchOptions) (map[string]any, error) {
	body := map[string]any{
		"q":                query,
		offsetKey:          opts.Offset(),
		limitKey:           opts.PerPage,
		"showRankingScore": true,
	}
	if opts.HasNative(pageKey, hitsPerPageKey) {
		// exhaustive pagination, native keys override these below
		delete(body, offsetKey)
		delete(body, limitKey)
		body[pageKey] = opts.Page
		body[hitsPerPageKey] = opts.PerPage
	}

	filter, err := buildFilter(idx, opts.Filters)
	if err != nil {
		return nil, err
	}
	if opts.GeoFilter != nil {
		geo := fmt.Sprintf("_geoRadius(%s, %s, %s)",
			engine.FormatNumber(opts.GeoFilter.Point.Lat),
			engine.FormatNumber(opts.GeoFilter.Point.Lng),
			engine.FormatNumber(opts.GeoFilter.RadiusMeters))
		filter = joinAnd(filter, geo)
	}
	if filter != "" {
		body["filter"] = filter
	}

	facets := append([]string{}, opts.Facets...)
	for _, field := range opts.Stats {
		if !contains(facets, field) {
			facets = append(facets, field)
		}
	}
	if len(facets) > 0 {
		body["facets"] = facets
	}

	sort := []string{}
	for _, s := range opts.Sort {
		if err := engine.ValidateFieldName(s.Field); err != nil {
			return nil, err
		}
		sort = append(sort, s.Field+":"+direction(s.Desc))
	}
	if opts.GeoSort != nil {
		sort = append(sort, fmt.Sprintf("_geoPoint(%s, %s):%s",
			engine.FormatNumber(opts.GeoSort.Point.Lat),
			engine.FormatNumber(opts.GeoSort.Point.Lng),
			direction(opts.GeoSort.Desc)))
	}
	if len(sort) > 0 {
		body["sort"] = sort
	}

	if len(opts.Fields) > 0 {
		body["attributesToSearchOn"] = opts.Fields
	}
	if opts.Highlight {
		highlight := []string{"*"}
		if len(opts.Fields) > 0 {
			highlight = opts.Fields
		}
		body["attributesToHighlight"] = highlight
		body["highlightPreTag"] = engine.HighlightPreTag
		body["highlightPostTag"] = engine.HighlightPostTag
	}
	if len(opts.Retrieve) > 0 {
		body["attributesToRetrieve"] = engine.WithObjectID(opts.Retrieve)
	}

	if opts.IsVectorSearch() {
		embedder := opts.ResolveEmbeddingField(idx)
		if embedder == "" {
			return nil, engine.NewValidationError("index %s: an embedding field is required for vector search", idx.Handle)
		}
		ratio := semanticOnly
		if strings.TrimSpace(query) != "" {
			// hybrid: keyword and semantic ranking both contribute
			ratio = semanticHybrid
		}
		body["vector"] = opts.Embedding
		body["hybrid"] = map[string]any{"embedder": embedder, "semanticRatio": ratio}
	}

	for k, v := range opts.Native {
		body[k] = v
	}
	return body, nil
}

// buildFilter ORs the values of one filter and ANDs the filters together.
func buildFilter(idx *engine.Index, filters []engine.Filter) (string, error) {
	clauses := make([]string, 0, len(filters))
	for _, f := range filters {
		if err := engine.ValidateFieldName(f.Field); err != nil {
			return "", err
		}
		fieldType, _ := idx.FieldType(f.Field)
		if f.Range != nil {
			if f.Range.Min != nil {
				lit, err := filterLiteral(fieldType, f.Range.Min)
				if err != nil {
					return "", err
				}
				clauses = append(clauses, f.Field+" >= "+lit)
			}
			if f.Range.Max != nil {
				lit, err := filterLiteral(fieldType, f.Range.Max)
				if err != nil {
					return "", err
				}
				clauses = append(clauses, f.Field+" <= "+lit)
			}
			continue
		}

		if len(f.Values) == 0 {
			return "", engine.NewValidationError("filter on %q has no values", f.Field)
		}
		ors := make([]string, 0, len(f.Values))
		for _, v := range f.Values {
			lit, err := filterLiteral(fieldType, v)
			if err != nil {
				return "", err
			}
			ors = append(ors, f.Field+" = "+lit)
		}
		if len(ors) == 1 {
			clauses = append(clauses, ors[0])
			continue
		}
		clauses = append(clauses, "("+strings.Join(ors, " OR ")+")")
	}
	return strings.Join(clauses, " AND "), nil
}

// filterLiteral renders a filter value. Strings are always quoted and
// escaped, dates become epoch seconds.
func filterLiteral(t engine.FieldType, v any) (string, error) {
	if t == engine.FieldDate {
		if epoch, ok := engine.DateToEpoch(v); ok {
			return strconv.FormatInt(epoch, 10), nil
		}
	}
	switch value := v.(type) {
	case string:
		return engine.QuoteDouble(value), nil
	case bool:
		return strconv.FormatBool(value), nil
	case nil:
		return "", engine.NewValidationError("null filter values are not supported")
	default:
		if f, ok := engine.Float(value); ok {
			return engine.FormatNumber(f), nil
		}
		return engine.QuoteDouble(engine.FacetKey(value)), nil
	}
}

func joinAnd(a, b string) string {
	if a == "" {
		return b
	}
	return a + " AND " + b
}

func direction(desc bool) string {
	if desc {
		return "desc"
	}
	return "asc"
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func toResult(opts *engine.SearchOptions, resp gjson.Result) (*engine.SearchResult, error) {
	res := engine.NewSearchResult(opts)
	switch {
	case opts.HasNative(hitsPerPageKey, pageKey):
		res.PerPage = int(resp.Get(hitsPerPageKey).Int())
		res.Page = int(resp.Get(pageKey).Int())
	case opts.HasNative(limitKey, offsetKey):
		if limit := int(resp.Get(limitKey).Int()); limit > 0 {
			res.PerPage = limit
			res.Page = int(resp.Get(offsetKey).Int())/limit + 1
		}
	}

	for _, hit := range resp.Get("hits").Array() {
		source := map[string]any{}
		if err := json.Unmarshal([]byte(hit.Raw), &source); err != nil {
			return nil, fmt.Errorf("decoding hit: %w", err)
		}
		formatted, _ := source[formattedField].(map[string]any)
		score := source[rankingScoreField]
		for _, key := range []string{formattedField, rankingScoreField, matchesField, vectorsField} {
			delete(source, key)
		}
		res.Hits = append(res.Hits, engine.NormalizeHit(source, nil, score, engine.HighlightsFromFormatted(formatted, engine.HighlightPreTag)))
	}

	total := resp.Get("totalHits")
	if !total.Exists() {
		total = resp.Get("estimatedTotalHits")
	}
	res.SetTotal(int(total.Int()))
	if took := resp.Get("processingTimeMs"); took.Exists() {
		ms := int(took.Int())
		res.ProcessingTimeMS = &ms
	}

	for _, field := range opts.Facets {
		counts := map[string]int{}
		resp.Get("facetDistribution." + escapePath(field)).ForEach(func(value, count gjson.Result) bool {
			counts[value.String()] = int(count.Int())
			return true
		})
		res.Facets[field] = engine.FacetValuesFromCounts(counts, opts.MaxValuesPerFacet)
	}
	for _, field := range opts.Stats {
		stats := resp.Get("facetStats." + escapePath(field))
		if !stats.Exists() {
			continue
		}
		res.Stats[field] = engine.FieldStats{Min: stats.Get("min").Float(), Max: stats.Get("max").Float()}
	}

	res.Raw = json.RawMessage(resp.Raw)
	return res, nil
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
