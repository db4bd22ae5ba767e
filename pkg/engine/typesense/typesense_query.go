// SPDX-License-Identifier: Apache-2.0

package typesense

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/xataio/searchsync/internal/json"
	"github.com/xataio/searchsync/pkg/engine"
)

const (
	pageKey    = "page"
	perPageKey = "per_page"
	offsetKey  = "offset"
	limitKey   = "limit"

	minVectorHits = 10
)

func (e *Engine) Search(ctx context.Context, idx *engine.Index, query string, opts *engine.SearchOptions) (*engine.SearchResult, error) {
	results, err := e.MultiSearch(ctx, []engine.Query{{Index: idx, Query: query, Options: opts}})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// MultiSearch sends every query through the multi search endpoint, which
// also serves single searches.
func (e *Engine) MultiSearch(ctx context.Context, queries []engine.Query) ([]*engine.SearchResult, error) {
	if len(queries) == 0 {
		return []*engine.SearchResult{}, nil
	}

	searches := make([]map[string]any, 0, len(queries))
	normalised := make([]*engine.SearchOptions, 0, len(queries))
	for _, q := range queries {
		opts := q.Options.Normalised()
		params, err := buildSearchParams(q.Index, q.Query, opts)
		if err != nil {
			return nil, err
		}
		params["collection"] = e.name(q.Index)
		searches = append(searches, params)
		normalised = append(normalised, opts)
	}

	raw, err := e.client.MultiSearch(ctx, searches)
	if err != nil {
		return nil, err
	}
	responses, err := searchResponses(raw, len(queries))
	if err != nil {
		return nil, err
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

// SearchFacetValues runs one facet query per field in a single multi search.
func (e *Engine) SearchFacetValues(ctx context.Context, idx *engine.Index, req engine.FacetValuesRequest) (map[string][]engine.FacetValue, error) {
	if len(req.Fields) == 0 {
		return map[string][]engine.FacetValue{}, nil
	}
	maxPerField := req.MaxPerField
	if maxPerField <= 0 {
		maxPerField = engine.DefaultMaxValuesPerFacet
	}
	filter, err := buildFilter(idx, req.Filters)
	if err != nil {
		return nil, err
	}

	searches := make([]map[string]any, 0, len(req.Fields))
	for _, field := range req.Fields {
		if err := engine.ValidateFieldName(field); err != nil {
			return nil, err
		}
		params := map[string]any{
			"collection":       e.name(idx),
			"q":                wildcardQuery,
			"facet_by":         field,
			"max_facet_values": maxPerField,
			perPageKey:         0,
		}
		if req.Query != "" {
			params["facet_query"] = field + ":" + req.Query
		}
		if filter != "" {
			params["filter_by"] = filter
		}
		searches = append(searches, params)
	}

	raw, err := e.client.MultiSearch(ctx, searches)
	if err != nil {
		return nil, err
	}
	responses, err := searchResponses(raw, len(searches))
	if err != nil {
		return nil, err
	}

	values := make(map[string][]engine.FacetValue, len(req.Fields))
	for i, field := range req.Fields {
		values[field] = engine.SortFacetValues(facetCounts(responses[i], field), maxPerField)
	}
	return values, nil
}

// searchResponses splits a multi search response, turning per search errors
// into status errors.
func searchResponses(raw []byte, expected int) ([]gjson.Result, error) {
	responses := gjson.GetBytes(raw, "results").Array()
	if len(responses) != expected {
		return nil, fmt.Errorf("multi search returned %d responses for %d searches", len(responses), expected)
	}
	for _, resp := range responses {
		if !resp.Get("error").Exists() {
			continue
		}
		status := int(resp.Get("code").Int())
		if status == 0 {
			status = http.StatusBadRequest
		}
		statusErr := &engine.StatusError{Status: status, Message: resp.Get("error").String()}
		if status == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %w", engine.ErrPermissionRestricted, statusErr)
		}
		return nil, statusErr
	}
	return responses, nil
}

// buildSearchParams translates the unified options into Typesense search
// parameters. Native keys replace the generated ones.
func buildSearchParams(idx *engine.Index, query string, opts *engine.SearchOptions) (map[string]any, error) {
	params := map[string]any{
		"q":        query,
		pageKey:    opts.Page,
		perPageKey: opts.PerPage,
	}
	if strings.TrimSpace(query) == "" {
		params["q"] = wildcardQuery
	}

	queryBy, weights := queryFields(idx, opts.Fields)
	if len(queryBy) > 0 {
		params["query_by"] = strings.Join(queryBy, ",")
		if weights != "" {
			params["query_by_weights"] = weights
		}
	}

	filter, err := buildFilter(idx, opts.Filters)
	if err != nil {
		return nil, err
	}
	if opts.GeoFilter != nil {
		field, err := geoFieldName(idx, opts.GeoFilter.Field)
		if err != nil {
			return nil, err
		}
		geo := fmt.Sprintf("%s:(%s, %s, %s km)", field,
			engine.FormatNumber(opts.GeoFilter.Point.Lat),
			engine.FormatNumber(opts.GeoFilter.Point.Lng),
			engine.FormatNumber(opts.GeoFilter.RadiusMeters/1000))
		filter = joinAnd(filter, geo)
	}
	if filter != "" {
		params["filter_by"] = filter
	}

	facets := append([]string{}, opts.Facets...)
	for _, field := range opts.Stats {
		if !slices.Contains(facets, field) {
			facets = append(facets, field)
		}
	}
	for _, field := range facets {
		if err := engine.ValidateFieldName(field); err != nil {
			return nil, err
		}
	}
	if len(facets) > 0 {
		params["facet_by"] = strings.Join(facets, ",")
		params["max_facet_values"] = opts.MaxValuesPerFacet
	}

	sort := []string{}
	for _, s := range opts.Sort {
		if err := engine.ValidateFieldName(s.Field); err != nil {
			return nil, err
		}
		sort = append(sort, s.Field+":"+direction(s.Desc))
	}
	if opts.GeoSort != nil {
		field, err := geoFieldName(idx, opts.GeoSort.Field)
		if err != nil {
			return nil, err
		}
		sort = append(sort, fmt.Sprintf("%s(%s, %s):%s", field,
			engine.FormatNumber(opts.GeoSort.Point.Lat),
			engine.FormatNumber(opts.GeoSort.Point.Lng),
			direction(opts.GeoSort.Desc)))
	}
	if len(sort) > 0 {
		params["sort_by"] = strings.Join(sort, ",")
	}

	if opts.Highlight && len(queryBy) > 0 {
		params["highlight_fields"] = strings.Join(queryBy, ",")
		params["highlight_start_tag"] = engine.HighlightPreTag
		params["highlight_end_tag"] = engine.HighlightPostTag
	}
	if len(opts.Retrieve) > 0 {
		params["include_fields"] = strings.Join(engine.WithObjectID(opts.Retrieve), ",")
	}

	if opts.IsVectorSearch() {
		field := opts.ResolveEmbeddingField(idx)
		if field == "" {
			return nil, engine.NewValidationError("index %s: an embedding field is required for vector search", idx.Handle)
		}
		vector := make([]string, 0, len(opts.Embedding))
		for _, f := range opts.Embedding {
			vector = append(vector, strconv.FormatFloat(float64(f), 'f', -1, 32))
		}
		k := max(opts.Page*opts.PerPage, minVectorHits)
		// a text query alongside the vector makes Typesense fuse both rankings
		params["vector_query"] = fmt.Sprintf("%s:([%s], k:%d)", field, strings.Join(vector, ","), k)
	}

	for k, v := range opts.Native {
		params[k] = v
	}
	return params, nil
}

// queryFields returns the fields to search on. Without an explicit list the
// searchable fields are used, ordered by weight.
func queryFields(idx *engine.Index, fields []string) ([]string, string) {
	if len(fields) > 0 {
		return fields, ""
	}
	searchable := idx.SearchableFields()
	slices.SortStableFunc(searchable, func(a, b engine.FieldMapping) int {
		return cmp.Compare(b.Weight, a.Weight)
	})
	names := make([]string, 0, len(searchable))
	weights := make([]string, 0, len(searchable))
	weighted := false
	for _, fm := range searchable {
		names = append(names, fm.IndexFieldName)
		weights = append(weights, strconv.Itoa(max(fm.Weight, 1)))
		weighted = weighted || fm.Weight > 0
	}
	if !weighted {
		return names, ""
	}
	return names, strings.Join(weights, ",")
}

func geoFieldName(idx *engine.Index, field string) (string, error) {
	if t, ok := idx.FieldType(field); ok && t == engine.FieldGeoPoint {
		return field, nil
	}
	for _, fm := range idx.FieldMappings {
		if fm.IndexFieldType == engine.FieldGeoPoint {
			return fm.IndexFieldName, nil
		}
	}
	return "", engine.NewValidationError("index %s: a geo point field is required for geo search", idx.Handle)
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
				clauses = append(clauses, f.Field+":>="+lit)
			}
			if f.Range.Max != nil {
				lit, err := filterLiteral(fieldType, f.Range.Max)
				if err != nil {
					return "", err
				}
				clauses = append(clauses, f.Field+":<="+lit)
			}
			continue
		}

		if len(f.Values) == 0 {
			return "", engine.NewValidationError("filter on %q has no values", f.Field)
		}
		values := make([]string, 0, len(f.Values))
		for _, v := range f.Values {
			lit, err := filterLiteral(fieldType, v)
			if err != nil {
				return "", err
			}
			values = append(values, lit)
		}
		if len(values) == 1 {
			clauses = append(clauses, f.Field+":="+values[0])
			continue
		}
		clauses = append(clauses, f.Field+":=["+strings.Join(values, ",")+"]")
	}
	return strings.Join(clauses, " && "), nil
}

// filterLiteral renders a filter value. Strings are always backtick quoted
// and escaped, dates become epoch seconds.
func filterLiteral(t engine.FieldType, v any) (string, error) {
	if t == engine.FieldDate {
		if epoch, ok := engine.DateToEpoch(v); ok {
			return strconv.FormatInt(epoch, 10), nil
		}
	}
	switch value := v.(type) {
	case string:
		return engine.QuoteBacktick(value), nil
	case bool:
		return strconv.FormatBool(value), nil
	case nil:
		return "", engine.NewValidationError("null filter values are not supported")
	default:
		if f, ok := engine.Float(value); ok {
			return engine.FormatNumber(f), nil
		}
		return engine.QuoteBacktick(engine.FacetKey(value)), nil
	}
}

func joinAnd(a, b string) string {
	if a == "" {
		return b
	}
	return a + " && " + b
}

func direction(desc bool) string {
	if desc {
		return "desc"
	}
	return "asc"
}

func toResult(opts *engine.SearchOptions, resp gjson.Result) (*engine.SearchResult, error) {
	res := engine.NewSearchResult(opts)
	if opts.HasNative(pageKey, perPageKey, offsetKey, limitKey) {
		if perPage := int(resp.Get("request_params.per_page").Int()); perPage > 0 {
			res.PerPage = perPage
		}
		if page := int(resp.Get(pageKey).Int()); page > 0 {
			res.Page = page
		}
	}

	for _, hit := range resp.Get("hits").Array() {
		source := map[string]any{}
		if err := json.Unmarshal([]byte(hit.Get("document").Raw), &source); err != nil {
			return nil, fmt.Errorf("decoding hit: %w", err)
		}
		id := source[idField]
		if objectID, found := source[engine.ObjectIDField]; found {
			id = objectID
		}
		delete(source, idField)

		var highlights map[string][]string
		if opts.Highlight {
			highlights = hitHighlights(hit)
		}
		res.Hits = append(res.Hits, engine.NormalizeHit(source, id, hitScore(hit), highlights))
	}

	res.SetTotal(int(resp.Get("found").Int()))
	if took := resp.Get("search_time_ms"); took.Exists() {
		ms := int(took.Int())
		res.ProcessingTimeMS = &ms
	}

	for _, field := range opts.Facets {
		res.Facets[field] = engine.SortFacetValues(facetCounts(resp, field), opts.MaxValuesPerFacet)
	}
	for _, field := range opts.Stats {
		stats := facetField(resp, field).Get("stats")
		if !stats.Exists() {
			continue
		}
		res.Stats[field] = engine.FieldStats{
			Min:   stats.Get("min").Float(),
			Max:   stats.Get("max").Float(),
			Avg:   stats.Get("avg").Float(),
			Sum:   stats.Get("sum").Float(),
			Count: int(stats.Get("total_values").Int()),
		}
	}

	res.Raw = json.RawMessage(resp.Raw)
	return res, nil
}

// hitScore prefers the fused rank of hybrid searches, then the text match
// score. Pure vector hits score 1 - distance.
func hitScore(hit gjson.Result) any {
	if fused := hit.Get("hybrid_search_info.rank_fusion_score"); fused.Exists() {
		return fused.Float()
	}
	if textMatch := hit.Get("text_match"); textMatch.Exists() && textMatch.Float() > 0 {
		return textMatch.Float()
	}
	if distance := hit.Get("vector_distance"); distance.Exists() {
		return 1 - distance.Float()
	}
	return nil
}

func hitHighlights(hit gjson.Result) map[string][]string {
	highlights := map[string][]string{}
	hit.Get("highlights").ForEach(func(_, h gjson.Result) bool {
		field := h.Get("field").String()
		fragments := []string{}
		if snippets := h.Get("snippets"); snippets.IsArray() {
			for _, s := range snippets.Array() {
				fragments = append(fragments, s.String())
			}
		} else if snippet := h.Get("snippet"); snippet.Exists() {
			fragments = append(fragments, snippet.String())
		}
		if field != "" && len(fragments) > 0 {
			highlights[field] = fragments
		}
		return true
	})
	return highlights
}

func facetField(resp gjson.Result, field string) gjson.Result {
	for _, fc := range resp.Get("facet_counts").Array() {
		if fc.Get("field_name").String() == field {
			return fc
		}
	}
	return gjson.Result{}
}

func facetCounts(resp gjson.Result, field string) []engine.FacetValue {
	values := []engine.FacetValue{}
	facetField(resp, field).Get("counts").ForEach(func(_, c gjson.Result) bool {
		values = append(values, engine.FacetValue{Value: c.Get("value").String(), Count: int(c.Get("count").Int())})
		return true
	})
	return values
}
