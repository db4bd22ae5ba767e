// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/xataio/searchsync/pkg/engine"
)

// native pagination keys, taking precedence over page and perPage
const (
	nativeOffset = "offset"
	nativeLimit  = "limit"
)

const earthRadiusMeters = 6371008.8

type match struct {
	id    string
	seq   int
	doc   engine.Document
	score *float64
}

func (e *Engine) Search(ctx context.Context, idx *engine.Index, query string, opts *engine.SearchOptions) (*engine.SearchResult, error) {
	start := time.Now()
	opts = opts.Normalised()

	e.mutex.RLock()
	defer e.mutex.RUnlock()
	c, err := e.lookup(idx)
	if err != nil {
		return nil, err
	}

	matches, err := e.evaluate(c, idx, query, opts)
	if err != nil {
		return nil, err
	}

	result := engine.NewSearchResult(opts)
	result.SetTotal(len(matches))
	for _, field := range opts.Facets {
		result.Facets[field] = facetValues(matches, field, "", opts.MaxValuesPerFacet)
	}
	for _, field := range opts.Stats {
		if s, ok := fieldStats(matches, field); ok {
			result.Stats[field] = s
		}
	}
	for _, h := range opts.Histograms {
		result.Histograms[h.Field] = histogram(matches, h)
	}

	offset, limit := opts.Offset(), opts.PerPage
	if n, ok := opts.NativeInt(nativeOffset); ok {
		offset = max(n, 0)
	}
	if n, ok := opts.NativeInt(nativeLimit); ok {
		limit = max(n, 0)
	}
	terms := queryTerms(query)
	for _, m := range page(matches, offset, limit) {
		var highlights map[string][]string
		if opts.Highlight {
			highlights = highlight(m.doc, searchFields(idx, opts), terms)
		}
		var score any
		if m.score != nil {
			score = *m.score
		}
		result.Hits = append(result.Hits, engine.NormalizeHit(project(m.doc, opts.Retrieve), m.id, score, highlights))
	}

	elapsed := int(time.Since(start).Milliseconds())
	result.ProcessingTimeMS = &elapsed
	return result, nil
}

func (e *Engine) MultiSearch(ctx context.Context, queries []engine.Query) ([]*engine.SearchResult, error) {
	results := make([]*engine.SearchResult, 0, len(queries))
	for _, q := range queries {
		res, err := e.Search(ctx, q.Index, q.Query, q.Options)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// SearchFacetValues counts the values of each field that contain the query,
// over the documents matching the filters.
func (e *Engine) SearchFacetValues(ctx context.Context, idx *engine.Index, req engine.FacetValuesRequest) (map[string][]engine.FacetValue, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	c, err := e.lookup(idx)
	if err != nil {
		return nil, err
	}

	opts := engine.NewSearchOptions()
	opts.Filters = req.Filters
	matches, err := e.evaluate(c, idx, "", opts)
	if err != nil {
		return nil, err
	}
	maxPerField := req.MaxPerField
	if maxPerField <= 0 {
		maxPerField = engine.DefaultMaxValuesPerFacet
	}
	out := make(map[string][]engine.FacetValue, len(req.Fields))
	for _, field := range req.Fields {
		out[field] = facetValues(matches, field, req.Query, maxPerField)
	}
	return out, nil
}

// evaluate returns the ranked documents matching the query, the filters and
// the geo filter.
func (e *Engine) evaluate(c *collection, idx *engine.Index, query string, opts *engine.SearchOptions) ([]match, error) {
	terms := queryTerms(query)
	fields := searchFields(idx, opts)

	var vectorField string
	if opts.IsVectorSearch() {
		if vectorField = opts.ResolveEmbeddingField(idx); vectorField == "" {
			return nil, engine.NewValidationError("index %s: an embedding field is required for vector search", idx.Handle)
		}
	}
	for _, f := range opts.Filters {
		if f.Range == nil && len(f.Values) == 0 {
			return nil, engine.NewValidationError("filters: empty value list for %q", f.Field)
		}
	}

	matches := make([]match, 0, len(c.docs))
	for id, doc := range c.docs {
		if !matchesFilters(idx, doc, opts.Filters) {
			continue
		}
		if opts.GeoFilter != nil {
			p, ok := engine.GeoPointValue(doc[geoField(idx, opts.GeoFilter.Field)])
			if !ok || distance(p, opts.GeoFilter.Point) > opts.GeoFilter.RadiusMeters {
				continue
			}
		}

		textScore, textMatch := score(doc, fields, terms)
		m := match{id: id, seq: c.seq[id], doc: doc}
		switch {
		case vectorField != "":
			// text and vector both contribute. A pure vector query keeps every
			// document carrying a vector.
			similarity, hasVector := cosine(doc[vectorField], opts.Embedding)
			textHit := len(terms) > 0 && textMatch
			if !hasVector && !textHit {
				continue
			}
			total := similarity
			if textHit {
				total += textScore
			}
			m.score = &total
		case len(terms) > 0:
			if !textMatch {
				continue
			}
			m.score = &textScore
		}
		matches = append(matches, m)
	}

	sortMatches(idx, matches, opts)
	return matches, nil
}

func sortMatches(idx *engine.Index, matches []match, opts *engine.SearchOptions) {
	slices.SortFunc(matches, func(a, b match) int {
		for _, s := range opts.Sort {
			if c := compareValues(a.doc[s.Field], b.doc[s.Field], s.Desc); c != 0 {
				return c
			}
		}
		if gs := opts.GeoSort; gs != nil {
			field := geoField(idx, gs.Field)
			if c := compareValues(geoDistance(a.doc[field], gs.Point), geoDistance(b.doc[field], gs.Point), gs.Desc); c != 0 {
				return c
			}
		}
		if a.score != nil && b.score != nil {
			if c := cmp.Compare(*b.score, *a.score); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.seq, b.seq)
	})
}

// compareValues orders numbers numerically and anything else as strings.
// Missing values always sort last.
func compareValues(a, b any, desc bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	var c int
	af, aNum := engine.Float(a)
	bf, bNum := engine.Float(b)
	if aNum && bNum {
		c = cmp.Compare(af, bf)
	} else {
		c = cmp.Compare(strings.ToLower(engine.FacetKey(a)), strings.ToLower(engine.FacetKey(b)))
	}
	if desc {
		return -c
	}
	return c
}

// matchesFilters ORs the values of one filter and ANDs the filters.
func matchesFilters(idx *engine.Index, doc engine.Document, filters []engine.Filter) bool {
	for _, f := range filters {
		if !matchesFilter(idx, doc[f.Field], f) {
			return false
		}
	}
	return true
}

func matchesFilter(idx *engine.Index, value any, f engine.Filter) bool {
	fieldType, _ := idx.FieldType(f.Field)
	for _, v := range values(value) {
		if f.Range != nil {
			if inRange(fieldType, v, f.Range) {
				return true
			}
			continue
		}
		for _, want := range f.Values {
			if equalValues(fieldType, v, want) {
				return true
			}
		}
	}
	return false
}

func equalValues(t engine.FieldType, have, want any) bool {
	if t.IsNumeric() {
		h, hok := numeric(t, have)
		w, wok := numeric(t, want)
		if hok && wok {
			return h == w
		}
	}
	return engine.FacetKey(have) == engine.FacetKey(want)
}

func inRange(t engine.FieldType, v any, r *engine.Range) bool {
	f, ok := numeric(t, v)
	if !ok {
		return false
	}
	if r.Min != nil {
		lo, ok := numeric(t, r.Min)
		if !ok || f < lo {
			return false
		}
	}
	if r.Max != nil {
		hi, ok := numeric(t, r.Max)
		if !ok || f > hi {
			return false
		}
	}
	return true
}

// numeric reads a comparable number, converting dates to epoch seconds.
func numeric(t engine.FieldType, v any) (float64, bool) {
	if t == engine.FieldDate {
		if f, ok := engine.Float(v); ok {
			epoch, _ := engine.DateToEpoch(f)
			return float64(epoch), true
		}
		epoch, ok := engine.DateToEpoch(v)
		return float64(epoch), ok
	}
	return engine.Float(v)
}

func values(v any) []any {
	switch l := v.(type) {
	case nil:
		return nil
	case []any:
		return l
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out
	case []float64:
		out := make([]any, len(l))
		for i, f := range l {
			out[i] = f
		}
		return out
	case []float32:
		out := make([]any, len(l))
		for i, f := range l {
			out[i] = f
		}
		return out
	default:
		return []any{v}
	}
}

func queryTerms(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// searchFields returns the restricted fields of the request, or the
// searchable mappings of the index.
func searchFields(idx *engine.Index, opts *engine.SearchOptions) map[string]int {
	fields := map[string]int{}
	if len(opts.Fields) > 0 {
		for _, f := range opts.Fields {
			fields[f] = 1
		}
		return fields
	}
	for _, fm := range idx.SearchableFields() {
		fields[fm.IndexFieldName] = max(fm.Weight, 1)
	}
	return fields
}

// score requires every term to appear in at least one searched field and sums
// the weights of the fields containing each term.
func score(doc engine.Document, fields map[string]int, terms []string) (float64, bool) {
	if len(terms) == 0 {
		return 0, true
	}
	total := 0.0
	for _, term := range terms {
		found := false
		for field, weight := range fields {
			for _, v := range values(doc[field]) {
				if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), term) {
					total += float64(weight)
					found = true
					break
				}
			}
		}
		if !found {
			return 0, false
		}
	}
	return total, true
}

func highlight(doc engine.Document, fields map[string]int, terms []string) map[string][]string {
	highlights := map[string][]string{}
	if len(terms) == 0 {
		return highlights
	}
	for field := range fields {
		fragments := []string{}
		for _, v := range values(doc[field]) {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if marked, changed := mark(s, terms); changed {
				fragments = append(fragments, marked)
			}
		}
		if len(fragments) > 0 {
			highlights[field] = fragments
		}
	}
	return highlights
}

// mark wraps every case insensitive occurrence of the terms in highlight tags.
func mark(s string, terms []string) (string, bool) {
	lower := strings.ToLower(s)
	if len(lower) != len(s) {
		return s, false
	}
	covered := make([]bool, len(s))
	changed := false
	for _, term := range terms {
		for from := 0; ; {
			i := strings.Index(lower[from:], term)
			if i < 0 {
				break
			}
			for j := from + i; j < from+i+len(term); j++ {
				covered[j] = true
			}
			changed = true
			from += i + len(term)
		}
	}
	if !changed {
		return s, false
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if covered[i] && (i == 0 || !covered[i-1]) {
			b.WriteString(engine.HighlightPreTag)
		}
		b.WriteByte(s[i])
		if covered[i] && (i == len(s)-1 || !covered[i+1]) {
			b.WriteString(engine.HighlightPostTag)
		}
	}
	return b.String(), true
}

func project(doc engine.Document, retrieve []string) map[string]any {
	if len(retrieve) == 0 || slices.Contains(retrieve, "*") {
		return doc
	}
	out := make(map[string]any, len(retrieve)+1)
	for _, f := range engine.WithObjectID(retrieve) {
		if v, found := doc[f]; found {
			out[f] = v
		}
	}
	return out
}

func page(matches []match, offset, limit int) []match {
	if offset >= len(matches) {
		return nil
	}
	return matches[offset:min(offset+limit, len(matches))]
}

func facetValues(matches []match, field, query string, maxValues int) []engine.FacetValue {
	query = strings.ToLower(query)
	counts := map[string]int{}
	for _, m := range matches {
		seen := map[string]struct{}{}
		for _, v := range values(m.doc[field]) {
			key := engine.FacetKey(v)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if query != "" && !strings.Contains(strings.ToLower(key), query) {
				continue
			}
			counts[key]++
		}
	}
	return engine.FacetValuesFromCounts(counts, maxValues)
}

func fieldStats(matches []match, field string) (engine.FieldStats, bool) {
	s := engine.FieldStats{Min: math.Inf(1), Max: math.Inf(-1)}
	for _, m := range matches {
		for _, v := range values(m.doc[field]) {
			f, ok := engine.Float(v)
			if !ok {
				continue
			}
			s.Min = math.Min(s.Min, f)
			s.Max = math.Max(s.Max, f)
			s.Sum += f
			s.Count++
		}
	}
	if s.Count == 0 {
		return engine.FieldStats{}, false
	}
	s.Avg = s.Sum / float64(s.Count)
	return s, true
}

func histogram(matches []match, h engine.Histogram) []engine.HistogramBucket {
	if h.Interval <= 0 {
		return []engine.HistogramBucket{}
	}
	counts := map[float64]int{}
	for _, m := range matches {
		for _, v := range values(m.doc[h.Field]) {
			if f, ok := engine.Float(v); ok {
				counts[math.Floor(f/h.Interval)*h.Interval]++
			}
		}
	}
	buckets := make([]engine.HistogramBucket, 0, len(counts))
	for key, count := range counts {
		buckets = append(buckets, engine.HistogramBucket{Key: key, Count: count})
	}
	slices.SortFunc(buckets, func(a, b engine.HistogramBucket) int {
		return cmp.Compare(a.Key, b.Key)
	})
	return buckets
}

// geoField maps the default geo field onto the geo point mapping of the index.
func geoField(idx *engine.Index, field string) string {
	if t, ok := idx.FieldType(field); ok && t == engine.FieldGeoPoint {
		return field
	}
	for _, fm := range idx.FieldMappings {
		if fm.IndexFieldType == engine.FieldGeoPoint {
			return fm.IndexFieldName
		}
	}
	return field
}

func geoDistance(v any, from engine.GeoPoint) any {
	p, ok := engine.GeoPointValue(v)
	if !ok {
		return nil
	}
	return distance(p, from)
}

// distance is the haversine distance in meters.
func distance(a, b engine.GeoPoint) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

func cosine(v any, query []float32) (float64, bool) {
	vec := values(v)
	if len(vec) != len(query) || len(vec) == 0 {
		return 0, false
	}
	var dot, na, nb float64
	for i, item := range vec {
		f, ok := engine.Float(item)
		if !ok {
			return 0, false
		}
		q := float64(query[i])
		dot += f * q
		na += f * f
		nb += q * q
	}
	if na == 0 || nb == 0 {
		return 0, true
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}
