// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"cmp"
	"encoding/json"
	"slices"
	"strconv"

	jsonlib "github.com/xataio/searchsync/internal/json"
)

type FacetValue struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

type FieldStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Sum   float64 `json:"sum"`
	Count int     `json:"count"`
}

type HistogramBucket struct {
	Key   float64 `json:"key"`
	Count int     `json:"count"`
}

type GeoCluster struct {
	Key   string  `json:"key"`
	Count int     `json:"count"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
}

// SearchResult is the backend independent search response. Every hit carries
// a string objectID, a numeric or null _score and a _highlights map.
type SearchResult struct {
	Hits             []Document                   `json:"hits"`
	TotalHits        int                          `json:"totalHits"`
	Page             int                          `json:"page"`
	PerPage          int                          `json:"perPage"`
	TotalPages       int                          `json:"totalPages"`
	ProcessingTimeMS *int                         `json:"processingTimeMs"`
	Facets           map[string][]FacetValue      `json:"facets"`
	Stats            map[string]FieldStats        `json:"stats"`
	Histograms       map[string][]HistogramBucket `json:"histograms"`
	Suggestions      []string                     `json:"suggestions"`
	GeoClusters      []GeoCluster                 `json:"geoClusters"`
	Raw              any                          `json:"raw,omitempty"`
}

// NewSearchResult returns an empty result for the given pagination.
func NewSearchResult(opts *SearchOptions) *SearchResult {
	return &SearchResult{
		Hits:        []Document{},
		Page:        opts.Page,
		PerPage:     opts.PerPage,
		TotalPages:  1,
		Facets:      map[string][]FacetValue{},
		Stats:       map[string]FieldStats{},
		Histograms:  map[string][]HistogramBucket{},
		Suggestions: []string{},
		GeoClusters: []GeoCluster{},
	}
}

// SetTotal records the total hit count and derives the page count.
func (r *SearchResult) SetTotal(total int) {
	r.TotalHits = total
	r.TotalPages = TotalPages(total, r.PerPage)
}

// TotalPages returns ceil(total/perPage), never less than 1.
func TotalPages(total, perPage int) int {
	if perPage <= 0 || total <= 0 {
		return 1
	}
	return (total + perPage - 1) / perPage
}

// NormalizeHit builds a unified hit out of a backend source document.
func NormalizeHit(source map[string]any, id any, score any, highlights map[string][]string) Document {
	hit := make(Document, len(source)+3)
	for k, v := range source {
		hit[k] = v
	}
	if id == nil {
		id = source[ObjectIDField]
	}
	if s, ok := CoerceID(id); ok {
		hit[ObjectIDField] = s
	} else {
		hit[ObjectIDField] = ""
	}
	hit[ScoreField] = ScoreValue(score)
	if highlights == nil {
		highlights = map[string][]string{}
	}
	hit[HighlightsField] = highlights
	return hit
}

// ScoreValue converts a backend score into a float64, or nil when absent.
func ScoreValue(v any) any {
	switch s := v.(type) {
	case float64:
		return s
	case float32:
		return float64(s)
	case int:
		return float64(s)
	case int64:
		return float64(s)
	case *float64:
		if s == nil {
			return nil
		}
		return *s
	case *float32:
		if s == nil {
			return nil
		}
		return float64(*s)
	case json.Number:
		f, err := s.Float64()
		if err != nil {
			return nil
		}
		return f
	case string:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return f
	default:
		return nil
	}
}

// SortFacetValues orders values by count descending then by value, and keeps
// at most max entries when max is positive.
func SortFacetValues(values []FacetValue, max int) []FacetValue {
	slices.SortStableFunc(values, func(a, b FacetValue) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Value, b.Value)
	})
	if max > 0 && len(values) > max {
		values = values[:max]
	}
	return values
}

// FacetValuesFromCounts converts a value->count map into sorted facet values.
func FacetValuesFromCounts(counts map[string]int, max int) []FacetValue {
	values := make([]FacetValue, 0, len(counts))
	for v, c := range counts {
		values = append(values, FacetValue{Value: v, Count: c})
	}
	return SortFacetValues(values, max)
}

// FacetKey renders a facet bucket key as a string.
func FacetKey(v any) string {
	switch k := v.(type) {
	case string:
		return k
	case bool:
		return strconv.FormatBool(k)
	default:
		if s, ok := CoerceID(v); ok {
			return s
		}
		b, _ := jsonlib.Marshal(v)
		return string(b)
	}
}
