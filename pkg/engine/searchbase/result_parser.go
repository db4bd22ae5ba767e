// SPDX-License-Identifier: Apache-2.0

package searchbase

import (
	"encoding/json"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/xataio/searchsync/internal/searchstore"
	"github.com/xataio/searchsync/pkg/engine"
)

func (e *Engine) toResult(opts *engine.SearchOptions, resp *searchstore.SearchResponse) *engine.SearchResult {
	res := engine.NewSearchResult(opts)
	// native pagination keys describe the page that was actually served
	if size, ok := opts.NativeInt(nativePaginationKeys[1]); ok && size > 0 {
		res.PerPage = size
	}
	if from, ok := opts.NativeInt(nativePaginationKeys[0]); ok && res.PerPage > 0 {
		res.Page = from/res.PerPage + 1
	}

	for _, hit := range resp.Hits.Hits {
		res.Hits = append(res.Hits, engine.NormalizeHit(hit.Source, hit.ID, hit.Score, hit.Highlight))
	}
	res.SetTotal(resp.Hits.Total.Value)
	took := resp.Took
	res.ProcessingTimeMS = &took

	for i, field := range opts.Facets {
		res.Facets[field] = parseTermsBuckets(resp.Raw, facetAggPrefix+strconv.Itoa(i), opts.MaxValuesPerFacet)
	}
	for i, field := range opts.Stats {
		if stats, ok := parseStats(resp.Raw, statsAggPrefix+strconv.Itoa(i)); ok {
			res.Stats[field] = stats
		}
	}
	for i, h := range opts.Histograms {
		res.Histograms[h.Field] = parseHistogram(resp.Raw, histogramAggPrefix+strconv.Itoa(i))
	}
	if opts.GeoGrid != nil {
		res.GeoClusters = parseGeoGrid(resp.Raw)
	}

	for _, s := range resp.Suggest[phraseSuggestion] {
		for _, option := range s.Options {
			res.Suggestions = append(res.Suggestions, option.Text)
		}
	}

	if len(resp.Raw) > 0 {
		res.Raw = json.RawMessage(resp.Raw)
	}
	return res
}

func aggregation(raw []byte, name string) gjson.Result {
	return gjson.GetBytes(raw, "aggregations."+name)
}

func parseTermsBuckets(raw []byte, name string, maxValues int) []engine.FacetValue {
	values := []engine.FacetValue{}
	aggregation(raw, name).Get("buckets").ForEach(func(_, bucket gjson.Result) bool {
		key := bucket.Get("key_as_string")
		if !key.Exists() {
			key = bucket.Get("key")
		}
		values = append(values, engine.FacetValue{
			Value: key.String(),
			Count: int(bucket.Get("doc_count").Int()),
		})
		return true
	})
	return engine.SortFacetValues(values, maxValues)
}

func parseStats(raw []byte, name string) (engine.FieldStats, bool) {
	agg := aggregation(raw, name)
	if !agg.Exists() {
		return engine.FieldStats{}, false
	}
	return engine.FieldStats{
		Min:   agg.Get("min").Float(),
		Max:   agg.Get("max").Float(),
		Avg:   agg.Get("avg").Float(),
		Sum:   agg.Get("sum").Float(),
		Count: int(agg.Get("count").Int()),
	}, true
}

func parseHistogram(raw []byte, name string) []engine.HistogramBucket {
	buckets := []engine.HistogramBucket{}
	aggregation(raw, name).Get("buckets").ForEach(func(_, bucket gjson.Result) bool {
		buckets = append(buckets, engine.HistogramBucket{
			Key:   bucket.Get("key").Float(),
			Count: int(bucket.Get("doc_count").Int()),
		})
		return true
	})
	return buckets
}

func parseGeoGrid(raw []byte) []engine.GeoCluster {
	clusters := []engine.GeoCluster{}
	aggregation(raw, geoGridAgg).Get("buckets").ForEach(func(_, bucket gjson.Result) bool {
		centroid := bucket.Get(geoCentroidAgg + ".location")
		clusters = append(clusters, engine.GeoCluster{
			Key:   bucket.Get("key").String(),
			Count: int(bucket.Get("doc_count").Int()),
			Lat:   centroid.Get("lat").Float(),
			Lng:   centroid.Get("lon").Float(),
		})
		return true
	})
	return clusters
}
