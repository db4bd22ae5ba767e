// SPDX-License-Identifier: Apache-2.0

package searchstore

import (
	"encoding/json"
	"time"
)

type SearchRequest struct {
	Index string
	Body  []byte
	// Scroll keeps a scroll context open for the given duration when set.
	Scroll time.Duration
}

type MultiSearchItem struct {
	Index string
	Body  []byte
}

type DeleteByQueryRequest struct {
	Index   []string
	Query   map[string]any
	Refresh bool
}

type IndexWithIDRequest struct {
	Index   string
	ID      string
	Body    []byte
	Refresh string
}

type BulkItem struct {
	Index  *BulkIndex      `json:"index,omitempty"`
	Delete *BulkIndex      `json:"delete,omitempty"`
	Doc    map[string]any  `json:"-"`
	Status int             `json:"-"`
	Error  json.RawMessage `json:"-"`
}

type BulkIndex struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

// ID returns the document id targeted by the bulk item.
func (i BulkItem) ID() string {
	switch {
	case i.Index != nil:
		return i.Index.ID
	case i.Delete != nil:
		return i.Delete.ID
	}
	return ""
}

type BulkResponseItem struct {
	Index  *BulkResponseItemStatus `json:"index,omitempty"`
	Delete *BulkResponseItemStatus `json:"delete,omitempty"`
}

type BulkResponseItemStatus struct {
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error"`
}

type BulkResponse struct {
	Errors bool               `json:"errors"`
	Items  []BulkResponseItem `json:"items"`
}

// AliasAction is one entry of an _aliases request. Exactly one of the fields
// is set.
type AliasAction struct {
	Add         *AliasTarget `json:"add,omitempty"`
	Remove      *AliasTarget `json:"remove,omitempty"`
	RemoveIndex *AliasTarget `json:"remove_index,omitempty"`
}

type AliasTarget struct {
	Index string `json:"index"`
	Alias string `json:"alias,omitempty"`
}

type Highlight struct {
	Fields   map[string]any `json:"fields"`
	PreTags  []string       `json:"pre_tags,omitempty"`
	PostTags []string       `json:"post_tags,omitempty"`
}

type BoolFilter struct {
	Filter             []Condition `json:"filter,omitempty"`
	Should             []Condition `json:"should,omitempty"`
	Must               []Condition `json:"must,omitempty"`
	MustNot            []Condition `json:"must_not,omitempty"`
	MinimumShouldMatch int         `json:"minimum_should_match,omitempty"`
}

type ExistsFilter struct {
	Field string `json:"field"`
}

type Condition struct {
	Term           map[string]any `json:"term,omitempty"`
	Terms          map[string]any `json:"terms,omitempty"`
	Prefix         map[string]any `json:"prefix,omitempty"`
	IDs            map[string]any `json:"ids,omitempty"`
	Range          map[string]any `json:"range,omitempty"`
	GeoDistance    map[string]any `json:"geo_distance,omitempty"`
	Exists         *ExistsFilter  `json:"exists,omitempty"`
	Bool           *BoolFilter    `json:"bool,omitempty"`
	MultiMatch     *MultiMatch    `json:"multi_match,omitempty"`
	MatchAll       *struct{}      `json:"match_all,omitempty"`
	// KNN holds the backend specific vector clause.
	KNN any `json:"knn,omitempty"`
}

type MultiMatch struct {
	Query  string   `json:"query"`
	Type   string   `json:"type,omitempty"`
	Fields []string `json:"fields,omitempty"`
}

// ESKNNQuery is the Elasticsearch knn query clause.
type ESKNNQuery struct {
	Field         string    `json:"field"`
	QueryVector   []float32 `json:"query_vector"`
	NumCandidates int       `json:"num_candidates"`
	K             int       `json:"k,omitempty"`
}

// OSKNNQuery is the OpenSearch knn query clause, keyed by field.
type OSKNNQuery struct {
	Vector []float32 `json:"vector"`
	K      int       `json:"k"`
}

type QueryBody struct {
	Query          *Condition             `json:"query,omitempty"`
	Sort           []map[string]any       `json:"sort,omitempty"`
	Highlight      *Highlight             `json:"highlight,omitempty"`
	Aggs           map[string]Aggregation `json:"aggs,omitempty"`
	Suggest        map[string]any         `json:"suggest,omitempty"`
	Source         any                    `json:"_source,omitempty"`
	From           *int                   `json:"from,omitempty"`
	Size           *int                   `json:"size,omitempty"`
	TrackTotalHits bool                   `json:"track_total_hits,omitempty"`
	PostFilter     *Condition             `json:"post_filter,omitempty"`
}

type Aggregation struct {
	Filter       *Condition             `json:"filter,omitempty"`
	Terms        *TermsAgg              `json:"terms,omitempty"`
	Stats        *FieldAgg              `json:"stats,omitempty"`
	Histogram    *HistogramAgg          `json:"histogram,omitempty"`
	GeohashGrid  *GeohashGridAgg        `json:"geohash_grid,omitempty"`
	GeoCentroid  *FieldAgg              `json:"geo_centroid,omitempty"`
	Aggregations map[string]Aggregation `json:"aggs,omitempty"`
}

type TermsAgg struct {
	Field   string         `json:"field"`
	Size    int            `json:"size"`
	Include string         `json:"include,omitempty"`
	Order   map[string]any `json:"order,omitempty"`
}

type FieldAgg struct {
	Field string `json:"field"`
}

type HistogramAgg struct {
	Field       string  `json:"field"`
	Interval    float64 `json:"interval"`
	MinDocCount int     `json:"min_doc_count"`
}

type GeohashGridAgg struct {
	Field     string `json:"field"`
	Precision int    `json:"precision"`
}

type Hit struct {
	ID        string              `json:"_id"`
	Index     string              `json:"_index"`
	Source    map[string]any      `json:"_source"`
	Score     *float64            `json:"_score"`
	Highlight map[string][]string `json:"highlight"`
}

type Hits struct {
	Total struct {
		Value    int    `json:"value"`
		Relation string `json:"relation"`
	} `json:"total"`
	Hits []Hit `json:"hits"`
}

type Suggestion struct {
	Text    string `json:"text"`
	Options []struct {
		Text  string  `json:"text"`
		Score float64 `json:"score"`
	} `json:"options"`
}

type SearchResponse struct {
	Took         int                     `json:"took"`
	ScrollID     string                  `json:"_scroll_id"`
	Hits         Hits                    `json:"hits"`
	Aggregations map[string]any          `json:"aggregations"`
	Suggest      map[string][]Suggestion `json:"suggest"`
	// Raw is the undecoded response body.
	Raw json.RawMessage `json:"-"`
}

type Document struct {
	ID     string         `json:"_id"`
	Index  string         `json:"_index"`
	Found  bool           `json:"found"`
	Source map[string]any `json:"_source"`
}

type Mappings struct {
	Properties map[string]any `json:"properties"`
	Dynamic    any            `json:"dynamic"`
}

type MappingResponse map[string]struct {
	Mappings Mappings `json:"mappings"`
}

type CountResponse struct {
	Count int `json:"count"`
}
