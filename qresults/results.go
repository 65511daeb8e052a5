// Package qresults holds the result container a select produces: item
// references with ranks, namespace contexts for lazy serialization,
// aggregation results and joined sub-results. A Results is immutable
// once the selecter hands it out and safe to share across goroutines.
package qresults

import (
	"github.com/narwhaldb/narwhal/idset"
	"github.com/narwhaldb/narwhal/payload"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/tags"
	"github.com/narwhaldb/narwhal/variant"
)

// ItemRef points at one matched row. Value pins the payload buffer via
// its reference count, so the row stays readable after the writer
// recycles the slot.
type ItemRef struct {
	ID    idset.RowID
	NsID  int
	Rank  float64
	Value payload.Value
}

// NsContext snapshots what is needed to serialize rows of one
// namespace without touching the live namespace again.
type NsContext struct {
	Name         string
	Type         *payload.Type
	Tags         *tags.Matcher
	FieldsFilter []string
	Schema       []byte
}

// FacetItem is one facet bucket.
type FacetItem struct {
	Values []string `json:"values"`
	Count  int      `json:"count"`
}

// AggregationResult is the computed value of one aggregation request.
type AggregationResult struct {
	Type     query.AggType        `json:"type"`
	Fields   []string             `json:"fields"`
	Value    float64              `json:"value,omitempty"`
	Facets   []FacetItem          `json:"facets,omitempty"`
	Distinct variant.VariantArray `json:"-"`
}

// Results is the cursor source over matched rows.
type Results struct {
	Items        []ItemRef
	NsContexts   []NsContext
	Aggregations []AggregationResult
	TotalCount   int
	Explain      string

	// Joined maps a row id to the sub-results each join produced for
	// that row, in join declaration order.
	Joined map[idset.RowID][]*Results
}

// New creates an empty result set.
func New() *Results {
	return &Results{}
}

// AddNsContext registers a namespace context and returns its NsID.
func (r *Results) AddNsContext(ctx NsContext) int {
	r.NsContexts = append(r.NsContexts, ctx)
	return len(r.NsContexts) - 1
}

// Add appends a matched row, pinning its payload.
func (r *Results) Add(ref ItemRef) {
	ref.Value.AddRef()
	r.Items = append(r.Items, ref)
}

// Len returns the number of matched rows.
func (r *Results) Len() int { return len(r.Items) }

// Close releases every pinned payload. The results are unusable after.
func (r *Results) Close() {
	for i := range r.Items {
		r.Items[i].Value.Release()
	}
	r.Items = nil
	for _, subs := range r.Joined {
		for _, s := range subs {
			s.Close()
		}
	}
	r.Joined = nil
}
