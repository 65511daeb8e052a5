package index

import (
	"context"

	"github.com/narwhaldb/narwhal/idset"
	"github.com/narwhaldb/narwhal/payload"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
)

// RowAccessor hands an index read access to row payloads without a
// reference to the namespace. The accessor must only be called under
// the namespace read or write lock.
type RowAccessor func(id idset.RowID) payload.Value

// SelectOpts tunes SelectKey behavior.
type SelectOpts struct {
	ItemsCount      int
	MaxIterations   int
	Distinct        bool
	ForceComparator bool
	UnbuiltSort     bool
}

// SelectResult is one alternative produced by SelectKey: either a set
// of ids (index hit) or a comparator to run over candidate rows.
type SelectResult struct {
	Ids        *idset.IdSet
	Comparator *Comparator
	Ranks      map[idset.RowID]float64
}

// SelectKeyResults is the full answer of SelectKey. Multiple id-set
// results are unioned by the planner.
type SelectKeyResults []SelectResult

// MemStat reports the approximate footprint of an index.
type MemStat struct {
	Name        string `json:"name"`
	UniqKeys    int    `json:"unique_keys_count"`
	DataSize    int    `json:"data_size"`
	SortOrders  int    `json:"sort_orders_size"`
	ExpiredStrs int    `json:"expired_strings_count"`
}

// Index is the contract every index kind satisfies. Mutations run
// under the namespace write lock; SelectKey under the read lock.
type Index interface {
	// Def returns the definition the index was built from.
	Def() *Def
	// Name returns the index name.
	Name() string
	// Fields returns the payload fields the index covers.
	Fields() []int
	// Upsert stores key->id and returns the canonical stored variant
	// (interned for strings). Calling twice with the same id on a
	// non-array index replaces the previous key.
	Upsert(key variant.Variant, id idset.RowID) (variant.Variant, error)
	// Delete removes key->id; silent on missing keys.
	Delete(key variant.Variant, id idset.RowID) error
	// SelectKey resolves a condition into id sets or comparators.
	SelectKey(ctx context.Context, keys variant.VariantArray, cond query.CondType, opts SelectOpts) (SelectKeyResults, error)
	// Commit finalizes pending id sets after a batch of mutations.
	Commit()
	// MakeSortOrders materializes row ids in key order for ordered
	// kinds; others return nil. Cancelable via ctx.
	MakeSortOrders(ctx context.Context) ([]idset.RowID, error)
	// Clone returns a deep copy used by DDL staging.
	Clone() Index
	// IsOrdered reports range/sort support.
	IsOrdered() bool
	// MemStat reports the approximate footprint.
	MemStat() MemStat
	// RemoveExpiredStrings releases interned strings whose refcount
	// dropped to zero. Runs outside the hot path.
	RemoveExpiredStrings()
}

// Factory builds non-core index kinds (fulltext, rtree). Registered by
// the sub-packages to keep the registry free of upward imports.
type Factory func(def *Def, fields []int, rows RowAccessor) (Index, error)

var extraKinds = map[string]Factory{}

// RegisterKind installs a factory for an index type name.
func RegisterKind(indexType string, f Factory) { extraKinds[indexType] = f }

// New builds an index from its definition. fields lists the payload
// fields covered (one for scalar kinds, several for composite).
func New(def *Def, fields []int, rows RowAccessor) (Index, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if f, ok := extraKinds[def.IndexType]; ok {
		return f(def, fields, rows)
	}
	switch def.IndexType {
	case KindStore:
		return newStore(def, fields, rows), nil
	case KindHash:
		return newHash(def, fields, rows), nil
	case KindTree, KindTTL:
		return newTree(def, fields, rows), nil
	}
	panic("unreachable: Validate covers all kinds")
}
