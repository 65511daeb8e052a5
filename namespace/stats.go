package namespace

import (
	"github.com/narwhaldb/narwhal/index"
)

// MemStats reports the approximate footprint of a namespace.
type MemStats struct {
	Name           string          `json:"name"`
	ItemsCount     int             `json:"items_count"`
	EmptyItemsCount int            `json:"empty_items_count"`
	DataSize       int             `json:"data_size"`
	WALSize        int             `json:"wal_size"`
	Indexes        []index.MemStat `json:"indexes"`
	Optimization   string          `json:"optimization_state"`
}

// PerfStats carries cumulative operation counters.
type PerfStats struct {
	Name         string `json:"name"`
	TotalUpserts int64  `json:"total_upserts"`
	TotalDeletes int64  `json:"total_deletes"`
	TotalSelects int64  `json:"total_selects"`
	OpenTxs      int32  `json:"open_transactions"`
}

// GetMemStats snapshots the memory stats.
func (ns *Namespace) GetMemStats() (MemStats, error) {
	if err := ns.lock.RLock(); err != nil {
		return MemStats{}, err
	}
	defer ns.lock.RUnlock()
	st := MemStats{
		Name:            ns.name,
		ItemsCount:      ns.itemsCount,
		EmptyItemsCount: len(ns.free),
		WALSize:         ns.wlog.Len(),
	}
	for id := range ns.items {
		if !ns.items[id].IsFree() {
			st.DataSize += len(ns.items[id].Tuple())
		}
	}
	for _, idx := range ns.indexes {
		st.Indexes = append(st.Indexes, idx.MemStat())
	}
	switch OptimizationState(ns.optState.Load()) {
	case NotOptimized:
		st.Optimization = "not_optimized"
	case OptimizingIndexes:
		st.Optimization = "optimizing_indexes"
	case OptimizingSortOrders:
		st.Optimization = "optimizing_sort_orders"
	case OptimizationCompleted:
		st.Optimization = "completed"
	}
	return st, nil
}

// GetPerfStats snapshots the perf counters without taking the lock.
func (ns *Namespace) GetPerfStats() PerfStats {
	return PerfStats{
		Name:         ns.name,
		TotalUpserts: ns.perfUpserts.Load(),
		TotalDeletes: ns.perfDeletes.Load(),
		TotalSelects: ns.perfSelects.Load(),
		OpenTxs:      ns.openTxs.Load(),
	}
}
