package namespace

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/narwhaldb/narwhal/idset"
	"github.com/narwhaldb/narwhal/index"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
)

// BackgroundTick runs one round of maintenance: index optimization,
// storage flush, TTL eviction and expired-string reclamation. The DB
// layer calls it on a timer; tests call it directly.
func (ns *Namespace) BackgroundTick(ctx context.Context) {
	ns.optimizeIndexes(ctx)
	ns.flushStorage(ctx)
	ns.evictExpired(ctx)
	ns.removeExpiredStrings()
}

// optimizeIndexes materializes sort orders for every ordered index.
// Writers invalidate the build by flipping cancelCommit; a cancelled
// build leaves the namespace NotOptimized and the next tick retries.
func (ns *Namespace) optimizeIndexes(ctx context.Context) {
	if OptimizationState(ns.optState.Load()) == OptimizationCompleted {
		return
	}
	if !ns.optState.CompareAndSwap(int32(NotOptimized), int32(OptimizingIndexes)) {
		return
	}
	ns.cancelCommit.Store(false)

	if err := ns.lock.RLock(); err != nil {
		ns.optState.Store(int32(NotOptimized))
		return
	}
	defer ns.lock.RUnlock()

	cctx, cancel := context.WithTimeout(ctx, ns.config.OptimizationTimeout)
	defer cancel()

	// Commit pending id sets first.
	for _, idx := range ns.indexes {
		idx.Commit()
	}
	if !ns.optState.CompareAndSwap(int32(OptimizingIndexes), int32(OptimizingSortOrders)) {
		return
	}

	type built struct {
		name string
		ids  []idset.RowID
	}
	results := make([]built, len(ns.indexes))
	g, gctx := errgroup.WithContext(cctx)
	for i, idx := range ns.indexes {
		if !idx.IsOrdered() {
			continue
		}
		i, idx := i, idx
		g.Go(func() error {
			ids, err := idx.MakeSortOrders(gctx)
			if err != nil {
				return err
			}
			if ns.cancelCommit.Load() {
				return context.Canceled
			}
			results[i] = built{name: idx.Name(), ids: ids}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		ns.optState.Store(int32(NotOptimized))
		return
	}
	if ns.cancelCommit.Load() {
		ns.optState.Store(int32(NotOptimized))
		return
	}
	orders := make(map[string][]idset.RowID)
	for _, b := range results {
		if b.name != "" {
			orders[b.name] = b.ids
		}
	}
	ns.sortOrders.Store(&orders)
	ns.optState.CompareAndSwap(int32(OptimizingSortOrders), int32(OptimizationCompleted))
}

// OptimizationState reports the current state for stats.
func (ns *Namespace) OptimizationState() OptimizationState {
	return OptimizationState(ns.optState.Load())
}

// flushStorage pushes dirty rows to the store, throttled by the
// configured rate. A write failure turns the namespace read-only.
func (ns *Namespace) flushStorage(ctx context.Context) {
	if ns.storage == nil {
		return
	}
	if err := ns.lock.RLock(); err != nil {
		return
	}
	pending := len(ns.dirtyRows)
	dirty := pending > 0 || ns.sysDirty
	ns.lock.RUnlock()
	if !dirty {
		return
	}
	if pending < ns.config.SyncStorageFlushLimit && !ns.flushLimiter.Allow() {
		return
	}

	if err := ns.lock.Lock(); err != nil {
		return
	}
	err := ns.stageDirty()
	ns.lock.Unlock()
	if err == nil {
		ns.storageMu.Lock()
		err = ns.storage.Flush()
		ns.storageMu.Unlock()
	}
	if err != nil {
		ns.logger.Errorf("namespace %s: storage flush failed, marking read only: %v", ns.name, err)
		ns.lock.MarkReadOnly()
	}
}

// evictExpired deletes rows whose TTL index value plus the configured
// horizon passed.
func (ns *Namespace) evictExpired(ctx context.Context) {
	now := time.Now().Unix()
	if err := ns.lock.Lock(); err != nil {
		return
	}
	defer ns.lock.Unlock()
	for _, idx := range ns.indexes {
		def := idx.Def()
		if def.IndexType != index.KindTTL || def.Opts.ExpireAfter <= 0 {
			continue
		}
		horizon := variant.NewInt64(now - def.Opts.ExpireAfter)
		res, err := idx.SelectKey(ctx, variant.VariantArray{horizon}, query.CondLt, index.SelectOpts{})
		if err != nil {
			continue
		}
		var expired []idset.RowID
		for _, r := range res {
			if r.Ids == nil {
				continue
			}
			r.Ids.ForEach(func(id idset.RowID) bool {
				expired = append(expired, id)
				return true
			})
		}
		for _, id := range expired {
			if err := ns.deleteRow(id, 0); err != nil {
				ns.logger.Errorf("namespace %s: ttl eviction of row %d: %v", ns.name, id, err)
			}
		}
	}
}

// removeExpiredStrings releases zero-ref interned strings outside the
// mutation path.
func (ns *Namespace) removeExpiredStrings() {
	if err := ns.lock.Lock(); err != nil {
		return
	}
	defer ns.lock.Unlock()
	for _, idx := range ns.indexes {
		idx.RemoveExpiredStrings()
	}
}
