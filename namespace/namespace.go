package namespace

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/narwhaldb/narwhal/cjson"
	"github.com/narwhaldb/narwhal/datastore"
	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/idset"
	"github.com/narwhaldb/narwhal/index"
	"github.com/narwhaldb/narwhal/payload"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/tags"
	"github.com/narwhaldb/narwhal/variant"

	// Register the non-core index kinds.
	_ "github.com/narwhaldb/narwhal/index/ftfast"
	_ "github.com/narwhaldb/narwhal/index/ftfuzzy"
	_ "github.com/narwhaldb/narwhal/index/geom"
	"github.com/narwhaldb/narwhal/wal"
)

// Logger is the narrow logging interface the namespace uses.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Infof(format string, args ...interface{})  {}
func (noopLogger) Errorf(format string, args ...interface{}) {}

// ReplState is the replication-facing state persisted with the
// namespace.
type ReplState struct {
	LastLSN   wal.LSN `json:"last_lsn"`
	Slave     bool    `json:"slave"`
	Temporary bool    `json:"temporary"`
	Status    string  `json:"status"`
}

// Namespace is one collection: schema, indexes, row slots, WAL and the
// storage handle. All public operations are safe for concurrent use.
type Namespace struct {
	name string

	lock      locker
	storageMu sync.Mutex

	payloadType *payload.Type
	tagsMatcher *tags.Matcher

	indexes       []index.Index
	indexesByName map[string]int
	pk            int // index position of the PK index, -1 if none

	items      []payload.Value
	free       []idset.RowID
	itemsCount int

	wlog   *wal.WAL
	broker *wal.Broker

	storage      datastore.Store
	codec        datastore.Codec
	dirtyRows    map[idset.RowID]bool // true=upsert, false=delete
	sysDirty     bool
	flushLimiter *rate.Limiter

	schema []byte
	meta   map[string]string

	config    Config
	replState ReplState

	optState     atomic.Int32
	cancelCommit atomic.Bool
	sortOrders   atomic.Pointer[map[string][]idset.RowID]

	openTxs     atomic.Int32
	perfUpserts atomic.Int64
	perfDeletes atomic.Int64
	perfSelects atomic.Int64

	resolver Resolver
	logger   Logger
}

// Option configures a namespace at open time.
type Option func(*Namespace)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(ns *Namespace) {
		if l != nil {
			ns.logger = l
		}
	}
}

// WithStorage attaches a persistent store. Without it the namespace is
// memory only.
func WithStorage(s datastore.Store) Option {
	return func(ns *Namespace) { ns.storage = s }
}

// WithBroker attaches the WAL subscription broker.
func WithBroker(b *wal.Broker) Option {
	return func(ns *Namespace) { ns.broker = b }
}

// WithConfig overrides the default config.
func WithConfig(cfg Config) Option {
	return func(ns *Namespace) { ns.config = cfg }
}

// New creates a namespace and hydrates it from storage when one is
// attached.
func New(name string, opts ...Option) (*Namespace, error) {
	ns := &Namespace{
		name:          name,
		payloadType:   payload.NewType(name),
		tagsMatcher:   tags.NewMatcher(),
		indexesByName: make(map[string]int),
		pk:            -1,
		dirtyRows:     make(map[idset.RowID]bool),
		meta:          make(map[string]string),
		config:        DefaultConfig(),
		logger:        noopLogger{},
	}
	for _, opt := range opts {
		opt(ns)
	}
	codec, err := datastore.CodecByName(ns.config.StorageCodec)
	if err != nil {
		return nil, err
	}
	ns.codec = codec
	ns.wlog = wal.New(ns.config.WALSize, ns.config.ServerID)
	ns.flushLimiter = rate.NewLimiter(rate.Limit(ns.config.FlushRatePerSec), 1)
	ns.optState.Store(int32(NotOptimized))
	empty := map[string][]idset.RowID{}
	ns.sortOrders.Store(&empty)

	if ns.storage != nil {
		if err := ns.loadFromStorage(); err != nil {
			return nil, err
		}
	}
	return ns, nil
}

// Name returns the namespace name.
func (ns *Namespace) Name() string { return ns.name }

// rowAccessor gives indexes payload access without a namespace
// reference. Only valid under the namespace lock.
func (ns *Namespace) rowAccessor() index.RowAccessor {
	return func(id idset.RowID) payload.Value {
		if int(id) >= len(ns.items) {
			return payload.Value{}
		}
		return ns.items[id]
	}
}

// ItemsCount returns the number of live rows.
func (ns *Namespace) ItemsCount() int {
	if err := ns.lock.RLock(); err != nil {
		return 0
	}
	defer ns.lock.RUnlock()
	return ns.itemsCount
}

type modifyMode int

const (
	modeInsert modifyMode = iota
	modeUpdate
	modeUpsert
	modeDelete
)

// Insert adds a new item; fails with CodeConflict when the PK exists.
func (ns *Namespace) Insert(ctx context.Context, jsonItem []byte) error {
	return ns.modifyJSON(ctx, jsonItem, modeInsert, 0, false)
}

// Update rewrites an existing item; fails with CodeNotFound otherwise.
func (ns *Namespace) Update(ctx context.Context, jsonItem []byte) error {
	return ns.modifyJSON(ctx, jsonItem, modeUpdate, 0, false)
}

// Upsert inserts or rewrites the item with the same PK.
func (ns *Namespace) Upsert(ctx context.Context, jsonItem []byte) error {
	return ns.modifyJSON(ctx, jsonItem, modeUpsert, 0, false)
}

// Delete removes the item with the given PK; silent when absent.
func (ns *Namespace) Delete(ctx context.Context, jsonItem []byte) error {
	return ns.modifyJSON(ctx, jsonItem, modeDelete, 0, false)
}

func (ns *Namespace) modifyJSON(ctx context.Context, jsonItem []byte, mode modifyMode, txID uint64, locked bool) error {
	if err := dberr.FromContext(ctx); err != nil {
		return err
	}
	if !locked {
		if err := ns.lock.Lock(); err != nil {
			return err
		}
		defer ns.lock.Unlock()
	}
	return ns.doModify(jsonItem, mode, txID)
}

// doModify runs under the write lock.
func (ns *Namespace) doModify(jsonItem []byte, mode modifyMode, txID uint64) error {
	dec := cjson.NewDecoder(ns.tagsMatcher, ns.payloadType)
	tagsVersion := ns.tagsMatcher.Version()
	pl, err := dec.FromJSON(jsonItem)
	if err != nil {
		return err
	}
	if ns.tagsMatcher.Version() != tagsVersion {
		// New paths were registered; the tags sys-record must follow
		// the rows to storage.
		ns.sysDirty = true
	}
	if mode == modeDelete {
		return ns.doDelete(pl, txID)
	}
	return ns.doUpsert(pl, mode, txID)
}

// resolvePK finds the row currently holding the item's primary key.
func (ns *Namespace) resolvePK(pl payload.Value) (idset.RowID, bool, error) {
	if ns.pk < 0 {
		return 0, false, dberr.Newf(dberr.CodeParams, "namespace '%s' has no PK index", ns.name)
	}
	pkIdx := ns.indexes[ns.pk]
	vals := ns.indexKeys(pkIdx, pl)
	if vals.IsNullValue() || len(vals) != 1 {
		return 0, false, dberr.Newf(dberr.CodeParams, "PK field of '%s' must hold exactly one value", ns.name)
	}
	res, err := pkIdx.SelectKey(context.Background(), vals, query.CondEq, index.SelectOpts{})
	if err != nil {
		return 0, false, err
	}
	for _, r := range res {
		if r.Ids != nil && !r.Ids.IsEmpty() {
			var found idset.RowID
			r.Ids.ForEach(func(id idset.RowID) bool {
				found = id
				return false
			})
			return found, true, nil
		}
	}
	return 0, false, nil
}

// indexKeys extracts the key values of an index from a payload:
// the field slot for scalar indexes, one tuple over the covered
// fields for composite ones.
func (ns *Namespace) indexKeys(idx index.Index, pl payload.Value) variant.VariantArray {
	fields := idx.Fields()
	if len(fields) == 1 {
		return pl.Get(fields[0])
	}
	tup := make(variant.VariantArray, 0, len(fields))
	for _, f := range fields {
		tup = append(tup, pl.GetOne(f))
	}
	return variant.VariantArray{variant.NewTuple(tup)}
}

// doUpsert is the modification protocol: resolve the slot, swap index
// keys atomically, write the slot, append the WAL record.
func (ns *Namespace) doUpsert(pl payload.Value, mode modifyMode, txID uint64) error {
	id, exists, err := ns.resolvePK(pl)
	if err != nil {
		return err
	}
	switch {
	case exists && mode == modeInsert:
		return dberr.Newf(dberr.CodeConflict, "PK already exists in '%s'", ns.name)
	case !exists && mode == modeUpdate:
		return dberr.Newf(dberr.CodeNotFound, "item not found in '%s'", ns.name)
	}

	var oldPl payload.Value
	if exists {
		oldPl = ns.items[id]
	} else {
		if n := len(ns.free); n > 0 {
			id = ns.free[n-1]
			ns.free = ns.free[:n-1]
		} else {
			id = idset.RowID(len(ns.items))
			ns.items = append(ns.items, payload.Value{})
		}
	}

	if err := ns.updateIndexes(id, oldPl, pl); err != nil {
		if !exists {
			ns.free = append(ns.free, id)
		}
		return err
	}

	rec := wal.Record{Type: wal.TypeItemUpdate, Data: pl.Tuple(), RowID: uint32(id), TxID: txID, InTx: txID != 0}
	lsn := ns.wlog.Add(rec)
	pl.SetLSN(int64(lsn))
	ns.replState.LastLSN = lsn

	if exists {
		oldPl.Release()
	} else {
		ns.itemsCount++
	}
	ns.items[id] = pl
	ns.dirtyRows[id] = true
	ns.perfUpserts.Add(1)
	ns.invalidateSortOrders()
	if ns.broker != nil {
		rec.LSN = lsn
		ns.broker.Publish(ns.name, rec)
	}
	return nil
}

func (ns *Namespace) doDelete(pl payload.Value, txID uint64) error {
	id, exists, err := ns.resolvePK(pl)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return ns.deleteRow(id, txID)
}

// deleteRow removes a live row under the write lock.
func (ns *Namespace) deleteRow(id idset.RowID, txID uint64) error {
	oldPl := ns.items[id]
	if oldPl.IsFree() {
		return nil
	}
	if err := ns.updateIndexes(id, oldPl, payload.Value{}); err != nil {
		return err
	}
	rec := wal.Record{Type: wal.TypeItemDelete, Data: oldPl.Tuple(), RowID: uint32(id), TxID: txID, InTx: txID != 0}
	lsn := ns.wlog.Add(rec)
	ns.replState.LastLSN = lsn

	oldPl.Release()
	ns.items[id] = payload.Value{}
	ns.free = append(ns.free, id)
	ns.itemsCount--
	ns.dirtyRows[id] = false
	ns.perfDeletes.Add(1)
	ns.invalidateSortOrders()
	if ns.broker != nil {
		rec.LSN = lsn
		ns.broker.Publish(ns.name, rec)
	}
	return nil
}

// appliedIndexOp records one index mutation for rollback.
type appliedIndexOp struct {
	idx      index.Index
	inserted variant.VariantArray
	removed  variant.VariantArray
	id       idset.RowID
}

// updateIndexes swaps every affected index from oldPl's keys to
// newPl's. On failure all applied mutations are reverted so a failed
// modification never half-updates the indexes.
func (ns *Namespace) updateIndexes(id idset.RowID, oldPl, newPl payload.Value) error {
	var applied []appliedIndexOp

	rollback := func() {
		for i := len(applied) - 1; i >= 0; i-- {
			op := applied[i]
			for _, k := range op.inserted {
				_ = op.idx.Delete(k, op.id)
			}
			for _, k := range op.removed {
				_, _ = op.idx.Upsert(k, op.id)
			}
		}
	}

	for _, idx := range ns.indexes {
		oldKeys := ns.expandKeys(idx, oldPl)
		newKeys := ns.expandKeys(idx, newPl)
		if oldKeys.Compare(newKeys, idx.Def().Opts.Collate) == 0 {
			continue
		}
		op := appliedIndexOp{idx: idx, id: id}
		for _, k := range oldKeys {
			if err := idx.Delete(k, id); err != nil {
				rollback()
				return err
			}
			op.removed = append(op.removed, k)
		}
		canonical := make(variant.VariantArray, 0, len(newKeys))
		for _, k := range newKeys {
			ck, err := idx.Upsert(k, id)
			if err != nil {
				// Revert this partially applied op, then the rest.
				for _, ik := range op.inserted {
					_ = idx.Delete(ik, id)
				}
				for _, rk := range op.removed {
					_, _ = idx.Upsert(rk, id)
				}
				rollback()
				return err
			}
			op.inserted = append(op.inserted, ck)
			canonical = append(canonical, ck)
		}
		applied = append(applied, op)
		// Store canonical (interned) values back into the row so the
		// row and the index share one allocation. Default keys filled
		// in for null values stay out of the row.
		if fields := idx.Fields(); len(fields) == 1 && !newPl.IsFree() && !idx.Def().IsComposite() {
			if raw := newPl.Get(fields[0]); !raw.IsNullValue() {
				_ = newPl.Set(fields[0], canonical)
			}
		}
	}
	return nil
}

// expandKeys lists the index entries a payload contributes: nothing
// for free payloads, one entry per element for arrays, exactly one for
// plain fields (nulls fall back to the type default so non-sparse
// indexes cover every live row), none for sparse nulls.
func (ns *Namespace) expandKeys(idx index.Index, pl payload.Value) variant.VariantArray {
	if pl.IsFree() {
		return nil
	}
	vals := ns.indexKeys(idx, pl)
	opts := idx.Def().Opts
	if vals.IsNullValue() {
		if opts.Sparse || opts.Array {
			return nil
		}
		return variant.VariantArray{defaultKey(idx.Def().KeyType())}
	}
	return vals
}

func defaultKey(t variant.Type) variant.Variant {
	switch t {
	case variant.TypeBool:
		return variant.NewBool(false)
	case variant.TypeInt:
		return variant.NewInt(0)
	case variant.TypeInt64:
		return variant.NewInt64(0)
	case variant.TypeDouble:
		return variant.NewDouble(0)
	case variant.TypeString:
		return variant.NewString("")
	case variant.TypePoint:
		return variant.NewPoint(variant.Point{})
	}
	return variant.Null()
}

// invalidateSortOrders drops materialized sort orders after any
// mutation and cancels an in-flight background build.
func (ns *Namespace) invalidateSortOrders() {
	ns.optState.Store(int32(NotOptimized))
	ns.cancelCommit.Store(true)
	empty := map[string][]idset.RowID{}
	ns.sortOrders.Store(&empty)
}

// Truncate removes every row, keeping schema and indexes.
func (ns *Namespace) Truncate(ctx context.Context) error {
	if err := dberr.FromContext(ctx); err != nil {
		return err
	}
	if err := ns.lock.Lock(); err != nil {
		return err
	}
	defer ns.lock.Unlock()
	for id := range ns.items {
		if ns.items[id].IsFree() {
			continue
		}
		if err := ns.deleteRow(idset.RowID(id), 0); err != nil {
			return err
		}
	}
	rec := wal.Record{Type: wal.TypeTruncate}
	lsn := ns.wlog.Add(rec)
	ns.replState.LastLSN = lsn
	if ns.broker != nil {
		rec.LSN = lsn
		ns.broker.Publish(ns.name, rec)
	}
	return nil
}

// Refill replaces the whole content with the given items in one
// critical section.
func (ns *Namespace) Refill(ctx context.Context, jsonItems [][]byte) error {
	if err := dberr.FromContext(ctx); err != nil {
		return err
	}
	if err := ns.lock.Lock(); err != nil {
		return err
	}
	defer ns.lock.Unlock()
	for id := range ns.items {
		if !ns.items[id].IsFree() {
			if err := ns.deleteRow(idset.RowID(id), 0); err != nil {
				return err
			}
		}
	}
	for _, item := range jsonItems {
		if err := ns.doModify(item, modeUpsert, 0); err != nil {
			return err
		}
	}
	return nil
}

// WALRange exposes the replication ring for slaves.
func (ns *Namespace) WALRange(from wal.LSN) ([]wal.Record, error) {
	return ns.wlog.GetRange(from)
}

// LastLSN returns the newest WAL position.
func (ns *Namespace) LastLSN() wal.LSN { return ns.wlog.LastLSN() }

// ReplicationState returns a copy of the replication state.
func (ns *Namespace) ReplicationState() ReplState {
	if err := ns.lock.RLock(); err != nil {
		return ReplState{}
	}
	defer ns.lock.RUnlock()
	return ns.replState
}

// SetReplicationState updates the slave/master flags and persists them
// with the next sys-record flush.
func (ns *Namespace) SetReplicationState(st ReplState) error {
	if err := ns.lock.Lock(); err != nil {
		return err
	}
	defer ns.lock.Unlock()
	st.LastLSN = ns.replState.LastLSN
	ns.replState = st
	ns.sysDirty = true
	rec := wal.Record{Type: wal.TypeReplState}
	lsn := ns.wlog.Add(rec)
	ns.replState.LastLSN = lsn
	if ns.broker != nil {
		rec.LSN = lsn
		ns.broker.Publish(ns.name, rec)
	}
	return nil
}

// Rename updates the namespace name; the DB layer moves the storage
// directory.
func (ns *Namespace) Rename(newName string) error {
	if err := ns.lock.Lock(); err != nil {
		return err
	}
	defer ns.lock.Unlock()
	ns.name = newName
	ns.payloadType.SetName(newName)
	ns.sysDirty = true
	rec := wal.Record{Type: wal.TypeRename, Data: []byte(newName)}
	lsn := ns.wlog.Add(rec)
	ns.replState.LastLSN = lsn
	if ns.broker != nil {
		rec.LSN = lsn
		ns.broker.Publish(ns.name, rec)
	}
	return nil
}

// Close marks the namespace invalid, flushes and releases storage.
func (ns *Namespace) Close() error {
	ns.lock.mu.Lock()
	ns.lock.Invalidate()
	ns.lock.mu.Unlock()
	ns.storageMu.Lock()
	defer ns.storageMu.Unlock()
	if ns.storage == nil {
		return nil
	}
	if err := ns.persistPending(); err != nil {
		ns.logger.Errorf("namespace %s: flush on close: %v", ns.name, err)
	}
	err := ns.storage.Close()
	ns.storage = nil
	return err
}
