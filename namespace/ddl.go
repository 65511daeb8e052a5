package namespace

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/narwhaldb/narwhal/cjson"
	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/idset"
	"github.com/narwhaldb/narwhal/index"
	"github.com/narwhaldb/narwhal/payload"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
	"github.com/narwhaldb/narwhal/wal"
)

// AddIndex creates a secondary index and backfills it from the live
// rows. Re-adding an identical definition is a no-op; a conflicting
// one fails with CodeConflict. The call is all-or-nothing.
func (ns *Namespace) AddIndex(ctx context.Context, def index.Def) error {
	if err := dberr.FromContext(ctx); err != nil {
		return err
	}
	if err := ns.lock.Lock(); err != nil {
		return err
	}
	defer ns.lock.Unlock()
	if err := ns.addIndexLocked(&def, true); err != nil {
		return err
	}
	return nil
}

func (ns *Namespace) addIndexLocked(def *index.Def, emitWAL bool) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if pos, ok := ns.indexesByName[def.Name]; ok {
		existing, _ := json.Marshal(ns.indexes[pos].Def())
		requested, _ := json.Marshal(def)
		if string(existing) == string(requested) {
			return nil
		}
		return dberr.Newf(dberr.CodeConflict, "index '%s' already exists with different definition", def.Name)
	}
	if def.Opts.PK && ns.pk >= 0 {
		return dberr.Newf(dberr.CodeConflict, "namespace '%s' already has a PK index", ns.name)
	}

	oldType := ns.payloadType
	newType := ns.payloadType.Clone()
	var fields []int
	if def.IsComposite() {
		parts := strings.Split(def.Name, "+")
		if len(parts) < 2 {
			return dberr.Newf(dberr.CodeParams, "composite index '%s' needs at least two parts", def.Name)
		}
		for _, p := range parts {
			f, ok := newType.FieldByName(p)
			if !ok || f == 0 {
				return dberr.Newf(dberr.CodeParams, "composite index part '%s' is not an indexed field", p)
			}
			fields = append(fields, f)
		}
	} else {
		paths := def.JSONPaths
		if len(paths) == 0 {
			paths = []string{def.Name}
		}
		f, err := newType.Add(payload.Field{
			Name:      def.Name,
			Type:      def.KeyType(),
			IsArray:   def.Opts.Array,
			JSONPaths: paths,
		})
		if err != nil {
			return err
		}
		fields = []int{f}
	}

	idx, err := index.New(def, fields, ns.rowAccessor())
	if err != nil {
		return err
	}

	// Backfill: re-decode every live row against the grown schema so
	// the new slot gets its values, then feed the index.
	ns.payloadType = newType
	newItems := make([]payload.Value, len(ns.items))
	copy(newItems, ns.items)
	rollback := func() {
		ns.payloadType = oldType
	}
	for id := range ns.items {
		pl := ns.items[id]
		if pl.IsFree() {
			continue
		}
		var rowPl payload.Value
		if def.IsComposite() {
			rowPl = pl
		} else {
			dec := cjson.NewDecoder(ns.tagsMatcher, newType)
			rowPl, err = dec.FromCJSON(pl.Tuple())
			if err != nil {
				rollback()
				return err
			}
			rowPl.SetLSN(pl.LSN())
		}
		keys := ns.expandKeysFor(idx, def, rowPl)
		if def.Opts.PK {
			if err := ns.checkPKUnique(idx, keys, idset.RowID(id)); err != nil {
				rollback()
				return err
			}
		}
		for _, k := range keys {
			if _, err := idx.Upsert(k, idset.RowID(id)); err != nil {
				rollback()
				return err
			}
		}
		newItems[id] = rowPl
	}
	// Swap in the rebuilt rows, releasing the old buffers.
	for id := range ns.items {
		if !ns.items[id].IsFree() && !def.IsComposite() {
			ns.items[id].Release()
		}
	}
	ns.items = newItems
	idx.Commit()

	ns.indexes = append(ns.indexes, idx)
	ns.indexesByName[def.Name] = len(ns.indexes) - 1
	if def.Opts.PK {
		ns.pk = len(ns.indexes) - 1
	}
	ns.sysDirty = true
	ns.invalidateSortOrders()

	if emitWAL {
		data, _ := json.Marshal(def)
		rec := wal.Record{Type: wal.TypeIndexAdd, Data: data}
		lsn := ns.wlog.Add(rec)
		ns.replState.LastLSN = lsn
		if ns.broker != nil {
			rec.LSN = lsn
			ns.broker.Publish(ns.name, rec)
		}
	}
	return nil
}

// expandKeysFor mirrors expandKeys for an index not yet installed.
func (ns *Namespace) expandKeysFor(idx index.Index, def *index.Def, pl payload.Value) variant.VariantArray {
	fields := idx.Fields()
	var vals variant.VariantArray
	if len(fields) == 1 {
		vals = pl.Get(fields[0])
	} else {
		tup := make(variant.VariantArray, 0, len(fields))
		for _, f := range fields {
			tup = append(tup, pl.GetOne(f))
		}
		vals = variant.VariantArray{variant.NewTuple(tup)}
	}
	if vals.IsNullValue() {
		if def.Opts.Sparse || def.Opts.Array {
			return nil
		}
		return variant.VariantArray{defaultKey(def.KeyType())}
	}
	return vals
}

func (ns *Namespace) checkPKUnique(idx index.Index, keys variant.VariantArray, id idset.RowID) error {
	for _, k := range keys {
		res, err := idx.SelectKey(context.Background(), variant.VariantArray{k}, query.CondEq, index.SelectOpts{})
		if err != nil {
			return err
		}
		for _, r := range res {
			if r.Ids != nil && !r.Ids.IsEmpty() {
				return dberr.Newf(dberr.CodeConflict, "PK value '%s' is not unique in '%s'", k, ns.name)
			}
		}
	}
	return nil
}

// UpdateIndex replaces an index definition, rebuilding the index and
// the affected payload slots. All-or-nothing.
func (ns *Namespace) UpdateIndex(ctx context.Context, def index.Def) error {
	if err := dberr.FromContext(ctx); err != nil {
		return err
	}
	if err := ns.lock.Lock(); err != nil {
		return err
	}
	defer ns.lock.Unlock()

	pos, ok := ns.indexesByName[def.Name]
	if !ok {
		return dberr.Newf(dberr.CodeNotFound, "index '%s' not found in '%s'", def.Name, ns.name)
	}
	old := ns.indexes[pos]
	existing, _ := json.Marshal(old.Def())
	requested, _ := json.Marshal(&def)
	if string(existing) == string(requested) {
		return nil
	}
	if old.Def().FieldType != def.FieldType || old.Def().Opts.Array != def.Opts.Array {
		return dberr.Newf(dberr.CodeParams,
			"index '%s': changing field type or array flag requires drop and re-add", def.Name)
	}

	idx, err := index.New(&def, old.Fields(), ns.rowAccessor())
	if err != nil {
		return err
	}
	for id := range ns.items {
		pl := ns.items[id]
		if pl.IsFree() {
			continue
		}
		keys := ns.expandKeysFor(idx, &def, pl)
		if def.Opts.PK {
			if err := ns.checkPKUnique(idx, keys, idset.RowID(id)); err != nil {
				return err
			}
		}
		for _, k := range keys {
			if _, err := idx.Upsert(k, idset.RowID(id)); err != nil {
				return err
			}
		}
	}
	idx.Commit()
	ns.indexes[pos] = idx
	if def.Opts.PK {
		ns.pk = pos
	} else if ns.pk == pos {
		ns.pk = -1
	}
	ns.sysDirty = true
	ns.invalidateSortOrders()

	data, _ := json.Marshal(&def)
	rec := wal.Record{Type: wal.TypeIndexUpdate, Data: data}
	lsn := ns.wlog.Add(rec)
	ns.replState.LastLSN = lsn
	if ns.broker != nil {
		rec.LSN = lsn
		ns.broker.Publish(ns.name, rec)
	}
	return nil
}

// DropIndex removes an index. Scalar drops also remove the payload
// field, which rebuilds every row buffer.
func (ns *Namespace) DropIndex(ctx context.Context, name string) error {
	if err := dberr.FromContext(ctx); err != nil {
		return err
	}
	if err := ns.lock.Lock(); err != nil {
		return err
	}
	defer ns.lock.Unlock()

	pos, ok := ns.indexesByName[name]
	if !ok {
		return dberr.Newf(dberr.CodeNotFound, "index '%s' not found in '%s'", name, ns.name)
	}
	dropped := ns.indexes[pos]
	if !dropped.Def().IsComposite() {
		field := dropped.Fields()[0]
		for _, idx := range ns.indexes {
			if idx == dropped || !idx.Def().IsComposite() {
				continue
			}
			for _, f := range idx.Fields() {
				if f == field {
					return dberr.Newf(dberr.CodeLogic,
						"index '%s' is used by composite index '%s'", name, idx.Name())
				}
			}
		}
	}

	ns.indexes = append(ns.indexes[:pos], ns.indexes[pos+1:]...)
	delete(ns.indexesByName, name)
	for n, p := range ns.indexesByName {
		if p > pos {
			ns.indexesByName[n] = p - 1
		}
	}
	switch {
	case ns.pk == pos:
		ns.pk = -1
	case ns.pk > pos:
		ns.pk--
	}

	if !dropped.Def().IsComposite() {
		field := dropped.Fields()[0]
		newType := ns.payloadType.Clone()
		if err := newType.Drop(name); err != nil {
			return err
		}
		ns.payloadType = newType
		for id := range ns.items {
			if ns.items[id].IsFree() {
				continue
			}
			pl := ns.items[id].CloneIfShared()
			pl.DropSlot(field)
			ns.items[id] = pl
		}
		// Composite field positions above the dropped slot shift.
		for _, idx := range ns.indexes {
			fields := idx.Fields()
			for i, f := range fields {
				if f > field {
					fields[i] = f - 1
				}
			}
		}
	}

	ns.sysDirty = true
	ns.invalidateSortOrders()

	rec := wal.Record{Type: wal.TypeIndexDrop, Data: []byte(name)}
	lsn := ns.wlog.Add(rec)
	ns.replState.LastLSN = lsn
	if ns.broker != nil {
		rec.LSN = lsn
		ns.broker.Publish(ns.name, rec)
	}
	return nil
}

// Indexes returns the current definitions.
func (ns *Namespace) Indexes() ([]index.Def, error) {
	if err := ns.lock.RLock(); err != nil {
		return nil, err
	}
	defer ns.lock.RUnlock()
	defs := make([]index.Def, 0, len(ns.indexes))
	for _, idx := range ns.indexes {
		defs = append(defs, *idx.Def())
	}
	return defs, nil
}

// SetSchema stores the user JSON schema byte-for-byte.
func (ns *Namespace) SetSchema(ctx context.Context, schema []byte) error {
	if err := dberr.FromContext(ctx); err != nil {
		return err
	}
	if err := ns.lock.Lock(); err != nil {
		return err
	}
	defer ns.lock.Unlock()
	ns.schema = append([]byte(nil), schema...)
	ns.sysDirty = true
	rec := wal.Record{Type: wal.TypeSetSchema, Data: ns.schema}
	lsn := ns.wlog.Add(rec)
	ns.replState.LastLSN = lsn
	if ns.broker != nil {
		rec.LSN = lsn
		ns.broker.Publish(ns.name, rec)
	}
	return nil
}

// GetSchema returns the stored schema.
func (ns *Namespace) GetSchema() ([]byte, error) {
	if err := ns.lock.RLock(); err != nil {
		return nil, err
	}
	defer ns.lock.RUnlock()
	return append([]byte(nil), ns.schema...), nil
}
