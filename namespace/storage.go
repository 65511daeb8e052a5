package namespace

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/narwhaldb/narwhal/cjson"
	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/idset"
	"github.com/narwhaldb/narwhal/index"
	"github.com/narwhaldb/narwhal/payload"
)

// Storage key prefixes. Sys-records are versioned: writers append
// max+1, readers take the highest version that parses, so a crash
// between write and reclaim never loses the record.
const (
	sysIndexesTag = "Sindexes."
	sysTagsTag    = "Stags."
	sysReplTag    = "Srepl."
	sysSchemaTag  = "Sschema."
	rowKeyPrefix  = "I"
	metaKeyPrefix = "M"
)

func rowKey(id idset.RowID) []byte {
	return []byte(fmt.Sprintf("%s%010d", rowKeyPrefix, id))
}

// stageDirty pushes pending row and sys mutations into the store's
// write batch. Requires the namespace write lock, or storageMu as Close
// holds it after invalidating the namespace.
func (ns *Namespace) stageDirty() error {
	if ns.storage == nil {
		return nil
	}
	for id, upsert := range ns.dirtyRows {
		if !upsert {
			if err := ns.storage.Delete(rowKey(id)); err != nil {
				return err
			}
			continue
		}
		pl := ns.items[id]
		if pl.IsFree() {
			continue
		}
		var buf []byte
		buf = binary.AppendVarint(buf, pl.LSN())
		buf = append(buf, pl.Tuple()...)
		enc, err := ns.codec.Compress(buf)
		if err != nil {
			return err
		}
		if err := ns.storage.Write(rowKey(id), enc); err != nil {
			return err
		}
	}
	ns.dirtyRows = make(map[idset.RowID]bool)

	if ns.sysDirty {
		if err := ns.writeSysRecords(); err != nil {
			return err
		}
		ns.sysDirty = false
	}
	return nil
}

// persistPending stages and flushes in one shot; used by Close.
func (ns *Namespace) persistPending() error {
	if ns.storage == nil {
		return nil
	}
	if err := ns.stageDirty(); err != nil {
		return err
	}
	return ns.storage.Flush()
}

func (ns *Namespace) writeSysRecords() error {
	defs := make([]index.Def, 0, len(ns.indexes))
	for _, idx := range ns.indexes {
		defs = append(defs, *idx.Def())
	}
	indexesData, err := json.Marshal(defs)
	if err != nil {
		return dberr.Wrap(dberr.CodeLogic, err, "marshal index defs")
	}
	tagsData, err := ns.tagsMatcher.MarshalBinary()
	if err != nil {
		return err
	}
	replData, err := json.Marshal(ns.replState)
	if err != nil {
		return dberr.Wrap(dberr.CodeLogic, err, "marshal repl state")
	}
	for _, rec := range []struct {
		tag  string
		data []byte
	}{
		{sysIndexesTag, indexesData},
		{sysTagsTag, tagsData},
		{sysReplTag, replData},
		{sysSchemaTag, ns.schema},
	} {
		if err := ns.writeSysRecord(rec.tag, rec.data); err != nil {
			return err
		}
	}
	return nil
}

// writeSysRecord appends version max+1 for the tag, then reclaims
// older versions.
func (ns *Namespace) writeSysRecord(tag string, data []byte) error {
	maxVer, stale, err := ns.scanSysVersions(tag)
	if err != nil {
		return err
	}
	key := []byte(tag + fmt.Sprintf("%010d", maxVer+1))
	if err := ns.storage.Write(key, data); err != nil {
		return err
	}
	for _, old := range stale {
		if err := ns.storage.Delete([]byte(old)); err != nil {
			return err
		}
	}
	return nil
}

func (ns *Namespace) scanSysVersions(tag string) (int64, []string, error) {
	it, err := ns.storage.ReadRange([]byte(tag))
	if err != nil {
		return 0, nil, err
	}
	defer it.Close()
	var maxVer int64
	var keys []string
	for it.Next() {
		k := string(it.Key())
		ver, err := strconv.ParseInt(strings.TrimPrefix(k, tag), 10, 64)
		if err != nil {
			continue
		}
		if ver > maxVer {
			maxVer = ver
		}
		keys = append(keys, k)
	}
	return maxVer, keys, nil
}

// readSysRecord returns the highest-version record that the parse
// callback accepts.
func (ns *Namespace) readSysRecord(tag string, parse func([]byte) error) error {
	it, err := ns.storage.ReadRange([]byte(tag))
	if err != nil {
		return err
	}
	type rec struct {
		ver  int64
		data []byte
	}
	var recs []rec
	for it.Next() {
		ver, err := strconv.ParseInt(strings.TrimPrefix(string(it.Key()), tag), 10, 64)
		if err != nil {
			continue
		}
		recs = append(recs, rec{ver: ver, data: append([]byte(nil), it.Value()...)})
	}
	_ = it.Close()
	best := -1
	for i := range recs {
		if best < 0 || recs[i].ver > recs[best].ver {
			best = i
		}
	}
	var lastErr error
	for best >= 0 {
		if err := parse(recs[best].data); err == nil {
			return nil
		} else {
			lastErr = err
		}
		// Corrupt head: fall back to the next newest version.
		recs = append(recs[:best], recs[best+1:]...)
		best = -1
		for i := range recs {
			if best < 0 || recs[i].ver > recs[best].ver {
				best = i
			}
		}
	}
	return lastErr
}

// loadFromStorage hydrates schema, indexes, replication state, rows
// and meta from the attached store.
func (ns *Namespace) loadFromStorage() error {
	if err := ns.readSysRecord(sysTagsTag, func(data []byte) error {
		return ns.tagsMatcher.UnmarshalBinary(data)
	}); err != nil {
		return err
	}

	var defs []index.Def
	_ = ns.readSysRecord(sysIndexesTag, func(data []byte) error {
		return json.Unmarshal(data, &defs)
	})
	for i := range defs {
		if err := ns.addIndexLocked(&defs[i], false); err != nil {
			return err
		}
	}

	_ = ns.readSysRecord(sysReplTag, func(data []byte) error {
		return json.Unmarshal(data, &ns.replState)
	})
	_ = ns.readSysRecord(sysSchemaTag, func(data []byte) error {
		ns.schema = append([]byte(nil), data...)
		return nil
	})

	// Rows.
	it, err := ns.storage.ReadRange([]byte(rowKeyPrefix))
	if err != nil {
		return err
	}
	defer it.Close()
	for it.Next() {
		id64, err := strconv.ParseUint(strings.TrimPrefix(string(it.Key()), rowKeyPrefix), 10, 32)
		if err != nil {
			continue
		}
		id := idset.RowID(id64)
		raw, err := ns.codec.Decompress(it.Value())
		if err != nil {
			return dberr.Wrap(dberr.CodeLogic, err, "row record")
		}
		lsn, n := binary.Varint(raw)
		if n <= 0 {
			return dberr.Newf(dberr.CodeLogic, "corrupt row record %d in '%s'", id, ns.name)
		}
		dec := cjson.NewDecoder(ns.tagsMatcher, ns.payloadType)
		pl, err := dec.FromCJSON(raw[n:])
		if err != nil {
			return err
		}
		pl.SetLSN(lsn)
		for int(id) >= len(ns.items) {
			ns.items = append(ns.items, payload.Value{})
		}
		if err := ns.updateIndexes(id, payload.Value{}, pl); err != nil {
			return err
		}
		ns.items[id] = pl
		ns.itemsCount++
	}

	// Every hole below the watermark goes to the free list.
	for id := range ns.items {
		if ns.items[id].IsFree() {
			ns.free = append(ns.free, idset.RowID(id))
		}
	}

	// Meta.
	mit, err := ns.storage.ReadRange([]byte(metaKeyPrefix))
	if err != nil {
		return err
	}
	defer mit.Close()
	for mit.Next() {
		ns.meta[strings.TrimPrefix(string(mit.Key()), metaKeyPrefix)] = string(mit.Value())
	}
	return nil
}
