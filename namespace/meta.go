package namespace

import (
	"context"
	"sort"

	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/wal"
)

// PutMeta stores an arbitrary key/value pair with the namespace.
func (ns *Namespace) PutMeta(ctx context.Context, key, value string) error {
	if err := dberr.FromContext(ctx); err != nil {
		return err
	}
	if key == "" {
		return dberr.New(dberr.CodeParams, "meta key is empty")
	}
	if err := ns.lock.Lock(); err != nil {
		return err
	}
	defer ns.lock.Unlock()
	ns.meta[key] = value
	if ns.storage != nil {
		if err := ns.storage.Write(append([]byte(metaKeyPrefix), key...), []byte(value)); err != nil {
			return err
		}
	}
	rec := wal.Record{Type: wal.TypePutMeta, Data: []byte(key + "\x00" + value)}
	lsn := ns.wlog.Add(rec)
	ns.replState.LastLSN = lsn
	if ns.broker != nil {
		rec.LSN = lsn
		ns.broker.Publish(ns.name, rec)
	}
	return nil
}

// GetMeta reads a meta value; absent keys return "".
func (ns *Namespace) GetMeta(ctx context.Context, key string) (string, error) {
	if err := dberr.FromContext(ctx); err != nil {
		return "", err
	}
	if err := ns.lock.RLock(); err != nil {
		return "", err
	}
	defer ns.lock.RUnlock()
	return ns.meta[key], nil
}

// EnumMeta lists the stored meta keys, sorted.
func (ns *Namespace) EnumMeta(ctx context.Context) ([]string, error) {
	if err := dberr.FromContext(ctx); err != nil {
		return nil, err
	}
	if err := ns.lock.RLock(); err != nil {
		return nil, err
	}
	defer ns.lock.RUnlock()
	keys := make([]string, 0, len(ns.meta))
	for k := range ns.meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
