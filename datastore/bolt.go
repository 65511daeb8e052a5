package datastore

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/narwhaldb/narwhal/dberr"
)

var dataBucket = []byte("data")

// BoltStore is the durable backend: one bbolt file per namespace.
// Writes accumulate in a batch applied on Flush so the namespace
// background loop controls fsync frequency.
type BoltStore struct {
	db      *bolt.DB
	pending map[string][]byte // nil value marks a delete
}

// OpenBolt opens or creates the store file under dir.
func OpenBolt(dir string) (*BoltStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, dberr.Wrap(dberr.CodeLogic, err, "create storage dir")
	}
	db, err := bolt.Open(filepath.Join(dir, "store.db"), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, dberr.Wrap(dberr.CodeLogic, err, "open storage")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(dataBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, dberr.Wrap(dberr.CodeLogic, err, "init storage bucket")
	}
	return &BoltStore{db: db, pending: make(map[string][]byte)}, nil
}

func (s *BoltStore) Write(key, value []byte) error {
	s.pending[string(key)] = append([]byte(nil), value...)
	return nil
}

func (s *BoltStore) Delete(key []byte) error {
	s.pending[string(key)] = nil
	return nil
}

func (s *BoltStore) Read(key []byte) ([]byte, error) {
	if v, ok := s.pending[string(key)]; ok {
		if v == nil {
			return nil, nil
		}
		return append([]byte(nil), v...), nil
	}
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(dataBucket).Get(key)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, dberr.Wrap(dberr.CodeLogic, err, "storage read")
	}
	return out, nil
}

// Flush applies the pending batch in one bolt transaction.
func (s *BoltStore) Flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	batch := s.pending
	s.pending = make(map[string][]byte)
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(dataBucket)
		for k, v := range batch {
			if v == nil {
				if err := b.Delete([]byte(k)); err != nil {
					return err
				}
				continue
			}
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// Restore the batch so the caller may retry or fail read-only.
		for k, v := range batch {
			if _, exists := s.pending[k]; !exists {
				s.pending[k] = v
			}
		}
		return dberr.Wrap(dberr.CodeLogic, err, "storage flush")
	}
	return nil
}

func (s *BoltStore) ReadRange(prefix []byte) (Iterator, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, dberr.Wrap(dberr.CodeLogic, err, "storage iterator")
	}
	c := tx.Bucket(dataBucket).Cursor()
	return &boltIterator{tx: tx, c: c, prefix: prefix}, nil
}

func (s *BoltStore) Close() error {
	if err := s.Flush(); err != nil {
		_ = s.db.Close()
		return err
	}
	return s.db.Close()
}

type boltIterator struct {
	tx      *bolt.Tx
	c       *bolt.Cursor
	prefix  []byte
	started bool
	k, v    []byte
}

func (it *boltIterator) Next() bool {
	if !it.started {
		it.k, it.v = it.c.Seek(it.prefix)
		it.started = true
	} else {
		it.k, it.v = it.c.Next()
	}
	return it.k != nil && bytes.HasPrefix(it.k, it.prefix)
}

func (it *boltIterator) Key() []byte   { return it.k }
func (it *boltIterator) Value() []byte { return it.v }
func (it *boltIterator) Close() error  { return it.tx.Rollback() }
