package wal

import (
	"sync"

	"github.com/narwhaldb/narwhal/dberr"
)

// DefaultSize is the ring capacity when the namespace config leaves it
// unset.
const DefaultSize = 4_000_000

// WAL is the bounded ring of a single namespace. Writers append under
// the namespace write lock; slaves and subscribers read a snapshot
// range under the internal mutex.
type WAL struct {
	mu       sync.RWMutex
	ring     []Record
	size     int64
	serverID int64
	seq      int64 // next sequence to assign
	minSeq   int64 // oldest sequence still inside the ring
}

// New creates a ring of the given capacity.
func New(size int64, serverID int64) *WAL {
	if size <= 0 {
		size = DefaultSize
	}
	return &WAL{size: size, serverID: serverID, minSeq: 1, seq: 1}
}

// Add stamps rec with the next LSN, appends it and returns the LSN.
func (w *WAL) Add(rec Record) LSN {
	w.mu.Lock()
	defer w.mu.Unlock()
	lsn := MakeLSN(w.serverID, w.seq)
	rec.LSN = lsn
	w.seq++
	w.ring = append(w.ring, rec)
	if int64(len(w.ring)) > w.size {
		drop := int64(len(w.ring)) - w.size
		w.ring = w.ring[drop:]
		w.minSeq += drop
	}
	return lsn
}

// LastLSN returns the most recent assigned LSN, or 0 when empty.
func (w *WAL) LastLSN() LSN {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.seq <= 1 {
		return 0
	}
	return MakeLSN(w.serverID, w.seq-1)
}

// SetServerID changes the id used for future records.
func (w *WAL) SetServerID(id int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.serverID = id
}

// Resize changes the ring capacity, dropping oldest records if needed.
func (w *WAL) Resize(size int64) {
	if size <= 0 {
		size = DefaultSize
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.size = size
	if int64(len(w.ring)) > w.size {
		drop := int64(len(w.ring)) - w.size
		w.ring = w.ring[drop:]
		w.minSeq += drop
	}
}

// GetRange returns all records with sequence > from.Seq(). A starting
// point that already fell off the ring fails with CodeOutdatedWAL and
// the master must force a full resync.
func (w *WAL) GetRange(from LSN) ([]Record, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	start := from.Seq() + 1
	if from == 0 {
		start = w.minSeq
	}
	if start < w.minSeq {
		return nil, dberr.Newf(dberr.CodeOutdatedWAL,
			"lsn %s is outdated, oldest available is %d", from, w.minSeq)
	}
	if start >= w.seq {
		return nil, nil
	}
	out := make([]Record, 0, w.seq-start)
	for seq := start; seq < w.seq; seq++ {
		out = append(out, w.ring[seq-w.minSeq])
	}
	return out, nil
}

// Len returns the number of records currently held.
func (w *WAL) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.ring)
}
