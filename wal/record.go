// Package wal implements the bounded write-ahead ring every namespace
// keeps for asynchronous replication and change subscription.
package wal

import (
	"fmt"
)

// LSN is a log sequence number: server id in the high bits, a strictly
// increasing sequence in the low bits.
type LSN int64

const lsnSeqBits = 53

// MakeLSN composes an LSN from server id and sequence.
func MakeLSN(serverID int64, seq int64) LSN {
	return LSN(serverID<<lsnSeqBits | seq)
}

// Seq returns the sequence part.
func (l LSN) Seq() int64 { return int64(l) & (1<<lsnSeqBits - 1) }

// Server returns the originating server id.
func (l LSN) Server() int64 { return int64(l) >> lsnSeqBits }

// String formats the LSN for logs.
func (l LSN) String() string {
	return fmt.Sprintf("%d:%d", l.Server(), l.Seq())
}

// RecordType enumerates WAL record kinds.
type RecordType int

const (
	TypeEmpty RecordType = iota
	TypeItemUpdate
	TypeItemDelete
	TypeIndexAdd
	TypeIndexUpdate
	TypeIndexDrop
	TypePutMeta
	TypeSetSchema
	TypeInitTransaction
	TypeCommitTransaction
	TypeRename
	TypeReplState
	TypeTruncate
	TypeUpdateQuery
	TypeDeleteQuery
)

// String returns a short name for subscription debugging.
func (t RecordType) String() string {
	switch t {
	case TypeEmpty:
		return "empty"
	case TypeItemUpdate:
		return "item_update"
	case TypeItemDelete:
		return "item_delete"
	case TypeIndexAdd:
		return "index_add"
	case TypeIndexUpdate:
		return "index_update"
	case TypeIndexDrop:
		return "index_drop"
	case TypePutMeta:
		return "put_meta"
	case TypeSetSchema:
		return "set_schema"
	case TypeInitTransaction:
		return "init_tx"
	case TypeCommitTransaction:
		return "commit_tx"
	case TypeRename:
		return "rename"
	case TypeReplState:
		return "repl_state"
	case TypeTruncate:
		return "truncate"
	case TypeUpdateQuery:
		return "update_query"
	case TypeDeleteQuery:
		return "delete_query"
	}
	return "unknown"
}

// Record is one WAL entry. Data is the record-type-specific payload:
// the CJSON tuple for item records, the serialized definition for DDL,
// key/value pairs for meta.
type Record struct {
	Type RecordType
	LSN  LSN
	Data []byte
	// RowID is set for item records so replay can restore slots.
	RowID uint32
	// TxID groups the records of one transaction; 0 outside of one.
	TxID uint64
	// InTx marks records written between init and commit.
	InTx bool
}
