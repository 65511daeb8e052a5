package namespace

import (
	"context"
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/wal"
)

type txStepKind int

const (
	stepModifyItem txStepKind = iota
	stepModifyQuery
)

type txStep struct {
	kind  txStepKind
	mode  modifyMode
	item  []byte
	query *query.Query
}

// Transaction stages an ordered list of modifications against one
// namespace. Steps apply on Commit inside a single write-lock critical
// section, framed by init/commit WAL records.
type Transaction struct {
	ns         *Namespace
	id         uint64
	stateToken int32
	steps      []txStep
	finished   bool
}

// NewTransaction opens a transaction. The per-namespace open count is
// bounded; the server edge reaps idle transactions via Rollback.
func (ns *Namespace) NewTransaction(ctx context.Context) (*Transaction, error) {
	if err := dberr.FromContext(ctx); err != nil {
		return nil, err
	}
	if err := ns.lock.RLock(); err != nil {
		return nil, err
	}
	token := ns.tagsMatcher.StateToken()
	ns.lock.RUnlock()
	if int(ns.openTxs.Add(1)) > ns.config.MaxTransactions {
		ns.openTxs.Add(-1)
		return nil, dberr.Newf(dberr.CodeForbidden,
			"too many open transactions on '%s' (limit %d)", ns.name, ns.config.MaxTransactions)
	}
	u := uuid.New()
	return &Transaction{
		ns:         ns,
		id:         binary.BigEndian.Uint64(u[:8]),
		stateToken: token,
	}, nil
}

// StateToken returns the tags token the transaction was opened with.
// Clients embed it in CJSON items; a mismatch at commit surfaces
// CodeStateInvalidated and the client refetches.
func (tx *Transaction) StateToken() int32 { return tx.stateToken }

// Insert stages an insert of a JSON item.
func (tx *Transaction) Insert(jsonItem []byte) *Transaction {
	return tx.modify(jsonItem, modeInsert)
}

// Update stages an update of a JSON item.
func (tx *Transaction) Update(jsonItem []byte) *Transaction {
	return tx.modify(jsonItem, modeUpdate)
}

// Upsert stages an upsert of a JSON item.
func (tx *Transaction) Upsert(jsonItem []byte) *Transaction {
	return tx.modify(jsonItem, modeUpsert)
}

// Delete stages a delete by item PK.
func (tx *Transaction) Delete(jsonItem []byte) *Transaction {
	return tx.modify(jsonItem, modeDelete)
}

func (tx *Transaction) modify(jsonItem []byte, mode modifyMode) *Transaction {
	tx.steps = append(tx.steps, txStep{kind: stepModifyItem, mode: mode, item: append([]byte(nil), jsonItem...)})
	return tx
}

// ModifyQuery stages an UPDATE or DELETE query.
func (tx *Transaction) ModifyQuery(q *query.Query) *Transaction {
	tx.steps = append(tx.steps, txStep{kind: stepModifyQuery, query: q})
	return tx
}

// Commit applies the staged steps in order. When a step fails the
// remaining steps are skipped and earlier steps stay applied; the WAL
// framing still closes with a commit record covering what was applied.
// Commit does not read Config.StrictTxAtomicity.
func (tx *Transaction) Commit(ctx context.Context) error {
	if tx.finished {
		return dberr.New(dberr.CodeLogic, "transaction already finished")
	}
	tx.finished = true
	defer tx.ns.openTxs.Add(-1)
	if err := dberr.FromContext(ctx); err != nil {
		return err
	}
	ns := tx.ns
	if err := ns.lock.Lock(); err != nil {
		return err
	}
	defer ns.lock.Unlock()

	if ns.tagsMatcher.StateToken() != tx.stateToken {
		return dberr.ErrStateInvalidated
	}

	initRec := wal.Record{Type: wal.TypeInitTransaction, TxID: tx.id, InTx: true}
	lsn := ns.wlog.Add(initRec)
	ns.replState.LastLSN = lsn
	if ns.broker != nil {
		initRec.LSN = lsn
		ns.broker.Publish(ns.name, initRec)
	}

	var stepErr error
	for _, step := range tx.steps {
		if stepErr = dberr.FromContext(ctx); stepErr != nil {
			break
		}
		switch step.kind {
		case stepModifyItem:
			stepErr = ns.doModify(step.item, step.mode, tx.id)
		case stepModifyQuery:
			switch step.query.Type {
			case query.TypeUpdate:
				_, stepErr = ns.updateQueryLocked(ctx, step.query, tx.id)
			case query.TypeDelete:
				_, stepErr = ns.deleteQueryLocked(ctx, step.query, tx.id)
			default:
				stepErr = dberr.New(dberr.CodeParams, "transaction queries must be UPDATE or DELETE")
			}
		}
		if stepErr != nil {
			break
		}
	}

	commitRec := wal.Record{Type: wal.TypeCommitTransaction, TxID: tx.id, InTx: true}
	lsn = ns.wlog.Add(commitRec)
	ns.replState.LastLSN = lsn
	if ns.broker != nil {
		commitRec.LSN = lsn
		ns.broker.Publish(ns.name, commitRec)
	}
	return stepErr
}

// Rollback discards the staged steps without applying anything.
func (tx *Transaction) Rollback() error {
	if tx.finished {
		return dberr.New(dberr.CodeLogic, "transaction already finished")
	}
	tx.finished = true
	tx.ns.openTxs.Add(-1)
	tx.steps = nil
	return nil
}
