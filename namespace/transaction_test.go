package namespace

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
	"github.com/narwhaldb/narwhal/wal"
)

type recordingSub struct {
	mu   sync.Mutex
	recs []wal.Record
}

func (r *recordingSub) OnWALRecord(ns string, rec wal.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func (r *recordingSub) records() []wal.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wal.Record(nil), r.recs...)
}

func newTxNS(t *testing.T) (*Namespace, *recordingSub) {
	t.Helper()
	broker := wal.NewBroker()
	ns, err := New("books", WithBroker(broker))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ns.Close() })
	require.NoError(t, ns.AddIndex(context.Background(), pkInt("id")))

	// Subscribe after the DDL so the stream holds only tx records.
	sub := &recordingSub{}
	broker.Subscribe(sub, wal.Filter{})
	return ns, sub
}

func TestTransactionCommit(t *testing.T) {
	ns, _ := newTxNS(t)
	ctx := context.Background()

	tx, err := ns.NewTransaction(ctx)
	require.NoError(t, err)
	tx.Insert([]byte(`{"id":1}`)).Insert([]byte(`{"id":2}`))
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, 2, ns.ItemsCount())
}

// A PK conflict mid-commit aborts the remaining steps but keeps the
// already applied ones, and the WAL framing still closes.
func TestTransactionPartialFailure(t *testing.T) {
	ns, sub := newTxNS(t)
	ctx := context.Background()

	tx, err := ns.NewTransaction(ctx)
	require.NoError(t, err)
	tx.Insert([]byte(`{"id":1}`)).Insert([]byte(`{"id":1}`)).Insert([]byte(`{"id":3}`))

	err = tx.Commit(ctx)
	require.Error(t, err)
	assert.Equal(t, dberr.CodeConflict, dberr.CodeOf(err))

	// The first insert survives; the third never ran.
	assert.Equal(t, 1, ns.ItemsCount())
	res, err := ns.Select(ctx, query.New("books").Where("id", query.CondEq, variant.NewInt(1)))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Len())
	res.Close()

	// Subscription stream: Init, one item update, Commit.
	recs := sub.records()
	require.Len(t, recs, 3)
	assert.Equal(t, wal.TypeInitTransaction, recs[0].Type)
	assert.Equal(t, wal.TypeItemUpdate, recs[1].Type)
	assert.Equal(t, wal.TypeCommitTransaction, recs[2].Type)

	txID := recs[0].TxID
	require.NotZero(t, txID)
	for _, rec := range recs {
		assert.Equal(t, txID, rec.TxID)
		assert.True(t, rec.InTx)
	}
}

func TestTransactionRollback(t *testing.T) {
	ns, sub := newTxNS(t)
	ctx := context.Background()

	tx, err := ns.NewTransaction(ctx)
	require.NoError(t, err)
	tx.Insert([]byte(`{"id":1}`))
	require.NoError(t, tx.Rollback())

	assert.Equal(t, 0, ns.ItemsCount())
	assert.Empty(t, sub.records())

	assert.Error(t, tx.Commit(ctx))
}

func TestTransactionModifyQuery(t *testing.T) {
	ns, _ := newTxNS(t)
	ctx := context.Background()
	require.NoError(t, ns.Upsert(ctx, []byte(`{"id":1,"price":5}`)))

	tx, err := ns.NewTransaction(ctx)
	require.NoError(t, err)
	del := query.New("books").Where("id", query.CondEq, variant.NewInt(1))
	del.Type = query.TypeDelete
	tx.ModifyQuery(del)
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, 0, ns.ItemsCount())
}

func TestTransactionLimit(t *testing.T) {
	ns, _ := newTxNS(t)
	cfg := DefaultConfig()
	cfg.MaxTransactions = 2
	ns.config = cfg
	ctx := context.Background()

	tx1, err := ns.NewTransaction(ctx)
	require.NoError(t, err)
	tx2, err := ns.NewTransaction(ctx)
	require.NoError(t, err)

	_, err = ns.NewTransaction(ctx)
	assert.Equal(t, dberr.CodeForbidden, dberr.CodeOf(err))

	require.NoError(t, tx1.Rollback())
	tx3, err := ns.NewTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx3.Rollback())
	require.NoError(t, tx2.Rollback())
}

func TestTransactionWALRingFraming(t *testing.T) {
	ns, _ := newTxNS(t)
	ctx := context.Background()

	tx, err := ns.NewTransaction(ctx)
	require.NoError(t, err)
	tx.Upsert([]byte(`{"id":10}`)).Upsert([]byte(`{"id":11}`))
	require.NoError(t, tx.Commit(ctx))

	recs, err := ns.WALRange(0)
	require.NoError(t, err)
	// The ring also holds the DDL records; the tx frame starts at the
	// single init record and closes the stream.
	var inits, commits, firstInit int
	firstInit = -1
	for i, rec := range recs {
		switch rec.Type {
		case wal.TypeInitTransaction:
			inits++
			if firstInit < 0 {
				firstInit = i
			}
		case wal.TypeCommitTransaction:
			commits++
		}
	}
	assert.Equal(t, 1, inits)
	assert.Equal(t, 1, commits)
	require.GreaterOrEqual(t, firstInit, 0)
	assert.Equal(t, wal.TypeItemUpdate, recs[firstInit+1].Type)
	assert.Equal(t, wal.TypeItemUpdate, recs[firstInit+2].Type)
	assert.Equal(t, wal.TypeCommitTransaction, recs[len(recs)-1].Type)
}
