package narwhal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/index"
	"github.com/narwhaldb/narwhal/qresults"
	"github.com/narwhaldb/narwhal/wal"
)

func pkInt(name string) index.Def {
	return index.Def{Name: name, IndexType: index.KindHash, FieldType: "int", Opts: index.Opts{PK: true}}
}

func openMem(t *testing.T) *DB {
	t.Helper()
	db, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func rows(t *testing.T, res *qresults.Results) []map[string]interface{} {
	t.Helper()
	defer res.Close()
	var out []map[string]interface{}
	it := res.Iter()
	for it.Next() {
		data, err := it.JSON()
		require.NoError(t, err)
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &m))
		out = append(out, m)
	}
	return out
}

func TestSQLSelectByPK(t *testing.T) {
	db := openMem(t)
	ctx := context.Background()
	ns, err := db.OpenNamespace(ctx, "books", pkInt("id"),
		index.Def{Name: "title", IndexType: index.KindFtFast, FieldType: "string"})
	require.NoError(t, err)

	require.NoError(t, ns.Upsert(ctx, []byte(`{"id":1,"title":"a"}`)))
	require.NoError(t, ns.Upsert(ctx, []byte(`{"id":2,"title":"b"}`)))

	res, err := db.ExecSQL(ctx, "SELECT * FROM books WHERE id=2")
	require.NoError(t, err)
	items := rows(t, res)
	require.Len(t, items, 1)
	assert.Equal(t, float64(2), items[0]["id"])
	assert.Equal(t, "b", items[0]["title"])
}

func TestSQLOrderedRange(t *testing.T) {
	db := openMem(t)
	ctx := context.Background()
	ns, err := db.OpenNamespace(ctx, "items", pkInt("id"),
		index.Def{Name: "price", IndexType: index.KindTree, FieldType: "int"})
	require.NoError(t, err)
	for i := 1; i <= 10; i++ {
		require.NoError(t, ns.Upsert(ctx, []byte(fmt.Sprintf(`{"id":%d,"price":%d}`, i, i))))
	}

	res, err := db.ExecSQL(ctx,
		"SELECT * FROM items WHERE price > 3 AND price <= 7 ORDER BY price DESC LIMIT 2")
	require.NoError(t, err)
	items := rows(t, res)
	require.Len(t, items, 2)
	assert.Equal(t, float64(7), items[0]["price"])
	assert.Equal(t, float64(6), items[1]["price"])
}

func TestSQLUpdateAndDelete(t *testing.T) {
	db := openMem(t)
	ctx := context.Background()
	ns, err := db.OpenNamespace(ctx, "items", pkInt("id"),
		index.Def{Name: "price", IndexType: index.KindTree, FieldType: "int"})
	require.NoError(t, err)
	for i := 1; i <= 4; i++ {
		require.NoError(t, ns.Upsert(ctx, []byte(fmt.Sprintf(`{"id":%d,"price":%d}`, i, i*10))))
	}

	res, err := db.ExecSQL(ctx, "UPDATE items SET price = 5 WHERE price >= 30")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Len())
	res.Close()

	res, err = db.ExecSQL(ctx, "DELETE FROM items WHERE price = 5")
	require.NoError(t, err)
	res.Close()
	assert.Equal(t, 2, ns.ItemsCount())

	res, err = db.ExecSQL(ctx, "TRUNCATE items")
	require.NoError(t, err)
	res.Close()
	assert.Equal(t, 0, ns.ItemsCount())
}

func TestDSLQuery(t *testing.T) {
	db := openMem(t)
	ctx := context.Background()
	ns, err := db.OpenNamespace(ctx, "items", pkInt("id"))
	require.NoError(t, err)
	require.NoError(t, ns.Upsert(ctx, []byte(`{"id":1}`)))
	require.NoError(t, ns.Upsert(ctx, []byte(`{"id":2}`)))

	res, err := db.ExecDSL(ctx, []byte(`{"namespace":"items","filters":[{"field":"id","cond":"eq","value":2}]}`))
	require.NoError(t, err)
	items := rows(t, res)
	require.Len(t, items, 1)
	assert.Equal(t, float64(2), items[0]["id"])
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := Open(dir)
	require.NoError(t, err)
	ns, err := db.OpenNamespace(ctx, "books", pkInt("id"))
	require.NoError(t, err)
	require.NoError(t, ns.Upsert(ctx, []byte(`{"id":1,"title":"persisted"}`)))
	require.NoError(t, db.Close())

	db2, err := Open(dir)
	require.NoError(t, err)
	defer db2.Close()

	res, err := db2.ExecSQL(ctx, "SELECT * FROM books WHERE id=1")
	require.NoError(t, err)
	items := rows(t, res)
	require.Len(t, items, 1)
	assert.Equal(t, "persisted", items[0]["title"])
}

func TestDropAndRename(t *testing.T) {
	db := openMem(t)
	ctx := context.Background()
	_, err := db.OpenNamespace(ctx, "a", pkInt("id"))
	require.NoError(t, err)

	require.NoError(t, db.RenameNamespace("a", "b"))
	_, err = db.Namespace("a")
	assert.Equal(t, dberr.CodeNotFound, dberr.CodeOf(err))
	_, err = db.Namespace("b")
	require.NoError(t, err)

	require.NoError(t, db.DropNamespace("b"))
	_, err = db.Namespace("b")
	assert.Equal(t, dberr.CodeNotFound, dberr.CodeOf(err))
}

type countingSub struct {
	mu sync.Mutex
	n  int
}

func (c *countingSub) OnWALRecord(ns string, rec wal.Record) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingSub) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestSubscription(t *testing.T) {
	db := openMem(t)
	ctx := context.Background()
	ns, err := db.OpenNamespace(ctx, "items", pkInt("id"))
	require.NoError(t, err)

	sub := &countingSub{}
	db.Subscribe(sub, wal.Filter{Types: wal.TypeMask(wal.TypeItemUpdate)})
	require.NoError(t, ns.Upsert(ctx, []byte(`{"id":1}`)))
	require.NoError(t, ns.Delete(ctx, []byte(`{"id":1}`)))
	assert.Equal(t, 1, sub.count())

	db.Unsubscribe(sub)
	require.NoError(t, ns.Upsert(ctx, []byte(`{"id":2}`)))
	assert.Equal(t, 1, sub.count())
}

func TestSQLParseErrorCode(t *testing.T) {
	db := openMem(t)
	_, err := db.ExecSQL(context.Background(), "SELEC nonsense")
	assert.Equal(t, dberr.CodeParseSQL, dberr.CodeOf(err))
}
