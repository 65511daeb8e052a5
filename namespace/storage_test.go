package namespace

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narwhaldb/narwhal/datastore"
	"github.com/narwhaldb/narwhal/index"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
)

// reopenNS hydrates a fresh namespace from the same store.
func reopenNS(t *testing.T, store datastore.Store, name string) *Namespace {
	t.Helper()
	ns, err := New(name, WithStorage(store))
	require.NoError(t, err)
	return ns
}

func TestPersistAndReload(t *testing.T) {
	store := datastore.NewMemory()
	ns, err := New("books", WithStorage(store))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ns.AddIndex(ctx, pkInt("id")))
	require.NoError(t, ns.AddIndex(ctx, index.Def{Name: "price", IndexType: index.KindTree, FieldType: "int"}))
	require.NoError(t, ns.SetSchema(ctx, []byte(`{"type":"object"}`)))
	require.NoError(t, ns.PutMeta(ctx, "origin", "test"))
	for i := 1; i <= 5; i++ {
		require.NoError(t, ns.Upsert(ctx, []byte(fmt.Sprintf(`{"id":%d,"price":%d}`, i, i*10))))
	}

	// Stage + flush while the namespace stays open; the reload reads
	// the same store.
	require.NoError(t, func() error {
		if err := ns.lock.Lock(); err != nil {
			return err
		}
		defer ns.lock.Unlock()
		return ns.stageDirty()
	}())
	require.NoError(t, store.Flush())

	restored := reopenNS(t, store, "books")
	assert.Equal(t, 5, restored.ItemsCount())

	defs, err := restored.Indexes()
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "id", defs[0].Name)
	assert.True(t, defs[0].Opts.PK)

	schema, err := restored.GetSchema()
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"type":"object"}`), schema)

	v, err := restored.GetMeta(ctx, "origin")
	require.NoError(t, err)
	assert.Equal(t, "test", v)

	res, err := restored.Select(ctx, query.New("books").
		Where("price", query.CondGt, variant.NewInt(30)))
	require.NoError(t, err)
	defer res.Close()
	assert.Equal(t, 2, res.Len())
}

func TestPersistDeletesRemoveRows(t *testing.T) {
	store := datastore.NewMemory()
	ns, err := New("books", WithStorage(store))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, ns.AddIndex(ctx, pkInt("id")))

	require.NoError(t, ns.Upsert(ctx, []byte(`{"id":1}`)))
	require.NoError(t, ns.Upsert(ctx, []byte(`{"id":2}`)))
	require.NoError(t, ns.Delete(ctx, []byte(`{"id":1}`)))
	require.NoError(t, func() error {
		if err := ns.lock.Lock(); err != nil {
			return err
		}
		defer ns.lock.Unlock()
		return ns.stageDirty()
	}())

	restored := reopenNS(t, store, "books")
	assert.Equal(t, 1, restored.ItemsCount())
	res, err := restored.Select(ctx, query.New("books").Where("id", query.CondEq, variant.NewInt(1)))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Len())
	res.Close()
}

func TestCompressedPayloadRecords(t *testing.T) {
	for _, codec := range []string{"lz4", "zstd"} {
		t.Run(codec, func(t *testing.T) {
			store := datastore.NewMemory()
			cfg := DefaultConfig()
			cfg.StorageCodec = codec
			ns, err := New("books", WithStorage(store), WithConfig(cfg))
			require.NoError(t, err)
			ctx := context.Background()
			require.NoError(t, ns.AddIndex(ctx, pkInt("id")))
			require.NoError(t, ns.Upsert(ctx, []byte(`{"id":1,"body":"some longer text body for compression"}`)))
			require.NoError(t, func() error {
				if err := ns.lock.Lock(); err != nil {
					return err
				}
				defer ns.lock.Unlock()
				return ns.stageDirty()
			}())

			cfg2 := DefaultConfig()
			cfg2.StorageCodec = codec
			restored, err := New("books", WithStorage(store), WithConfig(cfg2))
			require.NoError(t, err)
			assert.Equal(t, 1, restored.ItemsCount())
		})
	}
}

func TestSysRecordVersioning(t *testing.T) {
	store := datastore.NewMemory()
	ns, err := New("books", WithStorage(store))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, ns.AddIndex(ctx, pkInt("id")))

	flush := func() {
		require.NoError(t, func() error {
			if err := ns.lock.Lock(); err != nil {
				return err
			}
			defer ns.lock.Unlock()
			return ns.stageDirty()
		}())
	}
	flush()
	require.NoError(t, ns.SetSchema(ctx, []byte(`{"v":1}`)))
	flush()
	require.NoError(t, ns.SetSchema(ctx, []byte(`{"v":2}`)))
	flush()

	restored := reopenNS(t, store, "books")
	schema, err := restored.GetSchema()
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":2}`), schema)
}
