package narwhal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/narwhaldb/narwhal/datastore"
	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/dsl"
	"github.com/narwhaldb/narwhal/index"
	"github.com/narwhaldb/narwhal/namespace"
	"github.com/narwhaldb/narwhal/qresults"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/sqlparser"
	"github.com/narwhaldb/narwhal/wal"
)

// DB is the directory of namespaces. It wires storage, the WAL
// subscription broker and the background maintenance loop.
type DB struct {
	mu         sync.RWMutex
	dir        string // empty means memory-only
	namespaces map[string]*namespace.Namespace
	broker     *wal.Broker
	nsConfig   namespace.Config
	logger     *Logger

	closeCh chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

// Option configures a DB at open time.
type Option func(*DB)

// WithLogger sets the logger.
func WithLogger(l *Logger) Option {
	return func(db *DB) {
		if l != nil {
			db.logger = l
		}
	}
}

// WithNamespaceConfig overrides the default per-namespace config.
func WithNamespaceConfig(cfg namespace.Config) Option {
	return func(db *DB) { db.nsConfig = cfg }
}

// Open creates a DB rooted at dir. An empty dir keeps everything in
// memory.
func Open(dir string, opts ...Option) (*DB, error) {
	db := &DB{
		dir:        dir,
		namespaces: make(map[string]*namespace.Namespace),
		broker:     wal.NewBroker(),
		nsConfig:   namespace.DefaultConfig(),
		logger:     NoopLogger(),
		closeCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(db)
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, dberr.Wrap(dberr.CodeLogic, err, "create db dir")
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, dberr.Wrap(dberr.CodeLogic, err, "scan db dir")
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if _, err := db.openNamespaceLocked(e.Name()); err != nil {
				db.logger.Errorf("db: open namespace %s: %v", e.Name(), err)
			}
		}
	}

	db.wg.Add(1)
	go db.runBackground()
	return db, nil
}

func (db *DB) runBackground() {
	defer db.wg.Done()
	ticker := time.NewTicker(db.nsConfig.BackgroundInterval)
	defer ticker.Stop()
	for {
		select {
		case <-db.closeCh:
			return
		case <-ticker.C:
			db.mu.RLock()
			list := make([]*namespace.Namespace, 0, len(db.namespaces))
			for _, ns := range db.namespaces {
				list = append(list, ns)
			}
			db.mu.RUnlock()
			for _, ns := range list {
				ns.BackgroundTick(context.Background())
			}
		}
	}
}

// OpenNamespace opens or creates a namespace and ensures the given
// indexes exist.
func (db *DB) OpenNamespace(ctx context.Context, name string, defs ...index.Def) (*namespace.Namespace, error) {
	if err := dberr.FromContext(ctx); err != nil {
		return nil, err
	}
	db.mu.Lock()
	ns, err := db.openNamespaceLocked(name)
	db.mu.Unlock()
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		if err := ns.AddIndex(ctx, def); err != nil {
			return nil, err
		}
	}
	return ns, nil
}

func (db *DB) openNamespaceLocked(name string) (*namespace.Namespace, error) {
	if db.closed {
		return nil, dberr.New(dberr.CodeLogic, "db is closed")
	}
	if name == "" {
		return nil, dberr.New(dberr.CodeParams, "namespace name is empty")
	}
	if ns, ok := db.namespaces[name]; ok {
		return ns, nil
	}
	opts := []namespace.Option{
		namespace.WithConfig(db.nsConfig),
		namespace.WithBroker(db.broker),
		namespace.WithLogger(db.logger),
	}
	if db.dir != "" {
		store, err := datastore.OpenBolt(filepath.Join(db.dir, name))
		if err != nil {
			return nil, err
		}
		opts = append(opts, namespace.WithStorage(store))
	}
	ns, err := namespace.New(name, opts...)
	if err != nil {
		return nil, err
	}
	ns.SetResolver(db.resolve)
	db.namespaces[name] = ns
	return ns, nil
}

// Namespace returns an open namespace.
func (db *DB) Namespace(name string) (*namespace.Namespace, error) {
	return db.resolve(name)
}

func (db *DB) resolve(name string) (*namespace.Namespace, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	ns, ok := db.namespaces[name]
	if !ok {
		return nil, dberr.Newf(dberr.CodeNotFound, "namespace '%s' is not open", name)
	}
	return ns, nil
}

// DropNamespace closes the namespace and deletes its storage.
func (db *DB) DropNamespace(name string) error {
	db.mu.Lock()
	ns, ok := db.namespaces[name]
	if ok {
		delete(db.namespaces, name)
	}
	db.mu.Unlock()
	if !ok {
		return dberr.Newf(dberr.CodeNotFound, "namespace '%s' is not open", name)
	}
	if err := ns.Close(); err != nil {
		db.logger.Errorf("db: close namespace %s: %v", name, err)
	}
	if db.dir != "" {
		return os.RemoveAll(filepath.Join(db.dir, name))
	}
	return nil
}

// RenameNamespace renames a namespace and moves its storage directory.
func (db *DB) RenameNamespace(oldName, newName string) error {
	if newName == "" {
		return dberr.New(dberr.CodeParams, "new namespace name is empty")
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	ns, ok := db.namespaces[oldName]
	if !ok {
		return dberr.Newf(dberr.CodeNotFound, "namespace '%s' is not open", oldName)
	}
	if _, exists := db.namespaces[newName]; exists {
		return dberr.Newf(dberr.CodeConflict, "namespace '%s' already exists", newName)
	}
	if db.dir != "" {
		// Close the namespace so its store releases the files, move the
		// storage dir, then reopen the namespace under the new name.
		if err := ns.Close(); err != nil {
			return err
		}
		if err := os.Rename(filepath.Join(db.dir, oldName), filepath.Join(db.dir, newName)); err != nil {
			return dberr.Wrap(dberr.CodeLogic, err, "move namespace storage")
		}
		delete(db.namespaces, oldName)
		_, err := db.openNamespaceLocked(newName)
		return err
	}
	if err := ns.Rename(newName); err != nil {
		return err
	}
	delete(db.namespaces, oldName)
	db.namespaces[newName] = ns
	return nil
}

// ExecSQL parses and executes one SQL statement.
func (db *DB) ExecSQL(ctx context.Context, sql string) (*qresults.Results, error) {
	q, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, err
	}
	return db.ExecQuery(ctx, q)
}

// ExecDSL parses and executes one JSON DSL document.
func (db *DB) ExecDSL(ctx context.Context, doc []byte) (*qresults.Results, error) {
	q, err := dsl.Parse(doc)
	if err != nil {
		return nil, err
	}
	return db.ExecQuery(ctx, q)
}

// ExecQuery dispatches an AST to its namespace.
func (db *DB) ExecQuery(ctx context.Context, q *query.Query) (*qresults.Results, error) {
	ns, err := db.resolve(q.Namespace)
	if err != nil {
		return nil, err
	}
	switch q.Type {
	case query.TypeSelect:
		return ns.Select(ctx, q)
	case query.TypeUpdate:
		return ns.UpdateQuery(ctx, q)
	case query.TypeDelete:
		return ns.DeleteQuery(ctx, q)
	case query.TypeTruncate:
		return qresults.New(), ns.Truncate(ctx)
	}
	return nil, dberr.Newf(dberr.CodeParams, "unsupported query type %d", q.Type)
}

// Subscribe registers a WAL subscriber with a filter.
func (db *DB) Subscribe(sub wal.Subscriber, filter wal.Filter) {
	db.broker.Subscribe(sub, filter)
}

// Unsubscribe removes a WAL subscriber.
func (db *DB) Unsubscribe(sub wal.Subscriber) {
	db.broker.Unsubscribe(sub)
}

// Close stops the background loop and closes every namespace.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	namespaces := db.namespaces
	db.namespaces = make(map[string]*namespace.Namespace)
	db.mu.Unlock()

	close(db.closeCh)
	db.wg.Wait()

	var firstErr error
	for name, ns := range namespaces {
		if err := ns.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close namespace %s: %w", name, err)
		}
	}
	return firstErr
}

func sprintf(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}
