// Package narwhal is an in-process, schema-flexible document database
// with typed secondary indexes, SQL and JSON-DSL query surfaces, a
// per-namespace write-ahead log for replication, and a pluggable
// ordered-KV persistence layer.
//
// The top-level DB is a directory of namespaces. Each namespace owns
// its schema, indexes, row slots and WAL; see the namespace package
// for the storage-engine internals.
package narwhal
