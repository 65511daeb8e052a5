// Package namespace implements the per-collection storage engine: the
// row slots, the secondary indexes, the transactional mutation
// protocol, the rule-based selecter and the WAL.
package namespace

import (
	"time"
)

// Config is the per-namespace tuning block.
type Config struct {
	// WALSize caps the replication ring.
	WALSize int64 `json:"wal_size"`
	// ServerID prefixes every LSN.
	ServerID int64 `json:"server_id"`
	// StorageCodec compresses payload records: none, lz4 or zstd.
	StorageCodec string `json:"storage_codec"`
	// SyncStorageFlushLimit forces a flush once this many rows are
	// dirty; the background loop flushes earlier batches lazily.
	SyncStorageFlushLimit int `json:"sync_storage_flush_limit"`
	// OptimizationTimeout bounds one background optimization pass.
	OptimizationTimeout time.Duration `json:"optimization_timeout"`
	// BackgroundInterval paces the maintenance loop.
	BackgroundInterval time.Duration `json:"background_interval"`
	// FlushRatePerSec throttles storage flushes.
	FlushRatePerSec int `json:"flush_rate_per_sec"`
	// StrictTxAtomicity is carried in the config, but Commit does not
	// read it: a failing step aborts the commit and earlier steps stay
	// applied whether it is set or not.
	StrictTxAtomicity bool `json:"strict_tx_atomicity"`
	// MaxTransactions bounds concurrently open transactions.
	MaxTransactions int `json:"max_transactions"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		WALSize:               4_000_000,
		SyncStorageFlushLimit: 20_000,
		OptimizationTimeout:   800 * time.Millisecond,
		BackgroundInterval:    100 * time.Millisecond,
		FlushRatePerSec:       4,
		MaxTransactions:       1024,
	}
}

// OptimizationState tracks the background sort-order build.
type OptimizationState int32

const (
	NotOptimized OptimizationState = iota
	OptimizingIndexes
	OptimizingSortOrders
	OptimizationCompleted
)
