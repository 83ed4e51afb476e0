// Package db defines the storage contracts backing the vector index, the
// document store, and the queue broker. One Redis instance serves all three;
// consumers depend on the narrow sub-interfaces they use.
package db

import (
	"context"
	"time"
)

// Store is the full database facade combining all sub-interfaces.
type Store interface {
	Pinger
	HashStore
	KVStore
	ListStore
	DelayStore
	IndexManager
	Searcher
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HashStore provides hash-based operations for vector index entries.
type HashStore interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// KVStore provides plain key-value operations for source documents.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	GetMulti(ctx context.Context, keys []string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, key string) error
	// Scan returns all keys matching the glob pattern.
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// ListStore provides the queue broker's ready-list primitives. Enqueue pushes
// to the head; BRPop pops from the tail, so delivery order is FIFO-ish.
type ListStore interface {
	LPush(ctx context.Context, key string, value []byte) error
	// BRPop blocks up to timeout for an element; returns ErrKeyNotFound on
	// timeout with nothing available.
	BRPop(ctx context.Context, key string, timeout time.Duration) ([]byte, error)
	LLen(ctx context.Context, key string) (int64, error)
}

// DelayStore provides the broker's delay queue: a sorted set scored by
// deliver-at time in epoch milliseconds.
type DelayStore interface {
	ZAdd(ctx context.Context, key string, score float64, member []byte) error
	// ZPopDue removes and returns up to limit members with score <= max.
	ZPopDue(ctx context.Context, key string, max float64, limit int) ([][]byte, error)
}

// IndexManager provides FT index lifecycle operations.
type IndexManager interface {
	CreateIndex(ctx context.Context, def *IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	DropIndex(ctx context.Context, name string) error
}

// Searcher provides KNN search over FT indexes.
type Searcher interface {
	SearchKNN(ctx context.Context, q *KNNQuery) (*SearchResult, error)
}

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	Filter       string // pre-built FT.SEARCH filter string; "" means match all
	Vector       []float32
	K            int
	ReturnFields []string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
