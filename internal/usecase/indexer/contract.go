package indexer

import (
	"context"
	"time"

	"github.com/mailio/mailvec/internal/domain"
	"github.com/mailio/mailvec/internal/repository/vector"
)

// Documents defines the document store contract for indexing operations.
type Documents interface {
	Get(ctx context.Context, address, messageID string) (*domain.Email, error)
	Put(ctx context.Context, address string, email *domain.Email) error
	MarkIndexed(ctx context.Context, address, messageID string) error
	ListAddresses(ctx context.Context) ([]string, error)
	ListUnindexed(ctx context.Context, address string, createdAfterMillis int64) ([]string, error)
}

// VectorIndex writes and removes embeddings under an address namespace.
type VectorIndex interface {
	Upsert(ctx context.Context, address string, entry vector.Entry) error
	Delete(ctx context.Context, address string, ids []string) error
}

// Broker is the embedding task queue contract.
type Broker interface {
	Enqueue(ctx context.Context, job domain.EmbeddingJob) error
	EnqueueDelayed(ctx context.Context, job domain.EmbeddingJob, delay time.Duration) error
	Dequeue(ctx context.Context, timeout time.Duration) (domain.EmbeddingJob, bool, error)
	PromoteDue(ctx context.Context, now time.Time) (int, error)
	Depth(ctx context.Context) (int64, error)
}

// Embedder vectorizes document text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
