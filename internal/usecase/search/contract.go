package search

import (
	"context"

	"github.com/mailio/mailvec/internal/domain"
	"github.com/mailio/mailvec/internal/repository/vector"
)

// VectorIndex defines the vector storage contract for search operations.
type VectorIndex interface {
	Query(
		ctx context.Context, address string, vec []float32,
		filter vector.Filter, limit int,
	) ([]domain.VectorMatch, error)
	Delete(ctx context.Context, address string, ids []string) error
}

// Documents reads source documents for reconciliation and metadata merge.
type Documents interface {
	BulkGet(ctx context.Context, address string, ids []string) (map[string]*domain.Email, []string, error)
}

// Embedder vectorizes query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Cleaner schedules detached background work. Submit must not block the
// caller on the task itself.
type Cleaner interface {
	Submit(task func()) error
}
