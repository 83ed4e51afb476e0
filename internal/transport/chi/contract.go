package chi

import (
	"context"

	"github.com/mailio/mailvec/internal/domain"
	healthuc "github.com/mailio/mailvec/internal/usecase/health"
	searchuc "github.com/mailio/mailvec/internal/usecase/search"
)

// Searcher runs the search pipeline.
type Searcher interface {
	Search(ctx context.Context, req searchuc.Request) (searchuc.Result, error)
}

// Indexer covers the document ingestion and removal operations the API exposes.
type Indexer interface {
	Put(ctx context.Context, address string, email *domain.Email) error
	Store(ctx context.Context, address string, email *domain.Email) error
	Enqueue(ctx context.Context, address, messageID string) error
	UpsertDirect(ctx context.Context, address, messageID string) error
	UpsertWithVector(ctx context.Context, address string, email *domain.Email, vec []float32) error
	Delete(ctx context.Context, address, messageID string) error
}

// Health aggregates component probes.
type Health interface {
	Check(ctx context.Context) healthuc.Report
}
