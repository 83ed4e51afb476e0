// Package indexer keeps the vector index synchronized with the document
// store: a producer that enqueues embedding jobs, a synchronous upsert path,
// and the queue worker that processes jobs with bounded retries.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mailio/mailvec/internal/domain"
	"github.com/mailio/mailvec/internal/logger"
	"github.com/mailio/mailvec/internal/repository/vector"
)

// Service implements document ingestion into the vector index.
type Service struct {
	docs       Documents
	index      VectorIndex
	broker     Broker
	embed      Embedder
	dimensions int
	resyncBack time.Duration
	now        func() time.Time
}

// New creates an indexer service.
func New(docs Documents, index VectorIndex, broker Broker, embed Embedder, dimensions int) *Service {
	return &Service{
		docs:       docs,
		index:      index,
		broker:     broker,
		embed:      embed,
		dimensions: dimensions,
		resyncBack: 90 * 24 * time.Hour,
		now:        time.Now,
	}
}

// Put stores a document and schedules its embedding. Documents already
// flagged indexed are stored without a new job.
func (s *Service) Put(ctx context.Context, address string, email *domain.Email) error {
	if err := s.docs.Put(ctx, address, email); err != nil {
		return err
	}
	if email.Indexed {
		return nil
	}
	return s.Enqueue(ctx, address, email.MessageID)
}

// Store persists a document without scheduling embedding work. Used by the
// synchronous upsert path, which indexes inline instead of via the queue.
func (s *Service) Store(ctx context.Context, address string, email *domain.Email) error {
	return s.docs.Put(ctx, address, email)
}

// Enqueue schedules an embedding job. Duplicates are allowed; the consumer's
// indexed check makes redelivery harmless.
func (s *Service) Enqueue(ctx context.Context, address, messageID string) error {
	job := domain.EmbeddingJob{
		ID:        uuid.NewString(),
		Address:   address,
		MessageID: messageID,
	}
	if err := s.broker.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue %s: %w", messageID, err)
	}
	return nil
}

// UpsertDirect embeds and indexes a document synchronously, bypassing the
// queue. Used when the caller wants the document searchable before returning.
func (s *Service) UpsertDirect(ctx context.Context, address, messageID string) error {
	_, err := s.processDocument(ctx, address, messageID)
	return err
}

// UpsertWithVector stores a document together with a caller-computed
// embedding, skipping the embedding provider entirely. Documents already
// flagged indexed are stored without touching the vector index.
func (s *Service) UpsertWithVector(ctx context.Context, address string, email *domain.Email, vec []float32) error {
	if s.dimensions > 0 && len(vec) != s.dimensions {
		return fmt.Errorf("%w: got %d, want %d",
			domain.ErrVectorDimMismatch, len(vec), s.dimensions)
	}
	if err := s.docs.Put(ctx, address, email); err != nil {
		return err
	}
	if email.Indexed || email.Deleted {
		return nil
	}

	entry := vector.Entry{
		ID:       email.MessageID,
		Vector:   vec,
		Created:  email.Created,
		Metadata: email.Metadata(),
	}
	if err := s.index.Upsert(ctx, address, entry); err != nil {
		return fmt.Errorf("upsert %s: %w", email.MessageID, err)
	}
	return s.docs.MarkIndexed(ctx, address, email.MessageID)
}

// Delete removes a document's vector and tombstones the stored document so
// stale index hits reconcile to nothing instead of resurrecting it.
func (s *Service) Delete(ctx context.Context, address, messageID string) error {
	if err := s.index.Delete(ctx, address, []string{messageID}); err != nil {
		return fmt.Errorf("delete vector %s: %w", messageID, err)
	}

	email, err := s.docs.Get(ctx, address, messageID)
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	email.Deleted = true
	return s.docs.Put(ctx, address, email)
}

// SyncAll re-enqueues embedding jobs for every live unindexed document
// created within the resync window, across all registered addresses.
// Returns the number of jobs scheduled.
func (s *Service) SyncAll(ctx context.Context) (int, error) {
	log := logger.FromContext(ctx)

	addresses, err := s.docs.ListAddresses(ctx)
	if err != nil {
		return 0, fmt.Errorf("list addresses: %w", err)
	}

	cutoff := s.now().Add(-s.resyncBack).UnixMilli()
	scheduled := 0
	for _, address := range addresses {
		ids, err := s.docs.ListUnindexed(ctx, address, cutoff)
		if err != nil {
			return scheduled, fmt.Errorf("list unindexed for %s: %w", address, err)
		}
		for _, id := range ids {
			if err := s.Enqueue(ctx, address, id); err != nil {
				return scheduled, err
			}
			scheduled++
		}
		if len(ids) > 0 {
			log.Info("resync scheduled",
				zap.String("address", address),
				zap.Int("jobs", len(ids)))
		}
	}
	return scheduled, nil
}

// processDocument runs the shared embed-and-upsert sequence for one document.
// The returned bool reports whether work was done (false = idempotent skip).
func (s *Service) processDocument(ctx context.Context, address, messageID string) (bool, error) {
	email, err := s.docs.Get(ctx, address, messageID)
	if err != nil {
		return false, err
	}
	if email.Indexed || email.Deleted {
		return false, nil
	}

	text := email.EmbeddableText()
	if text == "" {
		return false, nil
	}

	emb, err := s.embed.Embed(ctx, text)
	if err != nil {
		return false, fmt.Errorf("embed %s: %w", messageID, err)
	}
	if s.dimensions > 0 && len(emb.Embedding) != s.dimensions {
		return false, fmt.Errorf("%w: got %d, want %d",
			domain.ErrVectorDimMismatch, len(emb.Embedding), s.dimensions)
	}

	entry := vector.Entry{
		ID:       messageID,
		Vector:   emb.Embedding,
		Created:  email.Created,
		Metadata: email.Metadata(),
	}
	if err := s.index.Upsert(ctx, address, entry); err != nil {
		return false, fmt.Errorf("upsert %s: %w", messageID, err)
	}

	// Not transactional with the upsert: a crash here loses the flag and the
	// document is reprocessed. The upsert overwrites, so that is safe.
	if err := s.docs.MarkIndexed(ctx, address, messageID); err != nil {
		return false, fmt.Errorf("mark indexed %s: %w", messageID, err)
	}
	return true, nil
}
