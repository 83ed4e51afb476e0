package indexer

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/mailio/mailvec/internal/domain"
	"github.com/mailio/mailvec/internal/metrics"
	"github.com/mailio/mailvec/internal/repository/vector"
)

func TestMain(m *testing.M) {
	metrics.RegisterPipelineMetrics()
	os.Exit(m.Run())
}

// --- Mocks ---

type mockDocs struct {
	getFn           func(ctx context.Context, address, messageID string) (*domain.Email, error)
	putFn           func(ctx context.Context, address string, email *domain.Email) error
	markIndexedFn   func(ctx context.Context, address, messageID string) error
	listAddressesFn func(ctx context.Context) ([]string, error)
	listUnindexedFn func(ctx context.Context, address string, cutoff int64) ([]string, error)
	marked          []string
}

func (m *mockDocs) Get(ctx context.Context, address, messageID string) (*domain.Email, error) {
	if m.getFn != nil {
		return m.getFn(ctx, address, messageID)
	}
	return nil, domain.ErrDocumentNotFound
}

func (m *mockDocs) Put(ctx context.Context, address string, email *domain.Email) error {
	if m.putFn != nil {
		return m.putFn(ctx, address, email)
	}
	return nil
}

func (m *mockDocs) MarkIndexed(ctx context.Context, address, messageID string) error {
	m.marked = append(m.marked, messageID)
	if m.markIndexedFn != nil {
		return m.markIndexedFn(ctx, address, messageID)
	}
	return nil
}

func (m *mockDocs) ListAddresses(ctx context.Context) ([]string, error) {
	if m.listAddressesFn != nil {
		return m.listAddressesFn(ctx)
	}
	return nil, nil
}

func (m *mockDocs) ListUnindexed(ctx context.Context, address string, cutoff int64) ([]string, error) {
	if m.listUnindexedFn != nil {
		return m.listUnindexedFn(ctx, address, cutoff)
	}
	return nil, nil
}

type mockIndex struct {
	upsertFn func(ctx context.Context, address string, entry vector.Entry) error
	deleteFn func(ctx context.Context, address string, ids []string) error
	upserts  []vector.Entry
	deleted  [][]string
}

func (m *mockIndex) Upsert(ctx context.Context, address string, entry vector.Entry) error {
	m.upserts = append(m.upserts, entry)
	if m.upsertFn != nil {
		return m.upsertFn(ctx, address, entry)
	}
	return nil
}

func (m *mockIndex) Delete(ctx context.Context, address string, ids []string) error {
	m.deleted = append(m.deleted, ids)
	if m.deleteFn != nil {
		return m.deleteFn(ctx, address, ids)
	}
	return nil
}

type mockBroker struct {
	enqueueFn        func(ctx context.Context, job domain.EmbeddingJob) error
	enqueueDelayedFn func(ctx context.Context, job domain.EmbeddingJob, delay time.Duration) error
	dequeueFn        func(ctx context.Context, timeout time.Duration) (domain.EmbeddingJob, bool, error)
	enqueued         []domain.EmbeddingJob
	delayed          []domain.EmbeddingJob
}

func (m *mockBroker) Enqueue(ctx context.Context, job domain.EmbeddingJob) error {
	m.enqueued = append(m.enqueued, job)
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, job)
	}
	return nil
}

func (m *mockBroker) EnqueueDelayed(ctx context.Context, job domain.EmbeddingJob, delay time.Duration) error {
	m.delayed = append(m.delayed, job)
	if m.enqueueDelayedFn != nil {
		return m.enqueueDelayedFn(ctx, job, delay)
	}
	return nil
}

func (m *mockBroker) Dequeue(ctx context.Context, timeout time.Duration) (domain.EmbeddingJob, bool, error) {
	if m.dequeueFn != nil {
		return m.dequeueFn(ctx, timeout)
	}
	return domain.EmbeddingJob{}, false, nil
}

func (m *mockBroker) PromoteDue(_ context.Context, _ time.Time) (int, error) { return 0, nil }
func (m *mockBroker) Depth(_ context.Context) (int64, error)                { return 0, nil }

type mockEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.calls++
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vec}, nil
}

func liveEmail(messageID string) *domain.Email {
	return &domain.Email{
		MessageID:   messageID,
		Folder:      "inbox",
		Subject:     "status update",
		SenderEmail: "ana@mail.io",
		Created:     1741000000000,
		Sentences:   []string{"All services green."},
	}
}

func newTestService(docs *mockDocs, idx *mockIndex, broker *mockBroker, emb *mockEmbedder) *Service {
	return New(docs, idx, broker, emb, 2)
}

// --- Put / Enqueue ---

func TestPut_StoresAndEnqueues(t *testing.T) {
	docs := &mockDocs{}
	broker := &mockBroker{}
	svc := newTestService(docs, &mockIndex{}, broker, &mockEmbedder{vec: []float32{0.1, 0.2}})

	if err := svc.Put(context.Background(), "igor@mail.io", liveEmail("msg-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(broker.enqueued) != 1 {
		t.Fatalf("expected one job, got %d", len(broker.enqueued))
	}
	job := broker.enqueued[0]
	if job.Address != "igor@mail.io" || job.MessageID != "msg-1" || job.RetryCount != 0 {
		t.Errorf("unexpected job: %+v", job)
	}
	if job.ID == "" {
		t.Error("expected a generated job id")
	}
}

func TestStore_PersistsWithoutQueueJob(t *testing.T) {
	stored := 0
	docs := &mockDocs{
		putFn: func(_ context.Context, _ string, _ *domain.Email) error {
			stored++
			return nil
		},
	}
	broker := &mockBroker{}
	svc := newTestService(docs, &mockIndex{}, broker, &mockEmbedder{})

	if err := svc.Store(context.Background(), "igor@mail.io", liveEmail("msg-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored != 1 {
		t.Fatalf("expected the document persisted, got %d writes", stored)
	}
	if len(broker.enqueued) != 0 {
		t.Errorf("store must not schedule embedding work, got %v", broker.enqueued)
	}
}

func TestPut_IndexedDocumentSkipsQueue(t *testing.T) {
	broker := &mockBroker{}
	svc := newTestService(&mockDocs{}, &mockIndex{}, broker, &mockEmbedder{})

	email := liveEmail("msg-1")
	email.Indexed = true
	if err := svc.Put(context.Background(), "igor@mail.io", email); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(broker.enqueued) != 0 {
		t.Fatalf("indexed document must not be re-enqueued, got %d jobs", len(broker.enqueued))
	}
}

// --- UpsertDirect ---

func TestUpsertDirect_EmbedsAndMarksIndexed(t *testing.T) {
	docs := &mockDocs{
		getFn: func(_ context.Context, _, messageID string) (*domain.Email, error) {
			return liveEmail(messageID), nil
		},
	}
	idx := &mockIndex{}
	emb := &mockEmbedder{vec: []float32{0.1, 0.2}}
	svc := newTestService(docs, idx, &mockBroker{}, emb)

	if err := svc.UpsertDirect(context.Background(), "igor@mail.io", "msg-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(idx.upserts) != 1 {
		t.Fatalf("expected one upsert, got %d", len(idx.upserts))
	}
	entry := idx.upserts[0]
	if entry.ID != "msg-1" || entry.Created != 1741000000000 {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Metadata["from_email"] != "ana@mail.io" {
		t.Errorf("expected stripped metadata, got %v", entry.Metadata)
	}
	if _, ok := entry.Metadata["from_name"]; ok {
		t.Error("empty metadata fields must be stripped")
	}
	if len(docs.marked) != 1 || docs.marked[0] != "msg-1" {
		t.Errorf("expected indexed flag persisted, got %v", docs.marked)
	}
}

func TestUpsertDirect_IndexedShortCircuit(t *testing.T) {
	docs := &mockDocs{
		getFn: func(_ context.Context, _, messageID string) (*domain.Email, error) {
			email := liveEmail(messageID)
			email.Indexed = true
			return email, nil
		},
	}
	emb := &mockEmbedder{vec: []float32{0.1, 0.2}}
	svc := newTestService(docs, &mockIndex{}, &mockBroker{}, emb)

	if err := svc.UpsertDirect(context.Background(), "igor@mail.io", "msg-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emb.calls != 0 {
		t.Errorf("indexed document must not be embedded, got %d calls", emb.calls)
	}
}

func TestUpsertDirect_DimensionMismatch(t *testing.T) {
	docs := &mockDocs{
		getFn: func(_ context.Context, _, messageID string) (*domain.Email, error) {
			return liveEmail(messageID), nil
		},
	}
	idx := &mockIndex{}
	svc := newTestService(docs, idx, &mockBroker{}, &mockEmbedder{vec: []float32{0.1, 0.2, 0.3}})

	err := svc.UpsertDirect(context.Background(), "igor@mail.io", "msg-1")
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("expected ErrVectorDimMismatch, got %v", err)
	}
	if len(idx.upserts) != 0 {
		t.Error("mismatched vector must not reach the index")
	}
}

func TestUpsertDirect_TextlessDocumentSkipped(t *testing.T) {
	docs := &mockDocs{
		getFn: func(_ context.Context, _, messageID string) (*domain.Email, error) {
			return &domain.Email{MessageID: messageID, Created: 1}, nil
		},
	}
	emb := &mockEmbedder{vec: []float32{0.1, 0.2}}
	svc := newTestService(docs, &mockIndex{}, &mockBroker{}, emb)

	if err := svc.UpsertDirect(context.Background(), "igor@mail.io", "msg-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emb.calls != 0 {
		t.Error("textless document must not be embedded")
	}
}

// --- UpsertWithVector ---

func TestUpsertWithVector_StoresAndIndexes(t *testing.T) {
	docs := &mockDocs{}
	idx := &mockIndex{}
	emb := &mockEmbedder{}
	svc := newTestService(docs, idx, &mockBroker{}, emb)

	err := svc.UpsertWithVector(context.Background(), "igor@mail.io", liveEmail("msg-1"), []float32{0.5, 0.6})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emb.calls != 0 {
		t.Error("client-supplied vector must not hit the embedder")
	}
	if len(idx.upserts) != 1 {
		t.Fatalf("expected one upsert, got %d", len(idx.upserts))
	}
	if idx.upserts[0].Vector[0] != 0.5 {
		t.Errorf("unexpected vector: %v", idx.upserts[0].Vector)
	}
	if len(docs.marked) != 1 || docs.marked[0] != "msg-1" {
		t.Errorf("expected indexed flag persisted, got %v", docs.marked)
	}
}

func TestUpsertWithVector_DimensionMismatch(t *testing.T) {
	docs := &mockDocs{
		putFn: func(_ context.Context, _ string, _ *domain.Email) error {
			t.Error("mismatched vector must be rejected before the store write")
			return nil
		},
	}
	svc := newTestService(docs, &mockIndex{}, &mockBroker{}, &mockEmbedder{})

	err := svc.UpsertWithVector(context.Background(), "igor@mail.io", liveEmail("msg-1"), []float32{0.5})
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("expected ErrVectorDimMismatch, got %v", err)
	}
}

func TestUpsertWithVector_IndexedShortCircuit(t *testing.T) {
	idx := &mockIndex{}
	svc := newTestService(&mockDocs{}, idx, &mockBroker{}, &mockEmbedder{})

	email := liveEmail("msg-1")
	email.Indexed = true
	err := svc.UpsertWithVector(context.Background(), "igor@mail.io", email, []float32{0.5, 0.6})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(idx.upserts) != 0 {
		t.Error("indexed document must not be re-upserted")
	}
}

// --- Delete ---

func TestDelete_RemovesVectorAndTombstonesDocument(t *testing.T) {
	var stored *domain.Email
	docs := &mockDocs{
		getFn: func(_ context.Context, _, messageID string) (*domain.Email, error) {
			return liveEmail(messageID), nil
		},
		putFn: func(_ context.Context, _ string, email *domain.Email) error {
			stored = email
			return nil
		},
	}
	idx := &mockIndex{}
	svc := newTestService(docs, idx, &mockBroker{}, &mockEmbedder{})

	if err := svc.Delete(context.Background(), "igor@mail.io", "msg-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(idx.deleted) != 1 || idx.deleted[0][0] != "msg-1" {
		t.Fatalf("expected one vector deletion, got %v", idx.deleted)
	}
	if stored == nil || !stored.Deleted {
		t.Error("expected the document tombstoned")
	}
}

func TestDelete_MissingDocumentIsNotAnError(t *testing.T) {
	idx := &mockIndex{}
	svc := newTestService(&mockDocs{}, idx, &mockBroker{}, &mockEmbedder{})

	if err := svc.Delete(context.Background(), "igor@mail.io", "msg-gone"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(idx.deleted) != 1 {
		t.Fatalf("expected the vector deletion regardless, got %v", idx.deleted)
	}
}

// --- SyncAll ---

func TestSyncAll_EnqueuesUnindexedPerAddress(t *testing.T) {
	docs := &mockDocs{
		listAddressesFn: func(_ context.Context) ([]string, error) {
			return []string{"a@mail.io", "b@mail.io"}, nil
		},
		listUnindexedFn: func(_ context.Context, address string, cutoff int64) ([]string, error) {
			if cutoff <= 0 {
				t.Errorf("expected a positive resync cutoff, got %d", cutoff)
			}
			if address == "a@mail.io" {
				return []string{"msg-1", "msg-2"}, nil
			}
			return nil, nil
		},
	}
	broker := &mockBroker{}
	svc := newTestService(docs, &mockIndex{}, broker, &mockEmbedder{})

	scheduled, err := svc.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scheduled != 2 || len(broker.enqueued) != 2 {
		t.Fatalf("expected 2 jobs, got %d", scheduled)
	}
	if broker.enqueued[0].Address != "a@mail.io" {
		t.Errorf("unexpected job: %+v", broker.enqueued[0])
	}
}
