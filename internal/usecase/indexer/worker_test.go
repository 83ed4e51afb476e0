package indexer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mailio/mailvec/internal/domain"
)

func newTestWorker(docs *mockDocs, idx *mockIndex, broker *mockBroker, emb *mockEmbedder) *Worker {
	svc := newTestService(docs, idx, broker, emb)
	return NewWorker(svc, broker, WorkerConfig{
		MaxRetries:     3,
		RetryDelay:     30 * time.Second,
		ReconnectDelay: time.Millisecond,
		DequeueTimeout: time.Millisecond,
	}, zap.NewNop())
}

func TestHandle_SuccessMarksIndexed(t *testing.T) {
	docs := &mockDocs{
		getFn: func(_ context.Context, _, messageID string) (*domain.Email, error) {
			return liveEmail(messageID), nil
		},
	}
	idx := &mockIndex{}
	broker := &mockBroker{}
	w := newTestWorker(docs, idx, broker, &mockEmbedder{vec: []float32{0.1, 0.2}})

	w.handle(context.Background(), domain.EmbeddingJob{ID: "j1", Address: "a@mail.io", MessageID: "msg-1"})

	if len(idx.upserts) != 1 {
		t.Fatalf("expected one upsert, got %d", len(idx.upserts))
	}
	if len(docs.marked) != 1 {
		t.Fatalf("expected indexed flag persisted, got %v", docs.marked)
	}
	if len(broker.delayed) != 0 {
		t.Errorf("successful job must not be retried, got %v", broker.delayed)
	}
}

func TestHandle_FailureIncrementsRetryAndDelays(t *testing.T) {
	docs := &mockDocs{
		getFn: func(_ context.Context, _, messageID string) (*domain.Email, error) {
			return liveEmail(messageID), nil
		},
	}
	broker := &mockBroker{}
	w := newTestWorker(docs, &mockIndex{}, broker, &mockEmbedder{err: errors.New("provider down")})

	w.handle(context.Background(), domain.EmbeddingJob{ID: "j1", Address: "a@mail.io", MessageID: "msg-1", RetryCount: 1})

	if len(broker.delayed) != 1 {
		t.Fatalf("expected one delayed retry, got %d", len(broker.delayed))
	}
	if broker.delayed[0].RetryCount != 2 {
		t.Errorf("retry count must increment, got %d", broker.delayed[0].RetryCount)
	}
}

func TestHandle_DropAtRetryBudget(t *testing.T) {
	docs := &mockDocs{
		getFn: func(_ context.Context, _, messageID string) (*domain.Email, error) {
			return liveEmail(messageID), nil
		},
	}
	broker := &mockBroker{}
	w := newTestWorker(docs, &mockIndex{}, broker, &mockEmbedder{err: errors.New("provider down")})

	w.handle(context.Background(), domain.EmbeddingJob{ID: "j1", Address: "a@mail.io", MessageID: "msg-1", RetryCount: 2})

	if len(broker.delayed) != 0 {
		t.Fatalf("job at retry budget must be dropped, got %v", broker.delayed)
	}
	if len(broker.enqueued) != 0 {
		t.Fatalf("dropped job must not reappear on the ready queue")
	}
}

func TestHandle_IndexedDocumentSkipped(t *testing.T) {
	docs := &mockDocs{
		getFn: func(_ context.Context, _, messageID string) (*domain.Email, error) {
			email := liveEmail(messageID)
			email.Indexed = true
			return email, nil
		},
	}
	idx := &mockIndex{}
	broker := &mockBroker{}
	emb := &mockEmbedder{vec: []float32{0.1, 0.2}}
	w := newTestWorker(docs, idx, broker, emb)

	w.handle(context.Background(), domain.EmbeddingJob{ID: "j1", Address: "a@mail.io", MessageID: "msg-1"})
	w.handle(context.Background(), domain.EmbeddingJob{ID: "j2", Address: "a@mail.io", MessageID: "msg-1"})

	if emb.calls != 0 || len(idx.upserts) != 0 {
		t.Error("redelivered indexed document must be a no-op")
	}
	if len(broker.delayed) != 0 {
		t.Error("skip is not a failure, no retry expected")
	}
}

func TestHandle_MissingDocumentDiscarded(t *testing.T) {
	docs := &mockDocs{
		getFn: func(_ context.Context, _, _ string) (*domain.Email, error) {
			return nil, domain.ErrDocumentNotFound
		},
	}
	broker := &mockBroker{}
	w := newTestWorker(docs, &mockIndex{}, broker, &mockEmbedder{})

	w.handle(context.Background(), domain.EmbeddingJob{ID: "j1", Address: "a@mail.io", MessageID: "gone"})

	if len(broker.delayed) != 0 {
		t.Error("vanished document must not be retried")
	}
}

func TestRun_RedeliveryProducesSingleIndexEntry(t *testing.T) {
	docs := &mockDocs{}
	indexed := false
	docs.getFn = func(_ context.Context, _, messageID string) (*domain.Email, error) {
		email := liveEmail(messageID)
		email.Indexed = indexed
		return email, nil
	}
	docs.markIndexedFn = func(_ context.Context, _, _ string) error {
		indexed = true
		return nil
	}

	idx := &mockIndex{}
	deliveries := 0
	broker := &mockBroker{
		dequeueFn: func(ctx context.Context, _ time.Duration) (domain.EmbeddingJob, bool, error) {
			deliveries++
			if deliveries > 2 {
				return domain.EmbeddingJob{}, false, ctx.Err()
			}
			return domain.EmbeddingJob{ID: "j", Address: "a@mail.io", MessageID: "msg-1"}, true, nil
		},
	}
	w := newTestWorker(docs, idx, broker, &mockEmbedder{vec: []float32{0.1, 0.2}})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	w.Run(ctx)

	if len(idx.upserts) != 1 {
		t.Fatalf("same message delivered twice must upsert once, got %d", len(idx.upserts))
	}
}

func TestRun_MalformedPayloadDroppedWithoutReconnect(t *testing.T) {
	docs := &mockDocs{
		getFn: func(_ context.Context, _, messageID string) (*domain.Email, error) {
			return liveEmail(messageID), nil
		},
	}
	idx := &mockIndex{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	broker := &mockBroker{
		dequeueFn: func(_ context.Context, _ time.Duration) (domain.EmbeddingJob, bool, error) {
			calls++
			switch calls {
			case 1:
				return domain.EmbeddingJob{}, false, fmt.Errorf("%w: invalid character", domain.ErrMalformedJob)
			case 2:
				return domain.EmbeddingJob{ID: "j", Address: "a@mail.io", MessageID: "msg-1"}, true, nil
			default:
				cancel()
				return domain.EmbeddingJob{}, false, nil
			}
		},
	}

	svc := newTestService(docs, idx, broker, &mockEmbedder{vec: []float32{0.1, 0.2}})
	// A long reconnect delay makes the loop hang visibly if a bad payload is
	// mistaken for a broker outage.
	w := NewWorker(svc, broker, WorkerConfig{
		MaxRetries:     3,
		RetryDelay:     30 * time.Second,
		ReconnectDelay: time.Hour,
		DequeueTimeout: time.Millisecond,
	}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker stalled on a malformed payload")
	}

	if len(idx.upserts) != 1 {
		t.Fatalf("job after the bad payload must still be processed, got %d upserts", len(idx.upserts))
	}
	if len(broker.delayed) != 0 {
		t.Errorf("a bad payload cannot be retried, got %v", broker.delayed)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	broker := &mockBroker{}
	w := newTestWorker(&mockDocs{}, &mockIndex{}, broker, &mockEmbedder{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancellation")
	}
}
