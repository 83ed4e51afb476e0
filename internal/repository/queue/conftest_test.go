package queue

import (
	"context"
	"testing"
	"time"

	"github.com/mailio/mailvec/internal/domain"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	lpushFn   func(ctx context.Context, key string, value []byte) error
	brpopFn   func(ctx context.Context, key string, timeout time.Duration) ([]byte, error)
	llenFn    func(ctx context.Context, key string) (int64, error)
	zaddFn    func(ctx context.Context, key string, score float64, member []byte) error
	zpopDueFn func(ctx context.Context, key string, max float64, limit int) ([][]byte, error)
}

func (m *mockStore) LPush(ctx context.Context, key string, value []byte) error {
	if m.lpushFn != nil {
		return m.lpushFn(ctx, key, value)
	}
	return nil
}

func (m *mockStore) BRPop(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	if m.brpopFn != nil {
		return m.brpopFn(ctx, key, timeout)
	}
	return nil, nil
}

func (m *mockStore) LLen(ctx context.Context, key string) (int64, error) {
	if m.llenFn != nil {
		return m.llenFn(ctx, key)
	}
	return 0, nil
}

func (m *mockStore) ZAdd(ctx context.Context, key string, score float64, member []byte) error {
	if m.zaddFn != nil {
		return m.zaddFn(ctx, key, score, member)
	}
	return nil
}

func (m *mockStore) ZPopDue(ctx context.Context, key string, max float64, limit int) ([][]byte, error) {
	if m.zpopDueFn != nil {
		return m.zpopDueFn(ctx, key, max, limit)
	}
	return nil, nil
}

func newTestBroker(t *testing.T) (*Broker, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	broker := New(ms, "mailvec:", "default_embedding_queue")
	return broker, ms
}

func testJob() domain.EmbeddingJob {
	return domain.EmbeddingJob{
		ID:        "job-1",
		Address:   "igor@mail.io",
		MessageID: "msg-1",
	}
}
