// Package queue implements the embedding task broker over two Redis
// structures: a list as the ready queue and a sorted set, scored by
// deliver-at time, as the delay queue for retries.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mailio/mailvec/internal/db"
	"github.com/mailio/mailvec/internal/domain"
)

// store is the consumer interface for broker operations.
type store interface {
	LPush(ctx context.Context, key string, value []byte) error
	BRPop(ctx context.Context, key string, timeout time.Duration) ([]byte, error)
	LLen(ctx context.Context, key string) (int64, error)
	ZAdd(ctx context.Context, key string, score float64, member []byte) error
	ZPopDue(ctx context.Context, key string, max float64, limit int) ([][]byte, error)
}

const promoteBatchSize = 100

// Broker produces and consumes embedding jobs with at-least-once delivery.
type Broker struct {
	store    store
	readyKey string
	delayKey string
}

// New creates a broker bound to a named queue.
func New(s store, keyPrefix, queueName string) *Broker {
	readyKey := keyPrefix + "queue:" + queueName
	return &Broker{
		store:    s,
		readyKey: readyKey,
		delayKey: readyKey + ":delayed",
	}
}

// Enqueue appends a job to the tail of the ready queue.
func (b *Broker) Enqueue(ctx context.Context, job domain.EmbeddingJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := b.store.LPush(ctx, b.readyKey, data); err != nil {
		return fmt.Errorf("%w: enqueue: %v", domain.ErrBrokerUnavailable, err)
	}
	return nil
}

// EnqueueDelayed schedules a job for delivery after the given delay.
func (b *Broker) EnqueueDelayed(ctx context.Context, job domain.EmbeddingJob, delay time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	deliverAt := float64(time.Now().Add(delay).UnixMilli())
	if err := b.store.ZAdd(ctx, b.delayKey, deliverAt, data); err != nil {
		return fmt.Errorf("%w: enqueue delayed: %v", domain.ErrBrokerUnavailable, err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next ready job. The second return value
// reports whether a job was received; a quiet timeout is not an error.
func (b *Broker) Dequeue(ctx context.Context, timeout time.Duration) (domain.EmbeddingJob, bool, error) {
	data, err := b.store.BRPop(ctx, b.readyKey, timeout)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domain.EmbeddingJob{}, false, nil
		}
		return domain.EmbeddingJob{}, false, fmt.Errorf("%w: dequeue: %v", domain.ErrBrokerUnavailable, err)
	}

	var job domain.EmbeddingJob
	if err := json.Unmarshal(data, &job); err != nil {
		return domain.EmbeddingJob{}, false, fmt.Errorf("%w: %v", domain.ErrMalformedJob, err)
	}
	return job, true, nil
}

// PromoteDue moves jobs whose delay has elapsed from the delay queue back onto
// the ready queue. Returns how many jobs were promoted.
func (b *Broker) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	members, err := b.store.ZPopDue(ctx, b.delayKey, float64(now.UnixMilli()), promoteBatchSize)
	if err != nil {
		return 0, fmt.Errorf("%w: promote due: %v", domain.ErrBrokerUnavailable, err)
	}

	promoted := 0
	for _, member := range members {
		if err := b.store.LPush(ctx, b.readyKey, member); err != nil {
			return promoted, fmt.Errorf("%w: promote due: %v", domain.ErrBrokerUnavailable, err)
		}
		promoted++
	}
	return promoted, nil
}

// Depth reports the current ready queue length.
func (b *Broker) Depth(ctx context.Context) (int64, error) {
	n, err := b.store.LLen(ctx, b.readyKey)
	if err != nil {
		return 0, fmt.Errorf("%w: depth: %v", domain.ErrBrokerUnavailable, err)
	}
	return n, nil
}
