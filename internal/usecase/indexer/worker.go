package indexer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mailio/mailvec/internal/domain"
	"github.com/mailio/mailvec/internal/metrics"
)

// WorkerConfig tunes the consumer loop.
type WorkerConfig struct {
	MaxRetries     int
	RetryDelay     time.Duration
	ReconnectDelay time.Duration
	DequeueTimeout time.Duration
}

// Worker is one competing consumer of the embedding queue.
type Worker struct {
	svc    *Service
	broker Broker
	cfg    WorkerConfig
	logger *zap.Logger
}

// NewWorker creates a queue worker.
func NewWorker(svc *Service, broker Broker, cfg WorkerConfig, log *zap.Logger) *Worker {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{svc: svc, broker: broker, cfg: cfg, logger: log}
}

// Run consumes jobs until ctx is cancelled. Broker connectivity loss is
// retried indefinitely with a fixed delay; malformed payloads are dropped
// in place; job-level failures go through the delayed retry path and never
// stop the loop.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, ok, err := w.broker.Dequeue(ctx, w.cfg.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// A payload that does not decode is already consumed; dropping
			// it is the only option, and the broker itself is fine.
			if errors.Is(err, domain.ErrMalformedJob) {
				metrics.QueueJobsTotal.WithLabelValues("dropped").Inc()
				w.logger.Error("malformed job payload, dropping", zap.Error(err))
				continue
			}
			w.logger.Warn("broker unreachable, reconnecting", zap.Error(err))
			if !sleepCtx(ctx, w.cfg.ReconnectDelay) {
				return
			}
			continue
		}
		if !ok {
			continue
		}

		w.handle(ctx, job)
	}
}

// handle processes one delivered job and decides its fate: done, retried
// with a delay, or dropped once the retry budget is spent.
func (w *Worker) handle(ctx context.Context, job domain.EmbeddingJob) {
	log := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("address", job.Address),
		zap.String("message_id", job.MessageID),
		zap.Int("retry_count", job.RetryCount),
	)

	done, err := w.svc.processDocument(ctx, job.Address, job.MessageID)
	if err == nil {
		if done {
			metrics.QueueJobsTotal.WithLabelValues("processed").Inc()
		} else {
			metrics.QueueJobsTotal.WithLabelValues("skipped").Inc()
		}
		return
	}

	// A document that vanished between enqueue and processing is not a
	// failure worth retrying.
	if errors.Is(err, domain.ErrDocumentNotFound) {
		metrics.QueueJobsTotal.WithLabelValues("skipped").Inc()
		log.Info("document gone, job discarded")
		return
	}

	job.RetryCount++
	if job.RetryCount >= w.cfg.MaxRetries {
		metrics.QueueJobsTotal.WithLabelValues("dropped").Inc()
		log.Error("retry budget exhausted, dropping job", zap.Error(err))
		return
	}

	if reErr := w.broker.EnqueueDelayed(ctx, job, w.cfg.RetryDelay); reErr != nil {
		metrics.QueueJobsTotal.WithLabelValues("dropped").Inc()
		log.Error("retry re-enqueue failed, dropping job",
			zap.Error(err), zap.NamedError("requeue_error", reErr))
		return
	}
	metrics.QueueJobsTotal.WithLabelValues("retried").Inc()
	log.Warn("job failed, retry scheduled", zap.Error(err))
}

// RunDelayMover promotes due delayed jobs back onto the ready queue until
// ctx is cancelled.
func (w *Worker) RunDelayMover(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := w.broker.PromoteDue(ctx, now); err != nil {
				w.logger.Warn("delay queue promotion failed", zap.Error(err))
			}
		}
	}
}

// RunDepthGauge periodically publishes the ready queue length.
func (w *Worker) RunDepthGauge(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if depth, err := w.broker.Depth(ctx); err == nil {
				metrics.QueueDepth.Set(float64(depth))
			}
		}
	}
}

// sleepCtx waits for d or cancellation; reports false when cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
