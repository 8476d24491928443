package application

import (
	"context"
	"errors"
	"log"
	"time"

	"irrigation-cloud/internal/observability/metrics"
)

const defaultCleanupPeriod = time.Minute

// CleanupWorker deletes expired durable ack records on a fixed period.
// It is the only garbage collection the ack table gets.
type CleanupWorker struct {
	repo   Repository
	ttl    time.Duration
	period time.Duration
	logger *log.Logger
	now    func() time.Time
}

// NewCleanupWorker constructs a cleanup worker. A non-positive period
// falls back to the default.
func NewCleanupWorker(repo Repository, ttl, period time.Duration, logger *log.Logger) (*CleanupWorker, error) {
	if repo == nil {
		return nil, errors.New("ack cleanup: nil repository")
	}
	if period <= 0 {
		period = defaultCleanupPeriod
	}
	if logger == nil {
		logger = log.Default()
	}
	return &CleanupWorker{repo: repo, ttl: ttl, period: period, logger: logger, now: time.Now}, nil
}

// Run sweeps until the context is cancelled. Cleanup is disabled when
// the ttl is zero or negative.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.ttl <= 0 {
		w.logger.Printf("ack cleanup: disabled (ttl=%s)", w.ttl)
		return
	}
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.logger.Printf("ack cleanup: sweep error: %v", err)
			}
		}
	}
}

// Sweep deletes all records whose expiry has passed.
func (w *CleanupWorker) Sweep(ctx context.Context) (int, error) {
	count, err := w.repo.DeleteExpired(ctx, w.now().UTC())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		metrics.AddAckCleanupDeleted(count)
		w.logger.Printf("ack cleanup: deleted %d expired records", count)
	}
	return count, nil
}
