package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	acks "irrigation-cloud/internal/acks/domain"
)

// ErrPersist wraps a durable-store failure; the in-memory ack is
// already stored when it is returned.
var ErrPersist = errors.New("ack store: persist failed")

// Repository persists ack records and sweeps expired ones.
type Repository interface {
	UpsertRecord(ctx context.Context, record acks.Record) error
	FindRecord(ctx context.Context, correlationID string) (*acks.Record, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Store correlates device command outcomes by correlation id. The
// in-memory map is unbounded on purpose: command volume per process
// lifetime is small, and only the durable table accumulates across
// restarts.
type Store struct {
	mu   sync.RWMutex
	acks map[string]acks.Ack

	repo   Repository
	ttl    time.Duration
	logger *log.Logger
	now    func() time.Time
}

// StoreOption configures the store.
type StoreOption func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore constructs an ack store.
func NewStore(repo Repository, ttl time.Duration, logger *log.Logger, opts ...StoreOption) (*Store, error) {
	if repo == nil {
		return nil, errors.New("ack store: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	store := &Store{
		acks:   make(map[string]acks.Ack),
		repo:   repo,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Put upserts the ack in memory and then the durable record. A
// redelivered ack simply overwrites; same correlation id, same row.
func (s *Store) Put(ctx context.Context, deviceID string, ack acks.Ack) error {
	if ack.CorrelationID == "" {
		return errors.New("ack store: empty correlation id")
	}
	s.mu.Lock()
	s.acks[ack.CorrelationID] = ack
	s.mu.Unlock()

	received := s.now().UTC()
	payload, err := json.Marshal(ack)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	record := acks.Record{
		CorrelationID: ack.CorrelationID,
		DeviceID:      deviceID,
		Result:        ack.Result,
		Status:        ack.Status,
		Payload:       payload,
		ReceivedAt:    received,
		ExpiresAt:     received.Add(s.ttl),
	}
	if err := s.repo.UpsertRecord(ctx, record); err != nil {
		s.logger.Printf("ack store: persist ack %s: %v", ack.CorrelationID, err)
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

// Get returns the in-memory ack. The second return distinguishes "not
// yet answered" from an answer.
func (s *Store) Get(correlationID string) (acks.Ack, bool) {
	s.mu.RLock()
	ack, ok := s.acks[correlationID]
	s.mu.RUnlock()
	return ack, ok
}

// GetOrLoad falls back to the durable record on a memory miss, so
// callers querying after a restart still find their answer.
func (s *Store) GetOrLoad(ctx context.Context, correlationID string) (acks.Ack, bool, error) {
	if ack, ok := s.Get(correlationID); ok {
		return ack, true, nil
	}
	record, err := s.repo.FindRecord(ctx, correlationID)
	if err != nil {
		return acks.Ack{}, false, err
	}
	if record == nil {
		return acks.Ack{}, false, nil
	}
	var ack acks.Ack
	if len(record.Payload) > 0 {
		if err := json.Unmarshal(record.Payload, &ack); err != nil {
			return acks.Ack{}, false, fmt.Errorf("ack store: decode durable ack %s: %w", correlationID, err)
		}
	}
	if ack.CorrelationID == "" {
		ack.CorrelationID = record.CorrelationID
	}
	if ack.Result == "" {
		ack.Result = record.Result
	}
	if ack.Status == "" {
		ack.Status = record.Status
	}
	s.mu.Lock()
	if _, ok := s.acks[correlationID]; !ok {
		s.acks[correlationID] = ack
	}
	s.mu.Unlock()
	return ack, true, nil
}

// TTL reports the configured durable retention.
func (s *Store) TTL() time.Duration {
	return s.ttl
}
