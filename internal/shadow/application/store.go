package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"irrigation-cloud/internal/observability/metrics"
	shadow "irrigation-cloud/internal/shadow/domain"
)

// ErrPersist wraps a durable-store failure on the persisting update
// path. The in-memory cache is already updated when it is returned.
var ErrPersist = errors.New("shadow store: persist failed")

// StateRecord is the durable form of a shadow entry.
type StateRecord struct {
	DeviceID  string
	State     []byte
	UpdatedAt time.Time
}

// StateRepository persists shadow entries.
type StateRepository interface {
	UpsertState(ctx context.Context, record StateRecord) error
	FindState(ctx context.Context, deviceID string) (*StateRecord, error)
}

// LastSeenReader provides the degraded fallback when no durable state
// row exists: the device's last_seen timestamp with no state body.
type LastSeenReader interface {
	FindLastSeen(ctx context.Context, deviceID string) (*time.Time, error)
}

// Store is the per-process source of truth for what each device last
// reported. Entries are replaced whole; reads on different devices never
// block each other beyond the map lock.
type Store struct {
	mu      sync.RWMutex
	entries map[string]shadow.Entry

	repo      StateRepository
	lastSeen  LastSeenReader
	threshold time.Duration
	logger    *log.Logger
	now       func() time.Time
}

// Option configures the store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore constructs a shadow store.
func NewStore(repo StateRepository, lastSeen LastSeenReader, onlineThreshold time.Duration, logger *log.Logger, opts ...Option) (*Store, error) {
	if repo == nil {
		return nil, errors.New("shadow store: nil repository")
	}
	if onlineThreshold <= 0 {
		return nil, errors.New("shadow store: online threshold must be positive")
	}
	if logger == nil {
		logger = log.Default()
	}
	store := &Store{
		entries:   make(map[string]shadow.Entry),
		repo:      repo,
		lastSeen:  lastSeen,
		threshold: onlineThreshold,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// UpdateFromState replaces the cache entry unconditionally. Last write
// wins even when messages arrive out of order.
func (s *Store) UpdateFromState(deviceID string, state shadow.DeviceState, observedAt time.Time) error {
	if deviceID == "" {
		return errors.New("shadow store: empty device id")
	}
	s.mu.Lock()
	s.entries[deviceID] = shadow.Entry{State: state, ObservedAt: observedAt.UTC()}
	s.mu.Unlock()
	return nil
}

// UpdateFromStateAndPersist updates the cache and then upserts the
// durable row. The cache update always takes effect; a durable-store
// failure is surfaced wrapped in ErrPersist and left to the caller.
func (s *Store) UpdateFromStateAndPersist(ctx context.Context, deviceID string, state shadow.DeviceState, observedAt time.Time) error {
	if err := s.UpdateFromState(deviceID, state, observedAt); err != nil {
		return err
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	record := StateRecord{DeviceID: deviceID, State: payload, UpdatedAt: observedAt.UTC()}
	if err := s.repo.UpsertState(ctx, record); err != nil {
		s.logger.Printf("shadow store: persist state for %s: %v", deviceID, err)
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

// GetSnapshotOrLoad returns the cached snapshot, hydrating the cache
// from durable storage on a miss. Returns nil when the device has never
// reported anywhere.
func (s *Store) GetSnapshotOrLoad(ctx context.Context, deviceID string) (*shadow.Snapshot, error) {
	if deviceID == "" {
		return nil, errors.New("shadow store: empty device id")
	}
	s.mu.RLock()
	entry, ok := s.entries[deviceID]
	s.mu.RUnlock()
	if ok {
		return s.snapshot(entry, shadow.SourceMemory), nil
	}

	record, err := s.repo.FindState(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if record != nil {
		var state shadow.DeviceState
		if err := json.Unmarshal(record.State, &state); err != nil {
			return nil, fmt.Errorf("shadow store: decode durable state for %s: %w", deviceID, err)
		}
		entry = shadow.Entry{State: state, ObservedAt: record.UpdatedAt.UTC()}
		s.storeIfAbsent(deviceID, entry)
		return s.snapshot(entry, shadow.SourceDBState), nil
	}

	if s.lastSeen == nil {
		return nil, nil
	}
	seen, err := s.lastSeen.FindLastSeen(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if seen == nil {
		return nil, nil
	}
	// Degraded fallback: the device existed but left no state body.
	entry = shadow.Entry{State: shadow.DeviceState{DeviceID: deviceID}, ObservedAt: seen.UTC()}
	s.storeIfAbsent(deviceID, entry)
	return s.snapshot(entry, shadow.SourceDBFallback), nil
}

// GetManualWateringView builds the watering summary for a device, or
// nil when the device has never reported.
func (s *Store) GetManualWateringView(ctx context.Context, deviceID string) (*shadow.ManualWateringView, error) {
	snap, err := s.GetSnapshotOrLoad(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, nil
	}
	now := s.now()
	watering := snap.State.ManualWatering
	view := &shadow.ManualWateringView{
		DeviceID:         deviceID,
		Status:           watering.Status,
		DurationSeconds:  watering.DurationSeconds,
		RemainingSeconds: watering.RemainingSeconds(now),
		CorrelationID:    watering.CorrelationID,
		Online:           snap.Online,
		Source:           "calculated",
	}
	if view.Status == "" {
		view.Status = shadow.WateringIdle
	}
	if watering.StartedAt > 0 {
		view.StartedAt = time.Unix(watering.StartedAt, 0).UTC()
	}
	return view, nil
}

// Clear drops every cache entry.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]shadow.Entry)
	s.mu.Unlock()
}

func (s *Store) snapshot(entry shadow.Entry, source string) *shadow.Snapshot {
	metrics.IncShadowLoad(source)
	return &shadow.Snapshot{
		State:     entry.State,
		UpdatedAt: entry.ObservedAt,
		Online:    s.now().Sub(entry.ObservedAt) <= s.threshold,
		Source:    source,
	}
}

// storeIfAbsent populates the cache after a durable read without
// clobbering a fresher entry written concurrently by the bus handler.
func (s *Store) storeIfAbsent(deviceID string, entry shadow.Entry) {
	s.mu.Lock()
	if _, ok := s.entries[deviceID]; !ok {
		s.entries[deviceID] = entry
	}
	s.mu.Unlock()
}
