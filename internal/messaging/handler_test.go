package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	ackapp "irrigation-cloud/internal/acks/application"
	acks "irrigation-cloud/internal/acks/domain"
	"irrigation-cloud/internal/eventing"
	shadowapp "irrigation-cloud/internal/shadow/application"
)

type stubStateRepo struct {
	mu      sync.Mutex
	upserts int
}

func (r *stubStateRepo) UpsertState(ctx context.Context, record shadowapp.StateRecord) error {
	r.mu.Lock()
	r.upserts++
	r.mu.Unlock()
	return nil
}

func (r *stubStateRepo) FindState(ctx context.Context, deviceID string) (*shadowapp.StateRecord, error) {
	return nil, nil
}

type stubAckRepo struct {
	mu      sync.Mutex
	records map[string]acks.Record
}

func (r *stubAckRepo) UpsertRecord(ctx context.Context, record acks.Record) error {
	r.mu.Lock()
	if r.records == nil {
		r.records = make(map[string]acks.Record)
	}
	r.records[record.CorrelationID] = record
	r.mu.Unlock()
	return nil
}

func (r *stubAckRepo) FindRecord(ctx context.Context, correlationID string) (*acks.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[correlationID]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (r *stubAckRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

type stubToucher struct {
	mu      sync.Mutex
	touched []string
}

func (t *stubToucher) TouchLastSeen(ctx context.Context, deviceID string, seenAt time.Time) error {
	t.mu.Lock()
	t.touched = append(t.touched, deviceID)
	t.mu.Unlock()
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *shadowapp.Store, *ackapp.Store, *stubToucher, *eventing.InMemoryBus) {
	t.Helper()
	shadowStore, err := shadowapp.NewStore(&stubStateRepo{}, nil, 30*time.Second, nil)
	if err != nil {
		t.Fatalf("shadow store: %v", err)
	}
	ackStore, err := ackapp.NewStore(&stubAckRepo{}, 5*time.Minute, nil)
	if err != nil {
		t.Fatalf("ack store: %v", err)
	}
	toucher := &stubToucher{}
	bus := eventing.NewInMemoryBus()
	handler, err := NewHandler(shadowStore, ackStore, toucher, bus, nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return handler, shadowStore, ackStore, toucher, bus
}

func TestHandleStateUpdatesShadowAndPublishes(t *testing.T) {
	handler, shadowStore, _, toucher, bus := newTestHandler(t)

	var reported []StateReported
	bus.Subscribe(eventing.EventTypeOf[StateReported](), func(ctx context.Context, event any) error {
		reported = append(reported, event.(StateReported))
		return nil
	})

	handler.Handle(StateTopic("pump-1"), []byte(`{"fw_ver":"v3","pump_on":true}`))

	snap, err := shadowStore.GetSnapshotOrLoad(context.Background(), "pump-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap == nil {
		t.Fatal("expected a shadow entry after a state report")
	}
	if snap.State.FirmwareVersion != "v3" || !snap.State.PumpOn {
		t.Fatalf("unexpected state: %+v", snap.State)
	}
	if snap.State.DeviceID != "pump-1" {
		t.Fatalf("device id should default from the topic, got %q", snap.State.DeviceID)
	}
	if len(reported) != 1 || reported[0].DeviceID != "pump-1" {
		t.Fatalf("expected one state event for pump-1, got %+v", reported)
	}
	if len(toucher.touched) != 1 || toucher.touched[0] != "pump-1" {
		t.Fatalf("expected last_seen touch for pump-1, got %v", toucher.touched)
	}
}

func TestHandleAckStoresOutcome(t *testing.T) {
	handler, _, ackStore, toucher, _ := newTestHandler(t)

	handler.Handle(AckTopic("pump-1"), []byte(`{"correlation_id":"c1","result":"accepted","status":"watering_started"}`))

	ack, found := ackStore.Get("c1")
	if !found {
		t.Fatal("expected stored ack for c1")
	}
	if ack.Result != acks.ResultAccepted || ack.Status != "watering_started" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if len(toucher.touched) != 1 {
		t.Fatalf("ack should touch last_seen, got %v", toucher.touched)
	}
}

func TestHandleDropsMalformed(t *testing.T) {
	handler, shadowStore, ackStore, _, _ := newTestHandler(t)

	handler.Handle("irrigation/pump-1", []byte(`{}`))
	handler.Handle(StateTopic("pump-1"), []byte(`not json`))
	handler.Handle(AckTopic("pump-1"), []byte(`{"result":"accepted"}`))

	if snap, err := shadowStore.GetSnapshotOrLoad(context.Background(), "pump-1"); err != nil || snap != nil {
		t.Fatalf("malformed state should leave no shadow entry, got %+v err=%v", snap, err)
	}
	if _, found := ackStore.Get(""); found {
		t.Fatal("ack without correlation_id should be dropped")
	}
}

func TestHandleDuplicateAckOverwrites(t *testing.T) {
	handler, _, ackStore, _, _ := newTestHandler(t)

	handler.Handle(AckTopic("pump-1"), []byte(`{"correlation_id":"c1","result":"accepted"}`))
	handler.Handle(AckTopic("pump-1"), []byte(`{"correlation_id":"c1","result":"rejected","reason":"already_running"}`))

	ack, found := ackStore.Get("c1")
	if !found {
		t.Fatal("expected stored ack for c1")
	}
	if ack.Result != acks.ResultRejected || ack.Reason != "already_running" {
		t.Fatalf("redelivery should overwrite in place, got %+v", ack)
	}
}
