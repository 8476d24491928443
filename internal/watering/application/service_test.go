package application

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	ackapp "irrigation-cloud/internal/acks/application"
	acks "irrigation-cloud/internal/acks/domain"
	devices "irrigation-cloud/internal/devices/domain"
	"irrigation-cloud/internal/eventing"
	plants "irrigation-cloud/internal/plants/domain"
	shadowapp "irrigation-cloud/internal/shadow/application"
	shadow "irrigation-cloud/internal/shadow/domain"
	transportmqtt "irrigation-cloud/internal/transport/mqtt"
	wateringevents "irrigation-cloud/internal/watering/application/events"
	watering "irrigation-cloud/internal/watering/domain"
)

type stubPublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
	err      error
}

func (p *stubPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *stubPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.topics)
}

type stubDeviceReader struct {
	known map[string]bool
}

func (r *stubDeviceReader) Get(ctx context.Context, id string) (*devices.Device, error) {
	if r.known[id] {
		return &devices.Device{ID: id}, nil
	}
	return nil, nil
}

type stubPlantLister struct {
	plants []plants.Plant
}

func (l *stubPlantLister) ListByDevice(ctx context.Context, deviceID string) ([]plants.Plant, error) {
	return l.plants, nil
}

type stubStateRepo struct{}

func (r *stubStateRepo) UpsertState(ctx context.Context, record shadowapp.StateRecord) error {
	return nil
}

func (r *stubStateRepo) FindState(ctx context.Context, deviceID string) (*shadowapp.StateRecord, error) {
	return nil, nil
}

type stubAckRepo struct{}

func (r *stubAckRepo) UpsertRecord(ctx context.Context, record acks.Record) error { return nil }

func (r *stubAckRepo) FindRecord(ctx context.Context, correlationID string) (*acks.Record, error) {
	return nil, nil
}

func (r *stubAckRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

func testConfig() Config {
	return Config{
		OnlineThresholdSeconds: 30,
		AckTTLSeconds:          300,
		AckCleanupSeconds:      60,
		WaitAckMinSeconds:      1,
		WaitAckMaxSeconds:      1,
	}
}

func newTestService(t *testing.T, publisher *stubPublisher, lister PlantLister) (*Service, *shadowapp.Store, *ackapp.Store, *eventing.InMemoryBus) {
	t.Helper()
	shadowStore, err := shadowapp.NewStore(&stubStateRepo{}, nil, 30*time.Second, nil)
	if err != nil {
		t.Fatalf("shadow store: %v", err)
	}
	ackStore, err := ackapp.NewStore(&stubAckRepo{}, 5*time.Minute, nil)
	if err != nil {
		t.Fatalf("ack store: %v", err)
	}
	bus := eventing.NewInMemoryBus()
	reader := &stubDeviceReader{known: map[string]bool{"pump-1": true}}
	service, err := NewService(publisher, shadowStore, ackStore, reader, lister, bus, testConfig(), nil)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return service, shadowStore, ackStore, bus
}

func TestStartValidatesBeforePublish(t *testing.T) {
	publisher := &stubPublisher{}
	service, _, _, _ := newTestService(t, publisher, nil)
	ctx := context.Background()

	cases := []StartRequest{
		{DurationSeconds: 30},
		{DeviceID: "pump-1"},
		{DeviceID: "pump-1", DurationSeconds: 30, VolumeLiters: 1},
	}
	for _, req := range cases {
		if _, err := service.Start(ctx, req); !errors.Is(err, watering.ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", req, err)
		}
	}
	if _, err := service.Start(ctx, StartRequest{DeviceID: "pump-2", DurationSeconds: 30}); !errors.Is(err, watering.ErrNotFound) {
		t.Fatalf("expected not-found for unknown device, got %v", err)
	}
	if publisher.count() != 0 {
		t.Fatalf("no command may be published for a rejected request, got %d", publisher.count())
	}
}

func TestStartByDurationPublishesAndWritesShadow(t *testing.T) {
	publisher := &stubPublisher{}
	service, shadowStore, _, _ := newTestService(t, publisher, nil)

	resp, err := service.Start(context.Background(), StartRequest{DeviceID: "pump-1", DurationSeconds: 45})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if resp.CorrelationID == "" || resp.DurationSeconds != 45 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if publisher.count() != 1 || publisher.topics[0] != "irrigation/pump-1/cmd" {
		t.Fatalf("expected one publish to the cmd topic, got %v", publisher.topics)
	}

	var message commandMessage
	if err := json.Unmarshal(publisher.payloads[0], &message); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if message.Command != watering.CommandStart || message.CorrelationID != resp.CorrelationID || message.DurationSeconds != 45 {
		t.Fatalf("unexpected command message: %+v", message)
	}

	view, err := shadowStore.GetManualWateringView(context.Background(), "pump-1")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view == nil || view.Status != shadow.WateringRunning || view.CorrelationID != resp.CorrelationID {
		t.Fatalf("expected a running synthetic shadow, got %+v", view)
	}
}

func TestStartByVolumeDerivesDuration(t *testing.T) {
	publisher := &stubPublisher{}
	lister := &stubPlantLister{plants: []plants.Plant{
		{ID: "p1", DeliveryRateLPH: 1.5},
		{ID: "p2", DeliveryRateLPH: 2.5},
	}}
	service, _, _, _ := newTestService(t, publisher, lister)

	resp, err := service.Start(context.Background(), StartRequest{DeviceID: "pump-1", VolumeLiters: 1})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	// Average 2 L/h: one litre takes 1800 s.
	if resp.DurationSeconds != 1800 {
		t.Fatalf("expected derived duration 1800, got %d", resp.DurationSeconds)
	}
}

func TestPublishErrorMapping(t *testing.T) {
	publisher := &stubPublisher{err: transportmqtt.ErrNotConnected}
	service, _, _, _ := newTestService(t, publisher, nil)

	if _, err := service.Start(context.Background(), StartRequest{DeviceID: "pump-1", DurationSeconds: 10}); !errors.Is(err, watering.ErrTransportUnavailable) {
		t.Fatalf("disconnected transport should map to unavailable, got %v", err)
	}

	publisher.err = errors.New("broker says no")
	if _, err := service.Stop(context.Background(), "pump-1"); !errors.Is(err, watering.ErrPublishFailed) {
		t.Fatalf("publish failure should map to publish-failed, got %v", err)
	}
}

func TestStatusWithoutStateIsCanonical(t *testing.T) {
	service, _, _, _ := newTestService(t, &stubPublisher{}, nil)

	view, err := service.Status(context.Background(), "pump-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.Status != shadow.WateringIdle || view.Online || view.Source != "no_state" {
		t.Fatalf("expected idle/offline/no_state, got %+v", view)
	}
}

func TestWaitForAckReturnsStoredAck(t *testing.T) {
	service, _, ackStore, _ := newTestService(t, &stubPublisher{}, nil)
	ctx := context.Background()

	if err := ackStore.Put(ctx, "pump-1", acks.Ack{CorrelationID: "c1", Result: acks.ResultAccepted}); err != nil {
		t.Fatalf("put: %v", err)
	}
	ack, err := service.WaitForAck(ctx, "c1", 5*time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if ack.Result != acks.ResultAccepted {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestWaitForAckTimesOut(t *testing.T) {
	service, _, _, _ := newTestService(t, &stubPublisher{}, nil)

	started := time.Now()
	_, err := service.WaitForAck(context.Background(), "missing", 30*time.Second)
	if !errors.Is(err, watering.ErrWaitTimeout) {
		t.Fatalf("expected wait timeout, got %v", err)
	}
	// The 30 s request is clamped to the configured 1 s maximum.
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Fatalf("timeout should be clamped to the configured bound, waited %s", elapsed)
	}
}

func TestStatusReconcilesFinishedRun(t *testing.T) {
	publisher := &stubPublisher{}
	service, shadowStore, _, bus := newTestService(t, publisher, nil)
	ctx := context.Background()

	var finished []wateringevents.WateringFinished
	bus.Subscribe(eventing.EventTypeOf[wateringevents.WateringFinished](), func(ctx context.Context, event any) error {
		finished = append(finished, event.(wateringevents.WateringFinished))
		return nil
	})

	resp, err := service.Start(ctx, StartRequest{DeviceID: "pump-1", DurationSeconds: 60})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Device reports the run completed.
	state := shadow.DeviceState{
		DeviceID: "pump-1",
		ManualWatering: shadow.ManualWateringState{
			Status:        shadow.WateringCompleted,
			CorrelationID: resp.CorrelationID,
		},
	}
	if err := shadowStore.UpdateFromState("pump-1", state, time.Now()); err != nil {
		t.Fatalf("update: %v", err)
	}

	view, err := service.Status(ctx, "pump-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.Status != shadow.WateringCompleted {
		t.Fatalf("expected completed, got %+v", view)
	}
	if len(finished) != 1 || finished[0].CorrelationID != resp.CorrelationID {
		t.Fatalf("expected one finished event for the run, got %+v", finished)
	}
	if finished[0].RequestedSeconds != 60 || finished[0].ActualSeconds > 60 {
		t.Fatalf("unexpected reconciliation: %+v", finished[0])
	}

	// A second status read must not emit the event again.
	if _, err := service.Status(ctx, "pump-1"); err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(finished) != 1 {
		t.Fatalf("finished event must fire once per run, got %d", len(finished))
	}
}
