package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	ackapp "irrigation-cloud/internal/acks/application"
	acks "irrigation-cloud/internal/acks/domain"
	devices "irrigation-cloud/internal/devices/domain"
	"irrigation-cloud/internal/eventing"
	"irrigation-cloud/internal/messaging"
	"irrigation-cloud/internal/observability/metrics"
	plants "irrigation-cloud/internal/plants/domain"
	shadowapp "irrigation-cloud/internal/shadow/application"
	shadow "irrigation-cloud/internal/shadow/domain"
	transportmqtt "irrigation-cloud/internal/transport/mqtt"
	wateringevents "irrigation-cloud/internal/watering/application/events"
	watering "irrigation-cloud/internal/watering/domain"
)

const waitAckPollInterval = 500 * time.Millisecond

// Publisher publishes a command payload to a device topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// DeviceReader loads pump devices.
type DeviceReader interface {
	Get(ctx context.Context, id string) (*devices.Device, error)
}

// PlantLister lists the plants bound to a pump.
type PlantLister interface {
	ListByDevice(ctx context.Context, deviceID string) ([]plants.Plant, error)
}

// StartRequest describes a manual watering start. Exactly one of
// DurationSeconds or VolumeLiters must be supplied.
type StartRequest struct {
	DeviceID        string   `json:"device_id"`
	DurationSeconds int      `json:"duration_s,omitempty"`
	VolumeLiters    float64  `json:"volume_l,omitempty"`
	PHAdjust        *float64 `json:"ph_adjust,omitempty"`
	Fertilizer      string   `json:"fertilizer,omitempty"`
}

// CommandResponse is returned after a command has been published.
type CommandResponse struct {
	DeviceID        string `json:"device_id"`
	Command         string `json:"command"`
	CorrelationID   string `json:"correlation_id"`
	DurationSeconds int    `json:"duration_s,omitempty"`
	Message         string `json:"message,omitempty"`
}

// commandMessage is the wire form published to the device.
type commandMessage struct {
	Command         string   `json:"command"`
	CorrelationID   string   `json:"correlation_id"`
	DurationSeconds int      `json:"duration_s,omitempty"`
	PHAdjust        *float64 `json:"ph_adjust,omitempty"`
	Fertilizer      string   `json:"fertilizer,omitempty"`
}

// inflightRun tracks a start we issued, so a later status read can
// reconcile the actual run against the request.
type inflightRun struct {
	CorrelationID    string
	RequestedSeconds int
	VolumeLiters     float64
	StartedAt        time.Time
}

// Service issues watering commands and answers status/ack queries on
// top of the shadow and ack stores.
type Service struct {
	publisher Publisher
	shadow    *shadowapp.Store
	acks      *ackapp.Store
	devices   DeviceReader
	plants    PlantLister
	bus       eventing.Bus
	cfg       Config
	logger    *log.Logger
	now       func() time.Time

	mu       sync.Mutex
	inflight map[string]inflightRun
}

// NewService constructs a watering command service.
func NewService(publisher Publisher, shadowStore *shadowapp.Store, ackStore *ackapp.Store, deviceReader DeviceReader, plantLister PlantLister, bus eventing.Bus, cfg Config, logger *log.Logger) (*Service, error) {
	if publisher == nil {
		return nil, errors.New("watering service: nil publisher")
	}
	if shadowStore == nil {
		return nil, errors.New("watering service: nil shadow store")
	}
	if ackStore == nil {
		return nil, errors.New("watering service: nil ack store")
	}
	if deviceReader == nil {
		return nil, errors.New("watering service: nil device reader")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		publisher: publisher,
		shadow:    shadowStore,
		acks:      ackStore,
		devices:   deviceReader,
		plants:    plantLister,
		bus:       bus,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		inflight:  make(map[string]inflightRun),
	}, nil
}

// Start validates, derives the run duration, publishes the start
// command and writes the synthetic running shadow state. Validation
// failures happen before any publish: no correlation id is created for
// an invalid request.
func (s *Service) Start(ctx context.Context, req StartRequest) (*CommandResponse, error) {
	if req.DeviceID == "" {
		return nil, fmt.Errorf("%w: device_id required", watering.ErrValidation)
	}
	if req.DurationSeconds <= 0 && req.VolumeLiters <= 0 {
		return nil, fmt.Errorf("%w: duration_s or volume_l required", watering.ErrValidation)
	}
	if req.DurationSeconds > 0 && req.VolumeLiters > 0 {
		return nil, fmt.Errorf("%w: duration_s and volume_l are exclusive", watering.ErrValidation)
	}
	if err := s.ensureDevice(ctx, req.DeviceID); err != nil {
		return nil, err
	}

	duration := req.DurationSeconds
	if duration <= 0 {
		if s.plants == nil {
			return nil, fmt.Errorf("%w: no plants bound to pump", watering.ErrValidation)
		}
		bound, err := s.plants.ListByDevice(ctx, req.DeviceID)
		if err != nil {
			return nil, err
		}
		rates := make([]float64, 0, len(bound))
		for _, plant := range bound {
			rates = append(rates, plant.DeliveryRateLPH)
		}
		duration, err = watering.DurationForVolume(req.VolumeLiters, rates)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", watering.ErrValidation, err)
		}
	}

	correlationID := uuid.NewString()
	message := commandMessage{
		Command:         watering.CommandStart,
		CorrelationID:   correlationID,
		DurationSeconds: duration,
		PHAdjust:        req.PHAdjust,
		Fertilizer:      req.Fertilizer,
	}
	if err := s.publish(ctx, req.DeviceID, watering.CommandStart, message); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	s.writeRunningShadow(ctx, req.DeviceID, correlationID, duration, now)

	s.mu.Lock()
	s.inflight[req.DeviceID] = inflightRun{
		CorrelationID:    correlationID,
		RequestedSeconds: duration,
		VolumeLiters:     req.VolumeLiters,
		StartedAt:        now,
	}
	s.mu.Unlock()

	return &CommandResponse{
		DeviceID:        req.DeviceID,
		Command:         watering.CommandStart,
		CorrelationID:   correlationID,
		DurationSeconds: duration,
	}, nil
}

// Stop publishes a stop command. The shadow is not touched: the
// device's own state report is the authority for the terminal state,
// and callers poll status to observe it.
func (s *Service) Stop(ctx context.Context, deviceID string) (*CommandResponse, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device_id required", watering.ErrValidation)
	}
	if err := s.ensureDevice(ctx, deviceID); err != nil {
		return nil, err
	}

	correlationID := uuid.NewString()
	message := commandMessage{Command: watering.CommandStop, CorrelationID: correlationID}
	if err := s.publish(ctx, deviceID, watering.CommandStop, message); err != nil {
		return nil, err
	}
	return &CommandResponse{
		DeviceID:      deviceID,
		Command:       watering.CommandStop,
		CorrelationID: correlationID,
	}, nil
}

// Reboot publishes a fire-and-forget reboot command. It bypasses the
// watering state machine entirely.
func (s *Service) Reboot(ctx context.Context, deviceID string) (*CommandResponse, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device_id required", watering.ErrValidation)
	}
	if err := s.ensureDevice(ctx, deviceID); err != nil {
		return nil, err
	}

	correlationID := uuid.NewString()
	message := commandMessage{Command: watering.CommandReboot, CorrelationID: correlationID}
	if err := s.publish(ctx, deviceID, watering.CommandReboot, message); err != nil {
		return nil, err
	}
	return &CommandResponse{
		DeviceID:      deviceID,
		Command:       watering.CommandReboot,
		CorrelationID: correlationID,
		Message:       "reboot command sent; device will reconnect shortly",
	}, nil
}

// Status returns the manual-watering view. A device that never
// reported gets the canonical idle/offline/no_state answer, not an
// error. A terminal state observed here also triggers run
// reconciliation.
func (s *Service) Status(ctx context.Context, deviceID string) (*shadow.ManualWateringView, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device_id required", watering.ErrValidation)
	}
	view, err := s.shadow.GetManualWateringView(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if view == nil {
		return &shadow.ManualWateringView{
			DeviceID: deviceID,
			Status:   shadow.WateringIdle,
			Online:   false,
			Source:   "no_state",
		}, nil
	}
	s.reconcileFinishedRun(ctx, deviceID, view)
	return view, nil
}

// GetAck returns the stored ack for a correlation id. The bool result
// distinguishes "not yet answered" from an answer.
func (s *Service) GetAck(ctx context.Context, correlationID string) (acks.Ack, bool, error) {
	if correlationID == "" {
		return acks.Ack{}, false, fmt.Errorf("%w: correlation_id required", watering.ErrValidation)
	}
	return s.acks.GetOrLoad(ctx, correlationID)
}

// WaitForAck polls the ack store until an ack appears or the timeout
// elapses. The timeout is clamped to the configured bounds; expiry is
// reported as ErrWaitTimeout, distinct from not-found. No lock is held
// while waiting.
func (s *Service) WaitForAck(ctx context.Context, correlationID string, timeout time.Duration) (acks.Ack, error) {
	if correlationID == "" {
		return acks.Ack{}, fmt.Errorf("%w: correlation_id required", watering.ErrValidation)
	}
	lower := time.Duration(s.cfg.WaitAckMinSeconds) * time.Second
	upper := time.Duration(s.cfg.WaitAckMaxSeconds) * time.Second
	if timeout < lower {
		timeout = lower
	}
	if timeout > upper {
		timeout = upper
	}

	started := s.now()
	// First look goes through the durable fallback so callers that
	// waited across a restart still get their answer.
	if ack, found, err := s.acks.GetOrLoad(ctx, correlationID); err != nil {
		return acks.Ack{}, err
	} else if found {
		metrics.ObserveWaitAck(metrics.WaitOutcomeAck, s.now().Sub(started))
		return ack, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(waitAckPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-waitCtx.Done():
			metrics.ObserveWaitAck(metrics.WaitOutcomeTimeout, s.now().Sub(started))
			if ctx.Err() != nil {
				return acks.Ack{}, ctx.Err()
			}
			return acks.Ack{}, fmt.Errorf("%w: after %s", watering.ErrWaitTimeout, timeout)
		case <-ticker.C:
			if ack, found := s.acks.Get(correlationID); found {
				metrics.ObserveWaitAck(metrics.WaitOutcomeAck, s.now().Sub(started))
				return ack, nil
			}
		}
	}
}

func (s *Service) ensureDevice(ctx context.Context, deviceID string) error {
	device, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if device == nil {
		return fmt.Errorf("%w: %s", watering.ErrNotFound, deviceID)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, deviceID, command string, message commandMessage) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, messaging.CommandTopic(deviceID), payload); err != nil {
		if errors.Is(err, transportmqtt.ErrNotConnected) {
			metrics.IncCommandPublishError("not_connected")
			return fmt.Errorf("%w: %v", watering.ErrTransportUnavailable, err)
		}
		metrics.IncCommandPublishError("publish")
		return fmt.Errorf("%w: %v", watering.ErrPublishFailed, err)
	}
	metrics.IncCommandPublished(command)
	return nil
}

// writeRunningShadow makes status queries correct before the device's
// own ack or state report arrives. The persisting path is used so a
// restart does not lose the just-issued command's effect; a durable
// write failure is logged and accepted.
func (s *Service) writeRunningShadow(ctx context.Context, deviceID, correlationID string, duration int, now time.Time) {
	state := shadow.DeviceState{DeviceID: deviceID}
	if snap, err := s.shadow.GetSnapshotOrLoad(ctx, deviceID); err == nil && snap != nil {
		state = snap.State
	}
	state.PumpOn = true
	state.ManualWatering = shadow.ManualWateringState{
		Status:          shadow.WateringRunning,
		DurationSeconds: duration,
		StartedAt:       now.Unix(),
		CorrelationID:   correlationID,
	}
	if err := s.shadow.UpdateFromStateAndPersist(ctx, deviceID, state, now); err != nil {
		s.logger.Printf("watering service: synthetic running shadow for %s: %v", deviceID, err)
	}
}

// reconcileFinishedRun records the actual elapsed time and scaled
// volume once a run we started is observed in a terminal state.
func (s *Service) reconcileFinishedRun(ctx context.Context, deviceID string, view *shadow.ManualWateringView) {
	switch view.Status {
	case shadow.WateringCompleted, shadow.WateringStopped, shadow.WateringError:
	default:
		return
	}

	s.mu.Lock()
	run, ok := s.inflight[deviceID]
	if !ok || (view.CorrelationID != "" && view.CorrelationID != run.CorrelationID) {
		s.mu.Unlock()
		return
	}
	delete(s.inflight, deviceID)
	s.mu.Unlock()

	finishedAt := s.now().UTC()
	if snap, err := s.shadow.GetSnapshotOrLoad(ctx, deviceID); err == nil && snap != nil {
		finishedAt = snap.UpdatedAt
	}
	actual := watering.ClampElapsed(int(finishedAt.Sub(run.StartedAt)/time.Second), run.RequestedSeconds)
	volume := run.VolumeLiters
	if volume > 0 && run.RequestedSeconds > 0 {
		volume = volume * float64(actual) / float64(run.RequestedSeconds)
	}

	if s.bus == nil {
		return
	}
	event := wateringevents.WateringFinished{
		DeviceID:         deviceID,
		CorrelationID:    run.CorrelationID,
		Status:           view.Status,
		RequestedSeconds: run.RequestedSeconds,
		ActualSeconds:    actual,
		VolumeLiters:     volume,
		FinishedAt:       finishedAt,
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Printf("watering service: finished event for %s: %v", deviceID, err)
	}
}
