package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	ackapp "irrigation-cloud/internal/acks/application"
	acks "irrigation-cloud/internal/acks/domain"
	"irrigation-cloud/internal/eventing"
	"irrigation-cloud/internal/observability/metrics"
	shadowapp "irrigation-cloud/internal/shadow/application"
	shadow "irrigation-cloud/internal/shadow/domain"
)

// DeviceToucher records device liveness.
type DeviceToucher interface {
	TouchLastSeen(ctx context.Context, deviceID string, seenAt time.Time) error
}

// Handler is the single entry point for inbound bus messages. It runs
// on the transport delivery goroutine: a malformed message is dropped
// and logged, never raised into the subscriber loop, and one bad
// message never blocks the next.
type Handler struct {
	shadow  *shadowapp.Store
	acks    *ackapp.Store
	devices DeviceToucher
	bus     eventing.Bus
	logger  *log.Logger
	now     func() time.Time
}

// NewHandler constructs a message handler.
func NewHandler(shadowStore *shadowapp.Store, ackStore *ackapp.Store, devices DeviceToucher, bus eventing.Bus, logger *log.Logger) (*Handler, error) {
	if shadowStore == nil {
		return nil, errors.New("message handler: nil shadow store")
	}
	if ackStore == nil {
		return nil, errors.New("message handler: nil ack store")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		shadow:  shadowStore,
		acks:    ackStore,
		devices: devices,
		bus:     bus,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Handle routes one inbound message by topic.
func (h *Handler) Handle(topic string, payload []byte) {
	deviceID, kind, err := ParseTopic(topic)
	if err != nil {
		h.logger.Printf("message handler: drop: %v", err)
		metrics.IncMessageDropped("unknown")
		return
	}
	switch kind {
	case KindState:
		h.handleState(deviceID, payload)
	case KindAck:
		h.handleAck(deviceID, payload)
	}
}

// handleState applies a device state report: replace the shadow entry,
// touch liveness, and fan the reading out for history recording. The
// message's processing time is the authoritative observation time.
func (h *Handler) handleState(deviceID string, payload []byte) {
	var state shadow.DeviceState
	if err := json.Unmarshal(payload, &state); err != nil {
		h.logger.Printf("message handler: drop state from %s: decode: %v", deviceID, err)
		metrics.IncMessageDropped(KindState)
		return
	}
	if state.DeviceID == "" {
		state.DeviceID = deviceID
	}

	observedAt := h.now().UTC()
	ctx := context.Background()
	if err := h.shadow.UpdateFromStateAndPersist(ctx, deviceID, state, observedAt); err != nil {
		// Cache is updated even when the durable write failed.
		h.logger.Printf("message handler: state persist for %s: %v", deviceID, err)
		metrics.IncMessageError(KindState)
	} else {
		metrics.IncMessageHandled(KindState)
	}

	h.touch(ctx, deviceID, observedAt)

	if h.bus != nil {
		event := StateReported{DeviceID: deviceID, State: state, ObservedAt: observedAt}
		if err := h.bus.Publish(ctx, event); err != nil {
			h.logger.Printf("message handler: state event for %s: %v", deviceID, err)
		}
	}
}

// handleAck stores a command outcome. correlation_id and result are
// required; an ack missing either is not actionable and is dropped.
func (h *Handler) handleAck(deviceID string, payload []byte) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		h.logger.Printf("message handler: drop ack from %s: decode: %v", deviceID, err)
		metrics.IncMessageDropped(KindAck)
		return
	}
	correlationID, _ := fields["correlation_id"].(string)
	result, _ := fields["result"].(string)
	if correlationID == "" || result == "" {
		h.logger.Printf("message handler: drop ack from %s: missing correlation_id or result", deviceID)
		metrics.IncMessageDropped(KindAck)
		return
	}
	reason, _ := fields["reason"].(string)
	status, _ := fields["status"].(string)

	ack := acks.Ack{
		CorrelationID: correlationID,
		Result:        result,
		Reason:        reason,
		Status:        status,
	}
	ctx := context.Background()
	if err := h.acks.Put(ctx, deviceID, ack); err != nil {
		h.logger.Printf("message handler: ack persist for %s: %v", deviceID, err)
		metrics.IncMessageError(KindAck)
	} else {
		metrics.IncMessageHandled(KindAck)
	}
	metrics.IncAckReceived(result)

	// An ack proves the device is alive even without a state message.
	h.touch(ctx, deviceID, h.now().UTC())
}

func (h *Handler) touch(ctx context.Context, deviceID string, seenAt time.Time) {
	if h.devices == nil {
		return
	}
	if err := h.devices.TouchLastSeen(ctx, deviceID, seenAt); err != nil {
		h.logger.Printf("message handler: touch last_seen for %s: %v", deviceID, err)
	}
}
