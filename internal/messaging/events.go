package messaging

import (
	"time"

	shadow "irrigation-cloud/internal/shadow/domain"
)

// StateReported is published on the in-process bus after a device state
// message has been applied to the shadow store. The history recorder
// consumes it.
type StateReported struct {
	DeviceID   string
	State      shadow.DeviceState
	ObservedAt time.Time
}
