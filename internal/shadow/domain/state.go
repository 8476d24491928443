package shadow

import "time"

// Manual watering statuses as reported by the device.
const (
	WateringIdle      = "idle"
	WateringRunning   = "running"
	WateringCompleted = "completed"
	WateringStopped   = "stopped"
	WateringError     = "error"
)

// Snapshot sources.
const (
	SourceMemory     = "memory"
	SourceDBState    = "db_state"
	SourceDBFallback = "db_fallback"
)

// ManualWateringState is the watering sub-state a device reports.
type ManualWateringState struct {
	Status          string `json:"status"`
	DurationSeconds int    `json:"duration_s"`
	StartedAt       int64  `json:"started_at"`
	CorrelationID   string `json:"correlation_id"`
}

// DeviceState is the full reported state of an irrigation device. A new
// report replaces the previous one wholesale, there is no partial merge.
type DeviceState struct {
	DeviceID        string              `json:"device_id"`
	FirmwareVersion string              `json:"fw_ver"`
	SoilMoisture    *float64            `json:"soil_moisture,omitempty"`
	AirTemperature  *float64            `json:"air_temp,omitempty"`
	AirHumidity     *float64            `json:"air_humidity,omitempty"`
	SoilPorts       map[string]float64  `json:"soil_ports,omitempty"`
	LightOn         bool                `json:"light_on"`
	PumpOn          bool                `json:"pump_on"`
	ManualWatering  ManualWateringState `json:"manual_watering"`
	Scenarios       map[string]bool     `json:"scenarios,omitempty"`
}

// Entry is the cache value for one device: the last reported state plus
// the moment it was observed. Entries are immutable once stored.
type Entry struct {
	State      DeviceState
	ObservedAt time.Time
}

// Snapshot is the read model returned to callers. Online is computed at
// read time and never stored.
type Snapshot struct {
	State     DeviceState `json:"state"`
	UpdatedAt time.Time   `json:"updated_at"`
	Online    bool        `json:"online"`
	Source    string      `json:"source"`
}

// ManualWateringView is the read-optimized watering summary.
type ManualWateringView struct {
	DeviceID         string    `json:"device_id"`
	Status           string    `json:"status"`
	DurationSeconds  int       `json:"duration_s"`
	StartedAt        time.Time `json:"started_at"`
	RemainingSeconds int       `json:"remaining_s"`
	CorrelationID    string    `json:"correlation_id,omitempty"`
	Online           bool      `json:"online"`
	Source           string    `json:"source"`
}

// RemainingSeconds derives the seconds left in a running cycle. It is
// recomputed on every read and floored at zero.
func (m ManualWateringState) RemainingSeconds(now time.Time) int {
	if m.Status != WateringRunning || m.StartedAt <= 0 {
		return 0
	}
	elapsed := int(now.Unix() - m.StartedAt)
	remaining := m.DurationSeconds - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}
