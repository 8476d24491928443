package history

import "time"

// SensorSample is one time-series reading extracted from a device
// state report.
type SensorSample struct {
	DeviceID string
	Key      string
	Value    float64
	TS       time.Time
}

// WateringSample records one delivered watering per plant.
type WateringSample struct {
	PlantID         string
	DeviceID        string
	VolumeLiters    float64
	DurationSeconds int
	TS              time.Time
}
