package events

import "time"

// WateringFinished is published when the backend observes, via a status
// read, that a run reached a terminal state. ActualSeconds is clamped
// to [0, RequestedSeconds]; VolumeLiters is scaled proportionally when
// the run was volume-based.
type WateringFinished struct {
	DeviceID         string
	CorrelationID    string
	Status           string
	RequestedSeconds int
	ActualSeconds    int
	VolumeLiters     float64
	FinishedAt       time.Time
}
