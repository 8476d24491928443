package acks

import "time"

// Ack results reported by devices.
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Ack is a device-reported outcome of a previously published command,
// matched back by the correlation id the command carried.
type Ack struct {
	CorrelationID string `json:"correlation_id"`
	Result        string `json:"result"`
	Reason        string `json:"reason,omitempty"`
	Status        string `json:"status,omitempty"`
}

// Record is the durable form of an ack. Rows past ExpiresAt are swept
// by the cleanup worker; their absence is indistinguishable from "not
// yet answered".
type Record struct {
	CorrelationID string
	DeviceID      string
	Result        string
	Status        string
	Payload       []byte
	ReceivedAt    time.Time
	ExpiresAt     time.Time
}
