package devices

import "time"

// Device is a network-connected irrigation pump controller.
type Device struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MQTTClientID string    `json:"mqtt_client_id"`
	LastSeen     time.Time `json:"last_seen"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
