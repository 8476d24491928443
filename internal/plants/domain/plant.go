package plants

import "time"

// Plant is bound to the pump device that waters it. DeliveryRateLPH is
// the measured delivery rate of the pump channel feeding it, in litres
// per hour; it drives the volume-to-duration derivation.
type Plant struct {
	ID              string    `json:"id"`
	DeviceID        string    `json:"device_id"`
	Name            string    `json:"name"`
	DeliveryRateLPH float64   `json:"delivery_rate_lph"`
	CreatedAt       time.Time `json:"created_at"`
}
