package watering

import (
	"errors"
	"math"
)

// Commands understood by pump devices.
const (
	CommandStart  = "start_watering"
	CommandStop   = "stop_watering"
	CommandReboot = "reboot"
)

// DurationForVolume derives a pump run duration in whole seconds from a
// requested water volume and the delivery rates of the plants bound to
// the pump, in litres per hour. The pump feeds all bound plants at the
// average of their rates. Rounded up, minimum one second.
func DurationForVolume(volumeLiters float64, ratesLPH []float64) (int, error) {
	if volumeLiters <= 0 {
		return 0, errors.New("watering: volume must be positive")
	}
	if len(ratesLPH) == 0 {
		return 0, errors.New("watering: no plants bound to pump")
	}
	var sum float64
	for _, rate := range ratesLPH {
		if rate <= 0 {
			return 0, errors.New("watering: non-positive delivery rate")
		}
		sum += rate
	}
	avgLPS := sum / float64(len(ratesLPH)) / 3600
	seconds := int(math.Ceil(volumeLiters / avgLPS))
	if seconds < 1 {
		seconds = 1
	}
	return seconds, nil
}

// ClampElapsed bounds a server-observed run duration to the requested
// one: never negative, never longer than requested.
func ClampElapsed(elapsedSeconds, requestedSeconds int) int {
	if elapsedSeconds < 0 {
		return 0
	}
	if requestedSeconds > 0 && elapsedSeconds > requestedSeconds {
		return requestedSeconds
	}
	return elapsedSeconds
}
