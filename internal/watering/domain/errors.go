package watering

import "errors"

var (
	// ErrValidation marks a caller error rejected before any command
	// is published; no correlation id is created for these.
	ErrValidation = errors.New("watering: invalid request")

	// ErrNotFound marks an unknown pump device.
	ErrNotFound = errors.New("watering: device not found")

	// ErrTransportUnavailable marks a command that could not be issued
	// because the bus connection is down.
	ErrTransportUnavailable = errors.New("watering: transport unavailable")

	// ErrPublishFailed marks a connected-but-failed delivery, distinct
	// from the connection being down.
	ErrPublishFailed = errors.New("watering: publish failed")

	// ErrWaitTimeout marks a bounded ack-wait that elapsed without an
	// answer. Not a missing-resource error.
	ErrWaitTimeout = errors.New("watering: ack wait timed out")
)
