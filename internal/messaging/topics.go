package messaging

import (
	"errors"
	"fmt"
	"strings"
)

// Topic layout: irrigation/{deviceID}/{kind}. Devices publish state and
// ack; the backend publishes cmd.
const (
	topicRoot = "irrigation"

	KindState = "state"
	KindAck   = "ack"
	KindCmd   = "cmd"
)

// Subscription filters for the inbound kinds.
const (
	StateTopicFilter = topicRoot + "/+/" + KindState
	AckTopicFilter   = topicRoot + "/+/" + KindAck
)

// ErrMalformedTopic is returned for topics not matching the layout.
var ErrMalformedTopic = errors.New("messaging: malformed topic")

// CommandTopic builds the outbound command topic for a device.
func CommandTopic(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", topicRoot, deviceID, KindCmd)
}

// StateTopic builds the inbound state topic for a device.
func StateTopic(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", topicRoot, deviceID, KindState)
}

// AckTopic builds the inbound ack topic for a device.
func AckTopic(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", topicRoot, deviceID, KindAck)
}

// ParseTopic extracts the device id and message kind from a topic.
func ParseTopic(topic string) (deviceID, kind string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != topicRoot || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	switch parts[2] {
	case KindState, KindAck:
		return parts[1], parts[2], nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
}
