package messaging

import (
	"errors"
	"testing"
)

func TestParseTopic(t *testing.T) {
	deviceID, kind, err := ParseTopic("irrigation/pump-1/state")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deviceID != "pump-1" || kind != KindState {
		t.Fatalf("got %q/%q", deviceID, kind)
	}

	for _, topic := range []string{
		"irrigation/pump-1",
		"irrigation//state",
		"other/pump-1/state",
		"irrigation/pump-1/cmd",
		"irrigation/pump-1/state/extra",
	} {
		if _, _, err := ParseTopic(topic); !errors.Is(err, ErrMalformedTopic) {
			t.Fatalf("expected malformed topic error for %q, got %v", topic, err)
		}
	}
}

func TestTopicBuildersRoundTrip(t *testing.T) {
	if got := CommandTopic("pump-1"); got != "irrigation/pump-1/cmd" {
		t.Fatalf("unexpected cmd topic %q", got)
	}
	deviceID, kind, err := ParseTopic(AckTopic("pump-1"))
	if err != nil || deviceID != "pump-1" || kind != KindAck {
		t.Fatalf("ack topic round trip failed: %q/%q err=%v", deviceID, kind, err)
	}
}
