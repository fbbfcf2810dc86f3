package mqttbridge

import "testing"

func TestTopicHelpers(t *testing.T) {
	b := New(Config{
		Broker:          "tcp://localhost:1883",
		DeviceName:      "go-eventsocket",
		DiscoveryPrefix: "homeassistant",
		TopicPrefix:     "eventsocket",
	}, "abcdef1234567890", nil)

	if got, want := b.availabilityTopic(), "eventsocket/abcdef1234567890/availability"; got != want {
		t.Errorf("availabilityTopic() = %q, want %q", got, want)
	}
	if got, want := b.stateTopic(), "eventsocket/abcdef1234567890/last_event/state"; got != want {
		t.Errorf("stateTopic() = %q, want %q", got, want)
	}
	if got, want := b.discoveryTopic(), "homeassistant/sensor/abcdef1234567890/last_event/config"; got != want {
		t.Errorf("discoveryTopic() = %q, want %q", got, want)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("abcdef1234567890"); got != "abcdef12" {
		t.Errorf("shortID() = %q, want %q", got, "abcdef12")
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID() = %q, want %q", got, "abc")
	}
}
