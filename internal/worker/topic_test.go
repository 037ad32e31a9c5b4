package worker

import "testing"

func TestParseTopicPrefixed(t *testing.T) {
	id, ok := ParseTopic(TopicModePrefixed, "/siwatt-mqtt/alice/swm-raw/meter-1")
	if !ok {
		t.Fatal("expected prefixed topic to parse")
	}
	if id.Username != "alice" || id.DeviceCode != "meter-1" {
		t.Fatalf("id = %+v, want {alice meter-1}", id)
	}
}

func TestParseTopicPrefixedEmbeddedDoubleSlash(t *testing.T) {
	id, ok := ParseTopic(TopicModePrefixed, "/siwatt-mqtt/alice//swm-raw/meter-1")
	if !ok {
		t.Fatal("expected embedded empty segment to be filtered out, not rejected")
	}
	if id.Username != "alice" || id.DeviceCode != "meter-1" {
		t.Fatalf("id = %+v, want {alice meter-1}", id)
	}
}

func TestParseTopicPrefixedWrongShape(t *testing.T) {
	cases := []string{
		"/siwatt-mqtt/alice/swm-raw/",
		"/siwatt-mqtt//swm-raw/meter-1",
		"alice/swm-raw/meter-1",
		"/siwatt-mqtt/alice/wrong-literal/meter-1",
		"/siwatt-mqtt/alice/swm-raw/meter-1/extra",
	}
	for _, topic := range cases {
		if _, ok := ParseTopic(TopicModePrefixed, topic); ok {
			t.Errorf("ParseTopic(prefixed, %q) = ok, want rejected", topic)
		}
	}
}

func TestParseTopicSimple(t *testing.T) {
	id, ok := ParseTopic(TopicModeSimple, "alice/swm-raw/meter-1")
	if !ok {
		t.Fatal("expected simple topic to parse")
	}
	if id.Username != "alice" || id.DeviceCode != "meter-1" {
		t.Fatalf("id = %+v, want {alice meter-1}", id)
	}
}

func TestParseTopicSimpleWrongShape(t *testing.T) {
	cases := []string{
		"/siwatt-mqtt/alice/swm-raw/meter-1",
		"alice/meter-1",
		"alice/wrong-literal/meter-1",
		"/alice/swm-raw/",
	}
	for _, topic := range cases {
		if _, ok := ParseTopic(TopicModeSimple, topic); ok {
			t.Errorf("ParseTopic(simple, %q) = ok, want rejected", topic)
		}
	}
}

func TestParseTopicUnknownMode(t *testing.T) {
	if _, ok := ParseTopic("bogus", "alice/swm-raw/meter-1"); ok {
		t.Fatal("unknown mode should never parse")
	}
}
