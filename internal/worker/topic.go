// Package worker wires the MQTT transport, topic parsing, device
// resolution, the per-device pipeline registry, and the file buffer
// into the process that actually consumes live telemetry.
package worker

import "strings"

// TopicMode selects which subscription shape the worker parses.
type TopicMode string

const (
	TopicModePrefixed TopicMode = "prefixed"
	TopicModeSimple   TopicMode = "simple"
)

// Identity is what a topic resolves to: the device's owner and code.
type Identity struct {
	Username   string
	DeviceCode string
}

// ParseTopic extracts (username, device_code) from an MQTT topic
// according to mode. Returns ok=false for any shape that doesn't match,
// which the caller should treat as a dropped message.
//
//   - prefixed: "/siwatt-mqtt/<username>/swm-raw/<device_code>" — four
//     non-empty segments with the literal segments fixed.
//   - simple:   "<username>/swm-raw/<device_code>" — three segments.
func ParseTopic(mode TopicMode, topic string) (Identity, bool) {
	segments := strings.FieldsFunc(topic, func(r rune) bool { return r == '/' })

	switch mode {
	case TopicModePrefixed:
		if len(segments) != 4 {
			return Identity{}, false
		}
		if segments[0] != "siwatt-mqtt" || segments[2] != "swm-raw" {
			return Identity{}, false
		}
		return Identity{Username: segments[1], DeviceCode: segments[3]}, true

	case TopicModeSimple:
		if len(segments) != 3 {
			return Identity{}, false
		}
		if segments[1] != "swm-raw" {
			return Identity{}, false
		}
		return Identity{Username: segments[0], DeviceCode: segments[2]}, true

	default:
		return Identity{}, false
	}
}
