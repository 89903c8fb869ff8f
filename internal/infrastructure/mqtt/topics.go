package mqtt

import (
	"fmt"
	"strings"
)

// Topic layout per the Gray Logic MQTT specification.
//
// Bridge topics use the flat scheme: graylogic/{category}/{protocol}/{address}
// This bridge always publishes under the "nle" protocol segment so Gray
// Logic Core can route thermostat traffic alongside the other bridges.
const (
	// TopicPrefix is the base for all Gray Logic topics.
	TopicPrefix = "graylogic"

	// Protocol is this bridge's protocol segment.
	Protocol = "nle"
)

// Topics provides builders for the bridge's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.State("dev-1", "climate")
//	// Returns: "graylogic/state/nle/dev-1/climate"
type Topics struct{}

// State returns the retained state topic for one entity of a device.
//
// Example: graylogic/state/nle/dev-1/climate
func (Topics) State(deviceID, entity string) string {
	return fmt.Sprintf("%s/state/%s/%s/%s", TopicPrefix, Protocol, deviceID, entity)
}

// Availability returns the retained availability topic for a device.
// Payload is "online" or "offline".
//
// Example: graylogic/availability/nle/dev-1
func (Topics) Availability(deviceID string) string {
	return fmt.Sprintf("%s/availability/%s/%s", TopicPrefix, Protocol, deviceID)
}

// Command returns the topic Core publishes commands to for a device.
//
// Example: graylogic/command/nle/dev-1
func (Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, deviceID)
}

// Ack returns the topic for command acknowledgements for a device.
//
// Example: graylogic/ack/nle/dev-1
func (Topics) Ack(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, deviceID)
}

// Health returns the retained bridge health topic.
//
// Example: graylogic/health/nle
func (Topics) Health() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// Discovery returns the topic for entity announcements.
//
// Example: graylogic/discovery/nle
func (Topics) Discovery() string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, Protocol)
}

// AllCommands returns a pattern matching commands for every device.
//
// Pattern: graylogic/command/nle/+
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, Protocol)
}

// AllStates returns a pattern matching every entity state this bridge
// publishes. Mainly useful for diagnostics and tests.
//
// Pattern: graylogic/state/nle/+/+
func (Topics) AllStates() string {
	return fmt.Sprintf("%s/state/%s/+/+", TopicPrefix, Protocol)
}

// DeviceFromCommandTopic extracts the device ID from a command topic.
//
// Parameters:
//   - topic: Full topic as received (e.g. "graylogic/command/nle/dev-1")
//
// Returns:
//   - string: Device ID
//   - bool: false if the topic is not a command topic for this bridge
func (Topics) DeviceFromCommandTopic(topic string) (string, bool) {
	prefix := fmt.Sprintf("%s/command/%s/", TopicPrefix, Protocol)
	deviceID, ok := strings.CutPrefix(topic, prefix)
	if !ok || deviceID == "" || strings.Contains(deviceID, "/") {
		return "", false
	}
	return deviceID, true
}
