package bridge

import (
	"time"
)

// MQTT message types for communication between Gray Logic Core and the
// NLE bridge.

// Command types accepted on graylogic/command/nle/{device}.
const (
	CmdSetTemperature      = "set_temperature"
	CmdSetTemperatureRange = "set_temperature_range"
	CmdSetMode             = "set_mode"
	CmdSetFan              = "set_fan"
	CmdSetAway             = "set_away"
	CmdSetPreset           = "set_preset"
)

// CommandMessage is sent from Core to the bridge to control a thermostat.
// Topic: graylogic/command/nle/{device}
//
// Only the fields relevant to Type are populated. Pointer fields
// distinguish "absent" from zero values (a target of 0°C is valid).
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acks.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Type is the command name (see Cmd* constants).
	Type string `json:"type"`

	// Temperature is the single setpoint for set_temperature.
	Temperature *float64 `json:"temperature,omitempty"`

	// Low and High are the bounds for set_temperature_range. Both are
	// required; the vendor rejects partial range writes.
	Low  *float64 `json:"low,omitempty"`
	High *float64 `json:"high,omitempty"`

	// Mode is the HVAC mode for set_mode (off/heat/cool/heat-cool).
	Mode string `json:"mode,omitempty"`

	// FanMode is the fan mode for set_fan (auto/on/off).
	FanMode string `json:"fan_mode,omitempty"`

	// FanDuration runs the fan for a fixed number of minutes instead of
	// setting a mode. Mutually exclusive with FanMode.
	FanDuration *int `json:"fan_duration,omitempty"`

	// Away is the target away state for set_away.
	Away *bool `json:"away,omitempty"`

	// Preset is the target preset for set_preset (home/away/eco).
	Preset string `json:"preset,omitempty"`

	// Source indicates where the command originated ("api", "automation",
	// "scene"). Informational only.
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was accepted and written to the
	// vendor API.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// Error codes for command failures.
const (
	ErrCodeUnknownDevice     = "UNKNOWN_DEVICE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeAuthFailed        = "AUTH_FAILED"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeVendorUnreachable = "VENDOR_UNREACHABLE"
	ErrCodeVendorError       = "VENDOR_ERROR"
)

// AckMessage is sent from the bridge to Core to acknowledge a command.
// Topic: graylogic/ack/nle/{device}
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the thermostat identifier.
	DeviceID string `json:"device_id"`

	// Status indicates whether the write reached the vendor.
	Status AckStatus `json:"status"`

	// Protocol is the protocol identifier ("nle").
	Protocol string `json:"protocol"`

	// Error contains details when Status is "failed".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the machine-readable error code (see ErrCode* constants).
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// NewAckMessage creates an acknowledgment for a successful command.
func NewAckMessage(cmd CommandMessage, deviceID string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		Status:    AckAccepted,
		Protocol:  "nle",
	}
}

// NewAckError creates an acknowledgment with error details.
func NewAckError(cmd CommandMessage, deviceID, code, message string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		Status:    AckFailed,
		Protocol:  "nle",
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
}

// StateMessage wraps an entity payload for publication.
// Topic: graylogic/state/nle/{device}/{entity}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// DeviceID is the thermostat identifier.
	DeviceID string `json:"device_id"`

	// Entity is the entity segment (climate, sensors, ...).
	Entity string `json:"entity"`

	// Timestamp is when the state was polled (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// State is the entity payload (ClimateState, SensorState, ...).
	State any `json:"state"`

	// Protocol is the protocol identifier ("nle").
	Protocol string `json:"protocol"`
}

// NewStateMessage creates a state message for a device entity.
func NewStateMessage(deviceID, entity string, state any) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Entity:    entity,
		Timestamp: time.Now().UTC(),
		State:     state,
		Protocol:  "nle",
	}
}

// AvailabilityMessage is published retained per device.
// Topic: graylogic/availability/nle/{device}
type AvailabilityMessage struct {
	// Status is "online" or "offline".
	Status string `json:"status"`

	// Timestamp is when the transition was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`
}

// Availability status values.
const (
	AvailabilityOnline  = "online"
	AvailabilityOffline = "offline"
)

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is polling normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is running with issues
	// (MQTT disconnected, consecutive poll failures).
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy indicates the bridge cannot do useful work
	// (vendor rejected the API key).
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthOffline indicates the bridge is gone (published via LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: graylogic/health/nle
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// Bridge is the bridge identifier from config.
	Bridge string `json:"bridge"`

	// Timestamp is when the status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the bridge software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// DevicesManaged is the number of thermostats on the account.
	DevicesManaged int `json:"devices_managed"`

	// Poll contains statistics about the most recent poll cycle.
	Poll *PollHealth `json:"poll,omitempty"`

	// RateLimitRemaining is the vendor budget left in the current window,
	// or -1 when no response has carried the header yet.
	RateLimitRemaining int `json:"rate_limit_remaining"`

	// Reason explains the status (especially offline/degraded/unhealthy).
	Reason string `json:"reason,omitempty"`
}

// PollHealth describes the most recent poll cycle.
type PollHealth struct {
	// LastPoll is when the last cycle completed (UTC, ISO8601).
	LastPoll time.Time `json:"last_poll"`

	// LastDurationMS is the wall-clock time the cycle took.
	LastDurationMS int64 `json:"last_duration_ms"`

	// LastErrorCount is the number of devices that failed in the cycle.
	LastErrorCount int `json:"last_error_count"`

	// ConsecutiveFailures counts cycles in a row where every device
	// failed. Reset on any success.
	ConsecutiveFailures int `json:"consecutive_failures"`
}

// NewLWTMessage creates the Last Will and Testament payload published by
// the broker if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:             bridgeID,
		Timestamp:          time.Now().UTC(),
		Status:             HealthOffline,
		RateLimitRemaining: -1,
		Reason:             "unexpected_disconnect",
	}
}

// DiscoveryMessage announces the account's thermostats and their entities.
// Topic: graylogic/discovery/nle
type DiscoveryMessage struct {
	// Timestamp is when the announcement was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Bridge is the bridge identifier.
	Bridge string `json:"bridge"`

	// Devices contains the announced thermostats.
	Devices []DiscoveredDevice `json:"devices"`
}

// DiscoveredDevice is one thermostat in a discovery announcement.
type DiscoveredDevice struct {
	// ID is the vendor device identifier (used in topics).
	ID string `json:"id"`

	// Serial is the thermostat serial number.
	Serial string `json:"serial"`

	// Name is the display name (user-assigned or serial-derived).
	Name string `json:"name"`

	// Entities lists the entity segments published under
	// graylogic/state/nle/{device}/.
	Entities []string `json:"entities"`
}
