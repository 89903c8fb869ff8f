package bridge

import (
	"github.com/nerrad567/gray-logic-nle/internal/nle"
)

// Entity segments published under graylogic/state/nle/{device}/.
const (
	EntityClimate       = "climate"
	EntitySensors       = "sensors"
	EntityBinarySensors = "binary_sensors"
	EntityAway          = "away"
)

// EntityNames lists every entity segment a thermostat publishes, in
// discovery-announcement order.
var EntityNames = []string{EntityClimate, EntitySensors, EntityBinarySensors, EntityAway}

// Presets exposed on the climate entity. The vendor conflates away and
// preset: "away" is a real write, "eco" is a read-only flag reported
// alongside "home".
const (
	PresetHome = "home"
	PresetAway = "away"
	PresetEco  = "eco"
)

// ClimateMode values as published on the climate entity. These follow the
// Core convention (underscore), not the vendor wire format (hyphen).
const ClimateModeHeatCool = "heat_cool"

// ClimateState is the climate entity payload.
// Topic: graylogic/state/nle/{device}/climate
type ClimateState struct {
	// Mode is off, heat, cool or heat_cool.
	Mode string `json:"mode"`

	// Action is what the equipment is doing: heating, cooling, fan, idle,
	// or off when the thermostat mode is off.
	Action string `json:"action"`

	CurrentTemperature *float64 `json:"current_temperature,omitempty"`

	// TargetTemperature is the single setpoint; nil in heat_cool mode.
	TargetTemperature *float64 `json:"target_temperature,omitempty"`

	// TargetTemperatureLow/High are the range bounds; nil outside
	// heat_cool mode.
	TargetTemperatureLow  *float64 `json:"target_temperature_low,omitempty"`
	TargetTemperatureHigh *float64 `json:"target_temperature_high,omitempty"`

	FanMode string `json:"fan_mode"`

	// Preset is home, away or eco.
	Preset string `json:"preset"`

	// SupportedModes is derived from the thermostat's wiring
	// (can_heat/can_cool).
	SupportedModes []string `json:"supported_modes"`

	// TemperatureScale is C or F, from the thermostat's settings.
	TemperatureScale string `json:"temperature_scale"`

	// TemperatureLocked reports the on-device setpoint lock.
	TemperatureLocked bool `json:"temperature_locked"`
}

// SensorState is the sensors entity payload.
// Topic: graylogic/state/nle/{device}/sensors
//
// Humidity is omitted entirely for thermostats without a humidity sensor;
// consumers must not read an absent field as 0%.
type SensorState struct {
	Temperature       *float64 `json:"temperature,omitempty"`
	TargetTemperature *float64 `json:"target_temperature,omitempty"`
	Humidity          *float64 `json:"humidity,omitempty"`
	Action            string   `json:"action"`
}

// BinarySensorState is the binary_sensors entity payload.
// Topic: graylogic/state/nle/{device}/binary_sensors
type BinarySensorState struct {
	Heating bool `json:"heating"`
	Cooling bool `json:"cooling"`
	Fan     bool `json:"fan"`

	// Home is the inverse of away, matching occupancy sensor semantics.
	Home bool `json:"home"`
}

// AwayState is the away switch entity payload.
// Topic: graylogic/state/nle/{device}/away
type AwayState struct {
	Away bool `json:"away"`
}

// Preset derives the climate preset from a polled status. Away wins over
// eco; a thermostat that is neither is home.
func Preset(s *nle.DeviceStatus) string {
	switch {
	case s.IsAway:
		return PresetAway
	case s.EcoModeEnabled:
		return PresetEco
	default:
		return PresetHome
	}
}

// SupportedModes derives the mode list from the thermostat's capabilities.
// Off is always available; heat_cool needs both heating and cooling wired.
func SupportedModes(s *nle.DeviceStatus) []string {
	modes := []string{nle.ModeOff}
	if s.CanHeat {
		modes = append(modes, nle.ModeHeat)
	}
	if s.CanCool {
		modes = append(modes, nle.ModeCool)
	}
	if s.CanHeat && s.CanCool {
		modes = append(modes, ClimateModeHeatCool)
	}
	return modes
}

// climateMode converts a vendor HVAC mode to the published form.
func climateMode(s *nle.DeviceStatus) string {
	mode := s.HVACMode()
	if mode == nle.ModeHeatCool {
		return ClimateModeHeatCool
	}
	return mode
}

// climateAction reports "off" for a switched-off thermostat; otherwise
// the equipment action.
func climateAction(s *nle.DeviceStatus) string {
	if s.HVACMode() == nle.ModeOff {
		return "off"
	}
	return s.HVACAction()
}

// NewClimateState maps a polled status to the climate entity payload.
func NewClimateState(s *nle.DeviceStatus) ClimateState {
	state := ClimateState{
		Mode:               climateMode(s),
		Action:             climateAction(s),
		CurrentTemperature: s.CurrentTemperature,
		FanMode:            s.FanMode,
		Preset:             Preset(s),
		SupportedModes:     SupportedModes(s),
		TemperatureScale:   s.TemperatureScale,
		TemperatureLocked:  s.TemperatureLockEnabled,
	}

	// Single setpoint and range bounds are mutually exclusive.
	if state.Mode == ClimateModeHeatCool {
		state.TargetTemperatureLow = s.TargetTemperatureLow
		state.TargetTemperatureHigh = s.TargetTemperatureHigh
	} else {
		state.TargetTemperature = s.TargetTemperature
	}

	return state
}

// NewSensorState maps a polled status to the sensors entity payload.
func NewSensorState(s *nle.DeviceStatus) SensorState {
	return SensorState{
		Temperature:       s.CurrentTemperature,
		TargetTemperature: s.TargetTemperature,
		Humidity:          s.CurrentHumidity,
		Action:            s.HVACAction(),
	}
}

// NewBinarySensorState maps a polled status to the binary_sensors payload.
func NewBinarySensorState(s *nle.DeviceStatus) BinarySensorState {
	return BinarySensorState{
		Heating: s.HeaterActive,
		Cooling: s.ACActive,
		Fan:     s.FanActive,
		Home:    !s.IsAway,
	}
}

// NewAwayState maps a polled status to the away switch payload.
func NewAwayState(s *nle.DeviceStatus) AwayState {
	return AwayState{Away: s.IsAway}
}

// EntityStates maps one polled status to every entity payload for the
// device, keyed by entity segment. The mapping is stateless and carries
// no timestamps, so identical polls marshal to identical bytes; change
// detection happens at publish time.
func EntityStates(s *nle.DeviceStatus) map[string]any {
	return map[string]any{
		EntityClimate:       NewClimateState(s),
		EntitySensors:       NewSensorState(s),
		EntityBinarySensors: NewBinarySensorState(s),
		EntityAway:          NewAwayState(s),
	}
}
