package nle

import (
	"encoding/json"
	"fmt"
)

// HVAC modes as reported and accepted by the vendor API.
const (
	ModeOff      = "off"
	ModeHeat     = "heat"
	ModeCool     = "cool"
	ModeHeatCool = "heat-cool" // range mode: both bounds active
)

// HVAC actions derived from the equipment relay states.
const (
	ActionHeating = "heating"
	ActionCooling = "cooling"
	ActionFan     = "fan"
	ActionIdle    = "idle"
)

// Fan modes accepted by the vendor API.
const (
	FanAuto = "auto"
	FanOn   = "on"
	FanOff  = "off"
)

// Temperature scales accepted by the vendor API.
const (
	ScaleCelsius    = "C"
	ScaleFahrenheit = "F"
)

// autoAwayActive is the auto_away value meaning the thermostat considers
// the building unoccupied. 0 means home; intermediate values are
// transitional and treated as home.
const autoAwayActive = 2

// Device is one thermostat on the account, as returned by GET /devices.
type Device struct {
	ID         string  `json:"id"`
	Serial     string  `json:"serial"`
	Name       *string `json:"name"`
	AccessType string  `json:"accessType"`
}

// DisplayName returns the user-assigned name, falling back to the last
// four characters of the serial when the thermostat was never named.
func (d Device) DisplayName() string {
	if d.Name != nil && *d.Name != "" {
		return *d.Name
	}
	if len(d.Serial) >= 4 {
		return "Thermostat " + d.Serial[len(d.Serial)-4:]
	}
	return "Thermostat " + d.Serial
}

// deviceListResponse is the envelope of GET /devices.
type deviceListResponse struct {
	Devices []Device `json:"devices"`
}

// sharedState is the live thermostat state from the "shared.{serial}"
// sub-object of a status response.
type sharedState struct {
	CurrentTemperature    *float64 `json:"current_temperature"`
	TargetTemperature     *float64 `json:"target_temperature"`
	TargetTemperatureType string   `json:"target_temperature_type"`
	TargetTemperatureLow  *float64 `json:"target_temperature_low"`
	TargetTemperatureHigh *float64 `json:"target_temperature_high"`
	HeaterState           bool     `json:"hvac_heater_state"`
	ACState               bool     `json:"hvac_ac_state"`
	FanState              bool     `json:"hvac_fan_state"`
	FanMode               string   `json:"fan_mode"`
	AutoAway              int      `json:"auto_away"`
	CanCool               bool     `json:"can_cool"`
	CanHeat               bool     `json:"can_heat"`
	CurrentHumidity       *float64 `json:"current_humidity"`
}

// deviceSettings is the configuration from the "device.{serial}"
// sub-object of a status response.
type deviceSettings struct {
	TemperatureScale       string `json:"temperature_scale"`
	EcoModeEnabled         bool   `json:"eco_mode_enabled"`
	TemperatureLockEnabled bool   `json:"temperature_lock_enabled"`
}

// DeviceStatus is a parsed thermostat status from
// GET /thermostat/{id}/status.
//
// The vendor nests live state under "shared.{serial}" and settings under
// "device.{serial}", so decoding needs the serial from the same payload;
// ParseDeviceStatus handles that.
type DeviceStatus struct {
	DeviceID string
	Serial   string
	Name     *string

	// Setpoints and readings. Pointers are nil when the thermostat did
	// not report the value; absent humidity means no humidity sensor.
	CurrentTemperature    *float64
	TargetTemperature     *float64
	TargetTemperatureType string
	TargetTemperatureLow  *float64
	TargetTemperatureHigh *float64
	CurrentHumidity       *float64

	// Equipment relay states.
	HeaterActive bool
	ACActive     bool
	FanActive    bool

	FanMode string
	IsAway  bool

	// Capabilities.
	CanCool bool
	CanHeat bool

	// Settings.
	TemperatureScale       string
	EcoModeEnabled         bool
	TemperatureLockEnabled bool
}

// ParseDeviceStatus decodes a raw status response body.
//
// Parameters:
//   - data: Raw JSON body of GET /thermostat/{id}/status
//
// Returns:
//   - *DeviceStatus: Parsed status
//   - error: ErrMalformed-wrapped if the body is not the expected shape
func ParseDeviceStatus(data []byte) (*DeviceStatus, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	status := &DeviceStatus{
		// Vendor defaults when the sub-objects omit the fields.
		TargetTemperatureType: ModeHeat,
		FanMode:               FanAuto,
		TemperatureScale:      ScaleCelsius,
	}

	if err := unmarshalField(raw, "id", &status.DeviceID); err != nil {
		return nil, err
	}
	if err := unmarshalField(raw, "serial", &status.Serial); err != nil {
		return nil, err
	}
	if err := unmarshalField(raw, "name", &status.Name); err != nil {
		return nil, err
	}

	// Heat-only is the most common installation, so missing can_heat
	// means heating is available.
	shared := sharedState{
		TargetTemperatureType: ModeHeat,
		FanMode:               FanAuto,
		CanHeat:               true,
	}
	if msg, ok := raw["shared."+status.Serial]; ok {
		if err := json.Unmarshal(msg, &shared); err != nil {
			return nil, fmt.Errorf("%w: shared state: %v", ErrMalformed, err)
		}
	}

	settings := deviceSettings{TemperatureScale: ScaleCelsius}
	if msg, ok := raw["device."+status.Serial]; ok {
		if err := json.Unmarshal(msg, &settings); err != nil {
			return nil, fmt.Errorf("%w: device settings: %v", ErrMalformed, err)
		}
	}

	status.CurrentTemperature = shared.CurrentTemperature
	status.TargetTemperature = shared.TargetTemperature
	status.TargetTemperatureType = shared.TargetTemperatureType
	status.TargetTemperatureLow = shared.TargetTemperatureLow
	status.TargetTemperatureHigh = shared.TargetTemperatureHigh
	status.CurrentHumidity = shared.CurrentHumidity
	status.HeaterActive = shared.HeaterState
	status.ACActive = shared.ACState
	status.FanActive = shared.FanState
	status.FanMode = shared.FanMode
	status.IsAway = shared.AutoAway == autoAwayActive
	status.CanCool = shared.CanCool
	status.CanHeat = shared.CanHeat
	status.TemperatureScale = settings.TemperatureScale
	status.EcoModeEnabled = settings.EcoModeEnabled
	status.TemperatureLockEnabled = settings.TemperatureLockEnabled

	return status, nil
}

// unmarshalField decodes a single optional top-level field.
func unmarshalField(raw map[string]json.RawMessage, key string, dst any) error {
	msg, ok := raw[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(msg, dst); err != nil {
		return fmt.Errorf("%w: field %q: %v", ErrMalformed, key, err)
	}
	return nil
}

// HVACMode returns the operating mode: off, heat, cool or heat-cool.
// The vendor reports range mode via target_temperature_type.
func (s *DeviceStatus) HVACMode() string {
	if s.TargetTemperatureType == "range" {
		return ModeHeatCool
	}
	return s.TargetTemperatureType
}

// HVACAction returns what the equipment is doing right now. Heating wins
// over cooling wins over fan; everything off is idle.
func (s *DeviceStatus) HVACAction() string {
	switch {
	case s.HeaterActive:
		return ActionHeating
	case s.ACActive:
		return ActionCooling
	case s.FanActive:
		return ActionFan
	default:
		return ActionIdle
	}
}

// RateLimit is a snapshot of the vendor's rate-limit headers from the most
// recent response.
type RateLimit struct {
	// Remaining is the number of requests left in the current window, or
	// -1 when no response has carried the header yet.
	Remaining int

	// Reset is the vendor's opaque window-reset marker, empty when unseen.
	Reset string
}

// Schedule is the thermostat's programmed schedule. The vendor treats it
// as an opaque document; the bridge passes it through unmodified.
type Schedule map[string]any
