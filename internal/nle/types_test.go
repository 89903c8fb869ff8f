package nle

import (
	"errors"
	"strconv"
	"testing"
)

func TestParseDeviceStatus_RangeMode(t *testing.T) {
	data := []byte(`{
		"id": "dev-1",
		"serial": "02AA01AC1234",
		"shared.02AA01AC1234": {
			"current_temperature": 21.0,
			"target_temperature_type": "range",
			"target_temperature_low": 18.0,
			"target_temperature_high": 24.0,
			"can_cool": true,
			"can_heat": true
		}
	}`)

	status, err := ParseDeviceStatus(data)
	if err != nil {
		t.Fatalf("ParseDeviceStatus() error = %v", err)
	}

	if status.HVACMode() != ModeHeatCool {
		t.Errorf("HVACMode() = %q, want heat-cool", status.HVACMode())
	}
	if status.TargetTemperatureLow == nil || *status.TargetTemperatureLow != 18.0 {
		t.Errorf("TargetTemperatureLow = %v, want 18.0", status.TargetTemperatureLow)
	}
	if status.TargetTemperatureHigh == nil || *status.TargetTemperatureHigh != 24.0 {
		t.Errorf("TargetTemperatureHigh = %v, want 24.0", status.TargetTemperatureHigh)
	}
}

func TestParseDeviceStatus_AwayDetection(t *testing.T) {
	tests := []struct {
		name     string
		autoAway int
		wantAway bool
	}{
		{"home", 0, false},
		{"transitional", 1, false},
		{"away", 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte(`{
				"id": "dev-1",
				"serial": "S1",
				"shared.S1": {"auto_away": ` + strconv.Itoa(tt.autoAway) + `}
			}`)

			status, err := ParseDeviceStatus(data)
			if err != nil {
				t.Fatalf("ParseDeviceStatus() error = %v", err)
			}
			if status.IsAway != tt.wantAway {
				t.Errorf("IsAway = %v, want %v", status.IsAway, tt.wantAway)
			}
		})
	}
}

func TestParseDeviceStatus_HumidityAbsent(t *testing.T) {
	data := []byte(`{
		"id": "dev-1",
		"serial": "S1",
		"shared.S1": {"current_temperature": 20.0}
	}`)

	status, err := ParseDeviceStatus(data)
	if err != nil {
		t.Fatalf("ParseDeviceStatus() error = %v", err)
	}

	// No humidity sensor: the field stays nil, never zero
	if status.CurrentHumidity != nil {
		t.Errorf("CurrentHumidity = %v, want nil", status.CurrentHumidity)
	}
}

func TestParseDeviceStatus_Defaults(t *testing.T) {
	data := []byte(`{"id": "dev-1", "serial": "S1"}`)

	status, err := ParseDeviceStatus(data)
	if err != nil {
		t.Fatalf("ParseDeviceStatus() error = %v", err)
	}

	if status.TargetTemperatureType != ModeHeat {
		t.Errorf("TargetTemperatureType = %q, want heat", status.TargetTemperatureType)
	}
	if status.FanMode != FanAuto {
		t.Errorf("FanMode = %q, want auto", status.FanMode)
	}
	if !status.CanHeat {
		t.Error("CanHeat = false, want true (heat-only default)")
	}
	if status.CanCool {
		t.Error("CanCool = true, want false")
	}
	if status.TemperatureScale != ScaleCelsius {
		t.Errorf("TemperatureScale = %q, want C", status.TemperatureScale)
	}
}

func TestParseDeviceStatus_Settings(t *testing.T) {
	data := []byte(`{
		"id": "dev-1",
		"serial": "S1",
		"device.S1": {
			"temperature_scale": "F",
			"eco_mode_enabled": true,
			"temperature_lock_enabled": true
		}
	}`)

	status, err := ParseDeviceStatus(data)
	if err != nil {
		t.Fatalf("ParseDeviceStatus() error = %v", err)
	}

	if status.TemperatureScale != ScaleFahrenheit {
		t.Errorf("TemperatureScale = %q, want F", status.TemperatureScale)
	}
	if !status.EcoModeEnabled {
		t.Error("EcoModeEnabled = false, want true")
	}
	if !status.TemperatureLockEnabled {
		t.Error("TemperatureLockEnabled = false, want true")
	}
}

func TestParseDeviceStatus_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `not json at all`},
		{"wrong shared shape", `{"id": "d", "serial": "S1", "shared.S1": [1, 2]}`},
		{"wrong settings shape", `{"id": "d", "serial": "S1", "device.S1": "nope"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDeviceStatus([]byte(tt.data))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestHVACAction_Precedence(t *testing.T) {
	tests := []struct {
		name   string
		status DeviceStatus
		want   string
	}{
		{
			name:   "heating wins over everything",
			status: DeviceStatus{HeaterActive: true, ACActive: true, FanActive: true},
			want:   ActionHeating,
		},
		{
			name:   "cooling wins over fan",
			status: DeviceStatus{ACActive: true, FanActive: true},
			want:   ActionCooling,
		},
		{
			name:   "fan only",
			status: DeviceStatus{FanActive: true},
			want:   ActionFan,
		},
		{
			name:   "all off is idle",
			status: DeviceStatus{},
			want:   ActionIdle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.HVACAction(); got != tt.want {
				t.Errorf("HVACAction() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeviceDisplayName(t *testing.T) {
	name := "Living Room"
	empty := ""

	tests := []struct {
		name   string
		device Device
		want   string
	}{
		{"named", Device{Serial: "02AA01AC1234", Name: &name}, "Living Room"},
		{"empty name", Device{Serial: "02AA01AC1234", Name: &empty}, "Thermostat 1234"},
		{"nil name", Device{Serial: "02AA01AC1234"}, "Thermostat 1234"},
		{"short serial", Device{Serial: "AB"}, "Thermostat AB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.device.DisplayName(); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}
