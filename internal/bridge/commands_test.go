package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/nerrad567/gray-logic-nle/internal/nle"
)

func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }
func intPtr(v int) *int           { return &v }

func TestExecuteUnknownDevice(t *testing.T) {
	vendor := newMockVendor(testDevice("dev-1"))
	b := newTestBridge(t, vendor, newMockMQTT())
	b.setDevices(vendor.devices)

	err := b.Execute(context.Background(), "ghost", CommandMessage{Type: CmdSetAway, Away: boolPtr(true)})
	if !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Execute() error = %v, want ErrUnknownDevice", err)
	}
}

func TestExecuteUnknownCommand(t *testing.T) {
	vendor := newMockVendor(testDevice("dev-1"))
	b := newTestBridge(t, vendor, newMockMQTT())
	b.setDevices(vendor.devices)

	err := b.Execute(context.Background(), "dev-1", CommandMessage{Type: "self_destruct"})
	if !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Execute() error = %v, want ErrInvalidCommand", err)
	}
}

func TestExecuteSetTemperature(t *testing.T) {
	vendor := newMockVendor(testDevice("dev-1"))
	b := newTestBridge(t, vendor, newMockMQTT())
	b.setDevices(vendor.devices)
	b.pollOnce(context.Background()) // seed snapshot: heat mode, Celsius

	cmd := CommandMessage{Type: CmdSetTemperature, Temperature: floatPtr(22.5)}
	if err := b.Execute(context.Background(), "dev-1", cmd); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	writes := vendor.getWrites()
	if len(writes) != 1 || writes[0] != "temperature dev-1 22.5 heat C" {
		t.Errorf("writes = %v", writes)
	}

	// Successful write requests an immediate refresh
	select {
	case <-b.refreshCh:
	default:
		t.Error("Execute() did not request a refresh")
	}
}

func TestExecuteSetTemperatureValidation(t *testing.T) {
	vendor := newMockVendor(testDevice("dev-1"))
	b := newTestBridge(t, vendor, newMockMQTT())
	b.setDevices(vendor.devices)

	tests := []struct {
		name string
		cmd  CommandMessage
	}{
		{"missing temperature", CommandMessage{Type: CmdSetTemperature}},
		{"thermostat off", CommandMessage{Type: CmdSetTemperature, Temperature: floatPtr(21), Mode: nle.ModeOff}},
		{"range mode needs range command", CommandMessage{Type: CmdSetTemperature, Temperature: floatPtr(21), Mode: ClimateModeHeatCool}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.Execute(context.Background(), "dev-1", tt.cmd)
			if !errors.Is(err, ErrInvalidParameters) {
				t.Errorf("Execute() error = %v, want ErrInvalidParameters", err)
			}
		})
	}

	if writes := vendor.getWrites(); len(writes) != 0 {
		t.Errorf("invalid commands must not reach the vendor, got %v", writes)
	}
}

func TestExecuteSetTemperatureRange(t *testing.T) {
	vendor := newMockVendor(testDevice("dev-1"))
	b := newTestBridge(t, vendor, newMockMQTT())
	b.setDevices(vendor.devices)
	b.pollOnce(context.Background())

	cmd := CommandMessage{
		Type: CmdSetTemperatureRange,
		Low:  floatPtr(18.0),
		High: floatPtr(24.0),
	}
	if err := b.Execute(context.Background(), "dev-1", cmd); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	writes := vendor.getWrites()
	if len(writes) != 1 || writes[0] != "range dev-1 18.0 24.0 C" {
		t.Errorf("writes = %v, want a single range write with both bounds", writes)
	}
}

func TestExecuteSetTemperatureRangeRequiresBothBounds(t *testing.T) {
	vendor := newMockVendor(testDevice("dev-1"))
	b := newTestBridge(t, vendor, newMockMQTT())
	b.setDevices(vendor.devices)

	tests := []struct {
		name string
		cmd  CommandMessage
	}{
		{"missing high", CommandMessage{Type: CmdSetTemperatureRange, Low: floatPtr(18)}},
		{"missing low", CommandMessage{Type: CmdSetTemperatureRange, High: floatPtr(24)}},
		{"missing both", CommandMessage{Type: CmdSetTemperatureRange}},
		{"inverted", CommandMessage{Type: CmdSetTemperatureRange, Low: floatPtr(24), High: floatPtr(18)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.Execute(context.Background(), "dev-1", tt.cmd)
			if !errors.Is(err, ErrInvalidParameters) {
				t.Errorf("Execute() error = %v, want ErrInvalidParameters", err)
			}
		})
	}
}

func TestExecuteSetMode(t *testing.T) {
	vendor := newMockVendor(testDevice("dev-1"))
	b := newTestBridge(t, vendor, newMockMQTT())
	b.setDevices(vendor.devices)

	tests := []struct {
		mode string
		want string
	}{
		{nle.ModeOff, "mode dev-1 off"},
		{nle.ModeHeat, "mode dev-1 heat"},
		{nle.ModeCool, "mode dev-1 cool"},
		{nle.ModeHeatCool, "mode dev-1 heat-cool"},
		// Published form normalised to the vendor wire format
		{ClimateModeHeatCool, "mode dev-1 heat-cool"},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			vendor.mu.Lock()
			vendor.writes = nil
			vendor.mu.Unlock()

			err := b.Execute(context.Background(), "dev-1", CommandMessage{Type: CmdSetMode, Mode: tt.mode})
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if writes := vendor.getWrites(); len(writes) != 1 || writes[0] != tt.want {
				t.Errorf("writes = %v, want %q", writes, tt.want)
			}
		})
	}

	err := b.Execute(context.Background(), "dev-1", CommandMessage{Type: CmdSetMode, Mode: "turbo"})
	if !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("Execute() error = %v, want ErrInvalidParameters", err)
	}
}

func TestExecuteSetFan(t *testing.T) {
	vendor := newMockVendor(testDevice("dev-1"))
	b := newTestBridge(t, vendor, newMockMQTT())
	b.setDevices(vendor.devices)

	if err := b.Execute(context.Background(), "dev-1", CommandMessage{Type: CmdSetFan, FanMode: nle.FanOn}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if err := b.Execute(context.Background(), "dev-1", CommandMessage{Type: CmdSetFan, FanDuration: intPtr(15)}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	writes := vendor.getWrites()
	if len(writes) != 2 || writes[0] != "fan dev-1 on" || writes[1] != "fantimer dev-1 15" {
		t.Errorf("writes = %v", writes)
	}

	tests := []struct {
		name string
		cmd  CommandMessage
	}{
		{"both mode and duration", CommandMessage{Type: CmdSetFan, FanMode: nle.FanOn, FanDuration: intPtr(15)}},
		{"zero duration", CommandMessage{Type: CmdSetFan, FanDuration: intPtr(0)}},
		{"unknown mode", CommandMessage{Type: CmdSetFan, FanMode: "turbo"}},
		{"nothing", CommandMessage{Type: CmdSetFan}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.Execute(context.Background(), "dev-1", tt.cmd)
			if !errors.Is(err, ErrInvalidParameters) {
				t.Errorf("Execute() error = %v, want ErrInvalidParameters", err)
			}
		})
	}
}

func TestExecuteSetAwayAndPreset(t *testing.T) {
	vendor := newMockVendor(testDevice("dev-1"))
	b := newTestBridge(t, vendor, newMockMQTT())
	b.setDevices(vendor.devices)

	steps := []struct {
		cmd  CommandMessage
		want string
	}{
		{CommandMessage{Type: CmdSetAway, Away: boolPtr(true)}, "away dev-1 true"},
		{CommandMessage{Type: CmdSetAway, Away: boolPtr(false)}, "away dev-1 false"},
		// The vendor conflates preset and away
		{CommandMessage{Type: CmdSetPreset, Preset: PresetAway}, "away dev-1 true"},
		{CommandMessage{Type: CmdSetPreset, Preset: PresetHome}, "away dev-1 false"},
		{CommandMessage{Type: CmdSetPreset, Preset: PresetEco}, "away dev-1 false"},
	}

	for i, step := range steps {
		if err := b.Execute(context.Background(), "dev-1", step.cmd); err != nil {
			t.Fatalf("step %d: Execute() error = %v", i, err)
		}
	}

	writes := vendor.getWrites()
	if len(writes) != len(steps) {
		t.Fatalf("writes = %d, want %d", len(writes), len(steps))
	}
	for i, step := range steps {
		if writes[i] != step.want {
			t.Errorf("write %d = %q, want %q", i, writes[i], step.want)
		}
	}

	if err := b.Execute(context.Background(), "dev-1", CommandMessage{Type: CmdSetAway}); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("set_away without away: error = %v, want ErrInvalidParameters", err)
	}
	if err := b.Execute(context.Background(), "dev-1", CommandMessage{Type: CmdSetPreset, Preset: "vacation"}); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("unknown preset: error = %v, want ErrInvalidParameters", err)
	}
}

func TestHandleCommandMessageAcks(t *testing.T) {
	vendor := newMockVendor(testDevice("dev-1"))
	m := newMockMQTT()
	b := newTestBridge(t, vendor, m)
	b.setDevices(vendor.devices)

	cmd := CommandMessage{ID: "cmd-1", Type: CmdSetAway, Away: boolPtr(true)}
	payload, _ := json.Marshal(cmd)

	if err := b.handleCommandMessage("graylogic/command/nle/dev-1", payload); err != nil {
		t.Fatalf("handleCommandMessage() error = %v", err)
	}

	acks := m.onTopic("ack/nle/dev-1")
	if len(acks) != 1 {
		t.Fatalf("expected 1 ack, got %d", len(acks))
	}

	var ack AckMessage
	if err := json.Unmarshal(acks[0].payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.Status != AckAccepted || ack.CommandID != "cmd-1" || ack.DeviceID != "dev-1" {
		t.Errorf("ack = %+v", ack)
	}
	if ack.Protocol != "nle" {
		t.Errorf("ack protocol = %q", ack.Protocol)
	}
}

func TestHandleCommandMessageFailureAcks(t *testing.T) {
	vendor := newMockVendor(testDevice("dev-1"))
	m := newMockMQTT()
	b := newTestBridge(t, vendor, m)
	b.setDevices(vendor.devices)

	tests := []struct {
		name     string
		topic    string
		payload  string
		wantCode string
	}{
		{
			"unknown device",
			"graylogic/command/nle/ghost",
			`{"id":"c1","type":"set_away","away":true}`,
			ErrCodeUnknownDevice,
		},
		{
			"undecodable payload",
			"graylogic/command/nle/dev-1",
			`{{{`,
			ErrCodeInvalidCommand,
		},
		{
			"missing parameters",
			"graylogic/command/nle/dev-1",
			`{"id":"c2","type":"set_temperature_range","low":18}`,
			ErrCodeInvalidParameters,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.mu.Lock()
			m.messages = nil
			m.mu.Unlock()

			if err := b.handleCommandMessage(tt.topic, []byte(tt.payload)); err != nil {
				t.Fatalf("handleCommandMessage() error = %v", err)
			}

			acks := m.onTopic("ack/nle/")
			if len(acks) != 1 {
				t.Fatalf("expected 1 ack, got %d", len(acks))
			}

			var ack AckMessage
			if err := json.Unmarshal(acks[0].payload, &ack); err != nil {
				t.Fatalf("unmarshal ack: %v", err)
			}
			if ack.Status != AckFailed {
				t.Errorf("ack status = %q, want failed", ack.Status)
			}
			if ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("ack error = %+v, want code %s", ack.Error, tt.wantCode)
			}
		})
	}
}

func TestAckCodeForVendorErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"auth", fmt.Errorf("wrapped: %w", nle.ErrAuthentication), ErrCodeAuthFailed},
		{"rate limited", &nle.RateLimitError{RetryAfter: 30}, ErrCodeRateLimited},
		{"connectivity", fmt.Errorf("wrapped: %w", nle.ErrConnectivity), ErrCodeVendorUnreachable},
		{"other", errors.New("boom"), ErrCodeVendorError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ackCodeForError(tt.err); got != tt.want {
				t.Errorf("ackCodeForError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVendorWriteErrorPropagates(t *testing.T) {
	vendor := newMockVendor(testDevice("dev-1"))
	vendor.writeErr = &nle.RateLimitError{RetryAfter: 12}
	b := newTestBridge(t, vendor, newMockMQTT())
	b.setDevices(vendor.devices)

	err := b.Execute(context.Background(), "dev-1", CommandMessage{Type: CmdSetAway, Away: boolPtr(true)})
	if !errors.Is(err, nle.ErrRateLimited) {
		t.Errorf("Execute() error = %v, want ErrRateLimited", err)
	}

	// Failed writes must not trigger a refresh
	select {
	case <-b.refreshCh:
		t.Error("failed write requested a refresh")
	default:
	}
}
