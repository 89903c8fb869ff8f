package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-nle/internal/nle"
)

// handleCommandMessage processes a command received on
// graylogic/command/nle/{device}. Errors are reported as failed acks, not
// returned, so a bad command never tears down the subscription.
func (b *Bridge) handleCommandMessage(topic string, payload []byte) error {
	deviceID, ok := b.topics.DeviceFromCommandTopic(topic)
	if !ok {
		b.logError("command on unexpected topic", fmt.Errorf("topic: %s", topic))
		return nil
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		b.publishAckError(cmd, deviceID, ErrCodeInvalidCommand, "undecodable command payload")
		return nil
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", deviceID,
		"type", cmd.Type)

	if err := b.Execute(b.ctx, deviceID, cmd); err != nil {
		b.logError("command execution failed", err)
		b.publishAckError(cmd, deviceID, ackCodeForError(err), err.Error())
		return nil
	}

	b.publishAck(cmd, deviceID)
	return nil
}

// Execute validates a command and writes it to the vendor API. Shared by
// the MQTT command handler and the REST command endpoint.
//
// On success a refresh is requested so the next retained publish reflects
// the write; the vendor applies writes asynchronously, so the snapshot is
// not mutated here.
func (b *Bridge) Execute(ctx context.Context, deviceID string, cmd CommandMessage) error {
	if !b.knownDevice(deviceID) {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	// Derive timeout from the caller's context so API requests and MQTT
	// commands both abort on shutdown.
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var err error
	switch cmd.Type {
	case CmdSetTemperature:
		err = b.executeSetTemperature(ctx, deviceID, cmd)
	case CmdSetTemperatureRange:
		err = b.executeSetTemperatureRange(ctx, deviceID, cmd)
	case CmdSetMode:
		err = b.executeSetMode(ctx, deviceID, cmd)
	case CmdSetFan:
		err = b.executeSetFan(ctx, deviceID, cmd)
	case CmdSetAway:
		err = b.executeSetAway(ctx, deviceID, cmd)
	case CmdSetPreset:
		err = b.executeSetPreset(ctx, deviceID, cmd)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCommand, cmd.Type)
	}
	if err != nil {
		return err
	}

	b.RequestRefresh()
	return nil
}

// knownDevice reports whether the device is in the account device list.
func (b *Bridge) knownDevice(deviceID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, dev := range b.devices {
		if dev.ID == deviceID {
			return true
		}
	}
	return false
}

// writeContext returns the mode and scale for a setpoint write: the
// command's mode if given, otherwise the last polled mode; the device's
// configured scale, defaulting to Celsius before the first poll.
func (b *Bridge) writeContext(deviceID, modeOverride string) (mode, scale string) {
	mode = modeOverride
	scale = nle.ScaleCelsius

	b.mu.RLock()
	snap, ok := b.snapshot[deviceID]
	b.mu.RUnlock()

	if ok && snap.Status != nil {
		if mode == "" {
			mode = snap.Status.HVACMode()
		}
		if snap.Status.TemperatureScale != "" {
			scale = snap.Status.TemperatureScale
		}
	}
	if mode == "" {
		mode = nle.ModeHeat
	}
	return vendorMode(mode), scale
}

// vendorMode normalises the published heat_cool form to the vendor's
// hyphenated wire format.
func vendorMode(mode string) string {
	if mode == ClimateModeHeatCool {
		return nle.ModeHeatCool
	}
	return mode
}

func (b *Bridge) executeSetTemperature(ctx context.Context, deviceID string, cmd CommandMessage) error {
	if cmd.Temperature == nil {
		return fmt.Errorf("%w: set_temperature requires temperature", ErrInvalidParameters)
	}

	mode, scale := b.writeContext(deviceID, cmd.Mode)
	switch mode {
	case nle.ModeOff:
		return fmt.Errorf("%w: thermostat is off, set a mode first", ErrInvalidParameters)
	case nle.ModeHeatCool:
		return fmt.Errorf("%w: use set_temperature_range in heat_cool mode", ErrInvalidParameters)
	}

	return b.vendor.SetTemperature(ctx, deviceID, *cmd.Temperature, mode, scale)
}

func (b *Bridge) executeSetTemperatureRange(ctx context.Context, deviceID string, cmd CommandMessage) error {
	// The vendor rejects partial range writes, so require both bounds
	// up front rather than surfacing a vendor error.
	if cmd.Low == nil || cmd.High == nil {
		return fmt.Errorf("%w: set_temperature_range requires both low and high", ErrInvalidParameters)
	}
	if *cmd.Low >= *cmd.High {
		return fmt.Errorf("%w: low (%.1f) must be below high (%.1f)",
			ErrInvalidParameters, *cmd.Low, *cmd.High)
	}

	_, scale := b.writeContext(deviceID, "")
	return b.vendor.SetTemperatureRange(ctx, deviceID, *cmd.Low, *cmd.High, scale)
}

func (b *Bridge) executeSetMode(ctx context.Context, deviceID string, cmd CommandMessage) error {
	mode := vendorMode(cmd.Mode)
	switch mode {
	case nle.ModeOff, nle.ModeHeat, nle.ModeCool, nle.ModeHeatCool:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidParameters, cmd.Mode)
	}

	return b.vendor.SetHVACMode(ctx, deviceID, mode)
}

func (b *Bridge) executeSetFan(ctx context.Context, deviceID string, cmd CommandMessage) error {
	if cmd.FanMode != "" && cmd.FanDuration != nil {
		return fmt.Errorf("%w: fan_mode and fan_duration are mutually exclusive", ErrInvalidParameters)
	}

	if cmd.FanDuration != nil {
		if *cmd.FanDuration <= 0 {
			return fmt.Errorf("%w: fan_duration must be positive minutes", ErrInvalidParameters)
		}
		return b.vendor.SetFanTimer(ctx, deviceID, *cmd.FanDuration)
	}

	switch cmd.FanMode {
	case nle.FanAuto, nle.FanOn, nle.FanOff:
	default:
		return fmt.Errorf("%w: unknown fan mode %q", ErrInvalidParameters, cmd.FanMode)
	}
	return b.vendor.SetFanMode(ctx, deviceID, cmd.FanMode)
}

func (b *Bridge) executeSetAway(ctx context.Context, deviceID string, cmd CommandMessage) error {
	if cmd.Away == nil {
		return fmt.Errorf("%w: set_away requires away", ErrInvalidParameters)
	}
	return b.vendor.SetAway(ctx, deviceID, *cmd.Away)
}

// executeSetPreset maps presets onto the vendor's away write. The vendor
// conflates away and preset; eco is managed on the thermostat itself, so
// selecting home or eco both clear away.
func (b *Bridge) executeSetPreset(ctx context.Context, deviceID string, cmd CommandMessage) error {
	switch cmd.Preset {
	case PresetAway:
		return b.vendor.SetAway(ctx, deviceID, true)
	case PresetHome, PresetEco:
		return b.vendor.SetAway(ctx, deviceID, false)
	default:
		return fmt.Errorf("%w: unknown preset %q", ErrInvalidParameters, cmd.Preset)
	}
}

// ackCodeForError maps an execution error to a machine-readable ack code.
func ackCodeForError(err error) string {
	switch {
	case errors.Is(err, ErrUnknownDevice):
		return ErrCodeUnknownDevice
	case errors.Is(err, ErrInvalidCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrInvalidParameters):
		return ErrCodeInvalidParameters
	case errors.Is(err, nle.ErrAuthentication):
		return ErrCodeAuthFailed
	case errors.Is(err, nle.ErrRateLimited):
		return ErrCodeRateLimited
	case errors.Is(err, nle.ErrConnectivity):
		return ErrCodeVendorUnreachable
	default:
		return ErrCodeVendorError
	}
}

// publishAck publishes a successful command acknowledgment.
func (b *Bridge) publishAck(cmd CommandMessage, deviceID string) {
	ack := NewAckMessage(cmd, deviceID)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	topic := b.topics.Ack(deviceID)
	if err := b.mqtt.Publish(topic, payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// publishAckError publishes a failed command acknowledgment.
func (b *Bridge) publishAckError(cmd CommandMessage, deviceID, code, message string) {
	ack := NewAckError(cmd, deviceID, code, message)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack error", err)
		return
	}

	topic := b.topics.Ack(deviceID)
	if err := b.mqtt.Publish(topic, payload, 1, false); err != nil {
		b.logError("failed to publish ack error", err)
	}
}
