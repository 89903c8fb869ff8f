package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-nle/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-nle/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-nle/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-nle/internal/nle"
)

// Bridge operation constants.
const (
	// commandTimeout bounds a single vendor write triggered by a command.
	commandTimeout = 15 * time.Second

	// historyTimeout bounds a single state-history append.
	historyTimeout = 5 * time.Second
)

// Bridge orchestrates the thermostat poll loop and its MQTT surface.
// It handles:
//   - Polling the NLE cloud API at the configured scan interval
//   - Publishing retained entity state, availability and discovery
//   - Receiving commands from Core via MQTT and writing to the vendor API
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg       *config.Config
	vendor    VendorClient
	mqtt      MQTTClient
	health    *HealthReporter
	history   HistorySink   // Optional state-history persistence
	telemetry TelemetrySink // Optional time-series mirroring

	topics mqtt.Topics

	// Poll snapshot. Replaced wholesale after each cycle: last write wins,
	// no merge.
	mu                  sync.RWMutex
	devices             []nle.Device
	snapshot            map[string]DeviceSnapshot
	consecutiveFailures int

	// Change detection for retained publishes.
	pubMu         sync.Mutex
	lastPublished map[string]map[string][]byte // device -> entity -> payload
	lastAvailable map[string]bool

	// State change callback (websocket fan-out).
	onStateChange func(deviceID, entity string, payload []byte)
	callbackMu    sync.RWMutex

	// refreshCh triggers an immediate poll after a successful command so
	// the next retained publish reflects the write.
	refreshCh chan struct{}

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// VendorClient is the interface for the NLE cloud API.
// This allows mocking in tests; *nle.Client satisfies it.
type VendorClient interface {
	GetDevices(ctx context.Context) ([]nle.Device, error)
	GetDeviceStatus(ctx context.Context, deviceID string) (*nle.DeviceStatus, error)
	SetTemperature(ctx context.Context, deviceID string, temperature float64, mode, scale string) error
	SetTemperatureRange(ctx context.Context, deviceID string, low, high float64, scale string) error
	SetHVACMode(ctx context.Context, deviceID, mode string) error
	SetAway(ctx context.Context, deviceID string, away bool) error
	SetFanMode(ctx context.Context, deviceID, mode string) error
	SetFanTimer(ctx context.Context, deviceID string, duration int) error
	RateLimit() nle.RateLimit
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests; *mqtt.Client satisfies it.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// HistorySink persists published state changes.
// This is optional - if nil, the bridge operates without history.
type HistorySink interface {
	// Append records one state change. state is the entity payload JSON.
	Append(ctx context.Context, deviceID, entity string, state []byte, source string) error
}

// TelemetrySink mirrors poll results into time-series storage.
// This is optional - if nil, the bridge operates without telemetry.
// *influxdb.Client satisfies it.
type TelemetrySink interface {
	WriteThermostatSample(sample influxdb.ThermostatSample)
	WritePollStats(duration time.Duration, deviceCount, errorCount, rateRemaining int)
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// DeviceSnapshot is the bridge's view of one thermostat after the most
// recent poll cycle.
type DeviceSnapshot struct {
	// Device is the account device record.
	Device nle.Device

	// Status is the last successfully polled status. Retained across
	// failed polls so consumers keep the last known state.
	Status *nle.DeviceStatus

	// Available reports whether the most recent poll for this device
	// succeeded.
	Available bool

	// LastSeen is when Status was last refreshed.
	LastSeen time.Time
}

// Options holds configuration for creating a bridge.
type Options struct {
	// Config is the loaded bridge configuration.
	Config *config.Config

	// Vendor is the NLE API client.
	Vendor VendorClient

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Version is the bridge software version for health messages.
	Version string

	// Logger is optional structured logger.
	Logger Logger

	// History is optional state-history persistence.
	// If nil, the bridge operates without history.
	History HistorySink

	// Telemetry is optional time-series mirroring.
	// If nil, the bridge operates without telemetry.
	Telemetry TelemetrySink
}

// New creates a new bridge instance.
// Call Start() to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Vendor == nil {
		return nil, fmt.Errorf("vendor client is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	// Bridge-level context so in-flight vendor calls abort on Stop()
	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:           opts.Config,
		vendor:        opts.Vendor,
		mqtt:          opts.MQTTClient,
		history:       opts.History,   // May be nil (optional)
		telemetry:     opts.Telemetry, // May be nil (optional)
		snapshot:      make(map[string]DeviceSnapshot),
		lastPublished: make(map[string]map[string][]byte),
		lastAvailable: make(map[string]bool),
		refreshCh:     make(chan struct{}, 1),
		done:          make(chan struct{}),
		ctx:           ctx,
		ctxCancel:     ctxCancel,
		logger:        opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.Config.Bridge.ID,
		Version:   opts.Version,
		Interval:  opts.Config.GetScanInterval(),
		Publisher: opts.MQTTClient,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start begins bridge operation.
//
// The initial device list fetch must succeed: a rejected API key or an
// unexpected response shape aborts startup so the problem surfaces
// immediately instead of as a silent empty bridge.
func (b *Bridge) Start(ctx context.Context) error {
	devices, err := b.vendor.GetDevices(ctx)
	if err != nil {
		switch {
		case errors.Is(err, nle.ErrAuthentication):
			return fmt.Errorf("vendor rejected the API key, check nle.api_key: %w", err)
		case errors.Is(err, nle.ErrMalformed):
			return fmt.Errorf("unexpected device list response, check nle.base_url: %w", err)
		default:
			return fmt.Errorf("initial device list fetch: %w", err)
		}
	}
	b.setDevices(devices)

	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	// Subscribe to command topics
	commandTopic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleCommandMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.publishDiscovery()

	// First poll before the ticker fires so retained state and
	// availability appear immediately.
	b.pollOnce(b.ctx)

	b.health.Start(ctx)

	b.wg.Add(1)
	go b.run()

	b.logInfo("bridge started",
		"bridge_id", b.cfg.Bridge.ID,
		"devices", len(devices),
		"scan_interval", b.cfg.GetScanInterval())

	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Cancel bridge context to abort in-flight vendor calls
		b.ctxCancel()

		// Wait for the poll loop
		b.wg.Wait()

		// Stop health reporting (publishes "stopping" status)
		b.health.Stop()

		b.logInfo("bridge stopped")
	})
}

// run is the poll loop. One goroutine owns all polling; the vendor client
// is still safe for concurrent use by command writes.
func (b *Bridge) run() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.GetScanInterval())
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-b.done:
			return
		case <-b.ctx.Done():
			return
		case <-b.refreshCh:
			b.pollOnce(b.ctx)
		case <-ticker.C:
			tick++
			if tick%b.cfg.NLE.DeviceRefreshTicks == 0 {
				b.refreshDevices(b.ctx)
			}
			b.pollOnce(b.ctx)
		}
	}
}

// RequestRefresh asks the poll loop to run a cycle as soon as possible.
// Coalesces: a refresh already pending absorbs further requests.
func (b *Bridge) RequestRefresh() {
	select {
	case b.refreshCh <- struct{}{}:
	default:
	}
}

// refreshDevices re-fetches the account device list to pick up
// thermostats added or removed since startup. Errors are non-fatal; the
// previous list stays in effect.
func (b *Bridge) refreshDevices(ctx context.Context) {
	devices, err := b.vendor.GetDevices(ctx)
	if err != nil {
		b.logError("device list refresh failed", err)
		return
	}

	b.mu.RLock()
	previous := len(b.devices)
	b.mu.RUnlock()

	b.setDevices(devices)

	if len(devices) != previous {
		b.logInfo("device list changed", "previous", previous, "current", len(devices))
		b.publishDiscovery()
	}
}

// setDevices replaces the device list.
func (b *Bridge) setDevices(devices []nle.Device) {
	b.mu.Lock()
	b.devices = devices
	b.mu.Unlock()

	b.health.SetDeviceCount(len(devices))
}

// pollOnce runs one poll cycle: fetch every device's status, publish
// entity state and availability, and replace the snapshot atomically.
//
// Per-device failures never stop the cycle. A failed device keeps its
// prior state (consumers act on last known values) and only its
// availability flips to offline. An authentication failure additionally
// flips bridge health to unhealthy until a poll succeeds again.
func (b *Bridge) pollOnce(ctx context.Context) {
	start := time.Now()

	b.mu.RLock()
	devices := make([]nle.Device, len(b.devices))
	copy(devices, b.devices)
	previous := b.snapshot
	b.mu.RUnlock()

	next := make(map[string]DeviceSnapshot, len(devices))
	errorCount := 0
	authReason := ""

	for _, dev := range devices {
		status, err := b.vendor.GetDeviceStatus(ctx, dev.ID)
		if err != nil {
			errorCount++

			// Retain prior state; only availability changes.
			snap := previous[dev.ID]
			snap.Device = dev
			snap.Available = false
			next[dev.ID] = snap
			b.publishAvailability(dev.ID, false)

			if errors.Is(err, nle.ErrAuthentication) {
				authReason = "vendor rejected the API key"
			}
			b.logError("device poll failed",
				fmt.Errorf("device=%s: %w", dev.ID, err))
			continue
		}

		now := time.Now().UTC()
		next[dev.ID] = DeviceSnapshot{
			Device:    dev,
			Status:    status,
			Available: true,
			LastSeen:  now,
		}
		b.publishAvailability(dev.ID, true)
		b.publishEntityStates(dev.ID, status)

		if b.telemetry != nil {
			b.telemetry.WriteThermostatSample(thermostatSample(dev.ID, status))
		}
	}

	// Atomic snapshot replace: last write wins, no merge.
	b.mu.Lock()
	b.snapshot = next
	if len(devices) > 0 && errorCount == len(devices) {
		b.consecutiveFailures++
	} else {
		b.consecutiveFailures = 0
	}
	consecutive := b.consecutiveFailures
	b.mu.Unlock()

	duration := time.Since(start)
	remaining := b.vendor.RateLimit().Remaining

	b.health.SetPollStats(PollHealth{
		LastPoll:            time.Now().UTC(),
		LastDurationMS:      duration.Milliseconds(),
		LastErrorCount:      errorCount,
		ConsecutiveFailures: consecutive,
	})
	b.health.SetRateLimitRemaining(remaining)
	b.health.SetAuthFailure(authReason)

	if b.telemetry != nil {
		b.telemetry.WritePollStats(duration, len(devices), errorCount, remaining)
	}
}

// thermostatSample converts a polled status to a telemetry sample.
func thermostatSample(deviceID string, s *nle.DeviceStatus) influxdb.ThermostatSample {
	return influxdb.ThermostatSample{
		DeviceID:           deviceID,
		Serial:             s.Serial,
		Mode:               s.HVACMode(),
		Action:             s.HVACAction(),
		CurrentTemperature: s.CurrentTemperature,
		TargetTemperature:  s.TargetTemperature,
		TargetLow:          s.TargetTemperatureLow,
		TargetHigh:         s.TargetTemperatureHigh,
		Humidity:           s.CurrentHumidity,
		Away:               s.IsAway,
	}
}

// publishEntityStates publishes every changed entity payload for a device
// as a retained state message, and mirrors the change to history and the
// websocket callback.
func (b *Bridge) publishEntityStates(deviceID string, status *nle.DeviceStatus) {
	states := EntityStates(status)
	for _, entity := range EntityNames {
		state := states[entity]

		inner, err := json.Marshal(state)
		if err != nil {
			b.logError("failed to marshal entity state", err)
			continue
		}

		if !b.stateChanged(deviceID, entity, inner) {
			continue
		}

		msg := NewStateMessage(deviceID, entity, state)
		payload, err := json.Marshal(msg)
		if err != nil {
			b.logError("failed to marshal state message", err)
			continue
		}

		topic := b.topics.State(deviceID, entity)
		if err := b.mqtt.Publish(topic, payload, 1, true); err != nil {
			b.logError("failed to publish state", err)
			continue
		}

		if b.history != nil {
			histCtx, cancel := context.WithTimeout(b.ctx, historyTimeout)
			if err := b.history.Append(histCtx, deviceID, entity, inner, "poll"); err != nil {
				b.logDebug("history append skipped",
					"device", deviceID,
					"entity", entity,
					"reason", err.Error())
			}
			cancel()
		}

		b.notifyStateChange(deviceID, entity, payload)
	}
}

// stateChanged reports whether the entity payload differs from the last
// published one, updating the cache when it does. Entity payloads carry
// no timestamps, so identical thermostat state means identical bytes.
func (b *Bridge) stateChanged(deviceID, entity string, payload []byte) bool {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	if b.lastPublished[deviceID] == nil {
		b.lastPublished[deviceID] = make(map[string][]byte)
	}
	if bytes.Equal(b.lastPublished[deviceID][entity], payload) {
		return false
	}
	b.lastPublished[deviceID][entity] = payload
	return true
}

// publishAvailability publishes a retained availability transition for a
// device. Repeat states are suppressed.
func (b *Bridge) publishAvailability(deviceID string, online bool) {
	b.pubMu.Lock()
	last, seen := b.lastAvailable[deviceID]
	if seen && last == online {
		b.pubMu.Unlock()
		return
	}
	b.lastAvailable[deviceID] = online
	b.pubMu.Unlock()

	status := AvailabilityOffline
	if online {
		status = AvailabilityOnline
	}

	payload, err := json.Marshal(AvailabilityMessage{
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		b.logError("failed to marshal availability", err)
		return
	}

	topic := b.topics.Availability(deviceID)
	if err := b.mqtt.Publish(topic, payload, 1, true); err != nil {
		b.logError("failed to publish availability", err)
	}
}

// publishDiscovery announces the account's thermostats and entities.
func (b *Bridge) publishDiscovery() {
	b.mu.RLock()
	devices := make([]nle.Device, len(b.devices))
	copy(devices, b.devices)
	b.mu.RUnlock()

	msg := DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    b.cfg.Bridge.ID,
		Devices:   make([]DiscoveredDevice, 0, len(devices)),
	}
	for _, dev := range devices {
		msg.Devices = append(msg.Devices, DiscoveredDevice{
			ID:       dev.ID,
			Serial:   dev.Serial,
			Name:     dev.DisplayName(),
			Entities: EntityNames,
		})
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal discovery", err)
		return
	}

	if err := b.mqtt.Publish(b.topics.Discovery(), payload, 1, true); err != nil {
		b.logError("failed to publish discovery", err)
	}
}

// Devices returns the current snapshot for every known thermostat, in
// device list order.
func (b *Bridge) Devices() []DeviceSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]DeviceSnapshot, 0, len(b.devices))
	for _, dev := range b.devices {
		if snap, ok := b.snapshot[dev.ID]; ok {
			out = append(out, snap)
		} else {
			out = append(out, DeviceSnapshot{Device: dev})
		}
	}
	return out
}

// Device returns the snapshot for one thermostat.
func (b *Bridge) Device(deviceID string) (DeviceSnapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap, ok := b.snapshot[deviceID]
	if !ok {
		// Known device that has never been polled successfully.
		for _, dev := range b.devices {
			if dev.ID == deviceID {
				return DeviceSnapshot{Device: dev}, true
			}
		}
	}
	return snap, ok
}

// SetOnStateChange registers a callback invoked for every published state
// message. Used by the websocket hub for live fan-out. The callback must
// not block.
func (b *Bridge) SetOnStateChange(fn func(deviceID, entity string, payload []byte)) {
	b.callbackMu.Lock()
	b.onStateChange = fn
	b.callbackMu.Unlock()
}

// notifyStateChange invokes the registered state change callback.
func (b *Bridge) notifyStateChange(deviceID, entity string, payload []byte) {
	b.callbackMu.RLock()
	fn := b.onStateChange
	b.callbackMu.RUnlock()

	if fn != nil {
		fn(deviceID, entity, payload)
	}
}

// Metrics contains bridge metrics for the API health endpoint.
type Metrics struct {
	Status              HealthStatus
	Reason              string
	DevicesManaged      int
	RateLimitRemaining  int
	ConsecutiveFailures int
}

// GetMetrics returns current bridge metrics.
func (b *Bridge) GetMetrics() Metrics {
	status, reason := b.health.determineStatus()

	b.mu.RLock()
	deviceCount := len(b.devices)
	consecutive := b.consecutiveFailures
	b.mu.RUnlock()

	return Metrics{
		Status:              status,
		Reason:              reason,
		DevicesManaged:      deviceCount,
		RateLimitRemaining:  b.vendor.RateLimit().Remaining,
		ConsecutiveFailures: consecutive,
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
