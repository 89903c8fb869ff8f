package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-nle/internal/infrastructure/mqtt"
)

// HealthReporter manages periodic health status reporting.
// It publishes retained health messages to MQTT at regular intervals.
type HealthReporter struct {
	bridgeID  string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher

	// Fields updated by the poll loop.
	mu            sync.RWMutex
	deviceCount   int
	poll          *PollHealth
	rateRemaining int
	authFailure   string // non-empty when the vendor rejected the API key

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// BridgeID is the bridge identifier for health messages.
	BridgeID string

	// Version is the bridge software version.
	Version string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher
}

// NewHealthReporter creates a new health reporter.
// Call Start to begin periodic reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}

	return &HealthReporter{
		bridgeID:      cfg.BridgeID,
		version:       cfg.Version,
		startTime:     time.Now(),
		interval:      interval,
		publisher:     cfg.Publisher,
		rateRemaining: -1, // no vendor response seen yet
		done:          make(chan struct{}),
	}
}

// Start begins periodic health reporting.
//
// Parameters:
//   - ctx: Context for cancellation (will stop reporting when cancelled)
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop gracefully stops health reporting.
// Publishes a final "stopping" status before returning.
// Safe to call multiple times (uses sync.Once).
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		// Final stopping status; nothing to do if the broker is gone
		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetDeviceCount updates the managed device count. Called after device
// list refreshes.
func (h *HealthReporter) SetDeviceCount(count int) {
	h.mu.Lock()
	h.deviceCount = count
	h.mu.Unlock()
}

// SetPollStats records the outcome of a poll cycle.
func (h *HealthReporter) SetPollStats(stats PollHealth) {
	h.mu.Lock()
	p := stats
	h.poll = &p
	h.mu.Unlock()
}

// SetRateLimitRemaining records the vendor budget observed on the most
// recent response. -1 means unseen.
func (h *HealthReporter) SetRateLimitRemaining(remaining int) {
	h.mu.Lock()
	h.rateRemaining = remaining
	h.mu.Unlock()
}

// SetAuthFailure flips the bridge to unhealthy with the given reason.
// Pass an empty string to clear (key accepted again).
func (h *HealthReporter) SetAuthFailure(reason string) {
	h.mu.Lock()
	h.authFailure = reason
	h.mu.Unlock()
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
// Called during bridge initialization.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
// Useful for forcing an update after a significant event.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// GetLWTPayload returns the Last Will and Testament message payload.
// This should be set as the MQTT will message during connection.
func (h *HealthReporter) GetLWTPayload() ([]byte, error) {
	msg := NewLWTMessage(h.bridgeID)
	return json.Marshal(msg)
}

// GetLWTTopic returns the topic for the Last Will and Testament.
func (h *HealthReporter) GetLWTTopic() string {
	return mqtt.Topics{}.Health()
}

// reportLoop runs the periodic health reporting.
func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// Publish initial status
	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status. An authentication
// failure outranks everything: the bridge cannot do useful work until the
// key is fixed. Total poll failure degrades; otherwise healthy.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	h.mu.RLock()
	authFailure := h.authFailure
	poll := h.poll
	h.mu.RUnlock()

	if authFailure != "" {
		return HealthUnhealthy, authFailure
	}

	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}

	if poll != nil && poll.ConsecutiveFailures > 0 {
		return HealthDegraded, "vendor API unreachable"
	}

	return HealthHealthy, ""
}

// publishStatus publishes a health status message.
func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil // No publisher configured
	}

	h.mu.RLock()
	deviceCount := h.deviceCount
	rateRemaining := h.rateRemaining
	var poll *PollHealth
	if h.poll != nil {
		p := *h.poll
		poll = &p
	}
	h.mu.RUnlock()

	msg := HealthMessage{
		Bridge:             h.bridgeID,
		Timestamp:          time.Now().UTC(),
		Status:             status,
		Version:            h.version,
		UptimeSeconds:      int64(time.Since(h.startTime).Seconds()),
		DevicesManaged:     deviceCount,
		Poll:               poll,
		RateLimitRemaining: rateRemaining,
		Reason:             reason,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// QoS 1, retained: consumers see the last known state on subscribe
	return h.publisher.Publish(mqtt.Topics{}.Health(), payload, 1, true)
}

// logError logs an error if logger is set.
func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
