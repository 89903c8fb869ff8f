package nle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// DefaultBaseURL is the hosted No Longer Evil API endpoint.
const DefaultBaseURL = "https://nolongerevil.com/api/v1"

// DefaultTimeout bounds each request so a slow vendor response cannot
// stall the poll loop.
const DefaultTimeout = 10 * time.Second

// maxErrorBodySize caps how much of an error response body is read when
// extracting the vendor's error message.
const maxErrorBodySize = 4096

// Client is an authenticated client for the No Longer Evil REST API.
//
// It performs no retries; retry policy belongs to the caller (the poller
// retries on its next tick).
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	// Rate-limit headers from the most recent response.
	mu        sync.Mutex
	rateLimit RateLimit
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the hosted API endpoint, e.g. for a self-hosted
// relay server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client. Mainly for tests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a client for the given API key.
//
// Parameters:
//   - apiKey: Bearer API key (convention: "nle_" prefix)
//   - opts: Optional overrides (base URL, timeout, HTTP client)
//
// Returns:
//   - *Client: Ready-to-use client
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		rateLimit: RateLimit{Remaining: -1},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// RateLimit returns the rate-limit headers from the most recent response.
func (c *Client) RateLimit() RateLimit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateLimit
}

// request performs one API call and returns the raw response body.
// HTTP status codes are mapped onto the package's error taxonomy.
func (c *Client) request(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("nle: encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("nle: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeout, DNS failure, refused connection: no HTTP response.
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Best effort cleanup

	c.updateRateLimit(resp.Header)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: invalid API key", ErrAuthentication)

	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: access denied to resource", ErrAuthentication)

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: decodeRetryAfter(resp.Body)}

	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound

	case resp.StatusCode >= 400:
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    decodeErrorMessage(resp.Body, resp.StatusCode),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrConnectivity, err)
	}

	return data, nil
}

// updateRateLimit records the vendor's rate-limit headers.
func (c *Client) updateRateLimit(header http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := header.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.rateLimit.Remaining = n
		}
	}
	if v := header.Get("X-RateLimit-Reset"); v != "" {
		c.rateLimit.Reset = v
	}
}

// decodeRetryAfter extracts the retryAfter hint from a 429 body.
// Returns 0 when the body is absent or undecodable.
func decodeRetryAfter(r io.Reader) int {
	var body struct {
		RetryAfter int `json:"retryAfter"`
	}
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return 0
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return 0
	}
	return body.RetryAfter
}

// decodeErrorMessage extracts the vendor error string from an error body.
func decodeErrorMessage(r io.Reader, statusCode int) string {
	var body struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err == nil {
		if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
			return body.Error
		}
	}
	return fmt.Sprintf("HTTP %d", statusCode)
}

// GetDevices returns the thermostats on the account.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - []Device: Devices visible to the API key
//   - error: Classified per the package error taxonomy
func (c *Client) GetDevices(ctx context.Context) ([]Device, error) {
	data, err := c.request(ctx, http.MethodGet, "/devices", nil)
	if err != nil {
		return nil, err
	}

	var resp deviceListResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: device list: %v", ErrMalformed, err)
	}

	return resp.Devices, nil
}

// GetDeviceStatus fetches and parses the full status of one thermostat.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - deviceID: Vendor device identifier
//
// Returns:
//   - *DeviceStatus: Parsed status
//   - error: Classified per the package error taxonomy
func (c *Client) GetDeviceStatus(ctx context.Context, deviceID string) (*DeviceStatus, error) {
	data, err := c.request(ctx, http.MethodGet, "/thermostat/"+deviceID+"/status", nil)
	if err != nil {
		return nil, err
	}

	return ParseDeviceStatus(data)
}

// SetTemperature sets a single target temperature.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - deviceID: Vendor device identifier
//   - temperature: Target setpoint
//   - mode: HVAC mode the setpoint applies to (heat or cool)
//   - scale: Temperature scale ("C" or "F")
func (c *Client) SetTemperature(ctx context.Context, deviceID string, temperature float64, mode, scale string) error {
	payload := map[string]any{
		"value": temperature,
		"mode":  mode,
		"scale": scale,
	}
	_, err := c.request(ctx, http.MethodPost, "/thermostat/"+deviceID+"/temperature", payload)
	return err
}

// SetTemperatureRange sets the low and high bounds for heat-cool mode.
// Both bounds are required; the vendor rejects partial ranges.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - deviceID: Vendor device identifier
//   - low: Heating bound
//   - high: Cooling bound
//   - scale: Temperature scale ("C" or "F")
func (c *Client) SetTemperatureRange(ctx context.Context, deviceID string, low, high float64, scale string) error {
	payload := map[string]any{
		"low":   low,
		"high":  high,
		"scale": scale,
	}
	_, err := c.request(ctx, http.MethodPost, "/thermostat/"+deviceID+"/temperature/range", payload)
	return err
}

// SetHVACMode sets the operating mode: off, heat, cool or heat-cool.
func (c *Client) SetHVACMode(ctx context.Context, deviceID, mode string) error {
	payload := map[string]any{"mode": mode}
	_, err := c.request(ctx, http.MethodPost, "/thermostat/"+deviceID+"/mode", payload)
	return err
}

// SetAway sets or clears away mode. The vendor exposes away as the only
// writable preset.
func (c *Client) SetAway(ctx context.Context, deviceID string, away bool) error {
	payload := map[string]any{"away": away}
	_, err := c.request(ctx, http.MethodPost, "/thermostat/"+deviceID+"/away", payload)
	return err
}

// SetFanMode sets the fan mode: auto, on or off.
func (c *Client) SetFanMode(ctx context.Context, deviceID, mode string) error {
	payload := map[string]any{"mode": mode}
	_, err := c.request(ctx, http.MethodPost, "/thermostat/"+deviceID+"/fan", payload)
	return err
}

// SetFanTimer runs the fan for a fixed duration in seconds.
func (c *Client) SetFanTimer(ctx context.Context, deviceID string, duration int) error {
	payload := map[string]any{"duration": duration}
	_, err := c.request(ctx, http.MethodPost, "/thermostat/"+deviceID+"/fan", payload)
	return err
}

// GetSchedule fetches the programmed schedule. The document is passed
// through opaquely.
func (c *Client) GetSchedule(ctx context.Context, deviceID string) (Schedule, error) {
	data, err := c.request(ctx, http.MethodGet, "/thermostat/"+deviceID+"/schedule", nil)
	if err != nil {
		return nil, err
	}

	var schedule Schedule
	if err := json.Unmarshal(data, &schedule); err != nil {
		return nil, fmt.Errorf("%w: schedule: %v", ErrMalformed, err)
	}

	return schedule, nil
}

// SetSchedule replaces the programmed schedule.
func (c *Client) SetSchedule(ctx context.Context, deviceID string, schedule Schedule) error {
	_, err := c.request(ctx, http.MethodPut, "/thermostat/"+deviceID+"/schedule", schedule)
	return err
}

// ValidateConnection verifies the API key by listing devices.
//
// Returns:
//   - error: nil if the key works, classified error otherwise
func (c *Client) ValidateConnection(ctx context.Context) error {
	_, err := c.GetDevices(ctx)
	return err
}
