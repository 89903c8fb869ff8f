package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/gray-logic-nle/internal/bridge"
	"github.com/nerrad567/gray-logic-nle/internal/history"
	"github.com/nerrad567/gray-logic-nle/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-nle/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-nle/internal/nle"
)

const testToken = "test-token-1234"

// executedCommand records one Execute call on the mock bridge.
type executedCommand struct {
	deviceID string
	cmd      bridge.CommandMessage
}

// mockBridge implements the Bridge interface for handler tests.
type mockBridge struct {
	mu       sync.Mutex
	devices  []bridge.DeviceSnapshot
	metrics  bridge.Metrics
	execErr  error
	executed []executedCommand
	onState  func(deviceID, entity string, payload []byte)
}

func (m *mockBridge) Devices() []bridge.DeviceSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]bridge.DeviceSnapshot, len(m.devices))
	copy(out, m.devices)
	return out
}

func (m *mockBridge) Device(deviceID string) (bridge.DeviceSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, snap := range m.devices {
		if snap.Device.ID == deviceID {
			return snap, true
		}
	}
	return bridge.DeviceSnapshot{}, false
}

func (m *mockBridge) Execute(_ context.Context, deviceID string, cmd bridge.CommandMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executed = append(m.executed, executedCommand{deviceID: deviceID, cmd: cmd})
	return m.execErr
}

func (m *mockBridge) GetMetrics() bridge.Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

func (m *mockBridge) SetOnStateChange(fn func(deviceID, entity string, payload []byte)) {
	m.mu.Lock()
	m.onState = fn
	m.mu.Unlock()
}

func (m *mockBridge) getExecuted() []executedCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]executedCommand, len(m.executed))
	copy(out, m.executed)
	return out
}

// testSnapshot returns an available device snapshot with a polled status.
func testSnapshot(id string) bridge.DeviceSnapshot {
	name := "Living Room"
	current := 20.5
	target := 21.0
	return bridge.DeviceSnapshot{
		Device: nle.Device{
			ID:     id,
			Serial: "01AA01AB123456CD",
			Name:   &name,
		},
		Status: &nle.DeviceStatus{
			DeviceID:              id,
			Serial:                "01AA01AB123456CD",
			CurrentTemperature:    &current,
			TargetTemperature:     &target,
			TargetTemperatureType: nle.ModeHeat,
			HeaterActive:          true,
			FanMode:               nle.FanAuto,
			CanHeat:               true,
			TemperatureScale:      nle.ScaleCelsius,
		},
		Available: true,
		LastSeen:  time.Now().UTC(),
	}
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
}

// newTestServer builds a server around a mock bridge and returns an
// httptest server wrapping its router.
func newTestServer(t *testing.T, mb *mockBridge, repo history.Repository) (*Server, *httptest.Server) {
	t.Helper()

	s, err := New(Deps{
		Config: config.APIConfig{
			Enabled: true,
			Token:   testToken,
			Timeouts: config.APITimeoutConfig{
				Read: 5, Write: 5, Idle: 10,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   1,
			PongTimeout:    2,
		},
		Logger:  testLogger(),
		Bridge:  mb,
		History: repo,
		Version: "1.2.3",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Wire the hub without binding a real listener.
	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(context.Background())
	mb.SetOnStateChange(s.broadcastStateChange)

	ts := httptest.NewServer(s.buildRouter())
	t.Cleanup(ts.Close)

	return s, ts
}

// setupHistoryRepo creates an in-memory SQLite history repository.
func setupHistoryRepo(t *testing.T) *history.SQLiteRepository {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE state_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			entity TEXT NOT NULL,
			state TEXT NOT NULL,
			source TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to create test schema: %v", err)
	}

	return history.NewSQLiteRepository(db)
}

// doRequest performs an HTTP request with the test bearer token.
func doRequest(t *testing.T, ts *httptest.Server, method, path string, body []byte) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, ts.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	logger := testLogger()

	if _, err := New(Deps{Bridge: &mockBridge{}, Config: config.APIConfig{Token: "x"}}); err == nil {
		t.Error("New() without logger expected error")
	}
	if _, err := New(Deps{Logger: logger, Config: config.APIConfig{Token: "x"}}); err == nil {
		t.Error("New() without bridge expected error")
	}
	if _, err := New(Deps{Logger: logger, Bridge: &mockBridge{}}); err == nil {
		t.Error("New() without token expected error")
	}
}

func TestHealthRequiresNoAuth(t *testing.T) {
	mb := &mockBridge{metrics: bridge.Metrics{
		Status:             bridge.HealthHealthy,
		DevicesManaged:     2,
		RateLimitRemaining: 17,
	}}
	_, ts := newTestServer(t, mb, nil)

	resp, err := ts.Client().Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var health HealthResponse
	decodeBody(t, resp, &health)
	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Version != "1.2.3" {
		t.Errorf("Version = %q, want 1.2.3", health.Version)
	}
	if health.DevicesManaged != 2 || health.RateLimitRemaining != 17 {
		t.Errorf("metrics = %+v", health)
	}
}

func TestAuthMiddleware(t *testing.T) {
	mb := &mockBridge{}
	_, ts := newTestServer(t, mb, nil)

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc123", http.StatusUnauthorized},
		{"wrong token", "Bearer wrong-token", http.StatusUnauthorized},
		{"valid token", "Bearer " + testToken, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/devices", nil)
			if err != nil {
				t.Fatalf("building request: %v", err)
			}
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			resp, err := ts.Client().Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestListDevices(t *testing.T) {
	mb := &mockBridge{devices: []bridge.DeviceSnapshot{
		testSnapshot("dev-1"),
		testSnapshot("dev-2"),
	}}
	_, ts := newTestServer(t, mb, nil)

	resp := doRequest(t, ts, http.MethodGet, "/api/v1/devices", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Devices []DeviceResponse `json:"devices"`
		Count   int              `json:"count"`
	}
	decodeBody(t, resp, &body)

	if body.Count != 2 || len(body.Devices) != 2 {
		t.Fatalf("count = %d devices = %d, want 2/2", body.Count, len(body.Devices))
	}

	dev := body.Devices[0]
	if dev.ID != "dev-1" || dev.Name != "Living Room" {
		t.Errorf("device = %+v", dev)
	}
	if !dev.Available {
		t.Error("Available = false, want true")
	}
	if len(dev.Entities) != len(bridge.EntityNames) {
		t.Errorf("entities = %d, want %d", len(dev.Entities), len(bridge.EntityNames))
	}
}

func TestGetDevice(t *testing.T) {
	mb := &mockBridge{devices: []bridge.DeviceSnapshot{testSnapshot("dev-1")}}
	_, ts := newTestServer(t, mb, nil)

	resp := doRequest(t, ts, http.MethodGet, "/api/v1/devices/dev-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var dev DeviceResponse
	decodeBody(t, resp, &dev)
	if dev.ID != "dev-1" || dev.Serial != "01AA01AB123456CD" {
		t.Errorf("device = %+v", dev)
	}
	if dev.LastSeen == nil {
		t.Error("LastSeen missing for polled device")
	}
}

func TestGetDeviceNotFound(t *testing.T) {
	mb := &mockBridge{}
	_, ts := newTestServer(t, mb, nil)

	resp := doRequest(t, ts, http.MethodGet, "/api/v1/devices/ghost", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	var apiErr Error
	decodeBody(t, resp, &apiErr)
	if apiErr.Code != ErrCodeNotFound {
		t.Errorf("Code = %q, want not_found", apiErr.Code)
	}
}

func TestDeviceHistory(t *testing.T) {
	repo := setupHistoryRepo(t)
	ctx := context.Background()

	for _, entity := range []string{"climate", "sensors", "climate"} {
		if err := repo.Append(ctx, "dev-1", entity, []byte(`{"mode":"heat"}`), history.SourcePoll); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	mb := &mockBridge{devices: []bridge.DeviceSnapshot{testSnapshot("dev-1")}}
	_, ts := newTestServer(t, mb, repo)

	resp := doRequest(t, ts, http.MethodGet, "/api/v1/devices/dev-1/history?entity=climate", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		DeviceID string          `json:"device_id"`
		Entries  []history.Entry `json:"entries"`
		Count    int             `json:"count"`
	}
	decodeBody(t, resp, &body)

	if body.Count != 2 {
		t.Fatalf("count = %d, want 2 climate entries", body.Count)
	}
	for _, entry := range body.Entries {
		if entry.Entity != "climate" {
			t.Errorf("Entity = %q, want climate", entry.Entity)
		}
	}
}

func TestDeviceHistoryValidation(t *testing.T) {
	repo := setupHistoryRepo(t)
	mb := &mockBridge{devices: []bridge.DeviceSnapshot{testSnapshot("dev-1")}}
	_, ts := newTestServer(t, mb, repo)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"unknown device", "/api/v1/devices/ghost/history", http.StatusNotFound},
		{"bad entity", "/api/v1/devices/dev-1/history?entity=plasma", http.StatusBadRequest},
		{"bad limit", "/api/v1/devices/dev-1/history?limit=banana", http.StatusBadRequest},
		{"ok empty", "/api/v1/devices/dev-1/history", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, ts, http.MethodGet, tt.path, nil)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestDeviceHistoryDisabled(t *testing.T) {
	mb := &mockBridge{devices: []bridge.DeviceSnapshot{testSnapshot("dev-1")}}
	_, ts := newTestServer(t, mb, nil)

	resp := doRequest(t, ts, http.MethodGet, "/api/v1/devices/dev-1/history", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when history is disabled", resp.StatusCode)
	}
}

func TestDeviceCommand(t *testing.T) {
	mb := &mockBridge{devices: []bridge.DeviceSnapshot{testSnapshot("dev-1")}}
	_, ts := newTestServer(t, mb, nil)

	body := []byte(`{"type":"set_temperature","temperature":22.5}`)
	resp := doRequest(t, ts, http.MethodPost, "/api/v1/devices/dev-1/command", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var result struct {
		CommandID string `json:"command_id"`
		DeviceID  string `json:"device_id"`
		Status    string `json:"status"`
	}
	decodeBody(t, resp, &result)
	if result.CommandID == "" {
		t.Error("command_id missing")
	}
	if result.Status != "accepted" {
		t.Errorf("status = %q, want accepted", result.Status)
	}

	executed := mb.getExecuted()
	if len(executed) != 1 {
		t.Fatalf("executed = %d commands, want 1", len(executed))
	}
	cmd := executed[0]
	if cmd.deviceID != "dev-1" {
		t.Errorf("deviceID = %q, want dev-1", cmd.deviceID)
	}
	if cmd.cmd.Type != bridge.CmdSetTemperature {
		t.Errorf("Type = %q, want set_temperature", cmd.cmd.Type)
	}
	if cmd.cmd.Temperature == nil || *cmd.cmd.Temperature != 22.5 {
		t.Errorf("Temperature = %v, want 22.5", cmd.cmd.Temperature)
	}
	if cmd.cmd.Source != "api" {
		t.Errorf("Source = %q, want api", cmd.cmd.Source)
	}
	if cmd.cmd.ID != result.CommandID {
		t.Errorf("command ID mismatch: %q vs %q", cmd.cmd.ID, result.CommandID)
	}
}

func TestDeviceCommandBadBody(t *testing.T) {
	mb := &mockBridge{}
	_, ts := newTestServer(t, mb, nil)

	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", `{{{`},
		{"missing type", `{"temperature":22.5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, ts, http.MethodPost, "/api/v1/devices/dev-1/command", []byte(tt.body))
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestDeviceCommandErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		execErr    error
		wantStatus int
		wantCode   string
	}{
		{"unknown device", bridge.ErrUnknownDevice, http.StatusNotFound, ErrCodeNotFound},
		{"invalid command", bridge.ErrInvalidCommand, http.StatusBadRequest, ErrCodeBadRequest},
		{"invalid parameters", bridge.ErrInvalidParameters, http.StatusBadRequest, ErrCodeBadRequest},
		{"rate limited", &nle.RateLimitError{RetryAfter: 30}, http.StatusTooManyRequests, ErrCodeRateLimited},
		{"vendor auth", nle.ErrAuthentication, http.StatusBadGateway, ErrCodeBadGateway},
		{"vendor unreachable", nle.ErrConnectivity, http.StatusBadGateway, ErrCodeBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mb := &mockBridge{execErr: tt.execErr}
			_, ts := newTestServer(t, mb, nil)

			body := []byte(`{"type":"set_temperature","temperature":22.5}`)
			resp := doRequest(t, ts, http.MethodPost, "/api/v1/devices/dev-1/command", body)

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			var apiErr Error
			decodeBody(t, resp, &apiErr)
			if apiErr.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", apiErr.Code, tt.wantCode)
			}
		})
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	mb := &mockBridge{}
	_, ts := newTestServer(t, mb, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"

	//nolint:bodyclose // Dial fails before a usable response body exists
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("Dial without token expected to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("handshake status = %v, want 401", resp)
	}
}

func TestWebSocketStateBroadcast(t *testing.T) {
	mb := &mockBridge{}
	s, ts := newTestServer(t, mb, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?token=" + testToken

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()

	// Subscribe to state changes
	sub := WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelStateChanged}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("ReadJSON(ack) error = %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "sub-1" {
		t.Fatalf("ack = %+v", ack)
	}

	// A published state change reaches the subscriber
	payload := []byte(`{"device_id":"dev-1","entity":"climate","state":{"mode":"heat"}}`)
	s.broadcastStateChange("dev-1", "climate", payload)

	//nolint:errcheck // Deadline best-effort; ReadJSON surfaces timeouts
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var event WSMessage
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("ReadJSON(event) error = %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != ChannelStateChanged {
		t.Errorf("event = %+v", event)
	}

	inner, ok := event.Payload.(map[string]any)
	if !ok {
		t.Fatalf("Payload type = %T", event.Payload)
	}
	if inner["device_id"] != "dev-1" {
		t.Errorf("payload device_id = %v, want dev-1", inner["device_id"])
	}
}

func TestWebSocketPing(t *testing.T) {
	mb := &mockBridge{}
	_, ts := newTestServer(t, mb, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?token=" + testToken

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "ping-1"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	var pong WSMessage
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if pong.Type != WSTypePong || pong.ID != "ping-1" {
		t.Errorf("pong = %+v", pong)
	}
}
