package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-nle/internal/bridge"
	"github.com/nerrad567/gray-logic-nle/internal/nle"
)

// DeviceResponse is the API representation of one thermostat.
type DeviceResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Serial    string         `json:"serial"`
	Available bool           `json:"available"`
	LastSeen  *time.Time     `json:"last_seen,omitempty"`
	Entities  map[string]any `json:"entities,omitempty"`
}

// deviceResponse converts a bridge snapshot to the API shape.
func deviceResponse(snap bridge.DeviceSnapshot) DeviceResponse {
	resp := DeviceResponse{
		ID:        snap.Device.ID,
		Name:      snap.Device.DisplayName(),
		Serial:    snap.Device.Serial,
		Available: snap.Available,
	}
	if !snap.LastSeen.IsZero() {
		lastSeen := snap.LastSeen
		resp.LastSeen = &lastSeen
	}
	if snap.Status != nil {
		resp.Entities = bridge.EntityStates(snap.Status)
	}
	return resp
}

// handleListDevices returns all known thermostats with their last polled
// entity states.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	snapshots := s.bridge.Devices()

	devices := make([]DeviceResponse, 0, len(snapshots))
	for _, snap := range snapshots {
		devices = append(devices, deviceResponse(snap))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one thermostat by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, ok := s.bridge.Device(id)
	if !ok {
		writeNotFound(w, "device not found: "+id)
		return
	}

	writeJSON(w, http.StatusOK, deviceResponse(snap))
}

// handleDeviceHistory returns recent recorded state changes for a device.
//
// Query parameters:
//   - entity: optional entity filter (climate, sensors, binary_sensors, away)
//   - limit: maximum entries (default 50, max 200)
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "state history is not enabled")
		return
	}

	id := chi.URLParam(r, "id")
	if _, ok := s.bridge.Device(id); !ok {
		writeNotFound(w, "device not found: "+id)
		return
	}

	entity := r.URL.Query().Get("entity")
	if entity != "" && !validEntity(entity) {
		writeBadRequest(w, "unknown entity: "+entity)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	entries, err := s.history.Query(r.Context(), id, entity, limit)
	if err != nil {
		s.logger.Error("history query failed", "device_id", id, "error", err)
		writeInternalError(w, "history query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"entries":   entries,
		"count":     len(entries),
	})
}

// CommandRequest is the body of POST /api/v1/devices/{id}/command.
// It mirrors the MQTT command payload minus the envelope fields the
// server fills in itself.
type CommandRequest struct {
	Type        string   `json:"type"`
	Temperature *float64 `json:"temperature,omitempty"`
	Low         *float64 `json:"low,omitempty"`
	High        *float64 `json:"high,omitempty"`
	Mode        string   `json:"mode,omitempty"`
	FanMode     string   `json:"fan_mode,omitempty"`
	FanDuration *int     `json:"fan_duration,omitempty"`
	Away        *bool    `json:"away,omitempty"`
	Preset      string   `json:"preset,omitempty"`
}

// handleDeviceCommand executes a thermostat command through the bridge.
//
// The command goes through the same validation and vendor write path as
// MQTT commands; only the transport differs.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.Type == "" {
		writeBadRequest(w, "type is required")
		return
	}

	cmd := bridge.CommandMessage{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Type:        req.Type,
		Temperature: req.Temperature,
		Low:         req.Low,
		High:        req.High,
		Mode:        req.Mode,
		FanMode:     req.FanMode,
		FanDuration: req.FanDuration,
		Away:        req.Away,
		Preset:      req.Preset,
		Source:      "api",
	}

	if err := s.bridge.Execute(r.Context(), id, cmd); err != nil {
		s.writeCommandError(w, id, cmd.ID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"command_id": cmd.ID,
		"device_id":  id,
		"status":     "accepted",
	})
}

// writeCommandError maps command execution errors to HTTP responses.
func (s *Server) writeCommandError(w http.ResponseWriter, deviceID, commandID string, err error) {
	switch {
	case errors.Is(err, bridge.ErrUnknownDevice):
		writeNotFound(w, "device not found: "+deviceID)
	case errors.Is(err, bridge.ErrInvalidCommand), errors.Is(err, bridge.ErrInvalidParameters):
		writeBadRequest(w, err.Error())
	case errors.Is(err, nle.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "vendor rate limit exceeded, retry later")
	case errors.Is(err, nle.ErrAuthentication):
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, "vendor rejected the bridge API key")
	case errors.Is(err, nle.ErrConnectivity):
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, "vendor API unreachable")
	default:
		s.logger.Error("command failed", "device_id", deviceID, "command_id", commandID, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, "vendor error: "+err.Error())
	}
}

// validEntity reports whether the name is a published entity.
func validEntity(name string) bool {
	for _, entity := range bridge.EntityNames {
		if entity == name {
			return true
		}
	}
	return false
}
