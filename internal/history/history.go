package history

import (
	"context"
	"encoding/json"
	"time"
)

// State change source values.
const (
	SourcePoll    = "poll"
	SourceCommand = "command"
	SourceAPI     = "api"
)

// Entry represents a single recorded entity state change.
//
// Each entry stores the entity payload exactly as it was published to
// MQTT, giving a local audit trail that survives broker restarts and
// works without the optional time-series database.
type Entry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// DeviceID is the bridge device identifier.
	DeviceID string `json:"device_id"`

	// Entity is the entity name the state belongs to (climate, sensors,
	// binary_sensors, away).
	Entity string `json:"entity"`

	// State is the entity payload JSON as published.
	State json.RawMessage `json:"state"`

	// Source identifies how the change was recorded (poll, command, api).
	Source string `json:"source"`

	// CreatedAt is the timestamp of the state change (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores and retrieves entity state change history.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	// Append records one entity state change.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Bridge device identifier
	//   - entity: Entity name the state belongs to
	//   - state: Entity payload JSON as published
	//   - source: Origin of the change (poll, command, api)
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	Append(ctx context.Context, deviceID, entity string, state []byte, source string) error

	// Query returns recent state change history, ordered newest first.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Bridge device identifier
	//   - entity: Optional entity filter; empty returns all entities
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []Entry: History entries ordered by created_at DESC (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	Query(ctx context.Context, deviceID, entity string, limit int) ([]Entry, error)

	// Prune deletes entries older than the retention duration.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - olderThan: Retention window (entries older than now-olderThan are deleted)
	//
	// Returns:
	//   - int64: Number of rows deleted
	//   - error: nil on success, otherwise the underlying database error
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
