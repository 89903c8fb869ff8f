package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// ThermostatSample is one poll's worth of telemetry for a single
// thermostat, ready for time-series storage.
//
// Pointer fields are omitted from the written point when nil, so a
// thermostat without a humidity sensor never records a zero reading.
type ThermostatSample struct {
	DeviceID string
	Serial   string

	// Mode is the operating mode (off, heat, cool, heat-cool) and Action
	// what the equipment is doing (heating, cooling, fan, idle). Both are
	// written as tags for cheap filtering.
	Mode   string
	Action string

	CurrentTemperature *float64
	TargetTemperature  *float64
	TargetLow          *float64
	TargetHigh         *float64
	Humidity           *float64

	Away bool
}

// WriteThermostatSample records a thermostat's state in the "thermostat"
// measurement.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Call once per device per poll cycle.
func (c *Client) WriteThermostatSample(sample ThermostatSample) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"away": sample.Away,
	}
	if sample.CurrentTemperature != nil {
		fields["current_temperature"] = *sample.CurrentTemperature
	}
	if sample.TargetTemperature != nil {
		fields["target_temperature"] = *sample.TargetTemperature
	}
	if sample.TargetLow != nil {
		fields["target_temperature_low"] = *sample.TargetLow
	}
	if sample.TargetHigh != nil {
		fields["target_temperature_high"] = *sample.TargetHigh
	}
	if sample.Humidity != nil {
		fields["humidity"] = *sample.Humidity
	}

	point := write.NewPoint(
		"thermostat",
		map[string]string{
			"device_id": sample.DeviceID,
			"serial":    sample.Serial,
			"mode":      sample.Mode,
			"action":    sample.Action,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePollStats records the outcome of one poll cycle in the
// "bridge_poll" measurement.
//
// Parameters:
//   - duration: Wall-clock time the full cycle took
//   - deviceCount: Number of devices polled
//   - errorCount: Number of devices whose poll failed
//   - rateRemaining: Vendor rate-limit budget after the cycle, or -1 if
//     no response has carried the header yet (skipped when negative)
func (c *Client) WritePollStats(duration time.Duration, deviceCount, errorCount, rateRemaining int) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"duration_ms":  float64(duration.Milliseconds()),
		"device_count": deviceCount,
		"error_count":  errorCount,
	}
	if rateRemaining >= 0 {
		fields["rate_limit_remaining"] = rateRemaining
	}

	point := write.NewPoint("bridge_poll", nil, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "bridge-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
