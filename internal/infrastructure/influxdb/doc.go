// Package influxdb provides optional time-series telemetry for the bridge.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched metric writing, and health monitoring.
//
// # Purpose
//
// This package handles time-series data storage for:
//   - Thermostat readings and setpoints per poll cycle
//   - Poll cycle statistics (duration, errors, vendor rate-limit budget)
//
// SQLite remains the source of truth for state history; InfluxDB is an
// optional sink for dashboards and long-term trends. When disabled in
// config, Connect returns ErrDisabled and the bridge runs without it.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "graylogic",
//	    Bucket: "metrics",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteThermostatSample(influxdb.ThermostatSample{
//	    DeviceID: "dev-1",
//	    Mode:     "heat",
//	    Action:   "heating",
//	})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
// This reduces network overhead without slowing the poll loop.
package influxdb
