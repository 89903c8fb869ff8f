// Package bridge implements the NLE thermostat bridge: a poll loop over
// the No Longer Evil cloud API with an MQTT surface for Gray Logic Core.
//
// # Features
//
//   - Periodic polling at the configured scan interval, one loop for the
//     whole account, snapshot replaced atomically per cycle
//   - Stateless entity adapters mapping a polled status to climate,
//     sensors, binary_sensors and away payloads
//   - Retained state publishing with change detection (identical polls
//     publish nothing)
//   - Per-device availability and account-level discovery announcements
//   - Command handling from MQTT and REST, acked on the ack topic
//   - Health reporting with poll statistics and vendor rate-limit budget
//
// # Failure behaviour
//
// A failed device poll retains the last published state and flips only
// that device's availability to offline; the loop never stops. Rate-limit
// and connectivity errors are retried on the next tick with no extra
// back-off, since the scan interval already bounds request volume. An
// authentication failure marks the whole bridge unhealthy, because every
// subsequent request will fail the same way until the key is fixed.
//
// # Usage
//
//	b, err := bridge.New(bridge.Options{
//	    Config:     cfg,
//	    Vendor:     nleClient,
//	    MQTTClient: mqttClient,
//	    Version:    version,
//	    Logger:     logger,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := b.Start(ctx); err != nil {
//	    return err
//	}
//	defer b.Stop()
package bridge
