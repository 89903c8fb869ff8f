// Package mqtt provides MQTT connectivity for the NLE bridge.
//
// This package manages:
//   - Connection to the Gray Logic Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) on the bridge health topic
//   - Connection health monitoring
//
// # Architecture
//
// Gray Logic uses MQTT as the message bus connecting the Core to protocol
// bridges. This bridge publishes thermostat state under the "nle" protocol
// segment and consumes commands addressed to it:
//
//	Gray Logic Core ↔ MQTT Broker ↔ NLE Bridge ↔ NLE Cloud API
//
// Topic layout (flat bridge scheme):
//
//	graylogic/state/nle/{device}/{entity}   retained entity state
//	graylogic/availability/nle/{device}     retained online/offline
//	graylogic/command/nle/{device}          commands from Core
//	graylogic/ack/nle/{device}              command acknowledgements
//	graylogic/health/nle                    retained bridge health + LWT
//	graylogic/discovery/nle                 entity announcements
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Consume commands for every thermostat
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        deviceID, _ := mqtt.Topics{}.DeviceFromCommandTopic(topic)
//	        return dispatch(deviceID, payload)
//	    })
//
//	// Publish retained entity state
//	topic := mqtt.Topics{}.State("dev-1", "climate")
//	client.PublishRetained(topic, stateJSON)
package mqtt
