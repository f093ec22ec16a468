// Package mqtt provides the optional MQTT connectivity for state
// republishing and command intake.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Retained state publishing with QoS guarantees
//   - Command topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// The MQTT surface is an integration edge, not the source of truth: the
// in-memory device store is authoritative, and this package only mirrors
// it outward and accepts control requests inward.
//
//	Push feed → Store → MQTT Broker → Home automation consumers
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Mirror one device's merged state, retained.
//	topic := mqtt.Topics{}.DeviceState("TH123456")
//	client.PublishRetained(topic, recordJSON)
//
//	// Accept control requests.
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return dispatch(topic, payload)
//	    })
package mqtt
