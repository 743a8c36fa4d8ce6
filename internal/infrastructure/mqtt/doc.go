// Package mqtt provides the MQTT link between the access service and the
// door controller.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - JSON publishing, with door/config/* topics retained
//   - Topic subscriptions restored after every reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
//	Door controller ↔ MQTT Broker ↔ Gray Logic Access
//
// Inbound topics (door/access, door/rfid/check, home/sensor/+, ...) are
// handed to the dispatcher. Outbound results, commands and configuration
// pushes go through Client.PublishJSON.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Whitelist pushes carry UID digests only, never raw UIDs
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.SubscribeAll(mqtt.Topics{}.Inbound(), handler)
//	client.PublishJSON(ctx, mqtt.Topics{}.Command(), cmd)
package mqtt
