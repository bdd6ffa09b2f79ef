// Package mqtt provides MQTT client connectivity for sensorlink.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Retained publishing of sensor records and system status
//   - The command bridge subscription (sensorlink/command/+)
//   - Last Will and Testament (LWT) for offline detection
//   - A circuit breaker in front of publishes (GuardedPublisher)
//
// # Topics
//
//	sensorlink/state/{id}       retained sensor record (JSON)
//	sensorlink/command/{id}     {"command":"connect"} or {"command":"disconnect"}
//	sensorlink/system/status    retained online/offline status
//	sensorlink/system/socket    retained upstream socket phase
//
// # Security Considerations
//
//   - TLS should be enabled for any broker outside localhost (cfg.Broker.TLS=true)
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	pub := mqtt.NewGuardedPublisher(client, byte(cfg.MQTT.QoS), cfg.MQTT.Breaker, logger)
//	_ = pub.PublishJSON(mqtt.Topics{}.SensorState(rec.ID), rec)
package mqtt
