// Package dashboard wires the sensor feed to the sensor store and to every
// downstream consumer.
//
// A Service owns one sensor.Store and one socket.Manager[sensor.Record].
// Decoded frames are upserted into the store; each change the store
// reports is fanned out, in order, to the configured sinks:
//
//   - MQTT mirror: retained sensorlink/state/{id} and sensorlink/system/socket
//   - InfluxDB: numeric readings and phase changes
//   - History journal: one row per applied upsert
//   - Broadcaster: a "view" event for WebSocket clients
//   - Metrics: store gauges and upsert counters
//
// Every sink is optional. Sinks run on a single fan-out goroutine so a slow
// broker or disk never stalls the socket event loop. When the fan-out queue
// is full the job is dropped with a warning.
//
// Commands reach the sensor server through Toggle, SendCommand, or the MQTT
// topic sensorlink/command/{id}.
//
// Thread Safety:
//   - All Service methods are safe for concurrent use.
//   - Start and Stop must not be called from a sink or callback.
package dashboard
