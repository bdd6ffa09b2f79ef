// Package influxdb writes sensor telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes, and health checks.
//
// # Measurements
//
//   - sensor_readings: one point per connected reading whose value parses
//     as a number, tagged by sensor_id and unit, with a float "value" field.
//   - socket_phase: one point per connection phase change of the upstream
//     feed, tagged by endpoint and phase, with an "attempt" field.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSensorReading(rec, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use. Write errors are delivered
// asynchronously to the callback set with SetOnError.
package influxdb
