package influxdb

import (
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/leonorpan/iot-fe/internal/sensor"
)

// Measurement names written by this package.
const (
	MeasurementSensorReadings = "sensor_readings"
	MeasurementSocketPhase    = "socket_phase"
)

// NumericValue parses a reading value as a float.
// It returns false for a nil, empty, or non-numeric value.
func NumericValue(value *string) (float64, bool) {
	if value == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(*value), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// WriteSensorReading records a connected sensor's numeric reading.
//
// Disconnected sensors and values that do not parse as a float are
// skipped. The write is non-blocking; the return value reports whether a
// point was queued.
//
// Example:
//
//	client.WriteSensorReading(rec, time.Now()) // sensor_readings,sensor_id=s1,unit=°C value=23.5
func (c *Client) WriteSensorReading(rec sensor.Record, at time.Time) bool {
	if !c.IsConnected() || !rec.Connected {
		return false
	}
	value, ok := NumericValue(rec.Value)
	if !ok {
		return false
	}

	tags := map[string]string{"sensor_id": rec.ID}
	if rec.Unit != nil && *rec.Unit != "" {
		tags["unit"] = *rec.Unit
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementSensorReadings,
		tags,
		map[string]interface{}{"value": value},
		at,
	))
	return true
}

// WriteSocketPhase records a connection phase change of the upstream feed.
func (c *Client) WriteSocketPhase(endpoint, phase string, attempt int, at time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementSocketPhase,
		map[string]string{
			"endpoint": endpoint,
			"phase":    phase,
		},
		map[string]interface{}{"attempt": attempt},
		at,
	))
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
