package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for sensorlink.
//
// Sensor topics use the flat scheme: sensorlink/{category}/{sensor_id}
const (
	// TopicPrefix is the base of every sensorlink topic.
	TopicPrefix = "sensorlink"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "sensorlink/system"
)

// Topics provides builders for sensorlink MQTT topics.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.SensorState("sensor-123")
//	// Returns: "sensorlink/state/sensor-123"
type Topics struct{}

// SensorState returns the retained topic mirroring one sensor record.
//
// Example: sensorlink/state/sensor-123
func (Topics) SensorState(sensorID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, sensorID)
}

// SensorCommand returns the topic on which connect/disconnect commands for a
// sensor are accepted.
//
// Example: sensorlink/command/sensor-123
func (Topics) SensorCommand(sensorID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, sensorID)
}

// AllSensorStates returns a wildcard matching every sensor state topic.
func (Topics) AllSensorStates() string {
	return TopicPrefix + "/state/+"
}

// AllSensorCommands returns a wildcard matching every sensor command topic.
func (Topics) AllSensorCommands() string {
	return TopicPrefix + "/command/+"
}

// SystemStatus returns the retained online/offline status topic.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// SocketStatus returns the retained topic carrying the upstream socket phase.
func (Topics) SocketStatus() string {
	return TopicPrefixSystem + "/socket"
}

// SensorIDFromTopic extracts the sensor ID from a state or command topic.
// Returns false if the topic does not have the expected shape.
func SensorIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != TopicPrefix {
		return "", false
	}
	if parts[1] != "state" && parts[1] != "command" {
		return "", false
	}
	if parts[2] == "" || parts[2] == "+" || parts[2] == "#" {
		return "", false
	}
	return parts[2], true
}
