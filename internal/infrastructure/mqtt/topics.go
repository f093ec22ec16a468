package mqtt

import "fmt"

// Topic prefixes. All topics use the flat scheme
// thermosync/{category}/{serial}[/{detail}].
const (
	// TopicPrefix is the base for all topics published by this service.
	TopicPrefix = "thermosync"

	// TopicPrefixSystem is the base for service-level topics.
	TopicPrefixSystem = "thermosync/system"
)

// Topics provides builders for the MQTT topic hierarchy.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("TH123456")
//	// Returns: "thermosync/state/TH123456"
type Topics struct{}

// DeviceState returns the retained topic carrying one device's full merged
// record as JSON.
//
// Example: thermosync/state/TH123456
func (Topics) DeviceState(serial string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, serial)
}

// DeviceReading returns the topic for one sensor's scalar value, for
// consumers that want plain numbers instead of the full record.
//
// Example: thermosync/reading/TH123456/wired/0
func (Topics) DeviceReading(serial, source, sensorID string) string {
	return fmt.Sprintf("%s/reading/%s/%s/%s", TopicPrefix, serial, source, sensorID)
}

// DeviceAvailability returns the per-device online/offline topic.
//
// Example: thermosync/availability/TH123456
func (Topics) DeviceAvailability(serial string) string {
	return fmt.Sprintf("%s/availability/%s", TopicPrefix, serial)
}

// DeviceCommand returns the command intake topic for one device.
//
// Example: thermosync/cmd/TH123456
func (Topics) DeviceCommand(serial string) string {
	return fmt.Sprintf("%s/cmd/%s", TopicPrefix, serial)
}

// SystemStatus returns the service status topic, also used as the LWT
// target.
//
// Example: thermosync/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceCommands returns a pattern matching every device command topic.
//
// Pattern: thermosync/cmd/+
func (Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/cmd/+", TopicPrefix)
}

// AllDeviceStates returns a pattern matching every device state topic.
//
// Pattern: thermosync/state/+
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/state/+", TopicPrefix)
}

// CommandSerial extracts the serial from a device command topic. It
// returns "" when the topic is not a command topic.
func (Topics) CommandSerial(topic string) string {
	prefix := TopicPrefix + "/cmd/"
	if len(topic) <= len(prefix) || topic[:len(prefix)] != prefix {
		return ""
	}
	serial := topic[len(prefix):]
	for i := 0; i < len(serial); i++ {
		if serial[i] == '/' {
			return ""
		}
	}
	return serial
}
