package device

import "time"

// Operation modes reported by the relay.
const (
	ModeSchedule = "schedule"
	ModeManual   = "manual"
	ModeOff      = "off"
)

// Relay functions.
const (
	FunctionHeating = "heating"
	FunctionCooling = "cooling"
)

// Sensor reading types on the wire.
const (
	ReadingTemperature       = "TEMPERATURE"
	ReadingHumidity          = "HUMIDITY"
	ReadingTargetTemperature = "TARGET_TEMPERATURE"
)

// Discovered tracks how a device's record came to exist.
type Discovered int

const (
	// NotDiscovered means no base_info has arrived yet.
	NotDiscovered Discovered = iota
	// DiscoveredLive means a base_info event populated the record.
	DiscoveredLive
	// DiscoveredViaSynthesis means the discovery budget ran out and the
	// record was built from cloud metadata instead.
	DiscoveredViaSynthesis
)

// String returns a human-readable discovery state.
func (d Discovered) String() string {
	switch d {
	case DiscoveredLive:
		return "live"
	case DiscoveredViaSynthesis:
		return "synthesized"
	default:
		return "pending"
	}
}

// Metadata is the static device description from the cloud listing.
// It seeds the set of serials the stream is allowed to create records for.
type Metadata struct {
	Serial          string `json:"serial_number"`
	APIID           int    `json:"id"` // cloud id used for REST commands
	Brand           string `json:"brand"`
	Type            string `json:"type"`
	FirmwareVersion string `json:"fw_ver"`
	DeviceIP        string `json:"device_ip"`
	DeviceType      string `json:"device_type"`
	AccessStatus    string `json:"access_status"`
}

// SensorKey identifies one sensor within a device. The same sensor id can
// appear under different sources (wired vs radio), so the key is composite.
type SensorKey struct {
	Source string `json:"src"`
	ID     string `json:"sensor"`
}

// Reading is the last known state of one sensor.
type Reading struct {
	// Value is nil when the sensor has not reported or reported "N/A".
	Value     *float64 `json:"value,omitempty"`
	Battery   string   `json:"battery,omitempty"`
	RSSI      string   `json:"rssi,omitempty"`
	RSSILevel string   `json:"rssi_level,omitempty"`
	Name      string   `json:"name,omitempty"`
	Type      string   `json:"type,omitempty"`
}

// Relay is the last known state of one relay channel.
type Relay struct {
	Number int  `json:"relay"`
	State  bool `json:"relay_state"`
	// Function and Mode are last-known-value fields: updates that omit them
	// never clear them.
	Function string `json:"function,omitempty"`
	Mode     string `json:"mode,omitempty"`
	// TargetTemperature is nil when the setpoint is unknown or "N/A".
	TargetTemperature *float64 `json:"target_temperature,omitempty"`
}

// Record is the canonical merged state of one device. Records are created
// lazily on the first event referencing a configured serial and are only
// mutated by the merge path.
type Record struct {
	Serial          string `json:"serial_number"`
	APIID           int    `json:"id"`
	Brand           string `json:"brand,omitempty"`
	Type            string `json:"type,omitempty"`
	FirmwareVersion string `json:"fw_ver,omitempty"`
	DeviceType      string `json:"device_type,omitempty"`

	Online  bool                  `json:"online"`
	Relays  map[int]Relay         `json:"relays,omitempty"`
	Sensors map[SensorKey]Reading `json:"-"`

	// Controlling names the sensor whose value drives CurrentTemperature.
	Controlling        SensorKey  `json:"controlling,omitempty"`
	CurrentTemperature *float64   `json:"current_temperature,omitempty"`
	Discovered         Discovered `json:"discovered"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// DeepCopy returns an independent copy of the record. Map fields are cloned
// and float pointers reallocated so cached state cannot be mutated through
// a returned copy.
func (r *Record) DeepCopy() *Record {
	if r == nil {
		return nil
	}

	cpy := *r

	if r.Relays != nil {
		cpy.Relays = make(map[int]Relay, len(r.Relays))
		for k, v := range r.Relays {
			v.TargetTemperature = copyFloat(v.TargetTemperature)
			cpy.Relays[k] = v
		}
	}

	if r.Sensors != nil {
		cpy.Sensors = make(map[SensorKey]Reading, len(r.Sensors))
		for k, v := range r.Sensors {
			v.Value = copyFloat(v.Value)
			cpy.Sensors[k] = v
		}
	}

	cpy.CurrentTemperature = copyFloat(r.CurrentTemperature)

	return &cpy
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
