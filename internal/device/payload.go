package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoSerial is returned when an event payload carries no device serial.
var ErrNoSerial = errors.New("device: payload missing serial number")

// OptFloat distinguishes three wire states for a numeric field: absent,
// present with a value, and present as the "N/A" sentinel. The sentinel
// maps to a nil value, never to zero.
type OptFloat struct {
	Set   bool
	Value *float64
}

// UnmarshalJSON accepts a JSON number, the string "N/A", null, or a numeric
// string. Anything else is treated as unknown (present, nil value).
func (o *OptFloat) UnmarshalJSON(data []byte) error {
	o.Set = true
	o.Value = nil

	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}

	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return nil
		}
		if str == "N/A" {
			return nil
		}
		if v, err := strconv.ParseFloat(str, 64); err == nil {
			o.Value = &v
		}
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	o.Value = &v
	return nil
}

// FlexString accepts either a JSON string or a number and normalizes it to
// a string. Diagnostic fields like battery and rssi arrive in both shapes.
type FlexString string

// UnmarshalJSON implements flexible string decoding.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*f = FlexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*f = FlexString(num.String())
	return nil
}

// ReadingPayload is one entry of a "readings" array on the wire.
type ReadingPayload struct {
	ID        json.Number `json:"id"`
	Sensor    json.Number `json:"sensor"`
	Source    *string     `json:"src"`
	Type      string      `json:"type"`
	Name      string      `json:"name"`
	Reading   OptFloat    `json:"reading"`
	Battery   FlexString  `json:"battery"`
	RSSI      FlexString  `json:"rssi"`
	RSSILevel *string     `json:"rssi_level"`
}

// Key derives the composite registry key for this reading.
func (p *ReadingPayload) Key() SensorKey {
	src := ""
	if p.Source != nil {
		src = strings.ToLower(*p.Source)
	}
	return SensorKey{Source: src, ID: p.Sensor.String()}
}

// RelayPayload is one entry of a "relays" array on the wire. Function and
// mode are pointers so an omitted field can be told apart from a present
// one; omitted fields preserve the previous value.
type RelayPayload struct {
	Relay             int      `json:"relay"`
	RelayState        *string  `json:"relay_state"`
	Function          *string  `json:"function"`
	Mode              *string  `json:"mode"`
	ManualSetPoint    OptFloat `json:"manual_set_point"`
	ScheduledSetPoint OptFloat `json:"scheduled_set_point"`
}

// baseInfo is the nested identity object of a discovery payload.
type baseInfo struct {
	Serial string `json:"serial_number"`
}

// eventEnvelope is the raw shape shared by discovery and steady-state
// event payloads.
type eventEnvelope struct {
	Serial   string           `json:"serial_number"`
	Online   bool             `json:"online"`
	BaseInfo *baseInfo        `json:"base_info"`
	Readings []ReadingPayload `json:"readings"`
	Relays   []RelayPayload   `json:"relays"`
}

// UpdateKind discriminates discovery payloads from steady-state ones.
type UpdateKind int

const (
	// UpdateState is a routine partial state update.
	UpdateState UpdateKind = iota
	// UpdateBaseInfo is a discovery payload describing the device's
	// sensor and relay inventory.
	UpdateBaseInfo
)

// Update is a parsed event payload, ready for merging.
type Update struct {
	Kind     UpdateKind
	Serial   string
	Online   bool
	Readings []ReadingPayload
	Relays   []RelayPayload
}

// ParseUpdate decodes one event payload into an Update. Discovery payloads
// carry a base_info object whose serial takes precedence over the top-level
// one.
func ParseUpdate(payload json.RawMessage) (*Update, error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("device: decoding event payload: %w", err)
	}

	u := &Update{
		Kind:     UpdateState,
		Serial:   env.Serial,
		Online:   env.Online,
		Readings: env.Readings,
		Relays:   env.Relays,
	}

	if env.BaseInfo != nil {
		u.Kind = UpdateBaseInfo
		if env.BaseInfo.Serial != "" {
			u.Serial = env.BaseInfo.Serial
		}
	}

	if u.Serial == "" {
		return nil, ErrNoSerial
	}

	return u, nil
}
