package device

import (
	"encoding/json"
	"strings"
	"time"
)

// Merger folds parsed event payloads into the store's canonical records.
//
// Merge rules:
//   - discovery (base_info) payloads register the sensor and relay
//     inventory and mark the record live-discovered
//   - readings update the matching sensor entry and mirror diagnostic
//     attributes onto it
//   - relay entries apply field preservation: an omitted function or mode
//     keeps its previous value
//   - the "N/A" sentinel clears a numeric field to absent, never to zero
//   - current_temperature is recomputed from the controlling sensor after
//     every merge
//
// Frames are merged strictly in arrival order on the stream goroutine;
// the store lock only guards against concurrent readers.
type Merger struct {
	store  *Store
	logger Logger
}

// NewMerger creates a merger bound to a store.
func NewMerger(store *Store) *Merger {
	return &Merger{store: store, logger: noopLogger{}}
}

// SetLogger sets the logger for the merger.
func (m *Merger) SetLogger(logger Logger) {
	m.logger = logger
}

// HandleEvent parses one event payload, merges it, and fires exactly one
// listener notification. Payloads for serials outside the configured set
// are dropped with a warning. It returns the serial that was merged, or ""
// if the payload was dropped.
func (m *Merger) HandleEvent(payload json.RawMessage) string {
	u, err := ParseUpdate(payload)
	if err != nil {
		m.logger.Warn("dropping unparseable event payload", "error", err)
		return ""
	}

	if !m.store.IsKnown(u.Serial) {
		m.logger.Warn("dropping event for unknown device", "serial", u.Serial)
		return ""
	}

	m.Merge(u)
	m.store.Notify([]string{u.Serial})
	return u.Serial
}

// Merge applies one parsed update to its record without notifying
// listeners. The serial must belong to the configured set.
func (m *Merger) Merge(u *Update) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.getOrCreate(u.Serial)
	rec.Online = u.Online

	if u.Kind == UpdateBaseInfo {
		rec.Discovered = DiscoveredLive
	}

	for i := range u.Readings {
		mergeReading(rec, &u.Readings[i])
	}
	for i := range u.Relays {
		mergeRelay(rec, &u.Relays[i])
	}

	recomputeCurrentTemperature(rec)
	rec.UpdatedAt = time.Now()

	m.logger.Debug("merged device update",
		"serial", u.Serial,
		"kind", u.Kind,
		"online", u.Online,
		"readings", len(u.Readings),
		"relays", len(u.Relays))
}

func mergeReading(rec *Record, p *ReadingPayload) {
	key := p.Key()
	reading := rec.Sensors[key]

	if p.Name != "" {
		reading.Name = p.Name
	}
	if p.Type != "" {
		reading.Type = p.Type
	}
	if p.Reading.Set {
		reading.Value = p.Reading.Value
	}
	if p.Battery != "" {
		reading.Battery = string(p.Battery)
	}
	if p.RSSI != "" {
		reading.RSSI = string(p.RSSI)
	}
	if p.RSSILevel != nil {
		reading.RSSILevel = strings.ToLower(*p.RSSILevel)
	}

	rec.Sensors[key] = reading

	// The first temperature sensor seen becomes the controlling sensor.
	if rec.Controlling == (SensorKey{}) && reading.Type == ReadingTemperature {
		rec.Controlling = key
	}
}

func mergeRelay(rec *Record, p *RelayPayload) {
	relay := rec.Relays[p.Relay]
	relay.Number = p.Relay

	if p.RelayState != nil {
		relay.State = *p.RelayState == "ON"
	}
	if p.Function != nil {
		relay.Function = strings.ToLower(*p.Function)
	}
	if p.Mode != nil {
		relay.Mode = strings.ToLower(*p.Mode)
	}

	// Setpoint source follows the relay's current mode: schedule mode takes
	// the scheduled setpoint when the payload carries one, everything else
	// uses the manual setpoint.
	switch {
	case relay.Mode == ModeSchedule && p.ScheduledSetPoint.Set:
		relay.TargetTemperature = p.ScheduledSetPoint.Value
	case p.ManualSetPoint.Set:
		relay.TargetTemperature = p.ManualSetPoint.Value
	}

	rec.Relays[p.Relay] = relay
}

func recomputeCurrentTemperature(rec *Record) {
	if rec.Controlling == (SensorKey{}) {
		rec.CurrentTemperature = nil
		return
	}
	reading, ok := rec.Sensors[rec.Controlling]
	if !ok {
		rec.CurrentTemperature = nil
		return
	}
	rec.CurrentTemperature = copyFloat(reading.Value)
}
