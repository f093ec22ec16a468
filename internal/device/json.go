package device

import (
	"encoding/json"
	"sort"
)

// sensorEntry flattens a SensorKey/Reading pair for JSON output, since Go
// maps with struct keys cannot be marshalled directly.
type sensorEntry struct {
	Source string `json:"src"`
	ID     string `json:"sensor"`
	Reading
}

// MarshalJSON renders the record with its sensors as a flat array, sorted
// by (src, sensor) so the output is stable across marshals.
func (r Record) MarshalJSON() ([]byte, error) {
	type alias Record

	sensors := make([]sensorEntry, 0, len(r.Sensors))
	for k, v := range r.Sensors {
		sensors = append(sensors, sensorEntry{Source: k.Source, ID: k.ID, Reading: v})
	}
	sort.Slice(sensors, func(i, j int) bool {
		if sensors[i].Source != sensors[j].Source {
			return sensors[i].Source < sensors[j].Source
		}
		return sensors[i].ID < sensors[j].ID
	})

	return json.Marshal(struct {
		alias
		Sensors []sensorEntry `json:"sensors,omitempty"`
	}{
		alias:   alias(r),
		Sensors: sensors,
	})
}

// UnmarshalJSON rebuilds the sensor map from the flat array form.
func (r *Record) UnmarshalJSON(data []byte) error {
	type alias Record

	var aux struct {
		alias
		Sensors []sensorEntry `json:"sensors"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*r = Record(aux.alias)
	if len(aux.Sensors) > 0 {
		r.Sensors = make(map[SensorKey]Reading, len(aux.Sensors))
		for _, s := range aux.Sensors {
			r.Sensors[SensorKey{Source: s.Source, ID: s.ID}] = s.Reading
		}
	}
	return nil
}
