package device

import (
	"encoding/json"
	"testing"
)

func TestStoreDeepCopyIsolation(t *testing.T) {
	store := testStore()
	m := NewMerger(store)
	merge(t, m, baseInfoPayload)

	rec, _ := store.Get("TH-A")
	*rec.CurrentTemperature = 99
	rec.Relays[1] = Relay{Number: 1, Function: "tampered"}
	rec.Sensors[SensorKey{Source: "wired", ID: "0"}] = Reading{Name: "tampered"}

	fresh, _ := store.Get("TH-A")
	if *fresh.CurrentTemperature == 99 {
		t.Error("mutating a returned copy leaked into the store")
	}
	if fresh.Relays[1].Function == "tampered" {
		t.Error("mutating a returned relay leaked into the store")
	}
	if fresh.Sensors[SensorKey{Source: "wired", ID: "0"}].Name == "tampered" {
		t.Error("mutating a returned sensor leaked into the store")
	}
}

func TestStoreUndiscovered(t *testing.T) {
	store := testStore()
	m := NewMerger(store)

	got := store.Undiscovered()
	if len(got) != 2 {
		t.Fatalf("Undiscovered() = %v, want both serials", got)
	}

	merge(t, m, baseInfoPayload) // discovers TH-A

	got = store.Undiscovered()
	if len(got) != 1 || got[0] != "TH-B" {
		t.Errorf("Undiscovered() = %v, want [TH-B]", got)
	}

	// A steady-state update without base_info does not count as discovery.
	merge(t, m, `{"serial_number": "TH-B", "online": true}`)
	got = store.Undiscovered()
	if len(got) != 1 || got[0] != "TH-B" {
		t.Errorf("Undiscovered() after state update = %v, want [TH-B]", got)
	}
}

func TestStoreSynthesize(t *testing.T) {
	store := testStore()
	m := NewMerger(store)

	// TH-B already has observed readings but no discovery.
	merge(t, m, `{
		"serial_number": "TH-B",
		"online": true,
		"readings": [{"sensor": 0, "src": "WIRED", "type": "TEMPERATURE", "reading": 20}]
	}`)

	if !store.Synthesize("TH-B") {
		t.Fatal("Synthesize(TH-B) = false, want true")
	}

	rec, ok := store.Get("TH-B")
	if !ok {
		t.Fatal("expected synthesized record")
	}
	if rec.Discovered != DiscoveredViaSynthesis {
		t.Errorf("Discovered = %v, want DiscoveredViaSynthesis", rec.Discovered)
	}
	if rec.Serial != "TH-B" || rec.Type != "b400rf" || rec.FirmwareVersion != "1.7" {
		t.Errorf("synthesized record missing metadata: %+v", rec)
	}
	if v := rec.Sensors[SensorKey{Source: "wired", ID: "0"}].Value; v == nil || *v != 20 {
		t.Errorf("synthesized record lost observed reading: %v", v)
	}

	// Already-synthesized and live-discovered devices are left alone.
	if store.Synthesize("TH-B") {
		t.Error("Synthesize must not re-synthesize")
	}
	merge(t, m, baseInfoPayload)
	if store.Synthesize("TH-A") {
		t.Error("Synthesize must not touch a live-discovered device")
	}
	if store.Synthesize("TH-X") {
		t.Error("Synthesize must reject unknown serials")
	}
}

func TestStoreSubscribeUnsubscribe(t *testing.T) {
	store := testStore()

	var a, b int
	idA := store.Subscribe(func([]string) { a++ })
	idB := store.Subscribe(func([]string) { b++ })
	if idA == idB {
		t.Fatal("listener ids must be unique")
	}

	store.Notify([]string{"TH-A"})
	if a != 1 || b != 1 {
		t.Errorf("after notify: a=%d b=%d, want 1/1", a, b)
	}

	store.Unsubscribe(idA)
	store.Notify([]string{"TH-A"})
	if a != 1 || b != 2 {
		t.Errorf("after unsubscribe: a=%d b=%d, want 1/2", a, b)
	}

	// Empty batches do not notify.
	store.Notify(nil)
	if b != 2 {
		t.Errorf("empty notify fired listeners: b=%d", b)
	}

	// Unknown id is a no-op.
	store.Unsubscribe("nope")
}

func TestStoreIgnoresDuplicateAndEmptySerials(t *testing.T) {
	store := NewStore([]Metadata{
		{Serial: "TH-A"},
		{Serial: "TH-A", APIID: 999},
		{Serial: ""},
	})

	serials := store.Serials()
	if len(serials) != 1 || serials[0] != "TH-A" {
		t.Errorf("Serials() = %v, want [TH-A]", serials)
	}
	meta, _ := store.Metadata("TH-A")
	if meta.APIID != 0 {
		t.Error("first metadata entry must win")
	}
}

func TestRecordJSONRoundTrip(t *testing.T) {
	store := testStore()
	m := NewMerger(store)
	merge(t, m, baseInfoPayload)

	rec, _ := store.Get("TH-A")
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Record
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if back.Serial != rec.Serial || back.APIID != rec.APIID {
		t.Errorf("identity lost in round trip: %+v", back)
	}
	if len(back.Sensors) != len(rec.Sensors) {
		t.Errorf("sensors lost in round trip: got %d, want %d", len(back.Sensors), len(rec.Sensors))
	}
	key := SensorKey{Source: "wired", ID: "0"}
	if v := back.Sensors[key].Value; v == nil || *v != 21.5 {
		t.Errorf("sensor value lost in round trip: %v", v)
	}
}

func TestRecordJSONSensorOrderStable(t *testing.T) {
	store := testStore()
	m := NewMerger(store)
	merge(t, m, `{
		"online": true,
		"base_info": {"serial_number": "TH-A"},
		"readings": [
			{"id": 1, "sensor": 2, "src": "WIRED", "type": "TEMPERATURE", "reading": 21.5},
			{"id": 2, "sensor": 0, "src": "WIRED", "type": "TEMPERATURE", "reading": 20.0},
			{"id": 3, "sensor": 10, "src": "RF", "type": "HUMIDITY", "reading": 48},
			{"id": 4, "sensor": 1, "src": "RF", "type": "TEMPERATURE", "reading": 19.0}
		]
	}`)

	rec, _ := store.Get("TH-A")
	first, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := json.Marshal(rec)
		if err != nil {
			t.Fatalf("marshal %d: %v", i, err)
		}
		if string(again) != string(first) {
			t.Fatalf("marshal %d diverged:\nfirst: %s\nagain: %s", i, first, again)
		}
	}

	var out struct {
		Sensors []struct {
			Source string `json:"src"`
			ID     string `json:"sensor"`
		} `json:"sensors"`
	}
	if err := json.Unmarshal(first, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []SensorKey{
		{Source: "rf", ID: "1"},
		{Source: "rf", ID: "10"},
		{Source: "wired", ID: "0"},
		{Source: "wired", ID: "2"},
	}
	if len(out.Sensors) != len(want) {
		t.Fatalf("sensors = %d, want %d", len(out.Sensors), len(want))
	}
	for i, w := range want {
		if out.Sensors[i].Source != w.Source || out.Sensors[i].ID != w.ID {
			t.Errorf("sensors[%d] = %s/%s, want %s/%s",
				i, out.Sensors[i].Source, out.Sensors[i].ID, w.Source, w.ID)
		}
	}
}
