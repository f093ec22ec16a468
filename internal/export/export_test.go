package export

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/zadoli/thermosync/internal/cloud"
	"github.com/zadoli/thermosync/internal/device"
	"github.com/zadoli/thermosync/internal/infrastructure/mqtt"
)

const steadyEvent = `{"serial_number":"TH-A","online":true,` +
	`"readings":[{"sensor":0,"src":"WIRED","type":"TEMPERATURE","name":"Room","reading":21.5},` +
	`{"sensor":1,"src":"RF","type":"HUMIDITY","reading":"N/A"}],` +
	`"relays":[{"relay":1,"relay_state":"ON","function":"HEATING","mode":"MANUAL","manual_set_point":22.5}]}`

func testStoreAndMerger() (*device.Store, *device.Merger) {
	store := device.NewStore([]device.Metadata{
		{Serial: "TH-A", APIID: 101, Type: "b300"},
	})
	return store, device.NewMerger(store)
}

// fakeBroker captures publishes in order.
type fakeBroker struct {
	mu       sync.Mutex
	messages map[string]string
	subs     []string
	pubErr   error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{messages: make(map[string]string)}
}

func (b *fakeBroker) Publish(topic string, payload []byte, _ byte, _ bool) error {
	return b.record(topic, payload)
}

func (b *fakeBroker) PublishRetained(topic string, payload []byte) error {
	return b.record(topic, payload)
}

func (b *fakeBroker) record(topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubErr != nil {
		return b.pubErr
	}
	b.messages[topic] = string(payload)
	return nil
}

func (b *fakeBroker) Subscribe(topic string, _ byte, _ mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, topic)
	return nil
}

func (b *fakeBroker) get(topic string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.messages[topic]
	return v, ok
}

func TestStatePublisherMirrorsMerges(t *testing.T) {
	store, merger := testStoreAndMerger()
	broker := newFakeBroker()

	p := NewStatePublisher(broker, store, nil, 1)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	if serial := merger.HandleEvent(json.RawMessage(steadyEvent)); serial != "TH-A" {
		t.Fatalf("HandleEvent = %q, want TH-A", serial)
	}

	state, ok := broker.get("thermosync/state/TH-A")
	if !ok {
		t.Fatal("state topic not published")
	}
	var rec device.Record
	if err := json.Unmarshal([]byte(state), &rec); err != nil {
		t.Fatalf("state payload not valid JSON: %v", err)
	}
	if rec.Serial != "TH-A" || !rec.Online {
		t.Errorf("published record = %+v", rec)
	}

	if avail, _ := broker.get("thermosync/availability/TH-A"); avail != "online" {
		t.Errorf("availability = %q, want online", avail)
	}

	if reading, ok := broker.get("thermosync/reading/TH-A/wired/0"); !ok || reading != "21.5" {
		t.Errorf("reading topic = %q, want 21.5", reading)
	}

	// The humidity sensor reported "N/A": its topic must not exist.
	if _, ok := broker.get("thermosync/reading/TH-A/rf/1"); ok {
		t.Error("absent reading must not be published")
	}
}

func TestStatePublisherSeedsExistingState(t *testing.T) {
	store, merger := testStoreAndMerger()
	merger.HandleEvent(json.RawMessage(steadyEvent))

	broker := newFakeBroker()
	p := NewStatePublisher(broker, store, nil, 1)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	if _, ok := broker.get("thermosync/state/TH-A"); !ok {
		t.Error("existing state should be seeded on Start")
	}
}

func TestStatePublisherStopsPublishing(t *testing.T) {
	store, merger := testStoreAndMerger()
	broker := newFakeBroker()

	p := NewStatePublisher(broker, store, nil, 1)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.Stop()

	merger.HandleEvent(json.RawMessage(steadyEvent))
	if _, ok := broker.get("thermosync/state/TH-A"); ok {
		t.Error("no publishes expected after Stop")
	}
}

// fakeCommander records dispatched commands.
type fakeCommander struct {
	mu      sync.Mutex
	serials []string
	cmds    []cloud.Command
	err     error
}

func (c *fakeCommander) SendCommand(_ context.Context, serial string, cmd cloud.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.serials = append(c.serials, serial)
	c.cmds = append(c.cmds, cmd)
	return nil
}

func TestCommandIntake(t *testing.T) {
	store, _ := testStoreAndMerger()
	broker := newFakeBroker()
	commander := &fakeCommander{}

	p := NewStatePublisher(broker, store, commander, 1)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	if len(broker.subs) != 1 || broker.subs[0] != "thermosync/cmd/+" {
		t.Fatalf("subscriptions = %v, want [thermosync/cmd/+]", broker.subs)
	}

	err := p.handleCommand("thermosync/cmd/TH-A", []byte(`{"relay":2,"target_temperature":22.5}`))
	if err != nil {
		t.Fatalf("handleCommand: %v", err)
	}

	if len(commander.cmds) != 1 {
		t.Fatalf("dispatched %d commands, want 1", len(commander.cmds))
	}
	cmd := commander.cmds[0]
	if commander.serials[0] != "TH-A" || cmd.Relay != 2 {
		t.Errorf("dispatched %q relay %d", commander.serials[0], cmd.Relay)
	}
	if cmd.SetPoint == nil || *cmd.SetPoint != 22.5 {
		t.Errorf("SetPoint = %v, want 22.5", cmd.SetPoint)
	}
}

func TestCommandIntakeRejectsBadInput(t *testing.T) {
	store, _ := testStoreAndMerger()
	commander := &fakeCommander{}
	p := NewStatePublisher(newFakeBroker(), store, commander, 1)

	if err := p.handleCommand("thermosync/state/TH-A", []byte(`{}`)); err == nil {
		t.Error("non-command topic must be rejected")
	}
	if err := p.handleCommand("thermosync/cmd/TH-A", []byte(`not json`)); err == nil {
		t.Error("malformed payload must be rejected")
	}

	commander.err = errors.New("cloud says no")
	err := p.handleCommand("thermosync/cmd/TH-A", []byte(`{"mode":"manual"}`))
	if err == nil || !strings.Contains(err.Error(), "cloud says no") {
		t.Errorf("dispatch error not propagated: %v", err)
	}
}

// fakeWriter records time-series writes.
type fakeWriter struct {
	mu       sync.Mutex
	readings []string // "serial/source/sensor/type=value"
	relays   []string // "serial/relay=state"
}

func (w *fakeWriter) WriteReading(serial, source, sensorID, sensorType string, value float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.readings = append(w.readings,
		serial+"/"+source+"/"+sensorID+"/"+sensorType+"="+
			strconv.FormatFloat(value, 'f', -1, 64))
}

func (w *fakeWriter) WriteRelayState(serial string, relay int, on bool, _ *float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	state := "off"
	if on {
		state = "on"
	}
	w.relays = append(w.relays, serial+"/"+state)
}

func (w *fakeWriter) WriteStreamStats(_, _, _, _, _, _ uint64, _ bool) {}

func TestRecorderWritesPresentValuesOnly(t *testing.T) {
	store, merger := testStoreAndMerger()
	writer := &fakeWriter{}

	r := NewRecorder(writer, store, nil)
	r.Start()
	defer r.Stop()

	merger.HandleEvent(json.RawMessage(steadyEvent))

	writer.mu.Lock()
	defer writer.mu.Unlock()

	if len(writer.readings) != 1 {
		t.Fatalf("readings = %v, want exactly the temperature point", writer.readings)
	}
	if writer.readings[0] != "TH-A/wired/0/TEMPERATURE=21.5" {
		t.Errorf("reading = %q", writer.readings[0])
	}
	if len(writer.relays) != 1 || writer.relays[0] != "TH-A/on" {
		t.Errorf("relays = %v", writer.relays)
	}
}
