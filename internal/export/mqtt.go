package export

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/zadoli/thermosync/internal/cloud"
	"github.com/zadoli/thermosync/internal/device"
	"github.com/zadoli/thermosync/internal/infrastructure/mqtt"
)

// commandTimeout bounds one REST command triggered from an MQTT request.
const commandTimeout = 10 * time.Second

// Broker is the MQTT surface the publisher needs. *mqtt.Client satisfies it.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Commander dispatches one control command to a device. The coordinator
// satisfies it.
type Commander interface {
	SendCommand(ctx context.Context, serial string, cmd cloud.Command) error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StatePublisher mirrors merged device records to retained MQTT topics and
// turns messages on the command topics into REST commands.
type StatePublisher struct {
	broker    Broker
	store     *device.Store
	commander Commander
	qos       byte

	subID  string
	logger Logger
}

// NewStatePublisher creates a publisher. commander may be nil to disable
// the command intake.
func NewStatePublisher(broker Broker, store *device.Store, commander Commander, qos byte) *StatePublisher {
	return &StatePublisher{
		broker:    broker,
		store:     store,
		commander: commander,
		qos:       qos,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger. Call before Start.
func (p *StatePublisher) SetLogger(logger Logger) {
	p.logger = logger
}

// Start subscribes to store notifications and, when a commander is
// configured, to the device command topics.
func (p *StatePublisher) Start() error {
	p.subID = p.store.Subscribe(p.publishSerials)

	if p.commander != nil {
		topic := mqtt.Topics{}.AllDeviceCommands()
		if err := p.broker.Subscribe(topic, p.qos, p.handleCommand); err != nil {
			return fmt.Errorf("subscribing to command topics: %w", err)
		}
	}

	// Seed retained topics with whatever state already exists, so a
	// publisher started mid-session does not leave stale topics behind.
	serials := make([]string, 0)
	for serial := range p.store.Snapshot() {
		serials = append(serials, serial)
	}
	if len(serials) > 0 {
		p.publishSerials(serials)
	}
	return nil
}

// Stop detaches from the store. In-flight publishes complete normally.
func (p *StatePublisher) Stop() {
	if p.subID != "" {
		p.store.Unsubscribe(p.subID)
		p.subID = ""
	}
}

// publishSerials mirrors the touched records. Publish failures are logged
// and skipped; the broker's retained topics simply lag until the next
// merge.
func (p *StatePublisher) publishSerials(serials []string) {
	topics := mqtt.Topics{}

	for _, serial := range serials {
		rec, ok := p.store.Get(serial)
		if !ok {
			continue
		}

		payload, err := json.Marshal(rec)
		if err != nil {
			p.logger.Error("marshalling record for publish", "serial", serial, "error", err)
			continue
		}
		if err := p.broker.PublishRetained(topics.DeviceState(serial), payload); err != nil {
			p.logger.Warn("publishing device state", "serial", serial, "error", err)
			continue
		}

		availability := "offline"
		if rec.Online {
			availability = "online"
		}
		if err := p.broker.PublishRetained(topics.DeviceAvailability(serial), []byte(availability)); err != nil {
			p.logger.Warn("publishing availability", "serial", serial, "error", err)
		}

		for key, reading := range rec.Sensors {
			if reading.Value == nil {
				continue
			}
			topic := topics.DeviceReading(serial, key.Source, key.ID)
			value := strconv.FormatFloat(*reading.Value, 'f', -1, 64)
			if err := p.broker.PublishRetained(topic, []byte(value)); err != nil {
				p.logger.Warn("publishing reading", "topic", topic, "error", err)
			}
		}
	}
}

// commandRequest is the JSON body accepted on thermosync/cmd/<serial>.
// Exactly one of target_temperature, mode, or function must be present.
type commandRequest struct {
	Relay             int      `json:"relay"`
	TargetTemperature *float64 `json:"target_temperature"`
	Mode              string   `json:"mode"`
	Function          string   `json:"function"`
}

func (p *StatePublisher) handleCommand(topic string, payload []byte) error {
	serial := mqtt.Topics{}.CommandSerial(topic)
	if serial == "" {
		return fmt.Errorf("not a command topic: %s", topic)
	}

	var req commandRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decoding command for %s: %w", serial, err)
	}

	cmd := cloud.Command{
		Relay:    req.Relay,
		SetPoint: req.TargetTemperature,
		Mode:     req.Mode,
		Function: req.Function,
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := p.commander.SendCommand(ctx, serial, cmd); err != nil {
		return fmt.Errorf("dispatching command for %s: %w", serial, err)
	}

	p.logger.Info("command dispatched from broker", "serial", serial, "relay", cmd.Relay)
	return nil
}
