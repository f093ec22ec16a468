package device

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by this package.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Listener receives the serials touched by one merge batch.
type Listener func(serials []string)

// Store is the canonical serial → Record map published to consumers.
//
// Records are created lazily on the first event referencing a configured
// serial and never destroyed while the serial stays configured. Reads hand
// out deep copies so callers can never mutate cached state.
//
// All public methods are thread-safe.
type Store struct {
	mu      sync.RWMutex
	known   map[string]Metadata
	serials []string // configured order, for stable iteration
	records map[string]*Record

	listenerMu sync.RWMutex
	listeners  map[string]Listener

	logger Logger
}

// NewStore creates a store seeded with the configured device set. Only
// these serials may ever acquire a record.
func NewStore(devices []Metadata) *Store {
	s := &Store{
		known:     make(map[string]Metadata, len(devices)),
		serials:   make([]string, 0, len(devices)),
		records:   make(map[string]*Record, len(devices)),
		listeners: make(map[string]Listener),
		logger:    noopLogger{},
	}
	for _, d := range devices {
		if d.Serial == "" {
			continue
		}
		if _, dup := s.known[d.Serial]; dup {
			continue
		}
		s.known[d.Serial] = d
		s.serials = append(s.serials, d.Serial)
	}
	return s
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Serials returns the configured serials in their original order.
func (s *Store) Serials() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.serials))
	copy(out, s.serials)
	return out
}

// IsKnown reports whether a serial belongs to the configured set.
func (s *Store) IsKnown(serial string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.known[serial]
	return ok
}

// Metadata returns the cloud metadata for a configured serial.
func (s *Store) Metadata(serial string) (Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.known[serial]
	return m, ok
}

// Get returns a deep copy of one device's record.
func (s *Store) Get(serial string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[serial]
	if !ok {
		return nil, false
	}
	return rec.DeepCopy(), true
}

// Snapshot returns deep copies of every existing record keyed by serial.
func (s *Store) Snapshot() map[string]*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*Record, len(s.records))
	for serial, rec := range s.records {
		out[serial] = rec.DeepCopy()
	}
	return out
}

// Undiscovered returns configured serials that still lack discovery data.
func (s *Store) Undiscovered() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, serial := range s.serials {
		rec, ok := s.records[serial]
		if !ok || rec.Discovered == NotDiscovered {
			out = append(out, serial)
		}
	}
	return out
}

// Subscribe registers a listener and returns its id for Unsubscribe.
// Listeners are invoked once per merge batch, after the store is updated.
func (s *Store) Subscribe(fn Listener) string {
	id := uuid.NewString()
	s.listenerMu.Lock()
	s.listeners[id] = fn
	s.listenerMu.Unlock()
	return id
}

// Unsubscribe removes a listener. Unknown ids are ignored.
func (s *Store) Unsubscribe(id string) {
	s.listenerMu.Lock()
	delete(s.listeners, id)
	s.listenerMu.Unlock()
}

// Notify invokes every listener once with the serials touched by a batch.
// Listeners run on the caller's goroutine, outside the store lock.
func (s *Store) Notify(serials []string) {
	if len(serials) == 0 {
		return
	}

	s.listenerMu.RLock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.RUnlock()

	for _, fn := range fns {
		fn(serials)
	}
}

// Synthesize builds a degraded record for a serial whose discovery budget
// ran out, from cloud metadata plus whatever readings already arrived.
// It reports whether a record was synthesized; devices already discovered
// are left untouched.
func (s *Store) Synthesize(serial string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.known[serial]
	if !ok {
		return false
	}

	rec, exists := s.records[serial]
	if exists && rec.Discovered != NotDiscovered {
		return false
	}
	if !exists {
		rec = newRecord(meta)
		s.records[serial] = rec
	}

	rec.Discovered = DiscoveredViaSynthesis
	rec.UpdatedAt = time.Now()

	s.logger.Warn("synthesized device record from cloud metadata",
		"serial", serial,
		"type", meta.Type,
		"fw_ver", meta.FirmwareVersion)
	return true
}

// getOrCreate returns the live record for a known serial, creating it from
// metadata on first reference. Caller must hold s.mu.
func (s *Store) getOrCreate(serial string) *Record {
	if rec, ok := s.records[serial]; ok {
		return rec
	}
	rec := newRecord(s.known[serial])
	s.records[serial] = rec
	return rec
}

func newRecord(meta Metadata) *Record {
	return &Record{
		Serial:          meta.Serial,
		APIID:           meta.APIID,
		Brand:           meta.Brand,
		Type:            meta.Type,
		FirmwareVersion: meta.FirmwareVersion,
		DeviceType:      meta.DeviceType,
		Relays:          make(map[int]Relay),
		Sensors:         make(map[SensorKey]Reading),
	}
}
