package export

import (
	"sync"
	"time"

	"github.com/zadoli/thermosync/internal/device"
	"github.com/zadoli/thermosync/internal/stream"
)

// statsInterval is how often stream statistics are recorded.
const statsInterval = 30 * time.Second

// TimeSeriesWriter is the InfluxDB surface the recorder needs.
// *influxdb.Client satisfies it.
type TimeSeriesWriter interface {
	WriteReading(serial, source, sensorID, sensorType string, value float64)
	WriteRelayState(serial string, relay int, on bool, targetTemperature *float64)
	WriteStreamStats(framesRx, framesTx, eventsMerged, errorsTotal, connects, staleCloses uint64, connected bool)
}

// StatsSource supplies stream statistics. The coordinator satisfies it.
type StatsSource interface {
	StreamStats() stream.Stats
}

// Recorder writes merged device telemetry to a time-series store.
type Recorder struct {
	writer TimeSeriesWriter
	store  *device.Store
	stats  StatsSource

	subID    string
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewRecorder creates a recorder. stats may be nil to skip connection
// statistics.
func NewRecorder(writer TimeSeriesWriter, store *device.Store, stats StatsSource) *Recorder {
	return &Recorder{
		writer: writer,
		store:  store,
		stats:  stats,
		done:   make(chan struct{}),
	}
}

// Start subscribes to store notifications and launches the periodic
// statistics writer.
func (r *Recorder) Start() {
	r.subID = r.store.Subscribe(r.recordSerials)

	if r.stats != nil {
		r.wg.Add(1)
		go r.statsLoop()
	}
}

// Stop detaches from the store and halts the statistics writer.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		if r.subID != "" {
			r.store.Unsubscribe(r.subID)
			r.subID = ""
		}
		close(r.done)
		r.wg.Wait()
	})
}

// recordSerials writes one point per present sensor value and one per
// relay for every touched record. Absent values ("N/A") are skipped, not
// written as zero.
func (r *Recorder) recordSerials(serials []string) {
	for _, serial := range serials {
		rec, ok := r.store.Get(serial)
		if !ok {
			continue
		}

		for key, reading := range rec.Sensors {
			if reading.Value == nil {
				continue
			}
			r.writer.WriteReading(serial, key.Source, key.ID, reading.Type, *reading.Value)
		}

		for _, relay := range rec.Relays {
			r.writer.WriteRelayState(serial, relay.Number, relay.State, relay.TargetTemperature)
		}
	}
}

func (r *Recorder) statsLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
		}

		s := r.stats.StreamStats()
		r.writer.WriteStreamStats(
			s.FramesRx, s.FramesTx, s.EventsMerged,
			s.ErrorsTotal, s.ConnectsTotal, s.StaleCloses,
			s.Connected,
		)
	}
}
