package influxdb

import (
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteReading records one sensor reading.
//
// The write is non-blocking; data is batched and sent asynchronously.
// The sensor type tag is lowercased so queries do not depend on wire
// casing.
//
// Example:
//
//	client.WriteReading("TH123456", "wired", "0", "TEMPERATURE", 21.5)
func (c *Client) WriteReading(serial, source, sensorID, sensorType string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"readings",
		map[string]string{
			"serial": serial,
			"source": source,
			"sensor": sensorID,
			"type":   strings.ToLower(sensorType),
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteRelayState records one relay's switching state and, when known,
// its target temperature.
func (c *Client) WriteRelayState(serial string, relay int, on bool, targetTemperature *float64) {
	if !c.IsConnected() {
		return
	}

	state := 0
	if on {
		state = 1
	}
	fields := map[string]interface{}{
		"state": state,
	}
	if targetTemperature != nil {
		fields["target_temperature"] = *targetTemperature
	}

	point := write.NewPoint(
		"relay_state",
		map[string]string{
			"serial": serial,
			"relay":  strconv.Itoa(relay),
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteStreamStats records push-feed connection statistics.
//
// Called periodically so the feed's health is visible next to the data it
// produces.
func (c *Client) WriteStreamStats(framesRx, framesTx, eventsMerged, errorsTotal, connects, staleCloses uint64, connected bool) {
	if !c.IsConnected() {
		return
	}

	conn := 0
	if connected {
		conn = 1
	}

	point := write.NewPoint(
		"stream_stats",
		nil,
		map[string]interface{}{
			"frames_rx":     int64(framesRx),
			"frames_tx":     int64(framesTx),
			"events_merged": int64(eventsMerged),
			"errors_total":  int64(errorsTotal),
			"connects":      int64(connects),
			"stale_closes":  int64(staleCloses),
			"connected":     conn,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
