// Package influxdb provides optional time-series recording of thermostat
// telemetry.
//
// It wraps the official influxdb-client-go v2 library with patterns for
// connection management, batched writing, and health monitoring.
//
// # Purpose
//
// This package handles time-series storage for:
//   - Sensor readings (temperature, humidity)
//   - Relay state and target temperature over time
//   - Stream connection statistics
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteReading("TH123456", "wired", "0", "TEMPERATURE", 21.5)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking; batch errors surface via the
// SetOnError callback. Connection and health check errors are returned
// directly.
package influxdb
