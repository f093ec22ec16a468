// Package export mirrors merged device state to external systems.
//
// Two optional sinks consume store notifications:
//
//   - StatePublisher mirrors each touched record to retained MQTT topics
//     and accepts control requests on the command topics.
//   - Recorder writes sensor readings and relay states to InfluxDB and
//     periodically records stream connection statistics.
//
// Both sinks are strictly downstream of the in-memory store: they never
// mutate device state, and a sink failure never disturbs the merge path.
package export
