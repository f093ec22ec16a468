// Package socketio implements the engine.io/Socket.IO text framing used by
// the Computherm push feed.
//
// The package is a stateless translation layer: Parse classifies inbound
// frames into control, event, error, or ignored results, and the Build
// functions assemble the three outbound application messages (login,
// subscribe, scan). Connection lifecycle, retries, and payload semantics
// live elsewhere.
package socketio
