// Package stream owns the persistent push-feed connection: dialing,
// the open/login/subscribe handshake, frame dispatch, reconnection with
// jittered exponential backoff, staleness detection via read deadlines and
// an independent watchdog, and per-device discovery retries.
//
// The client funnels every decoded event into the device merger; it holds
// no device state of its own. One goroutine owns all socket reads, and
// cancellation works by closing the socket out from under a blocked read.
package stream
