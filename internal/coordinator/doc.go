// Package coordinator wires the cloud REST client, the device store, and
// the push-feed stream client into one account session.
//
// The coordinator performs the initial login and device listing, starts
// the stream, and owns token lifecycle: when the stream reports a token
// nearing expiry (or a command is rejected as unauthorized), the
// coordinator stops the stream client, re-authenticates, and starts a
// fresh client with the new token. It also fans merged state out to the
// optional history repository.
package coordinator
