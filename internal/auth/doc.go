// Package auth manages the bearer-token lifecycle: decoding the expiry
// claim from the cloud-issued JWT and coordinating refresh attempts so that
// reconnection and refresh never race.
package auth
