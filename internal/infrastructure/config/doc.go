// Package config loads and validates thermosync configuration from a YAML
// file with environment variable overrides.
//
// Configuration is resolved in three layers: hardcoded defaults, the YAML
// file, then THERMOSYNC_* environment variables. Secrets (cloud credentials,
// broker passwords, database tokens) are expected to arrive via the
// environment rather than the file.
package config
