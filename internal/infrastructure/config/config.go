package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for thermosync.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Cloud     CloudConfig     `yaml:"cloud"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Token     TokenConfig     `yaml:"token"`
	Devices   []string        `yaml:"devices"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	History   HistoryConfig   `yaml:"history"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// CloudConfig contains the Computherm cloud REST API settings.
// The REST API issues the bearer token and lists the account's devices.
type CloudConfig struct {
	BaseURL  string `yaml:"base_url"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	// Timeout is the per-request timeout in seconds.
	Timeout int `yaml:"timeout"`
}

// WebSocketConfig contains settings for the push-feed connection.
type WebSocketConfig struct {
	URL string `yaml:"url"`
	// BackoffInitial is the first reconnect delay in seconds.
	BackoffInitial int `yaml:"backoff_initial"`
	// BackoffMax caps the reconnect delay in seconds.
	BackoffMax int `yaml:"backoff_max"`
	// ReadTimeoutFloor is the minimum read deadline in seconds, applied when
	// the server-declared ping interval is shorter.
	ReadTimeoutFloor int `yaml:"read_timeout_floor"`
	// HandshakeTimeout is the dial/handshake timeout in seconds.
	HandshakeTimeout int `yaml:"handshake_timeout"`
}

// DiscoveryConfig controls per-device discovery (scan) retries.
type DiscoveryConfig struct {
	// Timeout is the per-attempt discovery deadline in seconds.
	Timeout int `yaml:"timeout"`
	// MaxAttempts is the total scan budget per device.
	MaxAttempts int `yaml:"max_attempts"`
	// Fallback selects what happens when the budget is exhausted:
	// "synthesize" builds a degraded record from known metadata,
	// "unknown" leaves the device undiscovered.
	Fallback string `yaml:"fallback"`
}

// Fallback policy values.
const (
	FallbackSynthesize = "synthesize"
	FallbackUnknown    = "unknown"
)

// TokenConfig controls bearer-token refresh scheduling.
type TokenConfig struct {
	// RefreshLead is how long before expiry a refresh is requested, in minutes.
	RefreshLead int `yaml:"refresh_lead"`
}

// MQTTConfig contains MQTT broker connection settings for the optional
// state republisher.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings for the optional
// readings recorder.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// HistoryConfig contains settings for the optional SQLite state audit log.
// The log is append-only diagnostics data; the in-memory snapshot is never
// restored from it.
type HistoryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
	// RetentionDays controls pruning of old entries. 0 disables pruning.
	RetentionDays int `yaml:"retention_days"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: THERMOSYNC_SECTION_KEY
// For example: THERMOSYNC_CLOUD_EMAIL, THERMOSYNC_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Cloud: CloudConfig{
			BaseURL: "https://api.computhermbseries.com",
			Timeout: 15,
		},
		WebSocket: WebSocketConfig{
			URL:              "wss://api.computhermbseries.com/socket.io/?EIO=4&transport=websocket",
			BackoffInitial:   10,
			BackoffMax:       600,
			ReadTimeoutFloor: 5,
			HandshakeTimeout: 15,
		},
		Discovery: DiscoveryConfig{
			Timeout:     10,
			MaxAttempts: 3,
			Fallback:    FallbackSynthesize,
		},
		Token: TokenConfig{
			RefreshLead: 60,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "thermosync",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		History: HistoryConfig{
			Path:        "./data/thermosync.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8093,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Cloud credentials (the usual deployment path for secrets)
	if v := os.Getenv("THERMOSYNC_CLOUD_BASE_URL"); v != "" {
		cfg.Cloud.BaseURL = v
	}
	if v := os.Getenv("THERMOSYNC_CLOUD_EMAIL"); v != "" {
		cfg.Cloud.Email = v
	}
	if v := os.Getenv("THERMOSYNC_CLOUD_PASSWORD"); v != "" {
		cfg.Cloud.Password = v
	}

	// WebSocket
	if v := os.Getenv("THERMOSYNC_WEBSOCKET_URL"); v != "" {
		cfg.WebSocket.URL = v
	}

	// MQTT
	if v := os.Getenv("THERMOSYNC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("THERMOSYNC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("THERMOSYNC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("THERMOSYNC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// History
	if v := os.Getenv("THERMOSYNC_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}

	// API
	if v := os.Getenv("THERMOSYNC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Cloud.BaseURL == "" {
		errs = append(errs, "cloud.base_url is required")
	}
	if c.Cloud.Email == "" {
		errs = append(errs, "cloud.email is required (set THERMOSYNC_CLOUD_EMAIL)")
	}
	if c.Cloud.Password == "" {
		errs = append(errs, "cloud.password is required (set THERMOSYNC_CLOUD_PASSWORD)")
	}

	if c.WebSocket.URL == "" {
		errs = append(errs, "websocket.url is required")
	}
	if c.WebSocket.BackoffInitial <= 0 {
		errs = append(errs, "websocket.backoff_initial must be positive")
	}
	if c.WebSocket.BackoffMax < c.WebSocket.BackoffInitial {
		errs = append(errs, "websocket.backoff_max must be >= websocket.backoff_initial")
	}

	if c.Discovery.MaxAttempts < 1 {
		errs = append(errs, "discovery.max_attempts must be at least 1")
	}
	switch c.Discovery.Fallback {
	case FallbackSynthesize, FallbackUnknown:
	default:
		errs = append(errs, "discovery.fallback must be \"synthesize\" or \"unknown\"")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// CloudTimeout returns the REST request timeout as a Duration.
func (c *Config) CloudTimeout() time.Duration {
	return time.Duration(c.Cloud.Timeout) * time.Second
}

// BackoffInitial returns the initial reconnect delay as a Duration.
func (c *WebSocketConfig) BackoffInitialDuration() time.Duration {
	return time.Duration(c.BackoffInitial) * time.Second
}

// BackoffMaxDuration returns the reconnect delay cap as a Duration.
func (c *WebSocketConfig) BackoffMaxDuration() time.Duration {
	return time.Duration(c.BackoffMax) * time.Second
}

// ReadTimeoutFloorDuration returns the minimum read deadline as a Duration.
func (c *WebSocketConfig) ReadTimeoutFloorDuration() time.Duration {
	return time.Duration(c.ReadTimeoutFloor) * time.Second
}

// HandshakeTimeoutDuration returns the dial timeout as a Duration.
func (c *WebSocketConfig) HandshakeTimeoutDuration() time.Duration {
	return time.Duration(c.HandshakeTimeout) * time.Second
}

// TimeoutDuration returns the per-attempt discovery deadline as a Duration.
func (c *DiscoveryConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// RefreshLeadDuration returns the token refresh lead window as a Duration.
func (c *TokenConfig) RefreshLeadDuration() time.Duration {
	return time.Duration(c.RefreshLead) * time.Minute
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
