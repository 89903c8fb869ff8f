package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the NLE bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	NLE       NLEConfig       `yaml:"nle"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BridgeConfig contains bridge instance identity settings.
type BridgeConfig struct {
	ID string `yaml:"id"`
}

// NLEConfig contains No Longer Evil cloud API settings.
type NLEConfig struct {
	// APIKey authenticates requests against the NLE API. Keys are issued
	// with an "nle_" prefix. Required; set via GRAYLOGIC_NLE_API_KEY in
	// production rather than committing it to the config file.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the hosted API endpoint. Useful for self-hosted
	// relay servers. Default: https://nolongerevil.com/api/v1
	BaseURL string `yaml:"base_url"`

	// ScanInterval is the polling period in seconds between full state
	// refreshes. Default: 30. The vendor budget is 20 requests/minute per
	// key, so very short intervals with many thermostats will hit 429s.
	ScanInterval int `yaml:"scan_interval"`

	// Timeout bounds each HTTP call in seconds so a slow vendor response
	// cannot stall a poll cycle. Default: 10.
	Timeout int `yaml:"timeout"`

	// DeviceRefreshTicks is how many poll ticks pass between refreshes of
	// the account device list. Default: 10.
	DeviceRefreshTicks int `yaml:"device_refresh_ticks"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Token    string           `yaml:"token"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default and boundary values for the NLE section.
const (
	// DefaultBaseURL is the hosted No Longer Evil API endpoint.
	DefaultBaseURL = "https://nolongerevil.com/api/v1"

	// DefaultScanInterval is the default polling period in seconds.
	DefaultScanInterval = 30

	// MinScanInterval is the lowest permitted polling period in seconds.
	// Anything shorter burns through the vendor's 20 requests/minute budget
	// with a single thermostat.
	MinScanInterval = 5

	// MaxScanInterval is the highest permitted polling period in seconds.
	MaxScanInterval = 300

	// DefaultHTTPTimeout bounds each vendor API call in seconds.
	DefaultHTTPTimeout = 10
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_NLE_SECTION_KEY
// For example: GRAYLOGIC_NLE_API_KEY, GRAYLOGIC_NLE_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID: "nle-bridge-01",
		},
		NLE: NLEConfig{
			BaseURL:            DefaultBaseURL,
			ScanInterval:       DefaultScanInterval,
			Timeout:            DefaultHTTPTimeout,
			DeviceRefreshTicks: 10,
		},
		Database: DatabaseConfig{
			Path:        "./data/nle-bridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-nle",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8093,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_NLE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// NLE cloud API - the key always overrides in production (never commit it)
	if v := os.Getenv("GRAYLOGIC_NLE_API_KEY"); v != "" {
		cfg.NLE.APIKey = v
	}
	if v := os.Getenv("GRAYLOGIC_NLE_BASE_URL"); v != "" {
		cfg.NLE.BaseURL = v
	}
	if v := os.Getenv("GRAYLOGIC_NLE_SCAN_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.NLE.ScanInterval = n
		}
	}

	// Database
	if v := os.Getenv("GRAYLOGIC_NLE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_NLE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_NLE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_NLE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_NLE_API_TOKEN"); v != "" {
		cfg.API.Token = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_NLE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Bridge validation
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}

	// NLE validation
	if c.NLE.APIKey == "" {
		errs = append(errs, "nle.api_key is required (set GRAYLOGIC_NLE_API_KEY environment variable)")
	} else if !strings.HasPrefix(c.NLE.APIKey, "nle_") {
		errs = append(errs, `nle.api_key must start with "nle_"`)
	}
	if c.NLE.BaseURL == "" {
		errs = append(errs, "nle.base_url is required")
	}
	if c.NLE.ScanInterval < MinScanInterval || c.NLE.ScanInterval > MaxScanInterval {
		errs = append(errs, fmt.Sprintf("nle.scan_interval must be between %d and %d seconds",
			MinScanInterval, MaxScanInterval))
	}
	if c.NLE.Timeout <= 0 {
		errs = append(errs, "nle.timeout must be positive")
	}
	if c.NLE.DeviceRefreshTicks <= 0 {
		errs = append(errs, "nle.device_refresh_ticks must be positive")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		if c.API.Token == "" {
			errs = append(errs, "api.token is required when the API is enabled (set GRAYLOGIC_NLE_API_TOKEN environment variable)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetScanInterval returns the polling period as a Duration.
func (c *Config) GetScanInterval() time.Duration {
	return time.Duration(c.NLE.ScanInterval) * time.Second
}

// GetHTTPTimeout returns the vendor API call timeout as a Duration.
func (c *Config) GetHTTPTimeout() time.Duration {
	return time.Duration(c.NLE.Timeout) * time.Second
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
