package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Open Peer Power Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Core      CoreConfig      `yaml:"core"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`

	// InputBoolean declares input_boolean helper entities by object id.
	InputBoolean map[string]InputBooleanConfig `yaml:"input_boolean"`
}

// InputBooleanConfig describes one input_boolean entity.
type InputBooleanConfig struct {
	Name    string `yaml:"name"`
	Initial bool   `yaml:"initial"`
	Icon    string `yaml:"icon"`
}

// CoreConfig describes the installation. It is what get_config reports.
type CoreConfig struct {
	Name       string         `yaml:"name"`
	TimeZone   string         `yaml:"time_zone"`
	UnitSystem string         `yaml:"unit_system"`
	Location   LocationConfig `yaml:"location"`
}

// LocationConfig contains geographic coordinates of the installation.
type LocationConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Elevation int     `yaml:"elevation"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	StateStream StateStreamConfig   `yaml:"statestream"`
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

// StateStreamConfig controls mirroring of the state machine over MQTT.
type StateStreamConfig struct {
	BaseTopic         string `yaml:"base_topic"`
	PublishAttributes bool   `yaml:"publish_attributes"`
	Ingest            bool   `yaml:"ingest"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket API settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`

	// MaxPendingMessages is the hard capacity of each connection's outbound
	// queue. A send that would exceed it closes the connection.
	MaxPendingMessages int `yaml:"max_pending_messages"`

	// PendingMessagesPeak arms the backlog watchdog when reached.
	PendingMessagesPeak int `yaml:"pending_messages_peak"`

	// PeakBacklogGrace is how long (seconds) the backlog may stay at or above
	// the peak before the connection is closed.
	PeakBacklogGrace int `yaml:"peak_backlog_grace"`

	// AuthTimeout is the time (seconds) a client has to send its auth frame.
	AuthTimeout int `yaml:"auth_timeout"`

	// WriteTimeout bounds each socket write (seconds).
	WriteTimeout int `yaml:"write_timeout"`

	// DrainTimeout bounds how long the writer may take to flush on close (seconds).
	DrainTimeout int `yaml:"drain_timeout"`
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT           JWTConfig           `yaml:"jwt"`
	APIPassword   string              `yaml:"api_password"`
	LoginAttempts LoginAttemptsConfig `yaml:"login_attempts"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret          string `yaml:"secret"`
	AccessTokenTTL  int    `yaml:"access_token_ttl"`
	RefreshTokenTTL int    `yaml:"refresh_token_ttl"`
}

// LoginAttemptsConfig controls banning of remote addresses after failed logins.
type LoginAttemptsConfig struct {
	Enabled   bool `yaml:"enabled"`
	Threshold int  `yaml:"threshold"`
	Window    int  `yaml:"window"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// envOverrides lists the settings that may be overridden from the environment.
// Variables carry the OPP_ prefix, e.g. OPP_JWT_SECRET.
type envOverrides struct {
	DatabasePath   string `envconfig:"DATABASE_PATH"`
	MQTTHost       string `envconfig:"MQTT_HOST"`
	MQTTUsername   string `envconfig:"MQTT_USERNAME"`
	MQTTPassword   string `envconfig:"MQTT_PASSWORD"`
	APIHost        string `envconfig:"API_HOST"`
	APIPort        int    `envconfig:"API_PORT"`
	InfluxDBToken  string `envconfig:"INFLUXDB_TOKEN"`
	JWTSecret      string `envconfig:"JWT_SECRET"`
	APIPassword    string `envconfig:"API_PASSWORD"`
	LogLevel       string `envconfig:"LOG_LEVEL"`
	WebSocketQueue int    `envconfig:"WEBSOCKET_MAX_PENDING_MESSAGES"`
}

// objectIDPattern matches the object id part of an entity id.
var objectIDPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// envPrefix is the prefix applied to every environment override.
const envPrefix = "OPP"

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("reading environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Core: CoreConfig{
			Name:       "Home",
			TimeZone:   "UTC",
			UnitSystem: "metric",
		},
		Database: DatabaseConfig{
			Path:        "./data/openpeerpower.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "openpeerpower-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			StateStream: StateStreamConfig{
				BaseTopic: "openpeerpower",
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8123,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:                "/api/websocket",
			MaxMessageSize:      1 << 20,
			MaxPendingMessages:  2048,
			PendingMessagesPeak: 512,
			PeakBacklogGrace:    5,
			AuthTimeout:         10,
			WriteTimeout:        10,
			DrainTimeout:        10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL:  30,
				RefreshTokenTTL: 14400,
			},
			LoginAttempts: LoginAttemptsConfig{
				Enabled:   true,
				Threshold: 5,
				Window:    300,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 600,
			},
		},
	}
}

// applyEnvOverrides applies OPP_* environment variables on top of cfg.
func applyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return err
	}

	if env.DatabasePath != "" {
		cfg.Database.Path = env.DatabasePath
	}
	if env.MQTTHost != "" {
		cfg.MQTT.Broker.Host = env.MQTTHost
	}
	if env.MQTTUsername != "" {
		cfg.MQTT.Auth.Username = env.MQTTUsername
	}
	if env.MQTTPassword != "" {
		cfg.MQTT.Auth.Password = env.MQTTPassword
	}
	if env.APIHost != "" {
		cfg.API.Host = env.APIHost
	}
	if env.APIPort != 0 {
		cfg.API.Port = env.APIPort
	}
	if env.InfluxDBToken != "" {
		cfg.InfluxDB.Token = env.InfluxDBToken
	}
	// JWT secret must always come from the environment in production.
	if env.JWTSecret != "" {
		cfg.Security.JWT.Secret = env.JWTSecret
	}
	if env.APIPassword != "" {
		cfg.Security.APIPassword = env.APIPassword
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}
	if env.WebSocketQueue != 0 {
		cfg.WebSocket.MaxPendingMessages = env.WebSocketQueue
	}
	return nil
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Core.Name == "" {
		errs = append(errs, "core.name is required")
	}
	if c.Core.UnitSystem != "metric" && c.Core.UnitSystem != "imperial" {
		errs = append(errs, "core.unit_system must be metric or imperial")
	}
	if _, err := time.LoadLocation(c.Core.TimeZone); err != nil {
		errs = append(errs, fmt.Sprintf("core.time_zone %q is not a valid IANA zone", c.Core.TimeZone))
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	errs = append(errs, c.WebSocket.validate()...)

	for objectID := range c.InputBoolean {
		if !objectIDPattern.MatchString(objectID) {
			errs = append(errs, fmt.Sprintf("input_boolean.%s: object id must be lower case letters, digits and underscores", objectID))
		}
	}

	// Forged tokens would grant full control of the installation, so a
	// short secret is rejected outright.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set OPP_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if c.Security.LoginAttempts.Enabled && c.Security.LoginAttempts.Threshold < 1 {
		errs = append(errs, "security.login_attempts.threshold must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (w WebSocketConfig) validate() []string {
	var errs []string
	if !strings.HasPrefix(w.Path, "/") {
		errs = append(errs, "websocket.path must start with /")
	}
	if w.MaxPendingMessages < 1 {
		errs = append(errs, "websocket.max_pending_messages must be positive")
	}
	if w.PendingMessagesPeak < 1 || w.PendingMessagesPeak > w.MaxPendingMessages {
		errs = append(errs, "websocket.pending_messages_peak must be between 1 and max_pending_messages")
	}
	if w.PeakBacklogGrace < 1 {
		errs = append(errs, "websocket.peak_backlog_grace must be positive")
	}
	if w.AuthTimeout < 1 {
		errs = append(errs, "websocket.auth_timeout must be positive")
	}
	if w.WriteTimeout < 1 {
		errs = append(errs, "websocket.write_timeout must be positive")
	}
	if w.DrainTimeout < 1 {
		errs = append(errs, "websocket.drain_timeout must be positive")
	}
	return errs
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

// AuthTimeoutDuration returns the websocket auth timeout as a Duration.
func (w WebSocketConfig) AuthTimeoutDuration() time.Duration {
	return time.Duration(w.AuthTimeout) * time.Second
}

// PeakBacklogGraceDuration returns the backlog grace period as a Duration.
func (w WebSocketConfig) PeakBacklogGraceDuration() time.Duration {
	return time.Duration(w.PeakBacklogGrace) * time.Second
}

// WriteTimeoutDuration returns the per-write deadline as a Duration.
func (w WebSocketConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(w.WriteTimeout) * time.Second
}

// DrainTimeoutDuration returns the writer drain bound as a Duration.
func (w WebSocketConfig) DrainTimeoutDuration() time.Duration {
	return time.Duration(w.DrainTimeout) * time.Second
}

// LoginWindow returns the failed-login accounting window as a Duration.
func (s SecurityConfig) LoginWindow() time.Duration {
	return time.Duration(s.LoginAttempts.Window) * time.Second
}
