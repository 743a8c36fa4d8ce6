package config

import "time"

// Config is the root of config.yaml. Defaults come from defaultConfig,
// the file overrides them and GRAYLOGIC_* variables override the file.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Door      DoorConfig      `yaml:"door"`
	Notify    NotifyConfig    `yaml:"notify"`
}

type SiteConfig struct {
	ID       string `yaml:"id" validate:"required"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig locates the SQLite file. BusyTimeout is in seconds.
type DatabaseConfig struct {
	Path        string `yaml:"path" validate:"required"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout" validate:"min=0"`
}

type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos" validate:"min=0,max=2"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

type MQTTBrokerConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id" validate:"required"`
}

type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds paho's reconnect backoff, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay" validate:"min=0"`
	MaxDelay     int `yaml:"max_delay" validate:"min=0"`
}

type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port" validate:"min=1,max=65535"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file" validate:"required_if=Enabled true"`
	KeyFile  string `yaml:"key_file" validate:"required_if=Enabled true"`
}

// APITimeoutConfig holds http.Server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read" validate:"min=0"`
	Write int `yaml:"write" validate:"min=0"`
	Idle  int `yaml:"idle" validate:"min=0"`
}

// CORSConfig lists allowed origins; an empty list allows any origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig sizes the live feed. Intervals are in seconds.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size" validate:"min=0"`
	PingInterval   int    `yaml:"ping_interval" validate:"min=1"`
	PongTimeout    int    `yaml:"pong_timeout" validate:"min=1"`
}

type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url" validate:"required_if=Enabled true"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket" validate:"required_if=Enabled true"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// LoggingConfig selects level (debug, info, warn, error), format (json,
// text) and output (stdout, stderr, file).
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig is only read when output is "file".
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`    // megabytes
	MaxBackups int    `yaml:"max_backups"` // rotated files kept
	MaxAge     int    `yaml:"max_age"`     // days
	Compress   bool   `yaml:"compress"`
}

type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig signs admin and app sessions. The secret guards remote unlock,
// so it has a minimum length.
type JWTConfig struct {
	Secret         string `yaml:"secret" validate:"required,min=32"`
	AccessTokenTTL int    `yaml:"access_token_ttl" validate:"min=0"` // minutes
}

// DoorConfig tunes the access-control engine.
type DoorConfig struct {
	// DefaultPIN is installed when the door row is first created.
	DefaultPIN string `yaml:"default_pin" validate:"pin"`

	// AlarmThreshold is the consecutive-failure count that raises the alarm.
	AlarmThreshold int `yaml:"alarm_threshold" validate:"min=1"`

	// ResetCounterOnAlarm clears the counter once the alarm fires. The
	// default is false: the counter keeps counting and every further
	// failure re-raises the alarm.
	ResetCounterOnAlarm bool `yaml:"reset_counter_on_alarm"`

	OfflineThresholdSeconds int `yaml:"offline_threshold_seconds" validate:"min=1"`
	SweepIntervalSeconds    int `yaml:"sweep_interval_seconds" validate:"min=1"`

	// DedupeWindowSeconds is how long an inbound messageId is remembered.
	// 0 disables dedup, in which case DedupeCapacity is ignored.
	DedupeWindowSeconds int `yaml:"dedupe_window_seconds" validate:"min=0"`
	DedupeCapacity      int `yaml:"dedupe_capacity" validate:"min=0"`
}

// OfflineThreshold is how long a device may stay silent before it is
// reported offline.
func (d DoorConfig) OfflineThreshold() time.Duration {
	return time.Duration(d.OfflineThresholdSeconds) * time.Second
}

// SweepInterval is the liveness sweep period.
func (d DoorConfig) SweepInterval() time.Duration {
	return time.Duration(d.SweepIntervalSeconds) * time.Second
}

// DedupeWindow is the duplicate-suppression window.
func (d DoorConfig) DedupeWindow() time.Duration {
	return time.Duration(d.DedupeWindowSeconds) * time.Second
}

type NotifyConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig reaches the push gateway over Redis pub/sub.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" validate:"required_if=Enabled true"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"min=0"`
	Channel  string `yaml:"channel" validate:"required_if=Enabled true"`
}
