package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path over the defaults, applies GRAYLOGIC_*
// environment overrides and validates the result.
//
// Parameters:
//   - path: YAML configuration file
//
// Returns:
//   - *Config: Validated configuration
//   - error: Read, parse or validation failure
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadEnvFiles loads KEY=VALUE pairs from .env files into the process
// environment. Variables already set win, and missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		err := godotenv.Load(p)
		switch {
		case err == nil, errors.Is(err, fs.ErrNotExist):
		default:
			return fmt.Errorf("loading env file %s: %w", p, err)
		}
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Site:     SiteConfig{ID: "home-001", Name: "Gray Logic Home", Timezone: "UTC"},
		Database: DatabaseConfig{Path: "./data/graylogic-access.db", WALMode: true, BusyTimeout: 5},
		MQTT: MQTTConfig{
			Broker:    MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "graylogic-access"},
			QoS:       1,
			Reconnect: MQTTReconnectConfig{InitialDelay: 5, MaxDelay: 60},
		},
		API: APIConfig{
			Host:     "0.0.0.0",
			Port:     8080,
			Timeouts: APITimeoutConfig{Read: 30, Write: 30, Idle: 60},
		},
		WebSocket: WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/graylogic-access.log",
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     30,
				Compress:   true,
			},
		},
		Security: SecurityConfig{JWT: JWTConfig{AccessTokenTTL: 60}},
		Door: DoorConfig{
			DefaultPIN:              "1234",
			AlarmThreshold:          5,
			ResetCounterOnAlarm:     false,
			OfflineThresholdSeconds: 90,
			SweepIntervalSeconds:    30,
			DedupeWindowSeconds:     60,
			DedupeCapacity:          1024,
		},
		Notify: NotifyConfig{Redis: RedisConfig{Addr: "localhost:6379", Channel: "graylogic:push"}},
	}
}

// envOverride binds one environment variable to a config field.
type envOverride struct {
	name string
	str  *string
	num  *int
}

// overrides lists every supported variable. Secrets belong here rather
// than in the YAML file.
func (c *Config) overrides() []envOverride {
	return []envOverride{
		{name: "GRAYLOGIC_DATABASE_PATH", str: &c.Database.Path},
		{name: "GRAYLOGIC_MQTT_HOST", str: &c.MQTT.Broker.Host},
		{name: "GRAYLOGIC_MQTT_PORT", num: &c.MQTT.Broker.Port},
		{name: "GRAYLOGIC_MQTT_USERNAME", str: &c.MQTT.Auth.Username},
		{name: "GRAYLOGIC_MQTT_PASSWORD", str: &c.MQTT.Auth.Password},
		{name: "GRAYLOGIC_API_HOST", str: &c.API.Host},
		{name: "GRAYLOGIC_API_PORT", num: &c.API.Port},
		{name: "GRAYLOGIC_INFLUXDB_TOKEN", str: &c.InfluxDB.Token},
		{name: "GRAYLOGIC_REDIS_ADDR", str: &c.Notify.Redis.Addr},
		{name: "GRAYLOGIC_REDIS_PASSWORD", str: &c.Notify.Redis.Password},
		{name: "GRAYLOGIC_DOOR_DEFAULT_PIN", str: &c.Door.DefaultPIN},
		{name: "GRAYLOGIC_JWT_SECRET", str: &c.Security.JWT.Secret},
	}
}

// applyEnvOverrides copies set, non-empty variables into cfg. Numeric
// variables that do not parse are ignored.
func applyEnvOverrides(cfg *Config) {
	for _, o := range cfg.overrides() {
		v := os.Getenv(o.name)
		if v == "" {
			continue
		}
		switch {
		case o.str != nil:
			*o.str = v
		case o.num != nil:
			if n, err := strconv.Atoi(v); err == nil {
				*o.num = n
			}
		}
	}
}
