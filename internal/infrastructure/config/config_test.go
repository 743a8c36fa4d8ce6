package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
site:
  id: hallway
database:
  path: /var/lib/access.db
mqtt:
  broker:
    host: broker.lan
    client_id: door-hub
security:
  jwt:
    secret: "`+testSecret+`"
door:
  default_pin: "4321"
  alarm_threshold: 3
  reset_counter_on_alarm: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Site.ID != "hallway" || cfg.MQTT.Broker.Host != "broker.lan" {
		t.Errorf("file values not applied: site=%q host=%q", cfg.Site.ID, cfg.MQTT.Broker.Host)
	}
	if cfg.Door.DefaultPIN != "4321" || cfg.Door.AlarmThreshold != 3 || cfg.Door.ResetCounterOnAlarm {
		t.Errorf("door = %+v", cfg.Door)
	}
	// Omitted keys keep their defaults.
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Door.SweepIntervalSeconds != 30 {
		t.Errorf("Door.SweepIntervalSeconds = %d, want 30", cfg.Door.SweepIntervalSeconds)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantErr string
	}{
		{
			name:    "missing file",
			path:    func(*testing.T) string { return "/nonexistent/config.yaml" },
			wantErr: "reading config file",
		},
		{
			name:    "malformed yaml",
			path:    func(t *testing.T) string { return writeConfig(t, "site: [id: x") },
			wantErr: "parsing config file",
		},
		{
			name: "invalid values",
			path: func(t *testing.T) string {
				return writeConfig(t, "site:\n  id: \"\"\nsecurity:\n  jwt:\n    secret: \""+testSecret+"\"\n")
			},
			wantErr: "site.id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path(t))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Load() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "site:\n  id: hallway\n")
	t.Setenv("GRAYLOGIC_JWT_SECRET", testSecret)
	t.Setenv("GRAYLOGIC_DOOR_DEFAULT_PIN", "0007")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Security.JWT.Secret != testSecret {
		t.Error("JWT secret not taken from the environment")
	}
	if cfg.Door.DefaultPIN != "0007" {
		t.Errorf("Door.DefaultPIN = %q, want 0007", cfg.Door.DefaultPIN)
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	body := "GRAYLOGIC_TEST_FROM_FILE=file\nGRAYLOGIC_TEST_PRESET=file\n"
	if err := os.WriteFile(envPath, []byte(body), 0600); err != nil {
		t.Fatalf("writing env file: %v", err)
	}

	t.Setenv("GRAYLOGIC_TEST_PRESET", "process")
	t.Setenv("GRAYLOGIC_TEST_FROM_FILE", "")
	os.Unsetenv("GRAYLOGIC_TEST_FROM_FILE") //nolint:errcheck // restored by t.Setenv

	if err := LoadEnvFiles(filepath.Join(dir, "absent.env"), envPath); err != nil {
		t.Fatalf("LoadEnvFiles() error = %v", err)
	}
	if got := os.Getenv("GRAYLOGIC_TEST_FROM_FILE"); got != "file" {
		t.Errorf("GRAYLOGIC_TEST_FROM_FILE = %q, want file", got)
	}
	if got := os.Getenv("GRAYLOGIC_TEST_PRESET"); got != "process" {
		t.Errorf("GRAYLOGIC_TEST_PRESET = %q, want the existing value", got)
	}
}

func TestLoadEnvFiles_Unreadable(t *testing.T) {
	// A directory exists but cannot be parsed as an env file.
	if err := LoadEnvFiles(t.TempDir()); err == nil {
		t.Fatal("LoadEnvFiles() on a directory should fail")
	}
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Security.JWT.Secret = testSecret
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults with secret", mutate: func(*Config) {}},
		{name: "dedupe disabled", mutate: func(c *Config) {
			c.Door.DedupeWindowSeconds = 0
			c.Door.DedupeCapacity = 0
		}},
		{name: "redis enabled", mutate: func(c *Config) { c.Notify.Redis.Enabled = true }},
		{name: "missing site id", mutate: func(c *Config) { c.Site.ID = "" }, wantErr: "site.id is required"},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: "database.path is required"},
		{name: "missing secret", mutate: func(c *Config) { c.Security.JWT.Secret = "" }, wantErr: "GRAYLOGIC_JWT_SECRET"},
		{name: "short secret", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: "security.jwt.secret must be at least 32 characters"},
		{name: "mqtt port zero", mutate: func(c *Config) { c.MQTT.Broker.Port = 0 }, wantErr: "mqtt.broker.port must be at least 1"},
		{name: "api port too high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: "api.port must be at most 65535"},
		{name: "qos out of range", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: "mqtt.qos must be at most 2"},
		{name: "pin too short", mutate: func(c *Config) { c.Door.DefaultPIN = "123" }, wantErr: "door.default_pin must be exactly 4 digits"},
		{name: "pin not numeric", mutate: func(c *Config) { c.Door.DefaultPIN = "12a4" }, wantErr: "door.default_pin"},
		{name: "alarm threshold zero", mutate: func(c *Config) { c.Door.AlarmThreshold = 0 }, wantErr: "door.alarm_threshold"},
		{name: "dedupe without capacity", mutate: func(c *Config) { c.Door.DedupeCapacity = 0 }, wantErr: "door.dedupe_capacity"},
		{name: "file logging without path", mutate: func(c *Config) {
			c.Logging.Output = "file"
			c.Logging.File.Path = ""
		}, wantErr: "logging.file.path"},
		{name: "redis without address", mutate: func(c *Config) {
			c.Notify.Redis.Enabled = true
			c.Notify.Redis.Addr = ""
		}, wantErr: "notify.redis.addr is required when enabled"},
		{name: "influxdb without url", mutate: func(c *Config) {
			c.InfluxDB.Enabled = true
			c.InfluxDB.Bucket = "access"
		}, wantErr: "influxdb.url"},
		{name: "tls without cert", mutate: func(c *Config) { c.API.TLS.Enabled = true }, wantErr: "api.tls.cert_file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Site.ID = ""
	cfg.Door.DefaultPIN = "x"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should fail")
	}
	for _, want := range []string{"site.id", "door.default_pin"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestDoorConfig_Durations(t *testing.T) {
	d := DoorConfig{OfflineThresholdSeconds: 90, SweepIntervalSeconds: 30, DedupeWindowSeconds: 60}

	if got := d.OfflineThreshold().Seconds(); got != 90 {
		t.Errorf("OfflineThreshold() = %vs, want 90", got)
	}
	if got := d.SweepInterval().Seconds(); got != 30 {
		t.Errorf("SweepInterval() = %vs, want 30", got)
	}
	if got := d.DedupeWindow().Seconds(); got != 60 {
		t.Errorf("DedupeWindow() = %vs, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"GRAYLOGIC_DATABASE_PATH":    "/srv/access.db",
		"GRAYLOGIC_MQTT_HOST":        "mqtt.lan",
		"GRAYLOGIC_MQTT_PORT":        "8883",
		"GRAYLOGIC_MQTT_USERNAME":    "hub",
		"GRAYLOGIC_MQTT_PASSWORD":    "hub-pass",
		"GRAYLOGIC_API_HOST":         "10.0.0.2",
		"GRAYLOGIC_API_PORT":         "9090",
		"GRAYLOGIC_INFLUXDB_TOKEN":   "influx-token",
		"GRAYLOGIC_REDIS_ADDR":       "redis:6379",
		"GRAYLOGIC_REDIS_PASSWORD":   "redis-pass",
		"GRAYLOGIC_DOOR_DEFAULT_PIN": "9876",
		"GRAYLOGIC_JWT_SECRET":       testSecret,
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	checks := map[string]bool{
		"database.path":       cfg.Database.Path == "/srv/access.db",
		"mqtt.broker.host":    cfg.MQTT.Broker.Host == "mqtt.lan",
		"mqtt.broker.port":    cfg.MQTT.Broker.Port == 8883,
		"mqtt.auth.username":  cfg.MQTT.Auth.Username == "hub",
		"mqtt.auth.password":  cfg.MQTT.Auth.Password == "hub-pass",
		"api.host":            cfg.API.Host == "10.0.0.2",
		"api.port":            cfg.API.Port == 9090,
		"influxdb.token":      cfg.InfluxDB.Token == "influx-token",
		"notify.redis.addr":   cfg.Notify.Redis.Addr == "redis:6379",
		"notify.redis.pass":   cfg.Notify.Redis.Password == "redis-pass",
		"door.default_pin":    cfg.Door.DefaultPIN == "9876",
		"security.jwt.secret": cfg.Security.JWT.Secret == testSecret,
	}
	for field, ok := range checks {
		if !ok {
			t.Errorf("%s not overridden", field)
		}
	}
}

func TestApplyEnvOverrides_BadNumberIgnored(t *testing.T) {
	t.Setenv("GRAYLOGIC_MQTT_PORT", "not-a-port")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want default 1883", cfg.MQTT.Broker.Port)
	}
}

func TestDefaultConfig_OnlyNeedsSecret(t *testing.T) {
	err := defaultConfig().Validate()
	if err == nil {
		t.Fatal("defaults without a JWT secret should not validate")
	}
	if strings.Count(err.Error(), ";") != 0 {
		t.Errorf("defaults should fail on the secret alone, got %v", err)
	}
	if err := validConfig().Validate(); err != nil {
		t.Errorf("defaults with a secret should validate, got %v", err)
	}
}

func TestDefaultConfig_DoorCounter(t *testing.T) {
	door := defaultConfig().Door

	// Five failures leave the counter at five with the alarm raised.
	if door.AlarmThreshold != 5 {
		t.Errorf("AlarmThreshold = %d, want 5", door.AlarmThreshold)
	}
	if door.ResetCounterOnAlarm {
		t.Error("ResetCounterOnAlarm defaults to true, want false")
	}

	t.Setenv("GRAYLOGIC_JWT_SECRET", testSecret)
	cfg, err := Load(filepath.Join("..", "..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("Load(configs/config.yaml) error = %v", err)
	}
	if cfg.Door.ResetCounterOnAlarm != door.ResetCounterOnAlarm {
		t.Error("configs/config.yaml disagrees with the built-in counter default")
	}
}
