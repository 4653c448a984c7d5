// Package config loads fleetd's configuration: YAML defaults layered with
// ${VAR}-braced environment overrides, in the shape of the ingestion
// service's internal/adapter/config/config.go, extended with spf13/viper
// for the env-var binding layer.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the complete fleetd configuration.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Polling    PollingConfig    `yaml:"polling"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Retention  RetentionConfig  `yaml:"retention"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServiceConfig identifies the running process.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
}

// HTTPConfig configures the control-surface HTTP server.
type HTTPConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Database    string        `yaml:"database"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	PoolSize    int           `yaml:"pool_size"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
}

// PollingConfig tunes the per-device poller fleet.
type PollingConfig struct {
	DefaultInterval time.Duration `yaml:"default_interval"`
	DefaultTimeout  time.Duration `yaml:"default_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CacheSize       int           `yaml:"cache_size"`
	SupervisorTick  time.Duration `yaml:"supervisor_tick"`
}

// DiscoveryConfig tunes the network discovery pipeline.
type DiscoveryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Interfaces     []string      `yaml:"interfaces"`
	Schedule       time.Duration `yaml:"schedule"`
	DeepScan       bool          `yaml:"deep_scan"`
	NmapPath       string        `yaml:"nmap_path"`
	PassiveWindow  time.Duration `yaml:"passive_window"`
	ImportOnFinish bool          `yaml:"import_on_finish"`
}

// RetentionConfig tunes the reading-pruning background task.
type RetentionConfig struct {
	Days     int           `yaml:"days"`
	Schedule time.Duration `yaml:"schedule"`
}

// MQTTConfig configures the optional telemetry republish path. BrokerURL
// empty disables the publisher entirely.
type MQTTConfig struct {
	BrokerURL string        `yaml:"broker_url"`
	ClientID  string        `yaml:"client_id"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	TopicRoot string        `yaml:"topic_root"`
	QoS       byte          `yaml:"qos"`
	KeepAlive time.Duration `yaml:"keep_alive"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var envBraceRe = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvBraces expands ${VAR} and ${VAR:default} in place, leaving any
// other text (including bare $VAR references) untouched.
func expandEnvBraces(s string) string {
	return envBraceRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envBraceRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

// Load reads a YAML config file, expands environment braces, applies
// defaults, binds FLEETD_-prefixed environment overrides via viper, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded := expandEnvBraces(string(raw))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "fleetd"
	}
	if cfg.Service.Environment == "" {
		cfg.Service.Environment = "development"
	}

	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 10 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 10 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.Database == "" {
		cfg.Database.Database = "plc_fleet"
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "plc_fleet"
	}
	if cfg.Database.PoolSize == 0 {
		cfg.Database.PoolSize = 10
	}
	if cfg.Database.MaxIdleTime == 0 {
		cfg.Database.MaxIdleTime = 5 * time.Minute
	}

	if cfg.Polling.DefaultInterval == 0 {
		cfg.Polling.DefaultInterval = 5 * time.Second
	}
	if cfg.Polling.DefaultTimeout == 0 {
		cfg.Polling.DefaultTimeout = 3 * time.Second
	}
	if cfg.Polling.MaxRetries == 0 {
		cfg.Polling.MaxRetries = 3
	}
	if cfg.Polling.ShutdownTimeout == 0 {
		cfg.Polling.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Polling.CacheSize == 0 {
		cfg.Polling.CacheSize = 1000
	}
	if cfg.Polling.SupervisorTick == 0 {
		cfg.Polling.SupervisorTick = 5 * time.Second
	}

	if cfg.Discovery.Schedule == 0 {
		cfg.Discovery.Schedule = 1 * time.Hour
	}
	if cfg.Discovery.NmapPath == "" {
		cfg.Discovery.NmapPath = "nmap"
	}
	if cfg.Discovery.PassiveWindow == 0 {
		cfg.Discovery.PassiveWindow = 10 * time.Second
	}

	if cfg.Retention.Days == 0 {
		cfg.Retention.Days = 90
	}
	if cfg.Retention.Schedule == 0 {
		cfg.Retention.Schedule = 24 * time.Hour
	}

	if cfg.MQTT.ClientID == "" {
		hostname, _ := os.Hostname()
		cfg.MQTT.ClientID = fmt.Sprintf("plc-fleet-%s", hostname)
	}
	if cfg.MQTT.TopicRoot == "" {
		cfg.MQTT.TopicRoot = "plc-fleet"
	}
	if cfg.MQTT.QoS == 0 {
		cfg.MQTT.QoS = 1
	}
	if cfg.MQTT.KeepAlive == 0 {
		cfg.MQTT.KeepAlive = 30 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// applyEnvOverrides binds FLEETD_-prefixed environment variables over viper
// so operators can override any scalar field without editing the YAML file.
func applyEnvOverrides(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix("FLEETD")
	v.AutomaticEnv()

	if val := v.GetString("HTTP_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &cfg.HTTP.Port)
	}
	if val := v.GetString("DB_HOST"); val != "" {
		cfg.Database.Host = val
	}
	if val := v.GetString("DB_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &cfg.Database.Port)
	}
	if val := v.GetString("DB_NAME"); val != "" {
		cfg.Database.Database = val
	}
	if val := v.GetString("DB_USER"); val != "" {
		cfg.Database.User = val
	}
	if val := v.GetString("DB_PASSWORD"); val != "" {
		cfg.Database.Password = val
	}
	if val := v.GetString("MQTT_BROKER_URL"); val != "" {
		cfg.MQTT.BrokerURL = val
	}
	if val := v.GetString("LOGGING_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := v.GetString("DISCOVERY_ENABLED"); val != "" {
		cfg.Discovery.Enabled = val == "true" || val == "1"
	}
}

func validate(cfg *Config) error {
	if cfg.Database.Password == "" && cfg.Service.Environment == "production" {
		return fmt.Errorf("database password is required in production")
	}
	if cfg.Polling.MaxRetries < 1 {
		return fmt.Errorf("polling.max_retries must be at least 1")
	}
	if cfg.Retention.Days < 1 {
		return fmt.Errorf("retention.days must be at least 1")
	}
	return nil
}
