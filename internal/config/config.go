package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the runtime configuration of the engine and its collaborators
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Health    HealthConfig    `mapstructure:"health"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// StoreConfig bounds every metric series by count and age
type StoreConfig struct {
	MaxPoints int           `mapstructure:"max_points"`
	MaxAge    time.Duration `mapstructure:"max_age"`
}

// SchedulerConfig holds cron specs for each periodic loop.
// Any robfig/cron spec is accepted, e.g. "@every 10s" or "*/30 * * * * *".
type SchedulerConfig struct {
	Collect         string        `mapstructure:"collect"`
	Evaluate        string        `mapstructure:"evaluate"`
	Health          string        `mapstructure:"health"`
	Prune           string        `mapstructure:"prune"`
	RefreshRules    string        `mapstructure:"refresh_rules"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type HealthConfig struct {
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	SystemScope  string        `mapstructure:"system_scope"`
}

// NotifyConfig controls the notification worker pool and its retry policy
type NotifyConfig struct {
	Workers           int           `mapstructure:"workers"`
	QueueSize         int           `mapstructure:"queue_size"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	SendTimeout       time.Duration `mapstructure:"send_timeout"`
}

type AlertsConfig struct {
	ResolvedRetention time.Duration `mapstructure:"resolved_retention"`
	HistoryRetention  time.Duration `mapstructure:"history_retention"`
}

// RulesConfig selects where enabled rules are loaded from: "sqlite" or "file"
type RulesConfig struct {
	Source       string `mapstructure:"source"`
	Path         string `mapstructure:"path"`
	Organization string `mapstructure:"organization"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type NATSConfig struct {
	URL                string        `mapstructure:"url"`
	AlertSubjectPrefix string        `mapstructure:"alert_subject_prefix"`
	MetricSubject      string        `mapstructure:"metric_subject"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	MaxReconnects      int           `mapstructure:"max_reconnects"`
	ReconnectWait      time.Duration `mapstructure:"reconnect_wait"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type WebhookConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type DockerConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("store.max_points", 1000)
	v.SetDefault("store.max_age", time.Hour)

	v.SetDefault("scheduler.collect", "@every 30s")
	v.SetDefault("scheduler.evaluate", "@every 10s")
	v.SetDefault("scheduler.health", "@every 30s")
	v.SetDefault("scheduler.prune", "@every 1m")
	v.SetDefault("scheduler.refresh_rules", "@every 1m")
	v.SetDefault("scheduler.shutdown_timeout", 10*time.Second)

	v.SetDefault("health.probe_timeout", 5*time.Second)
	v.SetDefault("health.system_scope", "system")

	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.max_attempts", 3)
	v.SetDefault("notify.initial_backoff", 200*time.Millisecond)
	v.SetDefault("notify.max_backoff", 2*time.Second)
	v.SetDefault("notify.backoff_multiplier", 2.0)
	v.SetDefault("notify.send_timeout", 10*time.Second)

	v.SetDefault("alerts.resolved_retention", 24*time.Hour)
	v.SetDefault("alerts.history_retention", 30*24*time.Hour)

	v.SetDefault("rules.source", "sqlite")
	v.SetDefault("database.path", "metricwatch.db")

	v.SetDefault("nats.alert_subject_prefix", "alert")
	v.SetDefault("nats.metric_subject", "metrics.>")
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)

	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("metrics.address", ":2112")
}

// Load reads configuration from path (or config.yaml in ./config and .),
// applying METRICWATCH_* environment overrides on top of the defaults.
// A missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("METRICWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration built from defaults alone
func Default() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static and always decode.
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return &cfg
}

// Validate rejects configurations the engine cannot run with
func (c *Config) Validate() error {
	if c.Store.MaxPoints <= 0 {
		return fmt.Errorf("store.max_points must be positive, got %d", c.Store.MaxPoints)
	}
	if c.Store.MaxAge <= 0 {
		return fmt.Errorf("store.max_age must be positive, got %s", c.Store.MaxAge)
	}
	if c.Notify.MaxAttempts <= 0 {
		return fmt.Errorf("notify.max_attempts must be positive, got %d", c.Notify.MaxAttempts)
	}
	if c.Health.ProbeTimeout <= 0 {
		return fmt.Errorf("health.probe_timeout must be positive, got %s", c.Health.ProbeTimeout)
	}
	switch c.Rules.Source {
	case "sqlite":
	case "file":
		if c.Rules.Path == "" {
			return errors.New("rules.path is required when rules.source is file")
		}
	default:
		return fmt.Errorf("unknown rules.source %q", c.Rules.Source)
	}
	return nil
}
