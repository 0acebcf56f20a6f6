// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/auth"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     auth.Config    `mapstructure:"auth"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Anomaly  AnomalyConfig  `mapstructure:"anomaly"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Notify   NotifyConfig   `mapstructure:"notify"`

	// File is the config file that was read, empty when running on defaults.
	File string `mapstructure:"-"`
}

type ServerConfig struct {
	DataPort        int           `mapstructure:"data_port"`
	UIPort          int           `mapstructure:"ui_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RealtimeConfig struct {
	QueueSize      int      `mapstructure:"queue_size"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type AlertsConfig struct {
	// QuietPeriod suppresses repeat alerts per (node, metric). Zero disables it.
	QuietPeriod     time.Duration `mapstructure:"quiet_period"`
	Retention       time.Duration `mapstructure:"retention"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
	OfflineAfter    time.Duration `mapstructure:"offline_after"`
}

type AnomalyConfig struct {
	// DefaultPolicy is keyed by metric name; viper lowercases keys, so
	// Policy() matches them case-insensitively.
	DefaultPolicy map[string]data.Bounds `mapstructure:"default_policy"`
	Rules         []RuleConfig           `mapstructure:"rules"`
}

// RuleConfig adds or overrides one row of the evaluator's rule table.
type RuleConfig struct {
	Metric   string `mapstructure:"metric"`
	Bound    string `mapstructure:"bound"` // low or high
	Severity string `mapstructure:"severity"`
	Type     string `mapstructure:"type"`
}

type StorageConfig struct {
	ReadingsPerNode int `mapstructure:"readings_per_node"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
}

type NotifyConfig struct {
	Workers   int           `mapstructure:"workers"`
	QueueSize int           `mapstructure:"queue_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Email     ChannelConfig `mapstructure:"email"`
	SMS       ChannelConfig `mapstructure:"sms"`
	Push      ChannelConfig `mapstructure:"push"`
	Contacts  []Contact     `mapstructure:"contacts"`
}

type ChannelConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
}

// Contact is the destination book entry of one owner.
type Contact struct {
	Owner     string `mapstructure:"owner"`
	Email     string `mapstructure:"email"`
	Phone     string `mapstructure:"phone"`
	PushToken string `mapstructure:"push_token"`
}

// Load reads config.yaml from path, then applies AGROMESH_* environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvPrefix("AGROMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.data_port", 8080)
	v.SetDefault("server.ui_port", 8081)
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_expiration", 60)
	v.SetDefault("auth.api_keys", []string{})
	v.SetDefault("auth.shared_visibility", false)

	v.SetDefault("realtime.queue_size", 256)
	v.SetDefault("realtime.allowed_origins", []string{})

	v.SetDefault("alerts.quiet_period", "0s")
	v.SetDefault("alerts.retention", "720h")
	v.SetDefault("alerts.janitor_interval", "1h")
	v.SetDefault("alerts.offline_after", "5m")

	defaults := map[string]interface{}{}
	for metric, b := range data.DefaultPolicy() {
		defaults[string(metric)] = map[string]interface{}{"min": b.Min, "max": b.Max}
	}
	v.SetDefault("anomaly.default_policy", defaults)

	v.SetDefault("storage.readings_per_node", 100)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("postgres.dsn", "")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "agromesh-gateway")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "agromesh/nodes")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.queue_size", 1000)
	v.SetDefault("notify.timeout", "10s")
	v.SetDefault("notify.email.enabled", true)
	v.SetDefault("notify.email.webhook_url", "")
	v.SetDefault("notify.sms.enabled", false)
	v.SetDefault("notify.sms.webhook_url", "")
	v.SetDefault("notify.push.enabled", false)
	v.SetDefault("notify.push.webhook_url", "")
}

// Validate rejects settings the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("%w: auth.jwt_secret is required", data.ErrValidation)
	}
	if c.Auth.JWTExpiration <= 0 {
		return fmt.Errorf("%w: auth.jwt_expiration must be positive", data.ErrValidation)
	}
	if c.Realtime.QueueSize <= 0 {
		return fmt.Errorf("%w: realtime.queue_size must be positive", data.ErrValidation)
	}
	if c.Alerts.QuietPeriod < 0 {
		return fmt.Errorf("%w: alerts.quiet_period must not be negative", data.ErrValidation)
	}
	if c.Alerts.Retention <= 0 || c.Alerts.JanitorInterval <= 0 {
		return fmt.Errorf("%w: alerts.retention and alerts.janitor_interval must be positive", data.ErrValidation)
	}
	if c.Storage.ReadingsPerNode <= 0 {
		return fmt.Errorf("%w: storage.readings_per_node must be positive", data.ErrValidation)
	}
	if c.Notify.Workers <= 0 || c.Notify.QueueSize <= 0 {
		return fmt.Errorf("%w: notify.workers and notify.queue_size must be positive", data.ErrValidation)
	}
	if _, err := c.Anomaly.Policy(); err != nil {
		return err
	}
	for _, r := range c.Anomaly.Rules {
		if r.Bound != "low" && r.Bound != "high" {
			return fmt.Errorf("%w: anomaly rule for %s has bound %q, want low or high", data.ErrValidation, r.Metric, r.Bound)
		}
		if _, ok := LookupMetric(r.Metric); !ok {
			return fmt.Errorf("%w: anomaly rule names unknown metric %q", data.ErrValidation, r.Metric)
		}
		if !data.Severity(r.Severity).Valid() {
			return fmt.Errorf("%w: anomaly rule for %s has severity %q", data.ErrValidation, r.Metric, r.Severity)
		}
		if r.Type != "" && !data.AlertType(r.Type).Valid() {
			return fmt.Errorf("%w: anomaly rule for %s has type %q", data.ErrValidation, r.Metric, r.Type)
		}
	}
	return nil
}

// Policy returns the default threshold policy with canonical metric names.
func (a AnomalyConfig) Policy() (data.ThresholdPolicy, error) {
	policy := make(data.ThresholdPolicy, len(a.DefaultPolicy))
	for name, b := range a.DefaultPolicy {
		metric, ok := LookupMetric(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown metric %q in anomaly.default_policy", data.ErrValidation, name)
		}
		policy[metric] = b
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}

// LookupMetric resolves a metric name regardless of case.
func LookupMetric(name string) (data.Metric, bool) {
	for _, m := range data.AllMetrics {
		if strings.EqualFold(string(m), name) {
			return m, true
		}
	}
	return "", false
}
