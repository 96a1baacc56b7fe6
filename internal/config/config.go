package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Scylla     ScyllaConfig     `mapstructure:"scylla"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	CallBridge CallBridgeConfig `mapstructure:"call_bridge"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
}

type AppConfig struct {
	Name          string `mapstructure:"name"`
	Env           string `mapstructure:"env"`
	Version       string `mapstructure:"version"`
	DefaultRegion string `mapstructure:"default_region"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	BodyLimit    int           `mapstructure:"body_limit"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type ScyllaConfig struct {
	Hosts       []string      `mapstructure:"hosts"`
	Port        int           `mapstructure:"port"`
	Keyspace    string        `mapstructure:"keyspace"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
	JournalTTL  time.Duration `mapstructure:"journal_ttl"`
}

type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	ClientID        string        `mapstructure:"client_id"`
	StatusTopic     string        `mapstructure:"status_topic"`
	ConsumerGroupID string        `mapstructure:"consumer_group_id"`
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
	Partitions      int           `mapstructure:"partitions"`
	Replication     int           `mapstructure:"replication"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint       string  `mapstructure:"endpoint"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type SchedulerConfig struct {
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	MaxBatchSize  int           `mapstructure:"max_batch_size"`
	LockEnabled   bool          `mapstructure:"lock_enabled"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	LockKeyPrefix string        `mapstructure:"lock_key_prefix"`
	TimeZone      string        `mapstructure:"time_zone"`
}

// CallBridgeConfig configures the outbound dispatch gateway.
type CallBridgeConfig struct {
	ProviderName     string        `mapstructure:"provider_name"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	BaseURL          string        `mapstructure:"base_url"`
	CallsPath        string        `mapstructure:"calls_path"`
	APIKey           string        `mapstructure:"api_key"`
	AssistantID      string        `mapstructure:"assistant_id"`
	PhoneNumberID    string        `mapstructure:"phone_number_id"`
	WebhookURL       string        `mapstructure:"webhook_url"`
	MockFailureRate  float64       `mapstructure:"mock_failure_rate"`
	// MockNoAnswerRate is the share of accepted mock calls that end unanswered.
	MockNoAnswerRate float64       `mapstructure:"mock_no_answer_rate"`
	MockCallDuration time.Duration `mapstructure:"mock_call_duration"`
}

// WebhookConfig configures inbound provider event verification.
type WebhookConfig struct {
	Secret           string   `mapstructure:"secret"`
	AllowUnverified  bool     `mapstructure:"allow_unverified"`
	SignatureHeaders []string `mapstructure:"signature_headers"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(NewEnvReplacer())
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pharmacy-outreach")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.default_region", "US")
	v.SetDefault("http.port", 8080)
	v.SetDefault("kafka.status_topic", "call-status")
	v.SetDefault("kafka.consumer_group_id", "pharmacy-outreach")
	v.SetDefault("kafka.partitions", 12)
	v.SetDefault("kafka.replication", 1)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("scheduler.tick_interval", time.Minute)
	v.SetDefault("scheduler.max_batch_size", 10)
	v.SetDefault("scheduler.lock_ttl", 2*time.Minute)
	v.SetDefault("scheduler.lock_key_prefix", "outreach:scheduler")
	v.SetDefault("scheduler.time_zone", "Local")
	v.SetDefault("call_bridge.provider_name", "vapi")
	v.SetDefault("call_bridge.request_timeout", 10*time.Second)
	v.SetDefault("call_bridge.base_url", "https://api.vapi.ai")
	v.SetDefault("call_bridge.calls_path", "/v1/call")
	v.SetDefault("call_bridge.mock_call_duration", 10*time.Second)
}

// Validate fills zero values and rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.Scheduler.MaxBatchSize <= 0 {
		c.Scheduler.MaxBatchSize = 10
	}
	if c.Scheduler.TickInterval <= 0 {
		c.Scheduler.TickInterval = time.Minute
	}
	if c.Scheduler.LockTTL <= 0 {
		c.Scheduler.LockTTL = 2 * c.Scheduler.TickInterval
	}
	if c.CallBridge.RequestTimeout <= 0 {
		c.CallBridge.RequestTimeout = 10 * time.Second
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if _, err := c.Scheduler.Location(); err != nil {
		return fmt.Errorf("config: scheduler.time_zone: %w", err)
	}

	switch c.CallBridge.ProviderName {
	case "vapi":
		if c.CallBridge.BaseURL == "" {
			return fmt.Errorf("config: call_bridge.base_url is required for provider vapi")
		}
	case "mock":
		if c.CallBridge.MockFailureRate < 0 || c.CallBridge.MockFailureRate > 1 {
			return fmt.Errorf("config: call_bridge.mock_failure_rate must be within [0,1]")
		}
		if c.CallBridge.MockNoAnswerRate < 0 || c.CallBridge.MockNoAnswerRate > 1 {
			return fmt.Errorf("config: call_bridge.mock_no_answer_rate must be within [0,1]")
		}
	default:
		return fmt.Errorf("config: unknown call_bridge.provider_name %q", c.CallBridge.ProviderName)
	}

	if c.IsProduction() && c.Webhook.Secret == "" && !c.Webhook.AllowUnverified {
		return fmt.Errorf("config: webhook.secret is required in production")
	}

	return nil
}

// IsProduction reports whether the app runs with production settings.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// Location resolves the scheduler's allowed-hours time zone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.TimeZone == "" || s.TimeZone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(s.TimeZone)
}
