package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Logger      struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format     string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output     string `yaml:"output" default:"stdout"`
		MaxSizeMB  int    `yaml:"max_size_mb" default:"100"`
		MaxBackups int    `yaml:"max_backups" default:"5"`
		MaxAgeDays int    `yaml:"max_age_days" default:"14"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`
	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"20s"`
	} `yaml:"server"`
	Kafka struct {
		Brokers           []string `yaml:"brokers"`
		IndicatorTopic    string   `yaml:"indicator_topic" default:"indicators"`
		NotificationTopic string   `yaml:"notification_topic" default:"signal-events"`
		LogTopic          string   `yaml:"log_topic" default:"engine-logs"`
		RequiredAcks      int      `yaml:"required_acks" default:"-1"`
		Compression       string   `yaml:"compression" default:"snappy"`
		Producer          struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID     string        `yaml:"group_id" default:"signalflow"`
			StartOffset string        `yaml:"start_offset" default:"latest" validate:"oneof=earliest latest"`
			Workers     int           `yaml:"workers" default:"4"`
			BufferSize  int           `yaml:"buffer_size" default:"256"`
			RetryMax    int           `yaml:"retry_max" default:"3"`
			BackoffMin  time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax  time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic    string        `yaml:"dlq_topic"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"signalflow"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"signalflow"`
	} `yaml:"redis"`
	Ledger struct {
		Backend      string        `yaml:"backend" default:"sql" validate:"oneof=sql clickhouse"`
		Driver       string        `yaml:"driver" default:"sqlite" validate:"oneof=sqlite postgres"`
		DSN          string        `yaml:"dsn" default:"file:signalflow.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"`
		Table        string        `yaml:"table" default:"signal_outcomes"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
		RetryMax     int           `yaml:"retry_max" default:"5"`
		BackoffMin   time.Duration `yaml:"backoff_min" default:"100ms"`
		BackoffMax   time.Duration `yaml:"backoff_max" default:"5s"`
	} `yaml:"ledger"`
	PriceFeed struct {
		WebSocketURL   string        `yaml:"websocket_url"`
		RESTURL        string        `yaml:"rest_url"`
		APIKey         string        `yaml:"api_key"`
		Timeout        time.Duration `yaml:"timeout" default:"3s"`
		RetryMax       int           `yaml:"retry_max" default:"2"`
		BackoffMin     time.Duration `yaml:"backoff_min" default:"200ms"`
		BackoffMax     time.Duration `yaml:"backoff_max" default:"2s"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"20s"`
	} `yaml:"price_feed"`
	Notifications struct {
		Queue         string        `yaml:"queue" default:"memory" validate:"oneof=memory redis"`
		Workers       int           `yaml:"workers" default:"2"`
		QueueSize     int           `yaml:"queue_size" default:"1024"`
		RetryLimit    int           `yaml:"retry_limit" default:"3"`
		RetryDelay    time.Duration `yaml:"retry_delay" default:"5s"`
		Kafka         bool          `yaml:"kafka"`
		WebhookURL    string        `yaml:"webhook_url"`
		AlarmInterval time.Duration `yaml:"alarm_interval" default:"15m"`
	} `yaml:"notifications"`
	Engine EngineConfig `yaml:"engine"`
	Rules  RulesFile    `yaml:"rules" validate:"-"`
}

// EngineConfig holds cadences and bounds shared by all symbols.
type EngineConfig struct {
	InstanceID         string        `yaml:"instance_id"`
	Symbols            []string      `yaml:"symbols" validate:"min=1,dive,required"`
	EvaluationInterval time.Duration `yaml:"evaluation_interval" default:"1m" validate:"gt=0"`
	MonitorInterval    time.Duration `yaml:"monitor_interval" default:"5s" validate:"gt=0"`
	RecheckInterval    time.Duration `yaml:"recheck_interval" default:"1m" validate:"gt=0"`
	Window             time.Duration `yaml:"window" default:"5m" validate:"gt=0"`
	SampleStaleness    time.Duration `yaml:"sample_staleness" default:"5m" validate:"gt=0"`
	PriceFreshness     time.Duration `yaml:"price_freshness" default:"30s" validate:"gt=0"`
	StaleGrace         time.Duration `yaml:"stale_grace" default:"30s"`
	TimeoutBudget      int           `yaml:"timeout_budget" default:"5" validate:"min=1"`
	BudgetWindow       time.Duration `yaml:"budget_window" default:"10m" validate:"gt=0"`
	PauseDuration      time.Duration `yaml:"pause_duration" default:"15m" validate:"gt=0"`
	LeaseTTL           time.Duration `yaml:"lease_ttl" default:"30s" validate:"gt=0"`
	HistorySize        int           `yaml:"history_size" default:"512" validate:"min=2"`
	ReportInterval     time.Duration `yaml:"report_interval" default:"1h"`
	// MetricKinds overrides the reducer per metric: sum, avg or latest.
	MetricKinds map[string]string `yaml:"metric_kinds" validate:"dive,oneof=sum avg latest"`
}

var validate = validator.New()

// Load reads a YAML file, applies defaults and validates it.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes raw YAML, applies defaults and validates.
func Parse(raw []byte) (*Config, error) {
	c, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func decode(raw []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads an optional .env file next to the process, then the
// YAML file, then applies SIGNALFLOW_* overrides.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SIGNALFLOW_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("SIGNALFLOW_SYMBOLS"); v != "" {
		c.Engine.Symbols = splitList(v)
	}
	if v := os.Getenv("SIGNALFLOW_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("SIGNALFLOW_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("SIGNALFLOW_LEDGER_DSN"); v != "" {
		c.Ledger.DSN = v
	}
	if v := os.Getenv("SIGNALFLOW_PRICE_API_KEY"); v != "" {
		c.PriceFeed.APIKey = v
	}
	if v := os.Getenv("SIGNALFLOW_WEBHOOK_URL"); v != "" {
		c.Notifications.WebhookURL = v
	}
	if v := os.Getenv("SIGNALFLOW_HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks process level settings. Symbol rules are validated
// separately when a snapshot is built so a bad symbol does not stop the others.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Ledger.Backend == "clickhouse" && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when ledger.backend is clickhouse")
	}
	if c.Notifications.Queue == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when notifications.queue is redis")
	}
	if c.Notifications.Kafka && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers are required for kafka notifications")
	}
	return nil
}
