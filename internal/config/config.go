// Package config loads the settings shared by the order producer and the
// order consumer. Values start from the defaults, then an optional YAML file,
// then ORDERQUEUE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/models"
)

// BrokerKind selects the queue transport backend.
type BrokerKind string

const (
	BrokerRabbitMQ BrokerKind = "rabbitmq"
	BrokerKafka    BrokerKind = "kafka"
	// BrokerMemory is the in-process broker. Producer and consumer must share
	// one process, so it is only usable from tests.
	BrokerMemory BrokerKind = "memory"
)

// ErrInProcessBroker is returned by RequireShared for the memory broker.
var ErrInProcessBroker = errors.New("memory broker only works inside one process; use rabbitmq or kafka")

// AckMode selects when the consumer acknowledges a delivery.
type AckMode string

const (
	// AckImmediate acknowledges on receipt, before any processing (at-most-once).
	AckImmediate AckMode = "immediate"
	// AckAfterSuccess acknowledges only once the pipeline completed (at-least-once).
	AckAfterSuccess AckMode = "after-success"
)

// Config is the complete application configuration.
type Config struct {
	Broker   BrokerConfig   `yaml:"broker"`
	Queue    QueueConfig    `yaml:"queue"`
	Producer ProducerConfig `yaml:"producer"`
	Consumer ConsumerConfig `yaml:"consumer"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Consul   ConsulConfig   `yaml:"consul"`
	Logger   LoggerConfig   `yaml:"logger"`
}

// BrokerConfig holds transport connection settings.
type BrokerConfig struct {
	Kind         BrokerKind    `yaml:"kind"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	VHost        string        `yaml:"vhost"`
	KafkaBrokers []string      `yaml:"kafka_brokers"`
	KafkaGroupID string        `yaml:"kafka_group_id"`
	Confirms     bool          `yaml:"confirms"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
}

// QueueConfig identifies the single queue both sides declare.
type QueueConfig struct {
	Name string `yaml:"name"`
	// Transient declares a non-durable queue.
	Transient bool `yaml:"transient"`
}

// ProducerConfig drives the order generator.
type ProducerConfig struct {
	Count    int           `yaml:"count"`
	Interval time.Duration `yaml:"interval"`
	Catalog  []string      `yaml:"catalog"`
	// Seed fixes the random source; zero picks a fresh seed per run.
	Seed uint64 `yaml:"seed"`
}

// ConsumerConfig drives the order processor.
type ConsumerConfig struct {
	AckMode      AckMode       `yaml:"ack_mode"`
	Prefetch     int           `yaml:"prefetch"`
	ConsumerTag  string        `yaml:"consumer_tag"`
	StepDuration time.Duration `yaml:"step_duration"`
	Steps        []StepConfig  `yaml:"steps"`
	ShippingRate float64       `yaml:"shipping_rate"`
	HTTPPort     int           `yaml:"http_port"`
	DedupTTL     time.Duration `yaml:"dedup_ttl"`
}

// StepConfig names one pipeline step and how long it takes.
type StepConfig struct {
	Name     string        `yaml:"name"`
	Duration time.Duration `yaml:"duration"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// PostgresConfig holds the inventory database settings.
type PostgresConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConsulConfig holds service registration settings.
type ConsulConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	ServiceName string   `yaml:"service_name"`
	ServiceID   string   `yaml:"service_id"`
	Tags        []string `yaml:"tags"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Kind:         BrokerRabbitMQ,
			Host:         "localhost",
			Port:         5672,
			User:         "guest",
			Password:     "guest",
			VHost:        "/",
			KafkaBrokers: []string{"localhost:9092"},
			KafkaGroupID: "order-processor",
			DialTimeout:  5 * time.Second,
		},
		Queue: QueueConfig{Name: "order_queue"},
		Producer: ProducerConfig{
			Count:    10,
			Interval: 500 * time.Millisecond,
			Catalog:  append([]string(nil), models.DefaultCatalog...),
		},
		Consumer: ConsumerConfig{
			AckMode:      AckImmediate,
			Prefetch:     1,
			ConsumerTag:  "order-processor",
			StepDuration: 300 * time.Millisecond,
			ShippingRate: 4.99,
			HTTPPort:     8083,
			DedupTTL:     24 * time.Hour,
		},
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			CacheTTL: 5 * time.Minute,
		},
		Postgres: PostgresConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
		Consul: ConsulConfig{
			Host:        "localhost",
			Port:        8500,
			ServiceName: "order-consumer",
			ServiceID:   "order-consumer-1",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load applies the YAML file at path, if any, over the defaults, then the
// environment overrides, and validates the result. A key set to its zero
// value in the file keeps that zero value.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values the components cannot run with.
func (c *Config) Validate() error {
	switch c.Broker.Kind {
	case BrokerRabbitMQ, BrokerKafka, BrokerMemory:
	default:
		return fmt.Errorf("unknown broker kind %q", c.Broker.Kind)
	}
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		return fmt.Errorf("broker port %d out of range", c.Broker.Port)
	}
	if c.Broker.Kind == BrokerKafka && len(c.Broker.KafkaBrokers) == 0 {
		return errors.New("kafka_brokers must not be empty")
	}
	if c.Queue.Name == "" {
		return errors.New("queue name must not be empty")
	}

	if c.Producer.Count < 1 {
		return fmt.Errorf("producer count must be >= 1, got %d", c.Producer.Count)
	}
	if c.Producer.Interval < 0 {
		return errors.New("producer interval must not be negative")
	}
	if err := models.Catalog(c.Producer.Catalog).Validate(); err != nil {
		return fmt.Errorf("producer %w", err)
	}

	switch c.Consumer.AckMode {
	case AckImmediate, AckAfterSuccess:
	default:
		return fmt.Errorf("unknown ack mode %q", c.Consumer.AckMode)
	}
	if c.Consumer.Prefetch < 1 {
		return fmt.Errorf("consumer prefetch must be >= 1, got %d", c.Consumer.Prefetch)
	}
	if c.Consumer.StepDuration < 0 {
		return errors.New("step duration must not be negative")
	}
	seen := make(map[string]bool)
	for _, s := range c.Consumer.Steps {
		if s.Name == "" {
			return errors.New("pipeline step name must not be empty")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate pipeline step %q", s.Name)
		}
		seen[s.Name] = true
		if s.Duration < 0 {
			return fmt.Errorf("step %q duration must not be negative", s.Name)
		}
	}
	if c.Consumer.ShippingRate < 0 {
		return errors.New("shipping rate must not be negative")
	}
	if c.Consumer.HTTPPort <= 0 || c.Consumer.HTTPPort > 65535 {
		return fmt.Errorf("consumer http port %d out of range", c.Consumer.HTTPPort)
	}

	switch c.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logger.Level)
	}
	switch c.Logger.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.Logger.Format)
	}

	return nil
}

// Durable reports whether the queue survives a broker restart.
func (c *QueueConfig) Durable() bool {
	return !c.Transient
}

// RequireShared fails for a broker that other processes cannot reach.
func (c *BrokerConfig) RequireShared() error {
	if c.Kind == BrokerMemory {
		return ErrInProcessBroker
	}
	return nil
}

// Address returns the broker address in host:port format.
func (c *BrokerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// URL returns the AMQP connection URL.
func (c *BrokerConfig) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Address(),
		Path:   "/",
	}
	if c.VHost != "" && c.VHost != "/" {
		u.Path = "/" + c.VHost
		u.RawPath = "/" + url.PathEscape(c.VHost)
	}
	return u.String()
}

// RedactedURL returns URL with the password masked, for logs and errors.
func (c *BrokerConfig) RedactedURL() string {
	u, err := url.Parse(c.URL())
	if err != nil {
		return c.Address()
	}
	return u.Redacted()
}

// RedisAddr returns the Redis address in host:port format.
func (c *RedisConfig) RedisAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
