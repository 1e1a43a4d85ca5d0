package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "ORDERQUEUE_"

// applyEnv overlays ORDERQUEUE_* environment variables on cfg.
func applyEnv(cfg *Config) error {
	cfg.Broker.Kind = BrokerKind(getEnv("BROKER_KIND", string(cfg.Broker.Kind)))
	cfg.Broker.Host = getEnv("BROKER_HOST", cfg.Broker.Host)
	cfg.Broker.User = getEnv("BROKER_USER", cfg.Broker.User)
	cfg.Broker.Password = getEnv("BROKER_PASSWORD", cfg.Broker.Password)
	cfg.Broker.VHost = getEnv("BROKER_VHOST", cfg.Broker.VHost)
	if v := getEnv("KAFKA_BROKERS", ""); v != "" {
		cfg.Broker.KafkaBrokers = splitCSV(v)
	}
	cfg.Queue.Name = getEnv("QUEUE_NAME", cfg.Queue.Name)
	cfg.Consumer.AckMode = AckMode(getEnv("CONSUMER_ACK_MODE", string(cfg.Consumer.AckMode)))
	cfg.Redis.Host = getEnv("REDIS_HOST", cfg.Redis.Host)
	cfg.Postgres.Host = getEnv("POSTGRES_HOST", cfg.Postgres.Host)
	cfg.Postgres.Password = getEnv("POSTGRES_PASSWORD", cfg.Postgres.Password)
	cfg.Consul.Host = getEnv("CONSUL_HOST", cfg.Consul.Host)
	cfg.Logger.Level = getEnv("LOG_LEVEL", cfg.Logger.Level)
	cfg.Logger.Format = getEnv("LOG_FORMAT", cfg.Logger.Format)

	ints := []struct {
		key string
		dst *int
	}{
		{"BROKER_PORT", &cfg.Broker.Port},
		{"PRODUCER_COUNT", &cfg.Producer.Count},
		{"CONSUMER_PREFETCH", &cfg.Consumer.Prefetch},
		{"CONSUMER_HTTP_PORT", &cfg.Consumer.HTTPPort},
		{"REDIS_PORT", &cfg.Redis.Port},
		{"POSTGRES_PORT", &cfg.Postgres.Port},
	}
	for _, e := range ints {
		v, err := getEnvInt(e.key, *e.dst)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, e.key, err)
		}
		*e.dst = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"PRODUCER_INTERVAL", &cfg.Producer.Interval},
		{"CONSUMER_STEP_DURATION", &cfg.Consumer.StepDuration},
	}
	for _, e := range durations {
		v, err := getEnvDuration(e.key, *e.dst)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, e.key, err)
		}
		*e.dst = v
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"BROKER_CONFIRMS", &cfg.Broker.Confirms},
		{"REDIS_ENABLED", &cfg.Redis.Enabled},
		{"POSTGRES_ENABLED", &cfg.Postgres.Enabled},
		{"CONSUL_ENABLED", &cfg.Consul.Enabled},
	}
	for _, e := range bools {
		v, err := getEnvBool(e.key, *e.dst)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, e.key, err)
		}
		*e.dst = v
	}

	return nil
}

// getEnv reads a prefixed string variable, falling back when unset or blank.
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

// splitCSV turns "a, b,,c" into [a b c].
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
