package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	HubLocation string `yaml:"hub_location"`

	// AtomicTransferCompletion runs both CompleteTransfer writes in one
	// transaction instead of two.
	AtomicTransferCompletion bool `yaml:"atomic_transfer_completion"`

	Store StoreConfig `yaml:"store"`
	Relay RelayConfig `yaml:"relay"`
	Redis RedisConfig `yaml:"redis"`
	Kafka KafkaConfig `yaml:"kafka"`
	Otel  OtelConfig  `yaml:"otel"`
	Auth  AuthConfig  `yaml:"auth"`
}

type StoreConfig struct {
	// Driver is one of memory, mysql, postgres or sqlite.
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	TxTimeout       time.Duration `yaml:"tx_timeout"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	// AutoMigrate applies the schema when serve starts.
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

type RelayConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	Channel        string        `yaml:"channel"`
	ReplayLength   int           `yaml:"replay_length"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
	Sessions       bool          `yaml:"sessions"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type OtelConfig struct {
	Endpoint    string `yaml:"endpoint"`
	AuthHeader  string `yaml:"auth_header"`
	ServiceName string `yaml:"service_name"`
}

type AuthConfig struct {
	// StaticTokens maps bearer tokens to rep identities.
	StaticTokens map[string]string `yaml:"static_tokens"`
}

func Default() *Config {
	return &Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		HubLocation: "Store A",
		Store: StoreConfig{
			Driver:          "memory",
			TxTimeout:       5 * time.Second,
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Relay: RelayConfig{Workers: 4, QueueSize: 1024},
		Redis: RedisConfig{
			Channel:        "retail:events",
			ReplayLength:   500,
			IdempotencyTTL: 24 * time.Hour,
		},
		Kafka: KafkaConfig{Topic: "retail.events"},
		Otel:  OtelConfig{ServiceName: "retail-floor"},
	}
}

// Load reads path (optional), then applies RETAIL_* environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("RETAIL_HTTP_ADDR", &c.HTTPAddr)
	str("RETAIL_GRPC_ADDR", &c.GRPCAddr)
	str("RETAIL_HUB_LOCATION", &c.HubLocation)
	str("RETAIL_STORE_DRIVER", &c.Store.Driver)
	str("RETAIL_STORE_DSN", &c.Store.DSN)
	str("RETAIL_REDIS_ADDR", &c.Redis.Addr)
	str("RETAIL_KAFKA_TOPIC", &c.Kafka.Topic)
	str("RETAIL_OTEL_ENDPOINT", &c.Otel.Endpoint)
	str("RETAIL_OTEL_AUTH_HEADER", &c.Otel.AuthHeader)

	if v, ok := lookup("RETAIL_KAFKA_BROKERS"); ok && v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup("RETAIL_STORE_TX_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RETAIL_STORE_TX_TIMEOUT: %w", err)
		}
		c.Store.TxTimeout = d
	}
	if v, ok := lookup("RETAIL_ATOMIC_TRANSFER_COMPLETION"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RETAIL_ATOMIC_TRANSFER_COMPLETION: %w", err)
		}
		c.AtomicTransferCompletion = b
	}
	if v, ok := lookup("RETAIL_RELAY_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RETAIL_RELAY_WORKERS: %w", err)
		}
		c.Relay.Workers = n
	}
	// RETAIL_AUTH_TOKENS is token=identity pairs separated by commas.
	if v, ok := lookup("RETAIL_AUTH_TOKENS"); ok && v != "" {
		if c.Auth.StaticTokens == nil {
			c.Auth.StaticTokens = make(map[string]string)
		}
		for _, pair := range splitList(v) {
			token, identity, found := strings.Cut(pair, "=")
			if !found || token == "" || identity == "" {
				return fmt.Errorf("RETAIL_AUTH_TOKENS: malformed entry %q", pair)
			}
			c.Auth.StaticTokens[token] = identity
		}
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr cannot be empty"))
	}
	if strings.TrimSpace(c.HubLocation) == "" {
		errs = append(errs, errors.New("hub_location cannot be empty"))
	}
	switch c.Store.Driver {
	case "memory":
	case "mysql", "postgres", "sqlite":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Store.TxTimeout <= 0 {
		errs = append(errs, errors.New("store.tx_timeout must be positive"))
	}
	if c.Relay.Workers < 1 {
		errs = append(errs, errors.New("relay.workers must be at least 1"))
	}
	if c.Relay.QueueSize < 1 {
		errs = append(errs, errors.New("relay.queue_size must be at least 1"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic cannot be empty when brokers are set"))
	}
	if c.Redis.Sessions && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.sessions requires redis.addr"))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
