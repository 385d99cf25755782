package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DB        *Postgres  `yaml:"database"`
	RMQ       *RabbitMQ  `yaml:"rabbitmq"`
	Kafka     *Kafka     `yaml:"kafka"`
	Redis     *Redis     `yaml:"redis"`
	Broker    string     `yaml:"broker"`
	Store     string     `yaml:"store"`
	Analytics *Analytics `yaml:"analytics"`
	Invoice   *Invoice   `yaml:"invoice"`
	Server    *Server    `yaml:"server"`
	Log       *Log       `yaml:"log"`
	Menu      []MenuItem `yaml:"menu"`
}

type Postgres struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	MaxConns int32  `yaml:"max_conns"`
}

type RabbitMQ struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	VHost    string `yaml:"vhost"`
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
	Prefetch int    `yaml:"prefetch"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Redis is optional; an empty Addr disables caching and rate limiting.
type Redis struct {
	Addr              string `yaml:"addr"`
	Password          string `yaml:"password"`
	DB                int    `yaml:"db"`
	CacheTTLSeconds   int    `yaml:"cache_ttl_seconds"`
	RateLimit         int    `yaml:"rate_limit"`
	RateWindowSeconds int    `yaml:"rate_window_seconds"`
}

type Analytics struct {
	Timezone string `yaml:"timezone"`
}

type Invoice struct {
	RequireFulfilled *bool `yaml:"require_fulfilled"`
}

type Server struct {
	StoreTimeoutSeconds int `yaml:"store_timeout_seconds"`
	RetryAttempts       int `yaml:"retry_attempts"`
	OutboxIntervalMs    int `yaml:"outbox_interval_ms"`
}

// MenuItem seeds the in-memory product catalog. Price is a decimal string.
type MenuItem struct {
	Ref      string `yaml:"ref"`
	Name     string `yaml:"name"`
	Price    string `yaml:"price"`
	Inactive bool   `yaml:"inactive"`
}

type Log struct {
	Level string `yaml:"level"`
}

const (
	BrokerRabbitMQ = "rabbitmq"
	BrokerKafka    = "kafka"
	BrokerNone     = "none"

	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// LoadConfig reads the yaml file at configPath. A missing file is not an
// error: env defaults are used instead.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv builds a config from environment variables only.
func LoadDotEnv() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.DB == nil {
		c.DB = &Postgres{}
	}
	c.DB.Host = orEnv(c.DB.Host, "POSTGRES_HOST", "localhost")
	c.DB.Port = orEnv(c.DB.Port, "POSTGRES_PORT", "5432")
	c.DB.User = orEnv(c.DB.User, "POSTGRES_USER", "admin")
	c.DB.Password = orEnv(c.DB.Password, "POSTGRES_PASSWORD", "admin")
	c.DB.Database = orEnv(c.DB.Database, "POSTGRES_DBNAME", "restaurant_db")
	if c.DB.MaxConns <= 0 {
		c.DB.MaxConns = int32(getEnvInt("POSTGRES_MAX_CONNS", 10))
	}

	if c.RMQ == nil {
		c.RMQ = &RabbitMQ{}
	}
	c.RMQ.Host = orEnv(c.RMQ.Host, "RABBITMQ_HOST", "localhost")
	c.RMQ.Port = orEnv(c.RMQ.Port, "RABBITMQ_PORT", "5672")
	c.RMQ.User = orEnv(c.RMQ.User, "RABBITMQ_USER", "guest")
	c.RMQ.Password = orEnv(c.RMQ.Password, "RABBITMQ_PASSWORD", "guest")
	c.RMQ.VHost = orEnv(c.RMQ.VHost, "RABBITMQ_VHOST", "")
	c.RMQ.Exchange = orEnv(c.RMQ.Exchange, "RABBITMQ_EXCHANGE", "orders_topic")
	c.RMQ.Queue = orEnv(c.RMQ.Queue, "RABBITMQ_QUEUE", "order_notifications")
	if c.RMQ.Prefetch <= 0 {
		c.RMQ.Prefetch = getEnvInt("RABBITMQ_PREFETCH", 10)
	}

	if c.Kafka == nil {
		c.Kafka = &Kafka{}
	}
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ",")
	}
	c.Kafka.Topic = orEnv(c.Kafka.Topic, "KAFKA_TOPIC", "order-events")

	if c.Redis == nil {
		c.Redis = &Redis{}
	}
	c.Redis.Addr = orEnv(c.Redis.Addr, "REDIS_ADDR", "")
	c.Redis.Password = orEnv(c.Redis.Password, "REDIS_PASSWORD", "")
	if c.Redis.CacheTTLSeconds <= 0 {
		c.Redis.CacheTTLSeconds = getEnvInt("REDIS_CACHE_TTL_SECONDS", 30)
	}
	if c.Redis.RateLimit <= 0 {
		c.Redis.RateLimit = getEnvInt("REDIS_RATE_LIMIT", 100)
	}
	if c.Redis.RateWindowSeconds <= 0 {
		c.Redis.RateWindowSeconds = getEnvInt("REDIS_RATE_WINDOW_SECONDS", 60)
	}

	c.Broker = orEnv(c.Broker, "BROKER", BrokerRabbitMQ)
	c.Store = orEnv(c.Store, "STORE", StorePostgres)

	if c.Analytics == nil {
		c.Analytics = &Analytics{}
	}
	c.Analytics.Timezone = orEnv(c.Analytics.Timezone, "ANALYTICS_TIMEZONE", "UTC")

	if c.Invoice == nil {
		c.Invoice = &Invoice{}
	}
	if c.Invoice.RequireFulfilled == nil {
		v := getEnv("INVOICE_REQUIRE_FULFILLED", "true") != "false"
		c.Invoice.RequireFulfilled = &v
	}

	if c.Server == nil {
		c.Server = &Server{}
	}
	if c.Server.StoreTimeoutSeconds <= 0 {
		c.Server.StoreTimeoutSeconds = getEnvInt("STORE_TIMEOUT_SECONDS", 5)
	}
	if c.Server.RetryAttempts <= 0 {
		c.Server.RetryAttempts = getEnvInt("RETRY_ATTEMPTS", 3)
	}
	if c.Server.OutboxIntervalMs <= 0 {
		c.Server.OutboxIntervalMs = getEnvInt("OUTBOX_INTERVAL_MS", 1000)
	}

	if c.Log == nil {
		c.Log = &Log{}
	}
	c.Log.Level = orEnv(c.Log.Level, "LOG_LEVEL", "INFO")
}

func (c *Config) Validate() error {
	switch c.Broker {
	case BrokerRabbitMQ, BrokerKafka, BrokerNone:
	default:
		return fmt.Errorf("unknown broker: %q", c.Broker)
	}
	switch c.Store {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("unknown store: %q", c.Store)
	}
	for i, m := range c.Menu {
		if m.Ref == "" || m.Name == "" || m.Price == "" {
			return fmt.Errorf("menu item %d: ref, name and price are required", i+1)
		}
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("analytics timezone: %w", err)
	}
	return nil
}

// Location is the time zone orders are bucketed into days with.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Analytics.Timezone)
}

func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.Server.StoreTimeoutSeconds) * time.Second
}

func (c *Config) OutboxInterval() time.Duration {
	return time.Duration(c.Server.OutboxIntervalMs) * time.Millisecond
}

func (r *Redis) Enabled() bool {
	return r != nil && r.Addr != ""
}

func (r *Redis) CacheTTL() time.Duration {
	return time.Duration(r.CacheTTLSeconds) * time.Second
}

func (r *Redis) RateWindow() time.Duration {
	return time.Duration(r.RateWindowSeconds) * time.Second
}

func orEnv(current, key, defaultValue string) string {
	if current != "" {
		return current
	}
	return getEnv(key, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}
