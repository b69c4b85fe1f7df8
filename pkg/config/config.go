package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/shubham-shewale/simfeed/pkg/models"
)

// ErrInvalidConfig wraps every validation failure so callers can tell a bad
// setup apart from an I/O problem.
var ErrInvalidConfig = errors.New("invalid config")

const (
	TransportKafka = "kafka"
	TransportRedis = "redis"

	OnErrorFail = "fail"
	OnErrorSkip = "skip"
)

// Config holds all configuration for the feed services
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Connector ConnectorConfig `mapstructure:"connector"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"` // "json" or "console"
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the endpoint
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	TradesTopic  string        `mapstructure:"trades_topic"`
	QuotesTopic  string        `mapstructure:"quotes_topic"`
	GroupID      string        `mapstructure:"group_id"`
	Partitions   int           `mapstructure:"partitions"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// FeedConfig drives the synthetic event generator.
type FeedConfig struct {
	Transport        string        `mapstructure:"transport"`
	Venue            string        `mapstructure:"venue"`
	SymbolCount      int           `mapstructure:"symbol_count"`
	TickDelay        time.Duration `mapstructure:"tick_delay"`
	QuoteProbability float64       `mapstructure:"quote_probability"`
	BasePrice        float64       `mapstructure:"base_price"`
	PriceRange       float64       `mapstructure:"price_range"`
	Spread           float64       `mapstructure:"spread"`
	QuoteQty         float64       `mapstructure:"quote_qty"`
	SrcConnID        uint64        `mapstructure:"src_conn_id"` // 0 derives one at startup
	PublishTimeout   time.Duration `mapstructure:"publish_timeout"`
	OnPublishError   string        `mapstructure:"on_publish_error"`
}

type ProcessorConfig struct {
	NumWorkers int `mapstructure:"num_workers"`
}

type ConnectorConfig struct {
	WSURL           string   `mapstructure:"ws_url"`
	Venue           string   `mapstructure:"venue"`
	Symbols         []string `mapstructure:"symbols"`
	SubscribeMsg    string   `mapstructure:"subscribe_msg"`
	ReconnectPerSec float64  `mapstructure:"reconnect_per_sec"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	// Load .env into the process environment if present
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// "feed.symbol_count" -> FEED_SYMBOL_COUNT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "logger.level", "logger.encoding", "metrics.addr")
	bindEnv(v, "redis.addr", "redis.password", "redis.db", "redis.snapshot_ttl")
	bindEnv(v, "kafka.trades_topic", "kafka.quotes_topic", "kafka.group_id",
		"kafka.partitions", "kafka.batch_size", "kafka.batch_timeout")
	bindEnv(v, "feed.transport", "feed.venue", "feed.tick_delay", "feed.quote_probability",
		"feed.base_price", "feed.price_range", "feed.spread", "feed.quote_qty",
		"feed.src_conn_id", "feed.publish_timeout", "feed.on_publish_error")
	bindEnv(v, "processor.num_workers")
	bindEnv(v, "connector.ws_url", "connector.venue", "connector.symbols",
		"connector.subscribe_msg", "connector.reconnect_per_sec")

	// Legacy variable names
	if err := v.BindEnv("kafka.brokers", "KAFKA_BROKERS"); err != nil {
		return nil, fmt.Errorf("bind kafka.brokers: %w", err)
	}
	if err := v.BindEnv("feed.symbol_count", "FEED_SYMBOL_COUNT", "SYMBOL_SET_SIZE"); err != nil {
		return nil, fmt.Errorf("bind feed.symbol_count: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")
	v.SetDefault("metrics.addr", ":9100")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.snapshot_ttl", time.Hour)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.trades_topic", "trades")
	v.SetDefault("kafka.quotes_topic", "quotes")
	v.SetDefault("kafka.group_id", "feed-auditor")
	v.SetDefault("kafka.partitions", 4)
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", 5*time.Millisecond)

	v.SetDefault("feed.transport", TransportKafka)
	v.SetDefault("feed.venue", "sim")
	v.SetDefault("feed.symbol_count", 4)
	v.SetDefault("feed.tick_delay", 10*time.Millisecond)
	v.SetDefault("feed.quote_probability", 0.2)
	v.SetDefault("feed.base_price", 10000.0)
	v.SetDefault("feed.price_range", 10.0)
	v.SetDefault("feed.spread", 1.0)
	v.SetDefault("feed.quote_qty", 1.0)
	v.SetDefault("feed.src_conn_id", 0)
	v.SetDefault("feed.publish_timeout", 5*time.Second)
	v.SetDefault("feed.on_publish_error", OnErrorFail)

	v.SetDefault("processor.num_workers", 4)

	v.SetDefault("connector.ws_url", "wss://api.hyperliquid.xyz/ws")
	v.SetDefault("connector.venue", "hyperliquid")
	v.SetDefault("connector.symbols", []string{"BTC"})
	v.SetDefault("connector.subscribe_msg", "")
	v.SetDefault("connector.reconnect_per_sec", 0.2)
}

// Validate reports the first setting that would make a service misbehave.
func (c *Config) Validate() error {
	switch {
	case len(c.Kafka.Brokers) == 0:
		return fmt.Errorf("%w: kafka brokers cannot be empty", ErrInvalidConfig)
	case c.Feed.SymbolCount < 1:
		return fmt.Errorf("%w: feed.symbol_count must be >= 1, got %d", ErrInvalidConfig, c.Feed.SymbolCount)
	case c.Feed.QuoteProbability < 0 || c.Feed.QuoteProbability > 1:
		return fmt.Errorf("%w: feed.quote_probability must be in [0,1], got %v", ErrInvalidConfig, c.Feed.QuoteProbability)
	case c.Feed.Spread <= 0:
		return fmt.Errorf("%w: feed.spread must be positive", ErrInvalidConfig)
	case c.Feed.BasePrice <= c.Feed.Spread/2:
		return fmt.Errorf("%w: feed.base_price must exceed half the spread", ErrInvalidConfig)
	case c.Feed.PriceRange < 0:
		return fmt.Errorf("%w: feed.price_range cannot be negative", ErrInvalidConfig)
	case c.Feed.TickDelay < 0:
		return fmt.Errorf("%w: feed.tick_delay cannot be negative", ErrInvalidConfig)
	case c.Feed.Transport != TransportKafka && c.Feed.Transport != TransportRedis:
		return fmt.Errorf("%w: unknown feed.transport %q", ErrInvalidConfig, c.Feed.Transport)
	case c.Feed.OnPublishError != OnErrorFail && c.Feed.OnPublishError != OnErrorSkip:
		return fmt.Errorf("%w: unknown feed.on_publish_error %q", ErrInvalidConfig, c.Feed.OnPublishError)
	case c.Processor.NumWorkers < 1:
		return fmt.Errorf("%w: processor.num_workers must be >= 1", ErrInvalidConfig)
	}
	return nil
}

// Symbols returns the synthetic universe SYM0..SYM{N-1}.
func (c *Config) Symbols() []string {
	return models.Universe(c.Feed.SymbolCount)
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
