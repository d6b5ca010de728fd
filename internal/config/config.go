package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	MarketData MarketDataConfig `yaml:"market_data"`
	Brokerage  BrokerageConfig  `yaml:"brokerage"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	Host string `yaml:"host"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig holds the run lock backend. An empty Addr disables the lock.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockKey  string        `yaml:"lock_key"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// KafkaConfig holds Kafka configuration. No brokers disables publishing.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	// GroupID is the consumer group of the chat notifier
	GroupID string `yaml:"group_id"`
}

// MarketDataConfig selects and tunes the bar vendor
type MarketDataConfig struct {
	Provider          string        `yaml:"provider"`
	AlpacaDataURL     string        `yaml:"alpaca_data_url"`
	PolygonURL        string        `yaml:"polygon_url"`
	Feed              string        `yaml:"feed"`
	// Adjustment is raw, split, dividend or all
	Adjustment        string        `yaml:"adjustment"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	RateLimitBackoff  time.Duration `yaml:"rate_limit_backoff"`
	HistoryDays       int           `yaml:"history_days"`
}

// BrokerageConfig configures the portfolio feed
type BrokerageConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

// TelegramConfig configures the query bot
type TelegramConfig struct {
	Enabled     bool          `yaml:"enabled"`
	APIURL      string        `yaml:"api_url"`
	ChatID      string        `yaml:"chat_id"`
	Mode        string        `yaml:"mode"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// PipelineConfig tunes the drawdown run
type PipelineConfig struct {
	BatchSize       int           `yaml:"batch_size"`
	MinObservations int           `yaml:"min_observations"`
	LookbackDays    int           `yaml:"lookback_days"`
	TopN            int           `yaml:"top_n"`
	UniverseFile    string        `yaml:"universe_file"`
	RunTimeout      time.Duration `yaml:"run_timeout"`
}

// ScheduleConfig holds the cron trigger
type ScheduleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Cron     string `yaml:"cron"`
	Timezone string `yaml:"timezone"`
}

// LogConfig controls zerolog output
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads configuration from an optional YAML file, applies environment
// overrides and fills defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("SERVER_PORT", c.Server.Port)
	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnv("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnv("DB_NAME", c.Database.DBName)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	c.Kafka.Topic = getEnv("KAFKA_TOPIC", c.Kafka.Topic)
	c.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", c.Kafka.GroupID)

	c.MarketData.Provider = getEnv("MARKET_DATA_PROVIDER", c.MarketData.Provider)
	c.MarketData.Feed = getEnv("ALPACA_DATA_FEED", c.MarketData.Feed)
	c.MarketData.Adjustment = getEnv("MARKET_DATA_ADJUSTMENT", c.MarketData.Adjustment)
	c.MarketData.HistoryDays = getEnvInt("MARKET_DATA_HISTORY_DAYS", c.MarketData.HistoryDays)

	c.Brokerage.Enabled = getEnvBool("BROKERAGE_ENABLED", c.Brokerage.Enabled)

	c.Telegram.Enabled = getEnvBool("TELEGRAM_ENABLED", c.Telegram.Enabled)
	c.Telegram.ChatID = getEnv("TELEGRAM_CHAT_ID", c.Telegram.ChatID)
	c.Telegram.Mode = getEnv("TELEGRAM_MODE", c.Telegram.Mode)

	c.Pipeline.BatchSize = getEnvInt("PIPELINE_BATCH_SIZE", c.Pipeline.BatchSize)
	c.Pipeline.TopN = getEnvInt("PIPELINE_TOP_N", c.Pipeline.TopN)
	c.Pipeline.UniverseFile = getEnv("PIPELINE_UNIVERSE_FILE", c.Pipeline.UniverseFile)

	c.Schedule.Enabled = getEnvBool("SCHEDULE_ENABLED", c.Schedule.Enabled)
	c.Schedule.Cron = getEnv("SCHEDULE_CRON", c.Schedule.Cron)
	c.Schedule.Timezone = getEnv("SCHEDULE_TIMEZONE", c.Schedule.Timezone)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Pretty = getEnvBool("LOG_PRETTY", c.Log.Pretty)
}

func (c *Config) applyDefaults() {
	setDefault(&c.Server.Port, "8080")
	setDefault(&c.Server.Host, "0.0.0.0")

	setDefault(&c.Database.Host, "localhost")
	setDefault(&c.Database.Port, "5432")
	setDefault(&c.Database.User, "postgres")
	setDefault(&c.Database.Password, "postgres")
	setDefault(&c.Database.DBName, "screener")
	setDefault(&c.Database.SSLMode, "disable")

	setDefault(&c.Redis.LockKey, "screener:run-lock")
	if c.Redis.LockTTL == 0 {
		c.Redis.LockTTL = 2 * time.Hour
	}

	setDefault(&c.Kafka.Topic, "screener-events")
	setDefault(&c.Kafka.GroupID, "screener-notifier")

	setDefault(&c.MarketData.Provider, "alpaca")
	setDefault(&c.MarketData.AlpacaDataURL, "https://data.alpaca.markets")
	setDefault(&c.MarketData.PolygonURL, "https://api.polygon.io")
	setDefault(&c.MarketData.Feed, "iex")
	setDefault(&c.MarketData.Adjustment, "all")
	if c.MarketData.Timeout == 0 {
		c.MarketData.Timeout = 30 * time.Second
	}
	if c.MarketData.RequestsPerSecond == 0 {
		c.MarketData.RequestsPerSecond = 2.5
	}
	if c.MarketData.RateLimitBackoff == 0 {
		c.MarketData.RateLimitBackoff = 30 * time.Second
	}
	if c.MarketData.HistoryDays == 0 {
		c.MarketData.HistoryDays = 210
	}

	if c.Brokerage.Timeout == 0 {
		c.Brokerage.Timeout = 10 * time.Second
	}

	setDefault(&c.Telegram.APIURL, "https://api.telegram.org")
	setDefault(&c.Telegram.Mode, "polling")
	if c.Telegram.PollTimeout == 0 {
		c.Telegram.PollTimeout = 30 * time.Second
	}

	if c.Pipeline.BatchSize == 0 {
		c.Pipeline.BatchSize = 100
	}
	if c.Pipeline.MinObservations == 0 {
		c.Pipeline.MinObservations = 30
	}
	if c.Pipeline.LookbackDays == 0 {
		c.Pipeline.LookbackDays = 180
	}
	if c.Pipeline.TopN == 0 {
		c.Pipeline.TopN = 10
	}
	if c.Pipeline.RunTimeout == 0 {
		c.Pipeline.RunTimeout = time.Hour
	}

	// weekdays after the close, seconds field first
	setDefault(&c.Schedule.Cron, "0 30 17 * * 1-5")
	setDefault(&c.Schedule.Timezone, "America/New_York")

	setDefault(&c.Log.Level, "info")
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	switch c.MarketData.Provider {
	case "alpaca", "polygon":
	default:
		return fmt.Errorf("market_data.provider must be alpaca or polygon, got %q", c.MarketData.Provider)
	}
	switch c.MarketData.Adjustment {
	case "raw", "split", "dividend", "all":
	default:
		return fmt.Errorf("market_data.adjustment must be raw, split, dividend or all, got %q", c.MarketData.Adjustment)
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be positive")
	}
	if c.Pipeline.MinObservations <= 0 {
		return fmt.Errorf("pipeline.min_observations must be positive")
	}
	if c.Pipeline.LookbackDays < 0 {
		return fmt.Errorf("pipeline.lookback_days must not be negative")
	}
	if c.Pipeline.TopN <= 0 {
		return fmt.Errorf("pipeline.top_n must be positive")
	}
	if c.MarketData.RequestsPerSecond <= 0 {
		return fmt.Errorf("market_data.requests_per_second must be positive")
	}
	if c.MarketData.HistoryDays < c.Pipeline.LookbackDays {
		return fmt.Errorf("market_data.history_days (%d) must cover pipeline.lookback_days (%d)",
			c.MarketData.HistoryDays, c.Pipeline.LookbackDays)
	}
	switch c.Telegram.Mode {
	case "polling", "webhook":
	default:
		return fmt.Errorf("telegram.mode must be polling or webhook, got %q", c.Telegram.Mode)
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	return nil
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}

// Address returns the HTTP listen address
func (s *ServerConfig) Address() string {
	return s.Host + ":" + s.Port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
