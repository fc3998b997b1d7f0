package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AuthToken       string        `yaml:"auth_token"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logging"`
	Quota struct {
		DailyLimit  int64  `yaml:"daily_limit"`
		SafetyFloor int64  `yaml:"safety_floor"`
		Timezone    string `yaml:"timezone"`
	} `yaml:"quota"`
	Scheduler struct {
		Pacing        time.Duration `yaml:"pacing"`
		CacheTTL      time.Duration `yaml:"cache_ttl"`
		MaxCandidates int           `yaml:"max_candidates"`
		InternalCron  string        `yaml:"internal_cron"` // empty disables the internal trigger
		MarketHours   struct {
			Enabled      bool   `yaml:"enabled"`
			Open         string `yaml:"open"`
			Close        string `yaml:"close"`
			Timezone     string `yaml:"timezone"`
			WeekdaysOnly bool   `yaml:"weekdays_only"`
		} `yaml:"market_hours"`
	} `yaml:"scheduler"`
	Video struct {
		APIBaseURL  string        `yaml:"api_base_url"`
		FeedBaseURL string        `yaml:"feed_base_url"`
		APIKey      string        `yaml:"api_key"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"video"`
	Vision struct {
		BaseURL string        `yaml:"base_url"`
		APIKey  string        `yaml:"api_key"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"vision"`
	Chat struct {
		Enabled        bool          `yaml:"enabled"`
		WebsocketURL   string        `yaml:"websocket_url"`
		APIKey         string        `yaml:"api_key"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PingInterval   time.Duration `yaml:"ping_interval"`
	} `yaml:"chat"`
	Correlator struct {
		Window time.Duration      `yaml:"window"`
		Ticks  map[string]TickRow `yaml:"ticks"`
	} `yaml:"correlator"`
	Executor struct {
		BotID         string  `yaml:"bot_id"`
		MinConfidence float64 `yaml:"min_confidence"`
		// Policy backs the risk gates when no Postgres policy store is
		// configured.
		Policy struct {
			Enabled             bool     `yaml:"enabled"`
			AutoExecute         bool     `yaml:"auto_execute"`
			MaxDailyLoss        float64  `yaml:"max_daily_loss"`
			MaxPositionSize     int      `yaml:"max_position_size"`
			MaxConcurrentTrades int      `yaml:"max_concurrent_trades"`
			MaxDailyTrades      int      `yaml:"max_daily_trades"`
			AllowedSymbols      []string `yaml:"allowed_symbols"`
			AllowLongs          bool     `yaml:"allow_longs"`
			AllowShorts         bool     `yaml:"allow_shorts"`
			Timezone            string   `yaml:"timezone"`
			// Traders is the copy list. Traders absent from it are never
			// mirrored.
			Traders []TraderRow `yaml:"traders"`
		} `yaml:"policy"`
		Broker struct {
			BaseURL  string        `yaml:"base_url"`
			Username string        `yaml:"username"`
			Password string        `yaml:"password"`
			Account  string        `yaml:"account"`
			Timeout  time.Duration `yaml:"timeout"`
			DryRun   bool          `yaml:"dry_run"`
		} `yaml:"broker"`
	} `yaml:"executor"`
	Channels []ChannelRow `yaml:"channels"`
	Redis    struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
	Postgres struct {
		Enabled bool   `yaml:"enabled"`
		DSN     string `yaml:"dsn"`
	} `yaml:"postgres"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		Table            string        `yaml:"table"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
}

// TickRow is the per-symbol tick geometry in the config file.
type TickRow struct {
	TickSize  float64 `yaml:"tick_size"`
	TickValue float64 `yaml:"tick_value"`
}

// TraderRow seeds one trader's copy settings when no database is configured.
type TraderRow struct {
	TraderID               string   `yaml:"trader_id"`
	Enabled                bool     `yaml:"enabled"`
	CopyMultiplier         float64  `yaml:"copy_multiplier"`
	MaxLossPerTrade        float64  `yaml:"max_loss_per_trade"`
	OnlyPrimaryInstruments bool     `yaml:"only_primary_instruments"`
	PrimaryInstruments     []string `yaml:"primary_instruments"`
}

// ChannelRow seeds a monitored channel when no database is configured.
type ChannelRow struct {
	ID         string `yaml:"id"`
	ExternalID string `yaml:"external_id"`
	TraderID   string `yaml:"trader_id"`
	Active     bool   `yaml:"active"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("VIDEO_API_KEY"); v != "" {
		c.Video.APIKey = v
	}
	if v := os.Getenv("VISION_API_KEY"); v != "" {
		c.Vision.APIKey = v
	}
	if v := os.Getenv("CHAT_API_KEY"); v != "" {
		c.Chat.APIKey = v
	}
	if v := os.Getenv("SERVER_AUTH_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv("QUOTA_DAILY_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Quota.DailyLimit = n
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
		c.Postgres.Enabled = true
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("BROKER_USERNAME"); v != "" {
		c.Executor.Broker.Username = v
	}
	if v := os.Getenv("BROKER_PASSWORD"); v != "" {
		c.Executor.Broker.Password = v
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Quota.DailyLimit <= 0 {
		return fmt.Errorf("quota.daily_limit must be positive")
	}
	if c.Quota.SafetyFloor < 0 {
		return fmt.Errorf("quota.safety_floor cannot be negative")
	}
	if c.Quota.SafetyFloor >= c.Quota.DailyLimit {
		return fmt.Errorf("quota.safety_floor must be below quota.daily_limit")
	}
	if c.Video.APIBaseURL == "" {
		return fmt.Errorf("video.api_base_url is required")
	}
	if c.Video.FeedBaseURL == "" {
		return fmt.Errorf("video.feed_base_url is required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when clickhouse is enabled")
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required when postgres is enabled")
	}
	for i, ch := range c.Channels {
		if ch.ID == "" || ch.ExternalID == "" {
			return fmt.Errorf("channels[%d]: id and external_id are required", i)
		}
	}
	return nil
}
