// Package config defines the top-level configuration for the sentiment
// trading bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SENTIBOT_* environment variables.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Trading  TradingConfig  `toml:"trading"`
	Risk     RiskConfig     `toml:"risk"`
	Monitor  MonitorConfig  `toml:"monitor"`
	News     NewsConfig     `toml:"news"`
	Venue    VenueConfig    `toml:"venue"`
	Binance  BinanceConfig  `toml:"binance"`
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LogConfig controls the optional rotating log file. Logs always go to
// stdout; File adds a lumberjack-rotated copy.
type LogConfig struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// TradingConfig holds signal generation and sizing parameters.
type TradingConfig struct {
	SupportedCoins     []string           `toml:"supported_coins"`
	QuoteAsset         string             `toml:"quote_asset"`
	TradeAmountUSDT    float64            `toml:"trade_amount_usdt"`
	TradeAmounts       map[string]float64 `toml:"trade_amounts"`
	StopLossPercentage float64            `toml:"stop_loss_percentage"`
	MinConfidence      float64            `toml:"min_confidence"`
	SentimentThreshold float64            `toml:"sentiment_threshold"`
	LockTTL            duration           `toml:"lock_ttl"`
	LockWait           duration           `toml:"lock_wait"`
}

// RiskConfig holds the daily and portfolio limits enforced before any entry.
type RiskConfig struct {
	MaxOpenPositions int     `toml:"max_open_positions"`
	MaxDailyTrades   int     `toml:"max_daily_trades"`
	DailyLossLimit   float64 `toml:"daily_loss_limit"`
}

// MonitorConfig holds stop-loss supervisor timings.
type MonitorConfig struct {
	PollInterval      duration `toml:"poll_interval"`
	ReconcileInterval duration `toml:"reconcile_interval"`
	JoinTimeout       duration `toml:"join_timeout"`
	ShutdownTimeout   duration `toml:"shutdown_timeout"`
	CloseTimeout      duration `toml:"close_timeout"`
	PriceLogInterval  duration `toml:"price_log_interval"`
}

// NewsConfig holds upstream event sources and queue policy.
type NewsConfig struct {
	WebSocketURL string   `toml:"websocket_url"`
	StreamName   string   `toml:"stream_name"`
	StreamBatch  int      `toml:"stream_batch"`
	PollInterval duration `toml:"poll_interval"`
	QueueSize    int      `toml:"queue_size"`
	Backpressure string   `toml:"backpressure"`
	DedupTTL     duration `toml:"dedup_ttl"`
}

// VenueConfig selects the exchange implementation.
type VenueConfig struct {
	Kind         string             `toml:"kind"`
	PaperBalance float64            `toml:"paper_balance"`
	PaperPrices  map[string]float64 `toml:"paper_prices"`
	PaperJitter  float64            `toml:"paper_jitter"`
}

// BinanceConfig holds Binance spot REST credentials.
type BinanceConfig struct {
	BaseURL             string `toml:"base_url"`
	APIKey              string `toml:"api_key"`
	APISecret           string `toml:"api_secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
	RecvWindowMs        int64  `toml:"recv_window_ms"`
	RequestsPerMinute   int    `toml:"requests_per_minute"`
	Testnet             bool   `toml:"testnet"`
}

// StoreConfig selects the persistence driver.
type StoreConfig struct {
	Driver     string `toml:"driver"`
	SQLitePath string `toml:"sqlite_path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; without
// it locks are process-local and the stream feed, price cache and rate
// limiters are disabled.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Namespace  string `toml:"namespace"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls moving old rows to S3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	APIKey          string   `toml:"api_key"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Trading: TradingConfig{
			SupportedCoins:     []string{"BTC", "ETH", "BNB", "ADA", "SOL"},
			QuoteAsset:         "USDT",
			TradeAmountUSDT:    10.0,
			TradeAmounts:       map[string]float64{},
			StopLossPercentage: 0.10,
			MinConfidence:      0.6,
			SentimentThreshold: 0.3,
			LockTTL:            duration{30 * time.Second},
			LockWait:           duration{10 * time.Second},
		},
		Risk: RiskConfig{
			MaxOpenPositions: 5,
			MaxDailyTrades:   20,
			DailyLossLimit:   100.0,
		},
		Monitor: MonitorConfig{
			PollInterval:      duration{10 * time.Second},
			ReconcileInterval: duration{30 * time.Second},
			JoinTimeout:       duration{5 * time.Second},
			ShutdownTimeout:   duration{10 * time.Second},
			CloseTimeout:      duration{30 * time.Second},
			PriceLogInterval:  duration{60 * time.Second},
		},
		News: NewsConfig{
			StreamName:   "news:scored",
			StreamBatch:  50,
			PollInterval: duration{time.Second},
			QueueSize:    64,
			Backpressure: "block",
			DedupTTL:     duration{time.Hour},
		},
		Venue: VenueConfig{
			Kind:         "paper",
			PaperBalance: 1000.0,
			PaperPrices: map[string]float64{
				"BTCUSDT": 45000.0,
				"ETHUSDT": 2800.0,
				"BNBUSDT": 350.0,
				"ADAUSDT": 0.85,
				"SOLUSDT": 95.0,
			},
			PaperJitter: 0.02,
		},
		Binance: BinanceConfig{
			BaseURL:           "https://api.binance.com",
			RecvWindowMs:      5000,
			RequestsPerMinute: 600,
		},
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "data/sentibot.db",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "sentibot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Namespace:  "sentibot",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "sentibot-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "stop_loss_triggered", "stop_loss_failed"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validVenues = map[string]bool{"paper": true, "binance": true}

var validDrivers = map[string]bool{"postgres": true, "sqlite": true, "memory": true}

var validBackpressure = map[string]bool{"block": true, "drop_newest": true, "drop_oldest": true}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Trading
	if len(c.Trading.SupportedCoins) == 0 {
		errs = append(errs, "trading: supported_coins must not be empty")
	}
	if c.Trading.QuoteAsset == "" {
		errs = append(errs, "trading: quote_asset must not be empty")
	}
	if c.Trading.TradeAmountUSDT <= 0 {
		errs = append(errs, "trading: trade_amount_usdt must be > 0")
	}
	for sym, amt := range c.Trading.TradeAmounts {
		if amt <= 0 {
			errs = append(errs, fmt.Sprintf("trading: trade_amounts[%s] must be > 0", sym))
		}
	}
	if c.Trading.StopLossPercentage <= 0 || c.Trading.StopLossPercentage >= 1 {
		errs = append(errs, "trading: stop_loss_percentage must be in (0, 1)")
	}
	if c.Trading.MinConfidence < 0 || c.Trading.MinConfidence > 1 {
		errs = append(errs, "trading: min_confidence must be in [0, 1]")
	}
	if c.Trading.SentimentThreshold < 0 || c.Trading.SentimentThreshold > 1 {
		errs = append(errs, "trading: sentiment_threshold must be in [0, 1]")
	}

	// Risk
	if c.Risk.MaxOpenPositions < 1 {
		errs = append(errs, "risk: max_open_positions must be >= 1")
	}
	if c.Risk.MaxDailyTrades < 1 {
		errs = append(errs, "risk: max_daily_trades must be >= 1")
	}
	if c.Risk.DailyLossLimit <= 0 {
		errs = append(errs, "risk: daily_loss_limit must be > 0")
	}

	// Monitor
	if c.Monitor.PollInterval.Duration <= 0 {
		errs = append(errs, "monitor: poll_interval must be > 0")
	}
	if c.Monitor.ReconcileInterval.Duration <= 0 {
		errs = append(errs, "monitor: reconcile_interval must be > 0")
	}

	// News
	if c.News.QueueSize < 1 {
		errs = append(errs, "news: queue_size must be >= 1")
	}
	if !validBackpressure[c.News.Backpressure] {
		errs = append(errs, fmt.Sprintf("news: unknown backpressure %q (valid: block, drop_newest, drop_oldest)", c.News.Backpressure))
	}

	// Venue
	if !validVenues[c.Venue.Kind] {
		errs = append(errs, fmt.Sprintf("venue: unknown kind %q (valid: paper, binance)", c.Venue.Kind))
	}
	if c.Venue.Kind == "paper" && c.Venue.PaperJitter < 0 {
		errs = append(errs, "venue: paper_jitter must be >= 0")
	}
	if c.Venue.Kind == "binance" {
		if c.Binance.BaseURL == "" {
			errs = append(errs, "binance: base_url must not be empty")
		}
		if c.Binance.APIKey == "" {
			errs = append(errs, "binance: api_key is required for venue binance")
		}
		if c.Binance.APISecret == "" && c.Binance.EncryptedSecretPath == "" {
			errs = append(errs, "binance: either api_secret or encrypted_secret_path must be set")
		}
		if c.Binance.EncryptedSecretPath != "" && c.Binance.SecretPassword == "" {
			errs = append(errs, "binance: secret_password is required when encrypted_secret_path is set")
		}
	}

	// Store
	if !validDrivers[c.Store.Driver] {
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, sqlite, memory)", c.Store.Driver))
	}
	if c.Store.Driver == "sqlite" && c.Store.SQLitePath == "" {
		errs = append(errs, "store: sqlite_path must not be empty")
	}
	if c.Store.Driver == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if c.Store.Driver == "memory" {
			errs = append(errs, "archive: requires a persistent store driver")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// TradeAmount returns the configured quote amount for symbol, falling back to
// the global trade_amount_usdt.
func (t TradingConfig) TradeAmount(symbol string) float64 {
	if amt, ok := t.TradeAmounts[strings.ToUpper(symbol)]; ok && amt > 0 {
		return amt
	}
	return t.TradeAmountUSDT
}
