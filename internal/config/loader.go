package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SENTIBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	normalize(&cfg)

	return &cfg, nil
}

// normalize upper-cases symbol-like keys so lookups are case-insensitive.
func normalize(cfg *Config) {
	coins := make([]string, 0, len(cfg.Trading.SupportedCoins))
	for _, c := range cfg.Trading.SupportedCoins {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			coins = append(coins, c)
		}
	}
	cfg.Trading.SupportedCoins = coins
	cfg.Trading.QuoteAsset = strings.ToUpper(cfg.Trading.QuoteAsset)

	if len(cfg.Trading.TradeAmounts) > 0 {
		amounts := make(map[string]float64, len(cfg.Trading.TradeAmounts))
		for k, v := range cfg.Trading.TradeAmounts {
			amounts[strings.ToUpper(k)] = v
		}
		cfg.Trading.TradeAmounts = amounts
	}
	if len(cfg.Venue.PaperPrices) > 0 {
		prices := make(map[string]float64, len(cfg.Venue.PaperPrices))
		for k, v := range cfg.Venue.PaperPrices {
			prices[strings.ToUpper(k)] = v
		}
		cfg.Venue.PaperPrices = prices
	}
}

// applyEnvOverrides reads well-known SENTIBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Log ──
	setStr(&cfg.Log.File, "SENTIBOT_LOG_FILE")
	setInt(&cfg.Log.MaxSizeMB, "SENTIBOT_LOG_MAX_SIZE_MB")
	setInt(&cfg.Log.MaxBackups, "SENTIBOT_LOG_MAX_BACKUPS")
	setInt(&cfg.Log.MaxAgeDays, "SENTIBOT_LOG_MAX_AGE_DAYS")
	setBool(&cfg.Log.Compress, "SENTIBOT_LOG_COMPRESS")

	// ── Trading ──
	setStringSlice(&cfg.Trading.SupportedCoins, "SENTIBOT_TRADING_SUPPORTED_COINS")
	setStr(&cfg.Trading.QuoteAsset, "SENTIBOT_TRADING_QUOTE_ASSET")
	setFloat64(&cfg.Trading.TradeAmountUSDT, "SENTIBOT_TRADING_TRADE_AMOUNT_USDT")
	setFloat64(&cfg.Trading.StopLossPercentage, "SENTIBOT_TRADING_STOP_LOSS_PERCENTAGE")
	setFloat64(&cfg.Trading.MinConfidence, "SENTIBOT_TRADING_MIN_CONFIDENCE")
	setFloat64(&cfg.Trading.SentimentThreshold, "SENTIBOT_TRADING_SENTIMENT_THRESHOLD")
	setDuration(&cfg.Trading.LockTTL, "SENTIBOT_TRADING_LOCK_TTL")
	setDuration(&cfg.Trading.LockWait, "SENTIBOT_TRADING_LOCK_WAIT")

	// ── Risk ──
	setInt(&cfg.Risk.MaxOpenPositions, "SENTIBOT_RISK_MAX_OPEN_POSITIONS")
	setInt(&cfg.Risk.MaxDailyTrades, "SENTIBOT_RISK_MAX_DAILY_TRADES")
	setFloat64(&cfg.Risk.DailyLossLimit, "SENTIBOT_RISK_DAILY_LOSS_LIMIT")

	// ── Monitor ──
	setDuration(&cfg.Monitor.PollInterval, "SENTIBOT_MONITOR_POLL_INTERVAL")
	setDuration(&cfg.Monitor.ReconcileInterval, "SENTIBOT_MONITOR_RECONCILE_INTERVAL")
	setDuration(&cfg.Monitor.JoinTimeout, "SENTIBOT_MONITOR_JOIN_TIMEOUT")
	setDuration(&cfg.Monitor.ShutdownTimeout, "SENTIBOT_MONITOR_SHUTDOWN_TIMEOUT")
	setDuration(&cfg.Monitor.CloseTimeout, "SENTIBOT_MONITOR_CLOSE_TIMEOUT")
	setDuration(&cfg.Monitor.PriceLogInterval, "SENTIBOT_MONITOR_PRICE_LOG_INTERVAL")

	// ── News ──
	setStr(&cfg.News.WebSocketURL, "SENTIBOT_NEWS_WEBSOCKET_URL")
	setStr(&cfg.News.StreamName, "SENTIBOT_NEWS_STREAM_NAME")
	setInt(&cfg.News.StreamBatch, "SENTIBOT_NEWS_STREAM_BATCH")
	setDuration(&cfg.News.PollInterval, "SENTIBOT_NEWS_POLL_INTERVAL")
	setInt(&cfg.News.QueueSize, "SENTIBOT_NEWS_QUEUE_SIZE")
	setStr(&cfg.News.Backpressure, "SENTIBOT_NEWS_BACKPRESSURE")
	setDuration(&cfg.News.DedupTTL, "SENTIBOT_NEWS_DEDUP_TTL")

	// ── Venue ──
	setStr(&cfg.Venue.Kind, "SENTIBOT_VENUE_KIND")
	setFloat64(&cfg.Venue.PaperBalance, "SENTIBOT_VENUE_PAPER_BALANCE")
	setFloat64(&cfg.Venue.PaperJitter, "SENTIBOT_VENUE_PAPER_JITTER")

	// ── Binance ──
	setStr(&cfg.Binance.BaseURL, "SENTIBOT_BINANCE_BASE_URL")
	setStr(&cfg.Binance.APIKey, "SENTIBOT_BINANCE_API_KEY")
	setStr(&cfg.Binance.APISecret, "SENTIBOT_BINANCE_API_SECRET")
	setStr(&cfg.Binance.EncryptedSecretPath, "SENTIBOT_BINANCE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Binance.SecretPassword, "SENTIBOT_BINANCE_SECRET_PASSWORD")
	setInt64(&cfg.Binance.RecvWindowMs, "SENTIBOT_BINANCE_RECV_WINDOW_MS")
	setInt(&cfg.Binance.RequestsPerMinute, "SENTIBOT_BINANCE_REQUESTS_PER_MINUTE")
	setBool(&cfg.Binance.Testnet, "SENTIBOT_BINANCE_TESTNET")

	// ── Store ──
	setStr(&cfg.Store.Driver, "SENTIBOT_STORE_DRIVER")
	setStr(&cfg.Store.SQLitePath, "SENTIBOT_STORE_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SENTIBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "SENTIBOT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SENTIBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SENTIBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SENTIBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SENTIBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SENTIBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SENTIBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SENTIBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SENTIBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SENTIBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SENTIBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SENTIBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SENTIBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SENTIBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SENTIBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SENTIBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SENTIBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "SENTIBOT_REDIS_NAMESPACE")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SENTIBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SENTIBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SENTIBOT_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "SENTIBOT_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "SENTIBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SENTIBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SENTIBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SENTIBOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SENTIBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "SENTIBOT_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "SENTIBOT_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SENTIBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SENTIBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "SENTIBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "SENTIBOT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "SENTIBOT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "SENTIBOT_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SENTIBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SENTIBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SENTIBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SENTIBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SENTIBOT_MODE")
	setStr(&cfg.LogLevel, "SENTIBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
