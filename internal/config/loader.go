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
// built-in defaults, applies UPDOWNBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
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

	return &cfg, nil
}

// applyEnvOverrides reads well-known UPDOWNBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "UPDOWNBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "UPDOWNBOT_POLYMARKET_WS_HOST")
	setStr(&cfg.Polymarket.RTDSURL, "UPDOWNBOT_POLYMARKET_RTDS_URL")
	setFloat64(&cfg.Polymarket.GammaRPS, "UPDOWNBOT_POLYMARKET_GAMMA_RPS")
	setInt(&cfg.Polymarket.GammaBurst, "UPDOWNBOT_POLYMARKET_GAMMA_BURST")

	// ── Feed ──
	setDuration(&cfg.Feed.KeepaliveInterval, "UPDOWNBOT_FEED_KEEPALIVE_INTERVAL")
	setDuration(&cfg.Feed.PongTimeout, "UPDOWNBOT_FEED_PONG_TIMEOUT")
	setInt(&cfg.Feed.QueueSize, "UPDOWNBOT_FEED_QUEUE_SIZE")
	setDuration(&cfg.Feed.StaleMaxAge, "UPDOWNBOT_FEED_STALE_MAX_AGE")

	// ── Engine ──
	setStringSlice(&cfg.Engine.Assets, "UPDOWNBOT_ENGINE_ASSETS")
	setStringSlice(&cfg.Engine.Cadences, "UPDOWNBOT_ENGINE_CADENCES")
	setDuration(&cfg.Engine.TickInterval, "UPDOWNBOT_ENGINE_TICK_INTERVAL")
	setDuration(&cfg.Engine.DiscoveryInterval, "UPDOWNBOT_ENGINE_DISCOVERY_INTERVAL")

	// ── Signals ──
	setBool(&cfg.Signals.Mispricing.Enabled, "UPDOWNBOT_SIGNALS_MISPRICING_ENABLED")
	setBool(&cfg.Signals.Mispricing.ArbitrageEnabled, "UPDOWNBOT_SIGNALS_MISPRICING_ARBITRAGE_ENABLED")
	setFloat64(&cfg.Signals.Mispricing.CheapAskFloor, "UPDOWNBOT_SIGNALS_MISPRICING_CHEAP_ASK_FLOOR")
	setFloat64(&cfg.Signals.Mispricing.MinGap, "UPDOWNBOT_SIGNALS_MISPRICING_MIN_GAP")
	setBool(&cfg.Signals.Whale.Enabled, "UPDOWNBOT_SIGNALS_WHALE_ENABLED")
	setFloat64(&cfg.Signals.Whale.MinSize, "UPDOWNBOT_SIGNALS_WHALE_MIN_SIZE")
	setBool(&cfg.Signals.Imbalance.Enabled, "UPDOWNBOT_SIGNALS_IMBALANCE_ENABLED")
	setFloat64(&cfg.Signals.Imbalance.Threshold, "UPDOWNBOT_SIGNALS_IMBALANCE_THRESHOLD")
	setInt(&cfg.Signals.Imbalance.WindowSize, "UPDOWNBOT_SIGNALS_IMBALANCE_WINDOW_SIZE")
	setBool(&cfg.Signals.Momentum.Enabled, "UPDOWNBOT_SIGNALS_MOMENTUM_ENABLED")
	setInt(&cfg.Signals.Momentum.Lookback, "UPDOWNBOT_SIGNALS_MOMENTUM_LOOKBACK")

	// ── Combiner / gate / sizing ──
	setStr(&cfg.Combiner.Policy, "UPDOWNBOT_COMBINER_POLICY")
	setStr(&cfg.Combiner.Override, "UPDOWNBOT_COMBINER_OVERRIDE")
	setInt(&cfg.Combiner.Quorum, "UPDOWNBOT_COMBINER_QUORUM")
	setFloat64(&cfg.Gate.EntryWindowSec, "UPDOWNBOT_GATE_ENTRY_WINDOW_SEC")
	setFloat64(&cfg.Gate.BandStartSec, "UPDOWNBOT_GATE_BAND_START_SEC")
	setFloat64(&cfg.Gate.BandEndSec, "UPDOWNBOT_GATE_BAND_END_SEC")
	setFloat64(&cfg.Gate.FinalCutoffSec, "UPDOWNBOT_GATE_FINAL_CUTOFF_SEC")
	setBool(&cfg.Gate.RequireStrike, "UPDOWNBOT_GATE_REQUIRE_STRIKE")
	setFloat64(&cfg.Sizing.MaxPrice, "UPDOWNBOT_SIZING_MAX_PRICE")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "UPDOWNBOT_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "UPDOWNBOT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "UPDOWNBOT_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "UPDOWNBOT_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "UPDOWNBOT_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "UPDOWNBOT_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "UPDOWNBOT_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "UPDOWNBOT_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "UPDOWNBOT_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "UPDOWNBOT_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "UPDOWNBOT_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "UPDOWNBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "UPDOWNBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "UPDOWNBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "UPDOWNBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "UPDOWNBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "UPDOWNBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "UPDOWNBOT_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "UPDOWNBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "UPDOWNBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "UPDOWNBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "UPDOWNBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "UPDOWNBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "UPDOWNBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "UPDOWNBOT_S3_FORCE_PATH_STYLE")

	// ── Journal ──
	setBool(&cfg.Journal.Enabled, "UPDOWNBOT_JOURNAL_ENABLED")
	setStr(&cfg.Journal.Prefix, "UPDOWNBOT_JOURNAL_PREFIX")
	setDuration(&cfg.Journal.FlushInterval, "UPDOWNBOT_JOURNAL_FLUSH_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "UPDOWNBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "UPDOWNBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "UPDOWNBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "UPDOWNBOT_SERVER_API_KEY")
	setFloat64(&cfg.Server.RateLimit, "UPDOWNBOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "UPDOWNBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "UPDOWNBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "UPDOWNBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "UPDOWNBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "UPDOWNBOT_MODE")
	setStr(&cfg.LogLevel, "UPDOWNBOT_LOG_LEVEL")
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

func setDuration(dst *Duration, key string) {
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
