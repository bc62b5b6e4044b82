// Package config defines the top-level configuration for the up/down bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/policy"
	"github.com/alanyoungcy/updownbot/internal/service"
	"github.com/alanyoungcy/updownbot/internal/strategy"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by UPDOWNBOT_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Feed       FeedConfig       `toml:"feed"`
	Engine     EngineConfig     `toml:"engine"`
	Signals    SignalsConfig    `toml:"signals"`
	Combiner   CombinerConfig   `toml:"combiner"`
	Gate       GateConfig       `toml:"gate"`
	Sizing     SizingConfig     `toml:"sizing"`
	Executor   ExecutorConfig   `toml:"executor"`
	Settlement SettlementConfig `toml:"settlement"`
	Supabase   SupabaseConfig   `toml:"supabase"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Journal    JournalConfig    `toml:"journal"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds Polymarket API endpoints.
type PolymarketConfig struct {
	GammaHost    string   `toml:"gamma_host"`
	WsHost       string   `toml:"ws_host"`
	RTDSURL      string   `toml:"rtds_url"`
	GammaRPS     float64  `toml:"gamma_rps"`
	GammaBurst   int      `toml:"gamma_burst"`
	GammaTimeout Duration `toml:"gamma_timeout"`
}

// MarketWSURL returns the CLOB market channel URL.
func (p PolymarketConfig) MarketWSURL() string {
	host := strings.TrimRight(p.WsHost, "/")
	if strings.HasSuffix(host, "/ws/market") {
		return host
	}
	return host + "/ws/market"
}

// FeedConfig holds the WebSocket feed parameters shared by every loop.
type FeedConfig struct {
	KeepaliveInterval Duration `toml:"keepalive_interval"`
	PongTimeout       Duration `toml:"pong_timeout"`
	QueueSize         int      `toml:"queue_size"`
	StaleMaxAge       Duration `toml:"stale_max_age"`
	ReconnectDelay    Duration `toml:"reconnect_delay"`
	MaxReconnectDelay Duration `toml:"max_reconnect_delay"`
	// ReferenceWindow is how much reference price history is kept.
	ReferenceWindow Duration `toml:"reference_window"`
	// ReferenceHealthyAge is how recent the last reference tick must be.
	ReferenceHealthyAge Duration `toml:"reference_healthy_age"`
}

// EngineConfig selects the decision loops and their cadence.
type EngineConfig struct {
	Assets            []string `toml:"assets"`
	Cadences          []string `toml:"cadences"`
	TickInterval      Duration `toml:"tick_interval"`
	DiscoveryInterval Duration `toml:"discovery_interval"`
	HandoffBuffer     int      `toml:"handoff_buffer"`
	// Depth is the number of book levels copied per tick.
	Depth int `toml:"depth"`
}

// SignalsConfig groups the per-computer parameters.
type SignalsConfig struct {
	Mispricing MispricingConfig `toml:"mispricing"`
	Whale      WhaleConfig      `toml:"whale"`
	Imbalance  ImbalanceConfig  `toml:"imbalance"`
	Momentum   MomentumConfig   `toml:"momentum"`
}

// MispricingConfig holds config for the mispricing computer.
type MispricingConfig struct {
	Enabled          bool    `toml:"enabled"`
	ArbitrageEnabled bool    `toml:"arbitrage_enabled"`
	ArbSumThreshold  float64 `toml:"arb_sum_threshold"`
	CheapAskFloor    float64 `toml:"cheap_ask_floor"`
	MinGap           float64 `toml:"min_gap"`
}

// WhaleConfig holds config for the whale computer.
type WhaleConfig struct {
	Enabled        bool     `toml:"enabled"`
	TopN           int      `toml:"top_n"`
	MinSize        float64  `toml:"min_size"`
	LayeringLevels int      `toml:"layering_levels"`
	SweepLevels    int      `toml:"sweep_levels"`
	SpoofRepeats   int      `toml:"spoof_repeats"`
	SpoofWindow    Duration `toml:"spoof_window"`
}

// ImbalanceConfig holds config for the imbalance computer.
type ImbalanceConfig struct {
	Enabled    bool    `toml:"enabled"`
	TopK       int     `toml:"top_k"`
	Threshold  float64 `toml:"threshold"`
	WindowSize int     `toml:"window_size"`
	MinSamples int     `toml:"min_samples"`
}

// MomentumConfig holds config for the momentum computer.
type MomentumConfig struct {
	Enabled  bool `toml:"enabled"`
	Lookback int  `toml:"lookback"`
}

// CombinerConfig selects the combining policy.
type CombinerConfig struct {
	Policy   string `toml:"policy"`
	Override string `toml:"override"`
	Quorum   int    `toml:"quorum"`
}

// GateConfig holds the entry gate parameters. Offsets are seconds remaining
// until window close.
type GateConfig struct {
	EntryWindowSec      float64  `toml:"entry_window_sec"`
	BandStartSec        float64  `toml:"band_start_sec"`
	BandEndSec          float64  `toml:"band_end_sec"`
	FinalCutoffSec      float64  `toml:"final_cutoff_sec"`
	RequireStrike       bool     `toml:"require_strike"`
	StrikeBlockEnabled  bool     `toml:"strike_block_enabled"`
	StrikeDistancePct   float64  `toml:"strike_distance_pct"`
	MoveOverridePct     float64  `toml:"move_override_pct"`
	MoveLookback        Duration `toml:"move_lookback"`
	MoveOverridesBand   bool     `toml:"move_overrides_band"`
	MoveOverridesStrike bool     `toml:"move_overrides_strike"`
}

// SizeBandConfig maps remaining seconds in [lower_sec, upper_sec) to a size.
type SizeBandConfig struct {
	LowerSec float64 `toml:"lower_sec"`
	UpperSec float64 `toml:"upper_sec"`
	Size     float64 `toml:"size"`
}

// SizingConfig holds the size-by-time bands and the price ceiling.
type SizingConfig struct {
	Bands             []SizeBandConfig `toml:"bands"`
	MaxPrice          float64          `toml:"max_price"`
	AllowNonMonotonic bool             `toml:"allow_non_monotonic"`
}

// ExecutorConfig holds paper executor parameters.
type ExecutorConfig struct {
	LockTTLPad  Duration `toml:"lock_ttl_pad"`
	SeedHorizon Duration `toml:"seed_horizon"`
}

// SettlementConfig holds settlement resolver parameters.
type SettlementConfig struct {
	Interval        Duration `toml:"interval"`
	Buffer          Duration `toml:"buffer"`
	WinnerThreshold float64  `toml:"winner_threshold"`
	GammaRetries    int      `toml:"gamma_retries"`
	GammaRetryDelay Duration `toml:"gamma_retry_delay"`
	GiveUpAfter     Duration `toml:"give_up_after"`
	HistorySize     int      `toml:"history_size"`
	OpenTradeScan   Duration `toml:"open_trade_scan"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	PartSizeMB     int    `toml:"part_size_mb"`
}

// JournalConfig holds decision journal batching parameters.
type JournalConfig struct {
	Enabled       bool     `toml:"enabled"`
	Prefix        string   `toml:"prefix"`
	MaxBuffered   int      `toml:"max_buffered"`
	BatchSize     int      `toml:"batch_size"`
	FlushInterval Duration `toml:"flush_interval"`
}

// Duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   float64  `toml:"rate_limit"`
	RateBurst   int      `toml:"rate_burst"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPIURL    string   `toml:"telegram_api_url"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	DiscordUsername   string   `toml:"discord_username"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			GammaHost:    "https://gamma-api.polymarket.com",
			WsHost:       "wss://ws-subscriptions-clob.polymarket.com",
			RTDSURL:      "wss://ws-live-data.polymarket.com",
			GammaRPS:     5,
			GammaBurst:   5,
			GammaTimeout: Duration{10 * time.Second},
		},
		Feed: FeedConfig{
			KeepaliveInterval:   Duration{10 * time.Second},
			PongTimeout:         Duration{30 * time.Second},
			QueueSize:           1024,
			StaleMaxAge:         Duration{60 * time.Second},
			ReconnectDelay:      Duration{5 * time.Second},
			MaxReconnectDelay:   Duration{60 * time.Second},
			ReferenceWindow:     Duration{20 * time.Minute},
			ReferenceHealthyAge: Duration{30 * time.Second},
		},
		Engine: EngineConfig{
			Assets:            []string{"BTC", "ETH"},
			Cadences:          []string{"15m"},
			TickInterval:      Duration{500 * time.Millisecond},
			DiscoveryInterval: Duration{10 * time.Second},
			HandoffBuffer:     16,
			Depth:             10,
		},
		Signals: SignalsConfig{
			Mispricing: MispricingConfig{
				Enabled:          true,
				ArbitrageEnabled: false,
				ArbSumThreshold:  0.98,
				CheapAskFloor:    0.05,
				MinGap:           0.35,
			},
			Whale: WhaleConfig{
				Enabled:        true,
				TopN:           10,
				MinSize:        5000,
				LayeringLevels: 3,
				SweepLevels:    3,
				SpoofRepeats:   3,
				SpoofWindow:    Duration{10 * time.Second},
			},
			Imbalance: ImbalanceConfig{
				Enabled:    true,
				TopK:       5,
				Threshold:  0.3,
				WindowSize: 20,
			},
			Momentum: MomentumConfig{
				Enabled:  true,
				Lookback: 2,
			},
		},
		Combiner: CombinerConfig{
			Policy:   "priority_quorum",
			Override: string(domain.SourceMispricing),
			Quorum:   2,
		},
		Gate: GateConfig{
			EntryWindowSec: 240,
			BandStartSec:   40,
			BandEndSec:     25,
			RequireStrike:  true,
			MoveLookback:   Duration{time.Minute},
		},
		Sizing: SizingConfig{
			Bands: []SizeBandConfig{
				{LowerSec: 180, UpperSec: 240, Size: 8},
				{LowerSec: 120, UpperSec: 180, Size: 10},
				{LowerSec: 0, UpperSec: 120, Size: 12},
			},
			MaxPrice: 0.85,
		},
		Executor: ExecutorConfig{
			LockTTLPad:  Duration{time.Minute},
			SeedHorizon: Duration{30 * time.Minute},
		},
		Settlement: SettlementConfig{
			Interval:        Duration{5 * time.Second},
			Buffer:          Duration{2 * time.Second},
			WinnerThreshold: 0.98,
			GammaRetries:    3,
			GammaRetryDelay: Duration{2 * time.Second},
			GiveUpAfter:     Duration{30 * time.Minute},
			HistorySize:     32,
			OpenTradeScan:   Duration{time.Minute},
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
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
			KeyPrefix:  "updownbot",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "updownbot-data",
			ForcePathStyle: true,
			PartSizeMB:     5,
		},
		Journal: JournalConfig{
			Enabled:       false,
			Prefix:        "journal",
			MaxBuffered:   500,
			BatchSize:     100,
			FlushInterval: Duration{20 * time.Second},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   10,
			RateBurst:   20,
		},
		Notify: NotifyConfig{
			TelegramAPIURL:  "https://api.telegram.org",
			DiscordUsername: "updownbot",
			Events:          []string{"intent", "settlement", "startup"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// Mode names.
const (
	// ModePaper runs the decision loops and records paper trades in
	// PostgreSQL.
	ModePaper = "paper"
	// ModeMonitor runs the decision loops but only logs intents.
	ModeMonitor = "monitor"
)

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModePaper:   true,
	ModeMonitor: true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsPostgres reports whether the configured mode persists trades.
func (c *Config) NeedsPostgres() bool {
	return strings.ToLower(c.Mode) == ModePaper
}

// Targets returns the configured (asset, cadence) pairs. Call Validate
// first; invalid cadences are skipped.
func (c *Config) Targets() []service.Target {
	var out []service.Target
	for _, a := range c.Engine.Assets {
		asset := strings.ToUpper(strings.TrimSpace(a))
		if asset == "" {
			continue
		}
		for _, s := range c.Engine.Cadences {
			cad, err := domain.ParseCadence(s)
			if err != nil {
				continue
			}
			out = append(out, service.Target{Asset: asset, Cadence: cad})
		}
	}
	return out
}

// GateParams converts the gate section into policy parameters.
func (c *Config) GateParams() policy.GateParams {
	g := c.Gate
	return policy.GateParams{
		EntryWindow:         seconds(g.EntryWindowSec),
		BandStart:           seconds(g.BandStartSec),
		BandEnd:             seconds(g.BandEndSec),
		FinalCutoff:         seconds(g.FinalCutoffSec),
		RequireStrike:       g.RequireStrike,
		StrikeBlockEnabled:  g.StrikeBlockEnabled,
		StrikeDistancePct:   g.StrikeDistancePct,
		MoveOverridePct:     g.MoveOverridePct,
		MoveLookback:        g.MoveLookback.Duration,
		MoveOverridesBand:   g.MoveOverridesBand,
		MoveOverridesStrike: g.MoveOverridesStrike,
	}
}

// ImbalanceHorizon is the span of book time the imbalance window covers:
// one sample per tick. Older samples are evicted.
func (c *Config) ImbalanceHorizon() time.Duration {
	return time.Duration(c.Signals.Imbalance.WindowSize) * c.Engine.TickInterval.Duration
}

// SizeBands converts the sizing section into policy bands.
func (c *Config) SizeBands() []policy.SizeBand {
	bands := make([]policy.SizeBand, 0, len(c.Sizing.Bands))
	for _, b := range c.Sizing.Bands {
		bands = append(bands, policy.SizeBand{
			Lower: seconds(b.LowerSec),
			Upper: seconds(b.UpperSec),
			Size:  b.Size,
		})
	}
	return bands
}

// CombineOptions converts the combiner section and the per-computer enabled
// flags into combiner options.
func (c *Config) CombineOptions() strategy.CombineOptions {
	disabled := make(map[domain.SignalSource]bool)
	for src, on := range c.enabledSources() {
		if !on {
			disabled[src] = true
		}
	}
	return strategy.CombineOptions{
		Override: domain.SignalSource(strings.ToLower(strings.TrimSpace(c.Combiner.Override))),
		Quorum:   c.Combiner.Quorum,
		Disabled: disabled,
	}
}

func (c *Config) enabledSources() map[domain.SignalSource]bool {
	return map[domain.SignalSource]bool{
		domain.SourceMispricing: c.Signals.Mispricing.Enabled,
		domain.SourceWhale:      c.Signals.Whale.Enabled,
		domain.SourceImbalance:  c.Signals.Imbalance.Enabled,
		domain.SourceMomentum:   c.Signals.Momentum.Enabled,
	}
}

// SourceEnabled reports whether the computer for src is enabled.
func (c *Config) SourceEnabled(src domain.SignalSource) bool {
	return c.enabledSources()[src]
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, monitor)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Polymarket endpoints
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}
	if c.Polymarket.GammaRPS < 0 {
		errs = append(errs, "polymarket: gamma_rps must be >= 0")
	}

	// Feed
	if c.Feed.KeepaliveInterval.Duration <= 0 {
		errs = append(errs, "feed: keepalive_interval must be > 0")
	}
	if c.Feed.PongTimeout.Duration <= c.Feed.KeepaliveInterval.Duration {
		errs = append(errs, "feed: pong_timeout must exceed keepalive_interval")
	}
	if c.Feed.QueueSize < 1 {
		errs = append(errs, "feed: queue_size must be >= 1")
	}
	if c.Feed.StaleMaxAge.Duration < 0 {
		errs = append(errs, "feed: stale_max_age must not be negative")
	}
	if c.Feed.ReconnectDelay.Duration <= 0 || c.Feed.MaxReconnectDelay.Duration < c.Feed.ReconnectDelay.Duration {
		errs = append(errs, "feed: reconnect_delay must be > 0 and not exceed max_reconnect_delay")
	}

	// Engine
	if len(c.Engine.Assets) == 0 {
		errs = append(errs, "engine: at least one asset is required")
	}
	if len(c.Engine.Cadences) == 0 {
		errs = append(errs, "engine: at least one cadence is required")
	}
	for _, s := range c.Engine.Cadences {
		if _, err := domain.ParseCadence(s); err != nil {
			errs = append(errs, "engine: "+err.Error())
		}
	}
	if c.Engine.TickInterval.Duration <= 0 {
		errs = append(errs, "engine: tick_interval must be > 0")
	}
	if c.Engine.DiscoveryInterval.Duration <= 0 {
		errs = append(errs, "engine: discovery_interval must be > 0")
	}
	if c.Engine.HandoffBuffer < 1 {
		errs = append(errs, "engine: handoff_buffer must be >= 1")
	}
	if c.Engine.Depth < 1 {
		errs = append(errs, "engine: depth must be >= 1")
	}

	// Signals
	errs = append(errs, c.validateSignals()...)

	// Combiner
	if _, err := strategy.LookupPolicy(c.Combiner.Policy); err != nil {
		errs = append(errs, "combiner: "+err.Error())
	}
	if c.Combiner.Quorum < 1 {
		errs = append(errs, "combiner: quorum must be >= 1")
	}
	if o := strings.ToLower(strings.TrimSpace(c.Combiner.Override)); o != "" && !domain.SignalSource(o).Valid() {
		errs = append(errs, fmt.Sprintf("combiner: unknown override source %q", c.Combiner.Override))
	}

	// Gate and sizing
	if err := c.GateParams().Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := policy.NewSizing(c.SizeBands(), c.Sizing.MaxPrice, c.Sizing.AllowNonMonotonic); err != nil {
		errs = append(errs, err.Error())
	}

	// Settlement
	if c.Settlement.Interval.Duration <= 0 {
		errs = append(errs, "settlement: interval must be > 0")
	}
	if c.Settlement.WinnerThreshold <= 0.5 || c.Settlement.WinnerThreshold > 1 {
		errs = append(errs, fmt.Sprintf("settlement: winner_threshold must be in (0.5, 1], got %g", c.Settlement.WinnerThreshold))
	}
	if c.Settlement.GammaRetries < 0 {
		errs = append(errs, "settlement: gamma_retries must be >= 0")
	}
	if c.Settlement.HistorySize < c.Signals.Momentum.Lookback {
		errs = append(errs, "settlement: history_size must be >= signals.momentum.lookback")
	}

	// Supabase
	if c.NeedsPostgres() {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 {
			errs = append(errs, "supabase: pool_min_conns must be >= 0")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
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

	// Journal / S3
	if c.Journal.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when the journal is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when the journal is enabled")
		}
		if c.Journal.BatchSize < 1 || c.Journal.MaxBuffered < c.Journal.BatchSize {
			errs = append(errs, "journal: batch_size must be >= 1 and not exceed max_buffered")
		}
		if c.Journal.FlushInterval.Duration <= 0 {
			errs = append(errs, "journal: flush_interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateSignals() []string {
	var errs []string
	s := c.Signals
	if s.Mispricing.Enabled {
		if s.Mispricing.ArbitrageEnabled && (s.Mispricing.ArbSumThreshold <= 0 || s.Mispricing.ArbSumThreshold > 1) {
			errs = append(errs, "signals.mispricing: arb_sum_threshold must be in (0, 1]")
		}
		if s.Mispricing.CheapAskFloor < 0 || s.Mispricing.CheapAskFloor >= 1 {
			errs = append(errs, "signals.mispricing: cheap_ask_floor must be in [0, 1)")
		}
		if s.Mispricing.MinGap < 0 || s.Mispricing.MinGap >= 1 {
			errs = append(errs, "signals.mispricing: min_gap must be in [0, 1)")
		}
	}
	if s.Whale.Enabled {
		if s.Whale.TopN < 1 {
			errs = append(errs, "signals.whale: top_n must be >= 1")
		}
		if s.Whale.MinSize <= 0 {
			errs = append(errs, "signals.whale: min_size must be > 0")
		}
		if s.Whale.LayeringLevels < 1 || s.Whale.SweepLevels < 1 || s.Whale.SpoofRepeats < 1 {
			errs = append(errs, "signals.whale: layering_levels, sweep_levels and spoof_repeats must be >= 1")
		}
		if s.Whale.SpoofWindow.Duration <= 0 {
			errs = append(errs, "signals.whale: spoof_window must be > 0")
		}
	}
	if s.Imbalance.Enabled {
		if s.Imbalance.TopK < 1 {
			errs = append(errs, "signals.imbalance: top_k must be >= 1")
		}
		if s.Imbalance.WindowSize < 1 {
			errs = append(errs, "signals.imbalance: window_size must be >= 1")
		}
		if s.Imbalance.Threshold <= 0 || s.Imbalance.Threshold >= 1 {
			errs = append(errs, "signals.imbalance: threshold must be in (0, 1)")
		}
		if s.Imbalance.MinSamples < 0 || s.Imbalance.MinSamples > s.Imbalance.WindowSize {
			errs = append(errs, "signals.imbalance: min_samples must be in [0, window_size]")
		}
	}
	if s.Momentum.Enabled && s.Momentum.Lookback < 1 {
		errs = append(errs, "signals.momentum: lookback must be >= 1")
	}
	return errs
}
