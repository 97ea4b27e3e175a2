package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Run modes.
const (
	ModeScanner  = "scanner"
	ModePaper    = "paper"
	ModeBacktest = "backtest"
)

// Fill models.
const (
	FillMakerTouch   = "maker_touch"
	FillTradeThrough = "trade_through"
)

// Execution modes.
const (
	ExecPaper  = "paper"
	ExecShadow = "shadow"
)

// Config is the full engine configuration.
type Config struct {
	Run      RunConfig      `yaml:"run"`
	API      APIConfig      `yaml:"api"`
	Selector SelectorConfig `yaml:"selector"`
	Feed     FeedConfig     `yaml:"feed"`
	Strategy StrategyConfig `yaml:"strategy"`
	MM       MMConfig       `yaml:"market_making"`
	FV       FVConfig       `yaml:"fair_value"`
	Risk     RiskConfig     `yaml:"risk"`
	Paper    PaperConfig    `yaml:"paper"`
	Backtest BacktestConfig `yaml:"backtest"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// RunConfig selects which pipeline runs and how orders execute.
type RunConfig struct {
	Mode          string `yaml:"mode"`             // scanner | paper | backtest
	TradeMode     string `yaml:"trade_mode"`       // paper only; live is rejected
	ExecutionMode string `yaml:"execution_mode"`   // paper | shadow
	FillModel     string `yaml:"paper_fill_model"` // maker_touch | trade_through
}

// APIConfig holds the upstream base URLs.
type APIConfig struct {
	GammaBase string `yaml:"gamma_base"`
	WSBase    string `yaml:"ws_base"`
}

// SelectorConfig controls market discovery and ranking.
type SelectorConfig struct {
	IntervalSeconds int     `yaml:"interval_seconds"`
	TopN            int     `yaml:"top_n_markets"`
	Min24hVolumeUSD float64 `yaml:"min_24h_volume_usd"`
	MinLiquidityUSD float64 `yaml:"min_liquidity_usd"`
	MinSpreadBPS    float64 `yaml:"min_spread_bps"`
	MinUpdatesMin   float64 `yaml:"min_updates_min"`
	WeightVolume    float64 `yaml:"weight_volume"`
	WeightLiquidity float64 `yaml:"weight_liquidity"`
	WeightSpread    float64 `yaml:"weight_spread"`
	WeightUpdates   float64 `yaml:"weight_updates"`
}

// FeedConfig controls ingestion and the merged event channel.
type FeedConfig struct {
	QueueSize  int `yaml:"queue_size"`
	IdleTickMS int `yaml:"idle_tick_ms"`
}

// StrategyConfig applies to both strategies.
type StrategyConfig struct {
	Enabled       []string `yaml:"enabled"` // market_maker, fair_value
	MinIntervalMS int      `yaml:"min_interval_ms"`
	TargetSize    float64  `yaml:"target_size"`
}

// MMConfig parametrizes the inventory-aware market maker.
type MMConfig struct {
	MinHalfSpread    float64 `yaml:"min_half_spread"`
	EdgeTicks        float64 `yaml:"edge_ticks"`
	SkewK            float64 `yaml:"skew_k"`
	MinQuoteLifeSecs float64 `yaml:"min_quote_life_secs"`
	RepriceThreshold float64 `yaml:"reprice_threshold_ticks"`
	MaxSpread        float64 `yaml:"max_spread"`
}

// FVConfig parametrizes the cross-venue fair value strategy.
type FVConfig struct {
	Provider       string  `yaml:"provider"` // stub | mock
	EntryEdge      float64 `yaml:"entry_edge"`
	ExitEdge       float64 `yaml:"exit_edge"`
	DepthMult      float64 `yaml:"depth_mult"`
	MaxStalenessMS int     `yaml:"max_staleness_ms"`
	TimeStopSecs   int     `yaml:"time_stop_secs"`
	CooldownSecs   int     `yaml:"cooldown_secs"`
}

// RiskConfig holds the hard limits enforced before every placement.
type RiskConfig struct {
	KillSwitch           bool    `yaml:"kill_switch"` // blocks all new exposure when set
	MaxPositionPerMarket float64 `yaml:"max_position_per_market"`
	MaxEventExposureUSD  float64 `yaml:"max_event_exposure_usd"`
	DailyLossLimit       float64 `yaml:"daily_loss_limit"`
	RejectFeedLagMS      float64 `yaml:"reject_feed_lag_ms"`
	MaxSpreadBPS         float64 `yaml:"max_spread_bps"`
	MaxOpenPositions     int     `yaml:"max_open_positions"`
	MaxPosAgeSecs        int     `yaml:"max_pos_age_secs"`
	UnwindIntervalSecs   int     `yaml:"unwind_interval_secs"`
}

// PaperConfig models execution frictions of the simulated broker.
type PaperConfig struct {
	SlippageBPS   float64 `yaml:"slippage_bps"`
	LatencyBPS    float64 `yaml:"latency_bps"`
	FeesBPS       float64 `yaml:"fees_bps"`
	MinRestSecs   float64 `yaml:"min_rest_secs"`
	Participation float64 `yaml:"participation"`
	ResetOnStart  bool    `yaml:"reset_on_start"`
}

// BacktestConfig bounds and paces tape replay.
type BacktestConfig struct {
	Speed   float64 `yaml:"speed"` // wall-clock multiplier, 0 = as fast as possible
	StartTS string  `yaml:"start_ts"`
	EndTS   string  `yaml:"end_ts"`
}

// StorageConfig controls persistence.
type StorageConfig struct {
	DSN                  string `yaml:"dsn"` // SQLite path, or ":memory:"
	SnapshotIntervalSecs int    `yaml:"snapshot_interval_secs"`
	WriterBatchSize      int    `yaml:"writer_batch_size"`
	WriterQueueSize      int    `yaml:"writer_queue_size"`
}

// LogConfig controls format and level of logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// MetricsConfig enables the optional Prometheus listener.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the listener
}

// Load reads the YAML file and the .env file if present. Environment
// variables override YAML for every recognized key. Returns an error on
// any invalid or unsupported combination; the engine refuses to run on
// a bad config.
//
// Defaults are seeded before parsing, so a key explicitly set to zero
// (BACKTEST_SPEED=0, MM_EDGE_TICKS=0) stays zero instead of being
// rewritten to the default.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	case os.IsNotExist(err):
		// Env-only configuration is allowed.
	default:
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

// SelectorInterval returns the selector cadence as a Duration.
func (c *Config) SelectorInterval() time.Duration {
	return time.Duration(c.Selector.IntervalSeconds) * time.Second
}

// IdleTick returns the scheduler idle timer period.
func (c *Config) IdleTick() time.Duration {
	return time.Duration(c.Feed.IdleTickMS) * time.Millisecond
}

// StrategyThrottle returns the per-market strategy evaluation floor.
func (c *Config) StrategyThrottle() time.Duration {
	return time.Duration(c.Strategy.MinIntervalMS) * time.Millisecond
}

// SnapshotInterval returns the PnL snapshot cadence.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.Storage.SnapshotIntervalSecs) * time.Second
}

// UnwindInterval returns the cadence of the inventory unwind pass.
func (c *Config) UnwindInterval() time.Duration {
	return time.Duration(c.Risk.UnwindIntervalSecs) * time.Second
}

// BacktestBounds parses the optional replay window. Zero times mean unbounded.
func (c *Config) BacktestBounds() (start, end time.Time, err error) {
	if c.Backtest.StartTS != "" {
		start, err = time.Parse(time.RFC3339, c.Backtest.StartTS)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("config: backtest start_ts: %w", err)
		}
	}
	if c.Backtest.EndTS != "" {
		end, err = time.Parse(time.RFC3339, c.Backtest.EndTS)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("config: backtest end_ts: %w", err)
		}
	}
	return start, end, nil
}

// StrategyEnabled reports whether the named strategy is configured to run.
func (c *Config) StrategyEnabled(name string) bool {
	for _, s := range c.Strategy.Enabled {
		if strings.TrimSpace(s) == name {
			return true
		}
	}
	return false
}

// Validate rejects unsupported modes and out-of-range values.
func (c *Config) Validate() error {
	switch c.Run.Mode {
	case ModeScanner, ModePaper, ModeBacktest:
	default:
		return fmt.Errorf("RUN_MODE %q not in {scanner, paper, backtest}", c.Run.Mode)
	}
	if c.Run.TradeMode == "live" {
		return fmt.Errorf("TRADE_MODE=live is not supported, this engine only paper-trades")
	}
	if c.Run.TradeMode != "paper" {
		return fmt.Errorf("TRADE_MODE %q not in {paper}", c.Run.TradeMode)
	}
	switch c.Run.ExecutionMode {
	case ExecPaper, ExecShadow:
	default:
		return fmt.Errorf("EXECUTION_MODE %q not in {paper, shadow}", c.Run.ExecutionMode)
	}
	switch c.Run.FillModel {
	case FillMakerTouch, FillTradeThrough:
	default:
		return fmt.Errorf("PAPER_FILL_MODEL %q not in {maker_touch, trade_through}", c.Run.FillModel)
	}
	if c.Paper.Participation <= 0 || c.Paper.Participation > 1 {
		return fmt.Errorf("PAPER_PARTICIPATION %v not in (0, 1]", c.Paper.Participation)
	}
	if c.Risk.MaxPositionPerMarket <= 0 {
		return fmt.Errorf("MAX_POSITION_PER_MARKET must be positive, got %v", c.Risk.MaxPositionPerMarket)
	}
	if c.Strategy.TargetSize <= 0 {
		return fmt.Errorf("TARGET_SIZE must be positive, got %v", c.Strategy.TargetSize)
	}
	if c.Backtest.Speed < 0 {
		return fmt.Errorf("BACKTEST_SPEED must be >= 0, got %v", c.Backtest.Speed)
	}
	if _, _, err := c.BacktestBounds(); err != nil {
		return err
	}
	return nil
}

// applyEnvOverrides maps the environment-style option names onto the
// config. Env wins over YAML.
func applyEnvOverrides(cfg *Config) {
	envStr("RUN_MODE", &cfg.Run.Mode)
	envStr("TRADE_MODE", &cfg.Run.TradeMode)
	envStr("EXECUTION_MODE", &cfg.Run.ExecutionMode)
	envStr("PAPER_FILL_MODEL", &cfg.Run.FillModel)

	envStr("GAMMA_BASE", &cfg.API.GammaBase)
	envStr("WS_BASE", &cfg.API.WSBase)

	envInt("SELECTOR_INTERVAL", &cfg.Selector.IntervalSeconds)
	envInt("TOP_N_MARKETS", &cfg.Selector.TopN)
	envFloat("MIN_24H_VOLUME_USD", &cfg.Selector.Min24hVolumeUSD)
	envFloat("MIN_LIQUIDITY_USD", &cfg.Selector.MinLiquidityUSD)
	envFloat("MIN_SPREAD_BPS", &cfg.Selector.MinSpreadBPS)
	envFloat("MIN_UPDATES_MIN", &cfg.Selector.MinUpdatesMin)

	envInt("FEED_QUEUE", &cfg.Feed.QueueSize)
	envInt("IDLE_TICK_MS", &cfg.Feed.IdleTickMS)

	if v := os.Getenv("STRATEGIES"); v != "" {
		cfg.Strategy.Enabled = strings.Split(v, ",")
	}
	envInt("STRATEGY_MIN_INTERVAL", &cfg.Strategy.MinIntervalMS)
	envFloat("TARGET_SIZE", &cfg.Strategy.TargetSize)

	envFloat("MM_MIN_HALF_SPREAD", &cfg.MM.MinHalfSpread)
	envFloat("MM_EDGE_TICKS", &cfg.MM.EdgeTicks)
	envFloat("MM_SKEW_K", &cfg.MM.SkewK)
	envFloat("MM_MIN_QUOTE_LIFE_SECS", &cfg.MM.MinQuoteLifeSecs)
	envFloat("MM_REPRICE_THRESHOLD", &cfg.MM.RepriceThreshold)
	envFloat("MM_MAX_SPREAD", &cfg.MM.MaxSpread)

	envStr("FV_PROVIDER", &cfg.FV.Provider)
	envFloat("FV_ENTRY_EDGE", &cfg.FV.EntryEdge)
	envFloat("FV_EXIT_EDGE", &cfg.FV.ExitEdge)
	envFloat("FV_DEPTH_MULT", &cfg.FV.DepthMult)
	envInt("FV_MAX_STALENESS", &cfg.FV.MaxStalenessMS)
	envInt("FV_TIME_STOP_SECS", &cfg.FV.TimeStopSecs)
	envInt("FV_COOLDOWN_SECS", &cfg.FV.CooldownSecs)

	envBool("KILL_SWITCH", &cfg.Risk.KillSwitch)
	envFloat("MAX_POSITION_PER_MARKET", &cfg.Risk.MaxPositionPerMarket)
	envFloat("MAX_EVENT_EXPOSURE_USD", &cfg.Risk.MaxEventExposureUSD)
	envFloat("DAILY_LOSS_LIMIT", &cfg.Risk.DailyLossLimit)
	envFloat("REJECT_FEED_LAG_MS", &cfg.Risk.RejectFeedLagMS)
	envFloat("MAX_SPREAD_BPS", &cfg.Risk.MaxSpreadBPS)
	envInt("MAX_OPEN_POSITIONS", &cfg.Risk.MaxOpenPositions)
	envInt("MAX_POS_AGE_SECS", &cfg.Risk.MaxPosAgeSecs)
	envInt("UNWIND_INTERVAL_SECS", &cfg.Risk.UnwindIntervalSecs)

	envFloat("SLIPPAGE_BPS", &cfg.Paper.SlippageBPS)
	envFloat("LATENCY_BPS", &cfg.Paper.LatencyBPS)
	envFloat("FEES_BPS", &cfg.Paper.FeesBPS)
	envFloat("PAPER_MIN_REST_SECS", &cfg.Paper.MinRestSecs)
	envFloat("PAPER_PARTICIPATION", &cfg.Paper.Participation)
	envBool("PAPER_RESET_ON_START", &cfg.Paper.ResetOnStart)

	envFloat("BACKTEST_SPEED", &cfg.Backtest.Speed)
	envStr("BACKTEST_START_TS", &cfg.Backtest.StartTS)
	envStr("BACKTEST_END_TS", &cfg.Backtest.EndTS)

	envStr("SQLITE_PATH", &cfg.Storage.DSN)
	envInt("SNAPSHOT_INTERVAL_SECS", &cfg.Storage.SnapshotIntervalSecs)

	envStr("LOG_LEVEL", &cfg.Log.Level)
	envStr("LOG_FORMAT", &cfg.Log.Format)
	envStr("METRICS_ADDR", &cfg.Metrics.Addr)
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Default returns the documented defaults. Load starts from this and
// lets YAML and environment overrides replace values, zeros included.
func Default() *Config {
	return &Config{
		Run: RunConfig{
			Mode:          ModePaper,
			TradeMode:     "paper",
			ExecutionMode: ExecPaper,
			FillModel:     FillMakerTouch,
		},
		API: APIConfig{
			GammaBase: "https://gamma-api.polymarket.com",
			WSBase:    "wss://ws-subscriptions-clob.polymarket.com/ws/market",
		},
		Selector: SelectorConfig{
			IntervalSeconds: 60,
			TopN:            20,
			Min24hVolumeUSD: 10_000,
			MinLiquidityUSD: 5_000,
			WeightVolume:    1,
			WeightLiquidity: 1,
			WeightSpread:    0.5,
			WeightUpdates:   0.2,
		},
		Feed: FeedConfig{
			QueueSize:  10_000,
			IdleTickMS: 20,
		},
		Strategy: StrategyConfig{
			Enabled:       []string{"market_maker", "fair_value"},
			MinIntervalMS: 50,
			TargetSize:    10,
		},
		MM: MMConfig{
			MinHalfSpread:    0.01,
			EdgeTicks:        1,
			SkewK:            0.25,
			MinQuoteLifeSecs: 1,
			RepriceThreshold: 2,
			MaxSpread:        0.10,
		},
		FV: FVConfig{
			Provider:       "stub",
			EntryEdge:      0.02,
			ExitEdge:       0.005,
			DepthMult:      1,
			MaxStalenessMS: 2_000,
			TimeStopSecs:   600,
			CooldownSecs:   30,
		},
		Risk: RiskConfig{
			MaxPositionPerMarket: 100,
			MaxEventExposureUSD:  250,
			DailyLossLimit:       100,
			RejectFeedLagMS:      100,
			MaxSpreadBPS:         1_000,
			MaxOpenPositions:     10,
			MaxPosAgeSecs:        3_600,
			UnwindIntervalSecs:   30,
		},
		Paper: PaperConfig{
			MinRestSecs:   1,
			Participation: 0.5,
		},
		Backtest: BacktestConfig{
			Speed: 1,
		},
		Storage: StorageConfig{
			DSN:                  "polypaper.db",
			SnapshotIntervalSecs: 5,
			WriterBatchSize:      200,
			WriterQueueSize:      5_000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
