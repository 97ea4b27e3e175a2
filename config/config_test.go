package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ModePaper, cfg.Run.Mode)
	assert.Equal(t, "paper", cfg.Run.TradeMode)
	assert.Equal(t, FillMakerTouch, cfg.Run.FillModel)
	assert.Equal(t, 20, cfg.Selector.TopN)
	assert.Equal(t, 10_000, cfg.Feed.QueueSize)
	assert.Equal(t, []string{"market_maker", "fair_value"}, cfg.Strategy.Enabled)
	assert.Equal(t, 0.5, cfg.Paper.Participation)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("run:\n  mode: paper\nselector:\n  top_n_markets: 5\n"), 0o644))

	t.Setenv("RUN_MODE", "scanner")
	t.Setenv("TOP_N_MARKETS", "3")
	t.Setenv("STRATEGIES", "market_maker")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeScanner, cfg.Run.Mode)
	assert.Equal(t, 3, cfg.Selector.TopN)
	assert.True(t, cfg.StrategyEnabled("market_maker"))
	assert.False(t, cfg.StrategyEnabled("fair_value"))
}

func TestLoad_ExplicitZeroSurvives(t *testing.T) {
	t.Setenv("BACKTEST_SPEED", "0")
	t.Setenv("MM_EDGE_TICKS", "0")
	t.Setenv("MM_SKEW_K", "0")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Backtest.Speed, "0 means as fast as possible, not the default")
	assert.Equal(t, 0.0, cfg.MM.EdgeTicks)
	assert.Equal(t, 0.0, cfg.MM.SkewK)
}

func TestLoad_YAMLZeroSurvives(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backtest:\n  speed: 0\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Backtest.Speed)
}

func TestLoad_KillSwitchFlag(t *testing.T) {
	t.Setenv("KILL_SWITCH", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.Risk.KillSwitch)
}

func TestLoad_RejectsLiveTrading(t *testing.T) {
	t.Setenv("TRADE_MODE", "live")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "live")
}

func TestLoad_RejectsBadEnums(t *testing.T) {
	t.Setenv("RUN_MODE", "yolo")
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_RejectsParticipationOutOfRange(t *testing.T) {
	t.Setenv("PAPER_PARTICIPATION", "1.5")
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBacktestBounds(t *testing.T) {
	t.Setenv("BACKTEST_START_TS", "2026-03-01T00:00:00Z")
	t.Setenv("BACKTEST_END_TS", "2026-03-02T00:00:00Z")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	start, end, err := cfg.BacktestBounds()
	require.NoError(t, err)
	assert.Equal(t, 2026, start.Year())
	assert.True(t, end.After(start))
}

func TestBacktestBounds_BadTimestampFailsLoad(t *testing.T) {
	t.Setenv("BACKTEST_START_TS", "yesterday")
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
