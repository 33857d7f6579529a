package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polytrader/config"
	"github.com/alejandrodnm/polytrader/internal/application/ranking"
	"github.com/alejandrodnm/polytrader/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Empty(t, cfg.Path)
	assert.Equal(t, domain.DefaultScanSpec().Model, cfg.Scan.Model)
	assert.Equal(t, domain.DefaultBankroll, cfg.Bankroll)
	assert.Equal(t, 1, cfg.Tournament.Workers)
	assert.Equal(t, 200, cfg.Tournament.MaxVariants)
	assert.Equal(t, ranking.DefaultWeights(), cfg.Ranking.Weights)
	assert.Equal(t, "https://api.kraken.com", cfg.API.KrakenBase)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_ExplicitZeroWeightsAreKept(t *testing.T) {
	path := writeConfig(t, `
ranking:
  weights:
    realized_pnl: 0
    unrealized_pnl: 0
    win_rate: 0
    signal_count: 0
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ranking.Weights{}, cfg.Ranking.Weights)
}

func TestLoad_YAMLMergesWithDefaults(t *testing.T) {
	path := writeConfig(t, `
scan:
  query: ethereum
  model_config:
    min_edge: 0.05
tournament:
  workers: 8
ranking:
  weights:
    win_rate: 10
  pareto_metrics: [realized_pnl, equity]
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "ethereum", cfg.Scan.Query)
	assert.Equal(t, domain.DefaultLimit, cfg.Scan.Limit, "los campos no indicados conservan el default")
	assert.Equal(t, 0.05, cfg.Scan.ModelConfig["min_edge"])
	assert.Equal(t, 8, cfg.Tournament.Workers)
	assert.Equal(t, 10.0, cfg.Ranking.Weights.WinRate)
	assert.Equal(t, 1.0, cfg.Ranking.Weights.RealizedPnL)

	metrics, err := cfg.ParetoMetrics()
	require.NoError(t, err)
	assert.Equal(t, []ranking.Metric{ranking.MetricRealizedPnL, ranking.MetricEquity}, metrics)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("POLYTRADER_WORKERS", "3")
	t.Setenv("POLYTRADER_DATA_DIR", "/tmp/exp")

	cfg, err := config.Load(writeConfig(t, "log:\n  level: warn\n"))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 3, cfg.Tournament.Workers)
	assert.Equal(t, "/tmp/exp", cfg.Storage.Dir)
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"log level", "log:\n  level: loud\n", "log.level"},
		{"workers", "tournament:\n  workers: -2\n", "tournament.workers"},
		{"pareto metric", "ranking:\n  pareto_metrics: [luck]\n", "ranking.pareto_metrics"},
		{"bankroll", "bankroll: -5\n", "bankroll"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tc.body))
			require.Error(t, err)
			var ce *domain.ConfigError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tc.field, ce.Field)
		})
	}
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := config.Load(writeConfig(t, "scan: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse YAML")
}
