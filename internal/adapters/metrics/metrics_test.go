package metrics_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polytrader/internal/adapters/metrics"
	"github.com/alejandrodnm/polytrader/internal/domain"
)

func TestRegistry_CountsExperiments(t *testing.T) {
	r := metrics.NewRegistry()

	r.ExperimentStarted("alpha")
	r.ExperimentStarted("beta")
	r.ExperimentFinished(domain.ExperimentResult{Tag: "alpha", Status: domain.ResultOK, FillCount: 2, SignalCount: 3, RealizedPnL: 12.5}, 2*time.Second)
	r.ExperimentFinished(domain.ExperimentResult{Tag: "beta", Status: domain.ResultFailed}, time.Second)

	count, err := testutil.GatherAndCount(r.Gatherer(), "polytrader_experiments_finished_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "una serie por status")

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil && mf.GetName() == "polytrader_experiments_running":
				values[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, values["polytrader_experiments_started_total"])
	assert.Equal(t, 2.0, values["polytrader_experiments_finished_total"])
	assert.Equal(t, 2.0, values["polytrader_fills_total"])
	assert.Equal(t, 3.0, values["polytrader_signals_total"])
	assert.Equal(t, 0.0, values["polytrader_experiments_running"])
}

func TestRegistry_WriteTextfile(t *testing.T) {
	r := metrics.NewRegistry()
	r.ExperimentStarted("alpha")
	r.ExperimentFinished(domain.ExperimentResult{Tag: "alpha", Status: domain.ResultNoFills}, 10*time.Millisecond)

	path := filepath.Join(t.TempDir(), "polytrader.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `polytrader_experiments_finished_total{status="no_fills"} 1`)
	assert.Contains(t, string(data), `polytrader_experiment_realized_pnl_usd{tag="alpha"} 0`)
}
