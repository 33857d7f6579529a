// Package metrics exporta métricas Prometheus del runner de torneos.
// La CLI es de corta vida: en lugar de servir /metrics, vuelca el registry a
// un textfile para el textfile collector de node_exporter.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// Registry implementa ports.TournamentMetrics.
type Registry struct {
	reg *prometheus.Registry

	started    prometheus.Counter
	finished   *prometheus.CounterVec
	running    prometheus.Gauge
	duration   *prometheus.HistogramVec
	fills      prometheus.Counter
	signals    prometheus.Counter
	realized   *prometheus.GaugeVec
	lastResult prometheus.Gauge

	mu sync.Mutex
}

// NewRegistry crea un registry propio (no el global) con las métricas del torneo.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polytrader_experiments_started_total",
			Help: "Experiments dispatched to a worker",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polytrader_experiments_finished_total",
			Help: "Experiments finished by result status",
		}, []string{"status"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "polytrader_experiments_running",
			Help: "Experiments currently running",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "polytrader_experiment_duration_seconds",
			Help:    "Wall time of one experiment",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"status"}),
		fills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polytrader_fills_total",
			Help: "Cumulative fills of finished experiments",
		}),
		signals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polytrader_signals_total",
			Help: "Cumulative signals of finished experiments",
		}),
		realized: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "polytrader_experiment_realized_pnl_usd",
			Help: "Realized PnL per experiment tag",
		}, []string{"tag"}),
		lastResult: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "polytrader_last_experiment_finished_timestamp_seconds",
			Help: "Unix time of the last finished experiment",
		}),
	}
	r.reg.MustRegister(r.started, r.finished, r.running, r.duration, r.fills, r.signals, r.realized, r.lastResult)
	return r
}

// ExperimentStarted se llama al despachar un experimento.
func (r *Registry) ExperimentStarted(string) {
	r.started.Inc()
	r.running.Inc()
}

// ExperimentFinished se llama con el resultado final, fallido o no.
func (r *Registry) ExperimentFinished(res domain.ExperimentResult, elapsed time.Duration) {
	r.running.Dec()
	r.finished.WithLabelValues(res.Status).Inc()
	r.duration.WithLabelValues(res.Status).Observe(elapsed.Seconds())
	r.fills.Add(float64(res.FillCount))
	r.signals.Add(float64(res.SignalCount))
	r.realized.WithLabelValues(res.Tag).Set(res.RealizedPnL)
	r.lastResult.SetToCurrentTime()
}

// Gatherer expone el registry para tests y exportadores.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// WriteTextfile vuelca las métricas a path en formato texto de Prometheus.
// La escritura es atómica (fichero temporal + rename).
func (r *Registry) WriteTextfile(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("metrics.WriteTextfile: %w", err)
	}
	return nil
}
