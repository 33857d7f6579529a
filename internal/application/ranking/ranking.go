// Package ranking ordena resultados de experimentos por score escalar o
// extrae el frente de Pareto. Nunca modifica los resultados recibidos.
package ranking

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// Metric es una columna numérica de un ExperimentResult. Mayor es mejor.
type Metric string

const (
	MetricScore         Metric = "score"
	MetricRealizedPnL   Metric = "realized_pnl"
	MetricUnrealizedPnL Metric = "unrealized_pnl"
	MetricEquity        Metric = "equity"
	MetricWinRate       Metric = "win_rate"
	MetricSignalCount   Metric = "signal_count"
	MetricFillCount     Metric = "fill_count"
	MetricClosedTrades  Metric = "closed_trades"
	MetricOpenPositions Metric = "open_positions"
)

var knownMetrics = []Metric{
	MetricScore, MetricRealizedPnL, MetricUnrealizedPnL, MetricEquity, MetricWinRate,
	MetricSignalCount, MetricFillCount, MetricClosedTrades, MetricOpenPositions,
}

// DefaultParetoMetrics son las métricas del frente si no se indican otras.
var DefaultParetoMetrics = []Metric{MetricRealizedPnL, MetricUnrealizedPnL, MetricWinRate, MetricSignalCount}

// ParseMetrics convierte "a,b,c" en métricas válidas.
func ParseMetrics(field, csv string) ([]Metric, error) {
	var out []Metric
	for _, s := range strings.Split(csv, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		m := Metric(s)
		if !slices.Contains(knownMetrics, m) {
			return nil, domain.NewConfigError(field, "unknown metric %q (valid: %v)", s, knownMetrics)
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, domain.NewConfigError(field, "at least one metric is required")
	}
	return out, nil
}

// Weights son los pesos del score escalar.
type Weights struct {
	RealizedPnL   float64 `json:"realized_pnl" yaml:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl" yaml:"unrealized_pnl"`
	WinRate       float64 `json:"win_rate" yaml:"win_rate"`
	SignalCount   float64 `json:"signal_count" yaml:"signal_count"`
}

// DefaultWeights favorecen el PnL realizado.
func DefaultWeights() Weights {
	return Weights{RealizedPnL: 1, WinRate: 100, SignalCount: 0.1}
}

// Score calcula w1*realized + w2*win_rate + w3*signal_count (+ w4*unrealized).
func Score(r domain.ExperimentResult, w Weights) float64 {
	return w.RealizedPnL*r.RealizedPnL +
		w.UnrealizedPnL*r.UnrealizedPnL +
		w.WinRate*r.WinRate +
		w.SignalCount*float64(r.SignalCount)
}

// Value devuelve la métrica m de r.
func Value(r domain.ExperimentResult, m Metric, w Weights) float64 {
	switch m {
	case MetricScore:
		return Score(r, w)
	case MetricRealizedPnL:
		return r.RealizedPnL
	case MetricUnrealizedPnL:
		return r.UnrealizedPnL
	case MetricEquity:
		return r.Equity
	case MetricWinRate:
		return r.WinRate
	case MetricSignalCount:
		return float64(r.SignalCount)
	case MetricFillCount:
		return float64(r.FillCount)
	case MetricClosedTrades:
		return float64(r.ClosedTrades)
	case MetricOpenPositions:
		return float64(r.OpenPositions)
	}
	return 0
}

// Dominates devuelve true si b domina a a: b >= a en todas las métricas y
// estrictamente mayor en al menos una.
func Dominates(b, a domain.ExperimentResult, metrics []Metric, w Weights) bool {
	strictly := false
	for _, m := range metrics {
		vb, va := Value(b, m, w), Value(a, m, w)
		if vb < va {
			return false
		}
		if vb > va {
			strictly = true
		}
	}
	return strictly
}

// ParetoFront devuelve el subconjunto no dominado en el orden de entrada.
// Los experimentos fallidos nunca forman parte del frente. O(n²).
func ParetoFront(results []domain.ExperimentResult, metrics []Metric, w Weights) []domain.ExperimentResult {
	mask := frontMask(results, metrics, w)
	out := make([]domain.ExperimentResult, 0, len(results))
	for i, in := range mask {
		if in {
			out = append(out, results[i])
		}
	}
	return out
}

func frontMask(results []domain.ExperimentResult, metrics []Metric, w Weights) []bool {
	mask := make([]bool, len(results))
	for i, a := range results {
		if a.Failed() {
			continue
		}
		mask[i] = true
		for j, b := range results {
			if i != j && !b.Failed() && Dominates(b, a, metrics, w) {
				mask[i] = false
				break
			}
		}
	}
	return mask
}

// Mode selecciona la operación de ranking.
type Mode string

const (
	ModeScore  Mode = "score"
	ModePareto Mode = "pareto"
)

// Options configura Rank.
type Options struct {
	Mode    Mode
	By      Metric   // métrica de orden; vacío = score
	Metrics []Metric // métricas del frente; vacío = DefaultParetoMetrics
	Weights Weights  // se usan tal cual; config rellena DefaultWeights
	TopN    int      // 0 = todos
}

// Entry es un resultado anotado. Result es una copia.
type Entry struct {
	Rank   int                     `json:"rank"`
	Score  float64                 `json:"score"`
	Value  float64                 `json:"value"` // valor de la métrica de orden
	Pareto bool                    `json:"pareto"`
	Result domain.ExperimentResult `json:"result"`
}

// Rank ordena los resultados de mayor a menor por la métrica de orden con
// desempate por tag, fallidos al final. En modo pareto devuelve solo el frente.
// El orden es determinista para una misma entrada y opciones.
func Rank(results []domain.ExperimentResult, opts Options) ([]Entry, error) {
	if opts.Mode == "" {
		opts.Mode = ModeScore
	}
	if opts.Mode != ModeScore && opts.Mode != ModePareto {
		return nil, domain.NewConfigError("ranking.mode", "must be score or pareto, got %q", opts.Mode)
	}
	if opts.By == "" {
		opts.By = MetricScore
	}
	if !slices.Contains(knownMetrics, opts.By) {
		return nil, domain.NewConfigError("ranking.by", "unknown metric %q", opts.By)
	}
	if len(opts.Metrics) == 0 {
		opts.Metrics = DefaultParetoMetrics
	}
	for _, m := range opts.Metrics {
		if !slices.Contains(knownMetrics, m) {
			return nil, domain.NewConfigError("ranking.metrics", "unknown metric %q", m)
		}
	}
	if opts.TopN < 0 {
		return nil, domain.NewConfigError("ranking.top_n", "must not be negative")
	}

	mask := frontMask(results, opts.Metrics, opts.Weights)
	entries := make([]Entry, 0, len(results))
	for i, r := range results {
		if opts.Mode == ModePareto && !mask[i] {
			continue
		}
		entries = append(entries, Entry{
			Score:  Score(r, opts.Weights),
			Value:  Value(r, opts.By, opts.Weights),
			Pareto: mask[i],
			Result: clone(r),
		})
	}

	slices.SortStableFunc(entries, func(a, b Entry) int {
		if fa, fb := a.Result.Failed(), b.Result.Failed(); fa != fb {
			if fa {
				return 1
			}
			return -1
		}
		if c := cmp.Compare(b.Value, a.Value); c != 0 {
			return c
		}
		return strings.Compare(a.Result.Tag, b.Result.Tag)
	})

	if opts.TopN > 0 && len(entries) > opts.TopN {
		entries = entries[:opts.TopN]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

func clone(r domain.ExperimentResult) domain.ExperimentResult {
	r.Spec = r.Spec.Clone()
	return r
}

// Formula describe el score para la salida de la CLI.
func (w Weights) Formula() string {
	return fmt.Sprintf("score = %g*realized_pnl + %g*unrealized_pnl + %g*win_rate + %g*signal_count",
		w.RealizedPnL, w.UnrealizedPnL, w.WinRate, w.SignalCount)
}
