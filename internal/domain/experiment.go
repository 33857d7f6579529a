package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

const (
	DefaultBankroll     = 10_000.0
	DefaultQuery        = "bitcoin"
	DefaultLimit        = 50
	DefaultMinLiquidity = 50_000.0
	DefaultMinVolume    = 100_000.0
	DefaultModel        = "kelly_gbm"
	DefaultSizer        = "kelly"
)

// ScanSpec son los parámetros de un scan: modelo, sizer y filtros de mercado.
type ScanSpec struct {
	Model            string         `json:"model" yaml:"model"`
	Sizer            string         `json:"sizer" yaml:"sizer"`
	Query            string         `json:"query" yaml:"query"`
	Limit            int            `json:"limit" yaml:"limit"`
	MinLiquidity     float64        `json:"min_liquidity" yaml:"min_liquidity"`
	MinVolume        float64        `json:"min_volume" yaml:"min_volume"`
	MaxHoursToExpiry float64        `json:"max_hours_to_expiry,omitempty" yaml:"max_hours_to_expiry"`
	ModelConfig      map[string]any `json:"model_config,omitempty" yaml:"model_config"`
	SizerConfig      map[string]any `json:"sizer_config,omitempty" yaml:"sizer_config"`
}

// DefaultScanSpec devuelve los defaults históricos del scanner.
func DefaultScanSpec() ScanSpec {
	return ScanSpec{
		Model:        DefaultModel,
		Sizer:        DefaultSizer,
		Query:        DefaultQuery,
		Limit:        DefaultLimit,
		MinLiquidity: DefaultMinLiquidity,
		MinVolume:    DefaultMinVolume,
	}
}

// ExperimentSpec es un experimento completamente configurado.
// Se crea una vez (mutator o fichero) y el runner lo consume sin modificarlo.
type ExperimentSpec struct {
	Tag          string   `json:"tag"`
	DB           string   `json:"db,omitempty"` // destino de persistencia dedicado (opcional)
	InitBankroll float64  `json:"init_bankroll"`
	Scan         ScanSpec `json:"scan"`
}

// UnmarshalJSON aplica los defaults a los campos ausentes.
func (e *ExperimentSpec) UnmarshalJSON(b []byte) error {
	type plain ExperimentSpec
	p := plain{InitBankroll: DefaultBankroll, Scan: DefaultScanSpec()}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*e = ExperimentSpec(p)
	return nil
}

var tagPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._=+-]*$`)

// Validate comprueba que el spec sea ejecutable. Los errores nombran el campo.
func (e ExperimentSpec) Validate() error {
	if e.Tag == "" {
		return NewConfigError("tag", "must not be empty")
	}
	if !tagPattern.MatchString(e.Tag) {
		return NewConfigError("tag", "%q contains characters not allowed in a store name", e.Tag)
	}
	if !(e.InitBankroll > 0) {
		return NewConfigError("init_bankroll", "must be positive, got %v", e.InitBankroll)
	}
	if e.Scan.Model == "" {
		return NewConfigError("scan.model", "must not be empty")
	}
	if e.Scan.Sizer == "" {
		return NewConfigError("scan.sizer", "must not be empty")
	}
	if e.Scan.Limit <= 0 {
		return NewConfigError("scan.limit", "must be positive, got %d", e.Scan.Limit)
	}
	if e.Scan.MinLiquidity < 0 || e.Scan.MinVolume < 0 || e.Scan.MaxHoursToExpiry < 0 {
		return NewConfigError("scan", "filters must not be negative")
	}
	return nil
}

// Clone devuelve una copia profunda (los mapas de config no se comparten).
func (e ExperimentSpec) Clone() ExperimentSpec {
	c := e
	c.Scan.ModelConfig = cloneMap(e.Scan.ModelConfig)
	c.Scan.SizerConfig = cloneMap(e.Scan.SizerConfig)
	return c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		if list, ok := v.([]any); ok {
			out[k] = append([]any(nil), list...)
			continue
		}
		out[k] = v
	}
	return out
}

// TournamentSpec es el fichero de entrada del runner.
type TournamentSpec struct {
	Experiments []ExperimentSpec `json:"experiments"`
}

// ExperimentResult es la reducción de todo lo que produjo un experimento.
type ExperimentResult struct {
	Tag            string         `json:"tag"`
	DB             string         `json:"db,omitempty"`
	RunID          string         `json:"run_id,omitempty"`
	Status         string         `json:"status"`          // ok | no_fills | failed
	Error          string         `json:"error,omitempty"` // motivo si Status == failed
	RealizedPnL    float64        `json:"realized_pnl"`
	UnrealizedPnL  float64        `json:"unrealized_pnl"`
	WinRate        float64        `json:"win_rate"`
	SignalCount    int            `json:"signal_count"`
	FillCount      int            `json:"fill_count"`
	ClosedTrades   int            `json:"closed_trades"`
	OpenPositions  int            `json:"open_positions"`
	MarketsScanned int            `json:"markets_scanned"`
	Cash           float64        `json:"cash"`
	Equity         float64        `json:"equity"`
	StartBankroll  float64        `json:"starting_bankroll"`
	Spec           ExperimentSpec `json:"spec"`
}

const (
	ResultOK      = "ok"
	ResultNoFills = "no_fills"
	ResultFailed  = "failed"
)

// Failed devuelve true si el experimento terminó con error.
func (r ExperimentResult) Failed() bool {
	return r.Status == ResultFailed
}

// Validate comprueba los invariantes del resultado.
func (r ExperimentResult) Validate() error {
	if r.SignalCount < r.FillCount {
		return integrityf("experiment result", "%s: signal count %d < fill count %d", r.Tag, r.SignalCount, r.FillCount)
	}
	return nil
}

// FailedResult construye el resultado de un experimento que no pudo completarse.
func FailedResult(spec ExperimentSpec, err error) ExperimentResult {
	return ExperimentResult{
		Tag:           spec.Tag,
		DB:            spec.DB,
		Status:        ResultFailed,
		Error:         err.Error(),
		StartBankroll: spec.InitBankroll,
		Spec:          spec,
	}
}

// TimeWindow es un intervalo [Start, End). End zero = abierto.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// Contains devuelve true si t cae en la ventana.
func (w TimeWindow) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}

// Validate rechaza ventanas invertidas.
func (w TimeWindow) Validate() error {
	if !w.Start.IsZero() && !w.End.IsZero() && !w.End.After(w.Start) {
		return NewConfigError("window", "end %s must be after start %s",
			w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

// String formatea la ventana para logs.
func (w TimeWindow) String() string {
	start, end := "-inf", "+inf"
	if !w.Start.IsZero() {
		start = w.Start.UTC().Format(time.RFC3339)
	}
	if !w.End.IsZero() {
		end = w.End.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("[%s, %s)", start, end)
}
