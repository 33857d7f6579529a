package domain

import (
	"math"
	"time"
)

// TradeStatus es el ciclo de vida de un trade simulado.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

// PaperTrade es un fill simulado persistido: la posición que abrió y, si el
// mercado se resolvió, cómo se cerró.
type PaperTrade struct {
	ID            string      `json:"id"`
	RunID         string      `json:"run_id"`
	ExperimentTag string      `json:"experiment_tag"`
	OpenedAt      time.Time   `json:"opened_at"`
	MarketID      string      `json:"market_id"`
	Slug          string      `json:"slug"`
	Question      string      `json:"question"`
	Side          Side        `json:"side"`
	TokenID       string      `json:"token_id"`
	Fill          FillResult  `json:"fill"`
	ModelPrice    float64     `json:"model_price"`
	MarketPrice   float64     `json:"market_price"`
	Edge          float64     `json:"edge"`
	Confidence    float64     `json:"confidence"`
	Status        TradeStatus `json:"status"`
	ClosedAt      *time.Time  `json:"closed_at,omitempty"`
	ExitPrice     float64     `json:"exit_price,omitempty"`
	RealizedPnL   float64     `json:"realized_pnl"`
	Notes         Metadata    `json:"notes,omitempty"`
}

// Cost devuelve el nocional pagado por la posición.
func (t PaperTrade) Cost() float64 {
	return t.Fill.FilledUSD
}

// MarkValue valora las shares abiertas al precio dado.
func (t PaperTrade) MarkValue(mark float64) float64 {
	return t.Fill.Shares * mark
}

// UnrealizedPnL devuelve el PnL latente al precio de marca.
func (t PaperTrade) UnrealizedPnL(mark float64) float64 {
	return t.MarkValue(mark) - t.Cost()
}

// Settle cierra el trade al resolverse el mercado. outcomeYes indica si ganó YES.
// Cada share paga 1 si su lado gana y 0 si pierde.
func (t PaperTrade) Settle(outcomeYes bool, at time.Time) PaperTrade {
	won := (t.Side == SideBuyYes) == outcomeYes
	exit := 0.0
	if won {
		exit = 1.0
	}
	closed := at.UTC()
	t.Status = TradeClosed
	t.ClosedAt = &closed
	t.ExitPrice = exit
	t.RealizedPnL = round6(t.Fill.Shares*exit - t.Cost())
	return t
}

// Won devuelve true si el trade cerrado terminó en beneficio.
func (t PaperTrade) Won() bool {
	return t.Status == TradeClosed && t.RealizedPnL > 0
}

// Account es el estado de caja de un experimento.
type Account struct {
	StartingBankroll float64   `json:"starting_bankroll"`
	Cash             float64   `json:"cash"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AccountSummary añade la valoración de las posiciones abiertas.
type AccountSummary struct {
	Account
	OpenPositions int     `json:"open_positions"`
	OpenCost      float64 `json:"open_cost"`
	MarkValue     float64 `json:"mark_value"`
	Equity        float64 `json:"equity"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	TotalPnL      float64 `json:"total_pnl"`
}

// ScanStatus distingue un scan con fills de uno válido sin fills.
type ScanStatus string

const (
	ScanFilled  ScanStatus = "filled"
	ScanNoFills ScanStatus = "no_fills"
)

// ScanRun es la fila persistida de un scan.
type ScanRun struct {
	ID             string     `json:"id"`
	ExperimentTag  string     `json:"experiment_tag"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     time.Time  `json:"finished_at"`
	Model          string     `json:"model"`
	Sizer          string     `json:"sizer"`
	Query          string     `json:"query"`
	Status         ScanStatus `json:"status"`
	MarketsSeen    int        `json:"markets_seen"`
	MarketsScanned int        `json:"markets_scanned"`
	SignalCount    int        `json:"signal_count"`
	FillCount      int        `json:"fill_count"`
	CashBefore     float64    `json:"cash_before"`
	CashAfter      float64    `json:"cash_after"`
}

// ScanOutcome es lo que devuelve el pipeline: la fila del run más el detalle
// de señales, fills y mercados descartados.
type ScanOutcome struct {
	Run      ScanRun        `json:"run"`
	Filtered int            `json:"filtered"`
	Skipped  map[string]int `json:"skipped"`
	Signals  []Signal       `json:"signals"`
	Fills    []PaperTrade   `json:"fills"`
}

// Validate comprueba que no haya más fills que señales.
func (o ScanOutcome) Validate() error {
	if o.Run.SignalCount < o.Run.FillCount {
		return integrityf("scan outcome", "signal count %d < fill count %d", o.Run.SignalCount, o.Run.FillCount)
	}
	if o.Run.CashAfter < -priceEpsilon {
		return integrityf("scan outcome", "negative cash %.6f", o.Run.CashAfter)
	}
	return nil
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
