// Package replay lee el historial de fills de un experimento dentro de una
// ventana temporal. No re-simula nada.
package replay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

// Row es un fill del historial con su resultado hasta ahora.
type Row struct {
	Seq           int               `json:"seq"`
	Trade         domain.PaperTrade `json:"trade"`
	Marked        bool              `json:"marked"`
	Mark          float64           `json:"mark_price,omitempty"`
	RealizedPnL   float64           `json:"realized_pnl"`
	UnrealizedPnL float64           `json:"unrealized_pnl"`
	CumulativeUSD float64           `json:"cumulative_usd"` // nocional acumulado hasta esta fila
}

// Totals agrega las filas de la ventana.
type Totals struct {
	Fills         int     `json:"fills"`
	FilledUSD     float64 `json:"filled_usd"`
	Shares        float64 `json:"shares"`
	Closed        int     `json:"closed"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// Timeline es el resultado de un replay.
type Timeline struct {
	Tag    string            `json:"tag"`
	Window domain.TimeWindow `json:"-"`
	Rows   []Row             `json:"rows"`
	Totals Totals            `json:"totals"`
}

// Fills devuelve los FillResult en orden cronológico.
func (t Timeline) Fills() []domain.FillResult {
	out := make([]domain.FillResult, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Trade.Fill
	}
	return out
}

// Replay devuelve los fills de tag con timestamp en [w.Start, w.End).
// marker es opcional y solo se usa para marcar los trades abiertos.
func Replay(ctx context.Context, store ports.ExperimentStore, tag string, w domain.TimeWindow, marker ports.MidpointProvider) (Timeline, error) {
	if err := w.Validate(); err != nil {
		return Timeline{}, err
	}
	if tag == "" {
		spec, ok, err := store.LoadSpec(ctx)
		if err != nil {
			return Timeline{}, fmt.Errorf("replay.Replay: load spec: %w", err)
		}
		if !ok {
			return Timeline{}, domain.NewConfigError("tag", "required: %s has no stored experiment", store.Path())
		}
		tag = spec.Tag
	}

	trades, err := store.LoadFills(ctx, tag, w)
	if err != nil {
		return Timeline{}, fmt.Errorf("replay.Replay: %w", err)
	}

	mids := markOpen(ctx, trades, marker)

	tl := Timeline{Tag: tag, Window: w, Rows: make([]Row, 0, len(trades))}
	for i, t := range trades {
		row := Row{Seq: i + 1, Trade: t}
		if t.Status == domain.TradeClosed {
			row.RealizedPnL = t.RealizedPnL
			tl.Totals.Closed++
		} else if mid, ok := mids[t.TokenID]; ok {
			row.Marked, row.Mark = true, mid
			row.UnrealizedPnL = t.UnrealizedPnL(mid)
		}
		tl.Totals.Fills++
		tl.Totals.FilledUSD += t.Fill.FilledUSD
		tl.Totals.Shares += t.Fill.Shares
		tl.Totals.RealizedPnL += row.RealizedPnL
		tl.Totals.UnrealizedPnL += row.UnrealizedPnL
		row.CumulativeUSD = tl.Totals.FilledUSD
		tl.Rows = append(tl.Rows, row)
	}
	return tl, nil
}

// markOpen pide midpoints de los tokens con trades abiertos. Un fallo deja
// las filas sin marcar.
func markOpen(ctx context.Context, trades []domain.PaperTrade, marker ports.MidpointProvider) map[string]float64 {
	if marker == nil {
		return nil
	}
	var ids []string
	seen := make(map[string]bool)
	for _, t := range trades {
		if t.Status != domain.TradeClosed && !seen[t.TokenID] {
			seen[t.TokenID] = true
			ids = append(ids, t.TokenID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	mids, err := marker.FetchMidpoints(ctx, ids)
	if err != nil {
		slog.Warn("replay: midpoint fetch failed, open fills left unmarked", "err", err)
		return nil
	}
	return mids
}
