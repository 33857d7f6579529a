// Package portfolio derives account, position and history views from an
// experiment store. It never writes except through Resolve.
package portfolio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

// Position is an open trade marked to the current midpoint.
type Position struct {
	Trade         domain.PaperTrade `json:"trade"`
	Marked        bool              `json:"marked"` // false when no midpoint was available
	Mark          float64           `json:"mark_price"`
	MarkValue     float64           `json:"mark_value"`
	UnrealizedPnL float64           `json:"unrealized_pnl"`
	UnrealizedPct float64           `json:"unrealized_pnl_pct"`
}

// MarkPositions loads open trades and marks them with marker. A nil marker
// or a marker failure leaves positions at cost.
func MarkPositions(ctx context.Context, store ports.ExperimentStore, marker ports.MidpointProvider) ([]Position, error) {
	open, err := store.OpenTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("portfolio.MarkPositions: %w", err)
	}

	mids := map[string]float64{}
	if marker != nil && len(open) > 0 {
		ids := make([]string, 0, len(open))
		seen := make(map[string]bool, len(open))
		for _, t := range open {
			if !seen[t.TokenID] {
				seen[t.TokenID] = true
				ids = append(ids, t.TokenID)
			}
		}
		m, err := marker.FetchMidpoints(ctx, ids)
		if err != nil {
			slog.Warn("midpoint fetch failed, positions left at cost", "err", err)
		} else {
			mids = m
		}
	}

	out := make([]Position, 0, len(open))
	for _, t := range open {
		p := Position{Trade: t, MarkValue: t.Cost()}
		if mid, ok := mids[t.TokenID]; ok && mid >= 0 && mid <= 1 {
			p.Marked = true
			p.Mark = mid
			p.MarkValue = t.MarkValue(mid)
			p.UnrealizedPnL = t.UnrealizedPnL(mid)
			if c := t.Cost(); c > 0 {
				p.UnrealizedPct = p.UnrealizedPnL / c
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// History is the closed-trade ledger of an experiment.
type History struct {
	Trades      []domain.PaperTrade `json:"trades"`
	RealizedPnL float64             `json:"realized_pnl"`
	Wins        int                 `json:"wins"`
	Losses      int                 `json:"losses"`
	WinRate     float64             `json:"win_rate"`
}

// LoadHistory summarizes closed trades.
func LoadHistory(ctx context.Context, store ports.ExperimentStore) (History, error) {
	closed, err := store.ClosedTrades(ctx)
	if err != nil {
		return History{}, fmt.Errorf("portfolio.LoadHistory: %w", err)
	}
	h := History{Trades: closed}
	for _, t := range closed {
		h.RealizedPnL += t.RealizedPnL
		if t.Won() {
			h.Wins++
		} else {
			h.Losses++
		}
	}
	if len(closed) > 0 {
		h.WinRate = float64(h.Wins) / float64(len(closed))
	}
	return h, nil
}

// Summary values the account: cash plus open positions at mark (or cost).
func Summary(ctx context.Context, store ports.ExperimentStore, marker ports.MidpointProvider) (domain.AccountSummary, []Position, error) {
	acct, err := store.Account(ctx)
	if err != nil {
		return domain.AccountSummary{}, nil, fmt.Errorf("portfolio.Summary: %w", err)
	}
	positions, err := MarkPositions(ctx, store, marker)
	if err != nil {
		return domain.AccountSummary{}, nil, err
	}
	hist, err := LoadHistory(ctx, store)
	if err != nil {
		return domain.AccountSummary{}, nil, err
	}

	s := domain.AccountSummary{Account: acct, OpenPositions: len(positions), RealizedPnL: hist.RealizedPnL}
	for _, p := range positions {
		s.OpenCost += p.Trade.Cost()
		s.MarkValue += p.MarkValue
		s.UnrealizedPnL += p.UnrealizedPnL
	}
	s.Equity = acct.Cash + s.MarkValue
	s.TotalPnL = s.Equity - acct.StartingBankroll
	return s, positions, nil
}

// ParseOutcome accepts yes/no (any case) and returns true for YES.
func ParseOutcome(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "1":
		return true, nil
	case "no", "n", "false", "0":
		return false, nil
	}
	return false, domain.NewConfigError("outcome", "must be yes or no, got %q", s)
}

// Resolve settles every open trade of slug with the given outcome.
func Resolve(ctx context.Context, store ports.ExperimentStore, slug string, outcomeYes bool, at time.Time) ([]domain.PaperTrade, error) {
	if slug == "" {
		return nil, domain.NewConfigError("slug", "must not be empty")
	}
	settled, err := store.ResolveMarket(ctx, slug, outcomeYes, at)
	if err != nil {
		return nil, fmt.Errorf("portfolio.Resolve: %w", err)
	}
	pnl := 0.0
	for _, t := range settled {
		pnl += t.RealizedPnL
	}
	slog.Info("market resolved", "slug", slug, "outcome_yes", outcomeYes, "trades", len(settled), "realized_pnl", fmt.Sprintf("%.2f", pnl))
	return settled, nil
}
