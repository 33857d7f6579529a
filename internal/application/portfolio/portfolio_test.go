package portfolio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polytrader/internal/adapters/storage"
	"github.com/alejandrodnm/polytrader/internal/application/portfolio"
	"github.com/alejandrodnm/polytrader/internal/domain"
)

type mockMarker struct {
	mids map[string]float64
	err  error
}

func (m mockMarker) FetchMidpoints(_ context.Context, _ []string) (map[string]float64, error) {
	return m.mids, m.err
}

func seeded(t *testing.T) *storage.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := storage.NewMemoryStore()
	_, err := s.Init(ctx, domain.ExperimentSpec{Tag: "p", InitBankroll: 1000, Scan: domain.DefaultScanSpec()})
	require.NoError(t, err)

	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	trade := func(slug, token string, side domain.Side, usd, shares float64) domain.PaperTrade {
		return domain.PaperTrade{ExperimentTag: "p", OpenedAt: at, Slug: slug, TokenID: token, Side: side,
			Fill: domain.FillResult{RequestedUSD: usd, FilledUSD: usd, Shares: shares, AvgPrice: usd / shares,
				MinPrice: usd / shares, MaxPrice: usd / shares, FullyFilled: true, LevelsUsed: 1}}
	}
	_, err = s.RecordFill(ctx, trade("btc", "btc-yes", domain.SideBuyYes, 40, 100), 960)
	require.NoError(t, err)
	_, err = s.RecordFill(ctx, trade("eth", "eth-no", domain.SideBuyNo, 30, 50), 930)
	require.NoError(t, err)
	return s
}

func TestSummary_MarksToMidpoint(t *testing.T) {
	s := seeded(t)
	sum, positions, err := portfolio.Summary(context.Background(), s, mockMarker{mids: map[string]float64{"btc-yes": 0.5}})
	require.NoError(t, err)

	require.Len(t, positions, 2)
	assert.True(t, positions[0].Marked)
	assert.InDelta(t, 10.0, positions[0].UnrealizedPnL, 1e-9)
	assert.False(t, positions[1].Marked, "no midpoint: left at cost")

	assert.Equal(t, 2, sum.OpenPositions)
	assert.InDelta(t, 70.0, sum.OpenCost, 1e-9)
	assert.InDelta(t, 80.0, sum.MarkValue, 1e-9)
	assert.InDelta(t, 1010.0, sum.Equity, 1e-9)
	assert.InDelta(t, 10.0, sum.TotalPnL, 1e-9)
}

func TestSummary_MarkerFailureFallsBackToCost(t *testing.T) {
	s := seeded(t)
	sum, _, err := portfolio.Summary(context.Background(), s, mockMarker{err: errors.New("clob down")})
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, sum.Equity, 1e-9)
	assert.Zero(t, sum.UnrealizedPnL)
}

func TestResolveAndHistory(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	settled, err := portfolio.Resolve(ctx, s, "eth", false, time.Now())
	require.NoError(t, err)
	require.Len(t, settled, 1)
	assert.InDelta(t, 20.0, settled[0].RealizedPnL, 1e-9)

	_, err = portfolio.Resolve(ctx, s, "btc", false, time.Now())
	require.NoError(t, err)

	h, err := portfolio.LoadHistory(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Wins)
	assert.Equal(t, 1, h.Losses)
	assert.InDelta(t, 0.5, h.WinRate, 1e-12)
	assert.InDelta(t, -20.0, h.RealizedPnL, 1e-9)

	acct, err := s.Account(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 980.0, acct.Cash, 1e-9)

	_, err = portfolio.Resolve(ctx, s, "", true, time.Now())
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestParseOutcome(t *testing.T) {
	yes, err := portfolio.ParseOutcome("YES")
	require.NoError(t, err)
	assert.True(t, yes)
	no, err := portfolio.ParseOutcome("no")
	require.NoError(t, err)
	assert.False(t, no)
	_, err = portfolio.ParseOutcome("maybe")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
