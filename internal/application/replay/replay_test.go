package replay_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polytrader/internal/adapters/storage"
	"github.com/alejandrodnm/polytrader/internal/application/replay"
	"github.com/alejandrodnm/polytrader/internal/domain"
)

var t0 = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type fixedMarker map[string]float64

func (m fixedMarker) FetchMidpoints(_ context.Context, _ []string) (map[string]float64, error) {
	return m, nil
}

func fill(slug string, at time.Time, usd, shares float64) domain.PaperTrade {
	return domain.PaperTrade{
		ExperimentTag: "r", OpenedAt: at, MarketID: "m-" + slug, Slug: slug, TokenID: slug + "-yes",
		Side: domain.SideBuyYes,
		Fill: domain.FillResult{RequestedUSD: usd, FilledUSD: usd, Shares: shares, AvgPrice: usd / shares,
			MinPrice: usd / shares, MaxPrice: usd / shares, LevelsUsed: 1, FullyFilled: true},
	}
}

func seeded(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	ctx := context.Background()
	s, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.Init(ctx, domain.ExperimentSpec{Tag: "r", InitBankroll: 1000, Scan: domain.DefaultScanSpec()})
	require.NoError(t, err)
	cash := 1000.0
	for _, f := range []domain.PaperTrade{
		fill("c", t0.Add(2*time.Hour), 30, 60),
		fill("a", t0, 10, 20),
		fill("b", t0.Add(time.Hour), 20, 50),
	} {
		cash -= f.Fill.FilledUSD
		_, err := s.RecordFill(ctx, f, cash)
		require.NoError(t, err)
	}
	_, err = s.ResolveMarket(ctx, "a", true, t0.Add(3*time.Hour))
	require.NoError(t, err)
	return s
}

func TestReplay_OrdersChronologicallyWithoutRecomputing(t *testing.T) {
	s := seeded(t)
	tl, err := replay.Replay(context.Background(), s, "r", domain.TimeWindow{}, nil)
	require.NoError(t, err)

	require.Len(t, tl.Rows, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{tl.Rows[0].Trade.Slug, tl.Rows[1].Trade.Slug, tl.Rows[2].Trade.Slug})
	assert.Equal(t, 1, tl.Rows[0].Seq)

	fills := tl.Fills()
	assert.Equal(t, 10.0, fills[0].FilledUSD)
	assert.Equal(t, 50.0, fills[1].Shares)

	assert.InDelta(t, 10.0, tl.Rows[0].RealizedPnL, 1e-9)
	assert.Equal(t, 1, tl.Totals.Closed)
	assert.InDelta(t, 60.0, tl.Totals.FilledUSD, 1e-9)
	assert.InDelta(t, 60.0, tl.Rows[2].CumulativeUSD, 1e-9)
}

func TestReplay_WindowIsHalfOpen(t *testing.T) {
	s := seeded(t)
	tl, err := replay.Replay(context.Background(), s, "r", domain.TimeWindow{Start: t0.Add(time.Hour), End: t0.Add(2 * time.Hour)}, nil)
	require.NoError(t, err)
	require.Len(t, tl.Rows, 1)
	assert.Equal(t, "b", tl.Rows[0].Trade.Slug)

	open, err := replay.Replay(context.Background(), s, "r", domain.TimeWindow{Start: t0.Add(time.Hour)}, nil)
	require.NoError(t, err)
	assert.Len(t, open.Rows, 2, "open end includes everything after start")
}

func TestReplay_MarksOpenFillsAndDefaultsTag(t *testing.T) {
	s := seeded(t)
	tl, err := replay.Replay(context.Background(), s, "", domain.TimeWindow{}, fixedMarker{"b-yes": 0.5, "a-yes": 0.9})
	require.NoError(t, err)
	assert.Equal(t, "r", tl.Tag)

	assert.False(t, tl.Rows[0].Marked, "closed fills use realized PnL")
	assert.True(t, tl.Rows[1].Marked)
	assert.InDelta(t, 5.0, tl.Rows[1].UnrealizedPnL, 1e-9)
	assert.False(t, tl.Rows[2].Marked)
	assert.InDelta(t, 5.0, tl.Totals.UnrealizedPnL, 1e-9)
}

func TestReplay_RejectsInvertedWindowAndIsRepeatable(t *testing.T) {
	s := seeded(t)
	_, err := replay.Replay(context.Background(), s, "r", domain.TimeWindow{Start: t0, End: t0}, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	a, err := replay.Replay(context.Background(), s, "r", domain.TimeWindow{}, nil)
	require.NoError(t, err)
	b, err := replay.Replay(context.Background(), s, "r", domain.TimeWindow{}, nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
