package storage_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polytrader/internal/adapters/storage"
	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func testSpec(tag string) domain.ExperimentSpec {
	return domain.ExperimentSpec{Tag: tag, InitBankroll: 1000, Scan: domain.DefaultScanSpec()}
}

func makeTrade(tag, slug string, side domain.Side, at time.Time, usd, shares float64) domain.PaperTrade {
	return domain.PaperTrade{
		RunID:         "run-1",
		ExperimentTag: tag,
		OpenedAt:      at,
		MarketID:      "m-" + slug,
		Slug:          slug,
		Question:      "Will X happen?",
		Side:          side,
		TokenID:       "tok-" + slug,
		Fill: domain.FillResult{
			RequestedUSD: usd, FilledUSD: usd, Shares: shares, AvgPrice: usd / shares,
			LevelsUsed: 1, FullyFilled: true, MinPrice: usd / shares, MaxPrice: usd / shares,
		},
		ModelPrice: 0.6, MarketPrice: 0.4, Edge: 0.2, Confidence: 0.5,
		Notes: domain.Metadata{"signal": map[string]any{"strike": 120000.0}},
	}
}

// stores ejecuta el mismo test contra ambas implementaciones.
func stores(t *testing.T) map[string]ports.ExperimentStore {
	t.Helper()
	sq, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	return map[string]ports.ExperimentStore{"sqlite": sq, "memory": storage.NewMemoryStore()}
}

func TestStore_InitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Account(ctx)
			assert.ErrorIs(t, err, storage.ErrNotInitialized)

			acct, err := s.Init(ctx, testSpec("a"))
			require.NoError(t, err)
			assert.Equal(t, 1000.0, acct.Cash)

			require.NoError(t, s.UpdateCash(ctx, 400))
			acct, err = s.Init(ctx, testSpec("a"))
			require.NoError(t, err)
			assert.Equal(t, 400.0, acct.Cash, "re-init must not reset the account")

			spec, ok, err := s.LoadSpec(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "a", spec.Tag)
		})
	}
}

func TestStore_RecordFillUpdatesCashAndLoadFillsOrdersByTime(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Init(ctx, testSpec("a"))
			require.NoError(t, err)

			late, err := s.RecordFill(ctx, makeTrade("a", "late", domain.SideBuyYes, t0.Add(2*time.Hour), 60, 100), 940)
			require.NoError(t, err)
			assert.NotEmpty(t, late.ID)
			_, err = s.RecordFill(ctx, makeTrade("a", "early", domain.SideBuyNo, t0, 30, 50), 910)
			require.NoError(t, err)
			_, err = s.RecordFill(ctx, makeTrade("a", "end", domain.SideBuyYes, t0.Add(3*time.Hour), 10, 20), 900)
			require.NoError(t, err)

			acct, err := s.Account(ctx)
			require.NoError(t, err)
			assert.Equal(t, 900.0, acct.Cash)

			all, err := s.LoadFills(ctx, "a", domain.TimeWindow{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, []string{"early", "late", "end"}, []string{all[0].Slug, all[1].Slug, all[2].Slug})
			assert.Equal(t, domain.SideBuyNo, all[0].Side)
			assert.True(t, all[0].Fill.FullyFilled)
			assert.Equal(t, t0, all[0].OpenedAt)

			// [start, end): el fill en end queda fuera
			win, err := s.LoadFills(ctx, "a", domain.TimeWindow{Start: t0.Add(time.Hour), End: t0.Add(3 * time.Hour)})
			require.NoError(t, err)
			require.Len(t, win, 1)
			assert.Equal(t, "late", win[0].Slug)

			other, err := s.LoadFills(ctx, "b", domain.TimeWindow{})
			require.NoError(t, err)
			assert.Empty(t, other)
		})
	}
}

func TestStore_RecordFillRejectsOverfill(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Init(ctx, testSpec("a"))
			require.NoError(t, err)
			bad := makeTrade("a", "x", domain.SideBuyYes, t0, 10, 20)
			bad.Fill.FilledUSD = 11
			_, err = s.RecordFill(ctx, bad, 0)
			assert.ErrorIs(t, err, domain.ErrIntegrityViolation)
		})
	}
}

func TestStore_ResolveMarketCreditsPayout(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Init(ctx, testSpec("a"))
			require.NoError(t, err)
			_, err = s.RecordFill(ctx, makeTrade("a", "btc", domain.SideBuyYes, t0, 40, 100), 960)
			require.NoError(t, err)
			_, err = s.RecordFill(ctx, makeTrade("a", "btc", domain.SideBuyNo, t0.Add(time.Minute), 30, 50), 930)
			require.NoError(t, err)
			_, err = s.RecordFill(ctx, makeTrade("a", "eth", domain.SideBuyYes, t0.Add(2*time.Minute), 10, 20), 920)
			require.NoError(t, err)

			settled, err := s.ResolveMarket(ctx, "btc", true, t0.Add(time.Hour))
			require.NoError(t, err)
			require.Len(t, settled, 2)
			assert.InDelta(t, 60.0, settled[0].RealizedPnL, 1e-9)
			assert.InDelta(t, -30.0, settled[1].RealizedPnL, 1e-9)

			acct, err := s.Account(ctx)
			require.NoError(t, err)
			assert.InDelta(t, 1020.0, acct.Cash, 1e-9)

			open, err := s.OpenTrades(ctx)
			require.NoError(t, err)
			require.Len(t, open, 1)
			assert.Equal(t, "eth", open[0].Slug)

			closed, err := s.ClosedTrades(ctx)
			require.NoError(t, err)
			assert.Len(t, closed, 2)

			again, err := s.ResolveMarket(ctx, "btc", false, t0.Add(2*time.Hour))
			require.NoError(t, err)
			assert.Empty(t, again, "already settled trades stay closed")
		})
	}
}

func TestStore_RunsAndResult(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.SaveRun(ctx, domain.ScanRun{ID: "r1", ExperimentTag: "a", StartedAt: t0, FinishedAt: t0,
				Model: "always_pass", Sizer: "fixed", Status: domain.ScanNoFills, SignalCount: 0}))
			require.NoError(t, s.SaveRun(ctx, domain.ScanRun{ID: "r2", ExperimentTag: "a", StartedAt: t0.Add(time.Hour),
				FinishedAt: t0.Add(time.Hour), Model: "kelly_gbm", Sizer: "kelly", Status: domain.ScanFilled, SignalCount: 3, FillCount: 2}))

			runs, err := s.ListRuns(ctx, 0)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			assert.Equal(t, "r2", runs[0].ID)
			assert.Equal(t, domain.ScanFilled, runs[0].Status)

			runs, err = s.ListRuns(ctx, 1)
			require.NoError(t, err)
			assert.Len(t, runs, 1)

			_, ok, err := s.LoadResult(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.SaveResult(ctx, domain.ExperimentResult{Tag: "a", RealizedPnL: 12.5, Status: domain.ResultOK}))
			r, ok, err := s.LoadResult(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 12.5, r.RealizedPnL)
		})
	}
}

// --- Factory ---

func TestFactory_OneFilePerExperimentAndExclusive(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f := storage.NewFactory(dir)

	a, err := f.Open(ctx, testSpec("alpha"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "alpha.sqlite3"), a.Path())

	_, err = f.Open(ctx, testSpec("alpha"))
	assert.Error(t, err, "same store cannot be opened twice concurrently")

	custom := testSpec("beta")
	custom.DB = filepath.Join(dir, "nested", "beta-custom.sqlite3")
	b, err := f.Open(ctx, custom)
	require.NoError(t, err)
	assert.Equal(t, custom.DB, b.Path())
	require.NoError(t, b.Close())

	_, err = a.Init(ctx, testSpec("alpha"))
	require.NoError(t, err)
	require.NoError(t, a.SaveResult(ctx, domain.ExperimentResult{Tag: "alpha", Status: domain.ResultOK}))
	require.NoError(t, a.Close())

	again, err := f.Open(ctx, testSpec("alpha"))
	require.NoError(t, err, "released on close")
	require.NoError(t, again.Close())

	paths, err := f.List()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "alpha.sqlite3")}, paths)

	results, err := f.LoadResults(ctx, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alpha", results[0].Tag)
}

func TestSQLiteStore_CorruptNotesIsError(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "corrupt.sqlite3")
	s, err := storage.NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Init(ctx, testSpec("c"))
	require.NoError(t, err)
	trade, err := s.RecordFill(ctx, makeTrade("c", "x", domain.SideBuyYes, t0, 10, 20), 990)
	require.NoError(t, err)

	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = raw.ExecContext(ctx, `UPDATE trades SET notes = '{broken' WHERE id = ?`, trade.ID)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, err = s.OpenTrades(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode notes")
}

func TestFactory_ListsOnlyStoresUnderDir(t *testing.T) {
	dir := t.TempDir()
	f := storage.NewFactory(dir)

	assert.True(t, f.Lists(testSpec("a")))
	inside := testSpec("b")
	inside.DB = filepath.Join(dir, "custom.sqlite3")
	assert.True(t, f.Lists(inside))

	outside := testSpec("c")
	outside.DB = filepath.Join(t.TempDir(), "c.sqlite3")
	assert.False(t, f.Lists(outside))

	wrongExt := testSpec("d")
	wrongExt.DB = filepath.Join(dir, "d.db")
	assert.False(t, f.Lists(wrongExt))
}
