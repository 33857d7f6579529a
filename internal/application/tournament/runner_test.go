package tournament_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polytrader/internal/adapters/storage"
	"github.com/alejandrodnm/polytrader/internal/application/tournament"
	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/strategy"
)

// --- mocks ---

type countingMarkets struct {
	calls   atomic.Int32
	markets []domain.MarketSnapshot
	err     error
}

func (m *countingMarkets) FetchMarkets(_ context.Context, _ domain.MarketQuery) ([]domain.MarketSnapshot, error) {
	m.calls.Add(1)
	return m.markets, m.err
}

type countingBooks struct {
	calls atomic.Int32
	books map[string]domain.OrderBook
}

func (b *countingBooks) FetchOrderBooks(_ context.Context, ids []string) (map[string]domain.OrderBook, error) {
	b.calls.Add(1)
	out := make(map[string]domain.OrderBook)
	for _, id := range ids {
		if book, ok := b.books[id]; ok {
			out[id] = book
		}
	}
	return out, nil
}

type mockFeed struct {
	spotCalls atomic.Int32
	spot      float64
	sigma     float64
	err       error
}

func (f *mockFeed) Spot(_ context.Context, _ string) (float64, error) {
	f.spotCalls.Add(1)
	return f.spot, f.err
}

func (f *mockFeed) AnnualizedVol(_ context.Context, _ string) (float64, error) {
	return f.sigma, f.err
}

type recordingMetrics struct {
	mu       sync.Mutex
	started  []string
	finished []domain.ExperimentResult
}

func (m *recordingMetrics) ExperimentStarted(tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, tag)
}

func (m *recordingMetrics) ExperimentFinished(r domain.ExperimentResult, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, r)
}

// edgeModel compra YES en todo mercado con un edge fijo de 0.15.
type edgeModel struct{}

func (edgeModel) Name() string { return "edge_model" }

func (edgeModel) Evaluate(s domain.MarketSnapshot) (domain.Signal, bool) {
	return domain.Signal{
		Side: domain.SideBuyYes, TokenID: s.YesTokenID,
		MarketPrice: s.YesMid, ModelPrice: s.YesMid + 0.15, Edge: 0.15, Confidence: 0.5,
	}, true
}

// --- helpers ---

func testRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	strategy.RegisterBuiltins(r)
	r.MustRegisterModel(strategy.Descriptor{Name: "edge_model"}, func(strategy.Params) (strategy.SignalModel, error) {
		return edgeModel{}, nil
	})
	r.MustRegisterModel(strategy.Descriptor{Name: "exploding"}, func(strategy.Params) (strategy.SignalModel, error) {
		panic("factory blew up")
	})
	return r
}

func snapshot(id string) domain.MarketSnapshot {
	now := time.Now().UTC()
	return domain.MarketSnapshot{
		MarketID: id, Slug: "slug-" + id, Question: "Will " + id + " happen?",
		FetchedAt: now, EndDate: now.Add(72 * time.Hour),
		YesTokenID: id + "-yes", NoTokenID: id + "-no",
		YesMid: 0.40, NoMid: 0.60, Liquidity: 80_000, Volume: 500_000,
	}
}

func books(ids ...string) map[string]domain.OrderBook {
	out := make(map[string]domain.OrderBook)
	for _, id := range ids {
		out[id+"-yes"] = domain.OrderBook{TokenID: id + "-yes",
			Asks: []domain.BookEntry{{Price: 0.41, Size: 100}, {Price: 0.42, Size: 1000}}}
		out[id+"-no"] = domain.OrderBook{TokenID: id + "-no",
			Asks: []domain.BookEntry{{Price: 0.61, Size: 1000}}}
	}
	return out
}

func spec(tag, model, sizer string, bankroll float64, sizerCfg map[string]any) domain.ExperimentSpec {
	s := domain.DefaultScanSpec()
	s.Model, s.Sizer, s.SizerConfig = model, sizer, sizerCfg
	return domain.ExperimentSpec{Tag: tag, InitBankroll: bankroll, Scan: s}
}

// --- tests ---

func TestRunner_IsolatesExperimentsAndSharesMarketData(t *testing.T) {
	mp := &countingMarkets{markets: []domain.MarketSnapshot{snapshot("a"), snapshot("b")}}
	bp := &countingBooks{books: books("a", "b")}
	stores := storage.NewMemoryFactory()
	metrics := &recordingMetrics{}

	r := tournament.New(tournament.Config{Workers: 3}, tournament.Deps{
		Markets: mp, Books: bp, Stores: stores, Registry: testRegistry(), Metrics: metrics,
	})

	specs := []domain.ExperimentSpec{
		spec("alpha", "edge_model", "fixed", 100, map[string]any{"usd": 60.0}),
		spec("beta", "edge_model", "fixed", 1000, map[string]any{"usd": 10.0}),
		spec("gamma", "edge_model", "nope", 1000, nil),
		spec("delta", "exploding", "fixed", 1000, nil),
	}
	results, err := r.Run(context.Background(), specs)
	require.NoError(t, err)
	require.Len(t, results, 4)

	tags := []string{results[0].Tag, results[1].Tag, results[2].Tag, results[3].Tag}
	assert.Equal(t, []string{"alpha", "beta", "gamma", "delta"}, tags)

	alpha := results[0]
	assert.Equal(t, domain.ResultOK, alpha.Status)
	assert.Equal(t, 2, alpha.SignalCount)
	assert.Equal(t, 1, alpha.FillCount, "second order does not fit in the remaining cash")
	assert.InDelta(t, 40.0, alpha.Cash, 1e-9)
	assert.InDelta(t, 100.0, alpha.Equity, 1e-9, "open positions valued at cost without a marker")
	assert.Equal(t, "alpha", alpha.Spec.Tag)

	beta := results[1]
	assert.Equal(t, 2, beta.FillCount)
	assert.InDelta(t, 980.0, beta.Cash, 1e-9)

	assert.True(t, results[2].Failed())
	assert.Contains(t, results[2].Error, "scan.sizer")
	assert.True(t, results[3].Failed())
	assert.Contains(t, results[3].Error, "panic")

	for _, res := range results {
		assert.GreaterOrEqual(t, res.SignalCount, res.FillCount)
	}

	assert.Equal(t, int32(1), mp.calls.Load(), "identical queries are fetched once per tournament")
	assert.Equal(t, int32(1), bp.calls.Load(), "books are fetched once per tournament")

	alphaStore, ok := stores.Store("alpha")
	require.True(t, ok)
	saved, ok, err := alphaStore.LoadResult(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, alpha.RunID, saved.RunID)

	assert.Len(t, metrics.started, 4)
	assert.Len(t, metrics.finished, 4)
}

func TestRunner_FetchFailureFailsOnlyThatExperiment(t *testing.T) {
	mp := &countingMarkets{err: errors.New("gamma down")}
	r := tournament.New(tournament.Config{}, tournament.Deps{
		Markets: mp, Books: &countingBooks{}, Stores: storage.NewMemoryFactory(), Registry: testRegistry(),
	})

	results, err := r.Run(context.Background(), []domain.ExperimentSpec{
		spec("a", "edge_model", "fixed", 100, nil),
		spec("b", "always_pass", "fixed", 100, nil),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.True(t, res.Failed())
		assert.Contains(t, res.Error, "gamma down")
		assert.Contains(t, res.Error, domain.ErrExperimentFailure.Error())
	}
}

func TestRunner_RejectsSharedPersistenceTargets(t *testing.T) {
	r := tournament.New(tournament.Config{}, tournament.Deps{Stores: storage.NewMemoryFactory(), Registry: testRegistry()})

	_, err := r.Run(context.Background(), []domain.ExperimentSpec{
		spec("a", "always_pass", "fixed", 100, nil),
		spec("a", "always_pass", "fixed", 100, nil),
	})
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	x, y := spec("x", "always_pass", "fixed", 100, nil), spec("y", "always_pass", "fixed", 100, nil)
	x.DB, y.DB = "shared.sqlite3", "./shared.sqlite3"
	_, err = r.Run(context.Background(), []domain.ExperimentSpec{x, y})
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "experiments[1].db", cfgErr.Field)

	_, err = r.Run(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestRunner_RejectsExplicitDBOnAnotherTagsStore(t *testing.T) {
	dir := t.TempDir()
	factory := storage.NewFactory(dir)
	mp := &countingMarkets{markets: []domain.MarketSnapshot{snapshot("a")}}
	r := tournament.New(tournament.Config{Workers: 1}, tournament.Deps{
		Markets: mp, Books: &countingBooks{books: books("a")}, Stores: factory, Registry: testRegistry(),
	})

	x := spec("x", "edge_model", "fixed", 1000, map[string]any{"usd": 10.0})
	y := spec("y", "always_pass", "fixed", 50, nil)
	y.DB = filepath.Join(dir, "x"+storage.Extension)

	results, err := r.Run(context.Background(), []domain.ExperimentSpec{x, y})
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "experiments[1].db", cfgErr.Field)
	assert.Nil(t, results)
	assert.Zero(t, mp.calls.Load(), "nothing runs when two experiments resolve to one store")

	files, err := factory.List()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestRunner_CancelledContextStopsDispatch(t *testing.T) {
	mp := &countingMarkets{}
	r := tournament.New(tournament.Config{Workers: 2}, tournament.Deps{
		Markets: mp, Books: &countingBooks{}, Stores: storage.NewMemoryFactory(), Registry: testRegistry(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := r.Run(ctx, []domain.ExperimentSpec{spec("a", "always_pass", "fixed", 100, nil)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
	assert.Zero(t, mp.calls.Load())
}

func TestRunner_ResolvesModelInputsFromFeedOnce(t *testing.T) {
	feed := &mockFeed{spot: 100_000, sigma: 0.6}
	r := tournament.New(tournament.Config{Workers: 2}, tournament.Deps{
		Markets: &countingMarkets{}, Books: &countingBooks{}, Stores: storage.NewMemoryFactory(),
		Registry: testRegistry(), Feed: feed,
	})

	results, err := r.Run(context.Background(), []domain.ExperimentSpec{
		spec("g1", "kelly_gbm", "kelly", 1000, nil),
		spec("g2", "kelly_gbm", "kelly", 1000, nil),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, domain.ResultNoFills, res.Status, res.Error)
		assert.NotContains(t, res.Spec.Scan.ModelConfig, "spot", "result keeps the experiment config as given")
	}
	assert.Equal(t, int32(1), feed.spotCalls.Load())
}

func TestRunner_MissingSpotWithoutFeedIsConfigFailure(t *testing.T) {
	r := tournament.New(tournament.Config{}, tournament.Deps{
		Markets: &countingMarkets{}, Books: &countingBooks{}, Stores: storage.NewMemoryFactory(), Registry: testRegistry(),
	})
	results, err := r.Run(context.Background(), []domain.ExperimentSpec{spec("g", "kelly_gbm", "kelly", 1000, nil)})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Failed())
	assert.Contains(t, results[0].Error, "scan.model_config.spot")
}

func TestRunner_PersistsResultsInSQLite(t *testing.T) {
	ctx := context.Background()
	factory := storage.NewFactory(t.TempDir())
	r := tournament.New(tournament.Config{Workers: 2}, tournament.Deps{
		Markets:  &countingMarkets{markets: []domain.MarketSnapshot{snapshot("a")}},
		Books:    &countingBooks{books: books("a")},
		Stores:   factory,
		Registry: testRegistry(),
	})

	_, err := r.Run(ctx, []domain.ExperimentSpec{
		spec("exp-1", "edge_model", "fixed", 500, map[string]any{"usd": 20.0}),
		spec("exp-2", "always_pass", "fixed", 500, nil),
	})
	require.NoError(t, err)

	persisted, err := factory.LoadResults(ctx, "exp-")
	require.NoError(t, err)
	require.Len(t, persisted, 2)
	byTag := map[string]domain.ExperimentResult{}
	for _, p := range persisted {
		byTag[p.Tag] = p
	}
	assert.Equal(t, 1, byTag["exp-1"].FillCount)
	assert.Equal(t, domain.ResultNoFills, byTag["exp-2"].Status)

	// un segundo torneo acumula sobre el mismo store
	_, err = r.Run(ctx, []domain.ExperimentSpec{spec("exp-1", "edge_model", "fixed", 500, map[string]any{"usd": 20.0})})
	require.NoError(t, err)
	persisted, err = factory.LoadResults(ctx, "exp-1")
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, 2, persisted[0].FillCount)
	assert.InDelta(t, 460.0, persisted[0].Cash, 1e-9)
}

func TestRunner_ScanSingleExperiment(t *testing.T) {
	mp := &countingMarkets{markets: []domain.MarketSnapshot{snapshot("a")}}
	bp := &countingBooks{books: books("a")}
	r := tournament.New(tournament.Config{}, tournament.Deps{Markets: mp, Books: bp, Registry: testRegistry()})

	store := storage.NewMemoryStore()
	outcome, err := r.Scan(context.Background(), spec("solo", "edge_model", "fixed", 100, map[string]any{"usd": 20.0}), store)
	require.NoError(t, err)

	assert.Equal(t, domain.ScanFilled, outcome.Run.Status)
	assert.Equal(t, 1, outcome.Run.FillCount)
	require.Len(t, outcome.Fills, 1)

	acct, err := store.Account(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 80, acct.Cash, 1e-9)

	_, ok, err := store.LoadResult(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "scan no guarda un ExperimentResult")
}

func TestRunner_ScanRejectsUnknownModel(t *testing.T) {
	r := tournament.New(tournament.Config{}, tournament.Deps{Markets: &countingMarkets{}, Books: &countingBooks{}, Registry: testRegistry()})

	_, err := r.Scan(context.Background(), spec("solo", "nope", "fixed", 100, nil), storage.NewMemoryStore())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}
