package domain

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- SimulateBuy ---

func TestSimulateBuy_BudgetExhaustedAcrossTwoLevels(t *testing.T) {
	book := []BookEntry{{Price: 0.60, Size: 100}, {Price: 0.62, Size: 50}}

	res, ok := SimulateBuy(book, 90)
	require.True(t, ok)

	assert.True(t, res.FullyFilled)
	assert.InDelta(t, 90.0, res.FilledUSD, 1e-9)
	assert.InDelta(t, 148.387, res.Shares, 0.001)
	assert.Equal(t, 2, res.LevelsUsed)
	assert.InDelta(t, 90.0/148.3870967, res.AvgPrice, 1e-6)
	assert.Zero(t, res.Remaining())
	assert.Greater(t, res.SlippageBps, 0.0)
}

func TestSimulateBuy_SingleLevelEnough(t *testing.T) {
	res, ok := SimulateBuy([]BookEntry{{Price: 0.5, Size: 1000}, {Price: 0.7, Size: 10}}, 50)
	require.True(t, ok)

	assert.True(t, res.FullyFilled)
	assert.Equal(t, 1, res.LevelsUsed)
	assert.InDelta(t, 100.0, res.Shares, 1e-9)
	assert.InDelta(t, 0.5, res.AvgPrice, 1e-12)
	assert.Zero(t, res.SlippageBps)
}

func TestSimulateBuy_BookExhaustedIsPartial(t *testing.T) {
	book := []BookEntry{{Price: 0.40, Size: 10}, {Price: 0.50, Size: 10}}

	res, ok := SimulateBuy(book, 100)
	require.True(t, ok)

	assert.False(t, res.FullyFilled)
	assert.InDelta(t, 9.0, res.FilledUSD, 1e-9)
	assert.InDelta(t, 20.0, res.Shares, 1e-9)
	assert.InDelta(t, 91.0, res.Remaining(), 1e-9)
	assert.Less(t, res.FilledUSD, 100.0)
}

func TestSimulateBuy_AbsentCases(t *testing.T) {
	cases := []struct {
		name string
		book []BookEntry
		usd  float64
	}{
		{"empty book", nil, 10},
		{"zero budget", []BookEntry{{Price: 0.5, Size: 10}}, 0},
		{"negative budget", []BookEntry{{Price: 0.5, Size: 10}}, -5},
		{"nan budget", []BookEntry{{Price: 0.5, Size: 10}}, math.NaN()},
		{"first level zero price", []BookEntry{{Price: 0, Size: 10}, {Price: 0.5, Size: 10}}, 10},
		{"first level negative price", []BookEntry{{Price: -0.1, Size: 10}}, 10},
		{"only malformed sizes", []BookEntry{{Price: 0.5, Size: 0}, {Price: 0.6, Size: -3}}, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := SimulateBuy(tc.book, tc.usd)
			assert.False(t, ok)
		})
	}
}

func TestSimulateBuy_SkipsMalformedLevels(t *testing.T) {
	book := []BookEntry{{Price: 0.5, Size: 10}, {Price: 0.55, Size: -1}, {Price: 0.6, Size: 100}}

	res, ok := SimulateBuy(book, 11)
	require.True(t, ok)

	assert.Equal(t, 2, res.LevelsUsed)
	assert.InDelta(t, 10+6.0/0.6, res.Shares, 1e-9)
	assert.InDelta(t, 0.6, res.MaxPrice, 1e-12)
}

func TestSimulateBuy_DoesNotReorderOrMutate(t *testing.T) {
	book := []BookEntry{{Price: 0.7, Size: 5}, {Price: 0.6, Size: 5}}
	orig := append([]BookEntry(nil), book...)

	res, ok := SimulateBuy(book, 3.5)
	require.True(t, ok)

	// consume el primer nivel aunque no sea el más barato
	assert.Equal(t, 1, res.LevelsUsed)
	assert.InDelta(t, 0.7, res.AvgPrice, 1e-12)
	assert.Equal(t, orig, book)
}

func TestSimulateBuy_Deterministic(t *testing.T) {
	book := []BookEntry{{Price: 0.31, Size: 17}, {Price: 0.33, Size: 23}, {Price: 0.4, Size: 5}}
	a, okA := SimulateBuy(book, 12.34)
	b, okB := SimulateBuy(book, 12.34)
	assert.Equal(t, okA, okB)
	assert.Equal(t, a, b)
}

func TestSimulateBuy_Properties(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 500; i++ {
		n := 1 + rng.IntN(6)
		book := make([]BookEntry, n)
		for j := range book {
			book[j] = BookEntry{Price: 0.01 + rng.Float64()*0.98, Size: rng.Float64() * 200}
		}
		usd := 0.01 + rng.Float64()*500

		res, ok := SimulateBuy(book, usd)
		if !ok {
			continue
		}
		require.NoError(t, res.Validate())
		assert.LessOrEqual(t, res.FilledUSD, usd+1e-9)
		assert.GreaterOrEqual(t, res.AvgPrice, res.MinPrice-1e-9)
		assert.LessOrEqual(t, res.AvgPrice, res.MaxPrice+1e-9)
		if res.FilledUSD == 0 {
			assert.False(t, res.FullyFilled)
		}
	}
}

// --- FillResult.Validate ---

func TestFillResultValidate_OverfillIsIntegrityViolation(t *testing.T) {
	f := FillResult{RequestedUSD: 10, FilledUSD: 11, Shares: 20, AvgPrice: 0.55, MinPrice: 0.5, MaxPrice: 0.6}
	err := f.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIntegrityViolation))
}

func TestFillResultValidate_AvgOutsideRange(t *testing.T) {
	f := FillResult{RequestedUSD: 10, FilledUSD: 10, Shares: 10, AvgPrice: 1.0, MinPrice: 0.5, MaxPrice: 0.6}
	assert.ErrorIs(t, f.Validate(), ErrIntegrityViolation)
}

// --- AskSideFor ---

func TestAskSideFor_BuyNoFallsBackToComplement(t *testing.T) {
	yes := &OrderBook{Bids: []BookEntry{{Price: 0.45, Size: 10}, {Price: 0.40, Size: 20}}}
	no := &OrderBook{}

	levels := AskSideFor(SideBuyNo, yes, no)
	require.Len(t, levels, 2)
	assert.InDelta(t, 0.55, levels[0].Price, 1e-12)
	assert.InDelta(t, 0.60, levels[1].Price, 1e-12)
}

func TestAskSideFor_BuyNoPrefersNoAsks(t *testing.T) {
	yes := &OrderBook{Bids: []BookEntry{{Price: 0.45, Size: 10}}}
	no := &OrderBook{Asks: []BookEntry{{Price: 0.57, Size: 3}}}
	assert.Equal(t, no.Asks, AskSideFor(SideBuyNo, yes, no))
	assert.Nil(t, AskSideFor(SideBuyYes, nil, no))
}
