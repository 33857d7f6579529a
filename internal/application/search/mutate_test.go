package search_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polytrader/internal/application/search"
	"github.com/alejandrodnm/polytrader/internal/domain"
)

func baseSpec() domain.ExperimentSpec {
	s := domain.DefaultScanSpec()
	s.ModelConfig = map[string]any{"min_edge": 0.002, "spot": 100_000.0}
	return domain.ExperimentSpec{Tag: "gbm", InitBankroll: 1000, Scan: s}
}

func mustParse(t *testing.T, raw string) search.Space {
	t.Helper()
	s, err := search.ParseSpace([]byte(raw))
	require.NoError(t, err)
	return s
}

func tags(specs []domain.ExperimentSpec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Tag
	}
	return out
}

// --- grid ---

func TestMutate_BareMapIsGridProduct(t *testing.T) {
	space := mustParse(t, `{"scan.sizer": ["kelly", "fixed"], "scan.model_config.min_edge": [0.01, 0.02]}`)
	assert.Equal(t, search.ModeGrid, space.Mode)

	base := baseSpec()
	out, err := search.Mutate(base, space, 0, search.Limits{})
	require.NoError(t, err)
	require.Len(t, out, 4)

	// las rutas se ordenan: scan.model_config.min_edge antes que scan.sizer
	assert.Equal(t, []string{
		"gbm__min_edge=0.01__sizer=kelly",
		"gbm__min_edge=0.01__sizer=fixed",
		"gbm__min_edge=0.02__sizer=kelly",
		"gbm__min_edge=0.02__sizer=fixed",
	}, tags(out))

	assert.Equal(t, 0.02, out[3].Scan.ModelConfig["min_edge"])
	assert.Equal(t, "fixed", out[3].Scan.Sizer)
	assert.Equal(t, 100_000.0, out[3].Scan.ModelConfig["spot"], "untouched keys are kept")
	assert.Equal(t, 0.002, base.Scan.ModelConfig["min_edge"], "base spec is not modified")
}

func TestMutate_DecimalRangesAreExact(t *testing.T) {
	space := mustParse(t, `{"mode":"grid","dimensions":{
		"scan.sizer_config.fraction": {"min": 0.1, "max": 0.3, "step": 0.1},
		"init_bankroll": {"min": 100, "max": 200, "count": 3}
	}}`)
	out, err := search.Mutate(baseSpec(), space, 0, search.Limits{})
	require.NoError(t, err)
	require.Len(t, out, 9)

	var fractions []any
	for _, s := range out[:3] {
		fractions = append(fractions, s.Scan.SizerConfig["fraction"])
	}
	assert.Equal(t, []any{0.1, 0.2, 0.3}, fractions, "0.1+0.1+0.1 must land on 0.3")
	assert.Equal(t, 100.0, out[0].InitBankroll)
	assert.Equal(t, 150.0, out[3].InitBankroll)
	assert.Equal(t, 200.0, out[8].InitBankroll)
}

func TestMutate_RejectsOverCapInsteadOfTruncating(t *testing.T) {
	space := mustParse(t, `{"mode":"grid","dimensions":{"scan.model_config.min_edge":{"min":0,"max":1,"step":0.001}}}`)
	_, err := search.Mutate(baseSpec(), space, 0, search.Limits{MaxVariants: 200})
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "search_space", cfgErr.Field)

	_, err = search.MutateAll([]domain.ExperimentSpec{baseSpec(), baseSpec()},
		mustParse(t, `{"scan.limit": [10, 20, 30]}`), 0, search.Limits{MaxVariants: 5})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestMutate_RejectsBadSpaces(t *testing.T) {
	cases := map[string]string{
		"unknown path":     `{"scan.nope": [1]}`,
		"tag path":         `{"tag": ["x"]}`,
		"empty values":     `{"scan.limit": []}`,
		"inverted range":   `{"dimensions":{"init_bankroll":{"min":10,"max":1,"step":1}}}`,
		"zero step":        `{"dimensions":{"init_bankroll":{"min":1,"max":10,"step":0}}}`,
		"step and count":   `{"dimensions":{"init_bankroll":{"min":1,"max":10,"step":1,"count":3}}}`,
		"wrong type":       `{"scan.limit": ["many"]}`,
		"invalid variant":  `{"init_bankroll": [-5]}`,
		"unknown mode":     `{"mode":"random","dimensions":{"scan.limit":[1]}}`,
		"no samples":       `{"mode":"sampled","dimensions":{"scan.limit":[1,2]}}`,
		"empty dimensions": `{"dimensions":{}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			space, err := search.ParseSpace([]byte(raw))
			if err == nil {
				_, err = search.Mutate(baseSpec(), space, 1, search.Limits{})
			}
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}

// --- sampled ---

func TestMutate_SampledIsDeterministicPerSeed(t *testing.T) {
	space := mustParse(t, `{"mode":"sampled","samples":10,"dimensions":{
		"scan.model_config.min_edge": {"min": 0.001, "max": 0.05, "step": 0.001},
		"scan.sizer_config.fraction": {"min": 0.05, "max": 1, "step": 0.05}
	}}`)

	a, err := search.Mutate(baseSpec(), space, 42, search.Limits{})
	require.NoError(t, err)
	b, err := search.Mutate(baseSpec(), space, 42, search.Limits{})
	require.NoError(t, err)
	c, err := search.Mutate(baseSpec(), space, 7, search.Limits{})
	require.NoError(t, err)

	require.Len(t, a, 10)
	assert.Equal(t, a, b)
	assert.NotEqual(t, tags(a), tags(c))

	seen := map[string]bool{}
	for _, s := range a {
		assert.False(t, seen[s.Tag], "sampling is without replacement")
		seen[s.Tag] = true
	}
}

func TestMutate_SampledRejectsHugeSpace(t *testing.T) {
	space := mustParse(t, `{"mode":"sampled","samples":5,"dimensions":{
		"scan.model_config.min_edge": {"min": 0, "max": 1, "step": 0.0001},
		"scan.sizer_config.fraction": {"min": 0, "max": 1, "step": 0.0001}
	}}`)
	_, err := search.Mutate(baseSpec(), space, 1, search.Limits{})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestMutate_SamplesAboveSpaceReturnWholeSpace(t *testing.T) {
	space := mustParse(t, `{"mode":"sampled","samples":50,"dimensions":{"scan.limit":[10,20,30]}}`)
	out, err := search.Mutate(baseSpec(), space, 3, search.Limits{})
	require.NoError(t, err)
	assert.Equal(t, []string{"gbm__limit=10", "gbm__limit=20", "gbm__limit=30"}, tags(out))
}

// --- tags ---

func TestMutate_TagsAreSanitizedAndUnique(t *testing.T) {
	space := mustParse(t, `{"scan.query": ["btc above", "btc/above"]}`)
	out, err := search.Mutate(baseSpec(), space, 0, search.Limits{})
	require.NoError(t, err)
	assert.Equal(t, []string{"gbm__query=btc-above", "gbm__query=btc-above-2"}, tags(out))
	for _, s := range out {
		require.NoError(t, s.Validate())
	}
}
