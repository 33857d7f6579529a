package tournament

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/alejandrodnm/polytrader/internal/ports"
	"github.com/alejandrodnm/polytrader/internal/strategy"
)

// DefaultSpotPair es el par que se consulta para los inputs spot/sigma.
const DefaultSpotPair = "XBTUSD"

// inputResolver completa los inputs externos que un modelo declara y que el
// spec no fija. Cada input se consulta una sola vez por torneo.
type inputResolver struct {
	feed ports.SpotFeed
	pair string

	mu     sync.Mutex
	values map[string]float64
}

func newInputResolver(feed ports.SpotFeed, pair string) *inputResolver {
	if pair == "" {
		pair = DefaultSpotPair
	}
	return &inputResolver{feed: feed, pair: pair, values: make(map[string]float64)}
}

// resolve devuelve una copia de cfg con los inputs de model rellenados.
func (r *inputResolver) resolve(ctx context.Context, reg *strategy.Registry, model string, cfg map[string]any) (map[string]any, error) {
	out := maps.Clone(cfg)
	if out == nil {
		out = make(map[string]any)
	}
	if r.feed == nil {
		return out, nil
	}
	for _, name := range reg.Inputs(model) {
		if _, ok := out[name]; ok {
			continue
		}
		v, err := r.lookup(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("tournament.resolveInputs: %s: %w", name, err)
		}
		if v != 0 {
			out[name] = v
		}
	}
	return out, nil
}

func (r *inputResolver) lookup(ctx context.Context, name string) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.values[name]; ok {
		return v, nil
	}

	var (
		v   float64
		err error
	)
	switch name {
	case "spot":
		v, err = r.feed.Spot(ctx, r.pair)
	case "sigma":
		v, err = r.feed.AnnualizedVol(ctx, r.pair)
	default:
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	r.values[name] = v
	slog.Info("model input resolved", "input", name, "pair", r.pair, "value", v)
	return v, nil
}
