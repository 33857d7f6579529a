package tournament

import (
	"context"
	"fmt"
	"sync"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

// sharedMarkets cachea mercados y books durante un torneo: todos los
// experimentos que piden la misma query ven exactamente los mismos snapshots.
// Un fetch fallido también se comparte.
type sharedMarkets struct {
	markets ports.MarketProvider
	books   ports.BookProvider

	mu      sync.Mutex
	queries map[domain.MarketQuery]*marketEntry

	bookMu    sync.Mutex // serializa los fetch de books que faltan
	bookCache map[string]domain.OrderBook
}

type marketEntry struct {
	once  sync.Once
	snaps []domain.MarketSnapshot
	err   error
}

func newSharedMarkets(markets ports.MarketProvider, books ports.BookProvider) *sharedMarkets {
	return &sharedMarkets{
		markets:   markets,
		books:     books,
		queries:   make(map[domain.MarketQuery]*marketEntry),
		bookCache: make(map[string]domain.OrderBook),
	}
}

// FetchMarkets implementa ports.MarketProvider.
func (c *sharedMarkets) FetchMarkets(ctx context.Context, q domain.MarketQuery) ([]domain.MarketSnapshot, error) {
	c.mu.Lock()
	e, ok := c.queries[q]
	if !ok {
		e = &marketEntry{}
		c.queries[q] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		e.snaps, e.err = c.markets.FetchMarkets(ctx, q)
	})
	if e.err != nil {
		return nil, e.err
	}
	out := make([]domain.MarketSnapshot, len(e.snaps))
	copy(out, e.snaps)
	return out, nil
}

// FetchOrderBooks implementa ports.BookProvider. Solo pide al proveedor los
// tokens que nadie pidió antes en este torneo.
func (c *sharedMarkets) FetchOrderBooks(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	if c.books == nil {
		return nil, fmt.Errorf("tournament.FetchOrderBooks: no book provider")
	}
	c.bookMu.Lock()
	defer c.bookMu.Unlock()

	var missing []string
	for _, id := range tokenIDs {
		if _, ok := c.bookCache[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		fetched, err := c.books.FetchOrderBooks(ctx, missing)
		if err != nil {
			return nil, err
		}
		for id, b := range fetched {
			c.bookCache[id] = b
		}
	}

	out := make(map[string]domain.OrderBook, len(tokenIDs))
	for _, id := range tokenIDs {
		if b, ok := c.bookCache[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}
