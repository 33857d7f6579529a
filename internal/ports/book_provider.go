package ports

import (
	"context"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// BookProvider obtiene orderbooks del CLOB usando el endpoint batch.
type BookProvider interface {
	// FetchOrderBooks devuelve los orderbooks para los token_ids dados.
	// Internamente agrupa los IDs en batches de máx 20 para minimizar requests.
	FetchOrderBooks(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error)
}

// MidpointProvider obtiene midpoints para marcar posiciones abiertas.
type MidpointProvider interface {
	// FetchMidpoints devuelve token_id → midpoint. Los tokens sin midpoint no aparecen.
	FetchMidpoints(ctx context.Context, tokenIDs []string) (map[string]float64, error)
}
