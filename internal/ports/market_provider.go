package ports

import (
	"context"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// MarketProvider obtiene snapshots de mercados binarios para una búsqueda.
type MarketProvider interface {
	// FetchMarkets devuelve como mucho q.Limit snapshots (puede devolver menos).
	// Un fallo del fetch es un error, nunca una lista vacía.
	FetchMarkets(ctx context.Context, q domain.MarketQuery) ([]domain.MarketSnapshot, error)
}
