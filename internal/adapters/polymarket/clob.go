package polymarket

// clob.go: Polymarket CLOB API adapter.
//
// FetchOrderBooks usa goroutines concurrentes para disparar múltiples batch requests
// en paralelo. El rate limiter (token bucket) del httpclient controla el ritmo
// automáticamente; las goroutines se "autolimitan" sin semáforo explícito.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

const (
	booksPath     = "/books"
	midpointsPath = "/midpoints"
	batchSize     = 20 // máx token_ids por request a /books y /midpoints
)

// FetchOrderBooks obtiene los orderbooks para los token_ids dados usando el endpoint batch.
// Lanza un goroutine por batch (máx batchSize tokens cada uno) y los ejecuta
// concurrentemente.
func (c *Client) FetchOrderBooks(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	result, err := fetchBatched(ctx, tokenIDs, c.fetchBooksBatch)
	if err != nil {
		return nil, fmt.Errorf("clob.FetchOrderBooks: %w", err)
	}
	slog.Debug("order books fetched", "tokens", len(tokenIDs), "books", len(result))
	return result, nil
}

// FetchMidpoints obtiene token_id → midpoint. Los tokens sin midpoint no aparecen.
func (c *Client) FetchMidpoints(ctx context.Context, tokenIDs []string) (map[string]float64, error) {
	result, err := fetchBatched(ctx, tokenIDs, c.fetchMidpointsBatch)
	if err != nil {
		return nil, fmt.Errorf("clob.FetchMidpoints: %w", err)
	}
	slog.Debug("midpoints fetched", "tokens", len(tokenIDs), "midpoints", len(result))
	return result, nil
}

// fetchBatched parte tokenIDs en batches, los pide en paralelo y une los
// resultados. El primer batch fallido hace fallar la llamada completa.
func fetchBatched[V any](
	ctx context.Context,
	tokenIDs []string,
	fetch func(context.Context, []string) (map[string]V, error),
) (map[string]V, error) {
	if len(tokenIDs) == 0 {
		return map[string]V{}, nil
	}

	batches := splitBatches(tokenIDs, batchSize)

	type batchResult struct {
		values map[string]V
		err    error
		idx    int
	}

	resultCh := make(chan batchResult, len(batches))
	var wg sync.WaitGroup

	for i, batch := range batches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			values, err := fetch(ctx, batch)
			resultCh <- batchResult{values: values, err: err, idx: i}
		}()
	}

	// Cerrar el canal cuando todos los goroutines terminen
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	result := make(map[string]V, len(tokenIDs))
	var firstErr error

	for r := range resultCh {
		if r.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("batch %d: %w", r.idx, r.err)
			}
			continue
		}
		for k, v := range r.values {
			result[k] = v
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return result, nil
}

// splitBatches divide tokenIDs en slices de tamaño máximo size.
func splitBatches(tokenIDs []string, size int) [][]string {
	if size <= 0 {
		size = batchSize
	}
	batches := make([][]string, 0, (len(tokenIDs)+size-1)/size)
	for i := 0; i < len(tokenIDs); i += size {
		end := min(i+size, len(tokenIDs))
		batches = append(batches, tokenIDs[i:end])
	}
	return batches
}

func tokenBody(tokenIDs []string) []tokenRequest {
	body := make([]tokenRequest, len(tokenIDs))
	for i, id := range tokenIDs {
		body[i] = tokenRequest{TokenID: id}
	}
	return body
}

// fetchBooksBatch hace un POST /books para un batch de token_ids.
func (c *Client) fetchBooksBatch(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	var resp []orderBookResponse
	if err := c.books.PostJSON(ctx, c.clobBase+booksPath, tokenBody(tokenIDs), &resp); err != nil {
		return nil, fmt.Errorf("POST /books: %w", err)
	}
	return mapOrderBooks(resp), nil
}

// fetchMidpointsBatch hace un POST /midpoints para un batch de token_ids.
func (c *Client) fetchMidpointsBatch(ctx context.Context, tokenIDs []string) (map[string]float64, error) {
	var resp midpointsResponse
	if err := c.clob.PostJSON(ctx, c.clobBase+midpointsPath, tokenBody(tokenIDs), &resp); err != nil {
		return nil, fmt.Errorf("POST /midpoints: %w", err)
	}
	return mapMidpoints(resp), nil
}
