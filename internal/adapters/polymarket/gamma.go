package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

const (
	gammaMarketsPath = "/markets"
	// Gamma no tiene búsqueda fiable: se pide más de lo necesario y se filtra aquí.
	gammaOverfetch = 4
)

// FetchMarkets devuelve hasta q.Limit snapshots de mercados activos cuyo texto
// contiene q.Query, con los midpoints YES/NO ya resueltos.
// Un fallo de Gamma o del CLOB es un error, nunca una lista vacía.
func (c *Client) FetchMarkets(ctx context.Context, q domain.MarketQuery) ([]domain.MarketSnapshot, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = domain.DefaultLimit
	}

	params := url.Values{}
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("limit", strconv.Itoa(limit*gammaOverfetch))

	var resp gammaMarketsResponse
	if err := c.gamma.GetJSON(ctx, c.gammaBase+gammaMarketsPath+"?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("gamma.FetchMarkets: %w", err)
	}

	fetchedAt := c.now().UTC()
	needle := strings.ToLower(strings.TrimSpace(q.Query))
	snaps := make([]domain.MarketSnapshot, 0, limit)
	dropped := 0
	for _, gm := range resp {
		if len(snaps) == limit {
			break
		}
		if needle != "" && !matchesQuery(gm, needle) {
			continue
		}
		snap, ok := mapGammaMarket(gm, fetchedAt)
		if !ok {
			dropped++
			continue
		}
		snaps = append(snaps, snap)
	}

	if err := c.attachMidpoints(ctx, snaps); err != nil {
		return nil, fmt.Errorf("gamma.FetchMarkets: %w", err)
	}

	slog.Debug("markets fetched",
		"query", q.Query,
		"gamma_markets", len(resp),
		"matched", len(snaps),
		"dropped_no_tokens", dropped,
	)
	return snaps, nil
}

func matchesQuery(gm gammaMarket, needle string) bool {
	blob := strings.ToLower(strings.Join([]string{gm.Question, gm.Slug, gm.Category, gm.Subcategory}, " "))
	return strings.Contains(blob, needle)
}

// attachMidpoints rellena YesMid/NoMid con un único POST /midpoints.
// Los tokens sin midpoint quedan a 0 y el pipeline los descarta.
func (c *Client) attachMidpoints(ctx context.Context, snaps []domain.MarketSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	ids := make([]string, 0, 2*len(snaps))
	for _, s := range snaps {
		ids = append(ids, s.YesTokenID, s.NoTokenID)
	}
	mids, err := c.FetchMidpoints(ctx, ids)
	if err != nil {
		return err
	}
	for i := range snaps {
		snaps[i].YesMid = mids[snaps[i].YesTokenID]
		snaps[i].NoMid = mids[snaps[i].NoTokenID]
	}
	return nil
}
