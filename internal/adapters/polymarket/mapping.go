package polymarket

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// mapGammaMarket convierte un mercado de Gamma en snapshot (sin midpoints).
// ok=false si el mercado no tiene los dos tokens YES/NO.
func mapGammaMarket(gm gammaMarket, fetchedAt time.Time) (domain.MarketSnapshot, bool) {
	tokens := parseListField(gm.ClobTokenIDs)
	if len(tokens) < 2 {
		return domain.MarketSnapshot{}, false
	}

	id := gm.ID
	if id == "" {
		id = gm.ConditionID
	}
	end := gm.EndDate
	if end == "" {
		end = gm.EndDateISO
	}

	return domain.MarketSnapshot{
		MarketID:   id,
		Slug:       gm.Slug,
		Question:   gm.Question,
		Category:   gm.Category,
		EndDate:    parseEndDate(end),
		FetchedAt:  fetchedAt,
		YesTokenID: tokens[0],
		NoTokenID:  tokens[1],
		Liquidity:  firstNumber(gm.LiquidityNum, gm.Liquidity),
		Volume:     firstNumber(gm.VolumeNum, gm.Volume),
	}, true
}

// parseListField acepta una lista JSON o una lista JSON codificada como string.
func parseListField(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		raw = json.RawMessage(encoded)
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			out = append(out, v)
		case float64:
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		default:
			out = append(out, fmt.Sprint(v))
		}
	}
	return out
}

// parseEndDate prueba los formatos que usa Polymarket. Zero si no se reconoce.
func parseEndDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05Z",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func firstNumber(nums ...json.Number) float64 {
	for _, n := range nums {
		if n == "" {
			continue
		}
		if v, err := n.Float64(); err == nil {
			return v
		}
	}
	return 0
}

// mapMidpoints convierte la respuesta de /midpoints. Los valores fuera de
// [0, 1] o no numéricos se descartan.
func mapMidpoints(raw midpointsResponse) map[string]float64 {
	out := make(map[string]float64, len(raw))
	for id, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			s = string(v)
		}
		mid, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || mid < 0 || mid > 1 {
			continue
		}
		out[id] = mid
	}
	return out
}

// mapOrderBooks convierte la respuesta batch de /books a un map tokenID→OrderBook.
func mapOrderBooks(raw []orderBookResponse) map[string]domain.OrderBook {
	result := make(map[string]domain.OrderBook, len(raw))
	for _, r := range raw {
		ob := domain.OrderBook{
			TokenID: r.AssetID,
			Bids:    mapBookEntries(r.Bids, false),
			Asks:    mapBookEntries(r.Asks, true),
		}
		result[r.AssetID] = ob
	}
	return result
}

// mapBookEntries convierte entries raw a domain.BookEntry y los ordena.
// ascending=true → menor a mayor (asks), ascending=false → mayor a menor (bids).
func mapBookEntries(raw []bookEntryRaw, ascending bool) []domain.BookEntry {
	entries := make([]domain.BookEntry, 0, len(raw))
	for _, r := range raw {
		price := domain.ParsePrice(r.Price)
		size := domain.ParsePrice(r.Size)
		if price <= 0 || size <= 0 {
			continue
		}
		entries = append(entries, domain.BookEntry{Price: price, Size: size})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if ascending {
			return entries[i].Price < entries[j].Price
		}
		return entries[i].Price > entries[j].Price
	})

	return entries
}
