package domain

import "math"

// FillResult es el resultado de simular una compra contra un lado del book.
type FillResult struct {
	RequestedUSD float64 `json:"requested_usd"`
	FilledUSD    float64 `json:"filled_usd"`
	Shares       float64 `json:"shares"`
	AvgPrice     float64 `json:"avg_price"`
	LevelsUsed   int     `json:"levels_used"`
	FullyFilled  bool    `json:"fully_filled"`
	MinPrice     float64 `json:"min_price"` // rango de precios de los niveles consumidos
	MaxPrice     float64 `json:"max_price"`
	SlippageBps  float64 `json:"slippage_bps"`
}

// Remaining devuelve el nocional que quedó sin llenar.
func (f FillResult) Remaining() float64 {
	return math.Max(f.RequestedUSD-f.FilledUSD, 0)
}

// Validate verifica los invariantes del fill: nunca llena más de lo pedido y
// el precio medio cae dentro del rango de niveles consumidos.
func (f FillResult) Validate() error {
	if f.FilledUSD > f.RequestedUSD+priceEpsilon {
		return integrityf("fill", "filled %.9f exceeds requested %.9f", f.FilledUSD, f.RequestedUSD)
	}
	if f.FilledUSD < 0 || f.Shares < 0 {
		return integrityf("fill", "negative fill: usd=%.9f shares=%.9f", f.FilledUSD, f.Shares)
	}
	if f.Shares > 0 && (f.AvgPrice < f.MinPrice-priceEpsilon || f.AvgPrice > f.MaxPrice+priceEpsilon) {
		return integrityf("fill", "avg price %.9f outside [%.9f, %.9f]", f.AvgPrice, f.MinPrice, f.MaxPrice)
	}
	return nil
}

// SimulateBuy recorre los niveles en el orden recibido (asks, mejor precio primero)
// gastando usd hasta agotar el presupuesto o el book.
//
// En cada nivel la cantidad tomada es min(restante/precio, size). Los niveles con
// precio o size no positivos se ignoran. Devuelve ok=false si el book está vacío,
// si el primer nivel tiene precio no positivo, si usd no es positivo o si no se
// llenó nada. Es pura: mismo input, mismo output.
func SimulateBuy(levels []BookEntry, usd float64) (FillResult, bool) {
	if len(levels) == 0 || !(usd > 0) || math.IsInf(usd, 0) {
		return FillResult{}, false
	}
	if !(levels[0].Price > 0) {
		return FillResult{}, false
	}

	res := FillResult{RequestedUSD: usd}
	remaining := usd
	firstPrice := 0.0

	for _, lvl := range levels {
		if !(lvl.Price > 0) || !(lvl.Size > 0) || math.IsInf(lvl.Price, 0) || math.IsInf(lvl.Size, 0) {
			continue
		}
		qty := math.Min(remaining/lvl.Price, lvl.Size)
		if qty <= 0 {
			break
		}
		cost := qty * lvl.Price
		if cost > remaining {
			cost = remaining
		}

		if res.LevelsUsed == 0 {
			firstPrice = lvl.Price
			res.MinPrice, res.MaxPrice = lvl.Price, lvl.Price
		}
		res.MinPrice = math.Min(res.MinPrice, lvl.Price)
		res.MaxPrice = math.Max(res.MaxPrice, lvl.Price)
		res.Shares += qty
		res.FilledUSD += cost
		res.LevelsUsed++
		remaining -= cost

		if remaining <= priceEpsilon {
			remaining = 0
			break
		}
	}

	if res.Shares <= 0 || res.FilledUSD <= 0 {
		return FillResult{}, false
	}

	res.FullyFilled = remaining == 0
	if res.FullyFilled {
		// el presupuesto se agotó: el nocional llenado es exactamente el pedido
		res.FilledUSD = usd
	}
	res.AvgPrice = math.Min(math.Max(res.FilledUSD/res.Shares, res.MinPrice), res.MaxPrice)
	res.SlippageBps = (res.AvgPrice/firstPrice - 1) * 10_000
	return res, true
}
