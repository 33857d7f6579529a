package polymarket

import "encoding/json"

// DTOs raw de la API de Polymarket. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// --- CLOB API ---

// tokenRequest es un item del body de POST /books y POST /midpoints.
type tokenRequest struct {
	TokenID string `json:"token_id"`
}

// orderBookResponse es la respuesta de un item en POST /books.
type orderBookResponse struct {
	AssetID string         `json:"asset_id"`
	Market  string         `json:"market"`
	Bids    []bookEntryRaw `json:"bids"`
	Asks    []bookEntryRaw `json:"asks"`
}

// bookEntryRaw es un nivel de precio raw de la API (strings para mayor precisión).
type bookEntryRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// midpointsResponse es la respuesta de POST /midpoints: token_id → mid como string.
type midpointsResponse map[string]json.RawMessage

// --- Gamma API ---

// gammaMarketsResponse es la respuesta de GET /markets de Gamma.
type gammaMarketsResponse []gammaMarket

// gammaMarket es un mercado de Gamma.
// Gamma devuelve algunos campos numéricos como strings JSON, usamos json.Number.
// clobTokenIds y outcomes vienen como listas JSON codificadas en un string.
type gammaMarket struct {
	ID           string          `json:"id"`
	ConditionID  string          `json:"conditionId"`
	Question     string          `json:"question"`
	Slug         string          `json:"slug"`
	Category     string          `json:"category"`
	Subcategory  string          `json:"subcategory"`
	EndDate      string          `json:"endDate"`
	EndDateISO   string          `json:"endDateIso"`
	LiquidityNum json.Number     `json:"liquidityNum"`
	VolumeNum    json.Number     `json:"volumeNum"`
	Liquidity    json.Number     `json:"liquidity"`
	Volume       json.Number     `json:"volume"`
	ClobTokenIDs json.RawMessage `json:"clobTokenIds"`
	Active       bool            `json:"active"`
	Closed       bool            `json:"closed"`
}
