package domain

import "time"

// MarketSnapshot es la vista inmutable de un mercado binario en el momento del fetch.
// La produce el proveedor de market data; modelos y simulador solo la leen.
type MarketSnapshot struct {
	MarketID  string
	Slug      string
	Question  string
	Category  string
	EndDate   time.Time // fecha de resolución (zero = desconocida)
	FetchedAt time.Time // instante del snapshot, referencia para time-to-expiry

	YesTokenID string
	NoTokenID  string
	YesMid     float64 // midpoint CLOB del token YES (0 = no disponible)
	NoMid      float64 // midpoint CLOB del token NO (0 = no disponible)

	Liquidity float64 // USDC
	Volume    float64 // USDC

	// Books opcionales. Si vienen vacíos el pipeline los pide al BookProvider.
	YesBook *OrderBook
	NoBook  *OrderBook
}

// HoursToExpiry devuelve las horas entre FetchedAt y EndDate.
// Devuelve 0 si alguna de las dos fechas falta o si el mercado ya expiró.
func (m MarketSnapshot) HoursToExpiry() float64 {
	if m.EndDate.IsZero() || m.FetchedAt.IsZero() {
		return 0
	}
	h := m.EndDate.Sub(m.FetchedAt).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// YearsToExpiry devuelve el tiempo hasta expiración en años, con un mínimo
// de minSeconds para evitar divisiones por cero en modelos continuos.
// ok=false si EndDate o FetchedAt no están definidos.
func (m MarketSnapshot) YearsToExpiry(minSeconds float64) (years float64, ok bool) {
	if m.EndDate.IsZero() || m.FetchedAt.IsZero() {
		return 0, false
	}
	secs := m.EndDate.Sub(m.FetchedAt).Seconds()
	if secs < minSeconds {
		secs = minSeconds
	}
	return secs / (365.0 * 24.0 * 3600.0), true
}

// TokenFor devuelve el token que se compra para un lado dado.
func (m MarketSnapshot) TokenFor(side Side) string {
	if side == SideBuyNo {
		return m.NoTokenID
	}
	return m.YesTokenID
}

// Wellformed devuelve true si el snapshot tiene lo mínimo para evaluarse:
// ambos tokens y midpoints dentro de (0, 1).
func (m MarketSnapshot) Wellformed() bool {
	if m.YesTokenID == "" || m.NoTokenID == "" {
		return false
	}
	return validProb(m.YesMid) && validProb(m.NoMid)
}

// MarketQuery describe qué mercados pedir al proveedor.
type MarketQuery struct {
	Query string
	Limit int
}

// TruncateQuestion devuelve la pregunta truncada a maxLen caracteres.
// Si la pregunta está vacía usa el slug o el market id como fallback.
func TruncateQuestion(question, fallback string, maxLen int) string {
	q := question
	if q == "" {
		q = fallback
	}
	if maxLen > 3 && len(q) > maxLen {
		q = q[:maxLen-3] + "..."
	}
	return q
}

func validProb(p float64) bool {
	return p > 0 && p < 1
}
