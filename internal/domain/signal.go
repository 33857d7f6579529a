package domain

import (
	"fmt"
	"math"
	"sort"
)

// Side es la dirección de una idea de trade.
type Side string

const (
	SideBuyYes Side = "buy_yes"
	SideBuyNo  Side = "buy_no"
)

// Valid devuelve true si el lado es uno de los conocidos.
func (s Side) Valid() bool {
	return s == SideBuyYes || s == SideBuyNo
}

// priceEpsilon tolera el ruido de coma flotante al comparar importes.
const priceEpsilon = 1e-9

// Metadata es un contenedor clave/valor portable: solo admite string, números,
// bool y mapas anidados del mismo tipo, para que sobreviva a JSON y al límite
// de plugins.
type Metadata map[string]any

// Validate comprueba que todos los valores sean primitivos serializables.
func (m Metadata) Validate() error {
	for k, v := range m {
		if err := validateMetaValue(v); err != nil {
			return fmt.Errorf("metadata[%q]: %w", k, err)
		}
	}
	return nil
}

// Keys devuelve las claves ordenadas.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func validateMetaValue(v any) error {
	switch x := v.(type) {
	case nil, string, bool, int, int32, int64, uint, uint32, uint64, float32:
		return nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("non-finite number %v", x)
		}
		return nil
	case Metadata:
		return x.Validate()
	case map[string]any:
		return Metadata(x).Validate()
	default:
		return fmt.Errorf("unsupported type %T", v)
	}
}

// Signal es una idea direccional producida por un modelo a partir de un snapshot.
//
// Los precios se expresan en términos de probabilidad YES: Edge = ModelPrice -
// MarketPrice, positivo para buy_yes y negativo para buy_no.
type Signal struct {
	Model       string   `json:"model"`
	MarketID    string   `json:"market_id"`
	Slug        string   `json:"slug"`
	Side        Side     `json:"side"`
	TokenID     string   `json:"token_id"`
	MarketPrice float64  `json:"market_price"`
	ModelPrice  float64  `json:"model_price"`
	Edge        float64  `json:"edge"`
	Confidence  float64  `json:"confidence"`
	Metadata    Metadata `json:"metadata,omitempty"`
}

// TradeEdge devuelve el edge orientado al token que se compra (>0 si la señal es coherente).
func (s Signal) TradeEdge() float64 {
	if s.Side == SideBuyNo {
		return -s.Edge
	}
	return s.Edge
}

// TradePrice devuelve el precio de mercado del token que se compra.
func (s Signal) TradePrice() float64 {
	if s.Side == SideBuyNo {
		return 1 - s.MarketPrice
	}
	return s.MarketPrice
}

// Validate verifica los invariantes de la señal: lado conocido, precios en
// [0,1], edge = model - market con el signo del lado y confianza en [0,1].
func (s Signal) Validate() error {
	if !s.Side.Valid() {
		return integrityf("signal", "unknown side %q", s.Side)
	}
	if s.TokenID == "" {
		return integrityf("signal", "empty token id")
	}
	if s.MarketPrice < 0 || s.MarketPrice > 1 || s.ModelPrice < 0 || s.ModelPrice > 1 {
		return integrityf("signal", "prices out of [0,1]: market=%.6f model=%.6f", s.MarketPrice, s.ModelPrice)
	}
	if math.Abs(s.Edge-(s.ModelPrice-s.MarketPrice)) > 1e-6 {
		return integrityf("signal", "edge %.6f != model-market %.6f", s.Edge, s.ModelPrice-s.MarketPrice)
	}
	if s.TradeEdge() <= 0 {
		return integrityf("signal", "edge %.6f disagrees with side %s", s.Edge, s.Side)
	}
	if s.Confidence < 0 || s.Confidence > 1 || math.IsNaN(s.Confidence) {
		return integrityf("signal", "confidence %.6f out of [0,1]", s.Confidence)
	}
	if err := s.Metadata.Validate(); err != nil {
		return integrityf("signal", "%v", err)
	}
	return nil
}

// SizedOrder es la orden dimensionada por un sizer para una señal.
type SizedOrder struct {
	Sizer    string   `json:"sizer"`
	Side     Side     `json:"side"`
	TokenID  string   `json:"token_id"`
	USD      float64  `json:"order_usd"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// Validate verifica que el nocional sea positivo y no supere el cash entregado al sizer.
func (o SizedOrder) Validate(cash float64) error {
	if !o.Side.Valid() {
		return integrityf("sized order", "unknown side %q", o.Side)
	}
	if o.USD <= 0 || math.IsNaN(o.USD) || math.IsInf(o.USD, 0) {
		return integrityf("sized order", "non-positive notional %.6f", o.USD)
	}
	if o.USD > cash+priceEpsilon {
		return integrityf("sized order", "notional %.6f exceeds cash %.6f", o.USD, cash)
	}
	if err := o.Metadata.Validate(); err != nil {
		return integrityf("sized order", "%v", err)
	}
	return nil
}
