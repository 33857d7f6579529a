package strategy

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

const minExpirySeconds = 60.0

// GBMDescriptor documenta kelly_gbm.
var GBMDescriptor = Descriptor{
	Name: "kelly_gbm",
	Doc:  "probability of a price target under geometric Brownian motion, compared with the YES midpoint",
	Params: []ParamSpec{
		{Name: "min_edge", Type: ParamFloat, Default: 0.002, Doc: "minimum |model - market| to emit a signal"},
		{Name: "spot", Type: ParamFloat, Doc: "underlying spot price; resolved from the spot feed when absent"},
		{Name: "sigma", Type: ParamFloat, Default: 0.5, Doc: "annualized volatility; resolved from the spot feed when absent"},
		{Name: "liquidity_scale", Type: ParamFloat, Default: 50_000.0, Doc: "liquidity (USDC) at which confidence is halved"},
	},
	Inputs: []string{"spot", "sigma"},
}

// GBMModel estima la probabilidad de que el subyacente termine por encima
// (o por debajo) del strike de la pregunta al vencimiento.
type GBMModel struct {
	minEdge        float64
	spot           float64
	sigma          float64
	liquidityScale float64
}

// NewGBMModel construye el modelo. spot es obligatorio.
func NewGBMModel(p Params) (SignalModel, error) {
	m := &GBMModel{
		minEdge:        p.Float("min_edge"),
		spot:           p.Float("spot"),
		sigma:          p.Float("sigma"),
		liquidityScale: p.Float("liquidity_scale"),
	}
	if m.minEdge < 0 || m.minEdge >= 1 {
		return nil, p.Invalid("min_edge", "must be in [0, 1), got %v", m.minEdge)
	}
	if !(m.spot > 0) {
		return nil, p.Invalid("spot", "must be positive (set it or configure a spot feed)")
	}
	if !(m.sigma > 0) {
		return nil, p.Invalid("sigma", "must be positive, got %v", m.sigma)
	}
	if m.liquidityScale < 0 {
		return nil, p.Invalid("liquidity_scale", "must not be negative")
	}
	return m, nil
}

func (m *GBMModel) Name() string { return GBMDescriptor.Name }

// Evaluate calcula p_yes con z = (ln(S/K) - σ²t/2) / (σ√t) y lo compara con el
// midpoint YES. Todos los precios de la señal van en términos YES.
func (m *GBMModel) Evaluate(snap domain.MarketSnapshot) (domain.Signal, bool) {
	if !snap.Wellformed() {
		return domain.Signal{}, false
	}
	strike, below, ok := ParseTarget(snap.Question)
	if !ok {
		return domain.Signal{}, false
	}
	t, ok := snap.YearsToExpiry(minExpirySeconds)
	if !ok {
		return domain.Signal{}, false
	}

	z := (math.Log(m.spot/strike) - 0.5*m.sigma*m.sigma*t) / (m.sigma * math.Sqrt(t))
	pYes := normCDF(z)
	if below {
		pYes = 1 - pYes
	}
	pYes = math.Min(math.Max(pYes, 0), 1)

	edge := pYes - snap.YesMid
	if math.Abs(edge) < m.minEdge || edge == 0 {
		return domain.Signal{}, false
	}
	side := domain.SideBuyYes
	if edge < 0 {
		side = domain.SideBuyNo
	}

	kind := "above"
	if below {
		kind = "below"
	}
	return domain.Signal{
		Model:       m.Name(),
		MarketID:    snap.MarketID,
		Slug:        snap.Slug,
		Side:        side,
		TokenID:     snap.TokenFor(side),
		MarketPrice: snap.YesMid,
		ModelPrice:  pYes,
		Edge:        edge,
		Confidence:  m.confidence(pYes, snap.Liquidity),
		Metadata: domain.Metadata{
			"spot":         m.spot,
			"sigma_annual": m.sigma,
			"strike":       strike,
			"kind":         kind,
			"t_years":      t,
			"z":            z,
		},
	}, true
}

// confidence crece con la distancia de p a 0.5 y con la liquidez.
func (m *GBMModel) confidence(p, liquidity float64) float64 {
	dist := math.Abs(p-0.5) * 2
	liqFactor := 1.0
	if m.liquidityScale > 0 {
		liq := math.Max(liquidity, 0)
		liqFactor = liq / (liq + m.liquidityScale)
	}
	return math.Min(math.Max(dist*liqFactor, 0), 1)
}

var targetRe = regexp.MustCompile(`\$([0-9][0-9,]*(?:\.[0-9]+)?)([mk]?)`)

var belowMarkers = []string{"below", "under", "dip", "drop", "fall"}

// ParseTarget extrae el strike ("$120k", "$1.5m", "$95,000") y la dirección
// de la pregunta. Las preguntas "before" (path-dependent) no se modelan.
func ParseTarget(question string) (strike float64, below bool, ok bool) {
	q := strings.ToLower(question)
	if strings.Contains(q, " before ") {
		return 0, false, false
	}
	m := targetRe.FindStringSubmatch(q)
	if m == nil {
		return 0, false, false
	}
	num, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil || num <= 0 {
		return 0, false, false
	}
	switch m[2] {
	case "m":
		num *= 1_000_000
	case "k":
		num *= 1_000
	}
	for _, marker := range belowMarkers {
		if strings.Contains(q, marker) {
			below = true
			break
		}
	}
	return num, below, true
}

func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}
