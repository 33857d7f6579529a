// Package plugins registra en el registry del proceso los modelos y sizers
// que no forman parte de los built-ins. Basta con importarlo por efecto:
//
//	import _ "github.com/alejandrodnm/polytrader/internal/plugins"
package plugins

import (
	"math"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/strategy"
)

func init() {
	Register(strategy.Default())
}

// Register añade mid_gap y adaptive_risk a r.
func Register(r *strategy.Registry) {
	r.MustRegisterModel(MidGapDescriptor, NewMidGap)
	r.MustRegisterSizer(AdaptiveRiskDescriptor, NewAdaptiveRisk)
}

// MidGapDescriptor documenta mid_gap.
var MidGapDescriptor = strategy.Descriptor{
	Name: "mid_gap",
	Doc:  "buys the cheaper side when yes_mid + no_mid sits below 1 by at least the threshold",
	Params: []strategy.ParamSpec{
		{Name: "edge_threshold", Type: strategy.ParamFloat, Default: 0.01, Doc: "minimum 1 - (yes_mid + no_mid)"},
	},
}

// MidGap asume que el hueco entre la suma de midpoints y 1 pertenece al lado barato.
type MidGap struct {
	threshold float64
}

// NewMidGap valida edge_threshold.
func NewMidGap(p strategy.Params) (strategy.SignalModel, error) {
	th := p.Float("edge_threshold")
	if th < 0 || th >= 1 {
		return nil, p.Invalid("edge_threshold", "must be in [0, 1), got %v", th)
	}
	return &MidGap{threshold: th}, nil
}

func (m *MidGap) Name() string { return MidGapDescriptor.Name }

func (m *MidGap) Evaluate(snap domain.MarketSnapshot) (domain.Signal, bool) {
	if !snap.Wellformed() {
		return domain.Signal{}, false
	}
	gap := 1 - (snap.YesMid + snap.NoMid)
	if gap <= 0 || gap < m.threshold {
		return domain.Signal{}, false
	}

	side := domain.SideBuyYes
	model := math.Min(snap.YesMid+gap, 1)
	if snap.YesMid > snap.NoMid {
		side = domain.SideBuyNo
		model = math.Max(snap.YesMid-gap, 0)
	}
	edge := model - snap.YesMid
	if edge == 0 {
		return domain.Signal{}, false
	}
	return domain.Signal{
		Model:       m.Name(),
		MarketID:    snap.MarketID,
		Slug:        snap.Slug,
		Side:        side,
		TokenID:     snap.TokenFor(side),
		MarketPrice: snap.YesMid,
		ModelPrice:  model,
		Edge:        edge,
		Confidence:  math.Min(math.Abs(edge)/0.1, 1),
		Metadata:    domain.Metadata{"total_mid": snap.YesMid + snap.NoMid},
	}, true
}

// AdaptiveRiskDescriptor documenta adaptive_risk.
var AdaptiveRiskDescriptor = strategy.Descriptor{
	Name: "adaptive_risk",
	Doc:  "risks a fixed fraction of current cash per order, capped in dollars",
	Params: []strategy.ParamSpec{
		{Name: "risk_fraction", Type: strategy.ParamFloat, Default: 0.02, Doc: "fraction of cash per order"},
		{Name: "max_usd", Type: strategy.ParamFloat, Default: 200.0, Doc: "cap on the order notional"},
	},
}

// AdaptiveRisk dimensiona como cash * risk_fraction, acotado por max_usd.
type AdaptiveRisk struct {
	riskFraction float64
	maxUSD       float64
}

// NewAdaptiveRisk valida los parámetros.
func NewAdaptiveRisk(p strategy.Params) (strategy.Sizer, error) {
	s := &AdaptiveRisk{riskFraction: p.Float("risk_fraction"), maxUSD: p.Float("max_usd")}
	if s.riskFraction <= 0 || s.riskFraction > 1 {
		return nil, p.Invalid("risk_fraction", "must be in (0, 1], got %v", s.riskFraction)
	}
	if s.maxUSD <= 0 {
		return nil, p.Invalid("max_usd", "must be positive, got %v", s.maxUSD)
	}
	return s, nil
}

func (s *AdaptiveRisk) Name() string { return AdaptiveRiskDescriptor.Name }

func (s *AdaptiveRisk) Size(sig domain.Signal, cash float64) (domain.SizedOrder, bool) {
	if !(cash > 0) {
		return domain.SizedOrder{}, false
	}
	usd := math.Min(cash*s.riskFraction, s.maxUSD)
	usd = math.Floor(math.Min(usd, cash)*100) / 100
	if usd <= 0 {
		return domain.SizedOrder{}, false
	}
	return domain.SizedOrder{
		Sizer:    s.Name(),
		Side:     sig.Side,
		TokenID:  sig.TokenID,
		USD:      usd,
		Metadata: domain.Metadata{"risk_fraction": s.riskFraction},
	}, true
}
