package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// KellyDescriptor documenta kelly.
var KellyDescriptor = Descriptor{
	Name: "kelly",
	Doc:  "fractional Kelly: multiplier * edge / (q(1-q)) of cash, capped",
	Params: []ParamSpec{
		{Name: "fraction", Type: ParamFloat, Default: 0.25, Doc: "Kelly multiplier (0.5 = half Kelly)"},
		{Name: "max_fraction", Type: ParamFloat, Default: 1.0, Doc: "cap on the scaled fraction of cash"},
		{Name: "max_usd", Type: ParamFloat, Default: 250.0, Doc: "cap on the order notional (0 = no cap)"},
	},
}

// FixedDescriptor documenta fixed.
var FixedDescriptor = Descriptor{
	Name: "fixed",
	Doc:  "constant notional whenever cash covers it",
	Params: []ParamSpec{
		{Name: "usd", Type: ParamFloat, Default: 25.0, Doc: "order notional"},
	},
}

// EqualWeightDescriptor documenta equal_weight.
var EqualWeightDescriptor = Descriptor{
	Name: "equal_weight",
	Doc:  "splits a pool into equal slots, ignoring signal strength",
	Params: []ParamSpec{
		{Name: "pool", Type: ParamFloat, Default: 0.0, Doc: "notional pool (0 = current cash)"},
		{Name: "slots", Type: ParamInt, Default: 10, Doc: "concurrent slots"},
	},
}

// KellySizer aplica Kelly fraccional. Orden de caps: fracción, dólares, cash.
type KellySizer struct {
	fraction    float64
	maxFraction float64
	maxUSD      float64
}

// NewKellySizer valida los parámetros de kelly.
func NewKellySizer(p Params) (Sizer, error) {
	s := &KellySizer{
		fraction:    p.Float("fraction"),
		maxFraction: p.Float("max_fraction"),
		maxUSD:      p.Float("max_usd"),
	}
	if s.fraction < 0 {
		return nil, p.Invalid("fraction", "must not be negative, got %v", s.fraction)
	}
	if s.maxFraction < 0 || s.maxFraction > 1 {
		return nil, p.Invalid("max_fraction", "must be in [0, 1], got %v", s.maxFraction)
	}
	if s.maxUSD < 0 {
		return nil, p.Invalid("max_usd", "must not be negative, got %v", s.maxUSD)
	}
	return s, nil
}

func (s *KellySizer) Name() string { return KellyDescriptor.Name }

// Size usa el edge y el precio del token comprado (para buy_no, 1 - yes).
func (s *KellySizer) Size(sig domain.Signal, cash float64) (domain.SizedOrder, bool) {
	edge := sig.TradeEdge()
	if !(edge > 0) || !(cash > 0) {
		return domain.SizedOrder{}, false
	}
	q := math.Min(math.Max(sig.TradePrice(), 1e-6), 1-1e-6)

	full := edge / (q * (1 - q))
	f := math.Min(math.Max(s.fraction*full, 0), s.maxFraction)
	cappedBy := "none"
	if s.fraction*full > s.maxFraction {
		cappedBy = "max_fraction"
	}

	usd := f * cash
	if s.maxUSD > 0 && usd > s.maxUSD {
		usd = s.maxUSD
		cappedBy = "max_usd"
	}
	if usd > cash {
		usd = cash
		cappedBy = "cash"
	}
	usd = centsAtMost(usd, cash)
	if usd <= 0 {
		return domain.SizedOrder{}, false
	}
	return domain.SizedOrder{
		Sizer:   s.Name(),
		Side:    sig.Side,
		TokenID: sig.TokenID,
		USD:     usd,
		Metadata: domain.Metadata{
			"full_kelly": full,
			"fraction":   f,
			"multiplier": s.fraction,
			"capped_by":  cappedBy,
		},
	}, true
}

// FixedSizer devuelve siempre el mismo nocional.
type FixedSizer struct {
	usd float64
}

// NewFixedSizer valida los parámetros de fixed.
func NewFixedSizer(p Params) (Sizer, error) {
	usd := p.Float("usd")
	if !(usd > 0) {
		return nil, p.Invalid("usd", "must be positive, got %v", usd)
	}
	return &FixedSizer{usd: usd}, nil
}

func (s *FixedSizer) Name() string { return FixedDescriptor.Name }

func (s *FixedSizer) Size(sig domain.Signal, cash float64) (domain.SizedOrder, bool) {
	if cash < s.usd {
		return domain.SizedOrder{}, false
	}
	return domain.SizedOrder{
		Sizer:    s.Name(),
		Side:     sig.Side,
		TokenID:  sig.TokenID,
		USD:      s.usd,
		Metadata: domain.Metadata{"fixed_usd": s.usd},
	}, true
}

// EqualWeightSizer reparte un pool en slots iguales.
type EqualWeightSizer struct {
	pool  float64
	slots int
}

// NewEqualWeightSizer valida los parámetros de equal_weight.
func NewEqualWeightSizer(p Params) (Sizer, error) {
	s := &EqualWeightSizer{pool: p.Float("pool"), slots: p.Int("slots")}
	if s.pool < 0 {
		return nil, p.Invalid("pool", "must not be negative, got %v", s.pool)
	}
	if s.slots < 1 {
		return nil, p.Invalid("slots", "must be at least 1, got %d", s.slots)
	}
	return s, nil
}

func (s *EqualWeightSizer) Name() string { return EqualWeightDescriptor.Name }

func (s *EqualWeightSizer) Size(sig domain.Signal, cash float64) (domain.SizedOrder, bool) {
	pool := s.pool
	if pool == 0 {
		pool = math.Max(cash, 0)
	}
	usd := centsAtMost(pool/float64(s.slots), pool)
	if usd <= 0 || usd > cash {
		return domain.SizedOrder{}, false
	}
	return domain.SizedOrder{
		Sizer:    s.Name(),
		Side:     sig.Side,
		TokenID:  sig.TokenID,
		USD:      usd,
		Metadata: domain.Metadata{"slots": s.slots, "pool": pool},
	}, true
}

// centsAtMost redondea a céntimos sin superar limit.
func centsAtMost(usd, limit float64) float64 {
	d := decimal.NewFromFloat(usd).Round(2)
	if d.GreaterThan(decimal.NewFromFloat(limit)) {
		d = decimal.NewFromFloat(usd).Truncate(2)
	}
	return d.InexactFloat64()
}
