package strategy

import "github.com/alejandrodnm/polytrader/internal/domain"

// AlwaysPassDescriptor documenta always_pass.
var AlwaysPassDescriptor = Descriptor{
	Name: "always_pass",
	Doc:  "never signals; exercises the pipeline without trading",
}

// AlwaysPass es el modelo nulo.
type AlwaysPass struct{}

// NewAlwaysPass no acepta parámetros.
func NewAlwaysPass(Params) (SignalModel, error) { return AlwaysPass{}, nil }

func (AlwaysPass) Name() string { return AlwaysPassDescriptor.Name }

func (AlwaysPass) Evaluate(domain.MarketSnapshot) (domain.Signal, bool) {
	return domain.Signal{}, false
}
