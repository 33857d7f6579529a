package scan

import (
	"github.com/alejandrodnm/polytrader/internal/domain"
)

// FilterConfig contiene los umbrales de mercado de un experimento.
type FilterConfig struct {
	// MinLiquidity descarta mercados con menos liquidez (USDC).
	MinLiquidity float64
	// MinVolume descarta mercados con menos volumen (USDC).
	MinVolume float64
	// MaxHoursToExpiry descarta mercados que resuelven más tarde. 0 = sin límite.
	MaxHoursToExpiry float64
}

// FilterFromSpec extrae los filtros del ScanSpec.
func FilterFromSpec(s domain.ScanSpec) FilterConfig {
	return FilterConfig{
		MinLiquidity:     s.MinLiquidity,
		MinVolume:        s.MinVolume,
		MaxHoursToExpiry: s.MaxHoursToExpiry,
	}
}

// Filter aplica los filtros configurados sobre una lista de snapshots.
type Filter struct {
	cfg FilterConfig
}

// NewFilter crea un Filter con la configuración dada.
func NewFilter(cfg FilterConfig) *Filter {
	return &Filter{cfg: cfg}
}

// Apply devuelve los snapshots que pasan todos los filtros y cuántos se descartaron.
func (f *Filter) Apply(snaps []domain.MarketSnapshot) ([]domain.MarketSnapshot, int) {
	result := make([]domain.MarketSnapshot, 0, len(snaps))
	for _, s := range snaps {
		if f.passes(s) {
			result = append(result, s)
		}
	}
	return result, len(snaps) - len(result)
}

func (f *Filter) passes(s domain.MarketSnapshot) bool {
	if s.Liquidity < f.cfg.MinLiquidity {
		return false
	}
	if s.Volume < f.cfg.MinVolume {
		return false
	}
	if f.cfg.MaxHoursToExpiry > 0 {
		// sin fecha de expiración no se puede comprobar: se descarta
		hours := s.HoursToExpiry()
		if s.EndDate.IsZero() || hours > f.cfg.MaxHoursToExpiry {
			return false
		}
	}
	return true
}
