package search

import (
	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/strategy"
)

// Variable es una ruta que un search space puede mutar.
type Variable struct {
	Path    string `json:"path"`
	Type    string `json:"type"`
	Default any    `json:"default,omitempty"`
	Plugin  string `json:"plugin,omitempty"` // solo para model_config/sizer_config
	Doc     string `json:"doc,omitempty"`
}

// Variables devuelve el catálogo de rutas mutables: los campos fijos del
// spec y los parámetros declarados por cada plugin de reg.
func Variables(reg *strategy.Registry) []Variable {
	def := domain.DefaultScanSpec()
	vars := []Variable{
		{Path: "init_bankroll", Type: "float", Default: domain.DefaultBankroll, Doc: "starting paper bankroll"},
		{Path: "db", Type: "string", Doc: "dedicated persistence target"},
		{Path: "scan.model", Type: "string", Default: def.Model, Doc: "signal model name"},
		{Path: "scan.sizer", Type: "string", Default: def.Sizer, Doc: "sizer name"},
		{Path: "scan.query", Type: "string", Default: def.Query, Doc: "market search query"},
		{Path: "scan.limit", Type: "int", Default: def.Limit, Doc: "markets fetched per scan"},
		{Path: "scan.min_liquidity", Type: "float", Default: def.MinLiquidity},
		{Path: "scan.min_volume", Type: "float", Default: def.MinVolume},
		{Path: "scan.max_hours_to_expiry", Type: "float", Doc: "0 = no limit"},
	}
	for _, d := range reg.Catalog() {
		prefix := "scan.model_config."
		if d.Kind == strategy.KindSizer {
			prefix = "scan.sizer_config."
		}
		for _, p := range d.Params {
			vars = append(vars, Variable{
				Path:    prefix + p.Name,
				Type:    string(p.Type),
				Default: p.Default,
				Plugin:  d.Name,
				Doc:     p.Doc,
			})
		}
	}
	return vars
}
