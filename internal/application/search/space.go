// Package search genera variantes de un ExperimentSpec a partir de un
// search space: producto cartesiano o muestra acotada sin reemplazo.
package search

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// Mode selecciona cómo se recorre el espacio.
type Mode string

const (
	ModeGrid    Mode = "grid"
	ModeSampled Mode = "sampled"
)

// Caps por defecto.
const (
	DefaultMaxVariants = 200
	DefaultMaxSpace    = 1_000_000
)

// Dimension es la lista de candidatos de un campo: valores explícitos o un
// rango numérico con step o con count puntos equiespaciados (extremos incluidos).
type Dimension struct {
	Values []any               `json:"values,omitempty"`
	Min    decimal.NullDecimal `json:"min"`
	Max    decimal.NullDecimal `json:"max"`
	Step   decimal.NullDecimal `json:"step"`
	Count  int                 `json:"count,omitempty"`
}

// UnmarshalJSON acepta también la forma corta: una lista de valores.
func (d *Dimension) UnmarshalJSON(b []byte) error {
	if t := bytes.TrimSpace(b); len(t) > 0 && t[0] == '[' {
		*d = Dimension{}
		return json.Unmarshal(t, &d.Values)
	}
	type plain Dimension
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*d = Dimension(p)
	return nil
}

// Space es un search space completo. Las claves de Dimensions son rutas con
// puntos sobre el JSON del ExperimentSpec (p.ej. "scan.model_config.min_edge").
type Space struct {
	Mode       Mode                 `json:"mode"`
	Samples    int                  `json:"samples,omitempty"`
	Dimensions map[string]Dimension `json:"dimensions"`
}

// ParseSpace decodifica un search space. Un objeto sin "dimensions" se
// interpreta como {ruta: [valores]} en modo grid.
func ParseSpace(b []byte) (Space, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(b, &probe); err != nil {
		return Space{}, domain.NewConfigError("search_space", "must be a JSON object: %v", err)
	}

	var s Space
	if _, structured := probe["dimensions"]; structured {
		if err := json.Unmarshal(b, &s); err != nil {
			return Space{}, domain.NewConfigError("search_space", "%v", err)
		}
	} else {
		s.Dimensions = make(map[string]Dimension, len(probe))
		for path, raw := range probe {
			var d Dimension
			if err := json.Unmarshal(raw, &d); err != nil {
				return Space{}, domain.NewConfigError("search_space."+path, "%v", err)
			}
			s.Dimensions[path] = d
		}
	}
	if s.Mode == "" {
		s.Mode = ModeGrid
	}
	return s, nil
}

// axis es una dimensión ya expandida.
type axis struct {
	path   string
	leaf   string
	values []any
}

// expand valida el espacio y devuelve los ejes ordenados por ruta.
func (s Space) expand(maxSpace int) ([]axis, error) {
	if s.Mode != ModeGrid && s.Mode != ModeSampled {
		return nil, domain.NewConfigError("search_space.mode", "must be grid or sampled, got %q", s.Mode)
	}
	if len(s.Dimensions) == 0 {
		return nil, domain.NewConfigError("search_space.dimensions", "must not be empty")
	}

	paths := make([]string, 0, len(s.Dimensions))
	for p := range s.Dimensions {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	axes := make([]axis, 0, len(paths))
	for _, p := range paths {
		field := "search_space.dimensions." + p
		if err := checkPath(p); err != nil {
			return nil, domain.NewConfigError(field, "%v", err)
		}
		values, err := s.Dimensions[p].values(maxSpace)
		if err != nil {
			return nil, domain.NewConfigError(field, "%v", err)
		}
		axes = append(axes, axis{path: p, leaf: leafOf(p), values: values})
	}
	return axes, nil
}

func (d Dimension) values(maxSpace int) ([]any, error) {
	isRange := d.Min.Valid || d.Max.Valid
	switch {
	case len(d.Values) > 0 && isRange:
		return nil, fmt.Errorf("use either values or min/max, not both")
	case len(d.Values) > 0:
		return d.Values, nil
	case !isRange:
		return nil, fmt.Errorf("needs a non-empty values list or a min/max range")
	case !d.Min.Valid || !d.Max.Valid:
		return nil, fmt.Errorf("range needs both min and max")
	case d.Max.Decimal.LessThan(d.Min.Decimal):
		return nil, fmt.Errorf("max %s is below min %s", d.Max.Decimal, d.Min.Decimal)
	case d.Step.Valid && d.Count > 0:
		return nil, fmt.Errorf("use either step or count, not both")
	}

	lo, hi := d.Min.Decimal, d.Max.Decimal
	if d.Step.Valid {
		if !d.Step.Decimal.IsPositive() {
			return nil, fmt.Errorf("step must be positive")
		}
		n := hi.Sub(lo).Div(d.Step.Decimal).Floor().IntPart() + 1
		if n > int64(maxSpace) {
			return nil, fmt.Errorf("range has %d points, above max_space %d", n, maxSpace)
		}
		out := make([]any, 0, n)
		for v := lo; v.LessThanOrEqual(hi); v = v.Add(d.Step.Decimal) {
			out = append(out, v.InexactFloat64())
		}
		return out, nil
	}

	switch {
	case d.Count <= 0:
		return nil, fmt.Errorf("range needs step or count")
	case d.Count > maxSpace:
		return nil, fmt.Errorf("count %d above max_space %d", d.Count, maxSpace)
	case d.Count == 1:
		return []any{lo.InexactFloat64()}, nil
	}
	width := hi.Sub(lo).Div(decimal.NewFromInt(int64(d.Count - 1)))
	out := make([]any, d.Count)
	for i := range d.Count {
		out[i] = lo.Add(width.Mul(decimal.NewFromInt(int64(i)))).InexactFloat64()
	}
	out[d.Count-1] = hi.InexactFloat64()
	return out, nil
}

// spaceSize devuelve el tamaño del producto cartesiano, saturando en MaxInt.
func spaceSize(axes []axis) int {
	size := 1
	for _, a := range axes {
		n := len(a.values)
		if size > math.MaxInt/n {
			return math.MaxInt
		}
		size *= n
	}
	return size
}

// decode convierte un índice del producto en una asignación (radix mixto, el
// último eje varía más rápido, como un bucle anidado).
func decode(axes []axis, idx int) []any {
	out := make([]any, len(axes))
	for i := len(axes) - 1; i >= 0; i-- {
		n := len(axes[i].values)
		out[i] = axes[i].values[idx%n]
		idx /= n
	}
	return out
}
