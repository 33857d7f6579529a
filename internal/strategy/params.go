package strategy

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// ParamType es el tipo declarado de un parámetro.
type ParamType string

const (
	ParamFloat  ParamType = "float"
	ParamInt    ParamType = "int"
	ParamString ParamType = "string"
	ParamBool   ParamType = "bool"
)

// ParamSpec declara un parámetro aceptado por un plugin.
type ParamSpec struct {
	Name    string    `json:"name"`
	Type    ParamType `json:"type"`
	Default any       `json:"default,omitempty"`
	Doc     string    `json:"doc"`
}

// Params es la config de un plugin validada contra sus ParamSpec.
// Los valores ausentes devuelven el default declarado.
type Params struct {
	field  string
	values map[string]any
	specs  map[string]ParamSpec
}

// NewParams valida raw: rechaza claves no declaradas y valores de tipo
// incorrecto. field es el prefijo usado en los errores (ej. "scan.model_config").
func NewParams(field string, raw map[string]any, specs []ParamSpec) (Params, error) {
	p := Params{field: field, values: make(map[string]any, len(raw)), specs: make(map[string]ParamSpec, len(specs))}
	for _, s := range specs {
		p.specs[s.Name] = s
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		spec, ok := p.specs[k]
		if !ok {
			return Params{}, domain.NewConfigError(field+"."+k, "unknown parameter")
		}
		v, err := coerce(raw[k], spec.Type)
		if err != nil {
			return Params{}, domain.NewConfigError(field+"."+k, "%v", err)
		}
		p.values[k] = v
	}
	return p, nil
}

// Has devuelve true si el parámetro vino explícito en la config.
func (p Params) Has(name string) bool {
	_, ok := p.values[name]
	return ok
}

// Float devuelve el parámetro name como float64.
func (p Params) Float(name string) float64 {
	v, _ := p.get(name).(float64)
	return v
}

// Int devuelve el parámetro name como int.
func (p Params) Int(name string) int {
	v, _ := p.get(name).(int)
	return v
}

// String devuelve el parámetro name como string.
func (p Params) String(name string) string {
	v, _ := p.get(name).(string)
	return v
}

// Bool devuelve el parámetro name como bool.
func (p Params) Bool(name string) bool {
	v, _ := p.get(name).(bool)
	return v
}

// Invalid construye el error de un parámetro con valor fuera de rango.
func (p Params) Invalid(name, format string, args ...any) error {
	return domain.NewConfigError(p.field+"."+name, format, args...)
}

func (p Params) get(name string) any {
	if v, ok := p.values[name]; ok {
		return v
	}
	spec, ok := p.specs[name]
	if !ok || spec.Default == nil {
		return nil
	}
	v, _ := coerce(spec.Default, spec.Type)
	return v
}

func coerce(v any, t ParamType) (any, error) {
	switch t {
	case ParamFloat:
		f, ok := toFloat(v)
		if !ok {
			return nil, typeError(v, t)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, &paramError{msg: "must be a finite number"}
		}
		return f, nil
	case ParamInt:
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) {
			return nil, typeError(v, t)
		}
		return int(f), nil
	case ParamString:
		s, ok := v.(string)
		if !ok {
			return nil, typeError(v, t)
		}
		return s, nil
	case ParamBool:
		b, ok := v.(bool)
		if !ok {
			return nil, typeError(v, t)
		}
		return b, nil
	}
	return nil, &paramError{msg: "undeclared parameter type " + string(t)}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

type paramError struct{ msg string }

func (e *paramError) Error() string { return e.msg }

func typeError(v any, t ParamType) error {
	return &paramError{msg: "expected " + string(t) + ", got " + typeName(v)}
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case float64, float32, int, int32, int64, json.Number:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	return "unsupported value"
}
