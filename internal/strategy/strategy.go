package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// SignalModel define el contrato de un modelo: a partir de un snapshot
// devuelve una señal o nada. Debe ser determinista y no modificar el snapshot.
type SignalModel interface {
	// Name devuelve el identificador con el que se registró.
	Name() string

	// Evaluate devuelve ok=false si no hay trade. Un snapshot mal formado
	// nunca produce error, solo ausencia de señal.
	Evaluate(snap domain.MarketSnapshot) (domain.Signal, bool)
}

// Sizer dimensiona una señal con el cash disponible. Es una función pura de
// (señal, cash, config): no guarda historia entre llamadas.
type Sizer interface {
	Name() string

	// Size devuelve ok=false si no hay orden. El nocional nunca supera cash.
	Size(sig domain.Signal, cash float64) (domain.SizedOrder, bool)
}

// ModelFactory construye un modelo a partir de sus parámetros ya validados.
type ModelFactory func(p Params) (SignalModel, error)

// SizerFactory construye un sizer a partir de sus parámetros ya validados.
type SizerFactory func(p Params) (Sizer, error)

// Kind distingue modelos de sizers en el catálogo.
type Kind string

const (
	KindModel Kind = "model"
	KindSizer Kind = "sizer"
)

// Descriptor documenta un plugin registrado.
type Descriptor struct {
	Name   string      `json:"name"`
	Kind   Kind        `json:"kind"`
	Doc    string      `json:"doc"`
	Params []ParamSpec `json:"params"`
	// Inputs son parámetros que se resuelven desde un feed externo antes de
	// instanciar el modelo si la config no los trae.
	Inputs []string `json:"inputs,omitempty"`
}

type modelEntry struct {
	desc    Descriptor
	factory ModelFactory
}

type sizerEntry struct {
	desc    Descriptor
	factory SizerFactory
}

// Registry mantiene los modelos y sizers disponibles indexados por nombre.
// Es seguro para uso concurrente.
type Registry struct {
	mu     sync.RWMutex
	models map[string]modelEntry
	sizers map[string]sizerEntry
}

// NewRegistry crea un registry vacío.
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]modelEntry),
		sizers: make(map[string]sizerEntry),
	}
}

// RegisterModel añade un modelo. Falla si el nombre ya existe.
func (r *Registry) RegisterModel(desc Descriptor, f ModelFactory) error {
	if desc.Name == "" || f == nil {
		return fmt.Errorf("strategy.RegisterModel: name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.models[desc.Name]; dup {
		return fmt.Errorf("strategy.RegisterModel: %q already registered", desc.Name)
	}
	desc.Kind = KindModel
	r.models[desc.Name] = modelEntry{desc: desc, factory: f}
	return nil
}

// RegisterSizer añade un sizer. Falla si el nombre ya existe.
func (r *Registry) RegisterSizer(desc Descriptor, f SizerFactory) error {
	if desc.Name == "" || f == nil {
		return fmt.Errorf("strategy.RegisterSizer: name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.sizers[desc.Name]; dup {
		return fmt.Errorf("strategy.RegisterSizer: %q already registered", desc.Name)
	}
	desc.Kind = KindSizer
	r.sizers[desc.Name] = sizerEntry{desc: desc, factory: f}
	return nil
}

// MustRegisterModel es RegisterModel para bloques init.
func (r *Registry) MustRegisterModel(desc Descriptor, f ModelFactory) {
	if err := r.RegisterModel(desc, f); err != nil {
		panic(err)
	}
}

// MustRegisterSizer es RegisterSizer para bloques init.
func (r *Registry) MustRegisterSizer(desc Descriptor, f SizerFactory) {
	if err := r.RegisterSizer(desc, f); err != nil {
		panic(err)
	}
}

// NewModel resuelve e instancia un modelo. Un nombre desconocido o un
// parámetro inválido devuelve un *domain.ConfigError con el campo culpable.
func (r *Registry) NewModel(name string, cfg map[string]any) (SignalModel, error) {
	r.mu.RLock()
	e, ok := r.models[name]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NewConfigError("scan.model", "unknown model %q (available: %v)", name, r.Models())
	}
	p, err := NewParams("scan.model_config", cfg, e.desc.Params)
	if err != nil {
		return nil, err
	}
	m, err := e.factory(p)
	if err != nil {
		return nil, fmt.Errorf("strategy.NewModel: %s: %w", name, err)
	}
	return m, nil
}

// NewSizer resuelve e instancia un sizer.
func (r *Registry) NewSizer(name string, cfg map[string]any) (Sizer, error) {
	r.mu.RLock()
	e, ok := r.sizers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NewConfigError("scan.sizer", "unknown sizer %q (available: %v)", name, r.Sizers())
	}
	p, err := NewParams("scan.sizer_config", cfg, e.desc.Params)
	if err != nil {
		return nil, err
	}
	s, err := e.factory(p)
	if err != nil {
		return nil, fmt.Errorf("strategy.NewSizer: %s: %w", name, err)
	}
	return s, nil
}

// Inputs devuelve los parámetros externos que declara un modelo.
func (r *Registry) Inputs(model string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.models[model].desc.Inputs...)
}

// Models devuelve los nombres de modelos ordenados.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.models))
	for k := range r.models {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Sizers devuelve los nombres de sizers ordenados.
func (r *Registry) Sizers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sizers))
	for k := range r.sizers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Catalog devuelve los descriptores de todo lo registrado: modelos primero,
// luego sizers, cada grupo por nombre.
func (r *Registry) Catalog() []Descriptor {
	out := make([]Descriptor, 0)
	for _, name := range r.Models() {
		r.mu.RLock()
		out = append(out, r.models[name].desc)
		r.mu.RUnlock()
	}
	for _, name := range r.Sizers() {
		r.mu.RLock()
		out = append(out, r.sizers[name].desc)
		r.mu.RUnlock()
	}
	return out
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default devuelve el registry del proceso con los built-ins ya registrados.
// Los plugins compilados se registran aquí desde sus init.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = NewRegistry()
		RegisterBuiltins(defaultReg)
	})
	return defaultReg
}

// RegisterBuiltins registra los modelos y sizers incluidos.
func RegisterBuiltins(r *Registry) {
	r.MustRegisterModel(GBMDescriptor, NewGBMModel)
	r.MustRegisterModel(AlwaysPassDescriptor, NewAlwaysPass)
	r.MustRegisterSizer(KellyDescriptor, NewKellySizer)
	r.MustRegisterSizer(FixedDescriptor, NewFixedSizer)
	r.MustRegisterSizer(EqualWeightDescriptor, NewEqualWeightSizer)
}
