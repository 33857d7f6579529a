package search

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// Limits son los caps de seguridad del mutator.
type Limits struct {
	MaxVariants int // máximo de specs generados
	MaxSpace    int // máximo tamaño del producto en modo sampled
}

func (l Limits) withDefaults() Limits {
	if l.MaxVariants <= 0 {
		l.MaxVariants = DefaultMaxVariants
	}
	if l.MaxSpace <= 0 {
		l.MaxSpace = DefaultMaxSpace
	}
	return l
}

// Mutate genera las variantes de base. El resultado es determinista para un
// mismo (base, space, seed); en modo grid seed no se usa.
// Un espacio que supera los caps se rechaza, nunca se trunca.
func Mutate(base domain.ExperimentSpec, space Space, seed uint64, lim Limits) ([]domain.ExperimentSpec, error) {
	return MutateAll([]domain.ExperimentSpec{base}, space, seed, lim)
}

// MutateAll aplica el mismo espacio a varios specs base. Los tags generados
// son únicos en todo el conjunto y el cap cuenta el total.
func MutateAll(bases []domain.ExperimentSpec, space Space, seed uint64, lim Limits) ([]domain.ExperimentSpec, error) {
	lim = lim.withDefaults()
	if len(bases) == 0 {
		return nil, domain.NewConfigError("experiments", "no base experiments provided")
	}
	axes, err := space.expand(lim.MaxSpace)
	if err != nil {
		return nil, err
	}
	indices, err := pick(axes, space, seed, lim, len(bases))
	if err != nil {
		return nil, err
	}

	out := make([]domain.ExperimentSpec, 0, len(bases)*len(indices))
	used := make(map[string]bool)
	for bi, base := range bases {
		raw, err := toMap(base)
		if err != nil {
			return nil, fmt.Errorf("search.Mutate: experiments[%d]: %w", bi, err)
		}
		for _, idx := range indices {
			assignment := decode(axes, idx)
			variant, err := apply(raw, axes, assignment)
			if err != nil {
				return nil, err
			}
			variant.Tag = uniqueTag(base.Tag+"__"+suffix(axes, assignment), used)
			if err := variant.Validate(); err != nil {
				return nil, fmt.Errorf("search.Mutate: variant %s: %w", variant.Tag, err)
			}
			out = append(out, variant)
		}
	}

	slog.Debug("search space expanded",
		"mode", space.Mode,
		"dimensions", len(axes),
		"space_size", spaceSize(axes),
		"variants", len(out),
	)
	return out, nil
}

// pick devuelve los índices del producto a materializar, en orden ascendente.
func pick(axes []axis, space Space, seed uint64, lim Limits, bases int) ([]int, error) {
	size := spaceSize(axes)

	if space.Mode == ModeGrid {
		if size > lim.MaxVariants/bases {
			return nil, domain.NewConfigError("search_space",
				"grid has %s combinations x %d base experiments, above max_variants %d", sizeString(size), bases, lim.MaxVariants)
		}
		idx := make([]int, size)
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	}

	if size > lim.MaxSpace {
		return nil, domain.NewConfigError("search_space", "space has %s combinations, above max_space %d", sizeString(size), lim.MaxSpace)
	}
	if space.Samples <= 0 {
		return nil, domain.NewConfigError("search_space.samples", "must be positive in sampled mode")
	}
	n := min(space.Samples, size)
	if n*bases > lim.MaxVariants {
		return nil, domain.NewConfigError("search_space.samples",
			"%d samples x %d base experiments is above max_variants %d", n, bases, lim.MaxVariants)
	}
	return sampleIndices(size, n, seed), nil
}

// sampleIndices elige n índices distintos de [0, size) con el algoritmo de Floyd.
func sampleIndices(size, n int, seed uint64) []int {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	chosen := make(map[int]bool, n)
	out := make([]int, 0, n)
	for j := size - n; j < size; j++ {
		t := rng.IntN(j + 1)
		if chosen[t] {
			t = j
		}
		chosen[t] = true
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

func toMap(spec domain.ExperimentSpec) (map[string]any, error) {
	b, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// apply copia raw, fija cada ruta y decodifica el resultado como spec.
func apply(raw map[string]any, axes []axis, assignment []any) (domain.ExperimentSpec, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return domain.ExperimentSpec{}, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return domain.ExperimentSpec{}, err
	}
	for i, a := range axes {
		setPath(m, a.path, assignment[i])
	}

	b, err = json.Marshal(m)
	if err != nil {
		return domain.ExperimentSpec{}, err
	}
	var spec domain.ExperimentSpec
	if err := json.Unmarshal(b, &spec); err != nil {
		return domain.ExperimentSpec{}, domain.NewConfigError("search_space", "assignment %s does not fit the experiment: %v", describe(axes, assignment), err)
	}
	return spec, nil
}

func setPath(root map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	node := root
	for _, p := range parts[:len(parts)-1] {
		next, ok := node[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			node[p] = next
		}
		node = next
	}
	node[parts[len(parts)-1]] = v
}

var scanFields = map[string]bool{
	"model": true, "sizer": true, "query": true, "limit": true,
	"min_liquidity": true, "min_volume": true, "max_hours_to_expiry": true,
}

// checkPath acepta solo rutas que existen en un ExperimentSpec. Las claves
// dentro de model_config/sizer_config las valida después el registry.
func checkPath(path string) error {
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return fmt.Errorf("malformed path")
		}
	}
	switch {
	case len(parts) == 1 && (parts[0] == "init_bankroll" || parts[0] == "db"):
		return nil
	case len(parts) == 1 && parts[0] == "tag":
		return fmt.Errorf("tag is derived from the assignment and cannot be searched")
	case len(parts) == 2 && parts[0] == "scan" && scanFields[parts[1]]:
		return nil
	case len(parts) == 3 && parts[0] == "scan" && (parts[1] == "model_config" || parts[1] == "sizer_config"):
		return nil
	}
	return fmt.Errorf("unknown field path")
}

func leafOf(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return path
}

var unsafeTagChars = regexp.MustCompile(`[^A-Za-z0-9._=+-]+`)

// suffix codifica la asignación como pares leaf=valor en orden de ruta.
func suffix(axes []axis, assignment []any) string {
	parts := make([]string, len(axes))
	for i, a := range axes {
		parts[i] = a.leaf + "=" + formatValue(assignment[i])
	}
	return unsafeTagChars.ReplaceAllString(strings.Join(parts, "__"), "-")
}

func describe(axes []axis, assignment []any) string {
	parts := make([]string, len(axes))
	for i, a := range axes {
		parts[i] = a.path + "=" + formatValue(assignment[i])
	}
	return strings.Join(parts, ",")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func uniqueTag(tag string, used map[string]bool) string {
	candidate := tag
	for n := 2; used[candidate]; n++ {
		candidate = tag + "-" + strconv.Itoa(n)
	}
	used[candidate] = true
	return candidate
}

func sizeString(n int) string {
	if n == int(^uint(0)>>1) {
		return "more than " + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
