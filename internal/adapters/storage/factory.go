package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

// Extension de los ficheros de experimento.
const Extension = ".sqlite3"

// Factory abre un SQLiteStore por experimento bajo Dir (o en spec.DB si viene).
// Rechaza abrir dos veces el mismo fichero a la vez: cada experimento escribe
// en exclusiva en su store.
type Factory struct {
	Dir string

	mu   sync.Mutex
	open map[string]bool
}

// NewFactory crea la factory sobre dir.
func NewFactory(dir string) *Factory {
	return &Factory{Dir: dir, open: make(map[string]bool)}
}

// PathFor devuelve la ruta del store de un experimento.
func (f *Factory) PathFor(spec domain.ExperimentSpec) string {
	if spec.DB != "" {
		return spec.DB
	}
	return filepath.Join(f.Dir, spec.Tag+Extension)
}

// Open implementa ports.StoreFactory.
func (f *Factory) Open(_ context.Context, spec domain.ExperimentSpec) (ports.ExperimentStore, error) {
	path := f.PathFor(spec)
	return f.OpenPath(path)
}

// OpenPath abre el store en path, creando el directorio si hace falta.
func (f *Factory) OpenPath(path string) (*SQLiteStore, error) {
	key := path
	if abs, err := filepath.Abs(path); err == nil && path != ":memory:" {
		key = abs
	}

	f.mu.Lock()
	if f.open == nil {
		f.open = make(map[string]bool)
	}
	if f.open[key] && path != ":memory:" {
		f.mu.Unlock()
		return nil, fmt.Errorf("storage.Factory.Open: %q is already open by another experiment", path)
	}
	f.open[key] = true
	f.mu.Unlock()

	release := func() {
		f.mu.Lock()
		delete(f.open, key)
		f.mu.Unlock()
	}

	if dir := filepath.Dir(path); path != ":memory:" && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			release()
			return nil, fmt.Errorf("storage.Factory.Open: mkdir %q: %w", dir, err)
		}
	}

	s, err := NewSQLiteStore(path)
	if err != nil {
		release()
		return nil, err
	}
	s.release = release
	return s, nil
}

// List devuelve las rutas de los stores bajo Dir ordenadas por nombre.
func (f *Factory) List() ([]string, error) {
	entries, err := os.ReadDir(f.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage.Factory.List: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Extension) {
			continue
		}
		out = append(out, filepath.Join(f.Dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// Lists indica si el store de spec queda bajo Dir y por tanto aparece en
// List y LoadResults.
func (f *Factory) Lists(spec domain.ExperimentSpec) bool {
	path := f.PathFor(spec)
	if filepath.Ext(path) != Extension {
		return false
	}
	dir, err1 := filepath.Abs(f.Dir)
	parent, err2 := filepath.Abs(filepath.Dir(path))
	if err1 != nil || err2 != nil {
		return filepath.Clean(f.Dir) == filepath.Dir(filepath.Clean(path))
	}
	return dir == parent
}

// LoadResults lee el último resultado guardado en cada store bajo Dir.
// Los stores sin resultado se ignoran; tagPrefix vacío = todos.
func (f *Factory) LoadResults(ctx context.Context, tagPrefix string) ([]domain.ExperimentResult, error) {
	paths, err := f.List()
	if err != nil {
		return nil, err
	}
	var out []domain.ExperimentResult
	for _, p := range paths {
		s, err := f.OpenPath(p)
		if err != nil {
			return nil, err
		}
		r, ok, err := s.LoadResult(ctx)
		s.Close()
		if err != nil {
			return nil, fmt.Errorf("storage.LoadResults: %s: %w", p, err)
		}
		if !ok || !strings.HasPrefix(r.Tag, tagPrefix) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
