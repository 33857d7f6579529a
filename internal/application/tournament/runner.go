// Package tournament ejecuta un conjunto de experimentos aislados y reduce
// cada uno a un ExperimentResult.
package tournament

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/alejandrodnm/polytrader/internal/application/scan"
	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
	"github.com/alejandrodnm/polytrader/internal/strategy"
)

// Config contiene la configuración del runner.
type Config struct {
	Workers     int    // experimentos en paralelo; <= 0 equivale a 1 (secuencial)
	EvalWorkers int    // goroutines del modelo dentro de cada scan
	SpotPair    string // par para resolver spot/sigma; vacío = DefaultSpotPair
}

// Deps agrupa los colaboradores del runner. Marker, Feed y Metrics son opcionales.
type Deps struct {
	Markets  ports.MarketProvider
	Books    ports.BookProvider
	Stores   ports.StoreFactory
	Registry *strategy.Registry
	Marker   ports.MidpointProvider
	Feed     ports.SpotFeed
	Metrics  ports.TournamentMetrics
}

// Runner ejecuta torneos.
type Runner struct {
	cfg  Config
	deps Deps
}

// New crea un Runner. Un Registry nil usa strategy.Default().
func New(cfg Config, deps Deps) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if deps.Registry == nil {
		deps.Registry = strategy.Default()
	}
	return &Runner{cfg: cfg, deps: deps}
}

// Run ejecuta cada spec contra su propio store y devuelve un resultado por
// experimento intentado, en el orden de entrada. El fallo de un experimento
// queda en su resultado y no interrumpe el resto.
//
// Cancelar ctx deja de despachar experimentos nuevos; los que están en curso
// terminan. En ese caso se devuelven los resultados intentados junto con el
// error del contexto.
func (r *Runner) Run(ctx context.Context, specs []domain.ExperimentSpec) ([]domain.ExperimentResult, error) {
	if err := checkIsolation(specs, r.deps.Stores); err != nil {
		return nil, fmt.Errorf("tournament.Run: %w", err)
	}

	t := r.newRun()

	results := make([]*domain.ExperimentResult, len(specs))
	workCh := make(chan int)

	// Worker pool: cada worker toma índices de workCh y escribe en su hueco.
	var wg sync.WaitGroup
	for range min(r.cfg.Workers, len(specs)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range workCh {
				res := t.runOne(context.WithoutCancel(ctx), specs[i])
				results[i] = &res
			}
		}()
	}

	start := time.Now()
	dispatched := 0
dispatch:
	for i := range specs {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case workCh <- i:
			dispatched++
		}
	}
	close(workCh)
	wg.Wait()

	out := make([]domain.ExperimentResult, 0, dispatched)
	failed := 0
	for _, res := range results {
		if res == nil {
			continue
		}
		if res.Failed() {
			failed++
		}
		out = append(out, *res)
	}

	slog.Info("tournament complete",
		"experiments", len(specs),
		"attempted", len(out),
		"failed", failed,
		"workers", r.cfg.Workers,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	if err := ctx.Err(); err != nil && len(out) < len(specs) {
		return out, fmt.Errorf("tournament.Run: stopped after %d of %d experiments: %w", len(out), len(specs), err)
	}
	return out, nil
}

// checkIsolation rechaza torneos donde dos experimentos compartirían store.
// Compara las rutas que resolvería stores, así un db explícito que apunta al
// fichero por defecto de otro tag también se detecta.
func checkIsolation(specs []domain.ExperimentSpec, stores ports.StoreFactory) error {
	if len(specs) == 0 {
		return domain.NewConfigError("experiments", "no experiments provided")
	}
	tags := make(map[string]int, len(specs))
	paths := make(map[string]int, len(specs))
	for i, s := range specs {
		if j, dup := tags[s.Tag]; dup {
			return domain.NewConfigError(fmt.Sprintf("experiments[%d].tag", i), "duplicate tag %q (also experiments[%d])", s.Tag, j)
		}
		tags[s.Tag] = i
		if stores == nil {
			continue
		}
		path := stores.PathFor(s)
		if path == ":memory:" {
			continue
		}
		key := storeKey(path)
		if j, dup := paths[key]; dup {
			return domain.NewConfigError(fmt.Sprintf("experiments[%d].db", i),
				"store %q already used by experiments[%d] (%s)", path, j, specs[j].Tag)
		}
		paths[key] = i
	}
	return nil
}

func storeKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Scan ejecuta un único scan de spec contra store, sin guardar un
// ExperimentResult. Es el camino de `polytrader scan`.
func (r *Runner) Scan(ctx context.Context, spec domain.ExperimentSpec, store ports.ExperimentStore) (domain.ScanOutcome, error) {
	t := r.newRun()
	req, err := t.prepare(ctx, spec)
	if err != nil {
		return domain.ScanOutcome{}, fmt.Errorf("tournament.Scan: %w", err)
	}
	if _, err := store.Init(ctx, spec); err != nil {
		return domain.ScanOutcome{}, fmt.Errorf("tournament.Scan: init store: %w", err)
	}
	outcome, err := t.pipeline.Run(ctx, req, store)
	if err != nil {
		return domain.ScanOutcome{}, fmt.Errorf("tournament.Scan: %w", err)
	}
	return outcome, nil
}

func (r *Runner) newRun() *tournamentRun {
	shared := newSharedMarkets(r.deps.Markets, r.deps.Books)
	return &tournamentRun{
		runner:   r,
		pipeline: scan.New(scan.Config{EvalWorkers: r.cfg.EvalWorkers}, shared, shared),
		inputs:   newInputResolver(r.deps.Feed, r.cfg.SpotPair),
	}
}

// tournamentRun es el estado compartido de un único Run: cache de mercados e inputs.
type tournamentRun struct {
	runner   *Runner
	pipeline *scan.Pipeline
	inputs   *inputResolver
}

// runOne nunca devuelve error ni propaga panics: todo acaba en el resultado.
func (t *tournamentRun) runOne(ctx context.Context, spec domain.ExperimentSpec) (res domain.ExperimentResult) {
	start := time.Now()
	if m := t.runner.deps.Metrics; m != nil {
		m.ExperimentStarted(spec.Tag)
		defer func() { m.ExperimentFinished(res, time.Since(start)) }()
	}
	defer func() {
		if p := recover(); p != nil {
			res = domain.FailedResult(spec, fmt.Errorf("%w: panic: %v", domain.ErrExperimentFailure, p))
			slog.Error("experiment panicked", "tag", spec.Tag, "panic", fmt.Sprint(p))
		}
	}()

	res, err := t.execute(ctx, spec)
	if err != nil {
		if !errors.Is(err, domain.ErrConfiguration) && !errors.Is(err, domain.ErrIntegrityViolation) {
			err = fmt.Errorf("%w: %w", domain.ErrExperimentFailure, err)
		}
		slog.Warn("experiment failed", "tag", spec.Tag, "err", err)
		return domain.FailedResult(spec, err)
	}

	slog.Info("experiment complete",
		"tag", res.Tag,
		"status", res.Status,
		"signals", res.SignalCount,
		"fills", res.FillCount,
		"equity", fmt.Sprintf("%.2f", res.Equity),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return res
}

func (t *tournamentRun) execute(ctx context.Context, spec domain.ExperimentSpec) (domain.ExperimentResult, error) {
	req, err := t.prepare(ctx, spec)
	if err != nil {
		return domain.ExperimentResult{}, err
	}

	store, err := t.runner.deps.Stores.Open(ctx, spec)
	if err != nil {
		return domain.ExperimentResult{}, fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	if _, err := store.Init(ctx, spec); err != nil {
		return domain.ExperimentResult{}, fmt.Errorf("init store: %w", err)
	}

	outcome, err := t.pipeline.Run(ctx, req, store)
	if err != nil {
		return domain.ExperimentResult{}, err
	}

	res, err := Summarize(ctx, store, t.runner.deps.Marker)
	if err != nil {
		return domain.ExperimentResult{}, err
	}
	res.Spec = spec.Clone()
	res.RunID = outcome.Run.ID
	res.MarketsScanned = outcome.Run.MarketsScanned
	res.Status = domain.ResultNoFills
	if outcome.Run.FillCount > 0 {
		res.Status = domain.ResultOK
	}
	if err := res.Validate(); err != nil {
		return domain.ExperimentResult{}, err
	}

	if err := store.SaveResult(ctx, res); err != nil {
		return domain.ExperimentResult{}, fmt.Errorf("save result: %w", err)
	}
	return res, nil
}

// prepare valida spec e instancia modelo y sizer con los inputs resueltos.
func (t *tournamentRun) prepare(ctx context.Context, spec domain.ExperimentSpec) (scan.Request, error) {
	if err := spec.Validate(); err != nil {
		return scan.Request{}, err
	}
	reg := t.runner.deps.Registry

	modelCfg, err := t.inputs.resolve(ctx, reg, spec.Scan.Model, spec.Scan.ModelConfig)
	if err != nil {
		return scan.Request{}, err
	}
	model, err := reg.NewModel(spec.Scan.Model, modelCfg)
	if err != nil {
		return scan.Request{}, err
	}
	sizer, err := reg.NewSizer(spec.Scan.Sizer, spec.Scan.SizerConfig)
	if err != nil {
		return scan.Request{}, err
	}
	return scan.Request{Tag: spec.Tag, Scan: spec.Scan, Model: model, Sizer: sizer}, nil
}
