package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// ExperimentStore persiste el estado aislado de un experimento: cuenta, runs y trades.
// Cada experimento tiene su propio store; dos experimentos nunca escriben en el mismo.
type ExperimentStore interface {
	// Init crea la cuenta con el bankroll del spec si no existe y guarda el spec.
	// Si la cuenta ya existe la devuelve sin tocarla.
	Init(ctx context.Context, spec domain.ExperimentSpec) (domain.Account, error)

	Account(ctx context.Context) (domain.Account, error)
	UpdateCash(ctx context.Context, cash float64) error

	// SaveRun persiste la fila de un scan.
	SaveRun(ctx context.Context, run domain.ScanRun) error
	ListRuns(ctx context.Context, limit int) ([]domain.ScanRun, error)

	// RecordFill persiste un fill y deja el cash en cashAfter en la misma transacción.
	// Asigna el ID si viene vacío.
	RecordFill(ctx context.Context, trade domain.PaperTrade, cashAfter float64) (domain.PaperTrade, error)

	// LoadFills devuelve los fills de tag dentro de la ventana en orden cronológico.
	LoadFills(ctx context.Context, tag string, w domain.TimeWindow) ([]domain.PaperTrade, error)

	OpenTrades(ctx context.Context) ([]domain.PaperTrade, error)
	ClosedTrades(ctx context.Context) ([]domain.PaperTrade, error)

	// ResolveMarket liquida los trades abiertos del mercado y acredita el payout.
	ResolveMarket(ctx context.Context, slug string, outcomeYes bool, at time.Time) ([]domain.PaperTrade, error)

	// LoadSpec devuelve el spec guardado por Init. ok=false si no hay.
	LoadSpec(ctx context.Context) (spec domain.ExperimentSpec, ok bool, err error)

	SaveResult(ctx context.Context, r domain.ExperimentResult) error
	LoadResult(ctx context.Context) (r domain.ExperimentResult, ok bool, err error)

	// Path identifica el destino de persistencia.
	Path() string
	Close() error
}

// StoreFactory abre el store exclusivo de un experimento.
type StoreFactory interface {
	// PathFor devuelve el destino de persistencia que Open usaría para spec.
	PathFor(spec domain.ExperimentSpec) string
	Open(ctx context.Context, spec domain.ExperimentSpec) (ExperimentStore, error)
}
