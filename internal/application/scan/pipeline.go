package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
	"github.com/alejandrodnm/polytrader/internal/strategy"
)

// Motivos por los que un mercado no termina en fill.
const (
	ReasonMalformed   = "malformed_snapshot"
	ReasonNoSignal    = "no_signal"
	ReasonModelPanic  = "model_panic"
	ReasonNoOrder     = "no_order"
	ReasonSizerPanic  = "sizer_panic"
	ReasonMissingBook = "missing_book"
	ReasonEmptyBook   = "empty_book"
	ReasonCancelled   = "cancelled"
)

// Config contiene la configuración del pipeline.
type Config struct {
	EvalWorkers int              // goroutines para evaluar el modelo (0 = NumCPU)
	Now         func() time.Time // reloj inyectable; nil = time.Now
}

// Pipeline compone modelo → sizer → simulador de fills sobre un batch de mercados.
type Pipeline struct {
	cfg     Config
	markets ports.MarketProvider
	books   ports.BookProvider
}

// New crea un Pipeline con las dependencias inyectadas.
func New(cfg Config, markets ports.MarketProvider, books ports.BookProvider) *Pipeline {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{cfg: cfg, markets: markets, books: books}
}

// Request es un scan completamente resuelto: modelo y sizer ya instanciados.
type Request struct {
	Tag   string
	Scan  domain.ScanSpec
	Model strategy.SignalModel
	Sizer strategy.Sizer
}

// Candidate es un mercado con señal, pendiente de dimensionar.
type Candidate struct {
	Snapshot domain.MarketSnapshot
	Signal   domain.Signal
}

// Fill es un candidato que llegó a ejecutarse.
type Fill struct {
	Candidate
	Order     domain.SizedOrder
	Result    domain.FillResult
	CashAfter float64
}

// Batch es el resultado de ejecutar candidatos contra los books.
type Batch struct {
	Fills     []Fill
	Skipped   map[string]int
	CashAfter float64
}

// Run ejecuta un scan completo para el experimento cuyo estado vive en store:
// fetch → filtros → señales → books → sizing/fills → persistencia.
// Un mercado problemático se cuenta como descartado; una violación de
// invariantes aborta el scan.
func (p *Pipeline) Run(ctx context.Context, req Request, store ports.ExperimentStore) (domain.ScanOutcome, error) {
	start := p.cfg.Now().UTC()

	acct, err := store.Account(ctx)
	if err != nil {
		return domain.ScanOutcome{}, fmt.Errorf("scan.Run: load account: %w", err)
	}

	snaps, err := p.markets.FetchMarkets(ctx, domain.MarketQuery{Query: req.Scan.Query, Limit: req.Scan.Limit})
	if err != nil {
		return domain.ScanOutcome{}, fmt.Errorf("scan.Run: fetch markets: %w", err)
	}

	eligible, filtered := NewFilter(FilterFromSpec(req.Scan)).Apply(snaps)

	skipped := make(map[string]int)
	cands, signals := p.collectSignals(ctx, req.Model, eligible, skipped)

	books, err := p.fetchBooks(ctx, cands)
	if err != nil {
		return domain.ScanOutcome{}, fmt.Errorf("scan.Run: fetch books: %w", err)
	}

	batch, err := Execute(cands, books, req.Sizer, acct.Cash)
	if err != nil {
		return domain.ScanOutcome{}, fmt.Errorf("scan.Run: %w", err)
	}
	for reason, n := range batch.Skipped {
		skipped[reason] += n
	}

	run := domain.ScanRun{
		ID:             uuid.NewString(),
		ExperimentTag:  req.Tag,
		StartedAt:      start,
		Model:          req.Model.Name(),
		Sizer:          req.Sizer.Name(),
		Query:          req.Scan.Query,
		Status:         domain.ScanNoFills,
		MarketsSeen:    len(snaps),
		MarketsScanned: len(eligible),
		SignalCount:    len(signals),
		FillCount:      len(batch.Fills),
		CashBefore:     acct.Cash,
		CashAfter:      batch.CashAfter,
	}
	if len(batch.Fills) > 0 {
		run.Status = domain.ScanFilled
	}

	trades := make([]domain.PaperTrade, 0, len(batch.Fills))
	for _, f := range batch.Fills {
		trade, err := store.RecordFill(ctx, newTrade(run.ID, req.Tag, p.cfg.Now().UTC(), f), f.CashAfter)
		if err != nil {
			return domain.ScanOutcome{}, fmt.Errorf("scan.Run: record fill %s: %w", f.Snapshot.MarketID, err)
		}
		trades = append(trades, trade)
	}

	run.FinishedAt = p.cfg.Now().UTC()
	if err := store.SaveRun(ctx, run); err != nil {
		return domain.ScanOutcome{}, fmt.Errorf("scan.Run: save run: %w", err)
	}

	out := domain.ScanOutcome{
		Run:      run,
		Filtered: filtered,
		Skipped:  skipped,
		Signals:  signals,
		Fills:    trades,
	}
	if err := out.Validate(); err != nil {
		return domain.ScanOutcome{}, fmt.Errorf("scan.Run: %w", err)
	}

	slog.Info("scan complete",
		"tag", req.Tag,
		"status", run.Status,
		"markets_seen", run.MarketsSeen,
		"markets_scanned", run.MarketsScanned,
		"signals", run.SignalCount,
		"fills", run.FillCount,
		"cash_after", fmt.Sprintf("%.2f", run.CashAfter),
		"duration", run.FinishedAt.Sub(start).Round(time.Millisecond),
	)
	return out, nil
}

// collectSignals evalúa el modelo y devuelve los candidatos en el orden de entrada.
func (p *Pipeline) collectSignals(
	ctx context.Context,
	model strategy.SignalModel,
	snaps []domain.MarketSnapshot,
	skipped map[string]int,
) ([]Candidate, []domain.Signal) {
	evals := evaluateConcurrent(ctx, model, snaps, p.cfg.EvalWorkers)

	cands := make([]Candidate, 0, len(evals))
	signals := make([]domain.Signal, 0, len(evals))
	for i, ev := range evals {
		if !ev.ok {
			skipped[ev.reason]++
			continue
		}
		sig := ev.signal
		if sig.Model == "" {
			sig.Model = model.Name()
		}
		if sig.MarketID == "" {
			sig.MarketID = snaps[i].MarketID
		}
		if sig.Slug == "" {
			sig.Slug = snaps[i].Slug
		}
		cands = append(cands, Candidate{Snapshot: snaps[i], Signal: sig})
		signals = append(signals, sig)
	}
	return cands, signals
}

// fetchBooks pide los books de ambos tokens de cada candidato que no traiga
// los suyos en el snapshot. buy_no puede necesitar los bids YES.
func (p *Pipeline) fetchBooks(ctx context.Context, cands []Candidate) (map[string]domain.OrderBook, error) {
	books := make(map[string]domain.OrderBook)
	var missing []string
	seen := make(map[string]bool)
	for _, c := range cands {
		for _, pair := range []struct {
			id   string
			book *domain.OrderBook
		}{{c.Snapshot.YesTokenID, c.Snapshot.YesBook}, {c.Snapshot.NoTokenID, c.Snapshot.NoBook}} {
			if pair.id == "" || seen[pair.id] {
				continue
			}
			seen[pair.id] = true
			if pair.book != nil {
				books[pair.id] = *pair.book
				continue
			}
			missing = append(missing, pair.id)
		}
	}
	if len(missing) == 0 || p.books == nil {
		return books, nil
	}

	fetched, err := p.books.FetchOrderBooks(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, b := range fetched {
		books[id] = b
	}
	return books, nil
}

// Execute dimensiona y simula cada candidato en orden, pasando el cash
// explícitamente de un fill al siguiente. Es pura: no persiste nada.
func Execute(cands []Candidate, books map[string]domain.OrderBook, sizer strategy.Sizer, cash float64) (Batch, error) {
	batch := Batch{Skipped: make(map[string]int), CashAfter: cash}

	for _, c := range cands {
		if err := c.Signal.Validate(); err != nil {
			return Batch{}, fmt.Errorf("market %s: %w", c.Snapshot.MarketID, err)
		}

		order, ok, panicked := sizeSafely(sizer, c.Signal, cash)
		if panicked {
			batch.Skipped[ReasonSizerPanic]++
			continue
		}
		if !ok {
			batch.Skipped[ReasonNoOrder]++
			continue
		}
		if err := order.Validate(cash); err != nil {
			return Batch{}, fmt.Errorf("market %s: sizer %s: %w", c.Snapshot.MarketID, sizer.Name(), err)
		}

		yes, hasYes := books[c.Snapshot.YesTokenID]
		no, hasNo := books[c.Snapshot.NoTokenID]
		if !hasYes && !hasNo {
			batch.Skipped[ReasonMissingBook]++
			continue
		}
		var yesBook, noBook *domain.OrderBook
		if hasYes {
			yesBook = &yes
		}
		if hasNo {
			noBook = &no
		}

		res, ok := domain.SimulateBuy(domain.AskSideFor(order.Side, yesBook, noBook), order.USD)
		if !ok {
			batch.Skipped[ReasonEmptyBook]++
			continue
		}
		if err := res.Validate(); err != nil {
			return Batch{}, fmt.Errorf("market %s: %w", c.Snapshot.MarketID, err)
		}

		cash -= res.FilledUSD
		if cash < 0 {
			cash = 0 // solo ruido de coma flotante: Validate garantiza filled <= order <= cash
		}
		batch.Fills = append(batch.Fills, Fill{Candidate: c, Order: order, Result: res, CashAfter: cash})
	}

	batch.CashAfter = cash
	return batch, nil
}

func sizeSafely(sizer strategy.Sizer, sig domain.Signal, cash float64) (order domain.SizedOrder, ok, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("sizer panicked", "sizer", sizer.Name(), "market_id", sig.MarketID, "panic", fmt.Sprint(r))
			order, ok, panicked = domain.SizedOrder{}, false, true
		}
	}()
	order, ok = sizer.Size(sig, cash)
	return order, ok, false
}

func newTrade(runID, tag string, at time.Time, f Fill) domain.PaperTrade {
	return domain.PaperTrade{
		RunID:         runID,
		ExperimentTag: tag,
		OpenedAt:      at,
		MarketID:      f.Snapshot.MarketID,
		Slug:          f.Snapshot.Slug,
		Question:      f.Snapshot.Question,
		Side:          f.Order.Side,
		TokenID:       f.Order.TokenID,
		Fill:          f.Result,
		ModelPrice:    f.Signal.ModelPrice,
		MarketPrice:   f.Signal.MarketPrice,
		Edge:          f.Signal.Edge,
		Confidence:    f.Signal.Confidence,
		Status:        domain.TradeOpen,
		Notes: domain.Metadata{
			"signal": map[string]any(f.Signal.Metadata),
			"sizer":  map[string]any(f.Order.Metadata),
		},
	}
}
