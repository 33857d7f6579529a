package tournament

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/polytrader/internal/application/portfolio"
	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

// Summarize reduce el estado persistido de un experimento a un ExperimentResult.
// Es acumulativo: cuenta todos los runs y trades del store, no solo el último scan.
// marker es opcional; sin él las posiciones abiertas se valoran a coste.
func Summarize(ctx context.Context, store ports.ExperimentStore, marker ports.MidpointProvider) (domain.ExperimentResult, error) {
	spec, ok, err := store.LoadSpec(ctx)
	if err != nil {
		return domain.ExperimentResult{}, fmt.Errorf("tournament.Summarize: load spec: %w", err)
	}
	if !ok {
		return domain.ExperimentResult{}, fmt.Errorf("tournament.Summarize: %s: no spec stored", store.Path())
	}

	acct, _, err := portfolio.Summary(ctx, store, marker)
	if err != nil {
		return domain.ExperimentResult{}, fmt.Errorf("tournament.Summarize: %w", err)
	}
	hist, err := portfolio.LoadHistory(ctx, store)
	if err != nil {
		return domain.ExperimentResult{}, fmt.Errorf("tournament.Summarize: %w", err)
	}
	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		return domain.ExperimentResult{}, fmt.Errorf("tournament.Summarize: list runs: %w", err)
	}

	r := domain.ExperimentResult{
		Tag:           spec.Tag,
		DB:            store.Path(),
		Status:        domain.ResultNoFills,
		RealizedPnL:   hist.RealizedPnL,
		UnrealizedPnL: acct.UnrealizedPnL,
		WinRate:       hist.WinRate,
		ClosedTrades:  len(hist.Trades),
		OpenPositions: acct.OpenPositions,
		Cash:          acct.Cash,
		Equity:        acct.Equity,
		StartBankroll: acct.StartingBankroll,
		Spec:          spec,
	}
	for _, run := range runs {
		r.SignalCount += run.SignalCount
		r.FillCount += run.FillCount
	}
	if len(runs) > 0 {
		// ListRuns ordena del más reciente al más antiguo
		r.RunID = runs[0].ID
		r.MarketsScanned = runs[0].MarketsScanned
	}
	if r.FillCount > 0 {
		r.Status = domain.ResultOK
	}
	if err := r.Validate(); err != nil {
		return domain.ExperimentResult{}, fmt.Errorf("tournament.Summarize: %w", err)
	}
	return r, nil
}
