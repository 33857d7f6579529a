package scan

// concurrent.go: worker pool para evaluar modelos sobre muchos mercados.

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/strategy"
)

// evaluation es el resultado del modelo para un snapshot.
type evaluation struct {
	signal domain.Signal
	ok     bool
	reason string // motivo de descarte si !ok
}

// evaluateConcurrent evalúa el modelo sobre todos los snapshots con un worker pool.
// El resultado i corresponde al snapshot i, así el orden no depende del scheduling.
//
// Si workers <= 0 usa runtime.NumCPU().
func evaluateConcurrent(
	ctx context.Context,
	model strategy.SignalModel,
	snaps []domain.MarketSnapshot,
	workers int,
) []evaluation {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(snaps) {
		workers = len(snaps)
	}

	out := make([]evaluation, len(snaps))
	workCh := make(chan int, len(snaps))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range workCh {
				if ctx.Err() != nil {
					out[idx] = evaluation{reason: ReasonCancelled}
					continue
				}
				out[idx] = evaluateOne(model, snaps[idx])
			}
		}()
	}

	for i := range snaps {
		workCh <- i
	}
	close(workCh)
	wg.Wait()

	slog.Debug("concurrent evaluation complete",
		"model", model.Name(),
		"markets", len(snaps),
		"workers", workers,
	)
	return out
}

// evaluateOne aísla un panic del modelo en el mercado que lo provocó.
func evaluateOne(model strategy.SignalModel, snap domain.MarketSnapshot) (ev evaluation) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("model panicked",
				"model", model.Name(),
				"market_id", snap.MarketID,
				"panic", fmt.Sprint(r),
			)
			ev = evaluation{reason: ReasonModelPanic}
		}
	}()

	if !snap.Wellformed() {
		return evaluation{reason: ReasonMalformed}
	}
	sig, ok := model.Evaluate(snap)
	if !ok {
		return evaluation{reason: ReasonNoSignal}
	}
	return evaluation{signal: sig, ok: true}
}
