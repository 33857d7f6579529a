package ports

import (
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// TournamentMetrics recibe eventos del runner.
type TournamentMetrics interface {
	ExperimentStarted(tag string)
	ExperimentFinished(r domain.ExperimentResult, elapsed time.Duration)
}
