package ports

import "context"

// SpotFeed provee los inputs externos de los modelos continuos (spot y volatilidad).
type SpotFeed interface {
	Spot(ctx context.Context, pair string) (float64, error)

	// AnnualizedVol devuelve la volatilidad realizada anualizada.
	AnnualizedVol(ctx context.Context, pair string) (float64, error)
}
