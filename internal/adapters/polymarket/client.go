package polymarket

import (
	"time"

	"github.com/alejandrodnm/polytrader/internal/adapters/httpclient"
)

const (
	defaultCLOBBase  = "https://clob.polymarket.com"
	defaultGammaBase = "https://gamma-api.polymarket.com"

	// Rate limits al 60% de los límites reales documentados.
	// CLOB /books: 500/10s → 300/10s → 30/s
	booksRatePerSec = 30
	// Gamma /markets: 300/10s → 180/10s → 18/s
	gammaRatePerSec = 18
	// CLOB general (midpoints, etc.): 9000/10s → 5400/10s → 540/s
	generalRatePerSec = 540
)

// Options ajusta el cliente. Los campos vacíos usan los valores de producción.
type Options struct {
	CLOBBase   string
	GammaBase  string
	Timeout    time.Duration
	MaxRetries int
	RetryWait  time.Duration
}

// Client es el adapter de Polymarket: Gamma para la lista de mercados y el
// CLOB para midpoints y orderbooks. Implementa ports.MarketProvider,
// ports.BookProvider y ports.MidpointProvider.
type Client struct {
	clobBase  string
	gammaBase string
	clob      *httpclient.Client
	gamma     *httpclient.Client
	books     *httpclient.Client
	now       func() time.Time
}

// NewClient crea un Client con los base URLs dados.
// Si clobBase o gammaBase están vacíos, usa los URLs de producción.
func NewClient(clobBase, gammaBase string) *Client {
	return NewClientWithOptions(Options{CLOBBase: clobBase, GammaBase: gammaBase})
}

// NewClientWithOptions crea un Client con timeouts y retries explícitos.
func NewClientWithOptions(o Options) *Client {
	if o.CLOBBase == "" {
		o.CLOBBase = defaultCLOBBase
	}
	if o.GammaBase == "" {
		o.GammaBase = defaultGammaBase
	}
	cfg := func(name string, perSec float64, burst int) httpclient.Config {
		return httpclient.Config{
			Name:          name,
			Timeout:       o.Timeout,
			RatePerSec:    perSec,
			Burst:         burst,
			MaxRetries:    o.MaxRetries,
			BaseRetryWait: o.RetryWait,
		}
	}
	return &Client{
		clobBase:  o.CLOBBase,
		gammaBase: o.GammaBase,
		clob:      httpclient.New(cfg("polymarket-clob", generalRatePerSec, 50)),
		gamma:     httpclient.New(cfg("polymarket-gamma", gammaRatePerSec, 10)),
		books:     httpclient.New(cfg("polymarket-books", booksRatePerSec, 5)),
		now:       time.Now,
	}
}
