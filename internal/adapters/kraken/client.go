// Package kraken lee spot y volatilidad realizada de la API pública de Kraken.
// Solo se usa para resolver los inputs externos de los modelos antes de
// instanciarlos; los modelos nunca llaman a la red.
package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	"github.com/alejandrodnm/polytrader/internal/adapters/httpclient"
	"github.com/alejandrodnm/polytrader/internal/domain"
)

const (
	defaultBase = "https://api.kraken.com"

	// velas horarias; 240 = últimos 10 días
	ohlcInterval = 60
	volWindow    = 240
	hoursPerYear = 24.0 * 365.0
	minAnnualVol = 0.05
)

// Client implementa ports.SpotFeed.
type Client struct {
	base string
	http *httpclient.Client
}

// NewClient crea un Client. base vacío usa la API de producción.
func NewClient(base string, timeout time.Duration) *Client {
	if base == "" {
		base = defaultBase
	}
	return &Client{
		base: base,
		http: httpclient.New(httpclient.Config{
			Name:       "kraken",
			Timeout:    timeout,
			RatePerSec: 1,
			Burst:      2,
		}),
	}
}

type envelope struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

type tickerInfo struct {
	Last []string `json:"c"` // [precio, volumen] del último trade
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (map[string]json.RawMessage, error) {
	var env envelope
	if err := c.http.GetJSON(ctx, c.base+path+"?"+params.Encode(), &env); err != nil {
		return nil, err
	}
	if len(env.Error) > 0 {
		return nil, fmt.Errorf("kraken error: %v", env.Error)
	}
	delete(env.Result, "last")
	if len(env.Result) == 0 {
		return nil, fmt.Errorf("%w: empty kraken result", domain.ErrDataUnavailable)
	}
	return env.Result, nil
}

// Spot devuelve el precio del último trade de pair.
func (c *Client) Spot(ctx context.Context, pair string) (float64, error) {
	result, err := c.get(ctx, "/0/public/Ticker", url.Values{"pair": {pair}})
	if err != nil {
		return 0, fmt.Errorf("kraken.Spot: %s: %w", pair, err)
	}
	for _, raw := range result {
		var t tickerInfo
		if err := json.Unmarshal(raw, &t); err != nil {
			return 0, fmt.Errorf("kraken.Spot: decode ticker: %w", err)
		}
		if len(t.Last) == 0 {
			break
		}
		px, err := strconv.ParseFloat(t.Last[0], 64)
		if err != nil || px <= 0 {
			return 0, fmt.Errorf("kraken.Spot: %w: bad last price %q", domain.ErrDataUnavailable, t.Last[0])
		}
		return px, nil
	}
	return 0, fmt.Errorf("kraken.Spot: %s: %w: no last trade", pair, domain.ErrDataUnavailable)
}

// AnnualizedVol devuelve la desviación típica de los log-retornos horarios
// de las últimas volWindow velas, anualizada, con suelo minAnnualVol.
func (c *Client) AnnualizedVol(ctx context.Context, pair string) (float64, error) {
	result, err := c.get(ctx, "/0/public/OHLC", url.Values{
		"pair":     {pair},
		"interval": {strconv.Itoa(ohlcInterval)},
	})
	if err != nil {
		return 0, fmt.Errorf("kraken.AnnualizedVol: %s: %w", pair, err)
	}

	var closes []float64
	for _, raw := range result {
		var rows [][]any
		if err := json.Unmarshal(raw, &rows); err != nil {
			return 0, fmt.Errorf("kraken.AnnualizedVol: decode ohlc: %w", err)
		}
		closes = parseCloses(rows)
		break
	}

	vol, ok := AnnualizedFromCloses(closes)
	if !ok {
		return 0, fmt.Errorf("kraken.AnnualizedVol: %s: %w: %d closes", pair, domain.ErrDataUnavailable, len(closes))
	}
	return vol, nil
}

// parseCloses extrae el cierre (índice 4) de las últimas volWindow velas.
func parseCloses(rows [][]any) []float64 {
	if len(rows) > volWindow {
		rows = rows[len(rows)-volWindow:]
	}
	closes := make([]float64, 0, len(rows))
	for _, r := range rows {
		if len(r) < 5 {
			continue
		}
		switch v := r[4].(type) {
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				closes = append(closes, f)
			}
		case float64:
			closes = append(closes, v)
		}
	}
	return closes
}

// AnnualizedFromCloses calcula la volatilidad anualizada de cierres horarios.
// ok=false con menos de 3 cierres o sin retornos válidos.
func AnnualizedFromCloses(closes []float64) (float64, bool) {
	if len(closes) < 3 {
		return 0, false
	}
	rets := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] > 0 && closes[i] > 0 {
			rets = append(rets, math.Log(closes[i]/closes[i-1]))
		}
	}
	if len(rets) == 0 {
		return 0, false
	}
	var mean float64
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	var variance float64
	for _, r := range rets {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(rets))
	sigmaHour := math.Sqrt(math.Max(variance, 1e-12))
	return math.Max(sigmaHour*math.Sqrt(hoursPerYear), minAnnualVol), true
}
