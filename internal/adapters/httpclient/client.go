// Package httpclient es el cliente JSON compartido por los adapters HTTP:
// rate limiting, retries con backoff y circuit breaker por destino.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrCircuitOpen se devuelve sin hacer la request mientras el breaker está abierto.
var ErrCircuitOpen = gobreaker.ErrOpenState

// StatusError es una respuesta HTTP no exitosa.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.Code)
	}
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

// Config configura un Client.
type Config struct {
	Name          string        // nombre del breaker y de los logs
	Timeout       time.Duration // timeout por request (default 10s)
	RatePerSec    float64       // 0 = sin límite
	Burst         int
	MaxRetries    int           // default 3
	BaseRetryWait time.Duration // default 500ms, se dobla en cada intento

	// El breaker se abre tras BreakerFailures fallos consecutivos y deja
	// pasar una request de prueba tras BreakerOpenFor.
	BreakerFailures uint32        // default 5
	BreakerOpenFor  time.Duration // default 30s
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "http"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BaseRetryWait <= 0 {
		c.BaseRetryWait = 500 * time.Millisecond
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerOpenFor <= 0 {
		c.BreakerOpenFor = 30 * time.Second
	}
	return c
}

// Client hace requests JSON con rate limiting, retries y circuit breaker.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// New crea un Client.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}

	st := gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// un 4xx es culpa de la request, no del destino
		IsSuccessful: func(err error) bool {
			var se *StatusError
			return err == nil || (errors.As(err, &se) && se.Code < 500) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

// GetJSON hace un GET y decodifica la respuesta en out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, out)
}

// PostJSON hace un POST con body JSON y decodifica la respuesta en out.
func (c *Client) PostJSON(ctx context.Context, url string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("httpclient.PostJSON: marshal body: %w", err)
	}
	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, out)
}

func (c *Client) do(ctx context.Context, build func() (*http.Request, error), out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.doWithRetry(ctx, build, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", c.cfg.Name, ErrCircuitOpen)
	}
	return err
}

// doWithRetry ejecuta la request con backoff exponencial. Reintenta errores
// de red, 429 y 5xx; un 4xx se devuelve directamente.
func (c *Client) doWithRetry(ctx context.Context, build func() (*http.Request, error), out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, attempt-1); err != nil {
				return err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := build()
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = &StatusError{Code: resp.StatusCode}
			if resp.StatusCode == http.StatusTooManyRequests {
				slog.Warn("rate limited by API", "name", c.cfg.Name, "attempt", attempt+1)
			}
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("request failed after %d retries: %w", c.cfg.MaxRetries, lastErr)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) error {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.cfg.BaseRetryWait
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State expone el estado del breaker (closed, half-open, open).
func (c *Client) State() string {
	return c.breaker.State().String()
}
