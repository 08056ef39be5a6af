package exchange

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

	"github.com/alejandrodnm/snipebot/internal/ports"
)

const (
	defaultRatePerSec = 5
	defaultTimeout    = 15 * time.Second

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond

	// Tras 5 fallos seguidos el breaker abre 30s; en half-open deja pasar 1.
	breakerFailures = 5
	breakerTimeout  = 30 * time.Second
)

// errUnauthorized marca un 401/403: la sesión caducó. Es transitorio, así que
// session.Retry refresca y reintenta.
var errUnauthorized = errors.New("unauthorized")

// Config configura el Client REST.
type Config struct {
	BaseURL    string
	APIKey     string
	RatePerSec float64
	Timeout    time.Duration
}

// Client es el HTTP client de la plataforma de trading con rate limiting,
// retries en 429/5xx y un circuit breaker alrededor de cada llamada.
type Client struct {
	http    *http.Client
	base    string
	apiKey  string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewClient crea un Client. BaseURL es obligatorio.
func NewClient(cfg Config) *Client {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	st := gobreaker.Settings{
		Name:        "exchange",
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= breakerFailures },
		IsSuccessful: func(err error) bool {
			// Un rechazo de negocio es una respuesta válida del servidor.
			return err == nil || errors.Is(err, ports.ErrRejected) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		base:    cfg.BaseURL,
		apiKey:  cfg.APIKey,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), int(math.Max(1, cfg.RatePerSec))),
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

// BreakerState devuelve el estado del circuit breaker ("closed", "open", "half-open").
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// get hace un GET idempotente con retries.
func (c *Client) get(ctx context.Context, path, token string, out any) error {
	return c.call(ctx, maxRetries, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
		if err != nil {
			return nil, err
		}
		c.headers(req, token)
		return req, nil
	}, out)
}

// post hace un POST JSON. retries=0 para órdenes: un POST de compra no se
// repite a ciegas, eso lo decide session.Retry.
func (c *Client) post(ctx context.Context, path, token string, retries int, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	return c.call(ctx, retries, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		c.headers(req, token)
		return req, nil
	}, out)
}

func (c *Client) headers(req *http.Request, token string) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// call pasa por el breaker y el bucle de retries.
func (c *Client) call(ctx context.Context, retries int, build func() (*http.Request, error), out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.doWithRetry(ctx, retries, build, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("exchange unavailable: %w", err)
	}
	return err
}

// doWithRetry ejecuta la request con backoff exponencial en errores de red,
// 429 y 5xx. Los 4xx de negocio se devuelven como ports.ErrRejected.
func (c *Client) doWithRetry(ctx context.Context, retries int, build func() (*http.Request, error), out any) error {
	for attempt := 0; attempt <= retries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := build()
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == retries {
				return fmt.Errorf("request failed after %d retries: %w", retries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			resp.Body.Close()
			if attempt == retries {
				return fmt.Errorf("server status %d after %d retries", resp.StatusCode, retries)
			}
			slog.Warn("exchange retryable status", "status", resp.StatusCode, "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			return fmt.Errorf("status %d: %w", resp.StatusCode, errUnauthorized)

		case resp.StatusCode >= 400:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("status %d: %s: %w", resp.StatusCode, rejectionMessage(body), ports.ErrRejected)
		}

		defer resp.Body.Close()
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", retries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

func rejectionMessage(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Message != "" {
		return env.Message
	}
	return string(bytes.TrimSpace(body))
}
