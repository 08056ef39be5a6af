// Package session mantiene la sesión autenticada de un agente. La sesión se
// pasa explícitamente a cada agente; el refresco es un swap atómico.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/snipebot/internal/ports"
)

// ErrNoSession se devuelve si nunca se pudo autenticar.
var ErrNoSession = errors.New("no session")

// Authenticator es lo único que el Provider necesita del executor.
type Authenticator interface {
	Authenticate(ctx context.Context, chain string) (ports.Session, error)
}

// Provider guarda la sesión actual y serializa los refrescos.
type Provider struct {
	auth  Authenticator
	chain string

	mu        sync.Mutex
	current   *ports.Session
	refreshes int
	onRefresh func()
}

// NewProvider crea un Provider sin sesión; la primera llamada a Get autentica.
func NewProvider(auth Authenticator, chain string) *Provider {
	return &Provider{auth: auth, chain: chain}
}

// Get devuelve la sesión actual, autenticando si todavía no hay ninguna.
func (p *Provider) Get(ctx context.Context) (ports.Session, error) {
	p.mu.Lock()
	if p.current != nil {
		s := *p.current
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	s, err := p.Refresh(ctx)
	if err != nil {
		return ports.Session{}, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	return s, nil
}

// Refresh fuerza una autenticación nueva y reemplaza la sesión actual.
// Si falla, la sesión anterior (si la había) se conserva.
func (p *Provider) Refresh(ctx context.Context) (ports.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.auth.Authenticate(ctx, p.chain)
	if err != nil {
		return ports.Session{}, fmt.Errorf("session.Refresh: %w", err)
	}
	p.current = &s
	p.refreshes++
	if p.onRefresh != nil {
		p.onRefresh()
	}
	return s, nil
}

// OnRefresh registra fn para cada autenticación correcta (métricas).
func (p *Provider) OnRefresh(fn func()) {
	p.mu.Lock()
	p.onRefresh = fn
	p.mu.Unlock()
}

// Refreshes devuelve cuántas veces se autenticó con éxito.
func (p *Provider) Refreshes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes
}

// Run refresca la sesión cada every hasta que ctx termine, independientemente
// de los fallos de las operaciones.
func (p *Provider) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Refresh(ctx); err != nil {
				slog.Warn("proactive session refresh failed", "err", err)
				continue
			}
			slog.Debug("session refreshed proactively")
		}
	}
}

// Retry ejecuta fn con la sesión actual. Si falla por un error transitorio,
// refresca la sesión una vez y repite la misma llamada una vez. Los rechazos de
// negocio (ports.ErrRejected) se devuelven sin reintentar.
func Retry[T any](ctx context.Context, p *Provider, op string, fn func(ports.Session) (T, error)) (T, error) {
	var zero T

	s, err := p.Get(ctx)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", op, err)
	}

	out, err := fn(s)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, ports.ErrRejected) || ctx.Err() != nil {
		return zero, fmt.Errorf("%s: %w", op, err)
	}

	slog.Warn("operation failed, refreshing session and retrying once", "op", op, "err", err)
	s, rerr := p.Refresh(ctx)
	if rerr != nil {
		return zero, fmt.Errorf("%s: %w (refresh: %v)", op, err, rerr)
	}

	out, err = fn(s)
	if err != nil {
		return zero, fmt.Errorf("%s: retry: %w", op, err)
	}
	return out, nil
}
