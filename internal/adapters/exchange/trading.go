package exchange

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/alejandrodnm/snipebot/internal/domain"
	"github.com/alejandrodnm/snipebot/internal/ports"
)

// Authenticate obtiene una sesión nueva para la cadena.
func (c *Client) Authenticate(ctx context.Context, chain string) (ports.Session, error) {
	var resp authResponse
	if err := c.post(ctx, "/auth", "", maxRetries, authRequest{APIKey: c.apiKey, Chain: chain}, &resp); err != nil {
		return ports.Session{}, fmt.Errorf("exchange.Authenticate: %w", err)
	}
	if resp.Token == "" {
		return ports.Session{}, fmt.Errorf("exchange.Authenticate: empty token")
	}
	return ports.Session{
		Token:     resp.Token,
		Chain:     chain,
		IssuedAt:  time.Now().UTC(),
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

// Quote devuelve el precio actual de un token.
func (c *Client) Quote(ctx context.Context, token, chain string) (float64, error) {
	q := url.Values{"token": {token}, "chain": {chain}}
	var resp quoteResponse
	if err := c.get(ctx, "/quote?"+q.Encode(), "", &resp); err != nil {
		return 0, fmt.Errorf("exchange.Quote %s: %w", token, err)
	}
	if resp.Price <= 0 {
		return 0, fmt.Errorf("exchange.Quote %s: no price", token)
	}
	return resp.Price, nil
}

// Buy compra token por amountBase unidades de la moneda base.
func (c *Client) Buy(ctx context.Context, s ports.Session, token string, amountBase float64, chain string) (ports.ExecResult, error) {
	return c.order(ctx, "/buy", s, token, amountBase, chain)
}

// Sell vende amount tokens.
func (c *Client) Sell(ctx context.Context, s ports.Session, token string, amount float64, chain string) (ports.ExecResult, error) {
	return c.order(ctx, "/sell", s, token, amount, chain)
}

func (c *Client) order(ctx context.Context, path string, s ports.Session, token string, amount float64, chain string) (ports.ExecResult, error) {
	var env envelope
	err := c.post(ctx, path, s.Token, 0, orderRequest{Token: token, Amount: amount, Chain: chain}, &env)
	if err != nil {
		return ports.ExecResult{}, fmt.Errorf("exchange%s %s: %w", path, token, err)
	}
	return toResult(env, path, token)
}

// toResult traduce el envelope a un resultado explícito: éxito con txRef o
// rechazo de negocio.
func toResult(env envelope, path, token string) (ports.ExecResult, error) {
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "order not filled"
		}
		return ports.ExecResult{}, fmt.Errorf("exchange%s %s: %s: %w", path, token, msg, ports.ErrRejected)
	}
	if env.TxRef == "" {
		return ports.ExecResult{}, fmt.Errorf("exchange%s %s: success without txRef", path, token)
	}
	return ports.ExecResult{TxRef: env.TxRef, Amount: env.Amount, Message: env.Message}, nil
}

// NewListings devuelve una página de los tokens listados más recientes.
func (c *Client) NewListings(ctx context.Context, chain string, page, limit int) ([]domain.WatchedToken, error) {
	q := url.Values{
		"chain": {chain},
		"page":  {strconv.Itoa(page)},
		"limit": {strconv.Itoa(limit)},
	}
	var resp listingsResponse
	if err := c.get(ctx, "/listings?"+q.Encode(), "", &resp); err != nil {
		return nil, fmt.Errorf("exchange.NewListings page %d: %w", page, err)
	}
	out := make([]domain.WatchedToken, 0, len(resp.Tokens))
	for _, d := range resp.Tokens {
		if d.Address == "" {
			continue
		}
		out = append(out, mapToken(d))
	}
	return out, nil
}

// Balance devuelve el saldo custodial y las tenencias.
func (c *Client) Balance(ctx context.Context, s ports.Session, chain string) (domain.BalanceSnapshot, error) {
	var resp balanceResponse
	if err := c.get(ctx, "/balance?"+url.Values{"chain": {chain}}.Encode(), s.Token, &resp); err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("exchange.Balance: %w", err)
	}
	snap := domain.BalanceSnapshot{
		Chain:    chain,
		Base:     resp.Base,
		BaseUSD:  resp.BaseUSD,
		Holdings: make([]domain.Holding, 0, len(resp.Holdings)),
		At:       time.Now().UTC(),
	}
	for _, h := range resp.Holdings {
		snap.Holdings = append(snap.Holdings, domain.Holding(h))
	}
	return snap, nil
}
