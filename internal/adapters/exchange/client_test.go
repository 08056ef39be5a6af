package exchange_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alejandrodnm/snipebot/internal/adapters/exchange"
	"github.com/alejandrodnm/snipebot/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server) *exchange.Client {
	return exchange.NewClient(exchange.Config{BaseURL: srv.URL, APIKey: "k", RatePerSec: 1000})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func TestAuthenticate_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "solana", body["chain"])
		writeJSON(w, map[string]any{"token": "sess-1", "expiresAt": "2026-01-01T00:00:00Z"})
	}))
	defer srv.Close()

	s, err := newTestClient(srv).Authenticate(context.Background(), "solana")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", s.Token)
	assert.Equal(t, "solana", s.Chain)
}

func TestBuy_SuccessEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/buy", r.URL.Path)
		assert.Equal(t, "Bearer sess-1", r.Header.Get("Authorization"))
		writeJSON(w, map[string]any{"success": true, "txRef": "tx-9", "amount": 1234.5})
	}))
	defer srv.Close()

	res, err := newTestClient(srv).Buy(context.Background(), ports.Session{Token: "sess-1"}, "tok", 0.1, "solana")
	require.NoError(t, err)
	assert.Equal(t, "tx-9", res.TxRef)
	assert.InDelta(t, 1234.5, res.Amount, 1e-9)
}

func TestSell_FailureEnvelopeIsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"success": false, "message": "slippage exceeded"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Sell(context.Background(), ports.Session{Token: "s"}, "tok", 10, "solana")
	assert.ErrorIs(t, err, ports.ErrRejected)
	assert.ErrorContains(t, err, "slippage exceeded")
}

func TestBuy_ClientErrorIsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		writeJSON(w, map[string]any{"success": false, "message": "insufficient balance"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Buy(context.Background(), ports.Session{Token: "s"}, "tok", 5, "solana")
	assert.ErrorIs(t, err, ports.ErrRejected)
	assert.ErrorContains(t, err, "insufficient balance")
}

func TestBuy_UnauthorizedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Buy(context.Background(), ports.Session{Token: "old"}, "tok", 5, "solana")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ports.ErrRejected)
}

func TestBuy_OrdersAreNotRetriedOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Buy(context.Background(), ports.Session{Token: "s"}, "tok", 5, "solana")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestQuote_RetriesOnTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.URL.Query().Get("token"))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, map[string]any{"price": 0.00042})
	}))
	defer srv.Close()

	price, err := newTestClient(srv).Quote(context.Background(), "tok", "solana")
	require.NoError(t, err)
	assert.InDelta(t, 0.00042, price, 1e-12)
	assert.Equal(t, int32(2), calls.Load())
}

func TestNewListings_MapsTokens(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/listings", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		writeJSON(w, map[string]any{"tokens": []map[string]any{
			{
				"address": "A1", "name": "Alpha", "symbol": "ALP", "priceUsd": 0.01,
				"marketCap": 12000, "txCount": 55, "bondingCurve": 40, "graduated": false,
				"createdAt":   created.UnixMilli(),
				"security":    map[string]any{"mintable": false, "freezable": true, "buyTax": 1, "sellTax": 2},
				"priceChange": map[string]any{"m5": 12.5},
			},
			{"address": "", "symbol": "SKIP"},
		}})
	}))
	defer srv.Close()

	tokens, err := newTestClient(srv).NewListings(context.Background(), "solana", 2, 50)
	require.NoError(t, err)
	require.Len(t, tokens, 1)

	tok := tokens[0]
	assert.Equal(t, "ALP", tok.Symbol)
	assert.Equal(t, 55, tok.TxCount)
	assert.True(t, tok.CreatedAt.Equal(created))
	require.NotNil(t, tok.Security)
	assert.True(t, tok.Security.Freezable)
	assert.InDelta(t, 2, tok.Security.SellTaxPct, 1e-9)
	require.NotNil(t, tok.PriceChange)
	assert.InDelta(t, 12.5, tok.PriceChange.M5, 1e-9)
}

func TestBalance_MapsHoldings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"base": 1.5, "baseUsd": 225,
			"holdings": []map[string]any{{"address": "A1", "symbol": "ALP", "amount": 1000, "value": 10}},
		})
	}))
	defer srv.Close()

	snap, err := newTestClient(srv).Balance(context.Background(), ports.Session{Token: "s"}, "solana")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, snap.Base, 1e-9)
	require.Len(t, snap.Holdings, 1)
	assert.Equal(t, "ALP", snap.Holdings[0].Symbol)
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	for i := 0; i < 5; i++ {
		_, err := c.Buy(context.Background(), ports.Session{Token: "s"}, "tok", 1, "solana")
		require.Error(t, err)
	}
	assert.Equal(t, "open", c.BreakerState())

	before := calls.Load()
	_, err := c.Buy(context.Background(), ports.Session{Token: "s"}, "tok", 1, "solana")
	assert.ErrorContains(t, err, "exchange unavailable")
	assert.Equal(t, before, calls.Load(), "open breaker must not hit the server")
}
