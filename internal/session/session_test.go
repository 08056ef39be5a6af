package session_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alejandrodnm/snipebot/internal/ports"
	"github.com/alejandrodnm/snipebot/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAuth struct {
	calls int
	err   error
}

func (m *mockAuth) Authenticate(_ context.Context, chain string) (ports.Session, error) {
	m.calls++
	if m.err != nil {
		return ports.Session{}, m.err
	}
	return ports.Session{Token: fmt.Sprintf("tok-%d", m.calls), Chain: chain}, nil
}

func TestProvider_GetAuthenticatesOnce(t *testing.T) {
	auth := &mockAuth{}
	p := session.NewProvider(auth, "solana")

	s1, err := p.Get(context.Background())
	require.NoError(t, err)
	s2, err := p.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, s1, s2)
	assert.Equal(t, 1, auth.calls)
	assert.Equal(t, "solana", s1.Chain)
}

func TestRetry_RefreshesAndRetriesOnceOnTransientError(t *testing.T) {
	auth := &mockAuth{}
	p := session.NewProvider(auth, "solana")

	var tokens []string
	out, err := session.Retry(context.Background(), p, "buy", func(s ports.Session) (string, error) {
		tokens = append(tokens, s.Token)
		if len(tokens) == 1 {
			return "", errors.New("connection reset")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, []string{"tok-1", "tok-2"}, tokens)
	assert.Equal(t, 2, p.Refreshes())
}

func TestRetry_GivesUpAfterSecondFailure(t *testing.T) {
	p := session.NewProvider(&mockAuth{}, "solana")

	calls := 0
	_, err := session.Retry(context.Background(), p, "sell", func(ports.Session) (int, error) {
		calls++
		return 0, errors.New("timeout")
	})

	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetry_BusinessRejectionIsNotRetried(t *testing.T) {
	p := session.NewProvider(&mockAuth{}, "solana")

	calls := 0
	_, err := session.Retry(context.Background(), p, "buy", func(ports.Session) (int, error) {
		calls++
		return 0, fmt.Errorf("insufficient balance: %w", ports.ErrRejected)
	})

	assert.ErrorIs(t, err, ports.ErrRejected)
	assert.Equal(t, 1, calls)
}

func TestRetry_AuthFailureSurfaces(t *testing.T) {
	p := session.NewProvider(&mockAuth{err: errors.New("bad key")}, "solana")

	_, err := session.Retry(context.Background(), p, "buy", func(ports.Session) (int, error) {
		t.Fatal("fn must not run without a session")
		return 0, nil
	})
	assert.ErrorIs(t, err, session.ErrNoSession)
	assert.ErrorContains(t, err, "bad key")
}

func TestProvider_OnRefreshCountsSuccessfulAuths(t *testing.T) {
	auth := &mockAuth{}
	p := session.NewProvider(auth, "solana")
	n := 0
	p.OnRefresh(func() { n++ })

	_, err := p.Get(context.Background())
	require.NoError(t, err)
	_, err = p.Refresh(context.Background())
	require.NoError(t, err)

	auth.err = errors.New("down")
	_, err = p.Refresh(context.Background())
	require.Error(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, 2, p.Refreshes())
}
