package analyst

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/snipebot/internal/domain"
	"github.com/alejandrodnm/snipebot/internal/telemetry"
)

type mockStore struct {
	watchlist []domain.WatchedToken
	loadErr   error
	scores    []domain.TokenScore
	saves     int
}

func (m *mockStore) LoadWatchlist() ([]domain.WatchedToken, error) { return m.watchlist, m.loadErr }

func (m *mockStore) SaveScores(s []domain.TokenScore) error {
	m.scores = s
	m.saves++
	return nil
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func token(addr string, curve float64, txs int, mcap float64) domain.WatchedToken {
	return domain.WatchedToken{
		Address:      addr,
		Symbol:       "T" + addr,
		Price:        0.001,
		MarketCap:    mcap,
		TxCount:      txs,
		BondingCurve: curve,
		CreatedAt:    now.Add(-10 * time.Minute),
	}
}

func TestRank_OrdersByScoreAndDropsRejected(t *testing.T) {
	rugged := token("mint", 90, 200, 10_000)
	rugged.Security = &domain.Security{Mintable: true}
	old := token("old", 90, 200, 10_000)
	old.CreatedAt = now.Add(-2 * time.Hour)

	tokens := []domain.WatchedToken{
		token("low", 10, 6, 1_500),
		token("high", 90, 150, 20_000),
		rugged,
		token("mid", 50, 60, 3_000),
		old,
		token("tiny", 90, 150, 900),
	}

	scores, rejects := Rank(tokens, now)

	require.Len(t, scores, 3)
	assert.Equal(t, "high", scores[0].Address)
	assert.Equal(t, "mid", scores[1].Address)
	assert.Equal(t, "low", scores[2].Address)
	assert.GreaterOrEqual(t, scores[0].Score, scores[1].Score)
	assert.True(t, scores[0].GraduationCandidate)

	reasons := map[string]string{}
	for _, r := range rejects {
		reasons[r.Address] = r.Reason
	}
	assert.Len(t, reasons, 3)
	assert.Contains(t, reasons["mint"], "mint")
	assert.Contains(t, reasons["old"], "too old")
	assert.Contains(t, reasons["tiny"], "market cap")
}

func TestRank_IsDeterministic(t *testing.T) {
	tokens := []domain.WatchedToken{
		token("a", 40, 30, 6_000),
		token("b", 40, 30, 6_000),
		token("c", 88, 120, 50_000),
	}
	first, _ := Rank(tokens, now)
	second, _ := Rank([]domain.WatchedToken{tokens[2], tokens[1], tokens[0]}, now)
	assert.Equal(t, first, second)
	assert.Equal(t, "a", first[1].Address, "ties break by address")
}

func TestAnalyst_TickReplacesScoresWholesale(t *testing.T) {
	store := &mockStore{watchlist: []domain.WatchedToken{token("a", 50, 60, 6_000)}}
	a := New(store, time.Second, telemetry.New())
	a.now = func() time.Time { return now }

	require.NoError(t, a.Tick(context.Background()))
	require.Len(t, store.scores, 1)

	store.watchlist = nil
	require.NoError(t, a.Tick(context.Background()))
	assert.Empty(t, store.scores)
	assert.Equal(t, 2, store.saves)
}

func TestAnalyst_TickFailsOnUnreadableWatchlist(t *testing.T) {
	store := &mockStore{loadErr: errors.New("corrupt")}
	a := New(store, time.Second, telemetry.New())

	assert.Error(t, a.Tick(context.Background()))
	assert.Zero(t, store.saves)
}
