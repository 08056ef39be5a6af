package filestore_test

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/snipebot/internal/adapters/filestore"
	"github.com/alejandrodnm/snipebot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *filestore.Store {
	t.Helper()
	s, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	return s
}

func openSwing(id string) domain.Position {
	return domain.Position{
		ID:              id,
		Strategy:        domain.StrategySwing,
		TokenAddress:    "addr-" + id,
		TokenSymbol:     "SYM",
		EntryPrice:      1,
		CurrentPrice:    1,
		EntryTime:       time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		TotalAmount:     300,
		RemainingAmount: 300,
		AmountSpent:     300,
		Status:          domain.PositionOpen,
	}
}

func TestStore_MissingFilesAreEmpty(t *testing.T) {
	s := newStore(t)

	tokens, err := s.LoadWatchlist()
	require.NoError(t, err)
	assert.Empty(t, tokens)

	positions, err := s.LoadPositions(domain.StrategyScalp)
	require.NoError(t, err)
	assert.Empty(t, positions)

	bal, err := s.LoadBalance()
	require.NoError(t, err)
	assert.Nil(t, bal)
}

func TestStore_CorruptFileIsReported(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(s.Path(filestore.ScoresFile), []byte("{not json"), 0o644))

	_, err := s.LoadScores()
	assert.ErrorIs(t, err, filestore.ErrCorrupt)
}

func TestStore_DocumentsCarryLastUpdated(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.SaveScores(nil))

	raw, err := os.ReadFile(s.Path(filestore.ScoresFile))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"lastUpdated"`)
	assert.Contains(t, string(raw), `"scores": []`)
}

func TestStore_WatchlistRoundTrip(t *testing.T) {
	s := newStore(t)
	in := []domain.WatchedToken{{Address: "a1", Symbol: "AAA", Price: 0.5}}
	require.NoError(t, s.SaveWatchlist(in))

	out, err := s.LoadWatchlist()
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "AAA", out[0].Symbol)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "temp files must not be left behind")
	}
}

func TestStore_InsertRejectsDuplicateID(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.InsertPosition(openSwing("p1")))

	err := s.InsertPosition(openSwing("p1"))
	assert.ErrorIs(t, err, filestore.ErrConflict)
}

func TestStore_UpdatePositionBumpsVersion(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.InsertPosition(openSwing("p1")))

	got, err := s.UpdatePosition(domain.StrategySwing, "p1", func(p *domain.Position) error {
		p.ObservePrice(1.1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.InDelta(t, 1.1, got.CurrentPrice, 1e-12)
}

func TestStore_UpdatePositionConflictLeavesRecordUntouched(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.InsertPosition(openSwing("p1")))

	_, err := s.UpdatePosition(domain.StrategySwing, "p1", func(p *domain.Position) error {
		p.CurrentPrice = 9
		return filestore.ErrConflict
	})
	assert.ErrorIs(t, err, filestore.ErrConflict)

	all, err := s.LoadPositions(domain.StrategySwing)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, all[0].CurrentPrice, 1e-12)
	assert.Equal(t, int64(1), all[0].Version)
}

func TestStore_ClosedPositionIsImmutable(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.InsertPosition(openSwing("p1")))

	_, err := s.UpdatePosition(domain.StrategySwing, "p1", func(p *domain.Position) error {
		_, err := p.ApplyExit(domain.Exit{Amount: p.RemainingAmount, Price: 0.9, At: time.Now(), Reason: domain.ExitStopLoss, Close: true})
		return err
	})
	require.NoError(t, err)

	called := false
	_, err = s.UpdatePosition(domain.StrategySwing, "p1", func(p *domain.Position) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrPositionClosed)
	assert.False(t, called)
}

func TestStore_UpdateUnknownPosition(t *testing.T) {
	s := newStore(t)
	_, err := s.UpdatePosition(domain.StrategyScalp, "nope", func(*domain.Position) error { return nil })
	assert.ErrorIs(t, err, filestore.ErrNotFound)
}

func TestStore_ConcurrentUpdatesAreSerialized(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.InsertPosition(openSwing("p1")))

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdatePosition(domain.StrategySwing, "p1", func(p *domain.Position) error {
				p.CurrentPrice += 0.01
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := s.LoadPositions(domain.StrategySwing)
	require.NoError(t, err)
	assert.Equal(t, int64(writers+1), all[0].Version)
	assert.InDelta(t, 1.0+0.01*writers, all[0].CurrentPrice, 1e-9)
}

func TestStore_TradeLogIsAppendOnly(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.AppendTrades(domain.TradeLogEntry{ID: "t1"}, domain.TradeLogEntry{ID: "t2"}))
	before, err := s.LoadTrades()
	require.NoError(t, err)

	require.NoError(t, s.AppendTrades(domain.TradeLogEntry{ID: "t3"}))
	after, err := s.LoadTrades()
	require.NoError(t, err)

	require.Len(t, after, 3)
	assert.Equal(t, before, after[:len(before)])
	assert.Equal(t, "t3", after[2].ID)
}

func TestStore_OpenPositionsFiltersClosed(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.InsertPosition(openSwing("p1")))
	closed := openSwing("p2")
	closed.Status = domain.PositionClosed
	require.NoError(t, s.InsertPosition(closed))

	open, err := s.OpenPositions(domain.StrategySwing)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "p1", open[0].ID)
}

func TestStore_HealthKeepsOtherAgents(t *testing.T) {
	s := newStore(t)
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveHealth(domain.AgentHealth{Agent: "risk", Feed: "up", Breaker: "closed", At: at}))
	require.NoError(t, s.SaveHealth(domain.AgentHealth{Agent: "trader", Breaker: "open", At: at}))
	require.NoError(t, s.SaveHealth(domain.AgentHealth{Agent: "risk", Feed: "down", Reconnects: 3, Breaker: "closed", At: at}))

	got, err := s.LoadHealth()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "down", got["risk"].Feed)
	assert.Equal(t, int64(3), got["risk"].Reconnects)
	assert.Equal(t, "open", got["trader"].Breaker)
}
