package book

import (
	"math/rand"
	"testing"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	yesTok = domain.OutcomeToken{ID: "yes-token", Role: domain.RoleYes}
	noTok  = domain.OutcomeToken{ID: "no-token", Role: domain.RoleNo}
)

func lvl(price, size float64) domain.PriceLevel {
	return domain.PriceLevel{PriceTicks: domain.TicksFromPrice(price), Size: size}
}

func newBoundStore(t *testing.T, now time.Time) *Store {
	t.Helper()
	s := NewStore()
	s.Reset(yesTok, noTok)
	require.NoError(t, s.ApplySnapshot(yesTok.ID, nil, nil, now, ""))
	require.NoError(t, s.ApplySnapshot(noTok.ID, nil, nil, now, ""))
	return s
}

func TestApplySnapshotNormalizesOrder(t *testing.T) {
	now := time.Now()
	s := newBoundStore(t, now)

	err := s.ApplySnapshot(yesTok.ID,
		[]domain.PriceLevel{lvl(0.40, 5), lvl(0.45, 1), lvl(0.30, 2), lvl(0.44, 0)},
		[]domain.PriceLevel{lvl(0.60, 3), lvl(0.52, 4), lvl(0.99, 1)},
		now, "h1")
	require.NoError(t, err)

	b, err := s.Book(yesTok.ID, 0)
	require.NoError(t, err)
	require.Len(t, b.Bids, 3, "zero-size levels are dropped")
	assert.Equal(t, domain.TicksFromPrice(0.45), b.Bids[0].PriceTicks)
	assert.Equal(t, domain.TicksFromPrice(0.30), b.Bids[2].PriceTicks)
	assert.Equal(t, domain.TicksFromPrice(0.52), b.Asks[0].PriceTicks)
	assert.Equal(t, domain.TicksFromPrice(0.99), b.Asks[2].PriceTicks)
	assert.Equal(t, "h1", b.Hash)
}

// Any delivery order of the same set of deltas must produce the same
// normalized ladder.
func TestDeltaDeliveryOrderIsIrrelevant(t *testing.T) {
	now := time.Now()
	rng := rand.New(rand.NewSource(7))

	var changes []domain.LevelChange
	for i := 1; i <= 20; i++ {
		changes = append(changes,
			domain.LevelChange{Side: domain.SideBid, PriceTicks: int64(i) * 10_000, Size: float64(i)},
			domain.LevelChange{Side: domain.SideAsk, PriceTicks: 500_000 + int64(i)*10_000, Size: float64(i) * 2},
		)
	}

	var reference domain.OrderBook
	for round := 0; round < 25; round++ {
		s := newBoundStore(t, now)
		shuffled := append([]domain.LevelChange(nil), changes...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		for _, ch := range shuffled {
			require.NoError(t, s.ApplyDelta(yesTok.ID, []domain.LevelChange{ch}, now, ""))
		}
		b, err := s.Book(yesTok.ID, 0)
		require.NoError(t, err)

		for i := 1; i < len(b.Bids); i++ {
			require.Greater(t, b.Bids[i-1].PriceTicks, b.Bids[i].PriceTicks)
		}
		for i := 1; i < len(b.Asks); i++ {
			require.Less(t, b.Asks[i-1].PriceTicks, b.Asks[i].PriceTicks)
		}
		if round == 0 {
			reference = b
			continue
		}
		assert.Equal(t, reference.Bids, b.Bids)
		assert.Equal(t, reference.Asks, b.Asks)
	}
}

func TestDeltaSizeZeroRemovesLevel(t *testing.T) {
	now := time.Now()
	s := newBoundStore(t, now)
	require.NoError(t, s.ApplySnapshot(noTok.ID, []domain.PriceLevel{lvl(0.40, 5), lvl(0.41, 6)}, []domain.PriceLevel{lvl(0.50, 1)}, now, ""))

	require.NoError(t, s.ApplyDelta(noTok.ID, []domain.LevelChange{
		{Side: domain.SideBid, PriceTicks: domain.TicksFromPrice(0.41), Size: 0},
		{Side: domain.SideBid, PriceTicks: domain.TicksFromPrice(0.40), Size: 9},
	}, now, ""))

	b, err := s.Book(noTok.ID, 0)
	require.NoError(t, err)
	require.Len(t, b.Bids, 1)
	assert.Equal(t, 9.0, b.Bids[0].Size)
	assert.Equal(t, uint64(3), b.Seq)
}

func TestTopDepth(t *testing.T) {
	now := time.Now()
	s := newBoundStore(t, now)
	require.NoError(t, s.ApplySnapshot(yesTok.ID,
		[]domain.PriceLevel{lvl(0.1, 1), lvl(0.2, 1), lvl(0.3, 1), lvl(0.4, 1)}, nil, now, ""))

	v := s.View(now, 2, 0)
	require.Len(t, v.Yes.Bids, 2)
	assert.Equal(t, domain.TicksFromPrice(0.4), v.Yes.Bids[0].PriceTicks)
	assert.False(t, v.Stale)
}

func TestCrossedBookIsFault(t *testing.T) {
	now := time.Now()
	s := newBoundStore(t, now)

	err := s.ApplySnapshot(yesTok.ID, []domain.PriceLevel{lvl(0.55, 1)}, []domain.PriceLevel{lvl(0.50, 1)}, now, "")
	require.ErrorIs(t, err, domain.ErrCrossedBook)
	assert.True(t, s.IsStale(now, 0))

	require.NoError(t, s.ApplySnapshot(yesTok.ID, []domain.PriceLevel{lvl(0.45, 1)}, []domain.PriceLevel{lvl(0.50, 1)}, now, ""))
	assert.False(t, s.IsStale(now, 0))
}

func TestStaleness(t *testing.T) {
	now := time.Now()

	s := NewStore()
	assert.True(t, s.IsStale(now, 0), "unbound store is stale")

	s.Reset(yesTok, noTok)
	assert.True(t, s.IsStale(now, 0), "no snapshots yet")

	require.NoError(t, s.ApplySnapshot(yesTok.ID, nil, nil, now, ""))
	assert.True(t, s.IsStale(now, 0), "one token still cold")

	require.NoError(t, s.ApplySnapshot(noTok.ID, nil, nil, now, ""))
	assert.False(t, s.IsStale(now, 0))
	assert.True(t, s.IsStale(now.Add(time.Minute), 30*time.Second), "age exceeded")
	assert.False(t, s.IsStale(now.Add(time.Minute), 0), "age check disabled")

	s.MarkStale()
	assert.True(t, s.IsStale(now, 0), "disconnect marks stale")
	require.NoError(t, s.ApplySnapshot(yesTok.ID, nil, nil, now, ""))
	assert.True(t, s.IsStale(now, 0))
	require.NoError(t, s.ApplySnapshot(noTok.ID, nil, nil, now, ""))
	assert.False(t, s.IsStale(now, 0))
}

func TestUnknownTokenIgnored(t *testing.T) {
	s := newBoundStore(t, time.Now())
	err := s.ApplyDelta("other", []domain.LevelChange{{Side: domain.SideBid, PriceTicks: 1, Size: 1}}, time.Now(), "")
	assert.ErrorIs(t, err, domain.ErrUnknownToken)
}

func TestResetClearsLevels(t *testing.T) {
	now := time.Now()
	s := newBoundStore(t, now)
	require.NoError(t, s.ApplySnapshot(yesTok.ID, []domain.PriceLevel{lvl(0.4, 1)}, nil, now, ""))

	next := domain.OutcomeToken{ID: "next-yes", Role: domain.RoleYes}
	s.Reset(next, domain.OutcomeToken{ID: "next-no", Role: domain.RoleNo})
	assert.Equal(t, []string{"next-yes", "next-no"}, s.Tokens())
	assert.True(t, s.IsStale(now, 0))

	_, err := s.Book(yesTok.ID, 0)
	assert.ErrorIs(t, err, domain.ErrUnknownToken)
	b, err := s.Book("next-yes", 0)
	require.NoError(t, err)
	assert.Empty(t, b.Bids)
}
