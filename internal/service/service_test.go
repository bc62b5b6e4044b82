package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/refprice"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var windowStart = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

func testWindow(asset string, start time.Time) domain.MarketWindow {
	return domain.MarketWindow{
		Slug:    domain.WindowSlug(asset, domain.Cadence5m, start),
		Asset:   asset,
		Cadence: domain.Cadence5m,
		Start:   start,
		End:     start.Add(5 * time.Minute),
		Yes:     domain.OutcomeToken{ID: "y", Role: domain.RoleYes},
		No:      domain.OutcomeToken{ID: "n", Role: domain.RoleNo},
	}
}

type fakeFinder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeFinder) FindActiveWindow(_ context.Context, asset string, c domain.Cadence, now time.Time) (domain.MarketWindow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.MarketWindow{}, f.err
	}
	return testWindow(asset, c.AlignStart(now)), nil
}

func TestMarketServiceDiscovery(t *testing.T) {
	now := windowStart.Add(2 * time.Minute)
	finder := &fakeFinder{}
	refs := refprice.NewBuffer(refprice.DefaultWindow)

	s := NewMarketService(finder, refs, []Target{{Asset: "BTC", Cadence: domain.Cadence5m}}, time.Second, nil, discardLogger())
	s.SetClock(func() time.Time { return now })

	_, ok := s.Current("btc", domain.Cadence5m)
	assert.False(t, ok, "nothing discovered yet")

	s.Refresh(context.Background())
	w, ok := s.Current("BTC", domain.Cadence5m)
	require.True(t, ok)
	assert.Equal(t, windowStart, w.Start)
	assert.Zero(t, w.Strike)

	// Cached window is not looked up again while open.
	s.Refresh(context.Background())
	assert.Equal(t, 1, finder.calls)

	// Strike is filled in once a reference price at window start exists.
	refs.Track("btc/usd", 97000, windowStart.Add(-time.Second))
	w, ok = s.Current("btc", domain.Cadence5m)
	require.True(t, ok)
	assert.InDelta(t, 97000, w.Strike, 1e-9)

	// After the window closes the next one is discovered.
	now = windowStart.Add(5*time.Minute + time.Second)
	_, ok = s.Current("btc", domain.Cadence5m)
	assert.False(t, ok)
	s.Refresh(context.Background())
	w, ok = s.Current("btc", domain.Cadence5m)
	require.True(t, ok)
	assert.Equal(t, windowStart.Add(5*time.Minute), w.Start)
	assert.Len(t, s.Windows(), 1)
}

func TestMarketServiceNoWindow(t *testing.T) {
	finder := &fakeFinder{err: domain.ErrNoActiveWindow}
	s := NewMarketService(finder, nil, []Target{{Asset: "eth", Cadence: domain.Cadence15m}}, 0, nil, discardLogger())

	s.Refresh(context.Background())
	_, ok := s.Current("eth", domain.Cadence15m)
	assert.False(t, ok)
	assert.Empty(t, s.Windows())
}

type fakeResolver struct {
	mu     sync.Mutex
	winner domain.Role
	err    error
	calls  int
}

func (f *fakeResolver) GetResolution(context.Context, string, float64) (domain.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.winner, f.err
}

type memOutcomes struct {
	mu   sync.Mutex
	rows map[string]domain.SettlementOutcome
}

func newMemOutcomes() *memOutcomes {
	return &memOutcomes{rows: map[string]domain.SettlementOutcome{}}
}

func (m *memOutcomes) Upsert(_ context.Context, o domain.SettlementOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[o.Slug]; ok {
		return domain.ErrAlreadyExists
	}
	m.rows[o.Slug] = o
	return nil
}

func (m *memOutcomes) GetBySlug(_ context.Context, slug string) (domain.SettlementOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[slug]
	if !ok {
		return o, domain.ErrNotFound
	}
	return o, nil
}

func (m *memOutcomes) ListRecent(_ context.Context, asset string, c domain.Cadence, before time.Time, limit int) ([]domain.SettlementOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SettlementOutcome
	for _, o := range m.rows {
		if o.Asset == asset && o.Cadence == c && o.WindowStart.Before(before) && len(out) < limit {
			out = append(out, o)
		}
	}
	return out, nil
}

type memTrades struct {
	mu     sync.Mutex
	trades []domain.PaperTrade
}

func (m *memTrades) Insert(_ context.Context, t domain.PaperTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, t)
	return nil
}
func (m *memTrades) ExistsForSlug(context.Context, string) (bool, error) { return false, nil }
func (m *memTrades) ListOpen(context.Context) ([]domain.PaperTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PaperTrade
	for _, t := range m.trades {
		if t.Status == domain.TradeStatusOpen {
			out = append(out, t)
		}
	}
	return out, nil
}
func (m *memTrades) ListOpenSlugs(context.Context) ([]string, error) { return nil, nil }
func (m *memTrades) UpdateSettlement(_ context.Context, t domain.PaperTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.trades {
		if m.trades[i].ID == t.ID {
			m.trades[i] = t
			return nil
		}
	}
	return domain.ErrNotFound
}
func (m *memTrades) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.PaperTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PaperTrade(nil), m.trades...), nil
}

type recordingNotifier struct {
	titles []string
}

func (r *recordingNotifier) Notify(_ context.Context, _, title, _ string) error {
	r.titles = append(r.titles, title)
	return nil
}

func newTracker(t *testing.T, gamma Resolver, refs PriceHistory, now *time.Time) (*SettlementTracker, *memOutcomes, *memTrades) {
	t.Helper()
	outcomes := newMemOutcomes()
	trades := &memTrades{}
	s := NewSettlementTracker(SettlementConfig{GammaRetryDelay: time.Millisecond}, gamma, refs, outcomes, trades, discardLogger())
	s.SetClock(func() time.Time { return *now })
	return s, outcomes, trades
}

func TestSettlementFromReferencePrices(t *testing.T) {
	refs := refprice.NewBuffer(refprice.DefaultWindow)
	refs.Track("btc/usd", 100, windowStart)
	refs.Track("btc/usd", 99, windowStart.Add(5*time.Minute-time.Second))

	gamma := &fakeResolver{winner: domain.RoleYes}
	now := windowStart.Add(5 * time.Minute)
	s, outcomes, trades := newTracker(t, gamma, refs, &now)
	n := &recordingNotifier{}
	s.SetNotifier(n)

	w := testWindow("btc", windowStart)
	require.NoError(t, trades.Insert(context.Background(), domain.PaperTrade{
		ID: "t1", Slug: w.Slug, Direction: domain.RoleNo, Price: 0.5, Size: 10, Status: domain.TradeStatusOpen,
	}))
	s.Track(w)
	s.Track(w)
	assert.Equal(t, 1, s.Pending())

	// Inside the buffer nothing happens.
	s.ResolveDue(context.Background())
	assert.Equal(t, 1, s.Pending())

	now = now.Add(3 * time.Second)
	s.ResolveDue(context.Background())
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, 0, gamma.calls, "reference prices are preferred")

	o, err := outcomes.GetBySlug(context.Background(), w.Slug)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleNo, o.Winner)
	assert.Equal(t, SourceRTDS, o.Source)

	assert.Equal(t, domain.TradeStatusWon, trades.trades[0].Status)
	assert.InDelta(t, 10, trades.trades[0].PnL, 1e-9)
	assert.Equal(t, []string{w.Slug + " resolved NO"}, n.titles)

	// A resolved window is not tracked again.
	s.Track(w)
	assert.Equal(t, 0, s.Pending())
}

func TestSettlementEqualPricesResolveYes(t *testing.T) {
	refs := refprice.NewBuffer(refprice.DefaultWindow)
	refs.Track("eth/usd", 3000, windowStart.Add(-time.Second))
	now := windowStart.Add(6 * time.Minute)
	s, _, _ := newTracker(t, nil, refs, &now)

	w := testWindow("eth", windowStart)
	w.Strike = 3000
	s.Track(w)
	s.ResolveDue(context.Background())

	got := s.Recent("eth", domain.Cadence5m, windowStart.Add(time.Hour), 5)
	require.Len(t, got, 1)
	assert.Equal(t, domain.RoleYes, got[0].Winner)
}

func TestSettlementGammaFallback(t *testing.T) {
	gamma := &fakeResolver{err: domain.ErrNotResolved}
	now := windowStart.Add(6 * time.Minute)
	s, outcomes, _ := newTracker(t, gamma, nil, &now)

	w := testWindow("sol", windowStart)
	s.Track(w)
	s.ResolveDue(context.Background())
	assert.Equal(t, 3, gamma.calls, "gamma is retried")
	assert.Equal(t, 1, s.Pending(), "unresolved window stays pending")

	gamma.err = nil
	gamma.winner = domain.RoleYes
	now = now.Add(10 * time.Second)
	s.ResolveDue(context.Background())
	assert.Equal(t, 0, s.Pending())
	o, err := outcomes.GetBySlug(context.Background(), w.Slug)
	require.NoError(t, err)
	assert.Equal(t, SourceGamma, o.Source)
	assert.Equal(t, domain.RoleYes, o.Winner)
}

func TestSettlementGivesUp(t *testing.T) {
	gamma := &fakeResolver{err: domain.ErrNotResolved}
	now := windowStart.Add(time.Hour)
	s, _, _ := newTracker(t, gamma, nil, &now)

	s.Track(testWindow("btc", windowStart))
	s.ResolveDue(context.Background())
	assert.Equal(t, 0, s.Pending())
}

func TestSettlementRecentOrderAndSeed(t *testing.T) {
	now := windowStart.Add(time.Hour)
	s, outcomes, _ := newTracker(t, nil, nil, &now)

	for i := 0; i < 3; i++ {
		start := windowStart.Add(time.Duration(i) * 5 * time.Minute)
		require.NoError(t, outcomes.Upsert(context.Background(), domain.SettlementOutcome{
			Slug:        domain.WindowSlug("btc", domain.Cadence5m, start),
			Asset:       "btc",
			Cadence:     domain.Cadence5m,
			WindowStart: start,
			Winner:      domain.Role(i % 2),
		}))
	}
	require.NoError(t, s.Seed(context.Background(), []Target{{Asset: "btc", Cadence: domain.Cadence5m}}))

	got := s.Recent("btc", domain.Cadence5m, windowStart.Add(10*time.Minute), 5)
	require.Len(t, got, 2, "only windows starting before the given time")
	assert.Equal(t, windowStart.Add(5*time.Minute), got[0].WindowStart, "newest first")
	assert.Equal(t, windowStart, got[1].WindowStart)
}

func TestSettlementSeedTracksOpenTrades(t *testing.T) {
	gamma := &fakeResolver{winner: domain.RoleYes}
	now := windowStart.Add(time.Hour)
	s, outcomes, trades := newTracker(t, gamma, nil, &now)
	ctx := context.Background()

	// Left open by a previous run whose window closed long ago.
	w := testWindow("btc", windowStart.Add(50*time.Minute))
	require.NoError(t, trades.Insert(ctx, domain.PaperTrade{
		ID: "t1", Slug: w.Slug, Asset: "btc", Cadence: domain.Cadence5m,
		Direction: domain.RoleYes, Price: 0.5, Size: 10, Status: domain.TradeStatusOpen,
	}))
	require.NoError(t, trades.Insert(ctx, domain.PaperTrade{
		ID: "t2", Slug: w.Slug, Asset: "btc", Cadence: domain.Cadence5m,
		Direction: domain.RoleNo, Price: 0.5, Size: 10, Status: domain.TradeStatusOpen,
	}))

	require.NoError(t, s.Seed(ctx, []Target{{Asset: "btc", Cadence: domain.Cadence5m}}))
	assert.Equal(t, 1, s.Pending(), "one window for both trades")

	s.ResolveDue(ctx)
	assert.Equal(t, 1, gamma.calls)
	assert.Equal(t, 0, s.Pending())
	_, err := outcomes.GetBySlug(ctx, w.Slug)
	require.NoError(t, err)

	open, err := trades.ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.Equal(t, domain.TradeStatusWon, trades.trades[0].Status)
	assert.Equal(t, domain.TradeStatusLost, trades.trades[1].Status)

	n, err := s.TrackOpenTrades(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTrackOpenTradesUsesRecordedOutcome(t *testing.T) {
	gamma := &fakeResolver{winner: domain.RoleYes}
	now := windowStart.Add(time.Hour)
	s, outcomes, trades := newTracker(t, gamma, nil, &now)
	ctx := context.Background()

	w := testWindow("eth", windowStart)
	require.NoError(t, outcomes.Upsert(ctx, domain.SettlementOutcome{
		Slug: w.Slug, Asset: "eth", Cadence: domain.Cadence5m, WindowStart: w.Start,
		Winner: domain.RoleNo, Source: SourceGamma, ResolvedAt: w.End,
	}))
	require.NoError(t, trades.Insert(ctx, domain.PaperTrade{
		ID: "t1", Slug: w.Slug, Direction: domain.RoleNo, Price: 0.4, Size: 8, Status: domain.TradeStatusOpen,
	}))
	require.NoError(t, trades.Insert(ctx, domain.PaperTrade{
		ID: "bad", Slug: "not-a-window", Status: domain.TradeStatusOpen,
	}))

	n, err := s.TrackOpenTrades(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "malformed slugs are skipped and known outcomes settle at once")
	assert.Zero(t, s.Pending())
	assert.Zero(t, gamma.calls)
	assert.Equal(t, domain.TradeStatusWon, trades.trades[0].Status)
	assert.InDelta(t, 12, trades.trades[0].PnL, 1e-9)

	got := s.Recent("eth", domain.Cadence5m, windowStart.Add(time.Hour), 5)
	require.Len(t, got, 1)
}

func TestTrackOpenTradesKeepsLiveWindowUntilItCloses(t *testing.T) {
	gamma := &fakeResolver{winner: domain.RoleYes}
	now := windowStart.Add(time.Minute)
	s, _, trades := newTracker(t, gamma, nil, &now)
	ctx := context.Background()

	w := testWindow("sol", windowStart)
	require.NoError(t, trades.Insert(ctx, domain.PaperTrade{
		ID: "t1", Slug: w.Slug, Direction: domain.RoleYes, Price: 0.5, Size: 10, Status: domain.TradeStatusOpen,
	}))
	n, err := s.TrackOpenTrades(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s.ResolveDue(ctx)
	assert.Zero(t, gamma.calls, "window still open")
	assert.Equal(t, 1, s.Pending())

	// The engine tracking the same window later does not duplicate it.
	s.Track(w)
	assert.Equal(t, 1, s.Pending())
}

func TestSummarize(t *testing.T) {
	sum := Summarize([]domain.PaperTrade{
		{Status: domain.TradeStatusWon, PnL: 5},
		{Status: domain.TradeStatusLost, PnL: -10},
		{Status: domain.TradeStatusWon, PnL: 2},
		{Status: domain.TradeStatusOpen},
	})
	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 1, sum.Open)
	assert.InDelta(t, 2.0/3.0, sum.WinRate, 1e-9)
	assert.InDelta(t, -3, sum.TotalPnL, 1e-9)
}
