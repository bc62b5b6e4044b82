package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/updownbot/internal/book"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/policy"
	"github.com/alanyoungcy/updownbot/internal/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1767225600, 0)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func window(start time.Time, n int) domain.MarketWindow {
	return domain.MarketWindow{
		Slug:    domain.WindowSlug("btc", domain.Cadence5m, start),
		Asset:   "btc",
		Cadence: domain.Cadence5m,
		Start:   start,
		End:     start.Add(5 * time.Minute),
		Yes:     domain.OutcomeToken{ID: "yes-" + string(rune('a'+n)), Role: domain.RoleYes},
		No:      domain.OutcomeToken{ID: "no-" + string(rune('a'+n)), Role: domain.RoleNo},
	}
}

type fakeWindows struct {
	mu sync.Mutex
	w  domain.MarketWindow
	ok bool
}

func (f *fakeWindows) set(w domain.MarketWindow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.w, f.ok = w, true
}

func (f *fakeWindows) Current(string, domain.Cadence) (domain.MarketWindow, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.w, f.ok
}

type fakeHandoff struct {
	accept  bool
	intents []domain.TradeIntent
	traded  map[string]bool
}

func (f *fakeHandoff) Submit(i domain.TradeIntent) bool {
	if !f.accept {
		return false
	}
	f.intents = append(f.intents, i)
	f.traded[i.Window.Slug] = true
	return true
}

func (f *fakeHandoff) HasTraded(slug string) bool { return f.traded[slug] }

type fakeFeed struct{ tokens [][]string }

func (f *fakeFeed) SetTokens(t []string) { f.tokens = append(f.tokens, t) }

type fakeSettler struct{ tracked []string }

func (f *fakeSettler) Track(w domain.MarketWindow) { f.tracked = append(f.tracked, w.Slug) }

type fakeJournal struct{ recs []domain.DecisionRecord }

func (f *fakeJournal) Append(r domain.DecisionRecord) { f.recs = append(f.recs, r) }

type history []domain.SettlementOutcome

func (h history) Recent(asset string, cadence domain.Cadence, before time.Time, n int) []domain.SettlementOutcome {
	var out []domain.SettlementOutcome
	for _, o := range h {
		if o.WindowStart.Before(before) && len(out) < n {
			out = append(out, o)
		}
	}
	return out
}

func upStreak(n int) history {
	var h history
	for i := 1; i <= n; i++ {
		h = append(h, domain.SettlementOutcome{
			Asset: "btc", Cadence: domain.Cadence5m,
			WindowStart: t0.Add(-time.Duration(i) * 5 * time.Minute),
			Winner:      domain.RoleYes,
		})
	}
	return h
}

type panicker struct{}

func (panicker) Source() domain.SignalSource                     { return domain.SourceWhale }
func (panicker) Compute(strategy.Input) (*domain.Signal, error) { panic("boom") }
func (panicker) Reset()                                          {}

type harness struct {
	loop    *Loop
	store   *book.Store
	windows *fakeWindows
	handoff *fakeHandoff
	feed    *fakeFeed
	settler *fakeSettler
	journal *fakeJournal
	imb     *strategy.Imbalance
}

func newHarness(t *testing.T, gp policy.GateParams, extra ...strategy.Computer) *harness {
	t.Helper()
	sizing, err := policy.NewSizing([]policy.SizeBand{
		{Lower: 180 * time.Second, Upper: 240 * time.Second, Size: 8},
		{Lower: 120 * time.Second, Upper: 180 * time.Second, Size: 10},
		{Lower: 0, Upper: 120 * time.Second, Size: 12},
	}, 0.85, false)
	require.NoError(t, err)

	h := &harness{
		store:   book.NewStore(),
		windows: &fakeWindows{},
		handoff: &fakeHandoff{accept: true, traded: map[string]bool{}},
		feed:    &fakeFeed{},
		settler: &fakeSettler{},
		journal: &fakeJournal{},
		imb:     strategy.NewImbalance(strategy.ImbalanceParams{TopK: 5, Threshold: 0.3, WindowSize: 4}),
	}
	computers := []strategy.Computer{
		strategy.NewMispricing(strategy.MispricingParams{CheapAskFloor: 0.05, ArbSumThreshold: 0.98}),
		strategy.NewWhale(strategy.WhaleParams{TopN: 10, MinSize: 5000, LayeringLevels: 3, SweepLevels: 3, SpoofRepeats: 3, SpoofWindow: 10 * time.Second}),
		h.imb,
		strategy.NewMomentum(3, upStreak(3)),
	}
	computers = append(computers, extra...)

	h.loop, err = New(Config{
		Asset:        "btc",
		Cadence:      domain.Cadence5m,
		TickInterval: 500 * time.Millisecond,
		Depth:        10,
		Policy:       strategy.PriorityQuorum,
		Combine:      strategy.CombineOptions{Override: domain.SourceMispricing, Quorum: 2},
	}, Deps{
		Book:      h.store,
		Computers: computers,
		Gate:      policy.NewGate(gp),
		Sizing:    sizing,
		Windows:   h.windows,
		Feed:      h.feed,
		Handoff:   h.handoff,
		Settler:   h.settler,
		Journal:   h.journal,
	}, testLogger())
	require.NoError(t, err)
	return h
}

func defaultGate() policy.GateParams {
	return policy.GateParams{EntryWindow: 240 * time.Second, BandStart: 40 * time.Second, BandEnd: 25 * time.Second}
}

func lvl(p, s float64) []domain.PriceLevel {
	return []domain.PriceLevel{{PriceTicks: domain.TicksFromPrice(p), Size: s}}
}

// bidHeavy loads books with bid volume 1000 and ask volume 200 across both
// tokens, YES ask 0.60.
func (h *harness) bidHeavy(t *testing.T, w domain.MarketWindow, at time.Time) {
	t.Helper()
	require.NoError(t, h.store.ApplySnapshot(w.Yes.ID, lvl(0.58, 500), lvl(0.60, 100), at, ""))
	require.NoError(t, h.store.ApplySnapshot(w.No.ID, lvl(0.38, 500), lvl(0.42, 100), at, ""))
}

// arm binds the loop to w with a warm book and returns the tick time
// immediately before the first armed tick.
func (h *harness) arm(t *testing.T, w domain.MarketWindow, remaining time.Duration) time.Time {
	t.Helper()
	h.windows.set(w)
	start := w.End.Add(-remaining).Add(-2 * time.Second)
	res := h.loop.Tick(start)
	require.Equal(t, StateWaiting, res.State)
	require.Equal(t, "book not warm", res.Reason)
	h.bidHeavy(t, w, start)
	return start
}

func TestEndToEndSustainedBidPressureFires(t *testing.T) {
	h := newHarness(t, defaultGate())
	w := window(t0, 0)
	start := h.arm(t, w, 100*time.Second)

	var res TickResult
	for i := 1; i <= 4; i++ {
		now := start.Add(time.Duration(i) * 500 * time.Millisecond)
		res = h.loop.Tick(now.Add(1500 * time.Millisecond))
		if i < 4 {
			require.Equal(t, StateArmed, res.State, res.Reason)
			require.Nil(t, res.Intent)
		}
	}

	require.Equal(t, StateFired, res.State, res.Reason)
	assert.Equal(t, policy.GateOpen, res.Gate.State)
	require.True(t, res.Decision.Action)
	assert.Equal(t, domain.RoleYes, res.Decision.Direction)

	require.Len(t, h.handoff.intents, 1)
	intent := h.handoff.intents[0]
	assert.Equal(t, 12.0, intent.Size)
	assert.Equal(t, w.Yes.ID, intent.TokenID)
	assert.InDelta(t, 0.60, intent.PriceLimitHint, 1e-9)
	assert.Equal(t, w.Slug, intent.Window.Slug)
	assert.NotEmpty(t, intent.ID)

	// At most one intent per window.
	res = h.loop.Tick(w.End.Add(-90 * time.Second))
	assert.Equal(t, StateFired, res.State)
	assert.Len(t, h.handoff.intents, 1)
}

func TestEndToEndGateBandSuppresses(t *testing.T) {
	h := newHarness(t, defaultGate())
	w := window(t0, 0)
	start := h.arm(t, w, 35*time.Second)

	var res TickResult
	for i := 1; i <= 8; i++ {
		res = h.loop.Tick(start.Add(time.Duration(i) * 250 * time.Millisecond))
	}
	require.True(t, res.Decision.Action, "signal and sizing are valid")
	assert.Equal(t, policy.GateBlocked, res.Gate.State)
	assert.Equal(t, StateArmed, res.State)
	assert.Nil(t, res.Intent)
	assert.Empty(t, h.handoff.intents)
	assert.Contains(t, res.Reason, "gate blocked")
}

func TestAlreadyTradedWindowIsFired(t *testing.T) {
	h := newHarness(t, defaultGate())
	w := window(t0, 0)
	h.handoff.traded[w.Slug] = true
	h.windows.set(w)

	res := h.loop.Tick(w.End.Add(-100 * time.Second))
	assert.Equal(t, StateFired, res.State)
	assert.Empty(t, h.handoff.intents)
}

func TestRejectedHandoffStaysArmed(t *testing.T) {
	h := newHarness(t, defaultGate())
	h.handoff.accept = false
	w := window(t0, 0)
	start := h.arm(t, w, 100*time.Second)

	var res TickResult
	for i := 1; i <= 5; i++ {
		res = h.loop.Tick(start.Add(time.Duration(i) * 500 * time.Millisecond))
	}
	assert.Equal(t, StateArmed, res.State)
	assert.Equal(t, "hand-off rejected intent", res.Reason)

	h.handoff.accept = true
	res = h.loop.Tick(start.Add(3 * time.Second))
	assert.Equal(t, StateFired, res.State)
	assert.Len(t, h.handoff.intents, 1)
}

func TestPanickingComputerIsIsolated(t *testing.T) {
	h := newHarness(t, defaultGate(), panicker{})
	w := window(t0, 0)
	start := h.arm(t, w, 100*time.Second)

	var res TickResult
	for i := 1; i <= 4; i++ {
		res = h.loop.Tick(start.Add(time.Duration(i) * 500 * time.Millisecond))
	}
	assert.Equal(t, StateFired, res.State, res.Reason)
}

func TestWindowCloseAndRollover(t *testing.T) {
	h := newHarness(t, defaultGate())
	first := window(t0, 0)
	start := h.arm(t, first, 100*time.Second)
	h.loop.Tick(start.Add(500 * time.Millisecond))
	assert.Equal(t, 1, h.imb.Window().Len())

	res := h.loop.Tick(first.End)
	assert.Equal(t, StateClosed, res.State)
	assert.Equal(t, []string{first.Slug}, h.settler.tracked)
	h.loop.Tick(first.End.Add(time.Second))
	assert.Len(t, h.settler.tracked, 1, "tracked once")

	second := window(first.End, 1)
	h.windows.set(second)
	res = h.loop.Tick(second.Start.Add(time.Second))
	assert.Equal(t, StateWaiting, res.State)
	assert.Equal(t, second.Slug, res.Window.Slug)
	assert.Equal(t, 0, h.imb.Window().Len(), "rolling window reset")
	assert.True(t, h.store.IsStale(second.Start, 0))
	assert.Equal(t, []string{second.Yes.ID, second.No.ID}, h.feed.tokens[len(h.feed.tokens)-1])
	assert.Equal(t, []string{second.Yes.ID, second.No.ID}, h.store.Tokens())
}

func TestNoWindowWaits(t *testing.T) {
	h := newHarness(t, defaultGate())
	res := h.loop.Tick(t0)
	assert.Equal(t, StateWaiting, res.State)
	assert.Equal(t, "no active window", res.Reason)
	assert.Equal(t, string(StateWaiting), h.loop.Status().State)
}

func TestJournalRecordsTransitions(t *testing.T) {
	h := newHarness(t, defaultGate())
	w := window(t0, 0)
	start := h.arm(t, w, 100*time.Second)
	for i := 1; i <= 4; i++ {
		h.loop.Tick(start.Add(time.Duration(i) * 500 * time.Millisecond))
	}
	require.NotEmpty(t, h.journal.recs)
	last := h.journal.recs[len(h.journal.recs)-1]
	assert.Equal(t, string(StateFired), last.State)
	assert.Equal(t, "YES", last.Direction)
	assert.Equal(t, 12.0, last.Size)
	assert.NotEmpty(t, last.IntentID)

	st := h.loop.Status()
	assert.Equal(t, uint64(1), st.Intents)
	assert.Equal(t, w.Slug, st.WindowSlug)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, defaultGate())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := New(Config{Cadence: domain.Cadence5m, Policy: strategy.PriorityQuorum}, Deps{}, testLogger())
	assert.Error(t, err)
}

func TestFiredStateIsReadFromExecutor(t *testing.T) {
	h := newHarness(t, defaultGate())
	w := window(t0, 0)
	start := h.arm(t, w, 100*time.Second)

	var res TickResult
	for i := 1; i <= 4; i++ {
		res = h.loop.Tick(start.Add(time.Duration(i)*500*time.Millisecond + 1500*time.Millisecond))
	}
	require.Equal(t, StateFired, res.State, res.Reason)
	require.Len(t, h.handoff.intents, 1)

	// The executor forgot the window (its insert failed); the loop reads the
	// traded set instead of a flag of its own, so the window is live again.
	h.handoff.traded[w.Slug] = false
	h.loop.Tick(start.Add(4 * time.Second))
	assert.Len(t, h.handoff.intents, 2)
	assert.True(t, h.handoff.HasTraded(w.Slug))
}

type fakeRefs struct {
	price float64
	at    time.Time
}

func (f fakeRefs) LatestAt(string) (float64, time.Time, bool) { return f.price, f.at, true }

func (f fakeRefs) Move(string, time.Duration, time.Time) (float64, bool) { return 0, false }

func TestStaleReferencePriceIsIgnored(t *testing.T) {
	gp := defaultGate()
	gp.StrikeBlockEnabled = true
	gp.StrikeDistancePct = 0.1
	h := newHarness(t, gp)
	h.loop.cfg.RefSymbol = "btc/usd"
	h.loop.cfg.RefMaxAge = 10 * time.Second

	w := window(t0, 0)
	w.Strike = 97000
	h.windows.set(w)
	now := w.End.Add(-100 * time.Second)
	h.loop.Tick(now)

	h.loop.deps.Refs = fakeRefs{price: 97010, at: now.Add(-2 * time.Second)}
	in := h.loop.gateInput(now, 100*time.Second)
	require.NotNil(t, in.Reference)
	assert.False(t, h.loop.deps.Gate.Evaluate(in).Open(), "fresh price near strike blocks")

	h.loop.deps.Refs = fakeRefs{price: 97010, at: now.Add(-time.Minute)}
	in = h.loop.gateInput(now, 100*time.Second)
	assert.Nil(t, in.Reference)
	assert.True(t, h.loop.deps.Gate.Evaluate(in).Open(), "old price is treated as missing")
}
