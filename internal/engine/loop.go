// Package engine runs the per-window decision loop that turns book state
// into at most one trade intent per market window.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/updownbot/internal/book"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/metrics"
	"github.com/alanyoungcy/updownbot/internal/policy"
	"github.com/alanyoungcy/updownbot/internal/strategy"
)

// State is the decision loop's position in the window lifecycle.
type State string

const (
	StateWaiting State = "waiting_for_market"
	StateArmed   State = "armed"
	StateFired   State = "fired"
	StateClosed  State = "closed"
)

var allStates = []string{string(StateWaiting), string(StateArmed), string(StateFired), string(StateClosed)}

// WindowSource publishes the currently active window for an asset and
// cadence. It must answer from memory.
type WindowSource interface {
	Current(asset string, cadence domain.Cadence) (domain.MarketWindow, bool)
}

// Subscriber re-targets the book feed at new tokens without blocking.
type Subscriber interface {
	SetTokens(tokens []string)
}

// Handoff is the executor boundary. Both calls must return immediately.
type Handoff interface {
	// Submit offers an intent; false means it was not accepted.
	Submit(intent domain.TradeIntent) bool
	// HasTraded reports whether the executor already holds a trade for the
	// window slug.
	HasTraded(slug string) bool
}

// ReferencePrices answers underlying-price questions from memory.
type ReferencePrices interface {
	// LatestAt returns the newest price and its source timestamp.
	LatestAt(symbol string) (float64, time.Time, bool)
	Move(symbol string, lookback time.Duration, now time.Time) (float64, bool)
}

// Settler is told about windows that have closed so it can resolve them.
type Settler interface {
	Track(w domain.MarketWindow)
}

// Journal receives notable decision records.
type Journal interface {
	Append(rec domain.DecisionRecord)
}

// Config holds the static parameters of one loop.
type Config struct {
	Asset        string
	Cadence      domain.Cadence
	TickInterval time.Duration
	StaleMaxAge  time.Duration
	// Depth is the number of levels copied from the book each tick.
	Depth int
	// RefSymbol is the reference price symbol for the gate, e.g. "btc/usd".
	RefSymbol string
	// RefMaxAge treats a reference price older than this as missing. 0
	// accepts any age.
	RefMaxAge    time.Duration
	MoveLookback time.Duration
	Policy       strategy.Policy
	Combine      strategy.CombineOptions
}

// Deps are the collaborators of a loop. Book, Computers, Gate, Sizing,
// Windows and Handoff are required.
type Deps struct {
	Book      *book.Store
	Computers []strategy.Computer
	Gate      *policy.Gate
	Sizing    *policy.Sizing
	Windows   WindowSource
	Feed      Subscriber
	Handoff   Handoff
	Refs      ReferencePrices
	Settler   Settler
	Journal   Journal
	Metrics   *metrics.Metrics
	Clock     func() time.Time
}

// TickResult summarizes one tick.
type TickResult struct {
	State    State
	Window   domain.MarketWindow
	Decision domain.Decision
	Gate     policy.GateResult
	Intent   *domain.TradeIntent
	Reason   string
}

// Loop is a single (asset, cadence) decision loop. Tick is driven by one
// goroutine; Status may be read concurrently.
type Loop struct {
	cfg    Config
	deps   Deps
	name   string
	logger *slog.Logger

	window   domain.MarketWindow
	state    State
	tracked  bool
	lastNote string

	mu        sync.RWMutex
	status    domain.LoopStatus
	startedAt time.Time
}

// New validates cfg and deps and builds a loop.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Loop, error) {
	switch {
	case deps.Book == nil:
		return nil, fmt.Errorf("engine: book store is required")
	case deps.Gate == nil || deps.Sizing == nil:
		return nil, fmt.Errorf("engine: gate and sizing are required")
	case deps.Windows == nil || deps.Handoff == nil:
		return nil, fmt.Errorf("engine: window source and hand-off are required")
	case cfg.Policy == nil:
		return nil, fmt.Errorf("engine: combiner policy is required")
	case !cfg.Cadence.Valid():
		return nil, fmt.Errorf("engine: invalid cadence %q", cfg.Cadence)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 500 * time.Millisecond
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	name := fmt.Sprintf("%s-%s", strings.ToLower(cfg.Asset), cfg.Cadence)
	l := &Loop{
		cfg:    cfg,
		deps:   deps,
		name:   name,
		logger: logger.With(slog.String("component", "decision_loop"), slog.String("loop", name)),
		state:  StateWaiting,
	}
	l.status = domain.LoopStatus{Asset: cfg.Asset, Cadence: cfg.Cadence, State: string(StateWaiting)}
	return l, nil
}

// Name returns the loop label, e.g. "btc-15m".
func (l *Loop) Name() string { return l.name }

// Run ticks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.startedAt = l.deps.Clock()
	l.logger.Info("decision loop started",
		slog.Duration("tick_interval", l.cfg.TickInterval),
		slog.Int("computers", len(l.deps.Computers)),
	)
	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("decision loop stopped")
			return ctx.Err()
		case <-ticker.C:
			l.Tick(l.deps.Clock())
		}
	}
}

// Tick runs one decision cycle at now. It never panics.
func (l *Loop) Tick(now time.Time) (res TickResult) {
	defer func() {
		if r := recover(); r != nil {
			l.deps.Metrics.Inc(metrics.TickPanicsVec, l.name, "tick")
			l.logger.Error("tick panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			res = TickResult{State: l.state, Window: l.window, Reason: "tick panicked"}
		}
		l.publish(now, res)
	}()
	l.deps.Metrics.Inc(metrics.TicksVec, l.name)
	return l.tick(now)
}

func (l *Loop) tick(now time.Time) TickResult {
	if w, ok := l.deps.Windows.Current(l.cfg.Asset, l.cfg.Cadence); ok {
		switch {
		case w.Slug != l.window.Slug:
			l.rollover(w)
		case l.window.Strike == 0 && w.Strike > 0:
			// Strike becomes known once a reference price at window start arrives.
			l.window.Strike = w.Strike
		}
	}
	if l.window.IsZero() {
		return l.transition(now, TickResult{State: StateWaiting, Reason: "no active window"})
	}
	res := TickResult{Window: l.window}

	if l.window.Closed(now) {
		if !l.tracked && l.deps.Settler != nil {
			l.deps.Settler.Track(l.window)
			l.tracked = true
		}
		res.State, res.Reason = StateClosed, "window closed"
		return l.transition(now, res)
	}
	// The executor owns the traded set; it is consulted every tick.
	if l.deps.Handoff.HasTraded(l.window.Slug) {
		res.State, res.Reason = StateFired, "trade already placed for window"
		return l.transition(now, res)
	}

	view := l.deps.Book.View(now, l.cfg.Depth, l.cfg.StaleMaxAge)
	l.deps.Metrics.SetStale(l.name, view.Stale)
	in := strategy.Input{Window: l.window, Book: view, Now: now}
	if view.Stale {
		// Computers see the stale view so they can drop cross-gap memory.
		l.computeAll(in)
		res.State, res.Reason = StateWaiting, "book not warm"
		return l.transition(now, res)
	}

	res.State = StateArmed
	signals := l.computeAll(in)
	res.Decision = l.cfg.Policy(signals, l.cfg.Combine)
	remaining := l.window.Remaining(now)
	res.Gate = l.deps.Gate.Evaluate(l.gateInput(now, remaining))

	if !res.Decision.Action {
		res.Reason = res.Decision.Reason
		return l.transition(now, res)
	}
	l.deps.Metrics.Inc(metrics.DecisionsVec, l.name, res.Decision.Direction.String())
	if !res.Gate.Open() {
		l.deps.Metrics.Inc(metrics.GateBlocksVec, l.name)
		res.Reason = "gate blocked: " + strings.Join(res.Gate.Reasons, "; ")
		return l.transition(now, res)
	}

	dir := res.Decision.Direction
	ask, _ := view.Book(dir).BestAsk()
	size, ok, why := l.deps.Sizing.Size(remaining, ask.Price())
	if !ok {
		res.Reason = "sizing: " + why
		return l.transition(now, res)
	}

	token := l.window.Token(dir)
	intent := domain.TradeIntent{
		ID:             uuid.NewString(),
		Window:         l.window,
		Direction:      dir,
		TokenID:        token.ID,
		Size:           size,
		PriceLimitHint: ask.Price(),
		Reason:         res.Decision.Reason,
		Decision:       res.Decision,
		EmittedAt:      now,
	}
	if !l.deps.Handoff.Submit(intent) {
		l.deps.Metrics.Inc(metrics.IntentsVec, l.name, "rejected")
		res.Reason = "hand-off rejected intent"
		return l.transition(now, res)
	}
	l.deps.Metrics.Inc(metrics.IntentsVec, l.name, "accepted")
	res.State = StateFired
	res.Intent = &intent
	res.Reason = res.Decision.Reason
	l.logger.Info("trade intent emitted",
		slog.String("intent_id", intent.ID),
		slog.String("slug", l.window.Slug),
		slog.String("direction", dir.String()),
		slog.Float64("size", size),
		slog.Float64("ask", ask.Price()),
		slog.Duration("remaining", remaining.Round(time.Second)),
		slog.String("reason", intent.Reason),
	)
	return l.transition(now, res)
}

// rollover binds the loop to a new window. Everything derived from the
// previous window is dropped before any computation on the new one.
func (l *Loop) rollover(w domain.MarketWindow) {
	prev := l.window
	if !prev.IsZero() && !l.tracked && l.deps.Settler != nil {
		l.deps.Settler.Track(prev)
	}
	l.window = w
	l.tracked = false
	l.deps.Book.Reset(w.Yes, w.No)
	for _, c := range l.deps.Computers {
		c.Reset()
	}
	if l.deps.Feed != nil {
		l.deps.Feed.SetTokens([]string{w.Yes.ID, w.No.ID})
	}
	l.deps.Metrics.Inc(metrics.RolloversVec, l.name)
	l.logger.Info("window rollover",
		slog.String("previous", prev.Slug),
		slog.String("slug", w.Slug),
		slog.Time("end", w.End),
		slog.Float64("strike", w.Strike),
	)
}

// computeAll runs every computer, isolating panics and errors per computer.
func (l *Loop) computeAll(in strategy.Input) []domain.Signal {
	var out []domain.Signal
	for _, c := range l.deps.Computers {
		if l.cfg.Combine.Disabled[c.Source()] {
			continue
		}
		sig := l.safeCompute(c, in)
		if sig == nil {
			continue
		}
		l.deps.Metrics.Inc(metrics.SignalsVec, l.name, string(sig.Source), sig.Direction.String())
		out = append(out, *sig)
	}
	return out
}

func (l *Loop) safeCompute(c strategy.Computer, in strategy.Input) (sig *domain.Signal) {
	defer func() {
		if r := recover(); r != nil {
			l.deps.Metrics.Inc(metrics.TickPanicsVec, l.name, string(c.Source()))
			l.logger.Error("signal computer panicked",
				slog.String("source", string(c.Source())),
				slog.Any("panic", r),
			)
			sig = nil
		}
	}()
	s, err := c.Compute(in)
	if err != nil {
		l.logger.Warn("signal computer failed",
			slog.String("source", string(c.Source())),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return s
}

func (l *Loop) gateInput(now time.Time, remaining time.Duration) policy.GateInput {
	in := policy.GateInput{Remaining: remaining, Strike: l.window.Strike}
	if l.deps.Refs == nil || l.cfg.RefSymbol == "" {
		return in
	}
	if p, at, ok := l.deps.Refs.LatestAt(l.cfg.RefSymbol); ok && (l.cfg.RefMaxAge <= 0 || now.Sub(at) <= l.cfg.RefMaxAge) {
		in.Reference = &p
	}
	if l.cfg.MoveLookback > 0 {
		if m, ok := l.deps.Refs.Move(l.cfg.RefSymbol, l.cfg.MoveLookback, now); ok {
			in.Move = &m
		}
	}
	return in
}

// transition records the new state and journals notable changes.
func (l *Loop) transition(now time.Time, res TickResult) TickResult {
	changed := res.State != l.state
	if changed {
		l.logger.Info("state change",
			slog.String("from", string(l.state)),
			slog.String("to", string(res.State)),
			slog.String("slug", l.window.Slug),
			slog.String("reason", res.Reason),
		)
		l.state = res.State
		l.deps.Metrics.SetState(l.name, allStates, string(res.State))
	}
	note := string(res.State) + "|" + res.Reason
	if l.deps.Journal != nil && (changed || res.Decision.Action || res.Intent != nil) && note != l.lastNote {
		l.deps.Journal.Append(l.record(now, res))
	}
	l.lastNote = note
	return res
}

func (l *Loop) record(now time.Time, res TickResult) domain.DecisionRecord {
	rec := domain.DecisionRecord{
		At:        now,
		Loop:      l.name,
		Slug:      l.window.Slug,
		State:     string(res.State),
		Remaining: l.window.Remaining(now).Seconds(),
		Gate:      string(res.Gate.State),
		Reason:    res.Reason,
	}
	if res.Decision.Action {
		rec.Direction = res.Decision.Direction.String()
	}
	if len(res.Decision.Signals) > 0 {
		rec.Signals = make(map[string]string, len(res.Decision.Signals))
		for _, s := range res.Decision.Signals {
			rec.Signals[string(s.Source)] = s.Direction.String()
		}
	}
	if res.Intent != nil {
		rec.IntentID = res.Intent.ID
		rec.Size = res.Intent.Size
	}
	return rec
}

func (l *Loop) publish(now time.Time, res TickResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.State = string(res.State)
	l.status.WindowSlug = res.Window.Slug
	l.status.Remaining = res.Window.Remaining(now)
	l.status.BookStale = l.deps.Book.IsStale(now, l.cfg.StaleMaxAge)
	l.status.LastReason = res.Reason
	l.status.LastTick = now
	l.status.StartedAt = l.startedAt
	if h, ok := l.deps.Feed.(interface{ Connected() bool }); ok {
		l.status.FeedHealthy = h.Connected()
	}
	l.status.Ticks++
	if res.Intent != nil {
		l.status.Intents++
	}
}

// Status returns a snapshot of the loop state for status endpoints.
func (l *Loop) Status() domain.LoopStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}
