package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/metrics"
	"github.com/alanyoungcy/updownbot/internal/notify"
	"github.com/alanyoungcy/updownbot/internal/refprice"
)

// Settlement sources.
const (
	SourceRTDS  = "rtds"
	SourceGamma = "gamma"
)

// SettlementChannel is the bus channel resolved outcomes are published on.
const SettlementChannel = "settlements"

// Resolver reports the winning outcome of a closed market.
type Resolver interface {
	GetResolution(ctx context.Context, slug string, threshold float64) (domain.Role, error)
}

// Notifier delivers operator notifications.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// SettlementConfig holds settlement parameters.
type SettlementConfig struct {
	// Interval is how often pending windows are checked.
	Interval time.Duration
	// Buffer is how long after window end the reference price is trusted.
	Buffer          time.Duration
	WinnerThreshold float64
	GammaRetries    int
	GammaRetryDelay time.Duration
	// GiveUpAfter drops a window that is still unresolved this long after
	// its end.
	GiveUpAfter time.Duration
	// HistorySize is the number of outcomes kept per asset and cadence.
	HistorySize int
	// OpenTradeScan is how often open paper trades are checked for windows
	// nobody is tracking.
	OpenTradeScan time.Duration
}

func (c *SettlementConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.Buffer <= 0 {
		c.Buffer = 2 * time.Second
	}
	if c.WinnerThreshold <= 0 {
		c.WinnerThreshold = 0.98
	}
	if c.GammaRetries <= 0 {
		c.GammaRetries = 3
	}
	if c.GammaRetryDelay <= 0 {
		c.GammaRetryDelay = 2 * time.Second
	}
	if c.GiveUpAfter <= 0 {
		c.GiveUpAfter = 30 * time.Minute
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 32
	}
	if c.OpenTradeScan <= 0 {
		c.OpenTradeScan = time.Minute
	}
}

type pendingWindow struct {
	window  domain.MarketWindow
	nextTry time.Time
}

// SettlementTracker resolves closed windows: from the reference price move
// over the window first, then from Gamma outcome prices. Each outcome is
// recorded once, settles the paper trades of its window and is kept in
// memory for the momentum computer.
type SettlementTracker struct {
	cfg      SettlementConfig
	gamma    Resolver
	refs     PriceHistory
	outcomes domain.OutcomeStore
	trades   domain.TradeStore
	bus      domain.SignalBus
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	clock    func() time.Time

	mu       sync.Mutex
	pending  map[string]pendingWindow
	resolved map[string]struct{}
	history  map[Target][]domain.SettlementOutcome // newest first
}

// NewSettlementTracker creates a SettlementTracker. refs, outcomes and trades
// may be nil.
func NewSettlementTracker(
	cfg SettlementConfig,
	gamma Resolver,
	refs PriceHistory,
	outcomes domain.OutcomeStore,
	trades domain.TradeStore,
	logger *slog.Logger,
) *SettlementTracker {
	cfg.applyDefaults()
	return &SettlementTracker{
		cfg:      cfg,
		gamma:    gamma,
		refs:     refs,
		outcomes: outcomes,
		trades:   trades,
		logger:   logger.With(slog.String("component", "settlement_tracker")),
		clock:    time.Now,
		pending:  make(map[string]pendingWindow),
		resolved: make(map[string]struct{}),
		history:  make(map[Target][]domain.SettlementOutcome),
	}
}

// SetSignalBus enables publishing outcomes.
func (s *SettlementTracker) SetSignalBus(b domain.SignalBus) { s.bus = b }

// SetNotifier enables settlement notifications.
func (s *SettlementTracker) SetNotifier(n Notifier) { s.notifier = n }

// SetMetrics enables metrics.
func (s *SettlementTracker) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetClock replaces the time source.
func (s *SettlementTracker) SetClock(clock func() time.Time) { s.clock = clock }

// Track queues a window for resolution. It never blocks.
func (s *SettlementTracker) Track(w domain.MarketWindow) {
	if w.IsZero() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := s.resolved[w.Slug]; done {
		return
	}
	if p, ok := s.pending[w.Slug]; ok {
		if p.window.Strike == 0 && w.Strike > 0 {
			p.window.Strike = w.Strike
			s.pending[w.Slug] = p
		}
		return
	}
	s.pending[w.Slug] = pendingWindow{window: w, nextTry: w.End.Add(s.cfg.Buffer)}
}

// Pending returns the number of windows awaiting resolution.
func (s *SettlementTracker) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Recent returns up to n outcomes for asset and cadence whose window started
// before the given time, most recent first.
func (s *SettlementTracker) Recent(asset string, cadence domain.Cadence, before time.Time, n int) []domain.SettlementOutcome {
	key := Target{Asset: strings.ToLower(asset), Cadence: cadence}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.SettlementOutcome
	for _, o := range s.history[key] {
		if len(out) >= n {
			break
		}
		if o.WindowStart.Before(before) {
			out = append(out, o)
		}
	}
	return out
}

// Seed loads recent outcomes of the given targets from the outcome store and
// queues the windows of paper trades left open by a previous run.
func (s *SettlementTracker) Seed(ctx context.Context, targets []Target) error {
	if s.outcomes != nil {
		now := s.clock()
		for _, t := range targets {
			list, err := s.outcomes.ListRecent(ctx, t.Asset, t.Cadence, now, s.cfg.HistorySize)
			if err != nil {
				return fmt.Errorf("settlement: seed %s: %w", t.Name(), err)
			}
			for _, o := range list {
				s.remember(o)
			}
			s.logger.Info("seeded outcomes", slog.String("target", t.Name()), slog.Int("count", len(list)))
		}
	}
	if _, err := s.TrackOpenTrades(ctx); err != nil {
		return fmt.Errorf("settlement: seed: %w", err)
	}
	return nil
}

// TrackOpenTrades queues the window of every open paper trade that is not
// pending. A window whose outcome is already known, in memory or in the
// outcome store, settles its trades at once. It returns the number of
// windows queued.
func (s *SettlementTracker) TrackOpenTrades(ctx context.Context) (int, error) {
	if s.trades == nil {
		return 0, nil
	}
	open, err := s.trades.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open trades: %w", err)
	}

	seen := make(map[string]struct{})
	queued := 0
	for _, t := range open {
		if _, dup := seen[t.Slug]; dup {
			continue
		}
		seen[t.Slug] = struct{}{}
		log := s.logger.With(slog.String("slug", t.Slug))

		s.mu.Lock()
		_, pending := s.pending[t.Slug]
		s.mu.Unlock()
		if pending {
			continue
		}

		if o, ok := s.known(ctx, t.Slug); ok {
			s.remember(o)
			settled := s.settleTrades(ctx, o, log)
			log.Info("settled trades of a resolved window", slog.Int("trades", len(settled)))
			continue
		}

		w, err := windowOf(t)
		if err != nil {
			log.Warn("open trade has no usable window", slog.String("trade_id", t.ID), slog.String("error", err.Error()))
			continue
		}
		s.mu.Lock()
		s.pending[w.Slug] = pendingWindow{window: w, nextTry: w.End.Add(s.cfg.Buffer)}
		s.mu.Unlock()
		queued++
		log.Info("tracking window of open trade", slog.String("trade_id", t.ID), slog.Time("end", w.End))
	}
	return queued, nil
}

// known returns the recorded outcome of slug, if any.
func (s *SettlementTracker) known(ctx context.Context, slug string) (domain.SettlementOutcome, bool) {
	s.mu.Lock()
	for _, list := range s.history {
		for _, o := range list {
			if o.Slug == slug {
				s.mu.Unlock()
				return o, true
			}
		}
	}
	s.mu.Unlock()

	if s.outcomes == nil {
		return domain.SettlementOutcome{}, false
	}
	o, err := s.outcomes.GetBySlug(ctx, slug)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("outcome lookup failed", slog.String("slug", slug), slog.String("error", err.Error()))
		}
		return domain.SettlementOutcome{}, false
	}
	return o, true
}

// windowOf rebuilds the market window of a paper trade from its slug.
func windowOf(t domain.PaperTrade) (domain.MarketWindow, error) {
	asset, c, start, err := domain.ParseWindowSlug(t.Slug)
	if err != nil {
		return domain.MarketWindow{}, err
	}
	if t.Asset != "" {
		asset = t.Asset
	}
	return domain.MarketWindow{
		Slug:    t.Slug,
		Asset:   asset,
		Cadence: c,
		Start:   start,
		End:     start.Add(c.Duration()),
	}, nil
}

// Run checks pending windows every interval until ctx is cancelled.
func (s *SettlementTracker) Run(ctx context.Context) error {
	s.logger.Info("settlement tracker started", slog.Duration("interval", s.cfg.Interval))
	defer s.logger.Info("settlement tracker stopped")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	scan := time.NewTicker(s.cfg.OpenTradeScan)
	defer scan.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.ResolveDue(ctx)
		case <-scan.C:
			if _, err := s.TrackOpenTrades(ctx); err != nil {
				s.logger.Warn("open trade scan failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ResolveDue attempts every pending window whose retry time has passed.
func (s *SettlementTracker) ResolveDue(ctx context.Context) {
	now := s.clock()

	s.mu.Lock()
	var due []domain.MarketWindow
	for _, p := range s.pending {
		if !now.Before(p.nextTry) {
			due = append(due, p.window)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].End.Before(due[j].End) })
	for _, w := range due {
		if ctx.Err() != nil {
			return
		}
		s.resolveWindow(ctx, w)
	}
}

func (s *SettlementTracker) resolveWindow(ctx context.Context, w domain.MarketWindow) {
	log := s.logger.With(slog.String("slug", w.Slug))

	outcome, err := s.resolve(ctx, w)
	if err != nil {
		now := s.clock()
		if now.Sub(w.End) > s.cfg.GiveUpAfter {
			log.Warn("window unresolved, giving up", slog.String("error", err.Error()))
			s.mu.Lock()
			delete(s.pending, w.Slug)
			s.mu.Unlock()
			return
		}
		log.Debug("window not resolved yet", slog.String("error", err.Error()))
		s.mu.Lock()
		if p, ok := s.pending[w.Slug]; ok {
			p.nextTry = now.Add(s.cfg.Interval)
			s.pending[w.Slug] = p
		}
		s.mu.Unlock()
		return
	}

	if s.outcomes != nil {
		if err := s.outcomes.Upsert(ctx, outcome); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			log.Error("outcome persist failed, will retry", slog.String("error", err.Error()))
			return
		}
	}

	s.mu.Lock()
	delete(s.pending, w.Slug)
	s.mu.Unlock()
	s.remember(outcome)

	s.metrics.Inc(metrics.SettlementsVec, outcome.Source, outcome.Winner.String())
	log.Info("window resolved",
		slog.String("winner", outcome.Winner.String()),
		slog.String("source", outcome.Source),
		slog.Float64("start_price", outcome.StartPrice),
		slog.Float64("end_price", outcome.EndPrice),
	)

	settled := s.settleTrades(ctx, outcome, log)
	s.publish(ctx, outcome, settled, log)
}

// resolve determines the winner of w, preferring the reference price move.
func (s *SettlementTracker) resolve(ctx context.Context, w domain.MarketWindow) (domain.SettlementOutcome, error) {
	outcome := domain.SettlementOutcome{
		Slug:        w.Slug,
		Asset:       w.Asset,
		Cadence:     w.Cadence,
		WindowStart: w.Start,
	}

	if startPrice, endPrice, ok := s.referenceMove(w); ok {
		outcome.Winner = domain.RoleNo
		if endPrice >= startPrice {
			outcome.Winner = domain.RoleYes
		}
		outcome.StartPrice = startPrice
		outcome.EndPrice = endPrice
		outcome.Source = SourceRTDS
		outcome.ResolvedAt = s.clock()
		return outcome, nil
	}

	if s.gamma == nil {
		return outcome, domain.ErrNotResolved
	}
	var lastErr error
	for attempt := 0; attempt < s.cfg.GammaRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return outcome, ctx.Err()
			case <-time.After(s.cfg.GammaRetryDelay):
			}
		}
		winner, err := s.gamma.GetResolution(ctx, w.Slug, s.cfg.WinnerThreshold)
		if err == nil {
			s.metrics.Inc(metrics.UpstreamVec, "gamma", "ok")
			outcome.Winner = winner
			outcome.Source = SourceGamma
			outcome.ResolvedAt = s.clock()
			return outcome, nil
		}
		if errors.Is(err, domain.ErrNotResolved) {
			s.metrics.Inc(metrics.UpstreamVec, "gamma", "not_resolved")
		} else {
			s.metrics.Inc(metrics.UpstreamVec, "gamma", "error")
		}
		lastErr = err
	}
	return outcome, fmt.Errorf("settlement: resolve %s: %w", w.Slug, lastErr)
}

// referenceMove returns the reference prices at window start and end. The end
// price is only trusted once the buffer after window end has passed.
func (s *SettlementTracker) referenceMove(w domain.MarketWindow) (float64, float64, bool) {
	if s.refs == nil || s.clock().Before(w.End.Add(s.cfg.Buffer)) {
		return 0, 0, false
	}
	symbol := refprice.SymbolFor(w.Asset)
	start := w.Strike
	if start <= 0 {
		p, ok := s.refs.PriceAt(symbol, w.Start)
		if !ok {
			return 0, 0, false
		}
		start = p
	}
	end, ok := s.refs.PriceAt(symbol, w.End)
	if !ok {
		return 0, 0, false
	}
	return start, end, true
}

func (s *SettlementTracker) remember(o domain.SettlementOutcome) {
	key := Target{Asset: strings.ToLower(o.Asset), Cadence: o.Cadence}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.resolved[o.Slug] = struct{}{}
	list := s.history[key]
	for _, x := range list {
		if x.Slug == o.Slug {
			return
		}
	}
	list = append(list, o)
	sort.Slice(list, func(i, j int) bool { return list[i].WindowStart.After(list[j].WindowStart) })
	if len(list) > s.cfg.HistorySize {
		for _, old := range list[s.cfg.HistorySize:] {
			delete(s.resolved, old.Slug)
		}
		list = list[:s.cfg.HistorySize]
	}
	s.history[key] = list
}

// settleTrades applies the outcome to the open paper trades of its window.
func (s *SettlementTracker) settleTrades(ctx context.Context, o domain.SettlementOutcome, log *slog.Logger) []domain.PaperTrade {
	if s.trades == nil {
		return nil
	}
	open, err := s.trades.ListOpen(ctx)
	if err != nil {
		log.Error("list open trades failed", slog.String("error", err.Error()))
		return nil
	}
	var settled []domain.PaperTrade
	for _, t := range open {
		if t.Slug != o.Slug {
			continue
		}
		t.Settle(o.Winner, o.ResolvedAt)
		if err := s.trades.UpdateSettlement(ctx, t); err != nil {
			log.Error("paper trade settlement failed",
				slog.String("trade_id", t.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		log.Info("paper trade settled",
			slog.String("trade_id", t.ID),
			slog.String("status", string(t.Status)),
			slog.Float64("pnl", t.PnL),
		)
		settled = append(settled, t)
	}
	return settled
}

func (s *SettlementTracker) publish(ctx context.Context, o domain.SettlementOutcome, settled []domain.PaperTrade, log *slog.Logger) {
	if s.bus != nil {
		var pnl float64
		for _, t := range settled {
			pnl += t.PnL
		}
		payload, _ := json.Marshal(map[string]any{
			"event":       "window_resolved",
			"slug":        o.Slug,
			"asset":       o.Asset,
			"cadence":     string(o.Cadence),
			"winner":      o.Winner.String(),
			"source":      o.Source,
			"start_price": o.StartPrice,
			"end_price":   o.EndPrice,
			"trades":      len(settled),
			"pnl":         pnl,
			"timestamp":   o.ResolvedAt.UTC().Format(time.RFC3339),
		})
		if err := s.bus.Publish(ctx, SettlementChannel, payload); err != nil {
			log.Warn("publish outcome failed", slog.String("error", err.Error()))
		}
	}

	if s.notifier != nil && len(settled) > 0 {
		title, msg := notify.SettlementMessage(o, settled)
		if err := s.notifier.Notify(ctx, notify.EventSettlement, title, msg); err != nil {
			log.Warn("settlement notification failed", slog.String("error", err.Error()))
		}
	}
}
