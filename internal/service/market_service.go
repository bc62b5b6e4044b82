package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/metrics"
	"github.com/alanyoungcy/updownbot/internal/refprice"
)

// WindowFinder locates the active window of a recurring market upstream.
type WindowFinder interface {
	FindActiveWindow(ctx context.Context, asset string, cadence domain.Cadence, now time.Time) (domain.MarketWindow, error)
}

// PriceHistory answers point-in-time reference price lookups.
type PriceHistory interface {
	PriceAt(symbol string, ts time.Time) (float64, bool)
}

// Target is one (asset, cadence) pair the bot follows.
type Target struct {
	Asset   string
	Cadence domain.Cadence
}

// Name returns the loop name of the target, e.g. "btc-5m".
func (t Target) Name() string {
	return fmt.Sprintf("%s-%s", strings.ToLower(t.Asset), t.Cadence)
}

// MarketService discovers the active window of every target in the
// background and serves it to decision loops from memory. The strike of a
// window is filled in from reference prices once one at window start is
// known.
type MarketService struct {
	finder   WindowFinder
	refs     PriceHistory
	targets  []Target
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
	clock    func() time.Time

	mu      sync.Mutex
	windows map[Target]domain.MarketWindow
}

// NewMarketService creates a MarketService. refs may be nil.
func NewMarketService(
	finder WindowFinder,
	refs PriceHistory,
	targets []Target,
	interval time.Duration,
	m *metrics.Metrics,
	logger *slog.Logger,
) *MarketService {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	norm := make([]Target, 0, len(targets))
	for _, t := range targets {
		norm = append(norm, Target{Asset: strings.ToLower(t.Asset), Cadence: t.Cadence})
	}
	return &MarketService{
		finder:   finder,
		refs:     refs,
		targets:  norm,
		interval: interval,
		metrics:  m,
		logger:   logger.With(slog.String("component", "market_service")),
		clock:    time.Now,
		windows:  make(map[Target]domain.MarketWindow),
	}
}

// SetClock replaces the time source.
func (s *MarketService) SetClock(clock func() time.Time) { s.clock = clock }

// Current returns the open window for asset and cadence, if discovered.
func (s *MarketService) Current(asset string, cadence domain.Cadence) (domain.MarketWindow, bool) {
	key := Target{Asset: strings.ToLower(asset), Cadence: cadence}
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || w.Closed(now) {
		return domain.MarketWindow{}, false
	}
	if w.Strike == 0 && s.refs != nil {
		if p, ok := s.refs.PriceAt(refprice.SymbolFor(w.Asset), w.Start); ok {
			w.Strike = p
			s.windows[key] = w
		}
	}
	return w, true
}

// Run refreshes discovery every interval until ctx is cancelled.
func (s *MarketService) Run(ctx context.Context) error {
	s.logger.Info("market discovery started",
		slog.Int("targets", len(s.targets)),
		slog.Duration("interval", s.interval),
	)
	defer s.logger.Info("market discovery stopped")

	s.Refresh(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Refresh looks up every target whose cached window is missing or closed.
// Failures are logged and retried on the next refresh.
func (s *MarketService) Refresh(ctx context.Context) {
	for _, t := range s.targets {
		if ctx.Err() != nil {
			return
		}
		now := s.clock()

		s.mu.Lock()
		w, ok := s.windows[t]
		s.mu.Unlock()
		if ok && !w.Closed(now) {
			continue
		}

		next, err := s.finder.FindActiveWindow(ctx, t.Asset, t.Cadence, now)
		switch {
		case err == nil:
			s.metrics.Inc(metrics.UpstreamVec, "gamma", "ok")
		case errors.Is(err, domain.ErrNoActiveWindow):
			s.metrics.Inc(metrics.UpstreamVec, "gamma", "not_found")
			s.logger.Debug("no active window yet", slog.String("target", t.Name()))
			continue
		case errors.Is(err, context.Canceled):
			return
		default:
			s.metrics.Inc(metrics.UpstreamVec, "gamma", "error")
			s.logger.Warn("window discovery failed",
				slog.String("target", t.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}

		s.mu.Lock()
		s.windows[t] = next
		s.mu.Unlock()

		s.logger.Info("active window discovered",
			slog.String("target", t.Name()),
			slog.String("slug", next.Slug),
			slog.Time("end", next.End),
		)
	}
}

// Windows returns the cached window of every target that has one.
func (s *MarketService) Windows() []domain.MarketWindow {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.MarketWindow, 0, len(s.windows))
	for _, t := range s.targets {
		if w, ok := s.windows[t]; ok {
			out = append(out, w)
		}
	}
	return out
}
