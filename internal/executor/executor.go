// Package executor receives trade intents from the decision loops and records
// them as paper trades. It owns the "already traded" set the loops consult,
// so a window is traded at most once across restarts and instances.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/metrics"
	"github.com/alanyoungcy/updownbot/internal/notify"
)

// Bus channels and streams.
const (
	IntentChannel = "intents"
	TradeStream   = "trades"
)

// Notifier delivers operator notifications.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds executor parameters.
type Config struct {
	// Buffer is the capacity of the intent queue behind Submit.
	Buffer int
	// LockTTLPad extends the per-window lock beyond the window end.
	LockTTLPad time.Duration
	// SeedHorizon is how long slugs loaded from the trade store on startup
	// stay in the traded set.
	SeedHorizon time.Duration
}

// Executor reads trade intents from a buffered queue, guards each window with
// a distributed lock and records a paper trade. Submit and HasTraded never
// block, so decision loops can call them from their tick.
type Executor struct {
	cfg      Config
	intents  chan domain.TradeIntent
	trades   domain.TradeStore
	locks    domain.LockManager
	bus      domain.SignalBus
	notifier Notifier
	traded   *Dedup
	metrics  *metrics.Metrics
	logger   *slog.Logger
	clock    func() time.Time

	cleanupInterval time.Duration
}

// NewExecutor creates an Executor that records trades in trades. trades may
// be nil, in which case intents are only logged and published.
func NewExecutor(cfg Config, trades domain.TradeStore, logger *slog.Logger) *Executor {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 16
	}
	if cfg.LockTTLPad <= 0 {
		cfg.LockTTLPad = time.Minute
	}
	if cfg.SeedHorizon <= 0 {
		cfg.SeedHorizon = 30 * time.Minute
	}
	return &Executor{
		cfg:             cfg,
		intents:         make(chan domain.TradeIntent, cfg.Buffer),
		trades:          trades,
		traded:          NewDedup(),
		logger:          logger.With(slog.String("component", "executor")),
		clock:           time.Now,
		cleanupInterval: 30 * time.Second,
	}
}

// SetLockManager enables the per-window distributed lock.
func (e *Executor) SetLockManager(l domain.LockManager) { e.locks = l }

// SetSignalBus enables publishing recorded trades.
func (e *Executor) SetSignalBus(b domain.SignalBus) { e.bus = b }

// SetNotifier enables notifications for recorded trades.
func (e *Executor) SetNotifier(n Notifier) { e.notifier = n }

// SetMetrics enables metrics.
func (e *Executor) SetMetrics(m *metrics.Metrics) { e.metrics = m }

// SetClock replaces the time source. Must be called before Run.
func (e *Executor) SetClock(clock func() time.Time) { e.clock = clock }

// Seed loads the slugs of open trades so a restart does not trade a window
// twice.
func (e *Executor) Seed(ctx context.Context) error {
	if e.trades == nil {
		return nil
	}
	slugs, err := e.trades.ListOpenSlugs(ctx)
	if err != nil {
		return fmt.Errorf("executor: seed traded windows: %w", err)
	}
	now := e.clock()
	for _, s := range slugs {
		e.traded.Mark(s, now, now.Add(e.cfg.SeedHorizon))
	}
	e.logger.Info("seeded traded windows", slog.Int("count", len(slugs)))
	return nil
}

// Submit offers an intent without blocking. It returns false when the
// window was already traded or the queue is full.
func (e *Executor) Submit(intent domain.TradeIntent) bool {
	now := e.clock()
	slug := intent.Window.Slug
	if !e.traded.Mark(slug, now, intent.Window.End.Add(e.cfg.LockTTLPad)) {
		return false
	}
	select {
	case e.intents <- intent:
		return true
	default:
		e.traded.Forget(slug)
		e.logger.Warn("intent queue full, rejecting",
			slog.String("intent_id", intent.ID),
			slog.String("slug", slug),
		)
		return false
	}
}

// HasTraded reports whether a trade for slug was accepted.
func (e *Executor) HasTraded(slug string) bool {
	return e.traded.Seen(slug, e.clock())
}

// Run processes intents until the context is cancelled, then drains the
// queue and returns.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started", slog.Int("buffer", e.cfg.Buffer))
	defer e.logger.Info("executor stopped")

	cleanupTicker := time.NewTicker(e.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()

		case intent := <-e.intents:
			e.process(ctx, intent)

		case <-cleanupTicker.C:
			e.traded.Cleanup(e.clock())
		}
	}
}

// process records a single intent.
func (e *Executor) process(ctx context.Context, intent domain.TradeIntent) {
	w := intent.Window
	loop := fmt.Sprintf("%s-%s", w.Asset, w.Cadence)
	log := e.logger.With(
		slog.String("intent_id", intent.ID),
		slog.String("slug", w.Slug),
		slog.String("direction", intent.Direction.String()),
	)

	// 1. Per-window lock across instances. It is left to expire after the
	// window so no other instance can trade it.
	if e.locks != nil {
		ttl := w.Remaining(e.clock()) + e.cfg.LockTTLPad
		if _, err := e.locks.Acquire(ctx, "trade:"+w.Slug, ttl); err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				log.Warn("window already locked by another instance, skipping")
				e.metrics.Inc(metrics.IntentsVec, loop, "lock_held")
				return
			}
			log.Warn("trade lock unavailable, continuing", slog.String("error", err.Error()))
		}
	}

	// 2. Store-level duplicate check.
	if e.trades != nil {
		exists, err := e.trades.ExistsForSlug(ctx, w.Slug)
		if err != nil {
			log.Warn("trade lookup failed", slog.String("error", err.Error()))
		} else if exists {
			log.Info("trade already recorded for window, skipping")
			e.metrics.Inc(metrics.IntentsVec, loop, "duplicate")
			return
		}
	}

	// 3. Record.
	trade := domain.PaperTrade{
		ID:        uuid.NewString(),
		IntentID:  intent.ID,
		Slug:      w.Slug,
		Asset:     w.Asset,
		Cadence:   w.Cadence,
		Direction: intent.Direction,
		TokenID:   intent.TokenID,
		Price:     intent.PriceLimitHint,
		Size:      intent.Size,
		Reason:    intent.Reason,
		Status:    domain.TradeStatusOpen,
		CreatedAt: intent.EmittedAt,
	}
	if e.trades != nil {
		if err := e.trades.Insert(ctx, trade); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				log.Info("trade already recorded for window, skipping")
				e.metrics.Inc(metrics.IntentsVec, loop, "duplicate")
				return
			}
			log.Error("paper trade insert failed", slog.String("error", err.Error()))
			e.metrics.Inc(metrics.IntentsVec, loop, "failed")
			return
		}
	}
	e.metrics.Inc(metrics.IntentsVec, loop, "recorded")

	log.Info("paper trade recorded",
		slog.String("trade_id", trade.ID),
		slog.Float64("price", trade.Price),
		slog.Float64("size", trade.Size),
		slog.String("reason", trade.Reason),
	)

	e.publish(ctx, trade, log)

	if e.notifier != nil {
		title, msg := notify.IntentMessage(intent)
		if err := e.notifier.Notify(ctx, notify.EventIntent, title, msg); err != nil {
			log.Warn("intent notification failed", slog.String("error", err.Error()))
		}
	}
}

// tradeEvent is the JSON shape published for recorded trades.
type tradeEvent struct {
	Event     string  `json:"event"`
	TradeID   string  `json:"trade_id"`
	IntentID  string  `json:"intent_id"`
	Slug      string  `json:"slug"`
	Asset     string  `json:"asset"`
	Cadence   string  `json:"cadence"`
	Direction string  `json:"direction"`
	TokenID   string  `json:"token_id"`
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
	Reason    string  `json:"reason"`
	Timestamp string  `json:"timestamp"`
}

func (e *Executor) publish(ctx context.Context, t domain.PaperTrade, log *slog.Logger) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(tradeEvent{
		Event:     "paper_trade",
		TradeID:   t.ID,
		IntentID:  t.IntentID,
		Slug:      t.Slug,
		Asset:     t.Asset,
		Cadence:   string(t.Cadence),
		Direction: t.Direction.String(),
		TokenID:   t.TokenID,
		Price:     t.Price,
		Size:      t.Size,
		Reason:    t.Reason,
		Timestamp: t.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, IntentChannel, payload); err != nil {
		log.Warn("publish trade event failed", slog.String("error", err.Error()))
	}
	if err := e.bus.StreamAppend(ctx, TradeStream, payload); err != nil {
		log.Warn("append trade stream failed", slog.String("error", err.Error()))
	}
}

// drain processes any intents already buffered after context cancellation
// so accepted intents are not silently dropped.
func (e *Executor) drain() {
	for {
		select {
		case intent := <-e.intents:
			e.logger.Warn("draining intent after shutdown",
				slog.String("intent_id", intent.ID),
			)
			// A short-lived context so shutdown does not hang on external
			// calls.
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.process(drainCtx, intent)
			cancel()
		default:
			return
		}
	}
}
