// Package feed keeps in-memory market state current from the Polymarket push
// feeds: the CLOB market channel for order books and RTDS for reference
// prices.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/updownbot/internal/book"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/metrics"
	"github.com/alanyoungcy/updownbot/internal/platform/polymarket"
)

// BookFeedConfig holds the connection parameters of a PolymarketWSFeed.
type BookFeedConfig struct {
	// Name labels the feed in logs and metrics, e.g. "clob-btc-5m".
	Name              string
	URL               string
	KeepaliveInterval time.Duration
	PongTimeout       time.Duration
	QueueSize         int
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// PolymarketWSFeed connects to the Polymarket CLOB market channel, subscribes
// to the tokens of the active window and applies snapshots and deltas to a
// book.Store. A network goroutine decodes frames into a bounded queue; Run
// drains the queue and is the only writer of the store. On disconnect,
// overflow or a crossed book the store is marked stale and the feed
// reconnects, which yields fresh snapshots.
type PolymarketWSFeed struct {
	cfg     BookFeedConfig
	store   *book.Store
	metrics *metrics.Metrics
	logger  *slog.Logger

	tokenMu sync.Mutex
	tokenCh chan []string

	connected atomic.Bool
}

// NewPolymarketWSFeed creates a feed that writes into store.
func NewPolymarketWSFeed(cfg BookFeedConfig, store *book.Store, m *metrics.Metrics, logger *slog.Logger) *PolymarketWSFeed {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Name == "" {
		cfg.Name = "clob"
	}
	return &PolymarketWSFeed{
		cfg:     cfg,
		store:   store,
		metrics: m,
		logger:  logger.With(slog.String("component", "polymarket_ws_feed"), slog.String("feed", cfg.Name)),
		tokenCh: make(chan []string, 1),
	}
}

// SetTokens re-targets the feed at a new token set. It never blocks; only
// the most recent set is kept.
func (f *PolymarketWSFeed) SetTokens(tokens []string) {
	cp := slices.Clone(tokens)

	f.tokenMu.Lock()
	defer f.tokenMu.Unlock()
	select {
	case <-f.tokenCh:
	default:
	}
	f.tokenCh <- cp
}

// Connected reports whether a subscription is currently live.
func (f *PolymarketWSFeed) Connected() bool {
	return f.connected.Load()
}

// Run keeps the feed connected until ctx is cancelled. It waits for a token
// set before dialling and reconnects with backoff on failure.
func (f *PolymarketWSFeed) Run(ctx context.Context) error {
	f.logger.Info("book feed started")
	defer f.logger.Info("book feed stopped")

	bo := newBackoff(f.cfg.ReconnectDelay, f.cfg.MaxReconnectDelay)
	var tokens []string
	for {
		if len(tokens) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case tokens = <-f.tokenCh:
			}
			continue
		}

		next, applied, err := f.runConnection(ctx, tokens)
		f.connected.Store(false)
		f.store.MarkStale()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if next != nil {
			tokens = next
			bo.reset()
			continue
		}
		if applied {
			bo.reset()
		}
		if errors.Is(err, domain.ErrRateLimited) {
			bo.atLeast(rateLimitBackoff)
		}

		delay := bo.next()
		f.metrics.Inc(metrics.ReconnectsVec, f.cfg.Name)
		f.logger.Warn("polymarket ws disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case tokens = <-f.tokenCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// runConnection serves one connection. It returns the new token set when a
// re-target arrives, and reports whether any message was applied.
func (f *PolymarketWSFeed) runConnection(ctx context.Context, tokens []string) ([]string, bool, error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := polymarket.NewWSClient(f.cfg.URL, f.cfg.KeepaliveInterval, f.cfg.PongTimeout)
	defer client.Close()

	dialCtx, dialCancel := context.WithTimeout(connCtx, dialTimeout)
	err := client.Connect(dialCtx)
	dialCancel()
	if err != nil {
		return nil, false, err
	}
	if err := client.Subscribe(tokens); err != nil {
		return nil, false, err
	}
	f.connected.Store(true)
	f.logger.Info("polymarket ws subscribed", slog.Int("assets", len(tokens)))

	events := make(chan polymarket.Event, f.cfg.QueueSize)
	readErr := make(chan error, 1)
	go func() { readErr <- client.Run(connCtx, events) }()

	applied := false
	for {
		select {
		case <-ctx.Done():
			return nil, applied, ctx.Err()

		case next := <-f.tokenCh:
			if slices.Equal(next, tokens) {
				continue
			}
			f.logger.Info("book feed re-targeted", slog.Any("tokens", next))
			return next, applied, nil

		case err := <-readErr:
			if errors.Is(err, polymarket.ErrQueueFull) {
				f.metrics.Inc(metrics.FeedDropsVec, f.cfg.Name, "queue_full")
			}
			if errors.Is(err, domain.ErrMalformedFrame) {
				f.metrics.Inc(metrics.FeedDropsVec, f.cfg.Name, "malformed")
			}
			return nil, applied, err

		case ev := <-events:
			if err := f.apply(ev); err != nil {
				return nil, applied, err
			}
			applied = true
		}
	}
}

// apply writes one event into the store. Events for tokens that are no
// longer bound are dropped; a crossed book is returned so the caller
// re-snapshots.
func (f *PolymarketWSFeed) apply(ev polymarket.Event) error {
	var err error
	switch ev.Kind {
	case polymarket.EventBook:
		err = f.store.ApplySnapshot(ev.TokenID, ev.Bids, ev.Asks, ev.At, ev.Hash)
	case polymarket.EventPriceChange:
		err = f.store.ApplyDelta(ev.TokenID, ev.Changes, ev.At, ev.Hash)
	default:
		return nil
	}

	switch {
	case err == nil:
		f.metrics.Inc(metrics.FeedMessagesVec, f.cfg.Name, ev.Kind.String())
		return nil
	case errors.Is(err, domain.ErrUnknownToken):
		f.metrics.Inc(metrics.FeedDropsVec, f.cfg.Name, "unknown_token")
		return nil
	case errors.Is(err, domain.ErrCrossedBook):
		f.metrics.Inc(metrics.FeedDropsVec, f.cfg.Name, "crossed")
		return err
	default:
		return err
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
