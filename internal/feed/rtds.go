package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/metrics"
	"github.com/alanyoungcy/updownbot/internal/platform/polymarket"
	"github.com/alanyoungcy/updownbot/internal/refprice"
)

const rtdsFeedName = "rtds"

// RTDSFeedConfig holds the connection parameters of an RTDSFeed.
type RTDSFeedConfig struct {
	URL               string
	Symbols           []string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	// HealthyAge is how recent the last tick must be for Healthy.
	HealthyAge time.Duration
}

// RTDSFeed streams Chainlink reference prices into a refprice.Buffer.
type RTDSFeed struct {
	cfg     RTDSFeedConfig
	buffer  *refprice.Buffer
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewRTDSFeed creates a feed that records ticks into buffer.
func NewRTDSFeed(cfg RTDSFeedConfig, buffer *refprice.Buffer, m *metrics.Metrics, logger *slog.Logger) *RTDSFeed {
	if cfg.HealthyAge <= 0 {
		cfg.HealthyAge = 30 * time.Second
	}
	return &RTDSFeed{
		cfg:     cfg,
		buffer:  buffer,
		metrics: m,
		logger:  logger.With(slog.String("component", "rtds_feed")),
	}
}

// Healthy reports whether a tick arrived within the configured age.
func (f *RTDSFeed) Healthy(now time.Time) bool {
	last := f.buffer.LastUpdate()
	return !last.IsZero() && now.Sub(last) <= f.cfg.HealthyAge
}

// Run keeps the RTDS subscription alive until ctx is cancelled. A 429
// handshake backs off for at least a minute.
func (f *RTDSFeed) Run(ctx context.Context) error {
	if len(f.cfg.Symbols) == 0 {
		f.logger.Info("no reference symbols to subscribe, exiting")
		return nil
	}
	f.logger.Info("rtds feed started", slog.Any("symbols", f.cfg.Symbols))
	defer f.logger.Info("rtds feed stopped")

	bo := newBackoff(f.cfg.ReconnectDelay, f.cfg.MaxReconnectDelay)
	for {
		received, err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			bo.reset()
		}
		if errors.Is(err, domain.ErrRateLimited) {
			f.logger.Warn("rtds rate limited, backing off")
			bo.atLeast(rateLimitBackoff)
		}
		delay := bo.next()
		f.metrics.Inc(metrics.ReconnectsVec, rtdsFeedName)
		f.logger.Warn("rtds disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (f *RTDSFeed) runConnection(ctx context.Context) (bool, error) {
	client := polymarket.NewRTDSClient(f.cfg.URL)
	defer client.Close()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	err := client.Connect(dialCtx)
	cancel()
	if err != nil {
		return false, err
	}
	if err := client.Subscribe(f.cfg.Symbols); err != nil {
		return false, err
	}
	f.logger.Info("rtds subscribed", slog.Int("symbols", len(f.cfg.Symbols)))

	received := false
	err = client.Run(ctx, func(t polymarket.PriceTick) {
		received = true
		f.buffer.Track(t.Symbol, t.Value, t.At)
		f.metrics.Inc(metrics.FeedMessagesVec, rtdsFeedName, "price")
	})
	return received, err
}
