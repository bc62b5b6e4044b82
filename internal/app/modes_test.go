package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/book"
	"github.com/alanyoungcy/updownbot/internal/config"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/engine"
	"github.com/alanyoungcy/updownbot/internal/service"
)

type noHistory struct{}

func (noHistory) Recent(string, domain.Cadence, time.Time, int) []domain.SettlementOutcome {
	return nil
}

type noWindows struct{}

func (noWindows) Current(string, domain.Cadence) (domain.MarketWindow, bool) {
	return domain.MarketWindow{}, false
}

type nopHandoff struct{}

func (nopHandoff) Submit(domain.TradeIntent) bool { return true }
func (nopHandoff) HasTraded(string) bool          { return false }

func testApp(cfg config.Config) *App {
	return New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestReferenceSymbols(t *testing.T) {
	targets := []service.Target{
		{Asset: "BTC", Cadence: domain.Cadence5m},
		{Asset: "BTC", Cadence: domain.Cadence15m},
		{Asset: "ETH", Cadence: domain.Cadence15m},
	}
	assert.Equal(t, []string{"btc/usd", "eth/usd"}, referenceSymbols(targets))
}

func TestComputerRegistryHonoursEnabledFlags(t *testing.T) {
	cfg := config.Defaults()
	cfg.Signals.Whale.Enabled = false

	reg := testApp(cfg).newComputerRegistry(noHistory{})
	assert.Equal(t, []string{"imbalance", "mispricing", "momentum"}, reg.List())

	computers := reg.Build()
	require.Len(t, computers, 3)
	assert.Equal(t, domain.SourceMispricing, computers[0].Source(), "priority order")

	// Momentum needs a history source.
	reg = testApp(cfg).newComputerRegistry(nil)
	assert.NotContains(t, reg.List(), "momentum")
}

func TestComputerRegistryBuildsFreshInstances(t *testing.T) {
	reg := testApp(config.Defaults()).newComputerRegistry(noHistory{})
	a, b := reg.Build(), reg.Build()
	require.Len(t, a, 4)
	for i := range a {
		assert.NotSame(t, a[i], b[i])
	}
}

func TestNewLoop(t *testing.T) {
	app := testApp(config.Defaults())
	target := service.Target{Asset: "BTC", Cadence: domain.Cadence15m}

	loop, err := app.newLoop(target, engine.Deps{
		Book:    book.NewStore(),
		Windows: noWindows{},
		Handoff: nopHandoff{},
	}, noHistory{})
	require.NoError(t, err)
	assert.Equal(t, "btc-15m", loop.Name())
	assert.Equal(t, "waiting_for_market", loop.Status().State)
}

func TestNewLoopRejectsUnknownPolicy(t *testing.T) {
	cfg := config.Defaults()
	cfg.Combiner.Policy = "majority"
	_, err := testApp(cfg).newLoop(service.Target{Asset: "BTC", Cadence: domain.Cadence5m}, engine.Deps{
		Book:    book.NewStore(),
		Windows: noWindows{},
		Handoff: nopHandoff{},
	}, nil)
	assert.Error(t, err)
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "live"
	err := testApp(cfg).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported mode "live"`)
}
