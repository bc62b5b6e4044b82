// Package app owns the lifecycle of the up/down bot: it connects the
// configured backends, builds one decision loop per (asset, cadence) target
// and supervises feeds, discovery, settlement and the paper executor until
// shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/updownbot/internal/config"
)

// modeFunc runs one operating mode until ctx is cancelled.
type modeFunc func(a *App, ctx context.Context, deps *Dependencies) error

var modes = map[string]modeFunc{
	config.ModePaper:   (*App).PaperMode,
	config.ModeMonitor: (*App).MonitorMode,
}

// App holds the configuration, the component logger and the teardown hooks
// registered while wiring. Hooks run last-in first-out from Close.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New returns an App for cfg.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run connects backends and blocks in the configured mode until ctx ends.
func (a *App) Run(ctx context.Context) error {
	run, ok := modes[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	targets := a.cfg.Targets()
	names := make([]string, 0, len(targets))
	for _, t := range targets {
		names = append(names, t.Name())
	}
	a.logger.InfoContext(ctx, "starting bot",
		slog.String("mode", a.cfg.Mode),
		slog.String("targets", strings.Join(names, ",")),
		slog.String("combiner", a.cfg.Combiner.Policy),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	return run(a, ctx, deps)
}

// Close runs the registered teardown hooks once.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("releasing resources", slog.Int("hooks", len(a.closers)))
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
