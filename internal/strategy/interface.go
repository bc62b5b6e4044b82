// Package strategy holds the signal computers that turn order book state
// into directional votes, and the policies that combine those votes.
package strategy

import (
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Input is everything a computer may look at for one tick.
type Input struct {
	Window domain.MarketWindow
	Book   domain.BookView
	Now    time.Time
}

// Computer produces at most one signal per tick. A nil signal with a nil
// error means "no opinion". Computers may keep per-window state; Reset
// clears it on window rollover.
type Computer interface {
	Source() domain.SignalSource
	Compute(in Input) (*domain.Signal, error)
	Reset()
}

// History supplies resolved outcomes of earlier windows. Implementations
// must answer from memory without blocking on I/O.
type History interface {
	// Recent returns up to n outcomes for asset and cadence whose window
	// started before the given time, most recent first.
	Recent(asset string, cadence domain.Cadence, before time.Time, n int) []domain.SettlementOutcome
}
