// Package policy holds the time-based entry gate and the sizing policy
// applied after the signal combiner.
package policy

import (
	"fmt"
	"math"
	"time"
)

// GateState is the outcome of an entry gate evaluation.
type GateState string

const (
	GateOpen    GateState = "open"
	GateBlocked GateState = "blocked"
)

// GateParams configures the entry gate. All offsets are seconds remaining
// until window close.
type GateParams struct {
	// EntryWindow opens the gate only when remaining <= EntryWindow.
	// 0 means the whole window.
	EntryWindow time.Duration
	// BandStart and BandEnd bound the block band: BandEnd <= remaining <=
	// BandStart is blocked. Both zero disables the band.
	BandStart time.Duration
	BandEnd   time.Duration
	// FinalCutoff always blocks when remaining <= FinalCutoff. 0 disables.
	FinalCutoff time.Duration
	// RequireStrike blocks until the window start price is known.
	RequireStrike bool

	// StrikeBlockEnabled blocks when the underlying trades within
	// StrikeDistancePct percent of the window strike.
	StrikeBlockEnabled bool
	StrikeDistancePct  float64

	// MoveOverridePct is the absolute percentage move over MoveLookback
	// that counts as "the underlying moved".
	MoveOverridePct float64
	MoveLookback    time.Duration
	// MoveOverridesBand lifts the band block when the underlying moved.
	MoveOverridesBand bool
	// MoveOverridesStrike lifts the strike block when the underlying moved.
	MoveOverridesStrike bool
}

// Validate reports inconsistent gate parameters.
func (p GateParams) Validate() error {
	if p.BandStart < 0 || p.BandEnd < 0 || p.FinalCutoff < 0 || p.EntryWindow < 0 {
		return fmt.Errorf("gate: offsets must not be negative")
	}
	if (p.BandStart != 0 || p.BandEnd != 0) && p.BandStart <= p.BandEnd {
		return fmt.Errorf("gate: band_start (%s) must be greater than band_end (%s)", p.BandStart, p.BandEnd)
	}
	if p.StrikeBlockEnabled && p.StrikeDistancePct <= 0 {
		return fmt.Errorf("gate: strike_distance_pct must be > 0 when the strike block is enabled")
	}
	if (p.MoveOverridesBand || p.MoveOverridesStrike) && (p.MoveOverridePct <= 0 || p.MoveLookback <= 0) {
		return fmt.Errorf("gate: move_override_pct and move_lookback must be > 0 when a move override is enabled")
	}
	return nil
}

// GateInput is the per-tick state the gate looks at. Reference prices are
// optional; a nil pointer means the data is unavailable.
type GateInput struct {
	Remaining time.Duration
	BookStale bool
	Strike    float64
	// Reference is the latest underlying price.
	Reference *float64
	// Move is the fractional change of the underlying over MoveLookback.
	Move *float64
}

// GateResult carries the state and every reason that contributed to a
// block.
type GateResult struct {
	State   GateState
	Reasons []string
}

// Open reports whether entries are allowed.
func (r GateResult) Open() bool { return r.State == GateOpen }

// Gate is a pure function of its parameters and input.
//
// Blocked = stale
//
//	|| outside entry window
//	|| final cutoff
//	|| (RequireStrike && strike unknown)
//	|| (in band && !(MoveOverridesBand && moved))
//	|| (near strike && !(MoveOverridesStrike && moved))
//
// A predicate whose reference data is missing evaluates to false.
type Gate struct {
	p GateParams
}

// NewGate creates a gate. Call GateParams.Validate first.
func NewGate(p GateParams) *Gate {
	return &Gate{p: p}
}

// Params returns the gate configuration.
func (g *Gate) Params() GateParams { return g.p }

// Evaluate applies the gate composition to in.
func (g *Gate) Evaluate(in GateInput) GateResult {
	var reasons []string
	rem := in.Remaining

	if in.BookStale {
		reasons = append(reasons, "book stale")
	}
	if rem <= 0 {
		reasons = append(reasons, "window closed")
	} else if g.p.EntryWindow > 0 && rem > g.p.EntryWindow {
		reasons = append(reasons, fmt.Sprintf("outside entry window (%s > %s)", rem.Round(time.Second), g.p.EntryWindow))
	}
	if g.p.FinalCutoff > 0 && rem <= g.p.FinalCutoff {
		reasons = append(reasons, fmt.Sprintf("final cutoff (%s <= %s)", rem.Round(time.Second), g.p.FinalCutoff))
	}

	if g.p.RequireStrike && in.Strike <= 0 {
		reasons = append(reasons, "window start price unknown")
	}
	moved := g.moved(in)
	if g.InBand(rem) && !(g.p.MoveOverridesBand && moved) {
		reasons = append(reasons, fmt.Sprintf("block band [%s, %s]", g.p.BandStart, g.p.BandEnd))
	}
	if g.nearStrike(in) && !(g.p.MoveOverridesStrike && moved) {
		reasons = append(reasons, "underlying near strike")
	}

	if len(reasons) > 0 {
		return GateResult{State: GateBlocked, Reasons: reasons}
	}
	return GateResult{State: GateOpen}
}

// InBand reports whether rem falls inside the configured block band.
func (g *Gate) InBand(rem time.Duration) bool {
	if g.p.BandStart == 0 && g.p.BandEnd == 0 {
		return false
	}
	return rem >= g.p.BandEnd && rem <= g.p.BandStart
}

func (g *Gate) moved(in GateInput) bool {
	if in.Move == nil || g.p.MoveOverridePct <= 0 {
		return false
	}
	return math.Abs(*in.Move)*100 >= g.p.MoveOverridePct
}

func (g *Gate) nearStrike(in GateInput) bool {
	if !g.p.StrikeBlockEnabled || in.Reference == nil || in.Strike <= 0 {
		return false
	}
	return math.Abs(*in.Reference-in.Strike)/in.Strike*100 < g.p.StrikeDistancePct
}
