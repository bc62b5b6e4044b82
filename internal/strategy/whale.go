package strategy

import (
	"math"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// WhaleParams configures the large-participant heuristics.
type WhaleParams struct {
	// TopN is the number of levels inspected per side.
	TopN int
	// MinSize is the size a level must reach to count as large.
	MinSize float64
	// LayeringLevels is the number of large resting levels on one side that
	// makes a layering hit.
	LayeringLevels int
	// SweepLevels is the number of levels that must disappear through the
	// best price between ticks to make a sweep hit.
	SweepLevels int
	// SpoofRepeats is the number of place-then-pull cycles of a large level
	// within SpoofWindow that makes a spoof hit.
	SpoofRepeats int
	SpoofWindow  time.Duration
}

type sideKey struct {
	role domain.Role
	side domain.Side
}

type levelKey struct {
	sideKey
	price int64
}

// Whale looks for layering, sweeps and spoofing in the top of both books.
// Resting patterns (layering, spoof) on a token's bids favour that token and
// on its asks favour the other one. A sweep through a token's asks favours
// that token; a sweep through its bids favours the other one.
type Whale struct {
	p      WhaleParams
	prev   map[sideKey][]domain.PriceLevel
	large  map[levelKey]bool
	pulled map[sideKey][]time.Time
}

// NewWhale creates a whale computer.
func NewWhale(p WhaleParams) *Whale {
	if p.TopN <= 0 {
		p.TopN = 10
	}
	w := &Whale{p: p}
	w.Reset()
	return w
}

func (w *Whale) Source() domain.SignalSource { return domain.SourceWhale }

func (w *Whale) Reset() {
	w.prev = make(map[sideKey][]domain.PriceLevel)
	w.large = make(map[levelKey]bool)
	w.pulled = make(map[sideKey][]time.Time)
}

// favours maps a pattern on one side of a token to the outcome it supports.
func favours(role domain.Role, side domain.Side, sweep bool) domain.Role {
	toward := side == domain.SideBid
	if sweep {
		toward = !toward
	}
	if toward {
		return role
	}
	return role.Opposite()
}

func (w *Whale) Compute(in Input) (*domain.Signal, error) {
	if in.Book.Stale {
		// Ladders seen across a gap would read as sweeps and pulls.
		w.Reset()
		return nil, nil
	}

	var hits []domain.WhaleHit
	for _, role := range []domain.Role{domain.RoleYes, domain.RoleNo} {
		book := in.Book.Book(role)
		for _, side := range []domain.Side{domain.SideBid, domain.SideAsk} {
			levels := book.Asks
			if side == domain.SideBid {
				levels = book.Bids
			}
			if len(levels) > w.p.TopN {
				levels = levels[:w.p.TopN]
			}
			key := sideKey{role: role, side: side}
			swept, hit := w.sweep(key, levels)
			if hit != nil {
				hits = append(hits, *hit)
			}
			if h := w.layering(key, levels); h != nil {
				hits = append(hits, *h)
			}
			if h := w.spoof(key, levels, swept, in.Now); h != nil {
				hits = append(hits, *h)
			}
			w.prev[key] = append([]domain.PriceLevel(nil), levels...)
		}
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ev := domain.WhaleEvidence{Hits: hits}
	for _, h := range hits {
		if h.Favours == domain.RoleYes {
			ev.YesPressure += h.Size
		} else {
			ev.NoPressure += h.Size
		}
	}
	total := ev.YesPressure + ev.NoPressure
	if ev.YesPressure == ev.NoPressure || total <= 0 {
		return nil, nil
	}
	dir := domain.RoleYes
	if ev.NoPressure > ev.YesPressure {
		dir = domain.RoleNo
	}
	return &domain.Signal{
		Source:    domain.SourceWhale,
		Direction: dir,
		Strength:  math.Abs(ev.YesPressure-ev.NoPressure) / total,
		At:        in.Now,
		Evidence:  ev,
	}, nil
}

func (w *Whale) layering(key sideKey, levels []domain.PriceLevel) *domain.WhaleHit {
	if w.p.LayeringLevels <= 0 {
		return nil
	}
	var count int
	var size float64
	for _, l := range levels {
		if l.Size >= w.p.MinSize {
			count++
			size += l.Size
		}
	}
	if count < w.p.LayeringLevels {
		return nil
	}
	return &domain.WhaleHit{
		Pattern: domain.WhaleLayering,
		Token:   key.role,
		Side:    key.side,
		Levels:  count,
		Size:    size,
		Favours: favours(key.role, key.side, false),
	}
}

// sweep counts previous levels that now sit on the wrong side of the best
// price, i.e. were consumed as the best moved through them. It returns the
// consumed prices so spoof tracking does not count them as pulls.
func (w *Whale) sweep(key sideKey, levels []domain.PriceLevel) (map[int64]bool, *domain.WhaleHit) {
	prev := w.prev[key]
	if len(prev) == 0 || len(levels) == 0 {
		return nil, nil
	}
	best := levels[0].PriceTicks
	swept := make(map[int64]bool)
	var size float64
	for _, l := range prev {
		through := l.PriceTicks < best
		if key.side == domain.SideBid {
			through = l.PriceTicks > best
		}
		if through {
			swept[l.PriceTicks] = true
			size += l.Size
		}
	}
	if w.p.SweepLevels <= 0 || len(swept) < w.p.SweepLevels || size < w.p.MinSize {
		return swept, nil
	}
	return swept, &domain.WhaleHit{
		Pattern: domain.WhaleSweep,
		Token:   key.role,
		Side:    key.side,
		Levels:  len(swept),
		Size:    size,
		Favours: favours(key.role, key.side, true),
	}
}

// spoof records large levels that vanish without being swept and reports a
// hit when enough pulls land inside SpoofWindow.
func (w *Whale) spoof(key sideKey, levels []domain.PriceLevel, swept map[int64]bool, now time.Time) *domain.WhaleHit {
	current := make(map[int64]bool, len(levels))
	var restingLarge float64
	for _, l := range levels {
		if l.Size >= w.p.MinSize {
			current[l.PriceTicks] = true
			restingLarge += l.Size
			w.large[levelKey{sideKey: key, price: l.PriceTicks}] = true
		}
	}
	for lk := range w.large {
		if lk.sideKey != key || current[lk.price] {
			continue
		}
		delete(w.large, lk)
		if !swept[lk.price] {
			w.pulled[key] = append(w.pulled[key], now)
		}
	}

	cutoff := now.Add(-w.p.SpoofWindow)
	kept := w.pulled[key][:0]
	for _, ts := range w.pulled[key] {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.pulled[key] = kept

	if w.p.SpoofRepeats <= 0 || len(kept) < w.p.SpoofRepeats {
		return nil
	}
	return &domain.WhaleHit{
		Pattern: domain.WhaleSpoof,
		Token:   key.role,
		Side:    key.side,
		Levels:  len(kept),
		Size:    w.p.MinSize * float64(len(kept)),
		Favours: favours(key.role, key.side, false),
	}
}
