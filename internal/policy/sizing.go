package policy

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// SizeBand maps remaining time in [Lower, Upper) to a position size. The
// band with the largest Upper also covers Upper itself, so an entry window
// of the same length is sized from its first second.
type SizeBand struct {
	Lower time.Duration
	Upper time.Duration
	Size  float64
}

func (b SizeBand) String() string {
	return fmt.Sprintf("[%s,%s)->%g", b.Lower, b.Upper, b.Size)
}

// Sizing picks a position size from the remaining time and vetoes entries
// whose price exceeds the ceiling.
type Sizing struct {
	bands    []SizeBand
	maxPrice float64
}

// NewSizing validates and builds a sizing policy. Bands must not overlap,
// must have Lower < Upper and Size > 0, and unless allowNonMonotonic is set
// size must not shrink as time runs out.
func NewSizing(bands []SizeBand, maxPrice float64, allowNonMonotonic bool) (*Sizing, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("sizing: at least one band is required")
	}
	if maxPrice <= 0 || maxPrice > 1 {
		return nil, fmt.Errorf("sizing: max_price must be in (0, 1], got %g", maxPrice)
	}
	sorted := slices.Clone(bands)
	slices.SortFunc(sorted, func(a, b SizeBand) int {
		return cmp.Compare(a.Lower, b.Lower)
	})
	for i, b := range sorted {
		if b.Lower < 0 || b.Lower >= b.Upper {
			return nil, fmt.Errorf("sizing: band %s: lower must be >= 0 and below upper", b)
		}
		if b.Size <= 0 {
			return nil, fmt.Errorf("sizing: band %s: size must be > 0", b)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if b.Lower < prev.Upper {
			return nil, fmt.Errorf("sizing: bands %s and %s overlap", prev, b)
		}
		// prev covers less remaining time, so it must not be smaller.
		if !allowNonMonotonic && prev.Size < b.Size {
			return nil, fmt.Errorf("sizing: band %s sizes below later band %s (set allow_non_monotonic to permit)", prev, b)
		}
	}
	return &Sizing{bands: sorted, maxPrice: maxPrice}, nil
}

// Bands returns the bands sorted by lower bound.
func (s *Sizing) Bands() []SizeBand { return slices.Clone(s.bands) }

// MaxPrice returns the price ceiling.
func (s *Sizing) MaxPrice() float64 { return s.maxPrice }

// SizeFor returns the size for remaining, or false when no band covers it.
func (s *Sizing) SizeFor(remaining time.Duration) (float64, bool) {
	last := len(s.bands) - 1
	for i, b := range s.bands {
		if remaining >= b.Lower && (remaining < b.Upper || (i == last && remaining == b.Upper)) {
			return b.Size, true
		}
	}
	return 0, false
}

// Size returns the position size for an entry at ask with remaining time
// left. ok is false with a reason when no trade should be placed.
func (s *Sizing) Size(remaining time.Duration, ask float64) (size float64, ok bool, reason string) {
	if ask <= 0 {
		return 0, false, "no ask on favoured side"
	}
	if ask > s.maxPrice {
		return 0, false, fmt.Sprintf("ask %.4f above max price %.4f", ask, s.maxPrice)
	}
	size, ok = s.SizeFor(remaining)
	if !ok {
		return 0, false, fmt.Sprintf("no size band for %s remaining", remaining.Round(time.Second))
	}
	return size, true, ""
}
