// Package refprice keeps a short in-memory history of underlying reference
// prices (Chainlink via RTDS) and answers point-in-time questions about it.
package refprice

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultWindow is how much history is kept per symbol. It covers a full
// 15m window so settlement can read the start price after close.
const DefaultWindow = 20 * time.Minute

// PricePoint records a single price observation at a point in time.
type PricePoint struct {
	Price float64
	Time  time.Time
}

// SymbolFor maps an asset such as "BTC" to its reference symbol "btc/usd".
func SymbolFor(asset string) string {
	return strings.ToLower(strings.TrimSpace(asset)) + "/usd"
}

// Buffer maintains a sliding window of recent prices for each symbol. Points
// are kept in timestamp order even when ticks arrive out of order.
type Buffer struct {
	mu      sync.RWMutex
	history map[string][]PricePoint
	window  time.Duration
	updated time.Time
}

// NewBuffer creates a Buffer. Points older than window relative to the
// newest point of a symbol are discarded on every Track call.
func NewBuffer(window time.Duration) *Buffer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Buffer{
		history: make(map[string][]PricePoint),
		window:  window,
	}
}

// Track records a new price observation for the given symbol and trims points
// that have fallen outside the sliding window. Non-positive prices are
// ignored.
func (b *Buffer) Track(symbol string, price float64, ts time.Time) {
	if price <= 0 {
		return
	}
	symbol = strings.ToLower(symbol)

	b.mu.Lock()
	defer b.mu.Unlock()

	pts := b.history[symbol]
	i := sort.Search(len(pts), func(i int) bool { return pts[i].Time.After(ts) })
	pts = append(pts, PricePoint{})
	copy(pts[i+1:], pts[i:])
	pts[i] = PricePoint{Price: price, Time: ts}
	b.history[symbol] = pts
	b.trim(symbol)
	b.updated = time.Now()
}

// Latest returns the newest price for symbol.
func (b *Buffer) Latest(symbol string) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pts := b.history[strings.ToLower(symbol)]
	if len(pts) == 0 {
		return 0, false
	}
	return pts[len(pts)-1].Price, true
}

// LatestAt returns the newest price for symbol and the time it was
// observed at the source.
func (b *Buffer) LatestAt(symbol string) (float64, time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pts := b.history[strings.ToLower(symbol)]
	if len(pts) == 0 {
		return 0, time.Time{}, false
	}
	last := pts[len(pts)-1]
	return last.Price, last.Time, true
}

// PriceAt returns the last price recorded at or before ts.
func (b *Buffer) PriceAt(symbol string, ts time.Time) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.priceAt(strings.ToLower(symbol), ts)
}

func (b *Buffer) priceAt(symbol string, ts time.Time) (float64, bool) {
	pts := b.history[symbol]
	i := sort.Search(len(pts), func(i int) bool { return pts[i].Time.After(ts) })
	if i == 0 {
		return 0, false
	}
	return pts[i-1].Price, true
}

// Move returns the fractional change from the price at now-lookback to the
// latest price, e.g. 0.003 for +0.3%. It is false when no point at or before
// the cutoff is held.
func (b *Buffer) Move(symbol string, lookback time.Duration, now time.Time) (float64, bool) {
	symbol = strings.ToLower(symbol)

	b.mu.RLock()
	defer b.mu.RUnlock()

	pts := b.history[symbol]
	if len(pts) == 0 {
		return 0, false
	}
	base, ok := b.priceAt(symbol, now.Add(-lookback))
	if !ok || base <= 0 {
		return 0, false
	}
	return (pts[len(pts)-1].Price - base) / base, true
}

// GetHistory returns a copy of the history for symbol. The returned slice is
// safe to mutate.
func (b *Buffer) GetHistory(symbol string) []PricePoint {
	b.mu.RLock()
	defer b.mu.RUnlock()

	src := b.history[strings.ToLower(symbol)]
	if len(src) == 0 {
		return nil
	}
	out := make([]PricePoint, len(src))
	copy(out, src)
	return out
}

// LastUpdate returns the wall-clock time of the last Track call.
func (b *Buffer) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

// trim removes all points older than window relative to the newest point.
// The caller must hold b.mu.
func (b *Buffer) trim(symbol string) {
	pts := b.history[symbol]
	if len(pts) == 0 {
		return
	}
	cutoff := pts[len(pts)-1].Time.Add(-b.window)

	i := 0
	for i < len(pts) && pts[i].Time.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.history[symbol] = pts[i:]
	}
}
