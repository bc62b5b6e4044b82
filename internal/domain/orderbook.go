package domain

import "time"

// PriceScale is the number of ticks per unit of price. Prices are stored as
// fixed-point integers so level keys compare exactly.
const PriceScale = 1_000_000

// Side identifies one side of an order book.
type Side string

const (
	SideBid Side = "BUY"
	SideAsk Side = "SELL"
)

// PriceLevel is a single price+size entry in an order book.
type PriceLevel struct {
	PriceTicks int64
	Size       float64
}

// Price returns the display price from fixed-point ticks.
func (l PriceLevel) Price() float64 {
	return float64(l.PriceTicks) / PriceScale
}

// TicksFromPrice converts a display price to fixed-point ticks, rounding to
// the nearest tick.
func TicksFromPrice(p float64) int64 {
	if p < 0 {
		return int64(p*PriceScale - 0.5)
	}
	return int64(p*PriceScale + 0.5)
}

// LevelChange is an incremental order book update. Size 0 removes the level.
type LevelChange struct {
	Side       Side
	PriceTicks int64
	Size       float64
}

// OrderBook is the normalized ladder for one outcome token. Asks are sorted
// ascending, bids descending; index 0 is the best level on each side.
type OrderBook struct {
	Token     OutcomeToken
	Bids      []PriceLevel
	Asks      []PriceLevel
	UpdatedAt time.Time
	Seq       uint64
	Hash      string
}

// BestBid returns the top bid level, if any.
func (b OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask level, if any.
func (b OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// Crossed reports whether the best bid is at or above the best ask.
func (b OrderBook) Crossed() bool {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	return okB && okA && bid.PriceTicks >= ask.PriceTicks
}

// BidVolume sums the sizes of the top k bid levels.
func (b OrderBook) BidVolume(k int) float64 {
	return sumSize(b.Bids, k)
}

// AskVolume sums the sizes of the top k ask levels.
func (b OrderBook) AskVolume(k int) float64 {
	return sumSize(b.Asks, k)
}

func sumSize(levels []PriceLevel, k int) float64 {
	if k <= 0 || k > len(levels) {
		k = len(levels)
	}
	var total float64
	for _, l := range levels[:k] {
		total += l.Size
	}
	return total
}

// BookView is an immutable, consistent copy of both outcome books of a
// window, taken under a single lock.
type BookView struct {
	Yes     OrderBook
	No      OrderBook
	Stale   bool
	TakenAt time.Time
}

// Book returns the ladder for the given role.
func (v BookView) Book(r Role) OrderBook {
	if r == RoleNo {
		return v.No
	}
	return v.Yes
}
