package domain

import "time"

// PaperTradeStatus is the lifecycle state of a recorded trade.
type PaperTradeStatus string

const (
	TradeStatusOpen PaperTradeStatus = "open"
	TradeStatusWon  PaperTradeStatus = "won"
	TradeStatusLost PaperTradeStatus = "lost"
)

// PaperTrade is a trade intent accepted by the executor.
type PaperTrade struct {
	ID        string
	IntentID  string
	Slug      string
	Asset     string
	Cadence   Cadence
	Direction Direction
	TokenID   string
	Price     float64
	Size      float64
	Reason    string
	Status    PaperTradeStatus
	PnL       float64
	CreatedAt time.Time
	SettledAt *time.Time
}

// Settle applies outcome to the trade: a win pays size/price - size, a loss
// forfeits size.
func (t *PaperTrade) Settle(winner Role, at time.Time) {
	if t.Direction == winner {
		t.Status = TradeStatusWon
		if t.Price > 0 {
			t.PnL = t.Size/t.Price - t.Size
		}
	} else {
		t.Status = TradeStatusLost
		t.PnL = -t.Size
	}
	t.SettledAt = &at
}
