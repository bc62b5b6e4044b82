package strategy

import (
	"math"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// ImbalanceParams configures the imbalance computer.
type ImbalanceParams struct {
	// TopK is the number of levels summed per side of each book.
	TopK int
	// Threshold is the magnitude the rolling average must exceed.
	Threshold float64
	// WindowSize is the RollingWindow capacity in samples.
	WindowSize int
	// MinSamples is the number of samples needed before signalling.
	MinSamples int
	// MaxAge evicts samples older than this before each vote. 0 keeps
	// samples until they are pushed out by count.
	MaxAge time.Duration
}

// Imbalance measures bid versus ask volume pressure across both outcome
// books and smooths it over a RollingWindow.
type Imbalance struct {
	p      ImbalanceParams
	window *RollingWindow
}

// NewImbalance creates an imbalance computer with its own RollingWindow.
func NewImbalance(p ImbalanceParams) *Imbalance {
	if p.TopK <= 0 {
		p.TopK = 5
	}
	w := NewRollingWindow(p.WindowSize)
	if p.MinSamples <= 0 || p.MinSamples > w.Cap() {
		p.MinSamples = w.Cap()
	}
	return &Imbalance{p: p, window: w}
}

func (c *Imbalance) Source() domain.SignalSource { return domain.SourceImbalance }

// Window exposes the underlying RollingWindow.
func (c *Imbalance) Window() *RollingWindow { return c.window }

func (c *Imbalance) Reset() { c.window.Reset() }

// Compute pushes the current imbalance ratio and votes on the average. A
// book with no volume on either side yields no sample and no signal. A stale
// view empties the window, so pressure is only averaged over an unbroken run
// of fresh books.
func (c *Imbalance) Compute(in Input) (*domain.Signal, error) {
	if in.Book.Stale {
		c.window.Reset()
		return nil, nil
	}
	if c.p.MaxAge > 0 {
		c.window.EvictBefore(in.Now.Add(-c.p.MaxAge))
	}
	k := c.p.TopK
	bid := in.Book.Yes.BidVolume(k) + in.Book.No.BidVolume(k)
	ask := in.Book.Yes.AskVolume(k) + in.Book.No.AskVolume(k)
	total := bid + ask
	if total <= 0 {
		return nil, nil
	}
	ratio := (bid - ask) / total
	c.window.Push(ratio, in.Now)

	if c.window.Len() < c.p.MinSamples {
		return nil, nil
	}
	avg := c.window.Average()
	var dir domain.Role
	switch {
	case avg > c.p.Threshold:
		dir = domain.RoleYes
	case avg < -c.p.Threshold:
		dir = domain.RoleNo
	default:
		return nil, nil
	}
	return &domain.Signal{
		Source:    domain.SourceImbalance,
		Direction: dir,
		Strength:  math.Abs(avg),
		At:        in.Now,
		Evidence: domain.ImbalanceEvidence{
			Latest:    ratio,
			Average:   avg,
			Samples:   c.window.Len(),
			Threshold: c.p.Threshold,
			BidVolume: bid,
			AskVolume: ask,
		},
	}, nil
}
