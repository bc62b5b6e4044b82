package strategy

import "github.com/alanyoungcy/updownbot/internal/domain"

// MispricingParams configures the mispricing computer.
type MispricingParams struct {
	// ArbitrageEnabled turns on the sum-of-asks branch.
	ArbitrageEnabled bool
	// ArbSumThreshold fires the arbitrage branch when yesAsk+noAsk is below it.
	ArbSumThreshold float64
	// CheapAskFloor fires the cheap-side branch when either best ask is below
	// it. 0 disables the branch.
	CheapAskFloor float64
	// MinGap fires the favourite-gap branch for the higher ask when
	// |yesAsk-noAsk| >= MinGap. 0 disables the branch.
	MinGap float64
}

// Mispricing detects structural mispricing between the two outcome tokens.
type Mispricing struct {
	p MispricingParams
}

// NewMispricing creates a mispricing computer.
func NewMispricing(p MispricingParams) *Mispricing {
	return &Mispricing{p: p}
}

func (m *Mispricing) Source() domain.SignalSource { return domain.SourceMispricing }

func (m *Mispricing) Reset() {}

// Compute checks the arbitrage branch, then the cheap-side branch, then the
// favourite gap.
func (m *Mispricing) Compute(in Input) (*domain.Signal, error) {
	if in.Book.Stale {
		return nil, nil
	}
	yes, okYes := in.Book.Yes.BestAsk()
	no, okNo := in.Book.No.BestAsk()

	if m.p.ArbitrageEnabled && okYes && okNo && m.p.ArbSumThreshold > 0 {
		sum := yes.PriceTicks + no.PriceTicks
		limit := domain.TicksFromPrice(m.p.ArbSumThreshold)
		if sum < limit && yes.PriceTicks != no.PriceTicks {
			// The favourite is the side the market prices higher.
			dir := domain.RoleYes
			if no.PriceTicks > yes.PriceTicks {
				dir = domain.RoleNo
			}
			return &domain.Signal{
				Source:    domain.SourceMispricing,
				Direction: dir,
				Strength:  float64(limit-sum) / float64(limit),
				At:        in.Now,
				Evidence: domain.MispricingEvidence{
					Kind:      domain.MispricingArbitrage,
					YesAsk:    yes.Price(),
					NoAsk:     no.Price(),
					Sum:       float64(sum) / domain.PriceScale,
					Threshold: m.p.ArbSumThreshold,
				},
			}, nil
		}
	}

	if sig := m.cheapSide(in, yes, okYes, no, okNo); sig != nil {
		return sig, nil
	}
	if okYes && okNo {
		return m.favouriteGap(in, yes, no), nil
	}
	return nil, nil
}

func (m *Mispricing) cheapSide(in Input, yes domain.PriceLevel, okYes bool, no domain.PriceLevel, okNo bool) *domain.Signal {
	if m.p.CheapAskFloor <= 0 {
		return nil
	}
	floor := domain.TicksFromPrice(m.p.CheapAskFloor)
	var (
		dir   domain.Role
		best  int64
		found bool
	)
	if okYes && yes.PriceTicks < floor {
		dir, best, found = domain.RoleYes, yes.PriceTicks, true
	}
	if okNo && no.PriceTicks < floor && (!found || no.PriceTicks < best) {
		dir, best, found = domain.RoleNo, no.PriceTicks, true
	}
	if !found {
		return nil
	}
	ev := domain.MispricingEvidence{
		Kind:      domain.MispricingCheapSide,
		Threshold: m.p.CheapAskFloor,
	}
	if okYes {
		ev.YesAsk = yes.Price()
	}
	if okNo {
		ev.NoAsk = no.Price()
	}
	ev.Sum = ev.YesAsk + ev.NoAsk
	return &domain.Signal{
		Source:    domain.SourceMispricing,
		Direction: dir,
		Strength:  float64(floor-best) / float64(floor),
		At:        in.Now,
		Evidence:  ev,
	}
}

// favouriteGap backs the side the market prices higher once the asks are at
// least MinGap apart.
func (m *Mispricing) favouriteGap(in Input, yes, no domain.PriceLevel) *domain.Signal {
	if m.p.MinGap <= 0 || yes.PriceTicks == no.PriceTicks {
		return nil
	}
	dir, gap := domain.RoleYes, yes.PriceTicks-no.PriceTicks
	if no.PriceTicks > yes.PriceTicks {
		dir, gap = domain.RoleNo, -gap
	}
	if gap < domain.TicksFromPrice(m.p.MinGap) {
		return nil
	}
	g := float64(gap) / domain.PriceScale
	return &domain.Signal{
		Source:    domain.SourceMispricing,
		Direction: dir,
		Strength:  g,
		At:        in.Now,
		Evidence: domain.MispricingEvidence{
			Kind:      domain.MispricingFavouriteGap,
			YesAsk:    yes.Price(),
			NoAsk:     no.Price(),
			Sum:       yes.Price() + no.Price(),
			Gap:       g,
			Threshold: m.p.MinGap,
		},
	}
}
