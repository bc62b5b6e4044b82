package strategy

import "github.com/alanyoungcy/updownbot/internal/domain"

// Momentum votes with the streak of recent settled windows of the same
// asset and cadence.
type Momentum struct {
	lookback int
	history  History
}

// NewMomentum creates a momentum computer requiring lookback agreeing
// outcomes.
func NewMomentum(lookback int, history History) *Momentum {
	if lookback < 1 {
		lookback = 1
	}
	return &Momentum{lookback: lookback, history: history}
}

func (m *Momentum) Source() domain.SignalSource { return domain.SourceMomentum }

func (m *Momentum) Reset() {}

// Compute fires only when the last lookback outcomes exist and all agree.
func (m *Momentum) Compute(in Input) (*domain.Signal, error) {
	if m.history == nil || in.Window.IsZero() {
		return nil, nil
	}
	outcomes := m.history.Recent(in.Window.Asset, in.Window.Cadence, in.Window.Start, m.lookback)
	if len(outcomes) < m.lookback {
		return nil, nil
	}
	outcomes = outcomes[:m.lookback]
	dir := outcomes[0].Winner
	ev := domain.MomentumEvidence{Lookback: m.lookback}
	for _, o := range outcomes {
		if o.Winner != dir {
			return nil, nil
		}
		ev.Outcomes = append(ev.Outcomes, o.Winner)
		ev.Slugs = append(ev.Slugs, o.Slug)
	}
	return &domain.Signal{
		Source:    domain.SourceMomentum,
		Direction: dir,
		Strength:  1,
		At:        in.Now,
		Evidence:  ev,
	}, nil
}
