package domain

import "time"

// SignalSource names the computer that produced a signal.
type SignalSource string

const (
	SourceMispricing SignalSource = "mispricing"
	SourceWhale      SignalSource = "whale"
	SourceImbalance  SignalSource = "imbalance"
	SourceMomentum   SignalSource = "momentum"
)

// AllSources lists every signal source in priority order.
var AllSources = []SignalSource{SourceMispricing, SourceWhale, SourceImbalance, SourceMomentum}

// Valid reports whether s is a known source.
func (s SignalSource) Valid() bool {
	for _, src := range AllSources {
		if s == src {
			return true
		}
	}
	return false
}

// Direction is the outcome a signal or decision favours.
type Direction = Role

// Signal is a directional vote from one computer.
type Signal struct {
	Source    SignalSource
	Direction Direction
	Strength  float64
	Evidence  Evidence
	At        time.Time
}

// Evidence is the source-specific justification attached to a Signal. The
// set of implementations is closed: MispricingEvidence, WhaleEvidence,
// ImbalanceEvidence and MomentumEvidence.
type Evidence interface {
	evidence()
}

// MispricingKind distinguishes the two mispricing triggers.
type MispricingKind string

const (
	MispricingArbitrage MispricingKind = "arbitrage"
	MispricingCheapSide MispricingKind = "cheap_side"
	// MispricingFavouriteGap fires for the higher-priced side when the two
	// asks are far enough apart.
	MispricingFavouriteGap MispricingKind = "favourite_gap"
)

// MispricingEvidence records the asks that triggered a mispricing signal.
type MispricingEvidence struct {
	Kind      MispricingKind
	YesAsk    float64
	NoAsk     float64
	Sum       float64
	Gap       float64
	Threshold float64
}

// WhalePattern names a large-participant heuristic.
type WhalePattern string

const (
	WhaleLayering WhalePattern = "layering"
	WhaleSweep    WhalePattern = "sweep"
	WhaleSpoof    WhalePattern = "spoof"
)

// WhaleHit is one detected pattern on one side of one token.
type WhaleHit struct {
	Pattern WhalePattern
	Token   Role
	Side    Side
	Levels  int
	Size    float64
	Favours Role
}

// WhaleEvidence lists the detected patterns and the net pressure.
type WhaleEvidence struct {
	Hits        []WhaleHit
	YesPressure float64
	NoPressure  float64
}

// ImbalanceSample is one imbalance reading in [-1, 1] taken at At.
type ImbalanceSample struct {
	Value float64
	At    time.Time
}

// ImbalanceEvidence records the window state behind an imbalance signal.
type ImbalanceEvidence struct {
	Latest    float64
	Average   float64
	Samples   int
	Threshold float64
	BidVolume float64
	AskVolume float64
}

// MomentumEvidence lists the prior outcomes that agreed.
type MomentumEvidence struct {
	Lookback int
	Outcomes []Role
	Slugs    []string
}

func (MispricingEvidence) evidence() {}
func (WhaleEvidence) evidence()      {}
func (ImbalanceEvidence) evidence()  {}
func (MomentumEvidence) evidence()   {}

// Decision is the output of the signal combiner.
type Decision struct {
	Action    bool
	Direction Direction
	// Source is the override source, or "quorum".
	Source  string
	Reason  string
	Signals []Signal
}

// TradeIntent is the single hand-off from the decision core to the
// executor. At most one is emitted per window.
type TradeIntent struct {
	ID             string
	Window         MarketWindow
	Direction      Direction
	TokenID        string
	Size           float64
	PriceLimitHint float64
	Reason         string
	Decision       Decision
	EmittedAt      time.Time
}

// LoopStatus is a summary of one decision loop's state.
type LoopStatus struct {
	Asset       string
	Cadence     Cadence
	State       string
	WindowSlug  string
	Remaining   time.Duration
	BookStale   bool
	LastReason  string
	LastTick    time.Time
	Ticks       uint64
	Intents     uint64
	StartedAt   time.Time
	FeedHealthy bool
}

// DecisionRecord is one journal entry describing a notable tick: a state
// change, an actionable decision or an emitted intent.
type DecisionRecord struct {
	At        time.Time         `json:"at"`
	Loop      string            `json:"loop"`
	Slug      string            `json:"slug"`
	State     string            `json:"state"`
	Remaining float64           `json:"remaining_sec"`
	Direction string            `json:"direction,omitempty"`
	Gate      string            `json:"gate,omitempty"`
	Size      float64           `json:"size,omitempty"`
	IntentID  string            `json:"intent_id,omitempty"`
	Reason    string            `json:"reason"`
	Signals   map[string]string `json:"signals,omitempty"`
}
