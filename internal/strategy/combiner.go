package strategy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// CombineOptions parameterizes a combining policy.
type CombineOptions struct {
	// Override is the source whose signal wins outright. Empty disables the
	// override tier.
	Override domain.SignalSource
	// Quorum is the number of agreeing non-override signals needed.
	Quorum int
	// Disabled sources are ignored even if a signal is present.
	Disabled map[domain.SignalSource]bool
}

// Policy turns the signals of one tick into a decision. Policies are pure
// functions and may be swapped by configuration.
type Policy func(signals []domain.Signal, opts CombineOptions) domain.Decision

// PriorityQuorum lets the override source decide alone; otherwise it needs
// Quorum agreeing votes from the remaining sources.
func PriorityQuorum(signals []domain.Signal, opts CombineOptions) domain.Decision {
	votes := dedupe(signals, opts.Disabled)
	if opts.Override != "" {
		for _, s := range votes {
			if s.Source == opts.Override {
				return domain.Decision{
					Action:    true,
					Direction: s.Direction,
					Source:    string(s.Source),
					Reason:    fmt.Sprintf("%s override %s", s.Source, s.Direction),
					Signals:   votes,
				}
			}
		}
	}
	rest := make([]domain.Signal, 0, len(votes))
	for _, s := range votes {
		if s.Source != opts.Override {
			rest = append(rest, s)
		}
	}
	d := quorum(rest, opts.Quorum)
	d.Signals = votes
	return d
}

// QuorumOnly treats every enabled source as an equal vote.
func QuorumOnly(signals []domain.Signal, opts CombineOptions) domain.Decision {
	votes := dedupe(signals, opts.Disabled)
	d := quorum(votes, opts.Quorum)
	d.Signals = votes
	return d
}

func quorum(votes []domain.Signal, need int) domain.Decision {
	if need < 1 {
		need = 1
	}
	var yes, no []string
	for _, s := range votes {
		if s.Direction == domain.RoleYes {
			yes = append(yes, string(s.Source))
		} else {
			no = append(no, string(s.Source))
		}
	}
	yesOK, noOK := len(yes) >= need, len(no) >= need
	switch {
	case yesOK && noOK:
		return domain.Decision{Reason: fmt.Sprintf("conflicting quorum yes=%v no=%v", yes, no)}
	case yesOK:
		return domain.Decision{Action: true, Direction: domain.RoleYes, Source: "quorum",
			Reason: fmt.Sprintf("quorum YES (%s)", strings.Join(yes, ","))}
	case noOK:
		return domain.Decision{Action: true, Direction: domain.RoleNo, Source: "quorum",
			Reason: fmt.Sprintf("quorum NO (%s)", strings.Join(no, ","))}
	default:
		return domain.Decision{Reason: fmt.Sprintf("no quorum yes=%d no=%d need=%d", len(yes), len(no), need)}
	}
}

// dedupe keeps the first signal of each enabled source.
func dedupe(signals []domain.Signal, disabled map[domain.SignalSource]bool) []domain.Signal {
	seen := make(map[domain.SignalSource]bool, len(signals))
	out := make([]domain.Signal, 0, len(signals))
	for _, s := range signals {
		if disabled[s.Source] || seen[s.Source] {
			continue
		}
		seen[s.Source] = true
		out = append(out, s)
	}
	return out
}

var policies = map[string]Policy{
	"priority_quorum": PriorityQuorum,
	"quorum_only":     QuorumOnly,
}

// LookupPolicy returns the policy registered under name.
func LookupPolicy(name string) (Policy, error) {
	p, ok := policies[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("combiner policy %q: not registered (valid: %s)", name, strings.Join(PolicyNames(), ", "))
	}
	return p, nil
}

// PolicyNames lists the registered policy names in sorted order.
func PolicyNames() []string {
	names := make([]string, 0, len(policies))
	for n := range policies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
