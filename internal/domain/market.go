package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Role is the outcome a token pays out on.
type Role int

const (
	RoleYes Role = iota
	RoleNo
)

func (r Role) String() string {
	if r == RoleNo {
		return "NO"
	}
	return "YES"
}

// ParseRole converts "YES"/"NO" (any case, also "up"/"down") into a Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YES", "UP":
		return RoleYes, nil
	case "NO", "DOWN":
		return RoleNo, nil
	default:
		return RoleYes, fmt.Errorf("unknown outcome %q", s)
	}
}

// Opposite returns the other outcome.
func (r Role) Opposite() Role {
	if r == RoleNo {
		return RoleYes
	}
	return RoleNo
}

// OutcomeToken is one of the two tradable outcome tokens of a window.
type OutcomeToken struct {
	ID   string
	Role Role
}

// Cadence is the length of a recurring up/down window.
type Cadence string

const (
	Cadence5m  Cadence = "5m"
	Cadence15m Cadence = "15m"
)

// Duration returns the window length.
func (c Cadence) Duration() time.Duration {
	switch c {
	case Cadence5m:
		return 5 * time.Minute
	case Cadence15m:
		return 15 * time.Minute
	default:
		return 0
	}
}

// Valid reports whether c is a supported cadence.
func (c Cadence) Valid() bool {
	return c.Duration() > 0
}

// ParseCadence converts a config string such as "5m" into a Cadence.
func ParseCadence(s string) (Cadence, error) {
	c := Cadence(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown cadence %q (valid: 5m, 15m)", s)
	}
	return c, nil
}

// AlignStart returns the start of the window of cadence c containing t.
func (c Cadence) AlignStart(t time.Time) time.Time {
	d := c.Duration()
	if d <= 0 {
		return t
	}
	return t.Truncate(d)
}

// WindowSlug builds the market slug for asset's window of cadence c that
// starts at start, e.g. "btc-updown-15m-1767225600".
func WindowSlug(asset string, c Cadence, start time.Time) string {
	return fmt.Sprintf("%s-updown-%s-%d", strings.ToLower(asset), c, start.Unix())
}

// ParseWindowSlug is the inverse of WindowSlug.
func ParseWindowSlug(slug string) (asset string, c Cadence, start time.Time, err error) {
	parts := strings.Split(slug, "-")
	if len(parts) != 4 || parts[1] != "updown" || parts[0] == "" {
		return "", "", time.Time{}, fmt.Errorf("malformed window slug %q", slug)
	}
	c, err = ParseCadence(parts[2])
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("window slug %q: %w", slug, err)
	}
	sec, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("window slug %q: bad start: %w", slug, err)
	}
	return parts[0], c, time.Unix(sec, 0).UTC(), nil
}

// MarketWindow identifies one recurring up/down market instance. It is
// immutable once discovered.
type MarketWindow struct {
	Slug        string
	ConditionID string
	Asset       string
	Cadence     Cadence
	Start       time.Time
	End         time.Time
	Yes         OutcomeToken
	No          OutcomeToken
	// Strike is the underlying reference price at window start, 0 when
	// unknown.
	Strike float64
}

// Remaining returns the time left until the window closes, never negative.
func (w MarketWindow) Remaining(now time.Time) time.Duration {
	if d := w.End.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Closed reports whether the window has ended at now.
func (w MarketWindow) Closed(now time.Time) bool {
	return !now.Before(w.End)
}

// Token returns the outcome token for role r.
func (w MarketWindow) Token(r Role) OutcomeToken {
	if r == RoleNo {
		return w.No
	}
	return w.Yes
}

// RoleOf maps a token id to its role.
func (w MarketWindow) RoleOf(tokenID string) (Role, bool) {
	switch tokenID {
	case w.Yes.ID:
		return RoleYes, true
	case w.No.ID:
		return RoleNo, true
	default:
		return RoleYes, false
	}
}

// IsZero reports whether w is the zero window.
func (w MarketWindow) IsZero() bool {
	return w.Slug == ""
}

// SettlementOutcome is the resolved result of a closed window.
type SettlementOutcome struct {
	Slug        string
	Asset       string
	Cadence     Cadence
	WindowStart time.Time
	Winner      Role
	StartPrice  float64
	EndPrice    float64
	Source      string // "rtds" or "gamma"
	ResolvedAt  time.Time
}
