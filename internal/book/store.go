// Package book maintains the normalized order books for the two outcome
// tokens of the active market window.
package book

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// ladder is the mutable state of one token's book. Levels are keyed by
// fixed-point price so deltas address them exactly.
type ladder struct {
	token       domain.OutcomeToken
	bids        map[int64]float64
	asks        map[int64]float64
	updatedAt   time.Time
	hash        string
	seq         uint64
	snapshotted bool
	crossed     bool
}

func newLadder(token domain.OutcomeToken) *ladder {
	return &ladder{
		token: token,
		bids:  make(map[int64]float64),
		asks:  make(map[int64]float64),
	}
}

func (l *ladder) side(s domain.Side) map[int64]float64 {
	if s == domain.SideBid {
		return l.bids
	}
	return l.asks
}

// book materializes the top depth levels of each side, sorted best first.
func (l *ladder) book(depth int) domain.OrderBook {
	return domain.OrderBook{
		Token:     l.token,
		Bids:      sortedLevels(l.bids, depth, true),
		Asks:      sortedLevels(l.asks, depth, false),
		UpdatedAt: l.updatedAt,
		Seq:       l.seq,
		Hash:      l.hash,
	}
}

func (l *ladder) isCrossed() bool {
	var bestBid, bestAsk int64 = -1, -1
	for p := range l.bids {
		if p > bestBid {
			bestBid = p
		}
	}
	for p := range l.asks {
		if bestAsk < 0 || p < bestAsk {
			bestAsk = p
		}
	}
	return bestBid >= 0 && bestAsk >= 0 && bestBid >= bestAsk
}

func sortedLevels(m map[int64]float64, depth int, descending bool) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(m))
	for p, s := range m {
		out = append(out, domain.PriceLevel{PriceTicks: p, Size: s})
	}
	slices.SortFunc(out, func(a, b domain.PriceLevel) int {
		if descending {
			return cmp.Compare(b.PriceTicks, a.PriceTicks)
		}
		return cmp.Compare(a.PriceTicks, b.PriceTicks)
	})
	if depth > 0 && len(out) > depth {
		out = out[:depth]
	}
	return out
}

// Store holds the books for the YES and NO tokens of one window. It is safe
// for concurrent use: the feed applier writes while the decision loop reads
// consistent views.
type Store struct {
	mu    sync.RWMutex
	yes   *ladder
	no    *ladder
	stale bool
}

// NewStore creates an empty store bound to no window. It reports stale until
// Reset binds tokens and both are snapshotted.
func NewStore() *Store {
	return &Store{stale: true}
}

// Reset binds the store to a new window's tokens and drops all levels. The
// store stays stale until both tokens receive a fresh snapshot.
func (s *Store) Reset(yes, no domain.OutcomeToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.yes = newLadder(yes)
	s.no = newLadder(no)
	s.stale = false
}

// Tokens returns the currently bound token ids.
func (s *Store) Tokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.yes == nil {
		return nil
	}
	return []string{s.yes.token.ID, s.no.token.ID}
}

func (s *Store) ladderFor(tokenID string) (*ladder, error) {
	switch {
	case s.yes != nil && s.yes.token.ID == tokenID:
		return s.yes, nil
	case s.no != nil && s.no.token.ID == tokenID:
		return s.no, nil
	default:
		return nil, fmt.Errorf("book: token %s: %w", tokenID, domain.ErrUnknownToken)
	}
}

// ApplySnapshot replaces the full ladder of tokenID. Levels with a
// non-positive price or size are ignored.
func (s *Store) ApplySnapshot(tokenID string, bids, asks []domain.PriceLevel, ts time.Time, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.ladderFor(tokenID)
	if err != nil {
		return err
	}
	clear(l.bids)
	clear(l.asks)
	for _, lvl := range bids {
		if lvl.PriceTicks > 0 && lvl.Size > 0 {
			l.bids[lvl.PriceTicks] = lvl.Size
		}
	}
	for _, lvl := range asks {
		if lvl.PriceTicks > 0 && lvl.Size > 0 {
			l.asks[lvl.PriceTicks] = lvl.Size
		}
	}
	l.snapshotted = true
	s.touch(l, ts, hash)
	if s.yes.snapshotted && s.no.snapshotted {
		s.stale = false
	}
	return s.checkCrossed(l)
}

// ApplyDelta applies incremental level changes to tokenID. A change with
// size 0 removes the level.
func (s *Store) ApplyDelta(tokenID string, changes []domain.LevelChange, ts time.Time, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.ladderFor(tokenID)
	if err != nil {
		return err
	}
	for _, ch := range changes {
		if ch.PriceTicks <= 0 {
			continue
		}
		side := l.side(ch.Side)
		if ch.Size <= 0 {
			delete(side, ch.PriceTicks)
			continue
		}
		side[ch.PriceTicks] = ch.Size
	}
	s.touch(l, ts, hash)
	return s.checkCrossed(l)
}

func (s *Store) touch(l *ladder, ts time.Time, hash string) {
	l.seq++
	if ts.After(l.updatedAt) || l.updatedAt.IsZero() {
		l.updatedAt = ts
	}
	if hash != "" {
		l.hash = hash
	}
}

func (s *Store) checkCrossed(l *ladder) error {
	l.crossed = l.isCrossed()
	if l.crossed {
		return fmt.Errorf("book: token %s: %w", l.token.ID, domain.ErrCrossedBook)
	}
	return nil
}

// MarkStale flags the whole store stale, e.g. on feed disconnect. Each
// token must be snapshotted again before the store is considered fresh.
func (s *Store) MarkStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale = true
	if s.yes != nil {
		s.yes.snapshotted = false
		s.no.snapshotted = false
	}
}

// IsStale reports whether the books cannot be trusted at now. maxAge <= 0
// disables the age check.
func (s *Store) IsStale(now time.Time, maxAge time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.staleLocked(now, maxAge)
}

func (s *Store) staleLocked(now time.Time, maxAge time.Duration) bool {
	if s.stale || s.yes == nil {
		return true
	}
	for _, l := range []*ladder{s.yes, s.no} {
		if !l.snapshotted || l.crossed {
			return true
		}
		if maxAge > 0 && now.Sub(l.updatedAt) > maxAge {
			return true
		}
	}
	return false
}

// View returns a consistent copy of the top depth levels of both books.
// depth <= 0 returns every level.
func (s *Store) View(now time.Time, depth int, maxAge time.Duration) domain.BookView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := domain.BookView{
		Stale:   s.staleLocked(now, maxAge),
		TakenAt: now,
	}
	if s.yes != nil {
		v.Yes = s.yes.book(depth)
		v.No = s.no.book(depth)
	}
	return v
}

// Book returns a copy of one token's book.
func (s *Store) Book(tokenID string, depth int) (domain.OrderBook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, err := s.ladderFor(tokenID)
	if err != nil {
		return domain.OrderBook{}, err
	}
	return l.book(depth), nil
}
