package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exampleBands() []SizeBand {
	return []SizeBand{
		{Lower: 180 * time.Second, Upper: 240 * time.Second, Size: 8},
		{Lower: 120 * time.Second, Upper: 180 * time.Second, Size: 10},
		{Lower: 0, Upper: 120 * time.Second, Size: 12},
	}
}

func TestSizingExamples(t *testing.T) {
	s, err := NewSizing(exampleBands(), 0.85, false)
	require.NoError(t, err)

	tests := []struct {
		remaining time.Duration
		want      float64
	}{
		{170 * time.Second, 10},
		{50 * time.Second, 12},
		{240 * time.Second, 8},
		{239 * time.Second, 8},
		{180 * time.Second, 8},
		{120 * time.Second, 10},
		{0, 12},
	}
	for _, tt := range tests {
		size, ok, reason := s.Size(tt.remaining, 0.6)
		require.True(t, ok, reason)
		assert.Equal(t, tt.want, size, tt.remaining)
	}
}

func TestSizingNoBand(t *testing.T) {
	s, err := NewSizing(exampleBands(), 0.85, false)
	require.NoError(t, err)
	_, ok, reason := s.Size(241*time.Second, 0.6)
	assert.False(t, ok)
	assert.Contains(t, reason, "no size band")
}

func TestSizingCoversEntryWindowEdge(t *testing.T) {
	s, err := NewSizing(exampleBands(), 0.85, false)
	require.NoError(t, err)
	g := NewGate(GateParams{EntryWindow: 240 * time.Second, BandStart: 40 * time.Second, BandEnd: 25 * time.Second})

	for _, rem := range []time.Duration{240 * time.Second, 180 * time.Second, 120 * time.Second, 26 * time.Second, 24 * time.Second, time.Second} {
		if !g.Evaluate(GateInput{Remaining: rem}).Open() {
			continue
		}
		_, ok, reason := s.Size(rem, 0.6)
		assert.True(t, ok, "open gate at %s has no size: %s", rem, reason)
	}
}

func TestSizingMaxPriceVeto(t *testing.T) {
	s, err := NewSizing(exampleBands(), 0.85, false)
	require.NoError(t, err)
	for _, rem := range []time.Duration{10 * time.Second, 150 * time.Second, 200 * time.Second} {
		_, ok, _ := s.Size(rem, 0.86)
		assert.False(t, ok, rem)
	}
	_, ok, _ := s.Size(10*time.Second, 0.85)
	assert.True(t, ok, "ceiling is inclusive")
	_, ok, _ = s.Size(10*time.Second, 0)
	assert.False(t, ok)
}

func TestNewSizingValidation(t *testing.T) {
	_, err := NewSizing(nil, 0.85, false)
	assert.Error(t, err)

	_, err = NewSizing(exampleBands(), 0, false)
	assert.Error(t, err)

	overlap := append(exampleBands(), SizeBand{Lower: 100 * time.Second, Upper: 130 * time.Second, Size: 12})
	_, err = NewSizing(overlap, 0.85, false)
	assert.ErrorContains(t, err, "overlap")

	inverted := []SizeBand{
		{Lower: 120 * time.Second, Upper: 240 * time.Second, Size: 12},
		{Lower: 0, Upper: 120 * time.Second, Size: 8},
	}
	_, err = NewSizing(inverted, 0.85, false)
	assert.Error(t, err)
	_, err = NewSizing(inverted, 0.85, true)
	assert.NoError(t, err)

	_, err = NewSizing([]SizeBand{{Lower: 10 * time.Second, Upper: 10 * time.Second, Size: 1}}, 0.85, false)
	assert.Error(t, err)
}

// Every remaining time inside the configured bands yields exactly one
// positive size, and sizes never shrink as time runs out.
func TestSizingMonotonicTotal(t *testing.T) {
	s, err := NewSizing(exampleBands(), 0.85, false)
	require.NoError(t, err)
	last := 0.0
	for rem := 239 * time.Second; rem >= 0; rem -= 500 * time.Millisecond {
		size, ok := s.SizeFor(rem)
		require.True(t, ok, rem)
		require.GreaterOrEqual(t, size, last)
		last = size
	}
}
