package strategy

import (
	"testing"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func whaleParams() WhaleParams {
	return WhaleParams{
		TopN:           5,
		MinSize:        100,
		LayeringLevels: 3,
		SweepLevels:    2,
		SpoofRepeats:   3,
		SpoofWindow:    10 * time.Second,
	}
}

func TestWhaleLayeringOnYesBids(t *testing.T) {
	w := NewWhale(whaleParams())
	v := view(
		[]domain.PriceLevel{lv(0.55, 150), lv(0.54, 200), lv(0.53, 120), lv(0.52, 5)},
		[]domain.PriceLevel{lv(0.57, 10)},
		[]domain.PriceLevel{lv(0.40, 10)},
		[]domain.PriceLevel{lv(0.45, 10)},
	)
	sig, err := w.Compute(Input{Book: v, Now: testStart})
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, domain.RoleYes, sig.Direction)

	ev := sig.Evidence.(domain.WhaleEvidence)
	require.Len(t, ev.Hits, 1)
	assert.Equal(t, domain.WhaleLayering, ev.Hits[0].Pattern)
	assert.Equal(t, 3, ev.Hits[0].Levels)
	assert.InDelta(t, 470, ev.YesPressure, 1e-9)
}

func TestWhaleLayeringOnYesAsksFavoursNo(t *testing.T) {
	w := NewWhale(whaleParams())
	v := view(
		[]domain.PriceLevel{lv(0.50, 10)},
		[]domain.PriceLevel{lv(0.52, 300), lv(0.53, 300), lv(0.54, 300)},
		nil, nil,
	)
	sig, err := w.Compute(Input{Book: v, Now: testStart})
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, domain.RoleNo, sig.Direction)
}

func TestWhaleSweepThroughAsks(t *testing.T) {
	p := whaleParams()
	p.LayeringLevels = 0
	w := NewWhale(p)

	before := view(nil,
		[]domain.PriceLevel{lv(0.50, 60), lv(0.51, 60), lv(0.52, 60), lv(0.60, 10)},
		nil, nil)
	sig, err := w.Compute(Input{Book: before, Now: testStart})
	require.NoError(t, err)
	assert.Nil(t, sig)

	after := view(nil, []domain.PriceLevel{lv(0.60, 10)}, nil, nil)
	sig, err = w.Compute(Input{Book: after, Now: testStart.Add(500 * time.Millisecond)})
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, domain.RoleYes, sig.Direction, "buyers lifted YES asks")
	ev := sig.Evidence.(domain.WhaleEvidence)
	assert.Equal(t, domain.WhaleSweep, ev.Hits[0].Pattern)
	assert.Equal(t, 3, ev.Hits[0].Levels)
}

func TestWhaleSpoofCycles(t *testing.T) {
	p := whaleParams()
	p.LayeringLevels = 0
	p.SweepLevels = 0
	w := NewWhale(p)

	with := view([]domain.PriceLevel{lv(0.50, 10)}, nil, []domain.PriceLevel{lv(0.30, 10), lv(0.29, 500)}, nil)
	without := view([]domain.PriceLevel{lv(0.50, 10)}, nil, []domain.PriceLevel{lv(0.30, 10)}, nil)

	now := testStart
	var sig *domain.Signal
	for i := 0; i < 3; i++ {
		var err error
		_, err = w.Compute(Input{Book: with, Now: now})
		require.NoError(t, err)
		now = now.Add(time.Second)
		sig, err = w.Compute(Input{Book: without, Now: now})
		require.NoError(t, err)
		now = now.Add(time.Second)
	}
	require.NotNil(t, sig)
	assert.Equal(t, domain.RoleNo, sig.Direction)
	ev := sig.Evidence.(domain.WhaleEvidence)
	assert.Equal(t, domain.WhaleSpoof, ev.Hits[0].Pattern)
	assert.Equal(t, domain.RoleNo, ev.Hits[0].Token)
}

func TestWhaleStaleResetsMemory(t *testing.T) {
	p := whaleParams()
	p.LayeringLevels = 0
	w := NewWhale(p)

	before := view(nil, []domain.PriceLevel{lv(0.50, 60), lv(0.51, 60), lv(0.60, 10)}, nil, nil)
	_, err := w.Compute(Input{Book: before, Now: testStart})
	require.NoError(t, err)

	stale := before
	stale.Stale = true
	sig, err := w.Compute(Input{Book: stale, Now: testStart})
	require.NoError(t, err)
	assert.Nil(t, sig)

	after := view(nil, []domain.PriceLevel{lv(0.60, 10)}, nil, nil)
	sig, err = w.Compute(Input{Book: after, Now: testStart.Add(time.Second)})
	require.NoError(t, err)
	assert.Nil(t, sig, "no sweep across a gap")
}
