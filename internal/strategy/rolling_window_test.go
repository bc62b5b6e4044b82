package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollingWindowEmpty(t *testing.T) {
	w := NewRollingWindow(4)
	assert.Equal(t, 0.0, w.Average())
	assert.Equal(t, 0, w.Len())
	_, ok := w.Latest()
	assert.False(t, ok)
}

func TestRollingWindowMeanAndEviction(t *testing.T) {
	w := NewRollingWindow(3)
	now := time.Now()

	w.Push(1, now)
	w.Push(2, now)
	assert.InDelta(t, 1.5, w.Average(), 1e-12)
	assert.False(t, w.Full())

	w.Push(3, now)
	assert.True(t, w.Full())
	assert.InDelta(t, 2.0, w.Average(), 1e-12)

	w.Push(10, now.Add(time.Second))
	require.Equal(t, 3, w.Len())
	assert.InDelta(t, 5.0, w.Average(), 1e-12, "oldest sample evicted")

	samples := w.Samples()
	require.Len(t, samples, 3)
	assert.Equal(t, 2.0, samples[0].Value)
	assert.Equal(t, 10.0, samples[2].Value)

	latest, ok := w.Latest()
	require.True(t, ok)
	assert.Equal(t, 10.0, latest.Value)
}

// After N pushes the average is exactly the mean of the last min(N, cap)
// values.
func TestRollingWindowMatchesNaiveMean(t *testing.T) {
	const capacity = 7
	w := NewRollingWindow(capacity)
	var all []float64
	for i := 0; i < 50; i++ {
		v := float64((i*37)%11) - 5
		w.Push(v, time.Time{})
		all = append(all, v)

		tail := all
		if len(tail) > capacity {
			tail = tail[len(tail)-capacity:]
		}
		var sum float64
		for _, x := range tail {
			sum += x
		}
		require.InDelta(t, sum/float64(len(tail)), w.Average(), 1e-12)
	}
}

func TestRollingWindowReset(t *testing.T) {
	w := NewRollingWindow(2)
	w.Push(1, time.Time{})
	w.Push(1, time.Time{})
	w.Reset()
	assert.Equal(t, 0, w.Len())
	assert.Equal(t, 0.0, w.Average())
	w.Push(4, time.Time{})
	assert.Equal(t, 4.0, w.Average())
}

func TestRollingWindowEvictBefore(t *testing.T) {
	w := NewRollingWindow(3)
	t0 := time.Unix(1767225600, 0)
	for i := 0; i < 5; i++ {
		w.Push(float64(i), t0.Add(time.Duration(i)*time.Second))
	}
	// Holds samples 2, 3 and 4.
	assert.Equal(t, 1, w.EvictBefore(t0.Add(3*time.Second)))
	assert.Equal(t, 2, w.Len())
	assert.InDelta(t, 3.5, w.Average(), 1e-12)

	w.Push(5, t0.Add(5*time.Second))
	latest, ok := w.Latest()
	require.True(t, ok)
	assert.Equal(t, 5.0, latest.Value)

	assert.Equal(t, 3, w.EvictBefore(t0.Add(time.Minute)))
	assert.Equal(t, 0, w.Len())
	assert.Equal(t, 0, w.EvictBefore(t0.Add(time.Hour)))
}
