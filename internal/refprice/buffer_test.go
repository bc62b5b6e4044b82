package refprice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPriceAt(t *testing.T) {
	b := NewBuffer(10 * time.Minute)
	t0 := time.Unix(1700000000, 0)
	b.Track("BTC/USD", 100, t0)
	b.Track("btc/usd", 102, t0.Add(2*time.Second))
	b.Track("btc/usd", 101, t0.Add(time.Second)) // out of order

	_, ok := b.PriceAt("btc/usd", t0.Add(-time.Second))
	assert.False(t, ok)

	p, ok := b.PriceAt("btc/usd", t0)
	require.True(t, ok)
	assert.Equal(t, 100.0, p)

	p, _ = b.PriceAt("btc/usd", t0.Add(1500*time.Millisecond))
	assert.Equal(t, 101.0, p)

	latest, ok := b.Latest("btc/usd")
	require.True(t, ok)
	assert.Equal(t, 102.0, latest)
}

func TestBufferMove(t *testing.T) {
	b := NewBuffer(10 * time.Minute)
	t0 := time.Unix(1700000000, 0)
	now := t0.Add(2 * time.Minute)

	_, ok := b.Move("btc/usd", time.Minute, now)
	assert.False(t, ok, "no data")

	b.Track("btc/usd", 100, now.Add(-30*time.Second))
	_, ok = b.Move("btc/usd", time.Minute, now)
	assert.False(t, ok, "nothing at or before the cutoff")

	b.Track("btc/usd", 200, t0)
	b.Track("btc/usd", 100, now.Add(-90*time.Second))
	b.Track("btc/usd", 100.5, now)
	m, ok := b.Move("btc/usd", time.Minute, now)
	require.True(t, ok)
	assert.InDelta(t, 0.005, m, 1e-9)
}

func TestBufferTrim(t *testing.T) {
	b := NewBuffer(time.Minute)
	t0 := time.Unix(1700000000, 0)
	b.Track("eth/usd", 10, t0)
	b.Track("eth/usd", 11, t0.Add(2*time.Minute))

	h := b.GetHistory("eth/usd")
	require.Len(t, h, 1)
	assert.Equal(t, 11.0, h[0].Price)

	b.Track("eth/usd", -1, t0.Add(3*time.Minute))
	assert.Len(t, b.GetHistory("eth/usd"), 1, "non-positive prices ignored")
	assert.False(t, b.LastUpdate().IsZero())
}

func TestSymbolFor(t *testing.T) {
	assert.Equal(t, "btc/usd", SymbolFor(" BTC "))
}
