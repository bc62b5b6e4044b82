package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowSlug(t *testing.T) {
	start := time.Unix(1767225600, 0)
	assert.Equal(t, "btc-updown-15m-1767225600", WindowSlug("BTC", Cadence15m, start))
	assert.Equal(t, "eth-updown-5m-1767225600", WindowSlug("eth", Cadence5m, start))
}

func TestCadenceAlignStart(t *testing.T) {
	ts := time.Unix(1767225600+421, 0)
	assert.Equal(t, int64(1767225600+300), Cadence5m.AlignStart(ts).Unix())
	assert.Equal(t, int64(1767225600), Cadence15m.AlignStart(ts).Unix())
}

func TestParseCadence(t *testing.T) {
	c, err := ParseCadence(" 15M ")
	require.NoError(t, err)
	assert.Equal(t, Cadence15m, c)

	_, err = ParseCadence("1h")
	assert.Error(t, err)
}

func TestMarketWindowRemaining(t *testing.T) {
	start := time.Unix(1767225600, 0)
	w := MarketWindow{Slug: "x", Start: start, End: start.Add(5 * time.Minute)}

	assert.Equal(t, 100*time.Second, w.Remaining(start.Add(200*time.Second)))
	assert.Equal(t, time.Duration(0), w.Remaining(start.Add(10*time.Minute)))
	assert.False(t, w.Closed(start.Add(299*time.Second)))
	assert.True(t, w.Closed(w.End))
}

func TestMarketWindowRoleOf(t *testing.T) {
	w := MarketWindow{Yes: OutcomeToken{ID: "y", Role: RoleYes}, No: OutcomeToken{ID: "n", Role: RoleNo}}

	r, ok := w.RoleOf("n")
	require.True(t, ok)
	assert.Equal(t, RoleNo, r)
	assert.Equal(t, "y", w.Token(r.Opposite()).ID)

	_, ok = w.RoleOf("z")
	assert.False(t, ok)
}

func TestOrderBookHelpers(t *testing.T) {
	b := OrderBook{
		Bids: []PriceLevel{{PriceTicks: 550_000, Size: 10}, {PriceTicks: 540_000, Size: 5}},
		Asks: []PriceLevel{{PriceTicks: 560_000, Size: 3}},
	}
	assert.False(t, b.Crossed())
	assert.InDelta(t, 15.0, b.BidVolume(5), 1e-9)
	assert.InDelta(t, 10.0, b.BidVolume(1), 1e-9)
	assert.InDelta(t, 3.0, b.AskVolume(0), 1e-9)

	b.Asks[0].PriceTicks = 550_000
	assert.True(t, b.Crossed())
	assert.Equal(t, int64(600_000), TicksFromPrice(0.6))
}

func TestParseRole(t *testing.T) {
	for in, want := range map[string]Role{"YES": RoleYes, "no": RoleNo, " Up ": RoleYes, "down": RoleNo} {
		got, err := ParseRole(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		assert.Equal(t, got, must(ParseRole(got.String())))
	}
	_, err := ParseRole("maybe")
	assert.Error(t, err)
}

func must(r Role, err error) Role {
	if err != nil {
		panic(err)
	}
	return r
}

func TestParseWindowSlug(t *testing.T) {
	start := time.Unix(1767225600, 0).UTC()
	asset, c, got, err := ParseWindowSlug(WindowSlug("ETH", Cadence15m, start))
	require.NoError(t, err)
	assert.Equal(t, "eth", asset)
	assert.Equal(t, Cadence15m, c)
	assert.Equal(t, start, got)

	for _, bad := range []string{"", "btc-updown-5m", "btc-updown-1h-1767225600", "btc-up-5m-1767225600", "btc-updown-5m-x"} {
		_, _, _, err := ParseWindowSlug(bad)
		assert.Error(t, err, bad)
	}
}
