package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.Inc(TicksVec, "btc-5m")
	m.Inc(TicksVec, "btc-5m")
	m.Inc(SignalsVec, "btc-5m", "imbalance", "YES")
	m.SetState("btc-5m", []string{"waiting", "armed"}, "armed")
	m.SetStale("btc-5m", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Ticks.WithLabelValues("btc-5m")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoopState.WithLabelValues("btc-5m", "armed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LoopState.WithLabelValues("btc-5m", "waiting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BookStale.WithLabelValues("btc-5m")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "updownbot_ticks_total")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Inc(TicksVec, "x")
	m.SetState("x", []string{"a"}, "a")
	m.SetStale("x", true)
}
