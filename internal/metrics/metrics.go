// Package metrics defines the Prometheus collectors exported by the bot.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector on a dedicated registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Ticks        *prometheus.CounterVec
	TickPanics   *prometheus.CounterVec
	Signals      *prometheus.CounterVec
	Decisions    *prometheus.CounterVec
	GateBlocks   *prometheus.CounterVec
	Intents      *prometheus.CounterVec
	LoopState    *prometheus.GaugeVec
	Rollovers    *prometheus.CounterVec
	FeedMessages *prometheus.CounterVec
	FeedDrops    *prometheus.CounterVec
	Reconnects   *prometheus.CounterVec
	BookStale    *prometheus.GaugeVec
	Settlements  *prometheus.CounterVec
	Upstream     *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "updownbot_ticks_total", Help: "Decision loop ticks"},
			[]string{"loop"},
		),
		TickPanics: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "updownbot_tick_panics_total", Help: "Recovered panics inside a tick"},
			[]string{"loop", "stage"},
		),
		Signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "updownbot_signals_total", Help: "Signals emitted by computers"},
			[]string{"loop", "source", "direction"},
		),
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "updownbot_decisions_total", Help: "Actionable combiner decisions"},
			[]string{"loop", "direction"},
		),
		GateBlocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "updownbot_gate_blocks_total", Help: "Actionable decisions suppressed by the entry gate"},
			[]string{"loop"},
		),
		Intents: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "updownbot_intents_total", Help: "Trade intents handed to the executor"},
			[]string{"loop", "result"},
		),
		LoopState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "updownbot_loop_state", Help: "1 for the current state of each loop"},
			[]string{"loop", "state"},
		),
		Rollovers: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "updownbot_window_rollovers_total", Help: "Market window rollovers"},
			[]string{"loop"},
		),
		FeedMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "updownbot_feed_messages_total", Help: "Feed messages by type"},
			[]string{"feed", "type"},
		),
		FeedDrops: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "updownbot_feed_drops_total", Help: "Feed messages dropped"},
			[]string{"feed", "reason"},
		),
		Reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "updownbot_feed_reconnects_total", Help: "Feed reconnect attempts"},
			[]string{"feed"},
		),
		BookStale: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "updownbot_book_stale", Help: "1 while a loop's book is stale"},
			[]string{"loop"},
		),
		Settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "updownbot_settlements_total", Help: "Resolved windows by source"},
			[]string{"source", "winner"},
		),
		Upstream: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "updownbot_upstream_requests_total", Help: "Upstream HTTP requests"},
			[]string{"api", "result"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Ticks, m.TickPanics, m.Signals, m.Decisions, m.GateBlocks, m.Intents,
		m.LoopState, m.Rollovers, m.FeedMessages, m.FeedDrops, m.Reconnects,
		m.BookStale, m.Settlements, m.Upstream,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Inc increments a counter if m is non-nil.
func (m *Metrics) Inc(c func(*Metrics) *prometheus.CounterVec, labels ...string) {
	if m == nil {
		return
	}
	c(m).WithLabelValues(labels...).Inc()
}

// SetState marks state as the only active state of loop.
func (m *Metrics) SetState(loop string, states []string, current string) {
	if m == nil {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		m.LoopState.WithLabelValues(loop, s).Set(v)
	}
}

// SetStale records whether loop's book is stale.
func (m *Metrics) SetStale(loop string, stale bool) {
	if m == nil {
		return
	}
	v := 0.0
	if stale {
		v = 1
	}
	m.BookStale.WithLabelValues(loop).Set(v)
}

// Field selectors for Inc.
func TicksVec(m *Metrics) *prometheus.CounterVec        { return m.Ticks }
func TickPanicsVec(m *Metrics) *prometheus.CounterVec   { return m.TickPanics }
func SignalsVec(m *Metrics) *prometheus.CounterVec      { return m.Signals }
func DecisionsVec(m *Metrics) *prometheus.CounterVec    { return m.Decisions }
func GateBlocksVec(m *Metrics) *prometheus.CounterVec   { return m.GateBlocks }
func IntentsVec(m *Metrics) *prometheus.CounterVec      { return m.Intents }
func RolloversVec(m *Metrics) *prometheus.CounterVec    { return m.Rollovers }
func FeedMessagesVec(m *Metrics) *prometheus.CounterVec { return m.FeedMessages }
func FeedDropsVec(m *Metrics) *prometheus.CounterVec    { return m.FeedDrops }
func ReconnectsVec(m *Metrics) *prometheus.CounterVec   { return m.Reconnects }
func SettlementsVec(m *Metrics) *prometheus.CounterVec  { return m.Settlements }
func UpstreamVec(m *Metrics) *prometheus.CounterVec     { return m.Upstream }
