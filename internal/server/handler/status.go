package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// LoopReporter exposes the state of one decision loop.
type LoopReporter interface {
	Status() domain.LoopStatus
}

// StatusHandler serves the state of every decision loop.
type StatusHandler struct {
	mode      string
	loops     []LoopReporter
	refHealth func(time.Time) bool
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler. refHealth may be nil.
func NewStatusHandler(mode string, loops []LoopReporter, refHealth func(time.Time) bool) *StatusHandler {
	return &StatusHandler{mode: mode, loops: loops, refHealth: refHealth, startedAt: time.Now()}
}

type loopView struct {
	Loop         string  `json:"loop"`
	EngineState  string  `json:"engine_state"`
	State        string  `json:"state"`
	Window       string  `json:"window,omitempty"`
	RemainingSec float64 `json:"remaining_sec"`
	BookStale    bool    `json:"book_stale"`
	FeedHealthy  bool    `json:"feed_healthy"`
	LastReason   string  `json:"last_reason,omitempty"`
	LastTick     string  `json:"last_tick,omitempty"`
	Ticks        uint64  `json:"ticks"`
	Intents      uint64  `json:"intents"`
	UptimeSec    float64 `json:"uptime_sec"`
}

// engineState maps a loop state to the coarse IDLE/SCANNING/FIRED heartbeat.
func engineState(state string) string {
	switch state {
	case "armed":
		return "SCANNING"
	case "fired":
		return "FIRED"
	default:
		return "IDLE"
	}
}

// GetStatus responds with the mode, uptime and per-loop state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	views := make([]loopView, 0, len(h.loops))
	for _, l := range h.loops {
		st := l.Status()
		v := loopView{
			Loop:         st.Asset + "-" + string(st.Cadence),
			EngineState:  engineState(st.State),
			State:        st.State,
			Window:       st.WindowSlug,
			RemainingSec: st.Remaining.Seconds(),
			BookStale:    st.BookStale,
			FeedHealthy:  st.FeedHealthy,
			LastReason:   st.LastReason,
			Ticks:        st.Ticks,
			Intents:      st.Intents,
		}
		if !st.LastTick.IsZero() {
			v.LastTick = st.LastTick.UTC().Format(time.RFC3339)
		}
		if !st.StartedAt.IsZero() {
			v.UptimeSec = now.Sub(st.StartedAt).Seconds()
		}
		views = append(views, v)
	}

	body := map[string]any{
		"mode":       h.mode,
		"uptime_sec": now.Sub(h.startedAt).Seconds(),
		"loops":      views,
	}
	if h.refHealth != nil {
		body["reference_feed_healthy"] = h.refHealth(now)
	}
	writeJSON(w, http.StatusOK, body)
}
