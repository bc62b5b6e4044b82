package strategy

import (
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// RollingWindow is a fixed-capacity ring buffer of imbalance samples. Pushing
// into a full window evicts the oldest sample. It is owned by a single
// decision loop and is not safe for concurrent use.
type RollingWindow struct {
	buf  []domain.ImbalanceSample
	head int // index of the oldest sample
	n    int
}

// NewRollingWindow creates a window holding at most capacity samples.
// capacity must be positive.
func NewRollingWindow(capacity int) *RollingWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &RollingWindow{buf: make([]domain.ImbalanceSample, capacity)}
}

// Push appends a sample, evicting the oldest one when full.
func (w *RollingWindow) Push(value float64, at time.Time) {
	s := domain.ImbalanceSample{Value: value, At: at}
	if w.n < len(w.buf) {
		w.buf[(w.head+w.n)%len(w.buf)] = s
		w.n++
		return
	}
	w.buf[w.head] = s
	w.head = (w.head + 1) % len(w.buf)
}

// Average returns the arithmetic mean of the retained samples, or 0 when
// the window is empty. The sum is recomputed on each call so the result
// does not drift with accumulated rounding error.
func (w *RollingWindow) Average() float64 {
	if w.n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < w.n; i++ {
		sum += w.buf[(w.head+i)%len(w.buf)].Value
	}
	return sum / float64(w.n)
}

// Len returns the number of retained samples.
func (w *RollingWindow) Len() int { return w.n }

// Cap returns the window capacity.
func (w *RollingWindow) Cap() int { return len(w.buf) }

// Full reports whether the window holds capacity samples.
func (w *RollingWindow) Full() bool { return w.n == len(w.buf) }

// Samples returns the retained samples oldest first.
func (w *RollingWindow) Samples() []domain.ImbalanceSample {
	out := make([]domain.ImbalanceSample, w.n)
	for i := 0; i < w.n; i++ {
		out[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return out
}

// Latest returns the most recent sample.
func (w *RollingWindow) Latest() (domain.ImbalanceSample, bool) {
	if w.n == 0 {
		return domain.ImbalanceSample{}, false
	}
	return w.buf[(w.head+w.n-1)%len(w.buf)], true
}

// EvictBefore drops samples taken before cutoff and returns how many were
// dropped. Samples are pushed in time order, so eviction stops at the first
// sample at or after cutoff.
func (w *RollingWindow) EvictBefore(cutoff time.Time) int {
	dropped := 0
	for w.n > 0 && w.buf[w.head].At.Before(cutoff) {
		w.buf[w.head] = domain.ImbalanceSample{}
		w.head = (w.head + 1) % len(w.buf)
		w.n--
		dropped++
	}
	if w.n == 0 {
		w.head = 0
	}
	return dropped
}

// Reset drops every sample.
func (w *RollingWindow) Reset() {
	clear(w.buf)
	w.head = 0
	w.n = 0
}
