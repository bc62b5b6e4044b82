package executor

import (
	"sync"
	"time"
)

// Dedup records keys (window slugs) until an expiry time so a window is
// traded at most once. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // key -> expiry
	mu   sync.Mutex
}

// NewDedup creates an empty Dedup.
func NewDedup() *Dedup {
	return &Dedup{seen: make(map[string]time.Time)}
}

// Mark records key until the given expiry. It returns false if key was
// already recorded and has not expired at now.
func (d *Dedup) Mark(key string, now, until time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return false
	}
	d.seen[key] = until
	return true
}

// Seen reports whether key is recorded and unexpired at now.
func (d *Dedup) Seen(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	exp, ok := d.seen[key]
	return ok && now.Before(exp)
}

// Forget removes key.
func (d *Dedup) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

// Len returns the number of recorded keys, expired or not.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Cleanup removes entries that expired at or before now. This should be
// called periodically to prevent unbounded memory growth.
func (d *Dedup) Cleanup(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, key)
		}
	}
}
