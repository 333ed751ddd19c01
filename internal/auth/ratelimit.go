package auth

import (
	"sync"
	"time"
)

// SlidingWindow is a per-key weighted sliding-window counter. The
// estimate for a key is the current window's count plus the previous
// window's count weighted by its remaining overlap, which smooths the
// boundary burst a plain fixed window allows. All state is in memory;
// counters reset on restart.
type SlidingWindow struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*windowCounter
}

type windowCounter struct {
	start time.Time
	prev  int
	curr  int
}

func NewSlidingWindow(window time.Duration) *SlidingWindow {
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindow{
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*windowCounter),
	}
}

// Allow records one request for the key and reports whether it fits the
// limit, along with the remaining budget. Safe for concurrent use; the
// increment and the check are one atomic step under the lock.
func (w *SlidingWindow) Allow(key string, limit int) (bool, int) {
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	c, ok := w.buckets[key]
	if !ok {
		c = &windowCounter{start: now.Truncate(w.window)}
		w.buckets[key] = c
	}

	windowStart := now.Truncate(w.window)
	switch {
	case windowStart.Equal(c.start):
	case windowStart.Sub(c.start) < 2*w.window:
		c.prev, c.curr = c.curr, 0
		c.start = windowStart
	default:
		c.prev, c.curr = 0, 0
		c.start = windowStart
	}

	overlap := 1 - float64(now.Sub(windowStart))/float64(w.window)
	estimate := int(float64(c.prev)*overlap) + c.curr
	if estimate >= limit {
		return false, 0
	}
	c.curr++
	remaining := limit - estimate - 1
	return true, remaining
}

// Forget drops the counter for a key, e.g. after revocation.
func (w *SlidingWindow) Forget(key string) {
	w.mu.Lock()
	delete(w.buckets, key)
	w.mu.Unlock()
}
