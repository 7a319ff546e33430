package registry

import (
	"sync"
	"time"
)

const windowBuckets = 12

// renewalWindow counts renewals over a sliding window using fixed buckets.
// Bucket i covers [start, start+size); a bucket whose start is older than
// the window is treated as empty and reused.
type renewalWindow struct {
	mu     sync.Mutex
	size   time.Duration
	window time.Duration
	starts [windowBuckets]int64
	counts [windowBuckets]int64
}

func newRenewalWindow(window time.Duration) *renewalWindow {
	if window <= 0 {
		window = time.Minute
	}
	size := window / windowBuckets
	if size <= 0 {
		size = time.Nanosecond
	}
	return &renewalWindow{size: size, window: window}
}

func (w *renewalWindow) slot(now time.Time) (int, int64) {
	start := now.UnixNano() / int64(w.size) * int64(w.size)
	return int((start / int64(w.size)) % windowBuckets), start
}

// Add records one renewal at now.
func (w *renewalWindow) Add(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	i, start := w.slot(now)
	if w.starts[i] != start {
		w.starts[i] = start
		w.counts[i] = 0
	}
	w.counts[i]++
}

// Count returns renewals recorded within (now-window, now].
func (w *renewalWindow) Count(now time.Time) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	oldest := now.Add(-w.window).UnixNano()
	var total int64
	for i := range w.starts {
		if w.counts[i] > 0 && w.starts[i] > oldest-int64(w.size) && w.starts[i] <= now.UnixNano() {
			total += w.counts[i]
		}
	}
	return total
}

// Window returns the window length.
func (w *renewalWindow) Window() time.Duration { return w.window }

// expectedRenewals is how many heartbeats an instance registered at
// registeredAt with the given lease should have sent within the window
// ending at now.
func expectedRenewals(now, registeredAt time.Time, lease, window time.Duration) float64 {
	if lease <= 0 {
		return 0
	}
	from := now.Add(-window)
	if registeredAt.After(from) {
		from = registeredAt
	}
	overlap := now.Sub(from)
	if overlap <= 0 {
		return 0
	}
	return float64(overlap) / float64(lease)
}
