package kafka

import "sync"

// throttle bounds the number of unresolved in-flight sends. The owning task
// loop acquires before submitting and releases as acknowledgments come back,
// so a stalled broker surfaces as a full throttle instead of unbounded memory.
type throttle struct {
	mu       sync.Mutex
	capacity int64
	tokens   int64
}

func newThrottle(capacity int64) *throttle {
	return &throttle{capacity: capacity, tokens: capacity}
}

func (t *throttle) tryAcquire(n int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tokens < n {
		return false
	}
	t.tokens -= n
	return true
}

func (t *throttle) release(n int64) {
	t.mu.Lock()
	t.tokens += n
	if t.tokens > t.capacity {
		t.tokens = t.capacity
	}
	t.mu.Unlock()
}
