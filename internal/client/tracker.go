package client

import "sync"

// StatusTracker remembers the last status seen per order so replayed or
// duplicate frames do not raise repeat notifications.
type StatusTracker struct {
	mu   sync.Mutex
	last map[string]string
}

// NewStatusTracker returns an empty tracker.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{last: make(map[string]string)}
}

// Observe records status for orderID. changed is true only when a previous
// status was known and differs from status.
func (t *StatusTracker) Observe(orderID, status string) (prev string, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, known := t.last[orderID]
	t.last[orderID] = status
	return prev, known && prev != status
}

// Len returns the number of orders tracked.
func (t *StatusTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.last)
}
