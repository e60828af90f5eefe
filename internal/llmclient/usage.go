package llmclient

import (
	"sync"
	"sync/atomic"
)

// UsageCounter accumulates token usage across every call made through a Client.
type UsageCounter struct {
	total atomic.Int64

	mu        sync.Mutex
	nextID    int
	listeners map[int]func(delta int, total int64)
}

// NewUsageCounter returns an empty counter.
func NewUsageCounter() *UsageCounter {
	return &UsageCounter{listeners: make(map[int]func(int, int64))}
}

// Add records delta tokens and notifies listeners. Non-positive deltas are ignored.
func (u *UsageCounter) Add(delta int) int64 {
	if delta <= 0 {
		return u.total.Load()
	}
	total := u.total.Add(int64(delta))

	u.mu.Lock()
	fns := make([]func(int, int64), 0, len(u.listeners))
	for _, fn := range u.listeners {
		fns = append(fns, fn)
	}
	u.mu.Unlock()

	for _, fn := range fns {
		fn(delta, total)
	}
	return total
}

// Total is the running token count.
func (u *UsageCounter) Total() int64 { return u.total.Load() }

// Subscribe registers fn for every Add. The returned func removes it.
func (u *UsageCounter) Subscribe(fn func(delta int, total int64)) (unsubscribe func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.listeners == nil {
		u.listeners = make(map[int]func(int, int64))
	}
	id := u.nextID
	u.nextID++
	u.listeners[id] = fn
	return func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		delete(u.listeners, id)
	}
}
