package feed

import (
	"sync"
	"time"
)

// Gate is the shared backoff state driven by 429 responses: the earliest
// instant the next upstream fetch may occur. Concurrent fetchers all consult
// the same gate so one 429 episode throttles every caller.
type Gate struct {
	mu        sync.Mutex
	notBefore time.Time
	lastDefer time.Time
}

func NewGate() *Gate { return &Gate{} }

// NotBefore returns the earliest allowed fetch instant (zero if ungated).
func (g *Gate) NotBefore() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.notBefore
}

// Defer pushes the gate forward. It never moves the gate backwards: a
// concurrent caller that observed a later Retry-After wins.
func (g *Gate) Defer(until time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if until.After(g.notBefore) {
		g.notBefore = until
		g.lastDefer = time.Now()
	}
}

// Reset clears the gate. Used by the manual clear-cache operation.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notBefore = time.Time{}
	g.lastDefer = time.Time{}
}
