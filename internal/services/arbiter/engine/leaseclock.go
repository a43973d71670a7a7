package engine

import (
	"strings"
	"sync"
	"time"
)

// LeaseClock arms one in-memory timer per active claim. Timers are an
// optimization for prompt expiry only: the durable countdown is derived
// from the claim row, so a lost timer is always recoverable by the sweep.
//
// Each entry fires or is cancelled, never both, so a claim receives at
// most one expiry signal from its timer.
type LeaseClock struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewLeaseClock returns an empty lease clock.
func NewLeaseClock() *LeaseClock {
	return &LeaseClock{timers: make(map[string]*time.Timer)}
}

// Schedule arms a timer that calls fire with the claim ID after delay.
// Scheduling an already-armed claim replaces its timer. A non-positive
// delay fires immediately on a separate goroutine.
func (c *LeaseClock) Schedule(claimID string, delay time.Duration, fire func(claimID string)) {
	if c == nil || fire == nil {
		return
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if existing, ok := c.timers[claimID]; ok {
		existing.Stop()
		delete(c.timers, claimID)
	}
	if delay < 0 {
		delay = 0
	}
	c.timers[claimID] = time.AfterFunc(delay, func() {
		// The Stop/fire race resolves here: only the goroutine that still
		// finds the entry delivers the signal.
		c.mu.Lock()
		_, armed := c.timers[claimID]
		if armed {
			delete(c.timers, claimID)
		}
		closed := c.closed
		c.mu.Unlock()
		if armed && !closed {
			fire(claimID)
		}
	})
}

// Cancel disarms a claim's timer. It reports whether a timer was armed.
func (c *LeaseClock) Cancel(claimID string) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	timer, ok := c.timers[claimID]
	if !ok {
		return false
	}
	delete(c.timers, claimID)
	timer.Stop()
	return true
}

// Armed reports whether a claim currently has a timer.
func (c *LeaseClock) Armed(claimID string) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.timers[claimID]
	return ok
}

// Stop disarms every timer and rejects further scheduling.
func (c *LeaseClock) Stop() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for claimID, timer := range c.timers {
		timer.Stop()
		delete(c.timers, claimID)
	}
}
