// Package admission enforces global and per-owner session capacity. A slot
// is reserved before any container work begins and held until the session
// leaves the active set, so a burst of concurrent creates can never
// oversubscribe the host.
package admission

import (
	"errors"
	"fmt"
	"sync"
)

// ErrQuotaExceeded means no slot is available, globally or for this owner.
var ErrQuotaExceeded = errors.New("session quota exceeded")

// Controller tracks active-session counts. All counter mutations go through
// TryAdmit, Release and Seed under one mutex; nothing else may touch them.
type Controller struct {
	mu        sync.Mutex
	global    int
	perOwner  map[string]int
	maxGlobal int
	maxOwner  int
}

func New(maxGlobal, maxPerOwner int) *Controller {
	return &Controller{
		perOwner:  make(map[string]int),
		maxGlobal: maxGlobal,
		maxOwner:  maxPerOwner,
	}
}

// TryAdmit reserves one global and one per-owner slot, or neither. The
// reservation counts immediately: a session still being created occupies
// capacity until Release.
func (c *Controller) TryAdmit(owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.global >= c.maxGlobal {
		return fmt.Errorf("%w: %d/%d sessions active", ErrQuotaExceeded, c.global, c.maxGlobal)
	}
	if c.perOwner[owner] >= c.maxOwner {
		return fmt.Errorf("%w: owner %s has %d/%d sessions", ErrQuotaExceeded, owner, c.perOwner[owner], c.maxOwner)
	}

	c.global++
	c.perOwner[owner]++
	return nil
}

// Release returns the owner's slot. Releasing below zero is clamped; a
// double release is a caller bug but must not poison the counters.
func (c *Controller) Release(owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.global > 0 {
		c.global--
	}
	if n := c.perOwner[owner]; n > 1 {
		c.perOwner[owner] = n - 1
	} else {
		delete(c.perOwner, owner)
	}
}

// Seed initializes the counters from persisted state at startup. It replaces
// whatever the controller held before.
func (c *Controller) Seed(global int, perOwner map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.global = global
	c.perOwner = make(map[string]int, len(perOwner))
	for owner, n := range perOwner {
		if n > 0 {
			c.perOwner[owner] = n
		}
	}
}

// Usage returns a snapshot of the counters for the status endpoint.
func (c *Controller) Usage() (global, maxGlobal int, perOwner map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int, len(c.perOwner))
	for owner, n := range c.perOwner {
		out[owner] = n
	}
	return c.global, c.maxGlobal, out
}
