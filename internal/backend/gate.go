package backend

import (
	"context"

	"golang.org/x/sync/semaphore"
)

const gateWeight = 1 << 30

// Gate is a shared/exclusive lock whose acquisition honours a context
// deadline. Shared holders take one slot, an exclusive holder takes all.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate returns an unlocked gate.
func NewGate() *Gate {
	return &Gate{sem: semaphore.NewWeighted(gateWeight)}
}

func weight(mode LockMode) int64 {
	if mode == LockExclusive {
		return gateWeight
	}
	return 1
}

// Acquire blocks until the gate is held in mode or ctx is done.
func (g *Gate) Acquire(ctx context.Context, mode LockMode) error {
	return g.sem.Acquire(ctx, weight(mode))
}

// TryAcquire takes the gate without blocking.
func (g *Gate) TryAcquire(mode LockMode) bool {
	return g.sem.TryAcquire(weight(mode))
}

// Release gives back a hold taken in mode.
func (g *Gate) Release(mode LockMode) {
	g.sem.Release(weight(mode))
}
