// Package gate provides a single-permit, FIFO, context-aware mutual exclusion
// primitive used to serialise request/response pairs against a shared
// transport (a Client, SerialClient or polled-device mapping set).
package gate

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate is a weighted semaphore of weight 1. Unlike sync.Mutex, Acquire
// respects context cancellation so a caller waiting for the gate can give up
// without blocking forever on a stuck peer.
type Gate struct {
	sem *semaphore.Weighted
}

// New returns a Gate with a single permit available.
func New() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the permit is available or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// TryAcquire acquires the permit without blocking, reporting whether it
// succeeded.
func (g *Gate) TryAcquire() bool {
	return g.sem.TryAcquire(1)
}

// Release returns the permit. It must be called exactly once per successful
// Acquire/TryAcquire.
func (g *Gate) Release() {
	g.sem.Release(1)
}
