// Package gate is the release gate: a counting signal, starting at zero,
// that is incremented each time a job's artifacts are settled.
package gate

import (
	"context"
	"math"
	"sync"

	"golang.org/x/sync/semaphore"
)

// capacity bounds the number of banked releases.
const capacity = math.MaxInt64

type Gate struct {
	sem *semaphore.Weighted

	mu    sync.Mutex
	count int
}

func New() *Gate {
	sem := semaphore.NewWeighted(capacity)
	// Hold every unit so the gate starts closed.
	sem.TryAcquire(capacity)
	return &Gate{sem: sem}
}

// Signal releases one waiter, or banks the release for the next Wait.
func (g *Gate) Signal() {
	g.mu.Lock()
	g.count++
	g.mu.Unlock()
	g.sem.Release(1)
}

// Wait blocks until the count is positive, then decrements it.
func (g *Gate) Wait(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.taken()
	return nil
}

func (g *Gate) TryWait() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.taken()
	return true
}

// Drain consumes every banked release and reports how many there were.
func (g *Gate) Drain() int {
	n := 0
	for g.TryWait() {
		n++
	}
	return n
}

func (g *Gate) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

func (g *Gate) taken() {
	g.mu.Lock()
	g.count--
	g.mu.Unlock()
}
