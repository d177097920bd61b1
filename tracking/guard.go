package tracking

import (
	"golang.org/x/sync/semaphore"

	"github.com/syssam/tracker"
)

// guard detects overlapping use of a state manager. It never blocks: a
// second caller fails instead of waiting.
type guard struct {
	sem *semaphore.Weighted
}

func newGuard() *guard {
	return &guard{sem: semaphore.NewWeighted(1)}
}

// enter claims the critical section and returns the release func.
func (g *guard) enter() (func(), error) {
	if !g.sem.TryAcquire(1) {
		return nil, tracker.ErrConcurrentAccess
	}
	return func() { g.sem.Release(1) }, nil
}
