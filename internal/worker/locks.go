package worker

import (
	"sync"

	"github.com/google/uuid"
)

// planLocks is a set of per-plan mutexes. Entries are dropped once nobody
// holds or waits for them.
type planLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*planLock
}

type planLock struct {
	mu   sync.Mutex
	refs int
}

func newPlanLocks() *planLocks {
	return &planLocks{locks: make(map[uuid.UUID]*planLock)}
}

// lock blocks until the plan's mutex is held and returns its release.
func (l *planLocks) lock(planID uuid.UUID) func() {
	l.mu.Lock()
	pl, ok := l.locks[planID]
	if !ok {
		pl = &planLock{}
		l.locks[planID] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, planID)
		}
		l.mu.Unlock()
	}
}
