package pipeline

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrEntityBusy is returned when another generate or publish operation holds the entity
var ErrEntityBusy = errors.New("entity has an operation in progress")

// entityLocks is a per-entity try-lock keyed by id
type entityLocks struct {
	mu   sync.Mutex
	held map[uuid.UUID]struct{}
}

func newEntityLocks() *entityLocks {
	return &entityLocks{held: make(map[uuid.UUID]struct{})}
}

// acquire takes the lock for id or fails with ErrEntityBusy. The returned release is idempotent.
func (l *entityLocks) acquire(id uuid.UUID) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[id]; ok {
		return nil, ErrEntityBusy
	}
	l.held[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, id)
			l.mu.Unlock()
		})
	}, nil
}
