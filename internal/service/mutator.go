package service

import (
	"context"
	"errors"
	"log"

	"spark/internal/domain"
	"spark/internal/lock"
	"spark/internal/models"
	"spark/internal/repository"
)

// Mutator is the single write path for user records. It serializes writers
// on the same users in-process and retries optimistic version conflicts
// coming from other nodes.
type Mutator struct {
	users   repository.UserStore
	locks   *lock.Keyed
	retries int
}

func NewMutator(users repository.UserStore, locks *lock.Keyed, retries int) *Mutator {
	if retries < 1 {
		retries = 1
	}
	return &Mutator{users: users, locks: locks, retries: retries}
}

// Apply runs fn against a fresh load of ids until it commits, fn fails, or
// the retry budget is spent. fn may run more than once and must only touch
// the users it is given.
func (m *Mutator) Apply(ctx context.Context, op string, ids []uint, fn func(map[uint]*models.User) error) error {
	unlock := m.locks.Lock(ids...)
	defer unlock()

	var err error
	for attempt := 0; attempt < m.retries; attempt++ {
		err = m.users.Mutate(ctx, ids, fn)
		if !errors.Is(err, repository.ErrVersionConflict) {
			break
		}
		versionConflicts.WithLabelValues(op).Inc()
		log.Printf("[MUTATE] %s: version conflict on %v (attempt %d)", op, ids, attempt+1)
	}
	switch {
	case errors.Is(err, repository.ErrVersionConflict):
		return domain.ErrConflict
	case errors.Is(err, repository.ErrNotFound):
		return domain.ErrUserNotFound
	}
	return err
}

// Users exposes the underlying store for reads.
func (m *Mutator) Users() repository.UserStore {
	return m.users
}

func getUser(ctx context.Context, users repository.UserStore, id uint) (*models.User, error) {
	u, err := users.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.ErrUserNotFound
	}
	return u, err
}

func errorCode(err error) string {
	return domain.ErrorCode(err)
}
