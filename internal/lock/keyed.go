// Package lock serializes writers that touch the same user records.
package lock

import (
	"sort"
	"sync"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// Keyed hands out one mutex per user id. Entries are dropped once no
// goroutine holds or waits on them.
type Keyed struct {
	mu    sync.Mutex
	locks map[uint]*entry
}

func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[uint]*entry)}
}

// Lock acquires the mutexes for ids in ascending order and returns the
// release func. Duplicate ids are locked once.
func (k *Keyed) Lock(ids ...uint) func() {
	ordered := make([]uint, 0, len(ids))
	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	held := make([]*entry, 0, len(ordered))
	for _, id := range ordered {
		e := k.acquire(id)
		e.mu.Lock()
		held = append(held, e)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].mu.Unlock()
				k.release(ordered[i])
			}
		})
	}
}

func (k *Keyed) acquire(id uint) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.locks[id]
	if !ok {
		e = &entry{}
		k.locks[id] = e
	}
	e.refs++
	return e
}

func (k *Keyed) release(id uint) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.locks[id]
	e.refs--
	if e.refs == 0 {
		delete(k.locks, id)
	}
}

// Len reports how many ids currently have an entry.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
