package reconcile

import (
	"slices"
	"sync"
)

// keyedMutex serialises work per record id. Entries are dropped once no
// goroutine holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// lock acquires every key and returns the release func. Keys are taken in
// sorted order so overlapping key sets cannot deadlock.
func (k *keyedMutex) lock(keys ...string) func() {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	held := make([]*refMutex, 0, len(keys))
	for _, key := range keys {
		k.mu.Lock()
		m, ok := k.locks[key]
		if !ok {
			m = &refMutex{}
			k.locks[key] = m
		}
		m.refs++
		k.mu.Unlock()

		m.Lock()
		held = append(held, m)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			m := held[i]
			m.Unlock()

			k.mu.Lock()
			m.refs--
			if m.refs == 0 {
				delete(k.locks, keys[i])
			}
			k.mu.Unlock()
		}
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
