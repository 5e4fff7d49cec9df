package db

import (
	"sync"

	"github.com/brojonat/walletfeed/service/feed"
)

// watchers is the in-process change stream of a store.
type watchers struct {
	mu   sync.RWMutex
	next int
	fns  map[int]func(*feed.Event)
}

func (w *watchers) add(fn func(*feed.Event)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fns == nil {
		w.fns = make(map[int]func(*feed.Event))
	}
	id := w.next
	w.next++
	w.fns[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.fns, id)
	}
}

func (w *watchers) notify(ev *feed.Event) {
	w.mu.RLock()
	fns := make([]func(*feed.Event), 0, len(w.fns))
	for _, fn := range w.fns {
		fns = append(fns, fn)
	}
	w.mu.RUnlock()

	for _, fn := range fns {
		fn(ev.Clone())
	}
}
