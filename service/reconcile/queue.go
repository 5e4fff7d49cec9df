package reconcile

import (
	"sync"

	"github.com/brojonat/walletfeed/service/feed"
)

// Queue holds locally originated transactions until their receipt arrives.
type Queue struct {
	mu    sync.Mutex
	items map[string]*feed.Event
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{items: make(map[string]*feed.Event)}
}

// Put stores a copy of ev under its id, replacing any earlier entry.
func (q *Queue) Put(ev *feed.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[ev.ID] = ev.Clone()
}

// Take removes and returns the entry for id.
func (q *Queue) Take(id string) (*feed.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ev, ok := q.items[id]
	if ok {
		delete(q.items, id)
	}
	return ev, ok
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
