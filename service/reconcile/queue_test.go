package reconcile

import (
	"sync"
	"testing"
	"time"

	"github.com/brojonat/walletfeed/service/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_TakeReturnsEntryOnce(t *testing.T) {
	q := NewQueue()
	q.Put(&feed.Event{ID: "0x1", Type: feed.ItemSendDirect, Data: feed.Data{Reason: "rent"}})
	assert.Equal(t, 1, q.Len())

	ev, ok := q.Take("0x1")
	require.True(t, ok)
	assert.Equal(t, "rent", ev.Data.Reason)
	assert.Equal(t, 0, q.Len())

	ev, ok = q.Take("0x1")
	assert.False(t, ok)
	assert.Nil(t, ev)
}

func TestQueue_PutStoresCopy(t *testing.T) {
	q := NewQueue()
	ev := &feed.Event{ID: "0x1", Data: feed.Data{Reason: "before"}}
	q.Put(ev)
	ev.Data.Reason = "after"

	got, ok := q.Take("0x1")
	require.True(t, ok)
	assert.Equal(t, "before", got.Data.Reason)
}

func TestQueue_ConcurrentTakeHasOneWinner(t *testing.T) {
	q := NewQueue()
	q.Put(&feed.Event{ID: "0x1"})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := q.Take("0x1"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestKeyedMutex_SerialisesSameKey(t *testing.T) {
	k := newKeyedMutex()

	unlock := k.lock("a", "b")
	acquired := make(chan struct{})
	go func() {
		release := k.lock("b")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}

	assert.Eventually(t, func() bool { return k.size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestKeyedMutex_DistinctKeysDoNotBlock(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		k.lock("b", "b")()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on unrelated key blocked")
	}
}
