package db

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/brojonat/walletfeed/service/feed"
	"github.com/brojonat/walletfeed/service/profiles"
)

// MemoryStore keeps everything in process. It backs local development
// (STORE_BACKEND=memory) and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	events   map[string]*feed.Event
	outbox   map[string]string
	profiles map[string]profiles.Profile
	writes   int

	watchers watchers
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:   make(map[string]*feed.Event),
		outbox:   make(map[string]string),
		profiles: make(map[string]profiles.Profile),
	}
}

// Ready is always satisfied.
func (m *MemoryStore) Ready(ctx context.Context) error {
	return ctx.Err()
}

// Watch registers fn to be called after every write.
func (m *MemoryStore) Watch(fn func(*feed.Event)) func() {
	return m.watchers.add(fn)
}

// Writes returns how many feed writes were made.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *MemoryStore) Read(ctx context.Context, id string) (*feed.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.events[id].Clone(), nil
}

func (m *MemoryStore) ReadByPaymentID(ctx context.Context, paymentID string) (*feed.Event, error) {
	if paymentID == "" {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *feed.Event
	for _, ev := range m.events {
		if ev.Data.PaymentID != paymentID {
			continue
		}
		if found == nil || ev.CreatedDate.Before(found.CreatedDate) {
			found = ev
		}
	}
	return found.Clone(), nil
}

func (m *MemoryStore) Write(ctx context.Context, ev *feed.Event) error {
	stored := ev.Clone()
	stored.Date = feed.Timestamp(stored.Date)
	stored.CreatedDate = feed.Timestamp(stored.CreatedDate)

	m.mu.Lock()
	m.events[ev.ID] = stored
	m.writes++
	m.mu.Unlock()

	m.watchers.notify(stored)
	return nil
}

func (m *MemoryStore) GetFeedPage(ctx context.Context, count, cursor int, category feed.Category) ([]*feed.Event, error) {
	m.mu.RLock()
	var visible []*feed.Event
	for _, ev := range m.events {
		if ev.Status == feed.StatusDeleted || !category.Includes(ev.Type) {
			continue
		}
		visible = append(visible, ev)
	}
	m.mu.RUnlock()

	sortNewestFirst(visible)

	if count <= 0 || cursor < 0 || cursor >= len(visible) {
		return nil, nil
	}
	end := min(cursor+count, len(visible))
	page := make([]*feed.Event, 0, end-cursor)
	for _, ev := range visible[cursor:end] {
		page = append(page, ev.Clone())
	}
	return page, nil
}

func (m *MemoryStore) ListUnconfirmed(ctx context.Context, limit int) ([]string, error) {
	m.mu.RLock()
	var pending []*feed.Event
	for _, ev := range m.events {
		if ev.ReceiptReceived || !ev.OnChainID() || ev.Type == feed.ItemNews || ev.Status == feed.StatusDeleted {
			continue
		}
		pending = append(pending, ev)
	}
	m.mu.RUnlock()

	sortNewestFirst(pending)

	ids := make([]string, 0, min(limit, len(pending)))
	for _, ev := range pending {
		if len(ids) == limit {
			break
		}
		ids = append(ids, ev.ID)
	}
	return ids, nil
}

func (m *MemoryStore) AddToOutbox(ctx context.Context, recipientKey, txID, ciphertext string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox[recipientKey+"/"+txID] = ciphertext
	return nil
}

func (m *MemoryStore) GetFromOutbox(ctx context.Context, recipientKey, txID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.outbox[recipientKey+"/"+txID], nil
}

func (m *MemoryStore) ReadProfile(ctx context.Context, address string) (*profiles.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[address]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryStore) WriteProfile(ctx context.Context, p profiles.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.Address] = p
	return nil
}

func sortNewestFirst(events []*feed.Event) {
	slices.SortFunc(events, func(a, b *feed.Event) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
