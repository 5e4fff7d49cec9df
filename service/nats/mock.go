package nats

import (
	"context"
	"sync"

	"github.com/brojonat/walletfeed/service/reconcile"
)

// MockPublisher records published updates for tests.
type MockPublisher struct {
	mu           sync.RWMutex
	wallet       string
	published    []*FeedUpdate
	publishError error
	closed       bool
}

// NewMockPublisher creates a mock publisher for wallet.
func NewMockPublisher(wallet string) *MockPublisher {
	return &MockPublisher{wallet: wallet}
}

// PublishUpdate records the update as a FeedUpdate for the mock's wallet.
func (m *MockPublisher) PublishUpdate(ctx context.Context, u reconcile.Update) error {
	return m.PublishFeedUpdate(ctx, FromUpdate(m.wallet, u))
}

// PublishFeedUpdate records the update and returns any configured error.
func (m *MockPublisher) PublishFeedUpdate(ctx context.Context, update *FeedUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return m.publishError
	}
	m.published = append(m.published, update)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublished returns a copy of everything published.
func (m *MockPublisher) GetPublished() []*FeedUpdate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*FeedUpdate, len(m.published))
	copy(out, m.published)
	return out
}

// SetPublishError makes subsequent publishes fail with err.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed reports whether Close was called.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
