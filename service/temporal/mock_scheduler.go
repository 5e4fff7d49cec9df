package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type mockSchedule struct {
	interval  time.Duration
	batchSize int
}

// MockScheduler is an in-memory Scheduler for tests.
type MockScheduler struct {
	mu        sync.Mutex
	schedules map[string]mockSchedule
	upsertErr error
	deleteErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{schedules: make(map[string]mockSchedule)}
}

// UpsertRepairSchedule records the schedule.
func (m *MockScheduler) UpsertRepairSchedule(ctx context.Context, wallet string, interval time.Duration, batchSize int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.schedules[scheduleID(wallet)] = mockSchedule{interval: interval, batchSize: batchSize}
	return nil
}

// DeleteRepairSchedule removes the schedule, failing when there is none.
func (m *MockScheduler) DeleteRepairSchedule(ctx context.Context, wallet string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	id := scheduleID(wallet)
	if _, ok := m.schedules[id]; !ok {
		return fmt.Errorf("schedule %q not found", id)
	}
	delete(m.schedules, id)
	return nil
}

// SetUpsertError makes UpsertRepairSchedule return err.
func (m *MockScheduler) SetUpsertError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertErr = err
}

// SetDeleteError makes DeleteRepairSchedule return err.
func (m *MockScheduler) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// Schedule returns the interval and batch size recorded for wallet.
func (m *MockScheduler) Schedule(wallet string) (time.Duration, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[scheduleID(wallet)]
	return s.interval, s.batchSize, ok
}

// ScheduleCount returns the number of schedules.
func (m *MockScheduler) ScheduleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.schedules)
}
