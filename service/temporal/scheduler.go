package temporal

import (
	"context"
	"strings"
	"time"
)

// Scheduler manages the Temporal schedule that repairs a wallet's feed.
type Scheduler interface {
	// UpsertRepairSchedule creates the schedule, or updates its interval and
	// batch size when it already exists.
	UpsertRepairSchedule(ctx context.Context, wallet string, interval time.Duration, batchSize int) error

	// DeleteRepairSchedule deletes the schedule of wallet.
	DeleteRepairSchedule(ctx context.Context, wallet string) error
}

// scheduleID returns the Temporal schedule ID for a wallet.
func scheduleID(wallet string) string {
	return "repair-feed-" + strings.ToLower(wallet)
}
