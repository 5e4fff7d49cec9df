package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const defaultRepairBatchSize = 50

var a *Activities // for type-safe activity invocation

// RepairFeedWorkflow is the polling fallback of the push subscription. It is
// started by a schedule and asks the engine to reprocess every on-chain
// record that has not seen its receipt yet.
//
// A failed reprocess is counted and does not fail the run; the record stays
// unconfirmed and is picked up by the next run.
func RepairFeedWorkflow(ctx workflow.Context, input RepairFeedInput) (*RepairFeedResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("RepairFeedWorkflow started", "wallet", input.Wallet)

	start := workflow.Now(ctx)
	result := &RepairFeedResult{
		Wallet:  input.Wallet,
		RunTime: start,
	}

	batch := input.BatchSize
	if batch <= 0 {
		batch = defaultRepairBatchSize
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	report := func() {
		in := ReportRepairInput{Result: *result, Duration: workflow.Now(ctx).Sub(start)}
		if err := workflow.ExecuteActivity(ctx, a.ReportRepair, in).Get(ctx, nil); err != nil {
			logger.Warn("failed to report repair run", "error", err)
		}
	}

	var unconfirmed *ListUnconfirmedResult
	err := workflow.ExecuteActivity(ctx, a.ListUnconfirmed, ListUnconfirmedInput{Limit: batch}).Get(ctx, &unconfirmed)
	if err != nil {
		errMsg := fmt.Sprintf("failed to list unconfirmed records: %v", err)
		result.Error = &errMsg
		report()
		return result, fmt.Errorf("failed to list unconfirmed records: %w", err)
	}
	result.Checked = len(unconfirmed.IDs)

	futures := make([]workflow.Future, len(unconfirmed.IDs))
	for i, id := range unconfirmed.IDs {
		futures[i] = workflow.ExecuteActivity(ctx, a.ReprocessReceipt, ReprocessReceiptInput{ID: id})
	}
	for i, f := range futures {
		var res *ReprocessReceiptResult
		if err := f.Get(ctx, &res); err != nil {
			logger.Warn("failed to reprocess receipt", "id", unconfirmed.IDs[i], "error", err)
			result.Failed++
			continue
		}
		if res.Found {
			result.Repaired++
		} else {
			result.Missing++
		}
	}

	logger.Info("RepairFeedWorkflow completed",
		"wallet", input.Wallet,
		"checked", result.Checked,
		"repaired", result.Repaired,
		"missing", result.Missing,
		"failed", result.Failed,
	)
	report()
	return result, nil
}
