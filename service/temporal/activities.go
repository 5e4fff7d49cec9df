package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/walletfeed/service/feed"
	"github.com/brojonat/walletfeed/service/metrics"
)

// RepairFeedInput is the input of RepairFeedWorkflow.
type RepairFeedInput struct {
	Wallet    string `json:"wallet"`
	BatchSize int    `json:"batch_size"`
}

// RepairFeedResult summarises one repair run.
type RepairFeedResult struct {
	Wallet   string    `json:"wallet"`
	Checked  int       `json:"checked"`
	Repaired int       `json:"repaired"`
	Missing  int       `json:"missing"`
	Failed   int       `json:"failed"`
	RunTime  time.Time `json:"run_time"`
	Error    *string   `json:"error,omitempty"`
}

// ListUnconfirmedInput contains parameters for the ListUnconfirmed activity.
type ListUnconfirmedInput struct {
	Limit int `json:"limit"`
}

// ListUnconfirmedResult holds the ids of records still waiting for a receipt.
type ListUnconfirmedResult struct {
	IDs []string `json:"ids"`
}

// ReprocessReceiptInput contains parameters for the ReprocessReceipt activity.
type ReprocessReceiptInput struct {
	ID string `json:"id"`
}

// ReprocessReceiptResult reports what the engine did with one receipt.
type ReprocessReceiptResult struct {
	ID     string `json:"id"`
	Found  bool   `json:"found"`
	TxType string `json:"tx_type,omitempty"`
	Status string `json:"status,omitempty"`
}

// ReportRepairInput carries the outcome of a run to the worker's metrics.
type ReportRepairInput struct {
	Result   RepairFeedResult `json:"result"`
	Duration time.Duration    `json:"duration"`
}

// StoreInterface is the read access the repair activities need.
type StoreInterface interface {
	ListUnconfirmed(ctx context.Context, limit int) ([]string, error)
}

// ReprocessorInterface asks the engine to fetch and reconcile a receipt. It
// returns nil without error when there is no receipt for id.
type ReprocessorInterface interface {
	ProcessReceipt(ctx context.Context, hash string) (*feed.Event, error)
}

// Activities holds the dependencies of the repair activities.
type Activities struct {
	store       StoreInterface
	reprocessor ReprocessorInterface
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewActivities creates the activities. m may be nil.
func NewActivities(store StoreInterface, reprocessor ReprocessorInterface, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:       store,
		reprocessor: reprocessor,
		metrics:     m,
		logger:      logger,
	}
}

// ListUnconfirmed returns on-chain record ids that never saw a receipt.
func (a *Activities) ListUnconfirmed(ctx context.Context, input ListUnconfirmedInput) (*ListUnconfirmedResult, error) {
	defer metrics.Timer(time.Now(), func(d float64) {
		a.metrics.RecordActivityDuration("ListUnconfirmed", d)
	})()

	ids, err := a.store.ListUnconfirmed(ctx, input.Limit)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to list unconfirmed records", "limit", input.Limit, "error", err)
		return nil, fmt.Errorf("failed to list unconfirmed records: %w", err)
	}

	a.logger.DebugContext(ctx, "listed unconfirmed records", "count", len(ids))
	return &ListUnconfirmedResult{IDs: ids}, nil
}

// ReprocessReceipt hands one id to the engine.
func (a *Activities) ReprocessReceipt(ctx context.Context, input ReprocessReceiptInput) (*ReprocessReceiptResult, error) {
	defer metrics.Timer(time.Now(), func(d float64) {
		a.metrics.RecordActivityDuration("ReprocessReceipt", d)
	})()

	ev, err := a.reprocessor.ProcessReceipt(ctx, input.ID)
	if err != nil {
		a.logger.WarnContext(ctx, "failed to reprocess receipt", "id", input.ID, "error", err)
		return nil, fmt.Errorf("failed to reprocess receipt %s: %w", input.ID, err)
	}
	if ev == nil {
		a.metrics.RecordRepair("workflow", "not_found")
		return &ReprocessReceiptResult{ID: input.ID}, nil
	}

	a.metrics.RecordRepair("workflow", "success")
	a.logger.InfoContext(ctx, "receipt reprocessed", "id", ev.ID, "tx_type", ev.TxType, "status", ev.Status)
	return &ReprocessReceiptResult{
		ID:     ev.ID,
		Found:  true,
		TxType: string(ev.TxType),
		Status: string(ev.Status),
	}, nil
}

// ReportRepair records the outcome of a workflow run.
func (a *Activities) ReportRepair(ctx context.Context, input ReportRepairInput) error {
	status := "success"
	if input.Result.Error != nil {
		status = "error"
	} else if input.Result.Failed > 0 {
		status = "partial"
	}
	a.metrics.RecordWorkflowDuration(status, input.Duration.Seconds())
	a.logger.InfoContext(ctx, "feed repair finished",
		"wallet", input.Result.Wallet,
		"status", status,
		"checked", input.Result.Checked,
		"repaired", input.Result.Repaired,
		"missing", input.Result.Missing,
		"failed", input.Result.Failed,
	)
	return nil
}
