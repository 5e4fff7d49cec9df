package temporal

import (
	"fmt"
	"log/slog"

	"github.com/brojonat/walletfeed/service/metrics"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// WorkerConfig contains configuration for the Temporal worker.
type WorkerConfig struct {
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	Store       StoreInterface
	Reprocessor ReprocessorInterface
	Metrics     *metrics.Metrics // optional
	Logger      *slog.Logger
}

// Worker wraps a Temporal worker and provides lifecycle management.
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *slog.Logger
}

// NewWorker connects to Temporal and registers the repair workflow and its
// activities on the task queue.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	logger := config.Logger.With("component", "temporal_worker")

	c, err := client.Dial(client.Options{
		HostPort:  config.TemporalHost,
		Namespace: config.TemporalNamespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}

	w := worker.New(c, config.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     10,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})

	w.RegisterWorkflow(RepairFeedWorkflow)

	activities := NewActivities(config.Store, config.Reprocessor, config.Metrics, logger)
	w.RegisterActivity(activities.ListUnconfirmed)
	w.RegisterActivity(activities.ReprocessReceipt)
	w.RegisterActivity(activities.ReportRepair)

	logger.Info("registered workflow and activities",
		"workflow", "RepairFeedWorkflow",
		"activities", []string{"ListUnconfirmed", "ReprocessReceipt", "ReportRepair"},
		"task_queue", config.TaskQueue,
	)

	return &Worker{
		client: c,
		worker: w,
		logger: logger,
	}, nil
}

// Start processes tasks until Stop is called or the process is interrupted.
func (w *Worker) Start() error {
	w.logger.Info("starting temporal worker")
	if err := w.worker.Run(worker.InterruptCh()); err != nil {
		return fmt.Errorf("worker stopped with error: %w", err)
	}
	w.logger.Info("worker stopped gracefully")
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.worker.Stop()
	w.client.Close()
	w.logger.Info("temporal worker stopped")
}
