package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// Client is the production Scheduler backed by Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient connects to Temporal.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

func (c *Client) action(wallet string, batchSize int) *client.ScheduleWorkflowAction {
	return &client.ScheduleWorkflowAction{
		ID:        "repair-feed-run-" + wallet,
		Workflow:  RepairFeedWorkflow,
		TaskQueue: c.taskQueue,
		Args:      []any{RepairFeedInput{Wallet: wallet, BatchSize: batchSize}},
	}
}

// UpsertRepairSchedule creates the repair schedule of wallet or updates it.
func (c *Client) UpsertRepairSchedule(ctx context.Context, wallet string, interval time.Duration, batchSize int) error {
	id := scheduleID(wallet)
	handle := c.client.ScheduleClient().GetHandle(ctx, id)

	if _, err := handle.Describe(ctx); err != nil {
		c.logger.Debug("schedule not found, creating", "schedule_id", id, "error", err)

		_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
			ID: id,
			Spec: client.ScheduleSpec{
				Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
			},
			Action: c.action(wallet, batchSize),
			Memo: map[string]any{
				"wallet":     wallet,
				"created_by": "walletfeed",
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create schedule %q: %w", id, err)
		}
		c.logger.Info("repair schedule created", "schedule_id", id, "interval", interval, "batch_size", batchSize)
		return nil
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{{Every: interval}}
			input.Description.Schedule.Action = c.action(wallet, batchSize)
			return &client.ScheduleUpdate{Schedule: &input.Description.Schedule}, nil
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}
	c.logger.Info("repair schedule updated", "schedule_id", id, "interval", interval, "batch_size", batchSize)
	return nil
}

// DeleteRepairSchedule deletes the repair schedule of wallet.
func (c *Client) DeleteRepairSchedule(ctx context.Context, wallet string) error {
	id := scheduleID(wallet)
	if err := c.client.ScheduleClient().GetHandle(ctx, id).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}
	c.logger.Info("repair schedule deleted", "schedule_id", id)
	return nil
}

// TriggerRepair starts a repair run immediately, outside the schedule.
func (c *Client) TriggerRepair(ctx context.Context, wallet string) error {
	id := scheduleID(wallet)
	if err := c.client.ScheduleClient().GetHandle(ctx, id).Trigger(ctx, client.ScheduleTriggerOptions{}); err != nil {
		return fmt.Errorf("failed to trigger schedule %q: %w", id, err)
	}
	return nil
}

// SDKClient returns the underlying Temporal SDK client.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...any) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...any) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...any) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...any) {
	l.logger.Error(msg, keyvals...)
}
