// Package reconcile turns confirmed receipts and locally queued transactions
// into one durable feed record per logical transaction.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brojonat/walletfeed/service/feed"
	"github.com/brojonat/walletfeed/service/metrics"
	"github.com/brojonat/walletfeed/service/profiles"
	"github.com/brojonat/walletfeed/service/receipt"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// ErrNotReady is returned when an operation gives up waiting for Init.
var ErrNotReady = errors.New("feed engine not ready")

// ChainClient reads receipts and block data from the chain.
type ChainClient interface {
	// GetReceiptWithLogs returns (nil, nil) when the transaction is unknown.
	GetReceiptWithLogs(ctx context.Context, txHash string) (*receipt.Receipt, error)
	BlockTime(ctx context.Context, blockNumber uint64) (time.Time, error)
	// Subscribe delivers receipts touching the wallet until ctx is done.
	Subscribe(ctx context.Context, handler func(context.Context, *receipt.Receipt)) error
	Contracts() receipt.Contracts
}

// Store is the durable feed store. Read and ReadByPaymentID return
// (nil, nil) for missing records.
type Store interface {
	Ready(ctx context.Context) error
	Read(ctx context.Context, id string) (*feed.Event, error)
	ReadByPaymentID(ctx context.Context, paymentID string) (*feed.Event, error)
	Write(ctx context.Context, ev *feed.Event) error
	GetFeedPage(ctx context.Context, count, cursor int, category feed.Category) ([]*feed.Event, error)
	Watch(fn func(*feed.Event)) func()
}

// ProfileResolver looks up counterparty display identities.
type ProfileResolver interface {
	Resolve(ctx context.Context, address string) (profiles.Profile, error)
}

// OutboxChannel exchanges sender metadata for transfers.
type OutboxChannel interface {
	Publish(ctx context.Context, ev *feed.Event) error
	Fetch(ctx context.Context, ev *feed.Event) (feed.Data, error)
}

// Config tunes the engine.
type Config struct {
	// Debounce is the update coalescing window.
	Debounce time.Duration
	Now      func() time.Time
}

const (
	defaultDebounce       = time.Second
	pageRepairConcurrency = 8
)

type engineState int32

const (
	stateUninitialized engineState = iota
	stateInitializing
	stateReady
)

// Engine reconciles the feed of one wallet.
type Engine struct {
	store      Store
	chain      ChainClient
	profiles   ProfileResolver
	outbox     OutboxChannel
	classifier *receipt.Classifier
	queue      *Queue
	locks      *keyedMutex
	notifier   *notifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time

	state   atomic.Int32
	ready   chan struct{}
	unwatch func()

	cursorMu sync.Mutex
	cursor   int
}

// NewEngine creates an Engine. profiles, outbox and publisher may be nil.
func NewEngine(
	store Store,
	chain ChainClient,
	profiles ProfileResolver,
	outbox OutboxChannel,
	publisher UpdatePublisher,
	m *metrics.Metrics,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		store:      store,
		chain:      chain,
		profiles:   profiles,
		outbox:     outbox,
		classifier: receipt.NewClassifier(chain.Contracts()),
		queue:      NewQueue(),
		locks:      newKeyedMutex(),
		notifier:   newNotifier(cfg.Debounce, cfg.Now, publisher, m, logger),
		metrics:    m,
		logger:     logger,
		now:        cfg.Now,
		ready:      make(chan struct{}),
	}
}

// Init waits for the store and wires its change stream into the update
// notifier. Concurrent callers wait for the first one to finish.
func (e *Engine) Init(ctx context.Context) error {
	if !e.state.CompareAndSwap(int32(stateUninitialized), int32(stateInitializing)) {
		return e.waitReady(ctx)
	}

	if err := e.store.Ready(ctx); err != nil {
		e.state.Store(int32(stateUninitialized))
		return fmt.Errorf("failed to wait for store: %w", err)
	}
	e.unwatch = e.store.Watch(func(ev *feed.Event) {
		e.notifier.Trigger(ev.ID)
	})

	e.state.Store(int32(stateReady))
	close(e.ready)
	e.logger.Info("feed engine ready", "wallet", e.classifier.Contracts().Wallet.Hex())
	return nil
}

// Ready reports whether Init has completed.
func (e *Engine) Ready() bool {
	return engineState(e.state.Load()) == stateReady
}

func (e *Engine) waitReady(ctx context.Context) error {
	select {
	case <-e.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrNotReady, ctx.Err())
	}
}

// Listen feeds receipts from the chain subscription into HandleReceipt until
// ctx is done.
func (e *Engine) Listen(ctx context.Context) error {
	if err := e.waitReady(ctx); err != nil {
		return err
	}
	e.logger.Info("listening for wallet receipts")
	return e.chain.Subscribe(ctx, func(ctx context.Context, r *receipt.Receipt) {
		e.HandleReceipt(ctx, r)
	})
}

// Subscribe registers fn for coalesced update notifications and returns the
// func that removes it.
func (e *Engine) Subscribe(fn func(Update)) func() {
	return e.notifier.subscribe(fn)
}

// Close detaches from the store and stops pending notifications.
func (e *Engine) Close() {
	if e.unwatch != nil {
		e.unwatch()
	}
	e.notifier.close()
}

// Get returns the stored record, or nil when there is none.
func (e *Engine) Get(ctx context.Context, id string) (*feed.Event, error) {
	if err := e.waitReady(ctx); err != nil {
		return nil, err
	}
	return e.store.Read(ctx, id)
}

// EnqueueTX records a locally originated transaction as pending. It returns
// false when a record with the same id already exists or on failure.
func (e *Engine) EnqueueTX(ctx context.Context, ev *feed.Event) bool {
	if err := e.waitReady(ctx); err != nil {
		e.logger.Error("failed to enqueue transaction", "error", err)
		return false
	}
	if ev == nil || ev.ID == "" {
		e.logger.Warn("refusing to enqueue transaction without id")
		e.metrics.RecordEnqueue("invalid")
		return false
	}

	unlock := e.locks.lock(ev.ID)
	defer unlock()

	existing, err := e.store.Read(ctx, ev.ID)
	if err != nil {
		e.logger.Error("failed to check existing feed record", "id", ev.ID, "error", err)
		e.metrics.RecordEnqueue("error")
		return false
	}
	if existing != nil {
		e.logger.Debug("feed record already exists, not enqueueing", "id", ev.ID)
		e.metrics.RecordEnqueue("exists")
		return false
	}

	queued := ev.Clone()
	if queued.Status == "" {
		queued.Status = feed.StatusPending
	}
	if queued.CreatedDate.IsZero() {
		queued.CreatedDate = e.now()
	}
	queued.CreatedDate = feed.Timestamp(queued.CreatedDate)
	if queued.Date.IsZero() {
		queued.Date = queued.CreatedDate
	}
	queued.Date = feed.Timestamp(queued.Date)

	e.queue.Put(queued)
	e.metrics.SetPendingQueueSize(e.queue.Len())

	if queued.Type == feed.ItemSendDirect && e.outbox != nil {
		if err := e.outbox.Publish(ctx, queued); err != nil {
			e.logger.Warn("failed to publish outbox metadata", "id", queued.ID, "error", err)
		}
	}

	if err := e.store.Write(ctx, queued); err != nil {
		e.queue.Take(queued.ID)
		e.metrics.SetPendingQueueSize(e.queue.Len())
		e.logger.Error("failed to write queued transaction", "id", queued.ID, "error", err)
		e.metrics.RecordEnqueue("error")
		return false
	}
	e.metrics.RecordFeedWrite("enqueue")
	e.metrics.RecordEnqueue("success")
	e.logger.Debug("enqueued transaction", "id", queued.ID, "type", queued.Type)
	return true
}

// HandleReceipt classifies r and merges it into the feed. It returns the
// resulting record, or nil when nothing was produced or on failure.
func (e *Engine) HandleReceipt(ctx context.Context, r *receipt.Receipt) *feed.Event {
	if err := e.waitReady(ctx); err != nil {
		e.logger.Error("failed to handle receipt", "error", err)
		return nil
	}
	if r == nil || r.TxHash == "" {
		return nil
	}

	start := time.Now()
	txType := e.classifier.Classify(r)
	ev, outcome, err := e.handleReceiptUpdate(ctx, txType, r)
	if err != nil {
		outcome = "error"
	}
	e.metrics.RecordReceiptHandled(string(txType), outcome, time.Since(start).Seconds())
	if err != nil {
		e.logger.Error("failed to handle receipt",
			"tx_hash", r.TxHash,
			"tx_type", txType,
			"error", err,
		)
		return nil
	}
	return ev
}

func (e *Engine) handleReceiptUpdate(ctx context.Context, txType feed.TxType, r *receipt.Receipt) (*feed.Event, string, error) {
	l, found := e.classifier.Extract(txType, r)
	receiptEvent := receipt.Snapshot(r.TxHash, l, found)
	receiptDate := feed.Timestamp(e.receiptDate(ctx, r))

	byPaymentID := txType == feed.TxOTPLWithdraw || txType == feed.TxOTPLCancel

	keys := []string{r.TxHash}
	var prior *feed.Event
	if byPaymentID {
		var err error
		prior, err = e.store.ReadByPaymentID(ctx, receiptEvent.PaymentID)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read payment link record: %w", err)
		}
		if prior != nil {
			keys = append(keys, prior.ID)
		}
	}

	unlock := e.locks.lock(keys...)
	defer unlock()

	var existing *feed.Event
	if prior != nil {
		var err error
		existing, err = e.store.Read(ctx, prior.ID)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read payment link record %s: %w", prior.ID, err)
		}
	}
	if existing == nil && txType == feed.TxOTPLCancel {
		e.logger.Info("no payment link record to cancel",
			"tx_hash", r.TxHash,
			"payment_id", receiptEvent.PaymentID,
		)
		return nil, "noop", nil
	}
	if existing == nil {
		var err error
		existing, err = e.store.Read(ctx, r.TxHash)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read feed record: %w", err)
		}
	}

	initial, _ := e.queue.Take(r.TxHash)
	e.metrics.SetPendingQueueSize(e.queue.Len())

	if existing != nil && existing.ReceiptReceived && receiptDate.Before(existing.Date) {
		e.logger.Debug("discarding stale receipt",
			"tx_hash", r.TxHash,
			"id", existing.ID,
			"receipt_date", receiptDate,
			"record_date", existing.Date,
		)
		return existing, "stale", nil
	}

	merged := e.merge(txType, r.TxHash, receiptEvent, receiptDate, existing, initial)
	e.resolve(ctx, merged)

	switch txType {
	case feed.TxReward:
		merged.Data.Reason = feed.RewardReason
		merged.Data.CounterPartyFullName = feed.RewardCounterParty
	case feed.TxMint:
		merged.Data.Reason = feed.MintReason
		merged.Data.CounterPartyFullName = feed.MintCounterParty
	}

	if feed.Equal(existing, merged) {
		return merged, "unchanged", nil
	}
	if err := e.store.Write(ctx, merged); err != nil {
		return nil, "", err
	}
	e.metrics.RecordFeedWrite("receipt")
	e.logger.Debug("merged receipt into feed",
		"tx_hash", r.TxHash,
		"id", merged.ID,
		"tx_type", txType,
		"status", merged.Status,
	)
	return merged, "updated", nil
}

// merge layers the stored record, the queued payload and the receipt into
// the next state of the record.
func (e *Engine) merge(txType feed.TxType, txHash string, receiptEvent *feed.ReceiptEvent, receiptDate time.Time, existing, initial *feed.Event) *feed.Event {
	merged := &feed.Event{ID: txHash}
	fallback := feed.ItemType("")
	var data feed.Data
	if existing != nil {
		merged = existing.Clone()
		fallback = existing.Type
		data = existing.Data.Clone()
	}
	if initial != nil {
		if fallback == "" {
			fallback = initial.Type
		}
		data = data.Merge(initial.Data)
	}
	data = data.Merge(feed.Data{ReceiptEvent: receiptEvent})

	merged.TxType = txType
	merged.Type = feed.ItemTypeFor(txType, fallback)
	merged.Status = feed.StatusCompleted
	merged.OTPLStatus = ""

	wallet := e.classifier.Contracts().Wallet
	switch txType {
	case feed.TxUnknown:
		merged.Status = feed.StatusDeleted
	case feed.TxError:
		merged.Status = feed.StatusError
	case feed.TxOTPLWithdraw:
		if receiptEvent.From != "" && strings.EqualFold(receiptEvent.From, receiptEvent.To) {
			merged.OTPLStatus = feed.StatusCancelled
		} else {
			merged.OTPLStatus = feed.StatusCompleted
		}
		if receiptEvent.From != "" && common.HexToAddress(receiptEvent.From) == wallet {
			merged.Type = feed.ItemSend
		}
	case feed.TxOTPLDeposit:
		merged.OTPLStatus = feed.StatusPending
		if data.PaymentID == "" {
			data.PaymentID = receiptEvent.PaymentID
		}
	case feed.TxOTPLCancel:
		merged.Status = feed.StatusCancelled
		merged.OTPLStatus = feed.StatusCancelled
	}

	switch {
	case existing != nil && !existing.CreatedDate.IsZero():
		merged.CreatedDate = existing.CreatedDate
	case initial != nil && !initial.CreatedDate.IsZero():
		merged.CreatedDate = initial.CreatedDate
	default:
		merged.CreatedDate = receiptDate
	}
	merged.CreatedDate = feed.Timestamp(merged.CreatedDate)
	merged.Date = receiptDate
	merged.Data = data
	merged.ReceiptReceived = true
	return merged
}

// resolve fills in counterparty identity and outbox metadata. Failures are
// logged and leave the record as it was.
func (e *Engine) resolve(ctx context.Context, ev *feed.Event) {
	counterparty := ev.Data.ReceiptEvent.Counterparty(feed.DirectionFor(ev.Type))

	var (
		profile    profiles.Profile
		outboxData feed.Data
		g          errgroup.Group
	)
	if counterparty != "" && e.profiles != nil {
		g.Go(func() error {
			p, err := e.profiles.Resolve(ctx, counterparty)
			if err != nil {
				e.logger.Warn("failed to resolve counterparty profile", "id", ev.ID, "address", counterparty, "error", err)
			}
			profile = p
			return nil
		})
	}
	if e.outbox != nil {
		candidate := ev.Clone()
		g.Go(func() error {
			d, err := e.outbox.Fetch(ctx, candidate)
			if err != nil {
				e.logger.Warn("failed to fetch outbox metadata", "id", ev.ID, "error", err)
				return nil
			}
			outboxData = d
			return nil
		})
	}
	_ = g.Wait()

	ev.Data = ev.Data.Merge(outboxData)
	if counterparty != "" {
		ev.Data.CounterPartyAddress = counterparty
	}
	if profile.DisplayName != "" {
		ev.Data.CounterPartyFullName = profile.DisplayName
	}
	if profile.Avatar != "" {
		ev.Data.CounterPartySmallAvatar = profile.Avatar
	}
	ev.FetchedOutbox = true
}

func (e *Engine) receiptDate(ctx context.Context, r *receipt.Receipt) time.Time {
	t, err := e.chain.BlockTime(ctx, r.BlockNumber)
	if err != nil {
		e.logger.Warn("failed to get block time, using now",
			"tx_hash", r.TxHash,
			"block", r.BlockNumber,
			"error", err,
		)
		return e.now()
	}
	return t
}

// Reprocess fetches the receipt for id and handles it again.
func (e *Engine) Reprocess(ctx context.Context, id string) *feed.Event {
	if err := e.waitReady(ctx); err != nil {
		e.logger.Error("failed to reprocess receipt", "id", id, "error", err)
		return nil
	}
	return e.repair(ctx, id, "reprocess")
}

func (e *Engine) repair(ctx context.Context, id, source string) *feed.Event {
	r, err := e.chain.GetReceiptWithLogs(ctx, id)
	if err != nil {
		e.logger.Warn("failed to fetch receipt", "id", id, "source", source, "error", err)
		e.metrics.RecordRepair(source, "error")
		return nil
	}
	if r == nil {
		e.metrics.RecordRepair(source, "not_found")
		return nil
	}
	ev := e.HandleReceipt(ctx, r)
	if ev == nil {
		e.metrics.RecordRepair(source, "error")
		return nil
	}
	e.metrics.RecordRepair(source, "success")
	return ev
}

// GetFeedPage returns the next count records of category, continuing from
// the previous call unless reset is set. Records still waiting for their
// receipt are repaired before the page is returned.
func (e *Engine) GetFeedPage(ctx context.Context, count int, reset bool, category feed.Category) []*feed.Event {
	if err := e.waitReady(ctx); err != nil {
		e.logger.Error("failed to get feed page", "error", err)
		return nil
	}
	if count <= 0 {
		return []*feed.Event{}
	}

	e.cursorMu.Lock()
	if reset {
		e.cursor = 0
	}
	cursor := e.cursor
	page, err := e.store.GetFeedPage(ctx, count, cursor, category)
	if err != nil {
		e.cursorMu.Unlock()
		e.logger.Error("failed to get feed page", "cursor", cursor, "category", category, "error", err)
		return nil
	}
	e.cursor += len(page)
	e.cursorMu.Unlock()

	var g errgroup.Group
	g.SetLimit(pageRepairConcurrency)
	for i, item := range page {
		if item.ReceiptReceived || !item.OnChainID() || item.Type == feed.ItemNews {
			continue
		}
		g.Go(func() error {
			if repaired := e.repair(ctx, item.ID, "page"); repaired != nil {
				page[i] = repaired
			}
			return nil
		})
	}
	_ = g.Wait()
	return page
}

// UpdateEventStatus sets the status of a record. It returns the updated
// record, or nil when the record does not exist or on failure.
func (e *Engine) UpdateEventStatus(ctx context.Context, id string, status feed.Status) *feed.Event {
	if !status.Valid() {
		e.logger.Warn("refusing invalid status", "id", id, "status", status)
		return nil
	}
	return e.update(ctx, id, "status", func(ev *feed.Event) { ev.Status = status })
}

// UpdateOTPLEventStatus sets the payment link status of a record.
func (e *Engine) UpdateOTPLEventStatus(ctx context.Context, id string, status feed.Status) *feed.Event {
	switch status {
	case feed.StatusPending, feed.StatusCompleted, feed.StatusCancelled:
	default:
		e.logger.Warn("refusing invalid payment link status", "id", id, "status", status)
		return nil
	}
	return e.update(ctx, id, "otpl_status", func(ev *feed.Event) { ev.OTPLStatus = status })
}

// MarkWithErrorEvent flags the record of txHash as failed.
func (e *Engine) MarkWithErrorEvent(ctx context.Context, txHash string) {
	e.update(ctx, txHash, "error", func(ev *feed.Event) { ev.Status = feed.StatusError })
}

func (e *Engine) update(ctx context.Context, id, op string, mutate func(*feed.Event)) *feed.Event {
	if err := e.waitReady(ctx); err != nil {
		e.logger.Error("failed to update feed record", "id", id, "op", op, "error", err)
		return nil
	}

	unlock := e.locks.lock(id)
	defer unlock()

	ev, err := e.store.Read(ctx, id)
	if err != nil {
		e.logger.Error("failed to read feed record", "id", id, "op", op, "error", err)
		return nil
	}
	if ev == nil {
		e.logger.Debug("feed record not found", "id", id, "op", op)
		return nil
	}

	mutate(ev)
	if err := e.store.Write(ctx, ev); err != nil {
		e.logger.Error("failed to write feed record", "id", id, "op", op, "error", err)
		return nil
	}
	e.metrics.RecordFeedWrite(op)
	return ev
}
