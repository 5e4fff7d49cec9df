package reconcile

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/brojonat/walletfeed/service/metrics"
)

// Update tells observers which records changed since the previous update.
type Update struct {
	IDs       []string  `json:"ids"`
	EmittedAt time.Time `json:"emittedAt"`
}

// UpdatePublisher forwards updates outside the process.
type UpdatePublisher interface {
	PublishUpdate(ctx context.Context, u Update) error
}

const (
	publishTimeout = 5 * time.Second
	publishBuffer  = 64
)

// notifier coalesces record changes. The first change after a quiet window
// is emitted at once; changes inside the window are batched into one
// trailing update at the end of it. Observers run inline; the publisher is
// fed from a buffered queue so Trigger never waits on the network.
type notifier struct {
	window    time.Duration
	now       func() time.Time
	publisher UpdatePublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu        sync.Mutex
	pending   []string
	lastEmit  time.Time
	timer     *time.Timer
	observers map[int]func(Update)
	nextID    int
	closed    bool

	publishCh chan Update
	done      chan struct{}
	closeOnce sync.Once
}

func newNotifier(window time.Duration, now func() time.Time, publisher UpdatePublisher, m *metrics.Metrics, logger *slog.Logger) *notifier {
	n := &notifier{
		window:    window,
		now:       now,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		observers: make(map[int]func(Update)),
		done:      make(chan struct{}),
	}
	if publisher != nil {
		n.publishCh = make(chan Update, publishBuffer)
		go n.publishLoop()
	}
	return n
}

func (n *notifier) publishLoop() {
	for {
		select {
		case <-n.done:
			return
		case u := <-n.publishCh:
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			if err := n.publisher.PublishUpdate(ctx, u); err != nil {
				n.logger.Warn("failed to publish feed update", "ids", u.IDs, "error", err)
			}
			cancel()
		}
	}
}

func (n *notifier) subscribe(fn func(Update)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.observers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.observers, id)
			n.mu.Unlock()
		})
	}
}

// Trigger records a change to id.
func (n *notifier) Trigger(id string) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	if !slices.Contains(n.pending, id) {
		n.pending = append(n.pending, id)
	}
	if n.timer != nil {
		n.mu.Unlock()
		return
	}

	now := n.now()
	if wait := n.lastEmit.Add(n.window).Sub(now); !n.lastEmit.IsZero() && wait > 0 {
		n.timer = time.AfterFunc(wait, n.flush)
		n.mu.Unlock()
		return
	}
	u, observers := n.take(now)
	n.mu.Unlock()

	n.emit(u, observers)
}

func (n *notifier) flush() {
	n.mu.Lock()
	n.timer = nil
	if n.closed || len(n.pending) == 0 {
		n.mu.Unlock()
		return
	}
	u, observers := n.take(n.now())
	n.mu.Unlock()

	n.emit(u, observers)
}

// take drains pending into an Update. Callers hold mu.
func (n *notifier) take(now time.Time) (Update, []func(Update)) {
	u := Update{IDs: n.pending, EmittedAt: now.UTC()}
	n.pending = nil
	n.lastEmit = now

	observers := make([]func(Update), 0, len(n.observers))
	for _, fn := range n.observers {
		observers = append(observers, fn)
	}
	return u, observers
}

func (n *notifier) emit(u Update, observers []func(Update)) {
	n.metrics.RecordUpdateEmitted()
	for _, fn := range observers {
		fn(u)
	}
	if n.publishCh == nil {
		return
	}
	select {
	case <-n.done:
	case n.publishCh <- u:
	default:
		n.logger.Warn("publish queue full, dropping feed update", "ids", u.IDs)
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.closeOnce.Do(func() { close(n.done) })
}
