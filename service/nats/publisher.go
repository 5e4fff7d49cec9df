package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/walletfeed/service/metrics"
	"github.com/brojonat/walletfeed/service/reconcile"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher publishes feed update notifications.
type Publisher interface {
	// PublishFeedUpdate publishes to the subject "feed.{wallet}".
	PublishFeedUpdate(ctx context.Context, update *FeedUpdate) error
	Close() error
}

const (
	// StreamName is the JetStream stream holding feed updates.
	StreamName = "FEED_UPDATES"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "feed.>"

	// StreamRetention is how long updates are kept.
	StreamRetention = 7 * 24 * time.Hour
)

// Connect dials NATS with reconnects enabled.
func Connect(natsURL, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// JetStreamPublisher publishes feed updates of one wallet to JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	wallet  string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPublisher connects to NATS and ensures the stream exists.
func NewPublisher(natsURL, wallet string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := Connect(natsURL, "walletfeed-publisher")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		wallet:  wallet,
		metrics: m,
		logger:  logger,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
		"subject", Subject(wallet),
	)
	return publisher, nil
}

func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := p.js.Stream(ctx, StreamName); err == nil {
		p.logger.Debug("JetStream stream already exists", "stream", StreamName)
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)
	_, err := p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Feed record change notifications per wallet",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// PublishUpdate forwards an engine update for the publisher's wallet.
func (p *JetStreamPublisher) PublishUpdate(ctx context.Context, u reconcile.Update) error {
	return p.PublishFeedUpdate(ctx, FromUpdate(p.wallet, u))
}

// PublishFeedUpdate publishes update with a content-derived message id so
// JetStream drops a retried publish of the same update.
func (p *JetStreamPublisher) PublishFeedUpdate(ctx context.Context, update *FeedUpdate) error {
	subject := Subject(update.Wallet)

	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal feed update: %w", err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(update.MsgID()))
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordNATSPublish(subject, status, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("failed to publish feed update: %w", err)
	}

	p.logger.Debug("published feed update",
		"subject", subject,
		"ids", len(update.IDs),
	)
	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
