package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
)

// Watch delivers new feed updates for wallet to fn until ctx is done. An
// empty wallet watches every wallet.
func Watch(ctx context.Context, natsURL, wallet string, logger *slog.Logger, fn func(*FeedUpdate)) error {
	nc, err := Connect(natsURL, "walletfeed-watch")
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	subject := StreamSubjects
	if wallet != "" {
		subject = Subject(wallet)
	}
	cons, err := js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		var update FeedUpdate
		if err := json.Unmarshal(msg.Data(), &update); err != nil {
			logger.Warn("failed to unmarshal feed update", "subject", msg.Subject(), "error", err)
		} else {
			fn(&update)
		}
		if err := msg.Ack(); err != nil {
			logger.Warn("failed to ack feed update", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	<-ctx.Done()
	return nil
}
