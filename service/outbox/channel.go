// Package outbox carries sender metadata that is not on chain (memo,
// category, invoice details) to the receiver through sealed store entries.
package outbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/brojonat/walletfeed/service/feed"
	"github.com/brojonat/walletfeed/service/metrics"
)

// AllowedFields are the payload fields a sender shares with the receiver.
var AllowedFields = []string{
	"reason",
	"category",
	"amount",
	"senderEmail",
	"senderName",
	"invoiceId",
	"sellerWebsite",
	"sellerName",
}

// KeyDirectory discovers the outbox public key of an address.
type KeyDirectory interface {
	GetUserProfilePublicKey(ctx context.Context, address string) (string, error)
}

// Store holds sealed entries keyed by recipient key and transaction id.
// GetFromOutbox returns "" when there is no entry.
type Store interface {
	AddToOutbox(ctx context.Context, recipientKey, txID, ciphertext string) error
	GetFromOutbox(ctx context.Context, recipientKey, txID string) (string, error)
}

// Channel publishes metadata for outgoing transfers and reads it back for
// incoming ones.
type Channel struct {
	keys    KeyDirectory
	store   Store
	local   KeyPair
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewChannel creates a Channel. local is this wallet's profile key pair.
func NewChannel(keys KeyDirectory, store Store, local KeyPair, m *metrics.Metrics, logger *slog.Logger) *Channel {
	return &Channel{
		keys:    keys,
		store:   store,
		local:   local,
		metrics: m,
		logger:  logger,
	}
}

// Publish seals the allow-listed fields of ev for its recipient. Recipients
// without a published key are skipped.
func (c *Channel) Publish(ctx context.Context, ev *feed.Event) error {
	recipient := ev.Data.To
	if recipient == "" {
		c.metrics.RecordOutbox("publish", "skipped")
		return nil
	}

	key, err := c.keys.GetUserProfilePublicKey(ctx, recipient)
	if err != nil {
		c.metrics.RecordOutbox("publish", "error")
		return fmt.Errorf("failed to get public key for %s: %w", recipient, err)
	}
	if key == "" {
		c.logger.Debug("recipient has no outbox key, skipping", "tx_id", ev.ID, "recipient", recipient)
		c.metrics.RecordOutbox("publish", "skipped")
		return nil
	}

	pub, err := ParseKey(key)
	if err != nil {
		c.metrics.RecordOutbox("publish", "error")
		return fmt.Errorf("invalid public key for %s: %w", recipient, err)
	}

	payload := make(map[string]any, len(AllowedFields))
	for _, field := range AllowedFields {
		if v, ok := ev.Data.Get(field); ok {
			payload[field] = v
		}
	}
	msg, err := json.Marshal(payload)
	if err != nil {
		c.metrics.RecordOutbox("publish", "error")
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	sealed, err := Seal(msg, pub)
	if err != nil {
		c.metrics.RecordOutbox("publish", "error")
		return fmt.Errorf("failed to seal outbox payload: %w", err)
	}

	if err := c.store.AddToOutbox(ctx, key, ev.ID, base64.StdEncoding.EncodeToString(sealed)); err != nil {
		c.metrics.RecordOutbox("publish", "error")
		return fmt.Errorf("failed to store outbox entry: %w", err)
	}

	c.metrics.RecordOutbox("publish", "success")
	c.logger.Debug("published outbox entry", "tx_id", ev.ID, "recipient", recipient)
	return nil
}

// Applicable reports whether ev still needs its outbox metadata.
func Applicable(ev *feed.Event) bool {
	return ev.TxType == feed.TxReceive && !ev.FetchedOutbox && !ev.Data.HasMetadata()
}

// Fetch returns the metadata the sender left for ev. The result is empty when
// ev is not an unmerged receive, when nothing was left, or on failure.
func (c *Channel) Fetch(ctx context.Context, ev *feed.Event) (feed.Data, error) {
	if !Applicable(ev) {
		return feed.Data{}, nil
	}

	ciphertext, err := c.store.GetFromOutbox(ctx, c.local.PublicKey(), ev.ID)
	if err != nil {
		c.metrics.RecordOutbox("fetch", "error")
		return feed.Data{}, fmt.Errorf("failed to read outbox entry: %w", err)
	}
	if ciphertext == "" {
		c.metrics.RecordOutbox("fetch", "empty")
		return feed.Data{}, nil
	}

	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		c.metrics.RecordOutbox("fetch", "error")
		return feed.Data{}, fmt.Errorf("failed to decode outbox entry: %w", err)
	}
	msg, err := c.local.Open(sealed)
	if err != nil {
		c.metrics.RecordOutbox("fetch", "error")
		return feed.Data{}, err
	}

	var payload map[string]any
	if err := json.Unmarshal(msg, &payload); err != nil {
		c.metrics.RecordOutbox("fetch", "error")
		return feed.Data{}, fmt.Errorf("failed to unmarshal outbox payload: %w", err)
	}

	allowed := make(map[string]any, len(AllowedFields))
	for _, field := range AllowedFields {
		if v, ok := payload[field]; ok {
			allowed[field] = v
		}
	}
	data, err := feed.DataFromMap(allowed)
	if err != nil {
		c.metrics.RecordOutbox("fetch", "error")
		return feed.Data{}, fmt.Errorf("failed to decode outbox payload: %w", err)
	}

	c.metrics.RecordOutbox("fetch", "success")
	return data, nil
}
