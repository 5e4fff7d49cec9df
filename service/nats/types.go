package nats

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/walletfeed/service/reconcile"
	"github.com/google/uuid"
)

// FeedUpdate tells subscribers which feed records of a wallet changed.
// It is published to the subject "feed.{wallet}".
type FeedUpdate struct {
	Wallet    string    `json:"wallet"`
	IDs       []string  `json:"ids"`
	EmittedAt time.Time `json:"emitted_at"`
}

// FromUpdate wraps an engine update for wallet.
func FromUpdate(wallet string, u reconcile.Update) *FeedUpdate {
	return &FeedUpdate{
		Wallet:    strings.ToLower(wallet),
		IDs:       u.IDs,
		EmittedAt: u.EmittedAt,
	}
}

// MsgID derives the JetStream dedup id from the update's content. Retried
// publishes of the same update carry the same id; the order of IDs does not
// matter.
func (u *FeedUpdate) MsgID() string {
	ids := slices.Clone(u.IDs)
	slices.Sort(ids)
	key := strings.ToLower(u.Wallet) + "|" +
		strconv.FormatInt(u.EmittedAt.UnixNano(), 10) + "|" +
		strings.Join(ids, ",")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// Subject returns the subject updates for wallet are published on.
func Subject(wallet string) string {
	return fmt.Sprintf("feed.%s", strings.ToLower(wallet))
}
