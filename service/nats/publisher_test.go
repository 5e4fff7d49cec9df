package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/brojonat/walletfeed/service/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ reconcile.UpdatePublisher = (*JetStreamPublisher)(nil)
var _ reconcile.UpdatePublisher = (*MockPublisher)(nil)
var _ Publisher = (*JetStreamPublisher)(nil)
var _ Publisher = (*MockPublisher)(nil)

func TestSubject(t *testing.T) {
	assert.Equal(t, "feed.0xabcdef", Subject("0xABCdef"))
}

func TestFeedUpdateJSON(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	update := FromUpdate("0xABC", reconcile.Update{IDs: []string{"0x1", "0x2"}, EmittedAt: at})

	data, err := json.Marshal(update)
	require.NoError(t, err)
	assert.JSONEq(t, `{"wallet":"0xabc","ids":["0x1","0x2"],"emitted_at":"2024-05-01T12:00:00Z"}`, string(data))
}

func TestFeedUpdateMsgID(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	base := &FeedUpdate{Wallet: "0xabc", IDs: []string{"0x1", "0x2"}, EmittedAt: at}

	tests := []struct {
		name   string
		update *FeedUpdate
		same   bool
	}{
		{name: "identical", update: &FeedUpdate{Wallet: "0xabc", IDs: []string{"0x1", "0x2"}, EmittedAt: at}, same: true},
		{name: "ids reordered", update: &FeedUpdate{Wallet: "0xabc", IDs: []string{"0x2", "0x1"}, EmittedAt: at}, same: true},
		{name: "wallet case", update: &FeedUpdate{Wallet: "0xABC", IDs: []string{"0x1", "0x2"}, EmittedAt: at}, same: true},
		{name: "other ids", update: &FeedUpdate{Wallet: "0xabc", IDs: []string{"0x1"}, EmittedAt: at}},
		{name: "other time", update: &FeedUpdate{Wallet: "0xabc", IDs: []string{"0x1", "0x2"}, EmittedAt: at.Add(time.Millisecond)}},
		{name: "other wallet", update: &FeedUpdate{Wallet: "0xdef", IDs: []string{"0x1", "0x2"}, EmittedAt: at}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.same {
				assert.Equal(t, base.MsgID(), tt.update.MsgID())
			} else {
				assert.NotEqual(t, base.MsgID(), tt.update.MsgID())
			}
		})
	}

	ids := []string{"0x2", "0x1"}
	u := &FeedUpdate{Wallet: "0xabc", IDs: ids, EmittedAt: at}
	_ = u.MsgID()
	assert.Equal(t, []string{"0x2", "0x1"}, ids, "ids are not sorted in place")
}

func TestMockPublisher(t *testing.T) {
	m := NewMockPublisher("0xWallet")
	ctx := context.Background()

	require.NoError(t, m.PublishUpdate(ctx, reconcile.Update{IDs: []string{"0x1"}}))
	published := m.GetPublished()
	require.Len(t, published, 1)
	assert.Equal(t, "0xwallet", published[0].Wallet)

	m.SetPublishError(errors.New("down"))
	require.Error(t, m.PublishUpdate(ctx, reconcile.Update{IDs: []string{"0x2"}}))
	assert.Len(t, m.GetPublished(), 1)

	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())
}
