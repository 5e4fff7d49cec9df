package receipt

import (
	"strings"
	"testing"

	"github.com/brojonat/walletfeed/service/feed"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	wallet   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	token    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	otpl     = common.HexToAddress("0x3333333333333333333333333333333333333333")
	ubi      = common.HexToAddress("0x4444444444444444444444444444444444444444")
	rewards  = common.HexToAddress("0x5555555555555555555555555555555555555555")
	stranger = common.HexToAddress("0x6666666666666666666666666666666666666666")
	zero     = "0x0000000000000000000000000000000000000000"
)

func testClassifier() *Classifier {
	return NewClassifier(Contracts{
		Token:           token,
		OneTimePayments: otpl,
		UBI:             []common.Address{ubi},
		Rewards:         []common.Address{rewards},
		Wallet:          wallet,
	})
}

func transfer(from, to string, value string) Log {
	return Log{
		Name:    EventTransfer,
		Address: token,
		Fields:  map[string]string{"from": from, "to": to, "value": value},
	}
}

func TestClassify(t *testing.T) {
	c := testClassifier()

	tests := []struct {
		name string
		r    Receipt
		want feed.TxType
	}{
		{
			name: "failed receipt",
			r:    Receipt{Status: false, Logs: []Log{transfer(wallet.Hex(), stranger.Hex(), "1")}},
			want: feed.TxError,
		},
		{
			name: "cancel wins over transfer",
			r: Receipt{Status: true, Logs: []Log{
				transfer(otpl.Hex(), wallet.Hex(), "10"),
				{Name: EventPaymentCancel, Address: otpl, Fields: map[string]string{"from": wallet.Hex(), "paymentId": "0xcode"}},
			}},
			want: feed.TxOTPLCancel,
		},
		{
			name: "withdraw",
			r: Receipt{Status: true, Logs: []Log{
				{Name: EventPaymentWithdraw, Address: otpl, Fields: map[string]string{"from": wallet.Hex(), "to": stranger.Hex()}},
			}},
			want: feed.TxOTPLWithdraw,
		},
		{
			name: "deposit event from wallet",
			r: Receipt{Status: true, Logs: []Log{
				{Name: EventPaymentDeposit, Address: otpl, Fields: map[string]string{"from": wallet.Hex(), "paymentId": "0xcode", "amount": "5"}},
			}},
			want: feed.TxOTPLDeposit,
		},
		{
			name: "deposit event by someone else falls through to transfers",
			r: Receipt{Status: true, Logs: []Log{
				{Name: EventPaymentDeposit, Address: otpl, Fields: map[string]string{"from": stranger.Hex()}},
			}},
			want: feed.TxUnknown,
		},
		{
			name: "ubi claimed event",
			r:    Receipt{Status: true, Logs: []Log{{Name: EventUBIClaimed, Address: ubi, Fields: map[string]string{"claimer": wallet.Hex(), "amount": "3"}}}},
			want: feed.TxClaim,
		},
		{
			name: "transfer into payment contract",
			r:    Receipt{Status: true, Logs: []Log{transfer(wallet.Hex(), otpl.Hex(), "7")}},
			want: feed.TxOTPLDeposit,
		},
		{
			name: "transfer from ubi contract",
			r:    Receipt{Status: true, Logs: []Log{transfer(ubi.Hex(), wallet.Hex(), "7")}},
			want: feed.TxClaim,
		},
		{
			name: "transfer from rewards contract",
			r:    Receipt{Status: true, Logs: []Log{transfer(rewards.Hex(), wallet.Hex(), "7")}},
			want: feed.TxReward,
		},
		{
			name: "mint from zero address",
			r:    Receipt{Status: true, Logs: []Log{transfer(zero, wallet.Hex(), "7")}},
			want: feed.TxMint,
		},
		{
			name: "receive",
			r:    Receipt{Status: true, Logs: []Log{transfer(stranger.Hex(), wallet.Hex(), "7")}},
			want: feed.TxReceive,
		},
		{
			name: "send",
			r:    Receipt{Status: true, Logs: []Log{transfer(wallet.Hex(), stranger.Hex(), "7")}},
			want: feed.TxSend,
		},
		{
			name: "addresses compare case-insensitively",
			r:    Receipt{Status: true, Logs: []Log{transfer(strings.ToUpper(stranger.Hex()[2:]), strings.ToLower(wallet.Hex()), "7")}},
			want: feed.TxReceive,
		},
		{
			name: "transfer on another token is ignored",
			r: Receipt{Status: true, Logs: []Log{{
				Name:    EventTransfer,
				Address: stranger,
				Fields:  map[string]string{"from": stranger.Hex(), "to": wallet.Hex(), "value": "1"},
			}}},
			want: feed.TxUnknown,
		},
		{
			name: "no logs",
			r:    Receipt{Status: true},
			want: feed.TxUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(&tt.r))
		})
	}
}

func TestExtract_LargestTransferWins(t *testing.T) {
	c := testClassifier()
	r := &Receipt{Status: true, Logs: []Log{
		transfer(stranger.Hex(), wallet.Hex(), "5"),
		transfer(stranger.Hex(), wallet.Hex(), "900"),
		transfer(stranger.Hex(), wallet.Hex(), "40"),
	}}
	r.Logs[1].Index = 1

	l, ok := c.Extract(feed.TxReceive, r)
	require.True(t, ok)
	assert.Equal(t, "900", l.Fields["value"])
	assert.Equal(t, uint(1), l.Index)
}

func TestExtract_TiesKeepLogOrder(t *testing.T) {
	c := testClassifier()
	r := &Receipt{Status: true, Logs: []Log{
		transfer(wallet.Hex(), stranger.Hex(), "10"),
		transfer(wallet.Hex(), ubi.Hex(), "10"),
	}}

	l, ok := c.Extract(feed.TxSend, r)
	require.True(t, ok)
	assert.Equal(t, stranger, l.To())
}

func TestExtract_PerType(t *testing.T) {
	c := testClassifier()
	cancel := Log{Name: EventPaymentCancel, Address: otpl, Fields: map[string]string{"paymentId": "0xc"}}
	withdraw := Log{Name: EventPaymentWithdraw, Address: otpl, Fields: map[string]string{"paymentId": "0xw"}}
	deposit := Log{Name: EventPaymentDeposit, Address: otpl, Fields: map[string]string{"from": wallet.Hex(), "paymentId": "0xd"}}
	claimed := Log{Name: EventUBIClaimed, Address: ubi, Fields: map[string]string{"claimer": wallet.Hex(), "amount": "8"}}
	reward := transfer(rewards.Hex(), wallet.Hex(), "3")

	r := &Receipt{Status: true, Logs: []Log{cancel, withdraw, deposit, claimed, reward}}

	l, ok := c.Extract(feed.TxOTPLCancel, r)
	require.True(t, ok)
	assert.Equal(t, "0xc", l.PaymentID())

	l, ok = c.Extract(feed.TxOTPLWithdraw, r)
	require.True(t, ok)
	assert.Equal(t, "0xw", l.PaymentID())

	l, ok = c.Extract(feed.TxOTPLDeposit, r)
	require.True(t, ok)
	assert.Equal(t, "0xd", l.PaymentID())

	l, ok = c.Extract(feed.TxClaim, r)
	require.True(t, ok)
	assert.Equal(t, EventUBIClaimed, l.Name)
	assert.Equal(t, wallet, l.To())

	l, ok = c.Extract(feed.TxReward, r)
	require.True(t, ok)
	assert.Equal(t, rewards, l.From())
}

func TestExtract_NoRule(t *testing.T) {
	c := testClassifier()
	r := &Receipt{Status: true, Logs: []Log{transfer(stranger.Hex(), wallet.Hex(), "1")}}

	_, ok := c.Extract(feed.TxUnknown, r)
	assert.False(t, ok)
	_, ok = c.Extract(feed.TxError, r)
	assert.False(t, ok)
}

func TestSnapshot(t *testing.T) {
	l := transfer(stranger.Hex(), wallet.Hex(), "0x10")
	ev := Snapshot("0xhash", l, true)

	assert.Equal(t, "0xhash", ev.TxHash)
	assert.Equal(t, EventTransfer, ev.Name)
	assert.Equal(t, token.Hex(), ev.EventSource)
	assert.Equal(t, stranger.Hex(), ev.From)
	assert.Equal(t, wallet.Hex(), ev.To)
	assert.Equal(t, "16", ev.Value)

	empty := Snapshot("0xhash", Log{}, false)
	assert.Equal(t, &feed.ReceiptEvent{TxHash: "0xhash"}, empty)
}
