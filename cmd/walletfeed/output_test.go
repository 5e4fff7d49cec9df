package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/brojonat/walletfeed/service/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteOutput(t *testing.T) {
	events := []*feed.Event{
		{ID: "0x1", TxType: feed.TxReceive, Status: feed.StatusCompleted, Data: feed.Data{Amount: "100"}},
		{ID: "0x2", TxType: feed.TxSend, Status: feed.StatusPending},
	}

	tests := []struct {
		name    string
		expr    string
		want    string
		wantErr bool
	}{
		{
			name: "no filter prints indented json",
			expr: "",
			want: "[\n  {\n",
		},
		{
			name: "select ids",
			expr: ".[].id",
			want: "\"0x1\"\n\"0x2\"\n",
		},
		{
			name: "filter by status",
			expr: `[.[] | select(.status == "pending") | .id]`,
			want: "[\n  \"0x2\"\n]\n",
		},
		{
			name: "nested data field",
			expr: ".[0].data.amount",
			want: "\"100\"\n",
		},
		{
			name:    "parse error",
			expr:    ".[",
			wantErr: true,
		},
		{
			name:    "runtime error",
			expr:    `error("boom")`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := writeOutput(&buf, tt.expr, events)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.expr == "" {
				assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte(tt.want)), buf.String())
				return
			}
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", "-"},
		{"0", "0"},
		{"1000000000000000000", "1"},
		{"1500000000000000000", "1.5"},
		{"1", "0.000000000000000001"},
		{"123456789000000000000", "123.456789"},
		{"not-a-number", "not-a-number"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, formatAmount(tt.raw))
		})
	}
}

func TestPrintEvents(t *testing.T) {
	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printEvents(&buf, []*feed.Event{
		{
			ID:     "0xabc",
			Type:   feed.ItemReceive,
			TxType: feed.TxReceive,
			Status: feed.StatusCompleted,
			Date:   date,
			Data: feed.Data{
				Amount:               "2000000000000000000",
				CounterPartyFullName: "Alice",
			},
			ReceiptReceived: true,
		},
		{ID: "0xdef", Date: date, Data: feed.Data{CounterPartyAddress: "0x1234"}},
	})

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "0xabc")
	assert.Contains(t, out, "Alice")
	assert.Contains(t, out, "2024-03-01T12:00:00Z")
	assert.Contains(t, out, "0x1234")
	assert.Contains(t, out, "true")
}
