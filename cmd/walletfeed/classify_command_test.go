package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/brojonat/walletfeed/service/feed"
	"github.com/brojonat/walletfeed/service/receipt"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

var (
	testWallet = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testToken  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testSender = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func TestClassify(t *testing.T) {
	cl := receipt.NewClassifier(receipt.Contracts{Wallet: testWallet, Token: testToken})

	tests := []struct {
		name      string
		receipt   *receipt.Receipt
		wantType  feed.TxType
		wantItem  feed.ItemType
		wantEvent bool
	}{
		{
			name: "incoming transfer",
			receipt: &receipt.Receipt{
				TxHash: "0xaaa",
				Status: true,
				Logs: []receipt.Log{{
					Name:    receipt.EventTransfer,
					Address: testToken,
					Fields:  map[string]string{"from": testSender.Hex(), "to": testWallet.Hex(), "value": "1000000000000000000"},
				}},
			},
			wantType:  feed.TxReceive,
			wantItem:  feed.ItemReceive,
			wantEvent: true,
		},
		{
			name:     "reverted",
			receipt:  &receipt.Receipt{TxHash: "0xbbb"},
			wantType: feed.TxError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := classify(cl, tt.receipt)
			assert.Equal(t, tt.wantType, result.TxType)
			assert.Equal(t, tt.receipt.TxHash, result.TxHash)
			require.NotNil(t, result.Event)
			if tt.wantItem != "" {
				assert.Equal(t, tt.wantItem, result.ItemType)
			}
			if tt.wantEvent {
				assert.Equal(t, receipt.EventTransfer, result.Event.Name)
				assert.Equal(t, testSender.Hex(), result.Event.From)

				var buf bytes.Buffer
				printClassification(&buf, result)
				assert.Contains(t, buf.String(), "Amount:")
				assert.Contains(t, buf.String(), " 1\n")
			}
		})
	}
}

func TestContractsFromFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
		check   func(t *testing.T, c receipt.Contracts)
	}{
		{
			name: "all addresses",
			args: []string{
				"--wallet", testWallet.Hex(),
				"--token-contract", testToken.Hex(),
				"--ubi-contract", testSender.Hex(),
				"--rewards-contract", testSender.Hex(),
				"--rewards-contract", testToken.Hex(),
			},
			check: func(t *testing.T, c receipt.Contracts) {
				assert.Equal(t, testWallet, c.Wallet)
				assert.Equal(t, testToken, c.Token)
				assert.Equal(t, []common.Address{testSender}, c.UBI)
				assert.Len(t, c.Rewards, 2)
			},
		},
		{
			name:    "wallet required",
			args:    []string{"--token-contract", testToken.Hex()},
			wantErr: "wallet address is required",
		},
		{
			name:    "invalid address",
			args:    []string{"--wallet", testWallet.Hex(), "--otpl-contract", "0x12"},
			wantErr: "--otpl-contract",
		},
		{
			name:    "invalid list address",
			args:    []string{"--wallet", testWallet.Hex(), "--ubi-contract", "nope"},
			wantErr: "--ubi-contract",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"WALLET_ADDRESS", "TOKEN_CONTRACT", "ONE_TIME_PAYMENTS_CONTRACT", "IDENTITY_CONTRACT", "UBI_CONTRACTS", "REWARDS_CONTRACTS"} {
				t.Setenv(key, "")
				os.Unsetenv(key)
			}

			var (
				got    receipt.Contracts
				gotErr error
			)
			cmd := classifyCommand()
			flags := append([]cli.Flag{&cli.StringFlag{Name: "wallet"}}, cmd.Flags...)
			for _, f := range flags {
				if sf, ok := f.(*cli.StringFlag); ok && sf.Name == "eth-rpc-url" {
					sf.Required = false
				}
			}
			app := &cli.App{
				Flags: flags,
				Action: func(c *cli.Context) error {
					got, gotErr = contractsFromFlags(c)
					return nil
				},
			}
			require.NoError(t, app.Run(append([]string{"test"}, tt.args...)))
			if tt.wantErr != "" {
				require.Error(t, gotErr)
				assert.Contains(t, gotErr.Error(), tt.wantErr)
				return
			}
			require.NoError(t, gotErr)
			tt.check(t, got)
		})
	}
}
