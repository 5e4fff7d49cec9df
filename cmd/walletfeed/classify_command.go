package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/brojonat/walletfeed/service/chain"
	"github.com/brojonat/walletfeed/service/feed"
	"github.com/brojonat/walletfeed/service/receipt"
	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
)

// classification is the result printed by the classify command.
type classification struct {
	TxHash      string             `json:"txHash"`
	BlockNumber uint64             `json:"blockNumber"`
	Succeeded   bool               `json:"succeeded"`
	TxType      feed.TxType        `json:"txType"`
	ItemType    feed.ItemType      `json:"itemType,omitempty"`
	Event       *feed.ReceiptEvent `json:"event"`
	Logs        []receipt.Log      `json:"logs"`
}

func classifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "classify",
		Usage:     "Fetch a receipt from the chain and show how it would be classified",
		ArgsUsage: "<tx_hash>",
		Description: `Reads the receipt straight from the RPC node, decodes its logs and runs
the classifier without touching the feed.

Example:
  walletfeed classify 0x5c50... --wallet 0xabc... --token-contract 0xdef... --jq .txType`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "eth-rpc-url", Usage: "Ethereum RPC URL", EnvVars: []string{"ETH_RPC_URL"}, Required: true},
			&cli.StringFlag{Name: "token-contract", EnvVars: []string{"TOKEN_CONTRACT"}, Usage: "Token contract address"},
			&cli.StringFlag{Name: "otpl-contract", EnvVars: []string{"ONE_TIME_PAYMENTS_CONTRACT"}, Usage: "One-time payments contract address"},
			&cli.StringFlag{Name: "identity-contract", EnvVars: []string{"IDENTITY_CONTRACT"}, Usage: "Identity contract address"},
			&cli.StringSliceFlag{Name: "ubi-contract", EnvVars: []string{"UBI_CONTRACTS"}, Usage: "UBI contract address (repeatable)"},
			&cli.StringSliceFlag{Name: "rewards-contract", EnvVars: []string{"REWARDS_CONTRACTS"}, Usage: "Rewards contract address (repeatable)"},
		},
		Action: func(c *cli.Context) error {
			hash, err := requireArg(c, "transaction hash")
			if err != nil {
				return err
			}
			contracts, err := contractsFromFlags(c)
			if err != nil {
				return err
			}

			rpc, err := chain.Dial(c.Context, c.String("eth-rpc-url"))
			if err != nil {
				return err
			}
			defer rpc.Close()

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			cc, err := chain.NewClient(rpc, contracts, chain.Options{}, nil, logger)
			if err != nil {
				return err
			}
			r, err := cc.GetReceiptWithLogs(c.Context, hash)
			if err != nil {
				return fmt.Errorf("failed to fetch receipt: %w", err)
			}
			if r == nil {
				return fmt.Errorf("no receipt found for %s", hash)
			}

			result := classify(receipt.NewClassifier(contracts), r)
			if jsonOutput(c) {
				return output(c, result)
			}
			printClassification(os.Stdout, result)
			return nil
		},
	}
}

func classify(cl *receipt.Classifier, r *receipt.Receipt) classification {
	txType := cl.Classify(r)
	l, ok := cl.Extract(txType, r)
	return classification{
		TxHash:      r.TxHash,
		BlockNumber: r.BlockNumber,
		Succeeded:   r.Status,
		TxType:      txType,
		ItemType:    feed.ItemTypeFor(txType, ""),
		Event:       receipt.Snapshot(r.TxHash, l, ok),
		Logs:        r.Logs,
	}
}

func contractsFromFlags(c *cli.Context) (receipt.Contracts, error) {
	var contracts receipt.Contracts
	single := []struct {
		flag string
		dst  *common.Address
	}{
		{"wallet", &contracts.Wallet},
		{"token-contract", &contracts.Token},
		{"otpl-contract", &contracts.OneTimePayments},
		{"identity-contract", &contracts.Identity},
	}
	for _, s := range single {
		v := c.String(s.flag)
		if v == "" {
			continue
		}
		if !common.IsHexAddress(v) {
			return contracts, fmt.Errorf("--%s: invalid address %q", s.flag, v)
		}
		*s.dst = common.HexToAddress(v)
	}
	for _, flag := range []string{"ubi-contract", "rewards-contract"} {
		for _, v := range c.StringSlice(flag) {
			if v == "" {
				continue
			}
			if !common.IsHexAddress(v) {
				return contracts, fmt.Errorf("--%s: invalid address %q", flag, v)
			}
			if flag == "ubi-contract" {
				contracts.UBI = append(contracts.UBI, common.HexToAddress(v))
			} else {
				contracts.Rewards = append(contracts.Rewards, common.HexToAddress(v))
			}
		}
	}
	if contracts.Wallet == (common.Address{}) {
		return contracts, fmt.Errorf("wallet address is required (set WALLET_ADDRESS or use --wallet)")
	}
	return contracts, nil
}

func printClassification(w io.Writer, result classification) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Tx Hash:\t%s\n", result.TxHash)
	fmt.Fprintf(tw, "Block:\t%d\n", result.BlockNumber)
	fmt.Fprintf(tw, "Succeeded:\t%t\n", result.Succeeded)
	fmt.Fprintf(tw, "Tx Type:\t%s\n", result.TxType)
	fmt.Fprintf(tw, "Item Type:\t%s\n", orDash(string(result.ItemType)))
	if ev := result.Event; ev != nil && ev.Name != "" {
		fmt.Fprintf(tw, "Event:\t%s (%s)\n", ev.Name, ev.EventSource)
		fmt.Fprintf(tw, "From:\t%s\n", orDash(ev.From))
		fmt.Fprintf(tw, "To:\t%s\n", orDash(ev.To))
		fmt.Fprintf(tw, "Amount:\t%s\n", formatAmount(ev.Value))
		if ev.PaymentID != "" {
			fmt.Fprintf(tw, "Payment ID:\t%s\n", ev.PaymentID)
		}
	}
	tw.Flush()

	fmt.Fprintf(w, "\nLogs (%d):\n", len(result.Logs))
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tNAME\tADDRESS")
	for _, l := range result.Logs {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", l.Index, l.Name, l.Address.Hex())
	}
	tw.Flush()
}
