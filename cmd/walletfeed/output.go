package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/walletfeed/service/feed"
	"github.com/itchyny/gojq"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

// tokenDecimals is the precision of the token amounts printed in tables.
const tokenDecimals = 18

// jsonOutput reports whether the command should print JSON.
func jsonOutput(c *cli.Context) bool {
	return c.Bool("json") || c.String("jq") != ""
}

// output prints v as JSON, filtered through --jq when set.
func output(c *cli.Context, v any) error {
	return writeOutput(os.Stdout, c.String("jq"), v)
}

func writeOutput(w io.Writer, expr string, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if expr == "" {
		return enc.Encode(v)
	}

	query, err := gojq.Parse(expr)
	if err != nil {
		return fmt.Errorf("failed to parse jq expression %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return fmt.Errorf("failed to compile jq expression %q: %w", expr, err)
	}

	// gojq works on plain JSON values.
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return fmt.Errorf("failed to unmarshal output: %w", err)
	}

	iter := code.Run(input)
	for {
		result, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := result.(error); isErr {
			return fmt.Errorf("jq: %w", err)
		}
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
}

// formatAmount renders a base-10 integer amount in token units.
func formatAmount(raw string) string {
	if raw == "" {
		return "-"
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return raw
	}
	return decimal.NewFromBigInt(n, -tokenDecimals).String()
}

func printEvents(w io.Writer, events []*feed.Event) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tTX TYPE\tSTATUS\tOTPL\tAMOUNT\tCOUNTERPARTY\tDATE\tRECEIPT")
	for _, ev := range events {
		counterparty := ev.Data.CounterPartyFullName
		if counterparty == "" {
			counterparty = ev.Data.CounterPartyAddress
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			ev.ID,
			orDash(string(ev.Type)),
			orDash(string(ev.TxType)),
			orDash(string(ev.Status)),
			orDash(string(ev.OTPLStatus)),
			formatAmount(ev.Data.Amount),
			orDash(counterparty),
			ev.Date.Format(time.RFC3339),
			ev.ReceiptReceived,
		)
	}
	tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
