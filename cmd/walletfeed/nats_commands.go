package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	natspkg "github.com/brojonat/walletfeed/service/nats"
	"github.com/urfave/cli/v2"
)

func natsWatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Watch feed update notifications published to NATS",
		Description: `Streams FeedUpdate messages from the FEED_UPDATES JetStream stream.

Updates are published to feed.{wallet}. Without --wallet every wallet is
watched.

Example:
  walletfeed nats watch --wallet 0xabc... --jq '.ids[]'`,
		Action: func(c *cli.Context) error {
			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			wallet := c.String("wallet")
			subject := "feed.>"
			if wallet != "" {
				subject = natspkg.Subject(wallet)
			}
			fmt.Fprintf(os.Stderr, "Watching %s on %s (Ctrl+C to stop)\n", subject, c.String("nats-url"))

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			err := natspkg.Watch(ctx, c.String("nats-url"), wallet, logger, func(u *natspkg.FeedUpdate) {
				if jsonOutput(c) {
					if err := output(c, u); err != nil {
						fmt.Fprintf(os.Stderr, "output error: %v\n", err)
					}
					return
				}
				fmt.Printf("%s  %s  %s\n", u.EmittedAt.Format(time.RFC3339), u.Wallet, strings.Join(u.IDs, ", "))
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
