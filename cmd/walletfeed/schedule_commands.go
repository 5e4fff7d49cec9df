package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/walletfeed/service/temporal"
	"github.com/urfave/cli/v2"
)

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		logger,
	)
}

func requireWallet(c *cli.Context) (string, error) {
	wallet := c.String("wallet")
	if wallet == "" {
		return "", fmt.Errorf("wallet address is required (set WALLET_ADDRESS or use --wallet)")
	}
	return wallet, nil
}

func scheduleCreateCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create or update the repair schedule of a wallet",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "interval", Usage: "Time between repair runs", Value: 5 * time.Minute},
			&cli.IntFlag{Name: "batch-size", Usage: "Unconfirmed records checked per run", Value: 50},
		},
		Action: func(c *cli.Context) error {
			wallet, err := requireWallet(c)
			if err != nil {
				return err
			}
			interval := c.Duration("interval")
			if interval < time.Second {
				return fmt.Errorf("interval must be at least 1s")
			}
			if c.Int("batch-size") <= 0 {
				return fmt.Errorf("batch-size must be positive")
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.UpsertRepairSchedule(c.Context, wallet, interval, c.Int("batch-size")); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Repair schedule for %s runs every %s\n", wallet, interval)
			return nil
		},
	}
}

func scheduleDeleteCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Delete the repair schedule of a wallet",
		Action: func(c *cli.Context) error {
			wallet, err := requireWallet(c)
			if err != nil {
				return err
			}
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.DeleteRepairSchedule(c.Context, wallet); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Repair schedule for %s deleted\n", wallet)
			return nil
		},
	}
}

func scheduleTriggerCommand() *cli.Command {
	return &cli.Command{
		Name:  "trigger",
		Usage: "Run the repair workflow of a wallet now",
		Action: func(c *cli.Context) error {
			wallet, err := requireWallet(c)
			if err != nil {
				return err
			}
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.TriggerRepair(c.Context, wallet); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Repair run for %s triggered\n", wallet)
			return nil
		},
	}
}
