package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "walletfeed",
		Usage: "Wallet feed reconciliation service CLI",
		Description: `A command-line tool for operating the walletfeed service.

Use it to read and modify the feed through the HTTP API, classify receipts
straight from the chain, inspect the database, manage the repair schedule,
and watch update notifications.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			feedCommands(),
			classifyCommand(),
			{
				Name:  "db",
				Usage: "Database inspection commands",
				Subcommands: []*cli.Command{
					dbGetCommand(),
					dbPageCommand(),
					dbUnconfirmedCommand(),
					dbMigrateCommand(),
				},
			},
			{
				Name:  "keys",
				Usage: "Outbox key pair commands",
				Subcommands: []*cli.Command{
					keysGenerateCommand(),
				},
			},
			{
				Name:  "schedule",
				Usage: "Temporal repair schedule commands",
				Subcommands: []*cli.Command{
					scheduleCreateCommand(),
					scheduleDeleteCommand(),
					scheduleTriggerCommand(),
				},
			},
			{
				Name:  "nats",
				Usage: "NATS feed update commands",
				Subcommands: []*cli.Command{
					natsWatchCommand(),
				},
			},
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
				},
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "walletfeed server URL",
				EnvVars: []string{"WALLETFEED_SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue of the repair worker",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "walletfeed-repair",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:    "wallet",
				Usage:   "Wallet address",
				EnvVars: []string{"WALLET_ADDRESS"},
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq expression applied to the JSON output (implies --json)",
			},
		},
	}
}
