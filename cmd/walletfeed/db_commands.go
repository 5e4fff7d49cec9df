package main

import (
	"context"
	"fmt"
	"os"

	"github.com/brojonat/walletfeed/service/db"
	"github.com/brojonat/walletfeed/service/feed"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func dbGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Read one feed record straight from the database",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, "record id")
			if err != nil {
				return err
			}
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ev, err := store.Read(c.Context, id)
			if err != nil {
				return fmt.Errorf("failed to read record: %w", err)
			}
			if ev == nil {
				return fmt.Errorf("record %s not found", id)
			}
			return printEvent(c, ev)
		},
	}
}

func dbPageCommand() *cli.Command {
	return &cli.Command{
		Name:  "page",
		Usage: "List stored feed records, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Usage: "Number of records", Value: 20},
			&cli.IntFlag{Name: "offset", Usage: "Records to skip"},
			&cli.StringFlag{Name: "category", Usage: "Filter: all, transactions or rewards"},
		},
		Action: func(c *cli.Context) error {
			category, ok := feed.ParseCategory(c.String("category"))
			if !ok {
				return fmt.Errorf("invalid category %q", c.String("category"))
			}
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			events, err := store.GetFeedPage(c.Context, c.Int("count"), c.Int("offset"), category)
			if err != nil {
				return fmt.Errorf("failed to read feed page: %w", err)
			}
			if jsonOutput(c) {
				return output(c, events)
			}
			printEvents(os.Stdout, events)
			fmt.Fprintf(os.Stderr, "\nTotal: %d records\n", len(events))
			return nil
		},
	}
}

func dbUnconfirmedCommand() *cli.Command {
	return &cli.Command{
		Name:  "unconfirmed",
		Usage: "List on-chain records still waiting for a receipt",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "Maximum number of ids", Value: 50},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ids, err := store.ListUnconfirmed(c.Context, c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to list unconfirmed records: %w", err)
			}
			if jsonOutput(c) {
				return output(c, ids)
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			fmt.Fprintf(os.Stderr, "\nTotal: %d unconfirmed\n", len(ids))
			return nil
		},
	}
}

func dbMigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := db.Migrate(c.Context, store.Pool()); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "Migrations applied")
			return nil
		},
	}
}

// getStore opens a Postgres store from --database-url.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db.NewStore(pool, nil), pool.Close, nil
}
