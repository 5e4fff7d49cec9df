package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brojonat/walletfeed/client"
	"github.com/brojonat/walletfeed/service/feed"
	"github.com/brojonat/walletfeed/service/reconcile"
	"github.com/urfave/cli/v2"
)

func feedCommands() *cli.Command {
	return &cli.Command{
		Name:  "feed",
		Usage: "Read and modify the feed through the server API",
		Subcommands: []*cli.Command{
			feedPageCommand(),
			feedGetCommand(),
			feedEnqueueCommand(),
			feedStatusCommand("status", "Set the status of a record", (*client.Client).UpdateStatus),
			feedStatusCommand("otpl-status", "Set the one-time payment link status of a record", (*client.Client).UpdateOTPLStatus),
			feedErrorCommand(),
			feedReprocessCommand(),
			feedWatchCommand(),
		},
	}
}

func feedClient(c *cli.Context) *client.Client {
	return client.NewClient(c.String("server-url"), nil, nil)
}

func printEvent(c *cli.Context, ev *feed.Event) error {
	if jsonOutput(c) {
		return output(c, ev)
	}
	printEvents(os.Stdout, []*feed.Event{ev})
	return nil
}

func feedPageCommand() *cli.Command {
	return &cli.Command{
		Name:  "page",
		Usage: "Fetch the next page of the feed",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"n"},
				Usage:   "Page size (1-100)",
				Value:   10,
			},
			&cli.BoolFlag{
				Name:  "reset",
				Usage: "Restart paging from the newest record",
			},
			&cli.StringFlag{
				Name:  "category",
				Usage: "Filter: all, transactions or rewards",
			},
		},
		Action: func(c *cli.Context) error {
			category, ok := feed.ParseCategory(c.String("category"))
			if !ok {
				return fmt.Errorf("invalid category %q", c.String("category"))
			}
			count := c.Int("count")
			if count < 1 || count > 100 {
				return fmt.Errorf("count must be between 1 and 100")
			}

			events, err := feedClient(c).Page(c.Context, client.PageOptions{
				Count:    count,
				Reset:    c.Bool("reset"),
				Category: category,
			})
			if err != nil {
				return fmt.Errorf("failed to fetch feed page: %w", err)
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

func feedGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one feed record",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, "record id")
			if err != nil {
				return err
			}
			ev, err := feedClient(c).Get(c.Context, id)
			if err != nil {
				return fmt.Errorf("failed to get record %s: %w", id, err)
			}
			return printEvent(c, ev)
		},
	}
}

func feedEnqueueCommand() *cli.Command {
	return &cli.Command{
		Name:  "enqueue",
		Usage: "Enqueue a locally initiated transaction",
		Description: `Adds a pending record to the feed before its receipt arrives.

The record is read as JSON from --file (use - for stdin) and may be overridden
with --id, --type and --status.

Example:
  walletfeed feed enqueue --id 0xabc... --type send --data '{"amount":"1000","reason":"rent"}'`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "JSON record file, - for stdin"},
			&cli.StringFlag{Name: "id", Usage: "Record id (transaction hash)"},
			&cli.StringFlag{Name: "type", Usage: "Feed item type"},
			&cli.StringFlag{Name: "status", Usage: "Initial status", Value: string(feed.StatusPending)},
			&cli.StringFlag{Name: "data", Usage: "Record data as a JSON object"},
		},
		Action: func(c *cli.Context) error {
			ev, err := buildEnqueueEvent(c.String("file"), os.Stdin, c.String("id"), c.String("type"), c.String("status"), c.String("data"))
			if err != nil {
				return err
			}
			created, err := feedClient(c).Enqueue(c.Context, ev)
			if errors.Is(err, client.ErrConflict) {
				return fmt.Errorf("record %s was not enqueued: it already exists or is being processed", ev.ID)
			}
			if err != nil {
				return fmt.Errorf("failed to enqueue record: %w", err)
			}
			return printEvent(c, created)
		},
	}
}

// buildEnqueueEvent assembles the record from an optional JSON file and flag
// overrides.
func buildEnqueueEvent(file string, stdin io.Reader, id, itemType, status, data string) (*feed.Event, error) {
	ev := &feed.Event{}
	if file != "" {
		var r io.Reader = stdin
		if file != "-" {
			f, err := os.Open(file)
			if err != nil {
				return nil, fmt.Errorf("failed to open %s: %w", file, err)
			}
			defer f.Close()
			r = f
		}
		if err := json.NewDecoder(r).Decode(ev); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
	}
	if id != "" {
		ev.ID = id
	}
	if itemType != "" {
		ev.Type = feed.ItemType(itemType)
	}
	if status != "" && ev.Status == "" {
		ev.Status = feed.Status(status)
	}
	if data != "" {
		var d feed.Data
		if err := json.Unmarshal([]byte(data), &d); err != nil {
			return nil, fmt.Errorf("failed to decode --data: %w", err)
		}
		ev.Data = ev.Data.Merge(d)
	}
	if ev.ID == "" {
		return nil, fmt.Errorf("record id is required")
	}
	if ev.Status != "" && !ev.Status.Valid() {
		return nil, fmt.Errorf("invalid status %q", ev.Status)
	}
	if ev.Date.IsZero() {
		ev.Date = time.Now().UTC()
	}
	return ev, nil
}

type statusFunc func(*client.Client, context.Context, string, feed.Status) (*feed.Event, error)

func feedStatusCommand(name, usage string, update statusFunc) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<id> <status>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("record id and status are required")
			}
			id := c.Args().Get(0)
			status := feed.Status(strings.ToLower(c.Args().Get(1)))
			if !status.Valid() {
				return fmt.Errorf("invalid status %q", status)
			}
			ev, err := update(feedClient(c), c.Context, id, status)
			if err != nil {
				return fmt.Errorf("failed to update record %s: %w", id, err)
			}
			return printEvent(c, ev)
		},
	}
}

func feedErrorCommand() *cli.Command {
	return &cli.Command{
		Name:      "error",
		Usage:     "Mark a record as failed",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, "record id")
			if err != nil {
				return err
			}
			if err := feedClient(c).MarkError(c.Context, id); err != nil {
				return fmt.Errorf("failed to mark record %s: %w", id, err)
			}
			fmt.Fprintf(os.Stderr, "Marked %s as error\n", id)
			return nil
		},
	}
}

func feedReprocessCommand() *cli.Command {
	return &cli.Command{
		Name:      "reprocess",
		Usage:     "Fetch a receipt from the chain and reconcile it",
		ArgsUsage: "<tx_hash>",
		Action: func(c *cli.Context) error {
			hash, err := requireArg(c, "transaction hash")
			if err != nil {
				return err
			}
			ev, err := feedClient(c).ProcessReceipt(c.Context, hash)
			if err != nil {
				return fmt.Errorf("failed to reprocess %s: %w", hash, err)
			}
			if ev == nil {
				return fmt.Errorf("no receipt found for %s", hash)
			}
			return printEvent(c, ev)
		},
	}
}

func feedWatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream feed updates from the server",
		Action: func(c *cli.Context) error {
			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			fmt.Fprintf(os.Stderr, "Streaming feed updates from %s (Ctrl+C to stop)\n", c.String("server-url"))
			err := feedClient(c).Stream(ctx, func(u reconcile.Update) {
				if jsonOutput(c) {
					if err := output(c, u); err != nil {
						fmt.Fprintf(os.Stderr, "output error: %v\n", err)
					}
					return
				}
				fmt.Printf("%s  %s\n", u.EmittedAt.Format(time.RFC3339), strings.Join(u.IDs, ", "))
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("stream failed: %w", err)
			}
			return nil
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check whether the server is ready",
		Action: func(c *cli.Context) error {
			if err := feedClient(c).Health(c.Context); err != nil {
				return fmt.Errorf("server not healthy: %w", err)
			}
			fmt.Println("OK")
			return nil
		},
	}
}

func requireArg(c *cli.Context, name string) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("%s is required", name)
	}
	return c.Args().Get(0), nil
}
