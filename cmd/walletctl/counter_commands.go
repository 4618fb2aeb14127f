package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/brojonat/counterwallet/client"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func countCommand() *cli.Command {
	return &cli.Command{
		Name:  "count",
		Usage: "Read the counter value",
		Action: func(c *cli.Context) error {
			count, err := newClient(c).Count(c.Context)
			if err != nil {
				return fmt.Errorf("failed to read counter: %w", err)
			}
			if c.Bool("json") {
				return printJSON(os.Stdout, map[string]string{"count": count})
			}
			fmt.Println(count)
			return nil
		},
	}
}

func incrementCommand() *cli.Command {
	return &cli.Command{
		Name:  "increment",
		Usage: "Submit an increment and wait for confirmation",
		Action: func(c *cli.Context) error {
			return runCounterAction(c, "increment", newClient(c).Increment)
		},
	}
}

func decrementCommand() *cli.Command {
	return &cli.Command{
		Name:  "decrement",
		Usage: "Submit a decrement and wait for confirmation",
		Action: func(c *cli.Context) error {
			return runCounterAction(c, "decrement", newClient(c).Decrement)
		},
	}
}

func runCounterAction(c *cli.Context, name string, invoke func(context.Context) (*client.ActionResult, error)) error {
	jsonOutput := c.Bool("json")
	if !jsonOutput {
		fmt.Fprintf(os.Stderr, "Submitting %s, waiting for confirmation...\n", name)
	}

	result, err := invoke(c.Context)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", name, err)
	}

	if jsonOutput {
		return printJSON(os.Stdout, result)
	}
	if result.OK {
		fmt.Printf("✓ %s confirmed\n", name)
	} else {
		fmt.Printf("✗ %s failed\n", name)
	}
	printState(os.Stdout, &result.State)
	if !result.OK {
		return cli.Exit("", 1)
	}
	return nil
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:    "history",
		Aliases: []string{"txns", "tx"},
		Usage:   "List tracked transactions, most recent first",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "status",
				Usage: "Filter by status: pending, success, failed",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of transactions to list",
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter each transaction must satisfy (repeatable, all must be truthy)",
			},
		},
		Action: func(c *cli.Context) error {
			codes, err := compileFilters(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			txns, err := newClient(c).Transactions(c.Context, client.ListOptions{
				Status: c.String("status"),
				Limit:  c.Int("limit"),
			})
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			matched := make([]client.Transaction, 0, len(txns.History))
			for _, tx := range txns.History {
				ok, err := matchesAll(codes, tx)
				if err != nil {
					return err
				}
				if ok {
					matched = append(matched, tx)
				}
			}

			if c.Bool("json") {
				return printJSON(os.Stdout, matched)
			}
			printTransactions(os.Stdout, matched)
			return nil
		},
	}
}

func txCommand() *cli.Command {
	return &cli.Command{
		Name:      "tx",
		Usage:     "Show one tracked transaction",
		ArgsUsage: "<hash>",
		Action: func(c *cli.Context) error {
			hash := c.Args().First()
			if hash == "" {
				return fmt.Errorf("transaction hash is required")
			}
			tx, err := newClient(c).Transaction(c.Context, hash)
			if err != nil {
				return fmt.Errorf("failed to get transaction: %w", err)
			}
			if c.Bool("json") {
				return printJSON(os.Stdout, tx)
			}
			printTransactions(os.Stdout, []client.Transaction{*tx})
			if tx.ExplorerURL != "" {
				fmt.Printf("Explorer: %s\n", tx.ExplorerURL)
			}
			return nil
		},
	}
}

func networksCommand() *cli.Command {
	return &cli.Command{
		Name:  "networks",
		Usage: "List known networks and their counter contracts",
		Action: func(c *cli.Context) error {
			list, err := newClient(c).Networks(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list networks: %w", err)
			}
			if c.Bool("json") {
				return printJSON(os.Stdout, list)
			}
			fmt.Printf("%-10s %-20s %-6s %-8s %s\n", "CHAIN ID", "NAME", "SYMBOL", "TESTNET", "CONTRACT")
			for _, n := range list {
				testnet := "no"
				if n.Testnet {
					testnet = "yes"
				}
				fmt.Printf("%-10d %-20s %-6s %-8s %s\n", n.ChainID, n.Name, n.CurrencySymbol, testnet, n.CounterContract)
			}
			return nil
		},
	}
}

// compileFilters parses and compiles jq filters.
func compileFilters(filters []string) ([]*gojq.Code, error) {
	codes := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return codes, nil
}

// matchesAll reports whether every filter yields a truthy first result for tx.
// A filter that yields nothing or errors does not match.
func matchesAll(codes []*gojq.Code, tx client.Transaction) (bool, error) {
	if len(codes) == 0 {
		return true, nil
	}

	// gojq operates on plain JSON values
	data, err := json.Marshal(tx)
	if err != nil {
		return false, fmt.Errorf("failed to marshal transaction: %w", err)
	}
	var input interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return false, fmt.Errorf("failed to decode transaction: %w", err)
	}

	for _, code := range codes {
		iter := code.Run(input)
		v, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if _, isErr := v.(error); isErr {
			return false, nil
		}
		if !isTruthy(v) {
			return false, nil
		}
	}
	return true, nil
}

func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	// Everything else (numbers, strings, objects, arrays) is truthy
	return true
}

func printTransactions(w io.Writer, txns []client.Transaction) {
	if len(txns) == 0 {
		fmt.Fprintln(w, "No transactions")
		return
	}
	fmt.Fprintf(w, "%-66s  %-8s  %s\n", "HASH", "STATUS", "SUBMITTED")
	for _, tx := range txns {
		fmt.Fprintf(w, "%-66s  %-8s  %s\n", tx.Hash, tx.Status, tx.Time().UTC().Format(time.RFC3339))
	}
}
