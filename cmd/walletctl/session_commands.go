package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/brojonat/counterwallet/client"
	"github.com/urfave/cli/v2"
)

func stateCommand() *cli.Command {
	return &cli.Command{
		Name:  "state",
		Usage: "Show the current session state",
		Action: func(c *cli.Context) error {
			state, err := newClient(c).State(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get state: %w", err)
			}
			return outputState(c, state)
		},
	}
}

func connectCommand() *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "Request account access from the wallet provider",
		Action: func(c *cli.Context) error {
			state, err := newClient(c).Connect(c.Context)
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			return outputState(c, state)
		},
	}
}

func disconnectCommand() *cli.Command {
	return &cli.Command{
		Name:  "disconnect",
		Usage: "End the session and clear persisted state",
		Action: func(c *cli.Context) error {
			state, err := newClient(c).Disconnect(c.Context)
			if err != nil {
				return fmt.Errorf("failed to disconnect: %w", err)
			}
			return outputState(c, state)
		},
	}
}

func refreshCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Re-query the balance of the connected account",
		Action: func(c *cli.Context) error {
			state, err := newClient(c).Refresh(c.Context)
			if err != nil {
				return fmt.Errorf("failed to refresh balance: %w", err)
			}
			return outputState(c, state)
		},
	}
}

func dismissCommand() *cli.Command {
	return &cli.Command{
		Name:  "dismiss",
		Usage: "Dismiss the error currently shown",
		Action: func(c *cli.Context) error {
			dismissed, err := newClient(c).DismissError(c.Context)
			if err != nil {
				return fmt.Errorf("failed to dismiss error: %w", err)
			}
			if c.Bool("json") {
				return printJSON(os.Stdout, map[string]bool{"dismissed": dismissed})
			}
			if dismissed {
				fmt.Println("✓ Error dismissed")
			} else {
				fmt.Println("No active error")
			}
			return nil
		},
	}
}

func outputState(c *cli.Context, state *client.State) error {
	if c.Bool("json") {
		return printJSON(os.Stdout, state)
	}
	printState(os.Stdout, state)
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func printState(w io.Writer, s *client.State) {
	if !s.Connected() {
		fmt.Fprintln(w, "Status:   disconnected")
	} else {
		fmt.Fprintln(w, "Status:   connected")
		fmt.Fprintf(w, "Address:  %s\n", s.Address)
		network := fmt.Sprintf("Chain ID: %d", s.ChainID)
		symbol := ""
		if s.Network != nil {
			network = fmt.Sprintf("%s (%d)", s.Network.Name, s.ChainID)
			symbol = s.Network.CurrencySymbol
		}
		fmt.Fprintf(w, "Network:  %s\n", network)
		if s.Balance != "" {
			fmt.Fprintf(w, "Balance:  %s %s\n", s.Balance, symbol)
		}
	}

	if s.Count != "" {
		fmt.Fprintf(w, "Count:    %s\n", s.Count)
	}
	if s.Loading {
		fmt.Fprintln(w, "Loading:  yes")
	}
	if len(s.Pending) > 0 {
		fmt.Fprintf(w, "Pending:  %d transaction(s)\n", len(s.Pending))
		for _, hash := range s.Pending {
			fmt.Fprintf(w, "  %s\n", hash)
		}
	}
	if s.Error != nil {
		fmt.Fprintf(w, "Error:    [%s] %s", s.Error.Category, s.Error.Message)
		if !s.Error.ExpiresAt.IsZero() {
			fmt.Fprintf(w, " (until %s)", s.Error.ExpiresAt.Format(time.TimeOnly))
		}
		fmt.Fprintln(w)
	}
}
