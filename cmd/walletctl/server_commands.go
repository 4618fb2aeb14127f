package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/counterwallet/client"
	"github.com/urfave/cli/v2"
)

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream session state changes (Ctrl+C to stop)",
		Action: func(c *cli.Context) error {
			jsonOutput := c.Bool("json")

			// Create context that cancels on interrupt
			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigChan
				cancel()
			}()

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Streaming state from %s... (Ctrl+C to stop)\n\n", c.String("server"))
			}

			err := newClient(c).Watch(ctx, func(s *client.State) error {
				if jsonOutput {
					return printJSON(os.Stdout, s)
				}
				fmt.Printf("── version %d ──\n", s.Version)
				printState(os.Stdout, s)
				fmt.Println()
				return nil
			})
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("stream ended: %w", err)
			}
			return nil
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithTimeout(c.Context, 5*time.Second)
			defer cancel()

			if err := newClient(c).Health(ctx); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			fmt.Printf("✓ Server is healthy\n")
			fmt.Printf("  URL: %s\n", c.String("server"))
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Printf("walletctl\n")
			fmt.Printf("  Version: %s\n", version)
			fmt.Printf("  Commit:  %s\n", commit)
			fmt.Printf("  Built:   %s\n", date)
			return nil
		},
	}
}
