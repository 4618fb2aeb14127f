package main

import (
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/brojonat/counterwallet/client"
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
		Name:  "walletctl",
		Usage: "Wallet session and counter contract CLI",
		Description: `A command-line tool for driving the counterwallet service.

Use this CLI to connect a wallet, submit counter transactions, and inspect
session and transaction state.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Session commands
			stateCommand(),
			connectCommand(),
			disconnectCommand(),
			refreshCommand(),
			dismissCommand(),
			// Counter contract commands
			countCommand(),
			incrementCommand(),
			decrementCommand(),
			historyCommand(),
			txCommand(),
			networksCommand(),
			// Streaming
			watchCommand(),
			// Server utility commands
			healthCommand(),
			versionCommand(),
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "Server URL",
				EnvVars: []string{"WALLET_SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout (counter writes wait for confirmation)",
				Value: 5 * time.Minute,
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}

// newClient builds an API client from the global flags.
func newClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	httpClient := &http.Client{Timeout: c.Duration("timeout")}
	return client.NewClient(c.String("server"), httpClient, logger)
}
