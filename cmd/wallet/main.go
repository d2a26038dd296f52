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
		Name:  "wallet",
		Usage: "Wallet provider operator CLI",
		Description: `A command-line tool for operating the wallet provider service.

Server commands talk to a running service over HTTP. Local commands open the
configured storage and RPC endpoints directly and read the same environment
as the server.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			{
				Name:  "server",
				Usage: "Inspect and drive a running service",
				Subcommands: []*cli.Command{
					healthCommand(),
					statusCommand(),
					approvalsCommand(),
					decideCommand(),
					eventsCommand(),
					versionCommand(),
				},
			},
			{
				Name:  "session",
				Usage: "Inspect connected counterparties",
				Subcommands: []*cli.Command{
					listSessionsCommand(),
					removeSessionCommand(),
				},
			},
			{
				Name:    "account",
				Aliases: []string{"keystore"},
				Usage:   "Manage local accounts",
				Subcommands: []*cli.Command{
					listAccountsCommand(),
					importAccountCommand(),
				},
			},
			{
				Name:  "ledger",
				Usage: "Hardware device commands",
				Subcommands: []*cli.Command{
					ledgerAccountsCommand(),
				},
			},
			simulateCommand(),
			scanCommand(),
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Wallet service URL",
				EnvVars: []string{"WALLET_SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "Apply a jq filter to the JSON output",
			},
		},
	}
}
