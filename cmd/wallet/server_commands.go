package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/helium/wallet-app-sub004/client"
	"github.com/urfave/cli/v2"
)

func serviceClient(c *cli.Context) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set WALLET_SERVER_URL env var or use --server-url)")
	}
	httpClient := &http.Client{
		Timeout: c.Duration("timeout"),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return client.NewClient(serverURL, httpClient, cliLogger()), nil
}

func timeoutFlag() cli.Flag {
	return &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Request timeout",
		Value: 10 * time.Second,
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{timeoutFlag()},
		Action: func(c *cli.Context) error {
			cl, err := serviceClient(c)
			if err != nil {
				return err
			}
			if err := cl.Health(c.Context); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "✓ Server is healthy\n")
			fmt.Fprintf(c.App.Writer, "  URL: %s\n", c.String("server-url"))
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the state of a provider request",
		ArgsUsage: "<request-id>",
		Flags: []cli.Flag{
			timeoutFlag(),
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Poll until the request has a response",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Polling interval for --wait",
				Value: time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: request id")
			}
			cl, err := serviceClient(c)
			if err != nil {
				return err
			}

			var status *client.RequestStatus
			if c.Bool("wait") {
				ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
				defer cancel()
				status, err = cl.Await(ctx, c.Args().First(), c.Duration("interval"))
			} else {
				status, err = cl.Status(c.Context, c.Args().First())
			}
			if err != nil {
				return fmt.Errorf("failed to get request status: %w", err)
			}

			return render(c, status, func(w io.Writer) {
				fmt.Fprintf(w, "Request:  %s\n", status.RequestID)
				fmt.Fprintf(w, "Method:   %s\n", status.Method)
				fmt.Fprintf(w, "State:    %s\n", status.State)
				if status.RedirectURL != "" {
					fmt.Fprintf(w, "Redirect: %s\n", status.RedirectURL)
				}
			})
		},
	}
}

func approvalsCommand() *cli.Command {
	return &cli.Command{
		Name:    "approvals",
		Usage:   "List requests waiting for a decision",
		Aliases: []string{"pending"},
		Flags:   []cli.Flag{timeoutFlag()},
		Action: func(c *cli.Context) error {
			cl, err := serviceClient(c)
			if err != nil {
				return err
			}
			pending, err := cl.ListPending(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list approvals: %w", err)
			}

			return render(c, pending, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "REQUEST\tMETHOD\tAPP\tOWNER\tCONFIRM\tSINCE")
				for _, p := range pending {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%v\t%s\n",
						p.RequestID,
						p.Method,
						p.AppURL,
						p.Owner,
						p.RequiresConfirmation,
						p.Since.Format(time.RFC3339),
					)
				}
				tw.Flush()
				fmt.Fprintf(w, "\nTotal: %d pending\n", len(pending))
			})
		},
	}
}

func decideCommand() *cli.Command {
	return &cli.Command{
		Name:      "decide",
		Usage:     "Approve or reject a pending request",
		ArgsUsage: "<request-id>",
		Flags: []cli.Flag{
			timeoutFlag(),
			&cli.BoolFlag{
				Name:  "approve",
				Usage: "Approve the request",
			},
			&cli.BoolFlag{
				Name:  "reject",
				Usage: "Reject the request",
			},
			&cli.StringFlag{
				Name:  "account",
				Usage: "Account to connect with (connect requests only)",
			},
			&cli.BoolFlag{
				Name:  "override-simulation-errors",
				Usage: "Sign even though simulation reported errors",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: request id")
			}
			if c.Bool("approve") == c.Bool("reject") {
				return fmt.Errorf("must specify exactly one of --approve or --reject")
			}
			cl, err := serviceClient(c)
			if err != nil {
				return err
			}

			d := client.Decision{
				Approved:                 c.Bool("approve"),
				Account:                  c.String("account"),
				OverrideSimulationErrors: c.Bool("override-simulation-errors"),
			}
			if err := cl.Decide(c.Context, c.Args().First(), d); err != nil {
				return fmt.Errorf("failed to submit decision: %w", err)
			}

			verb := "rejected"
			if d.Approved {
				verb = "approved"
			}
			fmt.Fprintf(c.App.Writer, "✓ Request %s %s\n", c.Args().First(), verb)
			return nil
		},
	}
}

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "List the authorization audit log",
		Flags: []cli.Flag{
			timeoutFlag(),
			&cli.StringFlag{
				Name:  "request-id",
				Usage: "Filter by request id",
			},
			&cli.StringFlag{
				Name:  "counterparty",
				Usage: "Filter by counterparty encryption key",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of events",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of events to skip",
			},
		},
		Action: func(c *cli.Context) error {
			cl, err := serviceClient(c)
			if err != nil {
				return err
			}
			events, err := cl.ListEvents(c.Context, client.EventFilter{
				RequestID:    c.String("request-id"),
				Counterparty: c.String("counterparty"),
				Limit:        c.Int("limit"),
				Offset:       c.Int("offset"),
			})
			if err != nil {
				return fmt.Errorf("failed to list events: %w", err)
			}

			return render(c, events, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tREQUEST\tMETHOD\tOUTCOME\tCODE\tTXS\tWARNINGS")
				for _, e := range events {
					code := "-"
					if e.ErrorCode != nil {
						code = fmt.Sprintf("%d", *e.ErrorCode)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
						e.OccurredAt.Format(time.RFC3339),
						e.RequestID,
						e.Method,
						e.Outcome,
						code,
						e.Transactions,
						e.Warnings,
					)
				}
				tw.Flush()
			})
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "wallet CLI\n")
			fmt.Fprintf(c.App.Writer, "  Version: %s\n", version)
			fmt.Fprintf(c.App.Writer, "  Commit:  %s\n", commit)
			fmt.Fprintf(c.App.Writer, "  Built:   %s\n", date)
			return nil
		},
	}
}
