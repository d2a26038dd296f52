package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/gagliardetto/solana-go"
	"github.com/helium/wallet-app-sub004/service/account"
	"github.com/helium/wallet-app-sub004/service/app"
	"github.com/helium/wallet-app-sub004/service/config"
	"github.com/helium/wallet-app-sub004/service/hdpath"
	"github.com/helium/wallet-app-sub004/service/ledger"
	"github.com/helium/wallet-app-sub004/service/scanner"
	"github.com/helium/wallet-app-sub004/service/simulator"
	"github.com/mr-tron/base58"
	"github.com/urfave/cli/v2"
)

// openApp wires the services from the environment. The caller must Close it.
func openApp(c *cli.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	a, err := app.New(c.Context, cfg, nil, cliLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize wallet services: %w", err)
	}
	return a, nil
}

type sessionView struct {
	Counterparty string `json:"counterparty"`
	Owner        string `json:"owner"`
}

func listSessionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List connected counterparties",
		Aliases: []string{"ls"},
		Action: func(c *cli.Context) error {
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.SessionStore.List(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			views := make([]sessionView, 0, len(records))
			for _, r := range records {
				views = append(views, sessionView{
					Counterparty: base58.Encode(r.Counterparty[:]),
					Owner:        r.Owner.String(),
				})
			}

			return render(c, views, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "COUNTERPARTY\tOWNER")
				for _, v := range views {
					fmt.Fprintf(tw, "%s\t%s\n", v.Counterparty, v.Owner)
				}
				tw.Flush()
				fmt.Fprintf(w, "\nTotal: %d sessions\n", len(views))
			})
		},
	}
}

func removeSessionCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "Forget a counterparty session",
		Aliases:   []string{"rm"},
		ArgsUsage: "<counterparty-key>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: counterparty encryption key")
			}
			raw, err := base58.Decode(c.Args().First())
			if err != nil || len(raw) != 32 {
				return fmt.Errorf("invalid counterparty key %q", c.Args().First())
			}
			var key [32]byte
			copy(key[:], raw)

			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.SessionStore.Delete(c.Context, key); err != nil {
				return fmt.Errorf("failed to remove session: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "✓ Session removed\n")
			return nil
		},
	}
}

func listAccountsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List local accounts",
		Aliases: []string{"ls"},
		Action: func(c *cli.Context) error {
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			accounts, err := a.Accounts.List(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list accounts: %w", err)
			}

			return render(c, accounts, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ALIAS\tADDRESS\tDEVICE\tINDEX")
				for _, acc := range accounts {
					device, index := "-", "-"
					if acc.LedgerDevice != nil {
						device = acc.LedgerDevice.ID
					}
					if acc.AccountIndex != nil {
						index = fmt.Sprintf("%d", *acc.AccountIndex)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", acc.Alias, acc.SolanaAddress, device, index)
				}
				tw.Flush()
			})
		},
	}
}

func importAccountCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import a mnemonic read from stdin into the keystore",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "alias",
				Usage:    "Account alias",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "path",
				Usage: "Derivation path",
				Value: "m/44'/501'/0'/0'",
			},
		},
		Action: func(c *cli.Context) error {
			path, err := hdpath.Parse(c.String("path"))
			if err != nil {
				return fmt.Errorf("invalid derivation path: %w", err)
			}
			mnemonic, err := readMnemonic(c)
			if err != nil {
				return err
			}

			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			address, err := a.Keystore.ImportMnemonic(c.Context, mnemonic, path)
			if err != nil {
				return fmt.Errorf("failed to import key: %w", err)
			}
			if err := a.Accounts.Upsert(c.Context, account.Account{
				Alias:         c.String("alias"),
				SolanaAddress: address,
			}); err != nil {
				return fmt.Errorf("failed to save account: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "✓ Imported %s\n", address)
			return nil
		},
	}
}

func ledgerAccountsCommand() *cli.Command {
	return &cli.Command{
		Name:  "accounts",
		Usage: "Enumerate the accounts of the device at LEDGER_ADDR",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "save",
				Usage: "Save the discovered accounts locally",
			},
		},
		Action: func(c *cli.Context) error {
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Config.LedgerAddr == "" {
				return fmt.Errorf("LEDGER_ADDR is required")
			}

			device := ledger.Device{ID: app.LedgerDeviceID, Name: "Ledger", Kind: ledger.TransportUSB}
			accounts, err := a.LedgerAccounts(c.Context, device)
			if err != nil {
				return fmt.Errorf("failed to enumerate accounts: %w", err)
			}

			if c.Bool("save") {
				for _, acc := range accounts {
					index := acc.Index
					if err := a.Accounts.Upsert(c.Context, account.Account{
						Alias:         fmt.Sprintf("Ledger %d", acc.Index+1),
						SolanaAddress: acc.Address,
						LedgerDevice:  &device,
						AccountIndex:  &index,
					}); err != nil {
						return fmt.Errorf("failed to save account: %w", err)
					}
				}
			}

			return render(c, accounts, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "INDEX\tPATH\tADDRESS\tBALANCE (SOL)")
				for _, acc := range accounts {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%.4f\n", acc.Index, acc.Path, acc.Address, lamportsToSOL(acc.Balance))
				}
				tw.Flush()
			})
		},
	}
}

func simulateCommand() *cli.Command {
	return &cli.Command{
		Name:      "simulate",
		Usage:     "Simulate transactions and report their effect on a wallet",
		ArgsUsage: "<transaction>...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "wallet",
				Aliases:  []string{"w"},
				Usage:    "Wallet the transactions act on",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "encoding",
				Usage: "Transaction encoding (base64 or base58)",
				Value: "base64",
			},
			&cli.BoolFlag{
				Name:  "skip-blacklist",
				Usage: "Do not fetch the account blacklist",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("at least one transaction is required")
			}
			wallet, err := solana.PublicKeyFromBase58(c.String("wallet"))
			if err != nil {
				return fmt.Errorf("invalid wallet address: %w", err)
			}
			txs, err := decodeTransactions(c.Args().Slice(), c.String("encoding"))
			if err != nil {
				return err
			}

			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			var blacklist map[solana.PublicKey]struct{}
			if !c.Bool("skip-blacklist") {
				blacklist, err = a.Blacklist.Accounts(c.Context)
				if err != nil {
					fmt.Fprintf(os.Stderr, "warning: blacklist unavailable: %v\n", err)
				}
			}

			report, err := a.Simulator.Simulate(c.Context, txs, wallet, blacklist)
			if err != nil {
				return fmt.Errorf("simulation failed: %w", err)
			}

			view := newSimulationView(report)
			return render(c, view, func(w io.Writer) { printSimulation(w, view) })
		},
	}
}

// simulationView is the review form of a simulation report.
type simulationView struct {
	Wallet        solana.PublicKey         `json:"wallet"`
	Summary       simulator.Summary        `json:"summary"`
	Fees          []transactionFee         `json:"fees"`
	Presentations []simulator.Presentation `json:"presentations"`
}

type transactionFee struct {
	SolFee      uint64 `json:"solFee"`
	PriorityFee uint64 `json:"priorityFee"`
}

func newSimulationView(report *simulator.Report) simulationView {
	view := simulationView{
		Wallet:        report.Wallet,
		Summary:       report.Summary,
		Presentations: report.Present(),
	}
	for _, r := range report.Results {
		view.Fees = append(view.Fees, transactionFee{SolFee: r.SolFee, PriorityFee: r.PriorityFee})
	}
	return view
}

func printSimulation(w io.Writer, view simulationView) {
	for i, p := range view.Presentations {
		fee := view.Fees[i]
		fmt.Fprintf(w, "Transaction %d: fee %d lamports (priority %d)\n", p.Index, fee.SolFee, fee.PriorityFee)
		if p.Error != nil {
			fmt.Fprintf(w, "  error: %s\n", p.Error.Err)
		}
		for _, warning := range p.NonAccountWarnings {
			fmt.Fprintf(w, "  [%s] %s\n", warning.Severity, warning.Title())
		}
		if p.ManyCNfts {
			fmt.Fprintf(w, "  many compressed NFTs may change\n")
		}
		for _, acc := range p.Accounts {
			fmt.Fprintf(w, "  %s %s\n", acc.Address, acc.Name)
			for _, warning := range p.AccountWarnings[acc.Address.String()] {
				fmt.Fprintf(w, "    [%s] %s\n", warning.Severity, warning.Title())
			}
		}
		if len(p.Collapsed) > 0 {
			fmt.Fprintf(w, "  %d accounts with unknown changes\n", len(p.Collapsed))
		}
	}
	s := view.Summary
	fmt.Fprintf(w, "\nTotal fee:  %.6f SOL\n", lamportsToSOL(s.TotalFee))
	fmt.Fprintf(w, "Balance:    %.6f SOL\n", lamportsToSOL(s.Balance))
	if s.InsufficientFunds {
		fmt.Fprintln(w, "✗ Insufficient funds")
	}
	if s.InsufficientRentExempt {
		fmt.Fprintln(w, "✗ Balance would fall below rent exemption")
	}
}

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Find funded accounts derived from a mnemonic read from stdin",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "more",
				Usage: "Extra groups to scan after automatic scanning stops",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Show unfunded candidates too",
			},
		},
		Action: func(c *cli.Context) error {
			mnemonic, err := readMnemonic(c)
			if err != nil {
				return err
			}

			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			s := a.Scanner()
			if err := s.SetMnemonic(mnemonic); err != nil {
				return fmt.Errorf("invalid mnemonic: %w", err)
			}
			candidates, err := scanWithExtra(c.Context, s, c.Int("more"))
			if err != nil {
				return err
			}
			if !c.Bool("all") {
				funded := candidates[:0]
				for _, cand := range candidates {
					if cand.Funded() {
						funded = append(funded, cand)
					}
				}
				candidates = funded
			}

			return render(c, candidates, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "PATH\tADDRESS\tBALANCE (SOL)\tTOKENS\tMIGRATION")
				for _, cand := range candidates {
					fmt.Fprintf(tw, "%s\t%s\t%.4f\t%d\t%v\n",
						cand.Path,
						cand.Address,
						lamportsToSOL(cand.Balance),
						len(cand.Tokens),
						cand.NeedsMigration,
					)
				}
				tw.Flush()
			})
		},
	}
}

func scanWithExtra(ctx context.Context, s *scanner.Scanner, extra int) ([]*scanner.Candidate, error) {
	if _, err := s.ScanAll(ctx); err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	for i := 0; i < extra; i++ {
		if err := s.FetchMore(); err != nil {
			return nil, err
		}
		if _, err := s.Scan(ctx); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
	}
	return s.Candidates(), nil
}

func readMnemonic(c *cli.Context) (string, error) {
	in := c.App.Reader
	if in == nil {
		in = os.Stdin
	}
	data, err := io.ReadAll(io.LimitReader(in, 4096))
	if err != nil {
		return "", fmt.Errorf("failed to read mnemonic: %w", err)
	}
	mnemonic := strings.TrimSpace(string(data))
	if mnemonic == "" {
		return "", fmt.Errorf("mnemonic is required on stdin")
	}
	return mnemonic, nil
}

func decodeTransactions(args []string, encoding string) ([][]byte, error) {
	txs := make([][]byte, 0, len(args))
	for i, arg := range args {
		var (
			raw []byte
			err error
		)
		switch encoding {
		case "base64":
			raw, err = base64.StdEncoding.DecodeString(arg)
		case "base58":
			raw, err = base58.Decode(arg)
		default:
			return nil, fmt.Errorf("unsupported encoding %q", encoding)
		}
		if err != nil {
			return nil, fmt.Errorf("transaction %d: invalid %s: %w", i, encoding, err)
		}
		txs = append(txs, raw)
	}
	return txs, nil
}

func lamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / float64(solana.LAMPORTS_PER_SOL)
}
