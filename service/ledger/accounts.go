package ledger

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/helium/wallet-app-sub004/service/hdpath"
)

// Enumeration defaults. Accounts below DefaultMinScanIndex are always
// queried; past it, scanning stops at the first unfunded account.
const (
	DefaultMinScanIndex = 3
	DefaultMaxIndex     = 256
)

// DerivationPath returns the device path for an account index. Index -1 is
// the root path 44'/501', other indices use 44'/501'/index'.
func DerivationPath(accountIndex int) hdpath.Path {
	return hdpath.Solana(accountIndex, nil)
}

// BalanceFetcher reads native balances.
type BalanceFetcher interface {
	GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error)
}

// Account is a hardware account discovered during enumeration.
type Account struct {
	Index   int              `json:"accountIndex"`
	Path    string           `json:"derivationPath"`
	Address solana.PublicKey `json:"address"`
	Balance uint64           `json:"balance"`
}

// EnumerateOptions bounds account enumeration.
type EnumerateOptions struct {
	MinScanIndex int
	MaxIndex     int
}

// EnumerateAccounts walks the root path and then per-account paths,
// continuing while accounts are funded or below MinScanIndex.
func EnumerateAccounts(ctx context.Context, app *SolanaApp, balances BalanceFetcher, opts EnumerateOptions) ([]Account, error) {
	if opts.MaxIndex <= 0 {
		opts.MaxIndex = DefaultMaxIndex
	}

	var accounts []Account
	for index := -1; index <= opts.MaxIndex; index++ {
		path := DerivationPath(index)
		address, err := app.GetAddress(ctx, path, false)
		if err != nil {
			return accounts, fmt.Errorf("failed to read address at %s: %w", path, err)
		}

		balance, err := balances.GetBalance(ctx, address)
		if err != nil {
			return accounts, fmt.Errorf("failed to read balance of %s: %w", address, err)
		}

		accounts = append(accounts, Account{
			Index:   index,
			Path:    path.String(),
			Address: address,
			Balance: balance,
		})

		if balance == 0 && index >= opts.MinScanIndex {
			break
		}
	}
	return accounts, nil
}
