// Package account keeps the wallet's local account list.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/helium/wallet-app-sub004/service/ledger"
	"github.com/helium/wallet-app-sub004/service/signer"
	"github.com/helium/wallet-app-sub004/service/storage"
)

const accountsKey = "accounts"

// ErrNotFound is returned when no local account has the address.
var ErrNotFound = errors.New("account not found")

// Account is a locally known wallet account.
type Account struct {
	Alias         string           `json:"alias"`
	SolanaAddress solana.PublicKey `json:"solanaAddress"`
	LedgerDevice  *ledger.Device   `json:"ledgerDevice,omitempty"`
	AccountIndex  *int             `json:"accountIndex,omitempty"`
}

// Identity resolves the signer identity for the account.
func (a Account) Identity() signer.Identity {
	return signer.ResolveIdentity(a.SolanaAddress, a.LedgerDevice, a.AccountIndex)
}

// Directory looks up local accounts.
type Directory interface {
	Lookup(ctx context.Context, address solana.PublicKey) (*Account, error)
}

// Store persists the account list to secure storage.
type Store struct {
	storage storage.Storage
	mu      sync.Mutex
}

// NewStore creates an account store.
func NewStore(s storage.Storage) *Store {
	return &Store{storage: s}
}

func (s *Store) load(ctx context.Context) (map[string]Account, error) {
	raw, err := s.storage.GetItem(ctx, accountsKey)
	if errors.Is(err, storage.ErrNotFound) {
		return map[string]Account{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts: %w", err)
	}

	accounts := map[string]Account{}
	if err := json.Unmarshal([]byte(raw), &accounts); err != nil {
		return nil, fmt.Errorf("failed to parse accounts: %w", err)
	}
	return accounts, nil
}

func (s *Store) save(ctx context.Context, accounts map[string]Account) error {
	raw, err := json.Marshal(accounts)
	if err != nil {
		return err
	}
	return s.storage.SetItem(ctx, accountsKey, string(raw))
}

// Upsert adds or replaces an account keyed by its address.
func (s *Store) Upsert(ctx context.Context, a Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.load(ctx)
	if err != nil {
		return err
	}
	accounts[a.SolanaAddress.String()] = a
	return s.save(ctx, accounts)
}

// Remove deletes the account with address.
func (s *Store) Remove(ctx context.Context, address solana.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.load(ctx)
	if err != nil {
		return err
	}
	delete(accounts, address.String())
	return s.save(ctx, accounts)
}

// Lookup returns the account with address or ErrNotFound.
func (s *Store) Lookup(ctx context.Context, address solana.PublicKey) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	a, ok := accounts[address.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, address)
	}
	return &a, nil
}

// List returns all accounts ordered by alias.
func (s *Store) List(ctx context.Context) ([]Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Account, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Alias != out[j].Alias {
			return out[i].Alias < out[j].Alias
		}
		return out[i].SolanaAddress.String() < out[j].SolanaAddress.String()
	})
	return out, nil
}
