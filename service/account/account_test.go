package account

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/helium/wallet-app-sub004/service/ledger"
	"github.com/helium/wallet-app-sub004/service/signer"
	"github.com/helium/wallet-app-sub004/service/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_UpsertLookupRemove(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storage.NewMemoryStorage())

	addr := solana.NewWallet().PublicKey()
	_, err := s.Lookup(ctx, addr)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Upsert(ctx, Account{Alias: "main", SolanaAddress: addr}))
	got, err := s.Lookup(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, "main", got.Alias)
	assert.Equal(t, signer.KindLocal, got.Identity().Kind())

	require.NoError(t, s.Remove(ctx, addr))
	_, err = s.Lookup(ctx, addr)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_HardwareAccountRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storage.NewMemoryStorage())

	index := 3
	a := Account{
		Alias:         "ledger",
		SolanaAddress: solana.NewWallet().PublicKey(),
		LedgerDevice:  &ledger.Device{ID: "AA:BB", Name: "Nano X", Kind: ledger.TransportBluetooth},
		AccountIndex:  &index,
	}
	require.NoError(t, s.Upsert(ctx, a))
	require.NoError(t, s.Upsert(ctx, Account{Alias: "alpha", SolanaAddress: solana.NewWallet().PublicKey()}))

	got, err := s.Lookup(ctx, a.SolanaAddress)
	require.NoError(t, err)
	assert.Equal(t, signer.KindHardware, got.Identity().Kind())

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Alias)
}
