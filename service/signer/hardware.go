package signer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/helium/wallet-app-sub004/service/ledger"
)

// ErrWrongDeviceKey is returned when the device signed with a key that does
// not match the account address.
var ErrWrongDeviceKey = errors.New("device signature does not match account")

// HardwareBackend signs on a hardware device through the transport pool.
type HardwareBackend struct {
	pool    *ledger.Pool
	timeout time.Duration
	logger  *slog.Logger
}

// NewHardwareBackend creates a hardware backend. Each signing operation is
// bounded by timeout; zero means no local timeout.
func NewHardwareBackend(pool *ledger.Pool, timeout time.Duration, logger *slog.Logger) *HardwareBackend {
	return &HardwareBackend{pool: pool, timeout: timeout, logger: logger}
}

func (b *HardwareBackend) withDevice(ctx context.Context, id Identity, fn func(ctx context.Context, app *ledger.SolanaApp, index int) error) error {
	device, index, ok := id.Device()
	if !ok {
		return fmt.Errorf("identity %s has no hardware device", id.Address())
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	b.logger.DebugContext(ctx, "requesting device signature",
		"device_id", device.ID,
		"account_index", index,
	)
	return b.pool.Do(ctx, device, func(app *ledger.SolanaApp) error {
		return fn(ctx, app, index)
	})
}

func (b *HardwareBackend) SignTransaction(ctx context.Context, tx *solana.Transaction, id Identity) (*solana.Transaction, error) {
	signed, err := b.SignAllTransactions(ctx, []*solana.Transaction{tx}, id)
	if err != nil {
		return nil, err
	}
	return signed[0], nil
}

// SignAllTransactions signs each transaction in turn while holding the device.
func (b *HardwareBackend) SignAllTransactions(ctx context.Context, txs []*solana.Transaction, id Identity) ([]*solana.Transaction, error) {
	messages := make([][]byte, len(txs))
	for i, tx := range txs {
		if _, err := signerIndex(tx, id.Address()); err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		m, err := tx.Message.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("transaction %d: failed to serialize message: %w", i, err)
		}
		messages[i] = m
	}

	signed := make([]*solana.Transaction, len(txs))
	err := b.withDevice(ctx, id, func(ctx context.Context, app *ledger.SolanaApp, index int) error {
		for i, tx := range txs {
			sig, err := app.SignTransaction(ctx, ledger.DerivationPath(index), messages[i])
			if err != nil {
				return err
			}
			if !sig.Verify(id.Address(), messages[i]) {
				return ErrWrongDeviceKey
			}
			s, err := attachSignature(tx, id.Address(), sig)
			if err != nil {
				return err
			}
			signed[i] = s
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return signed, nil
}

func (b *HardwareBackend) SignMessage(ctx context.Context, message []byte, id Identity) (solana.Signature, error) {
	var sig solana.Signature
	err := b.withDevice(ctx, id, func(ctx context.Context, app *ledger.SolanaApp, index int) error {
		s, err := app.SignMessage(ctx, ledger.DerivationPath(index), message)
		if err != nil {
			return err
		}
		if !s.Verify(id.Address(), message) {
			return ErrWrongDeviceKey
		}
		sig = s
		return nil
	})
	return sig, err
}
