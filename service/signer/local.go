package signer

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Keystore signs with locally held keys without exposing them.
type Keystore interface {
	Sign(ctx context.Context, address solana.PublicKey, message []byte) (solana.Signature, error)
}

// LocalBackend signs in-process with the keystore.
type LocalBackend struct {
	keys Keystore
}

// NewLocalBackend creates a local keystore backend.
func NewLocalBackend(keys Keystore) *LocalBackend {
	return &LocalBackend{keys: keys}
}

// SignTransaction adds the identity's signature and keeps any signatures
// already present. Legacy and versioned messages share the same layout:
// one signature slot per required signer in account key order.
func (b *LocalBackend) SignTransaction(ctx context.Context, tx *solana.Transaction, id Identity) (*solana.Transaction, error) {
	if _, err := signerIndex(tx, id.Address()); err != nil {
		return nil, err
	}

	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}

	sig, err := b.keys.Sign(ctx, id.Address(), message)
	if err != nil {
		return nil, err
	}
	return attachSignature(tx, id.Address(), sig)
}

func (b *LocalBackend) SignAllTransactions(ctx context.Context, txs []*solana.Transaction, id Identity) ([]*solana.Transaction, error) {
	signed := make([]*solana.Transaction, 0, len(txs))
	for i, tx := range txs {
		s, err := b.SignTransaction(ctx, tx, id)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		signed = append(signed, s)
	}
	return signed, nil
}

func (b *LocalBackend) SignMessage(ctx context.Context, message []byte, id Identity) (solana.Signature, error) {
	return b.keys.Sign(ctx, id.Address(), message)
}
