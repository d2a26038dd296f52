// Package keystore holds local private keys. Key bytes never leave the
// package: callers get public keys and signatures.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/helium/wallet-app-sub004/service/codec"
	"github.com/helium/wallet-app-sub004/service/hdpath"
	"github.com/helium/wallet-app-sub004/service/storage"
)

const keyPrefix = "keypair:"

// ErrKeyNotFound is returned when no key is stored for an address.
var ErrKeyNotFound = errors.New("no local key for address")

// Keystore stores base58 private keys in secure storage, one item per address.
type Keystore struct {
	storage storage.Storage
	mu      sync.Mutex
}

// New creates a keystore over secure storage.
func New(s storage.Storage) *Keystore {
	return &Keystore{storage: s}
}

// Import stores the private key and returns its address.
func (k *Keystore) Import(ctx context.Context, key solana.PrivateKey) (solana.PublicKey, error) {
	if len(key) != 64 {
		return solana.PublicKey{}, fmt.Errorf("invalid private key length %d", len(key))
	}

	address := key.PublicKey()
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.storage.SetItem(ctx, keyPrefix+address.String(), key.String()); err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to store key: %w", err)
	}
	return address, nil
}

// ImportMnemonic derives the key at path from the phrase and stores it.
func (k *Keystore) ImportMnemonic(ctx context.Context, mnemonic string, path hdpath.Path) (solana.PublicKey, error) {
	seed, err := SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return solana.PublicKey{}, err
	}
	key, err := DeriveKey(seed, path)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return k.Import(ctx, key)
}

// Has reports whether a key is stored for address.
func (k *Keystore) Has(ctx context.Context, address solana.PublicKey) (bool, error) {
	_, err := k.load(ctx, address)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Remove deletes the key for address.
func (k *Keystore) Remove(ctx context.Context, address solana.PublicKey) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.storage.RemoveItem(ctx, keyPrefix+address.String())
}

// Sign signs message with the key stored for address.
func (k *Keystore) Sign(ctx context.Context, address solana.PublicKey, message []byte) (solana.Signature, error) {
	key, err := k.load(ctx, address)
	if err != nil {
		return solana.Signature{}, err
	}
	defer codec.Wipe(key)

	return key.Sign(message)
}

func (k *Keystore) load(ctx context.Context, address solana.PublicKey) (solana.PrivateKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	encoded, err := k.storage.GetItem(ctx, keyPrefix+address.String())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}

	key, err := solana.PrivateKeyFromBase58(encoded)
	if err != nil {
		return nil, fmt.Errorf("stored key for %s is corrupt: %w", address, err)
	}
	if !key.PublicKey().Equals(address) {
		return nil, fmt.Errorf("stored key for %s does not match address", address)
	}
	return key, nil
}
