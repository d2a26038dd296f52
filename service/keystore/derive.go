package keystore

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/helium/wallet-app-sub004/service/hdpath"
	"github.com/tyler-smith/go-bip39"
)

// ErrInvalidMnemonic is returned for phrases that fail the BIP-39 checksum.
var ErrInvalidMnemonic = errors.New("invalid mnemonic")

var ed25519Curve = []byte("ed25519 seed")

// NormalizeMnemonic lowercases and collapses whitespace.
func NormalizeMnemonic(mnemonic string) string {
	return strings.Join(strings.Fields(strings.ToLower(mnemonic)), " ")
}

// SeedFromMnemonic validates the phrase and returns its 64-byte BIP-39 seed.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(NormalizeMnemonic(mnemonic), passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMnemonic, err)
	}
	return seed, nil
}

// DeriveKey derives an ed25519 key from seed along path. Ed25519 derivation
// only supports hardened components.
func DeriveKey(seed []byte, path hdpath.Path) (solana.PrivateKey, error) {
	if !path.AllHardened() {
		return nil, fmt.Errorf("ed25519 derivation requires hardened path, got %s", path.Full())
	}

	mac := hmac.New(sha512.New, ed25519Curve)
	mac.Write(seed)
	sum := mac.Sum(nil)
	key, chainCode := sum[:32], sum[32:]

	for _, index := range path {
		data := make([]byte, 0, 37)
		data = append(data, 0x00)
		data = append(data, key...)
		data = binary.BigEndian.AppendUint32(data, index)

		mac = hmac.New(sha512.New, chainCode)
		mac.Write(data)
		sum = mac.Sum(nil)
		key, chainCode = sum[:32], sum[32:]
	}

	return solana.PrivateKey(ed25519.NewKeyFromSeed(key)), nil
}

// LegacyHeliumKey returns the keypair the original Helium wallet derived
// directly from mnemonic entropy. 12-word phrases have their 16-byte
// entropy doubled to form the 32-byte seed.
func LegacyHeliumKey(mnemonic string) (solana.PrivateKey, error) {
	entropy, err := bip39.EntropyFromMnemonic(NormalizeMnemonic(mnemonic))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMnemonic, err)
	}

	switch len(entropy) {
	case 16:
		entropy = append(entropy, entropy...)
	case 32:
	default:
		return nil, fmt.Errorf("unsupported entropy length %d", len(entropy))
	}

	return solana.PrivateKey(ed25519.NewKeyFromSeed(entropy)), nil
}
