// Package codec implements the authenticated encryption used for counterparty
// session payloads. Keys are X25519, payloads are sealed with the NaCl box
// construction (XSalsa20-Poly1305) over a precomputed shared key, and every
// byte buffer that crosses the trust boundary is base58 encoded.
package codec

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/nacl/box"
)

const (
	// KeySize is the length of X25519 public and secret keys.
	KeySize = 32
	// NonceSize is the length of a box nonce.
	NonceSize = 24
)

var (
	// ErrDecryption is returned when a payload fails authentication.
	ErrDecryption = errors.New("unable to decrypt data")
	// ErrMissingSecret is returned when no shared secret is available.
	ErrMissingSecret = errors.New("missing shared secret")
	// ErrInvalidKey is returned when a wire key does not decode to 32 bytes.
	ErrInvalidKey = errors.New("invalid encryption key")
	// ErrInvalidNonce is returned when a wire nonce does not decode to 24 bytes.
	ErrInvalidNonce = errors.New("invalid nonce")
)

// SharedSecret is the symmetric key agreed between the wallet's ephemeral key
// and a counterparty public key. It must never be logged.
type SharedSecret [KeySize]byte

// String hides the key material from fmt and slog.
func (s SharedSecret) String() string { return "SharedSecret(redacted)" }

// KeyPair is an X25519 key pair.
type KeyPair struct {
	Public [KeySize]byte
	Secret [KeySize]byte
}

// EncryptedPayload is a nonce plus the sealed ciphertext.
type EncryptedPayload struct {
	Nonce      [NonceSize]byte
	Ciphertext []byte
}

// EncodedNonce returns the base58 wire form of the nonce.
func (p EncryptedPayload) EncodedNonce() string {
	return base58.Encode(p.Nonce[:])
}

// EncodedData returns the base58 wire form of the ciphertext.
func (p EncryptedPayload) EncodedData() string {
	return base58.Encode(p.Ciphertext)
}

// ParseEncryptedPayload decodes the base58 nonce and ciphertext received from a counterparty.
func ParseEncryptedPayload(nonce, data string) (EncryptedPayload, error) {
	var p EncryptedPayload

	rawNonce, err := base58.Decode(nonce)
	if err != nil || len(rawNonce) != NonceSize {
		return p, ErrInvalidNonce
	}
	copy(p.Nonce[:], rawNonce)

	ciphertext, err := base58.Decode(data)
	if err != nil {
		return p, fmt.Errorf("invalid payload encoding: %w", err)
	}
	p.Ciphertext = ciphertext
	return p, nil
}

var randReader io.Reader = rand.Reader

// GenerateKeyPair creates a fresh ephemeral X25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, secret, err := box.GenerateKey(randReader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return KeyPair{Public: *pub, Secret: *secret}, nil
}

// DeriveSharedSecret runs the key agreement between a counterparty public key
// and a local secret key. The result is deterministic for a given pair.
func DeriveSharedSecret(counterpartyPublic, localSecret [KeySize]byte) SharedSecret {
	var shared [KeySize]byte
	box.Precompute(&shared, &counterpartyPublic, &localSecret)
	return SharedSecret(shared)
}

// Encrypt seals plaintext under the shared secret with a fresh random nonce.
func Encrypt(plaintext []byte, secret *SharedSecret) (EncryptedPayload, error) {
	if secret == nil {
		return EncryptedPayload{}, ErrMissingSecret
	}

	var nonce [NonceSize]byte
	if _, err := io.ReadFull(randReader, nonce[:]); err != nil {
		return EncryptedPayload{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	key := [KeySize]byte(*secret)
	sealed := box.SealAfterPrecomputation(nil, plaintext, &nonce, &key)
	return EncryptedPayload{Nonce: nonce, Ciphertext: sealed}, nil
}

// Decrypt opens a payload sealed under the shared secret. Authentication
// failure and a missing secret both surface as errors wrapping ErrDecryption.
func Decrypt(payload EncryptedPayload, secret *SharedSecret) ([]byte, error) {
	if secret == nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, ErrMissingSecret)
	}

	key := [KeySize]byte(*secret)
	plaintext, ok := box.OpenAfterPrecomputation(nil, payload.Ciphertext, &payload.Nonce, &key)
	if !ok {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

// EncryptJSON marshals v and seals it.
func EncryptJSON(v any, secret *SharedSecret) (EncryptedPayload, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return EncryptedPayload{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return Encrypt(plaintext, secret)
}

// DecryptJSON opens the payload and unmarshals the JSON plaintext into out.
func DecryptJSON(payload EncryptedPayload, secret *SharedSecret, out any) error {
	plaintext, err := Decrypt(payload, secret)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: payload is not valid JSON: %w", ErrDecryption, err)
	}
	return nil
}

// EncodeKey returns the base58 wire form of a 32-byte key.
func EncodeKey(key [KeySize]byte) string {
	return base58.Encode(key[:])
}

// DecodeKey parses a base58 32-byte key.
func DecodeKey(s string) ([KeySize]byte, error) {
	var key [KeySize]byte
	raw, err := base58.Decode(s)
	if err != nil || len(raw) != KeySize {
		return key, ErrInvalidKey
	}
	copy(key[:], raw)
	return key, nil
}

// Wipe zeroes key material in place.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
