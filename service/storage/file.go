package storage

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const envelopeVersion = 1

// ErrWrongPassphrase is returned when the store file cannot be opened with the given passphrase.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted store")

// envelope is the on-disk JSON structure holding the sealed item map and KDF parameters.
type envelope struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Nonce  []byte `json:"nonce"`
	Cipher []byte `json:"cipher"`
}

// ScryptParams are the key derivation tunables.
type ScryptParams struct {
	N, R, P int
}

// DefaultScryptParams are used for production stores.
var DefaultScryptParams = ScryptParams{N: 1 << 15, R: 8, P: 1}

// FileStorage keeps all items in a single passphrase-encrypted file.
// The key is derived once when the store is opened; each write reseals the
// whole map with a fresh nonce and atomically replaces the file.
type FileStorage struct {
	mu     sync.Mutex
	path   string
	key    []byte
	salt   []byte
	params ScryptParams
	items  map[string]string
}

// OpenFileStorage opens or creates the encrypted store at path.
func OpenFileStorage(path, passphrase string, params ScryptParams) (*FileStorage, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase is required")
	}

	fs := &FileStorage{path: path, params: params, items: make(map[string]string)}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		salt := make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		key, err := scrypt.Key([]byte(passphrase), salt, params.N, params.R, params.P, chacha20poly1305.KeySize)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key: %w", err)
		}
		fs.salt, fs.key = salt, key
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		return fs, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read storage file: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to parse storage file: %w", err)
	}
	if env.V > envelopeVersion {
		return nil, fmt.Errorf("unsupported storage version %d", env.V)
	}

	key, err := scrypt.Key([]byte(passphrase), env.Salt, env.N, env.R, env.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Cipher, env.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	if err := json.Unmarshal(plaintext, &fs.items); err != nil {
		return nil, fmt.Errorf("failed to parse storage contents: %w", err)
	}

	fs.salt, fs.key = env.Salt, key
	fs.params = ScryptParams{N: env.N, R: env.R, P: env.P}
	return fs, nil
}

func (f *FileStorage) GetItem(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.items[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *FileStorage) SetItem(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, existed := f.items[key]
	f.items[key] = value
	if err := f.persist(); err != nil {
		if existed {
			f.items[key] = prev
		} else {
			delete(f.items, key)
		}
		return err
	}
	return nil
}

func (f *FileStorage) RemoveItem(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, existed := f.items[key]
	if !existed {
		return nil
	}
	delete(f.items, key)
	if err := f.persist(); err != nil {
		f.items[key] = prev
		return err
	}
	return nil
}

// persist seals the item map and writes it via a temp file then rename.
// Callers hold f.mu.
func (f *FileStorage) persist() error {
	plaintext, err := json.Marshal(f.items)
	if err != nil {
		return fmt.Errorf("failed to marshal items: %w", err)
	}

	aead, err := chacha20poly1305.New(f.key)
	if err != nil {
		return err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	b, err := json.Marshal(envelope{
		V:      envelopeVersion,
		Salt:   f.salt,
		N:      f.params.N,
		R:      f.params.R,
		P:      f.params.P,
		Nonce:  nonce,
		Cipher: aead.Seal(nil, nonce, plaintext, f.salt),
	})
	if err != nil {
		return err
	}

	return writeFile(f.path, b, 0o600)
}

// writeFile writes bytes via a temp file, then atomically replaces the target.
func writeFile(path string, b []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	name := tmp.Name()
	defer func() { _ = os.Remove(name) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, path)
}
