package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/helium/wallet-app-sub004/service/codec"
	"github.com/helium/wallet-app-sub004/service/storage"
)

// AppSessionsKey is the secure storage item holding every session.
const AppSessionsKey = "appSessions"

// Record is one counterparty session.
type Record struct {
	Counterparty [codec.KeySize]byte
	// SecretKey is the wallet's ephemeral secret for this session.
	SecretKey [codec.KeySize]byte
	// Session is the JSON session token handed to the counterparty at connect.
	Session string
	Owner   solana.PublicKey
}

// SharedSecret derives the session's symmetric key.
func (r *Record) SharedSecret() codec.SharedSecret {
	return codec.DeriveSharedSecret(r.Counterparty, r.SecretKey)
}

// storedRecord is the persisted form; every field is a string.
type storedRecord struct {
	SecretKey string `json:"secretKey"`
	Session   string `json:"session"`
	PublicKey string `json:"publicKey"`
}

// Store persists session records as a JSON map from counterparty key to a
// serialized record inside a single storage item.
type Store struct {
	storage storage.Storage

	// mapMu serializes read-modify-write of the persisted map.
	mapMu sync.Mutex

	locksMu sync.Mutex
	locks   map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore creates a session store.
func NewStore(s storage.Storage) *Store {
	return &Store{storage: s, locks: make(map[string]*keyLock)}
}

// Lock serializes operations for one counterparty. Operations on different
// counterparties do not block each other apart from the brief map update.
func (s *Store) Lock(counterparty [codec.KeySize]byte) (unlock func()) {
	key := codec.EncodeKey(counterparty)

	s.locksMu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.locksMu.Unlock()
	}
}

func (s *Store) readMap(ctx context.Context) (map[string]string, error) {
	raw, err := s.storage.GetItem(ctx, AppSessionsKey)
	if errors.Is(err, storage.ErrNotFound) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}

	sessions := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		return nil, fmt.Errorf("failed to parse sessions: %w", err)
	}
	return sessions, nil
}

func (s *Store) writeMap(ctx context.Context, sessions map[string]string) error {
	raw, err := json.Marshal(sessions)
	if err != nil {
		return err
	}
	if err := s.storage.SetItem(ctx, AppSessionsKey, string(raw)); err != nil {
		return fmt.Errorf("failed to write sessions: %w", err)
	}
	return nil
}

// Get returns the record for counterparty or ErrSessionNotFound.
func (s *Store) Get(ctx context.Context, counterparty [codec.KeySize]byte) (*Record, error) {
	s.mapMu.Lock()
	sessions, err := s.readMap(ctx)
	s.mapMu.Unlock()
	if err != nil {
		return nil, err
	}

	key := codec.EncodeKey(counterparty)
	raw, ok := sessions[key]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return decodeRecord(key, raw)
}

// Put stores r, replacing any previous record for the counterparty.
func (s *Store) Put(ctx context.Context, r Record) error {
	raw, err := json.Marshal(storedRecord{
		SecretKey: codec.EncodeKey(r.SecretKey),
		Session:   r.Session,
		PublicKey: r.Owner.String(),
	})
	if err != nil {
		return err
	}

	s.mapMu.Lock()
	defer s.mapMu.Unlock()

	sessions, err := s.readMap(ctx)
	if err != nil {
		return err
	}
	sessions[codec.EncodeKey(r.Counterparty)] = string(raw)
	return s.writeMap(ctx, sessions)
}

// Delete removes the record for counterparty. Missing records yield ErrSessionNotFound.
func (s *Store) Delete(ctx context.Context, counterparty [codec.KeySize]byte) error {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()

	sessions, err := s.readMap(ctx)
	if err != nil {
		return err
	}
	key := codec.EncodeKey(counterparty)
	if _, ok := sessions[key]; !ok {
		return ErrSessionNotFound
	}
	delete(sessions, key)
	return s.writeMap(ctx, sessions)
}

// List returns all records ordered by counterparty key. Corrupt entries are skipped.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	s.mapMu.Lock()
	sessions, err := s.readMap(ctx)
	s.mapMu.Unlock()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(sessions))
	for k := range sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	records := make([]Record, 0, len(keys))
	for _, k := range keys {
		r, err := decodeRecord(k, sessions[k])
		if err != nil {
			continue
		}
		records = append(records, *r)
	}
	return records, nil
}

func decodeRecord(key, raw string) (*Record, error) {
	var stored storedRecord
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("corrupt session record: %w", err)
	}

	counterparty, err := codec.DecodeKey(key)
	if err != nil {
		return nil, fmt.Errorf("corrupt session key: %w", err)
	}
	secret, err := codec.DecodeKey(stored.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("corrupt session secret: %w", err)
	}
	owner, err := solana.PublicKeyFromBase58(stored.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("corrupt session owner: %w", err)
	}

	return &Record{
		Counterparty: counterparty,
		SecretKey:    secret,
		Session:      stored.Session,
		Owner:        owner,
	}, nil
}
