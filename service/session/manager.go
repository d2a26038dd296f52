// Package session implements the encrypted counterparty session protocol:
// connect, disconnect and validation of every signed request.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/helium/wallet-app-sub004/service/account"
	"github.com/helium/wallet-app-sub004/service/codec"
	"github.com/helium/wallet-app-sub004/service/metrics"
)

var (
	// ErrSessionNotFound is returned when no session exists for the counterparty.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionMismatch is returned when the presented session differs from the stored one.
	ErrSessionMismatch = errors.New("session mismatch")
	// ErrAccountNotFound is returned when the session owner is no longer a local account.
	ErrAccountNotFound = errors.New("account not found please reconnect")
	// ErrMissingAppURL is returned by Connect without an origin.
	ErrMissingAppURL = errors.New("app_url is required")
)

// Metadata is the session token content shared with the counterparty.
type Metadata struct {
	AppURL    string `json:"app_url"`
	Timestamp string `json:"timestamp"`
	Chain     string `json:"chain,omitempty"`
	Cluster   string `json:"cluster,omitempty"`
}

// ConnectResult is returned to the counterparty after a successful connect.
type ConnectResult struct {
	// EncryptionPublicKey is the wallet's ephemeral key for this session.
	EncryptionPublicKey [codec.KeySize]byte
	Payload             codec.EncryptedPayload
	Session             string
}

// connectAck is the plaintext of the connect response.
type connectAck struct {
	Session   string `json:"session"`
	PublicKey string `json:"public_key"`
}

// Unwrapped is a decrypted, session-validated request. Owner is the account
// the session was established for; callers sign with it rather than any
// ambient selection.
type Unwrapped struct {
	Counterparty [codec.KeySize]byte
	Payload      json.RawMessage
	Session      Metadata
	Owner        *account.Account

	secret codec.SharedSecret
}

// Seal encrypts a response under the session's shared secret.
func (u *Unwrapped) Seal(v any) (codec.EncryptedPayload, error) {
	return codec.EncryptJSON(v, &u.secret)
}

// Manager runs the session state machine for every counterparty.
type Manager struct {
	store    *Store
	accounts account.Directory
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates a session manager. If metrics is nil, no metrics will be recorded.
func NewManager(store *Store, accounts account.Directory, m *metrics.Metrics, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		accounts: accounts,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

func (m *Manager) record(op string, err error) {
	if m.metrics == nil {
		return
	}
	status := "success"
	switch {
	case errors.Is(err, ErrSessionMismatch):
		status = "mismatch"
	case errors.Is(err, ErrSessionNotFound):
		status = "not_found"
	case errors.Is(err, codec.ErrDecryption):
		status = "decryption_error"
	case errors.Is(err, ErrAccountNotFound):
		status = "account_not_found"
	case err != nil:
		status = "error"
	}
	m.metrics.RecordSessionOp(op, status)
}

// Connect establishes a session for counterparty owned by owner. A second
// connect for the same counterparty replaces the previous session.
func (m *Manager) Connect(ctx context.Context, owner solana.PublicKey, counterparty [codec.KeySize]byte, meta Metadata) (result *ConnectResult, err error) {
	defer func() { m.record("connect", err) }()

	if meta.AppURL == "" {
		return nil, ErrMissingAppURL
	}
	if meta.Timestamp == "" {
		meta.Timestamp = m.now().UTC().Format(time.RFC3339Nano)
	}
	if meta.Chain == "" {
		meta.Chain = "solana"
	}

	if _, err := m.accounts.Lookup(ctx, owner); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	kp, err := codec.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	token, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}

	rec := Record{
		Counterparty: counterparty,
		SecretKey:    kp.Secret,
		Session:      string(token),
		Owner:        owner,
	}

	unlock := m.store.Lock(counterparty)
	defer unlock()

	if err := m.store.Put(ctx, rec); err != nil {
		return nil, err
	}

	secret := rec.SharedSecret()
	payload, err := codec.EncryptJSON(connectAck{Session: rec.Session, PublicKey: owner.String()}, &secret)
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "session connected",
		"counterparty", codec.EncodeKey(counterparty),
		"app_url", meta.AppURL,
		"owner", owner.String(),
	)

	return &ConnectResult{
		EncryptionPublicKey: kp.Public,
		Payload:             payload,
		Session:             rec.Session,
	}, nil
}

// Disconnect deletes the counterparty's session after validating the request.
func (m *Manager) Disconnect(ctx context.Context, counterparty [codec.KeySize]byte, payload codec.EncryptedPayload) (err error) {
	defer func() { m.record("disconnect", err) }()

	unlock := m.store.Lock(counterparty)
	defer unlock()

	rec, _, err := m.open(ctx, counterparty, payload)
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, rec.Counterparty); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "session disconnected", "counterparty", codec.EncodeKey(counterparty))
	return nil
}

// ValidateAndUnwrap decrypts a sign request, validates its session and
// resolves the owning account.
func (m *Manager) ValidateAndUnwrap(ctx context.Context, counterparty [codec.KeySize]byte, payload codec.EncryptedPayload) (u *Unwrapped, err error) {
	defer func() { m.record("validate", err) }()

	unlock := m.store.Lock(counterparty)
	defer unlock()

	rec, plaintext, err := m.open(ctx, counterparty, payload)
	if err != nil {
		return nil, err
	}

	owner, err := m.accounts.Lookup(ctx, rec.Owner)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	var meta Metadata
	if err := json.Unmarshal([]byte(rec.Session), &meta); err != nil {
		return nil, fmt.Errorf("corrupt stored session: %w", err)
	}

	return &Unwrapped{
		Counterparty: counterparty,
		Payload:      plaintext,
		Session:      meta,
		Owner:        owner,
		secret:       rec.SharedSecret(),
	}, nil
}

// open loads the record, decrypts payload and checks the embedded session.
// Callers hold the counterparty lock.
func (m *Manager) open(ctx context.Context, counterparty [codec.KeySize]byte, payload codec.EncryptedPayload) (*Record, json.RawMessage, error) {
	rec, err := m.store.Get(ctx, counterparty)
	if err != nil {
		return nil, nil, err
	}

	secret := rec.SharedSecret()
	plaintext, err := codec.Decrypt(payload, &secret)
	if err != nil {
		m.logger.WarnContext(ctx, "failed to decrypt request", "counterparty", codec.EncodeKey(counterparty))
		return nil, nil, err
	}

	var envelope struct {
		Session json.RawMessage `json:"session"`
	}
	if err := json.Unmarshal(plaintext, &envelope); err != nil {
		return nil, nil, fmt.Errorf("%w: payload is not valid JSON", codec.ErrDecryption)
	}

	if !sessionsEqual(rec.Session, envelope.Session) {
		m.logger.WarnContext(ctx, "session mismatch", "counterparty", codec.EncodeKey(counterparty))
		return nil, nil, ErrSessionMismatch
	}
	return rec, plaintext, nil
}

// sessionsEqual compares the stored token with the presented one
// structurally, so key order and whitespace do not matter. The presented
// session may be the token string or the decoded object.
func sessionsEqual(stored string, presented json.RawMessage) bool {
	if len(presented) == 0 {
		return false
	}

	var token string
	if err := json.Unmarshal(presented, &token); err == nil {
		presented = json.RawMessage(token)
	}

	var want, got any
	if err := json.Unmarshal([]byte(stored), &want); err != nil {
		return false
	}
	if err := json.Unmarshal(presented, &got); err != nil {
		return false
	}
	return reflect.DeepEqual(want, got)
}
