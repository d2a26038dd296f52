package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/helium/wallet-app-sub004/service/account"
	"github.com/helium/wallet-app-sub004/service/codec"
	"github.com/helium/wallet-app-sub004/service/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	storage  *storage.MemoryStorage
	store    *Store
	accounts *account.Store
	manager  *Manager
	owner    solana.PublicKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := storage.NewMemoryStorage()
	accounts := account.NewStore(mem)
	owner := solana.NewWallet().PublicKey()
	require.NoError(t, accounts.Upsert(ctx, account.Account{Alias: "main", SolanaAddress: owner}))

	store := NewStore(mem)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	m := NewManager(store, accounts, nil, logger)
	m.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	return &fixture{storage: mem, store: store, accounts: accounts, manager: m, owner: owner}
}

// dapp is the counterparty side of a session.
type dapp struct {
	keys    codec.KeyPair
	secret  codec.SharedSecret
	session string
}

func (f *fixture) connect(t *testing.T) *dapp {
	t.Helper()
	keys, err := codec.GenerateKeyPair()
	require.NoError(t, err)

	res, err := f.manager.Connect(context.Background(), f.owner, keys.Public, Metadata{AppURL: "https://app.example"})
	require.NoError(t, err)

	d := &dapp{keys: keys, secret: codec.DeriveSharedSecret(res.EncryptionPublicKey, keys.Secret)}
	var ack connectAck
	require.NoError(t, codec.DecryptJSON(res.Payload, &d.secret, &ack))
	d.session = ack.Session
	return d
}

func (d *dapp) request(t *testing.T, body map[string]any) codec.EncryptedPayload {
	t.Helper()
	p, err := codec.EncryptJSON(body, &d.secret)
	require.NoError(t, err)
	return p
}

func TestConnect_PersistsRecordAndAcks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	keys, err := codec.GenerateKeyPair()
	require.NoError(t, err)

	res, err := f.manager.Connect(ctx, f.owner, keys.Public, Metadata{AppURL: "https://app.example", Cluster: "devnet"})
	require.NoError(t, err)
	assert.NotEqual(t, f.owner[:], res.EncryptionPublicKey[:])

	secret := codec.DeriveSharedSecret(res.EncryptionPublicKey, keys.Secret)
	var ack connectAck
	require.NoError(t, codec.DecryptJSON(res.Payload, &secret, &ack))
	assert.Equal(t, f.owner.String(), ack.PublicKey)

	var meta Metadata
	require.NoError(t, json.Unmarshal([]byte(ack.Session), &meta))
	assert.Equal(t, "https://app.example", meta.AppURL)
	assert.Equal(t, "solana", meta.Chain)
	assert.Equal(t, "devnet", meta.Cluster)
	assert.Equal(t, "2024-05-01T12:00:00Z", meta.Timestamp)

	// Persisted under the counterparty's base58 key with string fields.
	raw, err := f.storage.GetItem(ctx, AppSessionsKey)
	require.NoError(t, err)
	var sessions map[string]string
	require.NoError(t, json.Unmarshal([]byte(raw), &sessions))
	require.Contains(t, sessions, codec.EncodeKey(keys.Public))

	var stored storedRecord
	require.NoError(t, json.Unmarshal([]byte(sessions[codec.EncodeKey(keys.Public)]), &stored))
	assert.Equal(t, f.owner.String(), stored.PublicKey)
	assert.Equal(t, ack.Session, stored.Session)
	assert.NotEmpty(t, stored.SecretKey)
}

func TestConnect_Validation(t *testing.T) {
	f := newFixture(t)
	keys, err := codec.GenerateKeyPair()
	require.NoError(t, err)

	_, err = f.manager.Connect(context.Background(), f.owner, keys.Public, Metadata{})
	assert.ErrorIs(t, err, ErrMissingAppURL)

	_, err = f.manager.Connect(context.Background(), solana.NewWallet().PublicKey(), keys.Public, Metadata{AppURL: "x"})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestConnect_OverwritesPreviousSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	keys, err := codec.GenerateKeyPair()
	require.NoError(t, err)
	first, err := f.manager.Connect(ctx, f.owner, keys.Public, Metadata{AppURL: "https://one.example"})
	require.NoError(t, err)
	second, err := f.manager.Connect(ctx, f.owner, keys.Public, Metadata{AppURL: "https://two.example"})
	require.NoError(t, err)
	assert.NotEqual(t, first.EncryptionPublicKey, second.EncryptionPublicKey)

	records, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Session, "two.example")
}

func TestValidateAndUnwrap(t *testing.T) {
	f := newFixture(t)
	d := f.connect(t)

	u, err := f.manager.ValidateAndUnwrap(context.Background(), d.keys.Public, d.request(t, map[string]any{
		"session":     d.session,
		"transaction": "abc",
	}))
	require.NoError(t, err)
	assert.Equal(t, f.owner, u.Owner.SolanaAddress)
	assert.Equal(t, "https://app.example", u.Session.AppURL)

	var body map[string]any
	require.NoError(t, json.Unmarshal(u.Payload, &body))
	assert.Equal(t, "abc", body["transaction"])

	// Sealed responses open on the counterparty side.
	sealed, err := u.Seal(map[string]string{"signature": "sig"})
	require.NoError(t, err)
	var out map[string]string
	require.NoError(t, codec.DecryptJSON(sealed, &d.secret, &out))
	assert.Equal(t, "sig", out["signature"])
}

func TestValidateAndUnwrap_StructuralEquality(t *testing.T) {
	f := newFixture(t)
	d := f.connect(t)

	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(d.session), &meta))

	// Same content, different key order, as a token string.
	reordered := fmt.Sprintf(`{"timestamp":%q,"chain":%q,"app_url":%q}`, meta["timestamp"], meta["chain"], meta["app_url"])
	_, err := f.manager.ValidateAndUnwrap(context.Background(), d.keys.Public, d.request(t, map[string]any{"session": reordered}))
	require.NoError(t, err)

	// Same content as an object.
	_, err = f.manager.ValidateAndUnwrap(context.Background(), d.keys.Public, d.request(t, map[string]any{"session": meta}))
	require.NoError(t, err)
}

func TestSessionMismatch_AnyMutation(t *testing.T) {
	f := newFixture(t)
	d := f.connect(t)

	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(d.session), &meta))

	mutations := map[string]func(m map[string]any){
		"timestamp":   func(m map[string]any) { m["timestamp"] = "2024-05-01T12:00:01Z" },
		"app_url":     func(m map[string]any) { m["app_url"] = "https://evil.example" },
		"added key":   func(m map[string]any) { m["cluster"] = "devnet" },
		"removed key": func(m map[string]any) { delete(m, "chain") },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			mutated := map[string]any{}
			for k, v := range meta {
				mutated[k] = v
			}
			mutate(mutated)
			token, err := json.Marshal(mutated)
			require.NoError(t, err)

			_, err = f.manager.ValidateAndUnwrap(context.Background(), d.keys.Public, d.request(t, map[string]any{"session": string(token)}))
			assert.ErrorIs(t, err, ErrSessionMismatch)

			err = f.manager.Disconnect(context.Background(), d.keys.Public, d.request(t, map[string]any{"session": string(token)}))
			assert.ErrorIs(t, err, ErrSessionMismatch)
		})
	}

	t.Run("missing session", func(t *testing.T) {
		_, err := f.manager.ValidateAndUnwrap(context.Background(), d.keys.Public, d.request(t, map[string]any{"transaction": "x"}))
		assert.ErrorIs(t, err, ErrSessionMismatch)
	})
}

func TestValidateAndUnwrap_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.connect(t)

	t.Run("unknown counterparty", func(t *testing.T) {
		other, err := codec.GenerateKeyPair()
		require.NoError(t, err)
		_, err = f.manager.ValidateAndUnwrap(ctx, other.Public, d.request(t, map[string]any{"session": d.session}))
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("wrong key", func(t *testing.T) {
		wrong := codec.SharedSecret{1}
		p, err := codec.EncryptJSON(map[string]any{"session": d.session}, &wrong)
		require.NoError(t, err)
		_, err = f.manager.ValidateAndUnwrap(ctx, d.keys.Public, p)
		assert.ErrorIs(t, err, codec.ErrDecryption)
	})

	t.Run("owner removed", func(t *testing.T) {
		require.NoError(t, f.accounts.Remove(ctx, f.owner))
		defer func() {
			require.NoError(t, f.accounts.Upsert(ctx, account.Account{Alias: "main", SolanaAddress: f.owner}))
		}()
		_, err := f.manager.ValidateAndUnwrap(ctx, d.keys.Public, d.request(t, map[string]any{"session": d.session}))
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}

func TestDisconnect_SecondCallFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.connect(t)

	require.NoError(t, f.manager.Disconnect(ctx, d.keys.Public, d.request(t, map[string]any{"session": d.session})))

	_, err := f.store.Get(ctx, d.keys.Public)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	err = f.manager.Disconnect(ctx, d.keys.Public, d.request(t, map[string]any{"session": d.session}))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestConnect_ConcurrentCounterparties(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys, err := codec.GenerateKeyPair()
			if err != nil {
				errs <- err
				return
			}
			_, err = f.manager.Connect(ctx, f.owner, keys.Public, Metadata{AppURL: "https://app.example"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	records, err := f.store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, n, "concurrent map updates must not drop sessions")
}
