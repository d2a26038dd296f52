package client

import (
	"net/url"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/helium/wallet-app-sub004/service/codec"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const providerBase = "https://wallet.example/v1/provider"

// walletSide plays the provider half of the handshake.
type walletSide struct {
	keys    codec.KeyPair
	secret  codec.SharedSecret
	session string
	owner   solana.PrivateKey
}

func connectedDapp(t *testing.T) (*Dapp, *walletSide) {
	t.Helper()
	d, err := NewDapp("https://dapp.example", "dapp://callback", "devnet")
	require.NoError(t, err)

	keys, err := codec.GenerateKeyPair()
	require.NoError(t, err)
	dappKey, err := codec.DecodeKey(d.PublicKey())
	require.NoError(t, err)

	w := &walletSide{
		keys:    keys,
		secret:  codec.DeriveSharedSecret(dappKey, keys.Secret),
		session: `{"app_url":"https://dapp.example","timestamp":"1700000000000","chain":"solana"}`,
		owner:   solana.NewWallet().PrivateKey,
	}

	ack, err := codec.EncryptJSON(map[string]string{
		"session":    w.session,
		"public_key": w.owner.PublicKey().String(),
	}, &w.secret)
	require.NoError(t, err)

	require.NoError(t, d.HandleConnect(url.Values{
		"helium_encryption_public_key": {codec.EncodeKey(keys.Public)},
		"nonce":                        {ack.EncodedNonce()},
		"data":                         {ack.EncodedData()},
	}))
	return d, w
}

// read decrypts a request URL the way the provider does.
func (w *walletSide) read(t *testing.T, rawURL string) (string, map[string]any) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	q := u.Query()
	p, err := codec.ParseEncryptedPayload(q.Get("nonce"), q.Get("payload"))
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, codec.DecryptJSON(p, &w.secret, &body))
	return u.Path[strings.LastIndex(u.Path, "/")+1:], body
}

func (w *walletSide) respond(t *testing.T, body any) url.Values {
	t.Helper()
	p, err := codec.EncryptJSON(body, &w.secret)
	require.NoError(t, err)
	return url.Values{"nonce": {p.EncodedNonce()}, "data": {p.EncodedData()}}
}

func transfer(t *testing.T, from solana.PublicKey) *solana.Transaction {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1000, from, solana.NewWallet().PublicKey()).Build()},
		solana.Hash{1},
		solana.TransactionPayer(from),
	)
	require.NoError(t, err)
	return tx
}

func TestConnectURL(t *testing.T) {
	d, err := NewDapp("https://dapp.example", "dapp://callback", "mainnet-beta")
	require.NoError(t, err)

	u, err := url.Parse(d.ConnectURL(providerBase))
	require.NoError(t, err)
	assert.Equal(t, "/v1/provider/connect", u.Path)
	q := u.Query()
	assert.Equal(t, d.PublicKey(), q.Get("dapp_encryption_public_key"))
	assert.Equal(t, "https://dapp.example", q.Get("app_url"))
	assert.Equal(t, "dapp://callback", q.Get("redirect_link"))
	assert.Equal(t, "mainnet-beta", q.Get("cluster"))

	_, connected := d.Owner()
	assert.False(t, connected)
}

func TestHandleConnect(t *testing.T) {
	d, w := connectedDapp(t)
	owner, connected := d.Owner()
	require.True(t, connected)
	assert.True(t, owner.Equals(w.owner.PublicKey()))
}

func TestHandleConnect_ProviderError(t *testing.T) {
	d, err := NewDapp("https://dapp.example", "dapp://callback", "")
	require.NoError(t, err)

	err = d.HandleConnect(url.Values{"errorCode": {"-32000"}, "errorMessage": {"User rejected the request"}})
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Rejected())
	assert.Equal(t, "User rejected the request", perr.Message)
}

func TestSignURLsRequireConnect(t *testing.T) {
	d, err := NewDapp("https://dapp.example", "dapp://callback", "")
	require.NoError(t, err)

	_, err = d.SignMessageURL(providerBase, []byte("hi"), "")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = d.Signature(url.Values{"nonce": {"x"}, "data": {"y"}})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSignTransactionRoundTrip(t *testing.T) {
	d, w := connectedDapp(t)
	tx := transfer(t, w.owner.PublicKey())

	raw, err := d.SignTransactionURL(providerBase, tx)
	require.NoError(t, err)

	method, body := w.read(t, raw)
	assert.Equal(t, "signTransaction", method)
	assert.Equal(t, w.session, body["session"])

	decoded, err := decodeTransaction(body["transaction"].(string))
	require.NoError(t, err)
	decoded.Signatures = nil
	_, err = decoded.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.owner.PublicKey()) {
			return &w.owner
		}
		return nil
	})
	require.NoError(t, err)
	signed, err := encodeTransaction(decoded)
	require.NoError(t, err)

	got, err := d.SignedTransaction(w.respond(t, map[string]string{"transaction": signed}))
	require.NoError(t, err)
	require.NoError(t, got.VerifySignatures())
}

func TestSignAllTransactionsURL(t *testing.T) {
	d, w := connectedDapp(t)
	txs := []*solana.Transaction{transfer(t, w.owner.PublicKey()), transfer(t, w.owner.PublicKey())}

	raw, err := d.SignAllTransactionsURL(providerBase, txs)
	require.NoError(t, err)
	method, body := w.read(t, raw)
	assert.Equal(t, "signAllTransactions", method)
	assert.Len(t, body["transactions"], 2)

	encoded := make([]string, len(txs))
	for i, tx := range txs {
		encoded[i], err = encodeTransaction(tx)
		require.NoError(t, err)
	}
	got, err := d.SignedTransactions(w.respond(t, map[string][]string{"transactions": encoded}))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSignAndSendURL_SendOptions(t *testing.T) {
	d, w := connectedDapp(t)

	raw, err := d.SignAndSendTransactionURL(providerBase, transfer(t, w.owner.PublicKey()), &SendOptions{SkipPreflight: true})
	require.NoError(t, err)
	method, body := w.read(t, raw)
	assert.Equal(t, "signAndSendTransaction", method)
	assert.Equal(t, map[string]any{"skipPreflight": true}, body["sendOptions"])
}

func TestSignMessageRoundTrip(t *testing.T) {
	d, w := connectedDapp(t)
	message := []byte("hello helium")

	raw, err := d.SignMessageURL(providerBase, message, "")
	require.NoError(t, err)
	method, body := w.read(t, raw)
	assert.Equal(t, "signMessage", method)
	assert.Equal(t, "utf8", body["display"])
	decoded, err := base58.Decode(body["message"].(string))
	require.NoError(t, err)
	assert.Equal(t, message, decoded)

	sig, err := w.owner.Sign(message)
	require.NoError(t, err)
	got, err := d.Signature(w.respond(t, map[string]string{"signature": sig.String()}))
	require.NoError(t, err)
	assert.True(t, got.Verify(w.owner.PublicKey(), message))
}

func TestDisconnectForgetsSession(t *testing.T) {
	d, w := connectedDapp(t)

	raw, err := d.DisconnectURL(providerBase)
	require.NoError(t, err)
	method, body := w.read(t, raw)
	assert.Equal(t, "disconnect", method)
	assert.Equal(t, w.session, body["session"])

	_, connected := d.Owner()
	assert.False(t, connected)
	_, err = d.DisconnectURL(providerBase)
	assert.ErrorIs(t, err, ErrNotConnected)
}
