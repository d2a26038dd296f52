package client

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/helium/wallet-app-sub004/service/codec"
	"github.com/mr-tron/base58"
)

// ErrNotConnected is returned when a sign URL is requested before connect.
var ErrNotConnected = errors.New("not connected to wallet")

// ProviderError is an error answered on the redirect link.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("wallet returned error %d: %s", e.Code, e.Message)
}

// Rejected reports whether the user declined the request.
func (e *ProviderError) Rejected() bool {
	return e.Code == -32000
}

// SendOptions are forwarded with signAndSendTransaction.
type SendOptions struct {
	SkipPreflight       bool   `json:"skipPreflight,omitempty"`
	PreflightCommitment string `json:"preflightCommitment,omitempty"`
	MaxRetries          *uint  `json:"maxRetries,omitempty"`
}

// Dapp is the counterparty side of the deep link protocol. It owns an
// ephemeral box keypair, builds provider URLs and opens the wallet's
// encrypted responses. Safe for concurrent use.
type Dapp struct {
	appURL       string
	redirectLink string
	cluster      string
	keys         codec.KeyPair

	mu      sync.Mutex
	secret  *codec.SharedSecret
	session string
	owner   solana.PublicKey
}

// NewDapp creates a counterparty identity for appURL. Responses are sent to
// redirectLink.
func NewDapp(appURL, redirectLink, cluster string) (*Dapp, error) {
	keys, err := codec.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Dapp{appURL: appURL, redirectLink: redirectLink, cluster: cluster, keys: keys}, nil
}

// PublicKey is the base58 encryption key the wallet sees.
func (d *Dapp) PublicKey() string {
	return codec.EncodeKey(d.keys.Public)
}

// Owner is the connected wallet account.
func (d *Dapp) Owner() (solana.PublicKey, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.owner, d.secret != nil
}

// ConnectURL builds the connect request against a provider base such as
// https://wallet.example/v1/provider.
func (d *Dapp) ConnectURL(providerBase string) string {
	q := url.Values{
		"dapp_encryption_public_key": {d.PublicKey()},
		"app_url":                    {d.appURL},
		"redirect_link":              {d.redirectLink},
	}
	if d.cluster != "" {
		q.Set("cluster", d.cluster)
	}
	return providerBase + "/connect?" + q.Encode()
}

// HandleConnect completes the handshake from the connect redirect parameters.
func (d *Dapp) HandleConnect(params url.Values) error {
	if err := providerError(params); err != nil {
		return err
	}
	walletKey, err := codec.DecodeKey(params.Get("helium_encryption_public_key"))
	if err != nil {
		return fmt.Errorf("invalid wallet encryption key: %w", err)
	}
	secret := codec.DeriveSharedSecret(walletKey, d.keys.Secret)

	var ack struct {
		Session   string `json:"session"`
		PublicKey string `json:"public_key"`
	}
	if err := open(params, &secret, &ack); err != nil {
		return err
	}
	owner, err := solana.PublicKeyFromBase58(ack.PublicKey)
	if err != nil {
		return fmt.Errorf("invalid wallet account: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.secret = &secret
	d.session = ack.Session
	d.owner = owner
	return nil
}

// DisconnectURL builds a disconnect request and forgets the session locally.
func (d *Dapp) DisconnectURL(providerBase string) (string, error) {
	u, err := d.requestURL(providerBase, "disconnect", map[string]any{})
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	d.secret = nil
	d.session = ""
	d.owner = solana.PublicKey{}
	d.mu.Unlock()
	return u, nil
}

// SignTransactionURL asks the wallet to sign tx.
func (d *Dapp) SignTransactionURL(providerBase string, tx *solana.Transaction) (string, error) {
	encoded, err := encodeTransaction(tx)
	if err != nil {
		return "", err
	}
	return d.requestURL(providerBase, "signTransaction", map[string]any{"transaction": encoded})
}

// SignAllTransactionsURL asks the wallet to sign every transaction in txs.
func (d *Dapp) SignAllTransactionsURL(providerBase string, txs []*solana.Transaction) (string, error) {
	encoded := make([]string, len(txs))
	for i, tx := range txs {
		e, err := encodeTransaction(tx)
		if err != nil {
			return "", fmt.Errorf("transaction %d: %w", i, err)
		}
		encoded[i] = e
	}
	return d.requestURL(providerBase, "signAllTransactions", map[string]any{"transactions": encoded})
}

// SignAndSendTransactionURL asks the wallet to sign and submit tx.
func (d *Dapp) SignAndSendTransactionURL(providerBase string, tx *solana.Transaction, opts *SendOptions) (string, error) {
	encoded, err := encodeTransaction(tx)
	if err != nil {
		return "", err
	}
	body := map[string]any{"transaction": encoded}
	if opts != nil {
		body["sendOptions"] = opts
	}
	return d.requestURL(providerBase, "signAndSendTransaction", body)
}

// SignMessageURL asks the wallet to sign message. display is "utf8" or "hex".
func (d *Dapp) SignMessageURL(providerBase string, message []byte, display string) (string, error) {
	if display == "" {
		display = "utf8"
	}
	return d.requestURL(providerBase, "signMessage", map[string]any{
		"message": base58.Encode(message),
		"display": display,
	})
}

func (d *Dapp) requestURL(providerBase, method string, body map[string]any) (string, error) {
	d.mu.Lock()
	secret, session := d.secret, d.session
	d.mu.Unlock()
	if secret == nil {
		return "", ErrNotConnected
	}

	body["session"] = session
	payload, err := codec.EncryptJSON(body, secret)
	if err != nil {
		return "", err
	}
	q := url.Values{
		"dapp_encryption_public_key": {d.PublicKey()},
		"nonce":                      {payload.EncodedNonce()},
		"payload":                    {payload.EncodedData()},
		"redirect_link":              {d.redirectLink},
	}
	return providerBase + "/" + method + "?" + q.Encode(), nil
}

// Open decrypts a sign response into out.
func (d *Dapp) Open(params url.Values, out any) error {
	if err := providerError(params); err != nil {
		return err
	}
	d.mu.Lock()
	secret := d.secret
	d.mu.Unlock()
	if secret == nil {
		return ErrNotConnected
	}
	return open(params, secret, out)
}

// SignedTransaction opens a signTransaction response.
func (d *Dapp) SignedTransaction(params url.Values) (*solana.Transaction, error) {
	var body struct {
		Transaction string `json:"transaction"`
	}
	if err := d.Open(params, &body); err != nil {
		return nil, err
	}
	return decodeTransaction(body.Transaction)
}

// SignedTransactions opens a signAllTransactions response.
func (d *Dapp) SignedTransactions(params url.Values) ([]*solana.Transaction, error) {
	var body struct {
		Transactions []string `json:"transactions"`
	}
	if err := d.Open(params, &body); err != nil {
		return nil, err
	}
	txs := make([]*solana.Transaction, len(body.Transactions))
	for i, encoded := range body.Transactions {
		tx, err := decodeTransaction(encoded)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		txs[i] = tx
	}
	return txs, nil
}

// Signature opens a signAndSendTransaction or signMessage response.
func (d *Dapp) Signature(params url.Values) (solana.Signature, error) {
	var body struct {
		Signature string `json:"signature"`
	}
	if err := d.Open(params, &body); err != nil {
		return solana.Signature{}, err
	}
	return solana.SignatureFromBase58(body.Signature)
}

func providerError(params url.Values) error {
	raw := params.Get("errorCode")
	if raw == "" {
		return nil
	}
	code, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid errorCode %q", raw)
	}
	return &ProviderError{Code: code, Message: params.Get("errorMessage")}
}

func open(params url.Values, secret *codec.SharedSecret, out any) error {
	payload, err := codec.ParseEncryptedPayload(params.Get("nonce"), params.Get("data"))
	if err != nil {
		return err
	}
	return codec.DecryptJSON(payload, secret, out)
}

// encodeTransaction serializes tx with zero-filled slots for missing signatures.
func encodeTransaction(tx *solana.Transaction) (string, error) {
	if n := int(tx.Message.Header.NumRequiredSignatures); len(tx.Signatures) < n {
		sigs := make([]solana.Signature, n)
		copy(sigs, tx.Signatures)
		tx.Signatures = sigs
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return base58.Encode(raw), nil
}

func decodeTransaction(encoded string) (*solana.Transaction, error) {
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction encoding: %w", err)
	}
	return solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
}

