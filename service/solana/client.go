package solana

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/helium/wallet-app-sub004/service/metrics"
	"golang.org/x/time/rate"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetMultipleAccounts(ctx context.Context, accounts ...solana.PublicKey) (*rpc.GetMultipleAccountsResult, error)
	SimulateTransaction(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error)
	GetFeeForMessage(ctx context.Context, message string, commitment rpc.CommitmentType) (*rpc.GetFeeForMessageResult, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment rpc.CommitmentType) (uint64, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	RPCCallForInto(ctx context.Context, out any, method string, params []any) error
}

// maxAccountsPerCall is the getMultipleAccounts limit enforced by RPC nodes.
const maxAccountsPerCall = 100

// lamportsPerSignature is the base fee used when the node cannot price a message.
const lamportsPerSignature = 5000

// ErrAccountNotFound is returned when a single-account lookup finds nothing.
var ErrAccountNotFound = errors.New("account not found")

// Client wraps the RPC client with the wallet's chain operations.
type Client struct {
	rpc         RPCClient
	das         RPCClient
	logger      *slog.Logger
	metrics     *metrics.Metrics
	endpoint    string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
	limiter     *rate.Limiter
	maxAttempts int
	commitment  rpc.CommitmentType
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithRateLimit caps outgoing calls at rps requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithMaxAttempts sets how many times a read call is attempted.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithDAS routes compressed-asset queries to a separate DAS-capable endpoint.
func WithDAS(das RPCClient) Option {
	return func(c *Client) {
		c.das = das
	}
}

// WithCommitment overrides the default "confirmed" commitment.
func WithCommitment(commitment rpc.CommitmentType) Option {
	return func(c *Client) {
		c.commitment = commitment
	}
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		rpc:         rpcClient,
		das:         rpcClient,
		logger:      logger,
		metrics:     m,
		endpoint:    endpoint,
		maxAttempts: 3,
		commitment:  rpc.CommitmentConfirmed,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// call runs fn with rate limiting, metrics, and retry with exponential backoff.
// Rate limited responses (429) back off longer than other failures.
func (c *Client) call(ctx context.Context, method string, attempts int, fn func() error) error {
	var err error
	for attempt := range attempts {
		if c.limiter != nil {
			if werr := c.limiter.Wait(ctx); werr != nil {
				return werr
			}
		}

		start := time.Now()
		err = fn()
		status := "success"
		if err != nil {
			status = "error"
		}
		if c.metrics != nil {
			c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || attempt == attempts-1 {
			break
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second // 1s, 2s, 4s
		reason := "timeout_or_error"
		if strings.Contains(err.Error(), "429") {
			backoff = time.Duration(2<<uint(attempt)) * time.Second // 2s, 4s, 8s
			reason = "rate_limit"
			if c.metrics != nil {
				c.metrics.RecordRateLimitHit(c.endpoint)
			}
		}
		if c.metrics != nil {
			c.metrics.RecordRPCRetry(method, reason)
		}
		c.logger.WarnContext(ctx, "rpc call failed, retrying",
			"method", method,
			"attempt", attempt+1,
			"reason", reason,
			"backoff_seconds", backoff.Seconds(),
			"error", err,
		)
		if serr := c.sleep(ctx, backoff); serr != nil {
			return serr
		}
	}
	return err
}

// GetBalance returns the lamport balance of an account.
func (c *Client) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	var out *rpc.GetBalanceResult
	err := c.call(ctx, "GetBalance", c.maxAttempts, func() error {
		var err error
		out, err = c.rpc.GetBalance(ctx, account, c.commitment)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get balance of %s: %w", account, err)
	}
	return out.Value, nil
}

// GetMultipleAccounts fetches accounts in batches. The result is aligned
// with the input; missing accounts are nil.
func (c *Client) GetMultipleAccounts(ctx context.Context, accounts []solana.PublicKey) ([]*AccountSnapshot, error) {
	result := make([]*AccountSnapshot, 0, len(accounts))
	for start := 0; start < len(accounts); start += maxAccountsPerCall {
		end := min(start+maxAccountsPerCall, len(accounts))
		batch := accounts[start:end]

		var out *rpc.GetMultipleAccountsResult
		err := c.call(ctx, "GetMultipleAccounts", c.maxAttempts, func() error {
			var err error
			out, err = c.rpc.GetMultipleAccounts(ctx, batch...)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("get multiple accounts: %w", err)
		}
		if len(out.Value) != len(batch) {
			return nil, fmt.Errorf("get multiple accounts: expected %d results, got %d", len(batch), len(out.Value))
		}
		for i, acct := range out.Value {
			result = append(result, snapshotFromRPC(batch[i], acct))
		}
	}

	c.logger.DebugContext(ctx, "fetched accounts", "requested", len(accounts))
	return result, nil
}

// GetAccount fetches a single account.
func (c *Client) GetAccount(ctx context.Context, account solana.PublicKey) (*AccountSnapshot, error) {
	accounts, err := c.GetMultipleAccounts(ctx, []solana.PublicKey{account})
	if err != nil {
		return nil, err
	}
	if accounts[0] == nil {
		return nil, fmt.Errorf("%s: %w", account, ErrAccountNotFound)
	}
	return accounts[0], nil
}

func snapshotFromRPC(address solana.PublicKey, acct *rpc.Account) *AccountSnapshot {
	if acct == nil {
		return nil
	}
	snap := &AccountSnapshot{
		Address:    address,
		Lamports:   acct.Lamports,
		Owner:      acct.Owner,
		Executable: acct.Executable,
	}
	if acct.Data != nil {
		snap.Data = acct.Data.GetBinary()
	}
	if acct.RentEpoch != nil && acct.RentEpoch.IsUint64() {
		snap.RentEpoch = acct.RentEpoch.Uint64()
	}
	return snap
}

// Simulate dry-runs a transaction and returns the post-execution state of
// the requested addresses. Unsigned slots are padded so partially signed
// transactions can be simulated; signatures are not verified.
func (c *Client) Simulate(ctx context.Context, tx *solana.Transaction, addresses []solana.PublicKey) (*SimulationOutcome, error) {
	padded := padSignatures(tx)
	opts := &rpc.SimulateTransactionOpts{
		SigVerify:              false,
		Commitment:             c.commitment,
		ReplaceRecentBlockhash: true,
	}
	if len(addresses) > 0 {
		opts.Accounts = &rpc.SimulateTransactionAccountsOpts{
			Encoding:  solana.EncodingBase64,
			Addresses: addresses,
		}
	}

	var out *rpc.SimulateTransactionResponse
	err := c.call(ctx, "SimulateTransaction", c.maxAttempts, func() error {
		var err error
		out, err = c.rpc.SimulateTransaction(ctx, padded, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("simulate transaction: %w", err)
	}
	if out == nil || out.Value == nil {
		return nil, fmt.Errorf("simulate transaction: empty response")
	}

	outcome := &SimulationOutcome{
		Err:  out.Value.Err,
		Logs: out.Value.Logs,
	}
	if out.Value.UnitsConsumed != nil {
		outcome.UnitsConsumed = *out.Value.UnitsConsumed
	}
	if out.Value.Err == nil && len(out.Value.Accounts) != len(addresses) {
		return nil, fmt.Errorf("simulate transaction: expected %d accounts, got %d", len(addresses), len(out.Value.Accounts))
	}
	for i, acct := range out.Value.Accounts {
		if i >= len(addresses) {
			break
		}
		outcome.Accounts = append(outcome.Accounts, snapshotFromRPC(addresses[i], acct))
	}
	return outcome, nil
}

func padSignatures(tx *solana.Transaction) *solana.Transaction {
	required := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) >= required {
		return tx
	}
	cp := *tx
	cp.Signatures = make([]solana.Signature, required)
	copy(cp.Signatures, tx.Signatures)
	return &cp
}

// GetFee returns the base fee for a message in lamports.
func (c *Client) GetFee(ctx context.Context, msg *solana.Message) (uint64, error) {
	raw, err := msg.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("marshal message: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	var out *rpc.GetFeeForMessageResult
	err = c.call(ctx, "GetFeeForMessage", c.maxAttempts, func() error {
		var err error
		out, err = c.rpc.GetFeeForMessage(ctx, encoded, c.commitment)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get fee for message: %w", err)
	}
	if out == nil || out.Value == nil {
		// The node returns null for an expired blockhash.
		return uint64(msg.Header.NumRequiredSignatures) * lamportsPerSignature, nil
	}
	return *out.Value, nil
}

// GetMinimumBalanceForRentExemption returns the rent-exempt minimum for dataSize bytes.
func (c *Client) GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64) (uint64, error) {
	var out uint64
	err := c.call(ctx, "GetMinimumBalanceForRentExemption", c.maxAttempts, func() error {
		var err error
		out, err = c.rpc.GetMinimumBalanceForRentExemption(ctx, dataSize, c.commitment)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get minimum balance for rent exemption: %w", err)
	}
	return out, nil
}

// SendTransaction submits a signed transaction. Submission is attempted once.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction, opts SendOptions) (solana.Signature, error) {
	rpcOpts := rpc.TransactionOpts{
		SkipPreflight:       opts.SkipPreflight,
		PreflightCommitment: c.commitment,
		MaxRetries:          opts.MaxRetries,
	}
	if opts.PreflightCommitment != "" {
		rpcOpts.PreflightCommitment = rpc.CommitmentType(opts.PreflightCommitment)
	}

	var sig solana.Signature
	err := c.call(ctx, "SendTransaction", 1, func() error {
		var err error
		sig, err = c.rpc.SendTransaction(ctx, tx, rpcOpts)
		return err
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}

	c.logger.InfoContext(ctx, "transaction submitted", "signature", sig.String())
	return sig, nil
}

// GetTokenBalances returns owner's associated token account balance for each mint.
func (c *Client) GetTokenBalances(ctx context.Context, owner solana.PublicKey, mints []solana.PublicKey) ([]TokenBalance, error) {
	balances := make([]TokenBalance, len(mints))
	atas := make([]solana.PublicKey, len(mints))
	for i, mint := range mints {
		ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
		if err != nil {
			return nil, fmt.Errorf("derive token account for %s: %w", mint, err)
		}
		atas[i] = ata
		balances[i] = TokenBalance{Mint: mint, Account: ata}
	}

	accounts, err := c.GetMultipleAccounts(ctx, atas)
	if err != nil {
		return nil, err
	}
	for i, acct := range accounts {
		if acct == nil {
			continue
		}
		decoded, err := DecodeTokenAccount(acct.Data)
		if err != nil {
			return nil, fmt.Errorf("decode token account %s: %w", atas[i], err)
		}
		balances[i].Amount = decoded.Amount
		balances[i].Exists = true
	}
	return balances, nil
}

type searchAssetsResult struct {
	Total int               `json:"total"`
	Items []CompressedAsset `json:"items"`
}

// SearchCompressedAssets lists compressed assets held by owner in a merkle tree.
func (c *Client) SearchCompressedAssets(ctx context.Context, owner, tree solana.PublicKey, limit int) ([]CompressedAsset, error) {
	params := []any{map[string]any{
		"ownerAddress": owner.String(),
		"tree":         tree.String(),
		"compressed":   true,
		"page":         1,
		"limit":        limit,
	}}

	var out searchAssetsResult
	err := c.call(ctx, "searchAssets", c.maxAttempts, func() error {
		return c.das.RPCCallForInto(ctx, &out, "searchAssets", params)
	})
	if err != nil {
		return nil, fmt.Errorf("search assets in tree %s: %w", tree, err)
	}
	return out.Items, nil
}
