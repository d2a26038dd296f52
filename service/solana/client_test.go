package solana

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	mu sync.Mutex

	balances   map[solana.PublicKey]uint64
	accounts   map[solana.PublicKey]*rpc.Account
	simulation *rpc.SimulateTransactionResult
	fee        *uint64
	rent       uint64
	sent       []*solana.Transaction
	dasResult  any

	// failures is consumed one error per call before succeeding
	failures []error

	batchSizes    []int
	simulatedWith *solana.Transaction
	simulateOpts  *rpc.SimulateTransactionOpts
	calls         int
}

func (m *mockRPCClient) nextErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.failures) == 0 {
		return nil
	}
	err := m.failures[0]
	m.failures = m.failures[1:]
	return err
}

func (m *mockRPCClient) GetBalance(ctx context.Context, account solana.PublicKey, _ rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	if err := m.nextErr(); err != nil {
		return nil, err
	}
	return &rpc.GetBalanceResult{Value: m.balances[account]}, nil
}

func (m *mockRPCClient) GetMultipleAccounts(ctx context.Context, accounts ...solana.PublicKey) (*rpc.GetMultipleAccountsResult, error) {
	if err := m.nextErr(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.batchSizes = append(m.batchSizes, len(accounts))
	m.mu.Unlock()

	out := &rpc.GetMultipleAccountsResult{}
	for _, a := range accounts {
		out.Value = append(out.Value, m.accounts[a])
	}
	return out, nil
}

func (m *mockRPCClient) SimulateTransaction(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error) {
	if err := m.nextErr(); err != nil {
		return nil, err
	}
	m.simulatedWith = tx
	m.simulateOpts = opts
	return &rpc.SimulateTransactionResponse{Value: m.simulation}, nil
}

func (m *mockRPCClient) GetFeeForMessage(ctx context.Context, message string, _ rpc.CommitmentType) (*rpc.GetFeeForMessageResult, error) {
	if err := m.nextErr(); err != nil {
		return nil, err
	}
	return &rpc.GetFeeForMessageResult{Value: m.fee}, nil
}

func (m *mockRPCClient) GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, _ rpc.CommitmentType) (uint64, error) {
	if err := m.nextErr(); err != nil {
		return 0, err
	}
	return m.rent, nil
}

func (m *mockRPCClient) SendTransaction(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	if err := m.nextErr(); err != nil {
		return solana.Signature{}, err
	}
	m.sent = append(m.sent, tx)
	return tx.Signatures[0], nil
}

func (m *mockRPCClient) RPCCallForInto(ctx context.Context, out any, method string, params []any) error {
	if err := m.nextErr(); err != nil {
		return err
	}
	if r, ok := out.(*searchAssetsResult); ok {
		*r = m.dasResult.(searchAssetsResult)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(mock *mockRPCClient, opts ...Option) *Client {
	c := NewClient(mock, "test", nil, testLogger(), opts...)
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return c
}

func transferTx(t *testing.T, from, to solana.PublicKey) *solana.Transaction {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1000, from, to).Build()},
		solana.Hash{1},
		solana.TransactionPayer(from),
	)
	require.NoError(t, err)
	return tx
}

func TestGetBalance_RetriesRateLimit(t *testing.T) {
	wallet := solana.NewWallet().PublicKey()
	mock := &mockRPCClient{
		balances: map[solana.PublicKey]uint64{wallet: 42},
		failures: []error{errors.New("HTTP 429 Too Many Requests")},
	}

	balance, err := newTestClient(mock).GetBalance(context.Background(), wallet)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), balance)
	assert.Equal(t, 2, mock.calls)
}

func TestGetBalance_GivesUpAfterMaxAttempts(t *testing.T) {
	mock := &mockRPCClient{
		failures: []error{errors.New("boom"), errors.New("boom"), errors.New("boom")},
	}

	_, err := newTestClient(mock, WithMaxAttempts(2)).GetBalance(context.Background(), solana.NewWallet().PublicKey())
	require.Error(t, err)
	assert.Equal(t, 2, mock.calls)
}

func TestGetBalance_CancelledContextStopsRetry(t *testing.T) {
	mock := &mockRPCClient{failures: []error{errors.New("boom"), errors.New("boom")}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(mock).GetBalance(ctx, solana.NewWallet().PublicKey())
	require.Error(t, err)
	assert.Equal(t, 1, mock.calls)
}

func TestGetMultipleAccounts_BatchesAndAligns(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	keys := make([]solana.PublicKey, 150)
	accounts := map[solana.PublicKey]*rpc.Account{}
	for i := range keys {
		keys[i] = solana.NewWallet().PublicKey()
		if i%2 == 0 {
			accounts[keys[i]] = &rpc.Account{
				Lamports: uint64(i),
				Owner:    owner,
				Data:     rpc.DataBytesOrJSONFromBytes([]byte{byte(i)}),
			}
		}
	}
	mock := &mockRPCClient{accounts: accounts}

	got, err := newTestClient(mock).GetMultipleAccounts(context.Background(), keys)
	require.NoError(t, err)
	require.Len(t, got, 150)
	assert.Equal(t, []int{100, 50}, mock.batchSizes)

	assert.Nil(t, got[1])
	require.NotNil(t, got[120])
	assert.Equal(t, keys[120], got[120].Address)
	assert.Equal(t, uint64(120), got[120].Lamports)
	assert.Equal(t, []byte{120}, got[120].Data)
}

func TestGetAccount_NotFound(t *testing.T) {
	mock := &mockRPCClient{accounts: map[solana.PublicKey]*rpc.Account{}}

	_, err := newTestClient(mock).GetAccount(context.Background(), solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestSimulate_PadsSignaturesAndMapsAccounts(t *testing.T) {
	from := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()
	tx := transferTx(t, from, to)
	require.Empty(t, tx.Signatures)

	units := uint64(150)
	mock := &mockRPCClient{
		simulation: &rpc.SimulateTransactionResult{
			Logs:          []string{"Program 11111111111111111111111111111111 success"},
			Accounts:      []*rpc.Account{{Lamports: 5, Owner: solana.SystemProgramID}, nil},
			UnitsConsumed: &units,
		},
	}

	outcome, err := newTestClient(mock).Simulate(context.Background(), tx, []solana.PublicKey{from, to})
	require.NoError(t, err)
	assert.False(t, outcome.Failed())
	assert.Equal(t, uint64(150), outcome.UnitsConsumed)
	require.Len(t, outcome.Accounts, 2)
	assert.Equal(t, from, outcome.Accounts[0].Address)
	assert.Nil(t, outcome.Accounts[1])

	require.NotNil(t, mock.simulatedWith)
	assert.Len(t, mock.simulatedWith.Signatures, 1)
	assert.Empty(t, tx.Signatures, "caller's transaction must not be modified")
	assert.False(t, mock.simulateOpts.SigVerify)
	assert.True(t, mock.simulateOpts.ReplaceRecentBlockhash)
}

func TestSimulate_ExecutionErrorIsNotAnRPCError(t *testing.T) {
	from := solana.NewWallet().PublicKey()
	mock := &mockRPCClient{
		simulation: &rpc.SimulateTransactionResult{
			Err:  map[string]any{"InstructionError": []any{0, "InsufficientFunds"}},
			Logs: []string{"Program log: insufficient lamports"},
		},
	}

	outcome, err := newTestClient(mock).Simulate(context.Background(), transferTx(t, from, solana.NewWallet().PublicKey()), []solana.PublicKey{from})
	require.NoError(t, err)
	assert.True(t, outcome.Failed())
	assert.Empty(t, outcome.Accounts)
}

func TestGetFee(t *testing.T) {
	from := solana.NewWallet().PublicKey()
	tx := transferTx(t, from, solana.NewWallet().PublicKey())

	t.Run("node price", func(t *testing.T) {
		fee := uint64(10000)
		got, err := newTestClient(&mockRPCClient{fee: &fee}).GetFee(context.Background(), &tx.Message)
		require.NoError(t, err)
		assert.Equal(t, uint64(10000), got)
	})

	t.Run("expired blockhash falls back to signature count", func(t *testing.T) {
		got, err := newTestClient(&mockRPCClient{}).GetFee(context.Background(), &tx.Message)
		require.NoError(t, err)
		assert.Equal(t, uint64(5000), got)
	})
}

func TestSendTransaction_NoRetry(t *testing.T) {
	from := solana.NewWallet()
	tx := transferTx(t, from.PublicKey(), solana.NewWallet().PublicKey())
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(from.PublicKey()) {
			return &from.PrivateKey
		}
		return nil
	})
	require.NoError(t, err)

	mock := &mockRPCClient{failures: []error{errors.New("blockhash not found")}}
	_, err = newTestClient(mock).SendTransaction(context.Background(), tx, SendOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, mock.calls)

	sig, err := newTestClient(mock).SendTransaction(context.Background(), tx, SendOptions{SkipPreflight: true})
	require.NoError(t, err)
	assert.Equal(t, tx.Signatures[0], sig)
}

func TestGetTokenBalances(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	hnt := solana.NewWallet().PublicKey()
	mobile := solana.NewWallet().PublicKey()

	hntATA, _, err := solana.FindAssociatedTokenAddress(owner, hnt)
	require.NoError(t, err)

	mock := &mockRPCClient{accounts: map[solana.PublicKey]*rpc.Account{
		hntATA: {
			Owner: TokenProgramID,
			Data:  rpc.DataBytesOrJSONFromBytes(tokenAccountData(hnt, owner, 77)),
		},
	}}

	balances, err := newTestClient(mock).GetTokenBalances(context.Background(), owner, []solana.PublicKey{hnt, mobile})
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.True(t, balances[0].Exists)
	assert.Equal(t, uint64(77), balances[0].Amount)
	assert.Equal(t, hntATA, balances[0].Account)
	assert.False(t, balances[1].Exists)
}

func TestSearchCompressedAssets(t *testing.T) {
	var asset CompressedAsset
	asset.ID = "asset-1"
	asset.Content.Metadata.Name = "Hotspot"

	das := &mockRPCClient{dasResult: searchAssetsResult{Total: 1, Items: []CompressedAsset{asset}}}
	c := newTestClient(&mockRPCClient{}, WithDAS(das))

	got, err := c.SearchCompressedAssets(context.Background(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), 11)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Hotspot", got[0].Name())
	assert.Equal(t, 1, das.calls)
}
