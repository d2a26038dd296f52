package solana

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenAccountData(mint, owner solana.PublicKey, amount uint64) []byte {
	data := make([]byte, TokenAccountSize)
	copy(data[0:32], mint[:])
	copy(data[32:64], owner[:])
	binary.LittleEndian.PutUint64(data[64:72], amount)
	data[108] = 1 // initialized
	return data
}

func TestDecodeTokenAccount(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	delegate := solana.NewWallet().PublicKey()

	data := tokenAccountData(mint, owner, 1_000_000)
	binary.LittleEndian.PutUint32(data[72:76], 1)
	copy(data[76:108], delegate[:])
	binary.LittleEndian.PutUint64(data[121:129], 500)

	acct, err := DecodeTokenAccount(data)
	require.NoError(t, err)
	assert.Equal(t, mint, acct.Mint)
	assert.Equal(t, owner, acct.Owner)
	assert.Equal(t, uint64(1_000_000), acct.Amount)
	require.NotNil(t, acct.Delegate)
	assert.Equal(t, delegate, *acct.Delegate)
	assert.Equal(t, uint64(500), acct.DelegatedAmount)
	assert.Nil(t, acct.CloseAuthority)
	assert.Nil(t, acct.IsNative)
}

func TestDecodeTokenAccount_Token2022Extensions(t *testing.T) {
	data := append(tokenAccountData(solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), 9), make([]byte, 40)...)
	acct, err := DecodeTokenAccount(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), acct.Amount)
}

func TestDecodeTokenAccount_TooShort(t *testing.T) {
	_, err := DecodeTokenAccount(make([]byte, 100))
	assert.Error(t, err)
}

func TestDecodeMint(t *testing.T) {
	data := make([]byte, MintSize)
	binary.LittleEndian.PutUint64(data[36:44], 10_000)
	data[44] = 8
	data[45] = 1

	mint, err := DecodeMint(data)
	require.NoError(t, err)
	assert.Equal(t, uint8(8), mint.Decimals)
	assert.Equal(t, uint64(10_000), mint.Supply)
	assert.True(t, mint.IsInitialized)
	assert.Nil(t, mint.MintAuthority)
}

func TestDecodeLookupTableAddresses(t *testing.T) {
	a := solana.NewWallet().PublicKey()
	b := solana.NewWallet().PublicKey()
	data := make([]byte, lookupTableMetaSize)
	data = append(data, a[:]...)
	data = append(data, b[:]...)

	got, err := DecodeLookupTableAddresses(data)
	require.NoError(t, err)
	assert.Equal(t, []solana.PublicKey{a, b}, got)

	_, err = DecodeLookupTableAddresses(append(data, 1))
	assert.Error(t, err)
}

func computeBudgetIx(data []byte) solana.Instruction {
	return solana.NewInstruction(ComputeBudgetProgramID, solana.AccountMetaSlice{}, data)
}

func TestParseComputeBudget(t *testing.T) {
	from := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()

	t.Run("explicit price and limit", func(t *testing.T) {
		limit := make([]byte, 5)
		limit[0] = computeBudgetSetUnitLimit
		binary.LittleEndian.PutUint32(limit[1:], 300_000)
		price := make([]byte, 9)
		price[0] = computeBudgetSetUnitPrice
		binary.LittleEndian.PutUint64(price[1:], 10_001)

		tx, err := solana.NewTransaction([]solana.Instruction{
			computeBudgetIx(limit),
			computeBudgetIx(price),
		}, solana.Hash{}, solana.TransactionPayer(from))
		require.NoError(t, err)

		budget := ParseComputeBudget(&tx.Message)
		assert.Equal(t, uint32(300_000), budget.UnitLimit)
		assert.Equal(t, uint64(10_001), budget.MicroLamportsPerUnit)
		// 10001 * 300000 / 1e6 = 3000.3, rounded up
		assert.Equal(t, uint64(3001), budget.PriorityFee())
	})

	t.Run("default limit per instruction", func(t *testing.T) {
		budget := ParseComputeBudget(&transferTx(t, from, to).Message)
		assert.Equal(t, uint32(DefaultInstructionComputeUnits), budget.UnitLimit)
		assert.Zero(t, budget.PriorityFee())
	})
}

func TestWritableAccounts(t *testing.T) {
	from := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()
	tx := transferTx(t, from, to)

	got, err := WritableAccounts(&tx.Message, nil)
	require.NoError(t, err)
	// the system program is readonly
	assert.Equal(t, []solana.PublicKey{from, to}, got)
}

func TestWritableAccounts_LookupTables(t *testing.T) {
	from := solana.NewWallet().PublicKey()
	table := solana.NewWallet().PublicKey()
	entries := []solana.PublicKey{solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()}

	tx := transferTx(t, from, solana.NewWallet().PublicKey())
	msg := tx.Message
	msg.SetVersion(solana.MessageVersionV0)
	msg.AddressTableLookups = solana.MessageAddressTableLookupSlice{{
		AccountKey:      table,
		WritableIndexes: []uint8{2},
		ReadonlyIndexes: []uint8{0},
	}}

	got, err := WritableAccounts(&msg, map[solana.PublicKey][]solana.PublicKey{table: entries})
	require.NoError(t, err)
	assert.Contains(t, got, entries[2])
	assert.NotContains(t, got, entries[0])

	all := AllAccounts(&msg, map[solana.PublicKey][]solana.PublicKey{table: entries})
	assert.Contains(t, all, entries[0])

	_, err = WritableAccounts(&msg, nil)
	assert.Error(t, err)
}
