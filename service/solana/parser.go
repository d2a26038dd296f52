package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Well-known Solana program IDs
var (
	// SystemProgramID is the native SOL program
	SystemProgramID = solana.SystemProgramID

	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// Token2022ProgramID is the Token Extensions program (Token-2022)
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

	// ComputeBudgetProgramID sets compute unit limits and prices
	ComputeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

	// AddressLookupTableProgramID owns address lookup tables
	AddressLookupTableProgramID = solana.MustPublicKeyFromBase58("AddressLookupTab1e1111111111111111111111111")

	// BubblegumProgramID manages compressed NFTs
	BubblegumProgramID = solana.MustPublicKeyFromBase58("BGUMAp9Gq7iTEuizy4pqaxsTyUCBK68MDfK752saRPUY")

	// AccountCompressionProgramID owns concurrent merkle trees
	AccountCompressionProgramID = solana.MustPublicKeyFromBase58("cmtDvXumGCrqC1Age74AVPhSRVXJMd8PJS91L8KbNCK")
)

// Account layouts
const (
	TokenAccountSize = 165
	MintSize         = 82

	lookupTableMetaSize = 56
)

// Compute budget instruction discriminators
const (
	computeBudgetSetUnitLimit = uint8(2)
	computeBudgetSetUnitPrice = uint8(3)

	// DefaultInstructionComputeUnits is charged per instruction without an explicit limit.
	DefaultInstructionComputeUnits = 200_000
	// MaxComputeUnits is the per-transaction ceiling.
	MaxComputeUnits = 1_400_000
)

// TokenAccount is a decoded SPL token account.
type TokenAccount struct {
	Mint            solana.PublicKey
	Owner           solana.PublicKey
	Amount          uint64
	Delegate        *solana.PublicKey
	State           uint8
	IsNative        *uint64
	DelegatedAmount uint64
	CloseAuthority  *solana.PublicKey
}

// Mint is a decoded SPL mint.
type Mint struct {
	MintAuthority   *solana.PublicKey
	Supply          uint64
	Decimals        uint8
	IsInitialized   bool
	FreezeAuthority *solana.PublicKey
}

// IsTokenProgram reports whether owner is one of the SPL token programs.
func IsTokenProgram(owner solana.PublicKey) bool {
	return owner.Equals(TokenProgramID) || owner.Equals(Token2022ProgramID)
}

func optionalKey(data []byte) *solana.PublicKey {
	// COption<Pubkey>: u32 tag followed by 32 bytes.
	if binary.LittleEndian.Uint32(data[0:4]) == 0 {
		return nil
	}
	key := solana.PublicKeyFromBytes(data[4:36])
	return &key
}

// DecodeTokenAccount decodes the base token account layout. Token-2022
// accounts carry extensions past the first 165 bytes, which are ignored.
func DecodeTokenAccount(data []byte) (*TokenAccount, error) {
	// Layout:
	// [0..32]    mint
	// [32..64]   owner
	// [64..72]   amount
	// [72..108]  delegate COption<Pubkey>
	// [108]      state
	// [109..121] is_native COption<u64>
	// [121..129] delegated_amount
	// [129..165] close_authority COption<Pubkey>
	if len(data) < TokenAccountSize {
		return nil, fmt.Errorf("token account data too short: %d bytes", len(data))
	}

	acct := &TokenAccount{
		Mint:            solana.PublicKeyFromBytes(data[0:32]),
		Owner:           solana.PublicKeyFromBytes(data[32:64]),
		Amount:          binary.LittleEndian.Uint64(data[64:72]),
		Delegate:        optionalKey(data[72:108]),
		State:           data[108],
		DelegatedAmount: binary.LittleEndian.Uint64(data[121:129]),
		CloseAuthority:  optionalKey(data[129:165]),
	}
	if binary.LittleEndian.Uint32(data[109:113]) != 0 {
		native := binary.LittleEndian.Uint64(data[113:121])
		acct.IsNative = &native
	}
	return acct, nil
}

// DecodeMint decodes the base mint layout.
func DecodeMint(data []byte) (*Mint, error) {
	// Layout:
	// [0..36]  mint_authority COption<Pubkey>
	// [36..44] supply
	// [44]     decimals
	// [45]     is_initialized
	// [46..82] freeze_authority COption<Pubkey>
	if len(data) < MintSize {
		return nil, fmt.Errorf("mint data too short: %d bytes", len(data))
	}
	return &Mint{
		MintAuthority:   optionalKey(data[0:36]),
		Supply:          binary.LittleEndian.Uint64(data[36:44]),
		Decimals:        data[44],
		IsInitialized:   data[45] != 0,
		FreezeAuthority: optionalKey(data[46:82]),
	}, nil
}

// DecodeLookupTableAddresses returns the addresses stored in an address lookup table account.
func DecodeLookupTableAddresses(data []byte) ([]solana.PublicKey, error) {
	if len(data) < lookupTableMetaSize {
		return nil, fmt.Errorf("lookup table data too short: %d bytes", len(data))
	}
	body := data[lookupTableMetaSize:]
	if len(body)%32 != 0 {
		return nil, fmt.Errorf("lookup table has trailing bytes: %d", len(body)%32)
	}

	addresses := make([]solana.PublicKey, 0, len(body)/32)
	for i := 0; i < len(body); i += 32 {
		addresses = append(addresses, solana.PublicKeyFromBytes(body[i:i+32]))
	}
	return addresses, nil
}

// ComputeBudget is the compute configuration requested by a message.
type ComputeBudget struct {
	UnitLimit uint32
	// MicroLamportsPerUnit is the priority price.
	MicroLamportsPerUnit uint64
}

// PriorityFee returns the priority fee in lamports, rounded up.
func (b ComputeBudget) PriorityFee() uint64 {
	if b.MicroLamportsPerUnit == 0 || b.UnitLimit == 0 {
		return 0
	}
	micro := b.MicroLamportsPerUnit * uint64(b.UnitLimit)
	return (micro + 999_999) / 1_000_000
}

// ParseComputeBudget reads compute budget instructions from a message. When
// no explicit limit is set the default per-instruction allowance applies.
func ParseComputeBudget(msg *solana.Message) ComputeBudget {
	var budget ComputeBudget
	explicitLimit := false
	others := 0

	for _, ix := range msg.Instructions {
		if int(ix.ProgramIDIndex) >= len(msg.AccountKeys) {
			continue
		}
		if !msg.AccountKeys[ix.ProgramIDIndex].Equals(ComputeBudgetProgramID) {
			others++
			continue
		}
		if len(ix.Data) == 0 {
			continue
		}

		switch ix.Data[0] {
		case computeBudgetSetUnitLimit:
			if len(ix.Data) >= 5 {
				budget.UnitLimit = binary.LittleEndian.Uint32(ix.Data[1:5])
				explicitLimit = true
			}
		case computeBudgetSetUnitPrice:
			if len(ix.Data) >= 9 {
				budget.MicroLamportsPerUnit = binary.LittleEndian.Uint64(ix.Data[1:9])
			}
		}
	}

	if !explicitLimit {
		units := uint64(others) * DefaultInstructionComputeUnits
		if units > MaxComputeUnits {
			units = MaxComputeUnits
		}
		budget.UnitLimit = uint32(units)
	}
	return budget
}

// WritableAccounts returns the accounts a message may write, in message
// order: static keys first, then writable lookup table entries. lookups
// maps each table address to its contents.
func WritableAccounts(msg *solana.Message, lookups map[solana.PublicKey][]solana.PublicKey) ([]solana.PublicKey, error) {
	h := msg.Header
	numKeys := len(msg.AccountKeys)
	numSigned := int(h.NumRequiredSignatures)

	var out []solana.PublicKey
	for i, key := range msg.AccountKeys {
		var writable bool
		if i < numSigned {
			writable = i < numSigned-int(h.NumReadonlySignedAccounts)
		} else {
			writable = i < numKeys-int(h.NumReadonlyUnsignedAccounts)
		}
		if writable {
			out = append(out, key)
		}
	}

	for _, lookup := range msg.AddressTableLookups {
		table, ok := lookups[lookup.AccountKey]
		if !ok {
			return nil, fmt.Errorf("missing lookup table %s", lookup.AccountKey)
		}
		for _, idx := range lookup.WritableIndexes {
			if int(idx) >= len(table) {
				return nil, fmt.Errorf("lookup index %d out of range for table %s", idx, lookup.AccountKey)
			}
			out = append(out, table[idx])
		}
	}
	return out, nil
}

// AllAccounts returns every account referenced by a message, including
// read-only lookup table entries.
func AllAccounts(msg *solana.Message, lookups map[solana.PublicKey][]solana.PublicKey) []solana.PublicKey {
	out := append([]solana.PublicKey(nil), msg.AccountKeys...)
	for _, lookup := range msg.AddressTableLookups {
		table := lookups[lookup.AccountKey]
		for _, idx := range lookup.WritableIndexes {
			if int(idx) < len(table) {
				out = append(out, table[idx])
			}
		}
		for _, idx := range lookup.ReadonlyIndexes {
			if int(idx) < len(table) {
				out = append(out, table[idx])
			}
		}
	}
	return out
}
