package simulator

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	solanapkg "github.com/helium/wallet-app-sub004/service/solana"
)

// Severity ranks a warning. Critical warnings force explicit confirmation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Account state types.
const (
	TypeNative       = "NativeAccount"
	TypeTokenAccount = "TokenAccount"
	TypeMint         = "Mint"
	TypeUnknown      = "Unknown"
)

// Account names shown to the user.
const (
	NameNativeSOL    = "Native SOL Account"
	NameTokenAccount = "Token Account"
	NameMint         = "Token Mint"
	NameUnknown      = "Unknown Account"
)

// ShortMessageUnchanged marks a writable account the simulation did not touch.
const ShortMessageUnchanged = "Unchanged"

// Warning is a risk finding. Account is nil for transaction-level warnings.
type Warning struct {
	Severity     Severity          `json:"severity"`
	Account      *solana.PublicKey `json:"account,omitempty"`
	ShortMessage string            `json:"shortMessage"`
	Message      string            `json:"message"`
}

// Title is the heading displayed for the warning.
func (w Warning) Title() string {
	if w.ShortMessage == ShortMessageUnchanged {
		return "Unknown Changes"
	}
	return w.ShortMessage
}

// AccountState is one side of a writable account diff.
type AccountState struct {
	Type    string                     `json:"type"`
	Account *solanapkg.AccountSnapshot `json:"-"`
	Parsed  map[string]any             `json:"parsed,omitempty"`
}

// Exists follows the runtime rule that a zero-lamport account is gone.
func (s AccountState) Exists() bool {
	return s.Account != nil && s.Account.Lamports > 0
}

// TokenMetadata describes the mint of a token account.
type TokenMetadata struct {
	Mint     solana.PublicKey `json:"mint"`
	Decimals uint8            `json:"decimals"`
}

// Change is one differing leaf between pre and post state, truncated for display.
type Change struct {
	Field     string `json:"field"`
	PreValue  string `json:"preValue"`
	PostValue string `json:"postValue"`
}

// BalanceChange is the signed movement of lamports or token base units.
type BalanceChange struct {
	Pre      uint64 `json:"pre"`
	Post     uint64 `json:"post"`
	Decimals uint8  `json:"decimals"`
}

// Delta returns post minus pre.
func (b BalanceChange) Delta() int64 {
	return int64(b.Post) - int64(b.Pre)
}

// WritableAccount is a simulated account the transaction may mutate.
type WritableAccount struct {
	Address  solana.PublicKey  `json:"address"`
	Owner    *solana.PublicKey `json:"owner,omitempty"`
	Name     string            `json:"name"`
	Pre      AccountState      `json:"pre"`
	Post     AccountState      `json:"post"`
	Metadata *TokenMetadata    `json:"metadata,omitempty"`
	Changes  []Change          `json:"changes"`
	Balance  *BalanceChange    `json:"balance,omitempty"`
	Created  bool              `json:"created"`
	Closed   bool              `json:"closed"`
}

// IsToken reports whether either side is a token account.
func (w WritableAccount) IsToken() bool {
	return w.Pre.Type == TypeTokenAccount || w.Post.Type == TypeTokenAccount
}

// SimulationError is a per-transaction failure. It does not abort sibling
// transactions and blocks approval unless explicitly overridden.
type SimulationError struct {
	Index int      `json:"index"`
	Err   string   `json:"error"`
	Logs  []string `json:"logs,omitempty"`
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("transaction %d simulation failed: %s", e.Index, e.Err)
}

// InsufficientFunds reports whether the failure was a lamport shortfall.
func (e *SimulationError) InsufficientFunds() bool {
	if strings.Contains(e.Err, "InsufficientFunds") || strings.Contains(e.Err, "insufficient funds") {
		return true
	}
	for _, l := range e.Logs {
		if strings.Contains(l, "insufficient lamports") || strings.Contains(l, "insufficient funds") {
			return true
		}
	}
	return false
}

// Result is the simulation of one transaction.
type Result struct {
	Index                      int                         `json:"index"`
	WritableAccounts           []WritableAccount           `json:"writableAccounts"`
	Warnings                   []Warning                   `json:"warnings"`
	PossibleCollectibleChanges []solanapkg.CompressedAsset `json:"possibleCollectibleChanges"`
	SolFee                     uint64                      `json:"solFee"`
	PriorityFee                uint64                      `json:"priorityFee"`
	Logs                       []string                    `json:"logs,omitempty"`
	Error                      *SimulationError            `json:"error,omitempty"`
}

// HasCritical reports whether any warning is critical.
func (r Result) HasCritical() bool {
	for _, w := range r.Warnings {
		if w.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Summary aggregates fees and balance checks across a batch.
type Summary struct {
	TotalSolFee            uint64 `json:"totalSolFee"`
	TotalPriorityFee       uint64 `json:"totalPriorityFee"`
	TotalFee               uint64 `json:"totalFee"`
	Balance                uint64 `json:"balance"`
	RentExemptMinimum      uint64 `json:"rentExemptMinimum"`
	InsufficientFunds      bool   `json:"insufficientFunds"`
	InsufficientRentExempt bool   `json:"insufficientRentExempt"`
	WarningCount           int    `json:"warningCount"`
	// RequiresConfirmation is set by any critical warning or error.
	RequiresConfirmation bool `json:"requiresConfirmation"`
	// Blocked is set by any simulation error.
	Blocked bool `json:"blocked"`
}

// Report is the outcome of simulating a batch.
type Report struct {
	Wallet  solana.PublicKey `json:"wallet"`
	Results []Result         `json:"results"`
	Summary Summary          `json:"summary"`
}
