package solana

import (
	"github.com/gagliardetto/solana-go"
)

// AccountSnapshot is the state of one account at a point in time.
// This is our domain model, independent of the RPC response format.
type AccountSnapshot struct {
	Address    solana.PublicKey
	Lamports   uint64
	Owner      solana.PublicKey
	Data       []byte
	Executable bool
	RentEpoch  uint64
}

// Clone returns a deep copy of the snapshot.
func (a *AccountSnapshot) Clone() *AccountSnapshot {
	if a == nil {
		return nil
	}
	out := *a
	out.Data = append([]byte(nil), a.Data...)
	return &out
}

// SimulationOutcome is the node's answer to a simulateTransaction call.
// Accounts is aligned with the requested addresses; a nil entry means the
// account does not exist after execution.
type SimulationOutcome struct {
	Err           any
	Logs          []string
	Accounts      []*AccountSnapshot
	UnitsConsumed uint64
}

// Failed reports whether the transaction failed during simulation.
func (o *SimulationOutcome) Failed() bool {
	return o.Err != nil
}

// SendOptions control transaction submission.
type SendOptions struct {
	SkipPreflight       bool   `json:"skipPreflight,omitempty"`
	PreflightCommitment string `json:"preflightCommitment,omitempty"`
	MaxRetries          *uint  `json:"maxRetries,omitempty"`
}

// CompressedAsset is a compressed NFT as reported by the DAS API.
type CompressedAsset struct {
	ID      string `json:"id"`
	Content struct {
		JSONURI  string `json:"json_uri"`
		Metadata struct {
			Name   string `json:"name"`
			Symbol string `json:"symbol"`
		} `json:"metadata"`
	} `json:"content"`
	Compression struct {
		Tree       string `json:"tree"`
		Compressed bool   `json:"compressed"`
	} `json:"compression"`
	Ownership struct {
		Owner string `json:"owner"`
	} `json:"ownership"`
}

// Name returns the asset display name.
func (a CompressedAsset) Name() string {
	if a.Content.Metadata.Name == "" {
		return "Unknown cNFT"
	}
	return a.Content.Metadata.Name
}

// TokenBalance is an owner's balance of a single mint held in its associated token account.
type TokenBalance struct {
	Mint    solana.PublicKey
	Account solana.PublicKey
	Amount  uint64
	Exists  bool
}
