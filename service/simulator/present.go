package simulator

import (
	"sort"

	"github.com/gagliardetto/solana-go"
)

// Presentation is a transaction result arranged for review.
type Presentation struct {
	Index int `json:"index"`
	// Accounts are shown individually, warnings first.
	Accounts []WritableAccount `json:"accounts"`
	// Collapsed holds unchanged accounts without metadata, shown as one group.
	Collapsed          []WritableAccount    `json:"collapsed"`
	AccountWarnings    map[string][]Warning `json:"accountWarnings"`
	NonAccountWarnings []Warning            `json:"nonAccountWarnings"`
	ManyCNfts          bool                 `json:"manyCNfts"`
	Error              *SimulationError     `json:"error,omitempty"`
}

// Present arranges every result of the report for its wallet.
func (r *Report) Present() []Presentation {
	out := make([]Presentation, 0, len(r.Results))
	for _, res := range r.Results {
		out = append(out, Present(res, r.Wallet))
	}
	return out
}

// Present filters a result to the accounts relevant to wallet (those it
// owns or that have no owner) and orders them: accounts with warnings,
// then the native SOL account, then token accounts, then the rest.
func Present(r Result, wallet solana.PublicKey) Presentation {
	p := Presentation{
		Index:           r.Index,
		AccountWarnings: make(map[string][]Warning),
		ManyCNfts:       len(r.PossibleCollectibleChanges) > CNftThreshold,
		Error:           r.Error,
	}
	for _, w := range r.Warnings {
		if w.Account == nil {
			p.NonAccountWarnings = append(p.NonAccountWarnings, w)
			continue
		}
		key := w.Account.String()
		p.AccountWarnings[key] = append(p.AccountWarnings[key], w)
	}

	var relevant []WritableAccount
	for _, acct := range r.WritableAccounts {
		if acct.Owner == nil || acct.Owner.Equals(wallet) {
			relevant = append(relevant, acct)
		}
	}

	rank := func(acct WritableAccount) int {
		switch {
		case hasActiveWarning(p.AccountWarnings[acct.Address.String()]):
			return 0
		case acct.Name == NameNativeSOL:
			return 1
		case acct.IsToken():
			return 2
		default:
			return 3
		}
	}
	sort.SliceStable(relevant, func(i, j int) bool {
		return rank(relevant[i]) < rank(relevant[j])
	})

	for _, acct := range relevant {
		if isUnchanged(p.AccountWarnings[acct.Address.String()]) && acct.Metadata == nil {
			p.Collapsed = append(p.Collapsed, acct)
			continue
		}
		p.Accounts = append(p.Accounts, acct)
	}
	return p
}

// hasActiveWarning ignores the unchanged marker, which only drives collapsing.
func hasActiveWarning(ws []Warning) bool {
	for _, w := range ws {
		if w.ShortMessage != ShortMessageUnchanged {
			return true
		}
	}
	return false
}

func isUnchanged(ws []Warning) bool {
	for _, w := range ws {
		if w.ShortMessage == ShortMessageUnchanged {
			return true
		}
	}
	return false
}
