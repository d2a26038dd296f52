package simulator

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	solanapkg "github.com/helium/wallet-app-sub004/service/solana"
)

// CNftThreshold is the number of possibly affected compressed assets above
// which a single aggregate warning replaces per-asset warnings.
const CNftThreshold = 10

var slippageMarkers = []string{
	"slippage tolerance exceeded",
	"slippagetoleranceexceeded",
	"exceeds desired slippage limit",
}

func accountWarnings(acct WritableAccount, wallet solana.PublicKey) []Warning {
	addr := acct.Address
	var warnings []Warning
	add := func(sev Severity, short, msg string) {
		warnings = append(warnings, Warning{Severity: sev, Account: &addr, ShortMessage: short, Message: msg})
	}

	if !acct.Created && !acct.Closed && len(acct.Changes) == 0 {
		add(SeverityWarning, ShortMessageUnchanged,
			"Account did not change in simulation but was labeled as writable. The behavior of the transaction may differ from the simulation.")
	}

	if acct.Closed {
		add(SeverityInfo, "Account Closed", "This account will be closed and its lamports returned.")
	}

	pre, post := acct.Pre.Account, acct.Post.Account
	if pre != nil && post != nil && !pre.Owner.Equals(post.Owner) && acct.Post.Exists() {
		add(SeverityCritical, "Owner Changed",
			fmt.Sprintf("The program owning this account changes from %s to %s.", pre.Owner, post.Owner))
	}

	if acct.Pre.Type == TypeTokenAccount && acct.Post.Type == TypeTokenAccount {
		preTok, errPre := solanapkg.DecodeTokenAccount(pre.Data)
		postTok, errPost := solanapkg.DecodeTokenAccount(post.Data)
		if errPre == nil && errPost == nil && preTok.Owner.Equals(wallet) {
			if !preTok.Owner.Equals(postTok.Owner) {
				add(SeverityCritical, "Token Owner Changed",
					fmt.Sprintf("Ownership of this token account is transferred to %s.", postTok.Owner))
			}
			if postTok.Delegate != nil && (preTok.Delegate == nil || !preTok.Delegate.Equals(*postTok.Delegate) ||
				postTok.DelegatedAmount > preTok.DelegatedAmount) {
				add(SeverityCritical, "Delegation Granted",
					fmt.Sprintf("%s will be able to move %d tokens from this account without further approval.",
						postTok.Delegate, postTok.DelegatedAmount))
			}
			if postTok.CloseAuthority != nil && (preTok.CloseAuthority == nil || !preTok.CloseAuthority.Equals(*postTok.CloseAuthority)) &&
				!postTok.CloseAuthority.Equals(wallet) {
				add(SeverityCritical, "Close Authority Changed",
					fmt.Sprintf("%s will be able to close this token account.", postTok.CloseAuthority))
			}
		}
	}
	return warnings
}

func logWarnings(logs []string) []Warning {
	for _, l := range logs {
		lower := strings.ToLower(l)
		for _, marker := range slippageMarkers {
			if strings.Contains(lower, marker) {
				return []Warning{{
					Severity:     SeverityCritical,
					ShortMessage: "Slippage Exceeded",
					Message:      "The swap in this transaction exceeds its slippage tolerance at current prices.",
				}}
			}
		}
	}
	return nil
}

func cnftWarnings(assets []solanapkg.CompressedAsset) []Warning {
	if len(assets) > CNftThreshold {
		return []Warning{{
			Severity:     SeverityWarning,
			ShortMessage: "Many cNFTs Updateable",
			Message:      fmt.Sprintf("More than %d cNFTs (or Hotspots) could be changed by this transaction.", CNftThreshold),
		}}
	}
	warnings := make([]Warning, 0, len(assets))
	for _, a := range assets {
		warnings = append(warnings, Warning{
			Severity:     SeverityInfo,
			ShortMessage: "cNFT Updateable",
			Message:      fmt.Sprintf("%s (%s) could be changed by this transaction.", a.Name(), a.ID),
		})
	}
	return warnings
}
