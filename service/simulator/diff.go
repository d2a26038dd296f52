package simulator

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"
	solanapkg "github.com/helium/wallet-app-sub004/service/solana"
)

// maxDisplayLen bounds rendered diff fields and values.
const maxDisplayLen = 20

func shorten(s string) string {
	if len(s) > maxDisplayLen {
		return s[:maxDisplayLen] + "..."
	}
	return s
}

func shortenStart(s string) string {
	if len(s) > maxDisplayLen {
		return "..." + s[len(s)-maxDisplayLen:]
	}
	return s
}

func shortenAddress(key solana.PublicKey) string {
	s := key.String()
	if len(s) <= 10 {
		return s
	}
	return s[:5] + "..." + s[len(s)-5:]
}

func optionalAddress(key *solana.PublicKey) any {
	if key == nil {
		return nil
	}
	return shortenAddress(*key)
}

// classify decodes an account into a typed state. Token and mint layouts
// are parsed; everything else is left as the raw account.
func classify(snap *solanapkg.AccountSnapshot) AccountState {
	if snap == nil {
		return AccountState{Type: TypeUnknown}
	}

	switch {
	case solanapkg.IsTokenProgram(snap.Owner) && len(snap.Data) >= solanapkg.TokenAccountSize:
		if acct, err := solanapkg.DecodeTokenAccount(snap.Data); err == nil {
			parsed := map[string]any{
				"mint":            shortenAddress(acct.Mint),
				"owner":           shortenAddress(acct.Owner),
				"amount":          fmt.Sprintf("%d", acct.Amount),
				"delegate":        optionalAddress(acct.Delegate),
				"delegatedAmount": fmt.Sprintf("%d", acct.DelegatedAmount),
				"state":           acct.State,
				"closeAuthority":  optionalAddress(acct.CloseAuthority),
			}
			return AccountState{Type: TypeTokenAccount, Account: snap, Parsed: parsed}
		}
	case solanapkg.IsTokenProgram(snap.Owner) && len(snap.Data) >= solanapkg.MintSize:
		if mint, err := solanapkg.DecodeMint(snap.Data); err == nil {
			parsed := map[string]any{
				"mintAuthority":   optionalAddress(mint.MintAuthority),
				"supply":          fmt.Sprintf("%d", mint.Supply),
				"decimals":        mint.Decimals,
				"freezeAuthority": optionalAddress(mint.FreezeAuthority),
			}
			return AccountState{Type: TypeMint, Account: snap, Parsed: parsed}
		}
	case snap.Owner.Equals(solanapkg.SystemProgramID) && len(snap.Data) == 0:
		return AccountState{Type: TypeNative, Account: snap}
	}
	return AccountState{Type: TypeUnknown, Account: snap}
}

func rawAccount(snap *solanapkg.AccountSnapshot) map[string]any {
	if snap == nil {
		return nil
	}
	return map[string]any{
		"lamports":   fmt.Sprintf("%d", snap.Lamports),
		"owner":      shortenAddress(snap.Owner),
		"executable": snap.Executable,
		"rentEpoch":  fmt.Sprintf("%d", snap.RentEpoch),
		"data":       hex.EncodeToString(snap.Data),
	}
}

// diffStates compares parsed state when either side was decoded and the
// raw account otherwise.
func diffStates(pre, post AccountState) []Change {
	if pre.Parsed != nil || post.Parsed != nil {
		return diff(orEmpty(pre.Parsed), orEmpty(post.Parsed), "")
	}
	return diff(rawAccount(pre.Account), rawAccount(post.Account), "")
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// diff walks both values and returns every differing leaf. Keys are
// visited in sorted order so output is stable.
func diff(a, b any, field string) []Change {
	am, aIsMap := a.(map[string]any)
	bm, bIsMap := b.(map[string]any)

	if aIsMap && bIsMap {
		keys := make(map[string]struct{}, len(am)+len(bm))
		for k := range am {
			keys[k] = struct{}{}
		}
		for k := range bm {
			keys[k] = struct{}{}
		}
		sorted := make([]string, 0, len(keys))
		for k := range keys {
			sorted = append(sorted, k)
		}
		sort.Strings(sorted)

		var changes []Change
		for _, k := range sorted {
			path := k
			if field != "" {
				path = field + "." + k
			}
			changes = append(changes, diff(am[k], bm[k], path)...)
		}
		return changes
	}

	as, bs := render(a), render(b)
	if as == bs {
		return nil
	}
	return []Change{{
		Field:     shortenStart(field),
		PreValue:  shorten(as),
		PostValue: shorten(bs),
	}}
}

func render(v any) string {
	if v == nil {
		return "null"
	}
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}
