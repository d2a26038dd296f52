package accountcache

import (
	"context"

	"github.com/gagliardetto/solana-go"
	solanapkg "github.com/helium/wallet-app-sub004/service/solana"
)

// Fetcher loads accounts from the chain. *solana.Client satisfies it.
type Fetcher interface {
	GetMultipleAccounts(ctx context.Context, accounts []solana.PublicKey) ([]*solanapkg.AccountSnapshot, error)
}

// ReadThrough serves account reads from the cache and fetches only misses.
// Use it for data that rarely changes, such as mints.
type ReadThrough struct {
	cache    *Cache
	upstream Fetcher
}

// NewReadThrough wraps upstream with cache.
func NewReadThrough(cache *Cache, upstream Fetcher) *ReadThrough {
	return &ReadThrough{cache: cache, upstream: upstream}
}

// GetMultipleAccounts returns accounts aligned with the input.
func (r *ReadThrough) GetMultipleAccounts(ctx context.Context, accounts []solana.PublicKey) ([]*solanapkg.AccountSnapshot, error) {
	out := make([]*solanapkg.AccountSnapshot, len(accounts))
	var missing []solana.PublicKey
	var missingIdx []int

	for i, address := range accounts {
		snap, found := r.cache.Get(address.String())
		if found {
			out[i] = snap
			continue
		}
		missing = append(missing, address)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := r.upstream.GetMultipleAccounts(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, snap := range fetched {
		out[missingIdx[j]] = snap
		r.cache.Set(missing[j].String(), snap)
	}
	return out, nil
}
