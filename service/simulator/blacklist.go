package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// DefaultCanopyURL lists well-known merkle trees by address.
const DefaultCanopyURL = "https://shdw-drive.genesysgo.net/6tcnBSybPG7piEDShBcrVtYJDPSvGrDbVvXmXKpzBvWP/merkles.json"

// Blacklist loads the set of accounts excluded from simulation diffs once
// and serves it from memory afterwards.
type Blacklist struct {
	url        string
	httpClient *http.Client

	mu     sync.Mutex
	loaded map[solana.PublicKey]struct{}
}

// NewBlacklist creates a loader for url.
func NewBlacklist(url string, httpClient *http.Client) *Blacklist {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Blacklist{url: url, httpClient: httpClient}
}

// Accounts returns the blacklist, fetching it on first use. A failed fetch
// is not cached so the next call retries.
func (b *Blacklist) Accounts(ctx context.Context) (map[solana.PublicKey]struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded != nil {
		return b.loaded, nil
	}
	if b.url == "" {
		b.loaded = map[solana.PublicKey]struct{}{}
		return b.loaded, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch account blacklist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch account blacklist: unexpected status %d", resp.StatusCode)
	}

	var entries map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode account blacklist: %w", err)
	}

	set := make(map[solana.PublicKey]struct{}, len(entries))
	for key := range entries {
		pk, err := solana.PublicKeyFromBase58(key)
		if err != nil {
			continue
		}
		set[pk] = struct{}{}
	}
	b.loaded = set
	return set, nil
}
