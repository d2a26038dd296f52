// Package accountcache keeps recently fetched chain accounts and persists
// them to secure storage through a write buffer with an explicit flush policy.
package accountcache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/helium/wallet-app-sub004/service/metrics"
	solanapkg "github.com/helium/wallet-app-sub004/service/solana"
	"github.com/helium/wallet-app-sub004/service/storage"
)

// DefaultStorageKey is the storage item holding the serialized cache.
const DefaultStorageKey = "accountCache"

// Policy decides when buffered writes reach storage and how much is kept.
type Policy struct {
	// MaxPending flushes immediately once this many writes are buffered.
	MaxPending int
	// FlushDelay flushes once no write has happened for this long.
	FlushDelay time.Duration
	// MaxEntries and MaxBytes bound the persisted cache.
	MaxEntries int
	MaxBytes   int
}

// DefaultPolicy mirrors the mobile app limits: 10s quiet period, 200 accounts, 2MB.
func DefaultPolicy() Policy {
	return Policy{
		MaxPending: 50,
		FlushDelay: 10 * time.Second,
		MaxEntries: 200,
		MaxBytes:   2 * 1024 * 1024,
	}
}

type serializedAccount struct {
	Executable bool   `json:"executable"`
	Owner      string `json:"owner"`
	Lamports   uint64 `json:"lamports"`
	Data       string `json:"data"`
	RentEpoch  uint64 `json:"rentEpoch,omitempty"`
}

// Cache is an in-memory account cache backed by storage. A nil account
// records that the address is known not to exist.
type Cache struct {
	storage storage.Storage
	key     string
	policy  Policy
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	entries   map[string]*solanapkg.AccountSnapshot
	lastUsed  map[string]time.Time
	pending   int
	lastWrite time.Time
}

// New creates a cache persisted under key.
func New(store storage.Storage, key string, policy Policy, m *metrics.Metrics, logger *slog.Logger) *Cache {
	if key == "" {
		key = DefaultStorageKey
	}
	return &Cache{
		storage:  store,
		key:      key,
		policy:   policy,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
		entries:  make(map[string]*solanapkg.AccountSnapshot),
		lastUsed: make(map[string]time.Time),
	}
}

// Load replaces the in-memory contents with what is in storage.
func (c *Cache) Load(ctx context.Context) error {
	raw, err := c.storage.GetItem(ctx, c.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load account cache: %w", err)
	}

	var pairs [][2]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &pairs); err != nil {
		return fmt.Errorf("decode account cache: %w", err)
	}

	entries := make(map[string]*solanapkg.AccountSnapshot, len(pairs))
	for _, pair := range pairs {
		var key string
		if err := json.Unmarshal(pair[0], &key); err != nil {
			return fmt.Errorf("decode account cache key: %w", err)
		}
		snap, err := deserialize(key, pair[1])
		if err != nil {
			c.logger.WarnContext(ctx, "dropping unreadable cached account", "address", key, "error", err)
			continue
		}
		entries[key] = snap
	}

	c.mu.Lock()
	c.entries = entries
	c.lastUsed = make(map[string]time.Time)
	c.pending = 0
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "loaded account cache", "entries", len(entries))
	return nil
}

func deserialize(key string, raw json.RawMessage) (*solanapkg.AccountSnapshot, error) {
	if string(raw) == "null" {
		return nil, nil
	}
	var s serializedAccount
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	address, err := solana.PublicKeyFromBase58(key)
	if err != nil {
		return nil, err
	}
	owner, err := solana.PublicKeyFromBase58(s.Owner)
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(s.Data)
	if err != nil {
		return nil, err
	}
	return &solanapkg.AccountSnapshot{
		Address:    address,
		Lamports:   s.Lamports,
		Owner:      owner,
		Data:       data,
		Executable: s.Executable,
		RentEpoch:  s.RentEpoch,
	}, nil
}

func serialize(snap *solanapkg.AccountSnapshot) *serializedAccount {
	if snap == nil {
		return nil
	}
	return &serializedAccount{
		Executable: snap.Executable,
		Owner:      snap.Owner.String(),
		Lamports:   snap.Lamports,
		Data:       base64.StdEncoding.EncodeToString(snap.Data),
		RentEpoch:  snap.RentEpoch,
	}
}

// Get returns the cached account. found is false when the address has never
// been cached; a found nil account is a cached miss.
func (c *Cache) Get(address string) (account *solanapkg.AccountSnapshot, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, ok := c.entries[address]
	if !ok {
		return nil, false
	}
	if snap != nil {
		c.lastUsed[address] = c.now()
	}
	return snap.Clone(), true
}

// Set caches an account and schedules a flush.
func (c *Cache) Set(address string, account *solanapkg.AccountSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[address] = account.Clone()
	c.markDirty()
}

// Delete evicts an account and schedules a flush.
func (c *Cache) Delete(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[address]; !ok {
		return
	}
	delete(c.entries, address)
	delete(c.lastUsed, address)
	c.markDirty()
}

// Len returns the number of cached addresses.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) markDirty() {
	c.pending++
	c.lastWrite = c.now()
}

// ShouldFlush reports whether the buffered writes are due at now.
func (c *Cache) ShouldFlush(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dueLocked(now) != ""
}

func (c *Cache) dueLocked(now time.Time) string {
	if c.pending == 0 {
		return ""
	}
	if c.policy.MaxPending > 0 && c.pending >= c.policy.MaxPending {
		return "size"
	}
	if now.Sub(c.lastWrite) >= c.policy.FlushDelay {
		return "time"
	}
	return ""
}

// FlushIfDue flushes when the policy says so and reports whether it did.
func (c *Cache) FlushIfDue(ctx context.Context, now time.Time) (bool, error) {
	c.mu.Lock()
	trigger := c.dueLocked(now)
	c.mu.Unlock()
	if trigger == "" {
		return false, nil
	}
	return true, c.flush(ctx, trigger)
}

// Flush writes the cache to storage now.
func (c *Cache) Flush(ctx context.Context) error {
	return c.flush(ctx, "manual")
}

func (c *Cache) flush(ctx context.Context, trigger string) error {
	c.mu.Lock()
	data, kept, err := c.snapshotLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	// Anything trimmed from the persisted form is dropped from memory too.
	for key := range c.entries {
		if _, ok := kept[key]; !ok {
			delete(c.entries, key)
			delete(c.lastUsed, key)
		}
	}
	flushed := c.pending
	c.pending = 0
	c.mu.Unlock()

	if err := c.storage.SetItem(ctx, c.key, string(data)); err != nil {
		c.mu.Lock()
		c.pending += flushed
		c.mu.Unlock()
		return fmt.Errorf("flush account cache: %w", err)
	}

	if c.metrics != nil {
		c.metrics.RecordCacheFlush(trigger, len(kept))
	}
	c.logger.DebugContext(ctx, "flushed account cache",
		"trigger", trigger,
		"entries", len(kept),
		"bytes", len(data),
	)
	return nil
}

// snapshotLocked serializes entries most recently used first and trims the
// tail until both caps hold.
func (c *Cache) snapshotLocked() ([]byte, map[string]struct{}, error) {
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		ti, tj := c.lastUsed[keys[i]], c.lastUsed[keys[j]]
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return keys[i] < keys[j]
	})

	pairs := make([][2]any, len(keys))
	for i, key := range keys {
		pairs[i] = [2]any{key, serialize(c.entries[key])}
	}

	data, err := json.Marshal(pairs)
	if err != nil {
		return nil, nil, fmt.Errorf("encode account cache: %w", err)
	}
	for len(pairs) > 0 && (len(data) > c.policy.MaxBytes || len(pairs) > c.policy.MaxEntries) {
		// Estimate how many accounts to drop from the average entry size.
		perEntry := float64(len(data)) / float64(len(pairs))
		over := float64(len(data) - c.policy.MaxBytes)
		drop := max(int(math.Ceil(over/perEntry)), 1)
		n := min(c.policy.MaxEntries, len(pairs)-drop)
		if len(data) <= c.policy.MaxBytes {
			n = min(c.policy.MaxEntries, len(pairs))
		}
		pairs = pairs[:max(n, 0)]
		if data, err = json.Marshal(pairs); err != nil {
			return nil, nil, fmt.Errorf("encode account cache: %w", err)
		}
	}

	kept := make(map[string]struct{}, len(pairs))
	for _, pair := range pairs {
		kept[pair[0].(string)] = struct{}{}
	}
	return data, kept, nil
}

// Run flushes on every tick when due, and once more on shutdown.
func (c *Cache) Run(ctx context.Context, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if c.ShouldFlush(c.now().Add(c.policy.FlushDelay)) {
				// The parent context is gone; give the final write its own.
				flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				err := c.Flush(flushCtx)
				cancel()
				if err != nil {
					return err
				}
			}
			return nil
		case now := <-ticker.C:
			if _, err := c.FlushIfDue(ctx, now); err != nil {
				c.logger.ErrorContext(ctx, "account cache flush failed", "error", err)
			}
		}
	}
}
