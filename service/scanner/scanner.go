// Package scanner recovers accounts from a seed phrase by deriving groups of
// well-known paths and probing each address on chain.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/helium/wallet-app-sub004/service/hdpath"
	"github.com/helium/wallet-app-sub004/service/keystore"
	"github.com/helium/wallet-app-sub004/service/metrics"
	solanapkg "github.com/helium/wallet-app-sub004/service/solana"
	"golang.org/x/sync/errgroup"
)

// HeliumLegacy labels the keypair built directly from mnemonic entropy.
const HeliumLegacy = "Helium L1"

// GroupSize is how many account indices each group adds, once with and once
// without a change component.
const GroupSize = 10

// Token mints probed for every derived address.
var (
	HNTMint    = solana.MustPublicKeyFromBase58("hntyVP6YFm1Hg25TN9WGLqM12b8TQmcknKrdu1oxWux")
	MobileMint = solana.MustPublicKeyFromBase58("mb1eu7TzEc71KxDpsmsKoucSSuuoGLv1drys1oP2jh6")
	IOTMint    = solana.MustPublicKeyFromBase58("iotEVVZLEywoTn1QdwNPddxPWszn3zFhEot3MfL9fns")
)

// DefaultMints are the token mints checked when none are configured.
var DefaultMints = []solana.PublicKey{HNTMint, MobileMint, IOTMint}

// ErrNoMnemonic is returned when scanning before SetMnemonic.
var ErrNoMnemonic = errors.New("no mnemonic set")

// Chain is the chain state the scanner probes. *solana.Client satisfies it.
type Chain interface {
	GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error)
	GetTokenBalances(ctx context.Context, owner solana.PublicKey, mints []solana.PublicKey) ([]solanapkg.TokenBalance, error)
}

// MigrationChecker reports whether an address still has assets to migrate.
type MigrationChecker interface {
	NeedsMigration(ctx context.Context, address solana.PublicKey) (bool, error)
}

// TokenAmount is a positive token balance.
type TokenAmount struct {
	Mint   solana.PublicKey `json:"mint"`
	Amount uint64           `json:"amount"`
}

// Candidate is a derived account and what was found for it. It holds the
// private key and must never be persisted outside the recovery flow.
type Candidate struct {
	Path           string            `json:"derivation_path"`
	Key            solana.PrivateKey `json:"-"`
	Address        solana.PublicKey  `json:"address"`
	Balance        uint64            `json:"balance"`
	Tokens         []TokenAmount     `json:"tokens,omitempty"`
	NeedsMigration bool              `json:"needs_migration,omitempty"`
}

// Funded reports whether the account holds SOL or any probed token.
func (c *Candidate) Funded() bool {
	return c.Balance > 0 || len(c.Tokens) > 0
}

// Group is one resolved batch of paths. Candidates and Errors align with
// Paths; a failed path has a nil candidate and a non-nil error.
type Group struct {
	Index      int          `json:"index"`
	Paths      []string     `json:"paths"`
	Candidates []*Candidate `json:"candidates"`
	Errors     []error      `json:"-"`
}

// Funded reports whether any candidate in the group is funded.
func (g *Group) Funded() bool {
	for _, c := range g.Candidates {
		if c != nil && c.Funded() {
			return true
		}
	}
	return false
}

// Failed returns the number of paths that could not be probed.
func (g *Group) Failed() int {
	n := 0
	for _, err := range g.Errors {
		if err != nil {
			n++
		}
	}
	return n
}

// Scanner derives and probes paths group by group. It is safe for
// concurrent use; SetMnemonic discards the results of scans in flight.
type Scanner struct {
	chain       Chain
	migration   MigrationChecker
	mints       []solana.PublicKey
	concurrency int
	maxGroups   int
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu         sync.Mutex
	mnemonic   string
	seed       []byte
	groups     [][]string
	resolved   []*Group
	hasMore    bool
	generation int
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithMigrationChecker enables the migration probe for the Helium root path.
func WithMigrationChecker(m MigrationChecker) Option {
	return func(s *Scanner) { s.migration = m }
}

// WithMints overrides the token mints probed per address.
func WithMints(mints []solana.PublicKey) Option {
	return func(s *Scanner) { s.mints = mints }
}

// WithConcurrency bounds parallel path probes.
func WithConcurrency(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithMaxGroups bounds how many groups ScanAll will resolve.
func WithMaxGroups(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.maxGroups = n
		}
	}
}

// New creates a Scanner. If metrics is nil, no metrics will be recorded.
func New(chain Chain, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Scanner {
	s := &Scanner{
		chain:       chain,
		mints:       DefaultMints,
		concurrency: 8,
		maxGroups:   10,
		metrics:     m,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitialGroup lists the legacy paths followed by the first GroupSize
// standard paths with and then without a change component.
func InitialGroup() []string {
	paths := []string{HeliumLegacy, hdpath.Helium(-1).Full(), hdpath.Solana(-1, nil).Full()}
	return append(paths, standardPaths(0)...)
}

func standardPaths(start int) []string {
	change := 0
	paths := make([]string, 0, 2*GroupSize)
	for i := start; i < start+GroupSize; i++ {
		paths = append(paths, hdpath.Solana(i, &change).Full())
	}
	for i := start; i < start+GroupSize; i++ {
		paths = append(paths, hdpath.Solana(i, nil).Full())
	}
	return paths
}

// SetMnemonic validates the phrase and restarts scanning from the initial group.
func (s *Scanner) SetMnemonic(mnemonic string) error {
	seed, err := keystore.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.mnemonic = keystore.NormalizeMnemonic(mnemonic)
	s.seed = seed
	s.groups = [][]string{InitialGroup()}
	s.resolved = nil
	s.hasMore = true
	s.generation++
	return nil
}

// HasMoreAccounts reports whether the last resolved group beyond the first
// found anything, so automatic scanning should continue.
func (s *Scanner) HasMoreAccounts() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// FetchMore queues the next group of standard paths. It works even after
// automatic scanning has stopped.
func (s *Scanner) FetchMore() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seed == nil {
		return ErrNoMnemonic
	}
	s.groups = append(s.groups, standardPaths(len(s.groups)*GroupSize))
	return nil
}

// Groups returns the resolved groups in order.
func (s *Scanner) Groups() []*Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Group, 0, len(s.resolved))
	for _, g := range s.resolved {
		if g != nil {
			out = append(out, g)
		}
	}
	return out
}

// Candidates flattens every resolved candidate in group and path order.
func (s *Scanner) Candidates() []*Candidate {
	var out []*Candidate
	for _, g := range s.Groups() {
		for _, c := range g.Candidates {
			if c != nil {
				out = append(out, c)
			}
		}
	}
	return out
}

type pendingGroup struct {
	index int
	paths []string
}

// Scan resolves every queued group that has not been resolved yet.
func (s *Scanner) Scan(ctx context.Context) ([]*Candidate, error) {
	s.mu.Lock()
	if s.seed == nil {
		s.mu.Unlock()
		return nil, ErrNoMnemonic
	}
	generation := s.generation
	mnemonic, seed := s.mnemonic, s.seed
	var pending []pendingGroup
	for i, paths := range s.groups {
		if i >= len(s.resolved) || s.resolved[i] == nil {
			pending = append(pending, pendingGroup{index: i, paths: paths})
		}
	}
	s.mu.Unlock()

	for _, p := range pending {
		group, err := s.resolveGroup(ctx, mnemonic, seed, p)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if s.generation != generation {
			s.mu.Unlock()
			return nil, fmt.Errorf("mnemonic changed during scan")
		}
		for len(s.resolved) <= p.index {
			s.resolved = append(s.resolved, nil)
		}
		s.resolved[p.index] = group
		if p.index > 0 {
			s.hasMore = group.Funded()
		}
		s.mu.Unlock()

		s.logger.InfoContext(ctx, "derivation group resolved",
			"group", p.index,
			"paths", len(p.paths),
			"funded", group.Funded(),
			"failed", group.Failed(),
		)
	}

	return s.Candidates(), nil
}

// ScanAll scans the initial group and keeps fetching more while the most
// recent group found funds, up to the configured group limit.
func (s *Scanner) ScanAll(ctx context.Context) ([]*Candidate, error) {
	if _, err := s.Scan(ctx); err != nil {
		return nil, err
	}
	for {
		s.mu.Lock()
		more := s.hasMore && len(s.groups) < s.maxGroups
		s.mu.Unlock()
		if !more {
			break
		}
		if err := s.FetchMore(); err != nil {
			return nil, err
		}
		if _, err := s.Scan(ctx); err != nil {
			return nil, err
		}
	}
	return s.Candidates(), nil
}

// resolveGroup probes every path in parallel. A failing path yields a nil
// candidate; only context cancellation fails the whole group.
func (s *Scanner) resolveGroup(ctx context.Context, mnemonic string, seed []byte, p pendingGroup) (*Group, error) {
	group := &Group{
		Index:      p.index,
		Paths:      p.paths,
		Candidates: make([]*Candidate, len(p.paths)),
		Errors:     make([]error, len(p.paths)),
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, path := range p.paths {
		g.Go(func() error {
			c, err := s.probe(ctx, mnemonic, seed, path)
			if err != nil {
				group.Errors[i] = err
				s.logger.WarnContext(ctx, "derivation path probe failed", "path", path, "error", err)
				return nil
			}
			group.Candidates[i] = c
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return group, nil
}

func (s *Scanner) probe(ctx context.Context, mnemonic string, seed []byte, path string) (c *Candidate, err error) {
	defer func() {
		if s.metrics == nil {
			return
		}
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordScannerProbe(status)
	}()

	key, err := deriveKey(mnemonic, seed, path)
	if err != nil {
		return nil, err
	}

	c = &Candidate{Path: path, Key: key, Address: key.PublicKey()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		balance, err := s.chain.GetBalance(gctx, c.Address)
		if err != nil {
			return fmt.Errorf("balance: %w", err)
		}
		c.Balance = balance
		return nil
	})
	g.Go(func() error {
		balances, err := s.chain.GetTokenBalances(gctx, c.Address, s.mints)
		if err != nil {
			return fmt.Errorf("token balances: %w", err)
		}
		for _, b := range balances {
			if b.Exists && b.Amount > 0 {
				c.Tokens = append(c.Tokens, TokenAmount{Mint: b.Mint, Amount: b.Amount})
			}
		}
		return nil
	})
	if s.migration != nil && path == hdpath.Helium(-1).Full() {
		g.Go(func() error {
			needs, err := s.migration.NeedsMigration(gctx, c.Address)
			if err != nil {
				return fmt.Errorf("migration check: %w", err)
			}
			c.NeedsMigration = needs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return c, nil
}

func deriveKey(mnemonic string, seed []byte, path string) (solana.PrivateKey, error) {
	if path == HeliumLegacy {
		return keystore.LegacyHeliumKey(mnemonic)
	}
	p, err := hdpath.Parse(path)
	if err != nil {
		return nil, err
	}
	return keystore.DeriveKey(seed, p)
}
