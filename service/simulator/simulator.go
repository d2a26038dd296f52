// Package simulator dry-runs transactions against current chain state and
// classifies the effects into warnings before anything is signed.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/helium/wallet-app-sub004/service/metrics"
	solanapkg "github.com/helium/wallet-app-sub004/service/solana"
	"golang.org/x/sync/errgroup"
)

// Chain is the RPC surface the simulator needs. *solana.Client satisfies it.
type Chain interface {
	GetMultipleAccounts(ctx context.Context, accounts []solana.PublicKey) ([]*solanapkg.AccountSnapshot, error)
	Simulate(ctx context.Context, tx *solana.Transaction, addresses []solana.PublicKey) (*solanapkg.SimulationOutcome, error)
	GetFee(ctx context.Context, msg *solana.Message) (uint64, error)
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64) (uint64, error)
}

// AccountFetcher loads rarely changing accounts such as mints and lookup tables.
type AccountFetcher interface {
	GetMultipleAccounts(ctx context.Context, accounts []solana.PublicKey) ([]*solanapkg.AccountSnapshot, error)
}

// AssetSearcher finds compressed assets a wallet holds in a merkle tree.
type AssetSearcher interface {
	SearchCompressedAssets(ctx context.Context, owner, tree solana.PublicKey, limit int) ([]solanapkg.CompressedAsset, error)
}

// Simulator runs risk simulation over batches of transactions.
type Simulator struct {
	chain       Chain
	static      AccountFetcher
	assets      AssetSearcher
	concurrency int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithStaticAccounts serves mint and lookup table reads from a cache.
func WithStaticAccounts(f AccountFetcher) Option {
	return func(s *Simulator) { s.static = f }
}

// WithAssetSearcher enables compressed asset checks.
func WithAssetSearcher(a AssetSearcher) Option {
	return func(s *Simulator) { s.assets = a }
}

// WithConcurrency bounds how many transactions simulate at once.
func WithConcurrency(n int) Option {
	return func(s *Simulator) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// New creates a Simulator.
func New(chain Chain, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Simulator {
	s := &Simulator{
		chain:       chain,
		static:      chain,
		concurrency: 4,
		metrics:     m,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Simulate dry-runs every serialized transaction. Per-transaction failures
// are recorded in Result.Error; the returned error is reserved for failures
// that prevent computing the batch summary.
func (s *Simulator) Simulate(
	ctx context.Context,
	serializedTxs [][]byte,
	wallet solana.PublicKey,
	blacklist map[solana.PublicKey]struct{},
) (*Report, error) {
	start := time.Now()
	results := make([]Result, len(serializedTxs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, raw := range serializedTxs {
		g.Go(func() error {
			results[i] = s.simulateOne(gctx, i, raw, wallet, blacklist)
			return nil
		})
	}

	var balance, rent uint64
	g.Go(func() error {
		var err error
		balance, err = s.chain.GetBalance(gctx, wallet)
		return err
	})
	g.Go(func() error {
		var err error
		rent, err = s.chain.GetMinimumBalanceForRentExemption(gctx, 0)
		return err
	})

	status := "success"
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordSimulationBatch(status, time.Since(start).Seconds())
		}
	}()

	if err := g.Wait(); err != nil {
		status = "error"
		return nil, fmt.Errorf("simulate batch: %w", err)
	}

	report := &Report{
		Wallet:  wallet,
		Results: results,
		Summary: summarize(results, balance, rent),
	}

	s.logger.InfoContext(ctx, "simulated transactions",
		"wallet", wallet.String(),
		"count", len(results),
		"total_fee", report.Summary.TotalFee,
		"warnings", report.Summary.WarningCount,
		"blocked", report.Summary.Blocked,
	)
	return report, nil
}

func summarize(results []Result, balance, rent uint64) Summary {
	sum := Summary{Balance: balance, RentExemptMinimum: rent}
	anyShortfall := false
	for _, r := range results {
		sum.TotalSolFee += r.SolFee
		sum.TotalPriorityFee += r.PriorityFee
		sum.WarningCount += len(r.Warnings)
		if r.HasCritical() {
			sum.RequiresConfirmation = true
		}
		if r.Error != nil {
			sum.Blocked = true
			sum.RequiresConfirmation = true
			if r.Error.InsufficientFunds() {
				anyShortfall = true
			}
		}
	}
	sum.TotalFee = sum.TotalSolFee + sum.TotalPriorityFee
	sum.InsufficientFunds = sum.TotalFee > balance || anyShortfall
	// An empty wallet reports InsufficientFunds only.
	sum.InsufficientRentExempt = balance > 0 && int64(balance)-int64(sum.TotalFee) < int64(rent)
	return sum
}

func (s *Simulator) simulateOne(
	ctx context.Context,
	index int,
	raw []byte,
	wallet solana.PublicKey,
	blacklist map[solana.PublicKey]struct{},
) Result {
	result := Result{Index: index}
	fail := func(err error, logs []string) Result {
		result.Error = &SimulationError{Index: index, Err: err.Error(), Logs: logs}
		result.Logs = logs
		if s.metrics != nil {
			s.metrics.RecordSimulation("error")
		}
		s.logger.WarnContext(ctx, "transaction simulation failed", "index", index, "error", err)
		return result
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return fail(fmt.Errorf("decode transaction: %w", err), nil)
	}
	msg := &tx.Message

	budget := solanapkg.ParseComputeBudget(msg)
	result.PriorityFee = budget.PriorityFee()

	lookups, err := s.resolveLookupTables(ctx, msg)
	if err != nil {
		return fail(err, nil)
	}
	writable, err := solanapkg.WritableAccounts(msg, lookups)
	if err != nil {
		return fail(err, nil)
	}

	// Blacklisted accounts are large merkle trees; they are neither fetched
	// nor diffed, but they mark where compressed assets may change.
	var addresses, trees []solana.PublicKey
	seen := make(map[solana.PublicKey]struct{}, len(writable))
	for _, key := range writable {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if _, skip := blacklist[key]; skip {
			trees = append(trees, key)
			continue
		}
		addresses = append(addresses, key)
	}

	var (
		pre     []*solanapkg.AccountSnapshot
		outcome *solanapkg.SimulationOutcome
		fee     uint64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pre, err = s.chain.GetMultipleAccounts(gctx, addresses)
		return err
	})
	g.Go(func() error {
		var err error
		outcome, err = s.chain.Simulate(gctx, tx, addresses)
		return err
	})
	g.Go(func() error {
		var err error
		fee, err = s.chain.GetFee(gctx, msg)
		return err
	})
	if err := g.Wait(); err != nil {
		return fail(err, nil)
	}
	result.SolFee = fee
	result.Logs = outcome.Logs

	if outcome.Failed() {
		return fail(errors.New(render(outcome.Err)), outcome.Logs)
	}

	accounts, err := s.buildAccounts(ctx, addresses, pre, outcome.Accounts)
	if err != nil {
		return fail(err, outcome.Logs)
	}
	result.WritableAccounts = accounts

	for _, acct := range accounts {
		if acct.Pre.Account != nil && acct.Pre.Account.Owner.Equals(solanapkg.AccountCompressionProgramID) {
			trees = append(trees, acct.Address)
		}
	}

	for _, acct := range accounts {
		result.Warnings = append(result.Warnings, accountWarnings(acct, wallet)...)
	}
	result.Warnings = append(result.Warnings, logWarnings(outcome.Logs)...)

	if s.assets != nil && len(trees) > 0 {
		assets, err := s.possibleCNftChanges(ctx, wallet, trees)
		if err != nil {
			// Asset search is advisory; the simulation itself succeeded.
			s.logger.WarnContext(ctx, "compressed asset search failed", "index", index, "error", err)
		} else {
			result.PossibleCollectibleChanges = assets
			result.Warnings = append(result.Warnings, cnftWarnings(assets)...)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordSimulation("success")
		for _, w := range result.Warnings {
			s.metrics.RecordWarning(string(w.Severity))
		}
	}
	return result
}

func (s *Simulator) resolveLookupTables(ctx context.Context, msg *solana.Message) (map[solana.PublicKey][]solana.PublicKey, error) {
	if len(msg.AddressTableLookups) == 0 {
		return nil, nil
	}
	keys := make([]solana.PublicKey, len(msg.AddressTableLookups))
	for i, l := range msg.AddressTableLookups {
		keys[i] = l.AccountKey
	}

	tables, err := s.static.GetMultipleAccounts(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("fetch lookup tables: %w", err)
	}
	out := make(map[solana.PublicKey][]solana.PublicKey, len(keys))
	for i, table := range tables {
		if table == nil {
			return nil, fmt.Errorf("lookup table %s not found", keys[i])
		}
		addresses, err := solanapkg.DecodeLookupTableAddresses(table.Data)
		if err != nil {
			return nil, fmt.Errorf("decode lookup table %s: %w", keys[i], err)
		}
		out[keys[i]] = addresses
	}
	return out, nil
}

func (s *Simulator) buildAccounts(
	ctx context.Context,
	addresses []solana.PublicKey,
	pre, post []*solanapkg.AccountSnapshot,
) ([]WritableAccount, error) {
	accounts := make([]WritableAccount, len(addresses))
	mintSet := make(map[solana.PublicKey]struct{})
	var mints []solana.PublicKey

	for i, addr := range addresses {
		var postSnap *solanapkg.AccountSnapshot
		if i < len(post) {
			postSnap = post[i]
		}
		acct := WritableAccount{
			Address: addr,
			Pre:     classify(pre[i]),
			Post:    classify(postSnap),
		}
		acct.Created = !acct.Pre.Exists() && acct.Post.Exists()
		acct.Closed = acct.Pre.Exists() && !acct.Post.Exists()
		acct.Changes = diffStates(acct.Pre, acct.Post)

		switch {
		case acct.IsToken():
			acct.Name = NameTokenAccount
			tok := tokenSide(acct)
			owner := tok.Owner
			acct.Owner = &owner
			acct.Metadata = &TokenMetadata{Mint: tok.Mint}
			if _, ok := mintSet[tok.Mint]; !ok {
				mintSet[tok.Mint] = struct{}{}
				mints = append(mints, tok.Mint)
			}
		case acct.Pre.Type == TypeNative || acct.Post.Type == TypeNative:
			acct.Name = NameNativeSOL
			owner := addr
			acct.Owner = &owner
			acct.Balance = &BalanceChange{Pre: lamports(acct.Pre), Post: lamports(acct.Post), Decimals: 9}
		case acct.Pre.Type == TypeMint || acct.Post.Type == TypeMint:
			acct.Name = NameMint
		default:
			acct.Name = NameUnknown
		}
		accounts[i] = acct
	}

	if len(mints) == 0 {
		return accounts, nil
	}
	mintAccounts, err := s.static.GetMultipleAccounts(ctx, mints)
	if err != nil {
		return nil, fmt.Errorf("fetch mints: %w", err)
	}
	decimals := make(map[solana.PublicKey]uint8, len(mints))
	for i, snap := range mintAccounts {
		if snap == nil {
			continue
		}
		if m, err := solanapkg.DecodeMint(snap.Data); err == nil {
			decimals[mints[i]] = m.Decimals
		}
	}

	for i := range accounts {
		if accounts[i].Metadata == nil {
			continue
		}
		d := decimals[accounts[i].Metadata.Mint]
		accounts[i].Metadata.Decimals = d
		accounts[i].Balance = &BalanceChange{
			Pre:      tokenAmount(accounts[i].Pre),
			Post:     tokenAmount(accounts[i].Post),
			Decimals: d,
		}
	}
	return accounts, nil
}

func tokenSide(acct WritableAccount) *solanapkg.TokenAccount {
	for _, side := range []AccountState{acct.Post, acct.Pre} {
		if side.Type == TypeTokenAccount {
			if tok, err := solanapkg.DecodeTokenAccount(side.Account.Data); err == nil {
				return tok
			}
		}
	}
	return &solanapkg.TokenAccount{}
}

func lamports(s AccountState) uint64 {
	if s.Account == nil {
		return 0
	}
	return s.Account.Lamports
}

func tokenAmount(s AccountState) uint64 {
	if s.Type != TypeTokenAccount {
		return 0
	}
	tok, err := solanapkg.DecodeTokenAccount(s.Account.Data)
	if err != nil {
		return 0
	}
	return tok.Amount
}

// possibleCNftChanges stops searching once the aggregate threshold is
// crossed since individual assets are no longer reported past it.
func (s *Simulator) possibleCNftChanges(ctx context.Context, wallet solana.PublicKey, trees []solana.PublicKey) ([]solanapkg.CompressedAsset, error) {
	var out []solanapkg.CompressedAsset
	for _, tree := range trees {
		remaining := CNftThreshold + 1 - len(out)
		if remaining <= 0 {
			break
		}
		assets, err := s.assets.SearchCompressedAssets(ctx, wallet, tree, remaining)
		if err != nil {
			return nil, err
		}
		out = append(out, assets...)
	}
	if len(out) > CNftThreshold+1 {
		out = out[:CNftThreshold+1]
	}
	return out, nil
}
