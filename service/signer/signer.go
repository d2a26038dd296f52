// Package signer routes signing requests to the local keystore or to a
// hardware device depending on the account's identity.
package signer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/helium/wallet-app-sub004/service/ledger"
	"github.com/helium/wallet-app-sub004/service/metrics"
)

var (
	// ErrUserRejected is returned when the user cancels signing on the device.
	ErrUserRejected = ledger.ErrUserRejected
	// ErrNotSigner is returned when the identity is not a required signer of the transaction.
	ErrNotSigner = errors.New("account is not a signer of the transaction")
)

// Backend produces signatures for one kind of identity.
type Backend interface {
	SignTransaction(ctx context.Context, tx *solana.Transaction, id Identity) (*solana.Transaction, error)
	SignAllTransactions(ctx context.Context, txs []*solana.Transaction, id Identity) ([]*solana.Transaction, error)
	SignMessage(ctx context.Context, message []byte, id Identity) (solana.Signature, error)
}

// Router dispatches to the backend matching the identity kind.
type Router struct {
	local    Backend
	hardware Backend
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewRouter creates a router. If metrics is nil, no metrics will be recorded.
func NewRouter(local, hardware Backend, m *metrics.Metrics, logger *slog.Logger) *Router {
	return &Router{local: local, hardware: hardware, metrics: m, logger: logger}
}

func (r *Router) backend(id Identity) (Backend, error) {
	switch id.Kind() {
	case KindHardware:
		if r.hardware == nil {
			return nil, fmt.Errorf("no hardware backend configured")
		}
		return r.hardware, nil
	case KindLocal:
		if r.local == nil {
			return nil, fmt.Errorf("no local backend configured")
		}
		return r.local, nil
	default:
		return nil, fmt.Errorf("unknown signer kind %s", id.Kind())
	}
}

func (r *Router) record(ctx context.Context, op string, id Identity, start time.Time, err error) {
	status := "success"
	switch {
	case errors.Is(err, ErrUserRejected):
		status = "rejected"
	case err != nil:
		status = "error"
	}
	if r.metrics != nil {
		r.metrics.RecordSigning(id.Kind().String(), status, time.Since(start).Seconds())
	}
	r.logger.InfoContext(ctx, "signing finished",
		"operation", op,
		"backend", id.Kind().String(),
		"address", id.Address().String(),
		"status", status,
	)
}

// SignTransaction signs tx for the identity.
func (r *Router) SignTransaction(ctx context.Context, tx *solana.Transaction, id Identity) (signed *solana.Transaction, err error) {
	start := time.Now()
	defer func() { r.record(ctx, "sign_transaction", id, start, err) }()

	b, err := r.backend(id)
	if err != nil {
		return nil, err
	}
	return b.SignTransaction(ctx, tx, id)
}

// SignAllTransactions signs every transaction for the identity.
func (r *Router) SignAllTransactions(ctx context.Context, txs []*solana.Transaction, id Identity) (signed []*solana.Transaction, err error) {
	start := time.Now()
	defer func() { r.record(ctx, "sign_all_transactions", id, start, err) }()

	b, err := r.backend(id)
	if err != nil {
		return nil, err
	}
	return b.SignAllTransactions(ctx, txs, id)
}

// SignMessage signs raw message bytes for the identity.
func (r *Router) SignMessage(ctx context.Context, message []byte, id Identity) (sig solana.Signature, err error) {
	start := time.Now()
	defer func() { r.record(ctx, "sign_message", id, start, err) }()

	b, err := r.backend(id)
	if err != nil {
		return solana.Signature{}, err
	}
	return b.SignMessage(ctx, message, id)
}

// attachSignature places sig in the transaction's signature slot for signer,
// leaving other signers' slots untouched.
func attachSignature(tx *solana.Transaction, signer solana.PublicKey, sig solana.Signature) (*solana.Transaction, error) {
	index, err := signerIndex(tx, signer)
	if err != nil {
		return nil, err
	}

	out := *tx
	required := int(tx.Message.Header.NumRequiredSignatures)
	out.Signatures = make([]solana.Signature, required)
	copy(out.Signatures, tx.Signatures)
	out.Signatures[index] = sig
	return &out, nil
}

func signerIndex(tx *solana.Transaction, signer solana.PublicKey) (int, error) {
	required := int(tx.Message.Header.NumRequiredSignatures)
	for i := 0; i < required && i < len(tx.Message.AccountKeys); i++ {
		if tx.Message.AccountKeys[i].Equals(signer) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrNotSigner, signer)
}
