package authz

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
	"github.com/helium/wallet-app-sub004/service/codec"
	"github.com/helium/wallet-app-sub004/service/metrics"
	"github.com/helium/wallet-app-sub004/service/session"
	"github.com/helium/wallet-app-sub004/service/signer"
	"github.com/helium/wallet-app-sub004/service/simulator"
	solanapkg "github.com/helium/wallet-app-sub004/service/solana"
	"github.com/mr-tron/base58"
)

// Sessions is the session manager surface the orchestrator needs.
type Sessions interface {
	Connect(ctx context.Context, owner solana.PublicKey, counterparty [codec.KeySize]byte, meta session.Metadata) (*session.ConnectResult, error)
	Disconnect(ctx context.Context, counterparty [codec.KeySize]byte, payload codec.EncryptedPayload) error
	ValidateAndUnwrap(ctx context.Context, counterparty [codec.KeySize]byte, payload codec.EncryptedPayload) (*session.Unwrapped, error)
}

// Simulator runs risk simulation.
type Simulator interface {
	Simulate(ctx context.Context, serializedTxs [][]byte, wallet solana.PublicKey, blacklist map[solana.PublicKey]struct{}) (*simulator.Report, error)
}

// Signer produces signatures for an identity. *signer.Router satisfies it.
type Signer interface {
	SignTransaction(ctx context.Context, tx *solana.Transaction, id signer.Identity) (*solana.Transaction, error)
	SignAllTransactions(ctx context.Context, txs []*solana.Transaction, id signer.Identity) ([]*solana.Transaction, error)
	SignMessage(ctx context.Context, message []byte, id signer.Identity) (solana.Signature, error)
}

// Sender submits signed transactions.
type Sender interface {
	SendTransaction(ctx context.Context, tx *solana.Transaction, opts solanapkg.SendOptions) (solana.Signature, error)
}

// Blacklist provides accounts excluded from simulation diffs.
type Blacklist interface {
	Accounts(ctx context.Context) (map[solana.PublicKey]struct{}, error)
}

// MessagePreview is how a signMessage request is shown for approval.
type MessagePreview struct {
	Display string `json:"display"`
	Text    string `json:"text"`
}

// Prepared is a validated request awaiting a decision. It carries no key
// material so it can be persisted or passed between workflow activities.
type Prepared struct {
	Request    Request           `json:"request"`
	AppURL     string            `json:"app_url"`
	Owner      string            `json:"owner,omitempty"`
	Simulation *simulator.Report `json:"simulation,omitempty"`
	Message    *MessagePreview   `json:"message,omitempty"`
	PreparedAt time.Time         `json:"prepared_at"`

	// Presentations is the review view of Simulation, one per transaction.
	Presentations []simulator.Presentation `json:"presentations,omitempty"`
}

// RequiresConfirmation reports whether the simulation demands an explicit decision.
func (p *Prepared) RequiresConfirmation() bool {
	return p.Simulation != nil && p.Simulation.Summary.RequiresConfirmation
}

// Decision is the approver's answer.
type Decision struct {
	Approved bool `json:"approved"`
	// Account selects the owner for connect requests.
	Account *solana.PublicKey `json:"account,omitempty"`
	// OverrideSimulationErrors allows signing a batch whose simulation failed.
	OverrideSimulationErrors bool `json:"override_simulation_errors,omitempty"`
}

// Orchestrator ties sessions, simulation and signing together.
type Orchestrator struct {
	sessions  Sessions
	simulator Simulator
	signer    Signer
	sender    Sender
	blacklist Blacklist
	sinks     []EventSink
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBlacklist excludes accounts from simulation.
func WithBlacklist(b Blacklist) Option {
	return func(o *Orchestrator) { o.blacklist = b }
}

// WithEventSink adds a destination for authorization events.
func WithEventSink(s EventSink) Option {
	return func(o *Orchestrator) { o.sinks = append(o.sinks, s) }
}

// New creates an Orchestrator. If metrics is nil, no metrics will be recorded.
func New(sessions Sessions, sim Simulator, sign Signer, sender Sender, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions:  sessions,
		simulator: sim,
		signer:    sign,
		sender:    sender,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle runs a request to completion, asking approver when a decision is
// needed. It always returns a terminal response.
func (o *Orchestrator) Handle(ctx context.Context, req Request, approver Approver) *Response {
	prepared, resp := o.Prepare(ctx, req)
	if resp != nil {
		return resp
	}

	decision, err := approver.Decide(ctx, prepared)
	if errors.Is(err, context.DeadlineExceeded) {
		// An unanswered approval is a rejection.
		return o.fail(ctx, prepared, fmt.Errorf("%w: approval timed out: %w", errRejected, err))
	}
	if err != nil {
		o.logger.WarnContext(ctx, "approval did not complete", "request_id", req.ID, "error", err)
		return o.fail(ctx, prepared, err)
	}
	return o.Complete(ctx, prepared, decision)
}

// Prepare validates a request and gathers what the approver needs. It returns
// a terminal response instead when the request fails or needs no approval.
func (o *Orchestrator) Prepare(ctx context.Context, req Request) (*Prepared, *Response) {
	prepared := &Prepared{Request: req, AppURL: req.AppURL, PreparedAt: o.now()}
	if err := req.Validate(); err != nil {
		return nil, o.fail(ctx, prepared, err)
	}
	counterparty, err := codec.DecodeKey(req.CounterpartyPubKey)
	if err != nil {
		return nil, o.fail(ctx, prepared, err)
	}

	switch req.Method {
	case MethodConnect:
		o.emit(ctx, prepared, nil, OutcomePending)
		return prepared, nil

	case MethodDisconnect:
		payload, err := codec.ParseEncryptedPayload(req.Nonce, req.Payload)
		if err != nil {
			return nil, o.fail(ctx, prepared, err)
		}
		if err := o.sessions.Disconnect(ctx, counterparty, payload); err != nil {
			return nil, o.fail(ctx, prepared, err)
		}
		return nil, o.finish(ctx, prepared, &Response{
			RequestID:    req.ID,
			Method:       req.Method,
			Outcome:      OutcomeCompleted,
			RedirectLink: req.RedirectLink,
		})
	}

	u, body, err := o.unwrap(ctx, req, counterparty)
	if err != nil {
		return nil, o.fail(ctx, prepared, err)
	}
	prepared.AppURL = u.Session.AppURL
	prepared.Owner = u.Owner.SolanaAddress.String()

	if req.Method == MethodSignMessage {
		msg, err := body.message()
		if err != nil {
			return nil, o.fail(ctx, prepared, err)
		}
		prepared.Message = previewMessage(msg, body.Display)
		o.emit(ctx, prepared, nil, OutcomePending)
		return prepared, nil
	}

	raw, err := body.rawTransactions(req.Method)
	if err != nil {
		return nil, o.fail(ctx, prepared, err)
	}

	blacklist := map[solana.PublicKey]struct{}{}
	if o.blacklist != nil {
		if bl, err := o.blacklist.Accounts(ctx); err != nil {
			o.logger.WarnContext(ctx, "account blacklist unavailable, simulating without it", "error", err)
		} else {
			blacklist = bl
		}
	}

	report, err := o.simulator.Simulate(ctx, raw, u.Owner.SolanaAddress, blacklist)
	if err != nil {
		return nil, o.fail(ctx, prepared, fmt.Errorf("%w: %w", errSimulationBlocked, err))
	}
	prepared.Simulation = report
	prepared.Presentations = report.Present()

	o.logger.InfoContext(ctx, "request prepared",
		"request_id", req.ID,
		"method", req.Method,
		"app_url", prepared.AppURL,
		"transactions", len(raw),
		"requires_confirmation", report.Summary.RequiresConfirmation,
		"blocked", report.Summary.Blocked,
	)
	o.emit(ctx, prepared, nil, OutcomePending)
	return prepared, nil
}

// Complete applies a decision to a prepared request. The payload is
// unwrapped again so the session is still valid at signing time and the
// signed bytes are exactly the simulated ones.
func (o *Orchestrator) Complete(ctx context.Context, p *Prepared, d Decision) *Response {
	req := p.Request
	if !d.Approved {
		return o.fail(ctx, p, errRejected)
	}

	counterparty, err := codec.DecodeKey(req.CounterpartyPubKey)
	if err != nil {
		return o.fail(ctx, p, err)
	}

	if req.Method == MethodConnect {
		return o.connect(ctx, p, counterparty, d)
	}
	if !req.Method.IsSign() {
		return o.fail(ctx, p, fmt.Errorf("%w: %s cannot be completed", ErrUnknownMethod, req.Method))
	}

	if p.Simulation != nil && p.Simulation.Summary.Blocked && !d.OverrideSimulationErrors {
		return o.fail(ctx, p, errSimulationBlocked)
	}

	u, body, err := o.unwrap(ctx, req, counterparty)
	if err != nil {
		return o.fail(ctx, p, err)
	}
	if p.Owner != "" && u.Owner.SolanaAddress.String() != p.Owner {
		return o.fail(ctx, p, session.ErrSessionMismatch)
	}

	result, err := o.sign(ctx, req.Method, u, body)
	if err != nil {
		return o.fail(ctx, p, err)
	}

	sealed, err := u.Seal(result)
	if err != nil {
		return o.fail(ctx, p, err)
	}
	return o.finish(ctx, p, sealedResponse(req, sealed))
}

func (o *Orchestrator) connect(ctx context.Context, p *Prepared, counterparty [codec.KeySize]byte, d Decision) *Response {
	req := p.Request
	if d.Account == nil {
		return o.fail(ctx, p, errors.New("no account selected for connect"))
	}

	result, err := o.sessions.Connect(ctx, *d.Account, counterparty, session.Metadata{
		AppURL:  req.AppURL,
		Cluster: req.Cluster,
	})
	if err != nil {
		return o.fail(ctx, p, err)
	}

	p.Owner = d.Account.String()
	resp := sealedResponse(req, result.Payload)
	resp.Params.Set("helium_encryption_public_key", codec.EncodeKey(result.EncryptionPublicKey))
	return o.finish(ctx, p, resp)
}

func (o *Orchestrator) unwrap(ctx context.Context, req Request, counterparty [codec.KeySize]byte) (*session.Unwrapped, *signPayload, error) {
	payload, err := codec.ParseEncryptedPayload(req.Nonce, req.Payload)
	if err != nil {
		return nil, nil, err
	}
	u, err := o.sessions.ValidateAndUnwrap(ctx, counterparty, payload)
	if err != nil {
		return nil, nil, err
	}
	var body signPayload
	if err := json.Unmarshal(u.Payload, &body); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", codec.ErrDecryption, err)
	}
	return u, &body, nil
}

func (o *Orchestrator) sign(ctx context.Context, method Method, u *session.Unwrapped, body *signPayload) (any, error) {
	id := u.Owner.Identity()

	switch method {
	case MethodSignMessage:
		msg, err := body.message()
		if err != nil {
			return nil, err
		}
		sig, err := o.signer.SignMessage(ctx, msg, id)
		if err != nil {
			return nil, err
		}
		return map[string]string{"signature": sig.String()}, nil

	case MethodSignAllTransactions:
		txs, err := body.transactions(method)
		if err != nil {
			return nil, err
		}
		signed, err := o.signer.SignAllTransactions(ctx, txs, id)
		if err != nil {
			return nil, err
		}
		encoded := make([]string, len(signed))
		for i, tx := range signed {
			if encoded[i], err = encodeTransaction(tx); err != nil {
				return nil, err
			}
		}
		return map[string][]string{"transactions": encoded}, nil

	default:
		txs, err := body.transactions(method)
		if err != nil {
			return nil, err
		}
		signed, err := o.signer.SignTransaction(ctx, txs[0], id)
		if err != nil {
			return nil, err
		}
		if method == MethodSignTransaction {
			encoded, err := encodeTransaction(signed)
			if err != nil {
				return nil, err
			}
			return map[string]string{"transaction": encoded}, nil
		}

		var opts solanapkg.SendOptions
		if body.SendOptions != nil {
			opts = *body.SendOptions
		}
		sig, err := o.sender.SendTransaction(ctx, signed, opts)
		if err != nil {
			return nil, err
		}
		return map[string]string{"signature": sig.String()}, nil
	}
}

func encodeTransaction(tx *solana.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encode signed transaction: %w", err)
	}
	return base58.Encode(raw), nil
}

func previewMessage(msg []byte, display string) *MessagePreview {
	if display == "hex" || !utf8.Valid(msg) {
		return &MessagePreview{Display: "hex", Text: hex.EncodeToString(msg)}
	}
	return &MessagePreview{Display: "utf8", Text: string(msg)}
}

func (o *Orchestrator) fail(ctx context.Context, p *Prepared, err error) *Response {
	req := p.Request
	outcome, code, message := classify(err)
	o.logger.WarnContext(ctx, "request failed",
		"request_id", req.ID,
		"method", req.Method,
		"error_code", code,
		"error", err,
	)
	return o.finish(ctx, p, errorResponse(req, outcome, code, message, err))
}

func (o *Orchestrator) finish(ctx context.Context, p *Prepared, resp *Response) *Response {
	if o.metrics != nil {
		o.metrics.RecordAuthorization(string(resp.Method), string(resp.Outcome), o.now().Sub(p.PreparedAt).Seconds())
	}
	if resp.Err == nil {
		o.logger.InfoContext(ctx, "request completed",
			"request_id", resp.RequestID,
			"method", resp.Method,
			"outcome", resp.Outcome,
		)
	}
	o.emit(ctx, p, resp, resp.Outcome)
	return resp
}
