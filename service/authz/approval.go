package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/helium/wallet-app-sub004/service/metrics"
)

// Approver decides whether a prepared request may proceed.
type Approver interface {
	Decide(ctx context.Context, p *Prepared) (Decision, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, p *Prepared) (Decision, error)

func (f ApproverFunc) Decide(ctx context.Context, p *Prepared) (Decision, error) {
	return f(ctx, p)
}

// PolicyApprover auto-approves transaction signing for trusted origins when
// simulation found nothing to warn about. Anything else goes to next.
type PolicyApprover struct {
	trusted map[string]struct{}
	next    Approver
	logger  *slog.Logger
}

// NewPolicyApprover creates a PolicyApprover. A nil next rejects every
// request the policy does not approve itself.
func NewPolicyApprover(trustedOrigins []string, next Approver, logger *slog.Logger) *PolicyApprover {
	trusted := make(map[string]struct{}, len(trustedOrigins))
	for _, o := range trustedOrigins {
		if origin := normalizeOrigin(o); origin != "" {
			trusted[origin] = struct{}{}
		}
	}
	return &PolicyApprover{trusted: trusted, next: next, logger: logger}
}

func (a *PolicyApprover) Decide(ctx context.Context, p *Prepared) (Decision, error) {
	if a.autoApprove(p) {
		a.logger.InfoContext(ctx, "request auto-approved",
			"request_id", p.Request.ID,
			"method", p.Request.Method,
			"app_url", p.AppURL,
		)
		return Decision{Approved: true}, nil
	}
	if a.next == nil {
		return Decision{}, nil
	}
	return a.next.Decide(ctx, p)
}

func (a *PolicyApprover) autoApprove(p *Prepared) bool {
	switch p.Request.Method {
	case MethodSignTransaction, MethodSignAllTransactions, MethodSignAndSendTransaction:
	default:
		return false
	}
	if _, ok := a.trusted[normalizeOrigin(p.AppURL)]; !ok {
		return false
	}
	if p.Simulation == nil {
		return false
	}
	s := p.Simulation.Summary
	return !s.Blocked && !s.RequiresConfirmation && s.WarningCount == 0
}

// normalizeOrigin reduces a URL to scheme://host.
func normalizeOrigin(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

var (
	// ErrApprovalNotFound is returned when no request is waiting under the id.
	ErrApprovalNotFound = errors.New("pending approval not found")
	// ErrAlreadyDecided is returned when a request was already resolved.
	ErrAlreadyDecided = errors.New("approval already decided")
)

// Pending is a request waiting on a human decision.
type Pending struct {
	Prepared *Prepared `json:"prepared"`
	Since    time.Time `json:"since"`

	decision chan Decision
	resolved bool
}

// Registry is an Approver that parks requests until Resolve is called, for
// approval UIs served over HTTP.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*Pending
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewRegistry creates an empty Registry. If metrics is nil, no metrics will be recorded.
func NewRegistry(m *metrics.Metrics, logger *slog.Logger) *Registry {
	return &Registry{
		pending: make(map[string]*Pending),
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Decide blocks until the request is resolved or ctx is done.
func (r *Registry) Decide(ctx context.Context, p *Prepared) (Decision, error) {
	id := p.Request.ID
	entry := &Pending{Prepared: p, Since: r.now(), decision: make(chan Decision, 1)}

	r.mu.Lock()
	if _, exists := r.pending[id]; exists {
		r.mu.Unlock()
		return Decision{}, fmt.Errorf("request %s is already pending", id)
	}
	r.pending[id] = entry
	r.mu.Unlock()
	r.gauge(1)

	r.logger.InfoContext(ctx, "awaiting approval", "request_id", id, "method", p.Request.Method)

	defer func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		r.gauge(-1)
	}()

	select {
	case d := <-entry.decision:
		return d, nil
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// Resolve delivers a decision to a waiting request.
func (r *Registry) Resolve(id string, d Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.pending[id]
	if !ok {
		return ErrApprovalNotFound
	}
	if entry.resolved {
		return ErrAlreadyDecided
	}
	entry.resolved = true
	entry.decision <- d
	return nil
}

// Get returns the pending request with the given id.
func (r *Registry) Get(id string) (*Pending, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.pending[id]
	if !ok || entry.resolved {
		return nil, ErrApprovalNotFound
	}
	return entry, nil
}

// List returns unresolved requests, oldest first.
func (r *Registry) List() []*Pending {
	r.mu.Lock()
	out := make([]*Pending, 0, len(r.pending))
	for _, entry := range r.pending {
		if !entry.resolved {
			out = append(out, entry)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Since.Equal(out[j].Since) {
			return out[i].Prepared.Request.ID < out[j].Prepared.Request.ID
		}
		return out[i].Since.Before(out[j].Since)
	})
	return out
}

func (r *Registry) gauge(delta float64) {
	if r.metrics != nil {
		r.metrics.RecordPendingApprovalChange(delta)
	}
}
