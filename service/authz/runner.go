package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is where a request is in its lifecycle.
type State string

const (
	StatePreparing        State = "preparing"
	StateAwaitingDecision State = "awaiting_decision"
	StateCompleting       State = "completing"
	StateDone             State = "done"
)

// Status is a snapshot of a running or finished request.
type Status struct {
	RequestID   string    `json:"request_id"`
	Method      Method    `json:"method"`
	State       State     `json:"state"`
	Prepared    *Prepared `json:"prepared,omitempty"`
	Response    *Response `json:"response,omitempty"`
	RedirectURL string    `json:"redirect_url,omitempty"`
}

// Finish records the terminal response.
func (s *Status) Finish(resp *Response) {
	s.State = StateDone
	s.Response = resp
	s.RedirectURL = resp.URL()
}

// ErrRequestNotFound is returned for an unknown request id.
var ErrRequestNotFound = errors.New("request not found")

// Runner runs requests in the background, parking those that need a human
// decision in a Registry until they are resolved or the approval timeout
// passes. A timed out request is answered as a rejection.
type Runner struct {
	orch            *Orchestrator
	approver        Approver
	registry        *Registry
	approvalTimeout time.Duration
	retention       time.Duration
	logger          *slog.Logger
	now             func() time.Time

	mu       sync.Mutex
	statuses map[string]*runEntry
	wg       sync.WaitGroup
}

type runEntry struct {
	status     Status
	finishedAt time.Time
}

// NewRunner creates a Runner. approver decides first; requests it defers
// end up in registry. A nil approver sends every request to registry.
func NewRunner(orch *Orchestrator, approver Approver, registry *Registry, approvalTimeout time.Duration, logger *slog.Logger) *Runner {
	if approver == nil {
		approver = registry
	}
	return &Runner{
		orch:            orch,
		approver:        approver,
		registry:        registry,
		approvalTimeout: approvalTimeout,
		retention:       15 * time.Minute,
		logger:          logger,
		now:             time.Now,
		statuses:        make(map[string]*runEntry),
	}
}

// Start begins processing req. The request outlives ctx's cancellation but
// keeps its values.
func (r *Runner) Start(ctx context.Context, req Request) error {
	r.mu.Lock()
	r.prune()
	if _, exists := r.statuses[req.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("request %s already started", req.ID)
	}
	r.statuses[req.ID] = &runEntry{status: Status{RequestID: req.ID, Method: req.Method, State: StatePreparing}}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(context.WithoutCancel(ctx), req)
	}()
	return nil
}

func (r *Runner) run(ctx context.Context, req Request) {
	prepared, resp := r.orch.Prepare(ctx, req)
	if resp != nil {
		r.update(req.ID, func(s *Status) { s.Finish(resp) })
		return
	}
	r.update(req.ID, func(s *Status) {
		s.State = StateAwaitingDecision
		s.Prepared = prepared
	})

	decideCtx, cancel := context.WithTimeout(ctx, r.approvalTimeout)
	decision, err := r.approver.Decide(decideCtx, prepared)
	cancel()
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			r.logger.WarnContext(ctx, "approval did not complete", "request_id", req.ID, "error", err)
		} else {
			r.logger.InfoContext(ctx, "approval timed out", "request_id", req.ID)
		}
		decision = Decision{}
	}

	r.update(req.ID, func(s *Status) { s.State = StateCompleting })
	resp = r.orch.Complete(ctx, prepared, decision)
	r.update(req.ID, func(s *Status) { s.Finish(resp) })
}

func (r *Runner) update(id string, fn func(*Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.statuses[id]
	if !ok {
		return
	}
	fn(&entry.status)
	if entry.status.State == StateDone {
		entry.finishedAt = r.now()
	}
}

// prune drops finished requests older than the retention period. Callers hold mu.
func (r *Runner) prune() {
	cutoff := r.now().Add(-r.retention)
	for id, entry := range r.statuses {
		if entry.status.State == StateDone && entry.finishedAt.Before(cutoff) {
			delete(r.statuses, id)
		}
	}
}

// Decide delivers a decision for a request awaiting one.
func (r *Runner) Decide(ctx context.Context, requestID string, d Decision) error {
	return r.registry.Resolve(requestID, d)
}

// Status returns a snapshot of the request.
func (r *Runner) Status(ctx context.Context, requestID string) (*Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.statuses[requestID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	s := entry.status
	return &s, nil
}

// Wait blocks until every started request has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
