package temporal

import (
	"context"
	"sync"

	"github.com/helium/wallet-app-sub004/service/authz"
)

// MockAuthorizer records Start and Decide calls for testing callers of Client.
type MockAuthorizer struct {
	mu        sync.Mutex
	started   []authz.Request
	decisions map[string]authz.Decision
	statuses  map[string]*authz.Status
	startErr  error
}

// NewMockAuthorizer creates a new MockAuthorizer.
func NewMockAuthorizer() *MockAuthorizer {
	return &MockAuthorizer{
		decisions: make(map[string]authz.Decision),
		statuses:  make(map[string]*authz.Status),
	}
}

// Start records req and marks it awaiting a decision.
func (m *MockAuthorizer) Start(ctx context.Context, req authz.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.started = append(m.started, req)
	m.statuses[req.ID] = &authz.Status{RequestID: req.ID, Method: req.Method, State: authz.StateAwaitingDecision}
	return nil
}

// Decide records the decision for a started request.
func (m *MockAuthorizer) Decide(ctx context.Context, requestID string, d authz.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.statuses[requestID]; !ok {
		return authz.ErrRequestNotFound
	}
	m.decisions[requestID] = d
	return nil
}

// Status returns the recorded status.
func (m *MockAuthorizer) Status(ctx context.Context, requestID string) (*authz.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[requestID]
	if !ok {
		return nil, authz.ErrRequestNotFound
	}
	cp := *s
	return &cp, nil
}

// SetStatus overrides the status returned for a request.
func (m *MockAuthorizer) SetStatus(s authz.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[s.RequestID] = &s
}

// SetStartError makes Start fail.
func (m *MockAuthorizer) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// Started returns the requests passed to Start.
func (m *MockAuthorizer) Started() []authz.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]authz.Request, len(m.started))
	copy(out, m.started)
	return out
}

// DecisionFor returns the decision recorded for a request.
func (m *MockAuthorizer) DecisionFor(requestID string) (authz.Decision, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decisions[requestID]
	return d, ok
}
