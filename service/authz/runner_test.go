package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForState(t *testing.T, r *Runner, id string, state State) *Status {
	t.Helper()
	var status *Status
	require.Eventually(t, func() bool {
		s, err := r.Status(context.Background(), id)
		if err != nil {
			return false
		}
		status = s
		return s.State == state
	}, 2*time.Second, 5*time.Millisecond)
	return status
}

func TestRunner_DecisionThroughRegistry(t *testing.T) {
	f := newFixture(t)
	d := f.connect(t)
	registry := NewRegistry(nil, testLogger())
	runner := NewRunner(f.orch, nil, registry, time.Minute, testLogger())

	tx, _ := unsignedTransfer(t, f.owner.PublicKey(), 1000)
	req := d.request(t, MethodSignTransaction, map[string]any{"transaction": tx})
	require.NoError(t, runner.Start(context.Background(), req))
	assert.Error(t, runner.Start(context.Background(), req))

	status := waitForState(t, runner, req.ID, StateAwaitingDecision)
	require.NotNil(t, status.Prepared)
	require.Eventually(t, func() bool { _, err := registry.Get(req.ID); return err == nil }, time.Second, 5*time.Millisecond)

	require.NoError(t, runner.Decide(context.Background(), req.ID, Decision{Approved: true}))
	status = waitForState(t, runner, req.ID, StateDone)
	assert.Equal(t, OutcomeApproved, status.Response.Outcome)
	assert.Contains(t, status.RedirectURL, "dapp://callback?")
	runner.Wait()
}

func TestRunner_ApprovalTimeoutRejects(t *testing.T) {
	f := newFixture(t)
	d := f.connect(t)
	runner := NewRunner(f.orch, nil, NewRegistry(nil, testLogger()), 20*time.Millisecond, testLogger())

	req := d.request(t, MethodSignMessage, map[string]any{"message": "3yZe7d"})
	require.NoError(t, runner.Start(context.Background(), req))

	status := waitForState(t, runner, req.ID, StateDone)
	assert.Equal(t, CodeUserRejected, status.Response.ErrorCode())
	assert.Zero(t, f.signer.calls)
	runner.Wait()
}

func TestRunner_TerminalPrepare(t *testing.T) {
	f := newFixture(t)
	runner := NewRunner(f.orch, nil, NewRegistry(nil, testLogger()), time.Minute, testLogger())

	req := Request{ID: "bad", Method: MethodSignTransaction, RedirectLink: "dapp://callback"}
	require.NoError(t, runner.Start(context.Background(), req))

	status := waitForState(t, runner, "bad", StateDone)
	assert.Equal(t, CodeInvalidParams, status.Response.ErrorCode())

	_, err := runner.Status(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrRequestNotFound)
	runner.Wait()
}
