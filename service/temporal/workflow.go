package temporal

import (
	"fmt"
	"time"

	"github.com/helium/wallet-app-sub004/service/authz"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

const (
	// DecisionSignal carries an authz.Decision into a waiting workflow.
	DecisionSignal = "decision"
	// StatusQuery returns the workflow's authz.Status.
	StatusQuery = "status"
	// DefaultApprovalTimeout applies when the input carries none.
	DefaultApprovalTimeout = 5 * time.Minute
)

// AuthorizationInput starts an AuthorizationWorkflow.
type AuthorizationInput struct {
	Request         authz.Request `json:"request"`
	ApprovalTimeout time.Duration `json:"approval_timeout"`
	SigningTimeout  time.Duration `json:"signing_timeout"`
}

// WorkflowID is the workflow id for a request.
func WorkflowID(requestID string) string {
	return "authz-" + requestID
}

// AuthorizationWorkflow runs one provider request durably:
// 1. Prepare validates, unwraps and simulates (Prepare activity)
// 2. Wait for a decision signal, or the approval timeout
// 3. Complete signs and seals the response (Complete activity, never retried)
//
// A timeout is answered as a user rejection. Every path returns a terminal
// response, including activity failures, which are answered as internal errors.
func AuthorizationWorkflow(ctx workflow.Context, input AuthorizationInput) (*authz.Response, error) {
	logger := workflow.GetLogger(ctx)
	req := input.Request
	logger.Info("AuthorizationWorkflow started", "request_id", req.ID, "method", req.Method)

	status := authz.Status{RequestID: req.ID, Method: req.Method, State: authz.StatePreparing}
	if err := workflow.SetQueryHandler(ctx, StatusQuery, func() (authz.Status, error) {
		return status, nil
	}); err != nil {
		return nil, fmt.Errorf("failed to register status query: %w", err)
	}

	prepareCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	var prepared *PrepareResult
	if err := workflow.ExecuteActivity(prepareCtx, a.Prepare, req).Get(ctx, &prepared); err != nil {
		logger.Error("prepare failed", "request_id", req.ID, "error", err)
		resp := authz.FailureResponse(req, fmt.Errorf("prepare failed: %w", err))
		status.Finish(resp)
		return resp, nil
	}
	if prepared.Response != nil {
		status.Finish(prepared.Response)
		logger.Info("request finished during prepare", "request_id", req.ID, "outcome", prepared.Response.Outcome)
		return prepared.Response, nil
	}

	status.State = authz.StateAwaitingDecision
	status.Prepared = prepared.Prepared

	timeout := input.ApprovalTimeout
	if timeout <= 0 {
		timeout = DefaultApprovalTimeout
	}
	decision, ok := awaitDecision(ctx, timeout)
	if !ok {
		logger.Info("approval timed out", "request_id", req.ID, "timeout", timeout)
	}

	signingTimeout := input.SigningTimeout
	if signingTimeout <= 0 {
		signingTimeout = 5 * time.Minute
	}
	completeCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: signingTimeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	status.State = authz.StateCompleting
	var resp *authz.Response
	err := workflow.ExecuteActivity(completeCtx, a.Complete, CompleteInput{
		Prepared: prepared.Prepared,
		Decision: decision,
	}).Get(ctx, &resp)
	if err != nil {
		logger.Error("complete failed", "request_id", req.ID, "error", err)
		resp = authz.FailureResponse(req, fmt.Errorf("complete failed: %w", err))
	}

	status.Finish(resp)
	logger.Info("AuthorizationWorkflow finished", "request_id", req.ID, "outcome", resp.Outcome)
	return resp, nil
}

// awaitDecision waits for the decision signal. It returns a rejection and
// false when the timer fires first.
func awaitDecision(ctx workflow.Context, timeout time.Duration) (authz.Decision, bool) {
	var decision authz.Decision
	received := false

	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	defer cancelTimer()

	selector := workflow.NewSelector(ctx)
	selector.AddReceive(workflow.GetSignalChannel(ctx, DecisionSignal), func(c workflow.ReceiveChannel, more bool) {
		c.Receive(ctx, &decision)
		received = true
	})
	selector.AddFuture(workflow.NewTimer(timerCtx, timeout), func(f workflow.Future) {})
	selector.Select(ctx)

	if !received {
		return authz.Decision{}, false
	}
	return decision, true
}
