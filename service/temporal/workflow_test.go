package temporal

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/helium/wallet-app-sub004/service/authz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

func testRequest(method authz.Method) authz.Request {
	return authz.Request{
		ID:                 "req-1",
		Method:             method,
		CounterpartyPubKey: "dappkey",
		Nonce:              "nonce",
		Payload:            "payload",
		RedirectLink:       "https://dapp.example/cb",
	}
}

func approvedResponse(req authz.Request) *authz.Response {
	return &authz.Response{
		RequestID:    req.ID,
		Method:       req.Method,
		Outcome:      authz.OutcomeApproved,
		RedirectLink: req.RedirectLink,
		Params:       url.Values{"nonce": {"n"}, "data": {"d"}},
	}
}

func rejectedResponse(req authz.Request) *authz.Response {
	return &authz.Response{
		RequestID:    req.ID,
		Method:       req.Method,
		Outcome:      authz.OutcomeRejected,
		RedirectLink: req.RedirectLink,
		Params:       url.Values{"errorCode": {"-32000"}, "errorMessage": {"User rejected the request"}},
	}
}

func TestAuthorizationWorkflow(t *testing.T) {
	req := testRequest(authz.MethodSignTransaction)
	prepared := &authz.Prepared{Request: req, AppURL: "https://dapp.example", Owner: "owner"}

	tests := []struct {
		name           string
		signal         *authz.Decision
		expectDecision authz.Decision
		response       *authz.Response
	}{
		{
			name:           "approved by signal",
			signal:         &authz.Decision{Approved: true},
			expectDecision: authz.Decision{Approved: true},
			response:       approvedResponse(req),
		},
		{
			name:           "rejected by signal",
			signal:         &authz.Decision{Approved: false},
			expectDecision: authz.Decision{},
			response:       rejectedResponse(req),
		},
		{
			name:           "approval timeout rejects",
			expectDecision: authz.Decision{},
			response:       rejectedResponse(req),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestWorkflowEnvironment()

			activities := &Activities{}
			env.RegisterActivity(activities.Prepare)
			env.RegisterActivity(activities.Complete)

			env.OnActivity(activities.Prepare, mock.Anything, mock.Anything).
				Return(&PrepareResult{Prepared: prepared}, nil)

			var got CompleteInput
			env.OnActivity(activities.Complete, mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) {
					got = args.Get(1).(CompleteInput)
				}).
				Return(tt.response, nil)

			if tt.signal != nil {
				d := *tt.signal
				env.RegisterDelayedCallback(func() {
					env.SignalWorkflow(DecisionSignal, d)
				}, time.Minute)
			}

			env.ExecuteWorkflow(AuthorizationWorkflow, AuthorizationInput{
				Request:         req,
				ApprovalTimeout: 10 * time.Minute,
			})

			require.True(t, env.IsWorkflowCompleted())
			require.NoError(t, env.GetWorkflowError())

			var result *authz.Response
			require.NoError(t, env.GetWorkflowResult(&result))
			assert.Equal(t, tt.response.Outcome, result.Outcome)
			assert.Equal(t, req.ID, result.RequestID)

			assert.Equal(t, tt.expectDecision, got.Decision)
			require.NotNil(t, got.Prepared)
			assert.Equal(t, "owner", got.Prepared.Owner)
		})
	}
}

func TestAuthorizationWorkflow_TerminalPrepareSkipsComplete(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	req := testRequest(authz.MethodDisconnect)
	activities := &Activities{}
	env.RegisterActivity(activities.Prepare)
	env.RegisterActivity(activities.Complete)

	env.OnActivity(activities.Prepare, mock.Anything, mock.Anything).
		Return(&PrepareResult{Response: &authz.Response{
			RequestID:    req.ID,
			Method:       req.Method,
			Outcome:      authz.OutcomeCompleted,
			RedirectLink: req.RedirectLink,
		}}, nil)

	env.ExecuteWorkflow(AuthorizationWorkflow, AuthorizationInput{Request: req})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result *authz.Response
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, authz.OutcomeCompleted, result.Outcome)
	env.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestAuthorizationWorkflow_StatusQuery(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	req := testRequest(authz.MethodSignMessage)
	activities := &Activities{}
	env.RegisterActivity(activities.Prepare)
	env.RegisterActivity(activities.Complete)

	env.OnActivity(activities.Prepare, mock.Anything, mock.Anything).
		Return(&PrepareResult{Prepared: &authz.Prepared{Request: req, Owner: "owner"}}, nil)
	env.OnActivity(activities.Complete, mock.Anything, mock.Anything).
		Return(approvedResponse(req), nil)

	var waiting authz.Status
	env.RegisterDelayedCallback(func() {
		value, err := env.QueryWorkflow(StatusQuery)
		require.NoError(t, err)
		require.NoError(t, value.Get(&waiting))
		env.SignalWorkflow(DecisionSignal, authz.Decision{Approved: true})
	}, time.Minute)

	env.ExecuteWorkflow(AuthorizationWorkflow, AuthorizationInput{Request: req})
	require.NoError(t, env.GetWorkflowError())

	assert.Equal(t, authz.StateAwaitingDecision, waiting.State)
	require.NotNil(t, waiting.Prepared)
	assert.Equal(t, "owner", waiting.Prepared.Owner)

	value, err := env.QueryWorkflow(StatusQuery)
	require.NoError(t, err)
	var done authz.Status
	require.NoError(t, value.Get(&done))
	assert.Equal(t, authz.StateDone, done.State)
	assert.Contains(t, done.RedirectURL, "https://dapp.example/cb?")
	assert.Contains(t, done.RedirectURL, "data=d")
}

func TestAuthorizationWorkflow_PrepareFailure(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	req := testRequest(authz.MethodSignTransaction)
	activities := &Activities{}
	env.RegisterActivity(activities.Prepare)
	env.RegisterActivity(activities.Complete)

	env.OnActivity(activities.Prepare, mock.Anything, mock.Anything).
		Return(nil, errors.New("worker lost"))

	env.ExecuteWorkflow(AuthorizationWorkflow, AuthorizationInput{Request: req})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result *authz.Response
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, authz.OutcomeFailed, result.Outcome)
	assert.Equal(t, authz.CodeInternal, result.ErrorCode())
	assert.Equal(t, req.RedirectLink, result.RedirectLink)
	env.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestAuthorizationWorkflow_CompleteFailureStillAnswers(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	req := testRequest(authz.MethodSignAndSendTransaction)
	activities := &Activities{}
	env.RegisterActivity(activities.Prepare)
	env.RegisterActivity(activities.Complete)

	env.OnActivity(activities.Prepare, mock.Anything, mock.Anything).
		Return(&PrepareResult{Prepared: &authz.Prepared{Request: req, Owner: "owner"}}, nil)
	env.OnActivity(activities.Complete, mock.Anything, mock.Anything).
		Return(nil, errors.New("activity StartToClose timeout"))

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(DecisionSignal, authz.Decision{Approved: true})
	}, time.Minute)

	env.ExecuteWorkflow(AuthorizationWorkflow, AuthorizationInput{Request: req})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result *authz.Response
	require.NoError(t, env.GetWorkflowResult(&result))
	require.NotNil(t, result)
	assert.Equal(t, authz.OutcomeFailed, result.Outcome)
	assert.Equal(t, authz.CodeInternal, result.ErrorCode())
	assert.Equal(t, "Failed to connect to the provider", result.Params.Get("errorMessage"))

	value, err := env.QueryWorkflow(StatusQuery)
	require.NoError(t, err)
	var status authz.Status
	require.NoError(t, value.Get(&status))
	assert.Equal(t, authz.StateDone, status.State)
	assert.Contains(t, status.RedirectURL, "errorCode=-32603")
}

func TestWorkflowID(t *testing.T) {
	assert.Equal(t, "authz-abc", WorkflowID("abc"))
}
