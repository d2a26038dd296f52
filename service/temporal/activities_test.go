package temporal

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/helium/wallet-app-sub004/service/authz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockOrchestrator struct {
	mock.Mock
}

func (m *MockOrchestrator) Prepare(ctx context.Context, req authz.Request) (*authz.Prepared, *authz.Response) {
	args := m.Called(ctx, req)
	var p *authz.Prepared
	if v := args.Get(0); v != nil {
		p = v.(*authz.Prepared)
	}
	var r *authz.Response
	if v := args.Get(1); v != nil {
		r = v.(*authz.Response)
	}
	return p, r
}

func (m *MockOrchestrator) Complete(ctx context.Context, p *authz.Prepared, d authz.Decision) *authz.Response {
	args := m.Called(ctx, p, d)
	return args.Get(0).(*authz.Response)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestActivities_Prepare(t *testing.T) {
	ctx := context.Background()
	req := testRequest(authz.MethodSignTransaction)

	t.Run("prepared", func(t *testing.T) {
		orch := new(MockOrchestrator)
		prepared := &authz.Prepared{Request: req, Owner: "owner"}
		orch.On("Prepare", mock.Anything, req).Return(prepared, nil)

		result, err := NewActivities(orch, nil, testLogger()).Prepare(ctx, req)
		require.NoError(t, err)
		assert.Same(t, prepared, result.Prepared)
		assert.Nil(t, result.Response)
		orch.AssertExpectations(t)
	})

	t.Run("terminal response is not an activity error", func(t *testing.T) {
		orch := new(MockOrchestrator)
		resp := rejectedResponse(req)
		orch.On("Prepare", mock.Anything, req).Return(nil, resp)

		result, err := NewActivities(orch, nil, testLogger()).Prepare(ctx, req)
		require.NoError(t, err)
		assert.Nil(t, result.Prepared)
		assert.Equal(t, authz.OutcomeRejected, result.Response.Outcome)
	})
}

func TestActivities_Complete(t *testing.T) {
	ctx := context.Background()
	req := testRequest(authz.MethodSignTransaction)
	prepared := &authz.Prepared{Request: req, PreparedAt: time.Now()}
	decision := authz.Decision{Approved: true}

	orch := new(MockOrchestrator)
	orch.On("Complete", mock.Anything, prepared, decision).Return(approvedResponse(req)).Once()

	resp, err := NewActivities(orch, nil, testLogger()).Complete(ctx, CompleteInput{Prepared: prepared, Decision: decision})
	require.NoError(t, err)
	assert.Equal(t, authz.OutcomeApproved, resp.Outcome)
	orch.AssertExpectations(t)
}

func TestActivities_CompleteRequiresPrepared(t *testing.T) {
	orch := new(MockOrchestrator)
	_, err := NewActivities(orch, nil, testLogger()).Complete(context.Background(), CompleteInput{})
	assert.Error(t, err)
	orch.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}
