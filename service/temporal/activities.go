package temporal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/helium/wallet-app-sub004/service/authz"
	"github.com/helium/wallet-app-sub004/service/metrics"
)

// Orchestrator is the authorization core the activities drive.
// *authz.Orchestrator satisfies it.
type Orchestrator interface {
	Prepare(ctx context.Context, req authz.Request) (*authz.Prepared, *authz.Response)
	Complete(ctx context.Context, p *authz.Prepared, d authz.Decision) *authz.Response
}

// PrepareResult holds either a prepared request or a terminal response.
type PrepareResult struct {
	Prepared *authz.Prepared `json:"prepared,omitempty"`
	Response *authz.Response `json:"response,omitempty"`
}

// CompleteInput contains parameters for the Complete activity.
type CompleteInput struct {
	Prepared *authz.Prepared `json:"prepared"`
	Decision authz.Decision  `json:"decision"`
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	orch    Orchestrator
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewActivities creates a new Activities instance.
// If metrics is nil, no metrics will be recorded.
func NewActivities(orch Orchestrator, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{orch: orch, metrics: m, logger: logger}
}

// Prepare validates and simulates a request. The prepared form carries no
// key material, so it is safe to record in workflow history.
func (a *Activities) Prepare(ctx context.Context, req authz.Request) (*PrepareResult, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("Prepare", string(req.Method), time.Since(start).Seconds())
		}
	}()

	a.logger.DebugContext(ctx, "preparing request", "request_id", req.ID, "method", req.Method)
	prepared, resp := a.orch.Prepare(ctx, req)
	return &PrepareResult{Prepared: prepared, Response: resp}, nil
}

// Complete applies the decision. It signs at most once per call.
func (a *Activities) Complete(ctx context.Context, input CompleteInput) (*authz.Response, error) {
	if input.Prepared == nil {
		return nil, errors.New("complete requires a prepared request")
	}
	method := string(input.Prepared.Request.Method)

	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("Complete", method, time.Since(start).Seconds())
		}
	}()

	resp := a.orch.Complete(ctx, input.Prepared, input.Decision)
	if a.metrics != nil {
		a.metrics.RecordWorkflowDuration(method, string(resp.Outcome), time.Since(input.Prepared.PreparedAt).Seconds())
	}
	a.logger.InfoContext(ctx, "request completed",
		"request_id", resp.RequestID,
		"method", method,
		"outcome", resp.Outcome,
	)
	return resp, nil
}
