package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/helium/wallet-app-sub004/service/authz"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// Client starts and drives authorization workflows.
type Client struct {
	client          client.Client
	taskQueue       string
	approvalTimeout time.Duration
	signingTimeout  time.Duration
	logger          *slog.Logger
}

// NewClient connects to Temporal.
func NewClient(host, namespace, taskQueue string, approvalTimeout, signingTimeout time.Duration, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:          c,
		taskQueue:       taskQueue,
		approvalTimeout: approvalTimeout,
		signingTimeout:  signingTimeout,
		logger:          logger,
	}, nil
}

// Start launches the workflow for req. The request id doubles as the
// workflow id, so a request cannot run twice.
func (c *Client) Start(ctx context.Context, req authz.Request) error {
	id := WorkflowID(req.ID)
	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       id,
		TaskQueue:                c.taskQueue,
		WorkflowExecutionTimeout: c.approvalTimeout + c.signingTimeout + 5*time.Minute,
	}, AuthorizationWorkflow, AuthorizationInput{
		Request:         req,
		ApprovalTimeout: c.approvalTimeout,
		SigningTimeout:  c.signingTimeout,
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to start authorization workflow", "request_id", req.ID, "error", err)
		return fmt.Errorf("failed to start workflow %q: %w", id, err)
	}

	c.logger.InfoContext(ctx, "authorization workflow started",
		"request_id", req.ID,
		"method", req.Method,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return nil
}

// Decide signals a decision to a waiting workflow.
func (c *Client) Decide(ctx context.Context, requestID string, d authz.Decision) error {
	if err := c.client.SignalWorkflow(ctx, WorkflowID(requestID), "", DecisionSignal, d); err != nil {
		return notFound(err, "failed to signal decision")
	}
	c.logger.InfoContext(ctx, "decision signaled", "request_id", requestID, "approved", d.Approved)
	return nil
}

// Status queries the workflow's current status.
func (c *Client) Status(ctx context.Context, requestID string) (*authz.Status, error) {
	value, err := c.client.QueryWorkflow(ctx, WorkflowID(requestID), "", StatusQuery)
	if err != nil {
		return nil, notFound(err, "failed to query status")
	}
	var status authz.Status
	if err := value.Get(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &status, nil
}

// Wait blocks until the workflow returns its terminal response.
func (c *Client) Wait(ctx context.Context, requestID string) (*authz.Response, error) {
	var resp authz.Response
	if err := c.client.GetWorkflow(ctx, WorkflowID(requestID), "").Get(ctx, &resp); err != nil {
		return nil, notFound(err, "failed to await workflow")
	}
	return &resp, nil
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

func notFound(err error, msg string) error {
	var nf *serviceerror.NotFound
	if errors.As(err, &nf) {
		return fmt.Errorf("%s: %w", msg, authz.ErrRequestNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
