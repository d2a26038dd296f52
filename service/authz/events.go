package authz

import (
	"context"
	"time"
)

// OutcomePending marks a request waiting for a decision.
const OutcomePending Outcome = "pending"

// Event describes a request state change for audit and notification.
type Event struct {
	RequestID            string    `json:"request_id"`
	Method               Method    `json:"method"`
	Counterparty         string    `json:"counterparty"`
	AppURL               string    `json:"app_url,omitempty"`
	Owner                string    `json:"owner,omitempty"`
	Outcome              Outcome   `json:"outcome"`
	ErrorCode            int       `json:"error_code,omitempty"`
	Transactions         int       `json:"transactions,omitempty"`
	Warnings             int       `json:"warnings,omitempty"`
	RequiresConfirmation bool      `json:"requires_confirmation,omitempty"`
	Timestamp            time.Time `json:"timestamp"`
}

// EventSink receives authorization events. Sinks must not block for long;
// a failing sink never changes the response.
type EventSink interface {
	RecordEvent(ctx context.Context, e Event) error
}

func (o *Orchestrator) emit(ctx context.Context, p *Prepared, resp *Response, outcome Outcome) {
	if len(o.sinks) == 0 {
		return
	}

	e := Event{
		RequestID:    p.Request.ID,
		Method:       p.Request.Method,
		Counterparty: p.Request.CounterpartyPubKey,
		AppURL:       p.AppURL,
		Owner:        p.Owner,
		Outcome:      outcome,
		Timestamp:    o.now().UTC(),
	}
	if p.Simulation != nil {
		e.Transactions = len(p.Simulation.Results)
		e.Warnings = p.Simulation.Summary.WarningCount
		e.RequiresConfirmation = p.Simulation.Summary.RequiresConfirmation
	}
	if resp != nil {
		e.ErrorCode = resp.ErrorCode()
	}

	for _, sink := range o.sinks {
		if err := sink.RecordEvent(ctx, e); err != nil {
			o.logger.WarnContext(ctx, "failed to record authorization event",
				"request_id", e.RequestID,
				"outcome", e.Outcome,
				"error", err,
			)
		}
	}
}
