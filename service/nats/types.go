package nats

import (
	"fmt"
	"time"

	"github.com/helium/wallet-app-sub004/service/authz"
)

// AuthorizationEvent is published for every authorization state change to
// the subject "authz.{method}.{outcome}".
type AuthorizationEvent struct {
	RequestID    string `json:"request_id"`
	Method       string `json:"method"`
	Outcome      string `json:"outcome"`
	Counterparty string `json:"counterparty"`
	AppURL       string `json:"app_url,omitempty"`
	Owner        string `json:"owner,omitempty"`

	// Set for failed and rejected outcomes.
	ErrorCode int `json:"error_code,omitempty"`

	// Simulation summary, when the request carried transactions.
	Transactions         int  `json:"transactions,omitempty"`
	Warnings             int  `json:"warnings,omitempty"`
	RequiresConfirmation bool `json:"requires_confirmation,omitempty"`

	Timestamp   time.Time `json:"timestamp"`
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the JetStream subject for the event.
func (e *AuthorizationEvent) Subject() string {
	return fmt.Sprintf("authz.%s.%s", e.Method, e.Outcome)
}

// FromAuthzEvent converts an orchestrator event for publishing.
func FromAuthzEvent(e authz.Event) *AuthorizationEvent {
	return &AuthorizationEvent{
		RequestID:            e.RequestID,
		Method:               string(e.Method),
		Outcome:              string(e.Outcome),
		Counterparty:         e.Counterparty,
		AppURL:               e.AppURL,
		Owner:                e.Owner,
		ErrorCode:            e.ErrorCode,
		Transactions:         e.Transactions,
		Warnings:             e.Warnings,
		RequiresConfirmation: e.RequiresConfirmation,
		Timestamp:            e.Timestamp,
		PublishedAt:          time.Now().UTC(),
	}
}
