package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/helium/wallet-app-sub004/service/authz"
	"github.com/helium/wallet-app-sub004/service/db"
)

const maxRequestBodySize = 64 << 10 // decisions are tiny

// handleProviderRequest accepts a counterparty request and starts it.
// GET /v1/provider/{method}?dapp_encryption_public_key=...&redirect_link=...
//
// Parameter validation happens during preparation so that a missing field is
// answered on the counterparty's redirect link rather than here.
func handleProviderRequest(auth Authorizer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, err := authz.ParseMethod(r.PathValue("method"))
		if err != nil {
			writeError(w, err.Error(), http.StatusNotFound)
			return
		}

		req := authz.RequestFromQuery(method, r.URL.Query())
		if err := auth.Start(r.Context(), req); err != nil {
			logger.ErrorContext(r.Context(), "failed to start request", "request_id", req.ID, "method", method, "error", err)
			writeError(w, "failed to start request", http.StatusInternalServerError)
			return
		}

		logger.InfoContext(r.Context(), "provider request accepted",
			"request_id", req.ID,
			"method", method,
			"app_url", req.AppURL,
		)

		writeJSON(w, map[string]interface{}{
			"request_id": req.ID,
			"method":     method,
			"status_url": "/v1/requests/" + req.ID,
		}, http.StatusAccepted)
	})
}

// handleRequestStatus returns the request's current status.
// GET /v1/requests/{id}
func handleRequestStatus(auth Authorizer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, ok := lookupStatus(w, r, auth, logger)
		if !ok {
			return
		}
		writeJSON(w, status, http.StatusOK)
	})
}

// handleRequestRedirect sends the counterparty to its redirect link once the
// request has finished.
// GET /v1/requests/{id}/redirect
func handleRequestRedirect(auth Authorizer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, ok := lookupStatus(w, r, auth, logger)
		if !ok {
			return
		}
		if status.State != authz.StateDone {
			writeJSON(w, status, http.StatusAccepted)
			return
		}
		if status.RedirectURL == "" {
			writeError(w, "request has no redirect link", http.StatusUnprocessableEntity)
			return
		}
		http.Redirect(w, r, status.RedirectURL, http.StatusFound)
	})
}

func lookupStatus(w http.ResponseWriter, r *http.Request, auth Authorizer, logger *slog.Logger) (*authz.Status, bool) {
	id, err := requestID(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	status, err := auth.Status(r.Context(), id)
	if errors.Is(err, authz.ErrRequestNotFound) {
		writeError(w, "request not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to get request status", "request_id", id, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
		return nil, false
	}
	return status, true
}

// decisionRequest is the body of a decision.
type decisionRequest struct {
	Approved                 bool   `json:"approved"`
	Account                  string `json:"account,omitempty"`
	OverrideSimulationErrors bool   `json:"override_simulation_errors,omitempty"`
}

func (d decisionRequest) toDecision() (authz.Decision, error) {
	decision := authz.Decision{
		Approved:                 d.Approved,
		OverrideSimulationErrors: d.OverrideSimulationErrors,
	}
	if d.Account != "" {
		pk, err := solana.PublicKeyFromBase58(d.Account)
		if err != nil {
			return authz.Decision{}, fmt.Errorf("invalid account: %w", err)
		}
		decision.Account = &pk
	}
	return decision, nil
}

// handleDecide delivers an approval decision.
// POST /v1/requests/{id}/decision
func handleDecide(auth Authorizer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := requestID(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var body decisionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}
		decision, err := body.toDecision()
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		err = auth.Decide(r.Context(), id, decision)
		switch {
		case errors.Is(err, authz.ErrApprovalNotFound), errors.Is(err, authz.ErrRequestNotFound):
			writeError(w, "no pending approval for request", http.StatusNotFound)
			return
		case errors.Is(err, authz.ErrAlreadyDecided):
			writeError(w, "request already decided", http.StatusConflict)
			return
		case err != nil:
			logger.ErrorContext(r.Context(), "failed to deliver decision", "request_id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.InfoContext(r.Context(), "decision delivered", "request_id", id, "approved", decision.Approved)
		writeJSON(w, map[string]interface{}{
			"request_id": id,
			"approved":   decision.Approved,
		}, http.StatusAccepted)
	})
}

// pendingResponse is the JSON form of a request awaiting a decision.
type pendingResponse struct {
	RequestID            string          `json:"request_id"`
	Method               authz.Method    `json:"method"`
	AppURL               string          `json:"app_url"`
	Owner                string          `json:"owner,omitempty"`
	RequiresConfirmation bool            `json:"requires_confirmation"`
	Since                string          `json:"since"`
	Prepared             *authz.Prepared `json:"prepared"`
}

// handleListPending lists requests waiting for a decision, oldest first.
// GET /v1/approvals
func handleListPending(pending PendingLister, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		items := pending.List()
		resp := make([]pendingResponse, len(items))
		for i, p := range items {
			resp[i] = pendingResponse{
				RequestID:            p.Prepared.Request.ID,
				Method:               p.Prepared.Request.Method,
				AppURL:               p.Prepared.AppURL,
				Owner:                p.Prepared.Owner,
				RequiresConfirmation: p.Prepared.RequiresConfirmation(),
				Since:                p.Since.UTC().Format("2006-01-02T15:04:05Z07:00"),
				Prepared:             p.Prepared,
			}
		}
		logger.DebugContext(r.Context(), "pending approvals listed", "count", len(resp))
		writeJSON(w, map[string]interface{}{
			"approvals": resp,
			"count":     len(resp),
		}, http.StatusOK)
	})
}

// handleListEvents lists audit log events.
// GET /v1/events?request_id=ID&counterparty=KEY&limit=N&offset=N
func handleListEvents(events EventLister, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		// Parse limit (default 100, max 1000)
		limit := int32(100)
		if limitStr := query.Get("limit"); limitStr != "" {
			var parsedLimit int
			if _, err := fmt.Sscanf(limitStr, "%d", &parsedLimit); err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedLimit < 1 {
				writeError(w, "limit must be at least 1", http.StatusBadRequest)
				return
			}
			if parsedLimit > 1000 {
				writeError(w, "limit cannot exceed 1000", http.StatusBadRequest)
				return
			}
			limit = int32(parsedLimit)
		}

		offset := int32(0)
		if offsetStr := query.Get("offset"); offsetStr != "" {
			var parsedOffset int
			if _, err := fmt.Sscanf(offsetStr, "%d", &parsedOffset); err != nil {
				writeError(w, "invalid offset parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedOffset < 0 {
				writeError(w, "offset cannot be negative", http.StatusBadRequest)
				return
			}
			offset = int32(parsedOffset)
		}

		list, err := events.ListEvents(r.Context(), db.ListEventsParams{
			RequestID:    query.Get("request_id"),
			Counterparty: query.Get("counterparty"),
			Limit:        limit,
			Offset:       offset,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list events", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]eventResponse, len(list))
		for i := range list {
			resp[i] = eventToResponse(list[i])
		}

		writeJSON(w, map[string]interface{}{
			"events": resp,
			"count":  len(resp),
			"limit":  limit,
			"offset": offset,
		}, http.StatusOK)
	})
}

// eventResponse is the JSON response format for an audit event.
type eventResponse struct {
	RequestID            string  `json:"request_id"`
	Method               string  `json:"method"`
	Outcome              string  `json:"outcome"`
	Counterparty         string  `json:"counterparty"`
	AppURL               *string `json:"app_url,omitempty"`
	Owner                *string `json:"owner,omitempty"`
	ErrorCode            *int32  `json:"error_code,omitempty"`
	Transactions         int32   `json:"transactions"`
	Warnings             int32   `json:"warnings"`
	RequiresConfirmation bool    `json:"requires_confirmation"`
	OccurredAt           string  `json:"occurred_at"`
}

func eventToResponse(e *db.AuthorizationEvent) eventResponse {
	return eventResponse{
		RequestID:            e.RequestID,
		Method:               e.Method,
		Outcome:              e.Outcome,
		Counterparty:         e.Counterparty,
		AppURL:               e.AppURL,
		Owner:                e.Owner,
		ErrorCode:            e.ErrorCode,
		Transactions:         e.Transactions,
		Warnings:             e.Warnings,
		RequiresConfirmation: e.RequiresConfirmation,
		OccurredAt:           e.OccurredAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// handleHealth reports liveness, and database reachability when configured.
func handleHealth(events EventLister, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if events != nil {
			if err := events.Ping(r.Context()); err != nil {
				logger.WarnContext(r.Context(), "health check failed", "error", err)
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

// requestID validates the {id} path value.
func requestID(r *http.Request) (string, error) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", errors.New("invalid request id")
	}
	return id, nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
