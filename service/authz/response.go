package authz

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/helium/wallet-app-sub004/service/codec"
	"github.com/helium/wallet-app-sub004/service/ledger"
	"github.com/helium/wallet-app-sub004/service/session"
)

// Provider error codes returned to the counterparty.
const (
	CodeUserRejected  = -32000
	CodeInvalidParams = -32602
	CodeInternal      = -32603
)

// Outcome classifies a terminal response.
type Outcome string

const (
	OutcomeApproved  Outcome = "approved"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
	OutcomeCompleted Outcome = "completed"
)

// Response is the terminal redirect for a request. Every request ends with
// exactly one Response.
type Response struct {
	RequestID    string     `json:"request_id"`
	Method       Method     `json:"method"`
	Outcome      Outcome    `json:"outcome"`
	RedirectLink string     `json:"redirect_link"`
	Params       url.Values `json:"params"`

	// Err is the underlying failure, never sent to the counterparty.
	Err error `json:"-"`
}

// URL renders the redirect target with the response parameters appended.
func (r *Response) URL() string {
	if r.RedirectLink == "" {
		return ""
	}
	if len(r.Params) == 0 {
		return r.RedirectLink
	}
	sep := "?"
	if strings.Contains(r.RedirectLink, "?") {
		sep = "&"
	}
	return r.RedirectLink + sep + r.Params.Encode()
}

// Deliverable reports whether the counterparty can be redirected.
func (r *Response) Deliverable() bool {
	return r.RedirectLink != ""
}

// ErrorCode returns the errorCode parameter, or 0 on success.
func (r *Response) ErrorCode() int {
	code, err := strconv.Atoi(r.Params.Get("errorCode"))
	if err != nil {
		return 0
	}
	return code
}

func errorResponse(req Request, outcome Outcome, code int, message string, cause error) *Response {
	return &Response{
		RequestID:    req.ID,
		Method:       req.Method,
		Outcome:      outcome,
		RedirectLink: req.RedirectLink,
		Params: url.Values{
			"errorCode":    {strconv.Itoa(code)},
			"errorMessage": {message},
		},
		Err: cause,
	}
}

// FailureResponse is the internal-error response for a request whose
// processing broke down outside the orchestrator, such as a lost activity.
func FailureResponse(req Request, cause error) *Response {
	return errorResponse(req, OutcomeFailed, CodeInternal, "Failed to connect to the provider", cause)
}

func sealedResponse(req Request, payload codec.EncryptedPayload) *Response {
	return &Response{
		RequestID:    req.ID,
		Method:       req.Method,
		Outcome:      OutcomeApproved,
		RedirectLink: req.RedirectLink,
		Params: url.Values{
			"nonce": {payload.EncodedNonce()},
			"data":  {payload.EncodedData()},
		},
	}
}

// errRejected marks a deliberate user decline.
var errRejected = errors.New("user rejected the request")

// errSimulationBlocked is returned when approval arrives for a batch with
// simulation errors and no override.
var errSimulationBlocked = errors.New("simulation failed")

// classify maps a failure to the provider error code and message. Messages
// never include details of the underlying error.
func classify(err error) (Outcome, int, string) {
	var fieldErr *FieldError
	var transportErr *ledger.TransportError
	switch {
	case errors.Is(err, errRejected), errors.Is(err, ledger.ErrUserRejected):
		return OutcomeRejected, CodeUserRejected, "User rejected the request"
	case errors.As(err, &fieldErr):
		return OutcomeFailed, CodeInvalidParams, fieldErr.Error()
	case errors.Is(err, codec.ErrInvalidKey), errors.Is(err, codec.ErrInvalidNonce):
		return OutcomeFailed, CodeInvalidParams, "Invalid encryption parameters"
	case errors.Is(err, codec.ErrDecryption), errors.Is(err, codec.ErrMissingSecret):
		return OutcomeFailed, CodeInternal, "Failed to decrypt payload"
	case errors.Is(err, session.ErrSessionMismatch):
		return OutcomeFailed, CodeInternal, "Session mismatch"
	case errors.Is(err, session.ErrSessionNotFound):
		return OutcomeFailed, CodeInternal, "Session not found"
	case errors.Is(err, session.ErrAccountNotFound):
		return OutcomeFailed, CodeInternal, "Account not found, please reconnect"
	case errors.As(err, &transportErr), errors.Is(err, ledger.ErrDeviceBusy), errors.Is(err, ledger.ErrDeviceNotFound):
		return OutcomeFailed, CodeInternal, "Hardware device error"
	case errors.Is(err, errSimulationBlocked):
		return OutcomeFailed, CodeInternal, "Simulation failed"
	default:
		return OutcomeFailed, CodeInternal, "Failed to connect to the provider"
	}
}
