// Package authz fulfils counterparty requests end to end: validation,
// session unwrap, simulation, approval, signing and the redirect response.
package authz

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

// Method is a provider method a counterparty can invoke.
type Method string

const (
	MethodConnect                Method = "connect"
	MethodDisconnect             Method = "disconnect"
	MethodSignTransaction        Method = "signTransaction"
	MethodSignAllTransactions    Method = "signAllTransactions"
	MethodSignAndSendTransaction Method = "signAndSendTransaction"
	MethodSignMessage            Method = "signMessage"
)

// Methods lists every supported method.
var Methods = []Method{
	MethodConnect,
	MethodDisconnect,
	MethodSignTransaction,
	MethodSignAllTransactions,
	MethodSignAndSendTransaction,
	MethodSignMessage,
}

// ErrUnknownMethod is returned for an unsupported method name.
var ErrUnknownMethod = errors.New("unknown method")

// ParseMethod validates a method name.
func ParseMethod(s string) (Method, error) {
	for _, m := range Methods {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

// IsSign reports whether the method signs with the session owner's key.
func (m Method) IsSign() bool {
	switch m {
	case MethodSignTransaction, MethodSignAllTransactions, MethodSignAndSendTransaction, MethodSignMessage:
		return true
	}
	return false
}

// Query parameter names.
const (
	ParamAppURL           = "app_url"
	ParamCluster          = "cluster"
	ParamDappEncryptionPK = "dapp_encryption_public_key"
	ParamNonce            = "nonce"
	ParamPayload          = "payload"
	ParamRedirectLink     = "redirect_link"
)

// ErrMissingField is wrapped by FieldError.
var ErrMissingField = errors.New("missing required parameter")

// FieldError names the missing parameter.
type FieldError struct {
	Field string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("Missing required parameter: %s", e.Field)
}

func (e *FieldError) Unwrap() error { return ErrMissingField }

// Request is an inbound provider request as received on the redirect URI.
type Request struct {
	ID                 string `json:"id"`
	Method             Method `json:"method"`
	AppURL             string `json:"app_url,omitempty"`
	Cluster            string `json:"cluster,omitempty"`
	CounterpartyPubKey string `json:"dapp_encryption_public_key"`
	Nonce              string `json:"nonce,omitempty"`
	Payload            string `json:"payload,omitempty"`
	RedirectLink       string `json:"redirect_link"`
}

// RequestFromQuery builds a request from redirect URI query parameters.
func RequestFromQuery(method Method, q url.Values) Request {
	return Request{
		ID:                 uuid.NewString(),
		Method:             method,
		AppURL:             q.Get(ParamAppURL),
		Cluster:            q.Get(ParamCluster),
		CounterpartyPubKey: q.Get(ParamDappEncryptionPK),
		Nonce:              q.Get(ParamNonce),
		Payload:            q.Get(ParamPayload),
		RedirectLink:       q.Get(ParamRedirectLink),
	}
}

type param struct {
	name  string
	value string
}

// Validate checks that every parameter the method requires is present.
func (r Request) Validate() error {
	required := []param{{ParamDappEncryptionPK, r.CounterpartyPubKey}}
	if r.Method == MethodConnect {
		required = append(required, param{ParamAppURL, r.AppURL})
	} else {
		required = append(required, param{ParamNonce, r.Nonce}, param{ParamPayload, r.Payload})
	}
	required = append(required, param{ParamRedirectLink, r.RedirectLink})

	for _, f := range required {
		if f.value == "" {
			return &FieldError{Field: f.name}
		}
	}
	return nil
}
