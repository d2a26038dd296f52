package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNotFound is returned when the server does not know the request.
var ErrNotFound = errors.New("not found")

// Request states reported by the server.
const (
	StatePreparing        = "preparing"
	StateAwaitingDecision = "awaiting_decision"
	StateCompleting       = "completing"
	StateDone             = "done"
)

// RequestStatus is the server's view of a provider request.
type RequestStatus struct {
	RequestID   string `json:"request_id"`
	Method      string `json:"method"`
	State       string `json:"state"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// Done reports whether the request has a terminal response.
func (s *RequestStatus) Done() bool {
	return s.State == StateDone
}

// RedirectParams returns the query parameters of the redirect URL.
func (s *RequestStatus) RedirectParams() (url.Values, error) {
	u, err := url.Parse(s.RedirectURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect url: %w", err)
	}
	return u.Query(), nil
}

// Pending is a request waiting for a decision.
type Pending struct {
	RequestID            string          `json:"request_id"`
	Method               string          `json:"method"`
	AppURL               string          `json:"app_url"`
	Owner                string          `json:"owner,omitempty"`
	RequiresConfirmation bool            `json:"requires_confirmation"`
	Since                time.Time       `json:"since"`
	Prepared             json.RawMessage `json:"prepared,omitempty"`
}

// Decision answers a pending request.
type Decision struct {
	Approved                 bool   `json:"approved"`
	Account                  string `json:"account,omitempty"`
	OverrideSimulationErrors bool   `json:"override_simulation_errors,omitempty"`
}

// Event is an entry of the authorization audit log.
type Event struct {
	RequestID            string    `json:"request_id"`
	Method               string    `json:"method"`
	Outcome              string    `json:"outcome"`
	Counterparty         string    `json:"counterparty"`
	AppURL               *string   `json:"app_url,omitempty"`
	Owner                *string   `json:"owner,omitempty"`
	ErrorCode            *int32    `json:"error_code,omitempty"`
	Transactions         int32     `json:"transactions"`
	Warnings             int32     `json:"warnings"`
	RequiresConfirmation bool      `json:"requires_confirmation"`
	OccurredAt           time.Time `json:"occurred_at"`
}

// EventFilter narrows ListEvents.
type EventFilter struct {
	RequestID    string
	Counterparty string
	Limit        int
	Offset       int
}

// Client is the HTTP client for the wallet provider service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new wallet service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
			// The redirect endpoint answers 302 to a counterparty URL
			// that should be reported, not followed.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// ProviderBase is the prefix for Dapp URL builders.
func (c *Client) ProviderBase() string {
	return c.baseURL + "/v1/provider"
}

// Submit sends a provider URL built by Dapp and returns the request id.
func (c *Client) Submit(ctx context.Context, providerURL string) (string, error) {
	var out struct {
		RequestID string `json:"request_id"`
	}
	if err := c.do(ctx, http.MethodGet, providerURL, nil, http.StatusAccepted, &out); err != nil {
		return "", err
	}
	c.logger.Debug("request submitted", "request_id", out.RequestID)
	return out.RequestID, nil
}

// Status fetches the current status of a request.
func (c *Client) Status(ctx context.Context, requestID string) (*RequestStatus, error) {
	var status RequestStatus
	u := fmt.Sprintf("%s/v1/requests/%s", c.baseURL, url.PathEscape(requestID))
	if err := c.do(ctx, http.MethodGet, u, nil, http.StatusOK, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Await polls until the request is done or ctx ends.
func (c *Client) Await(ctx context.Context, requestID string, interval time.Duration) (*RequestStatus, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.Status(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if status.Done() {
			return status, nil
		}
		c.logger.Debug("request not done yet", "request_id", requestID, "state", status.State)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Decide answers a pending request.
func (c *Client) Decide(ctx context.Context, requestID string, d Decision) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	u := fmt.Sprintf("%s/v1/requests/%s/decision", c.baseURL, url.PathEscape(requestID))
	if err := c.do(ctx, http.MethodPost, u, body, http.StatusAccepted, nil); err != nil {
		return err
	}
	c.logger.Debug("decision sent", "request_id", requestID, "approved", d.Approved)
	return nil
}

// ListPending lists requests waiting for a decision, oldest first.
func (c *Client) ListPending(ctx context.Context) ([]*Pending, error) {
	var out struct {
		Approvals []*Pending `json:"approvals"`
	}
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/v1/approvals", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Approvals, nil
}

// ListEvents reads the audit log, newest first.
func (c *Client) ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	q := url.Values{}
	if filter.RequestID != "" {
		q.Set("request_id", filter.RequestID)
	}
	if filter.Counterparty != "" {
		q.Set("counterparty", filter.Counterparty)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}
	u := c.baseURL + "/v1/events"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var out struct {
		Events []*Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, u, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, want int, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		errResp.Error = fmt.Sprintf("status %d: %s", resp.StatusCode, string(body))
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, errResp.Error)
	}
	return fmt.Errorf("request failed: %s", errResp.Error)
}
