package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// HTTPMigrationChecker asks the migration service whether an address has
// pending migration transactions.
type HTTPMigrationChecker struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPMigrationChecker creates a checker for baseURL. A nil httpClient
// uses a client with a 30 second timeout.
func NewHTTPMigrationChecker(baseURL string, httpClient *http.Client, logger *slog.Logger) *HTTPMigrationChecker {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPMigrationChecker{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

type migrateResponse struct {
	Transactions []json.RawMessage `json:"transactions"`
}

// NeedsMigration calls GET {baseURL}/migrate/{address}.
func (m *HTTPMigrationChecker) NeedsMigration(ctx context.Context, address solana.PublicKey) (bool, error) {
	url := fmt.Sprintf("%s/migrate/%s", m.baseURL, address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("migration request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("migration service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out migrateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("failed to decode migration response: %w", err)
	}

	m.logger.DebugContext(ctx, "migration status checked", "address", address.String(), "transactions", len(out.Transactions))
	return len(out.Transactions) > 0, nil
}
