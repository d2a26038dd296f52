// Package db persists secure storage items and the authorization audit log
// in postgres.
package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/helium/wallet-app-sub004/service/authz"
	"github.com/helium/wallet-app-sub004/service/metrics"
	"github.com/helium/wallet-app-sub004/service/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a Store on pool. If metrics is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

// Migrate creates the tables the store uses if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) observe(operation, table string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), err)
	}
}

// GetItem implements storage.Storage over the secure_items table.
func (s *Store) GetItem(ctx context.Context, key string) (value string, err error) {
	defer func(start time.Time) { s.observe("get", "secure_items", start, err) }(time.Now())

	err = s.pool.QueryRow(ctx, `SELECT value FROM secure_items WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get item %s: %w", key, err)
	}
	return value, nil
}

// SetItem upserts key.
func (s *Store) SetItem(ctx context.Context, key, value string) (err error) {
	defer func(start time.Time) { s.observe("set", "secure_items", start, err) }(time.Now())

	_, err = s.pool.Exec(ctx, `
		INSERT INTO secure_items (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	if err != nil {
		return fmt.Errorf("set item %s: %w", key, err)
	}
	return nil
}

// RemoveItem deletes key. Removing a missing key is not an error.
func (s *Store) RemoveItem(ctx context.Context, key string) (err error) {
	defer func(start time.Time) { s.observe("delete", "secure_items", start, err) }(time.Now())

	if _, err = s.pool.Exec(ctx, `DELETE FROM secure_items WHERE key = $1`, key); err != nil {
		return fmt.Errorf("remove item %s: %w", key, err)
	}
	return nil
}

// AuthorizationEvent is a row of the audit log.
type AuthorizationEvent struct {
	ID                   int64
	RequestID            string
	Method               string
	Outcome              string
	Counterparty         string
	AppURL               *string
	Owner                *string
	ErrorCode            *int32
	Transactions         int32
	Warnings             int32
	RequiresConfirmation bool
	OccurredAt           time.Time
	CreatedAt            time.Time
}

// RecordEvent implements authz.EventSink by appending to the audit log.
func (s *Store) RecordEvent(ctx context.Context, e authz.Event) (err error) {
	defer func(start time.Time) { s.observe("insert", "authorization_events", start, err) }(time.Now())

	var errorCode pgtype.Int4
	if e.ErrorCode != 0 {
		errorCode = pgtype.Int4{Int32: int32(e.ErrorCode), Valid: true}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO authorization_events (
			request_id, method, outcome, counterparty, app_url, owner,
			error_code, transactions, warnings, requires_confirmation, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.RequestID,
		string(e.Method),
		string(e.Outcome),
		e.Counterparty,
		pgtextFromString(e.AppURL),
		pgtextFromString(e.Owner),
		errorCode,
		int32(e.Transactions),
		int32(e.Warnings),
		e.RequiresConfirmation,
		pgtype.Timestamptz{Time: e.Timestamp, Valid: true},
	)
	if err != nil {
		return fmt.Errorf("insert authorization event: %w", err)
	}
	return nil
}

const eventColumns = `id, request_id, method, outcome, counterparty, app_url, owner,
	error_code, transactions, warnings, requires_confirmation, occurred_at, created_at`

// ListEventsParams filters the audit log. Zero values are ignored.
type ListEventsParams struct {
	RequestID    string
	Counterparty string
	Limit        int32
	Offset       int32
}

// ListEvents returns matching events, newest first.
func (s *Store) ListEvents(ctx context.Context, params ListEventsParams) (events []*AuthorizationEvent, err error) {
	defer func(start time.Time) { s.observe("list", "authorization_events", start, err) }(time.Now())

	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM authorization_events
		WHERE ($1 = '' OR request_id = $1)
		  AND ($2 = '' OR counterparty = $2)
		ORDER BY id DESC
		LIMIT $3 OFFSET $4`,
		params.RequestID, params.Counterparty, limit, params.Offset)
	if err != nil {
		return nil, fmt.Errorf("list authorization events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list authorization events: %w", err)
	}
	return events, nil
}

// ErrEventNotFound is returned when a request has no recorded events.
var ErrEventNotFound = errors.New("no events for request")

// LatestEvent returns the most recent event recorded for a request.
func (s *Store) LatestEvent(ctx context.Context, requestID string) (e *AuthorizationEvent, err error) {
	defer func(start time.Time) { s.observe("get", "authorization_events", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM authorization_events
		WHERE request_id = $1
		ORDER BY id DESC
		LIMIT 1`, requestID)
	e, err = scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	return e, err
}

func scanEvent(row pgx.Row) (*AuthorizationEvent, error) {
	var (
		e          AuthorizationEvent
		appURL     pgtype.Text
		owner      pgtype.Text
		errorCode  pgtype.Int4
		occurredAt pgtype.Timestamptz
		createdAt  pgtype.Timestamptz
	)
	err := row.Scan(
		&e.ID, &e.RequestID, &e.Method, &e.Outcome, &e.Counterparty, &appURL, &owner,
		&errorCode, &e.Transactions, &e.Warnings, &e.RequiresConfirmation, &occurredAt, &createdAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan authorization event: %w", err)
	}

	e.AppURL = stringPtrFromPgtext(appURL)
	e.Owner = stringPtrFromPgtext(owner)
	if errorCode.Valid {
		code := errorCode.Int32
		e.ErrorCode = &code
	}
	e.OccurredAt = occurredAt.Time
	e.CreatedAt = createdAt.Time
	return &e, nil
}

func pgtextFromString(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}
