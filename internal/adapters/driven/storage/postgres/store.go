// Package postgres stores connections, the operation log and scheduler
// state in PostgreSQL.
// It is used when several ledgersync processes share one database, for
// example the HTTP API running next to scheduled refresh jobs.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

//go:embed schema.sql
var schema string

// Store wraps a pgx-backed *sql.DB.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return newStore(ctx, db)
}

func newStore(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ConnectionStore returns a ConnectionStore backed by this store.
func (s *Store) ConnectionStore() driven.ConnectionStore {
	return &connectionStore{db: s.db}
}

// OperationLogStore returns an OperationLogStore backed by this store.
func (s *Store) OperationLogStore() driven.OperationLogStore {
	return &operationLogStore{db: s.db}
}

type connectionStore struct {
	db *sql.DB
}

var _ driven.ConnectionStore = (*connectionStore)(nil)

const connectionColumns = `user_id, tenant_id, access_token, refresh_token, token_type,
	expires_at, company_name, created_at, updated_at`

func (s *connectionStore) Get(ctx context.Context, userID string) (*domain.Connection, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+connectionColumns+` FROM connections WHERE user_id = $1`, userID)
	conn, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return conn, err
}

func (s *connectionStore) Upsert(ctx context.Context, conn domain.Connection) error {
	if conn.UserID == "" {
		return domain.ErrInvalidInput
	}
	now := time.Now().UTC()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	if conn.UpdatedAt.IsZero() {
		conn.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (`+connectionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type = EXCLUDED.token_type,
			expires_at = EXCLUDED.expires_at,
			company_name = EXCLUDED.company_name,
			updated_at = EXCLUDED.updated_at
	`, conn.UserID, conn.TenantID, conn.AccessToken, conn.RefreshToken, conn.TokenType,
		conn.ExpiresAt.UTC(), sql.NullString{String: conn.CompanyName, Valid: conn.CompanyName != ""},
		conn.CreatedAt.UTC(), conn.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upserting connection: %w", err)
	}
	return nil
}

func (s *connectionStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("deleting connection: %w", err)
	}
	return nil
}

func (s *connectionStore) ListExpiringBefore(ctx context.Context, t time.Time) ([]domain.Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE expires_at < $1 ORDER BY expires_at`, t.UTC())
	if err != nil {
		return nil, fmt.Errorf("querying expiring connections: %w", err)
	}
	defer rows.Close()

	var conns []domain.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *conn)
	}
	return conns, rows.Err()
}

type operationLogStore struct {
	db *sql.DB
}

var _ driven.OperationLogStore = (*operationLogStore)(nil)

func (s *operationLogStore) Append(ctx context.Context, e domain.OperationLogEntry) error {
	var details []byte
	if len(e.Details) > 0 {
		var err error
		if details, err = json.Marshal(e.Details); err != nil {
			return fmt.Errorf("marshalling details: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operation_log (id, user_id, operation_kind, entity_type, record_id, status, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.UserID, string(e.Kind), e.EntityType,
		sql.NullString{String: e.RecordID, Valid: e.RecordID != ""},
		string(e.Status), details, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("appending operation log entry: %w", err)
	}
	return nil
}

func (s *operationLogStore) ListByUser(ctx context.Context, userID string, limit int) ([]domain.OperationLogEntry, error) {
	query := `
		SELECT id, user_id, operation_kind, entity_type, record_id, status, details, created_at
		FROM operation_log
		WHERE user_id = $1
		ORDER BY created_at DESC, seq DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying operation log: %w", err)
	}
	defer rows.Close()

	var entries []domain.OperationLogEntry
	for rows.Next() {
		var e domain.OperationLogEntry
		var kind, status string
		var recordID sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &e.UserID, &kind, &e.EntityType, &recordID, &status, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning operation log entry: %w", err)
		}
		e.Kind = domain.OperationKind(kind)
		e.Status = domain.OperationStatus(status)
		e.RecordID = recordID.String
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshalling details: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConnection(row scanner) (*domain.Connection, error) {
	var c domain.Connection
	var company sql.NullString
	if err := row.Scan(&c.UserID, &c.TenantID, &c.AccessToken, &c.RefreshToken, &c.TokenType,
		&c.ExpiresAt, &company, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning connection: %w", err)
	}
	c.CompanyName = company.String
	return &c, nil
}
