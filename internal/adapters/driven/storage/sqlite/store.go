package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/ledgersync/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a unified SQLite-based storage that provides access to
// all store interfaces through wrapper types.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.ledgersync/data/ledger.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".ledgersync", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "ledger.db")

	// WAL lets the HTTP server and CLI read while a refresh writes
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// ConnectionStore returns a ConnectionStore interface backed by this store.
func (s *Store) ConnectionStore() driven.ConnectionStore {
	return &connectionStore{store: s}
}

// OperationLogStore returns an OperationLogStore interface backed by this store.
func (s *Store) OperationLogStore() driven.OperationLogStore {
	return &operationLogStore{store: s}
}

// SchedulerStore returns a SchedulerStore interface backed by this store.
func (s *Store) SchedulerStore() driven.SchedulerStore {
	return &schedulerStore{store: s}
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// "001_connections.up.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// ==================== Connection Store ====================

// connectionStore implements driven.ConnectionStore.
type connectionStore struct {
	store *Store
}

var _ driven.ConnectionStore = (*connectionStore)(nil)

// Get retrieves the connection for a user.
func (s *connectionStore) Get(ctx context.Context, userID string) (*domain.Connection, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT user_id, tenant_id, access_token, refresh_token, token_type,
		       expires_at, company_name, created_at, updated_at
		FROM connections WHERE user_id = ?
	`, userID)

	conn, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Upsert writes the connection, overwriting an existing row in place.
// created_at is kept from the first insert.
func (s *connectionStore) Upsert(ctx context.Context, conn domain.Connection) error {
	if conn.UserID == "" {
		return domain.ErrInvalidInput
	}
	now := time.Now()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	if conn.UpdatedAt.IsZero() {
		conn.UpdatedAt = now
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO connections (user_id, tenant_id, access_token, refresh_token, token_type,
		                         expires_at, company_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expires_at = excluded.expires_at,
			company_name = excluded.company_name,
			updated_at = excluded.updated_at
	`, conn.UserID, conn.TenantID, conn.AccessToken, conn.RefreshToken, conn.TokenType,
		formatTime(conn.ExpiresAt), nullString(conn.CompanyName),
		formatTime(conn.CreatedAt), formatTime(conn.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upserting connection: %w", err)
	}
	return nil
}

// Delete removes the user's connection.
func (s *connectionStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.store.db.ExecContext(ctx, "DELETE FROM connections WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("deleting connection: %w", err)
	}
	return nil
}

// ListExpiringBefore returns connections expiring before t, soonest first.
func (s *connectionStore) ListExpiringBefore(ctx context.Context, t time.Time) ([]domain.Connection, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT user_id, tenant_id, access_token, refresh_token, token_type,
		       expires_at, company_name, created_at, updated_at
		FROM connections
		WHERE expires_at < ?
		ORDER BY expires_at
	`, formatTime(t))
	if err != nil {
		return nil, fmt.Errorf("querying expiring connections: %w", err)
	}
	defer rows.Close()

	var conns []domain.Connection //nolint:prealloc // size unknown from query
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating connections: %w", err)
	}
	return conns, nil
}

// ==================== Operation Log Store ====================

// operationLogStore implements driven.OperationLogStore.
type operationLogStore struct {
	store *Store
}

var _ driven.OperationLogStore = (*operationLogStore)(nil)

// Append writes one entry.
func (s *operationLogStore) Append(ctx context.Context, entry domain.OperationLogEntry) error {
	var details any
	if len(entry.Details) > 0 {
		data, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshalling details: %w", err)
		}
		details = string(data)
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO operation_log (id, user_id, operation_kind, entity_type, record_id, status, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.UserID, string(entry.Kind), entry.EntityType,
		nullString(entry.RecordID), string(entry.Status), details, formatTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("appending operation log entry: %w", err)
	}
	return nil
}

// ListByUser returns a user's most recent entries, newest first.
func (s *operationLogStore) ListByUser(ctx context.Context, userID string, limit int) ([]domain.OperationLogEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, user_id, operation_kind, entity_type, record_id, status, details, created_at
		FROM operation_log
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying operation log: %w", err)
	}
	defer rows.Close()

	var entries []domain.OperationLogEntry //nolint:prealloc // size unknown from query
	for rows.Next() {
		var e domain.OperationLogEntry
		var kind, status, createdAt string
		var recordID, details sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &kind, &e.EntityType, &recordID, &status, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning operation log entry: %w", err)
		}
		e.Kind = domain.OperationKind(kind)
		e.Status = domain.OperationStatus(status)
		e.RecordID = recordID.String
		e.CreatedAt = parseTime(createdAt)
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshalling details: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating operation log: %w", err)
	}
	return entries, nil
}

// ==================== Helper Functions ====================

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*domain.Connection, error) {
	var c domain.Connection
	var expiresAt, createdAt, updatedAt string
	var companyName sql.NullString

	if err := row.Scan(&c.UserID, &c.TenantID, &c.AccessToken, &c.RefreshToken, &c.TokenType,
		&expiresAt, &companyName, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning connection: %w", err)
	}

	c.ExpiresAt = parseTime(expiresAt)
	c.CompanyName = companyName.String
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime returns the zero time for empty or malformed values.
func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// formatNullableTime formats a time, or returns nil for zero time.
func formatNullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

// parseNullableTime parses a nullable timestamp.
func parseNullableTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	return parseTime(s.String)
}

// nullString returns nil for empty strings, otherwise the string.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// boolToInt converts a bool to 1 (true) or 0 (false).
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
