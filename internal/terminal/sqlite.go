package terminal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codeexec/public-terminals/internal/platform"
)

// SQLiteStore is a durable Store backed by a local SQLite database. Records
// are never physically deleted; absorbing statuses plus deleted_at provide
// the audit trail.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at path, creating the parent
// directory and schema as needed.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: failed to create directory %s: %w", dir, err)
	}

	// _txlock=immediate makes every transaction a writer from the start, so
	// concurrent Mutate calls queue on busy_timeout instead of failing their
	// read-to-write upgrade.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS terminals (
			id               TEXT PRIMARY KEY,
			owner            TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL,
			tunnel_url       TEXT NOT NULL DEFAULT '',
			handle           TEXT NOT NULL DEFAULT '',
			error_message    TEXT NOT NULL DEFAULT '',
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL,
			expires_at       TEXT NOT NULL DEFAULT '',
			deleted_at       TEXT,
			last_seen_at     TEXT,
			delete_requested INTEGER NOT NULL DEFAULT 0,
			terminated       INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_terminals_owner ON terminals(owner);
		CREATE INDEX IF NOT EXISTS idx_terminals_status ON terminals(status);
	`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migration failed: %w", err)
	}
	return nil
}

// Create inserts a new record.
func (s *SQLiteStore) Create(ctx context.Context, t *Terminal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO terminals (id, owner, status, tunnel_url, handle, error_message,
			created_at, updated_at, expires_at, deleted_at, last_seen_at,
			delete_requested, terminated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Owner, string(t.Status), t.TunnelURL, encodeHandle(t.Handle), t.ErrorMessage,
		encodeTime(t.CreatedAt), encodeTime(t.UpdatedAt), encodeTime(t.ExpiresAt),
		encodeNullTime(t.DeletedAt), encodeNullTime(t.LastSeenAt),
		boolToInt(t.DeleteRequested), boolToInt(t.terminated),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrExists
		}
		return fmt.Errorf("store: insert failed: %w", err)
	}
	return nil
}

// Get returns the record by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Terminal, error) {
	row := s.db.QueryRowContext(ctx, selectClause+` WHERE id = ?`, id)
	return scanTerminal(row)
}

// List returns records matching the filter, newest first.
func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]*Terminal, error) {
	query := selectClause
	var conds []string
	var args []any

	if f.PendingTermination {
		conds = append(conds,
			`status IN (?, ?, ?)`, `handle != ''`, `terminated = 0`)
		args = append(args, string(StatusStopped), string(StatusExpired), string(StatusFailed))
	} else {
		if !f.IncludeDeleted {
			conds = append(conds, `deleted_at IS NULL`)
		}
		if f.Owner != "" {
			conds = append(conds, `owner = ?`)
			args = append(args, f.Owner)
		}
		if f.Status != "" {
			conds = append(conds, `status = ?`)
			args = append(args, string(f.Status))
		}
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
		if f.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", f.Offset)
		}
	} else if f.Offset > 0 {
		query += fmt.Sprintf(" LIMIT -1 OFFSET %d", f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list failed: %w", err)
	}
	defer rows.Close()

	var out []*Terminal
	for rows.Next() {
		t, err := scanTerminal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Mutate applies fn inside a write transaction; the row is re-read and
// re-written atomically, serializing concurrent transitions per record.
func (s *SQLiteStore) Mutate(ctx context.Context, id string, fn func(t *Terminal) error) (*Terminal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin failed: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, selectClause+` WHERE id = ?`, id)
	t, err := scanTerminal(row)
	if err != nil {
		return nil, err
	}

	if err := fn(t); err != nil {
		return nil, err
	}
	t.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE terminals SET owner = ?, status = ?, tunnel_url = ?, handle = ?,
			error_message = ?, updated_at = ?, expires_at = ?, deleted_at = ?,
			last_seen_at = ?, delete_requested = ?, terminated = ?
		WHERE id = ?`,
		t.Owner, string(t.Status), t.TunnelURL, encodeHandle(t.Handle),
		t.ErrorMessage, encodeTime(t.UpdatedAt), encodeTime(t.ExpiresAt),
		encodeNullTime(t.DeletedAt), encodeNullTime(t.LastSeenAt),
		boolToInt(t.DeleteRequested), boolToInt(t.terminated),
		t.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: update failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit failed: %w", err)
	}
	return t.Clone(), nil
}

// Close releases database resources.
func (s *SQLiteStore) Close() error { return s.db.Close() }

const selectClause = `
	SELECT id, owner, status, tunnel_url, handle, error_message,
		created_at, updated_at, expires_at, deleted_at, last_seen_at,
		delete_requested, terminated
	FROM terminals`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTerminal(row rowScanner) (*Terminal, error) {
	var t Terminal
	var status, handle, createdAt, updatedAt, expiresAt string
	var deletedAt, lastSeenAt sql.NullString
	var deleteRequested, terminated int

	err := row.Scan(&t.ID, &t.Owner, &status, &t.TunnelURL, &handle, &t.ErrorMessage,
		&createdAt, &updatedAt, &expiresAt, &deletedAt, &lastSeenAt,
		&deleteRequested, &terminated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan failed: %w", err)
	}

	t.Status = Status(status)
	t.Handle = decodeHandle(handle)
	t.CreatedAt = decodeTime(createdAt)
	t.UpdatedAt = decodeTime(updatedAt)
	t.ExpiresAt = decodeTime(expiresAt)
	t.DeletedAt = decodeNullTime(deletedAt)
	t.LastSeenAt = decodeNullTime(lastSeenAt)
	t.DeleteRequested = deleteRequested != 0
	t.terminated = terminated != 0
	return &t, nil
}

func encodeHandle(h *platform.Handle) string {
	if h == nil {
		return ""
	}
	data, _ := json.Marshal(h)
	return string(data)
}

func decodeHandle(s string) *platform.Handle {
	if s == "" {
		return nil
	}
	var h platform.Handle
	if err := json.Unmarshal([]byte(s), &h); err != nil {
		return nil
	}
	return &h
}

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func encodeNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
