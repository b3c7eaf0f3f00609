package fileops

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/scribe/internal/apperr"
)

const entriesSchemaSQL = `
CREATE TABLE IF NOT EXISTS entries (
	path       TEXT PRIMARY KEY,
	parent     TEXT NOT NULL,
	name       TEXT NOT NULL,
	is_dir     INTEGER NOT NULL DEFAULT 0,
	data       BLOB,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_entries_parent ON entries(parent);
`

var _ FileOperations = (*SQLite)(nil)

// SQLite implements FileOperations as rows of a single SQLite table. Every
// file is one row, so a write is a single atomic upsert.
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (or creates) the database file and applies the schema.
func OpenSQLite(dsn string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("fileops: open db: %w", err)
	}
	// One connection serialises writers; SQLite would otherwise fail
	// read-to-write lock upgrades with SQLITE_BUSY.
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("fileops: ping: %w", err)
	}
	if _, err := conn.Exec(entriesSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("fileops: apply schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// Read returns the stored bytes of a file row.
func (s *SQLite) Read(ctx context.Context, p string) ([]byte, error) {
	cleaned, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = s.conn.QueryRowContext(ctx,
		`SELECT data FROM entries WHERE path = ? AND is_dir = 0`, cleaned).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("read", cleaned)
	}
	if err != nil {
		return nil, backendErr("read", cleaned, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// Write upserts a file row, creating directory rows for its parents.
func (s *SQLite) Write(ctx context.Context, p string, data []byte) error {
	cleaned, err := cleanPath(p)
	if err != nil {
		return err
	}
	if cleaned == "" {
		return fmt.Errorf("%w: fileops: write: empty path", apperr.ErrInvalidArgument)
	}
	if data == nil {
		data = []byte{}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return backendErr("begin", cleaned, err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	parent := parentOf(cleaned)
	if err := ensureDirs(ctx, tx, parent); err != nil {
		return backendErr("mkdir", cleaned, err)
	}

	var isDir bool
	err = tx.QueryRowContext(ctx, `SELECT is_dir FROM entries WHERE path = ?`, cleaned).Scan(&isDir)
	if err == nil && isDir {
		return backendErr("write", cleaned, errors.New("is a directory"))
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return backendErr("write", cleaned, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (path, parent, name, is_dir, data, updated_at)
		VALUES (?, ?, ?, 0, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET
			data       = excluded.data,
			updated_at = excluded.updated_at
	`, cleaned, parent, path.Base(cleaned), data)
	if err != nil {
		return backendErr("write", cleaned, err)
	}
	if err := tx.Commit(); err != nil {
		return backendErr("commit", cleaned, err)
	}
	return nil
}

// List returns child names of a directory row.
func (s *SQLite) List(ctx context.Context, p string) ([]string, error) {
	cleaned, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	if cleaned != "" {
		var isDir bool
		err := s.conn.QueryRowContext(ctx, `SELECT is_dir FROM entries WHERE path = ?`, cleaned).Scan(&isDir)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("list", cleaned)
		}
		if err != nil {
			return nil, backendErr("list", cleaned, err)
		}
		if !isDir {
			return nil, backendErr("list", cleaned, errors.New("not a directory"))
		}
	}

	rows, err := s.conn.QueryContext(ctx, `SELECT name FROM entries WHERE parent = ? ORDER BY name`, cleaned)
	if err != nil {
		return nil, backendErr("list", cleaned, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, backendErr("list", cleaned, err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, backendErr("list", cleaned, err)
	}
	return out, nil
}

// Mkdir inserts directory rows for p and all its ancestors.
func (s *SQLite) Mkdir(ctx context.Context, p string) error {
	cleaned, err := cleanPath(p)
	if err != nil {
		return err
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return backendErr("begin", cleaned, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := ensureDirs(ctx, tx, cleaned); err != nil {
		return backendErr("mkdir", cleaned, err)
	}
	if err := tx.Commit(); err != nil {
		return backendErr("commit", cleaned, err)
	}
	return nil
}

// RemoveAll deletes p and every row below it.
func (s *SQLite) RemoveAll(ctx context.Context, p string) error {
	cleaned, err := cleanPath(p)
	if err != nil {
		return err
	}
	if cleaned == "" {
		return fmt.Errorf("%w: fileops: refusing to remove root", apperr.ErrInvalidArgument)
	}
	_, err = s.conn.ExecContext(ctx,
		`DELETE FROM entries WHERE path = ?1 OR substr(path, 1, length(?2)) = ?2`,
		cleaned, cleaned+"/")
	if err != nil {
		return backendErr("remove", cleaned, err)
	}
	return nil
}

// ensureDirs inserts directory rows for dir and its ancestors. The root
// ("") exists implicitly.
func ensureDirs(ctx context.Context, tx *sql.Tx, dir string) error {
	if dir == "" {
		return nil
	}
	segments := strings.Split(dir, "/")
	for i := range segments {
		p := strings.Join(segments[:i+1], "/")
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entries (path, parent, name, is_dir)
			VALUES (?, ?, ?, 1)
			ON CONFLICT(path) DO NOTHING
		`, p, parentOf(p), segments[i])
		if err != nil {
			return err
		}
		var isDir bool
		if err := tx.QueryRowContext(ctx, `SELECT is_dir FROM entries WHERE path = ?`, p).Scan(&isDir); err != nil {
			return err
		}
		if !isDir {
			return fmt.Errorf("%s is not a directory", p)
		}
	}
	return nil
}

func parentOf(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}
