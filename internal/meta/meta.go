// Package meta implements the SQLite-backed version ledger: one row per live
// path holding its content type and current version token.
package meta

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/meta/migrations"
)

// Record is the ledger entry for one path. ContentType is empty for folders.
type Record struct {
	Version     Version
	ContentType string
}

// DB wraps a sql.DB with ledger-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies migrations.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("meta: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("meta: ping: %w", err)
	}
	if err := migrations.Up(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("meta: migrate: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Get returns the ledger record for path, or nil when the path has none.
func (db *DB) Get(path string) (*Record, error) {
	var (
		ct    sql.NullString
		seq   uint64
		nonce string
	)
	err := db.conn.QueryRow(`SELECT content_type, seq, nonce FROM ledger WHERE path = ?`, path).
		Scan(&ct, &seq, &nonce)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("meta: get %s: %w", path, err)
	}
	return &Record{
		Version:     Version{Seq: seq, Nonce: nonce},
		ContentType: ct.String,
	}, nil
}

// Upsert inserts path with sequence 1, or bumps its sequence and regenerates
// the nonce if it already has a row. Folders pass an empty content type,
// stored as NULL.
func (db *DB) Upsert(path, contentType string) error {
	return upsertIn(db.conn, path, contentType)
}

// Delete removes the row for path. A delete that removes nothing means the
// caller's view of the ledger is wrong, which is an invariant violation, not
// a not-found.
func (db *DB) Delete(path string) error {
	res, err := db.conn.Exec(`DELETE FROM ledger WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("meta: delete %s: %w", path, err)
	}
	return assertOneRow(res, "delete", path)
}

// CascadeUpsert records a document write and its ancestor version bumps in a
// single transaction: the document row gets contentType, every folder in
// folders gets a NULL-typed bump.
func (db *DB) CascadeUpsert(docPath, contentType string, folders []string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("meta: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if err := upsertIn(tx, docPath, contentType); err != nil {
		return err
	}
	for _, f := range folders {
		if err := upsertIn(tx, f, ""); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CascadeDelete records a document delete in a single transaction. removed
// lists the paths whose files are gone, document first: the document row must
// exist, pruned-folder rows are removed when present. bump lists the
// surviving ancestor folders; each gets a version bump, skipping folders that
// were never materialized in the ledger.
func (db *DB) CascadeDelete(removed []string, bump []string) error {
	if len(removed) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("meta: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.Exec(`DELETE FROM ledger WHERE path = ?`, removed[0])
	if err != nil {
		return fmt.Errorf("meta: delete %s: %w", removed[0], err)
	}
	if err := assertOneRow(res, "delete", removed[0]); err != nil {
		return err
	}
	for _, p := range removed[1:] {
		if _, err := tx.Exec(`DELETE FROM ledger WHERE path = ?`, p); err != nil {
			return fmt.Errorf("meta: delete %s: %w", p, err)
		}
	}
	for _, p := range bump {
		if _, err := tx.Exec(`UPDATE ledger SET seq = seq + 1, nonce = ? WHERE path = ?`,
			newNonce(), p); err != nil {
			return fmt.Errorf("meta: bump %s: %w", p, err)
		}
	}
	return tx.Commit()
}

// AllDocuments returns the ledger records for every document path (rows with
// a content type).
func (db *DB) AllDocuments() (map[string]Record, error) {
	rows, err := db.conn.Query(`SELECT path, content_type, seq, nonce FROM ledger WHERE content_type IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("meta: all documents: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Record)
	for rows.Next() {
		var (
			path  string
			ct    sql.NullString
			seq   uint64
			nonce string
		)
		if err := rows.Scan(&path, &ct, &seq, &nonce); err != nil {
			return nil, err
		}
		out[path] = Record{Version: Version{Seq: seq, Nonce: nonce}, ContentType: ct.String}
	}
	return out, rows.Err()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertIn(e execer, path, contentType string) error {
	ct := sql.NullString{String: contentType, Valid: contentType != ""}
	res, err := e.Exec(`
		INSERT INTO ledger (path, content_type, seq, nonce)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(path) DO UPDATE SET
			seq          = ledger.seq + 1,
			nonce        = excluded.nonce,
			content_type = excluded.content_type
	`, path, ct, newNonce())
	if err != nil {
		return fmt.Errorf("meta: upsert %s: %w", path, err)
	}
	return assertOneRow(res, "upsert", path)
}

func assertOneRow(res sql.Result, op, path string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("meta: %s %s: rows affected: %w", op, path, err)
	}
	if n != 1 {
		return fmt.Errorf("meta: %s %s affected %d rows: %w", op, path, n, apperr.ErrLedgerInvariant)
	}
	return nil
}
