package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	_ "modernc.org/sqlite"
)

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,63}$`)

// Document is one stored JSON body.
type Document struct {
	ID   int64
	Body json.RawMessage
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	return json.Unmarshal(d.Body, v)
}

// Collection is a SQLite file of JSON document tables.
type Collection struct {
	path string
	db   *sql.DB

	// tablesMu guards tables only; it is not the caller-facing lock.
	tablesMu sync.Mutex
	tables   map[string]bool
}

// openCollection opens (or creates) the database at path and verifies it.
func openCollection(path string) (*Collection, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", path, err)
	}
	// One connection keeps writes ordered and avoids SQLITE_BUSY between
	// pooled connections of the same process.
	db.SetMaxOpenConns(1)

	if err := verify(db); err != nil {
		db.Close()
		if isCorruption(err) {
			return nil, &CorruptionError{Path: path, Err: err}
		}
		return nil, fmt.Errorf("open collection %s: %w", path, err)
	}

	return &Collection{path: path, db: db, tables: make(map[string]bool)}, nil
}

func verify(db *sql.DB) error {
	// WAL mode for concurrent reads while the ledger is appended to
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return err
	}
	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("quick_check: %s: database disk image is malformed", result)
	}
	return nil
}

// Path returns the file backing the collection.
func (c *Collection) Path() string { return c.path }

// Close closes the underlying database.
func (c *Collection) Close() error {
	return c.db.Close()
}

func (c *Collection) ensureTable(ctx context.Context, table string) error {
	if !identPattern.MatchString(table) {
		return fmt.Errorf("store: invalid table name %q", table)
	}
	c.tablesMu.Lock()
	defer c.tablesMu.Unlock()
	if c.tables[table] {
		return nil
	}
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    body       TEXT NOT NULL,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
)`, table)
	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		if isCorruption(err) {
			return &CorruptionError{Path: c.path, Err: err}
		}
		return fmt.Errorf("create table %s: %w", table, err)
	}
	c.tables[table] = true
	return nil
}

// Index creates an expression index on a top-level JSON field of table.
func (c *Collection) Index(ctx context.Context, table, field string) error {
	if err := c.ensureTable(ctx, table); err != nil {
		return err
	}
	if !identPattern.MatchString(field) {
		return fmt.Errorf("store: invalid field name %q", field)
	}
	stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "idx_%s_%s" ON %q (json_extract(body, '$.%s'))`,
		table, field, table, field)
	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create index %s.%s: %w", table, field, err)
	}
	return nil
}

// Insert appends doc (JSON encoded) to table and returns its row ID.
func (c *Collection) Insert(ctx context.Context, table string, doc any) (int64, error) {
	if err := c.ensureTable(ctx, table); err != nil {
		return 0, err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("encode document: %w", err)
	}
	res, err := c.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %q (body) VALUES (?)`, table), string(body))
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	return res.LastInsertId()
}

// All returns every document of table in insertion order.
func (c *Collection) All(ctx context.Context, table string) ([]Document, error) {
	if err := c.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	return c.query(ctx, fmt.Sprintf(`SELECT id, body FROM %q ORDER BY id ASC`, table))
}

// Find returns documents whose top-level field equals value.
func (c *Collection) Find(ctx context.Context, table, field string, value any) ([]Document, error) {
	if err := c.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	if !identPattern.MatchString(field) {
		return nil, fmt.Errorf("store: invalid field name %q", field)
	}
	q := fmt.Sprintf(`SELECT id, body FROM %q WHERE json_extract(body, '$.%s') = ? ORDER BY id ASC`, table, field)
	return c.query(ctx, q, value)
}

// Count returns the number of documents in table.
func (c *Collection) Count(ctx context.Context, table string) (int, error) {
	if err := c.ensureTable(ctx, table); err != nil {
		return 0, err
	}
	var n int
	if err := c.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %q`, table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// Delete removes documents whose top-level field equals value and reports
// how many went.
func (c *Collection) Delete(ctx context.Context, table, field string, value any) (int64, error) {
	if err := c.ensureTable(ctx, table); err != nil {
		return 0, err
	}
	if !identPattern.MatchString(field) {
		return 0, fmt.Errorf("store: invalid field name %q", field)
	}
	q := fmt.Sprintf(`DELETE FROM %q WHERE json_extract(body, '$.%s') = ?`, table, field)
	res, err := c.db.ExecContext(ctx, q, value)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	return res.RowsAffected()
}

// Truncate removes every document from table.
func (c *Collection) Truncate(ctx context.Context, table string) error {
	if err := c.ensureTable(ctx, table); err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q`, table)); err != nil {
		return fmt.Errorf("truncate %s: %w", table, err)
	}
	return nil
}

func (c *Collection) query(ctx context.Context, q string, args ...any) ([]Document, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var body string
		if err := rows.Scan(&d.ID, &body); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		d.Body = json.RawMessage(body)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
