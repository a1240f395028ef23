// Package localstore provides the on-device SQLite store backing all UI
// reads.
//
// The store is the sole source for read queries; staleness relative to the
// remote store is only reduced by an explicit pull pass, never by a read.
// It runs in embedded mode with WAL enabled so a background sync pass can
// write while reads proceed.
//
// Absence of a record is never an error: lookups return (nil, nil) and list
// queries return an empty slice when nothing is materialized yet.
package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the embedded SQLite connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens the local database at path.
//
// The parent directory is created if needed. The caller must Close() the
// returned DB; Close checkpoints the WAL so the file is durable on disk.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return db, nil
}

// RawDB exposes the underlying sql.DB for integration with other tooling.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchema creates all tables and indexes. Idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS shipments (
		local_id     TEXT PRIMARY KEY,
		remote_id    TEXT,
		tenant       TEXT NOT NULL,
		invoice_no   TEXT,
		awb_no       TEXT,
		shipper_id   TEXT,
		consignee_id TEXT,
		origin       TEXT,
		destination  TEXT,
		status       TEXT NOT NULL DEFAULT 'draft',
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	);

	-- A box must reference a committed parent shipment; the foreign key
	-- enforces the parent-before-child insertion order.
	CREATE TABLE IF NOT EXISTS boxes (
		local_id    TEXT PRIMARY KEY,
		remote_id   TEXT,
		tenant      TEXT NOT NULL,
		shipment_id TEXT NOT NULL REFERENCES shipments(local_id) ON DELETE CASCADE,
		parent_key  TEXT NOT NULL,
		ordinal     INTEGER NOT NULL,
		weight_kg   REAL NOT NULL DEFAULT 0,
		length_cm   REAL NOT NULL DEFAULT 0,
		width_cm    REAL NOT NULL DEFAULT 0,
		height_cm   REAL NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS products (
		local_id    TEXT PRIMARY KEY,
		remote_id   TEXT,
		tenant      TEXT NOT NULL,
		box_id      TEXT NOT NULL REFERENCES boxes(local_id) ON DELETE CASCADE,
		parent_key  TEXT NOT NULL,
		box_ordinal INTEGER NOT NULL,
		ordinal     INTEGER NOT NULL,
		description TEXT NOT NULL,
		kind_id     TEXT,
		quantity    INTEGER NOT NULL DEFAULT 1,
		unit_value  REAL NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS dimensions (
		local_id   TEXT PRIMARY KEY,
		remote_id  TEXT,
		tenant     TEXT NOT NULL,
		kind       TEXT NOT NULL,
		name       TEXT NOT NULL,
		attr       TEXT,  -- JSON object
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (tenant, kind, name)
	);

	-- Resolved canonical business keys, persisted across sync passes so a
	-- later pass can skip the two remote probes.
	CREATE TABLE IF NOT EXISTS canonical_keys (
		tenant      TEXT NOT NULL,
		shipment_id TEXT NOT NULL REFERENCES shipments(local_id) ON DELETE CASCADE,
		key         TEXT NOT NULL,
		resolved_at TEXT NOT NULL,
		PRIMARY KEY (tenant, shipment_id)
	);

	-- Records whose best-effort remote write failed; drained by push.
	CREATE TABLE IF NOT EXISTS pending_remote (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant     TEXT NOT NULL,
		collection TEXT NOT NULL,
		local_id   TEXT NOT NULL,
		queued_at  TEXT NOT NULL,
		UNIQUE (tenant, collection, local_id)
	);

	CREATE INDEX IF NOT EXISTS idx_shipments_tenant ON shipments(tenant);
	CREATE INDEX IF NOT EXISTS idx_shipments_invoice ON shipments(tenant, invoice_no);
	CREATE INDEX IF NOT EXISTS idx_shipments_awb ON shipments(tenant, awb_no);
	CREATE INDEX IF NOT EXISTS idx_shipments_remote ON shipments(tenant, remote_id);
	CREATE INDEX IF NOT EXISTS idx_boxes_shipment ON boxes(shipment_id);
	CREATE INDEX IF NOT EXISTS idx_boxes_parent_key ON boxes(tenant, parent_key, ordinal);
	CREATE INDEX IF NOT EXISTS idx_products_box ON products(box_id);
	CREATE INDEX IF NOT EXISTS idx_products_parent_key ON products(tenant, parent_key, box_ordinal, ordinal);
	CREATE INDEX IF NOT EXISTS idx_dimensions_kind ON dimensions(tenant, kind);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// nullableText maps "" to NULL so empty optional fields don't collide on
// unique indexes.
func nullableText(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func textOrEmpty(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
