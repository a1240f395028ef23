package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/waybill-app/waybill/internal/session"
)

// CanonicalKey returns the persisted canonical business key for a shipment,
// or "" if none has been resolved yet.
func (db *DB) CanonicalKey(ctx context.Context, sess session.Session, shipmentID string) (string, error) {
	var key string
	err := db.conn.QueryRowContext(ctx,
		`SELECT key FROM canonical_keys WHERE tenant = ? AND shipment_id = ?`,
		sess.Tenant, shipmentID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read canonical key: %w", err)
	}
	return key, nil
}

// SetCanonicalKey persists the resolved canonical business key for a
// shipment so later sync passes skip the remote probes.
func (db *DB) SetCanonicalKey(ctx context.Context, sess session.Session, shipmentID, key string) error {
	query := `
	INSERT INTO canonical_keys (tenant, shipment_id, key, resolved_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(tenant, shipment_id) DO UPDATE SET
		key = excluded.key,
		resolved_at = excluded.resolved_at
	`
	_, err := db.conn.ExecContext(ctx, query,
		sess.Tenant, shipmentID, key, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to persist canonical key: %w", err)
	}
	return nil
}

// ClearCanonicalKeys drops all persisted canonical keys for the tenant,
// forcing the next sync pass to re-probe.
func (db *DB) ClearCanonicalKeys(ctx context.Context, sess session.Session) error {
	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM canonical_keys WHERE tenant = ?`, sess.Tenant); err != nil {
		return fmt.Errorf("failed to clear canonical keys: %w", err)
	}
	return nil
}

// PendingRemote is a record whose best-effort remote write failed and is
// waiting to be retried by the next push.
type PendingRemote struct {
	ID         int64
	Collection string
	LocalID    string
	QueuedAt   time.Time
}

// EnqueuePending records a failed remote write. Re-queuing the same record
// is a no-op.
func (db *DB) EnqueuePending(ctx context.Context, sess session.Session, collection, localID string) error {
	query := `
	INSERT INTO pending_remote (tenant, collection, local_id, queued_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(tenant, collection, local_id) DO NOTHING
	`
	_, err := db.conn.ExecContext(ctx, query,
		sess.Tenant, collection, localID, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to enqueue pending remote write: %w", err)
	}
	return nil
}

// ListPending returns the tenant's pending remote writes, oldest first.
func (db *DB) ListPending(ctx context.Context, sess session.Session) ([]PendingRemote, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, collection, local_id, queued_at FROM pending_remote
		 WHERE tenant = ? ORDER BY id`, sess.Tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending remote writes: %w", err)
	}
	defer rows.Close()

	var pending []PendingRemote
	for rows.Next() {
		var p PendingRemote
		var queuedAt string
		if err := rows.Scan(&p.ID, &p.Collection, &p.LocalID, &queuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending entry: %w", err)
		}
		p.QueuedAt = parseTime(queuedAt)
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending entries: %w", err)
	}
	return pending, nil
}

// ClearPending removes a drained pending entry.
func (db *DB) ClearPending(ctx context.Context, sess session.Session, collection, localID string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM pending_remote WHERE tenant = ? AND collection = ? AND local_id = ?`,
		sess.Tenant, collection, localID)
	if err != nil {
		return fmt.Errorf("failed to clear pending entry: %w", err)
	}
	return nil
}

// CountPending returns the number of queued remote writes.
func (db *DB) CountPending(ctx context.Context, sess session.Session) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_remote WHERE tenant = ?`, sess.Tenant).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending entries: %w", err)
	}
	return count, nil
}
