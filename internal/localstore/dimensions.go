package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/waybill-app/waybill/internal/model"
	"github.com/waybill-app/waybill/internal/session"
)

const dimensionColumns = `local_id, remote_id, kind, name, attr, created_at, updated_at`

// UpsertDimension inserts or updates a master-data record.
func (db *DB) UpsertDimension(ctx context.Context, sess session.Session, d *model.Dimension) error {
	if err := d.Validate(); err != nil {
		return err
	}

	attrJSON, err := json.Marshal(d.Attr)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}

	query := `
	INSERT INTO dimensions (
		local_id, remote_id, tenant, kind, name, attr, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(local_id) DO UPDATE SET
		remote_id  = excluded.remote_id,
		name       = excluded.name,
		attr       = excluded.attr,
		updated_at = excluded.updated_at
	`

	_, err = db.conn.ExecContext(ctx, query,
		d.LocalID,
		nullableText(d.RemoteID),
		sess.Tenant,
		string(d.Kind),
		d.Name,
		string(attrJSON),
		formatTime(d.CreatedAt),
		formatTime(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s %q: %w", d.Kind, d.Name, err)
	}
	return nil
}

// ListDimensions returns all records of one master-data kind, by name.
func (db *DB) ListDimensions(ctx context.Context, sess session.Session, kind model.DimensionKind) ([]*model.Dimension, error) {
	query := `SELECT ` + dimensionColumns + ` FROM dimensions
		WHERE tenant = ? AND kind = ? ORDER BY name`

	rows, err := db.conn.QueryContext(ctx, query, sess.Tenant, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", kind, err)
	}
	defer rows.Close()

	var dims []*model.Dimension
	for rows.Next() {
		d, err := scanDimension(rows)
		if err != nil {
			return nil, err
		}
		dims = append(dims, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s records: %w", kind, err)
	}
	return dims, nil
}

// FindDimensionByRemoteID looks up a master-data record by remote ID.
func (db *DB) FindDimensionByRemoteID(ctx context.Context, sess session.Session, remoteID string) (*model.Dimension, error) {
	if remoteID == "" {
		return nil, nil
	}
	query := `SELECT ` + dimensionColumns + ` FROM dimensions WHERE tenant = ? AND remote_id = ?`
	return db.scanOneDimension(db.conn.QueryRowContext(ctx, query, sess.Tenant, remoteID))
}

// FindDimensionByName looks up a master-data record by kind and name.
func (db *DB) FindDimensionByName(ctx context.Context, sess session.Session, kind model.DimensionKind, name string) (*model.Dimension, error) {
	query := `SELECT ` + dimensionColumns + ` FROM dimensions
		WHERE tenant = ? AND kind = ? AND name = ?`
	return db.scanOneDimension(db.conn.QueryRowContext(ctx, query, sess.Tenant, string(kind), name))
}

// DeleteDimension removes a master-data record. Returns false if absent.
func (db *DB) DeleteDimension(ctx context.Context, sess session.Session, localID string) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM dimensions WHERE tenant = ? AND local_id = ?`, sess.Tenant, localID)
	if err != nil {
		return false, fmt.Errorf("failed to delete dimension %s: %w", localID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CountDimensions returns the tenant's master-data record count across kinds.
func (db *DB) CountDimensions(ctx context.Context, sess session.Session) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dimensions WHERE tenant = ?`, sess.Tenant).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count dimensions: %w", err)
	}
	return count, nil
}

func (db *DB) scanOneDimension(row *sql.Row) (*model.Dimension, error) {
	d, err := scanDimension(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func scanDimension(row rowScanner) (*model.Dimension, error) {
	var d model.Dimension
	var remoteID, attrJSON sql.NullString
	var kind, createdAt, updatedAt string

	err := row.Scan(
		&d.LocalID,
		&remoteID,
		&kind,
		&d.Name,
		&attrJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan dimension: %w", err)
	}

	d.Kind = model.DimensionKind(kind)
	d.RemoteID = textOrEmpty(remoteID)
	if attrJSON.Valid && attrJSON.String != "" && attrJSON.String != "null" {
		if err := json.Unmarshal([]byte(attrJSON.String), &d.Attr); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
		}
	}
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return &d, nil
}
