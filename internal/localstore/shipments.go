package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/waybill-app/waybill/internal/model"
	"github.com/waybill-app/waybill/internal/session"
)

const shipmentColumns = `local_id, remote_id, invoice_no, awb_no, shipper_id,
	consignee_id, origin, destination, status, created_at, updated_at`

// UpsertShipment inserts or updates a shipment by LocalID.
func (db *DB) UpsertShipment(ctx context.Context, sess session.Session, s *model.Shipment) error {
	if err := s.Validate(); err != nil {
		return err
	}

	query := `
	INSERT INTO shipments (
		local_id, remote_id, tenant, invoice_no, awb_no, shipper_id,
		consignee_id, origin, destination, status, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(local_id) DO UPDATE SET
		remote_id    = excluded.remote_id,
		invoice_no   = excluded.invoice_no,
		awb_no       = excluded.awb_no,
		shipper_id   = excluded.shipper_id,
		consignee_id = excluded.consignee_id,
		origin       = excluded.origin,
		destination  = excluded.destination,
		status       = excluded.status,
		updated_at   = excluded.updated_at
	`

	_, err := db.conn.ExecContext(ctx, query,
		s.LocalID,
		nullableText(s.RemoteID),
		sess.Tenant,
		nullableText(s.InvoiceNo),
		nullableText(s.AWBNo),
		nullableText(s.ShipperID),
		nullableText(s.ConsigneeID),
		nullableText(s.Origin),
		nullableText(s.Destination),
		s.Status,
		formatTime(s.CreatedAt),
		formatTime(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert shipment %s: %w", s.PrimaryKey(), err)
	}
	return nil
}

// GetShipment looks up a shipment by LocalID. Returns (nil, nil) if absent.
func (db *DB) GetShipment(ctx context.Context, sess session.Session, localID string) (*model.Shipment, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE tenant = ? AND local_id = ?`
	return db.scanOneShipment(db.conn.QueryRowContext(ctx, query, sess.Tenant, localID))
}

// FindShipmentByRemoteID looks up a shipment by its remote identifier.
// Returns (nil, nil) if absent.
func (db *DB) FindShipmentByRemoteID(ctx context.Context, sess session.Session, remoteID string) (*model.Shipment, error) {
	if remoteID == "" {
		return nil, nil
	}
	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE tenant = ? AND remote_id = ?`
	return db.scanOneShipment(db.conn.QueryRowContext(ctx, query, sess.Tenant, remoteID))
}

// FindShipmentByBusinessKey looks up a shipment by either business key.
// Returns (nil, nil) if absent.
func (db *DB) FindShipmentByBusinessKey(ctx context.Context, sess session.Session, key string) (*model.Shipment, error) {
	if key == "" {
		return nil, nil
	}
	query := `SELECT ` + shipmentColumns + ` FROM shipments
		WHERE tenant = ? AND (invoice_no = ? OR awb_no = ?)`
	return db.scanOneShipment(db.conn.QueryRowContext(ctx, query, sess.Tenant, key, key))
}

// ShipmentFilter narrows ListShipments results.
type ShipmentFilter struct {
	Status string // empty = all
	Limit  int    // 0 = no limit
}

// ListShipments returns the tenant's shipments, newest first.
func (db *DB) ListShipments(ctx context.Context, sess session.Session, filter ShipmentFilter) ([]*model.Shipment, error) {
	conditions := []string{"tenant = ?"}
	args := []interface{}{sess.Tenant}

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + shipmentColumns + ` FROM shipments
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY created_at DESC, local_id`

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list shipments: %w", err)
	}
	defer rows.Close()

	var shipments []*model.Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		shipments = append(shipments, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shipments: %w", err)
	}
	return shipments, nil
}

// DeleteShipment removes a shipment and, via cascade, its boxes, products
// and canonical-key entry. Returns false if no row matched.
func (db *DB) DeleteShipment(ctx context.Context, sess session.Session, localID string) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM shipments WHERE tenant = ? AND local_id = ?`, sess.Tenant, localID)
	if err != nil {
		return false, fmt.Errorf("failed to delete shipment %s: %w", localID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CountShipments returns the tenant's shipment count.
func (db *DB) CountShipments(ctx context.Context, sess session.Session) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM shipments WHERE tenant = ?`, sess.Tenant).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count shipments: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (db *DB) scanOneShipment(row *sql.Row) (*model.Shipment, error) {
	s, err := scanShipment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func scanShipment(row rowScanner) (*model.Shipment, error) {
	var s model.Shipment
	var remoteID, invoiceNo, awbNo, shipperID, consigneeID, origin, destination sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&s.LocalID,
		&remoteID,
		&invoiceNo,
		&awbNo,
		&shipperID,
		&consigneeID,
		&origin,
		&destination,
		&s.Status,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan shipment: %w", err)
	}

	s.RemoteID = textOrEmpty(remoteID)
	s.InvoiceNo = textOrEmpty(invoiceNo)
	s.AWBNo = textOrEmpty(awbNo)
	s.ShipperID = textOrEmpty(shipperID)
	s.ConsigneeID = textOrEmpty(consigneeID)
	s.Origin = textOrEmpty(origin)
	s.Destination = textOrEmpty(destination)
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return &s, nil
}
