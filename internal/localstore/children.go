package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/waybill-app/waybill/internal/model"
	"github.com/waybill-app/waybill/internal/session"
)

const boxColumns = `local_id, remote_id, shipment_id, parent_key, ordinal,
	weight_kg, length_cm, width_cm, height_cm, created_at, updated_at`

const productColumns = `local_id, remote_id, box_id, parent_key, box_ordinal,
	ordinal, description, kind_id, quantity, unit_value, created_at, updated_at`

// UpsertBox inserts or updates a box. The referenced shipment must already
// be committed locally; the insert fails otherwise.
func (db *DB) UpsertBox(ctx context.Context, sess session.Session, b *model.Box) error {
	if err := b.Validate(); err != nil {
		return err
	}

	query := `
	INSERT INTO boxes (
		local_id, remote_id, tenant, shipment_id, parent_key, ordinal,
		weight_kg, length_cm, width_cm, height_cm, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(local_id) DO UPDATE SET
		remote_id  = excluded.remote_id,
		parent_key = excluded.parent_key,
		ordinal    = excluded.ordinal,
		weight_kg  = excluded.weight_kg,
		length_cm  = excluded.length_cm,
		width_cm   = excluded.width_cm,
		height_cm  = excluded.height_cm,
		updated_at = excluded.updated_at
	`

	_, err := db.conn.ExecContext(ctx, query,
		b.LocalID,
		nullableText(b.RemoteID),
		sess.Tenant,
		b.ShipmentID,
		b.ParentKey,
		b.Ordinal,
		b.WeightKg,
		b.LengthCm,
		b.WidthCm,
		b.HeightCm,
		formatTime(b.CreatedAt),
		formatTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert box %s/%d: %w", b.ParentKey, b.Ordinal, err)
	}
	return nil
}

// ListBoxesByShipment returns a shipment's boxes in ordinal order.
func (db *DB) ListBoxesByShipment(ctx context.Context, sess session.Session, shipmentID string) ([]*model.Box, error) {
	query := `SELECT ` + boxColumns + ` FROM boxes
		WHERE tenant = ? AND shipment_id = ? ORDER BY ordinal`
	return db.queryBoxes(ctx, query, sess.Tenant, shipmentID)
}

// ListBoxesByParentKey returns the boxes stored under a business key.
// Earlier write paths may have used either of a shipment's business keys,
// so readers probe keys in order rather than assuming one.
func (db *DB) ListBoxesByParentKey(ctx context.Context, sess session.Session, parentKey string) ([]*model.Box, error) {
	query := `SELECT ` + boxColumns + ` FROM boxes
		WHERE tenant = ? AND parent_key = ? ORDER BY ordinal`
	return db.queryBoxes(ctx, query, sess.Tenant, parentKey)
}

// FindBoxByRemoteID looks up a box by remote identifier. (nil, nil) if absent.
func (db *DB) FindBoxByRemoteID(ctx context.Context, sess session.Session, remoteID string) (*model.Box, error) {
	if remoteID == "" {
		return nil, nil
	}
	query := `SELECT ` + boxColumns + ` FROM boxes WHERE tenant = ? AND remote_id = ?`
	return db.scanOneBox(db.conn.QueryRowContext(ctx, query, sess.Tenant, remoteID))
}

// FindBoxByOrdinal looks up a box by canonical key and ordinal position.
// (nil, nil) if absent.
func (db *DB) FindBoxByOrdinal(ctx context.Context, sess session.Session, parentKey string, ordinal int) (*model.Box, error) {
	query := `SELECT ` + boxColumns + ` FROM boxes
		WHERE tenant = ? AND parent_key = ? AND ordinal = ?`
	return db.scanOneBox(db.conn.QueryRowContext(ctx, query, sess.Tenant, parentKey, ordinal))
}

// DeleteBox removes a box and its products. Returns false if absent.
func (db *DB) DeleteBox(ctx context.Context, sess session.Session, localID string) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM boxes WHERE tenant = ? AND local_id = ?`, sess.Tenant, localID)
	if err != nil {
		return false, fmt.Errorf("failed to delete box %s: %w", localID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CountBoxes returns the tenant's box count.
func (db *DB) CountBoxes(ctx context.Context, sess session.Session) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM boxes WHERE tenant = ?`, sess.Tenant).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count boxes: %w", err)
	}
	return count, nil
}

func (db *DB) queryBoxes(ctx context.Context, query string, args ...interface{}) ([]*model.Box, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query boxes: %w", err)
	}
	defer rows.Close()

	var boxes []*model.Box
	for rows.Next() {
		b, err := scanBox(rows)
		if err != nil {
			return nil, err
		}
		boxes = append(boxes, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating boxes: %w", err)
	}
	return boxes, nil
}

func (db *DB) scanOneBox(row *sql.Row) (*model.Box, error) {
	b, err := scanBox(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func scanBox(row rowScanner) (*model.Box, error) {
	var b model.Box
	var remoteID sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&b.LocalID,
		&remoteID,
		&b.ShipmentID,
		&b.ParentKey,
		&b.Ordinal,
		&b.WeightKg,
		&b.LengthCm,
		&b.WidthCm,
		&b.HeightCm,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan box: %w", err)
	}

	b.RemoteID = textOrEmpty(remoteID)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

// UpsertProduct inserts or updates a product. The referenced box must
// already be committed locally.
func (db *DB) UpsertProduct(ctx context.Context, sess session.Session, p *model.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}

	query := `
	INSERT INTO products (
		local_id, remote_id, tenant, box_id, parent_key, box_ordinal,
		ordinal, description, kind_id, quantity, unit_value, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(local_id) DO UPDATE SET
		remote_id   = excluded.remote_id,
		parent_key  = excluded.parent_key,
		box_ordinal = excluded.box_ordinal,
		ordinal     = excluded.ordinal,
		description = excluded.description,
		kind_id     = excluded.kind_id,
		quantity    = excluded.quantity,
		unit_value  = excluded.unit_value,
		updated_at  = excluded.updated_at
	`

	_, err := db.conn.ExecContext(ctx, query,
		p.LocalID,
		nullableText(p.RemoteID),
		sess.Tenant,
		p.BoxID,
		p.ParentKey,
		p.BoxOrdinal,
		p.Ordinal,
		p.Description,
		nullableText(p.KindID),
		p.Quantity,
		p.UnitValue,
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert product %s/%d/%d: %w", p.ParentKey, p.BoxOrdinal, p.Ordinal, err)
	}
	return nil
}

// ListProductsByBox returns a box's products in ordinal order.
func (db *DB) ListProductsByBox(ctx context.Context, sess session.Session, boxID string) ([]*model.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products
		WHERE tenant = ? AND box_id = ? ORDER BY ordinal`
	return db.queryProducts(ctx, query, sess.Tenant, boxID)
}

// ListProductsByParentKey returns the products stored under a business key
// for one box position.
func (db *DB) ListProductsByParentKey(ctx context.Context, sess session.Session, parentKey string, boxOrdinal int) ([]*model.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products
		WHERE tenant = ? AND parent_key = ? AND box_ordinal = ? ORDER BY ordinal`
	return db.queryProducts(ctx, query, sess.Tenant, parentKey, boxOrdinal)
}

// FindProductByRemoteID looks up a product by remote identifier.
func (db *DB) FindProductByRemoteID(ctx context.Context, sess session.Session, remoteID string) (*model.Product, error) {
	if remoteID == "" {
		return nil, nil
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE tenant = ? AND remote_id = ?`
	return db.scanOneProduct(db.conn.QueryRowContext(ctx, query, sess.Tenant, remoteID))
}

// FindProductByOrdinal looks up a product by canonical key, box ordinal and
// its own ordinal position.
func (db *DB) FindProductByOrdinal(ctx context.Context, sess session.Session, parentKey string, boxOrdinal, ordinal int) (*model.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products
		WHERE tenant = ? AND parent_key = ? AND box_ordinal = ? AND ordinal = ?`
	return db.scanOneProduct(db.conn.QueryRowContext(ctx, query, sess.Tenant, parentKey, boxOrdinal, ordinal))
}

// DeleteProduct removes a product. Returns false if absent.
func (db *DB) DeleteProduct(ctx context.Context, sess session.Session, localID string) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM products WHERE tenant = ? AND local_id = ?`, sess.Tenant, localID)
	if err != nil {
		return false, fmt.Errorf("failed to delete product %s: %w", localID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CountProducts returns the tenant's product count.
func (db *DB) CountProducts(ctx context.Context, sess session.Session) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE tenant = ?`, sess.Tenant).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return count, nil
}

func (db *DB) queryProducts(ctx context.Context, query string, args ...interface{}) ([]*model.Product, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []*model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}
	return products, nil
}

func (db *DB) scanOneProduct(row *sql.Row) (*model.Product, error) {
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func scanProduct(row rowScanner) (*model.Product, error) {
	var p model.Product
	var remoteID, kindID sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&p.LocalID,
		&remoteID,
		&p.BoxID,
		&p.ParentKey,
		&p.BoxOrdinal,
		&p.Ordinal,
		&p.Description,
		&kindID,
		&p.Quantity,
		&p.UnitValue,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}

	p.RemoteID = textOrEmpty(remoteID)
	p.KindID = textOrEmpty(kindID)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}
