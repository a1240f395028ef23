package syncengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/waybill-app/waybill/internal/model"
	"github.com/waybill-app/waybill/internal/session"
)

// DeleteResult reports the two halves of a dual delete. The local half is
// authoritative: LocalDeleted false with a nil RemoteErr means the record
// was not there. A remote failure leaves the local delete standing; the
// orphaned remote copy is reported, not resurrected.
type DeleteResult struct {
	LocalDeleted  bool
	RemoteDeleted bool
	RemoteErr     error
}

// DeleteShipment removes a shipment locally (cascading to its boxes and
// products) and best-effort removes the remote copies. The remote shipment
// record is deleted under every business key it may be stored under, and
// children under the canonical key.
func (e *Engine) DeleteShipment(ctx context.Context, sess session.Session, localID string) (*DeleteResult, error) {
	s, err := e.local.GetShipment(ctx, sess, localID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return &DeleteResult{}, nil
	}

	unlock := e.locks.Lock(sess.Tenant + "/" + s.PrimaryKey())
	defer unlock()

	// Resolve before the local rows (and the persisted canonical key)
	// disappear in the cascade.
	key, err := e.resolver.Resolve(ctx, sess, s)
	if err != nil {
		var aerr *AmbiguousIdentityError
		if !errors.As(err, &aerr) {
			return nil, err
		}
		e.config.Logger.Printf("delete: %v", aerr)
	}
	keys := s.BusinessKeys()

	boxes, err := e.BoxesFor(ctx, sess, s)
	if err != nil {
		return nil, err
	}

	deleted, err := e.local.DeleteShipment(ctx, sess, localID)
	if err != nil {
		return nil, fmt.Errorf("local delete failed for shipment %s: %w", s.PrimaryKey(), err)
	}
	result := &DeleteResult{LocalDeleted: deleted}

	if !e.monitor.Online() {
		result.RemoteErr = fmt.Errorf("remote delete skipped: offline")
		return result, nil
	}

	result.RemoteErr = e.deleteRemoteShipment(ctx, sess, keys, key, boxes)
	result.RemoteDeleted = result.RemoteErr == nil
	return result, nil
}

func (e *Engine) deleteRemoteShipment(ctx context.Context, sess session.Session, keys []string, canonicalKey string, boxes []*model.Box) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, b := range boxes {
		rctx, cancel := e.remoteCtx(ctx)
		products, err := e.remote.ListProducts(rctx, sess, canonicalKey, b.Ordinal)
		cancel()
		if err != nil {
			record(err)
			continue
		}
		for _, p := range products {
			rctx, cancel := e.remoteCtx(ctx)
			_, err := e.remote.DeleteProduct(rctx, sess, canonicalKey, b.Ordinal, p.Ordinal)
			cancel()
			record(err)
		}
		rctx, cancel = e.remoteCtx(ctx)
		_, err = e.remote.DeleteBox(rctx, sess, canonicalKey, b.Ordinal)
		cancel()
		record(err)
	}

	// The shipment record itself may sit under either key.
	for _, key := range keys {
		rctx, cancel := e.remoteCtx(ctx)
		_, err := e.remote.DeleteShipment(rctx, sess, key)
		cancel()
		record(err)
	}
	return firstErr
}

// DeleteBox removes a box and its products locally, then best-effort
// removes the remote copies.
func (e *Engine) DeleteBox(ctx context.Context, sess session.Session, s *model.Shipment, boxLocalID string) (*DeleteResult, error) {
	boxes, err := e.local.ListBoxesByShipment(ctx, sess, s.LocalID)
	if err != nil {
		return nil, err
	}
	var box *model.Box
	for _, candidate := range boxes {
		if candidate.LocalID == boxLocalID {
			box = candidate
			break
		}
	}
	if box == nil {
		return &DeleteResult{}, nil
	}

	unlock := e.locks.Lock(sess.Tenant + "/" + s.PrimaryKey())
	defer unlock()

	key, err := e.resolveForWrite(ctx, sess, s)
	if err != nil {
		return nil, err
	}

	deleted, err := e.local.DeleteBox(ctx, sess, boxLocalID)
	if err != nil {
		return nil, fmt.Errorf("local delete failed for box %s/%d: %w", key, box.Ordinal, err)
	}
	result := &DeleteResult{LocalDeleted: deleted}

	if !e.monitor.Online() {
		result.RemoteErr = fmt.Errorf("remote delete skipped: offline")
		return result, nil
	}

	rctx, cancel := e.remoteCtx(ctx)
	defer cancel()
	removed, err := e.remote.DeleteBox(rctx, sess, key, box.Ordinal)
	result.RemoteDeleted = removed
	result.RemoteErr = err
	return result, nil
}

// DeleteProduct removes a product locally, then best-effort removes the
// remote copy.
func (e *Engine) DeleteProduct(ctx context.Context, sess session.Session, s *model.Shipment, b *model.Box, productLocalID string) (*DeleteResult, error) {
	products, err := e.local.ListProductsByBox(ctx, sess, b.LocalID)
	if err != nil {
		return nil, err
	}
	var product *model.Product
	for _, candidate := range products {
		if candidate.LocalID == productLocalID {
			product = candidate
			break
		}
	}
	if product == nil {
		return &DeleteResult{}, nil
	}

	unlock := e.locks.Lock(sess.Tenant + "/" + s.PrimaryKey())
	defer unlock()

	key, err := e.resolveForWrite(ctx, sess, s)
	if err != nil {
		return nil, err
	}

	deleted, err := e.local.DeleteProduct(ctx, sess, productLocalID)
	if err != nil {
		return nil, fmt.Errorf("local delete failed for product %s/%d/%d: %w", key, b.Ordinal, product.Ordinal, err)
	}
	result := &DeleteResult{LocalDeleted: deleted}

	if !e.monitor.Online() {
		result.RemoteErr = fmt.Errorf("remote delete skipped: offline")
		return result, nil
	}

	rctx, cancel := e.remoteCtx(ctx)
	defer cancel()
	removed, err := e.remote.DeleteProduct(rctx, sess, key, b.Ordinal, product.Ordinal)
	result.RemoteDeleted = removed
	result.RemoteErr = err
	return result, nil
}

// DeleteDimension removes a master-data record locally, then best-effort
// removes the remote copy.
func (e *Engine) DeleteDimension(ctx context.Context, sess session.Session, kind model.DimensionKind, name string) (*DeleteResult, error) {
	d, err := e.local.FindDimensionByName(ctx, sess, kind, name)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return &DeleteResult{}, nil
	}

	unlock := e.locks.Lock(sess.Tenant + "/dim/" + string(kind) + "/" + name)
	defer unlock()

	deleted, err := e.local.DeleteDimension(ctx, sess, d.LocalID)
	if err != nil {
		return nil, fmt.Errorf("local delete failed for %s %q: %w", kind, name, err)
	}
	result := &DeleteResult{LocalDeleted: deleted}

	if !e.monitor.Online() {
		result.RemoteErr = fmt.Errorf("remote delete skipped: offline")
		return result, nil
	}

	rctx, cancel := e.remoteCtx(ctx)
	defer cancel()
	removed, err := e.remote.DeleteDimension(rctx, sess, kind, name)
	result.RemoteDeleted = removed
	result.RemoteErr = err
	return result, nil
}
