package syncengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/waybill-app/waybill/internal/localstore"
	"github.com/waybill-app/waybill/internal/model"
	"github.com/waybill-app/waybill/internal/session"
)

// Push uploads the tenant's local data to the remote store. Every local
// record is attempted; a failed upload is counted, left queued, and does
// not stop the pass. Records that reach the remote get their remote IDs
// written back locally, and their pending-queue entries are drained.
func (e *Engine) Push(ctx context.Context, sess session.Session) (*Report, error) {
	if !sess.Valid() {
		return nil, fmt.Errorf("invalid session %q", sess)
	}
	if err := e.ensureOnline(); err != nil {
		return nil, fmt.Errorf("push aborted: %w", err)
	}
	e.resolver.Reset()
	report := newReport()
	defer report.finish()

	e.pushDimensions(ctx, sess, report)
	e.pushShipments(ctx, sess, report)
	return report, nil
}

func (e *Engine) pushDimensions(ctx context.Context, sess session.Session, report *Report) {
	e.progress("syncing reference data", 0, 0)

	done := 0
	for _, kind := range model.DimensionKinds {
		dims, err := e.local.ListDimensions(ctx, sess, kind)
		if err != nil {
			e.config.Logger.Printf("push: failed to list local %s records: %v", kind, err)
			report.fail("dimensions", string(kind))
			continue
		}

		for _, d := range dims {
			rctx, cancel := e.remoteCtx(ctx)
			remoteID, err := e.remote.UpsertDimension(rctx, sess, d)
			cancel()
			if err != nil {
				e.config.Logger.Printf("push: %s %q failed: %v", kind, d.Name, err)
				report.fail("dimensions", string(kind)+"/"+d.Name)
				continue
			}
			if d.RemoteID != remoteID {
				d.RemoteID = remoteID
				if err := e.local.UpsertDimension(ctx, sess, d); err != nil {
					e.config.Logger.Printf("push: failed to record remote ID for %s %q: %v", kind, d.Name, err)
				}
			}
			e.drainPending(ctx, sess, "dimensions", d.LocalID)
			report.add("dimensions", OutcomeUpdated)
			done++
			e.progress("syncing reference data", done, 0)
		}
	}
}

func (e *Engine) pushShipments(ctx context.Context, sess session.Session, report *Report) {
	shipments, err := e.local.ListShipments(ctx, sess, localstore.ShipmentFilter{})
	if err != nil {
		e.config.Logger.Printf("push: failed to list local shipments: %v", err)
		report.fail("shipments", "all")
		return
	}

	e.progress("syncing shipments", 0, len(shipments))
	for i, s := range shipments {
		if ctx.Err() != nil {
			return
		}
		if err := e.pushShipment(ctx, sess, s, report); err != nil {
			e.config.Logger.Printf("push: shipment %s failed: %v", s.PrimaryKey(), err)
			report.fail("shipments", s.PrimaryKey())
			continue
		}
		report.add("shipments", OutcomeUpdated)
		e.progress("syncing shipments", i+1, len(shipments))
	}
}

func (e *Engine) pushShipment(ctx context.Context, sess session.Session, s *model.Shipment, report *Report) error {
	unlock := e.locks.Lock(sess.Tenant + "/" + s.PrimaryKey())
	defer unlock()

	key, err := e.resolver.Resolve(ctx, sess, s)
	if err != nil {
		var aerr *AmbiguousIdentityError
		if !errors.As(err, &aerr) {
			return err
		}
		report.ambiguous(s.PrimaryKey())
		e.config.Logger.Printf("push: %v", aerr)
	}

	rctx, cancel := e.remoteCtx(ctx)
	remoteID, err := e.remote.UpsertShipment(rctx, sess, s)
	cancel()
	if err != nil {
		return err
	}
	if s.RemoteID != remoteID {
		s.RemoteID = remoteID
		if err := e.local.UpsertShipment(ctx, sess, s); err != nil {
			return fmt.Errorf("failed to record remote ID: %w", err)
		}
	}
	e.drainPending(ctx, sess, "shipments", s.LocalID)

	boxes, err := e.BoxesFor(ctx, sess, s)
	if err != nil {
		return err
	}
	for _, b := range boxes {
		if err := e.pushBox(ctx, sess, key, b, report); err != nil {
			e.config.Logger.Printf("push: box %s/%d failed: %v", key, b.Ordinal, err)
			report.fail("boxes", fmt.Sprintf("%s/%d", key, b.Ordinal))
			continue
		}
		report.add("boxes", OutcomeUpdated)
	}
	return nil
}

func (e *Engine) pushBox(ctx context.Context, sess session.Session, key string, b *model.Box, report *Report) error {
	rctx, cancel := e.remoteCtx(ctx)
	remoteID, err := e.remote.UpsertBox(rctx, sess, key, b)
	cancel()
	if err != nil {
		return err
	}
	if b.RemoteID != remoteID || b.ParentKey != key {
		b.RemoteID = remoteID
		b.ParentKey = key
		if err := e.local.UpsertBox(ctx, sess, b); err != nil {
			return fmt.Errorf("failed to record remote ID: %w", err)
		}
	}
	e.drainPending(ctx, sess, "boxes", b.LocalID)

	products, err := e.local.ListProductsByBox(ctx, sess, b.LocalID)
	if err != nil {
		return err
	}
	for _, p := range products {
		rctx, cancel := e.remoteCtx(ctx)
		remoteID, err := e.remote.UpsertProduct(rctx, sess, key, p)
		cancel()
		if err != nil {
			e.config.Logger.Printf("push: product %s/%d/%d failed: %v", key, b.Ordinal, p.Ordinal, err)
			report.fail("products", fmt.Sprintf("%s/%d/%d", key, b.Ordinal, p.Ordinal))
			continue
		}
		if p.RemoteID != remoteID || p.ParentKey != key {
			p.RemoteID = remoteID
			p.ParentKey = key
			if err := e.local.UpsertProduct(ctx, sess, p); err != nil {
				e.config.Logger.Printf("push: failed to record remote ID for product %s/%d/%d: %v", key, b.Ordinal, p.Ordinal, err)
			}
		}
		e.drainPending(ctx, sess, "products", p.LocalID)
		report.add("products", OutcomeUpdated)
	}
	return nil
}

func (e *Engine) drainPending(ctx context.Context, sess session.Session, collection, localID string) {
	if err := e.local.ClearPending(ctx, sess, collection, localID); err != nil {
		e.config.Logger.Printf("push: failed to drain pending entry %s/%s: %v", collection, localID, err)
	}
}
