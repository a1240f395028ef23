package syncengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/waybill-app/waybill/internal/model"
	"github.com/waybill-app/waybill/internal/remotestore"
	"github.com/waybill-app/waybill/internal/session"
)

// Pull fetches the tenant's remote data into the local store. The pass is
// idempotent: records already present locally are matched by remote ID or
// identity and skipped or overwritten per the pull policy, never
// duplicated. A single bad record is counted and skipped; the pass keeps
// going and the report says what happened.
//
// Pull returns an error only when nothing could be synced at all (the
// initial remote listing failed). Per-item failures surface in the report.
func (e *Engine) Pull(ctx context.Context, sess session.Session) (*Report, error) {
	if !sess.Valid() {
		return nil, fmt.Errorf("invalid session %q", sess)
	}
	e.resolver.Reset()
	report := newReport()
	defer report.finish()

	if err := e.pullShipments(ctx, sess, report); err != nil {
		return report, err
	}
	e.pullDimensions(ctx, sess, report)
	return report, nil
}

func (e *Engine) pullDimensions(ctx context.Context, sess session.Session, report *Report) {
	e.progress("syncing reference data", 0, 0)

	done := 0
	for _, kind := range model.DimensionKinds {
		rctx, cancel := e.remoteCtx(ctx)
		dims, err := e.remote.ListDimensions(rctx, sess, kind)
		cancel()
		if err != nil {
			// Shipments already synced; a broken dimension listing is a
			// partial failure, not grounds to abort the pass.
			e.config.Logger.Printf("pull: failed to list remote %s records: %v", kind, err)
			report.fail("dimensions", string(kind))
			continue
		}

		for _, d := range dims {
			_, outcome, err := e.guard.EnsureDimension(ctx, sess, d)
			if err != nil {
				e.config.Logger.Printf("pull: %s %q failed: %v", kind, d.Name, err)
				report.fail("dimensions", string(kind)+"/"+d.Name)
				continue
			}
			report.add("dimensions", outcome)
			done++
			e.progress("syncing reference data", done, 0)
		}
	}
}

func (e *Engine) pullShipments(ctx context.Context, sess session.Session, report *Report) error {
	rctx, cancel := e.remoteCtx(ctx)
	shipments, err := e.remote.ListShipments(rctx, sess)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to list remote shipments: %w", err)
	}

	e.progress("syncing shipments", 0, len(shipments))
	for i, remote := range shipments {
		if err := ctx.Err(); err != nil {
			return err
		}
		local, outcome, err := e.guard.EnsureShipment(ctx, sess, remote)
		if err != nil {
			e.config.Logger.Printf("pull: shipment %s failed: %v", remote.PrimaryKey(), err)
			report.fail("shipments", remote.PrimaryKey())
			continue
		}
		report.add("shipments", outcome)
		e.progress("syncing shipments", i+1, len(shipments))

		if err := e.pullChildren(ctx, sess, local, report); err != nil {
			// Children of this shipment could not be fetched; the shipment
			// itself is committed, so count and continue.
			e.config.Logger.Printf("pull: children of %s failed: %v", local.PrimaryKey(), err)
			report.fail("boxes", local.PrimaryKey())
		}
	}
	return nil
}

func (e *Engine) pullChildren(ctx context.Context, sess session.Session, parent *model.Shipment, report *Report) error {
	key, err := e.resolver.Resolve(ctx, sess, parent)
	if err != nil {
		var aerr *AmbiguousIdentityError
		if !errors.As(err, &aerr) {
			return err
		}
		report.ambiguous(parent.PrimaryKey())
		e.config.Logger.Printf("pull: %v", aerr)
	}

	rctx, cancel := e.remoteCtx(ctx)
	boxes, err := e.remote.ListBoxes(rctx, sess, key)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to list boxes under %s: %w", key, err)
	}

	e.progress("syncing boxes", 0, len(boxes))
	for i, remoteBox := range boxes {
		localBox, outcome, err := e.guard.EnsureBox(ctx, sess, parent, key, remoteBox)
		if err != nil {
			e.config.Logger.Printf("pull: box %s/%d failed: %v", key, remoteBox.Ordinal, err)
			report.fail("boxes", fmt.Sprintf("%s/%d", key, remoteBox.Ordinal))
			continue
		}
		report.add("boxes", outcome)
		e.progress("syncing boxes", i+1, len(boxes))

		if err := e.pullProducts(ctx, sess, localBox, key, report); err != nil {
			e.config.Logger.Printf("pull: products of %s/%d failed: %v", key, localBox.Ordinal, err)
			report.fail("products", fmt.Sprintf("%s/%d", key, localBox.Ordinal))
		}
	}
	return nil
}

func (e *Engine) pullProducts(ctx context.Context, sess session.Session, box *model.Box, key string, report *Report) error {
	rctx, cancel := e.remoteCtx(ctx)
	products, err := e.remote.ListProducts(rctx, sess, key, box.Ordinal)
	cancel()
	if err != nil {
		return err
	}

	e.progress("syncing products", 0, len(products))
	for i, remoteProduct := range products {
		_, outcome, err := e.guard.EnsureProduct(ctx, sess, box, key, remoteProduct)
		if err != nil {
			e.config.Logger.Printf("pull: product %s/%d/%d failed: %v", key, box.Ordinal, remoteProduct.Ordinal, err)
			report.fail("products", fmt.Sprintf("%s/%d/%d", key, box.Ordinal, remoteProduct.Ordinal))
			continue
		}
		report.add("products", outcome)
		e.progress("syncing products", i+1, len(products))
	}
	return nil
}

// ensureOnline reports whether the remote is worth contacting at all.
func (e *Engine) ensureOnline() error {
	if !e.monitor.Online() {
		return remotestore.ErrUnavailable
	}
	return nil
}
