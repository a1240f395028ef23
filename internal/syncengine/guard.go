package syncengine

import (
	"context"

	"github.com/waybill-app/waybill/internal/localstore"
	"github.com/waybill-app/waybill/internal/model"
	"github.com/waybill-app/waybill/internal/session"
)

// PullPolicy decides what a pull does when an incoming remote record
// matches an existing local one.
type PullPolicy string

const (
	// PolicySkip keeps the local record untouched. The default: local
	// edits survive a pull.
	PolicySkip PullPolicy = "skip"

	// PolicyOverwrite replaces local fields with the remote copy.
	PolicyOverwrite PullPolicy = "overwrite"
)

// Guard makes pulls idempotent. Incoming records are matched against local
// ones by remote ID first, then by identity (business key for shipments,
// canonical key plus ordinal for children, kind plus name for master data).
// A match is skipped or overwritten per policy; only unmatched records are
// created.
type Guard struct {
	local  *localstore.DB
	policy PullPolicy
}

func newGuard(local *localstore.DB, policy PullPolicy) *Guard {
	if policy == "" {
		policy = PolicySkip
	}
	return &Guard{local: local, policy: policy}
}

// EnsureShipment reconciles one remote shipment into the local store and
// returns the local record along with what happened to it.
func (g *Guard) EnsureShipment(ctx context.Context, sess session.Session, remote *model.Shipment) (*model.Shipment, Outcome, error) {
	existing, err := g.local.FindShipmentByRemoteID(ctx, sess, remote.RemoteID)
	if err != nil {
		return nil, "", err
	}
	if existing == nil {
		existing, err = g.local.FindShipmentByBusinessKey(ctx, sess, remote.PrimaryKey())
		if err != nil {
			return nil, "", err
		}
	}

	if existing == nil {
		created := *remote
		created.LocalID = ""
		created.SetDefaults()
		if err := g.local.UpsertShipment(ctx, sess, &created); err != nil {
			return nil, "", err
		}
		return &created, OutcomeCreated, nil
	}

	if g.policy == PolicySkip {
		// Record the remote linkage even when keeping local fields, so the
		// next pull matches by remote ID immediately.
		if existing.RemoteID == "" && remote.RemoteID != "" {
			existing.RemoteID = remote.RemoteID
			if err := g.local.UpsertShipment(ctx, sess, existing); err != nil {
				return nil, "", err
			}
		}
		return existing, OutcomeSkipped, nil
	}

	updated := *remote
	updated.LocalID = existing.LocalID
	updated.CreatedAt = existing.CreatedAt
	if err := g.local.UpsertShipment(ctx, sess, &updated); err != nil {
		return nil, "", err
	}
	return &updated, OutcomeUpdated, nil
}

// EnsureBox reconciles one remote box under its locally committed parent.
func (g *Guard) EnsureBox(ctx context.Context, sess session.Session, parent *model.Shipment, canonicalKey string, remote *model.Box) (*model.Box, Outcome, error) {
	existing, err := g.local.FindBoxByRemoteID(ctx, sess, remote.RemoteID)
	if err != nil {
		return nil, "", err
	}
	if existing == nil {
		// Match by position under the parent regardless of which business
		// key the local copy was stored under.
		siblings, err := g.local.ListBoxesByShipment(ctx, sess, parent.LocalID)
		if err != nil {
			return nil, "", err
		}
		for _, b := range siblings {
			if b.Ordinal == remote.Ordinal {
				existing = b
				break
			}
		}
	}

	if existing == nil {
		created := *remote
		created.LocalID = ""
		created.ShipmentID = parent.LocalID
		created.ParentKey = canonicalKey
		created.SetDefaults()
		if err := g.local.UpsertBox(ctx, sess, &created); err != nil {
			return nil, "", err
		}
		return &created, OutcomeCreated, nil
	}

	if g.policy == PolicySkip {
		if existing.RemoteID == "" && remote.RemoteID != "" {
			existing.RemoteID = remote.RemoteID
			if err := g.local.UpsertBox(ctx, sess, existing); err != nil {
				return nil, "", err
			}
		}
		return existing, OutcomeSkipped, nil
	}

	updated := *remote
	updated.LocalID = existing.LocalID
	updated.ShipmentID = parent.LocalID
	updated.ParentKey = canonicalKey
	updated.CreatedAt = existing.CreatedAt
	if err := g.local.UpsertBox(ctx, sess, &updated); err != nil {
		return nil, "", err
	}
	return &updated, OutcomeUpdated, nil
}

// EnsureProduct reconciles one remote product under its locally committed box.
func (g *Guard) EnsureProduct(ctx context.Context, sess session.Session, box *model.Box, canonicalKey string, remote *model.Product) (*model.Product, Outcome, error) {
	existing, err := g.local.FindProductByRemoteID(ctx, sess, remote.RemoteID)
	if err != nil {
		return nil, "", err
	}
	if existing == nil {
		siblings, err := g.local.ListProductsByBox(ctx, sess, box.LocalID)
		if err != nil {
			return nil, "", err
		}
		for _, p := range siblings {
			if p.Ordinal == remote.Ordinal {
				existing = p
				break
			}
		}
	}

	if existing == nil {
		created := *remote
		created.LocalID = ""
		created.BoxID = box.LocalID
		created.ParentKey = canonicalKey
		created.BoxOrdinal = box.Ordinal
		created.SetDefaults()
		if err := g.local.UpsertProduct(ctx, sess, &created); err != nil {
			return nil, "", err
		}
		return &created, OutcomeCreated, nil
	}

	if g.policy == PolicySkip {
		if existing.RemoteID == "" && remote.RemoteID != "" {
			existing.RemoteID = remote.RemoteID
			if err := g.local.UpsertProduct(ctx, sess, existing); err != nil {
				return nil, "", err
			}
		}
		return existing, OutcomeSkipped, nil
	}

	updated := *remote
	updated.LocalID = existing.LocalID
	updated.BoxID = box.LocalID
	updated.ParentKey = canonicalKey
	updated.BoxOrdinal = box.Ordinal
	updated.CreatedAt = existing.CreatedAt
	if err := g.local.UpsertProduct(ctx, sess, &updated); err != nil {
		return nil, "", err
	}
	return &updated, OutcomeUpdated, nil
}

// EnsureDimension reconciles one remote master-data record.
func (g *Guard) EnsureDimension(ctx context.Context, sess session.Session, remote *model.Dimension) (*model.Dimension, Outcome, error) {
	existing, err := g.local.FindDimensionByRemoteID(ctx, sess, remote.RemoteID)
	if err != nil {
		return nil, "", err
	}
	if existing == nil {
		existing, err = g.local.FindDimensionByName(ctx, sess, remote.Kind, remote.Name)
		if err != nil {
			return nil, "", err
		}
	}

	if existing == nil {
		created := *remote
		created.LocalID = ""
		created.SetDefaults()
		if err := g.local.UpsertDimension(ctx, sess, &created); err != nil {
			return nil, "", err
		}
		return &created, OutcomeCreated, nil
	}

	if g.policy == PolicySkip {
		if existing.RemoteID == "" && remote.RemoteID != "" {
			existing.RemoteID = remote.RemoteID
			if err := g.local.UpsertDimension(ctx, sess, existing); err != nil {
				return nil, "", err
			}
		}
		return existing, OutcomeSkipped, nil
	}

	updated := *remote
	updated.LocalID = existing.LocalID
	updated.CreatedAt = existing.CreatedAt
	if err := g.local.UpsertDimension(ctx, sess, &updated); err != nil {
		return nil, "", err
	}
	return &updated, OutcomeUpdated, nil
}
