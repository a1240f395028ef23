package syncengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/waybill-app/waybill/internal/localstore"
	"github.com/waybill-app/waybill/internal/model"
	"github.com/waybill-app/waybill/internal/remotestore"
	"github.com/waybill-app/waybill/internal/session"
)

// Resolver determines which of a shipment's business keys its children are
// stored under remotely. Two write paths existed historically, one keying
// children by invoice number and one by AWB number, so the resolver probes
// the invoice key first and falls back to the AWB key.
//
// Resolutions are cached per pass and, once definitive, persisted so later
// passes skip the probes entirely. A resolution reached while the remote
// was unreachable is NOT definitive: the engine uses the invoice-number
// fallback for the pass and re-probes next time.
//
// Safe for concurrent use: a background pass may resolve one shipment while
// a write-through resolves another.
type Resolver struct {
	local   *localstore.DB
	remote  remotestore.Store
	timeout time.Duration

	mu    sync.Mutex
	cache map[string]string // shipment LocalID -> canonical key, this pass only
}

func newResolver(local *localstore.DB, remote remotestore.Store, timeout time.Duration) *Resolver {
	return &Resolver{
		local:   local,
		remote:  remote,
		timeout: timeout,
		cache:   make(map[string]string),
	}
}

// Reset clears the per-pass cache. Called at the start of each pull/push so
// a key resolved under failure conditions is not reused across passes.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.cache = make(map[string]string)
	r.mu.Unlock()
}

func (r *Resolver) cached(shipmentID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.cache[shipmentID]
	return key, ok
}

func (r *Resolver) remember(shipmentID, key string) {
	r.mu.Lock()
	r.cache[shipmentID] = key
	r.mu.Unlock()
}

// Resolve returns the canonical business key for a locally committed
// shipment. When the probes fail transiently it returns the invoice-number
// fallback together with an *AmbiguousIdentityError; the key is usable for
// this pass but must not be treated as settled.
func (r *Resolver) Resolve(ctx context.Context, sess session.Session, s *model.Shipment) (string, error) {
	keys := s.BusinessKeys()
	if len(keys) == 0 {
		return "", &model.ValidationError{Entity: "shipment", Key: s.LocalID, Reason: "no business key to resolve"}
	}

	if key, ok := r.cached(s.LocalID); ok {
		return key, nil
	}

	if key, err := r.local.CanonicalKey(ctx, sess, s.LocalID); err != nil {
		return "", fmt.Errorf("failed to load persisted canonical key: %w", err)
	} else if key != "" {
		r.remember(s.LocalID, key)
		return key, nil
	}

	// Only one key exists, so there is nothing to disambiguate.
	if len(keys) == 1 {
		return r.settle(ctx, sess, s.LocalID, keys[0])
	}

	key, err := r.probe(ctx, sess, keys)
	if err != nil {
		// Transient failure: fall back to the primary key for this pass
		// without persisting or probing again until Reset.
		fallback := keys[0]
		r.remember(s.LocalID, fallback)
		return fallback, &AmbiguousIdentityError{ShipmentKey: s.PrimaryKey(), Cause: err}
	}
	return r.settle(ctx, sess, s.LocalID, key)
}

// probe checks each candidate key for remotely stored children, in order.
// Both keys empty means the shipment has no children yet anywhere, in which
// case the primary key is chosen definitively. Each probe carries its own
// deadline so a stalled remote cannot hang the caller.
func (r *Resolver) probe(ctx context.Context, sess session.Session, keys []string) (string, error) {
	for _, key := range keys {
		pctx, cancel := context.WithTimeout(ctx, r.timeout)
		boxes, err := r.remote.ListBoxes(pctx, sess, key)
		cancel()
		if err != nil {
			return "", err
		}
		if len(boxes) > 0 {
			return key, nil
		}
	}
	return keys[0], nil
}

func (r *Resolver) settle(ctx context.Context, sess session.Session, shipmentID, key string) (string, error) {
	if err := r.local.SetCanonicalKey(ctx, sess, shipmentID, key); err != nil {
		return "", err
	}
	r.remember(shipmentID, key)
	return key, nil
}
