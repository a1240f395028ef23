// Package syncengine coordinates the local SQLite store and the remote
// cloud store. Reads are always served locally; writes commit locally
// first and replicate to the remote on a best-effort basis; pulls and
// pushes reconcile the two tiers with partial-success reporting.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/waybill-app/waybill/internal/connectivity"
	"github.com/waybill-app/waybill/internal/localstore"
	"github.com/waybill-app/waybill/internal/model"
	"github.com/waybill-app/waybill/internal/remotestore"
	"github.com/waybill-app/waybill/internal/session"
)

// ProgressFunc receives sync progress. stage names the collection being
// synced; done/total count items within the stage (total is 0 when the
// stage size is not known up front).
type ProgressFunc func(stage string, done, total int)

// Config tunes engine behavior.
type Config struct {
	// PullPolicy decides whether a pull overwrites matched local records
	// or skips them. Defaults to PolicySkip.
	PullPolicy PullPolicy

	// RemoteTimeout bounds each remote call. Defaults to 10s.
	RemoteTimeout time.Duration

	// Progress, when set, receives per-stage progress during Pull and Push.
	Progress ProgressFunc

	// Logger receives engine diagnostics. Defaults to stderr.
	Logger *log.Logger
}

// Engine is the sync coordinator. All methods are safe for concurrent use;
// writes to the same shipment are serialized by business key.
type Engine struct {
	local   *localstore.DB
	remote  remotestore.Store
	monitor connectivity.Monitor
	config  Config

	resolver *Resolver
	guard    *Guard
	locks    *keyedMutex
}

// New creates an Engine over the two stores.
func New(local *localstore.DB, remote remotestore.Store, monitor connectivity.Monitor, config Config) *Engine {
	if config.RemoteTimeout <= 0 {
		config.RemoteTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if monitor == nil {
		monitor = connectivity.Static{Reachable: true}
	}
	return &Engine{
		local:    local,
		remote:   remote,
		monitor:  monitor,
		config:   config,
		resolver: newResolver(local, remote, config.RemoteTimeout),
		guard:    newGuard(local, config.PullPolicy),
		locks:    newKeyedMutex(),
	}
}

func (e *Engine) progress(stage string, done, total int) {
	if e.config.Progress != nil {
		e.config.Progress(stage, done, total)
	}
}

func (e *Engine) remoteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.RemoteTimeout)
}

// Shipments lists shipments from the local store. Never touches the remote.
func (e *Engine) Shipments(ctx context.Context, sess session.Session, filter localstore.ShipmentFilter) ([]*model.Shipment, error) {
	return e.local.ListShipments(ctx, sess, filter)
}

// Shipment looks up one shipment by either business key. Absent is (nil, nil).
func (e *Engine) Shipment(ctx context.Context, sess session.Session, key string) (*model.Shipment, error) {
	return e.local.FindShipmentByBusinessKey(ctx, sess, key)
}

// BoxesFor returns a shipment's boxes from the local store. Children may
// have been stored under either business key, so both are probed in order
// and the first non-empty result wins.
func (e *Engine) BoxesFor(ctx context.Context, sess session.Session, s *model.Shipment) ([]*model.Box, error) {
	boxes, err := e.local.ListBoxesByShipment(ctx, sess, s.LocalID)
	if err != nil {
		return nil, err
	}
	if len(boxes) > 0 {
		return boxes, nil
	}
	for _, key := range s.BusinessKeys() {
		boxes, err = e.local.ListBoxesByParentKey(ctx, sess, key)
		if err != nil {
			return nil, err
		}
		if len(boxes) > 0 {
			return boxes, nil
		}
	}
	return nil, nil
}

// ProductsFor returns a box's products from the local store.
func (e *Engine) ProductsFor(ctx context.Context, sess session.Session, b *model.Box) ([]*model.Product, error) {
	return e.local.ListProductsByBox(ctx, sess, b.LocalID)
}

// Dimensions returns local master-data records of one kind.
func (e *Engine) Dimensions(ctx context.Context, sess session.Session, kind model.DimensionKind) ([]*model.Dimension, error) {
	return e.local.ListDimensions(ctx, sess, kind)
}

// ForgetCanonicalKeys drops all persisted canonical-key resolutions so the
// next pull re-probes both business keys of every shipment.
func (e *Engine) ForgetCanonicalKeys(ctx context.Context, sess session.Session) error {
	e.resolver.Reset()
	return e.local.ClearCanonicalKeys(ctx, sess)
}

// PendingCount reports how many failed remote writes await the next push.
func (e *Engine) PendingCount(ctx context.Context, sess session.Session) (int, error) {
	return e.local.CountPending(ctx, sess)
}

// WriteResult reports the remote half of a write-through. The local commit
// already succeeded by the time a WriteResult exists.
type WriteResult struct {
	// Synced is true when the record reached the remote store.
	Synced bool

	// RemoteErr holds the remote failure when Synced is false. The record
	// is queued for the next push if the failure was transient.
	RemoteErr error
}

// WriteShipment commits a shipment locally, then replicates it to the
// remote store on a best-effort basis. A local failure is returned as an
// error and nothing is replicated; a remote failure is reported in the
// WriteResult and queued for the next push.
func (e *Engine) WriteShipment(ctx context.Context, sess session.Session, s *model.Shipment) (*WriteResult, error) {
	s.SetDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(sess.Tenant + "/" + s.PrimaryKey())
	defer unlock()

	s.UpdatedAt = time.Now()
	if err := e.local.UpsertShipment(ctx, sess, s); err != nil {
		return nil, fmt.Errorf("local commit failed for shipment %s: %w", s.PrimaryKey(), err)
	}

	return e.replicate(ctx, sess, "shipments", s.LocalID, s.PrimaryKey(), func(rctx context.Context) error {
		remoteID, err := e.remote.UpsertShipment(rctx, sess, s)
		if err != nil {
			return err
		}
		if s.RemoteID != remoteID {
			s.RemoteID = remoteID
			return e.local.UpsertShipment(ctx, sess, s)
		}
		return nil
	}), nil
}

// WriteBox commits a box locally under its parent shipment, then replicates
// it under the parent's canonical business key.
func (e *Engine) WriteBox(ctx context.Context, sess session.Session, s *model.Shipment, b *model.Box) (*WriteResult, error) {
	b.ShipmentID = s.LocalID
	b.SetDefaults()
	if err := b.Validate(); err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(sess.Tenant + "/" + s.PrimaryKey())
	defer unlock()

	key, err := e.resolveForWrite(ctx, sess, s)
	if err != nil {
		return nil, err
	}
	b.ParentKey = key

	b.UpdatedAt = time.Now()
	if err := e.local.UpsertBox(ctx, sess, b); err != nil {
		return nil, fmt.Errorf("local commit failed for box %s/%d: %w", key, b.Ordinal, err)
	}

	return e.replicate(ctx, sess, "boxes", b.LocalID, fmt.Sprintf("%s/%d", key, b.Ordinal), func(rctx context.Context) error {
		remoteID, err := e.remote.UpsertBox(rctx, sess, key, b)
		if err != nil {
			return err
		}
		if b.RemoteID != remoteID {
			b.RemoteID = remoteID
			return e.local.UpsertBox(ctx, sess, b)
		}
		return nil
	}), nil
}

// WriteProduct commits a product locally under its box, then replicates it.
func (e *Engine) WriteProduct(ctx context.Context, sess session.Session, s *model.Shipment, b *model.Box, p *model.Product) (*WriteResult, error) {
	p.BoxID = b.LocalID
	p.BoxOrdinal = b.Ordinal
	p.SetDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(sess.Tenant + "/" + s.PrimaryKey())
	defer unlock()

	key, err := e.resolveForWrite(ctx, sess, s)
	if err != nil {
		return nil, err
	}
	p.ParentKey = key

	p.UpdatedAt = time.Now()
	if err := e.local.UpsertProduct(ctx, sess, p); err != nil {
		return nil, fmt.Errorf("local commit failed for product %s/%d/%d: %w", key, p.BoxOrdinal, p.Ordinal, err)
	}

	return e.replicate(ctx, sess, "products", p.LocalID, fmt.Sprintf("%s/%d/%d", key, p.BoxOrdinal, p.Ordinal), func(rctx context.Context) error {
		remoteID, err := e.remote.UpsertProduct(rctx, sess, key, p)
		if err != nil {
			return err
		}
		if p.RemoteID != remoteID {
			p.RemoteID = remoteID
			return e.local.UpsertProduct(ctx, sess, p)
		}
		return nil
	}), nil
}

// WriteDimension commits a master-data record locally, then replicates it.
func (e *Engine) WriteDimension(ctx context.Context, sess session.Session, d *model.Dimension) (*WriteResult, error) {
	d.SetDefaults()
	if err := d.Validate(); err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(sess.Tenant + "/dim/" + string(d.Kind) + "/" + d.Name)
	defer unlock()

	d.UpdatedAt = time.Now()
	if err := e.local.UpsertDimension(ctx, sess, d); err != nil {
		return nil, fmt.Errorf("local commit failed for %s %q: %w", d.Kind, d.Name, err)
	}

	return e.replicate(ctx, sess, "dimensions", d.LocalID, string(d.Kind)+"/"+d.Name, func(rctx context.Context) error {
		remoteID, err := e.remote.UpsertDimension(rctx, sess, d)
		if err != nil {
			return err
		}
		if d.RemoteID != remoteID {
			d.RemoteID = remoteID
			return e.local.UpsertDimension(ctx, sess, d)
		}
		return nil
	}), nil
}

// replicate runs the best-effort remote half of a write-through. Transient
// failures queue the record for the next push; the local commit stands
// either way.
func (e *Engine) replicate(ctx context.Context, sess session.Session, collection, localID, key string, call func(context.Context) error) *WriteResult {
	if !e.monitor.Online() {
		e.queue(ctx, sess, collection, localID, key)
		return &WriteResult{RemoteErr: remotestore.ErrUnavailable}
	}

	rctx, cancel := e.remoteCtx(ctx)
	defer cancel()

	if err := call(rctx); err != nil {
		if remotestore.IsTransient(err) {
			e.queue(ctx, sess, collection, localID, key)
		}
		e.config.Logger.Printf("remote write failed for %s %s: %v", collection, key, err)
		return &WriteResult{RemoteErr: err}
	}

	if err := e.local.ClearPending(ctx, sess, collection, localID); err != nil {
		e.config.Logger.Printf("failed to clear pending entry for %s %s: %v", collection, key, err)
	}
	return &WriteResult{Synced: true}
}

func (e *Engine) queue(ctx context.Context, sess session.Session, collection, localID, key string) {
	if err := e.local.EnqueuePending(ctx, sess, collection, localID); err != nil {
		e.config.Logger.Printf("failed to queue %s %s for push: %v", collection, key, err)
	}
}

// resolveForWrite resolves the canonical key for a child write. An
// ambiguous resolution is logged and the fallback key used; any other
// resolver failure aborts the write.
func (e *Engine) resolveForWrite(ctx context.Context, sess session.Session, s *model.Shipment) (string, error) {
	key, err := e.resolver.Resolve(ctx, sess, s)
	if err != nil {
		var aerr *AmbiguousIdentityError
		if !errors.As(err, &aerr) {
			return "", err
		}
		e.config.Logger.Printf("canonical key ambiguous for %s, using %s", s.PrimaryKey(), key)
	}
	return key, nil
}
