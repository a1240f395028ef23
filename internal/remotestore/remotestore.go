// Package remotestore defines the contract for the cloud-hosted store
// shared across a tenant's devices.
//
// The remote store is reachable only when connectivity allows; every method
// may fail transiently. Callers wrap calls in a timeout context and treat a
// timeout identically to a network failure. Children of a shipment are
// addressed under a parent business key (the canonical key resolved by the
// sync engine), never by local IDs.
package remotestore

import (
	"context"
	"errors"

	"github.com/waybill-app/waybill/internal/model"
	"github.com/waybill-app/waybill/internal/session"
)

// Transient failures. Backends wrap the underlying cause with one of these
// so the sync engine can classify without knowing the transport.
var (
	// ErrUnavailable indicates the remote store could not be reached.
	ErrUnavailable = errors.New("remote store unavailable")

	// ErrTimeout indicates a remote call exceeded its deadline.
	ErrTimeout = errors.New("remote store call timed out")
)

// IsTransient reports whether err is a connectivity-class failure that the
// engine records and retries rather than propagates.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout)
}

// Store is the cloud-hosted tier. Upserts return the remote identifier
// (assigned on first write, echoed afterwards). Deletes report whether a
// record was removed; deleting an absent record is not an error.
type Store interface {
	ListShipments(ctx context.Context, sess session.Session) ([]*model.Shipment, error)
	UpsertShipment(ctx context.Context, sess session.Session, s *model.Shipment) (string, error)
	DeleteShipment(ctx context.Context, sess session.Session, key string) (bool, error)

	// ListBoxes fetches the boxes stored under one parent business key.
	// An empty slice means no children exist under that key; it is how the
	// identity resolver distinguishes the two storage paths.
	ListBoxes(ctx context.Context, sess session.Session, parentKey string) ([]*model.Box, error)
	UpsertBox(ctx context.Context, sess session.Session, parentKey string, b *model.Box) (string, error)
	DeleteBox(ctx context.Context, sess session.Session, parentKey string, ordinal int) (bool, error)

	ListProducts(ctx context.Context, sess session.Session, parentKey string, boxOrdinal int) ([]*model.Product, error)
	UpsertProduct(ctx context.Context, sess session.Session, parentKey string, p *model.Product) (string, error)
	DeleteProduct(ctx context.Context, sess session.Session, parentKey string, boxOrdinal, ordinal int) (bool, error)

	ListDimensions(ctx context.Context, sess session.Session, kind model.DimensionKind) ([]*model.Dimension, error)
	UpsertDimension(ctx context.Context, sess session.Session, d *model.Dimension) (string, error)
	DeleteDimension(ctx context.Context, sess session.Session, kind model.DimensionKind, name string) (bool, error)
}
