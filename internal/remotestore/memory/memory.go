// Package memory provides an in-memory remote store used by tests and by
// offline development. It supports failure injection so sync behavior under
// partial connectivity can be exercised deterministically.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/waybill-app/waybill/internal/model"
	"github.com/waybill-app/waybill/internal/remotestore"
	"github.com/waybill-app/waybill/internal/session"
)

// Store is an in-memory remotestore.Store. The zero value is not usable;
// call New.
type Store struct {
	mu sync.Mutex

	shipments  map[string]map[string]*model.Shipment          // tenant -> businessKey
	boxes      map[string]map[string]map[int]*model.Box       // tenant -> parentKey -> ordinal
	products   map[string]map[string]map[int]*model.Product   // tenant -> parentKey#boxOrdinal -> ordinal
	dimensions map[string]map[string]*model.Dimension         // tenant -> kind#name

	offline   bool
	failures  map[string]error // per-operation injected errors, e.g. "ListBoxes"
	callCount map[string]int
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		shipments:  make(map[string]map[string]*model.Shipment),
		boxes:      make(map[string]map[string]map[int]*model.Box),
		products:   make(map[string]map[string]map[int]*model.Product),
		dimensions: make(map[string]map[string]*model.Dimension),
		failures:   make(map[string]error),
		callCount:  make(map[string]int),
	}
}

var _ remotestore.Store = (*Store)(nil)

// SetOffline makes every call fail with ErrUnavailable until cleared.
func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// FailWith injects an error for one operation name ("ListBoxes",
// "UpsertShipment", ...). A nil err clears the injection.
func (s *Store) FailWith(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Calls reports how many times an operation was invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount[op]
}

// gate records the call and returns any injected failure. Callers hold mu.
func (s *Store) gate(op string) error {
	s.callCount[op]++
	if s.offline {
		return fmt.Errorf("%w: store offline", remotestore.ErrUnavailable)
	}
	if err, ok := s.failures[op]; ok {
		return err
	}
	return nil
}

func productsKey(parentKey string, boxOrdinal int) string {
	return fmt.Sprintf("%s#%d", parentKey, boxOrdinal)
}

func dimKey(kind model.DimensionKind, name string) string {
	return fmt.Sprintf("%s#%s", kind, name)
}

func (s *Store) ListShipments(ctx context.Context, sess session.Session) ([]*model.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gate("ListShipments"); err != nil {
		return nil, err
	}

	var out []*model.Shipment
	for _, sh := range s.shipments[sess.Tenant] {
		c := *sh
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PrimaryKey() < out[j].PrimaryKey() })
	return out, nil
}

func (s *Store) UpsertShipment(ctx context.Context, sess session.Session, sh *model.Shipment) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gate("UpsertShipment"); err != nil {
		return "", err
	}
	if err := sh.Validate(); err != nil {
		return "", err
	}

	if s.shipments[sess.Tenant] == nil {
		s.shipments[sess.Tenant] = make(map[string]*model.Shipment)
	}
	c := *sh
	if c.RemoteID == "" {
		if prev, ok := s.shipments[sess.Tenant][sh.PrimaryKey()]; ok {
			c.RemoteID = prev.RemoteID
		} else {
			c.RemoteID = uuid.NewString()
		}
	}
	c.LocalID = ""
	s.shipments[sess.Tenant][sh.PrimaryKey()] = &c
	return c.RemoteID, nil
}

func (s *Store) DeleteShipment(ctx context.Context, sess session.Session, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gate("DeleteShipment"); err != nil {
		return false, err
	}
	if _, ok := s.shipments[sess.Tenant][key]; !ok {
		return false, nil
	}
	delete(s.shipments[sess.Tenant], key)
	return true, nil
}

func (s *Store) ListBoxes(ctx context.Context, sess session.Session, parentKey string) ([]*model.Box, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gate("ListBoxes"); err != nil {
		return nil, err
	}

	var out []*model.Box
	for _, b := range s.boxes[sess.Tenant][parentKey] {
		c := *b
		c.ParentKey = parentKey
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (s *Store) UpsertBox(ctx context.Context, sess session.Session, parentKey string, b *model.Box) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gate("UpsertBox"); err != nil {
		return "", err
	}
	if err := b.Validate(); err != nil {
		return "", err
	}

	if s.boxes[sess.Tenant] == nil {
		s.boxes[sess.Tenant] = make(map[string]map[int]*model.Box)
	}
	if s.boxes[sess.Tenant][parentKey] == nil {
		s.boxes[sess.Tenant][parentKey] = make(map[int]*model.Box)
	}
	c := *b
	if c.RemoteID == "" {
		if prev, ok := s.boxes[sess.Tenant][parentKey][b.Ordinal]; ok {
			c.RemoteID = prev.RemoteID
		} else {
			c.RemoteID = uuid.NewString()
		}
	}
	c.LocalID = ""
	c.ShipmentID = ""
	s.boxes[sess.Tenant][parentKey][b.Ordinal] = &c
	return c.RemoteID, nil
}

func (s *Store) DeleteBox(ctx context.Context, sess session.Session, parentKey string, ordinal int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gate("DeleteBox"); err != nil {
		return false, err
	}
	if _, ok := s.boxes[sess.Tenant][parentKey][ordinal]; !ok {
		return false, nil
	}
	delete(s.boxes[sess.Tenant][parentKey], ordinal)
	return true, nil
}

func (s *Store) ListProducts(ctx context.Context, sess session.Session, parentKey string, boxOrdinal int) ([]*model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gate("ListProducts"); err != nil {
		return nil, err
	}

	var out []*model.Product
	for _, p := range s.products[sess.Tenant][productsKey(parentKey, boxOrdinal)] {
		c := *p
		c.ParentKey = parentKey
		c.BoxOrdinal = boxOrdinal
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (s *Store) UpsertProduct(ctx context.Context, sess session.Session, parentKey string, p *model.Product) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gate("UpsertProduct"); err != nil {
		return "", err
	}
	if err := p.Validate(); err != nil {
		return "", err
	}

	key := productsKey(parentKey, p.BoxOrdinal)
	if s.products[sess.Tenant] == nil {
		s.products[sess.Tenant] = make(map[string]map[int]*model.Product)
	}
	if s.products[sess.Tenant][key] == nil {
		s.products[sess.Tenant][key] = make(map[int]*model.Product)
	}
	c := *p
	if c.RemoteID == "" {
		if prev, ok := s.products[sess.Tenant][key][p.Ordinal]; ok {
			c.RemoteID = prev.RemoteID
		} else {
			c.RemoteID = uuid.NewString()
		}
	}
	c.LocalID = ""
	c.BoxID = ""
	s.products[sess.Tenant][key][p.Ordinal] = &c
	return c.RemoteID, nil
}

func (s *Store) DeleteProduct(ctx context.Context, sess session.Session, parentKey string, boxOrdinal, ordinal int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gate("DeleteProduct"); err != nil {
		return false, err
	}
	key := productsKey(parentKey, boxOrdinal)
	if _, ok := s.products[sess.Tenant][key][ordinal]; !ok {
		return false, nil
	}
	delete(s.products[sess.Tenant][key], ordinal)
	return true, nil
}

func (s *Store) ListDimensions(ctx context.Context, sess session.Session, kind model.DimensionKind) ([]*model.Dimension, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gate("ListDimensions"); err != nil {
		return nil, err
	}

	var out []*model.Dimension
	for _, d := range s.dimensions[sess.Tenant] {
		if d.Kind != kind {
			continue
		}
		c := *d
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) UpsertDimension(ctx context.Context, sess session.Session, d *model.Dimension) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gate("UpsertDimension"); err != nil {
		return "", err
	}
	if err := d.Validate(); err != nil {
		return "", err
	}

	if s.dimensions[sess.Tenant] == nil {
		s.dimensions[sess.Tenant] = make(map[string]*model.Dimension)
	}
	key := dimKey(d.Kind, d.Name)
	c := *d
	if c.RemoteID == "" {
		if prev, ok := s.dimensions[sess.Tenant][key]; ok {
			c.RemoteID = prev.RemoteID
		} else {
			c.RemoteID = uuid.NewString()
		}
	}
	c.LocalID = ""
	s.dimensions[sess.Tenant][key] = &c
	return c.RemoteID, nil
}

func (s *Store) DeleteDimension(ctx context.Context, sess session.Session, kind model.DimensionKind, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gate("DeleteDimension"); err != nil {
		return false, err
	}
	key := dimKey(kind, name)
	if _, ok := s.dimensions[sess.Tenant][key]; !ok {
		return false, nil
	}
	delete(s.dimensions[sess.Tenant], key)
	return true, nil
}
