// Package model defines the typed records that cross the store boundary.
//
// Every entity fetched from the remote store or persisted locally is one of
// these structs with a fixed, validated field set. A record carries both a
// LocalID (stable local primary key, assigned on first local insert) and a
// RemoteID (assigned or echoed by the remote store once the record has been
// uploaded).
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Shipment is the parent record of the system. It is addressable in the
// remote store under either of two business keys: the invoice number or the
// carrier air waybill number. Historically both have been used as the
// storage path segment for the shipment's children, so readers must be
// prepared to find boxes under either key.
type Shipment struct {
	LocalID  string `json:"local_id"`
	RemoteID string `json:"remote_id,omitempty"`

	// Business keys. InvoiceNo is the primary key (key A), AWBNo the
	// secondary (key B). At least one must be set.
	InvoiceNo string `json:"invoice_no,omitempty"`
	AWBNo     string `json:"awb_no,omitempty"`

	ShipperID   string `json:"shipper_id,omitempty"`
	ConsigneeID string `json:"consignee_id,omitempty"`
	Origin      string `json:"origin,omitempty"`
	Destination string `json:"destination,omitempty"`
	Status      string `json:"status"` // draft, confirmed, shipped, delivered

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the shipment for a usable identity. A shipment with no
// business key at all cannot be synchronized and must be rejected rather
// than stored under a placeholder identifier.
func (s *Shipment) Validate() error {
	if s.InvoiceNo == "" && s.AWBNo == "" {
		return &ValidationError{Entity: "shipment", Key: s.LocalID, Reason: "no business key (invoice or AWB number) set"}
	}
	if s.Status == "" {
		return &ValidationError{Entity: "shipment", Key: s.PrimaryKey(), Reason: "status is required"}
	}
	return nil
}

// PrimaryKey returns the preferred business key: the invoice number when
// present, the AWB number otherwise.
func (s *Shipment) PrimaryKey() string {
	if s.InvoiceNo != "" {
		return s.InvoiceNo
	}
	return s.AWBNo
}

// BusinessKeys returns the non-empty business keys in probe order
// (invoice number first, then AWB number).
func (s *Shipment) BusinessKeys() []string {
	var keys []string
	if s.InvoiceNo != "" {
		keys = append(keys, s.InvoiceNo)
	}
	if s.AWBNo != "" && s.AWBNo != s.InvoiceNo {
		keys = append(keys, s.AWBNo)
	}
	return keys
}

// SetDefaults fills LocalID, Status and timestamps when unset.
func (s *Shipment) SetDefaults() {
	if s.LocalID == "" {
		s.LocalID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = "draft"
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
}

// Box is a child record of a shipment. ShipmentID references the parent's
// LocalID, which must exist locally before the box is inserted. ParentKey
// records the business key the box is (or will be) stored under remotely.
// Ordinal is the box's position within the shipment, starting at 1.
type Box struct {
	LocalID  string `json:"local_id"`
	RemoteID string `json:"remote_id,omitempty"`

	ShipmentID string `json:"shipment_id"`
	ParentKey  string `json:"parent_key"`
	Ordinal    int    `json:"ordinal"`

	WeightKg float64 `json:"weight_kg,omitempty"`
	LengthCm float64 `json:"length_cm,omitempty"`
	WidthCm  float64 `json:"width_cm,omitempty"`
	HeightCm float64 `json:"height_cm,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks box invariants.
func (b *Box) Validate() error {
	if b.Ordinal < 1 {
		return &ValidationError{Entity: "box", Key: b.LocalID, Reason: fmt.Sprintf("ordinal must be >= 1 (got %d)", b.Ordinal)}
	}
	if b.ShipmentID == "" && b.ParentKey == "" {
		return &ValidationError{Entity: "box", Key: b.LocalID, Reason: "box references no parent shipment"}
	}
	return nil
}

// SetDefaults fills LocalID and timestamps when unset.
func (b *Box) SetDefaults() {
	if b.LocalID == "" {
		b.LocalID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}
}

// Product is a child record nested under a box. BoxID references the box's
// LocalID; BoxOrdinal mirrors the box position so the product stays
// addressable in the remote store, where boxes are keyed by ordinal under
// the shipment's canonical business key.
type Product struct {
	LocalID  string `json:"local_id"`
	RemoteID string `json:"remote_id,omitempty"`

	BoxID      string `json:"box_id"`
	ParentKey  string `json:"parent_key"`
	BoxOrdinal int    `json:"box_ordinal"`
	Ordinal    int    `json:"ordinal"`

	Description string  `json:"description"`
	KindID      string  `json:"kind_id,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitValue   float64 `json:"unit_value,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks product invariants.
func (p *Product) Validate() error {
	if p.Ordinal < 1 {
		return &ValidationError{Entity: "product", Key: p.LocalID, Reason: fmt.Sprintf("ordinal must be >= 1 (got %d)", p.Ordinal)}
	}
	if p.Description == "" {
		return &ValidationError{Entity: "product", Key: p.LocalID, Reason: "description is required"}
	}
	if p.Quantity < 1 {
		return &ValidationError{Entity: "product", Key: p.LocalID, Reason: fmt.Sprintf("quantity must be >= 1 (got %d)", p.Quantity)}
	}
	return nil
}

// SetDefaults fills LocalID and timestamps when unset.
func (p *Product) SetDefaults() {
	if p.LocalID == "" {
		p.LocalID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
}

// DimensionKind distinguishes the master-data collections.
type DimensionKind string

const (
	KindShipper     DimensionKind = "shipper"
	KindConsignee   DimensionKind = "consignee"
	KindProductKind DimensionKind = "product_kind"
)

// DimensionKinds lists all master-data kinds in sync order.
var DimensionKinds = []DimensionKind{KindShipper, KindConsignee, KindProductKind}

// Dimension is an independent master-data record (shipper, consignee,
// product type). It has no parent/child relationship; Name is unique per
// tenant and kind and doubles as the remote storage key.
type Dimension struct {
	LocalID  string `json:"local_id"`
	RemoteID string `json:"remote_id,omitempty"`

	Kind DimensionKind     `json:"kind"`
	Name string            `json:"name"`
	Attr map[string]string `json:"attr,omitempty"` // address, phone, HS code, ...

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks dimension invariants.
func (d *Dimension) Validate() error {
	switch d.Kind {
	case KindShipper, KindConsignee, KindProductKind:
	default:
		return &ValidationError{Entity: "dimension", Key: d.Name, Reason: fmt.Sprintf("unknown kind %q", d.Kind)}
	}
	if d.Name == "" {
		return &ValidationError{Entity: "dimension", Key: d.LocalID, Reason: "name is required"}
	}
	return nil
}

// SetDefaults fills LocalID and timestamps when unset.
func (d *Dimension) SetDefaults() {
	if d.LocalID == "" {
		d.LocalID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
}
