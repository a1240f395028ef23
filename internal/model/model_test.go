package model

import (
	"errors"
	"testing"
)

func TestShipmentValidate(t *testing.T) {
	s := &Shipment{InvoiceNo: "INV001", Status: "draft"}
	if err := s.Validate(); err != nil {
		t.Fatalf("valid shipment rejected: %v", err)
	}

	s = &Shipment{AWBNo: "AWB123", Status: "draft"}
	if err := s.Validate(); err != nil {
		t.Fatalf("AWB-only shipment rejected: %v", err)
	}
}

func TestShipmentValidate_NoBusinessKey(t *testing.T) {
	s := &Shipment{Status: "draft"}
	err := s.Validate()
	if err == nil {
		t.Fatal("shipment without business keys accepted")
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if verr.Entity != "shipment" {
		t.Errorf("expected entity shipment, got %q", verr.Entity)
	}
}

func TestShipmentBusinessKeys_ProbeOrder(t *testing.T) {
	s := &Shipment{InvoiceNo: "INV001", AWBNo: "AWB123"}
	keys := s.BusinessKeys()
	if len(keys) != 2 || keys[0] != "INV001" || keys[1] != "AWB123" {
		t.Errorf("expected [INV001 AWB123], got %v", keys)
	}

	// Duplicate keys collapse to one probe.
	s = &Shipment{InvoiceNo: "X", AWBNo: "X"}
	if keys := s.BusinessKeys(); len(keys) != 1 {
		t.Errorf("expected 1 key for duplicate business keys, got %v", keys)
	}
}

func TestShipmentPrimaryKey(t *testing.T) {
	s := &Shipment{InvoiceNo: "INV001", AWBNo: "AWB123"}
	if got := s.PrimaryKey(); got != "INV001" {
		t.Errorf("expected invoice number preferred, got %q", got)
	}
	s = &Shipment{AWBNo: "AWB123"}
	if got := s.PrimaryKey(); got != "AWB123" {
		t.Errorf("expected AWB fallback, got %q", got)
	}
}

func TestSetDefaults(t *testing.T) {
	s := &Shipment{InvoiceNo: "INV001"}
	s.SetDefaults()
	if s.LocalID == "" {
		t.Error("LocalID not assigned")
	}
	if s.Status != "draft" {
		t.Errorf("expected default status draft, got %q", s.Status)
	}
	if s.CreatedAt.IsZero() || s.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestBoxValidate(t *testing.T) {
	b := &Box{ShipmentID: "s1", ParentKey: "INV001", Ordinal: 1}
	if err := b.Validate(); err != nil {
		t.Fatalf("valid box rejected: %v", err)
	}

	b = &Box{ShipmentID: "s1", Ordinal: 0}
	if err := b.Validate(); err == nil {
		t.Error("box with ordinal 0 accepted")
	}

	b = &Box{Ordinal: 1}
	if err := b.Validate(); err == nil {
		t.Error("box with no parent reference accepted")
	}
}

func TestProductValidate(t *testing.T) {
	p := &Product{BoxID: "b1", Ordinal: 1, Description: "widgets", Quantity: 10}
	if err := p.Validate(); err != nil {
		t.Fatalf("valid product rejected: %v", err)
	}

	p = &Product{BoxID: "b1", Ordinal: 1, Quantity: 10}
	if err := p.Validate(); err == nil {
		t.Error("product without description accepted")
	}

	p = &Product{BoxID: "b1", Ordinal: 1, Description: "widgets", Quantity: 0}
	if err := p.Validate(); err == nil {
		t.Error("product with zero quantity accepted")
	}
}

func TestDimensionValidate(t *testing.T) {
	d := &Dimension{Kind: KindShipper, Name: "Acme Exports"}
	if err := d.Validate(); err != nil {
		t.Fatalf("valid dimension rejected: %v", err)
	}

	d = &Dimension{Kind: "warehouse", Name: "x"}
	if err := d.Validate(); err == nil {
		t.Error("dimension with unknown kind accepted")
	}

	d = &Dimension{Kind: KindConsignee}
	if err := d.Validate(); err == nil {
		t.Error("dimension without name accepted")
	}
}
