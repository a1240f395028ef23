// Package migrate moves a tenant's local data in and out of JSONL files.
//
// Exports are for backup and for moving a device's data without the remote
// store; imports feed a fresh local database, for example when onboarding a
// device while offline. Records are written one JSON object per line,
// parents before children so an import can stream the file in order.
package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/waybill-app/waybill/internal/localstore"
	"github.com/waybill-app/waybill/internal/model"
	"github.com/waybill-app/waybill/internal/session"
)

// line is one JSONL record, tagged with its collection.
type line struct {
	Type string          `json:"type"` // dimension, shipment, box, product
	Data json.RawMessage `json:"data"`
}

// Result summarizes an import or export.
type Result struct {
	Dimensions int      `json:"dimensions"`
	Shipments  int      `json:"shipments"`
	Boxes      int      `json:"boxes"`
	Products   int      `json:"products"`
	Errors     []string `json:"errors,omitempty"`
}

// Total returns the record count across collections.
func (r *Result) Total() int {
	return r.Dimensions + r.Shipments + r.Boxes + r.Products
}

// Export writes the tenant's local data to path as JSONL. The file is
// written to a temp file and renamed into place, so a crashed export never
// leaves a truncated file behind.
func Export(ctx context.Context, db *localstore.DB, sess session.Session, path string) (*Result, error) {
	result := &Result{}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".waybill-export-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)

	writeLine := func(typ string, v interface{}) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return enc.Encode(line{Type: typ, Data: data})
	}

	for _, kind := range model.DimensionKinds {
		dims, err := db.ListDimensions(ctx, sess, kind)
		if err != nil {
			return nil, err
		}
		for _, d := range dims {
			if err := writeLine("dimension", d); err != nil {
				return nil, err
			}
			result.Dimensions++
		}
	}

	shipments, err := db.ListShipments(ctx, sess, localstore.ShipmentFilter{})
	if err != nil {
		return nil, err
	}
	for _, s := range shipments {
		if err := writeLine("shipment", s); err != nil {
			return nil, err
		}
		result.Shipments++

		boxes, err := db.ListBoxesByShipment(ctx, sess, s.LocalID)
		if err != nil {
			return nil, err
		}
		for _, b := range boxes {
			if err := writeLine("box", b); err != nil {
				return nil, err
			}
			result.Boxes++

			products, err := db.ListProductsByBox(ctx, sess, b.LocalID)
			if err != nil {
				return nil, err
			}
			for _, p := range products {
				if err := writeLine("product", p); err != nil {
					return nil, err
				}
				result.Products++
			}
		}
	}

	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close export: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("failed to move export into place: %w", err)
	}
	return result, nil
}

// ImportOptions tunes Import behavior.
type ImportOptions struct {
	// DryRun parses and validates every line without writing anything.
	DryRun bool
}

// Import reads a JSONL export into the local store. A malformed or invalid
// line is recorded in the result and skipped; the import keeps going.
func Import(ctx context.Context, db *localstore.DB, sess session.Session, path string, opts ImportOptions) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	return importFrom(ctx, db, sess, f, opts)
}

func importFrom(ctx context.Context, db *localstore.DB, sess session.Session, r io.Reader, opts ImportOptions) (*Result, error) {
	result := &Result{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var l line
		if err := json.Unmarshal(raw, &l); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineNo, err))
			continue
		}
		if err := importLine(ctx, db, sess, l, opts.DryRun, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d (%s): %v", lineNo, l.Type, err))
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("failed to read import file: %w", err)
	}
	return result, nil
}

func importLine(ctx context.Context, db *localstore.DB, sess session.Session, l line, dryRun bool, result *Result) error {
	switch l.Type {
	case "dimension":
		var d model.Dimension
		if err := json.Unmarshal(l.Data, &d); err != nil {
			return err
		}
		d.SetDefaults()
		if err := d.Validate(); err != nil {
			return err
		}
		if !dryRun {
			if err := db.UpsertDimension(ctx, sess, &d); err != nil {
				return err
			}
		}
		result.Dimensions++

	case "shipment":
		var s model.Shipment
		if err := json.Unmarshal(l.Data, &s); err != nil {
			return err
		}
		s.SetDefaults()
		if err := s.Validate(); err != nil {
			return err
		}
		if !dryRun {
			if err := db.UpsertShipment(ctx, sess, &s); err != nil {
				return err
			}
		}
		result.Shipments++

	case "box":
		var b model.Box
		if err := json.Unmarshal(l.Data, &b); err != nil {
			return err
		}
		b.SetDefaults()
		if err := b.Validate(); err != nil {
			return err
		}
		if !dryRun {
			if err := db.UpsertBox(ctx, sess, &b); err != nil {
				return err
			}
		}
		result.Boxes++

	case "product":
		var p model.Product
		if err := json.Unmarshal(l.Data, &p); err != nil {
			return err
		}
		p.SetDefaults()
		if err := p.Validate(); err != nil {
			return err
		}
		if !dryRun {
			if err := db.UpsertProduct(ctx, sess, &p); err != nil {
				return err
			}
		}
		result.Products++

	default:
		return fmt.Errorf("unknown record type %q", l.Type)
	}
	return nil
}
