package migrate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/waybill-app/waybill/internal/localstore"
	"github.com/waybill-app/waybill/internal/model"
	"github.com/waybill-app/waybill/internal/session"
)

var sess = session.New("tenant-1", "migrate-test")

func setupTestDB(t *testing.T) *localstore.DB {
	t.Helper()

	db, err := localstore.Open(filepath.Join(t.TempDir(), "waybill.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return db
}

func seed(t *testing.T, db *localstore.DB) {
	t.Helper()
	ctx := context.Background()

	d := &model.Dimension{Kind: model.KindShipper, Name: "Acme Exports"}
	d.SetDefaults()
	if err := db.UpsertDimension(ctx, sess, d); err != nil {
		t.Fatalf("seed dimension failed: %v", err)
	}

	s := &model.Shipment{InvoiceNo: "INV001", AWBNo: "AWB123", Status: "confirmed"}
	s.SetDefaults()
	if err := db.UpsertShipment(ctx, sess, s); err != nil {
		t.Fatalf("seed shipment failed: %v", err)
	}

	b := &model.Box{ShipmentID: s.LocalID, ParentKey: "INV001", Ordinal: 1, WeightKg: 12.5}
	b.SetDefaults()
	if err := db.UpsertBox(ctx, sess, b); err != nil {
		t.Fatalf("seed box failed: %v", err)
	}

	p := &model.Product{BoxID: b.LocalID, ParentKey: "INV001", BoxOrdinal: 1, Ordinal: 1, Description: "widgets", Quantity: 4}
	p.SetDefaults()
	if err := db.UpsertProduct(ctx, sess, p); err != nil {
		t.Fatalf("seed product failed: %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	src := setupTestDB(t)
	seed(t, src)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "export.jsonl")
	exported, err := Export(ctx, src, sess, path)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if exported.Total() != 4 {
		t.Fatalf("expected 4 exported records, got %d", exported.Total())
	}

	dst := setupTestDB(t)
	imported, err := Import(ctx, dst, sess, path, ImportOptions{})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if len(imported.Errors) != 0 {
		t.Fatalf("import had errors: %v", imported.Errors)
	}
	if imported.Total() != 4 {
		t.Fatalf("expected 4 imported records, got %d", imported.Total())
	}

	s, err := dst.FindShipmentByBusinessKey(ctx, sess, "AWB123")
	if err != nil || s == nil {
		t.Fatalf("imported shipment not found: %v", err)
	}
	boxes, err := dst.ListBoxesByShipment(ctx, sess, s.LocalID)
	if err != nil || len(boxes) != 1 {
		t.Fatalf("imported box not found: %d (%v)", len(boxes), err)
	}
	products, err := dst.ListProductsByBox(ctx, sess, boxes[0].LocalID)
	if err != nil || len(products) != 1 {
		t.Fatalf("imported product not found: %d (%v)", len(products), err)
	}
}

func TestImportDryRunWritesNothing(t *testing.T) {
	src := setupTestDB(t)
	seed(t, src)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "export.jsonl")
	if _, err := Export(ctx, src, sess, path); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	dst := setupTestDB(t)
	result, err := Import(ctx, dst, sess, path, ImportOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Total() != 4 {
		t.Errorf("dry run should count all records, got %d", result.Total())
	}
	if n, _ := dst.CountShipments(ctx, sess); n != 0 {
		t.Errorf("dry run must not write, found %d shipments", n)
	}
}

func TestImportSkipsBadLinesAndContinues(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	content := strings.Join([]string{
		`{"type":"shipment","data":{"invoice_no":"INV001","status":"draft"}}`,
		`not json at all`,
		`{"type":"shipment","data":{"status":"draft"}}`, // no business key
		`{"type":"shipment","data":{"invoice_no":"INV002","status":"draft"}}`,
	}, "\n")

	path := filepath.Join(t.TempDir(), "import.jsonl")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write import file: %v", err)
	}

	result, err := Import(ctx, db, sess, path, ImportOptions{})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Shipments != 2 {
		t.Errorf("expected 2 good shipments imported, got %d", result.Shipments)
	}
	if len(result.Errors) != 2 {
		t.Errorf("expected 2 recorded errors, got %v", result.Errors)
	}
	if n, _ := db.CountShipments(ctx, sess); n != 2 {
		t.Errorf("expected 2 shipments in store, got %d", n)
	}
}
