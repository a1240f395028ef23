package syncengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/waybill-app/waybill/internal/localstore"
	"github.com/waybill-app/waybill/internal/model"
	"github.com/waybill-app/waybill/internal/remotestore"
	"github.com/waybill-app/waybill/internal/remotestore/memory"
	"github.com/waybill-app/waybill/internal/session"
)

var sess = session.New("tenant-1", "dev-a")

type toggleMonitor struct{ online atomic.Bool }

func (m *toggleMonitor) Online() bool { return m.online.Load() }

// stallingRemote never answers a box listing until the context expires,
// simulating a remote that accepts connections but stops responding.
type stallingRemote struct {
	*memory.Store
}

func (s *stallingRemote) ListBoxes(ctx context.Context, sess session.Session, parentKey string) ([]*model.Box, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %v", remotestore.ErrTimeout, ctx.Err())
}

func newTestEngine(t *testing.T, policy PullPolicy) (*Engine, *memory.Store, *toggleMonitor, *localstore.DB) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "waybill.db")
	db, err := localstore.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	remote := memory.New()
	monitor := &toggleMonitor{}
	monitor.online.Store(true)

	engine := New(db, remote, monitor, Config{
		PullPolicy: policy,
		Logger:     log.New(io.Discard, "", 0),
	})
	return engine, remote, monitor, db
}

func seedRemoteShipment(t *testing.T, remote *memory.Store, invoice, awb, childKey string, boxCount int) {
	t.Helper()
	ctx := context.Background()

	s := &model.Shipment{InvoiceNo: invoice, AWBNo: awb, Status: "confirmed", Origin: "TPE", Destination: "NRT"}
	s.SetDefaults()
	if _, err := remote.UpsertShipment(ctx, sess, s); err != nil {
		t.Fatalf("failed to seed remote shipment: %v", err)
	}

	for i := 1; i <= boxCount; i++ {
		b := &model.Box{ParentKey: childKey, Ordinal: i, WeightKg: float64(i)}
		b.SetDefaults()
		if _, err := remote.UpsertBox(ctx, sess, childKey, b); err != nil {
			t.Fatalf("failed to seed remote box: %v", err)
		}
		p := &model.Product{ParentKey: childKey, BoxOrdinal: i, Ordinal: 1, Description: "widgets", Quantity: 10}
		p.SetDefaults()
		if _, err := remote.UpsertProduct(ctx, sess, childKey, p); err != nil {
			t.Fatalf("failed to seed remote product: %v", err)
		}
	}
}

func TestPullIsIdempotent(t *testing.T) {
	engine, remote, _, db := newTestEngine(t, PolicySkip)
	ctx := context.Background()

	seedRemoteShipment(t, remote, "INV001", "AWB123", "INV001", 2)
	d := &model.Dimension{Kind: model.KindShipper, Name: "Acme Exports"}
	d.SetDefaults()
	if _, err := remote.UpsertDimension(ctx, sess, d); err != nil {
		t.Fatalf("failed to seed dimension: %v", err)
	}

	for pass := 1; pass <= 2; pass++ {
		report, err := engine.Pull(ctx, sess)
		if err != nil {
			t.Fatalf("pull pass %d failed: %v", pass, err)
		}
		if report.TotalFailed() != 0 {
			t.Fatalf("pull pass %d had failures: %s", pass, report.Summary())
		}
	}

	if n, _ := db.CountShipments(ctx, sess); n != 1 {
		t.Errorf("expected 1 shipment after two pulls, got %d", n)
	}
	if n, _ := db.CountBoxes(ctx, sess); n != 2 {
		t.Errorf("expected 2 boxes after two pulls, got %d", n)
	}
	if n, _ := db.CountProducts(ctx, sess); n != 2 {
		t.Errorf("expected 2 products after two pulls, got %d", n)
	}
	if n, _ := db.CountDimensions(ctx, sess); n != 1 {
		t.Errorf("expected 1 dimension after two pulls, got %d", n)
	}
}

func TestPullResolvesCanonicalKey_InvoiceSide(t *testing.T) {
	engine, remote, _, db := newTestEngine(t, PolicySkip)
	ctx := context.Background()

	seedRemoteShipment(t, remote, "INV001", "AWB123", "INV001", 1)

	if _, err := engine.Pull(ctx, sess); err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	s, err := db.FindShipmentByBusinessKey(ctx, sess, "INV001")
	if err != nil || s == nil {
		t.Fatalf("shipment not pulled: %v", err)
	}
	key, err := db.CanonicalKey(ctx, sess, s.LocalID)
	if err != nil {
		t.Fatalf("CanonicalKey failed: %v", err)
	}
	if key != "INV001" {
		t.Errorf("expected canonical key INV001, got %q", key)
	}
	if n, _ := db.CountBoxes(ctx, sess); n != 1 {
		t.Errorf("expected 1 box pulled, got %d", n)
	}
}

func TestPullResolvesCanonicalKey_AWBSide(t *testing.T) {
	engine, remote, _, db := newTestEngine(t, PolicySkip)
	ctx := context.Background()

	// Children live under the AWB key, the way the legacy write path left them.
	seedRemoteShipment(t, remote, "INV001", "AWB123", "AWB123", 2)

	if _, err := engine.Pull(ctx, sess); err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	s, _ := db.FindShipmentByBusinessKey(ctx, sess, "INV001")
	if s == nil {
		t.Fatal("shipment not pulled")
	}
	key, _ := db.CanonicalKey(ctx, sess, s.LocalID)
	if key != "AWB123" {
		t.Errorf("expected canonical key AWB123, got %q", key)
	}
	if n, _ := db.CountBoxes(ctx, sess); n != 2 {
		t.Errorf("expected 2 boxes pulled from the AWB path, got %d", n)
	}
}

func TestPullAmbiguousIdentity_FallsBackWithoutPersisting(t *testing.T) {
	engine, remote, _, db := newTestEngine(t, PolicySkip)
	ctx := context.Background()

	seedRemoteShipment(t, remote, "INV001", "AWB123", "AWB123", 1)
	remote.FailWith("ListBoxes", remotestore.ErrUnavailable)

	report, err := engine.Pull(ctx, sess)
	if err != nil {
		t.Fatalf("pull failed outright: %v", err)
	}
	if len(report.Ambiguous) != 1 || report.Ambiguous[0] != "INV001" {
		t.Errorf("expected INV001 reported ambiguous, got %v", report.Ambiguous)
	}

	s, _ := db.FindShipmentByBusinessKey(ctx, sess, "INV001")
	if s == nil {
		t.Fatal("shipment should still have been pulled")
	}
	if key, _ := db.CanonicalKey(ctx, sess, s.LocalID); key != "" {
		t.Errorf("ambiguous resolution must not be persisted, got %q", key)
	}

	// Probes recover: the next pass settles on the AWB key.
	remote.FailWith("ListBoxes", nil)
	if _, err := engine.Pull(ctx, sess); err != nil {
		t.Fatalf("second pull failed: %v", err)
	}
	if key, _ := db.CanonicalKey(ctx, sess, s.LocalID); key != "AWB123" {
		t.Errorf("expected AWB123 after recovery, got %q", key)
	}
	if n, _ := db.CountBoxes(ctx, sess); n != 1 {
		t.Errorf("expected the box pulled after recovery, got %d", n)
	}
}

func TestPullPolicySkipKeepsLocalEdits(t *testing.T) {
	engine, remote, _, db := newTestEngine(t, PolicySkip)
	ctx := context.Background()

	seedRemoteShipment(t, remote, "INV001", "", "INV001", 0)
	if _, err := engine.Pull(ctx, sess); err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	s, _ := db.FindShipmentByBusinessKey(ctx, sess, "INV001")
	s.Status = "shipped"
	if err := db.UpsertShipment(ctx, sess, s); err != nil {
		t.Fatalf("local edit failed: %v", err)
	}

	if _, err := engine.Pull(ctx, sess); err != nil {
		t.Fatalf("second pull failed: %v", err)
	}
	got, _ := db.FindShipmentByBusinessKey(ctx, sess, "INV001")
	if got.Status != "shipped" {
		t.Errorf("skip policy must keep local edits, got status %q", got.Status)
	}
}

func TestPullPolicyOverwriteReplacesLocalEdits(t *testing.T) {
	engine, remote, _, db := newTestEngine(t, PolicyOverwrite)
	ctx := context.Background()

	seedRemoteShipment(t, remote, "INV001", "", "INV001", 0)
	if _, err := engine.Pull(ctx, sess); err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	s, _ := db.FindShipmentByBusinessKey(ctx, sess, "INV001")
	s.Status = "shipped"
	if err := db.UpsertShipment(ctx, sess, s); err != nil {
		t.Fatalf("local edit failed: %v", err)
	}

	if _, err := engine.Pull(ctx, sess); err != nil {
		t.Fatalf("second pull failed: %v", err)
	}
	got, _ := db.FindShipmentByBusinessKey(ctx, sess, "INV001")
	if got.Status != "confirmed" {
		t.Errorf("overwrite policy must take the remote copy, got status %q", got.Status)
	}
	if got.LocalID != s.LocalID {
		t.Errorf("overwrite must keep the local ID, got %q want %q", got.LocalID, s.LocalID)
	}
}

func TestWriteThroughSurvivesOffline(t *testing.T) {
	engine, remote, monitor, db := newTestEngine(t, PolicySkip)
	ctx := context.Background()
	monitor.online.Store(false)

	s := &model.Shipment{InvoiceNo: "INV001", Status: "draft"}
	result, err := engine.WriteShipment(ctx, sess, s)
	if err != nil {
		t.Fatalf("write-through must succeed when offline: %v", err)
	}
	if result.Synced {
		t.Error("write cannot have reached the remote while offline")
	}
	if !errors.Is(result.RemoteErr, remotestore.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", result.RemoteErr)
	}

	got, _ := db.FindShipmentByBusinessKey(ctx, sess, "INV001")
	if got == nil {
		t.Fatal("local commit missing after offline write")
	}
	if n, _ := db.CountPending(ctx, sess); n != 1 {
		t.Errorf("expected 1 queued remote write, got %d", n)
	}

	// Back online: push drains the queue and replicates.
	monitor.online.Store(true)
	report, err := engine.Push(ctx, sess)
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if report.TotalFailed() != 0 {
		t.Fatalf("push had failures: %s", report.Summary())
	}
	if n, _ := db.CountPending(ctx, sess); n != 0 {
		t.Errorf("expected pending queue drained, %d remain", n)
	}
	shipments, err := remote.ListShipments(ctx, sess)
	if err != nil || len(shipments) != 1 {
		t.Fatalf("expected shipment on remote after push, got %d (%v)", len(shipments), err)
	}
	if shipments[0].RemoteID == "" {
		t.Error("remote copy has no remote ID")
	}
	got, _ = db.FindShipmentByBusinessKey(ctx, sess, "INV001")
	if got.RemoteID != shipments[0].RemoteID {
		t.Errorf("remote ID not written back: local %q remote %q", got.RemoteID, shipments[0].RemoteID)
	}
}

func TestWriteThroughSyncsImmediatelyWhenOnline(t *testing.T) {
	engine, remote, _, _ := newTestEngine(t, PolicySkip)
	ctx := context.Background()

	s := &model.Shipment{InvoiceNo: "INV001", AWBNo: "AWB123", Status: "draft"}
	result, err := engine.WriteShipment(ctx, sess, s)
	if err != nil {
		t.Fatalf("WriteShipment failed: %v", err)
	}
	if !result.Synced {
		t.Fatalf("expected immediate sync, got remote error %v", result.RemoteErr)
	}

	b := &model.Box{Ordinal: 1, WeightKg: 4.5}
	if _, err := engine.WriteBox(ctx, sess, s, b); err != nil {
		t.Fatalf("WriteBox failed: %v", err)
	}
	p := &model.Product{Ordinal: 1, Description: "widgets", Quantity: 3}
	if _, err := engine.WriteProduct(ctx, sess, s, b, p); err != nil {
		t.Fatalf("WriteProduct failed: %v", err)
	}

	boxes, err := remote.ListBoxes(ctx, sess, "INV001")
	if err != nil || len(boxes) != 1 {
		t.Fatalf("expected box under canonical key INV001, got %d (%v)", len(boxes), err)
	}
	products, err := remote.ListProducts(ctx, sess, "INV001", 1)
	if err != nil || len(products) != 1 {
		t.Fatalf("expected product under canonical key, got %d (%v)", len(products), err)
	}
}

func TestPushContinuesPastFailures(t *testing.T) {
	engine, remote, monitor, _ := newTestEngine(t, PolicySkip)
	ctx := context.Background()

	monitor.online.Store(false)
	for _, inv := range []string{"INV001", "INV002", "INV003"} {
		s := &model.Shipment{InvoiceNo: inv, Status: "draft"}
		if _, err := engine.WriteShipment(ctx, sess, s); err != nil {
			t.Fatalf("WriteShipment %s failed: %v", inv, err)
		}
	}
	monitor.online.Store(true)

	// Every shipment upload fails transiently; the pass must still visit
	// all three and report three failures rather than stopping at one.
	remote.FailWith("UpsertShipment", remotestore.ErrUnavailable)
	report, err := engine.Push(ctx, sess)
	if err != nil {
		t.Fatalf("push failed outright: %v", err)
	}
	if got := report.Collections["shipments"].Failed; got != 3 {
		t.Errorf("expected 3 failed shipments, got %d", got)
	}

	remote.FailWith("UpsertShipment", nil)
	report, err = engine.Push(ctx, sess)
	if err != nil {
		t.Fatalf("retry push failed: %v", err)
	}
	if report.TotalFailed() != 0 {
		t.Fatalf("retry push had failures: %s", report.Summary())
	}
	shipments, _ := remote.ListShipments(ctx, sess)
	if len(shipments) != 3 {
		t.Errorf("expected all 3 shipments on remote, got %d", len(shipments))
	}
}

func TestPushAbortsWhenOffline(t *testing.T) {
	engine, _, monitor, _ := newTestEngine(t, PolicySkip)
	monitor.online.Store(false)

	if _, err := engine.Push(context.Background(), sess); err == nil {
		t.Fatal("push while offline must fail rather than report false success")
	}
}

func TestDualDelete_LocalAuthoritative(t *testing.T) {
	engine, remote, _, db := newTestEngine(t, PolicySkip)
	ctx := context.Background()

	s := &model.Shipment{InvoiceNo: "INV001", AWBNo: "AWB123", Status: "draft"}
	if _, err := engine.WriteShipment(ctx, sess, s); err != nil {
		t.Fatalf("WriteShipment failed: %v", err)
	}
	b := &model.Box{Ordinal: 1}
	if _, err := engine.WriteBox(ctx, sess, s, b); err != nil {
		t.Fatalf("WriteBox failed: %v", err)
	}

	// Remote refuses deletes; the local delete must stand regardless.
	remote.FailWith("DeleteShipment", remotestore.ErrUnavailable)
	result, err := engine.DeleteShipment(ctx, sess, s.LocalID)
	if err != nil {
		t.Fatalf("DeleteShipment failed: %v", err)
	}
	if !result.LocalDeleted {
		t.Fatal("local delete did not happen")
	}
	if result.RemoteErr == nil {
		t.Fatal("remote failure must be reported")
	}

	if got, _ := db.FindShipmentByBusinessKey(ctx, sess, "INV001"); got != nil {
		t.Error("shipment still present locally after delete")
	}
	if n, _ := db.CountBoxes(ctx, sess); n != 0 {
		t.Errorf("boxes not cascade-deleted, %d remain", n)
	}

	remote.FailWith("DeleteShipment", nil)
	shipments, _ := remote.ListShipments(ctx, sess)
	if len(shipments) != 1 {
		t.Errorf("remote copy should survive the failed delete, got %d", len(shipments))
	}
}

func TestDualDelete_BothSides(t *testing.T) {
	engine, remote, _, _ := newTestEngine(t, PolicySkip)
	ctx := context.Background()

	s := &model.Shipment{InvoiceNo: "INV001", Status: "draft"}
	if _, err := engine.WriteShipment(ctx, sess, s); err != nil {
		t.Fatalf("WriteShipment failed: %v", err)
	}
	b := &model.Box{Ordinal: 1}
	if _, err := engine.WriteBox(ctx, sess, s, b); err != nil {
		t.Fatalf("WriteBox failed: %v", err)
	}

	result, err := engine.DeleteShipment(ctx, sess, s.LocalID)
	if err != nil {
		t.Fatalf("DeleteShipment failed: %v", err)
	}
	if !result.LocalDeleted || !result.RemoteDeleted || result.RemoteErr != nil {
		t.Fatalf("expected clean dual delete, got %+v", result)
	}

	shipments, _ := remote.ListShipments(ctx, sess)
	if len(shipments) != 0 {
		t.Errorf("remote shipment not deleted, %d remain", len(shipments))
	}
	boxes, _ := remote.ListBoxes(ctx, sess, "INV001")
	if len(boxes) != 0 {
		t.Errorf("remote boxes not deleted, %d remain", len(boxes))
	}
}

func TestReadsNeverTouchRemote(t *testing.T) {
	engine, remote, monitor, _ := newTestEngine(t, PolicySkip)
	ctx := context.Background()

	s := &model.Shipment{InvoiceNo: "INV001", AWBNo: "AWB123", Status: "draft"}
	if _, err := engine.WriteShipment(ctx, sess, s); err != nil {
		t.Fatalf("WriteShipment failed: %v", err)
	}
	b := &model.Box{Ordinal: 1}
	if _, err := engine.WriteBox(ctx, sess, s, b); err != nil {
		t.Fatalf("WriteBox failed: %v", err)
	}

	// Kill the remote entirely: reads must be unaffected.
	monitor.online.Store(false)
	remote.SetOffline(true)

	shipments, err := engine.Shipments(ctx, sess, localstore.ShipmentFilter{})
	if err != nil || len(shipments) != 1 {
		t.Fatalf("local read failed with remote down: %d (%v)", len(shipments), err)
	}
	boxes, err := engine.BoxesFor(ctx, sess, shipments[0])
	if err != nil || len(boxes) != 1 {
		t.Fatalf("local child read failed with remote down: %d (%v)", len(boxes), err)
	}
}

func TestBoxesForProbesBothKeys(t *testing.T) {
	engine, _, _, db := newTestEngine(t, PolicySkip)
	ctx := context.Background()

	s := &model.Shipment{InvoiceNo: "INV001", AWBNo: "AWB123", Status: "draft"}
	s.SetDefaults()
	if err := db.UpsertShipment(ctx, sess, s); err != nil {
		t.Fatalf("UpsertShipment failed: %v", err)
	}

	// A legacy record: the box row references the parent only through the
	// AWB business key, not the local shipment ID.
	other := &model.Shipment{InvoiceNo: "SHELL", Status: "draft"}
	other.SetDefaults()
	if err := db.UpsertShipment(ctx, sess, other); err != nil {
		t.Fatalf("UpsertShipment failed: %v", err)
	}
	b := &model.Box{ShipmentID: other.LocalID, ParentKey: "AWB123", Ordinal: 1}
	b.SetDefaults()
	if err := db.UpsertBox(ctx, sess, b); err != nil {
		t.Fatalf("UpsertBox failed: %v", err)
	}

	boxes, err := engine.BoxesFor(ctx, sess, s)
	if err != nil {
		t.Fatalf("BoxesFor failed: %v", err)
	}
	if len(boxes) != 1 {
		t.Fatalf("expected the AWB-keyed box found via probe, got %d", len(boxes))
	}
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	locks := newKeyedMutex()

	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("INV001")
			defer unlock()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("expected one holder at a time for the same key, saw %d", maxActive)
	}
}

func TestConcurrentPullAndWriteThrough(t *testing.T) {
	engine, remote, _, _ := newTestEngine(t, PolicySkip)
	ctx := context.Background()

	seedRemoteShipment(t, remote, "INV900", "AWB900", "INV900", 1)

	var shipments []*model.Shipment
	for i := 1; i <= 4; i++ {
		s := &model.Shipment{
			InvoiceNo: fmt.Sprintf("INV%03d", i),
			AWBNo:     fmt.Sprintf("AWB%03d", i),
			Status:    "draft",
		}
		if _, err := engine.WriteShipment(ctx, sess, s); err != nil {
			t.Fatalf("WriteShipment %s failed: %v", s.InvoiceNo, err)
		}
		shipments = append(shipments, s)
	}

	// A background pull loop racing write-throughs on other shipments: the
	// per-key locks deliberately do not serialize these, so the shared
	// resolver state is what this exercises.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			if _, err := engine.Pull(ctx, sess); err != nil {
				t.Errorf("pull failed: %v", err)
				return
			}
		}
	}()
	for _, s := range shipments {
		wg.Add(1)
		go func(s *model.Shipment) {
			defer wg.Done()
			for ord := 1; ord <= 5; ord++ {
				b := &model.Box{Ordinal: ord, WeightKg: 1}
				if _, err := engine.WriteBox(ctx, sess, s, b); err != nil {
					t.Errorf("WriteBox %s/%d failed: %v", s.InvoiceNo, ord, err)
					return
				}
			}
		}(s)
	}
	wg.Wait()
}

func TestIdentityProbeHonorsRemoteTimeout(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "waybill.db")
	db, err := localstore.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	if err := db.InitSchema(ctx); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	remote := &stallingRemote{Store: memory.New()}
	engine := New(db, remote, nil, Config{
		RemoteTimeout: 50 * time.Millisecond,
		Logger:        log.New(io.Discard, "", 0),
	})

	s := &model.Shipment{InvoiceNo: "INV001", AWBNo: "AWB123", Status: "draft"}
	if _, err := engine.WriteShipment(ctx, sess, s); err != nil {
		t.Fatalf("WriteShipment failed: %v", err)
	}

	// The probe hits the stalled ListBoxes. Without a per-probe deadline the
	// write would block forever on a background context.
	done := make(chan struct{})
	var werr error
	go func() {
		defer close(done)
		b := &model.Box{Ordinal: 1, WeightKg: 2}
		_, werr = engine.WriteBox(ctx, sess, s, b)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("box write hung on a stalled remote probe")
	}
	if werr != nil {
		t.Fatalf("WriteBox failed: %v", werr)
	}

	// Timed-out probes fall back to the invoice key for the pass.
	boxes, err := db.ListBoxesByParentKey(ctx, sess, "INV001")
	if err != nil {
		t.Fatalf("ListBoxesByParentKey failed: %v", err)
	}
	if len(boxes) != 1 {
		t.Errorf("expected box committed under the fallback key, got %d", len(boxes))
	}
	if key, _ := db.CanonicalKey(ctx, sess, s.LocalID); key != "" {
		t.Errorf("timed-out resolution must not be persisted, got %q", key)
	}
}

func TestPullDimensionFailureDoesNotAbortPass(t *testing.T) {
	engine, remote, _, db := newTestEngine(t, PolicySkip)
	ctx := context.Background()

	seedRemoteShipment(t, remote, "INV001", "AWB123", "INV001", 1)
	d := &model.Dimension{Kind: model.KindShipper, Name: "Acme Exports"}
	d.SetDefaults()
	if _, err := remote.UpsertDimension(ctx, sess, d); err != nil {
		t.Fatalf("failed to seed dimension: %v", err)
	}

	remote.FailWith("ListDimensions", remotestore.ErrUnavailable)
	report, err := engine.Pull(ctx, sess)
	if err != nil {
		t.Fatalf("dimension listing failure must not abort the pass: %v", err)
	}
	if n, _ := db.CountShipments(ctx, sess); n != 1 {
		t.Errorf("expected the shipment synced despite dimension failures, got %d", n)
	}
	if n, _ := db.CountBoxes(ctx, sess); n != 1 {
		t.Errorf("expected the box synced despite dimension failures, got %d", n)
	}
	if got := report.Collections["dimensions"].Failed; got != len(model.DimensionKinds) {
		t.Errorf("expected %d failed dimension kinds, got %d", len(model.DimensionKinds), got)
	}

	remote.FailWith("ListDimensions", nil)
	report, err = engine.Pull(ctx, sess)
	if err != nil {
		t.Fatalf("retry pull failed: %v", err)
	}
	if report.TotalFailed() != 0 {
		t.Fatalf("retry pull had failures: %s", report.Summary())
	}
	if n, _ := db.CountDimensions(ctx, sess); n != 1 {
		t.Errorf("expected the dimension synced on retry, got %d", n)
	}
}

func TestValidationRejectedBeforeLocalCommit(t *testing.T) {
	engine, _, _, db := newTestEngine(t, PolicySkip)
	ctx := context.Background()

	s := &model.Shipment{Status: "draft"} // no business key
	if _, err := engine.WriteShipment(ctx, sess, s); err == nil {
		t.Fatal("shipment with no business key must be rejected")
	}
	var verr *model.ValidationError
	_, err := engine.WriteShipment(ctx, sess, &model.Shipment{Status: "draft"})
	if !errors.As(err, &verr) {
		t.Errorf("expected ValidationError, got %v", err)
	}
	if n, _ := db.CountShipments(ctx, sess); n != 0 {
		t.Errorf("invalid shipment must not be committed, found %d", n)
	}
}
