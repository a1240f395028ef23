package daemon

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/waybill-app/waybill/internal/localstore"
	"github.com/waybill-app/waybill/internal/model"
	"github.com/waybill-app/waybill/internal/remotestore/memory"
	"github.com/waybill-app/waybill/internal/session"
	"github.com/waybill-app/waybill/internal/syncengine"
)

var sess = session.New("tenant-1", "daemon-test")

func newTestDaemon(t *testing.T, config *Config, notify Notify) (*Daemon, *memory.Store) {
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
	engine := syncengine.New(db, remote, nil, syncengine.Config{
		Logger: log.New(io.Discard, "", 0),
	})

	d, err := New(engine, sess, dbPath, config, notify)
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	return d, remote
}

func TestNewRejectsInvalidSession(t *testing.T) {
	_, err := New(nil, session.Session{}, "", nil, nil)
	if err == nil {
		t.Fatal("expected error for nil engine and empty session")
	}
}

func TestInitialPullRunsOnStart(t *testing.T) {
	var mu sync.Mutex
	var pulls int
	notify := func(direction string, _ *syncengine.Report, err error) {
		if direction != "pull" {
			return
		}
		mu.Lock()
		pulls++
		mu.Unlock()
		if err != nil {
			t.Errorf("initial pull failed: %v", err)
		}
	}

	config := DefaultConfig()
	config.Logger = log.New(io.Discard, "", 0)
	d, remote := newTestDaemon(t, config, notify)

	s := &model.Shipment{InvoiceNo: "INV001", Status: "confirmed"}
	s.SetDefaults()
	if _, err := remote.UpsertShipment(context.Background(), sess, s); err != nil {
		t.Fatalf("failed to seed remote: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		mu.Lock()
		n := pulls
		mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("initial pull never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("daemon shutdown failed: %v", err)
	}
}

func TestTriggerPushDebounces(t *testing.T) {
	config := DefaultConfig()
	config.Logger = log.New(io.Discard, "", 0)
	config.DebounceInterval = 50 * time.Millisecond
	d, _ := newTestDaemon(t, config, nil)

	d.TriggerPush()
	if d.takePushRequest() {
		t.Error("request taken before the debounce window elapsed")
	}

	time.Sleep(60 * time.Millisecond)
	if !d.takePushRequest() {
		t.Error("request not taken after the debounce window")
	}
	if d.takePushRequest() {
		t.Error("request taken twice")
	}
}
