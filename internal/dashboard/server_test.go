package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	server := NewServer(&Config{
		Port:   0, // random available port
		Logger: log.New(io.Discard, "", 0),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })

	time.Sleep(100 * time.Millisecond)
	return server
}

func TestServerStartStop(t *testing.T) {
	server := newTestServer(t)
	if server.Addr() == "" {
		t.Fatal("Server address is empty")
	}
}

func TestBroadcastReachesClient(t *testing.T) {
	server := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Let the server register the client before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if count := server.ClientCount(); count != 1 {
		t.Fatalf("Expected 1 client, got %d", count)
	}

	server.BroadcastProgress("syncing shipments", 3, 10)

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeSyncProgress {
		t.Errorf("Expected %s, got %s", MessageTypeSyncProgress, msg.Type)
	}

	var progress SyncProgressData
	if err := json.Unmarshal(msg.Data, &progress); err != nil {
		t.Fatalf("Failed to unmarshal progress data: %v", err)
	}
	if progress.Stage != "syncing shipments" || progress.Done != 3 || progress.Total != 10 {
		t.Errorf("Unexpected progress payload: %+v", progress)
	}
}

func TestBroadcastSyncCompleteCarriesError(t *testing.T) {
	server := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	server.BroadcastSyncComplete("pull", nil, context.DeadlineExceeded)

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	var complete SyncCompleteData
	if err := json.Unmarshal(msg.Data, &complete); err != nil {
		t.Fatalf("Failed to unmarshal completion data: %v", err)
	}
	if complete.Direction != "pull" || complete.Error == "" {
		t.Errorf("Unexpected completion payload: %+v", complete)
	}
}
