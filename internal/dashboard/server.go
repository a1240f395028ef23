// Package dashboard provides a real-time WebSocket view of sync activity.
//
// The server broadcasts sync progress, pass completions and shipment
// changes to connected WebSocket clients so an operator can watch a
// device's replication state live.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/waybill-app/waybill/internal/syncengine"
)

// MessageType defines the type of dashboard message.
type MessageType string

const (
	// MessageTypeSyncProgress reports per-stage progress inside a pass.
	MessageTypeSyncProgress MessageType = "sync_progress"

	// MessageTypeSyncComplete reports a finished pull or push pass.
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeShipmentUpdate indicates a shipment was written or deleted.
	MessageTypeShipmentUpdate MessageType = "shipment_update"

	// MessageTypeStats carries store counts.
	MessageTypeStats MessageType = "stats"
)

// Message represents a dashboard broadcast message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SyncProgressData mirrors the engine's progress callback.
type SyncProgressData struct {
	Stage string `json:"stage"`
	Done  int    `json:"done"`
	Total int    `json:"total,omitempty"`
}

// SyncCompleteData summarizes one finished pass.
type SyncCompleteData struct {
	Direction   string                       `json:"direction"` // pull or push
	Collections map[string]*syncengine.Stats `json:"collections,omitempty"`
	FailedKeys  []string                     `json:"failed_keys,omitempty"`
	Error       string                       `json:"error,omitempty"`
}

// ShipmentUpdateData describes a local shipment change.
type ShipmentUpdateData struct {
	Key    string `json:"key"`
	Action string `json:"action"` // created, updated, deleted
	Status string `json:"status,omitempty"`
	Synced bool   `json:"synced"`
}

// StatsData carries local store counts.
type StatsData struct {
	Shipments int `json:"shipments"`
	Boxes     int `json:"boxes"`
	Products  int `json:"products"`
	Pending   int `json:"pending"`
}

// Server manages WebSocket connections and broadcasts dashboard messages.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration.
type Config struct {
	// Port to listen on. Port 0 picks a free port.
	Port int

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   8422,
		Logger: log.Default(),
	}
}

// NewServer creates a dashboard WebSocket server.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start begins the HTTP server and WebSocket handler.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	s.logger.Println("Dashboard server stopped")
	return nil
}

// Broadcast sends a message to all connected clients. Non-blocking: when
// the channel is full the message is dropped, the dashboard is advisory.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// BroadcastSyncComplete publishes the outcome of a pull or push pass.
func (s *Server) BroadcastSyncComplete(direction string, report *syncengine.Report, passErr error) {
	data := SyncCompleteData{Direction: direction}
	if report != nil {
		data.Collections = report.Collections
		data.FailedKeys = report.FailedKeys
	}
	if passErr != nil {
		data.Error = passErr.Error()
	}
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Printf("Failed to marshal sync completion: %v", err)
		return
	}
	s.Broadcast(Message{Type: MessageTypeSyncComplete, Data: raw})
}

// BroadcastProgress publishes one progress tick. Wire it into the engine as
// its ProgressFunc.
func (s *Server) BroadcastProgress(stage string, done, total int) {
	raw, err := json.Marshal(SyncProgressData{Stage: stage, Done: done, Total: total})
	if err != nil {
		return
	}
	s.Broadcast(Message{Type: MessageTypeSyncProgress, Data: raw})
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)
	go s.readLoop(conn)
}

// readLoop keeps the connection alive and handles client disconnects.
// Client messages are not processed.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
		return
	}
	s.clientsMu.Unlock()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": clientCount,
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Waybill Sync Dashboard</title>
</head>
<body>
    <h1>Waybill Sync Dashboard</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Health check: <a href="/health">/health</a></p>
    <p>Connect a WebSocket client to receive live sync progress.</p>
</body>
</html>`, r.Host)
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
