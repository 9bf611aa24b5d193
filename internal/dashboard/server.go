// Package dashboard streams watch session activity to WebSocket clients.
//
// Every committed record, failed batch and dropped-event warning is
// broadcast as a JSON Message on /ws. /health reports the session counters.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeRecordCommitted indicates a new record was committed
	MessageTypeRecordCommitted MessageType = "record_committed"

	// MessageTypeBatchFailed indicates a batch was abandoned
	MessageTypeBatchFailed MessageType = "batch_failed"

	// MessageTypeEventsDropped indicates the event buffer overflowed
	MessageTypeEventsDropped MessageType = "events_dropped"

	// MessageTypeWatcherStatus carries session state; sent on connect
	MessageTypeWatcherStatus MessageType = "watcher_status"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StatusFunc returns the current session state for /health and the
// welcome message. It must be safe for concurrent use.
type StatusFunc func() any

// Server manages WebSocket connections and broadcasts dashboard messages
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	status   StatusFunc

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger
}

// Config holds server configuration
type Config struct {
	// Host to bind (default: 127.0.0.1)
	Host string

	// Port to listen on; 0 picks a free port
	Port int

	// Status supplies session state. Optional.
	Status StatusFunc

	// Logger for server activity
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:   "127.0.0.1",
		Port:   8765,
		Logger: slog.Default(),
	}
}

// NewServer creates a new dashboard WebSocket server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	host := config.Host
	if host == "" {
		host = "127.0.0.1"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      net.JoinHostPort(host, strconv.Itoa(config.Port)),
		status:    config.Status,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Start begins the HTTP server and WebSocket handler
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
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("dashboard listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("dashboard server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "watch session ending")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	s.logger.Debug("dashboard stopped")
	return nil
}

// Broadcast queues msg for every connected client. It never blocks; when
// the queue is full the message is dropped.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Warn("broadcast channel full, dropping message", "type", msg.Type)
	}
}

// broadcastLoop handles message broadcasting to all clients
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
				s.logger.Warn("failed to marshal message", "error", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Debug("failed to send to client", "error", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Debug("client connected", "clients", clientCount)

	welcome, err := NewMessage(MessageTypeWatcherStatus, s.currentStatus())
	if err == nil {
		data, _ := json.Marshal(welcome)
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		_ = conn.Write(ctx, websocket.MessageText, data)
		cancel()
	}

	go s.readLoop(conn)
}

// readLoop keeps the WebSocket connection alive and handles client disconnects
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

// removeClient safely removes a client connection
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Debug("client disconnected", "clients", clientCount)
}

func (s *Server) currentStatus() any {
	if s.status == nil {
		return nil
	}
	return s.status()
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
		"watcher": s.currentStatus(),
	})
}

// handleRoot returns basic server information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "chronodiff live feed\n\nwebsocket: ws://%s/ws\nhealth:    http://%s/health\n", r.Host, r.Host)
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// NewMessage marshals data into a Message of type t.
func NewMessage(t MessageType, data any) (Message, error) {
	msg := Message{Type: t, Timestamp: time.Now()}
	if data == nil {
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s data: %w", t, err)
	}
	msg.Data = raw
	return msg, nil
}
