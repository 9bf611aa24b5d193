package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/chronodiff/chronodiff/internal/schema"
)

func startServer(t *testing.T, status StatusFunc) *Server {
	t.Helper()
	server := NewServer(&Config{
		Port:   0,
		Status: status,
		Logger: slog.New(slog.DiscardHandler),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func dial(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	return msg
}

// checkJSON compares two JSON documents semantically.
func checkJSON(t *testing.T, want string, got []byte) {
	t.Helper()
	var w, g any
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		t.Fatalf("bad expected JSON: %v", err)
	}
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("failed to decode %s: %v", got, err)
	}
	if !reflect.DeepEqual(w, g) {
		t.Errorf("JSON = %s, want %s", got, want)
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: slog.New(slog.DiscardHandler)})
	if err := server.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if server.Addr() == "" {
		t.Error("Addr() is empty after Start")
	}
	if err := server.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}
}

// TestWebSocketConnection verifies that a new client receives a
// watcher_status welcome carrying the session status.
func TestWebSocketConnection(t *testing.T) {
	server := startServer(t, func() any {
		return map[string]any{"records": 3}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, server)

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeWatcherStatus {
		t.Errorf("welcome type = %q, want %q", msg.Type, MessageTypeWatcherStatus)
	}
	checkJSON(t, `{"records":3}`, msg.Data)
	if n := server.ClientCount(); n != 1 {
		t.Errorf("ClientCount() = %d, want 1", n)
	}
}

// TestHandler_RecordCommitted verifies that a committed record reaches
// connected clients with its per-file summary.
func TestHandler_RecordCommitted(t *testing.T) {
	server := startServer(t, nil)
	handler := NewHandler(server, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, server)
	readMessage(t, ctx, conn) // welcome

	start := time.Date(2026, 3, 2, 10, 15, 4, 0, time.UTC)
	handler.RecordCommitted(&schema.RecordMeta{
		RecordID:  "3f9a1c0b7e21",
		ProjectID: "a41be09c55d2",
		StartedAt: start,
		EndedAt:   start.Add(70 * time.Millisecond),
		Files: []schema.FileRecord{
			{Path: "a.txt", Op: schema.OpModified, BeforeSHA: "aa", AfterSHA: "bb", Stats: schema.FileStats{Added: 2, Removed: 1, Chunks: 1}},
		},
		Stats: schema.RecordStats{Files: 1, LinesAdded: 2, LinesRemoved: 1},
	})

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeRecordCommitted {
		t.Fatalf("message type = %q, want %q", msg.Type, MessageTypeRecordCommitted)
	}

	var data RecordData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("failed to decode record data: %v", err)
	}
	if data.RecordID != "3f9a1c0b7e21" || data.Stats.LinesAdded != 2 {
		t.Errorf("record data = %+v", data)
	}
	want := FileSummary{Path: "a.txt", Op: schema.OpModified, Added: 2, Removed: 1}
	if len(data.Files) != 1 || data.Files[0] != want {
		t.Errorf("files = %+v, want [%+v]", data.Files, want)
	}
}

func TestHandler_FailuresAndDrops(t *testing.T) {
	server := startServer(t, nil)
	handler := NewHandler(server, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, server)
	readMessage(t, ctx, conn)

	handler.BatchFailed(4, errors.New("disk full"))
	handler.EventsDropped(17)

	failed := readMessage(t, ctx, conn)
	if failed.Type != MessageTypeBatchFailed {
		t.Fatalf("first message type = %q, want %q", failed.Type, MessageTypeBatchFailed)
	}
	checkJSON(t, `{"paths":4,"error":"disk full"}`, failed.Data)

	dropped := readMessage(t, ctx, conn)
	if dropped.Type != MessageTypeEventsDropped {
		t.Fatalf("second message type = %q, want %q", dropped.Type, MessageTypeEventsDropped)
	}
	checkJSON(t, `{"total":17}`, dropped.Data)
}

func TestHealthEndpoint(t *testing.T) {
	server := startServer(t, func() any {
		return map[string]any{"events_dropped": 2}
	})

	resp, err := http.Get("http://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Status  string         `json:"status"`
		Clients int            `json:"clients"`
		Watcher map[string]any `json:"watcher"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health: %v", err)
	}
	if body.Status != "ok" || body.Clients != 0 {
		t.Errorf("health = %+v", body)
	}
	if got, _ := body.Watcher["events_dropped"].(float64); got != 2 {
		t.Errorf("watcher.events_dropped = %v, want 2", body.Watcher["events_dropped"])
	}
}

// TestBroadcast_DropsWhenFull verifies that Broadcast never blocks even
// when nothing drains the queue.
func TestBroadcast_DropsWhenFull(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: slog.New(slog.DiscardHandler)})
	defer server.cancel()

	done := make(chan struct{})
	go func() {
		for range 250 {
			server.Broadcast(Message{Type: MessageTypeEventsDropped})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a full queue")
	}
	if n := len(server.broadcast); n != 100 {
		t.Errorf("queued %d messages, want 100", n)
	}
}
