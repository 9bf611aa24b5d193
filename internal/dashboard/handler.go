package dashboard

import (
	"log/slog"
	"time"

	"github.com/chronodiff/chronodiff/internal/schema"
)

// FileSummary is one file entry of a committed record.
type FileSummary struct {
	Path    string        `json:"path"`
	Op      schema.FileOp `json:"op"`
	Added   int           `json:"added"`
	Removed int           `json:"removed"`
}

// RecordData describes a committed record.
type RecordData struct {
	RecordID     string             `json:"record_id"`
	ProjectID    string             `json:"project_id"`
	PrevRecordID string             `json:"prev_record_id,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	EndedAt      time.Time          `json:"ended_at"`
	Stats        schema.RecordStats `json:"stats"`
	Files        []FileSummary      `json:"files"`
}

// BatchFailedData describes an abandoned batch.
type BatchFailedData struct {
	Paths int    `json:"paths"`
	Error string `json:"error"`
}

// EventsDroppedData reports the running total of dropped events.
type EventsDroppedData struct {
	Total uint64 `json:"total"`
}

// Handler turns watch session callbacks into dashboard messages. It
// satisfies the daemon's Notifier interface.
type Handler struct {
	server *Server
	logger *slog.Logger
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{server: server, logger: logger}
}

// RecordCommitted broadcasts a record_committed message.
func (h *Handler) RecordCommitted(meta *schema.RecordMeta) {
	data := RecordData{
		RecordID:     meta.RecordID,
		ProjectID:    meta.ProjectID,
		PrevRecordID: meta.PrevRecordID,
		StartedAt:    meta.StartedAt,
		EndedAt:      meta.EndedAt,
		Stats:        meta.Stats,
		Files:        make([]FileSummary, 0, len(meta.Files)),
	}
	for _, f := range meta.Files {
		data.Files = append(data.Files, FileSummary{
			Path:    f.Path,
			Op:      f.Op,
			Added:   f.Stats.Added,
			Removed: f.Stats.Removed,
		})
	}
	h.send(MessageTypeRecordCommitted, data)
}

// BatchFailed broadcasts a batch_failed message.
func (h *Handler) BatchFailed(paths int, err error) {
	h.send(MessageTypeBatchFailed, BatchFailedData{Paths: paths, Error: err.Error()})
}

// EventsDropped broadcasts an events_dropped message.
func (h *Handler) EventsDropped(total uint64) {
	h.send(MessageTypeEventsDropped, EventsDroppedData{Total: total})
}

func (h *Handler) send(t MessageType, data any) {
	msg, err := NewMessage(t, data)
	if err != nil {
		h.logger.Warn("failed to build dashboard message", "type", t, "error", err)
		return
	}
	h.server.Broadcast(msg)
}
