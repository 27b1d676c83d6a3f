package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"streamcart/pkg/config"
	"streamcart/pkg/logger"
	"streamcart/pkg/models"
	"streamcart/pkg/queue"
	"streamcart/pkg/store"
	"streamcart/pkg/telemetry"
	"streamcart/pkg/validation"
)

// Handler serves the ingestion front door and the trace/ops endpoints.
// Ingestion is deliberately thin: validate, audit-append, enqueue. The
// caller never learns the eventual pipeline outcome synchronously.
type Handler struct {
	Broker  *queue.Broker
	Cfg     *config.Config
	Version string
}

// Router builds the versioned API router.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/comments", h.ingestComment).Methods(http.MethodPost)
	r.HandleFunc("/v1/comments/{id}/trace", h.commentTrace).Methods(http.MethodGet)
	r.HandleFunc("/v1/orders/{id}/trace", h.orderTrace).Methods(http.MethodGet)
	r.HandleFunc("/v1/audit", h.readAudit).Methods(http.MethodGet)
	r.HandleFunc("/v1/deadletters", h.listDeadLetters).Methods(http.MethodGet)
	r.HandleFunc("/v1/deadletters/{id}/replay", h.replayDeadLetter).Methods(http.MethodPost)
	r.HandleFunc("/v1/status", h.status).Methods(http.MethodGet)
	return r
}

// ingestResponse echoes where the comment went: the derived queue key and
// the audit log position.
type ingestResponse struct {
	OK        bool   `json:"ok"`
	CommentID string `json:"comment_id"`
	QueuedTo  string `json:"queued_to"`
	LogID     int64  `json:"log_id"`
	Timestamp string `json:"timestamp"`
}

func (h *Handler) ingestComment(w http.ResponseWriter, r *http.Request) {
	logger.LogRequest(r)
	var p validation.IngestPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidateIngest(p, h.Cfg.Ingest.MaxMessageLen); err != nil {
		telemetry.CommentsRejectedTotal.Inc()
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.Timestamp == "" {
		p.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	c := models.Comment{
		ID:         uuid.NewString(),
		Streamer:   p.Streamer,
		Client:     p.Client,
		Text:       p.Message,
		ReceivedAt: p.Timestamp,
	}

	// Audit first: once the append succeeds the comment is recoverable
	// even if the queue rejects it.
	logID, err := store.AppendComment(c)
	if err != nil {
		logger.Error("audit_append_failed", "error", err)
		writeErr(w, http.StatusInternalServerError, "audit append failed")
		return
	}
	key := queue.KeyFor(c.Streamer, c.Client)
	if err := h.Broker.Push(key, c); err != nil {
		if err == queue.ErrQueueFull {
			telemetry.QueueFullTotal.Inc()
		}
		logger.Warn("enqueue_failed", "key", key, "log_id", logID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error":  "queue unavailable: " + err.Error(),
			"log_id": logID,
		})
		return
	}
	telemetry.CommentsIngestedTotal.Inc()
	logger.Info("comment_ingested", "comment", c.ID, "key", key, "log_id", logID)
	writeJSON(w, http.StatusAccepted, ingestResponse{OK: true, CommentID: c.ID, QueuedTo: key, LogID: logID, Timestamp: c.ReceivedAt})
}

func (h *Handler) commentTrace(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	t, err := store.TraceForComment(id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if t == nil {
		writeErr(w, http.StatusNotFound, "comment not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) orderTrace(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	t, err := store.FindByOrder(id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if t == nil {
		writeErr(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) readAudit(w http.ResponseWriter, r *http.Request) {
	var cursor int64
	if v := r.URL.Query().Get("cursor"); v != "" {
		var err error
		if cursor, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid cursor")
			return
		}
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := store.ReadAudit(cursor, limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	next := cursor
	if len(entries) > 0 {
		next = entries[len(entries)-1].LogID
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries":     entries,
		"next_cursor": next,
	})
}

func (h *Handler) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	dls, err := store.ListDeadLetters()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if dls == nil {
		dls = []models.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"dead_letters": dls})
}

// replayDeadLetter re-enqueues a preserved entry through the normal
// pipeline. The orchestrator's idempotency pre-check makes replaying an
// entry whose order already exists a no-op.
func (h *Handler) replayDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	dl, err := store.GetDeadLetter(id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if dl == nil {
		writeErr(w, http.StatusNotFound, "dead letter not found")
		return
	}
	if err := h.Broker.Push(dl.Key, dl.Comment); err != nil {
		writeErr(w, http.StatusServiceUnavailable, "requeue failed: "+err.Error())
		return
	}
	if err := store.DeleteDeadLetter(id); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Info("dead_letter_replayed", "id", id, "comment", dl.Comment.ID, "key", dl.Key)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "comment_id": dl.Comment.ID, "queued_to": dl.Key})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":       "streamcart",
		"version":       h.Version,
		"store":         store.Ready(),
		"queue_depth":   h.Broker.Depth(),
		"queue_expired": h.Broker.Expired(),
		"queue_dropped": h.Broker.Dropped(),
		"gateways": map[string]string{
			"intent":       h.Cfg.Gateways.Intent.URL,
			"vision":       h.Cfg.Gateways.Vision.URL,
			"order":        h.Cfg.Gateways.Order.URL,
			"notification": h.Cfg.Gateways.Notification.URL,
		},
	})
}
