package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"streamcart/pkg/config"
	"streamcart/pkg/models"
	"streamcart/pkg/queue"
	"streamcart/pkg/store"
)

func newTestHandler(t *testing.T) (*Handler, *queue.Broker) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	eff, err := config.LoadEffective(config.Flags{Config: "missing.yaml", Set: map[string]bool{}})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	b := queue.NewBroker(16, time.Hour)
	t.Cleanup(b.CloseAndDrain)
	return &Handler{Broker: b, Cfg: eff.Config, Version: "test"}, b
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestIngestAccepted(t *testing.T) {
	h, b := newTestHandler(t)
	r := h.Router()

	w := postJSON(t, r, "/v1/comments", map[string]string{
		"streamer": "alice", "client": "bob", "message": "I want to buy that jacket",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		OK        bool   `json:"ok"`
		CommentID string `json:"comment_id"`
		QueuedTo  string `json:"queued_to"`
		LogID     int64  `json:"log_id"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.OK || resp.CommentID == "" || resp.LogID == 0 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.QueuedTo != "chat:queue:alice:bob" {
		t.Fatalf("queued_to = %q", resp.QueuedTo)
	}
	if resp.Timestamp == "" {
		t.Fatalf("expected defaulted timestamp")
	}
	if b.Depth() != 1 {
		t.Fatalf("queue depth = %d", b.Depth())
	}
	// audited before enqueue
	entries, err := store.ReadAudit(0, 10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("audit entries = %d, %v", len(entries), err)
	}
	if entries[0].Comment.ID != resp.CommentID {
		t.Fatalf("audit id = %q, want %q", entries[0].Comment.ID, resp.CommentID)
	}
}

func TestIngestInvalidJSON(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/comments", bytes.NewReader([]byte("{nope")))
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestIngestValidationRejects(t *testing.T) {
	h, b := newTestHandler(t)
	w := postJSON(t, h.Router(), "/v1/comments", map[string]string{"streamer": "alice", "message": "hi"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if b.Depth() != 0 {
		t.Fatalf("rejected payload was enqueued")
	}
	if entries, _ := store.ReadAudit(0, 10); len(entries) != 0 {
		t.Fatalf("rejected payload was audited")
	}
}

func TestIngestMalformedTimestamp(t *testing.T) {
	h, b := newTestHandler(t)
	w := postJSON(t, h.Router(), "/v1/comments", map[string]string{
		"streamer": "alice", "client": "bob", "message": "buy", "timestamp": "yesterday-ish",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if b.Depth() != 0 {
		t.Fatalf("rejected payload was enqueued")
	}
	if entries, _ := store.ReadAudit(0, 10); len(entries) != 0 {
		t.Fatalf("rejected payload was audited")
	}
}

func TestIngestKeepsValidTimestamp(t *testing.T) {
	h, _ := newTestHandler(t)
	const ts = "2026-08-24T12:00:00Z"
	w := postJSON(t, h.Router(), "/v1/comments", map[string]string{
		"streamer": "alice", "client": "bob", "message": "buy", "timestamp": ts,
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Timestamp != ts {
		t.Fatalf("timestamp = %q, want %q", resp.Timestamp, ts)
	}
}

func TestIngestQueueFullKeepsAudit(t *testing.T) {
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	eff, _ := config.LoadEffective(config.Flags{Config: "missing.yaml", Set: map[string]bool{}})
	b := queue.NewBroker(1, time.Hour)
	t.Cleanup(b.CloseAndDrain)
	h := &Handler{Broker: b, Cfg: eff.Config, Version: "test"}
	r := h.Router()

	body := map[string]string{"streamer": "alice", "client": "bob", "message": "buy"}
	if w := postJSON(t, r, "/v1/comments", body); w.Code != http.StatusAccepted {
		t.Fatalf("first ingest = %d", w.Code)
	}
	w := postJSON(t, r, "/v1/comments", body)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("second ingest = %d", w.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["log_id"] == nil {
		t.Fatalf("503 must carry the audit log id: %v", resp)
	}
	// both comments are in the audit log even though one was not queued
	if entries, _ := store.ReadAudit(0, 10); len(entries) != 2 {
		t.Fatalf("audit entries = %d", len(entries))
	}
}

func TestCommentTrace(t *testing.T) {
	h, _ := newTestHandler(t)
	r := h.Router()

	req := httptest.NewRequest(http.MethodGet, "/v1/comments/unknown/trace", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown trace = %d", w.Code)
	}

	c := models.Comment{ID: "c1", Streamer: "alice", Client: "bob", Text: "buy"}
	if _, err := store.AppendComment(c); err != nil {
		t.Fatalf("append: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/v1/comments/c1/trace", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("trace = %d", w.Code)
	}
	var tr models.Trace
	if err := json.Unmarshal(w.Body.Bytes(), &tr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tr.Comment.ID != "c1" || tr.Intent == nil || !tr.Intent.Pending {
		t.Fatalf("trace = %+v", tr)
	}
}

func TestOrderTrace(t *testing.T) {
	h, _ := newTestHandler(t)
	r := h.Router()
	c := models.Comment{ID: "c1", Streamer: "alice", Client: "bob", Text: "buy"}
	if _, err := store.AppendComment(c); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.SaveOrder(models.Order{OrderID: "o1", Buyer: "bob"}); err != nil {
		t.Fatalf("save order: %v", err)
	}
	if err := store.RecordLink("c1", "o1"); err != nil {
		t.Fatalf("record link: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/orders/o1/trace", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("order trace = %d", w.Code)
	}
	var tr models.Trace
	_ = json.Unmarshal(w.Body.Bytes(), &tr)
	if tr.Comment.ID != "c1" || tr.Order == nil || tr.Order.OrderID != "o1" {
		t.Fatalf("trace = %+v", tr)
	}
}

func TestAuditPaging(t *testing.T) {
	h, _ := newTestHandler(t)
	r := h.Router()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := store.AppendComment(models.Comment{ID: id, Text: id}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/audit?limit=2", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("audit = %d", w.Code)
	}
	var page struct {
		Entries    []store.AuditEntry `json:"entries"`
		NextCursor int64              `json:"next_cursor"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Entries) != 2 || page.NextCursor == 0 {
		t.Fatalf("page = %+v", page)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/audit?cursor="+jsonInt(page.NextCursor), nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var rest struct {
		Entries []store.AuditEntry `json:"entries"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &rest)
	if len(rest.Entries) != 1 || rest.Entries[0].Comment.ID != "c" {
		t.Fatalf("rest = %+v", rest)
	}
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestDeadLetterReplay(t *testing.T) {
	h, b := newTestHandler(t)
	r := h.Router()

	dl := models.DeadLetter{
		Key:     "chat:queue:alice:bob",
		Stage:   models.StageOrderFailed,
		Comment: models.Comment{ID: "c1", Streamer: "alice", Client: "bob", Text: "buy"},
	}
	id, err := store.PutDeadLetter(dl)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/deadletters", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var listed struct {
		DeadLetters []models.DeadLetter `json:"dead_letters"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &listed)
	if len(listed.DeadLetters) != 1 || listed.DeadLetters[0].ID != id {
		t.Fatalf("listed = %+v", listed)
	}

	w = postJSON(t, r, "/v1/deadletters/"+id+"/replay", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("replay = %d, body %s", w.Code, w.Body.String())
	}
	if b.Depth() != 1 {
		t.Fatalf("replay did not enqueue: depth = %d", b.Depth())
	}
	if got, _ := store.GetDeadLetter(id); got != nil {
		t.Fatalf("dead letter not removed after replay")
	}

	// replaying again is a 404
	w = postJSON(t, r, "/v1/deadletters/"+id+"/replay", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second replay = %d", w.Code)
	}
}

func TestStatus(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var s map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &s)
	if s["service"] != "streamcart" || s["store"] != true {
		t.Fatalf("status body = %v", s)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	h, _ := newTestHandler(t)
	wrapped := RateLimit(1, 2)(h.Router())

	codes := map[int]int{}
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, req)
		codes[w.Code]++
	}
	if codes[http.StatusTooManyRequests] == 0 {
		t.Fatalf("expected 429s, got %v", codes)
	}
	if codes[http.StatusOK] < 2 {
		t.Fatalf("expected burst of 2 to pass, got %v", codes)
	}
}
