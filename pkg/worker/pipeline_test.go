package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"streamcart/pkg/config"
	"streamcart/pkg/gateway"
	"streamcart/pkg/models"
	"streamcart/pkg/queue"
	"streamcart/pkg/store"
)

func openStore(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		Workers:         2,
		IntentThreshold: 0.5,
		VisionThreshold: 0.7,
		MaxAttempts:     3,
		RetryBackoff:    config.Duration(time.Millisecond),
		OrderSource:     "live_stream",
		NotifyChannel:   "sms",
	}
}

// fakeGateways stands in for the four downstream services behind one mux.
type fakeGateways struct {
	srv *httptest.Server

	intentCalls atomic.Int64
	visionCalls atomic.Int64
	orderCalls  atomic.Int64
	notifyCalls atomic.Int64

	intent func(w http.ResponseWriter, r *http.Request)
	vision func(w http.ResponseWriter, r *http.Request)
	order  func(w http.ResponseWriter, r *http.Request)
	notify func(w http.ResponseWriter, r *http.Request)
}

func newFakeGateways(t *testing.T) *fakeGateways {
	t.Helper()
	f := &fakeGateways{}
	f.intent = func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gateway.IntentResponse{Intent: models.IntentBuy, Score: 0.9})
	}
	f.vision = func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gateway.VisionResponse{ProductID: "SKU-1", Score: 0.85})
	}
	f.order = func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gateway.OrderResponse{OrderID: "order-1", Status: models.OrderPending, TotalPrice: 49.5})
	}
	f.notify = func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gateway.NotifyResponse{Status: models.NotifySent})
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/predict_intent", func(w http.ResponseWriter, r *http.Request) {
		f.intentCalls.Add(1)
		f.intent(w, r)
	})
	mux.HandleFunc("/match_product", func(w http.ResponseWriter, r *http.Request) {
		f.visionCalls.Add(1)
		f.vision(w, r)
	})
	mux.HandleFunc("/order/create", func(w http.ResponseWriter, r *http.Request) {
		f.orderCalls.Add(1)
		f.order(w, r)
	})
	mux.HandleFunc("/notify", func(w http.ResponseWriter, r *http.Request) {
		f.notifyCalls.Add(1)
		f.notify(w, r)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGateways) pipeline(cfg config.PipelineConfig) *Pipeline {
	u := f.srv.URL
	return NewPipeline(cfg,
		gateway.NewIntentClient(u, time.Second),
		gateway.NewVisionClient(u, time.Second),
		gateway.NewOrderClient(u, time.Second),
		gateway.NewNotifyClient(u, time.Second),
	)
}

func testComment(id string) models.Comment {
	return models.Comment{ID: id, Streamer: "alice", Client: "bob", Text: "I want to buy that jacket", ReceivedAt: "2026-08-24T10:00:00Z"}
}

func TestProcessHappyPath(t *testing.T) {
	openStore(t)
	f := newFakeGateways(t)
	p := f.pipeline(testPipelineConfig())
	c := testComment("c1")
	if _, err := store.AppendComment(c); err != nil {
		t.Fatalf("append: %v", err)
	}

	res := p.Process(context.Background(), queue.KeyFor(c.Streamer, c.Client), c)
	if res.Stage != models.StageComplete {
		t.Fatalf("stage = %q", res.Stage)
	}
	if res.Order == nil || res.Order.OrderID != "order-1" || res.Order.ProductID != "SKU-1" {
		t.Fatalf("order = %+v", res.Order)
	}

	// trace: comment -> order both ways
	orderID, err := store.FindByComment("c1")
	if err != nil || orderID != "order-1" {
		t.Fatalf("find by comment = %q, %v", orderID, err)
	}
	tr, err := store.FindByOrder("order-1")
	if err != nil || tr == nil {
		t.Fatalf("find by order: %v", err)
	}
	if tr.Intent == nil || tr.Intent.Label != models.IntentBuy {
		t.Fatalf("trace intent = %+v", tr.Intent)
	}
	if len(tr.Notifications) != 1 || tr.Notifications[0].Status != models.NotifySent {
		t.Fatalf("trace notifications = %+v", tr.Notifications)
	}
	if f.orderCalls.Load() != 1 || f.notifyCalls.Load() != 1 {
		t.Fatalf("calls: order=%d notify=%d", f.orderCalls.Load(), f.notifyCalls.Load())
	}
}

func TestProcessIntentGatedOut(t *testing.T) {
	openStore(t)
	f := newFakeGateways(t)
	f.intent = func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gateway.IntentResponse{Intent: models.IntentFeedback, Score: 0.95})
	}
	p := f.pipeline(testPipelineConfig())
	c := testComment("c2")
	if _, err := store.AppendComment(c); err != nil {
		t.Fatalf("append: %v", err)
	}

	res := p.Process(context.Background(), "k", c)
	if res.Stage != models.StageIntentGatedOut {
		t.Fatalf("stage = %q", res.Stage)
	}
	if f.visionCalls.Load() != 0 || f.orderCalls.Load() != 0 {
		t.Fatalf("gated-out comment reached downstream: vision=%d order=%d", f.visionCalls.Load(), f.orderCalls.Load())
	}
	// intent result recorded even when gated out
	ir, err := store.GetIntentResult("c2")
	if err != nil || ir == nil || ir.Label != models.IntentFeedback {
		t.Fatalf("intent = %+v, %v", ir, err)
	}
}

func TestProcessIntentScoreAtThresholdGatedOut(t *testing.T) {
	openStore(t)
	f := newFakeGateways(t)
	f.intent = func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gateway.IntentResponse{Intent: models.IntentBuy, Score: 0.5})
	}
	p := f.pipeline(testPipelineConfig())

	res := p.Process(context.Background(), "k", testComment("c3"))
	if res.Stage != models.StageIntentGatedOut {
		t.Fatalf("score equal to threshold must gate out, stage = %q", res.Stage)
	}
}

func TestProcessVisionGatedOut(t *testing.T) {
	openStore(t)
	f := newFakeGateways(t)
	f.vision = func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gateway.VisionResponse{ProductID: "SKU-1", Score: 0.4})
	}
	p := f.pipeline(testPipelineConfig())

	res := p.Process(context.Background(), "k", testComment("c4"))
	if res.Stage != models.StageVisionGatedOut {
		t.Fatalf("stage = %q", res.Stage)
	}
	if f.orderCalls.Load() != 0 {
		t.Fatalf("order called for gated-out match")
	}
}

func TestProcessTransientExhaustionDeadLetters(t *testing.T) {
	openStore(t)
	f := newFakeGateways(t)
	f.intent = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}
	p := f.pipeline(testPipelineConfig())
	c := testComment("c5")

	res := p.Process(context.Background(), "k", c)
	if res.Stage != models.StageIntentPending {
		t.Fatalf("stage = %q", res.Stage)
	}
	if res.DeadLetterID == "" {
		t.Fatalf("expected dead letter id")
	}
	if got := f.intentCalls.Load(); got != 3 {
		t.Fatalf("intent calls = %d, want 3", got)
	}
	dl, err := store.GetDeadLetter(res.DeadLetterID)
	if err != nil || dl == nil {
		t.Fatalf("get dead letter: %v", err)
	}
	if dl.Comment.ID != "c5" || dl.Attempts != 3 || dl.LastError == "" {
		t.Fatalf("dead letter = %+v", dl)
	}
}

func TestProcessPermanentFailureNoRetry(t *testing.T) {
	openStore(t)
	f := newFakeGateways(t)
	f.order = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid product", http.StatusBadRequest)
	}
	p := f.pipeline(testPipelineConfig())

	res := p.Process(context.Background(), "k", testComment("c6"))
	if res.Stage != models.StageOrderFailed {
		t.Fatalf("stage = %q", res.Stage)
	}
	if res.DeadLetterID == "" {
		t.Fatalf("expected dead letter")
	}
	if got := f.orderCalls.Load(); got != 1 {
		t.Fatalf("permanent failure retried: order calls = %d", got)
	}
	// accumulated state preserved on the dead letter, with the real
	// attempt count (one call, no retries)
	dl, _ := store.GetDeadLetter(res.DeadLetterID)
	if dl == nil || dl.Intent == nil || dl.Match == nil {
		t.Fatalf("dead letter missing accumulated state: %+v", dl)
	}
	if dl.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", dl.Attempts)
	}
}

func TestProcessInvalidVisionConfidenceNeverOrders(t *testing.T) {
	openStore(t)
	f := newFakeGateways(t)
	f.vision = func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gateway.VisionResponse{ProductID: "SKU-1", Score: 1.5})
	}
	p := f.pipeline(testPipelineConfig())

	res := p.Process(context.Background(), "k", testComment("c9"))
	if res.Stage == models.StageComplete {
		t.Fatalf("out-of-range confidence completed the pipeline")
	}
	if f.orderCalls.Load() != 0 {
		t.Fatalf("out-of-range confidence drove an order")
	}
	if res.DeadLetterID == "" {
		t.Fatalf("expected dead letter for contract violation")
	}
	dl, _ := store.GetDeadLetter(res.DeadLetterID)
	if dl == nil || dl.Attempts != 1 {
		t.Fatalf("dead letter = %+v", dl)
	}
	// contract violations are permanent: a single vision call
	if f.visionCalls.Load() != 1 {
		t.Fatalf("vision calls = %d, want 1", f.visionCalls.Load())
	}
}

func TestProcessDuplicateIsNoop(t *testing.T) {
	openStore(t)
	f := newFakeGateways(t)
	p := f.pipeline(testPipelineConfig())
	c := testComment("c7")
	if _, err := store.AppendComment(c); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.SaveOrder(models.Order{OrderID: "existing-1", ProductID: "SKU-1", Buyer: "bob", Streamer: "alice", Quantity: 1, Status: models.OrderPaid}); err != nil {
		t.Fatalf("save order: %v", err)
	}
	if err := store.RecordLink("c7", "existing-1"); err != nil {
		t.Fatalf("record link: %v", err)
	}

	res := p.Process(context.Background(), "k", c)
	if res.Stage != models.StageComplete {
		t.Fatalf("stage = %q", res.Stage)
	}
	if res.Order == nil || res.Order.OrderID != "existing-1" {
		t.Fatalf("expected existing order, got %+v", res.Order)
	}
	if f.orderCalls.Load() != 0 {
		t.Fatalf("duplicate created a second order")
	}
}

func TestProcessNotifyFailureOrderStands(t *testing.T) {
	openStore(t)
	f := newFakeGateways(t)
	f.notify = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "provider down", http.StatusServiceUnavailable)
	}
	p := f.pipeline(testPipelineConfig())
	c := testComment("c8")

	res := p.Process(context.Background(), "k", c)
	if res.Stage != models.StageNotifyFailed {
		t.Fatalf("stage = %q", res.Stage)
	}
	// the order survives the failed notification
	o, err := store.GetOrder("order-1")
	if err != nil || o == nil {
		t.Fatalf("order missing: %v", err)
	}
	recs, _ := store.ListNotifications("order-1")
	if len(recs) != 1 || recs[0].Status != models.NotifyFailed {
		t.Fatalf("notification records = %+v", recs)
	}
}

func TestPoolProcessesFIFOPerKey(t *testing.T) {
	openStore(t)
	f := newFakeGateways(t)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})
	f.intent = func(w http.ResponseWriter, r *http.Request) {
		var req gateway.IntentRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		order = append(order, req.Text)
		if len(order) == 3 {
			close(done)
		}
		mu.Unlock()
		// gate everything out so the pipeline stays single-stage
		_ = json.NewEncoder(w).Encode(gateway.IntentResponse{Intent: models.IntentNone, Score: 0.1})
	}

	cfg := testPipelineConfig()
	cfg.Workers = 1
	p := f.pipeline(cfg)
	b := queue.NewBroker(16, time.Hour)
	pool := NewPool(b, p, 1, 20*time.Millisecond)

	key := queue.KeyFor("alice", "bob")
	for _, text := range []string{"one", "two", "three"} {
		c := models.Comment{ID: text, Streamer: "alice", Client: "bob", Text: text}
		if err := b.Push(key, c); err != nil {
			t.Fatalf("push %s: %v", text, err)
		}
	}
	pool.Start()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("pool did not process entries in time")
	}
	pool.Stop()
	b.CloseAndDrain()

	mu.Lock()
	defer mu.Unlock()
	if len(order) < 3 || order[0] != "one" || order[1] != "two" || order[2] != "three" {
		t.Fatalf("processing order = %v", order)
	}
}
