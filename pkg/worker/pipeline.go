package worker

import (
	"context"
	"fmt"
	"time"

	"streamcart/pkg/config"
	"streamcart/pkg/gateway"
	"streamcart/pkg/logger"
	"streamcart/pkg/models"
	"streamcart/pkg/store"
	"streamcart/pkg/telemetry"
)

// Pipeline drives one comment through the gated state machine:
//
//	IntentPending -> {IntentGatedOut | VisionPending}
//	VisionPending -> {VisionGatedOut | OrderPending}
//	OrderPending  -> {OrderFailed | OrderCreated}
//	OrderCreated  -> NotifyPending -> {NotifyFailed | Complete}
//
// Every transition is a function of (stage, gateway response); transient
// gateway failures are retried with bounded exponential backoff and
// exhaustion (or a permanent failure) routes the entry, with all state
// accumulated so far, to the dead-letter sink.
type Pipeline struct {
	cfg    config.PipelineConfig
	intent *gateway.IntentClient
	vision *gateway.VisionClient
	order  *gateway.OrderClient
	notify *gateway.NotifyClient
}

// NewPipeline builds a pipeline from an immutable config snapshot and the
// four gateway clients.
func NewPipeline(cfg config.PipelineConfig, intent *gateway.IntentClient, vision *gateway.VisionClient, order *gateway.OrderClient, notify *gateway.NotifyClient) *Pipeline {
	return &Pipeline{cfg: cfg, intent: intent, vision: vision, order: order, notify: notify}
}

// Result is the terminal outcome for one processed entry.
type Result struct {
	Stage        models.Stage
	Intent       *models.IntentResult
	Match        *models.ProductMatch
	Order        *models.Order
	DeadLetterID string
}

// Process runs the state machine for one dequeued comment. It always
// reaches a terminal stage; an entry is never dropped on a processing
// error (only queue TTL expiry drops work, upstream of this call).
func (p *Pipeline) Process(ctx context.Context, key string, c models.Comment) Result {
	start := time.Now()
	res := p.run(ctx, key, c)
	telemetry.PipelineDuration.Observe(time.Since(start).Seconds())
	telemetry.StageOutcomesTotal.WithLabelValues(string(res.Stage)).Inc()
	if !res.Stage.Terminal() && res.DeadLetterID == "" {
		// every entry must end terminal or dead-lettered
		logger.Warn("pipeline_nonterminal_outcome", "comment", c.ID, "stage", string(res.Stage))
	}
	logger.Info("pipeline_done", "comment", c.ID, "key", key, "stage", string(res.Stage))
	return res
}

func (p *Pipeline) run(ctx context.Context, key string, c models.Comment) Result {
	res := Result{Stage: models.StageIntentPending}

	// stage 1: intent classification
	var ir gateway.IntentResponse
	attempts, err := p.callWithRetry(ctx, "intent", func(ctx context.Context) error {
		var cerr error
		ir, cerr = p.intent.Predict(ctx, c.Text)
		return cerr
	})
	if err != nil {
		res.DeadLetterID = p.deadLetter(key, c, &res, attempts, err)
		return res
	}
	res.Intent = &models.IntentResult{CommentID: c.ID, Label: ir.Intent, Confidence: ir.Score}
	if serr := store.SetIntentResult(*res.Intent); serr != nil {
		logger.Warn("intent_record_failed", "comment", c.ID, "error", serr)
	}
	// Precision over recall: a false positive costs a wasted vision and
	// order call, a false negative only loses a sale.
	if ir.Intent != models.IntentBuy || ir.Score <= p.cfg.IntentThreshold {
		res.Stage = models.StageIntentGatedOut
		return res
	}

	// stage 2: vision product match
	res.Stage = models.StageVisionPending
	var vr gateway.VisionResponse
	attempts, err = p.callWithRetry(ctx, "vision", func(ctx context.Context) error {
		var cerr error
		vr, cerr = p.vision.Match(ctx, c.Streamer, c.ReceivedAt, nil)
		return cerr
	})
	if err != nil {
		res.DeadLetterID = p.deadLetter(key, c, &res, attempts, err)
		return res
	}
	res.Match = &models.ProductMatch{Streamer: c.Streamer, StreamTimestamp: c.ReceivedAt, ProductID: vr.ProductID, Confidence: vr.Score}
	if serr := store.SetProductMatch(c.ID, *res.Match); serr != nil {
		logger.Warn("match_record_failed", "comment", c.ID, "error", serr)
	}
	// Stricter than the intent gate: a wrong match causes a wrong purchase.
	if vr.ProductID == "" || vr.Score <= p.cfg.VisionThreshold {
		res.Stage = models.StageVisionGatedOut
		return res
	}

	// stage 3: order creation, idempotent on comment id. The pre-check
	// runs serialized under this worker's key partition, so check-then-act
	// cannot race with another attempt for the same comment.
	res.Stage = models.StageOrderPending
	if existing, lerr := store.FindByComment(c.ID); lerr != nil {
		res.DeadLetterID = p.deadLetter(key, c, &res, 1, fmt.Errorf("trace pre-check: %w", lerr))
		return res
	} else if existing != "" {
		telemetry.DuplicateOrdersTotal.Inc()
		logger.Info("duplicate_order_noop", "comment", c.ID, "order", existing)
		res.Order, _ = store.GetOrder(existing)
		res.Stage = models.StageComplete
		return res
	}
	var or gateway.OrderResponse
	attempts, err = p.callWithRetry(ctx, "order", func(ctx context.Context) error {
		var cerr error
		or, cerr = p.order.Create(ctx, gateway.OrderRequest{
			ProductID:      vr.ProductID,
			Buyer:          c.Client,
			Streamer:       c.Streamer,
			Source:         p.cfg.OrderSource,
			Quantity:       1,
			IdempotencyKey: c.ID,
		})
		return cerr
	})
	if err != nil {
		res.Stage = models.StageOrderFailed
		res.DeadLetterID = p.deadLetter(key, c, &res, attempts, err)
		return res
	}
	order := models.Order{
		OrderID:    or.OrderID,
		ProductID:  vr.ProductID,
		Buyer:      c.Client,
		Streamer:   c.Streamer,
		Quantity:   1,
		TotalPrice: or.TotalPrice,
		Status:     or.Status,
	}
	res.Order = &order
	if serr := store.SaveOrder(order); serr != nil {
		res.Stage = models.StageOrderFailed
		res.DeadLetterID = p.deadLetter(key, c, &res, 1, fmt.Errorf("save order: %w", serr))
		return res
	}
	if serr := store.RecordLink(c.ID, order.OrderID); serr != nil {
		res.Stage = models.StageOrderFailed
		res.DeadLetterID = p.deadLetter(key, c, &res, 1, fmt.Errorf("record trace link: %w", serr))
		return res
	}
	telemetry.OrdersCreatedTotal.Inc()
	res.Stage = models.StageOrderCreated

	// stage 4: notification, best-effort. A failure here is terminal and
	// logged; the order stands.
	res.Stage = models.StageNotifyPending
	rec := models.NotificationRecord{OrderID: order.OrderID, Channel: p.cfg.NotifyChannel, Attempt: 1}
	_, nerr := p.notify.Send(ctx, gateway.NotifyRequest{
		OrderID:   order.OrderID,
		Channel:   p.cfg.NotifyChannel,
		Recipient: c.Client,
		Message:   fmt.Sprintf("Your order %s is %s.", order.OrderID, order.Status),
	})
	if nerr != nil {
		rec.Status = models.NotifyFailed
		res.Stage = models.StageNotifyFailed
		logger.Warn("notification_failed", "order", order.OrderID, "error", nerr)
	} else {
		rec.Status = models.NotifySent
		res.Stage = models.StageComplete
	}
	telemetry.NotificationsTotal.WithLabelValues(rec.Status).Inc()
	if serr := store.AppendNotification(rec); serr != nil {
		logger.Warn("notification_record_failed", "order", order.OrderID, "error", serr)
	}
	return res
}

// callWithRetry invokes fn, retrying transient gateway failures with
// exponential backoff up to the configured attempt budget. Permanent
// failures return immediately. Returns the number of attempts made so a
// dead letter can record how far the entry actually got.
func (p *Pipeline) callWithRetry(ctx context.Context, name string, fn func(context.Context) error) (int, error) {
	attempts := p.cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := p.cfg.RetryBackoff.Duration()
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return attempt, nil
		}
		if gateway.IsPermanent(err) {
			return attempt, err
		}
		if attempt < attempts {
			telemetry.GatewayRetriesTotal.WithLabelValues(name).Inc()
			logger.Warn("gateway_retry", "gateway", name, "attempt", attempt, "error", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return attempt, err
			}
			backoff *= 2
		}
	}
	return attempts, err
}

// deadLetter preserves the entry with everything accumulated so far.
// attempts is how many calls the failing stage actually made.
func (p *Pipeline) deadLetter(key string, c models.Comment, res *Result, attempts int, cause error) string {
	dl := models.DeadLetter{
		Key:       key,
		Stage:     res.Stage,
		Comment:   c,
		Intent:    res.Intent,
		Match:     res.Match,
		Attempts:  attempts,
		LastError: cause.Error(),
		FailedAt:  time.Now().UnixNano(),
	}
	id, err := store.PutDeadLetter(dl)
	if err != nil {
		// last resort: the entry state survives only in logs
		logger.Error("dead_letter_write_failed", "comment", c.ID, "stage", string(res.Stage), "cause", cause, "error", err)
		return ""
	}
	telemetry.DeadLettersTotal.Inc()
	return id
}
