package models

// Intent labels returned by the intent gateway.
const (
	IntentBuy       = "buy"
	IntentQuestion  = "question"
	IntentFeedback  = "feedback"
	IntentComplaint = "complaint"
	IntentNone      = "none"
)

// IntentResult is the classification recorded for a comment. A pending
// placeholder is written when the comment record is created and overwritten
// exactly once by the orchestrator.
type IntentResult struct {
	CommentID  string  `json:"comment_id"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Pending    bool    `json:"pending,omitempty"`
}

// ProductMatch is the vision gateway's product identification for the
// stream frame nearest the comment timestamp.
type ProductMatch struct {
	Streamer        string  `json:"streamer"`
	StreamTimestamp string  `json:"stream_timestamp"`
	ProductID       string  `json:"product_id"`
	Confidence      float64 `json:"confidence"`
}

// Order statuses as reported by the order gateway.
const (
	OrderPending = "pending"
	OrderPaid    = "paid"
	OrderFailed  = "failed"
)

// Order is the commercial outcome of a gated-in comment. At most one order
// exists per comment id; the comment id is the idempotency key.
type Order struct {
	OrderID    string  `json:"order_id"`
	ProductID  string  `json:"product_id"`
	Buyer      string  `json:"buyer"`
	Streamer   string  `json:"streamer"`
	Quantity   int     `json:"quantity"`
	TotalPrice float64 `json:"total_price"`
	Status     string  `json:"status"`
}

// TraceLink is the sole authoritative mapping from a raw comment to its
// commercial outcome. Append-only.
type TraceLink struct {
	CommentID string `json:"comment_id"`
	OrderID   string `json:"order_id"`
}

// Notification statuses.
const (
	NotifyPending = "pending"
	NotifySent    = "sent"
	NotifyFailed  = "failed"
)

// NotificationRecord tracks a delivery attempt for an order confirmation.
type NotificationRecord struct {
	OrderID string `json:"order_id"`
	Channel string `json:"channel"`
	Status  string `json:"status"`
	Attempt int    `json:"attempt"`
}

// Trace is the full assembled path from a comment to its outcome, returned
// by the traceability lookups.
type Trace struct {
	Comment       Comment              `json:"comment"`
	Intent        *IntentResult        `json:"intent,omitempty"`
	Match         *ProductMatch        `json:"match,omitempty"`
	Order         *Order               `json:"order,omitempty"`
	Notifications []NotificationRecord `json:"notifications,omitempty"`
}
