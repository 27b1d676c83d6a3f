package models

// Stage is the orchestrator's per-comment state machine position. Each
// transition is a pure function of (current stage, gateway response), which
// makes retry and dead-letter replay from any stage mechanical.
type Stage string

const (
	StageQueued         Stage = "queued"
	StageIntentPending  Stage = "intent_pending"
	StageIntentGatedOut Stage = "intent_gated_out"
	StageVisionPending  Stage = "vision_pending"
	StageVisionGatedOut Stage = "vision_gated_out"
	StageOrderPending   Stage = "order_pending"
	StageOrderFailed    Stage = "order_failed"
	StageOrderCreated   Stage = "order_created"
	StageNotifyPending  Stage = "notification_pending"
	StageNotifyFailed   Stage = "notification_failed"
	StageComplete       Stage = "complete"
)

// Terminal reports whether the stage ends the pipeline for a comment.
// OrderFailed is terminal but retryable via dead-letter replay;
// NotifyFailed is terminal and logged (the order stands).
func (s Stage) Terminal() bool {
	switch s {
	case StageIntentGatedOut, StageVisionGatedOut, StageOrderFailed, StageNotifyFailed, StageComplete:
		return true
	}
	return false
}

// DeadLetter preserves the full accumulated state of an entry whose
// processing exhausted retries (or hit a permanent gateway error). Entries
// are never silently discarded on a processing error; only queue TTL expiry
// drops work, and those comments remain in the audit log.
type DeadLetter struct {
	ID        string        `json:"id"`
	Key       string        `json:"key"`
	Stage     Stage         `json:"stage"`
	Comment   Comment       `json:"comment"`
	Intent    *IntentResult `json:"intent,omitempty"`
	Match     *ProductMatch `json:"match,omitempty"`
	Attempts  int           `json:"attempts"`
	LastError string        `json:"last_error"`
	FailedAt  int64         `json:"failed_at"` // unix nanos
}
