package models

// Comment is a single ingested live-stream comment. Comments are immutable
// once appended to the audit log; the pipeline records its results alongside
// the comment record, never in place of it.
type Comment struct {
	ID       string `json:"id"`
	Streamer string `json:"streamer"`
	Client   string `json:"client"`
	Text     string `json:"message"`
	// ReceivedAt is the ingestion timestamp (RFC3339). Defaults to the
	// server receive time when the producer omits it.
	ReceivedAt string `json:"timestamp"`
}

// QueueEntry is the wire form held in the per-(streamer,client) work queue:
// the ingestion payload plus the enqueue timestamp used for TTL expiry.
type QueueEntry struct {
	Comment    Comment `json:"comment"`
	EnqueuedAt int64   `json:"enqueuedAt"` // unix nanos
}
