package validation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// IngestPayload is the raw ingestion body before it becomes a Comment.
// Timestamp is optional and defaults to the receive time upstream.
type IngestPayload struct {
	Streamer  string `json:"streamer"`
	Client    string `json:"client"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}

const maxNameLen = 255

// ValidateIngest checks an ingestion payload against the boundary rules.
// A failure here is a ValidationError in the pipeline taxonomy: the
// request is rejected synchronously and nothing is enqueued.
func ValidateIngest(p IngestPayload, maxMessageLen int) error {
	if maxMessageLen <= 0 {
		maxMessageLen = 2000
	}
	var errs []string
	if p.Streamer == "" {
		errs = append(errs, "streamer is required")
	} else if len(p.Streamer) > maxNameLen {
		errs = append(errs, fmt.Sprintf("streamer exceeds %d chars", maxNameLen))
	}
	if p.Client == "" {
		errs = append(errs, "client is required")
	} else if len(p.Client) > maxNameLen {
		errs = append(errs, fmt.Sprintf("client exceeds %d chars", maxNameLen))
	}
	if strings.TrimSpace(p.Message) == "" {
		errs = append(errs, "message cannot be empty or whitespace only")
	} else if len(p.Message) > maxMessageLen {
		errs = append(errs, fmt.Sprintf("message exceeds %d chars", maxMessageLen))
	}
	// timestamp is optional but must be well-formed when supplied; it flows
	// into the vision request downstream
	if p.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339, p.Timestamp); err != nil {
			errs = append(errs, "timestamp must be RFC3339")
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
