package store

import (
	"encoding/json"
	"fmt"

	"streamcart/pkg/logger"
	"streamcart/pkg/models"
)

// Traceability store: the authoritative comment -> order mapping plus the
// reverse index. Append-only. Uniqueness (at most one order per comment) is
// the orchestrator's invariant, enforced by its pre-check under per-key
// partition ownership; the store is a plain mapping.

func traceByCommentKey(commentID string) []byte { return []byte("trace:comment:" + commentID) }
func traceByOrderKey(orderID string) []byte     { return []byte("trace:order:" + orderID) }

// RecordLink persists the TraceLink both ways, fsynced.
func RecordLink(commentID, orderID string) error {
	l := models.TraceLink{CommentID: commentID, OrderID: orderID}
	b, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("failed to marshal trace link: %w", err)
	}
	if err := set(traceByCommentKey(commentID), b, true); err != nil {
		return err
	}
	if err := set(traceByOrderKey(orderID), b, true); err != nil {
		return err
	}
	logger.Info("trace_link_recorded", "comment", commentID, "order", orderID)
	return nil
}

// FindByComment returns the order id linked to a comment, or "" when none.
func FindByComment(commentID string) (string, error) {
	v, ok, err := get(traceByCommentKey(commentID))
	if err != nil || !ok {
		return "", err
	}
	var l models.TraceLink
	if err := json.Unmarshal(v, &l); err != nil {
		return "", fmt.Errorf("invalid trace link for %s: %w", commentID, err)
	}
	return l.OrderID, nil
}

// FindByOrder assembles the full trace for an order: comment, intent,
// match, order and notification attempts.
func FindByOrder(orderID string) (*models.Trace, error) {
	v, ok, err := get(traceByOrderKey(orderID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var l models.TraceLink
	if err := json.Unmarshal(v, &l); err != nil {
		return nil, fmt.Errorf("invalid trace link for order %s: %w", orderID, err)
	}
	return TraceForComment(l.CommentID)
}

// TraceForComment assembles whatever trace exists for a comment id. A
// gated-out comment yields just the comment and its intent result.
func TraceForComment(commentID string) (*models.Trace, error) {
	c, ok, err := GetComment(commentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	t := &models.Trace{Comment: c}
	if t.Intent, err = GetIntentResult(commentID); err != nil {
		return nil, err
	}
	if t.Match, err = GetProductMatch(commentID); err != nil {
		return nil, err
	}
	orderID, err := FindByComment(commentID)
	if err != nil {
		return nil, err
	}
	if orderID != "" {
		if t.Order, err = GetOrder(orderID); err != nil {
			return nil, err
		}
		if t.Notifications, err = ListNotifications(orderID); err != nil {
			return nil, err
		}
	}
	return t, nil
}
