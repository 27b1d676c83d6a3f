package store

import (
	"encoding/json"
	"fmt"

	"streamcart/pkg/logger"
	"streamcart/pkg/models"
)

// Per-comment pipeline records. The orchestrator exclusively owns the state
// transitions of these after creation; nothing else mutates them.

func commentKey(id string) []byte { return []byte("comment:" + id) }
func intentKey(id string) []byte  { return []byte("intent:" + id) }
func matchKey(id string) []byte   { return []byte("match:" + id) }
func orderKey(id string) []byte   { return []byte("order:" + id) }

func notifyKey(orderID string, attempt int) []byte {
	return []byte(fmt.Sprintf("notify:%s:%03d", orderID, attempt))
}

// GetComment returns the stored comment record.
func GetComment(id string) (models.Comment, bool, error) {
	var c models.Comment
	v, ok, err := get(commentKey(id))
	if err != nil || !ok {
		return c, false, err
	}
	if err := json.Unmarshal(v, &c); err != nil {
		return c, false, fmt.Errorf("invalid comment record %s: %w", id, err)
	}
	return c, true, nil
}

// SetIntentResult overwrites the pending intent placeholder for a comment.
func SetIntentResult(r models.IntentResult) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal intent result: %w", err)
	}
	if err := set(intentKey(r.CommentID), b, false); err != nil {
		return err
	}
	logger.Debug("intent_recorded", "comment", r.CommentID, "label", r.Label, "confidence", r.Confidence)
	return nil
}

// GetIntentResult returns the intent result for a comment, if recorded.
func GetIntentResult(commentID string) (*models.IntentResult, error) {
	v, ok, err := get(intentKey(commentID))
	if err != nil || !ok {
		return nil, err
	}
	var r models.IntentResult
	if err := json.Unmarshal(v, &r); err != nil {
		return nil, fmt.Errorf("invalid intent record %s: %w", commentID, err)
	}
	return &r, nil
}

// SetProductMatch records the vision result for a comment.
func SetProductMatch(commentID string, m models.ProductMatch) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal product match: %w", err)
	}
	return set(matchKey(commentID), b, false)
}

// GetProductMatch returns the product match for a comment, if recorded.
func GetProductMatch(commentID string) (*models.ProductMatch, error) {
	v, ok, err := get(matchKey(commentID))
	if err != nil || !ok {
		return nil, err
	}
	var m models.ProductMatch
	if err := json.Unmarshal(v, &m); err != nil {
		return nil, fmt.Errorf("invalid match record %s: %w", commentID, err)
	}
	return &m, nil
}

// SaveOrder persists the order as reported by the order gateway.
func SaveOrder(o models.Order) error {
	b, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	return set(orderKey(o.OrderID), b, true)
}

// GetOrder returns an order by id.
func GetOrder(orderID string) (*models.Order, error) {
	v, ok, err := get(orderKey(orderID))
	if err != nil || !ok {
		return nil, err
	}
	var o models.Order
	if err := json.Unmarshal(v, &o); err != nil {
		return nil, fmt.Errorf("invalid order record %s: %w", orderID, err)
	}
	return &o, nil
}

// AppendNotification records one delivery attempt for an order.
func AppendNotification(n models.NotificationRecord) error {
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification record: %w", err)
	}
	return set(notifyKey(n.OrderID, n.Attempt), b, false)
}

// ListNotifications returns all recorded delivery attempts for an order.
func ListNotifications(orderID string) ([]models.NotificationRecord, error) {
	iter, err := prefixIter([]byte("notify:" + orderID + ":"))
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.NotificationRecord
	for ok := iter.First(); ok; ok = iter.Next() {
		var n models.NotificationRecord
		if err := json.Unmarshal(iter.Value(), &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, iter.Error()
}
