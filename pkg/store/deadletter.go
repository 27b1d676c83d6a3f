package store

import (
	"encoding/json"
	"fmt"

	"streamcart/pkg/logger"
	"streamcart/pkg/models"
)

// Dead-letter sink: durable holding area for entries that exhausted retries
// or hit a permanent gateway error, preserved with their accumulated state
// for operator inspection and replay.

const deadLetterPrefix = "deadletter:"

func deadLetterKey(id string) []byte { return []byte(deadLetterPrefix + id) }

// PutDeadLetter stores dl, assigning a monotonic id when empty. Fsynced:
// dead letters are the last copy of failed work.
func PutDeadLetter(dl models.DeadLetter) (string, error) {
	if dl.ID == "" {
		dl.ID = fmt.Sprintf("%020d", nextID())
	}
	b, err := json.Marshal(dl)
	if err != nil {
		return "", fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	if err := set(deadLetterKey(dl.ID), b, true); err != nil {
		return "", err
	}
	logger.Warn("dead_letter_stored", "id", dl.ID, "comment", dl.Comment.ID, "stage", string(dl.Stage), "attempts", dl.Attempts, "last_error", dl.LastError)
	return dl.ID, nil
}

// GetDeadLetter returns a dead letter by id.
func GetDeadLetter(id string) (*models.DeadLetter, error) {
	v, ok, err := get(deadLetterKey(id))
	if err != nil || !ok {
		return nil, err
	}
	var dl models.DeadLetter
	if err := json.Unmarshal(v, &dl); err != nil {
		return nil, fmt.Errorf("invalid dead letter %s: %w", id, err)
	}
	return &dl, nil
}

// ListDeadLetters returns all dead letters in arrival order.
func ListDeadLetters() ([]models.DeadLetter, error) {
	iter, err := prefixIter([]byte(deadLetterPrefix))
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.DeadLetter
	for ok := iter.First(); ok; ok = iter.Next() {
		var dl models.DeadLetter
		if err := json.Unmarshal(iter.Value(), &dl); err != nil {
			logger.Warn("dead_letter_corrupt", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, dl)
	}
	return out, iter.Error()
}

// DeleteDeadLetter removes a dead letter after a successful replay.
func DeleteDeadLetter(id string) error {
	return del(deadLetterKey(id))
}
