package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"streamcart/pkg/logger"
	"streamcart/pkg/models"
)

// The audit log is the append-only record of every ingested comment,
// mirrored from the original comments_stream. It is never mutated by the
// pipeline; readers page through it with a cursor and no reader removes
// entries. Retention is operator-driven only.

const auditPrefix = "audit:log:"

// AuditEntry pairs a log position with the comment stored at it.
type AuditEntry struct {
	LogID   int64          `json:"log_id"`
	Comment models.Comment `json:"comment"`
}

func auditKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", auditPrefix, id))
}

// AppendComment appends a comment to the audit log and writes the comment
// record with a pending intent placeholder. The append is fsynced before
// returning: once the caller sees a log id the comment survives a writer
// crash.
func AppendComment(c models.Comment) (int64, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal comment: %w", err)
	}
	id := nextID()
	if err := set(auditKey(id), data, true); err != nil {
		logger.Error("audit_append_failed", "comment", c.ID, "error", err)
		return 0, err
	}
	// comment record + intent placeholder, overwritten once by the worker
	if err := set(commentKey(c.ID), data, false); err != nil {
		return 0, err
	}
	placeholder := models.IntentResult{CommentID: c.ID, Pending: true}
	pb, _ := json.Marshal(placeholder)
	if err := set(intentKey(c.ID), pb, false); err != nil {
		return 0, err
	}
	logger.Debug("audit_appended", "log_id", id, "comment", c.ID)
	return id, nil
}

// ReadAudit returns up to limit entries with log ids strictly greater than
// cursor, in log order. Multiple independent readers each keep their own
// cursor.
func ReadAudit(cursor int64, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	iter, err := prefixIter([]byte(auditPrefix))
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	start := auditKey(cursor + 1)
	var out []AuditEntry
	for ok := iter.SeekGE(start); ok && len(out) < limit; ok = iter.Next() {
		idStr := strings.TrimPrefix(string(iter.Key()), auditPrefix)
		id, perr := strconv.ParseInt(idStr, 10, 64)
		if perr != nil {
			continue
		}
		var c models.Comment
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			logger.Warn("audit_entry_corrupt", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, AuditEntry{LogID: id, Comment: c})
	}
	return out, iter.Error()
}

// SweepAudit deletes audit entries older than cutoff. Only the retention
// runner calls this, and only when an operator configured a period.
func SweepAudit(cutoff time.Time) (int, error) {
	iter, err := prefixIter([]byte(auditPrefix))
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	cutoffID := snowflakeFloor(cutoff)
	var keys [][]byte
	for ok := iter.First(); ok; ok = iter.Next() {
		idStr := strings.TrimPrefix(string(iter.Key()), auditPrefix)
		id, perr := strconv.ParseInt(idStr, 10, 64)
		if perr != nil || id >= cutoffID {
			break
		}
		keys = append(keys, append([]byte(nil), iter.Key()...))
	}
	for _, k := range keys {
		if err := del(k); err != nil {
			return len(keys), err
		}
	}
	return len(keys), iter.Error()
}

// snowflakeFloor returns the smallest snowflake id a timestamp at t could
// produce, for range comparisons against stored ids.
func snowflakeFloor(t time.Time) int64 {
	const snowflakeEpochMs = 1288834974657 // twitter epoch used by bwmarrin/snowflake
	ms := t.UnixMilli() - snowflakeEpochMs
	if ms < 0 {
		ms = 0
	}
	return ms << 22
}
