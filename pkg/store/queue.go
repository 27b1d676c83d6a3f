package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"streamcart/pkg/logger"
	"streamcart/pkg/models"
)

// Durable backing for the per-key work queue. The in-memory broker writes
// through on push and deletes on pop; on startup unconsumed entries are
// reloaded so a restart does not drop accepted work.

const queuePrefix = "queue:"

func queueEntryKey(key string, seq int64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", queuePrefix, key, seq))
}

// PutQueueEntry persists an enqueued entry under its key and sequence.
func PutQueueEntry(key string, seq int64, e models.QueueEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal queue entry: %w", err)
	}
	return set(queueEntryKey(key, seq), b, false)
}

// DeleteQueueEntry removes the durable copy once the entry is popped.
func DeleteQueueEntry(key string, seq int64) error {
	return del(queueEntryKey(key, seq))
}

// RecoveredEntry is a durable queue entry reloaded at startup.
type RecoveredEntry struct {
	Key   string
	Seq   int64
	Entry models.QueueEntry
}

// LoadQueueEntries returns all unconsumed queue entries in (key, seq)
// order, for broker recovery after a restart.
func LoadQueueEntries() ([]RecoveredEntry, error) {
	iter, err := prefixIter([]byte(queuePrefix))
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []RecoveredEntry
	for ok := iter.First(); ok; ok = iter.Next() {
		rest := strings.TrimPrefix(string(iter.Key()), queuePrefix)
		// key itself contains ':'; the sequence is the last segment
		i := strings.LastIndex(rest, ":")
		if i < 0 {
			continue
		}
		var seq int64
		if _, err := fmt.Sscanf(rest[i+1:], "%d", &seq); err != nil {
			continue
		}
		var e models.QueueEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			logger.Warn("queue_entry_corrupt", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, RecoveredEntry{Key: rest[:i], Seq: seq, Entry: e})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Key != out[b].Key {
			return out[a].Key < out[b].Key
		}
		return out[a].Seq < out[b].Seq
	})
	return out, iter.Error()
}

// SweepExpiredQueueEntries deletes durable queue entries older than ttl and
// returns how many were dropped. Expiry is a deliberate trade-off, not an
// error: the comments stay in the audit log for replay.
func SweepExpiredQueueEntries(ttl time.Duration) (int, error) {
	iter, err := prefixIter([]byte(queuePrefix))
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	cutoff := time.Now().Add(-ttl).UnixNano()
	var keys [][]byte
	for ok := iter.First(); ok; ok = iter.Next() {
		var e models.QueueEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			continue
		}
		if e.EnqueuedAt < cutoff {
			keys = append(keys, append([]byte(nil), iter.Key()...))
		}
	}
	for _, k := range keys {
		if err := del(k); err != nil {
			return len(keys), err
		}
	}
	if len(keys) > 0 {
		logger.Info("queue_entries_expired", "count", len(keys), "ttl", ttl.String())
	}
	return len(keys), iter.Error()
}
