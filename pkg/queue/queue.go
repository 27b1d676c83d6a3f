package queue

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/bytebufferpool"

	"streamcart/pkg/logger"
	"streamcart/pkg/models"
	"streamcart/pkg/store"
	"streamcart/pkg/telemetry"
)

var (
	// ErrQueueFull is returned by Push when the per-key queue is at
	// capacity. Ingestion surfaces this fast; the audit append has
	// already succeeded so the comment remains replayable.
	ErrQueueFull = errors.New("work queue full")
	// ErrQueueClosed is returned when Push is attempted after the broker
	// has shut down.
	ErrQueueClosed = errors.New("work queue closed")
)

// KeyFor derives the deterministic queue name for a (streamer, client)
// pair. The prefix mirrors the original per-client list layout.
func KeyFor(streamer, client string) string {
	return "chat:queue:" + streamer + ":" + client
}

// Item wraps a queued entry and owns a pooled ByteBuffer holding the
// serialized comment. Consumers MUST call Done() exactly once after
// processing to return pooled resources.
type Item struct {
	Key        string
	Seq        int64
	EnqueuedAt int64 // unix nanos
	// Payload is the JSON-encoded comment, backed by a pooled buffer.
	Payload []byte

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
}

var itemPool = sync.Pool{New: func() any { return &Item{} }}

// Done releases pooled resources back to their pools.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.buf != nil {
			if cap(it.buf.B) > int(maxPooledBuffer.Load()) {
				// drop oversized buffers so GC can reclaim them
				it.buf = nil
			} else {
				bytebufferpool.Put(it.buf)
				it.buf = nil
			}
		}
		it.Payload = nil
		itemPool.Put(it)
	})
}

// Comment decodes the pooled payload. Call before Done().
func (it *Item) Comment() (models.Comment, error) {
	var c models.Comment
	err := json.Unmarshal(it.Payload, &c)
	return c, err
}

// Expired reports whether the entry outlived ttl without being consumed.
func (it *Item) Expired(ttl time.Duration) bool {
	return ttl > 0 && time.Now().UnixNano()-it.EnqueuedAt > int64(ttl)
}

// maxPooledBuffer controls the largest buffer returned to the pool.
var maxPooledBuffer atomic.Int64

func init() { maxPooledBuffer.Store(256 * 1024) }

// SetMaxPooledBuffer overrides the pooled-buffer ceiling (startup only).
func SetMaxPooledBuffer(n int64) {
	if n > 0 {
		maxPooledBuffer.Store(n)
	}
}

type keyQueue struct {
	ch chan *Item
}

// Broker owns the per-(streamer,client) FIFO queues. Entries for the same
// key are consumed in push order; entries across keys interleave freely.
// Each push writes through to the durable queue namespace so a restart can
// recover unconsumed work.
type Broker struct {
	mu       sync.RWMutex
	queues   map[string]*keyQueue
	capacity int
	ttl      time.Duration
	closed   bool

	dropped uint64
	expired uint64
	pushed  uint64
}

// NewBroker creates a broker with the given per-key capacity and entry TTL.
func NewBroker(capacityPerKey int, ttl time.Duration) *Broker {
	if capacityPerKey <= 0 {
		capacityPerKey = 1024
	}
	return &Broker{queues: make(map[string]*keyQueue), capacity: capacityPerKey, ttl: ttl}
}

func (b *Broker) queueFor(key string, create bool) *keyQueue {
	b.mu.RLock()
	q := b.queues[key]
	b.mu.RUnlock()
	if q != nil || !create {
		return q
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	if q = b.queues[key]; q == nil {
		q = &keyQueue{ch: make(chan *Item, b.capacity)}
		b.queues[key] = q
	}
	return q
}

func newItem(key string, seq, enqueuedAt int64, payload []byte) *Item {
	it := itemPool.Get().(*Item)
	it.Key = key
	it.Seq = seq
	it.EnqueuedAt = enqueuedAt
	it.once = sync.Once{}
	bb := bytebufferpool.Get()
	bb.B = append(bb.B[:0], payload...)
	it.buf = bb
	it.Payload = bb.B[:len(payload)]
	return it
}

// Push enqueues a comment under key. The durable copy is written first;
// when the in-memory queue is full the durable copy is removed again and
// ErrQueueFull is returned so ingestion can fail fast.
func (b *Broker) Push(key string, c models.Comment) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrQueueClosed
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	seq := store.NextSeq()
	now := time.Now().UnixNano()
	entry := models.QueueEntry{Comment: c, EnqueuedAt: now}
	if err := store.PutQueueEntry(key, seq, entry); err != nil {
		return err
	}
	it := newItem(key, seq, now, payload)
	q := b.queueFor(key, true)
	if q == nil {
		it.Done()
		_ = store.DeleteQueueEntry(key, seq)
		return ErrQueueClosed
	}
	select {
	case q.ch <- it:
		atomic.AddUint64(&b.pushed, 1)
		return nil
	default:
		it.Done()
		_ = store.DeleteQueueEntry(key, seq)
		atomic.AddUint64(&b.dropped, 1)
		logger.Warn("queue_full", "key", key)
		return ErrQueueFull
	}
}

// PopBlocking removes the oldest live entry for key, waiting up to timeout.
// Expired entries found at the head are dropped silently (counted, never an
// error) and the wait continues. Returns nil when nothing arrived in time.
// The durable copy is deleted as part of the pop.
func (b *Broker) PopBlocking(key string, timeout time.Duration) *Item {
	q := b.queueFor(key, false)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var ch chan *Item
	if q != nil {
		ch = q.ch
	}
	for {
		select {
		case it, ok := <-ch:
			if !ok {
				return nil
			}
			_ = store.DeleteQueueEntry(it.Key, it.Seq)
			if it.Expired(b.ttl) {
				atomic.AddUint64(&b.expired, 1)
				telemetry.QueueExpiredTotal.Inc()
				logger.Debug("queue_entry_expired_at_pop", "key", key, "seq", it.Seq)
				it.Done()
				continue
			}
			return it
		case <-timer.C:
			return nil
		}
	}
}

// Recover reloads unconsumed durable entries into memory. Called once at
// startup before workers begin claiming keys.
func (b *Broker) Recover() (int, error) {
	entries, err := store.LoadQueueEntries()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, re := range entries {
		if b.ttl > 0 && time.Now().UnixNano()-re.Entry.EnqueuedAt > int64(b.ttl) {
			_ = store.DeleteQueueEntry(re.Key, re.Seq)
			atomic.AddUint64(&b.expired, 1)
			telemetry.QueueExpiredTotal.Inc()
			continue
		}
		payload, merr := json.Marshal(re.Entry.Comment)
		if merr != nil {
			continue
		}
		it := newItem(re.Key, re.Seq, re.Entry.EnqueuedAt, payload)
		q := b.queueFor(re.Key, true)
		select {
		case q.ch <- it:
			n++
		default:
			it.Done()
		}
	}
	if n > 0 {
		logger.Info("queue_recovered", "entries", n)
	}
	return n, nil
}

// Keys returns a snapshot of the active queue keys.
func (b *Broker) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.queues))
	for k := range b.queues {
		out = append(out, k)
	}
	return out
}

// Depth returns the total number of in-memory entries across all keys.
func (b *Broker) Depth() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, q := range b.queues {
		n += len(q.ch)
	}
	return n
}

// Dropped returns entries rejected because a queue was full.
func (b *Broker) Dropped() uint64 { return atomic.LoadUint64(&b.dropped) }

// Expired returns entries dropped by TTL at pop or recovery.
func (b *Broker) Expired() uint64 { return atomic.LoadUint64(&b.expired) }

// Pushed returns entries accepted into queues.
func (b *Broker) Pushed() uint64 { return atomic.LoadUint64(&b.pushed) }

// CloseAndDrain stops accepting pushes and releases remaining in-memory
// items. Durable copies are kept for recovery on the next start.
func (b *Broker) CloseAndDrain() {
	b.mu.Lock()
	b.closed = true
	queues := b.queues
	b.queues = make(map[string]*keyQueue)
	b.mu.Unlock()
	for _, q := range queues {
		close(q.ch)
		for it := range q.ch {
			it.Done()
		}
	}
}
