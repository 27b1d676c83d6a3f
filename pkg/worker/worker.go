package worker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"streamcart/pkg/logger"
	"streamcart/pkg/queue"
	"streamcart/pkg/telemetry"
)

// Pool runs a static set of workers over the broker's per-key queues.
// Each key hashes to exactly one worker, so all entries for a
// (streamer, client) pair are processed by the same goroutine in FIFO
// order — partition ownership, not locking, is what serializes the
// pipeline's check-then-act idempotency step.
type Pool struct {
	broker     *queue.Broker
	pipe       *Pipeline
	workers    int
	popTimeout time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewPool creates a pool of n workers polling the broker.
func NewPool(broker *queue.Broker, pipe *Pipeline, n int, popTimeout time.Duration) *Pool {
	if n <= 0 {
		n = 4
	}
	if popTimeout <= 0 {
		popTimeout = 250 * time.Millisecond
	}
	return &Pool{broker: broker, pipe: pipe, workers: n, popTimeout: popTimeout, stop: make(chan struct{})}
}

// ownerOf maps a queue key to its worker index.
func (p *Pool) ownerOf(key string) int {
	return int(xxhash.Sum64String(key) % uint64(p.workers))
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	logger.Info("worker_pool_started", "workers", p.workers)
}

// Stop asks the workers to stop claiming new entries and waits for them.
// A worker mid-entry finishes its current gateway call and the rest of
// that entry's pipeline before exiting; nothing in flight is dropped.
func (p *Pool) Stop() {
	close(p.stop)
	p.wg.Wait()
	logger.Info("worker_pool_stopped")
}

func (p *Pool) run(idx int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		keys := p.ownedKeys(idx)
		if len(keys) == 0 {
			select {
			case <-time.After(p.popTimeout):
			case <-p.stop:
				return
			}
			continue
		}
		for _, key := range keys {
			select {
			case <-p.stop:
				return
			default:
			}
			it := p.broker.PopBlocking(key, p.popTimeout)
			if it == nil {
				continue
			}
			c, err := it.Comment()
			it.Done()
			if err != nil {
				logger.Error("queue_payload_invalid", "key", key, "error", err)
				continue
			}
			logger.Debug("processing_comment", "worker", idx, "key", key, "comment", c.ID)
			// The entry is finished even if shutdown begins mid-call;
			// per-gateway client timeouts bound how long that takes.
			p.pipe.Process(context.Background(), key, c)
			telemetry.QueueDepth.Set(float64(p.broker.Depth()))
		}
	}
}

// ownedKeys returns this worker's partition of the active keys, sorted for
// a stable claim order.
func (p *Pool) ownedKeys(idx int) []string {
	all := p.broker.Keys()
	owned := all[:0]
	for _, k := range all {
		if p.ownerOf(k) == idx {
			owned = append(owned, k)
		}
	}
	sort.Strings(owned)
	return owned
}
