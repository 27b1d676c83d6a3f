package store

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/pebble"

	"streamcart/pkg/logger"
)

var (
	db     *pebble.DB
	dbPath string
	ids    *snowflake.Node
)

// Open opens (or creates) a Pebble database at the given path and keeps a
// global handle for simple usage in this package. The snowflake node seeds
// the monotonic ids used for audit log positions and queue sequencing.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	ids, err = snowflake.NewNode(1)
	if err != nil {
		_ = db.Close()
		db = nil
		return fmt.Errorf("snowflake node init: %w", err)
	}
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

// nextID returns a process-wide monotonic id. Snowflake ids embed the
// timestamp, so they stay monotonic across restarts as well.
func nextID() int64 {
	return ids.Generate().Int64()
}

// NextSeq exposes the monotonic id generator for callers that sequence
// their own keys (the queue broker).
func NextSeq() int64 {
	return nextID()
}

// get returns a copied value for key, or (nil, false) when absent.
func get(key []byte) ([]byte, bool, error) {
	if db == nil {
		return nil, false, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, true, nil
}

// set writes key/value. sync=true forces an fsync before returning, used on
// writes that must survive a crash once acknowledged (audit append, trace
// links, dead letters).
func set(key, val []byte, sync bool) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	opt := pebble.NoSync
	if sync {
		opt = pebble.Sync
	}
	return db.Set(key, val, opt)
}

// del removes a key (NoSync; deletions are reconstructible).
func del(key []byte) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	return db.Delete(key, pebble.NoSync)
}

// prefixIter returns an iterator bounded to keys beginning with prefix.
func prefixIter(prefix []byte) (*pebble.Iterator, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	upper := append(append([]byte(nil), prefix...), 0xff)
	return db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
}
