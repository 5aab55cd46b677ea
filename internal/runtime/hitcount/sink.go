package hitcount

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
)

// Sink persists batches of hit counts. Add receives the increments gathered
// since the previous flush, keyed by weblog handle.
type Sink interface {
	Add(ctx context.Context, counts map[string]int64) error
	Close() error
}

// NopSink drops every batch.
type NopSink struct{}

func (NopSink) Add(context.Context, map[string]int64) error { return nil }
func (NopSink) Close() error                                { return nil }

const keyPrefix = "hits:"

// LevelDBSink keeps running totals per weblog in a goleveldb database.
type LevelDBSink struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) the totals database at path.
func OpenLevelDB(path string) (*LevelDBSink, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("hitcount: open %s: %w", path, err)
	}
	return NewLevelDBSink(db), nil
}

// NewLevelDBSink wraps an open database. The sink owns it from here on.
func NewLevelDBSink(db *leveldb.DB) *LevelDBSink {
	return &LevelDBSink{db: db}
}

// Add folds the increments into the stored totals with one batch write.
func (s *LevelDBSink) Add(ctx context.Context, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	for handle, n := range counts {
		key := []byte(keyPrefix + handle)
		total, err := s.read(key)
		if err != nil {
			return err
		}
		batch.Put(key, encodeCount(total+n))
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("hitcount: write batch: %w", err)
	}
	return nil
}

// Total returns the stored count for a weblog.
func (s *LevelDBSink) Total(handle string) (int64, error) {
	return s.read([]byte(keyPrefix + handle))
}

func (s *LevelDBSink) Close() error {
	return s.db.Close()
}

func (s *LevelDBSink) read(key []byte) (int64, error) {
	raw, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("hitcount: read %s: %w", key, err)
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("hitcount: corrupt total for %s", key)
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

func encodeCount(n int64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, uint64(n))
	return out
}
