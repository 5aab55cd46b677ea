package cache

import (
	"context"
	"time"
)

// Entry is one rendered page variant. Entries are immutable once stored:
// callers must not modify Content after Put or after reading it back.
type Entry struct {
	Content     []byte    `json:"content"`
	ContentType string    `json:"contentType"`
	CreatedAt   time.Time `json:"createdAt"`
}

// FreshSince reports whether the entry was produced at or after the freshness timestamp.
func (e Entry) FreshSince(freshness time.Time) bool {
	return !e.CreatedAt.Before(freshness)
}

// Store is the key/value backend underneath a ContentCache.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, entry Entry) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}
