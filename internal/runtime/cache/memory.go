package cache

import (
	"context"
	"strings"
	"sync"
)

// memoryStore keeps entries in a sync.Map so readers and writers of
// different keys never contend on a shared lock.
type memoryStore struct {
	entries sync.Map
}

func NewMemory() Store {
	return &memoryStore{}
}

func (c *memoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	value, ok := c.entries.Load(key)
	if !ok {
		return Entry{}, false, nil
	}
	return value.(Entry), true, nil
}

func (c *memoryStore) Put(_ context.Context, key string, entry Entry) error {
	c.entries.Store(key, cloneEntry(entry))
	return nil
}

func (c *memoryStore) Delete(_ context.Context, key string) error {
	c.entries.Delete(key)
	return nil
}

func (c *memoryStore) DeletePrefix(_ context.Context, prefix string) error {
	c.entries.Range(func(k, _ any) bool {
		if strings.HasPrefix(k.(string), prefix) {
			c.entries.Delete(k)
		}
		return true
	})
	return nil
}

func (c *memoryStore) Size(_ context.Context) (int64, error) {
	var n int64
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n, nil
}

func (c *memoryStore) Close(_ context.Context) error {
	c.entries.Clear()
	return nil
}

func cloneEntry(in Entry) Entry {
	out := in
	if in.Content != nil {
		out.Content = make([]byte, len(in.Content))
		copy(out.Content, in.Content)
	}
	return out
}
