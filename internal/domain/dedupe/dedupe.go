// Package dedupe remembers notification keys so a notification is delivered
// at most once even when a machine is re-scored or a send is retried.
package dedupe

import (
	"container/list"
	"context"
	"sync"
)

const defaultMaxKeys = 50000

// Deduper records notification keys.
type Deduper interface {
	// SeenAndRecord atomically checks whether key was recorded and records
	// it if not. It returns true when the key was already present.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord forgets a key so a failed delivery may be attempted again.
	Unrecord(ctx context.Context, key string)

	// Seen reports whether key is recorded without recording it.
	Seen(ctx context.Context, key string) bool

	Size() int64
}

// ledger is a bounded key set evicting the oldest key first.
type ledger struct {
	mu      sync.Mutex
	keys    map[string]*list.Element
	order   *list.List // front is oldest
	maxKeys int        // <= 0 means unbounded
}

// NewInMemoryDeduper creates an in-memory ledger.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &ledger{
		keys:    make(map[string]*list.Element),
		order:   list.New(),
		maxKeys: defaultMaxKeys,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *ledger) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.keys[key]; ok {
		return true
	}
	if d.maxKeys > 0 && d.order.Len() >= d.maxKeys {
		oldest := d.order.Front()
		d.order.Remove(oldest)
		delete(d.keys, oldest.Value.(string))
	}
	d.keys[key] = d.order.PushBack(key)
	return false
}

func (d *ledger) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.keys[key]; ok {
		d.order.Remove(e)
		delete(d.keys, key)
	}
}

func (d *ledger) Seen(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.keys[key]
	return ok
}

func (d *ledger) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(d.order.Len())
}
