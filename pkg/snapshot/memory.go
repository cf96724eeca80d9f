package snapshot

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultMemoryLimit bounds the bytes a MemoryBackend from NewMemory holds.
const DefaultMemoryLimit = 8 << 20

type memItem struct {
	key     string
	value   []byte
	savedAt time.Time
}

// MemoryBackend keeps fragments for the life of the process. Total stored
// bytes are capped; the least recently used key is evicted first. With a ttl,
// fragments older than it read as missing.
type MemoryBackend struct {
	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List
	used  int
	limit int
	ttl   time.Duration
	now   func() time.Time
}

func NewMemory() *MemoryBackend {
	return NewMemoryLimit(DefaultMemoryLimit, 0)
}

// NewMemoryLimit caps stored bytes at limit. ttl <= 0 keeps fragments until
// they are evicted.
func NewMemoryLimit(limit int, ttl time.Duration) *MemoryBackend {
	return &MemoryBackend{
		items: make(map[string]*list.Element),
		lru:   list.New(),
		limit: limit,
		ttl:   ttl,
		now:   time.Now,
	}
}

func (m *MemoryBackend) Load(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	it := el.Value.(*memItem)
	if m.ttl > 0 && m.now().Sub(it.savedAt) > m.ttl {
		m.remove(el)
		return nil, false, nil
	}
	m.lru.MoveToFront(el)
	return append([]byte(nil), it.value...), true, nil
}

func (m *MemoryBackend) Save(_ context.Context, key string, value []byte) error {
	if len(value) > m.limit {
		return fmt.Errorf("fragment of %d bytes exceeds memory limit %d", len(value), m.limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	v := append([]byte(nil), value...)
	if el, ok := m.items[key]; ok {
		it := el.Value.(*memItem)
		m.used += len(v) - len(it.value)
		it.value = v
		it.savedAt = m.now()
		m.lru.MoveToFront(el)
	} else {
		m.items[key] = m.lru.PushFront(&memItem{key: key, value: v, savedAt: m.now()})
		m.used += len(v)
	}
	for m.used > m.limit && m.lru.Back() != nil {
		m.remove(m.lru.Back())
	}
	return nil
}

// Delete drops key and reports whether it was present.
func (m *MemoryBackend) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[key]
	if ok {
		m.remove(el)
	}
	return ok
}

func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *MemoryBackend) remove(el *list.Element) {
	it := el.Value.(*memItem)
	delete(m.items, it.key)
	m.used -= len(it.value)
	m.lru.Remove(el)
}
