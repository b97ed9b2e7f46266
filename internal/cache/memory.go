package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/systmms/cfgstore/pkg/configstore"
)

// MemoryRemote is an in-process L2 tier bounded by the encoded size of its
// records. It is used when no Redis URL is configured and in tests.
type MemoryRemote struct {
	mu       sync.Mutex
	maxBytes int
	used     int
	ll       *list.List
	items    map[string]*list.Element
	floors   map[string]int64
	now      func() time.Time
}

type memoryItem struct {
	key     string
	data    []byte
	expires time.Time
}

// NewMemoryRemote returns a MemoryRemote holding at most maxBytes of
// encoded records.
func NewMemoryRemote(maxBytes int) *MemoryRemote {
	return &MemoryRemote{
		maxBytes: maxBytes,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		floors:   make(map[string]int64),
		now:      time.Now,
	}
}

func (m *MemoryRemote) Get(_ context.Context, key string) (*configstore.Entry, error) {
	m.mu.Lock()
	el, ok := m.items[key]
	if !ok {
		m.mu.Unlock()
		return nil, nil
	}
	item := el.Value.(*memoryItem)
	if !m.now().Before(item.expires) {
		m.removeLocked(el)
		m.mu.Unlock()
		return nil, nil
	}
	m.ll.MoveToFront(el)
	data := item.data
	m.mu.Unlock()

	return decodeEntry(data)
}

func (m *MemoryRemote) Set(_ context.Context, key string, e *configstore.Entry, ttl time.Duration) (bool, error) {
	data, err := encodeEntry(e)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e.Version < m.floors[key] || len(data) > m.maxBytes {
		return false, nil
	}
	if el, ok := m.items[key]; ok {
		m.removeLocked(el)
	}
	m.items[key] = m.ll.PushFront(&memoryItem{key: key, data: data, expires: m.now().Add(ttl)})
	m.used += len(data)
	for m.used > m.maxBytes {
		m.removeLocked(m.ll.Back())
	}
	return true, nil
}

func (m *MemoryRemote) Invalidate(_ context.Context, key string, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if version > m.floors[key] {
		m.floors[key] = version
	}
	if el, ok := m.items[key]; ok {
		m.removeLocked(el)
	}
	return nil
}

func (m *MemoryRemote) Purge(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ll.Init()
	m.items = make(map[string]*list.Element)
	m.used = 0
	return nil
}

func (m *MemoryRemote) Ping(context.Context) error { return nil }
func (m *MemoryRemote) Close() error               { return nil }

// Size returns the number of records and their total encoded size.
func (m *MemoryRemote) Size() (records, bytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len(), m.used
}

func (m *MemoryRemote) removeLocked(el *list.Element) {
	item := m.ll.Remove(el).(*memoryItem)
	delete(m.items, item.key)
	m.used -= len(item.data)
}
