package cas

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process tier: a bounded LRU with idle and
// absolute TTLs. Entries are immutable, so eviction is always safe.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[Hash]*list.Element
	order      *list.List
	maxEntries int
	idleTTL    time.Duration
	absTTL     time.Duration
	now        func() time.Time
}

type memoryEntry struct {
	hash     Hash
	value    []byte
	storedAt time.Time
	usedAt   time.Time
}

// NewMemoryStore builds the tier. maxEntries bounds the cache; zero
// TTLs disable the corresponding expiry.
func NewMemoryStore(maxEntries int, idleTTL, absTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		entries:    make(map[Hash]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		idleTTL:    idleTTL,
		absTTL:     absTTL,
		now:        time.Now,
	}
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, hash Hash, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[hash]; ok {
		m.order.MoveToFront(el)

		return nil
	}

	now := m.now()
	el := m.order.PushFront(&memoryEntry{hash: hash, value: value, storedAt: now, usedAt: now})
	m.entries[hash] = el

	for m.maxEntries > 0 && m.order.Len() > m.maxEntries {
		m.evictOldest()
	}

	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, hash Hash) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[hash]
	if !ok {
		return nil, false, nil
	}

	entry := el.Value.(*memoryEntry)
	now := m.now()

	if m.expired(entry, now) {
		m.remove(el)

		return nil, false, nil
	}

	entry.usedAt = now
	m.order.MoveToFront(el)

	return entry.value, true, nil
}

// Len reports the live entry count, expiring stale entries first.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	for el := m.order.Back(); el != nil; {
		prev := el.Prev()

		if m.expired(el.Value.(*memoryEntry), now) {
			m.remove(el)
		}

		el = prev
	}

	return m.order.Len()
}

func (m *MemoryStore) expired(entry *memoryEntry, now time.Time) bool {
	if m.idleTTL > 0 && now.Sub(entry.usedAt) > m.idleTTL {
		return true
	}

	if m.absTTL > 0 && now.Sub(entry.storedAt) > m.absTTL {
		return true
	}

	return false
}

func (m *MemoryStore) evictOldest() {
	if el := m.order.Back(); el != nil {
		m.remove(el)
	}
}

func (m *MemoryStore) remove(el *list.Element) {
	entry := el.Value.(*memoryEntry)

	delete(m.entries, entry.hash)
	m.order.Remove(el)
}
