package workingmem

import (
	"context"
	"sync"
	"time"
)

// MemoryLists is an in-process ListBackend used by tests and by deployments
// that run without a shared Redis. TTLs are honored lazily on access.
type MemoryLists struct {
	mu    sync.Mutex
	lists map[string]*memoryList
	now   func() time.Time
}

type memoryList struct {
	values    [][]byte
	expiresAt time.Time
}

func NewMemoryLists() *MemoryLists {
	return &MemoryLists{lists: make(map[string]*memoryList), now: time.Now}
}

var _ ListBackend = (*MemoryLists)(nil)

// SetClock overrides the time source. Test hook.
func (m *MemoryLists) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryLists) Push(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.liveList(key)
	if list == nil {
		list = &memoryList{}
		m.lists[key] = list
	}
	list.values = append(list.values, append([]byte(nil), value...))
	return nil
}

func (m *MemoryLists) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.liveList(key)
	if list == nil {
		return nil, nil
	}
	n := int64(len(list.values))
	start, stop = normalizeRange(start, stop, n)
	if start > stop {
		return nil, nil
	}
	out := make([][]byte, 0, stop-start+1)
	for i := start; i <= stop; i++ {
		out = append(out, append([]byte(nil), list.values[i]...))
	}
	return out, nil
}

func (m *MemoryLists) Trim(ctx context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.liveList(key)
	if list == nil {
		return nil
	}
	n := int64(len(list.values))
	start, stop = normalizeRange(start, stop, n)
	if start > stop {
		list.values = nil
		return nil
	}
	list.values = list.values[start : stop+1]
	return nil
}

func (m *MemoryLists) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.liveList(key)
	if list == nil {
		return nil
	}
	if ttl > 0 {
		list.expiresAt = m.now().Add(ttl)
	} else {
		list.expiresAt = time.Time{}
	}
	return nil
}

func (m *MemoryLists) Len(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.liveList(key)
	if list == nil {
		return 0, nil
	}
	return int64(len(list.values)), nil
}

func (m *MemoryLists) Replace(ctx context.Context, key string, values [][]byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(values) == 0 {
		delete(m.lists, key)
		return nil
	}
	list := &memoryList{values: make([][]byte, 0, len(values))}
	for _, value := range values {
		list.values = append(list.values, append([]byte(nil), value...))
	}
	if ttl > 0 {
		list.expiresAt = m.now().Add(ttl)
	}
	m.lists[key] = list
	return nil
}

func (m *MemoryLists) liveList(key string) *memoryList {
	list, ok := m.lists[key]
	if !ok {
		return nil
	}
	if !list.expiresAt.IsZero() && m.now().After(list.expiresAt) {
		delete(m.lists, key)
		return nil
	}
	return list
}

func normalizeRange(start, stop, n int64) (int64, int64) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	return start, stop
}
