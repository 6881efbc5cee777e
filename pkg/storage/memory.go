package storage

import (
	"container/list"
	"iter"
	"sync"
)

// MemoryStorage 是按插入顺序遍历的内存存储。
// 覆盖已有键不会改变它的位置。
type MemoryStorage[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]*list.Element
	order *list.List
}

type memoryEntry[K comparable, V any] struct {
	key   K
	value V
}

// NewMemoryStorage 创建新的内存存储
func NewMemoryStorage[K comparable, V any]() *MemoryStorage[K, V] {
	return &MemoryStorage[K, V]{
		items: make(map[K]*list.Element),
		order: list.New(),
	}
}

func (m *MemoryStorage[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if elem, ok := m.items[key]; ok {
		return elem.Value.(*memoryEntry[K, V]).value, true
	}
	var zero V
	return zero, false
}

func (m *MemoryStorage[K, V]) Set(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		elem.Value.(*memoryEntry[K, V]).value = value
		return
	}
	m.items[key] = m.order.PushBack(&memoryEntry[K, V]{key: key, value: value})
}

func (m *MemoryStorage[K, V]) Delete(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		return false
	}
	m.order.Remove(elem)
	delete(m.items, key)
	return true
}

func (m *MemoryStorage[K, V]) Has(key K) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.items[key]
	return ok
}

// Len 返回当前条目数
func (m *MemoryStorage[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Keys 按插入顺序遍历键。遍历的是调用时刻的快照，遍历期间可以安全地修改存储。
func (m *MemoryStorage[K, V]) Keys() iter.Seq[K] {
	snapshot := m.snapshot()
	return func(yield func(K) bool) {
		for _, e := range snapshot {
			if !yield(e.key) {
				return
			}
		}
	}
}

// Entries 按插入顺序遍历键值对快照。
func (m *MemoryStorage[K, V]) Entries() iter.Seq2[K, V] {
	snapshot := m.snapshot()
	return func(yield func(K, V) bool) {
		for _, e := range snapshot {
			if !yield(e.key, e.value) {
				return
			}
		}
	}
}

// Clear 清空存储
func (m *MemoryStorage[K, V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[K]*list.Element)
	m.order.Init()
}

func (m *MemoryStorage[K, V]) snapshot() []memoryEntry[K, V] {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]memoryEntry[K, V], 0, len(m.items))
	for elem := m.order.Front(); elem != nil; elem = elem.Next() {
		out = append(out, *elem.Value.(*memoryEntry[K, V]))
	}
	return out
}

var (
	_ Storage[string, int] = (*MemoryStorage[string, int])(nil)
	_ Clearer              = (*MemoryStorage[string, int])(nil)
)
