package cache

import (
	"container/list"
	"sync"

	"kvcache/pkg/storage"
)

// PolicyType 淘汰策略类型
type PolicyType string

const (
	PolicyLRU  PolicyType = "lru"  // Least Recently Used
	PolicyLFU  PolicyType = "lfu"  // Least Frequently Used
	PolicyFIFO PolicyType = "fifo" // First In First Out
	PolicyNone PolicyType = "none" // 只负责写入存储，从不淘汰
)

// EvictionPolicy 缓存淘汰策略。
// 缓存对条目集合的所有增删都经过策略，以保证容量统计与策略内部状态一致。
type EvictionPolicy[K comparable, V any] interface {
	// Evict 选出一个淘汰键并从存储中删除，返回被淘汰的键。
	Evict() (K, bool)
	// OnInsert 将条目写入存储并更新策略状态。
	OnInsert(key K, item *Item[K, V])
	// OnRemove 从存储中删除条目并清除策略状态。
	OnRemove(key K)
	// OnAccess 记录一次读取，不修改存储的值。
	OnAccess(key K)
}

// Resetter 是可选能力：存储被整体清空后重置策略状态。
type Resetter interface {
	Reset()
}

// NewEvictionPolicy 创建淘汰策略
func NewEvictionPolicy[K comparable, V any](policyType PolicyType, store storage.Storage[K, *Item[K, V]]) (EvictionPolicy[K, V], error) {
	switch policyType {
	case PolicyLRU, "":
		return NewLRUPolicy(store), nil
	case PolicyLFU:
		return NewLFUPolicy(store), nil
	case PolicyFIFO:
		return NewFIFOPolicy(store), nil
	case PolicyNone:
		return &storePolicy[K, V]{store: store}, nil
	default:
		return nil, NewCacheError(ErrCodeInvalidConfiguration, "unknown eviction policy").
			WithContext("eviction", string(policyType))
	}
}

// storePolicy 不做淘汰的策略
type storePolicy[K comparable, V any] struct {
	store storage.Storage[K, *Item[K, V]]
}

func (p *storePolicy[K, V]) Evict() (K, bool) {
	var zero K
	return zero, false
}

func (p *storePolicy[K, V]) OnInsert(key K, item *Item[K, V]) { p.store.Set(key, item) }
func (p *storePolicy[K, V]) OnRemove(key K)                   { p.store.Delete(key) }
func (p *storePolicy[K, V]) OnAccess(key K)                   {}

// keyQueue 按顺序记录键的链表，LRU 和 FIFO 共用。
// 队首是下一个淘汰对象。
type keyQueue[K comparable] struct {
	order *list.List
	index map[K]*list.Element
}

func newKeyQueue[K comparable]() keyQueue[K] {
	return keyQueue[K]{order: list.New(), index: make(map[K]*list.Element)}
}

func (q *keyQueue[K]) pushBack(key K) {
	if _, exists := q.index[key]; exists {
		return
	}
	q.index[key] = q.order.PushBack(key)
}

func (q *keyQueue[K]) moveToBack(key K) {
	if elem, exists := q.index[key]; exists {
		q.order.MoveToBack(elem)
	}
}

func (q *keyQueue[K]) remove(key K) {
	if elem, exists := q.index[key]; exists {
		q.order.Remove(elem)
		delete(q.index, key)
	}
}

func (q *keyQueue[K]) popFront() (K, bool) {
	elem := q.order.Front()
	if elem == nil {
		var zero K
		return zero, false
	}
	key := elem.Value.(K)
	q.order.Remove(elem)
	delete(q.index, key)
	return key, true
}

func (q *keyQueue[K]) reset() {
	q.order.Init()
	q.index = make(map[K]*list.Element)
}

// evictFrom 依次弹出队首，跳过已不在存储中的键，删除第一个仍存在的键。
func evictFrom[K comparable, V any](q *keyQueue[K], store storage.Storage[K, *Item[K, V]]) (K, bool) {
	for {
		key, ok := q.popFront()
		if !ok {
			return key, false
		}
		if store.Delete(key) {
			return key, true
		}
	}
}

// LRUPolicy LRU淘汰策略
type LRUPolicy[K comparable, V any] struct {
	mu    sync.Mutex
	store storage.Storage[K, *Item[K, V]]
	queue keyQueue[K]
}

// NewLRUPolicy 创建LRU策略
func NewLRUPolicy[K comparable, V any](store storage.Storage[K, *Item[K, V]]) *LRUPolicy[K, V] {
	return &LRUPolicy[K, V]{store: store, queue: newKeyQueue[K]()}
}

// Evict 淘汰最久未使用的键
func (lru *LRUPolicy[K, V]) Evict() (K, bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return evictFrom(&lru.queue, lru.store)
}

// OnInsert 写入视为一次使用
func (lru *LRUPolicy[K, V]) OnInsert(key K, item *Item[K, V]) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	lru.store.Set(key, item)
	lru.queue.pushBack(key)
	lru.queue.moveToBack(key)
}

// OnRemove 移除时的回调
func (lru *LRUPolicy[K, V]) OnRemove(key K) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	lru.store.Delete(key)
	lru.queue.remove(key)
}

// OnAccess 移动到链表尾部（最近使用）
func (lru *LRUPolicy[K, V]) OnAccess(key K) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	lru.queue.moveToBack(key)
}

// Reset 清空策略状态
func (lru *LRUPolicy[K, V]) Reset() {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	lru.queue.reset()
}

// LFUPolicy LFU淘汰策略，频率相同时淘汰最早写入的键
type LFUPolicy[K comparable, V any] struct {
	mu          sync.Mutex
	store       storage.Storage[K, *Item[K, V]]
	frequencies map[K]int64
	inserted    map[K]uint64
	seq         uint64
}

// NewLFUPolicy 创建LFU策略
func NewLFUPolicy[K comparable, V any](store storage.Storage[K, *Item[K, V]]) *LFUPolicy[K, V] {
	return &LFUPolicy[K, V]{
		store:       store,
		frequencies: make(map[K]int64),
		inserted:    make(map[K]uint64),
	}
}

// Evict 淘汰访问频率最低的键
func (lfu *LFUPolicy[K, V]) Evict() (K, bool) {
	lfu.mu.Lock()
	defer lfu.mu.Unlock()

	for len(lfu.frequencies) > 0 {
		var evictKey K
		var minFreq int64 = -1
		var minSeq uint64

		for key, freq := range lfu.frequencies {
			seq := lfu.inserted[key]
			if minFreq == -1 || freq < minFreq || (freq == minFreq && seq < minSeq) {
				evictKey, minFreq, minSeq = key, freq, seq
			}
		}

		delete(lfu.frequencies, evictKey)
		delete(lfu.inserted, evictKey)
		if lfu.store.Delete(evictKey) {
			return evictKey, true
		}
	}

	var zero K
	return zero, false
}

// OnInsert 新键频率为 1，覆盖已有键计为一次访问
func (lfu *LFUPolicy[K, V]) OnInsert(key K, item *Item[K, V]) {
	lfu.mu.Lock()
	defer lfu.mu.Unlock()

	lfu.store.Set(key, item)
	if _, exists := lfu.frequencies[key]; exists {
		lfu.frequencies[key]++
		return
	}
	lfu.seq++
	lfu.frequencies[key] = 1
	lfu.inserted[key] = lfu.seq
}

// OnRemove 移除时的回调
func (lfu *LFUPolicy[K, V]) OnRemove(key K) {
	lfu.mu.Lock()
	defer lfu.mu.Unlock()

	lfu.store.Delete(key)
	delete(lfu.frequencies, key)
	delete(lfu.inserted, key)
}

// OnAccess 访问时的回调
func (lfu *LFUPolicy[K, V]) OnAccess(key K) {
	lfu.mu.Lock()
	defer lfu.mu.Unlock()

	if _, exists := lfu.frequencies[key]; exists {
		lfu.frequencies[key]++
	}
}

// Reset 清空策略状态
func (lfu *LFUPolicy[K, V]) Reset() {
	lfu.mu.Lock()
	defer lfu.mu.Unlock()

	lfu.frequencies = make(map[K]int64)
	lfu.inserted = make(map[K]uint64)
}

// Frequency 返回键的访问频率
func (lfu *LFUPolicy[K, V]) Frequency(key K) int64 {
	lfu.mu.Lock()
	defer lfu.mu.Unlock()
	return lfu.frequencies[key]
}

// FIFOPolicy FIFO淘汰策略
type FIFOPolicy[K comparable, V any] struct {
	mu    sync.Mutex
	store storage.Storage[K, *Item[K, V]]
	queue keyQueue[K]
}

// NewFIFOPolicy 创建FIFO策略
func NewFIFOPolicy[K comparable, V any](store storage.Storage[K, *Item[K, V]]) *FIFOPolicy[K, V] {
	return &FIFOPolicy[K, V]{store: store, queue: newKeyQueue[K]()}
}

// Evict 淘汰最早写入的键
func (fifo *FIFOPolicy[K, V]) Evict() (K, bool) {
	fifo.mu.Lock()
	defer fifo.mu.Unlock()
	return evictFrom(&fifo.queue, fifo.store)
}

// OnInsert 覆盖已有键不改变其在队列中的位置
func (fifo *FIFOPolicy[K, V]) OnInsert(key K, item *Item[K, V]) {
	fifo.mu.Lock()
	defer fifo.mu.Unlock()

	fifo.store.Set(key, item)
	fifo.queue.pushBack(key)
}

// OnRemove 移除时的回调
func (fifo *FIFOPolicy[K, V]) OnRemove(key K) {
	fifo.mu.Lock()
	defer fifo.mu.Unlock()

	fifo.store.Delete(key)
	fifo.queue.remove(key)
}

// OnAccess FIFO策略不需要处理访问事件
func (fifo *FIFOPolicy[K, V]) OnAccess(key K) {}

// Reset 清空策略状态
func (fifo *FIFOPolicy[K, V]) Reset() {
	fifo.mu.Lock()
	defer fifo.mu.Unlock()
	fifo.queue.reset()
}

var (
	_ EvictionPolicy[string, int] = (*LRUPolicy[string, int])(nil)
	_ EvictionPolicy[string, int] = (*LFUPolicy[string, int])(nil)
	_ EvictionPolicy[string, int] = (*FIFOPolicy[string, int])(nil)
	_ Resetter                    = (*LRUPolicy[string, int])(nil)
)
