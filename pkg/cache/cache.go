// Package cache 实现进程内的泛型键值缓存：惰性过期、可插拔的容量淘汰、
// 键依赖级联以及生命周期事件和按键观察者。
//
// 缓存是同步的单所有者结构：每个操作（包括所有回调）都在返回前执行完毕，
// 没有后台清理协程。并发访问同一缓存需要由调用方串行化。
package cache

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"kvcache/pkg/logger"
	"kvcache/pkg/serializer"
	"kvcache/pkg/storage"
)

// Cache 缓存编排器，协调过期检查、淘汰策略、依赖级联、序列化和通知分发。
type Cache[K comparable, V any] struct {
	storage    storage.Storage[K, *Item[K, V]]
	serializer serializer.Serializer[V]
	policy     EvictionPolicy[K, V]
	ttl        *TTLManager
	events     *EventManager[K, V]
	observers  *ObserverManager[K, V]

	maxSize    int
	defaultTTL time.Duration
	isReserved func(K) bool
	normalize  func(K) K
	weak       bool
	log        *logrus.Entry

	// dependents 父键 -> 依赖它的子键（按写入顺序），parents 为反向索引
	dependents map[K][]K
	parents    map[K]map[K]struct{}

	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64
}

// Stats 缓存统计信息
type Stats struct {
	Size        int64 `json:"size"`        // 用户可见条目数
	MaxSize     int64 `json:"max_size"`    // 容量上限，0 表示不限
	HitCount    int64 `json:"hit_count"`   // 命中次数
	MissCount   int64 `json:"miss_count"`  // 未命中次数（包括惰性过期）
	Evictions   int64 `json:"evictions"`   // 容量淘汰次数
	Expirations int64 `json:"expirations"` // 惰性过期移除的条目数（包括级联）
}

// New 创建缓存，配置缺失或矛盾时返回 INVALID_CONFIGURATION 错误。
func New[K comparable, V any](cfg Config[K, V]) (*Cache[K, V], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = logger.WithComponent("cache")
	}

	var policy EvictionPolicy[K, V]
	if cfg.NewPolicy != nil {
		policy = cfg.NewPolicy(cfg.Storage)
		if policy == nil {
			return nil, NewCacheError(ErrCodeInvalidConfiguration, "policy factory returned nil")
		}
	} else {
		var err error
		if policy, err = NewEvictionPolicy[K, V](cfg.Eviction, cfg.Storage); err != nil {
			return nil, err
		}
	}

	isReserved := cfg.IsReserved
	if isReserved == nil {
		isReserved = ReservedPrefix[K](DefaultReservedPrefix)
	}

	guard := NewListenerGuard(cfg.ListenerBreaker, log)
	c := &Cache[K, V]{
		storage:    cfg.Storage,
		serializer: cfg.Serializer,
		policy:     policy,
		ttl:        NewTTLManager(cfg.Now),
		events:     NewEventManager[K, V](storage.NewMemoryStorage[string, *Listeners[K, V]](), guard),
		observers:  NewObserverManager[K, V](storage.NewMemoryStorage[K, *Listeners[K, V]](), guard),
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
		isReserved: isReserved,
		normalize:  cfg.NormalizeKey,
		weak:       storage.IsWeak(cfg.Storage),
		log:        log,
		dependents: make(map[K][]K),
		parents:    make(map[K]map[K]struct{}),
	}

	if c.weak {
		log.Info("weak storage in use, key counts are best-effort")
	}

	return c, nil
}

// Set 写入键值。
//
// 顺序：校验键、容量淘汰、序列化并计算过期时间、通知观察者、校验父键、
// 写入存储、发送 set 事件。观察者在父键校验之前收到通知，
// 因此 MISSING_PARENT 失败时观察者已经被调用过。
func (c *Cache[K, V]) Set(key K, value V, opts ...SetOption[K, V]) error {
	key, err := c.validateKey(key)
	if err != nil {
		return err
	}

	o := setOptions[K, V]{}
	for _, opt := range opts {
		opt(&o)
	}

	if c.maxSize > 0 && !c.storage.Has(key) && c.userKeyCount() >= c.maxSize {
		c.evict()
	}

	serialized, err := c.serializer.Serialize(value)
	if err != nil {
		return wrapCacheError(ErrCodeSerializeFailed, "failed to serialize value", err).
			WithContext("key", key)
	}

	var expiry time.Time
	switch {
	case o.hasTTL:
		if expiry, err = c.ttl.SetTTL(o.ttl); err != nil {
			return err
		}
	case c.defaultTTL > 0:
		expiry, _ = c.ttl.SetTTL(c.defaultTTL)
	}

	c.observers.TriggerObservers(key, value)

	var parent K
	if o.hasParent {
		parent = c.normalizeKey(o.dependsOn)
		if !c.Has(parent) {
			return NewCacheError(ErrCodeMissingParent, "parent key does not exist").
				WithContext("key", key).
				WithContext("parent", parent)
		}
	}

	// 重新写入时依赖关系以本次调用为准
	c.detach(key)
	if o.hasParent {
		c.addDependency(parent, key)
	}

	c.policy.OnInsert(key, &Item[K, V]{
		Value:    serialized,
		Expiry:   expiry,
		OnExpire: o.onExpire,
	})
	c.events.Emit(EventSet, key, value)
	return nil
}

// Get 读取键。不存在或已过期时返回 ok=false。
// 发现过期时调用条目的 OnExpire，级联移除所有依赖它的键，并发送 expire 事件。
func (c *Cache[K, V]) Get(key K) (value V, ok bool, err error) {
	key, err = c.validateKey(key)
	if err != nil {
		return value, false, err
	}

	item, exists := c.storage.Get(key)
	if !exists || item == nil {
		c.misses.Add(1)
		return value, false, nil
	}

	if c.ttl.IsExpired(item) {
		c.expire(key, item)
		c.misses.Add(1)
		return value, false, nil
	}

	value, err = c.serializer.Deserialize(item.Value)
	if err != nil {
		return value, false, wrapCacheError(ErrCodeDeserializeFailed, "failed to deserialize value", err).
			WithContext("key", key)
	}

	c.policy.OnAccess(key)
	c.hits.Add(1)
	c.events.Emit(EventGet, key, value)
	return value, true, nil
}

// Delete 删除键并递归删除所有依赖它的键。
// 每个被删除的条目依次触发 OnExpire、delete 事件和观察者。
func (c *Cache[K, V]) Delete(key K) error {
	key, err := c.validateKey(key)
	if err != nil {
		return err
	}

	// 深度优先，与递归删除的顺序一致；visited 保证环路可以终止
	stack := []K{key}
	visited := map[K]struct{}{key: {}}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		c.removeEntry(current)

		children := c.dependents[current]
		delete(c.dependents, current)
		c.detach(current)
		for i := len(children) - 1; i >= 0; i-- {
			child := children[i]
			if _, seen := visited[child]; seen {
				continue
			}
			visited[child] = struct{}{}
			stack = append(stack, child)
		}
	}
	return nil
}

// Has 判断键存在且未过期。纯读取，不触发回调、事件或移除。
func (c *Cache[K, V]) Has(key K) bool {
	key = c.normalizeKey(key)
	var zero K
	if key == zero || c.isReserved(key) {
		return false
	}
	item, ok := c.storage.Get(key)
	return ok && item != nil && !c.ttl.IsExpired(item)
}

// Size 返回非保留键的数量（包括尚未被读取发现的过期条目）。
func (c *Cache[K, V]) Size() int {
	return c.userKeyCount()
}

// CountBy 统计以 "<prefix>:" 开头且未过期的字符串键。prefix 为空时等同于 Size。
func (c *Cache[K, V]) CountBy(prefix string) int {
	if prefix == "" {
		return c.Size()
	}

	match := prefix + ":"
	count := 0
	for key, item := range c.storage.Entries() {
		s, ok := any(key).(string)
		if ok && strings.HasPrefix(s, match) && !c.ttl.IsExpired(item) {
			count++
		}
	}
	return count
}

// Clear 在存储支持时清空所有条目，不发送事件也不通知观察者。
func (c *Cache[K, V]) Clear() {
	if !storage.Clear(c.storage) {
		return
	}
	if r, ok := c.policy.(Resetter); ok {
		r.Reset()
	}
	c.dependents = make(map[K][]K)
	c.parents = make(map[K]map[K]struct{})
}

// On 订阅生命周期事件
func (c *Cache[K, V]) On(event EventType, fn Listener[K, V]) (Subscription, error) {
	return c.events.On(event, fn)
}

// Off 取消事件订阅
func (c *Cache[K, V]) Off(sub Subscription) bool {
	return c.events.Off(sub)
}

// ObserveKey 订阅指定键的值变化（set 和 delete）
func (c *Cache[K, V]) ObserveKey(key K, fn Listener[K, V]) (KeySubscription[K], error) {
	key, err := c.validateKey(key)
	if err != nil {
		return KeySubscription[K]{}, err
	}
	return c.observers.ObserveKey(key, fn)
}

// UnobserveKey 取消按键订阅
func (c *Cache[K, V]) UnobserveKey(sub KeySubscription[K]) bool {
	return c.observers.UnobserveKey(sub)
}

// Stats 返回缓存统计信息
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Size:        int64(c.userKeyCount()),
		MaxSize:     int64(c.maxSize),
		HitCount:    c.hits.Load(),
		MissCount:   c.misses.Load(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
	}
}

func (c *Cache[K, V]) normalizeKey(key K) K {
	if c.normalize != nil {
		return c.normalize(key)
	}
	return key
}

func (c *Cache[K, V]) validateKey(key K) (K, error) {
	key = c.normalizeKey(key)
	var zero K
	if key == zero {
		return key, NewCacheError(ErrCodeInvalidKey, "key must not be empty")
	}
	if c.isReserved(key) {
		return key, NewCacheError(ErrCodeInvalidKey, "key is in the reserved namespace").
			WithContext("key", key)
	}
	return key, nil
}

func (c *Cache[K, V]) userKeyCount() int {
	count := 0
	for key := range c.storage.Keys() {
		if !c.isReserved(key) {
			count++
		}
	}
	return count
}

func (c *Cache[K, V]) evict() {
	victim, ok := c.policy.Evict()
	if !ok {
		c.log.Warn("eviction policy found no victim")
		return
	}
	// 被淘汰键的子键保留，只是不再与它关联
	delete(c.dependents, victim)
	c.detach(victim)
	c.evictions.Add(1)
	c.log.WithField("key", victim).Debug("evicted")
}

// expire 处理惰性发现的过期：先调用自身和所有后代的 OnExpire 并移除，
// 再按移除顺序发送 expire 事件。
func (c *Cache[K, V]) expire(key K, item *Item[K, V]) {
	c.notifyExpire(key, item)

	removed := []K{key}
	queue := []K{key}
	visited := map[K]struct{}{key: {}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		children := c.dependents[current]
		delete(c.dependents, current)
		for _, child := range children {
			if _, seen := visited[child]; seen {
				continue
			}
			visited[child] = struct{}{}
			if childItem, ok := c.storage.Get(child); ok {
				c.notifyExpire(child, childItem)
				c.policy.OnRemove(child)
				removed = append(removed, child)
			}
			queue = append(queue, child)
		}
	}

	c.policy.OnRemove(key)
	for k := range visited {
		c.detach(k)
	}
	c.expirations.Add(int64(len(removed)))
	c.log.WithFields(logrus.Fields{"key": key, "removed": len(removed)}).Debug("expired")

	var zero V
	for _, k := range removed {
		c.events.Emit(EventExpire, k, zero)
	}
}

// removeEntry 删除单个条目并通知，条目不存在时不做任何事。
func (c *Cache[K, V]) removeEntry(key K) {
	item, ok := c.storage.Get(key)
	if !ok || item == nil {
		return
	}

	value := c.decodeForCallback(key, item)
	if item.OnExpire != nil {
		c.callExpire(key, item.OnExpire, value)
	}
	c.policy.OnRemove(key)
	c.events.Emit(EventDelete, key, value)
	c.observers.TriggerObservers(key, value)
}

func (c *Cache[K, V]) notifyExpire(key K, item *Item[K, V]) {
	if item == nil || item.OnExpire == nil {
		return
	}
	c.callExpire(key, item.OnExpire, c.decodeForCallback(key, item))
}

// callExpire 调用 OnExpire，panic 被恢复并记录，不影响后续的移除和通知。
func (c *Cache[K, V]) callExpire(key K, fn ExpireFunc[K, V], value V) {
	if err := safeCall(Listener[K, V](fn), key, value); err != nil {
		c.log.WithField("key", key).WithError(err).Warn("expire callback failed")
	}
}

// decodeForCallback 反序列化失败时返回零值并记录警告
func (c *Cache[K, V]) decodeForCallback(key K, item *Item[K, V]) V {
	value, err := c.serializer.Deserialize(item.Value)
	if err != nil {
		c.log.WithField("key", key).WithError(err).Warn("failed to deserialize value for callback")
		var zero V
		return zero
	}
	return value
}

func (c *Cache[K, V]) addDependency(parent, child K) {
	for _, existing := range c.dependents[parent] {
		if existing == child {
			return
		}
	}
	c.dependents[parent] = append(c.dependents[parent], child)

	set, ok := c.parents[child]
	if !ok {
		set = make(map[K]struct{})
		c.parents[child] = set
	}
	set[parent] = struct{}{}
}

// detach 将键从它的所有父键的依赖集合中移除
func (c *Cache[K, V]) detach(child K) {
	for parent := range c.parents[child] {
		children := c.dependents[parent]
		for i, k := range children {
			if k == child {
				children = append(children[:i:i], children[i+1:]...)
				break
			}
		}
		if len(children) == 0 {
			delete(c.dependents, parent)
		} else {
			c.dependents[parent] = children
		}
	}
	delete(c.parents, child)
}

// Dependents 返回直接依赖 parent 的键
func (c *Cache[K, V]) Dependents(parent K) []K {
	parent = c.normalizeKey(parent)
	return append([]K(nil), c.dependents[parent]...)
}
