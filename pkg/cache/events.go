package cache

import (
	"github.com/google/uuid"

	"kvcache/pkg/storage"
)

// EventType 生命周期事件名称
type EventType string

const (
	EventSet    EventType = "set"
	EventGet    EventType = "get"
	EventDelete EventType = "delete"
	EventExpire EventType = "expire"
)

// EventKeyPrefix 事件注册表在其存储中使用的键前缀
const EventKeyPrefix = "_internal:event:"

// Valid 判断事件名是否在支持的集合内
func (e EventType) Valid() bool {
	switch e {
	case EventSet, EventGet, EventDelete, EventExpire:
		return true
	}
	return false
}

func eventKey(event EventType) string {
	return EventKeyPrefix + string(event)
}

// Subscription 由 On 返回，用于 Off。
type Subscription struct {
	ID    uuid.UUID
	Event EventType
}

// EventManager 全局事件发布/订阅，监听器集合保存在独立的注册表存储中。
type EventManager[K comparable, V any] struct {
	registry storage.Storage[string, *Listeners[K, V]]
	guard    *ListenerGuard
}

// NewEventManager 创建事件管理器
func NewEventManager[K comparable, V any](registry storage.Storage[string, *Listeners[K, V]], guard *ListenerGuard) *EventManager[K, V] {
	if guard == nil {
		guard = NewListenerGuard(nil, nil)
	}
	return &EventManager[K, V]{registry: registry, guard: guard}
}

// On 注册事件回调
func (m *EventManager[K, V]) On(event EventType, fn Listener[K, V]) (Subscription, error) {
	if !event.Valid() {
		return Subscription{}, NewCacheError(ErrCodeInvalidEvent, "unsupported event").
			WithContext("event", string(event))
	}
	if fn == nil {
		return Subscription{}, NewCacheError(ErrCodeInvalidListener, "listener must not be nil")
	}

	key := eventKey(event)
	set, ok := m.registry.Get(key)
	if !ok {
		set = &Listeners[K, V]{}
		m.registry.Set(key, set)
	}
	s := newSubscriber(m.guard, key, fn)
	set.add(s)

	return Subscription{ID: s.id, Event: event}, nil
}

// Off 取消订阅。集合为空时从注册表中移除对应的键。
func (m *EventManager[K, V]) Off(sub Subscription) bool {
	key := eventKey(sub.Event)
	set, ok := m.registry.Get(key)
	if !ok {
		return false
	}
	removed := set.remove(sub.ID)
	if set.Len() == 0 {
		m.registry.Delete(key)
	}
	return removed
}

// Emit 同步调用事件的所有回调
func (m *EventManager[K, V]) Emit(event EventType, key K, value V) {
	name := eventKey(event)
	set, ok := m.registry.Get(name)
	if !ok {
		return
	}
	set.dispatch(m.guard, name, key, value)
}

// ListenerCount 返回事件的回调数量
func (m *EventManager[K, V]) ListenerCount(event EventType) int {
	set, _ := m.registry.Get(eventKey(event))
	return set.Len()
}
