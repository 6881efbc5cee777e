package cache

import (
	"fmt"

	"github.com/google/uuid"

	"kvcache/pkg/storage"
)

// KeySubscription 由 ObserveKey 返回，用于 UnobserveKey。
type KeySubscription[K comparable] struct {
	ID  uuid.UUID
	Key K
}

// ObserverManager 按键注册的观察者
type ObserverManager[K comparable, V any] struct {
	registry storage.Storage[K, *Listeners[K, V]]
	guard    *ListenerGuard
}

// NewObserverManager 创建观察者管理器
func NewObserverManager[K comparable, V any](registry storage.Storage[K, *Listeners[K, V]], guard *ListenerGuard) *ObserverManager[K, V] {
	if guard == nil {
		guard = NewListenerGuard(nil, nil)
	}
	return &ObserverManager[K, V]{registry: registry, guard: guard}
}

// ObserveKey 为指定键注册观察者
func (m *ObserverManager[K, V]) ObserveKey(key K, fn Listener[K, V]) (KeySubscription[K], error) {
	if fn == nil {
		return KeySubscription[K]{}, NewCacheError(ErrCodeInvalidListener, "listener must not be nil")
	}
	set, ok := m.registry.Get(key)
	if !ok {
		set = &Listeners[K, V]{}
		m.registry.Set(key, set)
	}
	s := newSubscriber(m.guard, observerName(key), fn)
	set.add(s)

	return KeySubscription[K]{ID: s.id, Key: key}, nil
}

// UnobserveKey 移除观察者
func (m *ObserverManager[K, V]) UnobserveKey(sub KeySubscription[K]) bool {
	set, ok := m.registry.Get(sub.Key)
	if !ok {
		return false
	}
	removed := set.remove(sub.ID)
	if set.Len() == 0 {
		m.registry.Delete(sub.Key)
	}
	return removed
}

// TriggerObservers 按注册顺序同步通知键的观察者
func (m *ObserverManager[K, V]) TriggerObservers(key K, value V) {
	set, ok := m.registry.Get(key)
	if !ok {
		return
	}
	set.dispatch(m.guard, observerName(key), key, value)
}

// ObserverCount 返回键的观察者数量
func (m *ObserverManager[K, V]) ObserverCount(key K) int {
	set, _ := m.registry.Get(key)
	return set.Len()
}

func observerName(key any) string {
	return fmt.Sprintf("observer:%v", key)
}
