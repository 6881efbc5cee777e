package cache

import (
	"time"
)

// ExpireFunc 条目过期或被手动删除时调用，参数为键和反序列化后的旧值。
type ExpireFunc[K comparable, V any] func(key K, value V)

// Item 存储适配器中保存的条目。缓存本身不保留第二份副本。
type Item[K comparable, V any] struct {
	Value    string           // 序列化后的值
	Expiry   time.Time        // 绝对过期时间，零值表示永不过期
	OnExpire ExpireFunc[K, V] // 可选
}

// ExpiresAt 实现 Expirable
func (i *Item[K, V]) ExpiresAt() time.Time {
	if i == nil {
		return time.Time{}
	}
	return i.Expiry
}

// SetOption 是 Set 的单次调用选项
type SetOption[K comparable, V any] func(*setOptions[K, V])

type setOptions[K comparable, V any] struct {
	ttl       time.Duration
	hasTTL    bool
	dependsOn K
	hasParent bool
	onExpire  ExpireFunc[K, V]
}

// WithTTL 设置条目的生存时间，必须大于 0。
func WithTTL[K comparable, V any](ttl time.Duration) SetOption[K, V] {
	return func(o *setOptions[K, V]) {
		o.ttl = ttl
		o.hasTTL = true
	}
}

// WithDependsOn 声明条目依赖于父键。父键被删除或过期时该条目随之移除。
func WithDependsOn[K comparable, V any](parent K) SetOption[K, V] {
	return func(o *setOptions[K, V]) {
		o.dependsOn = parent
		o.hasParent = true
	}
}

// WithOnExpire 设置条目过期或被删除时的回调。
func WithOnExpire[K comparable, V any](fn ExpireFunc[K, V]) SetOption[K, V] {
	return func(o *setOptions[K, V]) {
		o.onExpire = fn
	}
}
