// Package storage 定义了缓存使用的键值存储适配器契约，并提供内存实现。
package storage

import "iter"

// Storage 是从键到存储值的映射。
// 缓存的条目、事件注册表和观察者注册表各自使用独立的 Storage 实例。
type Storage[K comparable, V any] interface {
	// Get 返回键对应的值，以及该键是否存在。
	Get(key K) (V, bool)
	// Set 写入或覆盖键对应的值。
	Set(key K, value V)
	// Delete 删除键，返回删除前该键是否存在。
	Delete(key K) bool
	// Has 判断键是否存在。
	Has(key K) bool
	// Keys 遍历所有键。
	Keys() iter.Seq[K]
	// Entries 遍历所有键值对。
	Entries() iter.Seq2[K, V]
}

// Clearer 是可选能力：一次性清空存储。
type Clearer interface {
	Clear()
}

// WeakReporter 是可选能力：报告存储是否为弱引用存储。
// 弱引用存储中的键可能在未被引用时被回收，因此遍历结果只是尽力而为。
type WeakReporter interface {
	IsWeak() bool
}

// IsWeak 判断给定的存储是否声明为弱引用存储。
func IsWeak(s any) bool {
	w, ok := s.(WeakReporter)
	return ok && w.IsWeak()
}

// Clear 在存储支持时清空它，返回是否执行了清空。
func Clear(s any) bool {
	c, ok := s.(Clearer)
	if !ok {
		return false
	}
	c.Clear()
	return true
}
