package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Listener 事件和观察者回调。对不携带值的事件（expire），value 为零值。
type Listener[K comparable, V any] func(key K, value V)

// BreakerSettings 监听器熔断配置。
// 启用后每个订阅拥有独立的熔断器，连续失败达到阈值后在 Timeout 内被跳过。
type BreakerSettings struct {
	MaxRequests uint32        // 半开状态下允许的调用数
	Interval    time.Duration // 统计窗口，0 表示不重置计数
	Timeout     time.Duration // 打开状态持续时间
	ReadyToTrip uint32        // 连续失败阈值
}

// ListenerGuard 隔离回调：恢复 panic，并在配置了熔断时跳过持续失败的回调。
type ListenerGuard struct {
	breaker *BreakerSettings
	log     *logrus.Entry
}

// NewListenerGuard 创建回调隔离器，breaker 为 nil 时只做 panic 恢复。
func NewListenerGuard(breaker *BreakerSettings, log *logrus.Entry) *ListenerGuard {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ListenerGuard{breaker: breaker, log: log}
}

// subscriber 一个已注册的回调
type subscriber[K comparable, V any] struct {
	id uuid.UUID
	fn Listener[K, V]
	cb *gobreaker.CircuitBreaker
}

func newSubscriber[K comparable, V any](g *ListenerGuard, name string, fn Listener[K, V]) *subscriber[K, V] {
	s := &subscriber[K, V]{
		id: uuid.New(),
		fn: fn,
	}
	if g.breaker != nil {
		threshold := g.breaker.ReadyToTrip
		log := g.log
		s.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        fmt.Sprintf("%s/%s", name, s.id),
			MaxRequests: g.breaker.MaxRequests,
			Interval:    g.breaker.Interval,
			Timeout:     g.breaker.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.WithFields(logrus.Fields{
					"listener": name,
					"from":     from.String(),
					"to":       to.String(),
				}).Warn("listener breaker state changed")
			},
		})
	}
	return s
}

// invoke 调用回调。错误只记录日志，不会中断其他回调。
func (g *ListenerGuard) invoke(s invoker, name string, key any) {
	err := s.call()
	if err == nil {
		return
	}
	entry := g.log.WithFields(logrus.Fields{"listener": name, "key": key})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		entry.Debug("listener skipped by breaker")
		return
	}
	entry.WithError(err).Warn("listener failed")
}

type invoker interface {
	call() error
}

type boundCall[K comparable, V any] struct {
	s     *subscriber[K, V]
	key   K
	value V
}

func (b boundCall[K, V]) call() error {
	run := func() (interface{}, error) {
		return nil, safeCall(b.s.fn, b.key, b.value)
	}
	if b.s.cb == nil {
		_, err := run()
		return err
	}
	_, err := b.s.cb.Execute(run)
	return err
}

func safeCall[K comparable, V any](fn Listener[K, V], key K, value V) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	fn(key, value)
	return nil
}

// Listeners 按注册顺序保存的回调集合
type Listeners[K comparable, V any] struct {
	subs []*subscriber[K, V]
}

func (l *Listeners[K, V]) add(s *subscriber[K, V]) {
	l.subs = append(l.subs, s)
}

func (l *Listeners[K, V]) remove(id uuid.UUID) bool {
	for i, s := range l.subs {
		if s.id == id {
			l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Len 返回回调数量
func (l *Listeners[K, V]) Len() int {
	if l == nil {
		return 0
	}
	return len(l.subs)
}

// dispatch 同步地按注册顺序调用所有回调。
// 遍历的是快照，回调中的订阅或取消订阅只影响下一次分发。
func (l *Listeners[K, V]) dispatch(g *ListenerGuard, name string, key K, value V) {
	subs := append([]*subscriber[K, V](nil), l.subs...)
	for _, s := range subs {
		g.invoke(boundCall[K, V]{s: s, key: key, value: value}, name, key)
	}
}
