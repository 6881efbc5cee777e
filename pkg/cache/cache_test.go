package cache

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvcache/pkg/serializer"
	"kvcache/pkg/storage"
)

func TestCache_NeverSetKey(t *testing.T) {
	env := newTestEnv(t)

	assert.False(t, env.cache.Has("nope"))
	v, ok, err := env.cache.Get("nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, v)
}

func TestCache_RoundTrip(t *testing.T) {
	env := newTestEnv(t)

	for i, v := range []int{0, 1, -42, 1 << 40} {
		key := fmt.Sprintf("k%d", i)
		require.NoError(t, env.cache.Set(key, v))

		got, ok, err := env.cache.Get(key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, v, got)
	}
}

func TestCache_RoundTripStructValues(t *testing.T) {
	type user struct {
		Name string `json:"name"`
		Tags []string
	}
	c, err := New(Config[string, user]{
		Storage:    storage.NewMemoryStorage[string, *Item[string, user]](),
		Serializer: serializer.GoJSON[user]{},
	})
	require.NoError(t, err)

	want := user{Name: "ada", Tags: []string{"x"}}
	require.NoError(t, c.Set("user:1", want))

	got, ok, err := c.Get("user:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestCache_InvalidKeys(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"reserved", "_internal:event:set"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(env.cache.Set(tt.key, 1), ErrInvalidKey))
			_, _, err := env.cache.Get(tt.key)
			assert.True(t, errors.Is(err, ErrInvalidKey))
			assert.True(t, errors.Is(env.cache.Delete(tt.key), ErrInvalidKey))
			_, err = env.cache.ObserveKey(tt.key, func(string, int) {})
			assert.True(t, errors.Is(err, ErrInvalidKey))
			assert.False(t, env.cache.Has(tt.key))
		})
	}
}

func TestCache_InvalidTTL(t *testing.T) {
	env := newTestEnv(t)

	err := env.cache.Set("a", 1, WithTTL[string, int](0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTTL))
	assert.False(t, env.cache.Has("a"))
}

func TestCache_LazyExpiry(t *testing.T) {
	env := newTestEnv(t)
	r := &recorder{}
	_, _ = env.cache.On(EventExpire, r.listener("event"))

	require.NoError(t, env.cache.Set("a", 5,
		WithTTL[string, int](10*time.Millisecond),
		WithOnExpire[string, int](r.expire("onExpire")),
	))

	env.clock.Advance(9 * time.Millisecond)
	assert.True(t, env.cache.Has("a"))

	env.clock.Advance(time.Millisecond)
	// Has 不触发回调也不移除
	assert.False(t, env.cache.Has("a"))
	assert.Empty(t, r.calls)
	assert.Equal(t, 1, env.store.Len())
	assert.Equal(t, 1, env.cache.Size())

	_, ok, err := env.cache.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []call{
		{tag: "onExpire", key: "a", value: 5},
		{tag: "event", key: "a"},
	}, r.calls)
	assert.Equal(t, 0, env.store.Len())
	assert.Equal(t, int64(1), env.cache.Stats().Expirations)
}

func TestCache_DefaultTTL(t *testing.T) {
	env := newTestEnv(t, func(c *Config[string, int]) {
		c.DefaultTTL = time.Second
	})

	require.NoError(t, env.cache.Set("a", 1))
	require.NoError(t, env.cache.Set("b", 2, WithTTL[string, int](time.Hour)))

	env.clock.Advance(time.Second)
	assert.False(t, env.cache.Has("a"))
	assert.True(t, env.cache.Has("b"))
}

func TestCache_ResetRecomputesExpiry(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.cache.Set("a", 1, WithTTL[string, int](10*time.Millisecond)))
	env.clock.Advance(8 * time.Millisecond)
	require.NoError(t, env.cache.Set("a", 2, WithTTL[string, int](10*time.Millisecond)))
	env.clock.Advance(8 * time.Millisecond)

	v, ok, err := env.cache.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, v)

	// 不带 TTL 重新写入则永不过期
	require.NoError(t, env.cache.Set("a", 3))
	env.clock.Advance(time.Hour)
	assert.True(t, env.cache.Has("a"))
}

func TestCache_CapacityInvariant(t *testing.T) {
	for _, pt := range []PolicyType{PolicyLRU, PolicyLFU, PolicyFIFO} {
		t.Run(string(pt), func(t *testing.T) {
			env := newTestEnv(t, func(c *Config[string, int]) {
				c.MaxSize = 3
				c.Eviction = pt
			})

			for i := 0; i < 10; i++ {
				require.NoError(t, env.cache.Set(fmt.Sprintf("k%d", i), i))
				assert.LessOrEqual(t, env.cache.Size(), 3)
			}
			assert.Equal(t, int64(7), env.cache.Stats().Evictions)
		})
	}
}

// countingPolicy 记录 Evict 调用次数
type countingPolicy struct {
	EvictionPolicy[string, int]
	evicts int
}

func (p *countingPolicy) Evict() (string, bool) {
	p.evicts++
	return p.EvictionPolicy.Evict()
}

func TestCache_EvictCalledOncePerOverflowingInsert(t *testing.T) {
	var policy *countingPolicy
	env := newTestEnv(t, func(c *Config[string, int]) {
		c.MaxSize = 2
		c.NewPolicy = func(s storage.Storage[string, *Item[string, int]]) EvictionPolicy[string, int] {
			policy = &countingPolicy{EvictionPolicy: NewFIFOPolicy[string, int](s)}
			return policy
		}
	})

	require.NoError(t, env.cache.Set("a", 1))
	require.NoError(t, env.cache.Set("b", 2))
	assert.Equal(t, 0, policy.evicts)

	// 覆盖已有键不会超出上限
	require.NoError(t, env.cache.Set("a", 10))
	assert.Equal(t, 0, policy.evicts)

	require.NoError(t, env.cache.Set("c", 3))
	assert.Equal(t, 1, policy.evicts)
	assert.False(t, env.cache.Has("a"))

	require.NoError(t, env.cache.Set("d", 4))
	assert.Equal(t, 2, policy.evicts)
	assert.Equal(t, 2, env.cache.Size())
}

func TestCache_LRUEvictionRespectsAccess(t *testing.T) {
	env := newTestEnv(t, func(c *Config[string, int]) {
		c.MaxSize = 2
		c.Eviction = PolicyLRU
	})

	require.NoError(t, env.cache.Set("a", 1))
	require.NoError(t, env.cache.Set("b", 2))

	// 访问 a 后 b 成为最久未使用
	_, ok, _ := env.cache.Get("a")
	require.True(t, ok)

	require.NoError(t, env.cache.Set("c", 3))
	assert.True(t, env.cache.Has("a"))
	assert.False(t, env.cache.Has("b"))
	assert.True(t, env.cache.Has("c"))
}

func TestCache_DeleteCascade(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.cache.Set("p", 1))
	require.NoError(t, env.cache.Set("c", 2, WithDependsOn[string, int]("p")))
	require.NoError(t, env.cache.Set("g", 3, WithDependsOn[string, int]("c")))
	assert.Equal(t, []string{"c"}, env.cache.Dependents("p"))

	require.NoError(t, env.cache.Delete("p"))

	assert.False(t, env.cache.Has("p"))
	assert.False(t, env.cache.Has("c"))
	assert.False(t, env.cache.Has("g"))
	assert.Empty(t, env.cache.Dependents("p"))
	assert.Empty(t, env.cache.Dependents("c"))
}

func TestCache_DeleteNotifications(t *testing.T) {
	env := newTestEnv(t)
	r := &recorder{}

	require.NoError(t, env.cache.Set("p", 1, WithOnExpire[string, int](r.expire("onExpire"))))
	require.NoError(t, env.cache.Set("c", 2, WithDependsOn[string, int]("p")))
	_, _ = env.cache.On(EventDelete, r.listener("event"))
	_, _ = env.cache.ObserveKey("p", r.listener("observer"))
	_, _ = env.cache.ObserveKey("c", r.listener("observer"))

	require.NoError(t, env.cache.Delete("p"))

	assert.Equal(t, []call{
		{tag: "onExpire", key: "p", value: 1},
		{tag: "event", key: "p", value: 1},
		{tag: "observer", key: "p", value: 1},
		{tag: "event", key: "c", value: 2},
		{tag: "observer", key: "c", value: 2},
	}, r.calls)
}

func TestCache_DeleteDepthFirstOrder(t *testing.T) {
	env := newTestEnv(t)
	r := &recorder{}

	require.NoError(t, env.cache.Set("p", 0))
	require.NoError(t, env.cache.Set("c1", 1, WithDependsOn[string, int]("p")))
	require.NoError(t, env.cache.Set("c2", 2, WithDependsOn[string, int]("p")))
	require.NoError(t, env.cache.Set("g1", 3, WithDependsOn[string, int]("c1")))
	_, _ = env.cache.On(EventDelete, r.listener("del"))

	require.NoError(t, env.cache.Delete("p"))
	assert.Equal(t, []string{"del:p", "del:c1", "del:g1", "del:c2"}, r.tags())
}

func TestCache_DeleteMissingKeyStillCascades(t *testing.T) {
	env := newTestEnv(t)
	r := &recorder{}

	require.NoError(t, env.cache.Set("p", 1))
	require.NoError(t, env.cache.Set("c", 2, WithDependsOn[string, int]("p")))
	// 直接从存储删除父键，依赖记录仍在
	env.store.Delete("p")
	_, _ = env.cache.On(EventDelete, r.listener("del"))

	require.NoError(t, env.cache.Delete("p"))
	assert.False(t, env.cache.Has("c"))
	assert.Equal(t, []string{"del:c"}, r.tags())
}

func TestCache_DeleteTerminatesOnCycle(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.cache.Set("a", 1))
	require.NoError(t, env.cache.Set("b", 2, WithDependsOn[string, int]("a")))
	// 重新写入 a 并依赖 b，形成 a <-> b 环
	require.NoError(t, env.cache.Set("a", 1, WithDependsOn[string, int]("b")))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = env.cache.Delete("a")
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("delete did not terminate on a dependency cycle")
	}
	assert.Equal(t, 0, env.cache.Size())
}

func TestCache_ExpiryCascade(t *testing.T) {
	env := newTestEnv(t)
	r := &recorder{}
	_, _ = env.cache.On(EventExpire, r.listener("event"))

	require.NoError(t, env.cache.Set("p", 1,
		WithTTL[string, int](10*time.Millisecond),
		WithOnExpire[string, int](r.expire("onExpire")),
	))
	require.NoError(t, env.cache.Set("c", 2,
		WithDependsOn[string, int]("p"),
		WithOnExpire[string, int](r.expire("onExpire")),
	))
	require.NoError(t, env.cache.Set("g", 3,
		WithDependsOn[string, int]("c"),
		WithOnExpire[string, int](r.expire("onExpire")),
	))

	env.clock.Advance(15 * time.Millisecond)

	_, ok, err := env.cache.Get("p")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.False(t, env.cache.Has("c"))
	assert.False(t, env.cache.Has("g"))
	assert.Equal(t, 0, env.store.Len())
	assert.Equal(t, []string{
		"onExpire:p", "onExpire:c", "onExpire:g",
		"event:p", "event:c", "event:g",
	}, r.tags())
	assert.Equal(t, int64(3), env.cache.Stats().Expirations)
}

func TestCache_MissingParent(t *testing.T) {
	env := newTestEnv(t)
	r := &recorder{}
	_, _ = env.cache.ObserveKey("c", r.listener("observer"))
	_, _ = env.cache.On(EventSet, r.listener("event"))

	err := env.cache.Set("c", 2, WithDependsOn[string, int]("missing"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingParent))

	var cacheErr *CacheError
	require.ErrorAs(t, err, &cacheErr)
	assert.Equal(t, "missing", cacheErr.Context["parent"])

	// 观察者在父键校验之前已被通知，存储和事件不受影响
	assert.Equal(t, []string{"observer:c"}, r.tags())
	assert.False(t, env.cache.Has("c"))
	assert.Empty(t, env.cache.Dependents("missing"))
}

func TestCache_ExpiredParentIsMissing(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.cache.Set("p", 1, WithTTL[string, int](time.Millisecond)))
	env.clock.Advance(time.Millisecond)

	err := env.cache.Set("c", 2, WithDependsOn[string, int]("p"))
	assert.True(t, errors.Is(err, ErrMissingParent))
}

func TestCache_ResetDropsOldDependency(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.cache.Set("p", 1))
	require.NoError(t, env.cache.Set("c", 2, WithDependsOn[string, int]("p")))
	require.NoError(t, env.cache.Set("c", 3))

	require.NoError(t, env.cache.Delete("p"))
	assert.True(t, env.cache.Has("c"))
}

func TestCache_SetEventsAndObservers(t *testing.T) {
	env := newTestEnv(t)
	r := &recorder{}

	sub, err := env.cache.On(EventSet, r.listener("event"))
	require.NoError(t, err)
	_, err = env.cache.ObserveKey("a", r.listener("observer"))
	require.NoError(t, err)

	require.NoError(t, env.cache.Set("a", 1))
	assert.Equal(t, []call{
		{tag: "observer", key: "a", value: 1},
		{tag: "event", key: "a", value: 1},
	}, r.calls)

	assert.True(t, env.cache.Off(sub))
	r.calls = nil
	require.NoError(t, env.cache.Set("a", 1))
	assert.Equal(t, []string{"observer:a"}, r.tags())
}

func TestCache_GetEvent(t *testing.T) {
	env := newTestEnv(t)
	r := &recorder{}
	_, _ = env.cache.On(EventGet, r.listener("get"))

	require.NoError(t, env.cache.Set("a", 9))
	_, _, _ = env.cache.Get("a")
	_, _, _ = env.cache.Get("missing")

	assert.Equal(t, []call{{tag: "get", key: "a", value: 9}}, r.calls)

	stats := env.cache.Stats()
	assert.Equal(t, int64(1), stats.HitCount)
	assert.Equal(t, int64(1), stats.MissCount)
}

func TestCache_UnobserveKey(t *testing.T) {
	env := newTestEnv(t)
	r := &recorder{}

	sub, err := env.cache.ObserveKey("a", r.listener("observer"))
	require.NoError(t, err)
	assert.True(t, env.cache.UnobserveKey(sub))

	require.NoError(t, env.cache.Set("a", 1))
	assert.Empty(t, r.calls)
}

func TestCache_SizeAndCountBy(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.cache.Set("user:1", 1))
	require.NoError(t, env.cache.Set("user:2", 2, WithTTL[string, int](time.Millisecond)))
	require.NoError(t, env.cache.Set("other:1", 1))
	require.NoError(t, env.cache.Set("user", 1))
	_, _ = env.cache.On(EventSet, func(string, int) {})

	// 直接写入存储的保留键不计入
	env.store.Set("_internal:marker", &Item[string, int]{Value: "0"})

	assert.Equal(t, 4, env.cache.Size())
	assert.Equal(t, 4, env.cache.CountBy(""))
	assert.Equal(t, 2, env.cache.CountBy("user"))
	assert.Equal(t, 1, env.cache.CountBy("other"))

	env.clock.Advance(time.Millisecond)
	assert.Equal(t, 1, env.cache.CountBy("user"))
	assert.Equal(t, 4, env.cache.Size())
}

func TestCache_CountByNonStringKeys(t *testing.T) {
	c, err := New(Config[int, int]{
		Storage:    storage.NewMemoryStorage[int, *Item[int, int]](),
		Serializer: serializer.JSON[int]{},
	})
	require.NoError(t, err)

	require.NoError(t, c.Set(1, 1))
	require.NoError(t, c.Set(2, 2))
	assert.Equal(t, 2, c.Size())
	assert.Equal(t, 0, c.CountBy("1"))

	assert.True(t, errors.Is(c.Set(0, 1), ErrInvalidKey))
}

func TestCache_Clear(t *testing.T) {
	env := newTestEnv(t, func(c *Config[string, int]) { c.MaxSize = 2 })
	r := &recorder{}
	_, _ = env.cache.On(EventDelete, r.listener("del"))

	require.NoError(t, env.cache.Set("a", 1))
	require.NoError(t, env.cache.Set("b", 2, WithDependsOn[string, int]("a")))

	env.cache.Clear()
	assert.Equal(t, 0, env.cache.Size())
	assert.Empty(t, r.calls)
	assert.Empty(t, env.cache.Dependents("a"))

	// 清空后策略状态同步重置，容量仍然正确
	for _, k := range []string{"x", "y", "z"} {
		require.NoError(t, env.cache.Set(k, 1))
	}
	assert.Equal(t, 2, env.cache.Size())
}

// plainStorage 不支持 Clear 的存储
type plainStorage struct {
	storage.Storage[string, *Item[string, int]]
}

func TestCache_ClearUnsupported(t *testing.T) {
	inner := storage.NewMemoryStorage[string, *Item[string, int]]()
	c, err := New(Config[string, int]{
		Storage:    plainStorage{inner},
		Serializer: serializer.JSON[int]{},
	})
	require.NoError(t, err)

	require.NoError(t, c.Set("a", 1))
	c.Clear()
	assert.True(t, c.Has("a"))
}

func TestCache_ExpireCallbackPanicDoesNotBlockRemoval(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.cache.Set("a", 1,
		WithTTL[string, int](time.Millisecond),
		WithOnExpire[string, int](func(string, int) { panic("boom") }),
	))
	env.clock.Advance(time.Millisecond)

	assert.NotPanics(t, func() { _, _, _ = env.cache.Get("a") })
	assert.Equal(t, 0, env.store.Len())
}

// badSerializer 序列化总是失败
type badSerializer struct{}

func (badSerializer) Serialize(int) (string, error)   { return "", errors.New("nope") }
func (badSerializer) Deserialize(string) (int, error) { return 0, errors.New("nope") }

func TestCache_SerializerErrors(t *testing.T) {
	store := storage.NewMemoryStorage[string, *Item[string, int]]()
	c, err := New(Config[string, int]{Storage: store, Serializer: badSerializer{}})
	require.NoError(t, err)

	assert.True(t, errors.Is(c.Set("a", 1), ErrSerializeFailed))

	store.Set("b", &Item[string, int]{Value: "garbage"})
	_, _, err = c.Get("b")
	assert.True(t, errors.Is(err, ErrDeserializeFailed))

	// 删除时反序列化失败仍然移除条目
	assert.NoError(t, c.Delete("b"))
	assert.False(t, store.Has("b"))
}

func TestCache_KeyNormalization(t *testing.T) {
	normalize, err := KeyNormalizer("nfc")
	require.NoError(t, err)
	env := newTestEnv(t, func(c *Config[string, int]) { c.NormalizeKey = normalize })

	decomposed := "cafe\u0301"
	composed := "caf\u00e9"

	require.NoError(t, env.cache.Set(decomposed, 1))
	v, ok, err := env.cache.Get(composed)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, env.cache.Size())
}

func TestCache_CustomReservedPredicate(t *testing.T) {
	env := newTestEnv(t, func(c *Config[string, int]) {
		c.IsReserved = func(k string) bool { return strings.HasPrefix(k, "sys.") }
	})

	assert.True(t, errors.Is(env.cache.Set("sys.meta", 1), ErrInvalidKey))
	assert.NoError(t, env.cache.Set("_internal:ok", 1))
	assert.Equal(t, 1, env.cache.Size())
}

func TestCache_WeakStorageIsLogged(t *testing.T) {
	env := newTestEnv(t, func(c *Config[string, int]) {
		c.Storage = weakStorage{storage.NewMemoryStorage[string, *Item[string, int]]()}
	})

	require.NotEmpty(t, env.logHook.AllEntries())
	assert.Contains(t, env.logHook.AllEntries()[0].Message, "weak storage")
}

type weakStorage struct {
	*storage.MemoryStorage[string, *Item[string, int]]
}

func (weakStorage) IsWeak() bool { return true }

func TestNew_InvalidConfiguration(t *testing.T) {
	store := storage.NewMemoryStorage[string, *Item[string, int]]()
	json := serializer.JSON[int]{}

	tests := []struct {
		name string
		cfg  Config[string, int]
	}{
		{"missing storage", Config[string, int]{Serializer: json}},
		{"missing serializer", Config[string, int]{Storage: store}},
		{"negative max size", Config[string, int]{Storage: store, Serializer: json, MaxSize: -1}},
		{"negative default ttl", Config[string, int]{Storage: store, Serializer: json, DefaultTTL: -time.Second}},
		{"unknown policy", Config[string, int]{Storage: store, Serializer: json, Eviction: "mru"}},
		{"bounded without policy", Config[string, int]{Storage: store, Serializer: json, MaxSize: 1, Eviction: PolicyNone}},
		{"breaker without threshold", Config[string, int]{Storage: store, Serializer: json, ListenerBreaker: &BreakerSettings{}}},
		{"nil policy factory", Config[string, int]{Storage: store, Serializer: json,
			NewPolicy: func(storage.Storage[string, *Item[string, int]]) EvictionPolicy[string, int] { return nil }}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfiguration))
		})
	}
}
