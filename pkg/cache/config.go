package cache

import (
	"time"

	"github.com/sirupsen/logrus"

	"kvcache/pkg/config"
	"kvcache/pkg/logger"
	"kvcache/pkg/serializer"
	"kvcache/pkg/storage"
)

// Config 缓存构造配置
type Config[K comparable, V any] struct {
	Storage    storage.Storage[K, *Item[K, V]] // 必需
	Serializer serializer.Serializer[V]        // 必需
	MaxSize    int                             // 用户条目上限，0 表示不限

	// Eviction 选择内置策略，空值为 LRU。NewPolicy 非空时优先使用。
	Eviction  PolicyType
	NewPolicy func(storage.Storage[K, *Item[K, V]]) EvictionPolicy[K, V]

	DefaultTTL   time.Duration    // Set 未指定 TTL 时使用，0 表示永不过期
	IsReserved   func(K) bool     // 内部保留键判断，默认前缀 "_internal:"
	NormalizeKey func(K) K        // 每次键操作前调用
	Now          func() time.Time // 时钟，默认 time.Now

	ListenerBreaker *BreakerSettings // 非空时为每个订阅启用熔断
	Logger          *logrus.Entry
}

func (c *Config[K, V]) validate() error {
	invalid := func(msg string) error {
		return NewCacheError(ErrCodeInvalidConfiguration, msg)
	}

	if c.Storage == nil {
		return invalid("storage is required")
	}
	if c.Serializer == nil {
		return invalid("serializer is required")
	}
	if c.MaxSize < 0 {
		return invalid("max size cannot be negative").WithContext("max_size", c.MaxSize)
	}
	if c.DefaultTTL < 0 {
		return invalid("default TTL cannot be negative").WithContext("default_ttl", c.DefaultTTL)
	}
	if c.NewPolicy == nil {
		switch c.Eviction {
		case "", PolicyLRU, PolicyLFU, PolicyFIFO:
		case PolicyNone:
			if c.MaxSize > 0 {
				return invalid("bounded cache requires an eviction policy").WithContext("max_size", c.MaxSize)
			}
		default:
			return invalid("unknown eviction policy").WithContext("eviction", string(c.Eviction))
		}
	}
	if c.ListenerBreaker != nil && c.ListenerBreaker.ReadyToTrip == 0 {
		return invalid("listener breaker requires a positive trip threshold")
	}
	return nil
}

// NewFromConfig 根据文件配置创建以字符串为键、内存存储的缓存。
func NewFromConfig[V any](cfg *config.Config) (*Cache[string, V], error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, wrapCacheError(ErrCodeInvalidConfiguration, "invalid configuration", err)
	}

	s, err := serializer.ByName[V](serializer.Format(cfg.Cache.Serializer))
	if err != nil {
		return nil, wrapCacheError(ErrCodeInvalidConfiguration, "invalid serializer", err)
	}
	normalize, err := KeyNormalizer(cfg.Cache.KeyNormalization)
	if err != nil {
		return nil, err
	}

	var breaker *BreakerSettings
	if b := cfg.Listeners.Breaker; b.Enabled {
		breaker = &BreakerSettings{
			MaxRequests: b.MaxRequests,
			Interval:    b.Interval,
			Timeout:     b.Timeout,
			ReadyToTrip: b.ReadyToTrip,
		}
	}

	return New(Config[string, V]{
		Storage:         storage.NewMemoryStorage[string, *Item[string, V]](),
		Serializer:      s,
		MaxSize:         cfg.Cache.MaxSize,
		Eviction:        PolicyType(cfg.Cache.EvictionPolicy),
		DefaultTTL:      cfg.Cache.DefaultTTL,
		IsReserved:      ReservedPrefix[string](cfg.Cache.ReservedPrefix),
		NormalizeKey:    normalize,
		ListenerBreaker: breaker,
		Logger:          logger.WithComponent("cache"),
	})
}
