// Package config 定义了 kvcache 的配置结构，以及从文件和环境变量加载配置的逻辑。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	kverrors "kvcache/pkg/error"
)

// EnvPrefix 环境变量前缀，例如 KVCACHE_CACHE_MAX_SIZE
const EnvPrefix = "KVCACHE"

// Config 主配置结构
type Config struct {
	Cache     CacheConfig     `json:"cache" mapstructure:"cache"`
	Listeners ListenersConfig `json:"listeners" mapstructure:"listeners"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	MaxSize          int           `json:"max_size" mapstructure:"max_size"`                   // 最大用户条目数，0 表示不限
	EvictionPolicy   string        `json:"eviction_policy" mapstructure:"eviction_policy"`     // lru, lfu, fifo, none
	DefaultTTL       time.Duration `json:"default_ttl" mapstructure:"default_ttl"`             // Set 未指定 TTL 时使用，0 表示永不过期
	ReservedPrefix   string        `json:"reserved_prefix" mapstructure:"reserved_prefix"`     // 内部保留键前缀
	KeyNormalization string        `json:"key_normalization" mapstructure:"key_normalization"` // none, nfc, nfkc
	Serializer       string        `json:"serializer" mapstructure:"serializer"`               // json, gojson, identity
}

// ListenersConfig 监听器配置
type ListenersConfig struct {
	Breaker BreakerConfig `json:"breaker" mapstructure:"breaker"`
}

// BreakerConfig 监听器熔断配置
type BreakerConfig struct {
	Enabled     bool          `json:"enabled" mapstructure:"enabled"`
	MaxRequests uint32        `json:"max_requests" mapstructure:"max_requests"`   // 半开状态下允许的调用数
	Interval    time.Duration `json:"interval" mapstructure:"interval"`           // 统计窗口
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`             // 打开状态持续时间
	ReadyToTrip uint32        `json:"ready_to_trip" mapstructure:"ready_to_trip"` // 连续失败多少次后熔断
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			MaxSize:          0,
			EvictionPolicy:   "lru",
			DefaultTTL:       0,
			ReservedPrefix:   "_internal:",
			KeyNormalization: "none",
			Serializer:       "json",
		},
		Listeners: ListenersConfig{
			Breaker: BreakerConfig{
				Enabled:     false,
				MaxRequests: 1,
				Interval:    time.Minute,
				Timeout:     30 * time.Second,
				ReadyToTrip: 5,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load 从配置文件和环境变量加载配置。path 为空时只读取环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode(v)
}

// LoadFromViper 从已有的 viper 实例加载配置，未设置的键使用默认值。
func LoadFromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("cache.max_size", d.Cache.MaxSize)
	v.SetDefault("cache.eviction_policy", d.Cache.EvictionPolicy)
	v.SetDefault("cache.default_ttl", d.Cache.DefaultTTL)
	v.SetDefault("cache.reserved_prefix", d.Cache.ReservedPrefix)
	v.SetDefault("cache.key_normalization", d.Cache.KeyNormalization)
	v.SetDefault("cache.serializer", d.Cache.Serializer)
	v.SetDefault("listeners.breaker.enabled", d.Listeners.Breaker.Enabled)
	v.SetDefault("listeners.breaker.max_requests", d.Listeners.Breaker.MaxRequests)
	v.SetDefault("listeners.breaker.interval", d.Listeners.Breaker.Interval)
	v.SetDefault("listeners.breaker.timeout", d.Listeners.Breaker.Timeout)
	v.SetDefault("listeners.breaker.ready_to_trip", d.Listeners.Breaker.ReadyToTrip)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []error

	if c.Cache.MaxSize < 0 {
		errs = append(errs, invalid("cache max_size cannot be negative"))
	}
	if !isValidEvictionPolicy(c.Cache.EvictionPolicy) {
		errs = append(errs, invalid("invalid eviction policy: %s, must be one of: lru, lfu, fifo, none", c.Cache.EvictionPolicy))
	}
	if c.Cache.MaxSize > 0 && c.Cache.EvictionPolicy == "none" {
		errs = append(errs, invalid("cache max_size %d requires an eviction policy", c.Cache.MaxSize))
	}
	if c.Cache.DefaultTTL < 0 {
		errs = append(errs, invalid("cache default_ttl cannot be negative"))
	}
	if c.Cache.ReservedPrefix == "" {
		errs = append(errs, kverrors.NewError(kverrors.ErrConfigMissing, "cache reserved_prefix is required"))
	}
	if !isValidNormalization(c.Cache.KeyNormalization) {
		errs = append(errs, invalid("invalid key normalization: %s, must be one of: none, nfc, nfkc", c.Cache.KeyNormalization))
	}
	if !isValidSerializer(c.Cache.Serializer) {
		errs = append(errs, invalid("invalid serializer: %s, must be one of: json, gojson, identity", c.Cache.Serializer))
	}

	if b := c.Listeners.Breaker; b.Enabled {
		if b.ReadyToTrip == 0 {
			errs = append(errs, invalid("listeners breaker ready_to_trip must be positive"))
		}
		if b.Timeout <= 0 {
			errs = append(errs, invalid("listeners breaker timeout must be positive"))
		}
	}

	if !isValidLogLevel(c.Logging.Level) {
		errs = append(errs, invalid("invalid log level: %s, must be one of: debug, info, warn, error", c.Logging.Level))
	}
	if !isValidLogFormat(c.Logging.Format) {
		errs = append(errs, invalid("invalid log format: %s, must be one of: json, text", c.Logging.Format))
	}

	return errors.Join(errs...)
}

func invalid(format string, args ...interface{}) error {
	return kverrors.Errorf(kverrors.ErrConfigInvalid, format, args...)
}

// 辅助验证函数
func isValidEvictionPolicy(policy string) bool {
	validPolicies := map[string]bool{"lru": true, "lfu": true, "fifo": true, "none": true}
	return validPolicies[policy]
}

func isValidNormalization(n string) bool {
	valid := map[string]bool{"none": true, "nfc": true, "nfkc": true}
	return valid[n]
}

func isValidSerializer(s string) bool {
	valid := map[string]bool{"json": true, "gojson": true, "identity": true}
	return valid[s]
}

func isValidLogLevel(level string) bool {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	return validLevels[level]
}

func isValidLogFormat(format string) bool {
	validFormats := map[string]bool{"json": true, "text": true}
	return validFormats[format]
}
