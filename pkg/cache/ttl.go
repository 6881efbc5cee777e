package cache

import (
	"time"
)

// Expirable 可以报告绝对过期时间的对象，零值表示永不过期。
type Expirable interface {
	ExpiresAt() time.Time
}

// TTLManager 负责过期时间的计算和判断，除时钟外无状态。
type TTLManager struct {
	now func() time.Time
}

// NewTTLManager 创建 TTLManager，now 为 nil 时使用 time.Now。
func NewTTLManager(now func() time.Time) *TTLManager {
	if now == nil {
		now = time.Now
	}
	return &TTLManager{now: now}
}

// SetTTL 返回 now + ttl，ttl 必须为正数。
func (m *TTLManager) SetTTL(ttl time.Duration) (time.Time, error) {
	if ttl <= 0 {
		return time.Time{}, NewCacheError(ErrCodeInvalidTTL, "TTL must be greater than 0").
			WithContext("ttl", ttl)
	}
	return m.now().Add(ttl), nil
}

// IsExpired 判断条目是否过期。过期时间点本身视为已过期。
func (m *TTLManager) IsExpired(item Expirable) bool {
	expiry := item.ExpiresAt()
	if expiry.IsZero() {
		return false
	}
	return !m.now().Before(expiry)
}
