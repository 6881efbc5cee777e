package cache

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultReservedPrefix 默认的内部保留键前缀
const DefaultReservedPrefix = "_internal:"

// ReservedPrefix 返回一个判断函数：字符串键以 prefix 开头时视为保留键，非字符串键从不保留。
func ReservedPrefix[K comparable](prefix string) func(K) bool {
	return func(key K) bool {
		s, ok := any(key).(string)
		return ok && strings.HasPrefix(s, prefix)
	}
}

// KeyNormalizer 根据名称返回字符串键的 Unicode 规范化函数，none 返回 nil。
func KeyNormalizer(form string) (func(string) string, error) {
	switch form {
	case "", "none":
		return nil, nil
	case "nfc":
		return norm.NFC.String, nil
	case "nfkc":
		return norm.NFKC.String, nil
	default:
		return nil, NewCacheError(ErrCodeInvalidConfiguration, "unknown key normalization").
			WithContext("key_normalization", form)
	}
}
