package cache

import (
	kverrors "kvcache/pkg/error"
)

// CacheError 缓存操作返回的错误，按错误代码比较。
type CacheError struct {
	kverrors.BaseError
}

const (
	// ErrCodeInvalidKey 表示键为空值或落在保留命名空间内。
	ErrCodeInvalidKey kverrors.ErrorCode = "INVALID_KEY"
	// ErrCodeInvalidTTL 表示 TTL 不是正数。
	ErrCodeInvalidTTL kverrors.ErrorCode = "INVALID_TTL"
	// ErrCodeMissingParent 表示 dependsOn 引用的父键不存在。
	ErrCodeMissingParent kverrors.ErrorCode = "MISSING_PARENT"
	// ErrCodeInvalidConfiguration 表示构造缓存时配置缺失或矛盾。
	ErrCodeInvalidConfiguration kverrors.ErrorCode = "INVALID_CONFIGURATION"
	// ErrCodeInvalidEvent 表示事件名不在支持的集合内。
	ErrCodeInvalidEvent kverrors.ErrorCode = "INVALID_EVENT"
	// ErrCodeInvalidListener 表示回调为 nil。
	ErrCodeInvalidListener kverrors.ErrorCode = "INVALID_LISTENER"
	// ErrCodeSerializeFailed 表示序列化失败。
	ErrCodeSerializeFailed kverrors.ErrorCode = "SERIALIZE_FAILED"
	// ErrCodeDeserializeFailed 表示反序列化失败。
	ErrCodeDeserializeFailed kverrors.ErrorCode = "DESERIALIZE_FAILED"
)

// 用于 errors.Is 比较的哨兵错误
var (
	ErrInvalidKey           = NewCacheError(ErrCodeInvalidKey, "key must not be empty or reserved")
	ErrInvalidTTL           = NewCacheError(ErrCodeInvalidTTL, "TTL must be greater than 0")
	ErrMissingParent        = NewCacheError(ErrCodeMissingParent, "parent key does not exist")
	ErrInvalidConfiguration = NewCacheError(ErrCodeInvalidConfiguration, "invalid cache configuration")
	ErrInvalidEvent         = NewCacheError(ErrCodeInvalidEvent, "unsupported event")
	ErrInvalidListener      = NewCacheError(ErrCodeInvalidListener, "listener must not be nil")
	ErrSerializeFailed      = NewCacheError(ErrCodeSerializeFailed, "failed to serialize value")
	ErrDeserializeFailed    = NewCacheError(ErrCodeDeserializeFailed, "failed to deserialize value")
)

func NewCacheError(code kverrors.ErrorCode, message string) *CacheError {
	return &CacheError{
		BaseError: *kverrors.NewError(code, message),
	}
}

func wrapCacheError(code kverrors.ErrorCode, message string, cause error) *CacheError {
	return &CacheError{
		BaseError: *kverrors.WrapError(code, message, cause),
	}
}

// Is 按错误代码比较，同时兼容 *kverrors.BaseError 目标。
func (e *CacheError) Is(target error) bool {
	switch t := target.(type) {
	case *CacheError:
		return e.Code == t.Code
	case *kverrors.BaseError:
		return e.Code == t.Code
	}
	return false
}

// WithContext 附加上下文信息
func (e *CacheError) WithContext(key string, value interface{}) *CacheError {
	e.BaseError.WithContext(key, value)
	return e
}
