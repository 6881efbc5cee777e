// Package error 定义了 kvcache 所有包共享的带错误代码的基础错误类型。
package error

import (
	"fmt"
	"time"
)

// ErrorCode 错误代码类型
type ErrorCode string

const (
	// ErrConfigInvalid 表示配置无效。
	ErrConfigInvalid ErrorCode = "CONFIG_INVALID"
	// ErrConfigMissing 表示缺少必要的配置项。
	ErrConfigMissing ErrorCode = "CONFIG_MISSING"
	// ErrInternal 表示发生了未知的内部错误。
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// BaseError 基础错误类型
type BaseError struct {
	Code      ErrorCode              `json:"code"`              // 错误的分类代码
	Message   string                 `json:"message"`           // 人类可读的错误信息
	Cause     error                  `json:"-"`                 // 导致此错误的原始错误
	Context   map[string]interface{} `json:"context,omitempty"` // 额外的上下文信息
	Timestamp time.Time              `json:"timestamp"`         // 错误发生的时间戳
}

// NewError 创建新的基础错误
func NewError(code ErrorCode, message string) *BaseError {
	return &BaseError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]interface{}),
	}
}

// Errorf 以格式化消息创建基础错误
func Errorf(code ErrorCode, format string, args ...interface{}) *BaseError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WrapError 包装现有错误
func WrapError(code ErrorCode, message string, cause error) *BaseError {
	e := NewError(code, message)
	e.Cause = cause
	return e
}

// Error 实现 error 接口
func (e *BaseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap 支持错误包装
func (e *BaseError) Unwrap() error {
	return e.Cause
}

// Is 按错误代码比较
func (e *BaseError) Is(target error) bool {
	if t, ok := target.(*BaseError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext 为错误附加一个键值对形式的上下文信息。
func (e *BaseError) WithContext(key string, value interface{}) *BaseError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}
