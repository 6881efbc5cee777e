// Package serializer 提供缓存值与字符串表示之间的相互转换。
package serializer

import (
	"encoding/json"
	"fmt"

	gojson "github.com/goccy/go-json"
)

// Serializer 将 V 类型的值转换为字符串并还原。
// 实现必须保证 Deserialize(Serialize(v)) 与 v 等价。
type Serializer[V any] interface {
	Serialize(value V) (string, error)
	Deserialize(data string) (V, error)
}

// Format 序列化格式名称
type Format string

const (
	FormatJSON     Format = "json"     // encoding/json
	FormatGoJSON   Format = "gojson"   // goccy/go-json
	FormatIdentity Format = "identity" // 仅适用于 string 值
)

// ByName 根据格式名称创建序列化器
func ByName[V any](format Format) (Serializer[V], error) {
	switch format {
	case FormatJSON, "":
		return JSON[V]{}, nil
	case FormatGoJSON:
		return GoJSON[V]{}, nil
	case FormatIdentity:
		var zero V
		if _, ok := any(zero).(string); !ok {
			return nil, fmt.Errorf("identity serializer requires string values, got %T", zero)
		}
		return any(Identity{}).(Serializer[V]), nil
	default:
		return nil, fmt.Errorf("unknown serializer format: %s", format)
	}
}

// JSON 使用标准库 encoding/json 的序列化器
type JSON[V any] struct{}

func (JSON[V]) Serialize(value V) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (JSON[V]) Deserialize(data string) (V, error) {
	var v V
	err := json.Unmarshal([]byte(data), &v)
	return v, err
}

// GoJSON 使用 goccy/go-json 的序列化器，与 encoding/json 兼容但更快。
type GoJSON[V any] struct{}

func (GoJSON[V]) Serialize(value V) (string, error) {
	data, err := gojson.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (GoJSON[V]) Deserialize(data string) (V, error) {
	var v V
	err := gojson.Unmarshal([]byte(data), &v)
	return v, err
}

// Identity 原样保存字符串
type Identity struct{}

func (Identity) Serialize(value string) (string, error) { return value, nil }

func (Identity) Deserialize(data string) (string, error) { return data, nil }

var (
	_ Serializer[int]    = JSON[int]{}
	_ Serializer[int]    = GoJSON[int]{}
	_ Serializer[string] = Identity{}
)
